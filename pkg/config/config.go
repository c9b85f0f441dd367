// Package config loads controller settings from a YAML file, the environment
// and command-line arguments, in that order.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/anggasct/tracklock/pkg/topology"
)

// Train configures one train
type Train struct {
	ID        int    `yaml:"id"`
	Speed     int    `yaml:"speed"`
	Direction string `yaml:"direction"`
}

// Heading parses Direction
func (t Train) Heading() (topology.Direction, error) {
	return topology.ParseDirection(t.Direction)
}

// Config holds all configuration for the controller
type Config struct {
	Trains []Train `yaml:"trains"`

	// Speed and timing
	MaxSpeed     int           `yaml:"max_speed"`
	DwellUnit    time.Duration `yaml:"dwell_unit"`
	StepInterval time.Duration `yaml:"step_interval"`

	// Surfaces
	StatusAddr  string `yaml:"status_addr"`
	JournalPath string `yaml:"journal_path"`
	LogLevel    string `yaml:"log_level"`
}

// Default returns the built-in configuration
func Default() *Config {
	return &Config{
		Trains: []Train{
			{ID: 1, Speed: 10, Direction: "south"},
			{ID: 2, Speed: 15, Direction: "north"},
		},
		MaxSpeed:     20,
		DwellUnit:    time.Millisecond,
		StepInterval: 100 * time.Millisecond,
		StatusAddr:   ":8080",
		LogLevel:     "info",
	}
}

// Load reads path (if not empty) over the defaults, then applies TRACKLOCK_*
// environment variables and validates the result
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading config: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parsing config %s: %w", path, err)
		}
	}
	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	return cfg, cfg.Validate()
}

func (c *Config) applyEnv() error {
	c.MaxSpeed = getEnvInt("TRACKLOCK_MAX_SPEED", c.MaxSpeed)
	c.StatusAddr = getEnv("TRACKLOCK_STATUS_ADDR", c.StatusAddr)
	c.JournalPath = getEnv("TRACKLOCK_JOURNAL_PATH", c.JournalPath)
	c.LogLevel = getEnv("TRACKLOCK_LOG_LEVEL", c.LogLevel)

	var err error
	if c.DwellUnit, err = getEnvDuration("TRACKLOCK_DWELL_UNIT", c.DwellUnit); err != nil {
		return err
	}
	if c.StepInterval, err = getEnvDuration("TRACKLOCK_STEP_INTERVAL", c.StepInterval); err != nil {
		return err
	}
	for i := range c.Trains {
		key := fmt.Sprintf("TRACKLOCK_TRAIN%d_SPEED", i+1)
		c.Trains[i].Speed = getEnvInt(key, c.Trains[i].Speed)
	}
	return nil
}

// ApplyArgs overrides train speeds from positional arguments "speed1 speed2"
func (c *Config) ApplyArgs(args []string) error {
	if len(args) > len(c.Trains) {
		return fmt.Errorf("expected at most %d speeds, got %d", len(c.Trains), len(args))
	}
	for i, arg := range args {
		speed, err := strconv.Atoi(arg)
		if err != nil {
			return fmt.Errorf("speed %d: %q is not an integer", i+1, arg)
		}
		c.Trains[i].Speed = speed
	}
	return nil
}

// Validate checks the configuration
func (c *Config) Validate() error {
	var errs []error
	if len(c.Trains) != 2 {
		errs = append(errs, fmt.Errorf("exactly two trains are required, got %d", len(c.Trains)))
	}
	seen := make(map[int]bool)
	headings := make(map[topology.Direction]bool)
	for _, t := range c.Trains {
		if t.ID <= 0 {
			errs = append(errs, fmt.Errorf("train id must be positive, got %d", t.ID))
		}
		if seen[t.ID] {
			errs = append(errs, fmt.Errorf("duplicate train id %d", t.ID))
		}
		seen[t.ID] = true
		heading, err := t.Heading()
		if err != nil {
			errs = append(errs, fmt.Errorf("train %d: %w", t.ID, err))
			continue
		}
		if headings[heading] {
			errs = append(errs, fmt.Errorf("both trains start %s-bound", heading))
		}
		headings[heading] = true
	}
	if c.MaxSpeed <= 0 {
		errs = append(errs, fmt.Errorf("max_speed must be positive, got %d", c.MaxSpeed))
	}
	if c.DwellUnit < 0 || c.StepInterval < 0 {
		errs = append(errs, errors.New("durations must not be negative"))
	}
	switch c.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		errs = append(errs, fmt.Errorf("unknown log_level %q", c.LogLevel))
	}
	return errors.Join(errs...)
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) (time.Duration, error) {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue, nil
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	return d, nil
}
