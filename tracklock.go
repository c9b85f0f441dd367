// Package tracklock runs two autonomous trains on the two-loop layout. Each
// train is driven by its own agent; the agents share only a segment lock
// registry, which keeps them out of each other's critical segments.
package tracklock

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/anggasct/tracklock/pkg/config"
	"github.com/anggasct/tracklock/pkg/fsm"
	"github.com/anggasct/tracklock/pkg/observers"
	"github.com/anggasct/tracklock/pkg/segment"
	"github.com/anggasct/tracklock/pkg/sim"
	"github.com/anggasct/tracklock/pkg/topology"
	"github.com/anggasct/tracklock/pkg/train"
)

// Commonly used types
type (
	// Position is a sensor or switch coordinate
	Position = topology.Position

	// Direction is a train's logical direction
	Direction = topology.Direction

	// Segment is a critical track segment
	Segment = topology.Segment

	// Snapshot is a point-in-time view of one train
	Snapshot = train.Snapshot

	// Simulator is the track the controller drives
	Simulator = sim.Simulator
)

// ErrAlreadyStarted is returned by Start on a running controller
var ErrAlreadyStarted = errors.New("controller already started")

// Option configures a Controller
type Option func(*Controller)

// WithLogger sets the base logger; every line carries the run id
func WithLogger(logger *slog.Logger) Option {
	return func(c *Controller) { c.logger = logger }
}

// WithObserver attaches an observer to every agent's state machine
func WithObserver(observer fsm.Observer) Option {
	return func(c *Controller) { c.observers = append(c.observers, observer) }
}

// WithRegistry shares an existing registry instead of creating one
func WithRegistry(registry *segment.Registry) Option {
	return func(c *Controller) { c.registry = registry }
}

// WithSleep replaces the agents' dwell sleep
func WithSleep(sleep train.SleepFunc) Option {
	return func(c *Controller) { c.sleep = sleep }
}

// WithRunID fixes the run id instead of generating one
func WithRunID(id string) Option {
	return func(c *Controller) { c.runID = id }
}

// Controller owns the registry and both agents
type Controller struct {
	runID     string
	track     sim.Simulator
	registry  *segment.Registry
	agents    []*train.Agent
	metrics   map[string]*observers.MetricsObserver
	observers []fsm.Observer
	logger    *slog.Logger
	sleep     train.SleepFunc

	mutex   sync.Mutex
	started bool
	group   errgroup.Group
	errs    []error
}

// New builds the registry and one agent per configured train
func New(track sim.Simulator, cfg *config.Config, opts ...Option) (*Controller, error) {
	if cfg == nil {
		cfg = config.Default()
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	c := &Controller{
		track:   track,
		metrics: make(map[string]*observers.MetricsObserver),
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.runID == "" {
		c.runID = uuid.New().String()
	}
	if c.registry == nil {
		c.registry = segment.NewRegistry()
	}
	c.logger = c.logger.With("run", c.runID)

	for _, t := range cfg.Trains {
		heading, _ := t.Heading()
		metrics := observers.NewMetricsObserver()
		agentOpts := []train.Option{
			train.WithLogger(c.logger),
			train.WithObserver(metrics),
		}
		for _, o := range c.observers {
			agentOpts = append(agentOpts, train.WithObserver(o))
		}
		if c.sleep != nil {
			agentOpts = append(agentOpts, train.WithSleep(c.sleep))
		}

		agent := train.New(train.Config{
			ID:        t.ID,
			Direction: heading,
			Speed:     t.Speed,
			MaxSpeed:  cfg.MaxSpeed,
			DwellUnit: cfg.DwellUnit,
		}, track, c.registry, agentOpts...)

		c.agents = append(c.agents, agent)
		c.metrics[agent.Machine().Name()] = metrics
	}
	return c, nil
}

// Start launches every agent in its own goroutine and returns immediately.
// A failing agent does not stop the others.
func (c *Controller) Start(ctx context.Context) error {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	if c.started {
		return ErrAlreadyStarted
	}
	c.started = true

	for _, agent := range c.agents {
		agent := agent
		c.group.Go(func() error {
			err := agent.Run(ctx)
			if ctx.Err() != nil && train.IsCancelled(err) {
				return nil
			}
			c.mutex.Lock()
			c.errs = append(c.errs, err)
			c.mutex.Unlock()
			return err
		})
	}
	c.logger.Info("controller started", "trains", len(c.agents))
	return nil
}

// Wait blocks until every agent has returned and joins their errors.
// Agents stopped by cancelling the Start context are not errors.
func (c *Controller) Wait() error {
	_ = c.group.Wait()
	c.mutex.Lock()
	defer c.mutex.Unlock()
	return errors.Join(c.errs...)
}

// Run starts the agents and waits for them
func (c *Controller) Run(ctx context.Context) error {
	if err := c.Start(ctx); err != nil {
		return err
	}
	return c.Wait()
}

// RunID identifies this controller run
func (c *Controller) RunID() string {
	return c.runID
}

// Agents returns the agents in configuration order
func (c *Controller) Agents() []*train.Agent {
	return append([]*train.Agent(nil), c.agents...)
}

// Registry returns the shared segment registry
func (c *Controller) Registry() *segment.Registry {
	return c.registry
}

// Snapshots returns one snapshot per agent
func (c *Controller) Snapshots() []train.Snapshot {
	out := make([]train.Snapshot, 0, len(c.agents))
	for _, a := range c.agents {
		out = append(out, a.Snapshot())
	}
	return out
}

// Metrics returns the state machine metrics of each agent, keyed by machine name
func (c *Controller) Metrics() map[string]observers.Metrics {
	out := make(map[string]observers.Metrics, len(c.metrics))
	for name, m := range c.metrics {
		out[name] = m.Snapshot()
	}
	return out
}
