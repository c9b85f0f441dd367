// Command tracklock runs the two-train controller against the virtual track
// and serves its status over HTTP.
//
// Usage:
//
//	tracklock [-config tracklock.yaml] [speed1 [speed2]]
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/anggasct/tracklock"
	"github.com/anggasct/tracklock/pkg/config"
	"github.com/anggasct/tracklock/pkg/journal"
	"github.com/anggasct/tracklock/pkg/observers"
	"github.com/anggasct/tracklock/pkg/sim"
	"github.com/anggasct/tracklock/pkg/status"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "tracklock: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	// .env first, then .env.local overrides it
	_ = godotenv.Load(".env")
	_ = godotenv.Overload(".env.local")

	configPath := flag.String("config", os.Getenv("TRACKLOCK_CONFIG"), "path to a YAML config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		return err
	}
	if err := cfg.ApplyArgs(flag.Args()); err != nil {
		return err
	}

	level := observers.ParseLogLevel(cfg.LogLevel)
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level.SlogLevel()}))
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	track := sim.NewVirtualTrack(nil,
		sim.WithStepInterval(cfg.StepInterval),
		sim.WithSpeedLimit(cfg.MaxSpeed))

	opts := []tracklock.Option{
		tracklock.WithLogger(logger),
		tracklock.WithObserver(observers.NewLoggingObserver(logger, level, "agent")),
	}

	var j *journal.Journal
	if cfg.JournalPath != "" {
		j, err = journal.Open(ctx, cfg.JournalPath, logger)
		if err != nil {
			return err
		}
		defer j.Close()
	}

	controller, err := tracklock.New(track, cfg, opts...)
	if err != nil {
		return err
	}
	if j != nil {
		for _, agent := range controller.Agents() {
			agent.Machine().AddObserver(j.Observer(controller.RunID()))
		}
	}

	var server *http.Server
	if cfg.StatusAddr != "" {
		var reader status.JournalReader
		if j != nil {
			reader = j
		}
		server = &http.Server{
			Addr:              cfg.StatusAddr,
			Handler:           status.NewHandler(controller, reader).Router(),
			ReadHeaderTimeout: 5 * time.Second,
		}
		go func() {
			logger.Info("status server listening", "addr", cfg.StatusAddr)
			if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error("status server failed", "error", err)
			}
		}()
	}

	for _, t := range cfg.Trains {
		logger.Info("train configured", "train", t.ID, "speed", t.Speed, "direction", t.Direction)
	}
	runErr := controller.Run(ctx)

	if server != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
	}
	if runErr != nil {
		return runErr
	}
	logger.Info("stopped")
	return nil
}
