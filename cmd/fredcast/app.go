package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"fredcast/internal/config"
	"fredcast/internal/infrastructure"
	"fredcast/internal/pipeline"
	"fredcast/internal/storage"
)

// app holds what every command shares.
type app struct {
	cfg      *config.Config
	logger   *slog.Logger
	registry *prometheus.Registry
	metrics  *pipeline.Metrics
	closers  []func(context.Context) error
}

// configFlag registers the -config flag on fs.
func configFlag(fs *flag.FlagSet) *string {
	return fs.String("config", os.Getenv("FREDCAST_CONFIG"), "path to a YAML configuration file")
}

func newApp(configPath string) (*app, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	logger, logCloser, err := infrastructure.NewLogger(cfg.Logging)
	if err != nil {
		return nil, err
	}
	a := &app{cfg: cfg, logger: logger}
	a.closers = append(a.closers, func(context.Context) error { return logCloser.Close() })

	// spans go to stderr so they never mix with command output
	shutdown, err := infrastructure.InitTracing(cfg.Tracing, os.Stderr, logger)
	if err != nil {
		_ = a.close(context.Background())
		return nil, err
	}
	a.closers = append(a.closers, shutdown)

	a.registry = prometheus.NewRegistry()
	a.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	// registered once; every pipeline run of this process shares them
	a.metrics = pipeline.NewMetrics(a.registry)
	return a, nil
}

// openStore opens the configured database and closes it with the app.
func (a *app) openStore(ctx context.Context) (*storage.Store, error) {
	store, err := storage.Open(ctx, a.cfg.Database, a.logger)
	if err != nil {
		return nil, err
	}
	a.closers = append(a.closers, func(context.Context) error { return store.Close() })
	return store, nil
}

// close runs the closers in reverse order.
func (a *app) close(ctx context.Context) error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](ctx); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func createOutput(path string) (io.WriteCloser, error) {
	if path == "" || path == "-" {
		return nopWriteCloser{os.Stdout}, nil
	}
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("create %s: %w", path, err)
	}
	return f, nil
}

type nopWriteCloser struct{ io.Writer }

func (nopWriteCloser) Close() error { return nil }
