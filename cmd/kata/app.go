package main

import (
	"fmt"
	"io"
	"strconv"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"github.com/michaelbrown/kata/internal/archive"
	"github.com/michaelbrown/kata/internal/config"
	"github.com/michaelbrown/kata/internal/grading"
	"github.com/michaelbrown/kata/internal/logger"
	"github.com/michaelbrown/kata/internal/pool"
	"github.com/michaelbrown/kata/internal/sandbox"
)

// app holds what every long-running command needs.
type app struct {
	cfg      *config.Config
	logger   *zap.Logger
	pool     *pool.Pool
	launcher sandbox.Launcher
}

func newApp() (*app, error) {
	cfg, err := config.Load(configFlag)
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}
	log, err := logger.New(cfg.Logger())
	if err != nil {
		return nil, fmt.Errorf("creating logger: %w", err)
	}
	return &app{cfg: cfg, logger: log}, nil
}

// startPool launches the sandbox pool described by the config.
func (a *app) startPool(size int) error {
	policy := a.cfg.Policy()
	ro := a.cfg.RunnerOptions()
	if ro.FlushInterval > 0 {
		policy.Args = append(policy.Args, "--flush-interval", ro.FlushInterval.String())
	}
	if ro.BatchSize > 0 {
		policy.Args = append(policy.Args, "--batch-size", strconv.Itoa(ro.BatchSize))
	}

	ro.Logger = a.logger
	l, err := sandbox.NewLauncher(policy, sandbox.WithRunnerOptions(ro))
	if err != nil {
		return err
	}
	a.launcher = l
	a.pool = pool.New(l, pool.Options{Size: size, Logger: a.logger})
	a.pool.Warm()
	a.logger.Info("sandbox pool started", zap.String("mode", policy.Mode), zap.Int("size", size))
	return nil
}

func (a *app) catalog() (*archive.Catalog, error) {
	list, err := archive.LoadAll(a.cfg.Exercises.Dir)
	if err != nil {
		return nil, err
	}
	return archive.NewCatalog(list), nil
}

// grader builds the grader selected by grading.mode. The returned function
// releases its connections.
func (a *app) grader(catalog *archive.Catalog, pastes grading.PasteStore, baseURL string) (grading.Grader, func(), error) {
	g := a.cfg.Grading
	switch g.Mode {
	case "", "local":
		return grading.NewLocalGrader(a.pool, catalog, pastes, grading.LocalOptions{
			Timeout: a.cfg.Execution.Timeout,
			BaseURL: baseURL,
			Logger:  a.logger,
		}), func() {}, nil
	case "http":
		if g.BaseURL == "" {
			return nil, nil, fmt.Errorf("grading.base_url is required in http mode")
		}
		return grading.NewHTTPGrader(g.BaseURL, g.Token), func() {}, nil
	case "nats":
		nc, err := nats.Connect(g.NATSURL, nats.Name("kata"))
		if err != nil {
			return nil, nil, fmt.Errorf("connecting to nats: %w", err)
		}
		return grading.NewNATSGrader(nc, a.cfg.Execution.Timeout), nc.Close, nil
	default:
		return nil, nil, fmt.Errorf("unknown grading mode %q", g.Mode)
	}
}

func (a *app) Close() {
	if a.pool != nil {
		a.pool.Close()
	}
	if c, ok := a.launcher.(io.Closer); ok {
		c.Close()
	}
	a.logger.Sync()
}
