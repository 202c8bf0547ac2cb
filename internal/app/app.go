// Package app assembles socwatch's components from configuration.
package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"socwatch/internal/auth"
	"socwatch/internal/config"
	"socwatch/internal/db"
	"socwatch/internal/detect"
	"socwatch/internal/escalation"
	"socwatch/internal/events"
	"socwatch/internal/httpserver"
	"socwatch/internal/incidents"
	"socwatch/internal/metrics"
	"socwatch/internal/pipeline"
	"socwatch/internal/scheduler"
)

type App struct {
	Config    *config.Config
	Logger    *slog.Logger
	DB        *sql.DB
	Store     *incidents.SQLStore
	Allocator *incidents.Allocator
	Incidents *incidents.Service
	Pipeline  *pipeline.Pipeline
	Escalator *escalation.Escalator
	Auth      *auth.Service
	Scheduler *scheduler.Scheduler
	Registry  *prometheus.Registry

	closers []func() error
}

// Build opens the database, applies the schema and wires every component.
func Build(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*App, error) {
	a := &App{Config: cfg, Logger: logger}
	if err := a.build(ctx); err != nil {
		_ = a.Close()
		return nil, err
	}
	return a, nil
}

func (a *App) build(ctx context.Context) error {
	cfg := a.Config

	dialect, err := db.ParseDialect(cfg.Database.Driver)
	if err != nil {
		return err
	}
	conn, err := db.Open(ctx, dialect, cfg.Database.DSN)
	if err != nil {
		return fmt.Errorf("open db: %w", err)
	}
	a.DB = conn
	a.closers = append(a.closers, conn.Close)
	if err := db.RunMigrations(ctx, conn, dialect); err != nil {
		return fmt.Errorf("run migrations: %w", err)
	}

	a.Store = incidents.NewSQLStore(conn, dialect)

	var counter incidents.Counter = &incidents.StoreCounter{Store: a.Store, Name: "incident"}
	if cfg.IDs.Counter == config.CounterRedis {
		rc, err := incidents.NewRedisCounter(ctx, incidents.RedisConfig{
			Addr:     cfg.IDs.RedisAddr,
			Password: cfg.IDs.RedisPassword,
			DB:       cfg.IDs.RedisDB,
			Key:      cfg.IDs.RedisKey,
		})
		if err != nil {
			return err
		}
		a.closers = append(a.closers, rc.Close)
		counter = rc
	}
	a.Allocator = incidents.NewAllocator(counter, cfg.IDs.Prefix)

	rules, err := detect.LoadRules(cfg.RulesPath)
	if err != nil {
		return fmt.Errorf("load rules: %w", err)
	}
	set, err := detect.NewSet(rules)
	if err != nil {
		return fmt.Errorf("compile rules: %w", err)
	}
	admitter := pipeline.NewAdmitter(set, a.Store, a.Allocator, a.Logger)
	admitter.DedupWindow = cfg.Detection.DedupWindow
	reader := &events.Reader{
		Dir:        cfg.Logs.Dir,
		SensorFile: cfg.Logs.SensorFile,
		Normalizer: &events.Normalizer{},
		Logger:     a.Logger,
	}
	a.Pipeline = pipeline.New(reader, admitter, a.Logger)

	a.Incidents = incidents.NewService(a.Store, a.Logger)
	a.Incidents.OnTransition = func(_, to incidents.Status) {
		metrics.ObserveTransition(string(to))
	}
	a.Escalator = escalation.New(a.Store, a.Logger)

	users := auth.NewStore(conn, dialect)
	if err := users.SeedFromFile(ctx, cfg.UsersPath); err != nil {
		return fmt.Errorf("seed users: %w", err)
	}
	a.Auth = auth.NewService(users, cfg.JWTSecret)

	a.Registry = prometheus.NewRegistry()
	a.Registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	if err := metrics.Register(a.Registry); err != nil {
		return fmt.Errorf("register metrics: %w", err)
	}

	a.Scheduler = scheduler.New(a.Logger)
	if err := a.Scheduler.Add(scheduler.Task{
		Name:     "escalation",
		Interval: cfg.Escalation.Interval,
		Run: func(ctx context.Context) error {
			res, err := a.Escalator.RunPass(ctx)
			if err != nil {
				return err
			}
			if res.Failed > 0 {
				return fmt.Errorf("%d of %d incidents failed to escalate", res.Failed, res.Evaluated)
			}
			return nil
		},
	}); err != nil {
		return err
	}
	if cfg.Detection.Interval > 0 {
		if err := a.Scheduler.Add(scheduler.Task{
			Name:      "detection",
			Interval:  cfg.Detection.Interval,
			Immediate: true,
			Run: func(ctx context.Context) error {
				_, err := a.Pipeline.RunDir(ctx)
				return err
			},
		}); err != nil {
			return err
		}
	}
	return nil
}

func (a *App) Server() *httpserver.Server {
	handler := httpserver.NewRouter(httpserver.Deps{
		Logger:      a.Logger,
		Auth:        a.Auth,
		Incidents:   a.Incidents,
		Pipeline:    a.Pipeline,
		Scheduler:   a.Scheduler,
		Gatherer:    a.Registry,
		IngestToken: a.Config.IngestToken,
	})
	return httpserver.New(a.Config.HTTPAddr, handler, a.Logger)
}

// Serve runs the HTTP API and the schedulers until ctx is cancelled.
func (a *App) Serve(ctx context.Context) error {
	a.Scheduler.Start()
	defer a.Scheduler.Stop()
	start := time.Now()
	err := a.Server().Run(ctx)
	a.Logger.Info("socwatch stopped", "uptime", time.Since(start).Round(time.Second))
	return err
}

// Close releases resources in reverse order of acquisition.
func (a *App) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}
