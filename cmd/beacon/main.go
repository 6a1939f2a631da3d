package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"runtime"
	"runtime/debug"
	"syscall"

	"golang.org/x/sync/errgroup"

	"github.com/darshan-rambhia/beacon/internal/alerter"
	"github.com/darshan-rambhia/beacon/internal/api"
	"github.com/darshan-rambhia/beacon/internal/cache"
	"github.com/darshan-rambhia/beacon/internal/config"
	"github.com/darshan-rambhia/beacon/internal/expr"
	"github.com/darshan-rambhia/beacon/internal/flusher"
	"github.com/darshan-rambhia/beacon/internal/monitor"
	"github.com/darshan-rambhia/beacon/internal/notify"
	"github.com/darshan-rambhia/beacon/internal/store"
	"github.com/darshan-rambhia/beacon/internal/submit"
	"github.com/darshan-rambhia/beacon/internal/timeline"
)

// @title Beacon API
// @version 1.0
// @description Host metric submission, alerting and timeline aggregation API
// @host localhost:3800
// @BasePath /

var (
	version   = "dev"
	commit    = "none"
	buildTime = "unknown"
)

// buildInfo returns version, commit, build time, and VCS details from the
// embedded Go build info. ldflags-injected values take priority; VCS info
// from debug.ReadBuildInfo fills in anything left as default.
func buildInfo() (ver, sha, built, dirty string) {
	ver = version
	sha = commit
	built = buildTime
	dirty = "clean"

	info, ok := debug.ReadBuildInfo()
	if !ok {
		return
	}

	for _, s := range info.Settings {
		switch s.Key {
		case "vcs.revision":
			if sha == "none" {
				sha = s.Value
			}
		case "vcs.time":
			if built == "unknown" {
				built = s.Value
			}
		case "vcs.modified":
			if s.Value == "true" {
				dirty = "dirty"
			}
		}
	}

	return
}

func main() {
	configPath := flag.String("config", "beacon.yml", "path to beacon.yml config file")
	showVersion := flag.Bool("version", false, "print version and exit")
	flag.Parse()

	ver, sha, built, dirty := buildInfo()

	if *showVersion {
		fmt.Printf("beacon %s\n  commit:    %s (%s)\n  built:     %s\n  go:        %s\n  platform:  %s/%s\n",
			ver, sha, dirty, built, runtime.Version(), runtime.GOOS, runtime.GOARCH)
		os.Exit(0)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		if errors.Is(err, config.ErrConfigFileNotFound) {
			fmt.Fprintf(os.Stderr, "error: %s\n\n", err)
			fmt.Fprintf(os.Stderr, "Copy the example config to get started:\n")
			fmt.Fprintf(os.Stderr, "  cp beacon.example.yml %s\n", *configPath)
		} else {
			fmt.Fprintf(os.Stderr, "error: loading config (%s): %s\n", *configPath, err)
		}
		os.Exit(1)
	}

	setupLogging(cfg.LogLevel, cfg.LogFormat)

	slog.Info("starting beacon",
		"version", ver,
		"commit", sha,
		"built", built,
		"dirty", dirty,
		"go", runtime.Version(),
		"listen", cfg.Listen,
		"storage", cfg.Storage.Type,
	)

	if err := run(cfg); err != nil {
		slog.Error("fatal error", "error", err)
		os.Exit(1)
	}
	slog.Info("beacon stopped gracefully")
}

func setupLogging(level, format string) {
	var logLevel slog.Level
	switch level {
	case "debug":
		logLevel = slog.LevelDebug
	case "warn":
		logLevel = slog.LevelWarn
	case "error":
		logLevel = slog.LevelError
	default:
		logLevel = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: logLevel}
	var handler slog.Handler
	if format == "json" {
		handler = slog.NewJSONHandler(os.Stderr, opts)
	} else {
		handler = slog.NewTextHandler(os.Stderr, opts)
	}
	slog.SetDefault(slog.New(handler))
}

func run(cfg *config.Config) error {
	var (
		st     store.Storage
		pruner *store.Pruner
	)
	switch cfg.Storage.Type {
	case "redis":
		r, err := store.NewRedis(store.RedisOptions{
			Addr:     cfg.Storage.Redis.Addr,
			Password: cfg.Storage.Redis.Password,
			DB:       cfg.Storage.Redis.DB,
			LockTTL:  cfg.Storage.LockTimeout.Duration,
		})
		if err != nil {
			return fmt.Errorf("connecting to redis: %w", err)
		}
		st = r
	default:
		s, err := store.New(cfg.DBPath)
		if err != nil {
			return fmt.Errorf("opening database: %w", err)
		}
		st = s
		pruner = store.NewPruner(s, cfg.PruneInterval.Duration)
	}
	defer st.Close()

	c := cache.New()

	// Notification transports
	var providers []notify.Provider
	for _, ncfg := range cfg.Notifications {
		switch ncfg.Type {
		case "ntfy":
			providers = append(providers, notify.NewNtfy(ncfg.URL, ncfg.Topic))
		case "webhook":
			providers = append(providers, notify.NewWebhook(ncfg.URL, ncfg.Method, ncfg.Headers))
		}
	}
	var mailer notify.Mailer
	if cfg.SMTP.Host != "" {
		mailer = notify.NewSMTP(cfg.SMTP.Host, cfg.SMTP.Port, cfg.SMTP.Username, cfg.SMTP.Password, cfg.EmailFrom)
	}
	dispatcher := notify.NewDispatcher(notify.Options{
		ClientName:           cfg.ClientName,
		BaseAppURL:           cfg.BaseAppURL,
		HostnameDisplayStrip: cfg.HostnameDisplayStrip,
		EmailTo:              cfg.EmailTo,
		AlertWebHook:         cfg.AlertWebHook,
	}, cfg.Groups, mailer, providers)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	engine := expr.New()
	pool := submit.NewPool(ctx, cfg.WorkerPoolSize)
	proc := submit.New(submit.Options{
		Store:     st,
		Cache:     c,
		Pool:      pool,
		Monitors:  monitor.NewResolver(cfg.Monitors, engine),
		Alerts:    alerter.New(cfg.Alerts, engine, dispatcher, c),
		Timelines: timeline.New(st, cfg.Expiration.Duration),
		Groups:    cfg.Groups,
		Systems:   cfg.Systems,
	})
	fl := flusher.New(c, st, cfg.Systems, cfg.FlushInterval.Duration, cfg.Expiration.Duration)

	g, ctx := errgroup.WithContext(ctx)

	if pruner != nil {
		g.Go(func() error { return pruner.Run(ctx) })
	}
	g.Go(func() error { return fl.Run(ctx) })

	server := api.NewServer(api.Options{
		Addr:      cfg.Listen,
		SecretKey: cfg.SecretKey,
		Systems:   cfg.Systems,
	}, proc, c, st)
	g.Go(func() error { return server.Run(ctx) })

	slog.Info("all components started",
		"groups", len(cfg.Groups),
		"monitors", len(cfg.Monitors),
		"alerts", len(cfg.Alerts),
		"systems", len(cfg.Systems),
		"notifications", len(providers),
	)

	err := g.Wait()

	// Drain in-flight work before the store closes.
	pool.Wait()
	dispatcher.Wait()
	if ferr := fl.Flush(context.Background()); ferr != nil {
		slog.Error("final flush failed", "error", ferr)
	}

	if err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}
