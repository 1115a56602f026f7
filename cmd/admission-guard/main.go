package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/brinkwatch/admission-guard/internal/actioncheck"
	"github.com/brinkwatch/admission-guard/internal/audit"
	"github.com/brinkwatch/admission-guard/internal/config"
	"github.com/brinkwatch/admission-guard/internal/logger"
	"github.com/brinkwatch/admission-guard/internal/metrics"
	"github.com/brinkwatch/admission-guard/internal/proxy"
	"github.com/brinkwatch/admission-guard/internal/ratelimit"
	"github.com/brinkwatch/admission-guard/internal/scheduler"
	"github.com/brinkwatch/admission-guard/internal/websocket"
)

var (
	version = "0.1.0"
	commit  = "dev"
	date    = "unknown"
)

func main() {
	var (
		configPath  = flag.String("config", "", "Path to configuration file")
		showVersion = flag.Bool("version", false, "Show version information")
	)
	flag.Parse()

	if *showVersion {
		fmt.Printf("admission-guard %s (commit: %s, built: %s)\n", version, commit, date)
		os.Exit(0)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	log, err := logger.New(logger.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		File:   &logger.FileConfig{Enabled: cfg.Logging.File.Enabled, Path: cfg.Logging.File.Path},
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	log.Info("starting admission-guard", zap.String("version", version), zap.Int("port", cfg.Server.Port))

	rateCfg := config.BuildRateConfig(cfg.RateLimit)
	screener, err := ratelimit.NewPatternScreener(config.BuildScreeningConfig(cfg.Screening))
	if err != nil {
		log.Fatal("invalid screening configuration", zap.Error(err))
	}
	resolver, err := config.BuildIPResolver(cfg.IPResolver)
	if err != nil {
		log.Fatal("invalid ip_resolver configuration", zap.Error(err))
	}

	registry := ratelimit.NewBucketRegistryWithShards(rateCfg, cfg.RateLimit.ShardCount).
		WithEvictionAge(cfg.RateLimit.EvictionAge)

	m := metrics.New()

	hubCfg := &websocket.HubConfig{
		BroadcastAdmissions:  cfg.Dashboard.Enabled,
		BroadcastAdjustments: cfg.Dashboard.Enabled,
		BroadcastSystem:      cfg.Dashboard.Enabled,
		BroadcastConnections: cfg.Dashboard.Enabled,
	}
	hub := websocket.NewHub(hubCfg, log.WithComponent("websocket").Logger)

	var auditStore *audit.Store
	var onBlockedExtra ratelimit.OnBlocked
	if cfg.Audit.Enabled {
		auditStore, err = audit.NewStore(audit.Config{
			DatabaseURL:     cfg.Audit.DatabaseURL,
			MaxOpenConns:    cfg.Audit.MaxOpenConns,
			MaxIdleConns:    cfg.Audit.MaxIdleConns,
			ConnMaxLifetime: cfg.Audit.ConnMaxLifetime,
			ConnMaxIdleTime: cfg.Audit.ConnMaxIdleTime,
		}, log.WithComponent("audit").Logger)
		if err != nil {
			log.Warn("audit store unavailable, continuing without persistent block log", zap.Error(err))
		} else {
			defer auditStore.Close()
			onBlockedExtra = auditStore
		}
	}

	onBlocked := proxy.NewOnBlocked(m, hub, onBlockedExtra)

	var actionChecker ratelimit.ActionChecker
	if cfg.ActionCheck.Enabled {
		checker, err := actioncheck.New(actioncheck.Config{
			RedisURL:     cfg.ActionCheck.RedisURL,
			RedisDB:      cfg.ActionCheck.RedisDB,
			PoolSize:     cfg.ActionCheck.PoolSize,
			MinIdleConns: cfg.ActionCheck.MinIdleConns,
		}, log.WithComponent("actioncheck").Logger)
		if err != nil {
			log.Warn("action checker unavailable, application-level action limits disabled", zap.Error(err))
		} else {
			defer checker.Close()
			actionChecker = checker
		}
	}

	engineOpts := []ratelimit.EngineOption{
		ratelimit.WithOnBlocked(onBlocked),
		ratelimit.WithBlockStatusCode(cfg.RateLimit.BlockStatusCode),
		ratelimit.WithLogger(log),
	}
	if actionChecker != nil {
		// The engine never calls ActionChecker itself on the admission
		// path; it is carried so application handlers mounted behind the
		// upstream can reach it via engine.ActionChecker() for their own
		// per-action limits.
		engineOpts = append(engineOpts, ratelimit.WithActionChecker(actionChecker))
	}
	engine := ratelimit.NewAdmissionEngine(registry, screener, resolver, rateCfg, engineOpts...)
	adjuster := ratelimit.NewPostResponseAdjuster(registry, rateCfg)

	var sched *scheduler.Scheduler
	if auditStore != nil {
		exporter := audit.NewExporter(auditStore, cfg.Audit.ExportDir, cfg.Audit.ExportBatchSize, log.WithComponent("audit-export").Logger)
		sched, err = scheduler.New(scheduler.Config{
			EvictionSchedule: cfg.Scheduler.EvictionSchedule,
			ExportSchedule:   cfg.Scheduler.ExportSchedule,
		}, registry, exporter, log.WithComponent("scheduler").Logger)
	} else {
		sched, err = scheduler.New(scheduler.Config{
			EvictionSchedule: cfg.Scheduler.EvictionSchedule,
		}, registry, nil, log.WithComponent("scheduler").Logger)
	}
	if err != nil {
		log.Fatal("failed to start scheduler", zap.Error(err))
	}
	sched.Start()
	defer sched.Stop()

	server, err := proxy.New(cfg, log, engine, adjuster, registry, rateCfg, m, hub)
	if err != nil {
		log.Fatal("failed to create server", zap.Error(err))
	}

	if err := config.Watch(cfg, func(newCfg *config.Config) {
		log.Info("configuration reloaded")
	}); err != nil {
		log.Warn("configuration hot-reload disabled", zap.Error(err))
	}

	serverErrors := make(chan error, 1)
	go func() {
		serverErrors <- server.Start()
	}()

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-serverErrors:
		log.Fatal("server error", zap.Error(err))
	case sig := <-shutdown:
		log.Info("shutdown signal received", zap.String("signal", sig.String()))

		ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		if err := server.Stop(ctx); err != nil {
			log.Error("graceful shutdown failed", zap.Error(err))
		}
	}
}
