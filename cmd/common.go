package cmd

import (
	"context"
	"fmt"

	"compat-probe/cache"
	"compat-probe/config"
	"compat-probe/db"
	"compat-probe/logger"
	"compat-probe/modrinth"
	"compat-probe/persistence"
	"compat-probe/platform"
	"compat-probe/probe"
	"compat-probe/runner"
	"compat-probe/setup"
	"compat-probe/transform"

	"go.uber.org/zap"
	"gorm.io/gorm"
)

// app holds the services the commands work with.
type app struct {
	cfg       config.Config
	store     cache.Store
	db        *gorm.DB
	repo      *db.Repository
	client    *modrinth.Client
	platforms *platform.Global
	setup     *setup.Service
	results   *persistence.Service
	runner    *runner.Runner
	probe     *probe.Service
}

// bootstrap handles shared initialization logic for commands. Interactive
// commands log to the log file only.
func bootstrap(ctx context.Context, interactive bool) *app {
	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		logger.Log.Fatalw("Failed to load configuration", zap.Error(err))
	}

	if interactive {
		logger.InitFileOnly(cfg.LogFile)
	} else {
		logger.InitLogger(cfg.LogFile, verbose)
	}

	a, err := newApp(ctx, cfg, logger.Log)
	if err != nil {
		logger.Log.Fatalw("Failed to initialize", zap.Error(err))
	}
	return a
}

func newApp(ctx context.Context, cfg config.Config, log *zap.SugaredLogger) (*app, error) {
	store, err := openStore(ctx, cfg, log)
	if err != nil {
		return nil, err
	}

	gdb, err := db.Open(cfg.DatabasePath, log)
	if err != nil {
		store.Close()
		return nil, err
	}
	log.Infow("Database initialized", zap.String("path", cfg.DatabasePath))

	client, err := modrinth.NewClient(cfg, log)
	if err != nil {
		store.Close()
		db.Close(gdb)
		return nil, fmt.Errorf("create Modrinth client: %w", err)
	}

	modrinthPlatform := platform.NewModrinthPlatform(cfg.ModsPath(), store, client, log)
	platforms := platform.NewGlobal(map[platform.Platform]platform.Resolver{
		platform.Modrinth: modrinthPlatform,
	})

	setupService := setup.NewService(setup.Options{
		BaseDir:        cfg.SetupPath(),
		GameVersions:   cfg.GameVersions,
		RuntimeVersion: cfg.NFRTVersion,
		UseLocalCache:  cfg.UseLocalCache,
		JavaPath:       cfg.JavaPath,
		Timeout:        cfg.TransformTimeout,
		UserAgent:      cfg.UserAgent,
		Verbose:        verbose,
	}, store, client, log)

	repo := db.NewRepository(gdb)
	results := persistence.NewService(repo, log)
	transformer := transform.NewService(cfg.ModsPath(), platforms, setupService, cfg.JavaPath, cfg.TransformTimeout, log)
	r := runner.New(transformer, results, cfg.TransformWorkers, log)

	return &app{
		cfg:       cfg,
		store:     store,
		db:        gdb,
		repo:      repo,
		client:    client,
		platforms: platforms,
		setup:     setupService,
		results:   results,
		runner:    r,
		probe:     probe.NewService(platforms, setupService, results, r, store, log),
	}, nil
}

// openStore connects to Redis when REDIS_URL is set and falls back to an
// in-process cache otherwise.
func openStore(ctx context.Context, cfg config.Config, log *zap.SugaredLogger) (cache.Store, error) {
	if cfg.RedisURL == "" {
		log.Warn("REDIS_URL not set, using an in-memory cache")
		return cache.NewMemoryStore(), nil
	}
	store, err := cache.NewRedisStore(ctx, cfg.RedisURL)
	if err != nil {
		return nil, fmt.Errorf("connect to redis: %w", err)
	}
	log.Infow("Connected to Redis")
	return store, nil
}

func (a *app) close() {
	if err := a.store.Close(); err != nil {
		logger.Log.Warnw("Failed to close cache", zap.Error(err))
	}
	if err := db.Close(a.db); err != nil {
		logger.Log.Warnw("Failed to close database", zap.Error(err))
	}
}
