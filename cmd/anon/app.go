package main

import (
	"context"
	"fmt"
	"log/slog"

	"anon/internal/config"
	"anon/internal/core"
	"anon/internal/data"
	"anon/internal/logger"
	"anon/internal/query"
	"anon/internal/service"
)

// app holds the wired dependencies shared by the commands.
type app struct {
	cfg      *config.Config
	log      *slog.Logger
	db       *data.DB
	exec     *query.Executor
	users    *data.UserRepo
	auth     *service.AuthService
	debugger *logger.Debugger
	closers  []func() error
}

// loadConfig reads configuration and sets up logging.
func loadConfig(envFile string) (*config.Config, *slog.Logger, error) {
	cfg, err := config.Load(envFile)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load config: %w", err)
	}

	level := cfg.Log.Level
	if cfg.Debug {
		level = "debug"
	}
	log, err := logger.Init(logger.Options{Dir: cfg.Log.Dir, Level: level, Format: cfg.Log.Format})
	if err != nil {
		return nil, nil, fmt.Errorf("failed to init logger: %w", err)
	}
	if cfg.KeyGenerated {
		log.Warn("generated a new " + config.KeyEnv + "; previously issued tokens and sealed secrets are no longer valid")
	}
	return cfg, log, nil
}

// openApp loads configuration, connects to the database and builds the
// executor, repository and auth service on top of it.
func openApp(ctx context.Context, envFile string) (*app, error) {
	cfg, log, err := loadConfig(envFile)
	if err != nil {
		return nil, err
	}
	a := &app{cfg: cfg, log: log, closers: []func() error{logger.Close}}

	password, dsn, err := openSecrets(cfg)
	if err != nil {
		a.Close()
		return nil, err
	}

	db, err := data.Open(ctx, data.Options{
		Driver:       cfg.DB.Driver,
		DSN:          dsn,
		Host:         cfg.DB.Host,
		Port:         cfg.DB.Port,
		User:         cfg.DB.User,
		Password:     password,
		Name:         cfg.DB.Name,
		Prepare:      cfg.DB.Prepare,
		MaxOpenConns: cfg.DB.MaxOpenConns,
	})
	if err != nil {
		a.Close()
		return nil, err
	}
	a.db = db
	a.closers = append(a.closers, db.Close)
	log.Info("database connected", "driver", db.Driver(), "prepare", cfg.DB.Prepare)

	a.debugger = logger.NewDebugger(log, cfg.Debug, 100)
	opts := []query.Option{
		query.WithLogger(log),
		query.WithDebugger(a.debugger),
		query.WithSlowThreshold(cfg.DB.SlowThreshold),
	}
	cache, err := openCache(ctx, cfg.Cache, a)
	if err != nil {
		a.Close()
		return nil, err
	}
	if cache != nil {
		opts = append(opts, query.WithCache(cache, cfg.Cache.TTL))
	}

	a.exec = query.NewExecutor(db, opts...)
	a.users = data.NewUserRepo(a.exec)
	a.auth = service.NewAuthService(a.users)
	return a, nil
}

// openSecrets decrypts DB_PASSWORD and DB_DSN when they were sealed with
// `anon encrypt`.
func openSecrets(cfg *config.Config) (password, dsn string, err error) {
	box, err := service.NewSecretBox(cfg.AppKey)
	if err != nil {
		return "", "", err
	}
	if password, err = box.Open(cfg.DB.Password); err != nil {
		return "", "", fmt.Errorf("DB_PASSWORD: %w", err)
	}
	if dsn, err = box.Open(cfg.DB.DSN); err != nil {
		return "", "", fmt.Errorf("DB_DSN: %w", err)
	}
	return password, dsn, nil
}

func openCache(ctx context.Context, cfg config.CacheConfig, a *app) (core.ResultCache, error) {
	switch cfg.Driver {
	case "", "memory":
		return data.NewMemoryCache(cfg.Size), nil
	case "redis":
		rc, err := data.NewRedisCache(ctx, cfg.RedisURL, "anon:")
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, rc.Close)
		return rc, nil
	case "none":
		return nil, nil
	default:
		return nil, fmt.Errorf("unknown CACHE_DRIVER %q", cfg.Driver)
	}
}

func (a *app) schema() *data.Schema {
	return data.NewSchema(a.db, a.db.Driver())
}

// Close releases resources in reverse order of acquisition.
func (a *app) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			a.log.Warn("close failed", "error", err)
		}
	}
	a.closers = nil
}
