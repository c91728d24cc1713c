package storage

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"

	"gold-tracker/internal/config"
)

// NewPool configures a PostgreSQL connection pool from runtime settings.
func NewPool(ctx context.Context, cfg config.DatabaseConfig) (*pgxpool.Pool, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("database.dsn is required")
	}

	poolConfig, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse database dsn: %w", err)
	}

	if cfg.MaxOpenConns > 0 {
		poolConfig.MaxConns = int32(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		poolConfig.MinConns = int32(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		poolConfig.MaxConnLifetime = cfg.ConnMaxLifetime
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("create pgx pool: %w", err)
	}

	return pool, nil
}

// Open constructs the configured gateway and runs Init on it.
func Open(ctx context.Context, cfg config.DatabaseConfig, logger zerolog.Logger) (Gateway, error) {
	var gw Gateway
	switch cfg.Driver {
	case config.DriverPostgres:
		pool, err := NewPool(ctx, cfg)
		if err != nil {
			return nil, err
		}
		gw = NewStore(pool)
	case config.DriverSQLite:
		store, err := OpenSQLite(cfg.Path, logger)
		if err != nil {
			return nil, err
		}
		gw = store
	default:
		return nil, fmt.Errorf("unsupported database driver %q", cfg.Driver)
	}

	if err := gw.Init(ctx); err != nil {
		gw.Close()
		return nil, fmt.Errorf("init %s store: %w", cfg.Driver, err)
	}

	logger.Debug().Str("component", "storage").Str("driver", cfg.Driver).Msg("store ready")
	return gw, nil
}
