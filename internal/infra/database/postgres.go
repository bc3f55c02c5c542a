package database

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/jayceeit/password-expire/internal/infra/config"
)

const accountsSchema = "accounts"

func NewPostgresPool(ctx context.Context, alias string, cfg config.PostgresSettings, log *zap.Logger) (*pgxpool.Pool, error) {
	poolConfig, err := pgxpool.ParseConfig(DSN(cfg))
	if err != nil {
		return nil, fmt.Errorf("parse pgx pool config for %q: %w", alias, err)
	}

	if cfg.MaxConns > 0 {
		poolConfig.MaxConns = cfg.MaxConns
	}
	if cfg.MinConns > 0 {
		poolConfig.MinConns = cfg.MinConns
	}
	if cfg.MaxConnLifetime > 0 {
		poolConfig.MaxConnLifetime = cfg.MaxConnLifetime
	}
	if cfg.MaxConnIdleTime > 0 {
		poolConfig.MaxConnIdleTime = cfg.MaxConnIdleTime
	}
	if cfg.HealthCheckPeriod > 0 {
		poolConfig.HealthCheckPeriod = cfg.HealthCheckPeriod
	}

	if poolConfig.ConnConfig.RuntimeParams == nil {
		poolConfig.ConnConfig.RuntimeParams = make(map[string]string)
	}
	poolConfig.ConnConfig.RuntimeParams["search_path"] = fmt.Sprintf("%s,public", accountsSchema)

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("connect postgres %q: %w", alias, err)
	}

	log.Info("connected to postgres",
		zap.String("alias", alias),
		zap.String("host", cfg.Host),
		zap.Int("port", cfg.Port),
		zap.String("database", cfg.Database),
		zap.Int32("max_conns", poolConfig.MaxConns),
	)

	return pool, nil
}

// DSN renders the connection string for cfg.
func DSN(cfg config.PostgresSettings) string {
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=%s",
		cfg.User,
		cfg.Password,
		cfg.Host,
		cfg.Port,
		cfg.Database,
		cfg.SSLMode,
	)
}

// OpenAll connects every configured alias. Pools opened before a failure are closed.
func OpenAll(ctx context.Context, cfg *config.AppConfig, log *zap.Logger) (map[string]*pgxpool.Pool, error) {
	pools := make(map[string]*pgxpool.Pool, len(cfg.Databases))
	for _, alias := range cfg.DatabaseAliases() {
		pool, err := NewPostgresPool(ctx, alias, cfg.Databases[alias], log)
		if err != nil {
			CloseAll(pools)
			return nil, err
		}
		pools[alias] = pool
	}
	return pools, nil
}

func CloseAll(pools map[string]*pgxpool.Pool) {
	for _, pool := range pools {
		pool.Close()
	}
}
