package app

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/sweater-ventures/optimist/config"
)

func connectToDB(config *config.AppConfig) (*pgxpool.Pool, error) {
	dbconfig, err := pgxpool.ParseConfig(
		fmt.Sprintf("host=%s user=%s password=%s port=%d sslmode=%s dbname=%s pool_max_conns=%d pool_min_conns=%d",
			config.DBHost,
			config.DBUsername,
			config.DBPassword,
			config.DBPort,
			config.DBSSLMode,
			config.DBName,
			config.DBMaxConns,
			config.DBMinConns,
		),
	)
	if err != nil {
		slog.Error("Failed to parse database configuration", "error", err)
		return nil, err
	}
	// The postgres bus pins one connection for LISTEN.
	if config.BusDriver == "postgres" && dbconfig.MaxConns < 2 {
		dbconfig.MaxConns = 2
	}
	pool, err := pgxpool.NewWithConfig(context.Background(), dbconfig)
	if err != nil {
		return nil, err
	}
	slog.Info("Database connection pool established",
		slog.String("host", config.DBHost),
		slog.Int("port", config.DBPort),
		slog.String("dbname", config.DBName),
		slog.Int("max_conns", int(dbconfig.MaxConns)),
	)
	return pool, nil
}

// openBus connects the configured invalidation bus.
func openBus(ctx context.Context, cfg *config.AppConfig, pool *pgxpool.Pool) (Bus, func() error, error) {
	switch cfg.BusDriver {
	case "", "memory":
		return NewEventBus(), nil, nil
	case "postgres":
		if pool == nil {
			return nil, nil, fmt.Errorf("postgres bus needs a database connection")
		}
		bus, err := NewPgBus(ctx, pool, cfg.BusChannel)
		if err != nil {
			return nil, nil, err
		}
		return bus, nil, nil
	case "redis":
		client, err := NewRedisClient(ctx, cfg.RedisURL)
		if err != nil {
			return nil, nil, err
		}
		bus, err := NewRedisBus(ctx, client, cfg.BusChannel)
		if err != nil {
			_ = client.Close()
			return nil, nil, err
		}
		return bus, client.Close, nil
	}
	return nil, nil, fmt.Errorf("unknown bus driver %q", cfg.BusDriver)
}
