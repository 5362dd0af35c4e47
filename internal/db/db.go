package db

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5/pgxpool"

	"timetree/internal/config"
	"timetree/pkg/graph"
)

// Connect opens a pgx pool for url and checks that the server answers.
func Connect(ctx context.Context, url string) (*pgxpool.Pool, error) {
	if url == "" {
		return nil, errors.New("database url is empty (set database.url or DATABASE_URL)")
	}
	pool, err := pgxpool.New(ctx, url)
	if err != nil {
		return nil, fmt.Errorf("create pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping: %w", err)
	}
	return pool, nil
}

// Open returns the graph store named by cfg.Driver, with its schema in place.
func Open(ctx context.Context, cfg config.DatabaseConfig) (graph.Store, error) {
	log := slog.Default().With("component", "db")
	switch cfg.Driver {
	case "", "memory":
		log.Info("using in-memory graph store")
		return graph.NewMemStore(), nil
	case "sqlite":
		s, err := graph.OpenSQLiteStore(ctx, cfg.Path, cfg.LockTimeout)
		if err != nil {
			return nil, err
		}
		log.Info("using sqlite graph store", "path", cfg.Path)
		return s, nil
	case "postgres", "pg":
		pool, err := Connect(ctx, cfg.URL)
		if err != nil {
			return nil, fmt.Errorf("connect: %w", err)
		}
		s := graph.NewPgStore(pool)
		if err := s.EnsureTables(ctx); err != nil {
			pool.Close()
			return nil, fmt.Errorf("ensure graph tables: %w", err)
		}
		log.Info("using postgres graph store")
		return s, nil
	}
	return nil, fmt.Errorf("unknown database driver %q (want memory, sqlite or postgres)", cfg.Driver)
}
