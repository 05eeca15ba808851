package core

import (
	"context"
	"fmt"

	"vivarium/internal/infra/persistence/memory"
	"vivarium/internal/infra/persistence/postgres"
	"vivarium/internal/infra/persistence/sqlite"
)

// StorageDriver identifies a concrete persistent storage implementation.
type StorageDriver string

const (
	StorageMemory   StorageDriver = "memory"   // in-memory only (tests / ephemeral)
	StorageSQLite   StorageDriver = "sqlite"   // embedded sqlite file
	StoragePostgres StorageDriver = "postgres" // PostgreSQL server
)

// StorageConfig selects and parameterizes a persistent store.
type StorageConfig struct {
	Driver      StorageDriver // default sqlite
	SQLitePath  string        // default ./vivarium.db
	PostgresDSN string
}

// OpenPersistentStore opens the configured backend. The returned close
// function releases database handles and is never nil.
func OpenPersistentStore(ctx context.Context, cfg StorageConfig, engine *RulesEngine, opts ...memory.Option) (PersistentStore, func() error, error) {
	noop := func() error { return nil }
	driver := cfg.Driver
	if driver == "" {
		driver = StorageSQLite
	}
	switch driver {
	case StorageMemory:
		return memory.NewStore(engine, opts...), noop, nil
	case StorageSQLite:
		store, err := sqlite.NewStore(cfg.SQLitePath, engine, opts...)
		if err != nil {
			return nil, noop, err
		}
		return store, store.Close, nil
	case StoragePostgres:
		store, err := postgres.NewStore(ctx, cfg.PostgresDSN, engine, opts...)
		if err != nil {
			return nil, noop, err
		}
		return store, store.Close, nil
	default:
		return nil, noop, fmt.Errorf("unknown storage driver %s", driver)
	}
}
