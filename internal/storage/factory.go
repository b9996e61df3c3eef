package storage

import (
	"context"
	"fmt"

	"github.com/perch-obs/perch/internal/storage/mysql"
	"github.com/perch-obs/perch/internal/storage/postgres"
	"github.com/perch-obs/perch/internal/storage/sqlite"
)

// Supported engine kinds.
const (
	KindSQLite   = "sqlite"
	KindPostgres = "postgres"
	KindMySQL    = "mysql"
)

// Config selects and configures a storage engine.
type Config struct {
	// Kind is one of "sqlite", "postgres", "mysql".
	Kind string
	// DSN is the engine connection string. For sqlite it is the database
	// file path.
	DSN string
}

// Open constructs the configured engine and verifies connectivity.
func Open(ctx context.Context, cfg Config) (Store, error) {
	var (
		store Store
		err   error
	)
	switch cfg.Kind {
	case KindSQLite:
		store, err = sqlite.Open(cfg.DSN)
	case KindPostgres:
		store, err = postgres.Open(ctx, cfg.DSN)
	case KindMySQL:
		store, err = mysql.Open(cfg.DSN)
	default:
		return nil, fmt.Errorf("unknown storage kind %q", cfg.Kind)
	}
	if err != nil {
		return nil, fmt.Errorf("opening %s storage: %w", cfg.Kind, err)
	}

	if err := store.Ping(ctx); err != nil {
		store.Close()
		return nil, fmt.Errorf("pinging %s storage: %w", cfg.Kind, err)
	}
	return store, nil
}
