package db

import (
	"context"
	"fmt"

	"github.com/damon-houk/fx-rate-snapshot-store/internal/domain/repository"
	"github.com/damon-houk/fx-rate-snapshot-store/internal/infrastructure/logger"
)

// Supported storage drivers
const (
	DriverMemory       = "memory"
	DriverBadger       = "badger"
	DriverSQLite       = "sqlite"
	DriverPostgres     = "postgres"
	DriverPostgresPool = "postgrespool"
)

// Config controls how the storage backend is opened
type Config struct {
	// Driver selects the backend; empty means badger
	Driver string
	// DSN is the sqlite file or postgres connection string
	DSN string
	// BadgerPath is the directory of the badger database
	BadgerPath string
	// AutoMigrate creates the schema on open for SQL drivers
	AutoMigrate bool
}

// Open constructs a snapshot repository from the configuration
func Open(ctx context.Context, cfg Config, log logger.Logger) (repository.SnapshotRepository, error) {
	log = logger.OrDefault(log)

	drv := cfg.Driver
	if drv == "" {
		drv = DriverBadger
	}

	switch drv {
	case DriverMemory:
		log.Info("Using in-memory snapshot store", nil)
		return NewMemorySnapshotStore(log), nil

	case DriverBadger:
		path := cfg.BadgerPath
		if path == "" {
			path = "data"
		}
		log.Info("Using badger snapshot store", map[string]interface{}{"path": path})
		bdb, err := OpenBadger(path)
		if err != nil {
			return nil, err
		}
		st := NewBadgerSnapshotStore(bdb, log)
		st.owned = true
		return st, nil

	case DriverSQLite, DriverPostgres:
		log.Info("Using gorm snapshot store", map[string]interface{}{"driver": drv})
		st, err := NewGormSnapshotStore(drv, cfg.DSN, log)
		if err != nil {
			return nil, err
		}
		if cfg.AutoMigrate {
			if err := st.Migrate(ctx); err != nil {
				_ = st.Close()
				return nil, err
			}
		}
		return st, nil

	case DriverPostgresPool:
		log.Info("Using pgx pool snapshot store", nil)
		pool, err := OpenPostgresPool(ctx, cfg.DSN)
		if err != nil {
			return nil, err
		}
		st := NewPostgresPoolSnapshotStore(pool, log)
		if cfg.AutoMigrate {
			if err := st.Migrate(ctx); err != nil {
				_ = st.Close()
				return nil, err
			}
		}
		return st, nil

	default:
		return nil, fmt.Errorf("unsupported storage driver %q", drv)
	}
}
