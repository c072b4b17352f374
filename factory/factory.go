package factory

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/lychee-technology/registra"
	"github.com/lychee-technology/registra/internal"
	"go.uber.org/zap"
)

// NewSchemaStore creates a SchemaStore backed by the driver named in the
// configuration. This is the primary way for external projects to create a
// registry instance.
//
// Usage:
//
//	import (
//	    "github.com/lychee-technology/registra"
//	    "github.com/lychee-technology/registra/factory"
//	)
//
//	config := registra.DefaultConfig()
//	store, closeFn, err := factory.NewSchemaStore(context.Background(), config, logger)
//	if err != nil {
//	    // handle error
//	}
//	defer closeFn()
func NewSchemaStore(ctx context.Context, config *registra.Config, logger *zap.Logger) (registra.SchemaStore, func() error, error) {
	if err := config.Validate(); err != nil {
		return nil, nil, err
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	backend, err := newBackend(ctx, config, logger)
	if err != nil {
		return nil, nil, err
	}

	store := internal.NewVersionedStore(backend, config, logger)
	return store, backend.Close, nil
}

func newBackend(ctx context.Context, config *registra.Config, logger *zap.Logger) (registra.Backend, error) {
	switch config.Backend.Driver {
	case registra.BackendDriverMemory:
		return internal.NewMemoryBackend(logger), nil

	case registra.BackendDriverSQLite:
		backend, err := internal.NewSQLiteBackend(config.Backend.Path, logger)
		if err != nil {
			return nil, err
		}
		return backend, nil

	case registra.BackendDriverPostgres:
		pool, err := pgxpool.New(ctx, config.Backend.Postgres.ConnString())
		if err != nil {
			return nil, fmt.Errorf("failed to create postgres pool: %w", err)
		}
		backend := internal.NewPostgresBackend(pool, logger)
		if err := backend.Migrate(ctx); err != nil {
			pool.Close()
			return nil, err
		}
		return backend, nil

	default:
		return nil, fmt.Errorf("unknown backend driver %q", config.Backend.Driver)
	}
}
