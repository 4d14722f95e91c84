package app

import (
	"context"
	"fmt"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/ordersync/internal/service/ordersync"
	"github.com/vladislavdragonenkov/ordersync/internal/storage/memory"
	"github.com/vladislavdragonenkov/ordersync/internal/storage/postgres"
)

// runtimeDependencies хранилища выбранного драйвера.
type runtimeDependencies struct {
	store ordersync.Store
	pg    *postgres.Store
}

// initRuntimeDependencies открывает хранилище по cfg.Storage.
func initRuntimeDependencies(ctx context.Context, cfg Config, logger *log.Entry) (*runtimeDependencies, error) {
	switch cfg.Storage.Driver {
	case "", StorageDriverMemory:
		logger.Warn("using in-memory storage, data is lost on exit")
		return &runtimeDependencies{
			store: ordersync.Store{
				Orders:    memory.NewOrderRepository(),
				Customers: memory.NewCustomerRepository(),
				Timeline:  memory.NewTimelineRepository(),
				Outbox:    memory.NewOutboxRepository(),
				Runs:      memory.NewRunRepository(),
			},
		}, nil
	case StorageDriverPostgres:
		if cfg.Storage.PostgresDSN == "" {
			return nil, fmt.Errorf("postgres storage requires dsn")
		}
		pg, err := postgres.Open(ctx, cfg.Storage.PostgresDSN)
		if err != nil {
			return nil, err
		}
		if cfg.Storage.AutoMigrate {
			if err := pg.MigrateUp(ctx, 0); err != nil {
				_ = pg.Close()
				return nil, fmt.Errorf("auto-migrate: %w", err)
			}
		}
		logger.Info("postgres storage initialized")
		return &runtimeDependencies{
			store: ordersync.Store{
				Orders:    postgres.NewOrderRepository(pg),
				Customers: postgres.NewCustomerRepository(pg),
				Timeline:  postgres.NewTimelineRepository(pg),
				Outbox:    postgres.NewOutboxRepository(pg),
				Runs:      postgres.NewRunRepository(pg),
			},
			pg: pg,
		}, nil
	default:
		return nil, fmt.Errorf("unsupported storage driver %q", cfg.Storage.Driver)
	}
}

// ping проверяет хранилище; in-memory всегда доступно.
func (d *runtimeDependencies) ping(ctx context.Context) error {
	if d.pg == nil {
		return nil
	}
	return d.pg.Ping(ctx)
}

func (d *runtimeDependencies) close(logger *log.Entry) {
	if d == nil || d.pg == nil {
		return
	}
	if err := d.pg.Close(); err != nil {
		logger.WithError(err).Warn("failed to close postgres store")
	}
}
