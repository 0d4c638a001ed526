package app

import (
	"context"
	"errors"
	"fmt"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/bookcafe/internal/domain"
	"github.com/vladislavdragonenkov/bookcafe/internal/service/lifecycle"
	"github.com/vladislavdragonenkov/bookcafe/internal/storage/memory"
	"github.com/vladislavdragonenkov/bookcafe/internal/storage/postgres"
)

// runtimeDependencies — хранилища, собранные под выбранный storage driver.
type runtimeDependencies struct {
	stores          lifecycle.Stores
	registry        *domain.StockRegistry
	outboxRepo      domain.OutboxRepository
	timelineRepo    domain.TimelineRepository
	idempotencyRepo domain.IdempotencyRepository
	pg              *postgres.Store // nil для in-memory backend
}

// initRuntimeDependencies собирает хранилища согласно конфигурации.
func initRuntimeDependencies(ctx context.Context, cfg Config, logger *log.Entry) (*runtimeDependencies, error) {
	switch cfg.StorageDriver {
	case StorageDriverMemory, "":
		return initMemoryDependencies(), nil
	case StorageDriverPostgres:
		return initPostgresDependencies(ctx, cfg, logger)
	default:
		return nil, fmt.Errorf("unsupported storage driver: %s", cfg.StorageDriver)
	}
}

func initMemoryDependencies() *runtimeDependencies {
	registry := domain.NewStockRegistry()
	registry.Register(domain.ProductTypeBooks, memory.NewProductStore())
	registry.Register(domain.ProductTypeDrinks, memory.NewProductStore())
	registry.Register(domain.ProductTypeSnacks, memory.NewProductStore())

	outboxRepo := memory.NewOutboxRepository()
	timelineRepo := memory.NewTimelineRepository()
	deps := &runtimeDependencies{
		registry:        registry,
		outboxRepo:      outboxRepo,
		timelineRepo:    timelineRepo,
		idempotencyRepo: memory.NewIdempotencyRepository(),
	}
	deps.stores = lifecycle.Stores{
		Orders:       memory.NewOrderRepository(),
		Reservations: memory.NewReservationRepository(),
		Areas:        memory.NewAreaRepository(),
		Customers:    memory.NewCustomerRepository(),
		Staff:        memory.NewStaffRepository(),
		Outbox:       outboxRepo,
		Timeline:     timelineRepo,
	}
	return deps
}

func initPostgresDependencies(ctx context.Context, cfg Config, logger *log.Entry) (*runtimeDependencies, error) {
	if cfg.PostgresDSN == "" {
		return nil, errors.New("postgres storage driver requires BOOKCAFE_POSTGRES_DSN")
	}

	store, err := postgres.Open(ctx, cfg.PostgresDSN)
	if err != nil {
		return nil, fmt.Errorf("open postgres store: %w", err)
	}

	if cfg.PostgresAutoMigrate {
		if err := store.EnsureSchema(ctx); err != nil {
			_ = store.Close()
			return nil, fmt.Errorf("apply migrations: %w", err)
		}
		logger.Info("postgres schema is up to date")
	}

	registry := domain.NewStockRegistry()
	registry.Register(domain.ProductTypeBooks, postgres.NewProductStore(store, domain.ProductTypeBooks))
	registry.Register(domain.ProductTypeDrinks, postgres.NewProductStore(store, domain.ProductTypeDrinks))
	registry.Register(domain.ProductTypeSnacks, postgres.NewProductStore(store, domain.ProductTypeSnacks))

	outboxRepo := postgres.NewOutboxRepository(store)
	timelineRepo := postgres.NewTimelineRepository(store)
	deps := &runtimeDependencies{
		registry:        registry,
		outboxRepo:      outboxRepo,
		timelineRepo:    timelineRepo,
		idempotencyRepo: postgres.NewIdempotencyRepository(store),
		pg:              store,
	}
	deps.stores = lifecycle.Stores{
		Orders:       postgres.NewOrderRepository(store),
		Reservations: postgres.NewReservationRepository(store),
		Areas:        postgres.NewAreaRepository(store),
		Customers:    postgres.NewCustomerRepository(store),
		Staff:        postgres.NewStaffRepository(store),
		Outbox:       outboxRepo,
		Timeline:     timelineRepo,
	}
	return deps, nil
}

// Close освобождает ресурсы хранилищ.
func (d *runtimeDependencies) Close() {
	if d.pg != nil {
		_ = d.pg.Close()
	}
}
