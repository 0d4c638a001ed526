package app

import (
	"context"
	"testing"

	log "github.com/sirupsen/logrus"
)

func TestInitRuntimeDependencies_Memory(t *testing.T) {
	t.Parallel()

	deps, err := initRuntimeDependencies(context.Background(), Config{
		StorageDriver: StorageDriverMemory,
	}, log.WithField("test", "memory-storage"))
	if err != nil {
		t.Fatalf("initRuntimeDependencies(memory) failed: %v", err)
	}
	if deps.stores.Orders == nil {
		t.Fatal("orders repository should not be nil for memory storage")
	}
	if deps.stores.Reservations == nil || deps.stores.Areas == nil {
		t.Fatal("floor repositories should not be nil for memory storage")
	}
	if deps.stores.Customers == nil || deps.stores.Staff == nil {
		t.Fatal("people repositories should not be nil for memory storage")
	}
	if deps.outboxRepo == nil || deps.timelineRepo == nil {
		t.Fatal("outbox and timeline repositories should not be nil for memory storage")
	}
	if deps.idempotencyRepo == nil {
		t.Fatal("idempotency repository should not be nil for memory storage")
	}
	if deps.registry == nil {
		t.Fatal("stock registry should not be nil")
	}
	if deps.pg != nil {
		t.Fatal("postgres store must be nil for memory storage")
	}
}

func TestInitRuntimeDependencies_DefaultsToMemory(t *testing.T) {
	t.Parallel()

	deps, err := initRuntimeDependencies(context.Background(), Config{}, log.WithField("test", "default-storage"))
	if err != nil {
		t.Fatalf("initRuntimeDependencies(empty driver) failed: %v", err)
	}
	if deps.stores.Orders == nil {
		t.Fatal("empty driver must fall back to in-memory storage")
	}
}

func TestInitRuntimeDependencies_PostgresRequiresDSN(t *testing.T) {
	t.Parallel()

	_, err := initRuntimeDependencies(context.Background(), Config{
		StorageDriver: StorageDriverPostgres,
	}, log.WithField("test", "postgres-missing-dsn"))
	if err == nil {
		t.Fatal("expected error when postgres driver is selected without DSN")
	}
}

func TestInitRuntimeDependencies_UnsupportedDriver(t *testing.T) {
	t.Parallel()

	_, err := initRuntimeDependencies(context.Background(), Config{
		StorageDriver: "sqlite",
	}, log.WithField("test", "unsupported-driver"))
	if err == nil {
		t.Fatal("expected error for unsupported storage driver")
	}
}
