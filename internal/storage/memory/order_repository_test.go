package memory

import (
	"errors"
	"testing"
	"time"

	"github.com/vladislavdragonenkov/bookcafe/internal/domain"
)

func newOrder(id string, status domain.OrderStatus, createdAt time.Time) domain.Order {
	return domain.Order{
		ID:     id,
		Status: status,
		Items: []domain.LineItem{
			{ProductType: domain.ProductTypeBooks, ProductID: "book-1", Quantity: 1},
		},
		CreatedAt: createdAt,
		UpdatedAt: createdAt,
	}
}

func TestOrderRepository_CreateGet(t *testing.T) {
	repo := NewOrderRepository()
	order := newOrder("order-1", domain.OrderStatusProcessing, time.Now().UTC())

	if err := repo.Create(order); err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := repo.Create(order); !errors.Is(err, domain.ErrVersionConflict) {
		t.Fatalf("duplicate create: expected version conflict, got %v", err)
	}

	got, err := repo.Get("order-1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.ID != "order-1" || len(got.Items) != 1 {
		t.Fatalf("unexpected order: %+v", got)
	}

	if _, err := repo.Get("missing"); !errors.Is(err, domain.ErrOrderNotFound) {
		t.Fatalf("expected ErrOrderNotFound, got %v", err)
	}
}

func TestOrderRepository_SaveVersionConflict(t *testing.T) {
	repo := NewOrderRepository()
	order := newOrder("order-1", domain.OrderStatusProcessing, time.Now().UTC())
	if err := repo.Create(order); err != nil {
		t.Fatalf("create: %v", err)
	}

	first, _ := repo.Get("order-1")
	second, _ := repo.Get("order-1")

	first.Status = domain.OrderStatusCompleted
	if err := repo.Save(first); err != nil {
		t.Fatalf("first save: %v", err)
	}

	second.Status = domain.OrderStatusCancelled
	if err := repo.Save(second); !domain.IsVersionConflict(err) {
		t.Fatalf("expected version conflict on stale save, got %v", err)
	}

	got, _ := repo.Get("order-1")
	if got.Status != domain.OrderStatusCompleted {
		t.Fatalf("status = %q, want completed", got.Status)
	}
	if got.Version != 1 {
		t.Fatalf("version = %d, want 1", got.Version)
	}
}

func TestOrderRepository_ListFilterAndOrder(t *testing.T) {
	repo := NewOrderRepository()
	base := time.Now().UTC()

	if err := repo.Create(newOrder("order-1", domain.OrderStatusProcessing, base)); err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := repo.Create(newOrder("order-2", domain.OrderStatusCompleted, base.Add(time.Minute))); err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := repo.Create(newOrder("order-3", domain.OrderStatusCancelled, base.Add(2*time.Minute))); err != nil {
		t.Fatalf("create: %v", err)
	}

	all, err := repo.List(domain.OrderFilter{})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(all) != 3 {
		t.Fatalf("expected 3 orders, got %d", len(all))
	}
	if all[0].ID != "order-3" || all[2].ID != "order-1" {
		t.Fatalf("expected newest-first ordering, got %s..%s", all[0].ID, all[2].ID)
	}

	history, err := repo.List(domain.OrderFilter{
		Statuses: []domain.OrderStatus{domain.OrderStatusCompleted, domain.OrderStatusCancelled},
	})
	if err != nil {
		t.Fatalf("list history: %v", err)
	}
	if len(history) != 2 {
		t.Fatalf("expected 2 history orders, got %d", len(history))
	}
	for _, order := range history {
		if order.Status == domain.OrderStatusProcessing {
			t.Fatalf("processing order leaked into history: %+v", order)
		}
	}
}

func TestOrderRepository_Delete(t *testing.T) {
	repo := NewOrderRepository()
	if err := repo.Create(newOrder("order-1", domain.OrderStatusProcessing, time.Now().UTC())); err != nil {
		t.Fatalf("create: %v", err)
	}

	deleted, err := repo.Delete("order-1")
	if err != nil {
		t.Fatalf("delete: %v", err)
	}
	if deleted.ID != "order-1" {
		t.Fatalf("unexpected deleted order: %+v", deleted)
	}

	if _, err := repo.Get("order-1"); !errors.Is(err, domain.ErrOrderNotFound) {
		t.Fatalf("expected ErrOrderNotFound after delete, got %v", err)
	}
	if _, err := repo.Delete("order-1"); !errors.Is(err, domain.ErrOrderNotFound) {
		t.Fatalf("double delete: expected ErrOrderNotFound, got %v", err)
	}
}
