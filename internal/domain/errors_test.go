package domain_test

import (
	"errors"
	"fmt"
	"testing"

	"github.com/vladislavdragonenkov/bookcafe/internal/domain"
)

func TestInsufficientStockError_Message(t *testing.T) {
	err := &domain.InsufficientStockError{
		Products: []domain.InsufficientProduct{
			{ProductType: domain.ProductTypeBooks, ProductID: "book-1", Name: "War and Peace", Remaining: 3},
			{ProductType: domain.ProductTypeDrinks, ProductID: "tea-1", Name: "Green Tea", Remaining: 0},
		},
	}

	want := "Out of stock: War and Peace - 3 left, Green Tea - 0 left."
	if err.Error() != want {
		t.Fatalf("message = %q, want %q", err.Error(), want)
	}
}

func TestIsInsufficientStock(t *testing.T) {
	err := &domain.InsufficientStockError{
		Products: []domain.InsufficientProduct{{Name: "War and Peace", Remaining: 3}},
	}

	if !domain.IsInsufficientStock(err) {
		t.Fatal("expected direct error to match")
	}
	if !domain.IsInsufficientStock(fmt.Errorf("create order: %w", err)) {
		t.Fatal("expected wrapped error to match")
	}
	if domain.IsInsufficientStock(domain.ErrTimeConflict) {
		t.Fatal("unrelated error must not match")
	}
}

func TestIsVersionConflict(t *testing.T) {
	if !domain.IsVersionConflict(domain.ErrVersionConflict) {
		t.Fatal("expected sentinel to match")
	}
	if !domain.IsVersionConflict(fmt.Errorf("save product: %w", domain.ErrVersionConflict)) {
		t.Fatal("expected wrapped sentinel to match")
	}
	if domain.IsVersionConflict(errors.New("other")) {
		t.Fatal("unrelated error must not match")
	}
}

func TestStockRegistry(t *testing.T) {
	registry := domain.NewStockRegistry()
	if _, err := registry.For(domain.ProductTypeBooks); !errors.Is(err, domain.ErrUnknownProductType) {
		t.Fatalf("expected ErrUnknownProductType, got %v", err)
	}
}
