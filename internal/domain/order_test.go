package domain_test

import (
	"testing"
	"time"

	"github.com/vladislavdragonenkov/bookcafe/internal/domain"
)

// makeOrder возвращает валидный заказ с одной позицией.
func makeOrder() domain.Order {
	now := time.Now().UTC()
	return domain.Order{
		ID:     "order-1",
		Status: domain.OrderStatusProcessing,
		Items: []domain.LineItem{
			{
				ProductType: domain.ProductTypeBooks,
				ProductID:   "book-1",
				Quantity:    2,
			},
		},
		CustomerID: "customer-1",
		TotalCost:  42.5,
		Version:    0,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
}

func TestOrderValidateInvariants_Ok(t *testing.T) {
	order := makeOrder()
	if errs := order.ValidateInvariants(); len(errs) != 0 {
		t.Fatalf("expected no validation errors, got %v", errs)
	}
}

func TestOrderValidateInvariants_Errors(t *testing.T) {
	cases := []struct {
		name string
		mut  func(o *domain.Order)
		want error
	}{
		{
			name: "bad status",
			mut: func(o *domain.Order) {
				o.Status = "shipped"
			},
			want: domain.ErrInvalidStatus,
		},
		{
			name: "negative total cost",
			mut: func(o *domain.Order) {
				o.TotalCost = -1
			},
			want: domain.ErrTotalCostNegative,
		},
		{
			name: "unknown product type",
			mut: func(o *domain.Order) {
				o.Items[0].ProductType = "vinyl"
			},
			want: domain.ErrUnknownProductType,
		},
		{
			name: "missing product id",
			mut: func(o *domain.Order) {
				o.Items[0].ProductID = ""
			},
			want: domain.ErrProductIDRequired,
		},
		{
			name: "zero quantity",
			mut: func(o *domain.Order) {
				o.Items[0].Quantity = 0
			},
			want: domain.ErrItemQuantityInvalid,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			order := makeOrder()
			tc.mut(&order)

			errs := order.ValidateInvariants()
			if len(errs) == 0 {
				t.Fatalf("expected validation errors, got none")
			}
			found := false
			for _, err := range errs {
				if err == tc.want {
					found = true
				}
			}
			if !found {
				t.Fatalf("expected %v among %v", tc.want, errs)
			}
		})
	}
}

func TestOrderStatusTerminal(t *testing.T) {
	if domain.OrderStatusProcessing.Terminal() {
		t.Fatal("processing must not be terminal")
	}
	if !domain.OrderStatusCompleted.Terminal() {
		t.Fatal("completed must be terminal")
	}
	if !domain.OrderStatusCancelled.Terminal() {
		t.Fatal("cancelled must be terminal")
	}
}

func TestOrderItemQuantity(t *testing.T) {
	order := makeOrder()

	qty, ok := order.ItemQuantity(domain.ProductTypeBooks, "book-1")
	if !ok || qty != 2 {
		t.Fatalf("expected (2, true), got (%d, %v)", qty, ok)
	}

	if _, ok := order.ItemQuantity(domain.ProductTypeDrinks, "book-1"); ok {
		t.Fatal("expected no committed quantity for another product type")
	}
}

func TestOrderPruneEmptyItems(t *testing.T) {
	order := makeOrder()
	order.Items = append(order.Items,
		domain.LineItem{ProductType: domain.ProductTypeDrinks, ProductID: "tea-1", Quantity: 0},
		domain.LineItem{ProductType: domain.ProductTypeSnacks, ProductID: "cake-1", Quantity: 1},
	)

	if !order.PruneEmptyItems() {
		t.Fatal("expected pruning to remove the zero-quantity item")
	}
	if len(order.Items) != 2 {
		t.Fatalf("expected 2 items after pruning, got %d", len(order.Items))
	}
	for _, item := range order.Items {
		if item.Quantity <= 0 {
			t.Fatalf("zero-quantity item survived pruning: %+v", item)
		}
	}

	if order.PruneEmptyItems() {
		t.Fatal("second pruning must be a no-op")
	}
}
