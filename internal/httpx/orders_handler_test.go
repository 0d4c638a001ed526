package httpx

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"

	"github.com/vladislavdragonenkov/bookcafe/internal/domain"
	"github.com/vladislavdragonenkov/bookcafe/internal/service/lifecycle"
	"github.com/vladislavdragonenkov/bookcafe/internal/service/stock"
	"github.com/vladislavdragonenkov/bookcafe/internal/storage/memory"
)

type handlerFixture struct {
	router  *chi.Mux
	handler *OrdersHandler
	books   interface {
		domain.ProductStock
		Create(domain.Product) error
	}
	customers domain.CustomerRepository
}

func newHandlerFixture(t *testing.T) *handlerFixture {
	t.Helper()

	registry := domain.NewStockRegistry()
	books := memory.NewProductStore()
	registry.Register(domain.ProductTypeBooks, books)
	registry.Register(domain.ProductTypeDrinks, memory.NewProductStore())
	registry.Register(domain.ProductTypeSnacks, memory.NewProductStore())

	timeline := memory.NewTimelineRepository()
	customers := memory.NewCustomerRepository()
	stores := lifecycle.Stores{
		Orders:       memory.NewOrderRepository(),
		Reservations: memory.NewReservationRepository(),
		Areas:        memory.NewAreaRepository(),
		Customers:    customers,
		Staff:        memory.NewStaffRepository(),
		Outbox:       memory.NewOutboxRepository(),
		Timeline:     timeline,
	}
	engine := lifecycle.NewEngineWithoutMetrics(stores, stock.NewProtocol(registry, nil), nil)

	handler := &OrdersHandler{
		Engine:      engine,
		Timeline:    timeline,
		Idempotency: memory.NewIdempotencyRepository(),
	}
	router := chi.NewRouter()
	handler.Register(router)

	return &handlerFixture{router: router, handler: handler, books: books, customers: customers}
}

func (f *handlerFixture) seedBook(t *testing.T, id, name string, stockCount int) {
	t.Helper()
	err := f.books.Create(domain.Product{ID: id, Type: domain.ProductTypeBooks, Name: name, Stock: stockCount})
	if err != nil {
		t.Fatalf("seed book %s: %v", id, err)
	}
}

func (f *handlerFixture) seedCustomer(t *testing.T, id string) {
	t.Helper()
	if err := f.customers.Create(domain.Customer{ID: id, FirstName: "Anna", Rank: domain.RankSilver}); err != nil {
		t.Fatalf("seed customer %s: %v", id, err)
	}
}

func (f *handlerFixture) do(t *testing.T, method, path string, body any, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode request body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	f.router.ServeHTTP(w, req)
	return w
}

func (f *handlerFixture) createOrder(t *testing.T, customerID string, quantity int) OrderResp {
	t.Helper()

	w := f.do(t, http.MethodPost, "/orders", CreateOrderReq{
		Status:     "processing",
		CustomerID: customerID,
		TotalCost:  30,
		Items: []LineItemReq{
			{ProductType: "books", ProductID: "book-1", Quantity: quantity},
		},
	}, nil)
	if w.Code != http.StatusCreated {
		t.Fatalf("create order: expected 201, got %d (%s)", w.Code, w.Body.String())
	}

	var resp OrderResp
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatalf("decode create response: %v", err)
	}
	return resp
}

func TestCreateOrderEndpoint(t *testing.T) {
	f := newHandlerFixture(t)
	f.seedBook(t, "book-1", "War and Peace", 5)
	f.seedCustomer(t, "cust-1")

	resp := f.createOrder(t, "cust-1", 2)

	if resp.ID == "" {
		t.Fatal("expected order id in response")
	}
	if resp.Status != "processing" {
		t.Errorf("expected status processing, got %s", resp.Status)
	}
	if len(resp.Items) != 1 || resp.Items[0].Quantity != 2 {
		t.Errorf("unexpected items in response: %+v", resp.Items)
	}

	product, err := f.books.FindByID("book-1")
	if err != nil {
		t.Fatalf("find book: %v", err)
	}
	if product.Stock != 3 {
		t.Errorf("expected stock 3 after commit, got %d", product.Stock)
	}
}

func TestCreateOrderEndpoint_InvalidJSON(t *testing.T) {
	f := newHandlerFixture(t)

	req := httptest.NewRequest(http.MethodPost, "/orders", bytes.NewBufferString("{not json"))
	w := httptest.NewRecorder()
	f.router.ServeHTTP(w, req)

	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", w.Code)
	}
}

func TestCreateOrderEndpoint_InsufficientStock(t *testing.T) {
	f := newHandlerFixture(t)
	f.seedBook(t, "book-1", "War and Peace", 1)
	f.seedCustomer(t, "cust-1")

	w := f.do(t, http.MethodPost, "/orders", CreateOrderReq{
		Status:     "processing",
		CustomerID: "cust-1",
		Items: []LineItemReq{
			{ProductType: "books", ProductID: "book-1", Quantity: 3},
		},
	}, nil)

	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d (%s)", w.Code, w.Body.String())
	}

	var body map[string]string
	if err := json.NewDecoder(w.Body).Decode(&body); err != nil {
		t.Fatalf("decode error body: %v", err)
	}
	if body["error"] != "Out of stock: War and Peace - 1 left." {
		t.Errorf("unexpected error message: %q", body["error"])
	}
}

func TestCreateOrderEndpoint_IdempotentReplay(t *testing.T) {
	f := newHandlerFixture(t)
	f.seedBook(t, "book-1", "War and Peace", 5)
	f.seedCustomer(t, "cust-1")

	req := CreateOrderReq{
		Status:     "processing",
		CustomerID: "cust-1",
		TotalCost:  30,
		Items: []LineItemReq{
			{ProductType: "books", ProductID: "book-1", Quantity: 2},
		},
	}
	headers := map[string]string{headerIdempotencyKey: "key-1"}

	first := f.do(t, http.MethodPost, "/orders", req, headers)
	if first.Code != http.StatusCreated {
		t.Fatalf("first request: expected 201, got %d (%s)", first.Code, first.Body.String())
	}

	second := f.do(t, http.MethodPost, "/orders", req, headers)
	if second.Code != http.StatusCreated {
		t.Fatalf("replay: expected stored 201, got %d (%s)", second.Code, second.Body.String())
	}

	var firstResp, secondResp OrderResp
	if err := json.NewDecoder(first.Body).Decode(&firstResp); err != nil {
		t.Fatalf("decode first response: %v", err)
	}
	if err := json.NewDecoder(second.Body).Decode(&secondResp); err != nil {
		t.Fatalf("decode replay response: %v", err)
	}
	if firstResp.ID != secondResp.ID {
		t.Errorf("replay returned different order: %s vs %s", firstResp.ID, secondResp.ID)
	}

	product, err := f.books.FindByID("book-1")
	if err != nil {
		t.Fatalf("find book: %v", err)
	}
	if product.Stock != 3 {
		t.Errorf("replay must not commit stock twice: expected 3, got %d", product.Stock)
	}
}

func TestCreateOrderEndpoint_IdempotencyHashMismatch(t *testing.T) {
	f := newHandlerFixture(t)
	f.seedBook(t, "book-1", "War and Peace", 5)
	f.seedCustomer(t, "cust-1")

	headers := map[string]string{headerIdempotencyKey: "key-1"}
	first := f.do(t, http.MethodPost, "/orders", CreateOrderReq{
		Status:     "processing",
		CustomerID: "cust-1",
		Items: []LineItemReq{
			{ProductType: "books", ProductID: "book-1", Quantity: 1},
		},
	}, headers)
	if first.Code != http.StatusCreated {
		t.Fatalf("first request: expected 201, got %d", first.Code)
	}

	second := f.do(t, http.MethodPost, "/orders", CreateOrderReq{
		Status:     "processing",
		CustomerID: "cust-1",
		Items: []LineItemReq{
			{ProductType: "books", ProductID: "book-1", Quantity: 2},
		},
	}, headers)
	if second.Code != http.StatusConflict {
		t.Fatalf("expected 409 on reused key with different body, got %d", second.Code)
	}
}

func TestGetOrderEndpoint(t *testing.T) {
	f := newHandlerFixture(t)
	f.seedBook(t, "book-1", "War and Peace", 5)
	f.seedCustomer(t, "cust-1")
	created := f.createOrder(t, "cust-1", 2)

	w := f.do(t, http.MethodGet, "/orders/"+created.ID, nil, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}

	var resp OrderResp
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.ID != created.ID || resp.CustomerID != "cust-1" {
		t.Errorf("unexpected order in response: %+v", resp)
	}
}

func TestGetOrderEndpoint_NotFound(t *testing.T) {
	f := newHandlerFixture(t)

	w := f.do(t, http.MethodGet, "/orders/missing", nil, nil)
	if w.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", w.Code)
	}
}

func TestGetOrderStatusEndpoint(t *testing.T) {
	f := newHandlerFixture(t)
	f.seedBook(t, "book-1", "War and Peace", 5)
	f.seedCustomer(t, "cust-1")
	created := f.createOrder(t, "cust-1", 1)

	w := f.do(t, http.MethodGet, "/orders/"+created.ID+"/status", nil, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}

	var resp map[string]any
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp["status"] != "processing" {
		t.Errorf("expected status processing, got %v", resp["status"])
	}
}

func TestListOrdersEndpoint_FiltersByStatus(t *testing.T) {
	f := newHandlerFixture(t)
	f.seedBook(t, "book-1", "War and Peace", 10)
	f.seedCustomer(t, "cust-1")

	first := f.createOrder(t, "cust-1", 1)
	cancelled := "cancelled"
	w := f.do(t, http.MethodPatch, "/orders/"+first.ID, EditOrderReq{Status: &cancelled}, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("cancel order: expected 200, got %d (%s)", w.Code, w.Body.String())
	}
	second := f.createOrder(t, "cust-1", 1)

	w = f.do(t, http.MethodGet, "/orders?status=processing", nil, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}

	var resp []OrderResp
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if len(resp) != 1 || resp[0].ID != second.ID {
		t.Errorf("expected only processing order %s, got %+v", second.ID, resp)
	}
}

func TestListOrdersEndpoint_HistoryAggregatesTerminalStatuses(t *testing.T) {
	f := newHandlerFixture(t)
	f.seedBook(t, "book-1", "War and Peace", 10)
	f.seedCustomer(t, "cust-1")

	cancelledOrder := f.createOrder(t, "cust-1", 1)
	cancelled := "cancelled"
	w := f.do(t, http.MethodPatch, "/orders/"+cancelledOrder.ID, EditOrderReq{Status: &cancelled}, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("cancel order: expected 200, got %d (%s)", w.Code, w.Body.String())
	}

	completedOrder := f.createOrder(t, "cust-1", 1)
	completed := "completed"
	w = f.do(t, http.MethodPatch, "/orders/"+completedOrder.ID, EditOrderReq{Status: &completed}, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("complete order: expected 200, got %d (%s)", w.Code, w.Body.String())
	}

	open := f.createOrder(t, "cust-1", 1)

	w = f.do(t, http.MethodGet, "/orders?status=history", nil, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}

	var resp []OrderResp
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if len(resp) != 2 {
		t.Fatalf("expected 2 terminal orders, got %d", len(resp))
	}
	for _, order := range resp {
		if order.ID == open.ID {
			t.Errorf("processing order %s must not appear in history", open.ID)
		}
	}
}

func TestListOrdersEndpoint_RejectsUnknownStatus(t *testing.T) {
	f := newHandlerFixture(t)

	w := f.do(t, http.MethodGet, "/orders?status=shipped", nil, nil)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for unknown status, got %d", w.Code)
	}
}

func TestEditOrderEndpoint_TerminalIsForbidden(t *testing.T) {
	f := newHandlerFixture(t)
	f.seedBook(t, "book-1", "War and Peace", 5)
	f.seedCustomer(t, "cust-1")
	created := f.createOrder(t, "cust-1", 1)

	completed := "completed"
	w := f.do(t, http.MethodPatch, "/orders/"+created.ID, EditOrderReq{Status: &completed}, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("complete order: expected 200, got %d (%s)", w.Code, w.Body.String())
	}

	cost := 99.0
	w = f.do(t, http.MethodPatch, "/orders/"+created.ID, EditOrderReq{TotalCost: &cost}, nil)
	if w.Code != http.StatusForbidden {
		t.Fatalf("expected 403 for edit of completed order, got %d", w.Code)
	}
}

func TestDeleteOrderEndpoint(t *testing.T) {
	f := newHandlerFixture(t)
	f.seedBook(t, "book-1", "War and Peace", 5)
	f.seedCustomer(t, "cust-1")
	created := f.createOrder(t, "cust-1", 2)

	w := f.do(t, http.MethodDelete, "/orders/"+created.ID, nil, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d (%s)", w.Code, w.Body.String())
	}

	w = f.do(t, http.MethodGet, "/orders/"+created.ID, nil, nil)
	if w.Code != http.StatusNotFound {
		t.Fatalf("expected 404 after delete, got %d", w.Code)
	}
}

func TestOrderTimelineEndpoint(t *testing.T) {
	f := newHandlerFixture(t)
	f.seedBook(t, "book-1", "War and Peace", 5)
	f.seedCustomer(t, "cust-1")
	created := f.createOrder(t, "cust-1", 1)

	completed := "completed"
	w := f.do(t, http.MethodPatch, "/orders/"+created.ID, EditOrderReq{Status: &completed}, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("complete order: expected 200, got %d", w.Code)
	}

	w = f.do(t, http.MethodGet, fmt.Sprintf("/orders/%s/timeline", created.ID), nil, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}

	var events []TimelineEventResp
	if err := json.NewDecoder(w.Body).Decode(&events); err != nil {
		t.Fatalf("decode timeline: %v", err)
	}
	if len(events) != 2 {
		t.Fatalf("expected 2 timeline events, got %d", len(events))
	}
	if events[0].Type != "OrderCreated" || events[1].Type != "OrderCompleted" {
		t.Errorf("unexpected event sequence: %s, %s", events[0].Type, events[1].Type)
	}
}
