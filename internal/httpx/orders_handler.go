package httpx

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/bookcafe/internal/cache/redisx"
	"github.com/vladislavdragonenkov/bookcafe/internal/domain"
	"github.com/vladislavdragonenkov/bookcafe/internal/service/lifecycle"
)

const (
	headerIdempotencyKey = "Idempotency-Key"
	headerActingStaff    = "X-Staff-ID"

	idempotencyTTL = 24 * time.Hour
)

// LineItemReq — позиция заказа в теле запроса.
type LineItemReq struct {
	ProductType            string `json:"product_type"`
	ProductID              string `json:"product_id"`
	Quantity               int    `json:"quantity"`
	AdditionalRequirements string `json:"additional_requirements,omitempty"`
}

// ReservationReq — бронь зоны в запросе создания dine-in заказа.
type ReservationReq struct {
	StartTime     time.Time `json:"start_time"`
	DurationHours float64   `json:"duration_hours"`
	AreaID        string    `json:"area_id"`
	PartySize     int       `json:"party_size"`
}

// CreateOrderReq — запрос на создание заказа.
type CreateOrderReq struct {
	Status      string          `json:"status"`
	Items       []LineItemReq   `json:"items"`
	CustomerID  string          `json:"customer_id"`
	TotalCost   float64         `json:"total_cost"`
	VoucherID   string          `json:"voucher_id,omitempty"`
	Reservation *ReservationReq `json:"reservation,omitempty"`
}

// EditOrderReq — частичное изменение заказа: отсутствующие поля не трогаются.
type EditOrderReq struct {
	Status    *string       `json:"status,omitempty"`
	Items     []LineItemReq `json:"items,omitempty"`
	TotalCost *float64      `json:"total_cost,omitempty"`
	VoucherID *string       `json:"voucher_id,omitempty"`
	Reason    string        `json:"reason,omitempty"`
}

// OrderResp — представление заказа в ответах API.
type OrderResp struct {
	ID            string        `json:"id"`
	Status        string        `json:"status"`
	Items         []LineItemReq `json:"items"`
	CustomerID    string        `json:"customer_id"`
	ReservationID string        `json:"reservation_id,omitempty"`
	TotalCost     float64       `json:"total_cost"`
	VoucherID     string        `json:"voucher_id,omitempty"`
	Version       int64         `json:"version"`
	CreatedAt     time.Time     `json:"created_at"`
	UpdatedAt     time.Time     `json:"updated_at"`
}

// TimelineEventResp — событие ленты заказа в ответах API.
type TimelineEventResp struct {
	OrderID  string    `json:"order_id"`
	Type     string    `json:"type"`
	Reason   string    `json:"reason,omitempty"`
	Occurred time.Time `json:"occurred"`
}

// OrdersHandler обслуживает HTTP-операции над заказами.
type OrdersHandler struct {
	Engine      *lifecycle.Engine
	Timeline    domain.TimelineRepository
	Idempotency domain.IdempotencyRepository
	Cache       *redisx.StatusCache
	Logger      *log.Entry
}

// Register подключает маршруты заказов к роутеру.
func (h *OrdersHandler) Register(r *chi.Mux) {
	r.Post("/orders", h.createOrder)
	r.Get("/orders", h.listOrders)
	r.Get("/orders/{id}", h.getOrder)
	r.Get("/orders/{id}/status", h.getOrderStatus)
	r.Get("/orders/{id}/timeline", h.getOrderTimeline)
	r.Patch("/orders/{id}", h.editOrder)
	r.Delete("/orders/{id}", h.deleteOrder)
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, err error) {
	writeJSON(w, code, map[string]string{"error": err.Error()})
}

// statusForError переводит доменные ошибки в HTTP-статусы.
func statusForError(err error) int {
	switch {
	case errors.Is(err, domain.ErrOrderNotFound),
		errors.Is(err, domain.ErrAreaNotFound),
		errors.Is(err, domain.ErrCustomerNotFound),
		errors.Is(err, domain.ErrStaffNotFound),
		errors.Is(err, domain.ErrReservationNotFound),
		errors.Is(err, domain.ErrProductNotFound):
		return http.StatusNotFound
	case errors.Is(err, domain.ErrOrderImmutable),
		errors.Is(err, domain.ErrCapacityExceeded),
		errors.Is(err, domain.ErrTimeConflict):
		return http.StatusForbidden
	case domain.IsVersionConflict(err):
		return http.StatusConflict
	case domain.IsInsufficientStock(err):
		return http.StatusBadRequest
	default:
		return http.StatusBadRequest
	}
}

func toOrderResp(order domain.Order) OrderResp {
	items := make([]LineItemReq, 0, len(order.Items))
	for _, it := range order.Items {
		items = append(items, LineItemReq{
			ProductType:            string(it.ProductType),
			ProductID:              it.ProductID,
			Quantity:               it.Quantity,
			AdditionalRequirements: it.AdditionalRequirements,
		})
	}
	return OrderResp{
		ID:            order.ID,
		Status:        string(order.Status),
		Items:         items,
		CustomerID:    order.CustomerID,
		ReservationID: order.ReservationID,
		TotalCost:     order.TotalCost,
		VoucherID:     order.VoucherID,
		Version:       order.Version,
		CreatedAt:     order.CreatedAt,
		UpdatedAt:     order.UpdatedAt,
	}
}

func toLineItems(items []LineItemReq) []domain.LineItem {
	if items == nil {
		return nil
	}
	out := make([]domain.LineItem, 0, len(items))
	for _, it := range items {
		out = append(out, domain.LineItem{
			ProductType:            domain.ProductType(it.ProductType),
			ProductID:              it.ProductID,
			Quantity:               it.Quantity,
			AdditionalRequirements: it.AdditionalRequirements,
		})
	}
	return out
}

func requestHash(body []byte) string {
	sum := sha256.Sum256(body)
	return hex.EncodeToString(sum[:])
}

func (h *OrdersHandler) createOrder(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		writeError(w, http.StatusBadRequest, errors.New("failed to read request body"))
		return
	}

	var req CreateOrderReq
	if err := json.Unmarshal(body, &req); err != nil {
		writeError(w, http.StatusBadRequest, errors.New("invalid json"))
		return
	}

	idemKey := strings.TrimSpace(r.Header.Get(headerIdempotencyKey))
	if idemKey != "" && h.Idempotency != nil {
		if replayed := h.beginIdempotent(w, idemKey, requestHash(body)); replayed {
			return
		}
	}

	input := lifecycle.CreateOrderInput{
		Status:     domain.OrderStatus(req.Status),
		Items:      toLineItems(req.Items),
		CustomerID: req.CustomerID,
		TotalCost:  req.TotalCost,
		VoucherID:  req.VoucherID,
	}
	if req.Reservation != nil {
		input.Reservation = &lifecycle.ReservationInput{
			StartTime:     req.Reservation.StartTime,
			DurationHours: req.Reservation.DurationHours,
			AreaID:        req.Reservation.AreaID,
			PartySize:     req.Reservation.PartySize,
		}
	}

	order, err := h.Engine.CreateOrder(input)
	if err != nil {
		code := statusForError(err)
		h.finishIdempotent(idemKey, map[string]string{"error": err.Error()}, code, false)
		writeError(w, code, err)
		return
	}

	resp := toOrderResp(order)
	if err := h.Cache.Set(r.Context(), order.ID, string(order.Status), order.UpdatedAt); err != nil {
		h.log().WithError(err).WithField("order_id", order.ID).Warn("failed to cache order status")
	}
	h.finishIdempotent(idemKey, resp, http.StatusCreated, true)
	writeJSON(w, http.StatusCreated, resp)
}

// beginIdempotent регистрирует ключ идемпотентности. Возвращает true, если
// ответ уже отправлен (повтор или конфликт) и обработку надо прекратить.
func (h *OrdersHandler) beginIdempotent(w http.ResponseWriter, key, hash string) bool {
	_, err := h.Idempotency.CreateProcessing(key, hash, time.Now().UTC().Add(idempotencyTTL))
	if err == nil {
		return false
	}

	switch {
	case errors.Is(err, domain.ErrIdempotencyHashMismatch):
		writeError(w, http.StatusConflict, err)
		return true
	case errors.Is(err, domain.ErrIdempotencyKeyAlreadyExists):
		record, getErr := h.Idempotency.Get(key)
		if getErr != nil {
			writeError(w, http.StatusConflict, err)
			return true
		}
		if record.Status == domain.IdempotencyStatusProcessing {
			writeError(w, http.StatusConflict, errors.New("request with this idempotency key is still being processed"))
			return true
		}
		// Повтор завершённого запроса: отдаём сохранённый ответ как есть.
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(record.HTTPStatus)
		_, _ = w.Write(record.ResponseBody)
		return true
	default:
		h.log().WithError(err).WithField("idempotency_key", key).Warn("failed to register idempotency key")
		return false
	}
}

// finishIdempotent сохраняет итог обработки под ключом идемпотентности.
func (h *OrdersHandler) finishIdempotent(key string, response any, httpStatus int, success bool) {
	if key == "" || h.Idempotency == nil {
		return
	}

	body, err := json.Marshal(response)
	if err != nil {
		h.log().WithError(err).WithField("idempotency_key", key).Warn("failed to marshal idempotent response")
		return
	}

	if success {
		err = h.Idempotency.MarkDone(key, body, httpStatus)
	} else {
		err = h.Idempotency.MarkFailed(key, body, httpStatus)
	}
	if err != nil {
		h.log().WithError(err).WithField("idempotency_key", key).Warn("failed to finalize idempotency key")
	}
}

func (h *OrdersHandler) listOrders(w http.ResponseWriter, r *http.Request) {
	filter := domain.OrderFilter{
		CustomerID: r.URL.Query().Get("customer_id"),
	}
	for _, raw := range r.URL.Query()["status"] {
		// "history" — агрегат терминальных статусов для ленты прошлых заказов.
		if raw == "history" {
			filter.Statuses = append(filter.Statuses, domain.OrderStatusCompleted, domain.OrderStatusCancelled)
			continue
		}
		status := domain.OrderStatus(raw)
		if !status.Valid() {
			writeError(w, http.StatusBadRequest, domain.ErrInvalidStatus)
			return
		}
		filter.Statuses = append(filter.Statuses, status)
	}
	if raw := r.URL.Query().Get("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil || limit < 0 {
			writeError(w, http.StatusBadRequest, errors.New("limit must be a non-negative integer"))
			return
		}
		filter.Limit = limit
	}

	orders, err := h.Engine.ListOrders(filter)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}

	resp := make([]OrderResp, 0, len(orders))
	for _, order := range orders {
		resp = append(resp, toOrderResp(order))
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *OrdersHandler) getOrder(w http.ResponseWriter, r *http.Request) {
	orderID := chi.URLParam(r, "id")

	order, err := h.Engine.GetOrder(orderID)
	if err != nil {
		writeError(w, statusForError(err), err)
		return
	}
	writeJSON(w, http.StatusOK, toOrderResp(order))
}

// getOrderStatus отдаёт статус заказа через read-aside кэш: сначала Redis,
// при промахе — хранилище с обратной записью в кэш.
func (h *OrdersHandler) getOrderStatus(w http.ResponseWriter, r *http.Request) {
	orderID := chi.URLParam(r, "id")

	if entry, hit, err := h.Cache.Get(r.Context(), orderID); err == nil && hit {
		writeJSON(w, http.StatusOK, map[string]any{
			"order_id":   orderID,
			"status":     entry.Status,
			"updated_at": entry.UpdatedAt,
		})
		return
	}

	order, err := h.Engine.GetOrder(orderID)
	if err != nil {
		writeError(w, statusForError(err), err)
		return
	}
	if err := h.Cache.Set(r.Context(), order.ID, string(order.Status), order.UpdatedAt); err != nil {
		h.log().WithError(err).WithField("order_id", order.ID).Warn("failed to cache order status")
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"order_id":   order.ID,
		"status":     string(order.Status),
		"updated_at": order.UpdatedAt,
	})
}

func (h *OrdersHandler) getOrderTimeline(w http.ResponseWriter, r *http.Request) {
	orderID := chi.URLParam(r, "id")

	if _, err := h.Engine.GetOrder(orderID); err != nil {
		writeError(w, statusForError(err), err)
		return
	}

	events, err := h.Timeline.List(orderID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}

	resp := make([]TimelineEventResp, 0, len(events))
	for _, ev := range events {
		resp = append(resp, TimelineEventResp{
			OrderID:  ev.OrderID,
			Type:     ev.Type,
			Reason:   ev.Reason,
			Occurred: ev.Occurred,
		})
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *OrdersHandler) editOrder(w http.ResponseWriter, r *http.Request) {
	orderID := chi.URLParam(r, "id")

	var req EditOrderReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, errors.New("invalid json"))
		return
	}

	patch := lifecycle.EditOrderInput{
		Items:     toLineItems(req.Items),
		TotalCost: req.TotalCost,
		VoucherID: req.VoucherID,
		Reason:    req.Reason,
	}
	if req.Status != nil {
		status := domain.OrderStatus(*req.Status)
		patch.Status = &status
	}

	order, err := h.Engine.EditOrder(orderID, patch, r.Header.Get(headerActingStaff))
	if err != nil {
		writeError(w, statusForError(err), err)
		return
	}

	if err := h.Cache.Set(r.Context(), order.ID, string(order.Status), order.UpdatedAt); err != nil {
		h.log().WithError(err).WithField("order_id", order.ID).Warn("failed to cache order status")
	}
	writeJSON(w, http.StatusOK, toOrderResp(order))
}

func (h *OrdersHandler) deleteOrder(w http.ResponseWriter, r *http.Request) {
	orderID := chi.URLParam(r, "id")

	order, err := h.Engine.DeleteOrder(orderID)
	if err != nil {
		writeError(w, statusForError(err), err)
		return
	}

	if err := h.Cache.Invalidate(r.Context(), order.ID); err != nil {
		h.log().WithError(err).WithField("order_id", order.ID).Warn("failed to invalidate order status cache")
	}
	writeJSON(w, http.StatusOK, toOrderResp(order))
}

func (h *OrdersHandler) log() *log.Entry {
	if h.Logger != nil {
		return h.Logger
	}
	return log.NewEntry(log.StandardLogger())
}
