package lifecycle

import (
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/bookcafe/internal/domain"
	"github.com/vladislavdragonenkov/bookcafe/internal/messaging/kafka"
	"github.com/vladislavdragonenkov/bookcafe/internal/metrics"
	"github.com/vladislavdragonenkov/bookcafe/internal/service/stock"
)

const (
	maxSaveRetries = 3
	saveRetryBase  = 10 * time.Millisecond
)

// Stores группирует хранилища, с которыми работает движок.
type Stores struct {
	Orders       domain.OrderRepository
	Reservations domain.ReservationRepository
	Areas        domain.AreaRepository
	Customers    domain.CustomerRepository
	Staff        domain.StaffRepository
	Outbox       domain.OutboxRepository
	Timeline     domain.TimelineRepository
}

// Engine — машина состояний жизненного цикла заказа. Координирует протокол
// резервирования остатков, детектор конфликтов времени и пересчёт лояльности,
// поддерживая согласованность перекрёстных ссылок между сущностями.
//
// Глобальной блокировки нет: каждая операция — независимая единица работы,
// согласованность конкурентных изменений обеспечивается построчной
// атомарностью хранилищ и optimistic locking. Начатая последовательность
// записей при сбое не откатывается: частичный результат логируется и виден
// в timeline заказа для ручной сверки.
type Engine struct {
	stores        Stores
	stock         *stock.Protocol
	logger        *log.Entry
	metrics       *metrics.LifecycleMetrics
	kafkaProducer kafka.Publisher // опциональный producer для event-driven интеграций
}

// NewEngine создаёт рабочий экземпляр движка.
func NewEngine(stores Stores, stockProtocol *stock.Protocol, logger *log.Entry) *Engine {
	if logger == nil {
		logger = log.New().WithField("component", "lifecycle")
	}
	engine := &Engine{
		stores:  stores,
		stock:   stockProtocol,
		logger:  logger,
		metrics: metrics.NewLifecycleMetrics(),
	}
	if stockProtocol != nil {
		stockProtocol.OnVersionRetry(engine.metrics.RecordStockRetry)
	}
	return engine
}

// NewEngineWithKafka создаёт движок, публикующий события заказов в Kafka.
func NewEngineWithKafka(stores Stores, stockProtocol *stock.Protocol, producer kafka.Publisher, logger *log.Entry) *Engine {
	engine := NewEngine(stores, stockProtocol, logger)
	engine.kafkaProducer = producer
	return engine
}

// NewEngineWithoutMetrics создаёт движок без метрик (для тестов).
func NewEngineWithoutMetrics(stores Stores, stockProtocol *stock.Protocol, logger *log.Entry) *Engine {
	if logger == nil {
		logger = log.New().WithField("component", "lifecycle")
	}
	return &Engine{
		stores: stores,
		stock:  stockProtocol,
		logger: logger,
	}
}

// ReservationInput — данные брони в запросе на создание dine-in заказа.
type ReservationInput struct {
	StartTime     time.Time
	DurationHours float64
	AreaID        string
	PartySize     int
}

// CreateOrderInput — запрос на создание заказа.
type CreateOrderInput struct {
	Status      domain.OrderStatus
	Items       []domain.LineItem
	CustomerID  string
	TotalCost   float64
	VoucherID   string
	Reservation *ReservationInput
}

// EditOrderInput — частичное изменение заказа. nil-поля не трогаются;
// Items == nil означает "список позиций не меняется". Reason — необязательное
// пояснение правки или отмены, попадает в timeline заказа.
type EditOrderInput struct {
	Status    *domain.OrderStatus
	Items     []domain.LineItem
	TotalCost *float64
	VoucherID *string
	Reason    string
}

// GetOrder возвращает заказ по идентификатору.
func (e *Engine) GetOrder(orderID string) (domain.Order, error) {
	return e.stores.Orders.Get(orderID)
}

// ListOrders возвращает заказы, проходящие фильтр.
func (e *Engine) ListOrders(filter domain.OrderFilter) ([]domain.Order, error) {
	return e.stores.Orders.List(filter)
}

// CreateOrder валидирует запрос целиком (статус, остатки, вместимость,
// конфликты времени) и только затем фиксирует изменения: списания остатков,
// бронь, ссылки зоны и клиента.
func (e *Engine) CreateOrder(input CreateOrderInput) (domain.Order, error) {
	start := time.Now()
	defer func() {
		if e.metrics != nil {
			e.metrics.RecordOperationDuration("create", time.Since(start))
		}
	}()

	if input.Status != domain.OrderStatusProcessing {
		e.reject("invalid_status")
		return domain.Order{}, domain.ErrInvalidStatus
	}

	now := time.Now().UTC()
	order := domain.Order{
		ID:         uuid.NewString(),
		Items:      input.Items,
		Status:     domain.OrderStatusProcessing,
		CustomerID: input.CustomerID,
		TotalCost:  input.TotalCost,
		VoucherID:  input.VoucherID,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if errs := order.ValidateInvariants(); len(errs) > 0 {
		e.reject("invalid_payload")
		return domain.Order{}, errors.Join(errs...)
	}

	// Вся валидация до первой мутации: бронь проверяется раньше, чем
	// списываются остатки, чтобы отказ не оставлял следов.
	var reservation *domain.Reservation
	var area domain.Area
	if input.Reservation != nil {
		draft := domain.Reservation{
			ID:            uuid.NewString(),
			AreaID:        input.Reservation.AreaID,
			OrderID:       order.ID,
			StartTime:     input.Reservation.StartTime,
			DurationHours: input.Reservation.DurationHours,
			PartySize:     input.Reservation.PartySize,
			Status:        domain.ReservationStatusPending,
			CreatedAt:     now,
			UpdatedAt:     now,
		}
		if errs := draft.Validate(); len(errs) > 0 {
			e.reject("invalid_payload")
			return domain.Order{}, errors.Join(errs...)
		}

		var err error
		area, err = e.stores.Areas.Get(draft.AreaID)
		if err != nil {
			e.reject("area_not_found")
			return domain.Order{}, err
		}
		if draft.PartySize > area.Capacity {
			e.reject("capacity_exceeded")
			return domain.Order{}, domain.ErrCapacityExceeded
		}
		if err := e.checkTimeConflicts(&area, &draft); err != nil {
			e.reject("time_conflict")
			return domain.Order{}, err
		}

		reservation = &draft
		order.ReservationID = draft.ID
	}

	if err := e.stock.Reserve(order.Items, nil); err != nil {
		if domain.IsInsufficientStock(err) {
			e.reject("insufficient_stock")
			e.publishOrderEvent(kafka.EventTypeStockRejected, &order, map[string]interface{}{
				"reason": err.Error(),
			})
		}
		return domain.Order{}, err
	}

	// Дальше начинаются перекрёстные записи; они не откатываются.
	if reservation != nil {
		if err := e.stores.Reservations.Create(*reservation); err != nil {
			e.logger.WithError(err).WithField("order_id", order.ID).Error("failed to persist reservation after stock commit")
			return domain.Order{}, err
		}
		area.AddReservation(reservation.ID)
		if err := e.stores.Areas.Save(area); err != nil {
			e.logger.WithError(err).WithFields(log.Fields{
				"order_id": order.ID,
				"area_id":  area.ID,
			}).Error("failed to attach reservation to area")
			return domain.Order{}, err
		}
	}

	if err := e.stores.Orders.Create(order); err != nil {
		e.logger.WithError(err).WithField("order_id", order.ID).Error("failed to persist order")
		return domain.Order{}, err
	}

	if order.CustomerID != "" {
		e.attachOpenOrder(&order)
	}

	if e.metrics != nil {
		e.metrics.RecordOrderCreated()
	}
	e.emitEvent(&order, "OrderCreated", map[string]interface{}{
		"status": string(order.Status),
		"ts":     order.CreatedAt.Format(time.RFC3339Nano),
	})
	e.publishOrderEvent(kafka.EventTypeOrderCreated, &order, map[string]interface{}{
		"items_count": len(order.Items),
		"total_cost":  order.TotalCost,
	})

	return order, nil
}

// checkTimeConflicts прогоняет черновик брони через все активные брони зоны.
func (e *Engine) checkTimeConflicts(area *domain.Area, draft *domain.Reservation) error {
	for _, id := range area.ReservationIDs {
		existing, err := e.stores.Reservations.Get(id)
		if err != nil {
			if errors.Is(err, domain.ErrReservationNotFound) {
				// Висячая ссылка после частичного сбоя: логируем и пропускаем.
				e.logger.WithFields(log.Fields{
					"area_id":        area.ID,
					"reservation_id": id,
				}).Warn("area references missing reservation")
				continue
			}
			return err
		}
		if !existing.Active() {
			continue
		}
		if draft.ConflictsWith(&existing) {
			return domain.ErrTimeConflict
		}
	}
	return nil
}

// attachOpenOrder переключает ссылку клиента на открытый заказ.
// Существующая ссылка молча перезаписывается; факт перезаписи логируется.
func (e *Engine) attachOpenOrder(order *domain.Order) {
	err := e.updateCustomer(order.CustomerID, func(customer *domain.Customer) {
		if customer.OrderID != "" && customer.OrderID != order.ID {
			e.logger.WithFields(log.Fields{
				"customer_id":    customer.ID,
				"previous_order": customer.OrderID,
				"order_id":       order.ID,
			}).Warn("customer already has an open order, reference overwritten")
		}
		customer.OrderID = order.ID
	})
	if err != nil {
		e.logger.WithError(err).WithFields(log.Fields{
			"order_id":    order.ID,
			"customer_id": order.CustomerID,
		}).Error("failed to set customer open order reference")
	}
}

// EditOrder применяет частичное изменение к заказу в статусе processing и
// выполняет сопутствующие переходы: дельты остатков, статус брони, историю
// сотрудника, ссылку и лояльность клиента.
func (e *Engine) EditOrder(orderID string, patch EditOrderInput, actingStaffID string) (domain.Order, error) {
	start := time.Now()
	defer func() {
		if e.metrics != nil {
			e.metrics.RecordOperationDuration("edit", time.Since(start))
		}
	}()

	order, err := e.stores.Orders.Get(orderID)
	if err != nil {
		e.reject("order_not_found")
		return domain.Order{}, err
	}
	if order.Status.Terminal() {
		e.reject("order_immutable")
		return domain.Order{}, domain.ErrOrderImmutable
	}

	targetStatus := order.Status
	if patch.Status != nil {
		if !patch.Status.Valid() {
			e.reject("invalid_status")
			return domain.Order{}, domain.ErrInvalidStatus
		}
		targetStatus = *patch.Status
	}
	if patch.TotalCost != nil && *patch.TotalCost < 0 {
		e.reject("invalid_payload")
		return domain.Order{}, domain.ErrTotalCostNegative
	}

	// Изменение списка позиций при остающемся processing проходит через
	// протокол резервирования: дельты считаются против ранее
	// зафиксированных количеств, отказ не имеет побочных эффектов.
	if patch.Items != nil && targetStatus == domain.OrderStatusProcessing {
		if err := e.stock.Reserve(patch.Items, order.Items); err != nil {
			if domain.IsInsufficientStock(err) {
				e.reject("insufficient_stock")
				e.publishOrderEvent(kafka.EventTypeStockRejected, &order, map[string]interface{}{
					"reason": err.Error(),
				})
			}
			return domain.Order{}, err
		}
	}

	applyPatch := func(o *domain.Order) {
		if patch.Items != nil {
			o.Items = patch.Items
		}
		if patch.TotalCost != nil {
			o.TotalCost = *patch.TotalCost
		}
		if patch.VoucherID != nil {
			o.VoucherID = *patch.VoucherID
		}
		o.Status = targetStatus
		o.PruneEmptyItems()
		o.UpdatedAt = time.Now().UTC()
	}
	if err := e.saveOrder(&order, applyPatch); err != nil {
		return domain.Order{}, err
	}

	switch targetStatus {
	case domain.OrderStatusCancelled:
		e.compensateCancellation(&order)
	case domain.OrderStatusCompleted:
		e.confirmReservation(&order)
	}

	if targetStatus.Terminal() {
		e.recordHandledOrder(&order, actingStaffID)
		e.settleCustomer(&order, targetStatus)

		if e.metrics != nil {
			if targetStatus == domain.OrderStatusCompleted {
				e.metrics.RecordOrderCompleted()
			} else {
				e.metrics.RecordOrderCancelled()
			}
		}
	}

	eventType := kafka.EventTypeOrderEdited
	timelineType := "OrderEdited"
	switch targetStatus {
	case domain.OrderStatusCompleted:
		eventType = kafka.EventTypeOrderCompleted
		timelineType = "OrderCompleted"
	case domain.OrderStatusCancelled:
		eventType = kafka.EventTypeOrderCancelled
		timelineType = "OrderCancelled"
	}
	editPayload := map[string]interface{}{
		"status":     string(order.Status),
		"updated_at": order.UpdatedAt.Format(time.RFC3339Nano),
		"ts":         order.UpdatedAt.Format(time.RFC3339Nano),
	}
	if patch.Reason != "" {
		editPayload["reason"] = patch.Reason
	}
	e.emitEvent(&order, timelineType, editPayload)
	e.publishOrderEvent(eventType, &order, map[string]interface{}{
		"items_count": len(order.Items),
		"total_cost":  order.TotalCost,
	})

	return order, nil
}

// compensateCancellation возвращает остатки и гасит бронь отменённого заказа.
// Возвраты применяются безусловно, без валидационного барьера.
func (e *Engine) compensateCancellation(order *domain.Order) {
	if err := e.stock.Release(order.Items); err != nil {
		e.logger.WithError(err).WithField("order_id", order.ID).Error("failed to restore stock on cancellation")
	}

	if order.ReservationID == "" {
		return
	}

	reservation, err := e.stores.Reservations.Get(order.ReservationID)
	if err != nil {
		e.logger.WithError(err).WithFields(log.Fields{
			"order_id":       order.ID,
			"reservation_id": order.ReservationID,
		}).Error("failed to load reservation for cancellation")
		return
	}

	reservation.Status = domain.ReservationStatusCancelled
	reservation.UpdatedAt = time.Now().UTC()
	if err := e.stores.Reservations.Save(reservation); err != nil {
		e.logger.WithError(err).WithField("reservation_id", reservation.ID).Error("failed to cancel reservation")
	}

	err = e.updateArea(reservation.AreaID, func(area *domain.Area) {
		area.RemoveReservation(reservation.ID)
	})
	if err != nil {
		e.logger.WithError(err).WithFields(log.Fields{
			"area_id":        reservation.AreaID,
			"reservation_id": reservation.ID,
		}).Error("failed to prune reservation from area")
	}
}

// confirmReservation помечает бронь завершённого заказа подтверждённой.
func (e *Engine) confirmReservation(order *domain.Order) {
	if order.ReservationID == "" {
		return
	}

	reservation, err := e.stores.Reservations.Get(order.ReservationID)
	if err != nil {
		e.logger.WithError(err).WithFields(log.Fields{
			"order_id":       order.ID,
			"reservation_id": order.ReservationID,
		}).Error("failed to load reservation for confirmation")
		return
	}

	reservation.Status = domain.ReservationStatusConfirmed
	reservation.UpdatedAt = time.Now().UTC()
	if err := e.stores.Reservations.Save(reservation); err != nil {
		e.logger.WithError(err).WithField("reservation_id", reservation.ID).Error("failed to confirm reservation")
	}
}

// recordHandledOrder дописывает заказ в историю обработанных заказов
// сотрудника, закрывшего заказ.
func (e *Engine) recordHandledOrder(order *domain.Order, actingStaffID string) {
	if actingStaffID == "" {
		return
	}

	for attempt := 0; attempt < maxSaveRetries; attempt++ {
		staff, err := e.stores.Staff.Get(actingStaffID)
		if err != nil {
			e.logger.WithError(err).WithFields(log.Fields{
				"order_id": order.ID,
				"staff_id": actingStaffID,
			}).Error("failed to load acting staff")
			return
		}
		staff.HandledOrders = append(staff.HandledOrders, order.ID)
		staff.UpdatedAt = time.Now().UTC()

		saveErr := e.stores.Staff.Save(staff)
		if saveErr == nil {
			return
		}
		if !domain.IsVersionConflict(saveErr) {
			e.logger.WithError(saveErr).WithField("staff_id", actingStaffID).Error("failed to record handled order")
			return
		}
		time.Sleep(saveRetryBase * time.Duration(1<<uint(attempt)))
	}

	e.logger.WithField("staff_id", actingStaffID).Error("failed to record handled order after retries")
}

// settleCustomer закрывает ссылку клиента на заказ, дописывает историю и —
// только при завершении — начисляет лояльность.
func (e *Engine) settleCustomer(order *domain.Order, targetStatus domain.OrderStatus) {
	if order.CustomerID == "" {
		return
	}

	err := e.updateCustomer(order.CustomerID, func(customer *domain.Customer) {
		customer.OrderID = ""
		customer.OrderHistory = append(customer.OrderHistory, order.ID)
		if targetStatus == domain.OrderStatusCompleted {
			customer.AccrueLoyalty(order.TotalCost)
		}
		customer.UpdatedAt = time.Now().UTC()
	})
	if err != nil {
		e.logger.WithError(err).WithFields(log.Fields{
			"order_id":    order.ID,
			"customer_id": order.CustomerID,
		}).Error("failed to settle customer after terminal transition")
		return
	}

	if targetStatus == domain.OrderStatusCompleted {
		e.publishOrderEvent(kafka.EventTypeLoyaltyAccrued, order, map[string]interface{}{
			"points": int64(order.TotalCost),
		})
	}
}

// DeleteOrder безусловно удаляет заказ. Остатки и бронь не восстанавливаются —
// это отличает удаление от отмены; для компенсаций заказ нужно сперва отменить.
func (e *Engine) DeleteOrder(orderID string) (domain.Order, error) {
	start := time.Now()
	defer func() {
		if e.metrics != nil {
			e.metrics.RecordOperationDuration("delete", time.Since(start))
		}
	}()

	order, err := e.stores.Orders.Delete(orderID)
	if err != nil {
		e.reject("order_not_found")
		return domain.Order{}, err
	}

	if order.Status == domain.OrderStatusProcessing && len(order.Items) > 0 {
		e.logger.WithField("order_id", order.ID).Warn("deleted processing order still holds committed stock")
	}

	if order.CustomerID != "" {
		err := e.updateCustomer(order.CustomerID, func(customer *domain.Customer) {
			if customer.OrderID == order.ID {
				customer.OrderID = ""
			}
		})
		if err != nil {
			e.logger.WithError(err).WithFields(log.Fields{
				"order_id":    order.ID,
				"customer_id": order.CustomerID,
			}).Error("failed to clear customer open order reference")
		}
	}

	if e.metrics != nil {
		e.metrics.RecordOrderDeleted()
	}
	e.emitEvent(&order, "OrderDeleted", map[string]interface{}{
		"status": string(order.Status),
		"ts":     time.Now().UTC().Format(time.RFC3339Nano),
	})
	e.publishOrderEvent(kafka.EventTypeOrderDeleted, &order, nil)

	return order, nil
}

// saveOrder сохраняет заказ с retry при конфликте версий: свежая версия
// перечитывается, мутация применяется заново, попытки ограничены.
func (e *Engine) saveOrder(order *domain.Order, mutate func(*domain.Order)) error {
	for attempt := 0; attempt < maxSaveRetries; attempt++ {
		mutate(order)
		prevVersion := order.Version

		err := e.stores.Orders.Save(*order)
		if err == nil {
			order.Version = prevVersion + 1
			return nil
		}
		if !domain.IsVersionConflict(err) || attempt == maxSaveRetries-1 {
			e.logger.WithError(err).WithFields(log.Fields{
				"order_id": order.ID,
				"attempt":  attempt + 1,
			}).Error("failed to persist order")
			return err
		}

		e.logger.WithFields(log.Fields{
			"order_id": order.ID,
			"attempt":  attempt + 1,
			"version":  order.Version,
		}).Warn("order version conflict detected, retrying")

		fresh, loadErr := e.stores.Orders.Get(order.ID)
		if loadErr != nil {
			e.logger.WithError(loadErr).WithField("order_id", order.ID).Error("failed to reload order after conflict")
			return loadErr
		}
		if fresh.Status.Terminal() {
			// Конкурентная операция успела закрыть заказ.
			return domain.ErrOrderImmutable
		}
		*order = fresh

		time.Sleep(saveRetryBase * time.Duration(1<<uint(attempt)))
	}

	return domain.ErrVersionConflict
}

// updateCustomer применяет мутацию к клиенту с retry при конфликте версий.
func (e *Engine) updateCustomer(customerID string, mutate func(*domain.Customer)) error {
	var lastErr error
	for attempt := 0; attempt < maxSaveRetries; attempt++ {
		customer, err := e.stores.Customers.Get(customerID)
		if err != nil {
			return err
		}
		mutate(&customer)

		lastErr = e.stores.Customers.Save(customer)
		if lastErr == nil {
			return nil
		}
		if !domain.IsVersionConflict(lastErr) {
			return lastErr
		}
		time.Sleep(saveRetryBase * time.Duration(1<<uint(attempt)))
	}
	return lastErr
}

// updateArea применяет мутацию к зоне с retry при конфликте версий.
func (e *Engine) updateArea(areaID string, mutate func(*domain.Area)) error {
	var lastErr error
	for attempt := 0; attempt < maxSaveRetries; attempt++ {
		area, err := e.stores.Areas.Get(areaID)
		if err != nil {
			return err
		}
		mutate(&area)

		lastErr = e.stores.Areas.Save(area)
		if lastErr == nil {
			return nil
		}
		if !domain.IsVersionConflict(lastErr) {
			return lastErr
		}
		time.Sleep(saveRetryBase * time.Duration(1<<uint(attempt)))
	}
	return lastErr
}

func (e *Engine) reject(reason string) {
	if e.metrics != nil {
		e.metrics.RecordRejection(reason)
	}
}

func (e *Engine) emitEvent(order *domain.Order, eventType string, payload map[string]interface{}) {
	if payload == nil {
		payload = make(map[string]interface{})
	}
	payload["order_id"] = order.ID
	data, err := json.Marshal(payload)
	if err != nil {
		e.logger.WithError(err).WithFields(log.Fields{
			"order_id": order.ID,
			"event":    eventType,
		}).Error("marshal event failed")
		return
	}

	if e.stores.Outbox != nil {
		msg := domain.OutboxMessage{
			AggregateType: "order",
			AggregateID:   order.ID,
			EventType:     eventType,
			Payload:       data,
		}
		if _, err := e.stores.Outbox.Enqueue(msg); err != nil {
			e.logger.WithError(err).WithFields(log.Fields{
				"order_id": order.ID,
				"event":    eventType,
			}).Error("enqueue event failed")
		} else if e.metrics != nil {
			e.metrics.RecordOutboxEvent()
		}
	}

	if e.stores.Timeline != nil {
		occurred := time.Now().UTC()
		if ts, ok := payload["ts"].(string); ok {
			if parsed, parseErr := time.Parse(time.RFC3339Nano, ts); parseErr == nil {
				occurred = parsed
			}
		}
		event := domain.TimelineEvent{
			OrderID:  order.ID,
			Type:     eventType,
			Occurred: occurred,
		}
		if reason, ok := payload["reason"].(string); ok {
			event.Reason = reason
		}
		if err := e.stores.Timeline.Append(event); err != nil {
			e.logger.WithError(err).WithFields(log.Fields{
				"order_id": order.ID,
				"event":    eventType,
			}).Warn("append timeline event failed")
		} else if e.metrics != nil {
			e.metrics.RecordTimelineEvent()
		}
	}
}

// publishOrderEvent публикует событие заказа в Kafka (если producer настроен).
func (e *Engine) publishOrderEvent(eventType kafka.EventType, order *domain.Order, metadata map[string]interface{}) {
	if e.kafkaProducer == nil {
		return
	}

	event := kafka.NewOrderEvent(eventType, order.ID, order.CustomerID, string(order.Status), metadata)
	if err := e.kafkaProducer.PublishEvent(kafka.TopicOrderEvents, order.ID, event); err != nil {
		// Логируем ошибку, но не прерываем операцию: Kafka опциональна.
		e.logger.WithError(err).WithFields(log.Fields{
			"event_type": eventType,
			"order_id":   order.ID,
		}).Warn("failed to publish order event to kafka")
	}
}
