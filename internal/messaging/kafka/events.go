package kafka

import "time"

// EventType — тип события заказа в топике.
type EventType string

const (
	// Переходы жизненного цикла.
	EventTypeOrderCreated   EventType = "order.created"
	EventTypeOrderEdited    EventType = "order.edited"
	EventTypeOrderCompleted EventType = "order.completed"
	EventTypeOrderCancelled EventType = "order.cancelled"
	EventTypeOrderDeleted   EventType = "order.deleted"

	// События склада и лояльности.
	EventTypeStockRejected  EventType = "stock.rejected"
	EventTypeLoyaltyAccrued EventType = "loyalty.accrued"
)

// Топики сервиса.
const (
	TopicOrderEvents     = "bookcafe.order.events"
	TopicDeadLetterQueue = "bookcafe.dlq"
)

// OrderEvent — тело события заказа в том виде, в котором оно уходит
// подписчикам.
type OrderEvent struct {
	EventType  EventType              `json:"event_type"`
	OrderID    string                 `json:"order_id"`
	CustomerID string                 `json:"customer_id,omitempty"`
	Status     string                 `json:"status"`
	Timestamp  time.Time              `json:"timestamp"`
	Metadata   map[string]interface{} `json:"metadata,omitempty"`
}

// NewOrderEvent собирает событие с текущей отметкой времени.
func NewOrderEvent(eventType EventType, orderID, customerID, status string, metadata map[string]interface{}) *OrderEvent {
	return &OrderEvent{
		EventType:  eventType,
		OrderID:    orderID,
		CustomerID: customerID,
		Status:     status,
		Timestamp:  time.Now(),
		Metadata:   metadata,
	}
}

// Publisher публикует OrderEvent; за интерфейсом стоит либо настоящий
// producer, либо заглушка в тестах.
type Publisher interface {
	PublishEvent(topic string, key string, event interface{}) error
}
