package domain

import "time"

// OrderStatus описывает жизненный цикл заказа.
type OrderStatus string

const (
	// OrderStatusProcessing — заказ создан и ещё обрабатывается персоналом.
	OrderStatusProcessing OrderStatus = "processing"
	// OrderStatusCompleted — заказ завершён; терминальный статус.
	OrderStatusCompleted OrderStatus = "completed"
	// OrderStatusCancelled — заказ отменён; терминальный статус.
	OrderStatusCancelled OrderStatus = "cancelled"
)

// Valid проверяет, что статус относится к поддерживаемым значениям.
func (s OrderStatus) Valid() bool {
	switch s {
	case OrderStatusProcessing, OrderStatusCompleted, OrderStatusCancelled:
		return true
	default:
		return false
	}
}

// Terminal сообщает, является ли статус конечным. Из терминального статуса
// переходы запрещены, заказ становится неизменяемым.
func (s OrderStatus) Terminal() bool {
	return s == OrderStatusCompleted || s == OrderStatusCancelled
}

// LineItem представляет одну позицию заказа.
type LineItem struct {
	// ProductType определяет, в каком хранилище искать товар.
	ProductType ProductType
	// ProductID — идентификатор товара в хранилище своего типа.
	ProductID string
	// Quantity — количество единиц товара.
	Quantity int
	// AdditionalRequirements — свободный комментарий клиента к позиции.
	AdditionalRequirements string
}

// Order агрегирует состояние заказа и его позиции.
// Позиции принадлежат заказу и живут вместе с ним; ссылки на клиента и
// резервирование — обычные идентификаторы, обе стороны связи обновляются
// явно внутри перехода, который её создаёт или разрывает.
type Order struct {
	ID            string
	Items         []LineItem
	Status        OrderStatus
	CustomerID    string
	ReservationID string
	TotalCost     float64
	VoucherID     string
	Version       int64
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// ValidateInvariants проверяет базовые инварианты заказа и возвращает список замечаний.
func (o *Order) ValidateInvariants() []error {
	var errs []error

	if !o.Status.Valid() {
		errs = append(errs, ErrInvalidStatus)
	}
	if o.TotalCost < 0 {
		errs = append(errs, ErrTotalCostNegative)
	}

	for _, item := range o.Items {
		if !item.ProductType.Valid() {
			errs = append(errs, ErrUnknownProductType)
		}
		if item.ProductID == "" {
			errs = append(errs, ErrProductIDRequired)
		}
		if item.Quantity <= 0 {
			errs = append(errs, ErrItemQuantityInvalid)
		}
	}

	return errs
}

// ItemQuantity возвращает зафиксированное количество по товару или 0,
// если такой позиции в заказе нет. Используется протоколом резервирования
// для вычисления дельты при редактировании.
func (o *Order) ItemQuantity(productType ProductType, productID string) (int, bool) {
	for _, item := range o.Items {
		if item.ProductType == productType && item.ProductID == productID {
			return item.Quantity, true
		}
	}
	return 0, false
}

// PruneEmptyItems убирает позиции с нулевым или отрицательным количеством.
// Возвращает true, если хотя бы одна позиция была удалена.
func (o *Order) PruneEmptyItems() bool {
	kept := o.Items[:0]
	pruned := false
	for _, item := range o.Items {
		if item.Quantity > 0 {
			kept = append(kept, item)
		} else {
			pruned = true
		}
	}
	o.Items = kept
	return pruned
}
