package domain

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrInvalidStatus возвращается на запрос создания заказа не в статусе processing.
	ErrInvalidStatus = errors.New("order status must be processing")
	// ErrOrderNotFound возвращается, если заказ не найден в репозитории.
	ErrOrderNotFound = errors.New("order not found")
	// ErrOrderImmutable — попытка изменить заказ в терминальном статусе.
	ErrOrderImmutable = errors.New("can not make changes to completed or cancelled order")
	// ErrCapacityExceeded — размер компании превышает вместимость зоны.
	ErrCapacityExceeded = errors.New("not enough capacity")
	// ErrTimeConflict — интервал брони пересекается с существующей бронью зоны.
	ErrTimeConflict = errors.New("time conflict")
	// ErrVersionConflict сигнализирует о конфликте версий при сохранении записи.
	ErrVersionConflict = errors.New("record version conflict")

	// Ошибки отсутствия записей во внешних хранилищах.
	ErrReservationNotFound = errors.New("reservation not found")
	ErrAreaNotFound        = errors.New("area not found")
	ErrCustomerNotFound    = errors.New("customer not found")
	ErrStaffNotFound       = errors.New("staff not found")
	ErrProductNotFound     = errors.New("product not found")

	// ErrUnknownProductType — тег типа товара не зарегистрирован в реестре.
	ErrUnknownProductType = errors.New("unknown product type")
	// ErrProductIDRequired — в позиции заказа не указан товар.
	ErrProductIDRequired = errors.New("line item product id is required")
	// ErrItemQuantityInvalid — количество в позиции должно быть положительным.
	ErrItemQuantityInvalid = errors.New("line item quantity must be greater than zero")
	// ErrTotalCostNegative — итоговая стоимость заказа не может быть отрицательной.
	ErrTotalCostNegative = errors.New("total cost must be non-negative")
	// ErrAreaIDRequired — в брони не указана зона.
	ErrAreaIDRequired = errors.New("reservation area id is required")
	// ErrStartTimeRequired — в брони не указано время начала.
	ErrStartTimeRequired = errors.New("reservation start time is required")
	// ErrDurationInvalid — длительность брони должна быть положительной.
	ErrDurationInvalid = errors.New("reservation duration must be greater than zero")
	// ErrPartySizeInvalid — размер компании должен быть положительным.
	ErrPartySizeInvalid = errors.New("reservation party size must be greater than zero")
	// ErrOutboxPublish — ошибка при публикации сообщения из outbox.
	ErrOutboxPublish = errors.New("outbox publish failed")
)

// InsufficientProduct описывает один товар, по которому не хватило остатка.
type InsufficientProduct struct {
	ProductType ProductType
	ProductID   string
	Name        string
	Remaining   int
}

// InsufficientStockError агрегирует все недостачи одной операции: протокол
// резервирования сначала собирает их по всему списку позиций и только потом
// отклоняет операцию целиком одним сообщением.
type InsufficientStockError struct {
	Products []InsufficientProduct
}

// Error форматирует недостачи в одно сообщение вида
// "Out of stock: War and Peace - 3 left, Green Tea - 0 left."
func (e *InsufficientStockError) Error() string {
	var b strings.Builder
	b.WriteString("Out of stock:")
	for i, p := range e.Products {
		if i > 0 {
			b.WriteString(",")
		}
		fmt.Fprintf(&b, " %s - %d left", p.Name, p.Remaining)
	}
	b.WriteString(".")
	return b.String()
}

// IsInsufficientStock проверяет, является ли ошибка недостачей остатков.
func IsInsufficientStock(err error) bool {
	var target *InsufficientStockError
	return errors.As(err, &target)
}

// IsVersionConflict проверяет, является ли ошибка конфликтом версий.
func IsVersionConflict(err error) bool {
	return errors.Is(err, ErrVersionConflict)
}
