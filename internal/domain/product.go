package domain

import "time"

// ProductType — тег типа товара, определяющий бекенд-хранилище позиции.
type ProductType string

const (
	ProductTypeBooks  ProductType = "books"
	ProductTypeDrinks ProductType = "drinks"
	ProductTypeSnacks ProductType = "snacks"
)

// Valid проверяет, что тип товара известен системе.
func (t ProductType) Valid() bool {
	switch t {
	case ProductTypeBooks, ProductTypeDrinks, ProductTypeSnacks:
		return true
	default:
		return false
	}
}

// Product — запись товара с остатком на складе.
// Счётчик Stock непрерывно мутирует по мере создания, редактирования и
// отмены заказов; Version обеспечивает optimistic locking при записи.
type Product struct {
	ID        string
	Type      ProductType
	Name      string
	Price     float64
	Stock     int
	Version   int64
	CreatedAt time.Time
	UpdatedAt time.Time
}
