package domain

import "sync"

// OrderFilter ограничивает выборку заказов.
type OrderFilter struct {
	// Statuses — пустой срез означает "все статусы".
	Statuses []OrderStatus
	// CustomerID — фильтр по клиенту (пустая строка — все клиенты).
	CustomerID string
	// Limit — максимальное число записей (<=0 — без ограничения).
	Limit int
}

// Matches сообщает, проходит ли заказ фильтр.
func (f OrderFilter) Matches(order Order) bool {
	if f.CustomerID != "" && order.CustomerID != f.CustomerID {
		return false
	}
	if len(f.Statuses) == 0 {
		return true
	}
	for _, s := range f.Statuses {
		if order.Status == s {
			return true
		}
	}
	return false
}

// OrderRepository описывает требования к хранилищу заказов.
type OrderRepository interface {
	// Create сохраняет новый заказ. Возвращает ошибку, если запись с таким ID уже существует.
	Create(order Order) error
	// Get возвращает заказ по идентификатору или ErrOrderNotFound, если его нет.
	Get(id string) (Order, error)
	// List возвращает заказы, проходящие фильтр, от новых к старым.
	List(filter OrderFilter) ([]Order, error)
	// Save применяет обновления к заказу с учётом optimistic locking.
	Save(order Order) error
	// Delete удаляет заказ и возвращает его последнее состояние.
	Delete(id string) (Order, error)
}

// ReservationRepository описывает хранилище броней.
type ReservationRepository interface {
	Create(reservation Reservation) error
	Get(id string) (Reservation, error)
	Save(reservation Reservation) error
}

// AreaRepository описывает хранилище зон.
type AreaRepository interface {
	Create(area Area) error
	Get(id string) (Area, error)
	Save(area Area) error
}

// CustomerRepository описывает хранилище клиентов.
type CustomerRepository interface {
	Create(customer Customer) error
	Get(id string) (Customer, error)
	Save(customer Customer) error
}

// StaffRepository описывает хранилище сотрудников.
type StaffRepository interface {
	Create(staff Staff) error
	Get(id string) (Staff, error)
	Save(staff Staff) error
}

// ProductStock — capability-интерфейс хранилища товаров одного типа.
// Save атомарен в пределах одной записи и обязан проверять версию:
// каждая запись остатка обусловлена последним прочитанным значением.
type ProductStock interface {
	FindByID(id string) (Product, error)
	Save(product Product) error
}

// StockRegistry сопоставляет тег типа товара с его хранилищем.
// Новые типы товаров — новые записи реестра, а не новые ветки switch.
type StockRegistry struct {
	mu     sync.RWMutex
	stores map[ProductType]ProductStock
}

// NewStockRegistry создаёт пустой реестр хранилищ товаров.
func NewStockRegistry() *StockRegistry {
	return &StockRegistry{stores: make(map[ProductType]ProductStock)}
}

// Register связывает тип товара с хранилищем.
func (r *StockRegistry) Register(productType ProductType, store ProductStock) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.stores[productType] = store
}

// For возвращает хранилище для типа товара или ErrUnknownProductType.
func (r *StockRegistry) For(productType ProductType) (ProductStock, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	store, ok := r.stores[productType]
	if !ok {
		return nil, ErrUnknownProductType
	}
	return store, nil
}
