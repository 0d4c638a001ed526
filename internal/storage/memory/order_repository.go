package memory

import (
	"sort"
	"sync"

	"github.com/vladislavdragonenkov/bookcafe/internal/domain"
)

// orderStoreInMemory — in-memory реализация OrderRepository с той же
// семантикой версий, что и у PostgreSQL-варианта.
type orderStoreInMemory struct {
	mu     sync.RWMutex
	orders map[string]domain.Order
}

// NewOrderRepository возвращает in-memory репозиторий для локальной разработки и тестов.
func NewOrderRepository() domain.OrderRepository {
	return &orderStoreInMemory{
		orders: make(map[string]domain.Order),
	}
}

var _ domain.OrderRepository = (*orderStoreInMemory)(nil)

func (r *orderStoreInMemory) Create(order domain.Order) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, taken := r.orders[order.ID]; taken {
		return domain.ErrVersionConflict
	}
	r.orders[order.ID] = detachOrder(order)
	return nil
}

func (r *orderStoreInMemory) Get(id string) (domain.Order, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	order, ok := r.orders[id]
	if !ok {
		return domain.Order{}, domain.ErrOrderNotFound
	}
	return detachOrder(order), nil
}

// List отдаёт заказы, проходящие фильтр, от новых к старым.
func (r *orderStoreInMemory) List(filter domain.OrderFilter) ([]domain.Order, error) {
	r.mu.RLock()
	matched := make([]domain.Order, 0, len(r.orders))
	for _, order := range r.orders {
		if filter.Matches(order) {
			matched = append(matched, detachOrder(order))
		}
	}
	r.mu.RUnlock()

	sort.Slice(matched, func(i, j int) bool {
		if !matched[i].CreatedAt.Equal(matched[j].CreatedAt) {
			return matched[i].CreatedAt.After(matched[j].CreatedAt)
		}
		return matched[i].ID > matched[j].ID
	})

	if filter.Limit > 0 && len(matched) > filter.Limit {
		matched = matched[:filter.Limit]
	}
	return matched, nil
}

// Save перезаписывает заказ. Несовпадение версии означает параллельное
// сохранение и отклоняется, как и в SQL-варианте.
func (r *orderStoreInMemory) Save(order domain.Order) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	current, ok := r.orders[order.ID]
	if !ok {
		return domain.ErrOrderNotFound
	}
	if current.Version != order.Version {
		return domain.ErrVersionConflict
	}

	order.Version++
	r.orders[order.ID] = detachOrder(order)
	return nil
}

// Delete удаляет заказ и возвращает его последнее состояние.
func (r *orderStoreInMemory) Delete(id string) (domain.Order, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	order, ok := r.orders[id]
	if !ok {
		return domain.Order{}, domain.ErrOrderNotFound
	}
	delete(r.orders, id)
	return order, nil
}

// detachOrder копирует срез позиций, чтобы хранилище и вызывающий
// не делили память.
func detachOrder(order domain.Order) domain.Order {
	order.Items = append([]domain.LineItem(nil), order.Items...)
	return order
}
