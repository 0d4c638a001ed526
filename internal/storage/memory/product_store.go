package memory

import (
	"sync"

	"github.com/vladislavdragonenkov/bookcafe/internal/domain"
)

// productStoreInMemory — in-memory хранилище товаров одного типа.
// Save атомарен в пределах записи и проверяет версию, что даёт
// optimistic locking поверх конкурентных изменений остатка.
type productStoreInMemory struct {
	mu    sync.RWMutex
	items map[string]domain.Product
}

// NewProductStore возвращает in-memory хранилище товаров для локальной
// разработки и тестов. Обычно создаётся по одному на тип товара и
// регистрируется в StockRegistry.
func NewProductStore() *productStoreInMemory {
	return &productStoreInMemory{
		items: make(map[string]domain.Product),
	}
}

// Create сохраняет новый товар, если ID ещё не занят.
func (s *productStoreInMemory) Create(product domain.Product) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.items[product.ID]; exists {
		return domain.ErrVersionConflict
	}
	s.items[product.ID] = product
	return nil
}

// FindByID возвращает товар или ErrProductNotFound, если его нет.
func (s *productStoreInMemory) FindByID(id string) (domain.Product, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	product, ok := s.items[id]
	if !ok {
		return domain.Product{}, domain.ErrProductNotFound
	}
	return product, nil
}

// Save перезаписывает товар, проверяя версию (optimistic locking).
func (s *productStoreInMemory) Save(product domain.Product) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	current, ok := s.items[product.ID]
	if !ok {
		return domain.ErrProductNotFound
	}
	if current.Version != product.Version {
		return domain.ErrVersionConflict
	}
	// Инкрементируем версию перед сохранением.
	product.Version++
	s.items[product.ID] = product
	return nil
}

var _ domain.ProductStock = (*productStoreInMemory)(nil)
