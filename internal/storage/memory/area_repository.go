package memory

import (
	"sync"

	"github.com/vladislavdragonenkov/bookcafe/internal/domain"
)

// areaRepositoryInMemory — in-memory реализация AreaRepository.
type areaRepositoryInMemory struct {
	mu    sync.RWMutex
	items map[string]domain.Area
}

// NewAreaRepository возвращает in-memory репозиторий зон.
func NewAreaRepository() domain.AreaRepository {
	return &areaRepositoryInMemory{
		items: make(map[string]domain.Area),
	}
}

// Create сохраняет новую зону, если ID ещё не занят.
func (r *areaRepositoryInMemory) Create(area domain.Area) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.items[area.ID]; exists {
		return domain.ErrVersionConflict
	}
	area.ReservationIDs = append([]string(nil), area.ReservationIDs...)
	r.items[area.ID] = area
	return nil
}

// Get возвращает зону или ErrAreaNotFound, если её нет.
func (r *areaRepositoryInMemory) Get(id string) (domain.Area, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	area, ok := r.items[id]
	if !ok {
		return domain.Area{}, domain.ErrAreaNotFound
	}
	area.ReservationIDs = append([]string(nil), area.ReservationIDs...)
	return area, nil
}

// Save перезаписывает зону, проверяя версию.
func (r *areaRepositoryInMemory) Save(area domain.Area) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	current, ok := r.items[area.ID]
	if !ok {
		return domain.ErrAreaNotFound
	}
	if current.Version != area.Version {
		return domain.ErrVersionConflict
	}
	area.Version++
	area.ReservationIDs = append([]string(nil), area.ReservationIDs...)
	r.items[area.ID] = area
	return nil
}

var _ domain.AreaRepository = (*areaRepositoryInMemory)(nil)
