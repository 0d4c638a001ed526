package memory

import (
	"sync"

	"github.com/vladislavdragonenkov/bookcafe/internal/domain"
)

// staffRepositoryInMemory — in-memory реализация StaffRepository.
type staffRepositoryInMemory struct {
	mu    sync.RWMutex
	items map[string]domain.Staff
}

// NewStaffRepository возвращает in-memory репозиторий сотрудников.
func NewStaffRepository() domain.StaffRepository {
	return &staffRepositoryInMemory{
		items: make(map[string]domain.Staff),
	}
}

// Create сохраняет нового сотрудника, если ID ещё не занят.
func (r *staffRepositoryInMemory) Create(staff domain.Staff) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.items[staff.ID]; exists {
		return domain.ErrVersionConflict
	}
	staff.HandledOrders = append([]string(nil), staff.HandledOrders...)
	r.items[staff.ID] = staff
	return nil
}

// Get возвращает сотрудника или ErrStaffNotFound, если его нет.
func (r *staffRepositoryInMemory) Get(id string) (domain.Staff, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	staff, ok := r.items[id]
	if !ok {
		return domain.Staff{}, domain.ErrStaffNotFound
	}
	staff.HandledOrders = append([]string(nil), staff.HandledOrders...)
	return staff, nil
}

// Save перезаписывает сотрудника, проверяя версию.
func (r *staffRepositoryInMemory) Save(staff domain.Staff) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	current, ok := r.items[staff.ID]
	if !ok {
		return domain.ErrStaffNotFound
	}
	if current.Version != staff.Version {
		return domain.ErrVersionConflict
	}
	staff.Version++
	staff.HandledOrders = append([]string(nil), staff.HandledOrders...)
	r.items[staff.ID] = staff
	return nil
}

var _ domain.StaffRepository = (*staffRepositoryInMemory)(nil)
