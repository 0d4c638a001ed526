package memory

import (
	"sync"

	"github.com/vladislavdragonenkov/bookcafe/internal/domain"
)

// reservationRepositoryInMemory — in-memory реализация ReservationRepository.
type reservationRepositoryInMemory struct {
	mu    sync.RWMutex
	items map[string]domain.Reservation
}

// NewReservationRepository возвращает in-memory репозиторий броней.
func NewReservationRepository() domain.ReservationRepository {
	return &reservationRepositoryInMemory{
		items: make(map[string]domain.Reservation),
	}
}

// Create сохраняет новую бронь, если ID ещё не занят.
func (r *reservationRepositoryInMemory) Create(reservation domain.Reservation) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.items[reservation.ID]; exists {
		return domain.ErrVersionConflict
	}
	r.items[reservation.ID] = reservation
	return nil
}

// Get возвращает бронь или ErrReservationNotFound, если её нет.
func (r *reservationRepositoryInMemory) Get(id string) (domain.Reservation, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	reservation, ok := r.items[id]
	if !ok {
		return domain.Reservation{}, domain.ErrReservationNotFound
	}
	return reservation, nil
}

// Save перезаписывает бронь, проверяя версию.
func (r *reservationRepositoryInMemory) Save(reservation domain.Reservation) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	current, ok := r.items[reservation.ID]
	if !ok {
		return domain.ErrReservationNotFound
	}
	if current.Version != reservation.Version {
		return domain.ErrVersionConflict
	}
	reservation.Version++
	r.items[reservation.ID] = reservation
	return nil
}

var _ domain.ReservationRepository = (*reservationRepositoryInMemory)(nil)
