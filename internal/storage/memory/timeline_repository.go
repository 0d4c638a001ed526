package memory

import (
	"sort"
	"sync"

	"github.com/vladislavdragonenkov/bookcafe/internal/domain"
)

// timelineStoreInMemory хранит ленту событий по заказам; для разработки
// и тестов. Вставка держит срез отсортированным стабильной сортировкой,
// чтобы события с одинаковым временем не менялись местами.
type timelineStoreInMemory struct {
	mu      sync.RWMutex
	byOrder map[string][]domain.TimelineEvent
}

// NewTimelineRepository создаёт in-memory реализацию TimelineRepository.
func NewTimelineRepository() domain.TimelineRepository {
	return &timelineStoreInMemory{byOrder: make(map[string][]domain.TimelineEvent)}
}

var _ domain.TimelineRepository = (*timelineStoreInMemory)(nil)

func (r *timelineStoreInMemory) Append(event domain.TimelineEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	lane := append(r.byOrder[event.OrderID], event)
	sort.SliceStable(lane, func(i, j int) bool {
		return lane[i].Occurred.Before(lane[j].Occurred)
	})
	r.byOrder[event.OrderID] = lane

	return nil
}

func (r *timelineStoreInMemory) List(orderID string) ([]domain.TimelineEvent, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return append([]domain.TimelineEvent(nil), r.byOrder[orderID]...), nil
}
