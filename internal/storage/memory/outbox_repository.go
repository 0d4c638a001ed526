package memory

import (
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/vladislavdragonenkov/bookcafe/internal/domain"
)

const (
	outboxPending = "pending"
	outboxSent    = "sent"
	outboxFailed  = "failed"
)

// outboxEntry — сообщение плюс служебные поля, которые в PostgreSQL-варианте
// лежат в колонках таблицы.
type outboxEntry struct {
	msg      domain.OutboxMessage
	status   string
	attempts int
	seq      uint64
	created  time.Time
	updated  time.Time
}

// outboxStoreInMemory имитирует transactional outbox в памяти. Порядок
// выдачи PullPending соответствует порядку постановки, как и в SQL-реализации.
type outboxStoreInMemory struct {
	mu      sync.RWMutex
	entries map[string]*outboxEntry
	nextSeq uint64
}

// NewOutboxRepository создаёт in-memory реализацию outbox.
func NewOutboxRepository() *outboxStoreInMemory {
	return &outboxStoreInMemory{entries: make(map[string]*outboxEntry)}
}

var _ domain.OutboxRepository = (*outboxStoreInMemory)(nil)

// Enqueue сохраняет событие со статусом pending.
func (r *outboxStoreInMemory) Enqueue(msg domain.OutboxMessage) (domain.OutboxMessage, error) {
	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	now := time.Now().UTC()
	r.nextSeq++
	r.entries[msg.ID] = &outboxEntry{
		msg:     msg,
		status:  outboxPending,
		seq:     r.nextSeq,
		created: now,
		updated: now,
	}

	return msg, nil
}

// PullPending возвращает до limit pending-сообщений в порядке постановки.
func (r *outboxStoreInMemory) PullPending(limit int) ([]domain.OutboxMessage, error) {
	if limit <= 0 {
		limit = 100
	}

	r.mu.RLock()
	pending := r.pendingEntriesLocked()
	r.mu.RUnlock()

	if len(pending) > limit {
		pending = pending[:limit]
	}

	batch := make([]domain.OutboxMessage, 0, len(pending))
	for _, entry := range pending {
		batch = append(batch, entry.msg)
	}
	return batch, nil
}

// Stats возвращает размер и возраст backlog.
func (r *outboxStoreInMemory) Stats() (domain.OutboxStats, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var stats domain.OutboxStats
	for _, entry := range r.entries {
		if entry.status != outboxPending {
			continue
		}
		stats.PendingCount++
		if stats.OldestPendingAt.IsZero() || entry.created.Before(stats.OldestPendingAt) {
			stats.OldestPendingAt = entry.created
		}
	}
	return stats, nil
}

// MarkSent фиксирует успешную публикацию.
func (r *outboxStoreInMemory) MarkSent(id string) error {
	return r.transition(id, outboxSent)
}

// MarkFailed фиксирует исчерпание попыток публикации.
func (r *outboxStoreInMemory) MarkFailed(id string) error {
	return r.transition(id, outboxFailed)
}

func (r *outboxStoreInMemory) transition(id, status string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	entry, ok := r.entries[id]
	if !ok {
		return domain.ErrOutboxPublish
	}
	entry.status = status
	entry.attempts++
	entry.updated = time.Now().UTC()
	return nil
}

// AllPending возвращает копию всех pending-сообщений; используется в тестах.
func (r *outboxStoreInMemory) AllPending() []domain.OutboxMessage {
	r.mu.RLock()
	defer r.mu.RUnlock()

	pending := r.pendingEntriesLocked()
	result := make([]domain.OutboxMessage, 0, len(pending))
	for _, entry := range pending {
		result = append(result, entry.msg)
	}
	return result
}

func (r *outboxStoreInMemory) pendingEntriesLocked() []*outboxEntry {
	pending := make([]*outboxEntry, 0, len(r.entries))
	for _, entry := range r.entries {
		if entry.status == outboxPending {
			pending = append(pending, entry)
		}
	}
	sort.Slice(pending, func(i, j int) bool { return pending[i].seq < pending[j].seq })
	return pending
}
