package outbox

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/vladislavdragonenkov/bookcafe/internal/domain"
)

type fakeOutboxRepo struct {
	pending []domain.OutboxMessage
	sent    []string
	failed  []string
}

func (f *fakeOutboxRepo) Enqueue(msg domain.OutboxMessage) (domain.OutboxMessage, error) {
	return msg, nil
}

func (f *fakeOutboxRepo) PullPending(limit int) ([]domain.OutboxMessage, error) {
	out := append([]domain.OutboxMessage(nil), f.pending...)
	if limit > 0 && limit < len(out) {
		out = out[:limit]
	}
	return out, nil
}

func (f *fakeOutboxRepo) Stats() (domain.OutboxStats, error) {
	stats := domain.OutboxStats{PendingCount: len(f.pending)}
	if len(f.pending) > 0 {
		stats.OldestPendingAt = time.Now().UTC().Add(-time.Second)
	}
	return stats, nil
}

func (f *fakeOutboxRepo) MarkSent(id string) error {
	f.sent = append(f.sent, id)
	return nil
}

func (f *fakeOutboxRepo) MarkFailed(id string) error {
	f.failed = append(f.failed, id)
	return nil
}

// scriptedPublisher по очереди отдаёт ошибки из script; после исчерпания
// script возвращает err.
type scriptedPublisher struct {
	mu     sync.Mutex
	err    error
	script []error
	count  int
}

func (p *scriptedPublisher) Publish(_ domain.OutboxMessage) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.count++
	if len(p.script) > 0 {
		next := p.script[0]
		p.script = p.script[1:]
		return next
	}
	return p.err
}

func (p *scriptedPublisher) calls() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.count
}

var (
	_ domain.OutboxRepository = (*fakeOutboxRepo)(nil)
	_ domain.OutboxPublisher  = (*scriptedPublisher)(nil)
)

func pendingMessage(id, orderID, eventType string) domain.OutboxMessage {
	return domain.OutboxMessage{
		ID:            id,
		AggregateType: "order",
		AggregateID:   orderID,
		EventType:     eventType,
		Payload:       []byte(`{"status":"processing"}`),
	}
}

func TestProcessOnce_PublishesAndMarksSent(t *testing.T) {
	t.Parallel()

	repo := &fakeOutboxRepo{pending: []domain.OutboxMessage{
		pendingMessage("msg-1", "order-1", "OrderCreated"),
	}}
	publisher := &scriptedPublisher{}

	worker := NewWorker(repo, publisher, WithRetryBaseDelay(0), WithMaxAttempts(3))
	worker.ProcessOnce(context.Background())

	if publisher.calls() != 1 {
		t.Fatalf("publish calls = %d, want 1", publisher.calls())
	}
	if len(repo.sent) != 1 || repo.sent[0] != "msg-1" {
		t.Fatalf("sent marks = %v, want [msg-1]", repo.sent)
	}
	if len(repo.failed) != 0 {
		t.Fatalf("failed marks = %v, want none", repo.failed)
	}
}

func TestProcessOnce_ExhaustedRetriesGoToDLQ(t *testing.T) {
	t.Parallel()

	repo := &fakeOutboxRepo{pending: []domain.OutboxMessage{
		pendingMessage("msg-2", "order-2", "OrderCancelled"),
	}}
	publisher := &scriptedPublisher{err: errors.New("broker down")}
	dlq := &scriptedPublisher{}

	worker := NewWorker(repo, publisher,
		WithDLQPublisher(dlq),
		WithRetryBaseDelay(0),
		WithMaxAttempts(3),
	)
	worker.ProcessOnce(context.Background())

	if publisher.calls() != 3 {
		t.Fatalf("publish calls = %d, want 3", publisher.calls())
	}
	if len(repo.sent) != 0 {
		t.Fatalf("sent marks = %v, want none", repo.sent)
	}
	if len(repo.failed) != 1 || repo.failed[0] != "msg-2" {
		t.Fatalf("failed marks = %v, want [msg-2]", repo.failed)
	}
	if dlq.calls() != 1 {
		t.Fatalf("dlq publishes = %d, want 1", dlq.calls())
	}
}

func TestProcessOnce_RecoversWithinRetryBudget(t *testing.T) {
	t.Parallel()

	repo := &fakeOutboxRepo{pending: []domain.OutboxMessage{
		pendingMessage("msg-3", "order-3", "OrderCompleted"),
	}}
	publisher := &scriptedPublisher{script: []error{
		errors.New("attempt 1"),
		errors.New("attempt 2"),
		nil,
	}}

	worker := NewWorker(repo, publisher, WithRetryBaseDelay(0), WithMaxAttempts(3))
	worker.ProcessOnce(context.Background())

	if publisher.calls() != 3 {
		t.Fatalf("publish calls = %d, want 3", publisher.calls())
	}
	if len(repo.sent) != 1 {
		t.Fatalf("sent marks = %v, want one", repo.sent)
	}
	if len(repo.failed) != 0 {
		t.Fatalf("failed marks = %v, want none", repo.failed)
	}
}

func TestRun_StopsOnContextCancel(t *testing.T) {
	t.Parallel()

	worker := NewWorker(&fakeOutboxRepo{}, &scriptedPublisher{},
		WithPollInterval(5*time.Millisecond),
		WithRetryBaseDelay(0),
	)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		worker.Run(ctx)
	}()

	time.Sleep(15 * time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("worker did not stop on context cancel")
	}
}
