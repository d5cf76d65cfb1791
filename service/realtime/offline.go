package realtime

import (
	"context"
	"sync"
	"time"

	"CragProject/module/realtime/model"
)

// OfflineQueue holds events for users with no live connection until their
// next session.
type OfflineQueue interface {
	Enqueue(ctx context.Context, userID, event string, payload []byte) error
	// Flush returns the user's events in insertion order and clears them in
	// the same step. Two concurrent flushes never both receive an event.
	Flush(ctx context.Context, userID string) ([]model.QueuedEvent, error)
}

// MemoryQueue is the in-process OfflineQueue.
type MemoryQueue struct {
	mu     sync.Mutex
	byUser map[string][]model.QueuedEvent
	max    int
	now    func() time.Time
}

// NewMemoryQueue keeps at most maxPerUser events per user, dropping the oldest;
// 0 means unbounded.
func NewMemoryQueue(maxPerUser int) *MemoryQueue {
	return &MemoryQueue{
		byUser: make(map[string][]model.QueuedEvent),
		max:    maxPerUser,
		now:    time.Now,
	}
}

func (q *MemoryQueue) Enqueue(_ context.Context, userID, event string, payload []byte) error {
	ev := model.QueuedEvent{
		UserID:     userID,
		Event:      event,
		Payload:    append([]byte(nil), payload...),
		EnqueuedAt: q.now().UTC(),
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	list := append(q.byUser[userID], ev)
	if q.max > 0 && len(list) > q.max {
		list = append([]model.QueuedEvent(nil), list[len(list)-q.max:]...)
	}
	q.byUser[userID] = list
	return nil
}

func (q *MemoryQueue) Flush(_ context.Context, userID string) ([]model.QueuedEvent, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	list := q.byUser[userID]
	delete(q.byUser, userID)
	return list, nil
}

// Len reports how many events are waiting for userID.
func (q *MemoryQueue) Len(userID string) int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.byUser[userID])
}
