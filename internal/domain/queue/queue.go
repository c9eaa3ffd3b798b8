// Package queue buffers service events between the asynchronous transport and
// a consumer that drains them on its own schedule.
package queue

import (
	"sync"

	"github.com/webitel/im-mqtt-chat/internal/domain/event"
)

// Queue is an unbounded FIFO. Push never blocks the dispatch path.
type Queue struct {
	mu    sync.Mutex
	items []event.Eventer
}

func New() *Queue { return &Queue{} }

func (q *Queue) Push(ev event.Eventer) {
	q.mu.Lock()
	q.items = append(q.items, ev)
	q.mu.Unlock()
}

// Drain returns everything queued so far and leaves the queue empty. The
// buffer is swapped under the lock, so each event is handed to exactly one
// Drain even when pushes race it.
func (q *Queue) Drain() []event.Eventer {
	q.mu.Lock()
	items := q.items
	q.items = nil
	q.mu.Unlock()

	if items == nil {
		return []event.Eventer{}
	}
	return items
}

func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}
