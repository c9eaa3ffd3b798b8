/*
Package registry fans drained service events out to the local consumer sessions.

Key Architectural Concepts:
  - Virtual Cells: every user served by this process is an isolated 'Cell' that
    owns all of its consumer sessions (websocket streams, long-poll requests).
  - Decoupling & Backpressure: each cell has its own mailbox, so a slow consumer
    never blocks the poller that feeds the hub.
  - Backlog: events that arrive while no session is attached are kept (bounded)
    and flushed in order to the next session, so long-poll gaps lose nothing.
  - Reclamation: a janitor evicts cells that stayed without sessions for the idle timeout.
*/
package registry

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/webitel/im-mqtt-chat/internal/domain/event"
)

const sendTimeout = 500 * time.Millisecond

// Celler defines the internal API for user-specific delivery units.
type Celler interface {
	Push(ev event.Eventer) bool
	Attach(conn Connector)
	Detach(connID string) bool
	Requeue(events []event.Eventer)
	Sessions() int
	IsIdle(timeout time.Duration) bool
	Stop()
}

// Cell implements [ISOLATED_DELIVERY] logic for a single user.
type Cell struct {
	userID string

	// [MAILBOX] absorbs bursts between the poller and the per-session sends.
	mailbox chan event.Eventer

	// [SESSIONS] every consumer attached for the user; one event reaches all of them.
	sessions map[string]Connector
	backlog  []event.Eventer
	limit    int

	mu       sync.Mutex
	doneCh   chan struct{}
	stopOnce sync.Once

	lastActivityAt time.Time

	delivered *atomic.Uint64
	dropped   *atomic.Uint64
}

func NewCell(userID string, bufferSize int, delivered, dropped *atomic.Uint64) *Cell {
	c := &Cell{
		userID:         userID,
		mailbox:        make(chan event.Eventer, bufferSize),
		sessions:       make(map[string]Connector),
		limit:          bufferSize,
		doneCh:         make(chan struct{}),
		lastActivityAt: time.Now(),
		delivered:      delivered,
		dropped:        dropped,
	}
	go c.loop()
	return c
}

// IsIdle is true when the cell has no sessions and saw no activity for timeout.
func (c *Cell) IsIdle(timeout time.Duration) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.sessions) == 0 && time.Since(c.lastActivityAt) > timeout
}

func (c *Cell) Sessions() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.sessions)
}

func (c *Cell) Push(ev event.Eventer) bool {
	select {
	case <-c.doneCh:
		return false
	default:
	}
	select {
	case c.mailbox <- ev:
		return true
	default:
		c.dropped.Add(1)
		return false
	}
}

// Attach adds a session and hands it the backlog accumulated while nobody listened.
func (c *Cell) Attach(conn Connector) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lastActivityAt = time.Now()
	c.sessions[conn.GetID()] = conn

	// a session that is already gone must not swallow the backlog
	if !alive(conn) {
		return
	}
	backlog := c.backlog
	c.backlog = nil
	for _, ev := range backlog {
		c.count(conn.Send(ev, sendTimeout))
	}
}

// Detach removes a session and reports whether the cell is now empty.
func (c *Cell) Detach(connID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.sessions, connID)
	c.lastActivityAt = time.Now()
	return len(c.sessions) == 0
}

// Requeue puts back events a detached session took but never handed to its consumer.
// They go ahead of the backlog; sessions still attached got them already.
func (c *Cell) Requeue(events []event.Eventer) {
	if len(events) == 0 {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.live() > 0 {
		return
	}

	backlog := make([]event.Eventer, 0, len(events)+len(c.backlog))
	backlog = append(backlog, events...)
	backlog = append(backlog, c.backlog...)
	if over := len(backlog) - c.limit; over > 0 {
		backlog = backlog[over:]
		c.dropped.Add(uint64(over))
	}
	c.backlog = backlog
}

// Backlog is the number of events kept for the next session.
func (c *Cell) Backlog() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.backlog)
}

func (c *Cell) loop() {
	for {
		select {
		case <-c.doneCh:
			return
		case ev := <-c.mailbox:
			c.deliver(ev)
		}
	}
}

func (c *Cell) deliver(ev event.Eventer) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lastActivityAt = time.Now()

	if c.live() == 0 {
		// [BACKLOG] oldest goes first when the bound is reached
		if len(c.backlog) >= c.limit {
			c.backlog = c.backlog[1:]
			c.dropped.Add(1)
		}
		c.backlog = append(c.backlog, ev)
		return
	}

	for _, conn := range c.sessions {
		if alive(conn) {
			c.count(conn.Send(ev, sendTimeout))
		}
	}
}

// live counts the sessions whose consumer is still there. Callers hold mu.
func (c *Cell) live() int {
	n := 0
	for _, conn := range c.sessions {
		if alive(conn) {
			n++
		}
	}
	return n
}

func alive(conn Connector) bool {
	select {
	case <-conn.Done():
		return false
	default:
		return true
	}
}

func (c *Cell) count(ok bool) {
	if ok {
		c.delivered.Add(1)
	} else {
		c.dropped.Add(1)
	}
}

// Stop terminates the loop and closes every session.
func (c *Cell) Stop() {
	c.stopOnce.Do(func() {
		close(c.doneCh)

		c.mu.Lock()
		sessions := c.sessions
		c.sessions = make(map[string]Connector)
		c.mu.Unlock()

		for _, conn := range sessions {
			conn.Close()
		}
	})
}
