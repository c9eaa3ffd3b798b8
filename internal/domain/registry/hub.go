package registry

import (
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/webitel/im-mqtt-chat/internal/domain/event"
	"github.com/webitel/im-mqtt-chat/internal/domain/model"
)

// Hubber defines the gateway for consumer session management and event routing.
type Hubber interface {
	Broadcast(ev event.Eventer) bool
	Register(conn Connector)
	Unregister(userID, connID string)
	Requeue(userID string, events []event.Eventer)
	IsConnected(userID string) bool
	Stats(userID string) model.HubStats
	Shutdown()
}

type hubConfig struct {
	evictionInterval time.Duration
	idleTimeout      time.Duration
	mailboxSize      int
}

// Hub implements a [SCALABLE_REGISTRY] using the Virtual Cell pattern.
type Hub struct {
	// cells stores map[string]*Cell. Optimized for [READ_HEAVY] workloads.
	cells  sync.Map
	config hubConfig
	logger *slog.Logger

	startedAt time.Time
	delivered atomic.Uint64
	dropped   atomic.Uint64

	stopCh   chan struct{}
	stopOnce sync.Once
}

func NewHub(logger *slog.Logger, opts ...Option) *Hub {
	h := &Hub{
		config: hubConfig{
			evictionInterval: 5 * time.Minute,
			idleTimeout:      10 * time.Minute,
			mailboxSize:      1024,
		},
		logger:    logger,
		startedAt: time.Now(),
		stopCh:    make(chan struct{}),
	}
	for _, opt := range opts {
		opt(h)
	}
	go h.janitor()
	return h
}

// IsConnected reports whether at least one consumer session is attached for userID.
func (h *Hub) IsConnected(userID string) bool {
	if cell, ok := h.load(userID); ok {
		return cell.Sessions() > 0
	}
	return false
}

// Broadcast routes ev to the [USER_CELL]; the cell is created lazily so events
// drained before the first consumer attaches are kept in its backlog.
func (h *Hub) Broadcast(ev event.Eventer) bool {
	return h.cell(ev.GetUserID()).Push(ev)
}

// Register ensures [IDEMPOTENT] cell creation and attaches a new session.
func (h *Hub) Register(conn Connector) {
	h.cell(conn.GetUserID()).Attach(conn)
	h.logger.Debug("SESSION_REGISTERED",
		"user_id", conn.GetUserID(),
		"conn_id", conn.GetID(),
		"transport", conn.Metadata().Transport)
}

// Unregister detaches a session; the cell itself is reclaimed by the janitor.
func (h *Hub) Unregister(userID, connID string) {
	if cell, ok := h.load(userID); ok {
		cell.Detach(connID)
		h.logger.Debug("SESSION_UNREGISTERED", "user_id", userID, "conn_id", connID)
	}
}

// Requeue hands events back to the user cell so the next session receives them.
func (h *Hub) Requeue(userID string, events []event.Eventer) {
	if len(events) == 0 {
		return
	}
	h.cell(userID).Requeue(events)
	h.logger.Debug("EVENTS_REQUEUED", "user_id", userID, "count", len(events))
}

func (h *Hub) Stats(userID string) model.HubStats {
	st := model.HubStats{
		UserID:    userID,
		Delivered: h.delivered.Load(),
		Dropped:   h.dropped.Load(),
		Uptime:    time.Since(h.startedAt),
	}
	if cell, ok := h.load(userID); ok {
		st.Sessions = cell.Sessions()
	}
	return st
}

// Shutdown stops the janitor and every cell, closing all sessions.
func (h *Hub) Shutdown() {
	h.stopOnce.Do(func() {
		close(h.stopCh)
		h.cells.Range(func(key, val any) bool {
			val.(*Cell).Stop()
			h.cells.Delete(key)
			return true
		})
	})
}

func (h *Hub) load(userID string) (*Cell, bool) {
	val, ok := h.cells.Load(userID)
	if !ok {
		return nil, false
	}
	return val.(*Cell), true
}

func (h *Hub) cell(userID string) *Cell {
	if cell, ok := h.load(userID); ok {
		return cell
	}
	// [LAZY_INIT] a losing LoadOrStore must stop its own goroutine
	fresh := NewCell(userID, h.config.mailboxSize, &h.delivered, &h.dropped)
	val, loaded := h.cells.LoadOrStore(userID, fresh)
	if loaded {
		fresh.Stop()
	}
	return val.(*Cell)
}

// janitor reclaims cells without sessions once they exceed the idle timeout.
func (h *Hub) janitor() {
	ticker := time.NewTicker(h.config.evictionInterval)
	defer ticker.Stop()

	for {
		select {
		case <-h.stopCh:
			return
		case <-ticker.C:
			h.cells.Range(func(key, val any) bool {
				cell := val.(*Cell)
				if cell.IsIdle(h.config.idleTimeout) {
					h.cells.Delete(key)
					cell.Stop()
					h.evicted(key.(string), cell)
				}
				return true
			})
		}
	}
}

// evicted accounts for what a reclaimed cell still held: nobody will read it.
func (h *Hub) evicted(userID string, cell *Cell) {
	lost := cell.Backlog() + len(cell.mailbox)
	if lost == 0 {
		h.logger.Debug("CELL_EVICTED", "user_id", userID)
		return
	}
	h.dropped.Add(uint64(lost))
	h.logger.Warn("CELL_EVICTED", "user_id", userID, "dropped", lost)
}
