package registry

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/webitel/im-mqtt-chat/internal/domain/event"
)

// Interface guard
var _ Connector = (*connect)(nil)

// [CONNECTOR] THE INTERFACE FOR EXTERNAL LAYERS (REGISTRY/HUB)
type Connector interface {
	GetID() string
	GetUserID() string
	Metadata() ConnectMetadata
	Send(ev event.Eventer, timeout time.Duration) bool // Thread-safe send with backpressure handling
	Recv() <-chan event.Eventer
	Done() <-chan struct{}
	Dropped() uint64
	Close() // Terminate connection and release resources
}

// [METADATA] EXPORTED FOR TRANSPORT AND ANALYTICS LAYERS
type ConnectMetadata struct {
	Transport string // "ws" | "lp"
	RemoteIP  string
	UserAgent string
}

// [CONNECT] CONCRETE IMPLEMENTATION (UNEXPORTED TO FORCE INTERFACE USAGE)
type connect struct {
	id        string
	userID    string
	metadata  ConnectMetadata
	createdAt time.Time
	ctx       context.Context
	cancelFn  context.CancelFunc
	sendCh    chan event.Eventer

	// [CLOSE_GUARD] Send holds the read side so the channel is never closed under it.
	mu     sync.RWMutex
	closed bool

	droppedCount atomic.Uint64
}

// NewConnector creates a consumer session bound to ctx: cancelling ctx closes it.
func NewConnector(ctx context.Context, userID string, bufferSize int, md ConnectMetadata) Connector {
	childCtx, cancel := context.WithCancel(ctx)
	c := &connect{
		id:        uuid.NewString(),
		userID:    userID,
		metadata:  md,
		createdAt: time.Now(),
		ctx:       childCtx,
		cancelFn:  cancel,
		sendCh:    make(chan event.Eventer, bufferSize),
	}
	context.AfterFunc(childCtx, c.Close)
	return c
}

func (c *connect) GetID() string              { return c.id }
func (c *connect) GetUserID() string          { return c.userID }
func (c *connect) Metadata() ConnectMetadata  { return c.metadata }
func (c *connect) Recv() <-chan event.Eventer { return c.sendCh }
func (c *connect) Done() <-chan struct{}      { return c.ctx.Done() }
func (c *connect) Dropped() uint64            { return c.droppedCount.Load() }

// Send attempts to push an event into the channel.
// If the channel stays full for timeout, lower priority events are evicted to make room.
func (c *connect) Send(ev event.Eventer, timeout time.Duration) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return false
	}

	// fast path
	select {
	case c.sendCh <- ev:
		return true
	default:
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	// 1. [LIFECYCLE_GATE] Abort if the consumer already went away.
	case <-c.ctx.Done():
		return false

	// 2. [PRIMARY_DELIVERY] Wait up to timeout for space to smooth out jitter.
	case c.sendCh <- ev:
		return true

	// 3. [BACKPRESSURE_THRESHOLD] Persistent slow consumer.
	case <-timer.C:
		return c.handleBackpressure(ev)
	}
}

// handleBackpressure manages full buffers by dropping low-priority events.
func (c *connect) handleBackpressure(ev event.Eventer) bool {
	if ev.GetPriority() <= event.PriorityLow {
		c.droppedCount.Add(1)
		return false
	}

	// Evict the oldest queued event if it ranks lower than the incoming one.
	select {
	case oldEv := <-c.sendCh:
		if oldEv.GetPriority() < ev.GetPriority() {
			c.droppedCount.Add(1)
			select {
			case c.sendCh <- ev:
				return true
			default:
			}
			c.droppedCount.Add(1)
			return false
		}
		// best effort: put it back
		select {
		case c.sendCh <- oldEv:
		default:
			c.droppedCount.Add(1)
		}
	default:
		// the consumer drained in the meantime
		select {
		case c.sendCh <- ev:
			return true
		default:
		}
	}

	c.droppedCount.Add(1)
	return false
}

// Close terminates the session. Safe to call more than once and concurrently with Send.
func (c *connect) Close() {
	c.cancelFn()

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.closed = true

	// [UPSTREAM_NOTIFY] Closing the channel tells the stream handler (via !ok) to finish.
	close(c.sendCh)
}
