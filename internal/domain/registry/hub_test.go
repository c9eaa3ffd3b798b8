package registry

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/webitel/im-mqtt-chat/internal/domain/event"
)

func newTestHub(opts ...Option) *Hub {
	return NewHub(slog.New(slog.NewTextHandler(io.Discard, nil)), opts...)
}

func recv(t *testing.T, conn Connector) event.Eventer {
	t.Helper()
	select {
	case ev := <-conn.Recv():
		return ev
	case <-time.After(time.Second):
		t.Fatal("no event delivered")
		return nil
	}
}

func TestHub_FanOutToEverySession(t *testing.T) {
	req := require.New(t)
	h := newTestHub()
	defer h.Shutdown()

	ctx := context.Background()
	ws := NewConnector(ctx, "u1", 8, ConnectMetadata{Transport: "ws"})
	lp := NewConnector(ctx, "u1", 8, ConnectMetadata{Transport: "lp"})
	h.Register(ws)
	h.Register(lp)
	req.True(h.IsConnected("u1"))

	ev := event.New("u1", event.MessageReceived, nil)
	req.True(h.Broadcast(ev))

	req.Equal(ev.GetID(), recv(t, ws).GetID())
	req.Equal(ev.GetID(), recv(t, lp).GetID())
	req.Equal(2, h.Stats("u1").Sessions)
}

func TestHub_BacklogIsFlushedToNextSession(t *testing.T) {
	req := require.New(t)
	h := newTestHub()
	defer h.Shutdown()

	// Given events broadcast while nobody listens
	first := event.New("u1", event.InviteReceived, nil)
	second := event.New("u1", event.MessageReceived, nil)
	req.True(h.Broadcast(first))
	req.True(h.Broadcast(second))
	req.Eventually(func() bool {
		cell, _ := h.load("u1")
		cell.mu.Lock()
		defer cell.mu.Unlock()
		return len(cell.backlog) == 2
	}, time.Second, 5*time.Millisecond)

	// When a session attaches
	conn := NewConnector(context.Background(), "u1", 8, ConnectMetadata{Transport: "lp"})
	h.Register(conn)

	// Then it receives them in order
	req.Equal(first.GetID(), recv(t, conn).GetID())
	req.Equal(second.GetID(), recv(t, conn).GetID())
}

func TestHub_UnregisteredSessionGetsNothing(t *testing.T) {
	req := require.New(t)
	h := newTestHub()
	defer h.Shutdown()

	conn := NewConnector(context.Background(), "u1", 8, ConnectMetadata{})
	h.Register(conn)
	h.Unregister("u1", conn.GetID())
	req.False(h.IsConnected("u1"))

	h.Broadcast(event.New("u1", event.MessageReceived, nil))
	time.Sleep(20 * time.Millisecond)
	req.Empty(conn.Recv())
}

func TestHub_JanitorEvictsIdleCells(t *testing.T) {
	req := require.New(t)
	h := newTestHub(WithEvictionInterval(10*time.Millisecond), WithIdleTimeout(time.Millisecond))
	defer h.Shutdown()

	h.Broadcast(event.New("u1", event.PresenceUpdate, nil))
	req.Eventually(func() bool {
		_, ok := h.load("u1")
		return !ok
	}, time.Second, 5*time.Millisecond)
}

// logSink is a bytes.Buffer safe to share with the janitor goroutine.
type logSink struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (s *logSink) Write(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.buf.Write(p)
}

func (s *logSink) String() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.buf.String()
}

func TestHub_EvictionAccountsForTheLostBacklog(t *testing.T) {
	req := require.New(t)
	sink := &logSink{}
	h := NewHub(slog.New(slog.NewJSONHandler(sink, nil)),
		WithEvictionInterval(10*time.Millisecond), WithIdleTimeout(50*time.Millisecond))
	defer h.Shutdown()

	// Given two events nobody ever picks up
	h.Broadcast(event.New("u1", event.MessageReceived, nil))
	h.Broadcast(event.New("u1", event.InviteReceived, nil))

	// When the cell is reclaimed
	req.Eventually(func() bool {
		_, ok := h.load("u1")
		return !ok
	}, time.Second, 5*time.Millisecond)

	// Then both count as dropped and the eviction says so
	req.EqualValues(2, h.Stats("u1").Dropped)
	req.Eventually(func() bool {
		out := sink.String()
		return strings.Contains(out, `"msg":"CELL_EVICTED"`) && strings.Contains(out, `"dropped":2`)
	}, time.Second, 5*time.Millisecond)
}

func TestHub_AbortedSessionHandsItsEventsBack(t *testing.T) {
	req := require.New(t)
	h := newTestHub()
	defer h.Shutdown()

	// Given a backlog flushed into a session
	first := event.New("u1", event.InviteReceived, nil)
	req.True(h.Broadcast(first))
	req.Eventually(func() bool {
		cell, _ := h.load("u1")
		return cell.Backlog() == 1
	}, time.Second, 5*time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	conn := NewConnector(ctx, "u1", 8, ConnectMetadata{Transport: "lp"})
	h.Register(conn)

	// When its consumer goes away before reading
	cancel()
	second := event.New("u1", event.MessageReceived, nil)
	req.True(h.Broadcast(second))
	req.Eventually(func() bool {
		cell, _ := h.load("u1")
		return cell.Backlog() == 1
	}, time.Second, 5*time.Millisecond, "a dead session must not take new events")

	h.Unregister("u1", conn.GetID())
	h.Requeue("u1", []event.Eventer{recv(t, conn)})

	// Then the next session gets everything, in order
	next := NewConnector(context.Background(), "u1", 8, ConnectMetadata{Transport: "lp"})
	h.Register(next)
	req.Equal(first.GetID(), recv(t, next).GetID())
	req.Equal(second.GetID(), recv(t, next).GetID())
	req.Zero(h.Stats("u1").Dropped)
}

func TestCell_RequeueKeepsTheBound(t *testing.T) {
	req := require.New(t)
	var delivered, dropped atomic.Uint64
	c := NewCell("u1", 2, &delivered, &dropped)
	defer c.Stop()

	c.Requeue([]event.Eventer{
		event.New("u1", event.MessageReceived, nil),
		event.New("u1", event.MessageReceived, nil),
		event.New("u1", event.MessageReceived, nil),
	})
	req.Equal(2, c.Backlog())
	req.EqualValues(1, dropped.Load())
}

func TestConnector_BackpressurePrefersHighPriority(t *testing.T) {
	req := require.New(t)
	conn := NewConnector(context.Background(), "u1", 1, ConnectMetadata{})
	defer conn.Close()

	low := event.New("u1", event.PresenceUpdate, nil)
	req.True(conn.Send(low, time.Millisecond))

	// a low priority event is shed when the buffer is full
	req.False(conn.Send(event.New("u1", event.PresenceUpdate, nil), time.Millisecond))

	// a high priority one evicts the queued low priority event
	high := event.New("u1", event.InviteReceived, nil)
	req.True(conn.Send(high, time.Millisecond))
	req.Equal(high.GetID(), (<-conn.Recv()).GetID())
	req.EqualValues(2, conn.Dropped())
}

func TestConnector_ClosedByContextAndIdempotent(t *testing.T) {
	req := require.New(t)
	ctx, cancel := context.WithCancel(context.Background())
	conn := NewConnector(ctx, "u1", 1, ConnectMetadata{})

	cancel()
	req.Eventually(func() bool {
		select {
		case _, ok := <-conn.Recv():
			return !ok
		default:
			return false
		}
	}, time.Second, 5*time.Millisecond)

	conn.Close()
	req.False(conn.Send(event.New("u1", event.MessageReceived, nil), time.Millisecond))
}
