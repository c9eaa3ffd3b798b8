package service

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/webitel/im-mqtt-chat/infra/mqtt"
	"github.com/webitel/im-mqtt-chat/infra/mqtt/memory"
	"github.com/webitel/im-mqtt-chat/internal/domain/event"
)

const (
	wait = time.Second
	tick = 5 * time.Millisecond
)

var discard = slog.New(slog.NewTextHandler(io.Discard, nil))

type peer struct {
	client *mqtt.Client
	ctl    *ControlService
	grp    *GroupService
	ctlIn  *inbox
	grpIn  *inbox
}

// newPeer connects id to b and initializes both services in production order.
func newPeer(t *testing.T, b *memory.Broker, id string) *peer {
	t.Helper()

	cfg := mqtt.DefaultConfig()
	cfg.ClientID = id
	cfg.Will = OfflineWill(id)
	cfg.Reconnect.Interval = 20 * time.Millisecond

	c := mqtt.NewClient(cfg, mqtt.WithDialer(b.Dialer()), mqtt.WithLogger(discard))
	require.NoError(t, c.Connect(context.Background()))
	t.Cleanup(c.Disconnect)

	p := &peer{
		client: c,
		ctl:    NewControlService(c, discard),
		grp:    NewGroupService(c, discard),
	}
	p.ctl.Initialize()
	p.grp.Initialize()
	t.Cleanup(p.ctl.Close)

	p.ctlIn = &inbox{src: p.ctl}
	p.grpIn = &inbox{src: p.grp}
	return p
}

// inbox accumulates drained events so a test can wait for a kind without losing the rest.
type inbox struct {
	src EventSource
	mu  sync.Mutex
	got []event.Eventer
}

func (in *inbox) pull() {
	in.mu.Lock()
	in.got = append(in.got, in.src.PollAllEvents()...)
	in.mu.Unlock()
}

// take waits for the first event of kind and removes it from the inbox.
func (in *inbox) take(t *testing.T, kind event.Kind) event.Eventer {
	t.Helper()
	return in.takeWhere(t, kind, func(event.Eventer) bool { return true })
}

// takeWhere is take restricted to the events of kind that match.
func (in *inbox) takeWhere(t *testing.T, kind event.Kind, match func(event.Eventer) bool) event.Eventer {
	t.Helper()
	var found event.Eventer
	require.Eventually(t, func() bool {
		in.pull()
		in.mu.Lock()
		defer in.mu.Unlock()
		for i, ev := range in.got {
			if ev.GetKind() == kind && match(ev) {
				found = ev
				in.got = append(in.got[:i], in.got[i+1:]...)
				return true
			}
		}
		return false
	}, wait, tick, "no %s event", kind)
	return found
}

// count returns how many events of kind arrived so far, after a short settle.
func (in *inbox) count(kind event.Kind) int {
	return in.countWhere(kind, func(event.Eventer) bool { return true })
}

func (in *inbox) countWhere(kind event.Kind, match func(event.Eventer) bool) int {
	time.Sleep(30 * time.Millisecond)
	in.pull()
	in.mu.Lock()
	defer in.mu.Unlock()
	n := 0
	for _, ev := range in.got {
		if ev.GetKind() == kind && match(ev) {
			n++
		}
	}
	return n
}
