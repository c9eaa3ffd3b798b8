package console

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/webitel/im-mqtt-chat/infra/mqtt"
	"github.com/webitel/im-mqtt-chat/infra/mqtt/memory"
	"github.com/webitel/im-mqtt-chat/internal/domain/event"
	"github.com/webitel/im-mqtt-chat/internal/domain/registry"
	"github.com/webitel/im-mqtt-chat/internal/service"
	apperr "github.com/webitel/im-mqtt-chat/pkg/errors"
)

var discard = slog.New(slog.NewTextHandler(io.Discard, nil))

type syncBuffer struct {
	mu sync.Mutex
	b  bytes.Buffer
}

func (s *syncBuffer) Write(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.b.Write(p)
}

func (s *syncBuffer) String() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.b.String()
}

type fixture struct {
	console *Console
	out     *syncBuffer
	hub     *registry.Hub
	bob     *service.ControlService
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	b := memory.NewBroker()

	connect := func(id string) *mqtt.Client {
		cfg := mqtt.DefaultConfig()
		cfg.ClientID = id
		c := mqtt.NewClient(cfg, mqtt.WithDialer(b.Dialer()), mqtt.WithLogger(discard))
		require.NoError(t, c.Connect(context.Background()))
		t.Cleanup(c.Disconnect)
		return c
	}

	alice := connect("alice")
	ctl := service.NewControlService(alice, discard)
	grp := service.NewGroupService(alice, discard)
	ctl.Initialize()
	grp.Initialize()
	t.Cleanup(ctl.Close)

	bob := service.NewControlService(connect("bob"), discard)
	bob.Initialize()
	t.Cleanup(bob.Close)

	hub := registry.NewHub(discard)
	t.Cleanup(hub.Shutdown)

	out := &syncBuffer{}
	return &fixture{
		console: New("alice", ctl, grp, service.NewDeliveryService(hub, 16), out, discard),
		out:     out,
		hub:     hub,
		bob:     bob,
	}
}

func TestExecute_InviteReachesPeer(t *testing.T) {
	req := require.New(t)
	f := newFixture(t)

	out, err := f.console.Execute("invite bob")
	req.NoError(err)
	req.True(strings.HasPrefix(out, "invite_"))

	req.Eventually(func() bool {
		for _, ev := range f.bob.PollAllEvents() {
			if ev.GetKind() == event.InviteReceived {
				return true
			}
		}
		return false
	}, time.Second, 5*time.Millisecond)
}

func TestExecute_Errors(t *testing.T) {
	req := require.New(t)
	f := newFixture(t)

	_, err := f.console.Execute("teleport bob")
	req.ErrorIs(err, apperr.ErrEmptyArgument) // same INVALID_ARGUMENT category

	_, err = f.console.Execute("invite")
	req.ErrorContains(err, "usage: invite <user>")

	_, err = f.console.Execute("gapprove group_x bob join_1")
	req.ErrorIs(err, apperr.ErrNotGroupAdmin)

	_, err = f.console.Execute("quit")
	req.ErrorIs(err, ErrQuit)

	out, err := f.console.Execute("   ")
	req.NoError(err)
	req.Empty(out)
}

func TestExecute_GroupsListing(t *testing.T) {
	req := require.New(t)
	f := newFixture(t)

	id, err := f.console.Execute("gcreate night shift")
	req.NoError(err)

	out, err := f.console.Execute("groups")
	req.NoError(err)
	req.Contains(out, "admin  "+id+` "night shift" members=1`)
	req.Contains(out, "member "+id)
}

func TestRun_PrintsEventsAndStopsOnQuit(t *testing.T) {
	req := require.New(t)
	f := newFixture(t)

	in, feed := io.Pipe()
	done := make(chan error, 1)
	go func() { done <- f.console.Run(context.Background(), in) }()

	req.Eventually(func() bool { return f.hub.IsConnected("alice") }, time.Second, 5*time.Millisecond)

	// events fanned out by the hub are printed
	f.hub.Broadcast(event.New("alice", event.ChatSubscribed, event.ChatSubscribedPayload{ChatTopic: "chat/alice_bob"}))
	req.Eventually(func() bool {
		return strings.Contains(f.out.String(), `<< chat_subscribed {"chatTopic":"chat/alice_bob"`)
	}, time.Second, 5*time.Millisecond)

	_, err := feed.Write([]byte("help\nquit\n"))
	req.NoError(err)

	select {
	case err := <-done:
		req.NoError(err)
	case <-time.After(time.Second):
		t.Fatal("console did not stop")
	}
	req.Contains(f.out.String(), "connected as alice")
	req.Contains(f.out.String(), "commands:")
}
