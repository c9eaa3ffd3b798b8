package amqp

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/stretchr/testify/require"
	"github.com/webitel/im-mqtt-chat/infra/mqtt"
	"github.com/webitel/im-mqtt-chat/infra/mqtt/memory"
	"github.com/webitel/im-mqtt-chat/internal/adapter/pubsub"
	"github.com/webitel/im-mqtt-chat/internal/domain/event"
	"github.com/webitel/im-mqtt-chat/internal/service"
)

var discard = slog.New(slog.NewTextHandler(io.Discard, nil))

type bridge struct {
	pub   message.Publisher
	alice *service.GroupService
	bob   *service.ControlService
}

func newBridge(t *testing.T) *bridge {
	t.Helper()
	req := require.New(t)
	b := memory.NewBroker()

	connect := func(id string) *mqtt.Client {
		cfg := mqtt.DefaultConfig()
		cfg.ClientID = id
		c := mqtt.NewClient(cfg, mqtt.WithDialer(b.Dialer()), mqtt.WithLogger(discard))
		req.NoError(c.Connect(context.Background()))
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

	provider := pubsub.NewProvider(pubsub.Config{Driver: pubsub.DriverGoChannel}, watermill.NopLogger{})
	pub, err := provider.Publisher()
	req.NoError(err)

	router, err := NewWatermillRouter(watermill.NopLogger{})
	req.NoError(err)
	h := NewCommandHandler(alice, ctl, grp, provider, discard, watermill.NopLogger{})
	req.NoError(h.RegisterHandlers(router, pub))

	ctx, cancel := context.WithCancel(context.Background())
	go func() { _ = router.Run(ctx) }()
	<-router.Running()
	t.Cleanup(func() {
		cancel()
		_ = router.Close()
		_ = pub.Close()
	})

	return &bridge{pub: pub, alice: grp, bob: bob}
}

func (b *bridge) send(t *testing.T, command string, body any) {
	t.Helper()
	data, err := json.Marshal(body)
	require.NoError(t, err)
	require.NoError(t, b.pub.Publish(CommandTopic("alice", command), message.NewMessage(watermill.NewUUID(), data)))
}

func waitFor(t *testing.T, src service.EventSource, kind event.Kind) {
	t.Helper()
	require.Eventually(t, func() bool {
		for _, ev := range src.PollAllEvents() {
			if ev.GetKind() == kind {
				return true
			}
		}
		return false
	}, 2*time.Second, 5*time.Millisecond, "no %s event", kind)
}

func TestCommandTopic(t *testing.T) {
	require.Equal(t, "im_chat.v1.cmd.alice.send_invite", CommandTopic("alice", CmdSendInvite))
}

func TestBridge_SendInviteCommand(t *testing.T) {
	b := newBridge(t)

	// When a remote producer asks alice to invite bob
	b.send(t, CmdSendInvite, SendInviteCmd{TargetUserID: "bob"})

	// Then bob receives the invite over MQTT
	waitFor(t, b.bob, event.InviteReceived)
}

func TestBridge_MalformedCommandIsAckedAndPipelineContinues(t *testing.T) {
	req := require.New(t)
	b := newBridge(t)

	// Given a poison pill
	req.NoError(b.pub.Publish(CommandTopic("alice", CmdCreateGroup), message.NewMessage(watermill.NewUUID(), []byte("{oops"))))
	// and a command rejected by validation
	b.send(t, CmdCreateGroup, CreateGroupCmd{})

	// When a valid command follows
	b.send(t, CmdCreateGroup, CreateGroupCmd{GroupName: "ops"})

	// Then it is executed
	waitFor(t, b.alice, event.GroupCreated)
	req.Len(b.alice.AdminGroups(), 1)
	req.Equal("ops", b.alice.AdminGroups()[0].GroupName)
}

func TestBind_PermissionErrorsAreTerminal(t *testing.T) {
	b := newBridge(t)

	// alice is not the admin: the command is acked, not retried into the poison queue
	b.send(t, CmdApproveJoin, JoinDecisionCmd{GroupID: "group_x", UserID: "bob", RequestID: "join_1"})
	b.send(t, CmdCreateGroup, CreateGroupCmd{GroupName: "after"})

	waitFor(t, b.alice, event.GroupCreated)
}
