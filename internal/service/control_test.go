package service

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/webitel/im-mqtt-chat/infra/mqtt"
	"github.com/webitel/im-mqtt-chat/infra/mqtt/memory"
	"github.com/webitel/im-mqtt-chat/internal/domain/event"
	"github.com/webitel/im-mqtt-chat/internal/domain/model"
	apperr "github.com/webitel/im-mqtt-chat/pkg/errors"
)

func TestControl_DirectChatHandshakeAndMessage(t *testing.T) {
	req := require.New(t)
	b := memory.NewBroker()
	u1 := newPeer(t, b, "U1")
	u2 := newPeer(t, b, "U2")

	// Given U1 invites U2
	requestID, err := u1.ctl.SendInvite("U2", "U1")
	req.NoError(err)

	// Then U2 sees the invite from U1
	inv := u2.ctlIn.take(t, event.InviteReceived).GetPayload().(event.InviteReceivedPayload)
	req.Equal("U1", inv.From)
	req.Equal(requestID, inv.RequestID)

	// When U2 accepts, the chat topic is returned synchronously
	chatTopic, err := u2.ctl.AcceptInvite(inv.RequestID, inv.From)
	req.NoError(err)
	req.Equal("chat/U1_U2", chatTopic)
	req.NoError(u2.ctl.SubscribeChat(chatTopic))
	u2.ctlIn.take(t, event.ChatSubscribed)

	// Then U1 learns the answer and is subscribed on its own
	u1.ctlIn.take(t, event.ChatSubscribed)
	acc := u1.ctlIn.take(t, event.InviteAccepted).GetPayload().(event.InviteAcceptedPayload)
	req.Equal("chat/U1_U2", acc.ChatTopic)
	req.Equal("U2", acc.AcceptedBy)
	req.Equal(requestID, acc.RequestID)

	// When U1 writes
	_, err = u1.ctl.SendMessage(chatTopic, "hi")
	req.NoError(err)

	// Then U2 receives it and U1 gets no echo
	msg := u2.ctlIn.take(t, event.MessageReceived).GetPayload().(event.MessagePayload)
	req.Equal("hi", msg.Content)
	req.Equal("U1", msg.From)
	req.Equal(chatTopic, msg.ChatTopic)
	req.Zero(u1.ctlIn.count(event.MessageReceived))
}

func TestControl_RejectInvite(t *testing.T) {
	req := require.New(t)
	b := memory.NewBroker()
	u1 := newPeer(t, b, "U1")
	u2 := newPeer(t, b, "U2")

	requestID, err := u1.ctl.SendInvite("U2", "")
	req.NoError(err)
	inv := u2.ctlIn.take(t, event.InviteReceived).GetPayload().(event.InviteReceivedPayload)
	req.Equal("U1", inv.From, "from defaults to the current user")

	req.NoError(u2.ctl.RejectInvite(inv.RequestID, inv.From))

	rej := u1.ctlIn.take(t, event.InviteRejected).GetPayload().(event.InviteRejectedPayload)
	req.Equal("U2", rej.RejectedBy)
	req.Equal(requestID, rej.RequestID)
	req.Zero(u1.ctlIn.count(event.ChatSubscribed))
}

func TestControl_DuplicateDeliveryIsSuppressed(t *testing.T) {
	req := require.New(t)
	b := memory.NewBroker()
	u1 := newPeer(t, b, "U1")
	u2 := newPeer(t, b, "U2")

	topic := model.ChatTopic("U1", "U2")
	req.NoError(u2.ctl.SubscribeChat(topic))

	// at-least-once: the same message arrives twice
	dup := model.ChatMessage{Type: model.TypeMessage, From: "U1", Content: "once", MessageID: "msg_1", ChatTopic: topic}
	u1.client.Publish(topic, dup, mqtt.AtLeastOnce, false)
	u1.client.Publish(topic, dup, mqtt.AtLeastOnce, false)

	u2.ctlIn.take(t, event.MessageReceived)
	req.Zero(u2.ctlIn.count(event.MessageReceived))
}

func TestControl_MalformedPayloadYieldsOneErrorAndDispatchGoesOn(t *testing.T) {
	req := require.New(t)
	b := memory.NewBroker()
	u1 := newPeer(t, b, "U1")
	u2 := newPeer(t, b, "U2")

	// Given garbage followed by a valid invite on the same topic
	u1.client.Publish(model.ControlTopic("U2"), "{not json", mqtt.AtLeastOnce, false)
	_, err := u1.ctl.SendInvite("U2", "U1")
	req.NoError(err)

	// Then exactly one error event, and the invite still arrives
	u2.ctlIn.take(t, event.InviteReceived)
	fail := u2.ctlIn.take(t, event.Error).GetPayload().(event.Failure)
	req.Equal("control/U2", fail.Topic)
	req.Equal("{not json", fail.Payload)
	req.ErrorIs(fail.Err, apperr.ErrProtocolParse)
	req.Zero(u2.ctlIn.count(event.Error))
}

func TestControl_WrongShapeHandshakeIsRejected(t *testing.T) {
	req := require.New(t)
	b := memory.NewBroker()
	u1 := newPeer(t, b, "U1")
	u2 := newPeer(t, b, "U2")

	// Given an acceptance that names no peer
	u1.client.Publish(model.ControlTopic("U2"), map[string]string{"type": model.TypeAccept}, mqtt.AtLeastOnce, false)
	_, err := u1.ctl.SendInvite("U2", "U1")
	req.NoError(err)

	// Then it is one parse error and no chat is opened
	u2.ctlIn.take(t, event.InviteReceived)
	fail := u2.ctlIn.take(t, event.Error).GetPayload().(event.Failure)
	req.Equal("control/U2", fail.Topic)
	req.ErrorIs(fail.Err, apperr.ErrProtocolParse)
	req.Zero(u2.ctlIn.count(event.Error))
	req.Zero(u2.ctlIn.count(event.ChatSubscribed))
	req.Zero(u2.ctlIn.count(event.InviteAccepted))
}

func TestControl_MalformedChatPayloadYieldsOneErrorEach(t *testing.T) {
	req := require.New(t)
	b := memory.NewBroker()
	u1 := newPeer(t, b, "U1")
	u2 := newPeer(t, b, "U2")

	topic := model.ChatTopic("U1", "U2")
	req.NoError(u2.ctl.SubscribeChat(topic))
	u2.ctlIn.take(t, event.ChatSubscribed)

	// Given broken JSON and an anonymous message ahead of a valid one
	u1.client.Publish(topic, "{not json", mqtt.AtLeastOnce, false)
	u1.client.Publish(topic, map[string]string{"type": model.TypeMessage, "content": "who?", "messageId": "msg_x"}, mqtt.AtLeastOnce, false)
	_, err := u1.ctl.SendMessage(topic, "hi")
	req.NoError(err)

	// Then the valid message arrives alone, next to two errors
	msg := u2.ctlIn.take(t, event.MessageReceived).GetPayload().(event.MessagePayload)
	req.Equal("hi", msg.Content)
	req.Zero(u2.ctlIn.count(event.MessageReceived))
	for range 2 {
		fail := u2.ctlIn.take(t, event.Error).GetPayload().(event.Failure)
		req.Equal(topic, fail.Topic)
		req.Equal(string(apperr.CodeProtocolParse), fail.Code)
	}
	req.Zero(u2.ctlIn.count(event.Error))
}

func TestControl_MalformedPresenceYieldsOneErrorEach(t *testing.T) {
	req := require.New(t)
	b := memory.NewBroker()
	u1 := newPeer(t, b, "U1")
	u2 := newPeer(t, b, "U2")

	fromX := func(ev event.Eventer) bool {
		return ev.GetPayload().(event.PresencePayload).UserID == "X"
	}

	// Given broken JSON and an unknown status ahead of a valid record
	topic := model.PresenceTopic("X")
	u1.client.Publish(topic, "{not json", mqtt.AtLeastOnce, false)
	u1.client.Publish(topic, map[string]string{"userId": "X", "status": "away"}, mqtt.AtLeastOnce, false)
	u1.client.Publish(topic, model.PresenceRecord{UserID: "X", Status: model.StatusOnline}, mqtt.AtLeastOnce, false)

	// Then only the valid record becomes an update
	p := u2.ctlIn.takeWhere(t, event.PresenceUpdate, fromX).GetPayload().(event.PresencePayload)
	req.Equal(model.StatusOnline, p.Status)
	req.Zero(u2.ctlIn.countWhere(event.PresenceUpdate, fromX))
	for range 2 {
		fail := u2.ctlIn.take(t, event.Error).GetPayload().(event.Failure)
		req.Equal(topic, fail.Topic)
		req.ErrorIs(fail.Err, apperr.ErrProtocolParse)
	}
	req.Zero(u2.ctlIn.count(event.Error))
}

func TestControl_MalformedSnapshotYieldsOneError(t *testing.T) {
	req := require.New(t)
	b := memory.NewBroker()
	u1 := newPeer(t, b, "U1")
	u2 := newPeer(t, b, "U2")

	// Given garbage on U2's own snapshot topic, then a real snapshot
	topic := model.LoadConversationTopic("U2")
	u1.client.Publish(topic, "{not json", mqtt.AtLeastOnce, false)
	u2.ctl.SetConversations([]model.ConversationEntry{{UserID: "U1", Topic: "chat/U1_U2", ChatIndividual: true}})

	// Then one error, and the snapshot still loads
	got := u2.ctlIn.take(t, event.LoadConversation).GetPayload().(event.ConversationsPayload)
	req.Len(got.Conversations, 1)
	fail := u2.ctlIn.take(t, event.Error).GetPayload().(event.Failure)
	req.Equal(topic, fail.Topic)
	req.Equal("{not json", fail.Payload)
	req.Zero(u2.ctlIn.count(event.Error))
}

func TestControl_UnknownControlTypeIsReported(t *testing.T) {
	req := require.New(t)
	b := memory.NewBroker()
	u1 := newPeer(t, b, "U1")
	u2 := newPeer(t, b, "U2")

	u1.client.Publish(model.ControlTopic("U2"), map[string]string{"type": "invite_expired"}, mqtt.AtLeastOnce, false)

	fail := u2.ctlIn.take(t, event.Error).GetPayload().(event.Failure)
	req.Equal(string(apperr.CodeUnknownMessage), fail.Code)
}

func TestControl_PresenceIsPropagatedAndSelfFiltered(t *testing.T) {
	req := require.New(t)
	b := memory.NewBroker()
	u1 := newPeer(t, b, "U1")
	u2 := newPeer(t, b, "U2")

	// U1 was online before U2 subscribed: the retained record is replayed
	online := u2.ctlIn.take(t, event.PresenceUpdate).GetPayload().(event.PresencePayload)
	req.Equal("U1", online.UserID)
	req.Equal(model.StatusOnline, online.Status)

	u1.ctl.SetStatusDisconnect()
	off := u2.ctlIn.take(t, event.PresenceUpdate).GetPayload().(event.PresencePayload)
	req.Equal(model.StatusOffline, off.Status)

	u1.ctl.SetStatusConnect()
	back := u2.ctlIn.take(t, event.PresenceUpdate).GetPayload().(event.PresencePayload)
	req.Equal(model.StatusOnline, back.Status)

	// U1 sees U2 but never itself
	ev := u1.ctlIn.take(t, event.PresenceUpdate)
	req.Equal("U2", ev.GetPayload().(event.PresencePayload).UserID)
	req.Zero(u1.ctlIn.count(event.PresenceUpdate))
}

func TestControl_PingPresenceReplaysRetainedRecords(t *testing.T) {
	req := require.New(t)
	b := memory.NewBroker()
	_ = newPeer(t, b, "U1")
	u2 := newPeer(t, b, "U2")

	u2.ctlIn.take(t, event.PresenceUpdate)
	req.Zero(u2.ctlIn.count(event.PresenceUpdate))

	u2.ctl.PingPresence()
	p := u2.ctlIn.take(t, event.PresenceUpdate).GetPayload().(event.PresencePayload)
	req.Equal("U1", p.UserID)
}

func TestControl_WillAndReconnectRepublishPresence(t *testing.T) {
	req := require.New(t)
	b := memory.NewBroker()
	u1 := newPeer(t, b, "U1")
	u2 := newPeer(t, b, "U2")
	u2.ctlIn.take(t, event.PresenceUpdate)

	// When U1's connection dies, the broker fires the will
	req.True(b.Drop("U1"))
	off := u2.ctlIn.take(t, event.PresenceUpdate).GetPayload().(event.PresencePayload)
	req.Equal(model.StatusOffline, off.Status)

	// Then U1 reconnects by itself and announces itself again
	req.Eventually(u1.client.IsConnected, wait, tick)
	on := u2.ctlIn.take(t, event.PresenceUpdate).GetPayload().(event.PresencePayload)
	req.Equal(model.StatusOnline, on.Status)

	raw, ok := b.Retained(model.PresenceTopic("U1"))
	req.True(ok)
	var rec model.PresenceRecord
	req.NoError(json.Unmarshal(raw, &rec))
	req.Equal(model.StatusOnline, rec.Status)
}

func TestControl_SnapshotIsIdempotentAndReplaced(t *testing.T) {
	req := require.New(t)
	b := memory.NewBroker()
	u1 := newPeer(t, b, "U1")
	topic := model.LoadConversationTopic("U1")

	ts := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	first := []model.ConversationEntry{{UserID: "U2", Topic: "chat/U1_U2", ChatIndividual: true, Timestamp: ts}}

	// Publishing the same snapshot twice leaves identical bytes
	u1.ctl.SetConversations(first)
	a, ok := b.Retained(topic)
	req.True(ok)
	u1.ctl.SetConversations(first)
	again, _ := b.Retained(topic)
	req.Equal(a, again)

	// Clean then set: nothing of the old snapshot survives
	u1.ctl.CleanConversations()
	_, ok = b.Retained(topic)
	req.False(ok)

	second := []model.ConversationEntry{{UserID: "group_1", Topic: "group/chat/group_1", Timestamp: ts}}
	u1.ctl.SetConversations(second)
	raw, _ := b.Retained(topic)
	var snap model.ConversationSnapshot
	req.NoError(json.Unmarshal(raw, &snap))
	req.Equal(model.TypeLoadConversation, snap.Type)
	req.Len(snap.Conversations, 1)
	req.Equal("group_1", snap.Conversations[0].UserID)

	// The owner observes each state, the cleared one as an empty list
	for range 2 {
		u1.ctlIn.take(t, event.LoadConversation)
	}
	cleared := u1.ctlIn.take(t, event.LoadConversation).GetPayload().(event.ConversationsPayload)
	req.Empty(cleared.Conversations)
	last := u1.ctlIn.take(t, event.LoadConversation).GetPayload().(event.ConversationsPayload)
	req.Len(last.Conversations, 1)
}

func TestControl_SnapshotIsRestoredOnInitialize(t *testing.T) {
	req := require.New(t)
	b := memory.NewBroker()

	// Given a snapshot retained by an earlier session
	prev := newPeer(t, b, "U1")
	prev.ctl.SetConversations([]model.ConversationEntry{{UserID: "U2", Topic: "chat/U1_U2", ChatIndividual: true}})
	prev.client.Disconnect()

	// When the user comes back
	u1 := newPeer(t, b, "U1")

	// Then the conversation list is loaded from the retained value
	got := u1.ctlIn.take(t, event.LoadConversation).GetPayload().(event.ConversationsPayload)
	req.Len(got.Conversations, 1)
	req.Equal("chat/U1_U2", got.Conversations[0].Topic)
}

func TestControl_PollAllEventsIsExhaustiveAndDestructive(t *testing.T) {
	req := require.New(t)
	b := memory.NewBroker()
	u1 := newPeer(t, b, "U1")

	req.NoError(u1.ctl.SubscribeChat("chat/U1_U2"))
	req.NoError(u1.ctl.SubscribeChat("chat/U1_U3"))

	first := u1.ctl.PollAllEvents()
	req.Len(first, 2)
	req.Equal(event.ChatSubscribed, first[0].GetKind())
	req.Empty(u1.ctl.PollAllEvents())
	req.Zero(u1.ctl.PendingEvents())
}

func TestControl_LeaveChatStopsDelivery(t *testing.T) {
	req := require.New(t)
	b := memory.NewBroker()
	u1 := newPeer(t, b, "U1")
	u2 := newPeer(t, b, "U2")

	topic := model.ChatTopic("U1", "U2")
	req.NoError(u2.ctl.SubscribeChat(topic))
	req.NoError(u2.ctl.LeaveChat(topic))

	_, err := u1.ctl.SendMessage(topic, "anyone?")
	req.NoError(err)
	req.Zero(u2.ctlIn.count(event.MessageReceived))
}

func TestControl_RequiredArguments(t *testing.T) {
	req := require.New(t)
	u1 := newPeer(t, memory.NewBroker(), "U1")

	_, err := u1.ctl.SendInvite("", "U1")
	req.ErrorIs(err, apperr.ErrEmptyArgument)
	_, err = u1.ctl.AcceptInvite("invite_1", "")
	req.ErrorIs(err, apperr.ErrEmptyArgument)
	_, err = u1.ctl.SendMessage("", "hi")
	req.ErrorIs(err, apperr.ErrEmptyArgument)
}
