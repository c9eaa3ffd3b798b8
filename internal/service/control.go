package service

import (
	"encoding/json"
	"log/slog"
	"strings"
	"sync"

	"github.com/webitel/im-mqtt-chat/infra/mqtt"
	"github.com/webitel/im-mqtt-chat/internal/domain/event"
	"github.com/webitel/im-mqtt-chat/internal/domain/model"
)

// [CONTROL_SERVICE] DIRECT CHAT: HANDSHAKE, PRESENCE, SNAPSHOTS, MESSAGES
type Controller interface {
	EventSource
	Initialize()
	Close()

	SendInvite(targetUserID, fromUserID string) (string, error)
	AcceptInvite(requestID, fromUserID string) (string, error)
	RejectInvite(requestID, fromUserID string) error
	SubscribeChat(chatTopic string) error
	LeaveChat(chatTopic string) error
	SendMessage(chatTopic, content string) (string, error)

	SetOnlineStatus()
	SetOfflineStatus()
	SetStatusDisconnect()
	SetStatusConnect()
	PingPresence()

	SetConversations(entries []model.ConversationEntry)
	CleanConversations()
}

var _ Controller = (*ControlService)(nil)

// ControlService speaks the direct-chat protocol of one user.
//
// A handshake moves NONE -> INVITED -> ACCEPTED | REJECTED and is keyed by its
// requestId; nothing expires, an unanswered invite simply stays INVITED.
type ControlService struct {
	outbox
	transport Transport
	seen      *dedup

	initOnce  sync.Once
	unobserve func()
}

func NewControlService(t Transport, logger *slog.Logger, opts ...Option) *ControlService {
	o := buildOptions(opts)
	userID := t.ClientID()
	return &ControlService{
		outbox:    newOutbox(userID, logger.With("service", "control", "user_id", userID)),
		transport: t,
		seen:      newDedup(o.dedupSize),
	}
}

// Initialize chains the global handler, subscribes the snapshot and control
// topics, announces the user online and subscribes to everybody's presence.
// Handlers are in place before any subscription so retained replays are not lost.
func (s *ControlService) Initialize() {
	s.initOnce.Do(func() {
		s.transport.Chain(s.route)

		s.transport.Subscribe(model.LoadConversationTopic(s.userID), nil, mqtt.AtLeastOnce)
		s.transport.Subscribe(model.ControlTopic(s.userID), s.handleControlMessage, mqtt.AtLeastOnce)
		s.SetOnlineStatus()
		s.transport.Subscribe(model.PresenceWildcard, nil, mqtt.AtLeastOnce)

		// [RECONNECT] the broker may have published our will meanwhile
		s.unobserve = s.transport.OnConnectionStatus(func(connected bool) {
			if connected {
				s.SetOnlineStatus()
			}
		})

		s.logger.Info("CONTROL_SERVICE_READY")
	})
}

func (s *ControlService) Close() {
	if s.unobserve != nil {
		s.unobserve()
	}
}

// ------------------- HANDSHAKE -------------------

// SendInvite asks targetUserID to open a direct chat. fromUserID defaults to
// the current user. The returned requestId correlates the later answer.
func (s *ControlService) SendInvite(targetUserID, fromUserID string) (string, error) {
	if err := required("target user id", targetUserID); err != nil {
		return "", err
	}
	if fromUserID == "" {
		fromUserID = s.userID
	}

	requestID := model.NewID(model.InviteIDPrefix)
	s.transport.Publish(model.ControlTopic(targetUserID), model.InviteRequest{
		Type:      model.TypeInvite,
		From:      fromUserID,
		RequestID: requestID,
		Timestamp: now(),
	}, mqtt.AtLeastOnce, false)

	s.logger.Info("INVITE_SENT", "target", targetUserID, "request_id", requestID)
	return requestID, nil
}

// AcceptInvite answers the inviter and returns the chat topic right away; it
// neither waits for the broker nor subscribes. The caller follows up with SubscribeChat.
func (s *ControlService) AcceptInvite(requestID, fromUserID string) (string, error) {
	if err := required("inviter user id", fromUserID); err != nil {
		return "", err
	}

	chatTopic := model.ChatTopic(fromUserID, s.userID)
	s.transport.Publish(model.ControlTopic(fromUserID), model.InviteAccept{
		Type:      model.TypeAccept,
		From:      s.userID,
		To:        fromUserID,
		ChatTopic: chatTopic,
		RequestID: requestID,
		Timestamp: now(),
	}, mqtt.AtLeastOnce, false)

	s.logger.Info("INVITE_ACCEPTED", "inviter", fromUserID, "request_id", requestID, "chat_topic", chatTopic)
	return chatTopic, nil
}

func (s *ControlService) RejectInvite(requestID, fromUserID string) error {
	if err := required("inviter user id", fromUserID); err != nil {
		return err
	}

	s.transport.Publish(model.ControlTopic(fromUserID), model.InviteReject{
		Type:      model.TypeReject,
		From:      s.userID,
		To:        fromUserID,
		RequestID: requestID,
		Timestamp: now(),
	}, mqtt.AtLeastOnce, false)

	s.logger.Info("INVITE_REJECTED", "inviter", fromUserID, "request_id", requestID)
	return nil
}

// ------------------- CHATS -------------------

func (s *ControlService) SubscribeChat(chatTopic string) error {
	if err := required("chat topic", chatTopic); err != nil {
		return err
	}
	s.transport.Subscribe(chatTopic, nil, mqtt.AtLeastOnce)
	s.push(event.ChatSubscribed, event.ChatSubscribedPayload{ChatTopic: chatTopic, Timestamp: now()})

	s.logger.Debug("CHAT_SUBSCRIBED", "chat_topic", chatTopic)
	return nil
}

func (s *ControlService) LeaveChat(chatTopic string) error {
	if err := required("chat topic", chatTopic); err != nil {
		return err
	}
	s.transport.Unsubscribe(chatTopic)
	s.logger.Debug("CHAT_LEFT", "chat_topic", chatTopic)
	return nil
}

// SendMessage publishes content on chatTopic and returns its messageId.
// It is fire-and-forget: no delivery confirmation is awaited.
func (s *ControlService) SendMessage(chatTopic, content string) (string, error) {
	if err := required("chat topic", chatTopic); err != nil {
		return "", err
	}

	messageID := model.NewID(model.MessageIDPrefix)
	s.transport.Publish(chatTopic, model.ChatMessage{
		Type:      model.TypeMessage,
		From:      s.userID,
		Content:   content,
		MessageID: messageID,
		ChatTopic: chatTopic,
		Timestamp: now(),
	}, mqtt.AtLeastOnce, false)

	s.logger.Debug("MESSAGE_SENT", "chat_topic", chatTopic, "message_id", messageID)
	return messageID, nil
}

// ------------------- PRESENCE -------------------

func (s *ControlService) SetOnlineStatus()  { s.publishPresence(model.StatusOnline) }
func (s *ControlService) SetOfflineStatus() { s.publishPresence(model.StatusOffline) }

// SetStatusDisconnect is the graceful leave: peers see the user offline
// without waiting for the broker to fire the will.
func (s *ControlService) SetStatusDisconnect() {
	s.SetOfflineStatus()
	s.logger.Info("PRESENCE_LEAVE")
}

// SetStatusConnect is the graceful return.
func (s *ControlService) SetStatusConnect() {
	s.SetOnlineStatus()
	s.logger.Info("PRESENCE_RETURN")
}

// PingPresence subscribes to presence/# again so the broker replays every retained record.
func (s *ControlService) PingPresence() {
	s.transport.Subscribe(model.PresenceWildcard, nil, mqtt.AtLeastOnce)
}

func (s *ControlService) publishPresence(status model.PresenceStatus) {
	s.transport.Publish(model.PresenceTopic(s.userID), model.NewPresence(s.userID, status), mqtt.AtLeastOnce, true)
	s.logger.Debug("PRESENCE_PUBLISHED", "status", status)
}

// OfflineWill is the presence record the broker publishes on our behalf when
// the connection dies without a goodbye.
func OfflineWill(userID string) *mqtt.Will {
	payload, _ := json.Marshal(model.NewPresence(userID, model.StatusOffline))
	return &mqtt.Will{
		Topic:    model.PresenceTopic(userID),
		Payload:  payload,
		QoS:      mqtt.AtLeastOnce,
		Retained: true,
	}
}

// ------------------- SNAPSHOTS -------------------

// SetConversations replaces the retained snapshot; the last publish wins and
// nothing is merged.
func (s *ControlService) SetConversations(entries []model.ConversationEntry) {
	s.transport.Publish(model.LoadConversationTopic(s.userID), model.NewConversationSnapshot(entries), mqtt.AtLeastOnce, true)
	s.logger.Debug("CONVERSATIONS_SAVED", "count", len(entries))
}

// CleanConversations deletes the snapshot with an empty retained payload.
func (s *ControlService) CleanConversations() {
	s.transport.Publish(model.LoadConversationTopic(s.userID), "", mqtt.AtLeastOnce, true)
	s.logger.Debug("CONVERSATIONS_CLEARED")
}

// ------------------- INBOUND -------------------

// handleControlMessage is bound to control/<self>.
func (s *ControlService) handleControlMessage(topic string, payload []byte) {
	msg, err := model.ParseControlMessage(payload)
	if err != nil {
		s.fail(topic, payload, err)
		return
	}

	switch m := msg.(type) {
	case *model.InviteRequest:
		s.push(event.InviteReceived, event.InviteReceivedPayload{
			From:      m.From,
			RequestID: m.RequestID,
			Timestamp: m.Timestamp,
		})
		s.logger.Info("INVITE_RECEIVED", "from", m.From, "request_id", m.RequestID)

	case *model.InviteAccept:
		// derived locally: both sides compute the same topic
		chatTopic := model.ChatTopic(m.From, s.userID)
		_ = s.SubscribeChat(chatTopic)
		s.push(event.InviteAccepted, event.InviteAcceptedPayload{
			AcceptedBy: m.From,
			ChatTopic:  chatTopic,
			RequestID:  m.RequestID,
			Timestamp:  m.Timestamp,
		})
		s.logger.Info("INVITE_ANSWER_ACCEPTED", "by", m.From, "request_id", m.RequestID)

	case *model.InviteReject:
		s.push(event.InviteRejected, event.InviteRejectedPayload{
			RejectedBy: m.From,
			RequestID:  m.RequestID,
			Timestamp:  m.Timestamp,
		})
		s.logger.Info("INVITE_ANSWER_REJECTED", "by", m.From, "request_id", m.RequestID)
	}
}

// route is the chained global handler: presence, own snapshot, direct chats.
func (s *ControlService) route(topic string, payload []byte) {
	switch {
	case strings.HasPrefix(topic, model.PresencePrefix):
		s.handlePresence(topic, payload)
	case topic == model.LoadConversationTopic(s.userID):
		s.handleSnapshot(topic, payload)
	case strings.HasPrefix(topic, model.ChatPrefix):
		s.handleChatMessage(topic, payload)
	}
}

func (s *ControlService) handlePresence(topic string, payload []byte) {
	// a cleared retained record carries no state
	if len(payload) == 0 {
		return
	}
	p, err := model.ParsePresence(topic, payload)
	if err != nil {
		s.fail(topic, payload, err)
		return
	}
	if p.UserID == s.userID {
		return
	}
	s.push(event.PresenceUpdate, event.PresencePayload{
		UserID:    p.UserID,
		Status:    p.Status,
		Timestamp: p.Timestamp,
	})
}

func (s *ControlService) handleSnapshot(topic string, payload []byte) {
	snap, err := model.ParseConversationSnapshot(payload)
	if err != nil {
		s.fail(topic, payload, err)
		return
	}
	s.push(event.LoadConversation, event.ConversationsPayload{Conversations: snap.Conversations})
}

func (s *ControlService) handleChatMessage(topic string, payload []byte) {
	msg, err := model.ParseChatMessage(payload)
	if err != nil {
		s.fail(topic, payload, err)
		return
	}
	// [ECHO_SUPPRESSION]
	if msg.From == s.userID {
		return
	}
	if s.seen.Seen(msg.MessageID) {
		s.logger.Debug("DUPLICATE_MESSAGE_DROPPED", "message_id", msg.MessageID)
		return
	}

	chatTopic := msg.ChatTopic
	if chatTopic == "" {
		chatTopic = topic
	}
	s.push(event.MessageReceived, event.MessagePayload{
		From:      msg.From,
		Content:   msg.Content,
		MessageID: msg.MessageID,
		ChatTopic: chatTopic,
		Timestamp: msg.Timestamp,
	})
}
