package service

import (
	"log/slog"
	"time"

	"github.com/webitel/im-mqtt-chat/internal/domain/model"
)

// ControlMiddleware implements [DECORATOR_PATTERN] to add call auditing to
// the direct-chat operations without touching protocol logic.
type ControlMiddleware struct {
	Controller
	Logger *slog.Logger
}

func NewControlMiddleware(next Controller, logger *slog.Logger) Controller {
	return &ControlMiddleware{Controller: next, Logger: logger}
}

func (m *ControlMiddleware) SendInvite(target, from string) (string, error) {
	start := time.Now()
	id, err := m.Controller.SendInvite(target, from)
	m.audit("SEND_INVITE", start, err, "target", target, "request_id", id)
	return id, err
}

func (m *ControlMiddleware) AcceptInvite(requestID, from string) (string, error) {
	start := time.Now()
	topic, err := m.Controller.AcceptInvite(requestID, from)
	m.audit("ACCEPT_INVITE", start, err, "request_id", requestID, "chat_topic", topic)
	return topic, err
}

func (m *ControlMiddleware) RejectInvite(requestID, from string) error {
	start := time.Now()
	err := m.Controller.RejectInvite(requestID, from)
	m.audit("REJECT_INVITE", start, err, "request_id", requestID)
	return err
}

func (m *ControlMiddleware) SendMessage(chatTopic, content string) (string, error) {
	start := time.Now()
	id, err := m.Controller.SendMessage(chatTopic, content)
	m.audit("SEND_MESSAGE", start, err, "chat_topic", chatTopic, "message_id", id, "size", len(content))
	return id, err
}

func (m *ControlMiddleware) SetConversations(entries []model.ConversationEntry) {
	start := time.Now()
	m.Controller.SetConversations(entries)
	m.audit("SET_CONVERSATIONS", start, nil, "count", len(entries))
}

func (m *ControlMiddleware) audit(op string, start time.Time, err error, attrs ...any) {
	attrs = append(attrs, "op", op, "duration_ms", time.Since(start).Milliseconds())
	if err != nil {
		m.Logger.Warn("CONTROL_CALL_FAILED", append(attrs, "err", err)...)
		return
	}
	m.Logger.Debug("CONTROL_CALL_COMPLETED", attrs...)
}

// GroupMiddleware is the Grouper counterpart of ControlMiddleware.
type GroupMiddleware struct {
	Grouper
	Logger *slog.Logger
}

func NewGroupMiddleware(next Grouper, logger *slog.Logger) Grouper {
	return &GroupMiddleware{Grouper: next, Logger: logger}
}

func (m *GroupMiddleware) CreateGroup(name string) (string, error) {
	start := time.Now()
	id, err := m.Grouper.CreateGroup(name)
	m.audit("CREATE_GROUP", start, err, "group_id", id)
	return id, err
}

func (m *GroupMiddleware) RequestJoinGroup(groupID, adminID string) (string, error) {
	start := time.Now()
	id, err := m.Grouper.RequestJoinGroup(groupID, adminID)
	m.audit("REQUEST_JOIN", start, err, "group_id", groupID, "admin", adminID, "request_id", id)
	return id, err
}

func (m *GroupMiddleware) ApproveJoinRequest(groupID, userID, requestID string) error {
	start := time.Now()
	err := m.Grouper.ApproveJoinRequest(groupID, userID, requestID)
	m.audit("APPROVE_JOIN", start, err, "group_id", groupID, "user", userID)
	return err
}

func (m *GroupMiddleware) RejectJoinRequest(groupID, userID, requestID string) error {
	start := time.Now()
	err := m.Grouper.RejectJoinRequest(groupID, userID, requestID)
	m.audit("REJECT_JOIN", start, err, "group_id", groupID, "user", userID)
	return err
}

func (m *GroupMiddleware) SendGroupMessage(groupID, content string) (string, error) {
	start := time.Now()
	id, err := m.Grouper.SendGroupMessage(groupID, content)
	m.audit("SEND_GROUP_MESSAGE", start, err, "group_id", groupID, "message_id", id)
	return id, err
}

func (m *GroupMiddleware) LeaveGroup(groupID string) error {
	start := time.Now()
	err := m.Grouper.LeaveGroup(groupID)
	m.audit("LEAVE_GROUP", start, err, "group_id", groupID)
	return err
}

func (m *GroupMiddleware) audit(op string, start time.Time, err error, attrs ...any) {
	attrs = append(attrs, "op", op, "duration_ms", time.Since(start).Milliseconds())
	if err != nil {
		m.Logger.Warn("GROUP_CALL_FAILED", append(attrs, "err", err)...)
		return
	}
	m.Logger.Debug("GROUP_CALL_COMPLETED", attrs...)
}
