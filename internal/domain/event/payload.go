package event

import (
	"time"

	"github.com/webitel/im-mqtt-chat/internal/domain/model"
)

// ------------------- DIRECT CHAT PAYLOADS -------------------

type InviteReceivedPayload struct {
	From      string    `json:"from"`
	RequestID string    `json:"requestId"`
	Timestamp time.Time `json:"timestamp"`
}

type InviteAcceptedPayload struct {
	AcceptedBy string    `json:"acceptedBy"`
	ChatTopic  string    `json:"chatTopic"`
	RequestID  string    `json:"requestId"`
	Timestamp  time.Time `json:"timestamp"`
}

type InviteRejectedPayload struct {
	RejectedBy string    `json:"rejectedBy"`
	RequestID  string    `json:"requestId"`
	Timestamp  time.Time `json:"timestamp"`
}

type MessagePayload struct {
	From      string    `json:"from"`
	Content   string    `json:"content"`
	MessageID string    `json:"messageId"`
	ChatTopic string    `json:"chatTopic"`
	Timestamp time.Time `json:"timestamp"`
}

type ChatSubscribedPayload struct {
	ChatTopic string    `json:"chatTopic"`
	Timestamp time.Time `json:"timestamp"`
}

type PresencePayload struct {
	UserID    string               `json:"userId"`
	Status    model.PresenceStatus `json:"status"`
	Timestamp time.Time            `json:"timestamp"`
}

type ConversationsPayload struct {
	Conversations []model.ConversationEntry `json:"conversations"`
}

// ------------------- GROUP PAYLOADS -------------------

type GroupCreatedPayload struct {
	GroupID    string    `json:"groupId"`
	GroupName  string    `json:"groupName"`
	GroupTopic string    `json:"groupTopic"`
	Timestamp  time.Time `json:"timestamp"`
}

type JoinRequestPayload struct {
	GroupID   string    `json:"groupId"`
	UserID    string    `json:"userId"`
	RequestID string    `json:"requestId"`
	Timestamp time.Time `json:"timestamp"`
}

type JoinApprovedPayload struct {
	GroupID    string    `json:"groupId"`
	GroupName  string    `json:"groupName,omitempty"`
	GroupTopic string    `json:"groupTopic"`
	RequestID  string    `json:"requestId"`
	ApprovedBy string    `json:"approvedBy"`
	Timestamp  time.Time `json:"timestamp"`
}

type JoinRejectedPayload struct {
	GroupID    string    `json:"groupId"`
	RequestID  string    `json:"requestId"`
	RejectedBy string    `json:"rejectedBy"`
	Timestamp  time.Time `json:"timestamp"`
}

type GroupMessagePayload struct {
	GroupID   string    `json:"groupId"`
	From      string    `json:"from"`
	Content   string    `json:"content"`
	MessageID string    `json:"messageId"`
	Timestamp time.Time `json:"timestamp"`
}

type MemberLeftPayload struct {
	GroupID   string    `json:"groupId"`
	UserID    string    `json:"userId"`
	Timestamp time.Time `json:"timestamp"`
}

type GroupListPayload struct {
	RequestID   string            `json:"requestId"`
	RespondedBy string            `json:"respondedBy,omitempty"`
	Groups      []model.GroupInfo `json:"groups"`
	Timestamp   time.Time         `json:"timestamp"`
}

// Failure describes a payload the service could not process.
type Failure struct {
	Error     string    `json:"error"`
	Code      string    `json:"code"`
	Topic     string    `json:"topic"`
	Payload   string    `json:"payload,omitempty"`
	Timestamp time.Time `json:"timestamp"`
	Err       error     `json:"-"`
}
