package event

// Kind is the discriminant of a service event, stable on every consumer surface.
type Kind string

const (
	// [DIRECT_CHAT]
	InviteReceived   Kind = "invite_received"
	InviteAccepted   Kind = "invite_accepted"
	InviteRejected   Kind = "invite_rejected"
	MessageReceived  Kind = "message_received"
	ChatSubscribed   Kind = "chat_subscribed"
	PresenceUpdate   Kind = "presence_update"
	LoadConversation Kind = "load_conversation"

	// [GROUP]
	GroupCreated             Kind = "group_created"
	GroupJoinRequestReceived Kind = "group_join_request_received"
	GroupJoinApproved        Kind = "group_join_approved"
	GroupJoinRejected        Kind = "group_join_rejected"
	GroupMessageReceived     Kind = "group_message_received"
	GroupMemberLeft          Kind = "group_member_left"
	GroupListReceived        Kind = "group_list_received"
	GroupAnnounced           Kind = "group_announced"

	Error Kind = "error"

	// [SYSTEM] local stream signals, never produced by the services
	Connected    Kind = "connected"
	Disconnected Kind = "disconnected"
)

type Priority int32

const (
	PriorityLow    Priority = 10
	PriorityNormal Priority = 20
	PriorityHigh   Priority = 30
)

// Eventer defines the contract for all events flowing from the services to consumers.
type Eventer interface {
	GetID() string
	GetKind() Kind
	GetUserID() string
	GetPriority() Priority
	GetOccurredAt() int64
	GetPayload() any
	GetCached() any
	SetCached(any)
}

// Exportable defines an event that should be re-published to the message bus.
type Exportable interface {
	// An empty key means the event stays local.
	GetRoutingKey() string
}

// PriorityOf ranks kinds for the fan-out hub: handshakes and admission outrank
// chatter, presence churn is the first thing dropped under pressure.
func PriorityOf(k Kind) Priority {
	switch k {
	case InviteReceived, InviteAccepted, InviteRejected,
		GroupJoinRequestReceived, GroupJoinApproved, GroupJoinRejected,
		Error, Connected, Disconnected:
		return PriorityHigh
	case PresenceUpdate, GroupAnnounced, GroupListReceived:
		return PriorityLow
	default:
		return PriorityNormal
	}
}
