package model

import (
	"time"

	apperr "github.com/webitel/im-mqtt-chat/pkg/errors"
)

// ------------------- GROUP WIRE TYPES -------------------
const (
	TypeGroupCreate        = "group_create"
	TypeGroupJoinRequest   = "group_join_request"
	TypeGroupJoinApproval  = "group_join_approval"
	TypeGroupJoinRejection = "group_join_rejection"
	TypeGroupMessage       = "group_message"
	TypeGroupMemberLeft    = "group_member_left"
	TypeGroupListRequest   = "group_list_request"
	TypeGroupListResponse  = "group_list_response"
)

// GroupInfo is the locally tracked view of a group.
type GroupInfo struct {
	GroupID     string `json:"groupId"`
	GroupName   string `json:"groupName"`
	AdminID     string `json:"adminId"`
	MemberCount int    `json:"memberCount"`
}

// GroupControl is the closed set of admission messages on group/control/<user>.
type GroupControl interface{ groupControl() }

// GroupChat is the closed set of content messages on group/chat/<group>.
type GroupChat interface{ groupChat() }

// GroupList is the closed set of directory messages on group/list.
type GroupList interface{ groupList() }

type GroupCreate struct {
	Type        string    `json:"type"`
	GroupID     string    `json:"groupId" validate:"required"`
	GroupName   string    `json:"groupName"`
	AdminID     string    `json:"adminId" validate:"required"`
	MemberCount int       `json:"memberCount,omitempty"`
	Timestamp   time.Time `json:"timestamp"`
}

// Info converts the announcement; an announcement without a count means the admin alone.
func (m *GroupCreate) Info() GroupInfo {
	count := m.MemberCount
	if count < 1 {
		count = 1
	}
	return GroupInfo{GroupID: m.GroupID, GroupName: m.GroupName, AdminID: m.AdminID, MemberCount: count}
}

type GroupJoinRequest struct {
	Type      string    `json:"type"`
	GroupID   string    `json:"groupId" validate:"required"`
	UserID    string    `json:"userId" validate:"required"`
	RequestID string    `json:"requestId"`
	Timestamp time.Time `json:"timestamp"`
}

type GroupJoinApproval struct {
	Type       string    `json:"type"`
	GroupID    string    `json:"groupId" validate:"required"`
	GroupName  string    `json:"groupName,omitempty"`
	GroupTopic string    `json:"groupTopic"`
	UserID     string    `json:"userId"`
	RequestID  string    `json:"requestId"`
	ApprovedBy string    `json:"approvedBy"`
	Timestamp  time.Time `json:"timestamp"`
}

type GroupJoinRejection struct {
	Type       string    `json:"type"`
	GroupID    string    `json:"groupId" validate:"required"`
	UserID     string    `json:"userId"`
	RequestID  string    `json:"requestId"`
	RejectedBy string    `json:"rejectedBy"`
	Timestamp  time.Time `json:"timestamp"`
}

type GroupMessage struct {
	Type      string    `json:"type"`
	From      string    `json:"from" validate:"required"`
	GroupID   string    `json:"groupId"`
	Content   string    `json:"content"`
	MessageID string    `json:"messageId" validate:"required"`
	Timestamp time.Time `json:"timestamp"`
}

type GroupMemberLeft struct {
	Type      string    `json:"type"`
	GroupID   string    `json:"groupId"`
	UserID    string    `json:"userId" validate:"required"`
	Timestamp time.Time `json:"timestamp"`
}

type GroupListRequest struct {
	Type        string    `json:"type"`
	RequestID   string    `json:"requestId" validate:"required"`
	RequestedBy string    `json:"requestedBy"`
	Timestamp   time.Time `json:"timestamp"`
}

type GroupListResponse struct {
	Type        string      `json:"type"`
	RequestID   string      `json:"requestId"`
	RespondedBy string      `json:"respondedBy,omitempty"`
	Groups      []GroupInfo `json:"groups"`
	Timestamp   time.Time   `json:"timestamp"`
}

func (*GroupJoinRequest) groupControl()   {}
func (*GroupJoinApproval) groupControl()  {}
func (*GroupJoinRejection) groupControl() {}
func (*GroupMemberLeft) groupControl()    {}

func (*GroupMessage) groupChat()    {}
func (*GroupMemberLeft) groupChat() {}

func (*GroupCreate) groupList()       {}
func (*GroupListRequest) groupList()  {}
func (*GroupListResponse) groupList() {}

// ParseGroupControl decodes an admission message.
func ParseGroupControl(payload []byte) (GroupControl, error) {
	const what = "group control message"
	typ, err := peekType(what, payload)
	if err != nil {
		return nil, err
	}
	switch typ {
	case TypeGroupJoinRequest:
		return decode[GroupJoinRequest](what, payload)
	case TypeGroupJoinApproval:
		return decode[GroupJoinApproval](what, payload)
	case TypeGroupJoinRejection:
		return decode[GroupJoinRejection](what, payload)
	case TypeGroupMemberLeft:
		return decode[GroupMemberLeft](what, payload)
	default:
		return nil, apperr.UnknownMessage(what, typ)
	}
}

// ParseGroupChat decodes a group content message.
func ParseGroupChat(payload []byte) (GroupChat, error) {
	const what = "group chat message"
	typ, err := peekType(what, payload)
	if err != nil {
		return nil, err
	}
	switch typ {
	case TypeGroupMessage:
		return decode[GroupMessage](what, payload)
	case TypeGroupMemberLeft:
		return decode[GroupMemberLeft](what, payload)
	default:
		return nil, apperr.UnknownMessage(what, typ)
	}
}

// ParseGroupList decodes a directory message.
func ParseGroupList(payload []byte) (GroupList, error) {
	const what = "group list message"
	typ, err := peekType(what, payload)
	if err != nil {
		return nil, err
	}
	switch typ {
	case TypeGroupCreate:
		return decode[GroupCreate](what, payload)
	case TypeGroupListRequest:
		return decode[GroupListRequest](what, payload)
	case TypeGroupListResponse:
		return decode[GroupListResponse](what, payload)
	default:
		return nil, apperr.UnknownMessage(what, typ)
	}
}
