package amqp

import (
	"context"
	"fmt"

	"github.com/webitel/im-mqtt-chat/internal/domain/model"
	apperr "github.com/webitel/im-mqtt-chat/pkg/errors"
)

// Command payloads. Field names follow the MQTT wire envelopes.
type (
	SendInviteCmd struct {
		TargetUserID string `json:"targetUserId"`
		FromUserID   string `json:"fromUserId,omitempty"`
	}
	AnswerInviteCmd struct {
		RequestID  string `json:"requestId"`
		FromUserID string `json:"fromUserId"`
	}
	ChatCmd struct {
		ChatTopic string `json:"chatTopic"`
	}
	SendMessageCmd struct {
		ChatTopic string `json:"chatTopic"`
		Content   string `json:"content"`
	}
	SetPresenceCmd struct {
		Status string `json:"status"`
	}
	SetConversationsCmd struct {
		Conversations []model.ConversationEntry `json:"conversations"`
	}
	CreateGroupCmd struct {
		GroupName string `json:"groupName"`
	}
	RequestJoinCmd struct {
		GroupID string `json:"groupId"`
		AdminID string `json:"adminId"`
	}
	JoinDecisionCmd struct {
		GroupID   string `json:"groupId"`
		UserID    string `json:"userId"`
		RequestID string `json:"requestId"`
	}
	GroupMessageCmd struct {
		GroupID string `json:"groupId"`
		Content string `json:"content"`
	}
	GroupCmd struct {
		GroupID string `json:"groupId"`
	}
	EmptyCmd struct{}
)

func (h *CommandHandler) OnSendInvite(_ context.Context, c *SendInviteCmd) error {
	_, err := h.control.SendInvite(c.TargetUserID, c.FromUserID)
	return err
}

func (h *CommandHandler) OnAcceptInvite(_ context.Context, c *AnswerInviteCmd) error {
	_, err := h.control.AcceptInvite(c.RequestID, c.FromUserID)
	return err
}

func (h *CommandHandler) OnRejectInvite(_ context.Context, c *AnswerInviteCmd) error {
	return h.control.RejectInvite(c.RequestID, c.FromUserID)
}

func (h *CommandHandler) OnSubscribeChat(_ context.Context, c *ChatCmd) error {
	return h.control.SubscribeChat(c.ChatTopic)
}

func (h *CommandHandler) OnLeaveChat(_ context.Context, c *ChatCmd) error {
	return h.control.LeaveChat(c.ChatTopic)
}

func (h *CommandHandler) OnSendMessage(_ context.Context, c *SendMessageCmd) error {
	_, err := h.control.SendMessage(c.ChatTopic, c.Content)
	return err
}

func (h *CommandHandler) OnSetPresence(_ context.Context, c *SetPresenceCmd) error {
	switch c.Status {
	case "online":
		h.control.SetOnlineStatus()
	case "offline":
		h.control.SetOfflineStatus()
	case "leave":
		h.control.SetStatusDisconnect()
	case "return":
		h.control.SetStatusConnect()
	case "ping":
		h.control.PingPresence()
	default:
		return apperr.New(apperr.CodeInvalidArgument, fmt.Sprintf("unknown presence status %q", c.Status))
	}
	return nil
}

func (h *CommandHandler) OnSetConversations(_ context.Context, c *SetConversationsCmd) error {
	if len(c.Conversations) == 0 {
		h.control.CleanConversations()
		return nil
	}
	h.control.SetConversations(c.Conversations)
	return nil
}

func (h *CommandHandler) OnCreateGroup(_ context.Context, c *CreateGroupCmd) error {
	_, err := h.group.CreateGroup(c.GroupName)
	return err
}

func (h *CommandHandler) OnRequestJoin(_ context.Context, c *RequestJoinCmd) error {
	_, err := h.group.RequestJoinGroup(c.GroupID, c.AdminID)
	return err
}

func (h *CommandHandler) OnApproveJoin(_ context.Context, c *JoinDecisionCmd) error {
	return h.group.ApproveJoinRequest(c.GroupID, c.UserID, c.RequestID)
}

func (h *CommandHandler) OnRejectJoin(_ context.Context, c *JoinDecisionCmd) error {
	return h.group.RejectJoinRequest(c.GroupID, c.UserID, c.RequestID)
}

func (h *CommandHandler) OnSendGroupMessage(_ context.Context, c *GroupMessageCmd) error {
	_, err := h.group.SendGroupMessage(c.GroupID, c.Content)
	return err
}

func (h *CommandHandler) OnLeaveGroup(_ context.Context, c *GroupCmd) error {
	return h.group.LeaveGroup(c.GroupID)
}

func (h *CommandHandler) OnRequestGroupList(_ context.Context, _ *EmptyCmd) error {
	h.group.RequestGroupList()
	return nil
}
