package amqp

import (
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/message/router/middleware"
	"github.com/webitel/im-mqtt-chat/internal/adapter/pubsub"
	"github.com/webitel/im-mqtt-chat/internal/service"
)

const (
	// ------------------- TOPICS (ROUTING KEYS) -----------------
	// [PATTERN] im_chat.v1.cmd.{user_id}.{command}
	CommandTopicPrefix = "im_chat.v1.cmd"
	PoisonSuffix       = "poison"

	// ------------------- COMMANDS ------------------------------
	CmdSendInvite       = "send_invite"
	CmdAcceptInvite     = "accept_invite"
	CmdRejectInvite     = "reject_invite"
	CmdSubscribeChat    = "subscribe_chat"
	CmdLeaveChat        = "leave_chat"
	CmdSendMessage      = "send_message"
	CmdSetPresence      = "set_presence"
	CmdSetConversations = "set_conversations"
	CmdCreateGroup      = "create_group"
	CmdRequestJoin      = "request_join"
	CmdApproveJoin      = "approve_join"
	CmdRejectJoin       = "reject_join"
	CmdSendGroupMessage = "send_group_message"
	CmdLeaveGroup       = "leave_group"
	CmdRequestGroupList = "request_group_list"
)

// CommandTopic is the bus topic a command for userID is published on.
func CommandTopic(userID, command string) string {
	return strings.Join([]string{CommandTopicPrefix, userID, command}, ".")
}

// CommandHandler lets remote producers drive the chat services of this client
// through the message bus.
type CommandHandler struct {
	userID   string
	control  service.Controller
	group    service.Grouper
	provider *pubsub.Provider
	logger   *slog.Logger
	busLog   watermill.LoggerAdapter
}

func NewCommandHandler(
	t service.Transport,
	control service.Controller,
	group service.Grouper,
	provider *pubsub.Provider,
	logger *slog.Logger,
	busLog watermill.LoggerAdapter,
) *CommandHandler {
	return &CommandHandler{
		userID:   t.ClientID(),
		control:  control,
		group:    group,
		provider: provider,
		logger:   logger,
		busLog:   busLog,
	}
}

func NewWatermillRouter(logger watermill.LoggerAdapter) (*message.Router, error) {
	return message.NewRouter(message.RouterConfig{CloseTimeout: 10 * time.Second}, logger)
}

// [REGISTRATION_PIPELINE]
func (h *CommandHandler) RegisterHandlers(router *message.Router, publisher message.Publisher) error {
	poison, err := middleware.PoisonQueue(publisher, CommandTopic(h.userID, PoisonSuffix))
	if err != nil {
		return fmt.Errorf("POISON_SETUP_FAILED: %w", err)
	}

	configs := []struct {
		command string
		handler message.NoPublishHandlerFunc
	}{
		{CmdSendInvite, Bind(h, CmdSendInvite, h.OnSendInvite)},
		{CmdAcceptInvite, Bind(h, CmdAcceptInvite, h.OnAcceptInvite)},
		{CmdRejectInvite, Bind(h, CmdRejectInvite, h.OnRejectInvite)},
		{CmdSubscribeChat, Bind(h, CmdSubscribeChat, h.OnSubscribeChat)},
		{CmdLeaveChat, Bind(h, CmdLeaveChat, h.OnLeaveChat)},
		{CmdSendMessage, Bind(h, CmdSendMessage, h.OnSendMessage)},
		{CmdSetPresence, Bind(h, CmdSetPresence, h.OnSetPresence)},
		{CmdSetConversations, Bind(h, CmdSetConversations, h.OnSetConversations)},
		{CmdCreateGroup, Bind(h, CmdCreateGroup, h.OnCreateGroup)},
		{CmdRequestJoin, Bind(h, CmdRequestJoin, h.OnRequestJoin)},
		{CmdApproveJoin, Bind(h, CmdApproveJoin, h.OnApproveJoin)},
		{CmdRejectJoin, Bind(h, CmdRejectJoin, h.OnRejectJoin)},
		{CmdSendGroupMessage, Bind(h, CmdSendGroupMessage, h.OnSendGroupMessage)},
		{CmdLeaveGroup, Bind(h, CmdLeaveGroup, h.OnLeaveGroup)},
		{CmdRequestGroupList, Bind(h, CmdRequestGroupList, h.OnRequestGroupList)},
	}

	for _, c := range configs {
		sub, err := h.provider.Subscriber()
		if err != nil {
			return err
		}

		topic := CommandTopic(h.userID, c.command)
		router.AddConsumerHandler("ON_"+strings.ToUpper(c.command), topic, sub, c.handler).AddMiddleware(
			TraceIDMiddleware,
			LoggingMiddleware(h.logger),
			poison,
			NewRetryMiddleware(h.busLog).Middleware,
			middleware.NewThrottle(100, time.Second).Middleware,
			middleware.Timeout(time.Second*30),
		)
	}

	h.logger.Info("COMMAND_PIPELINE_READY", "driver", h.provider.Driver(), "prefix", CommandTopic(h.userID, "*"))
	return nil
}
