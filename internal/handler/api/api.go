// Package api exposes the chat services to the local collaborator over HTTP:
// imperative operations as JSON endpoints, events as long-poll and websocket streams.
package api

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/webitel/im-mqtt-chat/internal/domain/model"
	"github.com/webitel/im-mqtt-chat/internal/domain/registry"
	"github.com/webitel/im-mqtt-chat/internal/handler/lp"
	"github.com/webitel/im-mqtt-chat/internal/handler/ws"
	"github.com/webitel/im-mqtt-chat/internal/service"
	apperr "github.com/webitel/im-mqtt-chat/pkg/errors"
)

// Broker is the connection state the stats endpoint reports.
type Broker interface {
	ClientID() string
	IsConnected() bool
}

type Handler struct {
	logger  *slog.Logger
	control service.Controller
	group   service.Grouper
	hub     registry.Hubber
	broker  Broker

	poll   *lp.LPHandler
	stream *ws.WSHandler
}

func NewHandler(
	logger *slog.Logger,
	control service.Controller,
	group service.Grouper,
	deliverer service.Deliverer,
	hub registry.Hubber,
	broker Broker,
	pollTimeout time.Duration,
) *Handler {
	userID := broker.ClientID()
	return &Handler{
		logger:  logger,
		control: control,
		group:   group,
		hub:     hub,
		broker:  broker,
		poll:    lp.NewLPHandler(deliverer, userID, pollTimeout),
		stream:  ws.NewWSHandler(logger, deliverer, userID),
	}
}

// Routes builds the router. Every path lives under /v1.
func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	r.Route("/v1", func(r chi.Router) {
		// [STREAMS]
		r.Get("/events", h.poll.Poll)
		r.Handle("/ws", h.stream)
		r.Get("/stats", h.stats)

		// [DIRECT_CHAT]
		r.Post("/invites", h.sendInvite)
		r.Post("/invites/{requestID}/accept", h.acceptInvite)
		r.Post("/invites/{requestID}/reject", h.rejectInvite)
		r.Post("/chats/subscribe", h.subscribeChat)
		r.Post("/chats/leave", h.leaveChat)
		r.Post("/messages", h.sendMessage)
		r.Put("/conversations", h.setConversations)
		r.Delete("/conversations", h.cleanConversations)
		r.Post("/presence/{status}", h.presence)

		// [GROUPS]
		r.Get("/groups", h.listGroups)
		r.Post("/groups", h.createGroup)
		r.Post("/groups/discover", h.discoverGroups)
		r.Route("/groups/{groupID}", func(r chi.Router) {
			r.Post("/join", h.requestJoin)
			r.Post("/approve", h.approveJoin)
			r.Post("/reject", h.rejectJoin)
			r.Post("/messages", h.sendGroupMessage)
			r.Post("/leave", h.leaveGroup)
		})
	})
	return r
}

type (
	inviteRequest struct {
		TargetUserID string `json:"target_user_id"`
		FromUserID   string `json:"from_user_id,omitempty"`
	}
	answerRequest struct {
		FromUserID string `json:"from_user_id"`
	}
	chatRequest struct {
		ChatTopic string `json:"chat_topic"`
	}
	messageRequest struct {
		ChatTopic string `json:"chat_topic"`
		Content   string `json:"content"`
	}
	createGroupRequest struct {
		Name string `json:"name"`
	}
	joinRequest struct {
		AdminID string `json:"admin_id"`
	}
	decisionRequest struct {
		UserID    string `json:"user_id"`
		RequestID string `json:"request_id"`
	}
	groupMessageRequest struct {
		Content string `json:"content"`
	}
)

type groupsResponse struct {
	Admin  []model.GroupInfo `json:"admin"`
	Member []string          `json:"member"`
	Known  []model.GroupInfo `json:"known"`
}

func (h *Handler) stats(w http.ResponseWriter, _ *http.Request) {
	st := h.hub.Stats(h.broker.ClientID())
	st.BrokerOnline = h.broker.IsConnected()
	writeJSON(w, http.StatusOK, st)
}

func (h *Handler) sendInvite(w http.ResponseWriter, r *http.Request) {
	var in inviteRequest
	if !h.decode(w, r, &in) {
		return
	}
	id, err := h.control.SendInvite(in.TargetUserID, in.FromUserID)
	h.reply(w, map[string]string{"request_id": id}, err)
}

func (h *Handler) acceptInvite(w http.ResponseWriter, r *http.Request) {
	var in answerRequest
	if !h.decode(w, r, &in) {
		return
	}
	topic, err := h.control.AcceptInvite(chi.URLParam(r, "requestID"), in.FromUserID)
	h.reply(w, map[string]string{"chat_topic": topic}, err)
}

func (h *Handler) rejectInvite(w http.ResponseWriter, r *http.Request) {
	var in answerRequest
	if !h.decode(w, r, &in) {
		return
	}
	h.reply(w, nil, h.control.RejectInvite(chi.URLParam(r, "requestID"), in.FromUserID))
}

func (h *Handler) subscribeChat(w http.ResponseWriter, r *http.Request) {
	var in chatRequest
	if !h.decode(w, r, &in) {
		return
	}
	h.reply(w, nil, h.control.SubscribeChat(in.ChatTopic))
}

func (h *Handler) leaveChat(w http.ResponseWriter, r *http.Request) {
	var in chatRequest
	if !h.decode(w, r, &in) {
		return
	}
	h.reply(w, nil, h.control.LeaveChat(in.ChatTopic))
}

func (h *Handler) sendMessage(w http.ResponseWriter, r *http.Request) {
	var in messageRequest
	if !h.decode(w, r, &in) {
		return
	}
	id, err := h.control.SendMessage(in.ChatTopic, in.Content)
	h.reply(w, map[string]string{"message_id": id}, err)
}

func (h *Handler) setConversations(w http.ResponseWriter, r *http.Request) {
	var entries []model.ConversationEntry
	if !h.decode(w, r, &entries) {
		return
	}
	h.control.SetConversations(entries)
	h.reply(w, nil, nil)
}

func (h *Handler) cleanConversations(w http.ResponseWriter, _ *http.Request) {
	h.control.CleanConversations()
	h.reply(w, nil, nil)
}

func (h *Handler) presence(w http.ResponseWriter, r *http.Request) {
	switch chi.URLParam(r, "status") {
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
		h.fail(w, apperr.New(apperr.CodeInvalidArgument, "unknown presence action"))
		return
	}
	h.reply(w, nil, nil)
}

func (h *Handler) listGroups(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, groupsResponse{
		Admin:  h.group.AdminGroups(),
		Member: h.group.MemberGroups(),
		Known:  h.group.KnownGroups(),
	})
}

func (h *Handler) createGroup(w http.ResponseWriter, r *http.Request) {
	var in createGroupRequest
	if !h.decode(w, r, &in) {
		return
	}
	id, err := h.group.CreateGroup(in.Name)
	h.reply(w, map[string]string{"group_id": id}, err)
}

func (h *Handler) discoverGroups(w http.ResponseWriter, _ *http.Request) {
	h.reply(w, map[string]string{"request_id": h.group.RequestGroupList()}, nil)
}

func (h *Handler) requestJoin(w http.ResponseWriter, r *http.Request) {
	var in joinRequest
	if !h.decode(w, r, &in) {
		return
	}
	id, err := h.group.RequestJoinGroup(chi.URLParam(r, "groupID"), in.AdminID)
	h.reply(w, map[string]string{"request_id": id}, err)
}

func (h *Handler) approveJoin(w http.ResponseWriter, r *http.Request) {
	var in decisionRequest
	if !h.decode(w, r, &in) {
		return
	}
	h.reply(w, nil, h.group.ApproveJoinRequest(chi.URLParam(r, "groupID"), in.UserID, in.RequestID))
}

func (h *Handler) rejectJoin(w http.ResponseWriter, r *http.Request) {
	var in decisionRequest
	if !h.decode(w, r, &in) {
		return
	}
	h.reply(w, nil, h.group.RejectJoinRequest(chi.URLParam(r, "groupID"), in.UserID, in.RequestID))
}

func (h *Handler) sendGroupMessage(w http.ResponseWriter, r *http.Request) {
	var in groupMessageRequest
	if !h.decode(w, r, &in) {
		return
	}
	id, err := h.group.SendGroupMessage(chi.URLParam(r, "groupID"), in.Content)
	h.reply(w, map[string]string{"message_id": id}, err)
}

func (h *Handler) leaveGroup(w http.ResponseWriter, r *http.Request) {
	h.reply(w, nil, h.group.LeaveGroup(chi.URLParam(r, "groupID")))
}

func (h *Handler) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		h.fail(w, apperr.Wrap(apperr.CodeInvalidArgument, "malformed request body", err))
		return false
	}
	return true
}

func (h *Handler) reply(w http.ResponseWriter, body any, err error) {
	if err != nil {
		h.fail(w, err)
		return
	}
	if body == nil {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	writeJSON(w, http.StatusOK, body)
}

type errorResponse struct {
	Code    apperr.Code `json:"code"`
	Message string      `json:"message"`
}

func (h *Handler) fail(w http.ResponseWriter, err error) {
	code := apperr.CodeOf(err)
	status := statusOf(code)
	if status >= http.StatusInternalServerError {
		h.logger.Error("API_REQUEST_FAILED", "code", code, "err", err)
	}
	writeJSON(w, status, errorResponse{Code: code, Message: err.Error()})
}

func statusOf(code apperr.Code) int {
	switch code {
	case apperr.CodeInvalidArgument, apperr.CodeProtocolParse, apperr.CodeUnknownMessage:
		return http.StatusBadRequest
	case apperr.CodePermission:
		return http.StatusForbidden
	case apperr.CodeNotConnected, apperr.CodeConnection:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
