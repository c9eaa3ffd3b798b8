package ws

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/webitel/im-mqtt-chat/internal/domain/event"
	"github.com/webitel/im-mqtt-chat/internal/domain/model"
	"github.com/webitel/im-mqtt-chat/internal/domain/registry"
	"github.com/webitel/im-mqtt-chat/internal/handler/marshaller"
	"github.com/webitel/im-mqtt-chat/internal/service"
)

const writeWait = 5 * time.Second

type WSHandler struct {
	logger    *slog.Logger
	deliverer service.Deliverer
	userID    string
	upgrader  websocket.Upgrader
}

// NewWSHandler streams the events of userID, the identity of the local broker client.
func NewWSHandler(logger *slog.Logger, deliverer service.Deliverer, userID string) *WSHandler {
	return &WSHandler{
		logger:    logger,
		deliverer: deliverer,
		userID:    userID,
		upgrader: websocket.Upgrader{
			// the API listens for the local collaborator only
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}
}

func (h *WSHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	// 1. UPGRADE TO WEBSOCKET
	ws, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Error("WS_UPGRADE_FAILED", "err", err)
		return
	}
	defer ws.Close()

	// 2. The read pump only detects the peer going away
	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()
	go func() {
		defer cancel()
		for {
			if _, _, err := ws.NextReader(); err != nil {
				return
			}
		}
	}()

	// 3. SUBSCRIBE VIA THE SAME SERVICE AS LONG-POLL
	conn, err := h.deliverer.Subscribe(ctx, h.userID, registry.ConnectMetadata{
		Transport: "ws",
		RemoteIP:  r.RemoteAddr,
		UserAgent: r.UserAgent(),
	})
	if err != nil {
		h.logger.Warn("WS_SUBSCRIBE_FAILED", "err", err)
		return
	}
	defer h.deliverer.Unsubscribe(h.userID, conn.GetID())

	h.logger.Info("WS_OPENED", "user_id", h.userID, "conn_id", conn.GetID())

	hello := event.New(h.userID, event.Connected, &model.ConnectedPayload{
		Ok:           true,
		ConnectionID: conn.GetID(),
		UserID:       h.userID,
	})
	if !h.write(ws, hello) {
		return
	}

	// 4. MAIN WS PUMP LOOP
	for {
		select {
		case <-ctx.Done():
			h.logger.Info("WS_CLOSED", "user_id", h.userID, "conn_id", conn.GetID(), "dropped", conn.Dropped())
			return
		case ev, ok := <-conn.Recv():
			if !ok {
				// the hub closed the stream: evicted or shutting down
				h.write(ws, event.New(h.userID, event.Disconnected, &model.DisconnectedPayload{
					Reason: "stream closed by server",
					Code:   "SHUTDOWN",
				}))
				h.logger.Info("WS_CLOSED", "user_id", h.userID, "conn_id", conn.GetID(), "dropped", conn.Dropped())
				return
			}
			if !h.write(ws, ev) {
				return
			}
		}
	}
}

func (h *WSHandler) write(ws *websocket.Conn, ev event.Eventer) bool {
	data, err := marshaller.MarshallDeliveryEvent(ev)
	if err != nil {
		h.logger.Error("WS_MARSHAL_FAILED", "event", ev.GetKind(), "err", err)
		return true
	}

	_ = ws.SetWriteDeadline(time.Now().Add(writeWait))
	if err := ws.WriteMessage(websocket.TextMessage, data); err != nil {
		h.logger.Warn("WS_SEND_FAILED", "err", err)
		return false
	}
	return true
}
