package lp

import (
	"net/http"
	"time"

	"github.com/webitel/im-mqtt-chat/internal/domain/event"
	"github.com/webitel/im-mqtt-chat/internal/domain/registry"
	lpmarshaller "github.com/webitel/im-mqtt-chat/internal/handler/marshaller/lp"
	"github.com/webitel/im-mqtt-chat/internal/service"
)

const defaultTimeout = 30 * time.Second

type LPHandler struct {
	deliverer service.Deliverer
	userID    string
	timeout   time.Duration
}

func NewLPHandler(deliverer service.Deliverer, userID string, timeout time.Duration) *LPHandler {
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &LPHandler{
		deliverer: deliverer,
		userID:    userID,
		timeout:   timeout,
	}
}

// Poll handles the long-polling request.
// It holds the connection until an event arrives or timeout occurs.
func (h *LPHandler) Poll(w http.ResponseWriter, r *http.Request) {
	// 1. Temporary Subscription.
	// The connector lives only for the duration of this HTTP request; the
	// user cell keeps buffering between two polls.
	conn, err := h.deliverer.Subscribe(r.Context(), h.userID, registry.ConnectMetadata{
		Transport: "lp",
		RemoteIP:  r.RemoteAddr,
		UserAgent: r.UserAgent(),
	})
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	timer := time.NewTimer(h.timeout)
	defer timer.Stop()

	var events []event.Eventer

	// 2. Wait for data or timeout.
	select {
	case <-r.Context().Done():
	case <-timer.C:
	case ev, ok := <-conn.Recv():
		if ok {
			events = append(events, ev)
		}
	}

	// 3. Detach first so nothing new lands in a connector nobody reads,
	// then take everything it already holds.
	h.deliverer.Unsubscribe(h.userID, conn.GetID())
	events = drain(conn, events)

	// the client went away: what the cell flushed waits for the next poll
	if r.Context().Err() != nil {
		h.deliverer.Requeue(h.userID, events)
		return
	}

	if len(events) == 0 {
		w.WriteHeader(http.StatusNoContent)
		return
	}

	// 4. Final transmission.
	data, err := lpmarshaller.MarshallEvents(events)
	if err != nil {
		http.Error(w, "marshal error", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}

// drain batches whatever the connector still buffers.
func drain(conn registry.Connector, events []event.Eventer) []event.Eventer {
	for {
		select {
		case ev, ok := <-conn.Recv():
			if !ok {
				return events
			}
			events = append(events, ev)
		default:
			return events
		}
	}
}
