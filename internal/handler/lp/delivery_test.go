package lp

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/webitel/im-mqtt-chat/internal/domain/event"
	"github.com/webitel/im-mqtt-chat/internal/domain/registry"
	"github.com/webitel/im-mqtt-chat/internal/service"
)

var discard = slog.New(slog.NewTextHandler(io.Discard, nil))

// abortAfterFlush lets the cell flush into the new session, then drops the request.
type abortAfterFlush struct {
	service.Deliverer
	t      *testing.T
	cancel context.CancelFunc
}

func (d abortAfterFlush) Subscribe(ctx context.Context, userID string, md registry.ConnectMetadata) (registry.Connector, error) {
	conn, err := d.Deliverer.Subscribe(ctx, userID, md)
	require.NoError(d.t, err)
	require.Eventually(d.t, func() bool { return len(conn.Recv()) > 0 }, time.Second, 5*time.Millisecond)
	d.cancel()
	return conn, nil
}

func TestLPHandler_AbortedPollLosesNothing(t *testing.T) {
	req := require.New(t)
	hub := registry.NewHub(discard)
	defer hub.Shutdown()
	deliverer := service.NewDeliveryService(hub, 8)

	// Given an event waiting for alice
	ev := event.New("alice", event.InviteReceived, event.InviteReceivedPayload{From: "bob", RequestID: "invite_1"})
	req.True(hub.Broadcast(ev))

	// When a poll takes it but the client is gone before the answer
	ctx, cancel := context.WithCancel(context.Background())
	aborted := NewLPHandler(abortAfterFlush{Deliverer: deliverer, t: t, cancel: cancel}, "alice", time.Second)
	rec := httptest.NewRecorder()
	aborted.Poll(rec, httptest.NewRequest(http.MethodGet, "/v1/events", nil).WithContext(ctx))
	req.Zero(rec.Body.Len())

	// Then the next poll still gets it
	rec = httptest.NewRecorder()
	NewLPHandler(deliverer, "alice", 50*time.Millisecond).Poll(rec, httptest.NewRequest(http.MethodGet, "/v1/events", nil))
	req.Equal(http.StatusOK, rec.Code)

	var batch struct {
		Events []struct {
			ID    string `json:"id"`
			Event string `json:"event"`
		} `json:"events"`
	}
	req.NoError(json.Unmarshal(rec.Body.Bytes(), &batch))
	req.Len(batch.Events, 1)
	req.Equal(ev.GetID(), batch.Events[0].ID)
	req.Equal(string(event.InviteReceived), batch.Events[0].Event)
}

func TestLPHandler_TimesOutEmpty(t *testing.T) {
	hub := registry.NewHub(discard)
	defer hub.Shutdown()

	rec := httptest.NewRecorder()
	NewLPHandler(service.NewDeliveryService(hub, 8), "alice", 20*time.Millisecond).
		Poll(rec, httptest.NewRequest(http.MethodGet, "/v1/events", nil))
	require.Equal(t, http.StatusNoContent, rec.Code)
}
