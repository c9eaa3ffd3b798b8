package api

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/webitel/im-mqtt-chat/infra/mqtt"
	"github.com/webitel/im-mqtt-chat/infra/mqtt/memory"
	"github.com/webitel/im-mqtt-chat/internal/domain/event"
	"github.com/webitel/im-mqtt-chat/internal/domain/registry"
	"github.com/webitel/im-mqtt-chat/internal/service"
)

var discard = slog.New(slog.NewTextHandler(io.Discard, nil))

type fixture struct {
	srv *httptest.Server
	hub *registry.Hub
	bob *service.ControlService
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	b := memory.NewBroker()

	connect := func(id string) *mqtt.Client {
		cfg := mqtt.DefaultConfig()
		cfg.ClientID = id
		c := mqtt.NewClient(cfg, mqtt.WithDialer(b.Dialer()), mqtt.WithLogger(discard))
		require.NoError(t, c.Connect(context.Background()))
		t.Cleanup(c.Disconnect)
		return c
	}

	alice := connect("alice")
	ctl := service.NewControlService(alice, discard)
	grp := service.NewGroupService(alice, discard)
	ctl.Initialize()
	grp.Initialize()
	t.Cleanup(ctl.Close)

	bob := service.NewControlService(connect("bob"), discard)
	bob.Initialize()
	t.Cleanup(bob.Close)

	hub := registry.NewHub(discard)
	t.Cleanup(hub.Shutdown)

	h := NewHandler(discard, ctl, grp, service.NewDeliveryService(hub, 16), hub, alice, 50*time.Millisecond)
	srv := httptest.NewServer(h.Routes())
	t.Cleanup(srv.Close)

	return &fixture{srv: srv, hub: hub, bob: bob}
}

func (f *fixture) do(t *testing.T, method, path, body string) (*http.Response, map[string]any) {
	t.Helper()
	req, err := http.NewRequest(method, f.srv.URL+path, strings.NewReader(body))
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	var out map[string]any
	if resp.StatusCode != http.StatusNoContent {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	}
	return resp, out
}

func TestAPI_SendInviteReachesTarget(t *testing.T) {
	req := require.New(t)
	f := newFixture(t)

	// When alice invites bob over HTTP
	resp, out := f.do(t, http.MethodPost, "/v1/invites", `{"target_user_id":"bob"}`)

	// Then the request id is returned and bob sees the invite
	req.Equal(http.StatusOK, resp.StatusCode)
	requestID, _ := out["request_id"].(string)
	req.True(strings.HasPrefix(requestID, "invite_"))

	req.Eventually(func() bool {
		for _, ev := range f.bob.PollAllEvents() {
			if ev.GetKind() == event.InviteReceived {
				return true
			}
		}
		return false
	}, time.Second, 5*time.Millisecond)
}

func TestAPI_ErrorMapping(t *testing.T) {
	req := require.New(t)
	f := newFixture(t)

	resp, out := f.do(t, http.MethodPost, "/v1/invites", `{not json`)
	req.Equal(http.StatusBadRequest, resp.StatusCode)
	req.Equal("INVALID_ARGUMENT", out["code"])

	resp, out = f.do(t, http.MethodPost, "/v1/groups/group_x/approve", `{"user_id":"bob","request_id":"join_1"}`)
	req.Equal(http.StatusForbidden, resp.StatusCode)
	req.Equal("PERMISSION_DENIED", out["code"])

	resp, _ = f.do(t, http.MethodPost, "/v1/presence/dancing", ``)
	req.Equal(http.StatusBadRequest, resp.StatusCode)
}

func TestAPI_GroupLifecycle(t *testing.T) {
	req := require.New(t)
	f := newFixture(t)

	resp, out := f.do(t, http.MethodPost, "/v1/groups", `{"name":"ops"}`)
	req.Equal(http.StatusOK, resp.StatusCode)
	groupID, _ := out["group_id"].(string)
	req.NotEmpty(groupID)

	resp, out = f.do(t, http.MethodGet, "/v1/groups", ``)
	req.Equal(http.StatusOK, resp.StatusCode)
	req.Len(out["admin"], 1)
	req.Equal([]any{groupID}, out["member"])

	resp, _ = f.do(t, http.MethodPost, "/v1/groups/"+groupID+"/leave", ``)
	req.Equal(http.StatusNoContent, resp.StatusCode)
}

func TestAPI_LongPoll(t *testing.T) {
	req := require.New(t)
	f := newFixture(t)

	// Given nothing happened, the poll times out empty
	resp, _ := f.do(t, http.MethodGet, "/v1/events", ``)
	req.Equal(http.StatusNoContent, resp.StatusCode)

	// Given events drained while nobody polled, the next poll gets them all
	f.hub.Broadcast(event.New("alice", event.ChatSubscribed, event.ChatSubscribedPayload{ChatTopic: "chat/alice_bob"}))
	f.hub.Broadcast(event.New("alice", event.PresenceUpdate, event.PresencePayload{UserID: "bob", Status: "online"}))

	var batch struct {
		Events []struct {
			Event    string `json:"event"`
			UserID   string `json:"user_id"`
			Priority string `json:"priority"`
		} `json:"events"`
	}
	// the cell moves both into its backlog asynchronously
	time.Sleep(30 * time.Millisecond)

	r, err := http.Get(f.srv.URL + "/v1/events")
	req.NoError(err)
	defer r.Body.Close()
	req.Equal(http.StatusOK, r.StatusCode)
	req.NoError(json.NewDecoder(r.Body).Decode(&batch))

	req.Len(batch.Events, 2)
	req.Equal("chat_subscribed", batch.Events[0].Event)
	req.Equal("normal", batch.Events[0].Priority)
	req.Equal("presence_update", batch.Events[1].Event)
	req.Equal("alice", batch.Events[1].UserID)
}

func TestAPI_Stats(t *testing.T) {
	req := require.New(t)
	f := newFixture(t)

	resp, out := f.do(t, http.MethodGet, "/v1/stats", ``)
	req.Equal(http.StatusOK, resp.StatusCode)
	req.Equal("alice", out["user_id"])
	req.Equal(true, out["broker_online"])
}
