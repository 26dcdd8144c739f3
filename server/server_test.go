package server

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/gilibot/streamclips/notify"
	"github.com/gilibot/streamclips/registry"
	"github.com/gilibot/streamclips/stream"
)

type memStore struct{}

func (memStore) LoadChannels(context.Context) ([]registry.Channel, error)     { return nil, nil }
func (memStore) SaveChannel(context.Context, registry.Channel) error          { return nil }
func (memStore) DeleteChannel(context.Context, stream.Platform, string) error { return nil }

type staticCreds map[stream.Platform]stream.Credentials

func (s staticCreds) Credentials(_ context.Context, p stream.Platform) (stream.Credentials, error) {
	return s[p], nil
}

func (s staticCreds) SetCredentials(_ context.Context, p stream.Platform, c stream.Credentials) error {
	s[p] = c
	return nil
}

type fakeClient struct {
	resolveErr error
	statusErr  error
}

func (f *fakeClient) ResolveIdentity(_ context.Context, ident stream.Identity) (stream.Identity, error) {
	if f.resolveErr != nil {
		return ident, f.resolveErr
	}
	ident.ID = "resolved-id"
	return ident, nil
}

func (f *fakeClient) FetchStreamStatus(context.Context, stream.Identity) (stream.Status, error) {
	return stream.Status{}, f.statusErr
}

func (f *fakeClient) FetchClipsWindow(context.Context, stream.Identity, time.Time, time.Time) ([]stream.RawClip, error) {
	return nil, stream.ErrClipsUnsupported
}

type serverEnv struct {
	srv      *Server
	ts       *httptest.Server
	interval time.Duration
	cleared  []stream.Platform
}

func newTestServer(t *testing.T, client stream.Client) *serverEnv {
	t.Helper()
	env := &serverEnv{}
	env.srv = &Server{
		Registry: registry.New(memStore{}),
		Clients:  map[stream.Platform]stream.Client{stream.Twitch: client},
		Creds:    staticCreds{},
		GetInterval: func(context.Context) (time.Duration, error) {
			return env.interval, nil
		},
		SetInterval: func(_ context.Context, d time.Duration) error {
			env.interval = d
			return nil
		},
		ClearCredentialAlert: func(p stream.Platform) { env.cleared = append(env.cleared, p) },
		Dispatcher:           notify.NewDispatcher(),
		StartedAt:            time.Now(),
	}
	env.ts = httptest.NewServer(env.srv.Router())
	t.Cleanup(env.ts.Close)
	return env
}

func doJSON(t *testing.T, method, url string, body any) *http.Response {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req, err := http.NewRequest(method, url, &buf)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("do request: %v", err)
	}
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func TestHealthzCarriesCorrelationID(t *testing.T) {
	env := newTestServer(t, &fakeClient{})
	resp, err := http.Get(env.ts.URL + "/healthz")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("status = %d", resp.StatusCode)
	}
	if resp.Header.Get("X-Correlation-ID") == "" {
		t.Error("correlation id header missing")
	}
}

func TestAddListRemoveChannel(t *testing.T) {
	env := newTestServer(t, &fakeClient{})
	add := map[string]string{"platform": "twitch", "name": "SomeStreamer", "destination": "dest-a"}

	resp := doJSON(t, http.MethodPost, env.ts.URL+"/channels", add)
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("add status = %d, want 201", resp.StatusCode)
	}
	// Second destination pairs onto the existing channel.
	add["destination"] = "dest-b"
	resp = doJSON(t, http.MethodPost, env.ts.URL+"/channels", add)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("pair status = %d, want 200", resp.StatusCode)
	}

	resp = doJSON(t, http.MethodGet, env.ts.URL+"/channels", nil)
	var list []channelResponse
	if err := json.NewDecoder(resp.Body).Decode(&list); err != nil {
		t.Fatalf("decode list: %v", err)
	}
	if len(list) != 1 || list[0].ID != "resolved-id" || len(list[0].Destinations) != 2 {
		t.Fatalf("list = %+v", list)
	}

	resp = doJSON(t, http.MethodDelete, env.ts.URL+"/channels",
		map[string]string{"platform": "twitch", "name": "SomeStreamer", "destination": "dest-a"})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("remove status = %d", resp.StatusCode)
	}
	resp = doJSON(t, http.MethodDelete, env.ts.URL+"/channels",
		map[string]string{"platform": "twitch", "name": "SomeStreamer", "destination": "dest-b"})
	var out struct {
		Deleted bool `json:"deleted"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil || !out.Deleted {
		t.Errorf("last removal = (%+v, %v), want channel deleted", out, err)
	}
}

func TestAddChannelExistenceCheck(t *testing.T) {
	env := newTestServer(t, &fakeClient{resolveErr: stream.ErrNotFound})
	resp := doJSON(t, http.MethodPost, env.ts.URL+"/channels",
		map[string]string{"platform": "twitch", "name": "ghost", "destination": "dest"})
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("status = %d, want 404 for unknown channel", resp.StatusCode)
	}

	env = newTestServer(t, &fakeClient{statusErr: stream.ErrInvalidCredentials})
	resp = doJSON(t, http.MethodPost, env.ts.URL+"/channels",
		map[string]string{"platform": "twitch", "name": "somestreamer", "destination": "dest"})
	if resp.StatusCode != http.StatusConflict {
		t.Errorf("status = %d, want 409 for rejected credentials", resp.StatusCode)
	}
}

func TestAddChannelRejectsUnknownPlatform(t *testing.T) {
	env := newTestServer(t, &fakeClient{})
	resp := doJSON(t, http.MethodPost, env.ts.URL+"/channels",
		map[string]string{"platform": "beam", "name": "x", "destination": "dest"})
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("status = %d, want 400 for unknown platform", resp.StatusCode)
	}
}

func TestSetPollIntervalFloor(t *testing.T) {
	env := newTestServer(t, &fakeClient{})

	resp := doJSON(t, http.MethodPut, env.ts.URL+"/config/poll-interval", map[string]int{"seconds": 59})
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400 below the 60s floor", resp.StatusCode)
	}
	if env.interval != 0 {
		t.Error("rejected interval must not be stored")
	}

	resp = doJSON(t, http.MethodPut, env.ts.URL+"/config/poll-interval", map[string]int{"seconds": 120})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	if env.interval != 120*time.Second {
		t.Errorf("stored interval = %v, want 120s", env.interval)
	}
}

func TestSetCredentialsClearsAlert(t *testing.T) {
	env := newTestServer(t, &fakeClient{})
	resp := doJSON(t, http.MethodPut, env.ts.URL+"/credentials/twitch",
		map[string]string{"client_id": "cid", "client_secret": "secret"})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	if len(env.cleared) != 1 || env.cleared[0] != stream.Twitch {
		t.Errorf("cleared = %v, want [twitch]", env.cleared)
	}
	got, _ := env.srv.Creds.Credentials(context.Background(), stream.Twitch)
	if got.ClientID != "cid" {
		t.Errorf("stored credentials = %+v", got)
	}
}

func TestNotificationWebsocketFeed(t *testing.T) {
	env := newTestServer(t, &fakeClient{})
	wsURL := "ws" + strings.TrimPrefix(env.ts.URL, "http") + "/ws/notifications"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	// Give the handler a moment to subscribe before publishing.
	time.Sleep(50 * time.Millisecond)
	env.srv.Dispatcher.Notify(context.Background(), notify.Payload{
		Kind: notify.KindClip, Platform: stream.Twitch, ChannelName: "somestreamer", Title: "nice play",
	})

	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var got notify.Payload
	if err := conn.ReadJSON(&got); err != nil {
		t.Fatalf("read: %v", err)
	}
	if got.Kind != notify.KindClip || got.PlatformTag != "twitch" || got.Title != "nice play" {
		t.Errorf("payload = %+v", got)
	}
}
