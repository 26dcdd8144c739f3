package hitboxapi

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gilibot/streamclips/stream"
	"github.com/gilibot/streamclips/testutil"
)

func newHitboxClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/media/live/", handler)
	server := httptest.NewServer(mux)
	t.Cleanup(server.Close)
	return &Client{BaseURL: server.URL}
}

func liveBody(isLive string) string {
	return fmt.Sprintf(`{"livestream": [{
		"media_is_live": %q,
		"media_status": "Casting things",
		"media_display_name": "SomeCaster",
		"media_user_name": "somecaster",
		"media_thumbnail": "/static/img/media/live/somecaster_mid.jpg",
		"channel": {"user_logo": "/static/img/channel/somecaster.jpg", "followers": 55}
	}]}`, isLive)
}

func TestFetchStreamStatusLive(t *testing.T) {
	c := newHitboxClient(t, func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, liveBody("1"))
	})
	st, err := c.FetchStreamStatus(context.Background(), stream.Identity{Name: "somecaster"})
	if err != nil {
		t.Fatalf("FetchStreamStatus() error = %v", err)
	}
	if !st.Live || st.Title != "Casting things" || st.URL != "https://www.hitbox.tv/somecaster" {
		t.Errorf("status = %+v", st)
	}
	if st.ThumbnailURL != "https://edge.sf.hitbox.tv/static/img/media/live/somecaster_mid.jpg" {
		t.Errorf("thumbnail = %s, want absolute url", st.ThumbnailURL)
	}
	if st.Followers == nil || *st.Followers != 55 {
		t.Errorf("followers = %v, want 55", st.Followers)
	}
}

func TestFetchStreamStatusOffline(t *testing.T) {
	c := newHitboxClient(t, func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, liveBody("0"))
	})
	st, err := c.FetchStreamStatus(context.Background(), stream.Identity{Name: "somecaster"})
	if err != nil {
		t.Fatalf("FetchStreamStatus() error = %v, offline is not an error", err)
	}
	if st.Live {
		t.Error("status = live, want offline")
	}
}

func TestFetchStreamStatusUnknownChannel(t *testing.T) {
	// Hitbox answers 200 with an error payload instead of a 404.
	c := newHitboxClient(t, func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"error": true, "error_msg": "no_media_found"}`)
	})
	_, err := c.FetchStreamStatus(context.Background(), stream.Identity{Name: "ghost"})
	if !errors.Is(err, stream.ErrNotFound) {
		t.Errorf("error = %v, want ErrNotFound", err)
	}
}

func TestResolveIdentityAdoptsCanonicalName(t *testing.T) {
	c := newHitboxClient(t, func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, liveBody("0"))
	})
	ident, err := c.ResolveIdentity(context.Background(), stream.Identity{Name: "SomeCaster"})
	if err != nil {
		t.Fatalf("ResolveIdentity() error = %v", err)
	}
	if ident.Name != "somecaster" {
		t.Errorf("name = %s, want canonical media_user_name", ident.Name)
	}
}

func TestDefaultBaseURLThroughRewriteTransport(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/media/live/", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, liveBody("1"))
	})
	server := httptest.NewServer(mux)
	t.Cleanup(server.Close)

	hc, err := testutil.RewriteClient(server.URL)
	if err != nil {
		t.Fatalf("RewriteClient() error = %v", err)
	}
	c := &Client{HTTPClient: hc}
	st, err := c.FetchStreamStatus(context.Background(), stream.Identity{Name: "somecaster"})
	if err != nil {
		t.Fatalf("FetchStreamStatus() error = %v", err)
	}
	if !st.Live {
		t.Error("status = offline, want live")
	}
}

func TestFetchClipsWindowUnsupported(t *testing.T) {
	c := &Client{}
	_, err := c.FetchClipsWindow(context.Background(), stream.Identity{Name: "somecaster"}, time.Now().Add(-time.Hour), time.Now())
	if !errors.Is(err, stream.ErrClipsUnsupported) {
		t.Errorf("error = %v, want ErrClipsUnsupported", err)
	}
}
