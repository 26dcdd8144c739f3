// Package notify carries discovery events from the poll engine to delivery
// sinks. Dispatch is an in-process fan-out; sinks subscribe and decide per
// payload whether the destination concerns them.
package notify

import (
	"context"
	"log/slog"
	"math/rand"
	"net/url"
	"strconv"

	"github.com/asaskevich/EventBus"

	"github.com/gilibot/streamclips/stream"
)

// Kind distinguishes what a payload announces.
type Kind string

const (
	KindClip Kind = "clip"
	KindLive Kind = "live"
)

// Payload is one notification. Followers is nil when the platform does not
// report a count.
type Payload struct {
	Kind         Kind            `json:"kind"`
	Platform     stream.Platform `json:"-"`
	PlatformTag  string          `json:"platform"`
	ChannelName  string          `json:"channel_name"`
	Destination  string          `json:"destination"`
	Title        string          `json:"title"`
	URL          string          `json:"url"`
	AuthorName   string          `json:"author_name"`
	ThumbnailURL string          `json:"thumbnail_url,omitempty"`
	GameName     string          `json:"game_name,omitempty"`
	Followers    *int64          `json:"followers,omitempty"`
	ViewCount    int64           `json:"view_count,omitempty"`
}

// Notifier accepts payloads for delivery.
type Notifier interface {
	Notify(ctx context.Context, p Payload)
}

const topic = "notify:payload"

// Dispatcher fans payloads out to subscribed sinks asynchronously. Delivery
// never blocks the poll cycle.
type Dispatcher struct {
	bus EventBus.Bus
}

func NewDispatcher() *Dispatcher {
	return &Dispatcher{bus: EventBus.New()}
}

func (d *Dispatcher) Notify(_ context.Context, p Payload) {
	p.PlatformTag = p.Platform.String()
	d.bus.Publish(topic, p)
}

// Subscribe registers fn for every published payload.
func (d *Dispatcher) Subscribe(fn func(Payload)) error {
	return d.bus.SubscribeAsync(topic, fn, false)
}

func (d *Dispatcher) Unsubscribe(fn func(Payload)) error {
	return d.bus.Unsubscribe(topic, fn)
}

// Wait blocks until all in-flight deliveries finish.
func (d *Dispatcher) Wait() {
	d.bus.WaitAsync()
}

// LogSink writes every payload to the structured log.
func LogSink(p Payload) {
	slog.Info("notification",
		slog.String("component", "notify"),
		slog.String("kind", string(p.Kind)),
		slog.String("platform", p.PlatformTag),
		slog.String("channel", p.ChannelName),
		slog.String("destination", p.Destination),
		slog.String("title", p.Title),
		slog.String("url", p.URL))
}

// CacheBustThumbnail appends a random query parameter so embed caches treat
// each notification's thumbnail as fresh.
func CacheBustThumbnail(raw string) string {
	if raw == "" {
		return ""
	}
	u, err := url.Parse(raw)
	if err != nil {
		return raw
	}
	q := u.Query()
	q.Set("rnd", strconv.Itoa(rand.Intn(1_000_000_000)))
	u.RawQuery = q.Encode()
	return u.String()
}
