// Package poller runs the discovery loop: one timer, each watched channel
// polled in turn, novel clips and live transitions pushed to the notifier.
// A channel's failure never stops the cycle; its ledger is persisted before
// the next channel is touched.
package poller

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/gilibot/streamclips/config"
	"github.com/gilibot/streamclips/ledger"
	"github.com/gilibot/streamclips/notify"
	"github.com/gilibot/streamclips/registry"
	"github.com/gilibot/streamclips/stream"
	"github.com/gilibot/streamclips/telemetry"
)

// TwitchClipRetention matches the platform's own clip listing horizon. A
// ledger entry older than this refers to a clip the API will never return
// again, so keeping it only grows the snapshot.
const TwitchClipRetention = 7 * 24 * time.Hour

// Result is the outcome of polling one channel within a cycle.
type Result struct {
	Platform   stream.Platform
	Channel    string
	Live       bool
	WentLive   bool
	NovelClips int
	Err        error
}

// gameNamer is implemented by clients that can resolve a game id to a name.
type gameNamer interface {
	GameName(ctx context.Context, gameID string) (string, error)
}

// Engine drives poll cycles. Construct with New; exported fields may be
// adjusted before Run.
type Engine struct {
	Registry *registry.Registry
	Clients  map[stream.Platform]stream.Client
	Notifier notify.Notifier

	// Interval reads the configured poll interval; zero means unset. The
	// engine applies the default and floor itself so a bad store value can
	// never produce a hot loop.
	Interval func(ctx context.Context) (time.Duration, error)

	// ClipLookback bounds the query window for platforms that support
	// time-windowed clip listing.
	ClipLookback time.Duration

	// OwnerAlert is invoked once per platform when its credentials are
	// rejected, until ClearCredentialAlert. Defaults to an error log.
	OwnerAlert func(platform stream.Platform, err error)

	// Now is the clock; overridden in tests.
	Now func() time.Time

	mu          sync.Mutex
	online      map[string]bool
	credAlerted map[stream.Platform]bool
}

func New(reg *registry.Registry, clients map[stream.Platform]stream.Client, notifier notify.Notifier) *Engine {
	telemetry.Init()
	return &Engine{
		Registry:     reg,
		Clients:      clients,
		Notifier:     notifier,
		ClipLookback: 48 * time.Hour,
		Now:          time.Now,
		online:       make(map[string]bool),
		credAlerted:  make(map[stream.Platform]bool),
	}
}

// Run loops until ctx is cancelled. The interval is re-read every iteration
// so admin changes take effect on the next tick without a restart.
func (e *Engine) Run(ctx context.Context) {
	slog.Info("poll engine started", slog.String("component", "poller"))
	for {
		interval := e.effectiveInterval(ctx)
		telemetry.SetPollInterval(interval)
		timer := time.NewTimer(interval)
		select {
		case <-ctx.Done():
			timer.Stop()
			slog.Info("poll engine stopped", slog.String("component", "poller"))
			return
		case <-timer.C:
		}
		e.Cycle(ctx)
	}
}

func (e *Engine) effectiveInterval(ctx context.Context) time.Duration {
	if e.Interval != nil {
		d, err := e.Interval(ctx)
		if err != nil {
			slog.Warn("reading poll interval failed, using default",
				slog.Any("error", err), slog.String("component", "poller"))
		} else if d > 0 {
			if d < config.MinPollInterval {
				return config.MinPollInterval
			}
			return d
		}
	}
	return config.DefaultPollInterval
}

// Cycle polls every registered channel once, sequentially, and returns the
// per-channel results in registry order.
func (e *Engine) Cycle(ctx context.Context) []Result {
	ctx, span := telemetry.StartSpan(ctx, "poller", "poll_cycle")
	defer span.End()

	channels := e.Registry.List()
	telemetry.SetTrackedChannels(len(channels))
	results := make([]Result, 0, len(channels))

	telemetry.TimeFunc(telemetry.PollCycleDuration, func() {
		for _, ch := range channels {
			if ctx.Err() != nil {
				return
			}
			res := e.pollChannelSafe(ctx, ch)
			results = append(results, res)
			telemetry.ChannelsPolled.Inc()
			if res.Err != nil {
				telemetry.ChannelPollErrors.WithLabelValues(ch.Platform.String()).Inc()
				slog.Error("channel poll failed",
					slog.String("component", "poller"),
					slog.String("platform", ch.Platform.String()),
					slog.String("channel", ch.Identity.Name),
					slog.Any("error", res.Err))
				continue
			}
			if res.NovelClips > 0 {
				telemetry.NovelClips.WithLabelValues(ch.Platform.String()).Add(float64(res.NovelClips))
			}
			if res.WentLive {
				telemetry.LiveTransitions.WithLabelValues(ch.Platform.String()).Inc()
			}
		}
	})
	telemetry.PollCycles.Inc()
	span.SetAttributes(attribute.Int("channels", len(channels)))
	return results
}

func (e *Engine) pollChannelSafe(ctx context.Context, ch registry.Channel) (res Result) {
	defer func() {
		if r := recover(); r != nil {
			res = Result{Platform: ch.Platform, Channel: ch.Identity.Name, Err: fmt.Errorf("panic: %v", r)}
		}
	}()
	telemetry.TimeFunc(telemetry.ChannelPollDuration, func() {
		res = e.pollChannel(ctx, ch)
	})
	return res
}

func (e *Engine) pollChannel(ctx context.Context, ch registry.Channel) Result {
	res := Result{Platform: ch.Platform, Channel: ch.Identity.Name}
	client, ok := e.Clients[ch.Platform]
	if !ok {
		res.Err = fmt.Errorf("no client for platform %s", ch.Platform)
		return res
	}
	ctx, span := telemetry.StartSpan(ctx, "poller", "poll_channel",
		attribute.String("platform", ch.Platform.String()),
		attribute.String("channel", ch.Identity.Name))
	defer span.End()

	now := e.Now()
	status, err := client.FetchStreamStatus(ctx, ch.Identity)
	if err != nil {
		if errors.Is(err, stream.ErrInvalidCredentials) {
			e.alertInvalidCredentials(ch.Platform, err)
		}
		res.Err = fmt.Errorf("status probe: %w", err)
		telemetry.RecordError(span, res.Err)
		return res
	}
	res.Live = status.Live
	res.WentLive = e.markOnline(ch, status.Live)
	if res.WentLive {
		e.notifyLive(ctx, ch, status)
	}

	candidates, err := client.FetchClipsWindow(ctx, ch.Identity, now.Add(-e.ClipLookback), now)
	if errors.Is(err, stream.ErrClipsUnsupported) {
		return res
	}
	if err != nil {
		if errors.Is(err, stream.ErrInvalidCredentials) {
			e.alertInvalidCredentials(ch.Platform, err)
		}
		res.Err = fmt.Errorf("clip listing: %w", err)
		telemetry.RecordError(span, res.Err)
		return res
	}

	novel, updated := ledger.FilterNovel(candidates, ch.KnownClips, retention(ch.Platform), now)
	res.NovelClips = len(novel)
	for _, clip := range novel {
		e.notifyClip(ctx, client, ch, clip)
	}
	if err := e.Registry.UpdateLedger(ctx, ch.Platform, ch.Identity.Name, updated); err != nil {
		res.Err = fmt.Errorf("persist ledger: %w", err)
		telemetry.RecordError(span, res.Err)
	}
	return res
}

// retention bounds how long a known clip id is remembered. Platforms without
// a listing horizon keep ids forever.
func retention(p stream.Platform) time.Duration {
	if p == stream.Twitch {
		return TwitchClipRetention
	}
	return 0
}

func onlineKey(ch registry.Channel) string {
	return ch.Platform.String() + "\x00" + strings.ToLower(ch.Identity.Name)
}

// markOnline updates the in-memory live state and reports whether this is an
// offline to online edge.
func (e *Engine) markOnline(ch registry.Channel, live bool) bool {
	key := onlineKey(ch)
	e.mu.Lock()
	defer e.mu.Unlock()
	was := e.online[key]
	e.online[key] = live
	return live && !was
}

func (e *Engine) alertInvalidCredentials(p stream.Platform, err error) {
	telemetry.CredentialFailures.WithLabelValues(p.String()).Inc()
	e.mu.Lock()
	alerted := e.credAlerted[p]
	e.credAlerted[p] = true
	e.mu.Unlock()
	if alerted {
		return
	}
	if e.OwnerAlert != nil {
		e.OwnerAlert(p, err)
		return
	}
	slog.Error("platform credentials rejected; update them via the admin API",
		slog.String("component", "poller"),
		slog.String("platform", p.String()),
		slog.Any("error", err))
}

// ClearCredentialAlert re-arms the once-per-platform credential alert. Called
// when credentials are replaced.
func (e *Engine) ClearCredentialAlert(p stream.Platform) {
	e.mu.Lock()
	delete(e.credAlerted, p)
	e.mu.Unlock()
}

func (e *Engine) notifyLive(ctx context.Context, ch registry.Channel, status stream.Status) {
	for _, dest := range ch.Destinations {
		e.Notifier.Notify(ctx, notify.Payload{
			Kind:         notify.KindLive,
			Platform:     ch.Platform,
			ChannelName:  ch.Identity.Name,
			Destination:  dest,
			Title:        status.Title,
			URL:          status.URL,
			AuthorName:   status.AuthorName,
			ThumbnailURL: notify.CacheBustThumbnail(status.ThumbnailURL),
			GameName:     status.GameName,
			Followers:    status.Followers,
		})
		telemetry.NotificationsSent.Inc()
	}
}

func (e *Engine) notifyClip(ctx context.Context, client stream.Client, ch registry.Channel, clip stream.RawClip) {
	gameName := ""
	if clip.GameID != "" {
		if g, ok := client.(gameNamer); ok {
			if name, err := g.GameName(ctx, clip.GameID); err == nil {
				gameName = name
			}
		}
	}
	for _, dest := range ch.Destinations {
		e.Notifier.Notify(ctx, notify.Payload{
			Kind:         notify.KindClip,
			Platform:     ch.Platform,
			ChannelName:  ch.Identity.Name,
			Destination:  dest,
			Title:        clip.Title,
			URL:          clip.URL,
			AuthorName:   clip.CreatorName,
			ThumbnailURL: notify.CacheBustThumbnail(clip.ThumbnailURL),
			GameName:     gameName,
			ViewCount:    clip.ViewCount,
		})
		telemetry.NotificationsSent.Inc()
	}
}
