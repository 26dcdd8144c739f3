// Package youtubeapi implements clip and live discovery for YouTube channels.
// Identity is resolved through the YouTube Data API; recent video ids come
// from the per-channel RSS feed (bounded by the platform, no pagination), and
// each unknown video is classified live vs not-live through its
// liveStreamingDetails. The two rolling classification lists survive across
// polls so already-classified videos cost no further quota.
package youtubeapi

import (
	"context"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"net/http"
	"regexp"
	"sync"
	"time"

	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"
	yt "google.golang.org/api/youtube/v3"

	"github.com/gilibot/streamclips/stream"
)

const defaultRSSBaseURL = "https://www.youtube.com/feeds/videos.xml"

// channelIDPattern matches the fixed-format channel id token; anything else
// entered by a user is treated as a username.
var channelIDPattern = regexp.MustCompile(`^UC[0-9A-Za-z_-]{21}[AQgw]$`)

// LooksLikeChannelID reports whether s has the channel-id format.
func LooksLikeChannelID(s string) bool { return channelIDPattern.MatchString(s) }

// Client implements stream.Client for YouTube.
type Client struct {
	Creds stream.CredentialProvider

	// RSSBaseURL and Endpoint override the feed host and the Data API
	// endpoint, for tests.
	RSSBaseURL string
	Endpoint   string
	HTTPClient *http.Client

	// SweepInterval is how long a classification sweep is reused within a
	// poll cycle. Negative disables caching.
	SweepInterval time.Duration

	mu     sync.Mutex
	svc    *yt.Service
	svcKey string
	states map[string]*channelState
}

// channelState carries the rolling classification lists for one channel.
// Both lists are deduplicated and preserve insertion order.
type channelState struct {
	notLivestreams []string
	livestreams    []string

	sweepAt      time.Time
	sweepEntries []feedEntry
}

type feedEntry struct {
	VideoID   string
	Title     string
	Author    string
	Published time.Time
}

func (c *Client) http() *http.Client {
	if c.HTTPClient != nil {
		return c.HTTPClient
	}
	return http.DefaultClient
}

func (c *Client) rssBase() string {
	if c.RSSBaseURL != "" {
		return c.RSSBaseURL
	}
	return defaultRSSBaseURL
}

// service returns a Data API client for the stored API key, rebuilding it
// when the key changes.
func (c *Client) service(ctx context.Context) (*yt.Service, error) {
	creds, err := c.Creds.Credentials(ctx, stream.YouTube)
	if err != nil {
		return nil, fmt.Errorf("load youtube credentials: %w", err)
	}
	if creds.APIKey == "" {
		return nil, fmt.Errorf("youtube api key not configured: %w", stream.ErrInvalidCredentials)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.svc != nil && c.svcKey == creds.APIKey {
		return c.svc, nil
	}
	opts := []option.ClientOption{option.WithAPIKey(creds.APIKey)}
	if c.Endpoint != "" {
		opts = append(opts, option.WithEndpoint(c.Endpoint))
	}
	svc, err := yt.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("youtube service: %w", err)
	}
	c.svc = svc
	c.svcKey = creds.APIKey
	return svc, nil
}

func (c *Client) state(channelID string) *channelState {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.states == nil {
		c.states = make(map[string]*channelState)
	}
	st, ok := c.states[channelID]
	if !ok {
		st = &channelState{}
		c.states[channelID] = st
	}
	return st
}

// mapAPIError converts Data API failures into the shared taxonomy. A 400
// with reason keyInvalid means the stored API key was rejected.
func mapAPIError(op string, err error) error {
	var gerr *googleapi.Error
	if errors.As(err, &gerr) {
		for _, item := range gerr.Errors {
			if item.Reason == "keyInvalid" {
				return stream.ErrInvalidCredentials
			}
		}
		if gerr.Code == http.StatusBadRequest || gerr.Code == http.StatusForbidden {
			return stream.ErrInvalidCredentials
		}
		return &stream.APIError{Platform: stream.YouTube, StatusCode: gerr.Code, Op: op}
	}
	return fmt.Errorf("youtube %s: %w", op, err)
}

// ResolveIdentity fills in id or name. A name with the channel-id format is
// adopted as the id directly; otherwise it is looked up as a username.
func (c *Client) ResolveIdentity(ctx context.Context, ident stream.Identity) (stream.Identity, error) {
	if ident.ID == "" && LooksLikeChannelID(ident.Name) {
		ident.ID = ident.Name
		ident.Name = ""
	}
	svc, err := c.service(ctx)
	if err != nil {
		return ident, err
	}
	switch {
	case ident.ID == "" && ident.Name != "":
		res, err := svc.Channels.List([]string{"id"}).ForUsername(ident.Name).Context(ctx).Do()
		if err != nil {
			return ident, mapAPIError("channels.list", err)
		}
		if len(res.Items) == 0 {
			return ident, stream.ErrNotFound
		}
		ident.ID = res.Items[0].Id
		return ident, nil
	case ident.ID != "" && ident.Name == "":
		res, err := svc.Channels.List([]string{"snippet"}).Id(ident.ID).Context(ctx).Do()
		if err != nil {
			return ident, mapAPIError("channels.list", err)
		}
		if len(res.Items) == 0 {
			return ident, stream.ErrNotFound
		}
		ident.Name = res.Items[0].Snippet.Title
		return ident, nil
	case ident.ID == "":
		return ident, fmt.Errorf("youtube identity empty")
	}
	return ident, nil
}

// sweep fetches the channel feed and classifies every unknown video, updating
// the rolling lists. Results are cached briefly so the status probe and the
// clip listing in the same poll cycle share one pass.
func (c *Client) sweep(ctx context.Context, channelID string) (*channelState, []feedEntry, error) {
	st := c.state(channelID)
	sweepEvery := c.SweepInterval
	if sweepEvery == 0 {
		sweepEvery = 30 * time.Second
	}
	c.mu.Lock()
	if sweepEvery > 0 && time.Since(st.sweepAt) < sweepEvery {
		entries := st.sweepEntries
		c.mu.Unlock()
		return st, entries, nil
	}
	c.mu.Unlock()

	entries, err := c.fetchFeed(ctx, channelID)
	if err != nil {
		return st, nil, err
	}
	svc, err := c.service(ctx)
	if err != nil {
		return st, nil, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	st.notLivestreams = dedupe(st.notLivestreams)
	st.livestreams = dedupe(st.livestreams)
	for _, e := range entries {
		if contains(st.notLivestreams, e.VideoID) {
			continue
		}
		res, err := svc.Videos.List([]string{"id", "liveStreamingDetails"}).Id(e.VideoID).Context(ctx).Do()
		if err != nil {
			return st, nil, mapAPIError("videos.list", err)
		}
		if len(res.Items) == 0 {
			continue
		}
		item := res.Items[0]
		live := item.LiveStreamingDetails != nil &&
			item.LiveStreamingDetails.ActualStartTime != "" &&
			item.LiveStreamingDetails.ActualEndTime == ""
		if live {
			if !contains(st.livestreams, item.Id) {
				st.livestreams = append(st.livestreams, item.Id)
			}
		} else {
			st.notLivestreams = append(st.notLivestreams, item.Id)
			st.livestreams = remove(st.livestreams, item.Id)
		}
	}
	st.sweepAt = time.Now()
	st.sweepEntries = entries
	return st, entries, nil
}

// FetchStreamStatus reports the channel live when its rolling livestream list
// is non-empty after a sweep, with the snippet of the most recent live video.
func (c *Client) FetchStreamStatus(ctx context.Context, ident stream.Identity) (stream.Status, error) {
	if ident.ID == "" {
		var err error
		if ident, err = c.ResolveIdentity(ctx, ident); err != nil {
			return stream.Status{}, err
		}
	}
	st, _, err := c.sweep(ctx, ident.ID)
	if err != nil {
		return stream.Status{}, err
	}
	c.mu.Lock()
	var liveID string
	if n := len(st.livestreams); n > 0 {
		liveID = st.livestreams[n-1]
	}
	c.mu.Unlock()
	if liveID == "" {
		return stream.Status{}, nil
	}
	svc, err := c.service(ctx)
	if err != nil {
		return stream.Status{}, err
	}
	res, err := svc.Videos.List([]string{"snippet"}).Id(liveID).Context(ctx).Do()
	if err != nil {
		return stream.Status{}, mapAPIError("videos.list", err)
	}
	if len(res.Items) == 0 {
		return stream.Status{}, nil
	}
	sn := res.Items[0].Snippet
	out := stream.Status{
		Live:       true,
		Title:      sn.Title,
		URL:        "https://youtube.com/watch?v=" + res.Items[0].Id,
		AuthorName: sn.ChannelTitle,
	}
	if sn.Thumbnails != nil && sn.Thumbnails.Medium != nil {
		out.ThumbnailURL = sn.Thumbnails.Medium.Url
	}
	return out, nil
}

// FetchClipsWindow returns the feed's non-live videos published within
// [start, end]; the ledger upstream removes the ones already notified.
func (c *Client) FetchClipsWindow(ctx context.Context, ident stream.Identity, start, end time.Time) ([]stream.RawClip, error) {
	if ident.ID == "" {
		var err error
		if ident, err = c.ResolveIdentity(ctx, ident); err != nil {
			return nil, err
		}
	}
	st, entries, err := c.sweep(ctx, ident.ID)
	if err != nil {
		return nil, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []stream.RawClip
	for _, e := range entries {
		if contains(st.livestreams, e.VideoID) {
			continue
		}
		if e.Published.Before(start) || e.Published.After(end) {
			continue
		}
		out = append(out, stream.RawClip{
			ID:           e.VideoID,
			Title:        e.Title,
			URL:          "https://youtube.com/watch?v=" + e.VideoID,
			ThumbnailURL: "https://i.ytimg.com/vi/" + e.VideoID + "/mqdefault.jpg",
			CreatorName:  e.Author,
			CreatedAt:    e.Published,
		})
	}
	return out, nil
}

// fetchFeed downloads and parses the channel's Atom feed.
func (c *Client) fetchFeed(ctx context.Context, channelID string) ([]feedEntry, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.rssBase()+"?channel_id="+channelID, nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.http().Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode == http.StatusNotFound {
		return nil, stream.ErrNotFound
	}
	if resp.StatusCode != http.StatusOK {
		return nil, &stream.APIError{Platform: stream.YouTube, StatusCode: resp.StatusCode, Op: "rss"}
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	return ParseFeed(body)
}

// ParseFeed extracts video entries from a channel Atom feed document.
func ParseFeed(data []byte) ([]feedEntry, error) {
	var doc struct {
		Entries []struct {
			VideoID   string `xml:"http://www.youtube.com/xml/schemas/2015 videoId"`
			Title     string `xml:"title"`
			Published string `xml:"published"`
			Author    struct {
				Name string `xml:"name"`
			} `xml:"author"`
		} `xml:"entry"`
	}
	if err := xml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parse channel feed: %w", err)
	}
	out := make([]feedEntry, 0, len(doc.Entries))
	for _, e := range doc.Entries {
		published, _ := time.Parse(time.RFC3339, e.Published)
		out = append(out, feedEntry{VideoID: e.VideoID, Title: e.Title, Author: e.Author.Name, Published: published})
	}
	return out, nil
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

func dedupe(list []string) []string {
	seen := make(map[string]struct{}, len(list))
	out := list[:0]
	for _, v := range list {
		if _, ok := seen[v]; ok {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	return out
}

func remove(list []string, s string) []string {
	out := list[:0]
	for _, v := range list {
		if v != s {
			out = append(out, v)
		}
	}
	return out
}
