// Package picartoapi implements live probes for Picarto. The platform has no
// clip API, so FetchClipsWindow reports unsupported and the engine only
// watches for live transitions.
package picartoapi

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/gilibot/streamclips/stream"
)

const defaultBaseURL = "https://api.picarto.tv/v1"

// Client implements stream.Client for Picarto. No credentials are required.
type Client struct {
	BaseURL    string
	HTTPClient *http.Client
}

func (c *Client) http() *http.Client {
	if c.HTTPClient != nil {
		return c.HTTPClient
	}
	return http.DefaultClient
}

func (c *Client) base() string {
	if c.BaseURL != "" {
		return c.BaseURL
	}
	return defaultBaseURL
}

type channelInfo struct {
	UserID     int64  `json:"user_id"`
	Name       string `json:"name"`
	Online     bool   `json:"online"`
	Title      string `json:"title"`
	Category   string `json:"category"`
	Avatar     string `json:"avatar"`
	Thumbnails struct {
		Web string `json:"web"`
	} `json:"thumbnails"`
	Followers    int64  `json:"followers"`
	ViewersTotal int64  `json:"viewers_total"`
	LastLive     string `json:"last_live"`
}

func (c *Client) fetchChannel(ctx context.Context, name string) (*channelInfo, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.base()+"/channel/name/"+url.PathEscape(name), nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.http().Do(req)
	if err != nil {
		return nil, err
	}
	defer func() {
		if err := resp.Body.Close(); err != nil {
			slog.Warn("failed to close response body", slog.Any("err", err))
		}
	}()
	if resp.StatusCode == http.StatusNotFound {
		return nil, stream.ErrNotFound
	}
	if resp.StatusCode != http.StatusOK {
		return nil, &stream.APIError{Platform: stream.Picarto, StatusCode: resp.StatusCode, Op: "channel/name"}
	}
	var info channelInfo
	if err := json.NewDecoder(resp.Body).Decode(&info); err != nil {
		return nil, fmt.Errorf("decode picarto channel: %w", err)
	}
	return &info, nil
}

// ResolveIdentity fills in the numeric user id from the channel name.
func (c *Client) ResolveIdentity(ctx context.Context, ident stream.Identity) (stream.Identity, error) {
	if ident.Name == "" {
		return ident, fmt.Errorf("picarto identity needs a channel name")
	}
	info, err := c.fetchChannel(ctx, ident.Name)
	if err != nil {
		return ident, err
	}
	ident.ID = strconv.FormatInt(info.UserID, 10)
	ident.Name = info.Name
	return ident, nil
}

// FetchStreamStatus probes the channel's online flag.
func (c *Client) FetchStreamStatus(ctx context.Context, ident stream.Identity) (stream.Status, error) {
	info, err := c.fetchChannel(ctx, ident.Name)
	if err != nil {
		return stream.Status{}, err
	}
	if !info.Online {
		return stream.Status{}, nil
	}
	return stream.Status{
		Live:         true,
		Title:        info.Title,
		URL:          "https://picarto.tv/" + info.Name,
		AuthorName:   info.Name,
		ThumbnailURL: info.Thumbnails.Web,
		AvatarURL:    info.Avatar,
		GameName:     info.Category,
		Followers:    &info.Followers,
		Views:        &info.ViewersTotal,
	}, nil
}

// FetchClipsWindow reports that Picarto has no clip listing.
func (c *Client) FetchClipsWindow(ctx context.Context, ident stream.Identity, start, end time.Time) ([]stream.RawClip, error) {
	return nil, stream.ErrClipsUnsupported
}
