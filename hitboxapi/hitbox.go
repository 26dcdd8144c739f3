// Package hitboxapi implements live probes for Hitbox (smashcast). The
// platform has no clip API, so FetchClipsWindow reports unsupported and the
// engine only watches for live transitions.
package hitboxapi

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/gilibot/streamclips/stream"
)

const defaultBaseURL = "https://api.hitbox.tv"

const defaultAvatar = "https://edge.sf.hitbox.tv/static/img/hitboxlive.png"

// Client implements stream.Client for Hitbox. No credentials are required.
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

type mediaLive struct {
	Livestream []struct {
		MediaIsLive      string `json:"media_is_live"`
		MediaStatus      string `json:"media_status"`
		MediaDisplayName string `json:"media_display_name"`
		MediaUserName    string `json:"media_user_name"`
		MediaThumbnail   string `json:"media_thumbnail"`
		MediaViews       string `json:"media_views"`
		Category         *struct {
			CategoryName string `json:"category_name"`
		} `json:"category"`
		Channel *struct {
			UserLogo  string `json:"user_logo"`
			Followers int64  `json:"followers"`
		} `json:"channel"`
	} `json:"livestream"`
}

func (c *Client) fetchMedia(ctx context.Context, name string) (*mediaLive, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.base()+"/media/live/"+url.PathEscape(name), nil)
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
		return nil, &stream.APIError{Platform: stream.Hitbox, StatusCode: resp.StatusCode, Op: "media/live"}
	}
	// The API answers 200 with an error payload for unknown channels. Only a
	// body carrying the livestream key names a real channel.
	var raw map[string]json.RawMessage
	if err := json.NewDecoder(resp.Body).Decode(&raw); err != nil {
		return nil, fmt.Errorf("decode hitbox media: %w", err)
	}
	body, ok := raw["livestream"]
	if !ok {
		return nil, stream.ErrNotFound
	}
	var media mediaLive
	if err := json.Unmarshal(body, &media.Livestream); err != nil {
		return nil, fmt.Errorf("decode hitbox livestream: %w", err)
	}
	if len(media.Livestream) == 0 {
		return nil, stream.ErrNotFound
	}
	return &media, nil
}

// ResolveIdentity verifies the channel exists. Hitbox addresses channels by
// name only.
func (c *Client) ResolveIdentity(ctx context.Context, ident stream.Identity) (stream.Identity, error) {
	if ident.Name == "" {
		return ident, fmt.Errorf("hitbox identity needs a channel name")
	}
	media, err := c.fetchMedia(ctx, ident.Name)
	if err != nil {
		return ident, err
	}
	ident.ID = ident.Name
	if media.Livestream[0].MediaUserName != "" {
		ident.Name = media.Livestream[0].MediaUserName
	}
	return ident, nil
}

// FetchStreamStatus probes the media_is_live flag, which the API reports as
// the strings "0" and "1".
func (c *Client) FetchStreamStatus(ctx context.Context, ident stream.Identity) (stream.Status, error) {
	media, err := c.fetchMedia(ctx, ident.Name)
	if err != nil {
		return stream.Status{}, err
	}
	live := media.Livestream[0]
	if live.MediaIsLive != "1" {
		return stream.Status{}, nil
	}
	out := stream.Status{
		Live:         true,
		Title:        live.MediaStatus,
		URL:          "https://www.hitbox.tv/" + live.MediaUserName,
		AuthorName:   live.MediaDisplayName,
		ThumbnailURL: live.MediaThumbnail,
		AvatarURL:    defaultAvatar,
	}
	if out.ThumbnailURL != "" && out.ThumbnailURL[0] == '/' {
		out.ThumbnailURL = "https://edge.sf.hitbox.tv" + out.ThumbnailURL
	}
	if live.Category != nil {
		out.GameName = live.Category.CategoryName
	}
	if live.Channel != nil {
		out.Followers = &live.Channel.Followers
		if live.Channel.UserLogo != "" {
			out.AvatarURL = "https://edge.sf.hitbox.tv" + live.Channel.UserLogo
		}
	}
	return out, nil
}

// FetchClipsWindow reports that Hitbox has no clip listing.
func (c *Client) FetchClipsWindow(ctx context.Context, ident stream.Identity, start, end time.Time) ([]stream.RawClip, error) {
	return nil, stream.ErrClipsUnsupported
}
