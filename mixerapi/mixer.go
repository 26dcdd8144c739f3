// Package mixerapi implements clip discovery and live probes for Mixer.
// Clip listings paginate via an opaque continuation token derived from the
// last item's upload timestamp; the loop is iterative with a page cap. A
// secondary acceptance window rejects stale entries the API is known to
// replay, since Mixer clips carry no local retention timestamps.
package mixerapi

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

const defaultBaseURL = "https://mixer.com/api/v1"

const defaultAvatar = "https://mixer.com/_latest/assets/images/main/avatars/default.jpg"

// DefaultAcceptWindow bounds how old an uploadDate may be before a listed
// clip is rejected as an API replay. Empirically chosen; override via config.
const DefaultAcceptWindow = 6 * time.Hour

// Client implements stream.Client for Mixer. No credentials are required.
type Client struct {
	BaseURL    string
	HTTPClient *http.Client

	// MaxPages caps continuation-token following.
	MaxPages int

	// AcceptWindow overrides DefaultAcceptWindow.
	AcceptWindow time.Duration
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

func (c *Client) maxPages() int {
	if c.MaxPages > 0 {
		return c.MaxPages
	}
	return 25
}

func (c *Client) acceptWindow() time.Duration {
	if c.AcceptWindow > 0 {
		return c.AcceptWindow
	}
	return DefaultAcceptWindow
}

type channelData struct {
	ID           int64  `json:"id"`
	Token        string `json:"token"`
	Name         string `json:"name"`
	Online       bool   `json:"online"`
	NumFollowers int64  `json:"numFollowers"`
	ViewersTotal int64  `json:"viewersTotal"`
	User         struct {
		Username  string `json:"username"`
		AvatarURL string `json:"avatarUrl"`
	} `json:"user"`
	Thumbnail *struct {
		URL string `json:"url"`
	} `json:"thumbnail"`
	Type *struct {
		Name string `json:"name"`
	} `json:"type"`
}

func (c *Client) fetchChannel(ctx context.Context, name string) (*channelData, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.base()+"/channels/"+url.PathEscape(name), nil)
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
	switch {
	case resp.StatusCode == http.StatusNotFound:
		return nil, stream.ErrNotFound
	case resp.StatusCode != http.StatusOK:
		return nil, &stream.APIError{Platform: stream.Mixer, StatusCode: resp.StatusCode, Op: "channels"}
	}
	var data channelData
	if err := json.NewDecoder(resp.Body).Decode(&data); err != nil {
		return nil, fmt.Errorf("decode mixer channel: %w", err)
	}
	return &data, nil
}

// ResolveIdentity fills in the numeric channel id from the channel token.
func (c *Client) ResolveIdentity(ctx context.Context, ident stream.Identity) (stream.Identity, error) {
	if ident.Name == "" {
		return ident, fmt.Errorf("mixer identity needs a channel name")
	}
	data, err := c.fetchChannel(ctx, ident.Name)
	if err != nil {
		return ident, err
	}
	ident.ID = fmt.Sprintf("%d", data.ID)
	ident.Name = data.Token
	return ident, nil
}

// FetchStreamStatus probes the channel's online flag.
func (c *Client) FetchStreamStatus(ctx context.Context, ident stream.Identity) (stream.Status, error) {
	data, err := c.fetchChannel(ctx, ident.Name)
	if err != nil {
		return stream.Status{}, err
	}
	if !data.Online {
		return stream.Status{}, nil
	}
	out := stream.Status{
		Live:       true,
		Title:      data.Name,
		URL:        "https://mixer.com/" + data.Token,
		AuthorName: data.User.Username,
		AvatarURL:  data.User.AvatarURL,
		Followers:  &data.NumFollowers,
		Views:      &data.ViewersTotal,
	}
	if out.AvatarURL == "" {
		out.AvatarURL = defaultAvatar
	}
	if data.Thumbnail != nil {
		out.ThumbnailURL = data.Thumbnail.URL
	}
	if data.Type != nil {
		out.GameName = data.Type.Name
	}
	return out, nil
}

type clipItem struct {
	ContentID    string `json:"contentId"`
	Title        string `json:"title"`
	UploadDate   string `json:"uploadDate"`
	ThumbnailURI string `json:"thumbnailUri"`
	ViewCount    int64  `json:"viewCount"`
}

// FetchClipsWindow lists clips for the channel, following the continuation
// token until a page comes back empty, the token cannot be derived, or the
// page cap is hit. Entries with an uploadDate outside the acceptance window
// are dropped even when the ledger has never seen them.
func (c *Client) FetchClipsWindow(ctx context.Context, ident stream.Identity, start, end time.Time) ([]stream.RawClip, error) {
	if ident.ID == "" {
		var err error
		if ident, err = c.ResolveIdentity(ctx, ident); err != nil {
			return nil, err
		}
	}
	oldest := end.Add(-c.acceptWindow())
	if oldest.Before(start) {
		oldest = start
	}
	var out []stream.RawClip
	token := ""
	for page := 0; page < c.maxPages(); page++ {
		items, err := c.fetchClipsPage(ctx, ident.ID, token)
		if err != nil {
			return nil, err
		}
		if len(items) == 0 {
			break
		}
		for _, item := range items {
			uploaded, err := time.Parse(time.RFC3339, item.UploadDate)
			if err != nil {
				continue
			}
			if uploaded.Before(oldest) || uploaded.After(end) {
				continue
			}
			out = append(out, stream.RawClip{
				ID:           item.ContentID,
				Title:        item.Title,
				URL:          "https://mixer.com/" + ident.Name + "?clip=" + item.ContentID,
				ThumbnailURL: item.ThumbnailURI,
				CreatorName:  ident.Name,
				ViewCount:    item.ViewCount,
				CreatedAt:    uploaded,
			})
		}
		// Continuation token is the last item's upload timestamp; an item
		// without one ends the walk.
		last := items[len(items)-1].UploadDate
		if last == "" || last == token {
			break
		}
		token = last
	}
	return out, nil
}

func (c *Client) fetchClipsPage(ctx context.Context, channelID, token string) ([]clipItem, error) {
	u := c.base() + "/clips/channels/" + url.PathEscape(channelID)
	if token != "" {
		u += "?continuationToken=" + url.QueryEscape(token)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
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
	switch {
	case resp.StatusCode == http.StatusNotFound:
		return nil, stream.ErrNotFound
	case resp.StatusCode != http.StatusOK:
		return nil, &stream.APIError{Platform: stream.Mixer, StatusCode: resp.StatusCode, Op: "clips"}
	}
	var items []clipItem
	if err := json.NewDecoder(resp.Body).Decode(&items); err != nil {
		return nil, fmt.Errorf("decode mixer clips: %w", err)
	}
	return items, nil
}
