package twitchapi

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gilibot/streamclips/stream"
)

const defaultBaseURL = "https://api.twitch.tv"

// fallbackAvatar is served when a profile lookup fails or has no image.
const fallbackAvatar = "https://static-cdn.jtvnw.net/jtv_user_pictures/xarth/404_user_70x70.png"

// Client implements stream.Client for Twitch. Credentials are read from the
// provider on every call so an admin credential update takes effect without a
// restart; the app token cache is rebuilt when the client id changes.
type Client struct {
	Creds stream.CredentialProvider

	// BaseURL overrides the Helix host, for tests.
	BaseURL    string
	TokenURL   string
	HTTPClient *http.Client

	// MaxPages caps cursor-following on clip listings so a misbehaving
	// backend cannot spin the poller forever.
	MaxPages int
	PageSize int

	mu    sync.Mutex
	ts    *TokenSource
	tsKey string
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

func (c *Client) pageSize() int {
	if c.PageSize > 0 {
		return c.PageSize
	}
	return 100
}

// tokenSource returns the cached TokenSource, rebuilding it when credentials
// change underneath us.
func (c *Client) tokenSource(ctx context.Context) (*TokenSource, string, error) {
	creds, err := c.Creds.Credentials(ctx, stream.Twitch)
	if err != nil {
		return nil, "", fmt.Errorf("load twitch credentials: %w", err)
	}
	if creds.ClientID == "" || creds.ClientSecret == "" {
		return nil, "", fmt.Errorf("twitch client id/secret not configured: %w", stream.ErrInvalidCredentials)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	key := creds.ClientID + "\x00" + creds.ClientSecret
	if c.ts == nil || c.tsKey != key {
		c.ts = &TokenSource{ClientID: creds.ClientID, ClientSecret: creds.ClientSecret, TokenURL: c.TokenURL, HTTPClient: c.HTTPClient}
		c.tsKey = key
	}
	return c.ts, creds.ClientID, nil
}

// get performs an authenticated Helix GET and decodes the body into out when
// the status is 200. The caller maps non-200 statuses into the taxonomy.
func (c *Client) get(ctx context.Context, path string, params url.Values, out any) (int, error) {
	ts, clientID, err := c.tokenSource(ctx)
	if err != nil {
		return 0, err
	}
	tok, err := ts.Get(ctx)
	if err != nil {
		return 0, fmt.Errorf("twitch app token: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.base()+path, nil)
	if err != nil {
		return 0, err
	}
	req.URL.RawQuery = params.Encode()
	req.Header.Set("Client-Id", clientID)
	req.Header.Set("Authorization", "Bearer "+tok)
	resp, err := c.http().Do(req)
	if err != nil {
		return 0, err
	}
	defer func() {
		if err := resp.Body.Close(); err != nil {
			slog.Warn("failed to close response body", slog.Any("err", err))
		}
	}()
	if resp.StatusCode != http.StatusOK {
		return resp.StatusCode, nil
	}
	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return resp.StatusCode, fmt.Errorf("decode %s: %w", path, err)
		}
	}
	return resp.StatusCode, nil
}

// ResolveIdentity resolves a login name to its user id, or an id back to its
// login name when only the id is stored.
func (c *Client) ResolveIdentity(ctx context.Context, ident stream.Identity) (stream.Identity, error) {
	params := url.Values{}
	switch {
	case ident.ID != "" && ident.Name != "":
		return ident, nil
	case ident.ID != "":
		params.Set("id", ident.ID)
	case ident.Name != "":
		params.Set("login", strings.ToLower(ident.Name))
	default:
		return ident, fmt.Errorf("twitch identity empty")
	}
	var body struct {
		Data []struct {
			ID          string `json:"id"`
			Login       string `json:"login"`
			DisplayName string `json:"display_name"`
		} `json:"data"`
	}
	status, err := c.get(ctx, "/helix/users", params, &body)
	if err != nil {
		return ident, err
	}
	switch {
	case status == http.StatusOK && len(body.Data) == 0:
		return ident, stream.ErrNotFound
	case status == http.StatusOK:
		ident.ID = body.Data[0].ID
		ident.Name = body.Data[0].DisplayName
		return ident, nil
	case status == http.StatusBadRequest:
		return ident, stream.ErrNotFound
	case status == http.StatusUnauthorized:
		return ident, stream.ErrInvalidCredentials
	default:
		return ident, &stream.APIError{Platform: stream.Twitch, StatusCode: status, Op: "users"}
	}
}

// FetchStreamStatus probes /helix/streams and enriches the online snapshot
// with game, follower, and profile metadata. Enrichment is best-effort: a
// failed secondary call degrades the payload instead of failing the probe.
func (c *Client) FetchStreamStatus(ctx context.Context, ident stream.Identity) (stream.Status, error) {
	if ident.ID == "" {
		var err error
		if ident, err = c.ResolveIdentity(ctx, ident); err != nil {
			return stream.Status{}, err
		}
	}
	var body struct {
		Data []struct {
			UserName     string `json:"user_name"`
			GameID       string `json:"game_id"`
			Type         string `json:"type"`
			Title        string `json:"title"`
			ThumbnailURL string `json:"thumbnail_url"`
			StartedAt    string `json:"started_at"`
		} `json:"data"`
	}
	status, err := c.get(ctx, "/helix/streams", url.Values{"user_id": {ident.ID}}, &body)
	if err != nil {
		return stream.Status{}, err
	}
	switch {
	case status == http.StatusBadRequest:
		return stream.Status{}, stream.ErrInvalidCredentials
	case status == http.StatusNotFound:
		return stream.Status{}, stream.ErrNotFound
	case status != http.StatusOK:
		return stream.Status{}, &stream.APIError{Platform: stream.Twitch, StatusCode: status, Op: "streams"}
	}
	if len(body.Data) == 0 {
		return stream.Status{}, nil
	}
	d := body.Data[0]
	title := d.Title
	if title == "" {
		title = "Untitled broadcast"
	}
	if d.Type == "rerun" {
		title += " - Rerun"
	}
	started, _ := time.Parse(time.RFC3339, d.StartedAt)
	out := stream.Status{
		Live:         true,
		Title:        title,
		AuthorName:   d.UserName,
		ThumbnailURL: sizeThumbnail(d.ThumbnailURL, 320, 180),
		AvatarURL:    fallbackAvatar,
		StartedAt:    started,
	}
	if d.GameID != "" {
		if name, err := c.gameName(ctx, d.GameID); err == nil {
			out.GameName = name
		}
	}
	if n, err := c.followerCount(ctx, ident.ID); err == nil {
		out.Followers = &n
	}
	if login, avatar, views, err := c.profile(ctx, ident.ID); err == nil {
		out.URL = "https://www.twitch.tv/" + login
		if avatar != "" {
			out.AvatarURL = avatar
		}
		out.Views = &views
	}
	return out, nil
}

// FetchClipsWindow lists every clip created within [start, end], following
// the pagination cursor iteratively up to the page cap.
func (c *Client) FetchClipsWindow(ctx context.Context, ident stream.Identity, start, end time.Time) ([]stream.RawClip, error) {
	if ident.ID == "" {
		var err error
		if ident, err = c.ResolveIdentity(ctx, ident); err != nil {
			return nil, err
		}
	}
	var out []stream.RawClip
	after := ""
	for page := 0; page < c.maxPages(); page++ {
		params := url.Values{
			"broadcaster_id": {ident.ID},
			"started_at":     {start.UTC().Format(time.RFC3339)},
			"ended_at":       {end.UTC().Format(time.RFC3339)},
			"first":          {fmt.Sprintf("%d", c.pageSize())},
		}
		if after != "" {
			params.Set("after", after)
		}
		var body struct {
			Data []struct {
				ID           string `json:"id"`
				URL          string `json:"url"`
				Title        string `json:"title"`
				CreatorName  string `json:"creator_name"`
				GameID       string `json:"game_id"`
				ThumbnailURL string `json:"thumbnail_url"`
				ViewCount    int64  `json:"view_count"`
				CreatedAt    string `json:"created_at"`
			} `json:"data"`
			Pagination struct {
				Cursor string `json:"cursor"`
			} `json:"pagination"`
		}
		status, err := c.get(ctx, "/helix/clips", params, &body)
		if err != nil {
			return nil, err
		}
		switch {
		case status == http.StatusBadRequest:
			return nil, stream.ErrInvalidCredentials
		case status == http.StatusNotFound:
			return nil, stream.ErrNotFound
		case status != http.StatusOK:
			return nil, &stream.APIError{Platform: stream.Twitch, StatusCode: status, Op: "clips"}
		}
		if len(body.Data) == 0 {
			break
		}
		for _, d := range body.Data {
			created, _ := time.Parse(time.RFC3339, d.CreatedAt)
			out = append(out, stream.RawClip{
				ID:           d.ID,
				Title:        d.Title,
				URL:          d.URL,
				ThumbnailURL: d.ThumbnailURL,
				CreatorName:  d.CreatorName,
				GameID:       d.GameID,
				ViewCount:    d.ViewCount,
				CreatedAt:    created,
			})
		}
		if body.Pagination.Cursor == "" {
			break
		}
		after = body.Pagination.Cursor
	}
	return out, nil
}

// GameName resolves a game id to its display name; used for notification
// enrichment of novel clips.
func (c *Client) GameName(ctx context.Context, gameID string) (string, error) {
	return c.gameName(ctx, gameID)
}

func (c *Client) gameName(ctx context.Context, gameID string) (string, error) {
	var body struct {
		Data []struct {
			Name string `json:"name"`
		} `json:"data"`
	}
	status, err := c.get(ctx, "/helix/games", url.Values{"id": {gameID}}, &body)
	if err != nil {
		return "", err
	}
	if status != http.StatusOK || len(body.Data) == 0 {
		return "", fmt.Errorf("game %s not found (status %d)", gameID, status)
	}
	return body.Data[0].Name, nil
}

func (c *Client) followerCount(ctx context.Context, userID string) (int64, error) {
	var body struct {
		Total int64 `json:"total"`
	}
	status, err := c.get(ctx, "/helix/users/follows", url.Values{"to_id": {userID}}, &body)
	if err != nil {
		return 0, err
	}
	if status != http.StatusOK {
		return 0, fmt.Errorf("follows lookup status %d", status)
	}
	return body.Total, nil
}

func (c *Client) profile(ctx context.Context, userID string) (login, avatar string, views int64, err error) {
	var body struct {
		Data []struct {
			Login           string `json:"login"`
			ProfileImageURL string `json:"profile_image_url"`
			ViewCount       int64  `json:"view_count"`
		} `json:"data"`
	}
	status, err := c.get(ctx, "/helix/users", url.Values{"id": {userID}}, &body)
	if err != nil {
		return "", "", 0, err
	}
	if status != http.StatusOK || len(body.Data) == 0 {
		return "", "", 0, fmt.Errorf("profile lookup status %d", status)
	}
	return body.Data[0].Login, body.Data[0].ProfileImageURL, body.Data[0].ViewCount, nil
}

// sizeThumbnail substitutes the {width}x{height} placeholders Helix leaves in
// thumbnail templates.
func sizeThumbnail(tmpl string, w, h int) string {
	s := strings.ReplaceAll(tmpl, "{width}", fmt.Sprintf("%d", w))
	return strings.ReplaceAll(s, "{height}", fmt.Sprintf("%d", h))
}
