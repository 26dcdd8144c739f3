// Package twitchapi talks to the Twitch Helix API: identity resolution, live
// status probes with metadata enrichment, and clip listing over a bounded
// lookback window. App access tokens are obtained via the OAuth2 client
// credentials grant and cached with proactive renewal.
package twitchapi

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"
	"golang.org/x/oauth2/endpoints"
)

// refreshMargin is how much remaining lifetime forces a renewal before use.
const refreshMargin = 60 * time.Second

// TokenSource fetches and caches a Twitch app access (client credentials)
// token. A token is refreshed once its remaining lifetime drops to
// refreshMargin; concurrent callers observing a fresh token never trigger a
// second refresh.
type TokenSource struct {
	ClientID     string
	ClientSecret string

	// TokenURL overrides the Twitch OAuth endpoint, for tests.
	TokenURL   string
	HTTPClient *http.Client

	mu        sync.RWMutex
	token     string
	expiresAt time.Time
}

// Get returns a valid (fresh or cached) app access token. On refresh failure
// with a previously cached token, the stale token is returned and the
// downstream API call surfaces the auth error through the normal taxonomy.
func (ts *TokenSource) Get(ctx context.Context) (string, error) {
	ts.mu.RLock()
	if ts.token != "" && time.Until(ts.expiresAt) > refreshMargin {
		tok := ts.token
		ts.mu.RUnlock()
		return tok, nil
	}
	ts.mu.RUnlock()
	return ts.refresh(ctx)
}

func (ts *TokenSource) refresh(ctx context.Context) (string, error) {
	ts.mu.Lock()
	defer ts.mu.Unlock()
	if ts.token != "" && time.Until(ts.expiresAt) > refreshMargin {
		return ts.token, nil
	}
	if ts.ClientID == "" || ts.ClientSecret == "" {
		return "", errors.New("missing client id/secret for twitch app token")
	}
	tokenURL := ts.TokenURL
	if tokenURL == "" {
		tokenURL = endpoints.Twitch.TokenURL
	}
	cc := &clientcredentials.Config{
		ClientID:     ts.ClientID,
		ClientSecret: ts.ClientSecret,
		TokenURL:     tokenURL,
		AuthStyle:    oauth2.AuthStyleInParams,
	}
	if ts.HTTPClient != nil {
		ctx = context.WithValue(ctx, oauth2.HTTPClient, ts.HTTPClient)
	}
	tok, err := cc.Token(ctx)
	if err != nil {
		if ts.token != "" {
			return ts.token, nil
		}
		return "", err
	}
	if tok.AccessToken == "" {
		return "", errors.New("empty access_token in twitch response")
	}
	ts.token = tok.AccessToken
	ts.expiresAt = tok.Expiry
	return ts.token, nil
}

// prime seeds the cache directly; used by tests to exercise the renewal rule.
func (ts *TokenSource) prime(token string, expiresAt time.Time) {
	ts.mu.Lock()
	ts.token = token
	ts.expiresAt = expiresAt
	ts.mu.Unlock()
}
