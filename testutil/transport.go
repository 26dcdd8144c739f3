// Package testutil holds helpers shared by package tests.
package testutil

import (
	"net/http"
	"net/url"
)

// RewriteTransport sends every request to Target regardless of the request
// host, so clients can be tested against their production base URLs without
// leaving the process.
type RewriteTransport struct {
	Target *url.URL
	Base   http.RoundTripper
}

func (t *RewriteTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	clone := req.Clone(req.Context())
	clone.URL.Scheme = t.Target.Scheme
	clone.URL.Host = t.Target.Host
	base := t.Base
	if base == nil {
		base = http.DefaultTransport
	}
	return base.RoundTrip(clone)
}

// RewriteClient wraps an httptest server URL in an http.Client whose
// transport rewrites all hosts to it.
func RewriteClient(rawURL string) (*http.Client, error) {
	target, err := url.Parse(rawURL)
	if err != nil {
		return nil, err
	}
	return &http.Client{Transport: &RewriteTransport{Target: target}}, nil
}
