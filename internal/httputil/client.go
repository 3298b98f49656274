// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package httputil

import (
	"fmt"
	"net/http"
	"time"

	"github.com/StalkR/hsts"
)

// TokenHeader carries the Dataverse API token.
const TokenHeader = "X-Dataverse-key"

const maxRedirects = 10

// DowngradedRedirectError is returned when an HTTPS request is redirected
// to a plain-HTTP location.
type DowngradedRedirectError struct {
	Location string
}

func (e *DowngradedRedirectError) Error() string {
	return fmt.Sprintf("refusing redirect from https to %s", e.Location)
}

// NewClient returns an HTTP client with the given timeout that enables HTTP
// Strict Transport Security and refuses https-to-http redirects. Every
// outgoing request carries the User-Agent. The API token, when set, is sent
// only to the host the request chain started on.
func NewClient(timeout time.Duration, userAgent, apiToken string) *http.Client {
	base := http.DefaultTransport.(*http.Transport).Clone()
	return &http.Client{
		Timeout: timeout,
		Transport: &headerTransport{
			next:      hsts.New(base),
			userAgent: userAgent,
			token:     apiToken,
		},
		CheckRedirect: checkRedirect,
	}
}

func checkRedirect(req *http.Request, via []*http.Request) error {
	if len(via) >= maxRedirects {
		return fmt.Errorf("stopped after %d redirects", maxRedirects)
	}
	if len(via) > 0 && via[len(via)-1].URL.Scheme == "https" && req.URL.Scheme == "http" {
		return &DowngradedRedirectError{Location: req.URL.Redacted()}
	}
	return nil
}

// headerTransport adds the User-Agent and API token headers to requests
// that do not already carry them. A redirect hop to another host gets no
// token.
type headerTransport struct {
	next      http.RoundTripper
	userAgent string
	token     string
}

func (t *headerTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	needUA := t.userAgent != "" && req.Header.Get("User-Agent") == ""
	needToken := t.token != "" && req.Header.Get(TokenHeader) == "" && req.URL.Host == originHost(req)
	if needUA || needToken {
		req = req.Clone(req.Context())
		if needUA {
			req.Header.Set("User-Agent", t.userAgent)
		}
		if needToken {
			req.Header.Set(TokenHeader, t.token)
		}
	}
	return t.next.RoundTrip(req)
}

// originHost returns the host of the first request in a redirect chain.
func originHost(req *http.Request) string {
	for req.Response != nil && req.Response.Request != nil {
		req = req.Response.Request
	}
	return req.URL.Host
}
