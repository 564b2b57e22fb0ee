package common

import (
	_ "embed"
	"net/http"
	"net/http/cookiejar"
	"strings"
	"time"

	"golang.org/x/time/rate"
)

//go:embed VERSION
var version string

// BrowserUserAgent is sent on every request. The portal and the B2C tenant
// serve different markup to clients that don't look like a browser.
const BrowserUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 " +
	"(KHTML, like Gecko) Chrome/130.0.0.0 Safari/537.36"

// Version returns the embedded release version.
func Version() string {
	return strings.TrimSpace(version)
}

type userAgentTransport struct {
	transport http.RoundTripper
	userAgent string
}

// RoundTrip implements the http.RoundTripper interface and sets the browser
// headers on a clone of the request.
func (t *userAgentTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	// Clone the request to avoid modifying the original request's headers
	// which might be shared or reused
	req = req.Clone(req.Context())
	req.Header.Set("User-Agent", t.userAgent)
	if req.Header.Get("Accept") == "" {
		req.Header.Set("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8")
	}
	if req.Header.Get("Accept-Language") == "" {
		req.Header.Set("Accept-Language", "nl-NL,nl;q=0.9,en-US;q=0.8,en;q=0.7")
	}
	return t.transport.RoundTrip(req)
}

type throttledTransport struct {
	limiter   *rate.Limiter
	transport http.RoundTripper
}

// RoundTrip waits for the limiter before passing the request on.
func (t *throttledTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	if err := t.limiter.Wait(req.Context()); err != nil {
		return nil, err
	}
	return t.transport.RoundTrip(req)
}

// NewLimiter returns a limiter allowing perSecond requests with a small burst.
// A non-positive rate disables throttling and returns nil.
func NewLimiter(perSecond float64) *rate.Limiter {
	if perSecond <= 0 {
		return nil
	}
	return rate.NewLimiter(rate.Limit(perSecond), 3)
}

func newTransport(limiter *rate.Limiter) http.RoundTripper {
	var rt http.RoundTripper = &userAgentTransport{
		transport: http.DefaultTransport,
		userAgent: BrowserUserAgent,
	}
	if limiter != nil {
		rt = &throttledTransport{limiter: limiter, transport: rt}
	}
	return rt
}

// HTTPClient returns a client with the browser user-agent set and no cookie
// jar. The limiter may be nil.
func HTTPClient(timeout time.Duration, limiter *rate.Limiter) *http.Client {
	return &http.Client{
		Transport: newTransport(limiter),
		Timeout:   timeout,
	}
}

// SessionClient returns a client with its own cookie jar. Every login attempt
// gets a new one so that concurrent accounts never share identity-provider
// cookies. The limiter may be shared and may be nil.
func SessionClient(timeout time.Duration, limiter *rate.Limiter) *http.Client {
	// cookiejar.New only fails when PublicSuffixList options misbehave, and we
	// pass none
	jar, _ := cookiejar.New(nil)
	return &http.Client{
		Transport: newTransport(limiter),
		Jar:       jar,
		Timeout:   timeout,
	}
}

// NoRedirects returns a shallow copy of c that hands 3xx responses back to
// the caller instead of following them. The cookie jar is shared with c.
func NoRedirects(c *http.Client) *http.Client {
	cp := *c
	cp.CheckRedirect = func(*http.Request, []*http.Request) error {
		return http.ErrUseLastResponse
	}
	return &cp
}
