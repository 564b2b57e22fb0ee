package fluvius

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/levenlabs/go-lflag"
	"golang.org/x/time/rate"

	"github.com/fluviusenergy/fluviusenergy/pkg/auth"
	"github.com/fluviusenergy/fluviusenergy/pkg/common"
	"github.com/fluviusenergy/fluviusenergy/pkg/log"
	"github.com/fluviusenergy/fluviusenergy/pkg/measurement"
	"github.com/fluviusenergy/fluviusenergy/pkg/types"
)

// DefaultAPIURL is the base of the portal's consumption API.
const DefaultAPIURL = "https://mijn.fluvius.be/verbruik/api"

const requestTimeout = 30 * time.Second

// TokenSource obtains a bearer token for an account.
type TokenSource interface {
	GetBearerToken(ctx context.Context, creds auth.Credentials) (string, auth.TokenResponse, error)
}

// Client logs in and fetches raw measurement records from the portal.
type Client struct {
	apiURL  string
	client  *http.Client
	tokens  TokenSource
	limiter *rate.Limiter
	now     func() time.Time
}

// NewClient returns a client for apiURL that logs in with tokens.
func NewClient(apiURL string, tokens TokenSource, limiter *rate.Limiter) *Client {
	return &Client{
		apiURL:  apiURL,
		client:  common.HTTPClient(requestTimeout, limiter),
		tokens:  tokens,
		limiter: limiter,
		now:     time.Now,
	}
}

// Configured registers the data API flags, including the request rate that
// is shared with the authenticator, and returns the client.
func Configured(authenticator *auth.Authenticator) *Client {
	c := NewClient(DefaultAPIURL, authenticator, nil)
	apiURL := lflag.String("fluvius-api-url", DefaultAPIURL, "Base URL of the Fluvius consumption API")
	perSecond := lflag.String("fluvius-requests-per-second", "2", "Maximum requests per second sent to Fluvius (0 disables throttling)")

	lflag.Do(func() {
		c.apiURL = *apiURL
		rps, err := strconv.ParseFloat(*perSecond, 64)
		if err != nil {
			panic(fmt.Sprintf("invalid fluvius-requests-per-second (%s): %v", *perSecond, err))
		}
		c.limiter = common.NewLimiter(rps)
		c.client = common.HTTPClient(requestTimeout, c.limiter)
		authenticator.SetLimiter(c.limiter)
	})
	return c
}

// Validate ensures the configuration is valid.
func (c *Client) Validate() error {
	if c.apiURL == "" {
		return errors.New("fluvius-api-url is required")
	}
	if _, err := url.Parse(c.apiURL); err != nil {
		return fmt.Errorf("failed to parse fluvius api url (%s): %w", c.apiURL, err)
	}
	return nil
}

// Login runs the full login for the account. Any failure wraps
// ErrAuthenticationFailed.
func (c *Client) Login(ctx context.Context, acct types.Account) (string, error) {
	token, _, err := c.tokens.GetBearerToken(ctx, auth.Credentials{
		Username:   acct.Email,
		Password:   acct.Password,
		RememberMe: acct.RememberMe,
	})
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrAuthenticationFailed, err)
	}
	return token, nil
}

// FetchHistory fetches the daily (or configured granularity) history.
func (c *Client) FetchHistory(ctx context.Context, token string, acct types.Account) ([]measurement.Record, error) {
	r := HistoryRange(c.now(), acct)
	q := rangeQuery(r, acct)
	q.Set("granularity", historyGranularity(acct))
	return c.get(ctx, "consumption", token, "meter-measurement-history/"+url.PathEscape(acct.EAN), q)
}

// FetchQuarterHours fetches a single day of 15 minute intervals.
func (c *Client) FetchQuarterHours(ctx context.Context, token string, acct types.Account) ([]measurement.Record, error) {
	r := QuarterHourRange(c.now(), acct)
	q := rangeQuery(r, acct)
	q.Set("granularity", types.GranularityQuarterHour)
	return c.get(ctx, "quarter-hourly consumption", token, "meter-measurement-history/"+url.PathEscape(acct.EAN), q)
}

// FetchSpikes fetches the monthly peaks of the current year.
func (c *Client) FetchSpikes(ctx context.Context, token string, acct types.Account) ([]measurement.Record, error) {
	r := SpikeRange(c.now(), acct)
	return c.get(ctx, "peak power", token, "meter-measurement-spikes/"+url.PathEscape(acct.EAN), rangeQuery(r, acct))
}

func rangeQuery(r Range, acct types.Account) url.Values {
	return url.Values{
		"historyFrom":       {r.From.Format(timestampLayout)},
		"historyUntil":      {r.Until.Format(timestampLayout)},
		"asServiceProvider": {"false"},
		"meterSerialNumber": {acct.MeterSerial},
	}
}

func (c *Client) get(ctx context.Context, op, token, path string, q url.Values) ([]measurement.Record, error) {
	u := c.apiURL + "/" + path + "?" + q.Encode()
	log.Verbose(ctx, "fluvius api request",
		slog.String("op", op),
		slog.String("path", path),
		slog.String("granularity", q.Get("granularity")),
		slog.String("from", q.Get("historyFrom")),
		slog.String("until", q.Get("historyUntil")),
	)

	req, err := http.NewRequestWithContext(ctx, "GET", u, nil)
	if err != nil {
		return nil, &NetworkError{Op: op, Err: fmt.Errorf("failed to create request: %w", err)}
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Accept", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, &NetworkError{Op: op, Err: err}
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &NetworkError{Op: op, Err: fmt.Errorf("failed to read response: %w", err)}
	}
	log.Verbose(ctx, "fluvius api response", slog.String("op", op), slog.Int("status", resp.StatusCode), slog.Int("bytes", len(body)))
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		b := body
		if len(b) > 500 {
			b = b[:500]
		}
		return nil, &NetworkError{Op: op, StatusCode: resp.StatusCode, Body: string(b)}
	}

	return decodeRecords(op, body)
}

func decodeRecords(op string, body []byte) ([]measurement.Record, error) {
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) == 0 || trimmed[0] != '[' {
		return nil, &PayloadShapeError{Op: op, Got: jsonKind(trimmed)}
	}
	var records []measurement.Record
	if err := json.Unmarshal(trimmed, &records); err != nil {
		return nil, &PayloadShapeError{Op: op, Got: fmt.Sprintf("a list that does not decode (%v)", err)}
	}
	return records, nil
}

func jsonKind(b []byte) string {
	if len(b) == 0 {
		return "an empty body"
	}
	switch b[0] {
	case '{':
		return "an object"
	case '"':
		return "a string"
	case 'n':
		return "null"
	case 't', 'f':
		return "a boolean"
	default:
		if json.Valid(b) {
			return "a number"
		}
		return "invalid json"
	}
}
