package fluvius

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fluviusenergy/fluviusenergy/pkg/auth"
	"github.com/fluviusenergy/fluviusenergy/pkg/log"
	"github.com/fluviusenergy/fluviusenergy/pkg/types"
)

func init() {
	log.SetDefaultLogLevel(slog.LevelError)
}

type staticTokens struct {
	token string
	err   error
	got   auth.Credentials
}

func (s *staticTokens) GetBearerToken(ctx context.Context, creds auth.Credentials) (string, auth.TokenResponse, error) {
	s.got = creds
	return s.token, auth.TokenResponse{AccessToken: s.token}, s.err
}

func testAccount() types.Account {
	a := types.Account{
		Email:       "user@example.com",
		Password:    "hunter2",
		EAN:         "541448800000000000",
		MeterSerial: "1SAG1100000000",
	}
	a.ApplyDefaults()
	return a
}

func brussels(t *testing.T) *time.Location {
	loc, err := time.LoadLocation("Europe/Brussels")
	require.NoError(t, err)
	return loc
}

func TestRanges(t *testing.T) {
	loc := brussels(t)
	now := time.Date(2025, 11, 20, 14, 30, 0, 0, loc)

	t.Run("Daily", func(t *testing.T) {
		acct := testAccount()
		r := HistoryRange(now, acct)
		assert.Equal(t, "2025-11-13T00:00:00.000+01:00", r.From.Format(timestampLayout))
		assert.Equal(t, "2025-11-20T23:59:59.999+01:00", r.Until.Format(timestampLayout))
	})

	t.Run("GasMinimumLookback", func(t *testing.T) {
		acct := testAccount()
		acct.MeterType = types.MeterTypeGas
		acct.DaysBack = 2
		acct.Granularity = types.GranularityQuarterHour
		r := HistoryRange(now, acct)
		assert.Equal(t, "2025-11-13T00:00:00.000+01:00", r.From.Format(timestampLayout))
		assert.Equal(t, types.GranularityDaily, historyGranularity(acct))
	})

	t.Run("QuarterHourGranularityIsSingleDay", func(t *testing.T) {
		acct := testAccount()
		acct.Granularity = types.GranularityQuarterHour
		acct.DaysBack = 3
		r := HistoryRange(now, acct)
		assert.Equal(t, "2025-11-17T00:00:00.000+01:00", r.From.Format(timestampLayout))
		assert.Equal(t, "2025-11-17T23:59:59.999+01:00", r.Until.Format(timestampLayout))
	})

	t.Run("QuarterHours", func(t *testing.T) {
		acct := testAccount()
		r := QuarterHourRange(now, acct)
		assert.Equal(t, "2025-11-19T00:00:00.000+01:00", r.From.Format(timestampLayout))
		assert.Equal(t, "2025-11-19T23:59:59.999+01:00", r.Until.Format(timestampLayout))
	})

	t.Run("Spikes", func(t *testing.T) {
		r := SpikeRange(now, testAccount())
		assert.Equal(t, "2025-01-01T00:00:00.000+01:00", r.From.Format(timestampLayout))
		assert.Equal(t, "2025-11-20T23:59:59.999+01:00", r.Until.Format(timestampLayout))
	})

	t.Run("ConvertsToAccountZone", func(t *testing.T) {
		// 23:30 UTC is already the next day in Brussels
		r := HistoryRange(time.Date(2025, 6, 30, 23, 30, 0, 0, time.UTC), testAccount())
		assert.Equal(t, "2025-07-01T23:59:59.999+02:00", r.Until.Format(timestampLayout))
	})
}

func newTestClient(t *testing.T, handler http.HandlerFunc) (*Client, *staticTokens) {
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	tokens := &staticTokens{token: "tok"}
	c := NewClient(srv.URL+"/verbruik/api", tokens, nil)
	c.now = func() time.Time { return time.Date(2025, 11, 20, 14, 30, 0, 0, time.UTC) }
	return c, tokens
}

func TestClient(t *testing.T) {
	ctx := context.Background()
	acct := testAccount()

	t.Run("FetchHistory", func(t *testing.T) {
		c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, "/verbruik/api/meter-measurement-history/541448800000000000", r.URL.Path)
			assert.Equal(t, "Bearer tok", r.Header.Get("Authorization"))
			assert.Equal(t, "application/json", r.Header.Get("Accept"))
			q := r.URL.Query()
			assert.Equal(t, "4", q.Get("granularity"))
			assert.Equal(t, "false", q.Get("asServiceProvider"))
			assert.Equal(t, "1SAG1100000000", q.Get("meterSerialNumber"))
			assert.Equal(t, "2025-11-13T00:00:00.000+01:00", q.Get("historyFrom"))
			_, _ = w.Write([]byte(`[{"d":"2025-11-18T05:00:00Z","de":"2025-11-19T05:00:00Z","v":[{"dc":0,"t":1,"v":1.5,"u":3}]}]`))
		})
		records, err := c.FetchHistory(ctx, "tok", acct)
		require.NoError(t, err)
		require.Len(t, records, 1)
		assert.Equal(t, "2025-11-18T05:00:00Z", records[0].D)
		require.Len(t, records[0].V, 1)
		assert.Equal(t, 1.5, records[0].V[0].V)
	})

	t.Run("FetchQuarterHours", func(t *testing.T) {
		c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, "1", r.URL.Query().Get("granularity"))
			assert.Equal(t, "2025-11-19T00:00:00.000+01:00", r.URL.Query().Get("historyFrom"))
			_, _ = w.Write([]byte(`[]`))
		})
		records, err := c.FetchQuarterHours(ctx, "tok", acct)
		require.NoError(t, err)
		assert.Empty(t, records)
	})

	t.Run("FetchSpikes", func(t *testing.T) {
		c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, "/verbruik/api/meter-measurement-spikes/541448800000000000", r.URL.Path)
			assert.False(t, r.URL.Query().Has("granularity"))
			_, _ = w.Write([]byte(` [{"d":"2025-11-01T00:00:00+01:00","v":[]}]`))
		})
		records, err := c.FetchSpikes(ctx, "tok", acct)
		require.NoError(t, err)
		assert.Len(t, records, 1)
	})

	t.Run("HTTPError", func(t *testing.T) {
		c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusNotFound)
			_, _ = w.Write([]byte(`{"message":"unknown ean"}`))
		})
		_, err := c.FetchHistory(ctx, "tok", acct)
		var nerr *NetworkError
		require.ErrorAs(t, err, &nerr)
		assert.Equal(t, http.StatusNotFound, nerr.StatusCode)
		assert.Contains(t, nerr.Body, "unknown ean")
		assert.Equal(t, "consumption", nerr.Op)
	})

	t.Run("TransportError", func(t *testing.T) {
		c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {})
		c.apiURL = "http://127.0.0.1:1"
		_, err := c.FetchSpikes(ctx, "tok", acct)
		var nerr *NetworkError
		require.ErrorAs(t, err, &nerr)
		assert.Zero(t, nerr.StatusCode)
		assert.Error(t, nerr.Unwrap())
	})

	t.Run("PayloadShape", func(t *testing.T) {
		for body, kind := range map[string]string{
			`{"error":"x"}`: "an object",
			`null`:          "null",
			``:              "an empty body",
			`[1, 2]`:        "a list that does not decode",
		} {
			c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
				_, _ = w.Write([]byte(body))
			})
			_, err := c.FetchHistory(ctx, "tok", acct)
			var perr *PayloadShapeError
			require.ErrorAs(t, err, &perr, body)
			assert.Contains(t, perr.Got, kind)
		}
	})

	t.Run("Login", func(t *testing.T) {
		c, tokens := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {})
		a := acct
		a.RememberMe = true
		token, err := c.Login(ctx, a)
		require.NoError(t, err)
		assert.Equal(t, "tok", token)
		assert.Equal(t, auth.Credentials{Username: "user@example.com", Password: "hunter2", RememberMe: true}, tokens.got)

		tokens.err = &auth.AuthError{Step: auth.StepSubmittingCredentials, Reason: "rejected"}
		_, err = c.Login(ctx, a)
		assert.ErrorIs(t, err, ErrAuthenticationFailed)
		var aerr *auth.AuthError
		require.True(t, errors.As(err, &aerr))
		assert.Equal(t, auth.StepSubmittingCredentials, aerr.Step)
	})
}
