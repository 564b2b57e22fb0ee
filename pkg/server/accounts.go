package server

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/fluviusenergy/fluviusenergy/pkg/coordinator"
	"github.com/fluviusenergy/fluviusenergy/pkg/fluvius"
	"github.com/fluviusenergy/fluviusenergy/pkg/log"
	"github.com/fluviusenergy/fluviusenergy/pkg/types"
)

const (
	defaultDailyRange = 30 * 24 * time.Hour
	maxDailyRange     = 400 * 24 * time.Hour
)

// accountView is an account as exposed by the API. It never contains the
// password and the email is masked.
type accountView struct {
	ID                string               `json:"id"`
	Email             string               `json:"email"`
	EAN               string               `json:"ean"`
	MeterSerial       string               `json:"meterSerial"`
	MeterType         types.MeterType      `json:"meterType"`
	Granularity       string               `json:"granularity"`
	DaysBack          int                  `json:"daysBack"`
	Timezone          string               `json:"timezone"`
	GasUnit           types.GasUnit        `json:"gasUnit"`
	FetchPeaks        bool                 `json:"fetchPeaks"`
	FetchQuarterHours bool                 `json:"fetchQuarterHours"`
	LifetimeTotals    types.LifetimeTotals `json:"lifetimeTotals"`
	LastRefresh       *time.Time           `json:"lastRefresh,omitempty"`
	LastError         string               `json:"lastError,omitempty"`
}

func viewOf(c *coordinator.Coordinator) accountView {
	acct := c.Account()
	v := accountView{
		ID:                acct.ID,
		Email:             log.MaskEmail(acct.Email),
		EAN:               acct.EAN,
		MeterSerial:       acct.MeterSerial,
		MeterType:         acct.MeterType,
		Granularity:       acct.Granularity,
		DaysBack:          acct.DaysBack,
		Timezone:          acct.Timezone,
		GasUnit:           acct.GasUnit,
		FetchPeaks:        acct.WantsPeaks(),
		FetchQuarterHours: acct.FetchQuarterHours,
		LifetimeTotals:    c.Totals(),
	}
	last, err := c.Last()
	if last != nil {
		v.LastRefresh = &last.FinishedAt
	}
	if err != nil {
		v.LastError = err.Error()
	}
	return v
}

// resultView adds the warnings of a partial refresh to the result.
type resultView struct {
	*coordinator.Result
	Warnings []string `json:"warnings,omitempty"`
}

func viewOfResult(res *coordinator.Result) *resultView {
	if res == nil {
		return nil
	}
	v := &resultView{Result: res}
	if res.PeakErr != nil {
		v.Warnings = append(v.Warnings, "peaks: "+res.PeakErr.Error())
	}
	if res.QuarterHourErr != nil {
		v.Warnings = append(v.Warnings, "quarter hours: "+res.QuarterHourErr.Error())
	}
	return v
}

// coordinatorFor writes a 404 and returns nil when the account is unknown.
func (s *Server) coordinatorFor(w http.ResponseWriter, r *http.Request) *coordinator.Coordinator {
	c, ok := s.byID[r.PathValue("id")]
	if !ok {
		writeJSONError(w, "account not found", http.StatusNotFound)
		return nil
	}
	return c
}

func (s *Server) handleListAccounts(w http.ResponseWriter, r *http.Request) {
	views := make([]accountView, 0, len(s.coordinators))
	for _, c := range s.coordinators {
		views = append(views, viewOf(c))
	}
	writeJSON(w, views)
}

func (s *Server) handleGetAccount(w http.ResponseWriter, r *http.Request) {
	c := s.coordinatorFor(w, r)
	if c == nil {
		return
	}
	last, _ := c.Last()
	writeJSON(w, struct {
		Account accountView `json:"account"`
		Last    *resultView `json:"last"`
	}{
		Account: viewOf(c),
		Last:    viewOfResult(last),
	})
}

func (s *Server) handleDiagnostics(w http.ResponseWriter, r *http.Request) {
	c := s.coordinatorFor(w, r)
	if c == nil {
		return
	}
	writeJSON(w, c.Diagnostics())
}

func (s *Server) handleDaily(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	c := s.coordinatorFor(w, r)
	if c == nil {
		return
	}
	start, end, err := parseDayRange(r, c.Account().Timezone, time.Now())
	if err != nil {
		writeJSONError(w, "invalid time range: "+err.Error(), http.StatusBadRequest)
		return
	}

	summaries, err := s.storage.GetDailySummaries(ctx, c.ID(), start, end)
	if err != nil {
		log.Ctx(ctx).ErrorContext(ctx, "failed to get daily summaries", slog.String("account", c.ID()), slog.Any("error", err))
		writeJSONError(w, "failed to get daily summaries", http.StatusInternalServerError)
		return
	}
	if summaries == nil {
		summaries = []types.DailySummary{}
	}
	writeJSON(w, summaries)
}

func (s *Server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	c := s.coordinatorFor(w, r)
	if c == nil {
		return
	}
	res, err := s.refresh(ctx, c)
	if err != nil {
		if errors.Is(err, fluvius.ErrAuthenticationFailed) {
			writeJSONError(w, fluvius.ErrAuthenticationFailed.Error(), http.StatusBadGateway)
			return
		}
		writeJSONError(w, "refresh failed: "+err.Error(), http.StatusBadGateway)
		return
	}
	writeJSON(w, viewOfResult(res))
}

// parseDayRange reads start and end as dates (or RFC 3339 times) in the
// account's timezone. end is inclusive when given as a date. Without a range
// the last 30 days are returned.
func parseDayRange(r *http.Request, timezone string, now time.Time) (time.Time, time.Time, error) {
	loc, err := time.LoadLocation(timezone)
	if err != nil {
		loc = time.Local
	}
	startStr := r.URL.Query().Get("start")
	endStr := r.URL.Query().Get("end")

	end := now.In(loc)
	if endStr != "" {
		end, err = parseDay(endStr, loc, true)
		if err != nil {
			return time.Time{}, time.Time{}, fmt.Errorf("invalid end time: %w", err)
		}
	}
	start := end.Add(-defaultDailyRange)
	if startStr != "" {
		start, err = parseDay(startStr, loc, false)
		if err != nil {
			return time.Time{}, time.Time{}, fmt.Errorf("invalid start time: %w", err)
		}
	}

	if !end.After(start) {
		return time.Time{}, time.Time{}, errors.New("start time must be before end time")
	}
	if end.Sub(start) > maxDailyRange {
		return time.Time{}, time.Time{}, errors.New("time range cannot exceed 400 days")
	}
	return start, end, nil
}

func parseDay(s string, loc *time.Location, inclusiveEnd bool) (time.Time, error) {
	if t, err := time.ParseInLocation(time.DateOnly, s, loc); err == nil {
		if inclusiveEnd {
			t = t.AddDate(0, 0, 1)
		}
		return t, nil
	}
	return time.Parse(time.RFC3339, s)
}
