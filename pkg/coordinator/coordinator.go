package coordinator

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/singleflight"

	"github.com/fluviusenergy/fluviusenergy/pkg/lifetime"
	"github.com/fluviusenergy/fluviusenergy/pkg/log"
	"github.com/fluviusenergy/fluviusenergy/pkg/measurement"
	"github.com/fluviusenergy/fluviusenergy/pkg/storage"
	"github.com/fluviusenergy/fluviusenergy/pkg/types"
)

// DataSource logs in and fetches raw records. *fluvius.Client implements it.
type DataSource interface {
	Login(ctx context.Context, acct types.Account) (string, error)
	FetchHistory(ctx context.Context, token string, acct types.Account) ([]measurement.Record, error)
	FetchQuarterHours(ctx context.Context, token string, acct types.Account) ([]measurement.Record, error)
	FetchSpikes(ctx context.Context, token string, acct types.Account) ([]measurement.Record, error)
}

// Result is the outcome of one refresh.
type Result struct {
	RefreshID    string                           `json:"refreshId"`
	StartedAt    time.Time                        `json:"startedAt"`
	FinishedAt   time.Time                        `json:"finishedAt"`
	Summaries    []types.DailySummary             `json:"summaries"`
	Peaks        []types.PeakMeasurement          `json:"peaks"`
	QuarterHours []types.QuarterHourlyMeasurement `json:"quarterHours"`
	Totals       types.LifetimeTotals             `json:"lifetimeTotals"`
	// Changed is how many summaries changed the lifetime state.
	Changed   int    `json:"changed"`
	LastDayID string `json:"lastDayId,omitempty"`

	// PeakErr and QuarterHourErr are set when the optional fetches failed.
	// The rest of the result is still valid.
	PeakErr        error `json:"-"`
	QuarterHourErr error `json:"-"`
}

// Latest returns the most recent summary, if any.
func (r *Result) Latest() (types.DailySummary, bool) {
	if r == nil || len(r.Summaries) == 0 {
		return types.DailySummary{}, false
	}
	return r.Summaries[len(r.Summaries)-1], true
}

// Coordinator runs the refresh pipeline for a single account. Overlapping
// refreshes of the same account share one run.
type Coordinator struct {
	acct   types.Account
	source DataSource
	db     storage.Database
	parser measurement.Parser
	store  *lifetime.Store
	group  singleflight.Group
	now    func() time.Time

	mu          sync.RWMutex
	last        *Result
	lastErr     error
	lastAttempt time.Time
}

// New returns a coordinator for acct. ApplyDefaults must already have been
// called on acct.
func New(acct types.Account, source DataSource, db storage.Database) *Coordinator {
	p := measurement.NewParser(acct.MeterType, acct.GasUnit)
	p.Directions = acct.DirectionPolicy
	return &Coordinator{
		acct:   acct,
		source: source,
		db:     db,
		parser: p,
		store:  lifetime.NewStore(db, acct.ID),
		now:    time.Now,
	}
}

// ID is the account id.
func (c *Coordinator) ID() string {
	return c.acct.ID
}

// Account returns the account configuration. Passwords are never serialized.
func (c *Coordinator) Account() types.Account {
	return c.acct
}

// Load reads the persisted lifetime state so totals are available before the
// first refresh.
func (c *Coordinator) Load(ctx context.Context) error {
	return c.store.Load(ctx)
}

// Totals returns the current lifetime totals.
func (c *Coordinator) Totals() types.LifetimeTotals {
	return c.store.LifetimeTotals()
}

// Last returns the last successful result and the error of the last attempt,
// if it failed.
func (c *Coordinator) Last() (*Result, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.last, c.lastErr
}

// Refresh logs in, fetches and parses the history and folds it into the
// lifetime totals. Failing to fetch the history fails the refresh; peaks and
// quarter hours are optional.
//
// Concurrent callers share one run. The run is detached from the caller that
// started it, so one caller giving up never fails the others; each caller
// only stops waiting when its own ctx is done.
func (c *Coordinator) Refresh(ctx context.Context) (*Result, error) {
	ch := c.group.DoChan(c.acct.ID, func() (any, error) {
		return c.refresh(context.WithoutCancel(ctx))
	})
	select {
	case r := <-ch:
		if r.Shared {
			log.Ctx(ctx).DebugContext(ctx, "joined running refresh", slog.String("account", c.acct.ID))
		}
		res, _ := r.Val.(*Result)
		return res, r.Err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (c *Coordinator) refresh(ctx context.Context) (*Result, error) {
	res := &Result{
		RefreshID: uuid.NewString(),
		StartedAt: c.now(),
	}
	ctx = log.With(ctx, log.Ctx(ctx).With(
		slog.String("refreshID", res.RefreshID),
		slog.String("account", c.acct.ID),
	))
	ctx = log.WithVerbose(ctx, c.acct.VerboseLogging)
	log.Ctx(ctx).DebugContext(ctx, "refresh starting",
		slog.String("email", log.MaskEmail(c.acct.Email)),
		slog.String("meterType", string(c.acct.MeterType)),
	)

	err := c.run(ctx, res)
	res.FinishedAt = c.now()

	c.mu.Lock()
	c.lastAttempt = res.StartedAt
	c.lastErr = err
	if err == nil {
		c.last = res
	}
	c.mu.Unlock()

	if err != nil {
		log.Ctx(ctx).ErrorContext(ctx, "refresh failed", slog.Any("error", err))
		return nil, err
	}
	log.Ctx(ctx).InfoContext(ctx, "refresh finished",
		slog.Int("summaries", len(res.Summaries)),
		slog.Int("changed", res.Changed),
		slog.Duration("took", res.FinishedAt.Sub(res.StartedAt)),
	)
	return res, nil
}

func (c *Coordinator) run(ctx context.Context, res *Result) error {
	token, err := c.source.Login(ctx, c.acct)
	if err != nil {
		return fmt.Errorf("failed to login: %w", err)
	}

	records, err := c.source.FetchHistory(ctx, token, c.acct)
	if err != nil {
		return fmt.Errorf("failed to fetch history: %w", err)
	}
	res.Summaries = c.parser.Summaries(ctx, records)

	if len(res.Summaries) > 0 {
		res.Changed, err = c.store.ProcessSummaries(ctx, res.Summaries)
		if err != nil {
			return fmt.Errorf("failed to process summaries: %w", err)
		}
		if err := c.db.UpsertDailySummaries(ctx, c.acct.ID, res.Summaries); err != nil {
			return fmt.Errorf("failed to store summaries: %w", err)
		}
	} else {
		log.Ctx(ctx).WarnContext(ctx, "no daily summaries in history response", slog.Int("records", len(records)))
	}

	if c.acct.WantsPeaks() {
		records, err := c.source.FetchSpikes(ctx, token, c.acct)
		if err != nil {
			log.Ctx(ctx).WarnContext(ctx, "failed to fetch peaks", slog.Any("error", err))
			res.PeakErr = err
		} else {
			res.Peaks = c.parser.Peaks(ctx, records)
		}
	}

	if c.acct.FetchQuarterHours {
		records, err := c.source.FetchQuarterHours(ctx, token, c.acct)
		if err != nil {
			log.Ctx(ctx).WarnContext(ctx, "failed to fetch quarter hours", slog.Any("error", err))
			res.QuarterHourErr = err
		} else {
			res.QuarterHours = c.parser.QuarterHours(ctx, records)
		}
	}

	res.Totals = c.store.LifetimeTotals()
	res.LastDayID, _ = c.store.LastDayID()
	return nil
}

// Diagnostics is a snapshot of an account without any credentials.
type Diagnostics struct {
	Config struct {
		EAN         string          `json:"ean"`
		MeterSerial string          `json:"meterSerial"`
		MeterType   types.MeterType `json:"meterType"`
	} `json:"config"`
	LifetimeTotals types.LifetimeTotals    `json:"lifetimeTotals"`
	LatestDay      *types.DailySummary     `json:"latestDay"`
	Peaks          []types.PeakMeasurement `json:"peaks,omitempty"`
	StoreState     struct {
		LastDay    *string `json:"lastDay"`
		StoredDays int     `json:"storedDays"`
	} `json:"storeState"`
	LastAttempt time.Time `json:"lastAttempt,omitzero"`
	LastError   string    `json:"lastError,omitempty"`
	Warnings    []string  `json:"warnings,omitempty"`
}

// Diagnostics returns the current snapshot of the account.
func (c *Coordinator) Diagnostics() Diagnostics {
	var d Diagnostics
	d.Config.EAN = c.acct.EAN
	d.Config.MeterSerial = c.acct.MeterSerial
	d.Config.MeterType = c.acct.MeterType
	d.LifetimeTotals = c.store.LifetimeTotals()
	if id, ok := c.store.LastDayID(); ok {
		d.StoreState.LastDay = &id
	}
	d.StoreState.StoredDays = c.store.StoredDays()

	c.mu.RLock()
	defer c.mu.RUnlock()
	d.LastAttempt = c.lastAttempt
	if c.lastErr != nil {
		d.LastError = c.lastErr.Error()
	}
	if c.last != nil {
		if latest, ok := c.last.Latest(); ok {
			d.LatestDay = &latest
		}
		d.Peaks = c.last.Peaks
		for _, err := range []error{c.last.PeakErr, c.last.QuarterHourErr} {
			if err != nil {
				d.Warnings = append(d.Warnings, err.Error())
			}
		}
	}
	return d
}
