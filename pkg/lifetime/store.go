package lifetime

import (
	"context"
	"fmt"
	"log/slog"
	"maps"
	"math"
	"slices"
	"sync"

	"github.com/fluviusenergy/fluviusenergy/pkg/log"
	"github.com/fluviusenergy/fluviusenergy/pkg/storage"
	"github.com/fluviusenergy/fluviusenergy/pkg/types"
)

// MaxStoredDays is how many per-day entries are kept. Older days are pruned
// by their sorted day id.
const MaxStoredDays = 60

func round4(v float64) float64 {
	return math.Round(v*1e4) / 1e4
}

// Store accumulates monotonically increasing totals for one account from
// daily summaries that may overlap or be corrected later.
type Store struct {
	db        storage.Database
	accountID string

	mu     sync.Mutex
	state  types.LifetimeState
	loaded bool
}

// NewStore returns a store for accountID. Nothing is read until Load or the
// first ProcessSummary.
func NewStore(db storage.Database, accountID string) *Store {
	return &Store{
		db:        db,
		accountID: accountID,
		state:     types.NewLifetimeState(),
	}
}

// Load reads the persisted state, replacing anything in memory.
func (s *Store) Load(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.load(ctx)
}

func (s *Store) load(ctx context.Context) error {
	state, err := s.db.GetLifetimeState(ctx, s.accountID)
	if err != nil {
		return fmt.Errorf("failed to load lifetime state: %w", err)
	}
	state.Normalize()
	s.state = state
	s.loaded = true
	return nil
}

// ProcessSummary folds one day into the totals. Increases of a day's value
// are added to the running total; decreases replace the day's value without
// lowering the total. The whole state is persisted when anything changed.
func (s *Store) ProcessSummary(ctx context.Context, dayID string, metrics types.Metrics) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.loaded {
		if err := s.load(ctx); err != nil {
			return false, err
		}
	}

	if len(s.state.Days) >= MaxStoredDays {
		if _, ok := s.state.Days[dayID]; !ok && dayID < slices.Min(slices.Collect(maps.Keys(s.state.Days))) {
			// the day was pruned already, counting it again would add its
			// whole value a second time
			log.Ctx(ctx).DebugContext(ctx, "ignoring day older than the stored window", slog.String("dayID", dayID))
			return false, nil
		}
	}

	prev := cloneState(s.state)
	day, ok := s.state.Days[dayID]
	if !ok {
		day = make(types.Metrics, len(types.LifetimeMetrics))
	}

	var changed bool
	for _, m := range types.LifetimeMetrics {
		newValue := round4(metrics[m])
		delta := round4(newValue - round4(day[m]))
		switch {
		case delta > 0:
			day[m] = newValue
			s.state.Totals[m] = round4(s.state.Totals[m] + delta)
			changed = true
		case delta < 0:
			// the portal corrected this day, it becomes the new baseline
			day[m] = newValue
			changed = true
		}
	}
	if !changed {
		return false, nil
	}

	s.state.Days[dayID] = day
	id := dayID
	s.state.LastDayID = &id
	s.prune()

	if err := s.db.SetLifetimeState(ctx, s.accountID, cloneState(s.state)); err != nil {
		s.state = prev
		return false, fmt.Errorf("failed to save lifetime state: %w", err)
	}
	return true, nil
}

// ProcessSummaries processes the summaries in order and returns how many
// changed the state.
func (s *Store) ProcessSummaries(ctx context.Context, summaries []types.DailySummary) (int, error) {
	var n int
	for _, sum := range summaries {
		changed, err := s.ProcessSummary(ctx, sum.DayID, sum.Metrics)
		if err != nil {
			return n, err
		}
		if changed {
			n++
		}
	}
	return n, nil
}

func (s *Store) prune() {
	if len(s.state.Days) <= MaxStoredDays {
		return
	}
	ids := slices.Sorted(maps.Keys(s.state.Days))
	for _, id := range ids[:len(ids)-MaxStoredDays] {
		delete(s.state.Days, id)
	}
}

// LifetimeTotals returns the running totals and the derived metrics, all
// rounded to 4 decimals.
func (s *Store) LifetimeTotals() types.LifetimeTotals {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make(types.LifetimeTotals, len(types.AllMetrics))
	for _, m := range types.LifetimeMetrics {
		out[m] = round4(s.state.Totals[m])
	}
	out[types.MetricConsumptionTotal] = round4(out[types.MetricConsumptionHigh] + out[types.MetricConsumptionLow])
	out[types.MetricInjectionTotal] = round4(out[types.MetricInjectionHigh] + out[types.MetricInjectionLow])
	out[types.MetricNetConsumption] = round4(out[types.MetricConsumptionTotal] - out[types.MetricInjectionTotal])
	return out
}

// LastDayID is the day that most recently changed the state, if any.
func (s *Store) LastDayID() (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state.LastDayID == nil {
		return "", false
	}
	return *s.state.LastDayID, true
}

// DayMetrics returns the stored lifetime metrics of a day, zero when unknown.
func (s *Store) DayMetrics(dayID string) types.Metrics {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(types.Metrics, len(types.LifetimeMetrics))
	day := s.state.Days[dayID]
	for _, m := range types.LifetimeMetrics {
		out[m] = round4(day[m])
	}
	return out
}

// StoredDays is the number of days currently kept.
func (s *Store) StoredDays() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.state.Days)
}

func cloneState(st types.LifetimeState) types.LifetimeState {
	out := types.LifetimeState{
		Version: st.Version,
		Days:    make(map[string]types.Metrics, len(st.Days)),
		Totals:  maps.Clone(st.Totals),
	}
	for id, day := range st.Days {
		out.Days[id] = maps.Clone(day)
	}
	if st.LastDayID != nil {
		id := *st.LastDayID
		out.LastDayID = &id
	}
	return out
}
