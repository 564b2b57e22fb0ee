package types

// LifetimeStateVersion is the version of the persisted LifetimeState document.
const LifetimeStateVersion = 1

// LifetimeState is the persisted accumulation document for one account.
type LifetimeState struct {
	Version int `json:"version"`
	// Days holds the last seen value of each lifetime metric per day id.
	Days map[string]Metrics `json:"days"`
	// Totals holds the running total of each lifetime metric.
	Totals    Metrics `json:"totals"`
	LastDayID *string `json:"lastDay"`
}

// NewLifetimeState returns an empty state with all lifetime totals at 0.
func NewLifetimeState() LifetimeState {
	s := LifetimeState{
		Version: LifetimeStateVersion,
		Days:    make(map[string]Metrics),
		Totals:  make(Metrics, len(LifetimeMetrics)),
	}
	for _, m := range LifetimeMetrics {
		s.Totals[m] = 0
	}
	return s
}

// Normalize fills in anything a stored document may be missing.
func (s *LifetimeState) Normalize() {
	if s.Version == 0 {
		s.Version = LifetimeStateVersion
	}
	if s.Days == nil {
		s.Days = make(map[string]Metrics)
	}
	if s.Totals == nil {
		s.Totals = make(Metrics, len(LifetimeMetrics))
	}
	for _, m := range LifetimeMetrics {
		if _, ok := s.Totals[m]; !ok {
			s.Totals[m] = 0
		}
	}
}

// LifetimeTotals are the accumulated totals including the derived metrics.
type LifetimeTotals = Metrics
