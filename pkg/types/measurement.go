package types

import "time"

// Metric names one accumulated energy bucket.
type Metric string

const (
	MetricConsumptionHigh  Metric = "consumption_high"
	MetricConsumptionLow   Metric = "consumption_low"
	MetricInjectionHigh    Metric = "injection_high"
	MetricInjectionLow     Metric = "injection_low"
	MetricConsumptionTotal Metric = "consumption_total"
	MetricInjectionTotal   Metric = "injection_total"
	MetricNetConsumption   Metric = "net_consumption"
)

// LifetimeMetrics are the buckets that are accumulated over time. The other
// metrics are always derived from these.
var LifetimeMetrics = []Metric{
	MetricConsumptionHigh,
	MetricConsumptionLow,
	MetricInjectionHigh,
	MetricInjectionLow,
}

// AllMetrics is LifetimeMetrics followed by the derived totals.
var AllMetrics = []Metric{
	MetricConsumptionHigh,
	MetricConsumptionLow,
	MetricInjectionHigh,
	MetricInjectionLow,
	MetricConsumptionTotal,
	MetricInjectionTotal,
	MetricNetConsumption,
}

// Metrics maps a metric to its value in kWh (or m³ for gas in m³ mode).
type Metrics map[Metric]float64

// NewMetrics returns a Metrics with every metric set to 0.
func NewMetrics() Metrics {
	m := make(Metrics, len(AllMetrics))
	for _, metric := range AllMetrics {
		m[metric] = 0
	}
	return m
}

// Derive recomputes consumption_total, injection_total and net_consumption
// from the four tariff buckets.
func (m Metrics) Derive() {
	m[MetricConsumptionTotal] = m[MetricConsumptionHigh] + m[MetricConsumptionLow]
	m[MetricInjectionTotal] = m[MetricInjectionHigh] + m[MetricInjectionLow]
	m[MetricNetConsumption] = m[MetricConsumptionTotal] - m[MetricInjectionTotal]
}

// DailySummary is one day of energy data as reported by the portal.
type DailySummary struct {
	// DayID is Start formatted as RFC 3339 and is the stable key of the day.
	DayID   string    `json:"dayId"`
	Start   time.Time `json:"start"`
	End     time.Time `json:"end"`
	Metrics Metrics   `json:"metrics"`
}

// QuarterHourlyMeasurement is a single 15-minute interval.
type QuarterHourlyMeasurement struct {
	Start       time.Time `json:"start"`
	End         time.Time `json:"end"`
	Consumption float64   `json:"consumption"`
	Injection   float64   `json:"injection"`
}

// PeakMeasurement is the monthly peak power reading used for the capacity
// tariff. Only electricity meters report them.
type PeakMeasurement struct {
	PeriodStart time.Time `json:"periodStart"`
	PeriodEnd   time.Time `json:"periodEnd"`
	SpikeStart  time.Time `json:"spikeStart"`
	SpikeEnd    time.Time `json:"spikeEnd"`
	ValueKW     float64   `json:"valueKW"`
}
