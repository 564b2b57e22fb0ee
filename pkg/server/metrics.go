package server

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/fluviusenergy/fluviusenergy/pkg/coordinator"
	"github.com/fluviusenergy/fluviusenergy/pkg/types"
)

type metrics struct {
	lifetime        *prometheus.GaugeVec
	latestDay       *prometheus.GaugeVec
	peak            *prometheus.GaugeVec
	refreshes       *prometheus.CounterVec
	refreshDuration *prometheus.HistogramVec
	lastSuccess     *prometheus.GaugeVec
}

func newMetrics(reg prometheus.Registerer) *metrics {
	m := &metrics{
		lifetime: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "fluvius_lifetime_energy",
				Help: "Accumulated energy since the account was first refreshed (kWh, or m³ for gas in m³ mode)",
			},
			[]string{"account", "metric"},
		),
		latestDay: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "fluvius_latest_day_energy",
				Help: "Energy of the most recent day reported by the portal",
			},
			[]string{"account", "metric"},
		),
		peak: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "fluvius_latest_peak_kw",
				Help: "Most recent monthly peak power in kW",
			},
			[]string{"account"},
		),
		refreshes: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "fluvius_refreshes_total",
				Help: "Refreshes by outcome (ok, partial, error)",
			},
			[]string{"account", "result"},
		),
		refreshDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "fluvius_refresh_duration_seconds",
				Help:    "Time taken by a full refresh including the login",
				Buckets: []float64{1, 2, 5, 10, 20, 30, 60, 120},
			},
			[]string{"account"},
		),
		lastSuccess: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "fluvius_last_success_timestamp_seconds",
				Help: "Unix time of the last successful refresh",
			},
			[]string{"account"},
		),
	}
	reg.MustRegister(m.lifetime, m.latestDay, m.peak, m.refreshes, m.refreshDuration, m.lastSuccess)
	return m
}

func (m *metrics) observeTotals(account string, totals types.LifetimeTotals) {
	for metric, v := range totals {
		m.lifetime.WithLabelValues(account, string(metric)).Set(v)
	}
}

func (m *metrics) observeRefresh(account string, took time.Duration, res *coordinator.Result, err error) {
	m.refreshDuration.WithLabelValues(account).Observe(took.Seconds())
	if err != nil {
		m.refreshes.WithLabelValues(account, "error").Inc()
		return
	}
	if res.PeakErr != nil || res.QuarterHourErr != nil {
		m.refreshes.WithLabelValues(account, "partial").Inc()
	} else {
		m.refreshes.WithLabelValues(account, "ok").Inc()
	}
	m.lastSuccess.WithLabelValues(account).Set(float64(res.FinishedAt.Unix()))
	m.observeTotals(account, res.Totals)
	if latest, ok := res.Latest(); ok {
		for metric, v := range latest.Metrics {
			m.latestDay.WithLabelValues(account, string(metric)).Set(v)
		}
	}
	if n := len(res.Peaks); n > 0 {
		m.peak.WithLabelValues(account).Set(res.Peaks[n-1].ValueKW)
	}
}
