package measurement

import (
	"context"
	"log/slog"
	"sort"
	"time"

	"github.com/fluviusenergy/fluviusenergy/pkg/log"
	"github.com/fluviusenergy/fluviusenergy/pkg/types"
)

// Parser turns raw portal records into typed measurements. It holds no state
// between calls.
type Parser struct {
	// TargetUnit is set for gas meters and selects which of the duplicate
	// readings (kWh or m³) is kept. Electricity meters leave it nil.
	TargetUnit *int
	Directions types.DirectionPolicy
}

// NewParser returns the parser for a meter.
func NewParser(meterType types.MeterType, gasUnit types.GasUnit) Parser {
	p := Parser{Directions: types.DirectionsTariffSplit}
	if meterType == types.MeterTypeGas {
		unit := UnitKWH
		if gasUnit == types.GasUnitCubicMeters {
			unit = UnitCubicMeters
		}
		p.TargetUnit = &unit
	}
	return p
}

// keep applies the unit filter shared by daily and quarter-hour parsing.
func (p Parser) keep(unit int) bool {
	if p.TargetUnit != nil {
		return unit == *p.TargetUnit
	}
	return unit != UnitCubicMeters
}

// bucket maps a direction code and tariff to a lifetime metric. The second
// return is false for unknown direction codes.
func (p Parser) bucket(direction, tariff int) (types.Metric, bool) {
	high := tariff == 1
	pick := func(hi, lo types.Metric) types.Metric {
		if high {
			return hi
		}
		return lo
	}

	if p.Directions == types.DirectionsConsumptionInjection {
		switch direction {
		case 0, 1:
			return pick(types.MetricConsumptionHigh, types.MetricConsumptionLow), true
		case 2:
			return pick(types.MetricInjectionHigh, types.MetricInjectionLow), true
		}
		return "", false
	}

	switch direction {
	case 0:
		return pick(types.MetricConsumptionHigh, types.MetricConsumptionLow), true
	case 1:
		return pick(types.MetricConsumptionHigh, types.MetricInjectionHigh), true
	case 2:
		return pick(types.MetricConsumptionLow, types.MetricInjectionLow), true
	}
	return "", false
}

// Summaries aggregates daily records. Records without a usable start are
// dropped; a missing end defaults to a day after the start.
func (p Parser) Summaries(ctx context.Context, records []Record) []types.DailySummary {
	summaries := make([]types.DailySummary, 0, len(records))
	for i, rec := range records {
		s, ok := p.summarize(rec)
		if !ok {
			log.Ctx(ctx).DebugContext(ctx, "dropping day without a start timestamp", slog.Int("index", i), slog.Any("d", rec.D))
			continue
		}
		summaries = append(summaries, s)
	}
	sort.SliceStable(summaries, func(i, j int) bool {
		return summaries[i].Start.Before(summaries[j].Start)
	})
	return summaries
}

func (p Parser) summarize(rec Record) (types.DailySummary, bool) {
	start, ok := parseTimestamp(rec.D)
	if !ok {
		return types.DailySummary{}, false
	}
	end, ok := parseTimestamp(rec.DE)
	if !ok {
		end = start.Add(24 * time.Hour)
	}

	metrics := types.NewMetrics()
	for _, r := range rec.V {
		if !p.keep(toInt(r.U, 0)) {
			continue
		}
		metric, ok := p.bucket(toInt(r.DC, 0), toInt(r.T, 1))
		if !ok {
			continue
		}
		metrics[metric] += toFloat(r.V, 0)
	}
	metrics.Derive()

	return types.DailySummary{
		DayID:   DayID(start),
		Start:   start,
		End:     end,
		Metrics: metrics,
	}, true
}

// QuarterHours parses 15 minute intervals. Reading type 1 is consumption and
// 2 is injection; there is no tariff split. Intervals missing either
// timestamp are dropped.
func (p Parser) QuarterHours(ctx context.Context, records []Record) []types.QuarterHourlyMeasurement {
	out := make([]types.QuarterHourlyMeasurement, 0, len(records))
	for i, rec := range records {
		start, okStart := parseTimestamp(rec.D)
		end, okEnd := parseTimestamp(rec.DE)
		if !okStart || !okEnd {
			log.Ctx(ctx).DebugContext(ctx, "dropping interval without timestamps", slog.Int("index", i))
			continue
		}
		m := types.QuarterHourlyMeasurement{Start: start, End: end}
		for _, r := range rec.V {
			if !p.keep(toInt(r.U, 0)) {
				continue
			}
			switch toInt(r.T, 0) {
			case 1:
				m.Consumption += toFloat(r.V, 0)
			case 2:
				m.Injection += toFloat(r.V, 0)
			}
		}
		out = append(out, m)
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Start.Before(out[j].Start)
	})
	return out
}

// Peaks parses the monthly spikes. A period without an end uses its start;
// spikes without their own window are skipped.
func (p Parser) Peaks(ctx context.Context, records []Record) []types.PeakMeasurement {
	var out []types.PeakMeasurement
	for _, rec := range records {
		periodStart, ok := parseTimestamp(rec.D)
		if !ok {
			log.Ctx(ctx).DebugContext(ctx, "dropping peak period without a start", slog.Any("d", rec.D))
			continue
		}
		periodEnd, ok := parseTimestamp(rec.DE)
		if !ok {
			periodEnd = periodStart
		}
		for _, r := range rec.V {
			spikeStart, okStart := parseTimestamp(r.SST)
			spikeEnd, okEnd := parseTimestamp(r.SET)
			if !okStart || !okEnd {
				continue
			}
			out = append(out, types.PeakMeasurement{
				PeriodStart: periodStart,
				PeriodEnd:   periodEnd,
				SpikeStart:  spikeStart,
				SpikeEnd:    spikeEnd,
				ValueKW:     toFloat(r.V, 0),
			})
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].PeriodStart.Before(out[j].PeriodStart)
	})
	return out
}
