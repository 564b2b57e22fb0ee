package main

import (
	"context"
	"log/slog"
	"math"
	"math/rand"
	"os"
	"time"

	"github.com/levenlabs/go-lflag"

	"github.com/fluviusenergy/fluviusenergy/pkg/lifetime"
	"github.com/fluviusenergy/fluviusenergy/pkg/log"
	"github.com/fluviusenergy/fluviusenergy/pkg/measurement"
	"github.com/fluviusenergy/fluviusenergy/pkg/storage"
	"github.com/fluviusenergy/fluviusenergy/pkg/types"
)

func main() {
	s := storage.Configured()
	accountID := lflag.String("account", "demo", "Account id to seed")
	days := lflag.Duration("days", 60*24*time.Hour, "How far back to generate daily summaries")
	lflag.Configure()

	ctx := context.Background()
	defer func() { _ = s.Close() }()

	log.Ctx(ctx).InfoContext(ctx, "seeding mock data", slog.String("account", *accountID))

	rng := rand.New(rand.NewSource(time.Now().UnixNano()))
	loc, err := time.LoadLocation(types.DefaultTimezone)
	if err != nil {
		loc = time.UTC
	}
	today := time.Now().In(loc)
	today = time.Date(today.Year(), today.Month(), today.Day(), 0, 0, 0, 0, loc)

	const (
		baseLoadKWH = 9.0
		solarPeakKW = 4.5
	)

	var summaries []types.DailySummary
	for start := today.Add(-*days); start.Before(today); start = start.AddDate(0, 0, 1) {
		// more solar in summer, more heating in winter
		season := math.Cos(2 * math.Pi * float64(start.YearDay()-172) / 365)
		solar := solarPeakKW * (0.6 + 0.4*season) * (2 + rng.Float64()*3)
		load := baseLoadKWH*(1.2-0.3*season) + rng.Float64()*3

		consumption := math.Max(load-solar*0.4, 0.5)
		injection := math.Max(solar*0.6-1, 0)
		weekend := start.Weekday() == time.Saturday || start.Weekday() == time.Sunday
		highShare := 0.6
		if weekend {
			// the whole weekend is low tariff
			highShare = 0
		}

		m := types.NewMetrics()
		m[types.MetricConsumptionHigh] = consumption * highShare
		m[types.MetricConsumptionLow] = consumption * (1 - highShare)
		m[types.MetricInjectionHigh] = injection * highShare
		m[types.MetricInjectionLow] = injection * (1 - highShare)
		m.Derive()

		summaries = append(summaries, types.DailySummary{
			DayID:   measurement.DayID(start),
			Start:   start,
			End:     start.AddDate(0, 0, 1),
			Metrics: m,
		})
	}

	store := lifetime.NewStore(s, *accountID)
	changed, err := store.ProcessSummaries(ctx, summaries)
	if err != nil {
		log.Ctx(ctx).ErrorContext(ctx, "failed to seed lifetime state", "error", err)
		os.Exit(1)
	}
	if err := s.UpsertDailySummaries(ctx, *accountID, summaries); err != nil {
		log.Ctx(ctx).ErrorContext(ctx, "failed to seed daily summaries", "error", err)
		os.Exit(1)
	}

	log.Ctx(ctx).InfoContext(ctx, "seeded mock data successfully",
		slog.Int("days", len(summaries)),
		slog.Int("changed", changed),
		slog.Any("totals", store.LifetimeTotals()),
	)
}
