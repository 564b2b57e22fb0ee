package fluvius

import (
	"time"

	"github.com/fluviusenergy/fluviusenergy/pkg/types"
)

// timestampLayout is how the portal expects historyFrom and historyUntil.
const timestampLayout = "2006-01-02T15:04:05.000-07:00"

// Range is a request window in the account's timezone.
type Range struct {
	From  time.Time
	Until time.Time
}

func startOfDay(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, t.Location())
}

func endOfDay(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 23, 59, 59, 999_000_000, t.Location())
}

// location resolves the account timezone, falling back to the local zone.
func location(name string) *time.Location {
	if name == "" {
		name = types.DefaultTimezone
	}
	loc, err := time.LoadLocation(name)
	if err != nil {
		return time.Local
	}
	return loc
}

// historyGranularity is the granularity actually requested. Gas meters only
// support daily values.
func historyGranularity(acct types.Account) string {
	if acct.MeterType == types.MeterTypeGas {
		return types.GranularityDaily
	}
	if acct.Granularity == "" {
		return types.GranularityDaily
	}
	return acct.Granularity
}

// HistoryRange is the window for meter-measurement-history. Quarter-hour
// requests only work for a single day, so they cover the day daysBack days
// ago; everything else runs from daysBack days ago until the end of today.
func HistoryRange(now time.Time, acct types.Account) Range {
	now = now.In(location(acct.Timezone))
	daysBack := max(acct.DaysBack, 1)
	if acct.MeterType == types.MeterTypeGas {
		daysBack = max(daysBack, types.GasMinDaysBack)
	}

	if historyGranularity(acct) == types.GranularityQuarterHour {
		return singleDay(now, daysBack)
	}
	return Range{
		From:  startOfDay(now.AddDate(0, 0, -daysBack)),
		Until: endOfDay(now),
	}
}

// QuarterHourRange is the single day daysBack days ago. Today is never
// complete, so at least yesterday is requested.
func QuarterHourRange(now time.Time, acct types.Account) Range {
	now = now.In(location(acct.Timezone))
	return singleDay(now, max(acct.QuarterHourDays, 1))
}

func singleDay(now time.Time, daysBack int) Range {
	day := now.AddDate(0, 0, -daysBack)
	return Range{From: startOfDay(day), Until: endOfDay(day)}
}

// SpikeRange runs from January 1st until the end of today.
func SpikeRange(now time.Time, acct types.Account) Range {
	now = now.In(location(acct.Timezone))
	return Range{
		From:  time.Date(now.Year(), time.January, 1, 0, 0, 0, 0, now.Location()),
		Until: endOfDay(now),
	}
}
