package measurement

import (
	"encoding/json"
	"math"
	"strconv"
	"strings"
	"time"
)

// Unit codes used by the portal.
const (
	UnitKWH         = 3
	UnitCubicMeters = 5
)

// Record is one day, interval or peak period as returned by the portal. The
// portal is not consistent about field types, so every field is kept as is
// and coerced when read.
type Record struct {
	D  any       `json:"d"`
	DE any       `json:"de"`
	V  []Reading `json:"v"`
}

// Reading is a single value inside a Record.
type Reading struct {
	DC  any `json:"dc"`
	T   any `json:"t"`
	U   any `json:"u"`
	V   any `json:"v"`
	SST any `json:"sst"`
	SET any `json:"set"`
}

// UnmarshalJSON skips readings that are not objects instead of failing the
// whole record.
func (r *Record) UnmarshalJSON(b []byte) error {
	var raw struct {
		D  any             `json:"d"`
		DE any             `json:"de"`
		V  json.RawMessage `json:"v"`
	}
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}
	r.D = raw.D
	r.DE = raw.DE
	r.V = nil

	var items []json.RawMessage
	if err := json.Unmarshal(raw.V, &items); err != nil {
		return nil
	}
	for _, item := range items {
		var reading Reading
		if err := json.Unmarshal(item, &reading); err != nil {
			continue
		}
		r.V = append(r.V, reading)
	}
	return nil
}

// toInt coerces numbers and numeric strings, falling back to def.
func toInt(v any, def int) int {
	switch n := v.(type) {
	case float64:
		if math.IsNaN(n) || math.IsInf(n, 0) {
			return def
		}
		return int(n)
	case int:
		return n
	case int64:
		return int(n)
	case bool:
		if n {
			return 1
		}
		return 0
	case json.Number:
		if i, err := n.Int64(); err == nil {
			return int(i)
		}
		return def
	case string:
		i, err := strconv.Atoi(strings.TrimSpace(n))
		if err != nil {
			return def
		}
		return i
	default:
		return def
	}
}

// toFloat coerces numbers and numeric strings. Missing or empty values are 0,
// anything unparseable falls back to def.
func toFloat(v any, def float64) float64 {
	switch n := v.(type) {
	case nil:
		return 0
	case float64:
		return n
	case int:
		return float64(n)
	case int64:
		return float64(n)
	case bool:
		if n {
			return 1
		}
		return 0
	case json.Number:
		f, err := n.Float64()
		if err != nil {
			return def
		}
		return f
	case string:
		if n == "" {
			return 0
		}
		f, err := strconv.ParseFloat(strings.TrimSpace(n), 64)
		if err != nil {
			return def
		}
		return f
	default:
		return def
	}
}

var zonedLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02 15:04:05.999999999Z07:00",
}

var naiveLayouts = []string{
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05.999999999",
	"2006-01-02T15:04",
	"2006-01-02",
}

// parseTimestamp reads an ISO-8601 timestamp. Timestamps without an offset
// are taken to be UTC.
func parseTimestamp(v any) (time.Time, bool) {
	s, ok := v.(string)
	if !ok {
		return time.Time{}, false
	}
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, false
	}
	for _, layout := range zonedLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, true
		}
	}
	for _, layout := range naiveLayouts {
		if t, err := time.ParseInLocation(layout, s, time.UTC); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

// DayIDLayout formats the start of a day into its DayID. It keeps the
// timestamp's own offset so ids sort the same way the portal's days do.
const DayIDLayout = "2006-01-02T15:04:05-07:00"

// DayID returns the stable key of a day starting at start.
func DayID(start time.Time) string {
	return start.Format(DayIDLayout)
}
