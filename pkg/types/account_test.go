package types

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAccount(t *testing.T) {
	t.Run("ApplyDefaults", func(t *testing.T) {
		a := Account{Email: "a@b.c", Password: "p", EAN: "541448800000000000", MeterSerial: "1SAG"}
		a.ApplyDefaults()
		assert.Equal(t, MeterTypeElectricity, a.MeterType)
		assert.Equal(t, DefaultDaysBack, a.DaysBack)
		assert.Equal(t, GranularityDaily, a.Granularity)
		assert.Equal(t, DefaultTimezone, a.Timezone)
		assert.Equal(t, GasUnitKWH, a.GasUnit)
		assert.Equal(t, DirectionsTariffSplit, a.DirectionPolicy)
		assert.Equal(t, "541448800000000000", a.ID, "id defaults to the ean")
		require.NoError(t, a.Validate())
	})

	t.Run("WantsPeaks", func(t *testing.T) {
		off := false
		assert.True(t, Account{MeterType: MeterTypeElectricity}.WantsPeaks())
		assert.False(t, Account{MeterType: MeterTypeElectricity, FetchPeaks: &off}.WantsPeaks())
		assert.False(t, Account{MeterType: MeterTypeGas}.WantsPeaks())
	})

	tests := []struct {
		name   string
		modify func(a *Account)
		errMsg string
	}{
		{"missing email", func(a *Account) { a.Email = " " }, "email is required"},
		{"missing password", func(a *Account) { a.Password = "" }, "password is required"},
		{"missing ean", func(a *Account) { a.EAN = "" }, "ean is required"},
		{"missing serial", func(a *Account) { a.MeterSerial = "" }, "meterSerial is required"},
		{"bad meter type", func(a *Account) { a.MeterType = "water" }, "unknown meter type"},
		{"bad gas unit", func(a *Account) { a.GasUnit = "l" }, "unknown gas unit"},
		{"bad granularity", func(a *Account) { a.Granularity = "2" }, "unknown granularity"},
		{"bad direction policy", func(a *Account) { a.DirectionPolicy = "x" }, "unknown direction policy"},
		{"bad timezone", func(a *Account) { a.Timezone = "Europe/Brusels" }, "unknown timezone"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a := Account{ID: "acc", Email: "a@b.c", Password: "p", EAN: "1", MeterSerial: "2"}
			a.ApplyDefaults()
			tt.modify(&a)
			assert.ErrorContains(t, a.Validate(), tt.errMsg)
		})
	}
}

func TestMetricsDerive(t *testing.T) {
	m := NewMetrics()
	assert.Len(t, m, len(AllMetrics))
	m[MetricConsumptionHigh] = 1.25
	m[MetricConsumptionLow] = 2.5
	m[MetricInjectionHigh] = 0.75
	m[MetricInjectionLow] = 0.5
	m.Derive()
	assert.Equal(t, 1.25+2.5, m[MetricConsumptionTotal])
	assert.Equal(t, 0.75+0.5, m[MetricInjectionTotal])
	assert.Equal(t, m[MetricConsumptionTotal]-m[MetricInjectionTotal], m[MetricNetConsumption])
}

func TestLifetimeStateNormalize(t *testing.T) {
	var s LifetimeState
	s.Normalize()
	assert.Equal(t, LifetimeStateVersion, s.Version)
	assert.NotNil(t, s.Days)
	for _, m := range LifetimeMetrics {
		v, ok := s.Totals[m]
		assert.True(t, ok)
		assert.Zero(t, v)
	}
	assert.Nil(t, s.LastDayID)
}
