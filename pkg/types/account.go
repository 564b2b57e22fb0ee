package types

import (
	"fmt"
	"strings"
	"time"
)

// MeterType is the kind of meter behind an EAN.
type MeterType string

const (
	MeterTypeElectricity MeterType = "electricity"
	MeterTypeGas         MeterType = "gas"
)

// GasUnit selects which of the duplicate gas readings is kept.
type GasUnit string

const (
	GasUnitKWH         GasUnit = "kwh"
	GasUnitCubicMeters GasUnit = "m3"
)

// Granularity values understood by meter-measurement-history.
const (
	GranularityQuarterHour = "1"
	GranularityHourly      = "3"
	GranularityDaily       = "4"
)

// DirectionPolicy selects how direction codes map to metric buckets.
type DirectionPolicy string

const (
	// DirectionsTariffSplit is the default mapping:
	// dc=0 consumption by tariff, dc=1 consumption_high or injection_high,
	// dc=2 consumption_low or injection_low.
	DirectionsTariffSplit DirectionPolicy = "tariff_split"
	// DirectionsConsumptionInjection maps dc 0 and 1 to consumption and dc 2
	// to injection, split by tariff.
	DirectionsConsumptionInjection DirectionPolicy = "consumption_injection"
)

const (
	DefaultTimezone    = "Europe/Brussels"
	DefaultDaysBack    = 7
	GasMinDaysBack     = 7
	DefaultQuarterDays = 1
)

// Account is the configuration of one portal login and meter.
type Account struct {
	ID                string          `json:"id" yaml:"id"`
	Email             string          `json:"email" yaml:"email"`
	Password          string          `json:"-" yaml:"password"`
	PasswordEncrypted string          `json:"-" yaml:"passwordEncrypted"`
	EAN               string          `json:"ean" yaml:"ean"`
	MeterSerial       string          `json:"meterSerial" yaml:"meterSerial"`
	MeterType         MeterType       `json:"meterType" yaml:"meterType"`
	DaysBack          int             `json:"daysBack" yaml:"daysBack"`
	Granularity       string          `json:"granularity" yaml:"granularity"`
	Timezone          string          `json:"timezone" yaml:"timezone"`
	GasUnit           GasUnit         `json:"gasUnit" yaml:"gasUnit"`
	VerboseLogging    bool            `json:"verboseLogging" yaml:"verboseLogging"`
	RememberMe        bool            `json:"rememberMe" yaml:"rememberMe"`
	FetchPeaks        *bool           `json:"fetchPeaks,omitempty" yaml:"fetchPeaks"`
	FetchQuarterHours bool            `json:"fetchQuarterHours" yaml:"fetchQuarterHours"`
	QuarterHourDays   int             `json:"quarterHourDays" yaml:"quarterHourDays"`
	DirectionPolicy   DirectionPolicy `json:"directionPolicy" yaml:"directionPolicy"`
}

// ApplyDefaults fills in every optional field that was left empty.
func (a *Account) ApplyDefaults() {
	if a.MeterType == "" {
		a.MeterType = MeterTypeElectricity
	}
	if a.DaysBack <= 0 {
		a.DaysBack = DefaultDaysBack
	}
	if a.Granularity == "" {
		a.Granularity = GranularityDaily
	}
	if a.Timezone == "" {
		a.Timezone = DefaultTimezone
	}
	if a.GasUnit == "" {
		a.GasUnit = GasUnitKWH
	}
	if a.QuarterHourDays <= 0 {
		a.QuarterHourDays = DefaultQuarterDays
	}
	if a.DirectionPolicy == "" {
		a.DirectionPolicy = DirectionsTariffSplit
	}
	if a.ID == "" {
		a.ID = a.EAN
	}
}

// WantsPeaks reports whether peak power should be fetched. Gas meters never
// report peaks.
func (a Account) WantsPeaks() bool {
	if a.MeterType == MeterTypeGas {
		return false
	}
	return a.FetchPeaks == nil || *a.FetchPeaks
}

// Validate checks an account after ApplyDefaults.
func (a Account) Validate() error {
	if strings.TrimSpace(a.Email) == "" {
		return fmt.Errorf("account %s: email is required", a.ID)
	}
	if a.Password == "" {
		return fmt.Errorf("account %s: password is required", a.ID)
	}
	if a.EAN == "" {
		return fmt.Errorf("account %s: ean is required", a.ID)
	}
	if a.MeterSerial == "" {
		return fmt.Errorf("account %s: meterSerial is required", a.ID)
	}
	switch a.MeterType {
	case MeterTypeElectricity, MeterTypeGas:
	default:
		return fmt.Errorf("account %s: unknown meter type: %s", a.ID, a.MeterType)
	}
	switch a.GasUnit {
	case GasUnitKWH, GasUnitCubicMeters:
	default:
		return fmt.Errorf("account %s: unknown gas unit: %s", a.ID, a.GasUnit)
	}
	switch a.Granularity {
	case GranularityQuarterHour, GranularityHourly, GranularityDaily:
	default:
		return fmt.Errorf("account %s: unknown granularity: %s", a.ID, a.Granularity)
	}
	switch a.DirectionPolicy {
	case DirectionsTariffSplit, DirectionsConsumptionInjection:
	default:
		return fmt.Errorf("account %s: unknown direction policy: %s", a.ID, a.DirectionPolicy)
	}
	if _, err := time.LoadLocation(a.Timezone); err != nil {
		return fmt.Errorf("account %s: unknown timezone: %s", a.ID, a.Timezone)
	}
	return nil
}
