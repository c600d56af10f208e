package storage

import (
	"time"

	"github.com/shopspring/decimal"
)

// Device is the billing view of a metering device and its settings.
type Device struct {
	Serial           int64
	Name             string
	MonthlyKWh       float64
	DailyKWh         float64
	RatePlanID       int64
	CurrentTierLevel int
	Territory        Territory
}

// Territory is the seasonal baseline schedule a device is billed under.
type Territory struct {
	SummerStart time.Month
	WinterStart time.Month
	SummerRate  float64
	WinterRate  float64
}

// Tier is one row of a rate plan.
type Tier struct {
	Level                   int
	Rate                    decimal.Decimal
	MaxPercentageOfBaseline *float64
}

// BillingCommit is the end-of-run state written back for a device.
// FromLevel is the tier the run started with; the commit is refused when another
// writer moved the tier in the meantime.
type BillingCommit struct {
	Serial     int64
	MonthlyKWh float64
	DailyKWh   float64
	FromLevel  int
	TierLevel  int
}
