package datagen

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

const (
	// thresholdDays is the month length assumed when turning a baseline into a monthly allowance.
	thresholdDays  = 31.0
	secondsPerHour = 3600.0
)

// Tier is one bracket of a rate plan.
type Tier struct {
	Level                   int
	Rate                    decimal.Decimal
	MaxPercentageOfBaseline *float64
}

// TierTable resolves tiers of a single rate plan by level.
type TierTable map[int]Tier

// NewTierTable indexes tiers by level.
func NewTierTable(tiers []Tier) TierTable {
	table := make(TierTable, len(tiers))
	for _, t := range tiers {
		table[t.Level] = t
	}
	return table
}

// Next returns the tier one level above current.
func (t TierTable) Next(current Tier) (Tier, error) {
	next, ok := t[current.Level+1]
	if !ok {
		return Tier{}, fmt.Errorf("%w: rate plan has no tier level %d", ErrConfiguration, current.Level+1)
	}
	return next, nil
}

// Territory carries the seasonal baseline schedule.
type Territory struct {
	SummerStart time.Month
	WinterStart time.Month
	SummerRate  float64
	WinterRate  float64
}

// IsSummer reports whether month falls in [SummerStart, WinterStart), wrapping across
// the year end when summer starts after winter.
func (t Territory) IsSummer(month time.Month) bool {
	if t.SummerStart <= t.WinterStart {
		return month >= t.SummerStart && month < t.WinterStart
	}
	return month >= t.SummerStart || month < t.WinterStart
}

// SeasonRate returns the baseline rate in force for the given instant.
func (t Territory) SeasonRate(at time.Time) float64 {
	if t.IsSummer(at.Month()) {
		return t.SummerRate
	}
	return t.WinterRate
}

// BillingState is the running energy and tier of a device.
type BillingState struct {
	MonthlyKWh float64
	DailyKWh   float64
	Tier       Tier
}

// Charge is the billing outcome of one sample.
type Charge struct {
	KWh        float64
	Cost       decimal.Decimal
	Escalation *Escalation
}

// Accumulator turns wattage samples into energy and cost and escalates tiers.
// It is not safe for concurrent use; one accumulator belongs to one run of one device.
type Accumulator struct {
	state     BillingState
	tiers     TierTable
	territory Territory
}

// NewAccumulator starts from the persisted state of a device.
func NewAccumulator(state BillingState, tiers TierTable, territory Territory) *Accumulator {
	return &Accumulator{state: state, tiers: tiers, territory: territory}
}

// State returns a copy of the running state.
func (a *Accumulator) State() BillingState {
	return a.state
}

// EnergyKWh converts a wattage held for resolution into kilowatt hours.
func EnergyKWh(wattage float64, resolution time.Duration) float64 {
	return (wattage / 1000.0) * resolution.Seconds() / secondsPerHour
}

// ThresholdKWh is the monthly allowance of tier at the given instant. ok is false when
// the tier has no baseline cap.
func (a *Accumulator) ThresholdKWh(tier Tier, at time.Time) (float64, bool) {
	if tier.MaxPercentageOfBaseline == nil {
		return 0, false
	}
	return (*tier.MaxPercentageOfBaseline / 100.0) * a.territory.SeasonRate(at) * thresholdDays, true
}

// Add books one sample. Cost uses the tier in force before any escalation this sample causes.
func (a *Accumulator) Add(at time.Time, wattage float64, resolution time.Duration) (Charge, error) {
	kwh := EnergyKWh(wattage, resolution)
	a.state.MonthlyKWh += kwh
	a.state.DailyKWh += kwh

	charge := Charge{
		KWh:  kwh,
		Cost: a.state.Tier.Rate.Mul(decimal.NewFromFloat(kwh)),
	}

	limit, capped := a.ThresholdKWh(a.state.Tier, at)
	if !capped || a.state.MonthlyKWh <= limit {
		return charge, nil
	}

	next, err := a.tiers.Next(a.state.Tier)
	if err != nil {
		return Charge{}, err
	}
	charge.Escalation = &Escalation{
		Time:       at,
		From:       a.state.Tier,
		To:         next,
		MonthlyKWh: a.state.MonthlyKWh,
		Threshold:  limit,
	}
	a.state.Tier = next
	return charge, nil
}
