package datagen

import (
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

var (
	// ErrInvalidRequest marks caller input rejected before any generation starts.
	ErrInvalidRequest = errors.New("datagen: invalid request")
	// ErrConfiguration marks missing tiers or profiles. Fatal for the run.
	ErrConfiguration = errors.New("datagen: configuration error")
)

// Point is one wattage/cost sample for a channel, written to series device.<serial>.
type Point struct {
	Time      time.Time
	Serial    int64
	ChannelID string
	Wattage   float64
	Cost      decimal.Decimal
}

// TierSample records the tier level in force from Time onwards, series tier.device.<serial>.
type TierSample struct {
	Time   time.Time
	Serial int64
	Level  int
}

// Escalation describes a single tier advance during a run.
type Escalation struct {
	Time       time.Time
	From       Tier
	To         Tier
	MonthlyKWh float64
	Threshold  float64
}

// EnergyUse selects the profile multiplier for a run.
type EnergyUse int

const (
	EnergyNormal   EnergyUse = 1
	EnergyGreedy   EnergyUse = 2
	EnergyConserve EnergyUse = 3
)

// Multiplier returns the factor applied to every profile parameter.
func (e EnergyUse) Multiplier() float64 {
	switch e {
	case EnergyGreedy:
		return 2
	case EnergyConserve:
		return 0.3
	default:
		return 1
	}
}

func (e EnergyUse) String() string {
	switch e {
	case EnergyNormal:
		return "normal"
	case EnergyGreedy:
		return "greedy"
	case EnergyConserve:
		return "conserve"
	default:
		return fmt.Sprintf("energy_use(%d)", int(e))
	}
}

// ParseEnergyUse accepts the names printed by String as well as the numeric form codes 1..3.
func ParseEnergyUse(v string) (EnergyUse, error) {
	switch v {
	case "normal", "1", "":
		return EnergyNormal, nil
	case "greedy", "2":
		return EnergyGreedy, nil
	case "conserve", "3":
		return EnergyConserve, nil
	}
	return 0, fmt.Errorf("%w: unknown energy use %q", ErrInvalidRequest, v)
}
