package rollup

import (
	"errors"
	"fmt"
	"regexp"
	"strconv"
)

var (
	// ErrInvalidSerial is returned for non-positive device serials.
	ErrInvalidSerial = errors.New("rollup: invalid device serial")
	// ErrInvalidGranularity is returned for granularities outside the ladder.
	ErrInvalidGranularity = errors.New("rollup: invalid granularity")
)

// Granularity is a rollup bucket width in the store's duration notation.
type Granularity string

const (
	Year   Granularity = "1y"
	Month  Granularity = "1M"
	Week   Granularity = "1w"
	Day    Granularity = "1d"
	Hour   Granularity = "1h"
	Minute Granularity = "1m"
	Second Granularity = "1s"
)

// Ladder lists the mean rollups in install order, coarsest first.
var Ladder = []Granularity{Year, Month, Week, Day, Hour, Minute, Second}

var intervals = map[Granularity]string{
	Year:   "1 year",
	Month:  "1 month",
	Week:   "1 week",
	Day:    "1 day",
	Hour:   "1 hour",
	Minute: "1 minute",
	Second: "1 second",
}

// Validate rejects anything that is not on the ladder.
func (g Granularity) Validate() error {
	if _, ok := intervals[g]; !ok {
		return fmt.Errorf("%w: %q", ErrInvalidGranularity, string(g))
	}
	return nil
}

// Interval renders the granularity as a PostgreSQL interval literal body.
func (g Granularity) Interval() string {
	return intervals[g]
}

// Kind distinguishes the three rule shapes.
type Kind string

const (
	KindFanout Kind = "fanout"
	KindMean   Kind = "mean"
	KindCost   Kind = "cost"
)

// Rule is a validated continuous rollup rule scoped to one device namespace.
type Rule struct {
	Kind        Kind
	Serial      int64
	Granularity Granularity
}

// Namespace is the series prefix of a device.
func Namespace(serial int64) string {
	return "device." + strconv.FormatInt(serial, 10)
}

// TierSeries is the series holding a device's tier samples.
func TierSeries(serial int64) string {
	return "tier." + Namespace(serial)
}

// Fanout splits the merged device series into one series per circuit.
func Fanout(serial int64) (Rule, error) {
	r := Rule{Kind: KindFanout, Serial: serial}
	return r, r.Validate()
}

// Mean averages wattage over buckets of g into the g-prefixed namespace.
func Mean(serial int64, g Granularity) (Rule, error) {
	r := Rule{Kind: KindMean, Serial: serial, Granularity: g}
	return r, r.Validate()
}

// Cost sums the cost field into cost.device.<serial>.
func Cost(serial int64) (Rule, error) {
	r := Rule{Kind: KindCost, Serial: serial}
	return r, r.Validate()
}

// Validate checks the serial and, for mean rules, the granularity.
func (r Rule) Validate() error {
	if r.Serial <= 0 {
		return fmt.Errorf("%w: %d", ErrInvalidSerial, r.Serial)
	}
	switch r.Kind {
	case KindFanout, KindCost:
		return nil
	case KindMean:
		return r.Granularity.Validate()
	default:
		return fmt.Errorf("rollup: unknown rule kind %q", string(r.Kind))
	}
}

// Name is the deterministic identifier of the rule; it doubles as its destination series.
func (r Rule) Name() string {
	ns := Namespace(r.Serial)
	switch r.Kind {
	case KindFanout:
		return ns + ".circuit"
	case KindMean:
		return string(r.Granularity) + "." + ns
	default:
		return "cost." + ns
	}
}

// Statement renders the continuous query text registered for the rule.
func (r Rule) Statement() string {
	ns := Namespace(r.Serial)
	switch r.Kind {
	case KindFanout:
		return "select * from " + ns + " into " + ns + ".[circuit_pk]"
	case KindMean:
		return "select mean(wattage) from /^" + ns + ".*/ group by time(" + string(r.Granularity) + ") into " + string(r.Granularity) + ".:series_name"
	default:
		return `select sum(cost) from "` + ns + `" into cost.` + ns
	}
}

// Standard returns the full rule set of a device in install order.
func Standard(serial int64) ([]Rule, error) {
	rules := make([]Rule, 0, len(Ladder)+2)

	fanout, err := Fanout(serial)
	if err != nil {
		return nil, err
	}
	rules = append(rules, fanout)

	for _, g := range Ladder {
		mean, err := Mean(serial, g)
		if err != nil {
			return nil, err
		}
		rules = append(rules, mean)
	}

	cost, err := Cost(serial)
	if err != nil {
		return nil, err
	}
	return append(rules, cost), nil
}

// References reports whether definition reads from or writes into the device namespace.
// device.1 does not match device.12.
func References(definition string, serial int64) bool {
	return namespacePattern(serial).MatchString(definition)
}

func namespacePattern(serial int64) *regexp.Regexp {
	return regexp.MustCompile(`device\.` + strconv.FormatInt(serial, 10) + `(?:[^0-9]|$)`)
}
