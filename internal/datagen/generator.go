package datagen

import (
	"context"
	"fmt"
	"math"
	"time"
)

// Sink receives samples as the run produces them.
type Sink interface {
	AddPoint(ctx context.Context, p Point) error
	AddTierSample(ctx context.Context, s TierSample) error
}

// Request describes one generation call for one device.
type Request struct {
	Serial     int64
	Start      time.Time
	Stop       time.Time
	Resolution time.Duration
	Channels   []*Profile
}

// Validate checks the window, the resolution and the channel set.
func (r Request) Validate() error {
	if err := ValidateWindow(r.Serial, r.Start, r.Stop, r.Resolution); err != nil {
		return err
	}
	if len(r.Channels) == 0 {
		return fmt.Errorf("%w: at least one channel is required", ErrInvalidRequest)
	}
	seen := make(map[string]struct{}, len(r.Channels))
	for _, p := range r.Channels {
		if _, dup := seen[p.ChannelID]; dup {
			return fmt.Errorf("%w: channel %s listed more than once", ErrInvalidRequest, p.ChannelID)
		}
		seen[p.ChannelID] = struct{}{}
	}
	return nil
}

// CheckChannelNames rejects empty or repeated circuit names, compared the way profiles are looked up.
func CheckChannelNames(names []string) error {
	if len(names) == 0 {
		return fmt.Errorf("%w: at least one channel is required", ErrInvalidRequest)
	}
	seen := make(map[string]struct{}, len(names))
	for _, name := range names {
		key := profileKey(name)
		if key == "" {
			return fmt.Errorf("%w: empty channel name", ErrInvalidRequest)
		}
		if _, dup := seen[key]; dup {
			return fmt.Errorf("%w: channel %q listed more than once", ErrInvalidRequest, name)
		}
		seen[key] = struct{}{}
	}
	return nil
}

// ValidateWindow checks the parts of a request that need no profile data.
func ValidateWindow(serial int64, start, stop time.Time, resolution time.Duration) error {
	if serial <= 0 || serial > math.MaxUint32 {
		return fmt.Errorf("%w: serial must be in 1..%d", ErrInvalidRequest, uint32(math.MaxUint32))
	}
	if !start.Before(stop) {
		return fmt.Errorf("%w: start must be before stop", ErrInvalidRequest)
	}
	if resolution < time.Second {
		return fmt.Errorf("%w: resolution must be at least one second", ErrInvalidRequest)
	}
	if resolution%time.Second != 0 {
		return fmt.Errorf("%w: resolution must be a whole number of seconds", ErrInvalidRequest)
	}
	return nil
}

// Ticks counts the instants in [Start, Stop) spaced by Resolution.
func (r Request) Ticks() int64 {
	span := r.Stop.Sub(r.Start)
	n := int64(span / r.Resolution)
	if span%r.Resolution != 0 {
		n++
	}
	return n
}

// Summary reports what a run produced.
type Summary struct {
	Points      int64
	TierSamples int64
	Escalations []Escalation
	Final       BillingState
}

// Generator runs the tick loop for one device.
//
// Ticks are processed strictly in order because each escalation depends on the totals of
// the ticks before it. Callers must not run two generators for the same device at once:
// both would start from the same tier and could escalate it twice.
type Generator struct {
	walker  *Walker
	billing *Accumulator
}

// NewGenerator pairs a walker with the device's billing accumulator.
func NewGenerator(walker *Walker, billing *Accumulator) *Generator {
	return &Generator{walker: walker, billing: billing}
}

// Run walks every channel at every tick, books the energy and hands the samples to sink.
// The starting tier is emitted as a tier sample at Start.
func (g *Generator) Run(ctx context.Context, req Request, sink Sink) (Summary, error) {
	if err := req.Validate(); err != nil {
		return Summary{}, err
	}

	var summary Summary
	start := TierSample{Time: req.Start, Serial: req.Serial, Level: g.billing.State().Tier.Level}
	if err := sink.AddTierSample(ctx, start); err != nil {
		return summary, err
	}
	summary.TierSamples++

	for at := req.Start; at.Before(req.Stop); at = at.Add(req.Resolution) {
		if err := ctx.Err(); err != nil {
			return summary, err
		}

		for _, channel := range req.Channels {
			wattage := g.walker.Next(channel)
			charge, err := g.billing.Add(at, wattage, req.Resolution)
			if err != nil {
				return summary, err
			}

			if charge.Escalation != nil {
				summary.Escalations = append(summary.Escalations, *charge.Escalation)
				sample := TierSample{Time: at, Serial: req.Serial, Level: charge.Escalation.To.Level}
				if err := sink.AddTierSample(ctx, sample); err != nil {
					return summary, err
				}
				summary.TierSamples++
			}

			point := Point{
				Time:      at,
				Serial:    req.Serial,
				ChannelID: channel.ChannelID,
				Wattage:   wattage,
				Cost:      charge.Cost,
			}
			if err := sink.AddPoint(ctx, point); err != nil {
				return summary, err
			}
			summary.Points++
		}
	}

	summary.Final = g.billing.State()
	return summary, nil
}
