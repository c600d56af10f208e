package datagen

import (
	"fmt"
	"sort"
	"strings"
)

// Profile holds the wattage envelope of one circuit type. Average drifts while a run walks it.
type Profile struct {
	Name      string
	ChannelID string
	Average   float64
	Cutoff    float64
	Max       float64
	Min       float64
}

// Settle clamps a candidate value against the envelope and returns the wattage to emit.
// Only an in-range value becomes the new running average.
func (p *Profile) Settle(value float64) float64 {
	switch {
	case value > p.Max:
		return p.Max
	case value < p.Cutoff:
		return 0
	case value < p.Min:
		return p.Min
	default:
		p.Average = value
		return value
	}
}

// Scale multiplies every parameter by factor.
func (p *Profile) Scale(factor float64) {
	p.Average *= factor
	p.Cutoff *= factor
	p.Max *= factor
	p.Min *= factor
}

// Validate rejects envelopes the walk cannot keep within [0, Max].
func (p Profile) Validate() error {
	if p.Max <= 0 {
		return fmt.Errorf("%w: profile %q max must be positive", ErrConfiguration, p.Name)
	}
	if p.Cutoff < 0 || p.Min < 0 {
		return fmt.Errorf("%w: profile %q cutoff and min cannot be negative", ErrConfiguration, p.Name)
	}
	if p.Min > p.Max {
		return fmt.Errorf("%w: profile %q min above max", ErrConfiguration, p.Name)
	}
	return nil
}

// ProfileSet is a catalogue of profiles keyed by lower-cased circuit type name.
type ProfileSet map[string]Profile

// DefaultProfiles returns the built-in Bedroom, Kitchen and Living Room envelopes.
func DefaultProfiles() ProfileSet {
	set := ProfileSet{}
	set.Put(Profile{Name: "Bedroom", Average: 200, Cutoff: 50, Max: 300, Min: 0})
	set.Put(Profile{Name: "Kitchen", Average: 1000, Cutoff: 500, Max: 2000, Min: 0})
	set.Put(Profile{Name: "Living Room", Average: 400, Cutoff: 50, Max: 1000, Min: 0})
	return set
}

// Put adds or replaces a profile.
func (s ProfileSet) Put(p Profile) {
	s[profileKey(p.Name)] = p
}

// Lookup finds a profile by circuit type name, ignoring case and surrounding space.
func (s ProfileSet) Lookup(name string) (Profile, bool) {
	p, ok := s[profileKey(name)]
	return p, ok
}

// Names lists the display names in sorted order.
func (s ProfileSet) Names() []string {
	names := make([]string, 0, len(s))
	for _, p := range s {
		names = append(names, p.Name)
	}
	sort.Strings(names)
	return names
}

// Prepare copies the requested profiles, tags each with its channel id and applies the
// energy-use multiplier once. channelIDs maps the requested name to the circuit type key.
func (s ProfileSet) Prepare(names []string, channelIDs map[string]string, use EnergyUse) ([]*Profile, error) {
	out := make([]*Profile, 0, len(names))
	for _, name := range names {
		p, ok := s.Lookup(name)
		if !ok {
			return nil, fmt.Errorf("%w: no wattage profile for channel %q", ErrConfiguration, name)
		}
		id, ok := channelIDs[name]
		if !ok || id == "" {
			return nil, fmt.Errorf("%w: unknown circuit type %q", ErrConfiguration, name)
		}
		if err := p.Validate(); err != nil {
			return nil, err
		}
		p.ChannelID = id
		p.Scale(use.Multiplier())
		out = append(out, &p)
	}
	return out, nil
}

func profileKey(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}
