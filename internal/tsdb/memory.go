package tsdb

import (
	"context"
	"sort"
	"sync"
	"time"

	"meterseed/internal/datagen"
	"meterseed/internal/rollup"
)

// Memory is an in-process store used for dry runs and tests.
type Memory struct {
	mu     sync.Mutex
	points map[pointKey]datagen.Point
	tiers  []datagen.TierSample
	rules  map[string]string
}

type pointKey struct {
	serial  int64
	channel string
	at      int64
}

// NewMemory returns an empty store.
func NewMemory() *Memory {
	return &Memory{
		points: make(map[pointKey]datagen.Point),
		rules:  make(map[string]string),
	}
}

// WritePoints stores points; a repeated (serial, channel, time) keeps the first value.
func (m *Memory) WritePoints(ctx context.Context, points []datagen.Point) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, p := range points {
		key := pointKey{serial: p.Serial, channel: p.ChannelID, at: p.Time.Unix()}
		if _, ok := m.points[key]; ok {
			continue
		}
		m.points[key] = p
	}
	return nil
}

// WriteTierSamples appends tier samples.
func (m *Memory) WriteTierSamples(ctx context.Context, samples []datagen.TierSample) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tiers = append(m.tiers, samples...)
	return nil
}

// ListPoints returns the device's points in [from, to) ordered by time then channel.
func (m *Memory) ListPoints(ctx context.Context, serial int64, from, to time.Time) ([]datagen.Point, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]datagen.Point, 0)
	for key, p := range m.points {
		if key.serial != serial || p.Time.Before(from) || !p.Time.Before(to) {
			continue
		}
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].Time.Equal(out[j].Time) {
			return out[i].Time.Before(out[j].Time)
		}
		return out[i].ChannelID < out[j].ChannelID
	})
	return out, nil
}

// ListTierSamples returns the latest samples of a device, newest first.
func (m *Memory) ListTierSamples(ctx context.Context, serial int64, limit int) ([]datagen.TierSample, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]datagen.TierSample, 0)
	for i := len(m.tiers) - 1; i >= 0; i-- {
		if m.tiers[i].Serial != serial {
			continue
		}
		out = append(out, m.tiers[i])
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}

// ListRules returns installed rules sorted by name.
func (m *Memory) ListRules(ctx context.Context) ([]rollup.Installed, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]rollup.Installed, 0, len(m.rules))
	for name, def := range m.rules {
		out = append(out, rollup.Installed{Name: name, Definition: def})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

// DropRule removes a rule; unknown names are ignored.
func (m *Memory) DropRule(ctx context.Context, name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.rules, name)
	return nil
}

// CreateRule registers a rule under its deterministic name.
func (m *Memory) CreateRule(ctx context.Context, rule rollup.Rule) error {
	if err := rule.Validate(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rules[rule.Name()] = rule.Statement()
	return nil
}

// Close is a no-op.
func (m *Memory) Close() {}

var _ Store = (*Memory)(nil)
