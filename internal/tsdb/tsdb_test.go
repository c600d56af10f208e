package tsdb

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"meterseed/internal/datagen"
	"meterseed/internal/rollup"
)

type countingWriter struct {
	batches []int
	tiers   int
	fail    bool
	publish bool
}

func (c *countingWriter) WritePoints(ctx context.Context, points []datagen.Point) error {
	if c.fail {
		return fmt.Errorf("%w: write points: connection reset", ErrStore)
	}
	c.batches = append(c.batches, len(points))
	if c.publish {
		return fmt.Errorf("%w: readings: broker down", ErrPublish)
	}
	return nil
}

func (c *countingWriter) WriteTierSamples(ctx context.Context, samples []datagen.TierSample) error {
	c.tiers += len(samples)
	return nil
}

func point(serial int64, channel string, sec int64) datagen.Point {
	return datagen.Point{Time: time.Unix(sec, 0).UTC(), Serial: serial, ChannelID: channel, Wattage: float64(sec)}
}

func TestBufferFlushesAtBatchSize(t *testing.T) {
	w := &countingWriter{}
	buf := NewBuffer(w, 3, zerolog.Nop())
	ctx := context.Background()

	for i := int64(0); i < 7; i++ {
		if err := buf.AddPoint(ctx, point(1, "1", i)); err != nil {
			t.Fatalf("AddPoint: %v", err)
		}
	}
	_ = buf.AddTierSample(ctx, datagen.TierSample{Serial: 1, Level: 1})
	if len(w.batches) != 2 || buf.Pending() != 1 || buf.Written() != 6 {
		t.Fatalf("unexpected state: batches %v pending %d written %d", w.batches, buf.Pending(), buf.Written())
	}

	if err := buf.Flush(ctx); err != nil {
		t.Fatalf("Flush: %v", err)
	}
	if buf.Written() != 7 || buf.Pending() != 0 || w.tiers != 1 {
		t.Fatalf("final flush incomplete: written %d pending %d tiers %d", buf.Written(), buf.Pending(), w.tiers)
	}
}

func TestBufferKeepsPendingOnFailure(t *testing.T) {
	w := &countingWriter{fail: true}
	buf := NewBuffer(w, 10, zerolog.Nop())
	_ = buf.AddPoint(context.Background(), point(1, "1", 1))

	err := buf.Flush(context.Background())
	if !errors.Is(err, ErrStore) || !IsRetryable(err) {
		t.Fatalf("expected retryable store error, got %v", err)
	}
	if buf.Pending() != 1 || buf.Written() != 0 {
		t.Fatal("failed flush must keep pending points")
	}
}

func TestBufferCountsStoredPointsWhenPublishFails(t *testing.T) {
	w := &countingWriter{publish: true}
	buf := NewBuffer(w, 10, zerolog.Nop())
	_ = buf.AddPoint(context.Background(), point(1, "1", 1))
	_ = buf.AddPoint(context.Background(), point(1, "1", 2))

	err := buf.Flush(context.Background())
	if !errors.Is(err, ErrPublish) || !errors.Is(err, ErrStore) {
		t.Fatalf("expected publish error, got %v", err)
	}
	if buf.Written() != 2 || buf.Pending() != 0 {
		t.Fatalf("stored points should count as written: written=%d pending=%d", buf.Written(), buf.Pending())
	}
}

func TestBufferDefaultBatchSize(t *testing.T) {
	buf := NewBuffer(&countingWriter{}, 0, zerolog.Nop())
	if buf.batchSize != DefaultBatchSize {
		t.Fatalf("expected default batch size, got %d", buf.batchSize)
	}
}

func TestMemoryDeduplicatesAndOrders(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()
	first := point(1, "2", 10)
	dup := first
	dup.Wattage = 999

	_ = m.WritePoints(ctx, []datagen.Point{first, point(1, "1", 10), point(1, "1", 5), point(2, "1", 5)})
	_ = m.WritePoints(ctx, []datagen.Point{dup})

	got, _ := m.ListPoints(ctx, 1, time.Unix(0, 0), time.Unix(11, 0))
	if len(got) != 3 {
		t.Fatalf("expected 3 points, got %d", len(got))
	}
	if got[0].Time.Unix() != 5 || got[1].ChannelID != "1" || got[2].ChannelID != "2" {
		t.Fatalf("unexpected order %#v", got)
	}
	if got[2].Wattage != 10 {
		t.Fatal("a retried write must not overwrite the stored point")
	}

	got, _ = m.ListPoints(ctx, 1, time.Unix(5, 0), time.Unix(10, 0))
	if len(got) != 1 {
		t.Fatalf("window should be half-open, got %d points", len(got))
	}
}

func TestMemoryTierSamplesNewestFirst(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()
	_ = m.WriteTierSamples(ctx, []datagen.TierSample{
		{Serial: 1, Level: 1, Time: time.Unix(1, 0)},
		{Serial: 2, Level: 1, Time: time.Unix(1, 0)},
		{Serial: 1, Level: 2, Time: time.Unix(2, 0)},
		{Serial: 1, Level: 3, Time: time.Unix(3, 0)},
	})
	got, _ := m.ListTierSamples(ctx, 1, 2)
	if len(got) != 2 || got[0].Level != 3 || got[1].Level != 2 {
		t.Fatalf("unexpected samples %#v", got)
	}
}

func TestMemoryRules(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()
	rule, _ := rollup.Cost(3)
	if err := m.CreateRule(ctx, rule); err != nil {
		t.Fatalf("CreateRule: %v", err)
	}
	if err := m.CreateRule(ctx, rollup.Rule{Kind: rollup.KindMean, Serial: 3, Granularity: "2h"}); err == nil {
		t.Fatal("invalid rule should be rejected")
	}
	rules, _ := m.ListRules(ctx)
	if len(rules) != 1 || rules[0].Name != "cost.device.3" || rules[0].Definition != rule.Statement() {
		t.Fatalf("unexpected rules %#v", rules)
	}
	if err := m.DropRule(ctx, "missing"); err != nil {
		t.Fatalf("dropping an unknown rule should be a no-op: %v", err)
	}
}

type timeoutErr struct{}

func (timeoutErr) Error() string { return "i/o timeout" }
func (timeoutErr) Timeout() bool { return true }
func (timeoutErr) Temporary() bool { return true }

func TestIsRetryable(t *testing.T) {
	cases := []struct {
		err  error
		want bool
	}{
		{nil, false},
		{fmt.Errorf("wrap: %w", ErrStore), true},
		{context.DeadlineExceeded, true},
		{fmt.Errorf("dial: %w", timeoutErr{}), true},
		{fmt.Errorf("%w: no tier", datagen.ErrConfiguration), false},
		{fmt.Errorf("%w: bad range", datagen.ErrInvalidRequest), false},
		{errors.New("other"), false},
	}
	for i, c := range cases {
		if got := IsRetryable(c.err); got != c.want {
			t.Fatalf("case %d (%v): got %v want %v", i, c.err, got, c.want)
		}
	}
}

func TestCreateViewSQL(t *testing.T) {
	fanout, _ := rollup.Fanout(8)
	if got := createViewSQL(fanout); !strings.HasPrefix(got, `CREATE OR REPLACE VIEW "device.8.circuit" AS`) || !strings.Contains(got, "serial = 8") {
		t.Fatalf("unexpected fanout DDL %q", got)
	}

	mean, _ := rollup.Mean(8, rollup.Month)
	got := createViewSQL(mean)
	if !strings.Contains(got, `"1M.device.8"`) || !strings.Contains(got, "time_bucket(INTERVAL '1 month', time)") || !strings.HasSuffix(got, "WITH NO DATA;") {
		t.Fatalf("unexpected mean DDL %q", got)
	}

	if got := dropViewSQL(rollup.KindFanout, "device.8.circuit"); got != `DROP VIEW IF EXISTS "device.8.circuit";` {
		t.Fatalf("unexpected drop %q", got)
	}
	if got := scheduleInterval(mean); got != "1 day" {
		t.Fatalf("unexpected schedule %q", got)
	}
}
