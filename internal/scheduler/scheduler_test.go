package scheduler

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func TestRunHandsOutContiguousWindows(t *testing.T) {
	sched, err := New(Options{Interval: 10 * time.Millisecond, MaxTicks: 3}, zerolog.Nop())
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	var windows []Window
	err = sched.Run(context.Background(), func(ctx context.Context, w Window) error {
		windows = append(windows, w)
		return nil
	})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(windows) != 3 {
		t.Fatalf("expected 3 windows, got %d", len(windows))
	}
	for i, w := range windows {
		if w.End.Sub(w.Start) != 10*time.Millisecond {
			t.Fatalf("window %d has span %s", i, w.End.Sub(w.Start))
		}
		if i > 0 && !w.Start.Equal(windows[i-1].End) {
			t.Fatalf("window %d does not continue the previous one", i)
		}
	}
}

func TestRunAlignsToBucket(t *testing.T) {
	sched, _ := New(Options{Interval: time.Minute, AlignToBucket: true, MaxTicks: 1}, zerolog.Nop())
	fixed := time.Date(2024, 1, 1, 10, 30, 45, 0, time.UTC)

	if got := sched.windowStart(fixed); !got.Equal(time.Date(2024, 1, 1, 10, 30, 0, 0, time.UTC)) {
		t.Fatalf("unexpected aligned start %s", got)
	}
}

func TestRunStopOnError(t *testing.T) {
	sched, _ := New(Options{Interval: time.Millisecond, MaxTicks: 5, StopOnError: true}, zerolog.Nop())
	boom := errors.New("boom")
	calls := 0
	err := sched.Run(context.Background(), func(ctx context.Context, w Window) error {
		calls++
		return boom
	})
	if !errors.Is(err, boom) || calls != 1 {
		t.Fatalf("expected to stop after first failure, got %v after %d calls", err, calls)
	}
}

func TestRunCancelled(t *testing.T) {
	sched, _ := New(Options{Interval: time.Hour}, zerolog.Nop())
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := sched.Run(ctx, func(context.Context, Window) error { return nil }); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

func TestNewRejectsZeroInterval(t *testing.T) {
	if _, err := New(Options{}, zerolog.Nop()); err == nil {
		t.Fatal("zero interval should be rejected")
	}
}
