package scheduler

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"
)

// Window is the half-open span [Start, End) a tick is responsible for.
type Window struct {
	Start time.Time
	End   time.Time
}

// TickFunc is invoked once per elapsed interval with the window that just closed.
type TickFunc func(ctx context.Context, window Window) error

// Options tune scheduler behaviour.
type Options struct {
	Interval      time.Duration
	AlignToBucket bool
	StartupDelay  time.Duration
	// MaxTicks stops the loop after that many ticks; zero runs until ctx is cancelled.
	MaxTicks int
	// StopOnError ends the loop on the first failing tick instead of logging and continuing.
	StopOnError bool
}

// Scheduler drives live generation one closed window at a time.
type Scheduler struct {
	opts   Options
	logger zerolog.Logger
	now    func() time.Time
}

// New constructs a Scheduler instance.
func New(opts Options, logger zerolog.Logger) (*Scheduler, error) {
	if opts.Interval <= 0 {
		return nil, errors.New("scheduler interval must be positive")
	}
	return &Scheduler{
		opts:   opts,
		logger: logger.With().Str("component", "scheduler").Logger(),
		now:    func() time.Time { return time.Now().UTC() },
	}, nil
}

// Run blocks until ctx is cancelled or MaxTicks windows were handed to tick. Consecutive
// windows are contiguous so no instant is generated twice.
func (s *Scheduler) Run(ctx context.Context, tick TickFunc) error {
	if s.opts.StartupDelay > 0 {
		if err := s.sleep(ctx, s.opts.StartupDelay); err != nil {
			return err
		}
	}

	start := s.windowStart(s.now())
	for ticks := 0; s.opts.MaxTicks == 0 || ticks < s.opts.MaxTicks; ticks++ {
		end := start.Add(s.opts.Interval)
		s.logger.Debug().Time("window_end", end).Msg("waiting for window to close")
		if err := s.sleep(ctx, end.Sub(s.now())); err != nil {
			return err
		}

		window := Window{Start: start, End: end}
		s.logger.Info().Time("start", window.Start).Time("end", window.End).Msg("executing scheduled tick")
		if err := tick(ctx, window); err != nil {
			if s.opts.StopOnError {
				return err
			}
			s.logger.Error().Err(err).Time("start", window.Start).Msg("tick execution failed")
		}
		start = end
	}
	return nil
}

func (s *Scheduler) sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func (s *Scheduler) windowStart(now time.Time) time.Time {
	if !s.opts.AlignToBucket {
		return now
	}
	return now.Truncate(s.opts.Interval)
}
