package app

import (
	"context"
	"errors"
	"fmt"
	"os/signal"
	"syscall"

	"meterseed/internal/datagen"
	"meterseed/internal/scheduler"
	"meterseed/internal/service"
)

// Run streams live data for one device: one scheduler window per interval, each generated
// and committed as its own run. Rules are reconciled once before the first window.
func (a *App) Run(ctx context.Context, opts RunOptions) error {
	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	interval := a.Config.Scheduler.Interval
	if opts.Resolution <= 0 || interval%opts.Resolution != 0 {
		return fmt.Errorf("%w: resolution %s must divide scheduler.interval %s",
			datagen.ErrInvalidRequest, opts.Resolution, interval)
	}
	if len(opts.Channels) == 0 {
		return fmt.Errorf("%w: at least one channel is required", datagen.ErrInvalidRequest)
	}

	seeder, cleanup, err := a.newSeeder(ctx, false, 0)
	if err != nil {
		return err
	}
	defer cleanup()

	if _, err := seeder.Reconcile(ctx, opts.Serial); err != nil {
		return err
	}

	sched, err := scheduler.New(scheduler.Options{
		Interval:      interval,
		AlignToBucket: a.Config.Scheduler.AlignToBucket,
		StartupDelay:  a.Config.Scheduler.StartupDelay,
		MaxTicks:      opts.MaxTicks,
	}, a.Logger)
	if err != nil {
		return err
	}

	a.Logger.Info().Int64("serial", opts.Serial).Dur("interval", interval).Msg("starting live generation")
	err = sched.Run(ctx, func(ctx context.Context, window scheduler.Window) error {
		_, err := seeder.Generate(ctx, service.Request{
			Serial:        opts.Serial,
			Channels:      opts.Channels,
			Start:         window.Start,
			Stop:          window.End,
			Resolution:    opts.Resolution,
			EnergyUse:     opts.EnergyUse,
			SkipReconcile: true,
		})
		return err
	})
	if err != nil && !errors.Is(err, context.Canceled) {
		a.Logger.Error().Err(err).Msg("live generation terminated with error")
		return err
	}

	a.Logger.Info().Msg("live generation stopped")
	return nil
}
