package app

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"

	"meterseed/internal/alerting"
)

// SimulateAlert sends a synthetic tier escalation through the configured channels.
func (a *App) SimulateAlert(ctx context.Context, opts SimulateOptions) error {
	if !a.Config.Alerting.Enabled {
		return errors.New("alerting is disabled")
	}

	notifier := a.newNotifier()
	if notifier == nil {
		return errors.New("no alert channel configured")
	}

	note := alerting.Notification{
		Serial:        opts.Serial,
		At:            time.Now().UTC().Truncate(time.Second),
		FromLevel:     opts.FromLevel,
		ToLevel:       opts.ToLevel,
		Rate:          decimal.Zero,
		Channels:      a.Config.Alerting.Channels,
		AdditionalMsg: "simulated escalation",
	}
	return notifier.Notify(ctx, note)
}
