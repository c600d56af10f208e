package app

import (
	"context"
	"fmt"
	"io"
	"os"
	"text/tabwriter"
	"time"

	"meterseed/internal/datagen"
	"meterseed/internal/storage"
)

// Show prints the billing state of a device and its latest tier samples.
func (a *App) Show(ctx context.Context, opts ShowOptions) error {
	devices, closeDevices, err := a.openDevices(ctx)
	if err != nil {
		return err
	}
	defer closeDevices()

	series, err := a.openSeries(ctx, false)
	if err != nil {
		return err
	}
	defer series.Close()

	device, err := devices.LoadDevice(ctx, opts.Serial)
	if err != nil {
		return err
	}
	samples, err := series.ListTierSamples(ctx, opts.Serial, opts.Limit)
	if err != nil {
		return err
	}

	return renderShow(os.Stdout, device, samples)
}

func renderShow(out io.Writer, device storage.Device, samples []datagen.TierSample) error {
	fmt.Fprintf(out, "device %d (%s)\n", device.Serial, device.Name)
	fmt.Fprintf(out, "rate plan %d, tier %d\n", device.RatePlanID, device.CurrentTierLevel)
	fmt.Fprintf(out, "energy: monthly %.3f kWh, daily %.3f kWh\n", device.MonthlyKWh, device.DailyKWh)
	fmt.Fprintf(out, "summer %s..%s at %.3f, winter at %.3f kWh/day\n\n",
		device.Territory.SummerStart, device.Territory.WinterStart,
		device.Territory.SummerRate, device.Territory.WinterRate)

	if len(samples) == 0 {
		fmt.Fprintln(out, "no tier samples found")
		return nil
	}

	writer := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(writer, "Time (UTC)\tTier")
	for _, sample := range samples {
		fmt.Fprintf(writer, "%s\t%d\n", sample.Time.UTC().Format(time.RFC3339), sample.Level)
	}
	return writer.Flush()
}
