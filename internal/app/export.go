package app

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"time"

	chart "github.com/wcharczuk/go-chart/v2"

	"meterseed/internal/datagen"
)

const defaultExportWindow = 24 * time.Hour

// Export renders a device's wattage series as CSV and/or PNG.
func (a *App) Export(ctx context.Context, opts ExportOptions) error {
	if opts.CSVPath == "" && opts.PNGPath == "" {
		return errors.New("at least one of --csv or --png must be provided")
	}

	opts.MaxPoints = a.Config.ResolveMaxPoints(opts.MaxPoints)

	to := time.Now().UTC()
	if opts.To != nil {
		to = opts.To.UTC()
	}
	from := to.Add(-defaultExportWindow)
	if opts.From != nil {
		from = opts.From.UTC()
	}
	if !from.Before(to) {
		return errors.New("from must be before to")
	}

	series, err := a.openSeries(ctx, false)
	if err != nil {
		return err
	}
	defer series.Close()

	points, err := series.ListPoints(ctx, opts.Serial, from, to)
	if err != nil {
		return err
	}
	if len(points) == 0 {
		a.Logger.Info().Int64("serial", opts.Serial).Msg("no points found for export window")
		return nil
	}

	downsampled := downsample(points, opts.MaxPoints)
	a.Logger.Info().Int("total", len(points)).Int("exported", len(downsampled)).Msg("exporting points")

	if opts.CSVPath != "" {
		if err := writePointsCSV(opts.CSVPath, downsampled); err != nil {
			return err
		}
	}

	if opts.PNGPath != "" {
		if err := writePointsPNG(opts.PNGPath, opts.Serial, downsampled); err != nil {
			return err
		}
	}

	return nil
}

func downsample[T any](items []T, max int) []T {
	if max <= 0 || len(items) <= max {
		return items
	}
	if max == 1 {
		return items[:1]
	}

	result := make([]T, 0, max)
	step := float64(len(items)-1) / float64(max-1)
	for i := 0; i < max; i++ {
		idx := int(math.Round(step * float64(i)))
		if idx >= len(items) {
			idx = len(items) - 1
		}
		result = append(result, items[idx])
	}
	return result
}

func writePointsCSV(path string, points []datagen.Point) error {
	if err := ensureDir(path); err != nil {
		return err
	}

	file, err := os.Create(path)
	if err != nil {
		return err
	}
	defer file.Close()

	writer := csv.NewWriter(file)
	if err := writer.Write([]string{"time", "serial", "circuit_pk", "wattage", "cost"}); err != nil {
		return err
	}

	for _, p := range points {
		record := []string{
			p.Time.UTC().Format(time.RFC3339),
			strconv.FormatInt(p.Serial, 10),
			p.ChannelID,
			strconv.FormatFloat(p.Wattage, 'f', 3, 64),
			p.Cost.StringFixed(6),
		}
		if err := writer.Write(record); err != nil {
			return err
		}
	}

	writer.Flush()
	return writer.Error()
}

// groupByChannel splits points per circuit, keeping time order within each group.
func groupByChannel(points []datagen.Point) ([]string, map[string][]datagen.Point) {
	groups := make(map[string][]datagen.Point)
	for _, p := range points {
		groups[p.ChannelID] = append(groups[p.ChannelID], p)
	}
	channels := make([]string, 0, len(groups))
	for ch := range groups {
		channels = append(channels, ch)
	}
	sort.Strings(channels)
	return channels, groups
}

func writePointsPNG(path string, serial int64, points []datagen.Point) error {
	if err := ensureDir(path); err != nil {
		return err
	}

	channels, groups := groupByChannel(points)
	series := make([]chart.Series, 0, len(channels))
	for _, ch := range channels {
		group := groups[ch]
		x := make([]time.Time, len(group))
		y := make([]float64, len(group))
		for i, p := range group {
			x[i] = p.Time
			y[i] = p.Wattage
		}
		series = append(series, chart.TimeSeries{
			Name:    fmt.Sprintf("circuit %s", ch),
			XValues: x,
			YValues: y,
		})
	}

	wattFormatter := func(v interface{}) string {
		return chart.FloatValueFormatterWithFormat(v, "%.0f")
	}
	graph := chart.Chart{
		Title:  fmt.Sprintf("device.%d", serial),
		Width:  1280,
		Height: 720,
		XAxis: chart.XAxis{
			ValueFormatter: chart.TimeValueFormatter,
		},
		YAxis: chart.YAxis{
			Name:           "Wattage (W)",
			ValueFormatter: wattFormatter,
		},
		Series: series,
	}
	graph.Elements = []chart.Renderable{chart.Legend(&graph)}

	file, err := os.Create(path)
	if err != nil {
		return err
	}
	defer file.Close()

	return graph.Render(chart.PNG, file)
}

func ensureDir(path string) error {
	dir := filepath.Dir(path)
	if dir == "." || dir == "" {
		return nil
	}
	return os.MkdirAll(dir, 0o755)
}
