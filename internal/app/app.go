package app

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"

	"meterseed/internal/alerting"
	"meterseed/internal/config"
	"meterseed/internal/datagen"
	"meterseed/internal/publish"
	"meterseed/internal/service"
	"meterseed/internal/storage"
	"meterseed/internal/tsdb"
)

// App aggregates configuration and shared dependencies for the CLI commands.
type App struct {
	Config *config.Config
	Logger zerolog.Logger
}

// NewApp constructs a new application handle.
func NewApp(cfg *config.Config, logger zerolog.Logger) *App {
	return &App{Config: cfg, Logger: logger.With().Str("component", "app").Logger()}
}

// GenerateOptions describe one generate invocation.
type GenerateOptions struct {
	Serial        int64
	Channels      []string
	Start         time.Time
	Stop          time.Time
	Resolution    time.Duration
	EnergyUse     datagen.EnergyUse
	BatchSize     int
	DryRun        bool
	SkipReconcile bool
}

// RunOptions configure live generation for one device.
type RunOptions struct {
	Serial     int64
	Channels   []string
	Resolution time.Duration
	EnergyUse  datagen.EnergyUse
	MaxTicks   int
}

// ExportOptions hold parameters for exporting a device's series.
type ExportOptions struct {
	Serial    int64
	From      *time.Time
	To        *time.Time
	PNGPath   string
	CSVPath   string
	MaxPoints int
}

// ShowOptions configure the show command.
type ShowOptions struct {
	Serial int64
	Limit  int
}

// SimulateOptions describe the synthetic escalation sent by simulate-alert.
type SimulateOptions struct {
	Serial    int64
	FromLevel int
	ToLevel   int
}

func (a *App) profiles() datagen.ProfileSet {
	set := datagen.DefaultProfiles()
	for name, p := range a.Config.Generator.Profiles {
		set.Put(datagen.Profile{
			Name:    name,
			Average: p.Average,
			Cutoff:  p.Cutoff,
			Max:     p.Max,
			Min:     p.Min,
		})
	}
	return set
}

func (a *App) newNotifier() alerting.Notifier {
	if a.Config.Alerting.Telegram.Enabled {
		cfg := a.Config.Alerting.Telegram
		return alerting.NewTelegramNotifier(cfg.BotToken, cfg.ChatID, cfg.APIBase, cfg.Timeout, a.Logger)
	}
	return nil
}

func (a *App) openDevices(ctx context.Context) (*storage.Store, func(), error) {
	if a.Config.Database.DSN == "" {
		return nil, nil, errors.New("database.dsn not configured")
	}

	pool, err := storage.NewPool(ctx, a.Config.Database)
	if err != nil {
		return nil, nil, err
	}

	store := storage.NewStore(pool)
	return store, store.Close, nil
}

// openSeries returns the TimescaleDB store, or an in-memory one for dry runs.
func (a *App) openSeries(ctx context.Context, dryRun bool) (tsdb.Store, error) {
	if dryRun {
		a.Logger.Warn().Msg("dry-run: samples stay in memory and billing is not committed")
		return tsdb.NewMemory(), nil
	}

	pool, err := storage.NewSeriesPool(ctx, a.Config.Database, a.Config.TSDB)
	if err != nil {
		return nil, err
	}
	return tsdb.NewTimescale(pool, a.Config.TSDB.RequestTimeout, a.Logger), nil
}

// newSeeder opens every store a generation needs and returns a single cleanup func.
func (a *App) newSeeder(ctx context.Context, dryRun bool, batchSize int) (*service.Seeder, func(), error) {
	devices, closeDevices, err := a.openDevices(ctx)
	if err != nil {
		return nil, nil, err
	}

	series, err := a.openSeries(ctx, dryRun)
	if err != nil {
		closeDevices()
		return nil, nil, err
	}

	opts := service.Options{
		Profiles:      a.profiles(),
		Seed:          a.Config.Generator.Seed,
		BatchSize:     a.Config.ResolveBatchSize(batchSize),
		LockNamespace: a.Config.Database.AdvisoryLockKey,
		AlertsOn:      a.Config.Alerting.Enabled,
		Channels:      a.Config.Alerting.Channels,
	}

	var mirror *publish.Mirror
	if a.Config.Kafka.Enabled && !dryRun {
		mirror = publish.NewKafkaMirror(series, publish.Config{
			Brokers:        a.Config.Kafka.Brokers,
			ReadingsTopic:  a.Config.Kafka.ReadingsTopic,
			TiersTopic:     a.Config.Kafka.TiersTopic,
			RequestTimeout: a.Config.Kafka.RequestTimeout,
		}, a.Logger)
		opts.Writer = mirror
	}

	cleanup := func() {
		if mirror != nil {
			if err := mirror.Close(); err != nil {
				a.Logger.Warn().Err(err).Msg("failed to close kafka writers")
			}
		}
		series.Close()
		closeDevices()
	}

	seeder := service.New(opts, devices, series, a.newNotifier(), a.Logger)
	return seeder, cleanup, nil
}
