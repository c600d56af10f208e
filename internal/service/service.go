package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"meterseed/internal/alerting"
	"meterseed/internal/datagen"
	"meterseed/internal/logging"
	"meterseed/internal/rollup"
	"meterseed/internal/storage"
	"meterseed/internal/tsdb"
)

// ErrDeviceBusy is returned when another process holds the device's generation lock.
var ErrDeviceBusy = errors.New("service: device is being generated elsewhere")

// DeviceRepository reads device billing metadata and writes the end-of-run state.
type DeviceRepository interface {
	LoadDevice(ctx context.Context, serial int64) (storage.Device, error)
	LoadTiers(ctx context.Context, ratePlanID int64) ([]storage.Tier, error)
	LookupCircuitTypes(ctx context.Context, names []string) (map[string]string, error)
	CommitBilling(ctx context.Context, commit storage.BillingCommit) error
}

// Options carries the tunables of a Seeder.
type Options struct {
	Profiles  datagen.ProfileSet
	Seed      uint64
	BatchSize int
	// LockNamespace is combined with the serial into the advisory lock key; zero disables locking.
	LockNamespace int64
	AlertsOn      bool
	Channels      []string
	// Writer overrides where samples are flushed; nil means the series store.
	Writer tsdb.Writer
}

// Request is one generation call as the CLI issues it.
type Request struct {
	Serial        int64
	Channels      []string
	Start         time.Time
	Stop          time.Time
	Resolution    time.Duration
	EnergyUse     datagen.EnergyUse
	DryRun        bool
	SkipReconcile bool
}

// Validate rejects malformed input before any store is touched.
func (r Request) Validate() error {
	if err := datagen.ValidateWindow(r.Serial, r.Start, r.Stop, r.Resolution); err != nil {
		return err
	}
	if err := datagen.CheckChannelNames(r.Channels); err != nil {
		return err
	}
	if r.EnergyUse != 0 && (r.EnergyUse < datagen.EnergyNormal || r.EnergyUse > datagen.EnergyConserve) {
		return fmt.Errorf("%w: unknown energy use %d", datagen.ErrInvalidRequest, int(r.EnergyUse))
	}
	return nil
}

// Report summarises a finished run.
type Report struct {
	RunID       string
	Serial      int64
	Points      int64
	TierSamples int64
	StartTier   int
	Escalations []datagen.Escalation
	Final       datagen.BillingState
	Committed   bool
	Reconciled  *rollup.Result
}

// Message is the one-line outcome printed by the CLI.
func (r Report) Message() string {
	return fmt.Sprintf("Added %d points successfully", r.Points)
}

// Seeder runs generation for one device at a time against the device repository and the
// series store.
type Seeder struct {
	devices    DeviceRepository
	series     tsdb.Store
	writer     tsdb.Writer
	reconciler *rollup.Reconciler
	notifier   alerting.Notifier
	locker     storage.AdvisoryLocker
	opts       Options
	logger     zerolog.Logger
}

// New constructs a Seeder. The device repository doubles as the lock provider when it
// implements storage.AdvisoryLocker.
func New(opts Options, devices DeviceRepository, series tsdb.Store, notifier alerting.Notifier, logger zerolog.Logger) *Seeder {
	if opts.Profiles == nil {
		opts.Profiles = datagen.DefaultProfiles()
	}

	var locker storage.AdvisoryLocker
	if l, ok := devices.(storage.AdvisoryLocker); ok {
		locker = l
	}

	writer := opts.Writer
	if writer == nil {
		writer = series
	}

	return &Seeder{
		devices:    devices,
		series:     series,
		writer:     writer,
		reconciler: rollup.NewReconciler(series, logger),
		notifier:   notifier,
		locker:     locker,
		opts:       opts,
		logger:     logger.With().Str("component", "seeder").Logger(),
	}
}

// Generate produces the points of one request, persists them, commits the billing state
// and refreshes the device's rollup rules.
func (s *Seeder) Generate(ctx context.Context, req Request) (Report, error) {
	if err := req.Validate(); err != nil {
		return Report{}, err
	}

	report := Report{RunID: uuid.NewString(), Serial: req.Serial}
	logger := logging.ForRun(s.logger, report.RunID, req.Serial)

	if !req.DryRun {
		unlock, err := s.acquireLock(ctx, req.Serial)
		if err != nil {
			return report, err
		}
		if unlock != nil {
			defer unlock()
		}
	}

	device, err := s.devices.LoadDevice(ctx, req.Serial)
	if err != nil {
		return report, fmt.Errorf("load device: %w", err)
	}
	billing, err := s.billingFor(ctx, device)
	if err != nil {
		return report, err
	}
	report.StartTier = billing.State().Tier.Level

	channelIDs, err := s.devices.LookupCircuitTypes(ctx, req.Channels)
	if err != nil {
		return report, fmt.Errorf("lookup circuit types: %w", err)
	}
	use := req.EnergyUse
	if use == 0 {
		use = datagen.EnergyNormal
	}
	profiles, err := s.opts.Profiles.Prepare(req.Channels, channelIDs, use)
	if err != nil {
		return report, err
	}

	genReq := datagen.Request{
		Serial:     req.Serial,
		Start:      req.Start,
		Stop:       req.Stop,
		Resolution: req.Resolution,
		Channels:   profiles,
	}
	logger.Info().Time("start", req.Start).Time("stop", req.Stop).
		Dur("resolution", req.Resolution).
		Str("energy_use", use.String()).
		Int64("ticks", genReq.Ticks()).
		Bool("dry_run", req.DryRun).
		Msg("generation started")

	buffer := tsdb.NewBuffer(s.writer, s.opts.BatchSize, logger)
	generator := datagen.NewGenerator(datagen.NewWalker(s.opts.Seed), billing)
	summary, err := generator.Run(ctx, genReq, buffer)
	report.Points = buffer.Written()
	if err != nil {
		return report, fmt.Errorf("generate: %w", err)
	}
	if err := buffer.Flush(ctx); err != nil {
		report.Points = buffer.Written()
		return report, fmt.Errorf("flush samples: %w", err)
	}
	report.Points = buffer.Written()
	report.TierSamples = summary.TierSamples
	report.Escalations = summary.Escalations
	report.Final = summary.Final

	if !req.DryRun {
		commit := storage.BillingCommit{
			Serial:     req.Serial,
			MonthlyKWh: summary.Final.MonthlyKWh,
			DailyKWh:   summary.Final.DailyKWh,
			FromLevel:  report.StartTier,
			TierLevel:  summary.Final.Tier.Level,
		}
		if err := s.devices.CommitBilling(ctx, commit); err != nil {
			return report, fmt.Errorf("commit billing: %w", err)
		}
		report.Committed = true
	}

	if !req.SkipReconcile {
		res, err := s.reconciler.Reconcile(ctx, req.Serial)
		if err != nil {
			return report, fmt.Errorf("reconcile rules: %w", err)
		}
		report.Reconciled = &res
	}

	s.notifyEscalations(ctx, logger, report)

	logger.Info().Int64("points", report.Points).
		Int("escalations", len(report.Escalations)).
		Int("tier", report.Final.Tier.Level).
		Float64("monthly_kwh", report.Final.MonthlyKWh).
		Msg("generation finished")
	return report, nil
}

// Reconcile rebuilds a device's rollup rules without generating points.
func (s *Seeder) Reconcile(ctx context.Context, serial int64) (rollup.Result, error) {
	if serial <= 0 {
		return rollup.Result{}, fmt.Errorf("%w: serial must be positive", datagen.ErrInvalidRequest)
	}
	return s.reconciler.Reconcile(ctx, serial)
}

func (s *Seeder) billingFor(ctx context.Context, device storage.Device) (*datagen.Accumulator, error) {
	rows, err := s.devices.LoadTiers(ctx, device.RatePlanID)
	if err != nil {
		return nil, fmt.Errorf("load tiers: %w", err)
	}

	tiers := make([]datagen.Tier, 0, len(rows))
	for _, row := range rows {
		tiers = append(tiers, datagen.Tier{
			Level:                   row.Level,
			Rate:                    row.Rate,
			MaxPercentageOfBaseline: row.MaxPercentageOfBaseline,
		})
	}
	table := datagen.NewTierTable(tiers)

	current, ok := table[device.CurrentTierLevel]
	if !ok {
		return nil, fmt.Errorf("%w: device %d is on tier %d which rate plan %d does not define",
			datagen.ErrConfiguration, device.Serial, device.CurrentTierLevel, device.RatePlanID)
	}

	state := datagen.BillingState{
		MonthlyKWh: device.MonthlyKWh,
		DailyKWh:   device.DailyKWh,
		Tier:       current,
	}
	territory := datagen.Territory{
		SummerStart: device.Territory.SummerStart,
		WinterStart: device.Territory.WinterStart,
		SummerRate:  device.Territory.SummerRate,
		WinterRate:  device.Territory.WinterRate,
	}
	return datagen.NewAccumulator(state, table, territory), nil
}

func (s *Seeder) notifyEscalations(ctx context.Context, logger zerolog.Logger, report Report) {
	if !s.opts.AlertsOn || s.notifier == nil {
		return
	}
	for _, esc := range report.Escalations {
		note := alerting.Notification{
			Serial:       report.Serial,
			At:           esc.Time,
			FromLevel:    esc.From.Level,
			ToLevel:      esc.To.Level,
			Rate:         esc.To.Rate,
			MonthlyKWh:   esc.MonthlyKWh,
			ThresholdKWh: esc.Threshold,
			RunID:        report.RunID,
			Channels:     s.opts.Channels,
		}
		if err := s.notifier.Notify(ctx, note); err != nil {
			logger.Error().Err(err).Time("at", esc.Time).Msg("failed to dispatch escalation notice")
		}
	}
}

func (s *Seeder) acquireLock(ctx context.Context, serial int64) (func(), error) {
	if s.opts.LockNamespace == 0 || s.locker == nil {
		return nil, nil
	}
	unlock, acquired, err := s.locker.TryAdvisoryLock(ctx, LockKey(s.opts.LockNamespace, serial))
	if err != nil {
		return nil, fmt.Errorf("acquire advisory lock: %w", err)
	}
	if !acquired {
		return nil, fmt.Errorf("%w: serial %d", ErrDeviceBusy, serial)
	}
	return unlock, nil
}

// LockKey packs the namespace into the high 32 bits and the serial into the low 32 bits.
// Serials are validated to fit in 32 bits, so distinct devices never share a key.
func LockKey(namespace, serial int64) int64 {
	return namespace<<32 | (serial & 0xffffffff)
}
