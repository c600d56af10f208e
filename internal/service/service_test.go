package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"meterseed/internal/alerting"
	"meterseed/internal/datagen"
	"meterseed/internal/storage"
	"meterseed/internal/tsdb"
)

type fakeRepo struct {
	device   storage.Device
	tiers    []storage.Tier
	circuits map[string]string
	commits  []storage.BillingCommit
	calls    int
	locked   bool
	lockKeys []int64
}

func (f *fakeRepo) LoadDevice(ctx context.Context, serial int64) (storage.Device, error) {
	f.calls++
	if serial != f.device.Serial {
		return storage.Device{}, storage.ErrDeviceNotFound
	}
	return f.device, nil
}

func (f *fakeRepo) LoadTiers(ctx context.Context, ratePlanID int64) ([]storage.Tier, error) {
	f.calls++
	return f.tiers, nil
}

func (f *fakeRepo) LookupCircuitTypes(ctx context.Context, names []string) (map[string]string, error) {
	f.calls++
	out := make(map[string]string)
	for _, n := range names {
		if id, ok := f.circuits[n]; ok {
			out[n] = id
		}
	}
	return out, nil
}

func (f *fakeRepo) CommitBilling(ctx context.Context, commit storage.BillingCommit) error {
	f.calls++
	f.commits = append(f.commits, commit)
	return nil
}

func (f *fakeRepo) TryAdvisoryLock(ctx context.Context, key int64) (func(), bool, error) {
	f.lockKeys = append(f.lockKeys, key)
	if f.locked {
		return nil, false, nil
	}
	return func() {}, true, nil
}

type recordingNotifier struct {
	notes []alerting.Notification
}

func (r *recordingNotifier) Notify(ctx context.Context, n alerting.Notification) error {
	r.notes = append(r.notes, n)
	return nil
}

func pct(v float64) *float64 { return &v }

func newRepo() *fakeRepo {
	return &fakeRepo{
		device: storage.Device{
			Serial:           7,
			RatePlanID:       1,
			CurrentTierLevel: 1,
			Territory: storage.Territory{
				SummerStart: time.June,
				WinterStart: time.November,
				SummerRate:  0.01,
				WinterRate:  0.01,
			},
		},
		tiers: []storage.Tier{
			{Level: 1, Rate: decimal.RequireFromString("0.10"), MaxPercentageOfBaseline: pct(100)},
			{Level: 2, Rate: decimal.RequireFromString("0.20")},
		},
		circuits: map[string]string{"Kitchen": "2", "Bedroom": "1"},
	}
}

func newSeeder(repo *fakeRepo, series tsdb.Store, notifier alerting.Notifier) *Seeder {
	opts := Options{Seed: 42, BatchSize: 2, LockNamespace: 0x6d657465, AlertsOn: true}
	return New(opts, repo, series, notifier, zerolog.Nop())
}

func kitchenRequest() Request {
	start := time.Date(2024, 7, 1, 0, 0, 0, 0, time.UTC)
	return Request{
		Serial:     7,
		Channels:   []string{"Kitchen"},
		Start:      start,
		Stop:       start.Add(3 * time.Hour),
		Resolution: time.Hour,
		EnergyUse:  datagen.EnergyNormal,
	}
}

func TestGenerateEscalatesAndCommits(t *testing.T) {
	repo := newRepo()
	series := tsdb.NewMemory()
	notifier := &recordingNotifier{}
	seeder := newSeeder(repo, series, notifier)

	req := kitchenRequest()
	report, err := seeder.Generate(context.Background(), req)
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}

	if report.Points != 3 {
		t.Fatalf("expected 3 points, got %d", report.Points)
	}
	if report.Message() != "Added 3 points successfully" {
		t.Fatalf("unexpected message %q", report.Message())
	}
	if len(report.Escalations) != 1 || report.Final.Tier.Level != 2 {
		t.Fatalf("expected a single escalation to tier 2, got %d (tier %d)", len(report.Escalations), report.Final.Tier.Level)
	}
	if len(repo.commits) != 1 {
		t.Fatalf("expected one commit, got %d", len(repo.commits))
	}
	commit := repo.commits[0]
	if commit.FromLevel != 1 || commit.TierLevel != 2 || commit.MonthlyKWh != report.Final.MonthlyKWh {
		t.Fatalf("unexpected commit %#v", commit)
	}
	if len(repo.lockKeys) != 1 || repo.lockKeys[0] != LockKey(0x6d657465, 7) {
		t.Fatalf("unexpected lock keys %v", repo.lockKeys)
	}

	points, _ := series.ListPoints(context.Background(), 7, req.Start, req.Stop)
	if len(points) != 3 {
		t.Fatalf("expected 3 stored points, got %d", len(points))
	}
	tiers, _ := series.ListTierSamples(context.Background(), 7, 0)
	if len(tiers) != 2 || tiers[0].Level != 2 || tiers[1].Level != 1 {
		t.Fatalf("unexpected tier samples %#v", tiers)
	}
	rules, _ := series.ListRules(context.Background())
	if len(rules) != 9 || report.Reconciled == nil {
		t.Fatalf("expected 9 installed rules, got %d", len(rules))
	}
	if len(notifier.notes) != 1 || notifier.notes[0].ToLevel != 2 || notifier.notes[0].RunID != report.RunID {
		t.Fatalf("unexpected notifications %#v", notifier.notes)
	}
}

func TestGenerateMissingNextTierDoesNotCommit(t *testing.T) {
	repo := newRepo()
	repo.tiers = repo.tiers[:1]
	seeder := newSeeder(repo, tsdb.NewMemory(), nil)

	_, err := seeder.Generate(context.Background(), kitchenRequest())
	if !errors.Is(err, datagen.ErrConfiguration) {
		t.Fatalf("expected configuration error, got %v", err)
	}
	if tsdb.IsRetryable(err) {
		t.Fatal("configuration errors are not retryable")
	}
	if len(repo.commits) != 0 {
		t.Fatal("billing must not be committed after a configuration error")
	}
}

func TestGenerateUnknownCurrentTier(t *testing.T) {
	repo := newRepo()
	repo.device.CurrentTierLevel = 5
	seeder := newSeeder(repo, tsdb.NewMemory(), nil)

	if _, err := seeder.Generate(context.Background(), kitchenRequest()); !errors.Is(err, datagen.ErrConfiguration) {
		t.Fatalf("expected configuration error, got %v", err)
	}
}

func TestGenerateUnknownCircuitType(t *testing.T) {
	repo := newRepo()
	seeder := newSeeder(repo, tsdb.NewMemory(), nil)

	req := kitchenRequest()
	req.Channels = []string{"Garage"}
	if _, err := seeder.Generate(context.Background(), req); !errors.Is(err, datagen.ErrConfiguration) {
		t.Fatalf("expected configuration error, got %v", err)
	}
}

func TestGenerateDryRunSkipsCommitAndLock(t *testing.T) {
	repo := newRepo()
	repo.locked = true
	seeder := newSeeder(repo, tsdb.NewMemory(), nil)

	req := kitchenRequest()
	req.DryRun = true
	req.SkipReconcile = true
	report, err := seeder.Generate(context.Background(), req)
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if report.Committed || len(repo.commits) != 0 {
		t.Fatal("dry run must not commit")
	}
	if report.Reconciled != nil {
		t.Fatal("reconcile should be skipped")
	}
	if len(repo.lockKeys) != 0 {
		t.Fatal("dry run should not take the device lock")
	}
}

func TestGenerateDeviceBusy(t *testing.T) {
	repo := newRepo()
	repo.locked = true
	seeder := newSeeder(repo, tsdb.NewMemory(), nil)

	if _, err := seeder.Generate(context.Background(), kitchenRequest()); !errors.Is(err, ErrDeviceBusy) {
		t.Fatalf("expected ErrDeviceBusy, got %v", err)
	}
	if repo.calls != 0 {
		t.Fatal("no device reads should happen without the lock")
	}
}

func TestGenerateRejectsInvalidRequestBeforeStoreCalls(t *testing.T) {
	cases := map[string]func(*Request){
		"reversed window":     func(r *Request) { r.Start, r.Stop = r.Stop, r.Start },
		"zero resolution":     func(r *Request) { r.Resolution = 0 },
		"sub-second":          func(r *Request) { r.Resolution = 1500 * time.Millisecond },
		"no channels":         func(r *Request) { r.Channels = nil },
		"bad energy use":      func(r *Request) { r.EnergyUse = 9 },
		"non-positive serial": func(r *Request) { r.Serial = 0 },
		"serial past 32 bits": func(r *Request) { r.Serial = 1<<32 + 7 },
		"repeated channel":    func(r *Request) { r.Channels = []string{"Kitchen", " kitchen"} },
		"blank channel":       func(r *Request) { r.Channels = []string{"Kitchen", "  "} },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			repo := newRepo()
			seeder := newSeeder(repo, tsdb.NewMemory(), nil)
			req := kitchenRequest()
			mutate(&req)
			_, err := seeder.Generate(context.Background(), req)
			if !errors.Is(err, datagen.ErrInvalidRequest) {
				t.Fatalf("expected invalid request, got %v", err)
			}
			if repo.calls != 0 || len(repo.lockKeys) != 0 {
				t.Fatal("invalid requests must not reach the stores")
			}
		})
	}
}

func TestReconcileIsIdempotent(t *testing.T) {
	series := tsdb.NewMemory()
	seeder := newSeeder(newRepo(), series, nil)

	first, err := seeder.Reconcile(context.Background(), 7)
	if err != nil {
		t.Fatalf("Reconcile: %v", err)
	}
	second, err := seeder.Reconcile(context.Background(), 7)
	if err != nil {
		t.Fatalf("Reconcile: %v", err)
	}
	if len(first.Dropped) != 0 || len(second.Dropped) != 9 || len(second.Installed) != 9 {
		t.Fatalf("unexpected results %#v / %#v", first, second)
	}
	rules, _ := series.ListRules(context.Background())
	if len(rules) != 9 {
		t.Fatalf("expected 9 rules after re-run, got %d", len(rules))
	}
}

func TestLockKey(t *testing.T) {
	if got := LockKey(1, 2); got != 1<<32|2 {
		t.Fatalf("unexpected key %d", got)
	}
}
