package rollup

import (
	"context"
	"errors"
	"sort"
	"strings"
	"testing"

	"github.com/rs/zerolog"
)

func TestStatements(t *testing.T) {
	fanout, _ := Fanout(5)
	if got := fanout.Statement(); got != "select * from device.5 into device.5.[circuit_pk]" {
		t.Fatalf("unexpected fanout statement %q", got)
	}

	mean, _ := Mean(5, Hour)
	if got := mean.Statement(); got != "select mean(wattage) from /^device.5.*/ group by time(1h) into 1h.:series_name" {
		t.Fatalf("unexpected mean statement %q", got)
	}

	cost, _ := Cost(5)
	if got := cost.Statement(); got != `select sum(cost) from "device.5" into cost.device.5` {
		t.Fatalf("unexpected cost statement %q", got)
	}
}

func TestStandardOrderAndNames(t *testing.T) {
	rules, err := Standard(12)
	if err != nil {
		t.Fatalf("Standard: %v", err)
	}

	names := make([]string, 0, len(rules))
	for _, r := range rules {
		names = append(names, r.Name())
	}
	want := "device.12.circuit,1y.device.12,1M.device.12,1w.device.12,1d.device.12,1h.device.12,1m.device.12,1s.device.12,cost.device.12"
	if got := strings.Join(names, ","); got != want {
		t.Fatalf("unexpected rule order:\n got %s\nwant %s", got, want)
	}
}

func TestValidateRejectsBadInput(t *testing.T) {
	if _, err := Fanout(0); !errors.Is(err, ErrInvalidSerial) {
		t.Fatalf("expected ErrInvalidSerial, got %v", err)
	}
	if _, err := Mean(1, Granularity("5m")); !errors.Is(err, ErrInvalidGranularity) {
		t.Fatalf("expected ErrInvalidGranularity, got %v", err)
	}
	if err := (Rule{Kind: Kind("bogus"), Serial: 1}).Validate(); err == nil {
		t.Fatal("unknown kind should be rejected")
	}
}

func TestReferencesMatchesWholeSerial(t *testing.T) {
	one, _ := Standard(1)
	twelve, _ := Standard(12)

	for _, r := range one {
		if !References(r.Statement(), 1) {
			t.Fatalf("%s should reference device.1", r.Name())
		}
		if References(r.Statement(), 12) {
			t.Fatalf("%s should not reference device.12", r.Name())
		}
	}
	for _, r := range twelve {
		if References(r.Statement(), 1) {
			t.Fatalf("%s should not reference device.1", r.Name())
		}
	}
	if !References("select * from device.1", 1) {
		t.Fatal("namespace at end of text should match")
	}
}

type memStore struct {
	rules   map[string]string
	failOn  string
	dropped []string
}

func (m *memStore) ListRules(ctx context.Context) ([]Installed, error) {
	out := make([]Installed, 0, len(m.rules))
	for name, def := range m.rules {
		out = append(out, Installed{Name: name, Definition: def})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (m *memStore) DropRule(ctx context.Context, name string) error {
	m.dropped = append(m.dropped, name)
	delete(m.rules, name)
	return nil
}

func (m *memStore) CreateRule(ctx context.Context, rule Rule) error {
	if rule.Name() == m.failOn {
		return errors.New("store unavailable")
	}
	m.rules[rule.Name()] = rule.Statement()
	return nil
}

func TestReconcileDropsOnlyOwnRules(t *testing.T) {
	store := &memStore{rules: map[string]string{
		"legacy.device.3":  "select * from device.3 into legacy",
		"1h.device.30":     "select mean(wattage) from /^device.30.*/ group by time(1h) into 1h.:series_name",
		"unrelated.series": "select * from weather",
	}}
	rec := NewReconciler(store, zerolog.Nop())

	res, err := rec.Reconcile(context.Background(), 3)
	if err != nil {
		t.Fatalf("Reconcile: %v", err)
	}
	if strings.Join(res.Dropped, ",") != "legacy.device.3" {
		t.Fatalf("unexpected drops %v", res.Dropped)
	}
	if len(res.Installed) != 9 {
		t.Fatalf("expected 9 installed rules, got %d", len(res.Installed))
	}
	if _, ok := store.rules["1h.device.30"]; !ok {
		t.Fatal("rules of device 30 must survive")
	}
	if _, ok := store.rules["unrelated.series"]; !ok {
		t.Fatal("unrelated rules must survive")
	}
}

func TestReconcileIdempotent(t *testing.T) {
	store := &memStore{rules: map[string]string{}}
	rec := NewReconciler(store, zerolog.Nop())

	if _, err := rec.Reconcile(context.Background(), 4); err != nil {
		t.Fatalf("first Reconcile: %v", err)
	}
	first, _ := store.ListRules(context.Background())
	if _, err := rec.Reconcile(context.Background(), 4); err != nil {
		t.Fatalf("second Reconcile: %v", err)
	}
	second, _ := store.ListRules(context.Background())

	if len(first) != len(second) {
		t.Fatalf("rule count changed: %d -> %d", len(first), len(second))
	}
	for i := range first {
		if first[i] != second[i] {
			t.Fatalf("rule %d changed: %#v -> %#v", i, first[i], second[i])
		}
	}
}

func TestReconcileStopsAtFirstError(t *testing.T) {
	store := &memStore{rules: map[string]string{}, failOn: "1w.device.2"}
	rec := NewReconciler(store, zerolog.Nop())

	res, err := rec.Reconcile(context.Background(), 2)
	if err == nil {
		t.Fatal("expected error")
	}
	if strings.Join(res.Installed, ",") != "device.2.circuit,1y.device.2,1M.device.2" {
		t.Fatalf("unexpected partial install %v", res.Installed)
	}
}
