package rollup

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"
)

// Installed is a rule as the store reports it.
type Installed struct {
	Name       string
	Definition string
}

// Store is the rule registry of the time-series store.
type Store interface {
	ListRules(ctx context.Context) ([]Installed, error)
	DropRule(ctx context.Context, name string) error
	CreateRule(ctx context.Context, rule Rule) error
}

// Reconciler replaces a device's rules with the standard set.
type Reconciler struct {
	store  Store
	logger zerolog.Logger
}

// NewReconciler binds a reconciler to a rule store.
func NewReconciler(store Store, logger zerolog.Logger) *Reconciler {
	return &Reconciler{store: store, logger: logger.With().Str("component", "reconciler").Logger()}
}

// Result lists what a reconciliation changed.
type Result struct {
	Dropped   []string
	Installed []string
}

// Reconcile drops every rule that references the device namespace and installs the
// standard set. It stops at the first store error; running it again converges because
// rule names are deterministic.
func (r *Reconciler) Reconcile(ctx context.Context, serial int64) (Result, error) {
	rules, err := Standard(serial)
	if err != nil {
		return Result{}, err
	}

	existing, err := r.store.ListRules(ctx)
	if err != nil {
		return Result{}, fmt.Errorf("list rules: %w", err)
	}

	var res Result
	for _, rule := range existing {
		if !References(rule.Definition, serial) {
			continue
		}
		if err := r.store.DropRule(ctx, rule.Name); err != nil {
			return res, fmt.Errorf("drop rule %s: %w", rule.Name, err)
		}
		res.Dropped = append(res.Dropped, rule.Name)
	}

	for _, rule := range rules {
		if err := r.store.CreateRule(ctx, rule); err != nil {
			return res, fmt.Errorf("create rule %s: %w", rule.Name(), err)
		}
		res.Installed = append(res.Installed, rule.Name())
	}

	r.logger.Info().Int64("serial", serial).
		Int("dropped", len(res.Dropped)).
		Int("installed", len(res.Installed)).
		Msg("rollup rules reconciled")
	return res, nil
}
