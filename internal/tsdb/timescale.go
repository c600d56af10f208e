package tsdb

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"meterseed/internal/datagen"
	"meterseed/internal/rollup"
)

const (
	insertPointsSQL = `INSERT INTO power_points (time, serial, circuit_pk, wattage, cost)
    SELECT * FROM unnest(
        $1::timestamptz[],
        $2::bigint[],
        $3::text[],
        $4::float8[],
        $5::text[]::numeric[]
    )
    ON CONFLICT (serial, circuit_pk, time) DO NOTHING;`

	insertTierSamplesSQL = `INSERT INTO tier_points (time, serial, level)
    SELECT * FROM unnest($1::timestamptz[], $2::bigint[], $3::int[])
    ON CONFLICT (serial, time, level) DO NOTHING;`

	listPointsSQL = `SELECT time, serial, circuit_pk, wattage, cost::text
    FROM power_points
    WHERE serial = $1
      AND time >= $2
      AND time < $3
    ORDER BY time, circuit_pk;`

	listTierSamplesSQL = `SELECT time, serial, level
    FROM tier_points
    WHERE serial = $1
    ORDER BY time DESC, level DESC
    LIMIT $2;`

	listRulesSQL = `SELECT name, definition FROM rollup_rules ORDER BY name;`

	lockRuleSQL = `SELECT kind FROM rollup_rules WHERE name = $1 FOR UPDATE;`

	deleteRuleSQL = `DELETE FROM rollup_rules WHERE name = $1;`

	upsertRuleSQL = `INSERT INTO rollup_rules (name, kind, serial, definition)
    VALUES ($1, $2, $3, $4)
    ON CONFLICT (name) DO UPDATE
    SET kind       = EXCLUDED.kind,
        serial     = EXCLUDED.serial,
        definition = EXCLUDED.definition,
        created_at = now();`

	addPolicySQL = `SELECT add_continuous_aggregate_policy($1::text::regclass,
        start_offset      => NULL,
        end_offset        => NULL,
        schedule_interval => $2::interval,
        if_not_exists     => true);`
)

// Timescale stores series in TimescaleDB hypertables and materializes rollups as
// continuous aggregates. Rule definitions are tracked in rollup_rules.
type Timescale struct {
	pool    *pgxpool.Pool
	timeout time.Duration
	logger  zerolog.Logger
}

// NewTimescale wraps a pool. Every call runs under timeout.
func NewTimescale(pool *pgxpool.Pool, timeout time.Duration, logger zerolog.Logger) *Timescale {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Timescale{pool: pool, timeout: timeout, logger: logger.With().Str("component", "timescale").Logger()}
}

// Close releases the pool.
func (t *Timescale) Close() {
	if t == nil || t.pool == nil {
		return
	}
	t.pool.Close()
}

func (t *Timescale) deadline(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, t.timeout)
}

// WritePoints inserts a batch in one statement. Points already present are left untouched,
// so a retried flush does not duplicate samples.
func (t *Timescale) WritePoints(ctx context.Context, points []datagen.Point) error {
	if len(points) == 0 {
		return nil
	}
	times := make([]time.Time, len(points))
	serials := make([]int64, len(points))
	circuits := make([]string, len(points))
	wattages := make([]float64, len(points))
	costs := make([]string, len(points))
	for i, p := range points {
		times[i] = p.Time.UTC()
		serials[i] = p.Serial
		circuits[i] = p.ChannelID
		wattages[i] = p.Wattage
		costs[i] = p.Cost.String()
	}

	ctx, cancel := t.deadline(ctx)
	defer cancel()
	if _, err := t.pool.Exec(ctx, insertPointsSQL, times, serials, circuits, wattages, costs); err != nil {
		return fmt.Errorf("%w: write points: %w", ErrStore, err)
	}
	return nil
}

// WriteTierSamples inserts tier samples.
func (t *Timescale) WriteTierSamples(ctx context.Context, samples []datagen.TierSample) error {
	if len(samples) == 0 {
		return nil
	}
	times := make([]time.Time, len(samples))
	serials := make([]int64, len(samples))
	levels := make([]int32, len(samples))
	for i, s := range samples {
		times[i] = s.Time.UTC()
		serials[i] = s.Serial
		levels[i] = int32(s.Level)
	}

	ctx, cancel := t.deadline(ctx)
	defer cancel()
	if _, err := t.pool.Exec(ctx, insertTierSamplesSQL, times, serials, levels); err != nil {
		return fmt.Errorf("%w: write tier samples: %w", ErrStore, err)
	}
	return nil
}

// ListPoints reads a device's raw series.
func (t *Timescale) ListPoints(ctx context.Context, serial int64, from, to time.Time) ([]datagen.Point, error) {
	ctx, cancel := t.deadline(ctx)
	defer cancel()

	rows, err := t.pool.Query(ctx, listPointsSQL, serial, from, to)
	if err != nil {
		return nil, fmt.Errorf("%w: list points: %w", ErrStore, err)
	}
	defer rows.Close()

	points := make([]datagen.Point, 0)
	for rows.Next() {
		var (
			p       datagen.Point
			costStr string
		)
		if err := rows.Scan(&p.Time, &p.Serial, &p.ChannelID, &p.Wattage, &costStr); err != nil {
			return nil, fmt.Errorf("%w: scan point: %w", ErrStore, err)
		}
		p.Cost, err = decimal.NewFromString(costStr)
		if err != nil {
			return nil, fmt.Errorf("parse cost: %w", err)
		}
		points = append(points, p)
	}
	if rows.Err() != nil {
		return nil, fmt.Errorf("%w: list points: %w", ErrStore, rows.Err())
	}
	return points, nil
}

// ListTierSamples reads the latest tier samples, newest first.
func (t *Timescale) ListTierSamples(ctx context.Context, serial int64, limit int) ([]datagen.TierSample, error) {
	ctx, cancel := t.deadline(ctx)
	defer cancel()

	rows, err := t.pool.Query(ctx, listTierSamplesSQL, serial, limit)
	if err != nil {
		return nil, fmt.Errorf("%w: list tier samples: %w", ErrStore, err)
	}
	defer rows.Close()

	samples := make([]datagen.TierSample, 0, limit)
	for rows.Next() {
		var s datagen.TierSample
		if err := rows.Scan(&s.Time, &s.Serial, &s.Level); err != nil {
			return nil, fmt.Errorf("%w: scan tier sample: %w", ErrStore, err)
		}
		samples = append(samples, s)
	}
	if rows.Err() != nil {
		return nil, fmt.Errorf("%w: list tier samples: %w", ErrStore, rows.Err())
	}
	return samples, nil
}

// ListRules returns the registered rule definitions.
func (t *Timescale) ListRules(ctx context.Context) ([]rollup.Installed, error) {
	ctx, cancel := t.deadline(ctx)
	defer cancel()

	rows, err := t.pool.Query(ctx, listRulesSQL)
	if err != nil {
		return nil, fmt.Errorf("%w: list rules: %w", ErrStore, err)
	}
	defer rows.Close()

	rules := make([]rollup.Installed, 0)
	for rows.Next() {
		var r rollup.Installed
		if err := rows.Scan(&r.Name, &r.Definition); err != nil {
			return nil, fmt.Errorf("%w: scan rule: %w", ErrStore, err)
		}
		rules = append(rules, r)
	}
	if rows.Err() != nil {
		return nil, fmt.Errorf("%w: list rules: %w", ErrStore, rows.Err())
	}
	return rules, nil
}

// DropRule removes the view behind a rule and its registry row. Unknown names are ignored.
func (t *Timescale) DropRule(ctx context.Context, name string) error {
	ctx, cancel := t.deadline(ctx)
	defer cancel()

	err := pgx.BeginFunc(ctx, t.pool, func(tx pgx.Tx) error {
		var kind string
		if err := tx.QueryRow(ctx, lockRuleSQL, name).Scan(&kind); err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return nil
			}
			return err
		}
		if _, err := tx.Exec(ctx, dropViewSQL(rollup.Kind(kind), name)); err != nil {
			return err
		}
		_, err := tx.Exec(ctx, deleteRuleSQL, name)
		return err
	})
	if err != nil {
		return fmt.Errorf("%w: drop rule %s: %w", ErrStore, name, err)
	}
	return nil
}

// CreateRule materializes the rule and registers its definition in one transaction.
func (t *Timescale) CreateRule(ctx context.Context, rule rollup.Rule) error {
	if err := rule.Validate(); err != nil {
		return err
	}
	ctx, cancel := t.deadline(ctx)
	defer cancel()

	name := rule.Name()
	err := pgx.BeginFunc(ctx, t.pool, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, dropViewSQL(rule.Kind, name)); err != nil {
			return err
		}
		if _, err := tx.Exec(ctx, createViewSQL(rule)); err != nil {
			return err
		}
		if rule.Kind != rollup.KindFanout {
			ident := pgx.Identifier{name}.Sanitize()
			if _, err := tx.Exec(ctx, addPolicySQL, ident, scheduleInterval(rule)); err != nil {
				return err
			}
		}
		_, err := tx.Exec(ctx, upsertRuleSQL, name, string(rule.Kind), rule.Serial, rule.Statement())
		return err
	})
	if err != nil {
		return fmt.Errorf("%w: create rule %s: %w", ErrStore, name, err)
	}
	t.logger.Debug().Str("rule", name).Msg("rule created")
	return nil
}

func dropViewSQL(kind rollup.Kind, name string) string {
	ident := pgx.Identifier{name}.Sanitize()
	if kind == rollup.KindFanout {
		return "DROP VIEW IF EXISTS " + ident + ";"
	}
	return "DROP MATERIALIZED VIEW IF EXISTS " + ident + ";"
}

// createViewSQL renders the DDL of a validated rule. Only the serial and a whitelisted
// interval reach the statement text.
func createViewSQL(rule rollup.Rule) string {
	ident := pgx.Identifier{rule.Name()}.Sanitize()
	serial := strconv.FormatInt(rule.Serial, 10)

	switch rule.Kind {
	case rollup.KindFanout:
		return "CREATE OR REPLACE VIEW " + ident + " AS" +
			" SELECT time, circuit_pk, wattage, cost FROM power_points" +
			" WHERE serial = " + serial + ";"
	case rollup.KindMean:
		return "CREATE MATERIALIZED VIEW " + ident + " WITH (timescaledb.continuous) AS" +
			" SELECT time_bucket(INTERVAL '" + rule.Granularity.Interval() + "', time) AS bucket," +
			" circuit_pk, avg(wattage) AS wattage" +
			" FROM power_points WHERE serial = " + serial +
			" GROUP BY bucket, circuit_pk WITH NO DATA;"
	default:
		return "CREATE MATERIALIZED VIEW " + ident + " WITH (timescaledb.continuous) AS" +
			" SELECT time_bucket(INTERVAL '1 day', time) AS bucket, sum(cost) AS cost" +
			" FROM power_points WHERE serial = " + serial +
			" GROUP BY bucket WITH NO DATA;"
	}
}

// scheduleInterval refreshes fine rollups every minute and coarse ones at most daily.
func scheduleInterval(rule rollup.Rule) string {
	switch rule.Granularity {
	case rollup.Second, rollup.Minute:
		return "1 minute"
	case rollup.Hour:
		return "1 hour"
	default:
		return "1 day"
	}
}

var _ Store = (*Timescale)(nil)
