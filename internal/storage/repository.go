package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
)

var (
	// ErrNotConfigured indicates the storage pool was not initialised.
	ErrNotConfigured = errors.New("storage: pool not configured")
	// ErrDeviceNotFound is returned when no device (or no settings row) matches a serial.
	ErrDeviceNotFound = errors.New("storage: device not found")
	// ErrTierConflict is returned when the device tier changed after it was loaded.
	ErrTierConflict = errors.New("storage: device tier changed concurrently")
)

const (
	loadDeviceSQL = `SELECT
        d.serial,
        d.name,
        d.kilowatt_hours_monthly,
        d.kilowatt_hours_daily,
        s.rate_plan_id,
        t.tier_level,
        tr.summer_start,
        tr.winter_start,
        tr.summer_rate,
        tr.winter_rate
    FROM devices d
    JOIN device_settings s ON s.serial = d.serial
    JOIN tiers t ON t.id = s.current_tier_id
    JOIN territories tr ON tr.id = s.territory_id
    WHERE d.serial = $1;`

	listTiersSQL = `SELECT
        tier_level,
        rate::text,
        max_percentage_of_baseline
    FROM tiers
    WHERE rate_plan_id = $1
    ORDER BY tier_level;`

	lookupCircuitTypesSQL = `SELECT name, id FROM circuit_types WHERE lower(name) = ANY($1);`

	updateDeviceEnergySQL = `UPDATE devices
    SET kilowatt_hours_monthly = $2,
        kilowatt_hours_daily   = $3
    WHERE serial = $1;`

	updateDeviceTierSQL = `UPDATE device_settings s
    SET current_tier_id = next.id
    FROM tiers next, tiers cur
    WHERE s.serial = $1
      AND next.rate_plan_id = s.rate_plan_id
      AND next.tier_level = $3
      AND cur.id = s.current_tier_id
      AND cur.tier_level = $2;`

	tryAdvisoryLockSQL = `SELECT pg_try_advisory_lock($1);`
	advisoryUnlockSQL  = `SELECT pg_advisory_unlock($1);`
)

// AdvisoryLocker exposes advisory lock helpers.
type AdvisoryLocker interface {
	TryAdvisoryLock(ctx context.Context, key int64) (unlock func(), acquired bool, err error)
}

// Store reads device billing metadata and writes back run results.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore wires a pgx pool into a Store.
func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// Close releases the underlying pool resources.
func (s *Store) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

func (s *Store) getPool() (*pgxpool.Pool, error) {
	if s == nil || s.pool == nil {
		return nil, ErrNotConfigured
	}
	return s.pool, nil
}

// TryAdvisoryLock attempts to acquire a postgres advisory lock and returns a release func.
func (s *Store) TryAdvisoryLock(ctx context.Context, key int64) (func(), bool, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, false, err
	}

	conn, err := pool.Acquire(ctx)
	if err != nil {
		return nil, false, fmt.Errorf("acquire connection: %w", err)
	}

	var acquired bool
	if err := conn.QueryRow(ctx, tryAdvisoryLockSQL, key).Scan(&acquired); err != nil {
		conn.Release()
		return nil, false, fmt.Errorf("try advisory lock: %w", err)
	}
	if !acquired {
		conn.Release()
		return nil, false, nil
	}

	unlock := func() {
		ctxUnlock, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		// a failed unlock is released with the session when the connection closes
		_, _ = conn.Exec(ctxUnlock, advisoryUnlockSQL, key)
		conn.Release()
	}
	return unlock, true, nil
}

// LoadDevice reads a device with its current tier level and territory.
func (s *Store) LoadDevice(ctx context.Context, serial int64) (Device, error) {
	pool, err := s.getPool()
	if err != nil {
		return Device{}, err
	}

	var (
		d           Device
		summerStart int16
		winterStart int16
	)
	scanErr := pool.QueryRow(ctx, loadDeviceSQL, serial).Scan(
		&d.Serial,
		&d.Name,
		&d.MonthlyKWh,
		&d.DailyKWh,
		&d.RatePlanID,
		&d.CurrentTierLevel,
		&summerStart,
		&winterStart,
		&d.Territory.SummerRate,
		&d.Territory.WinterRate,
	)
	if scanErr != nil {
		if errors.Is(scanErr, pgx.ErrNoRows) {
			return Device{}, fmt.Errorf("%w: serial %d", ErrDeviceNotFound, serial)
		}
		return Device{}, fmt.Errorf("load device: %w", scanErr)
	}
	d.Territory.SummerStart = time.Month(summerStart)
	d.Territory.WinterStart = time.Month(winterStart)
	return d, nil
}

// LoadTiers lists every tier of a rate plan ordered by level.
func (s *Store) LoadTiers(ctx context.Context, ratePlanID int64) ([]Tier, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	rows, queryErr := pool.Query(ctx, listTiersSQL, ratePlanID)
	if queryErr != nil {
		return nil, fmt.Errorf("list tiers: %w", queryErr)
	}
	defer rows.Close()

	tiers := make([]Tier, 0)
	for rows.Next() {
		var (
			t       Tier
			rateStr string
			maxPct  sql.NullFloat64
		)
		if err := rows.Scan(&t.Level, &rateStr, &maxPct); err != nil {
			return nil, err
		}
		rate, convErr := decimal.NewFromString(rateStr)
		if convErr != nil {
			return nil, fmt.Errorf("parse tier rate: %w", convErr)
		}
		t.Rate = rate
		if maxPct.Valid {
			value := maxPct.Float64
			t.MaxPercentageOfBaseline = &value
		}
		tiers = append(tiers, t)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return tiers, nil
}

// LookupCircuitTypes maps each requested circuit type name to its primary key.
// Names are matched case-insensitively; unknown names are absent from the result.
func (s *Store) LookupCircuitTypes(ctx context.Context, names []string) (map[string]string, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	wanted := make(map[string][]string, len(names))
	lowered := make([]string, 0, len(names))
	for _, name := range names {
		key := strings.ToLower(strings.TrimSpace(name))
		if _, seen := wanted[key]; !seen {
			lowered = append(lowered, key)
		}
		wanted[key] = append(wanted[key], name)
	}

	rows, queryErr := pool.Query(ctx, lookupCircuitTypesSQL, lowered)
	if queryErr != nil {
		return nil, fmt.Errorf("lookup circuit types: %w", queryErr)
	}
	defer rows.Close()

	ids := make(map[string]string, len(names))
	for rows.Next() {
		var (
			name string
			id   int64
		)
		if err := rows.Scan(&name, &id); err != nil {
			return nil, err
		}
		for _, requested := range wanted[strings.ToLower(name)] {
			ids[requested] = fmt.Sprint(id)
		}
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return ids, nil
}

// CommitBilling writes energy totals and the tier in one transaction.
func (s *Store) CommitBilling(ctx context.Context, commit BillingCommit) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}

	txErr := pgx.BeginFunc(ctx, pool, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx, updateDeviceEnergySQL, commit.Serial, commit.MonthlyKWh, commit.DailyKWh)
		if err != nil {
			return err
		}
		if tag.RowsAffected() == 0 {
			return fmt.Errorf("%w: serial %d", ErrDeviceNotFound, commit.Serial)
		}

		tag, err = tx.Exec(ctx, updateDeviceTierSQL, commit.Serial, commit.FromLevel, commit.TierLevel)
		if err != nil {
			return err
		}
		if tag.RowsAffected() == 0 {
			return fmt.Errorf("%w: serial %d expected level %d", ErrTierConflict, commit.Serial, commit.FromLevel)
		}
		return nil
	})
	if txErr != nil {
		return fmt.Errorf("commit billing: %w", txErr)
	}
	return nil
}
