package tsdb

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"

	"meterseed/internal/datagen"
	"meterseed/internal/rollup"
)

// ErrStore wraps every failure reported by the remote time-series store.
var ErrStore = errors.New("tsdb: store operation failed")

// ErrPublish marks a batch that was persisted but could not be forwarded downstream.
var ErrPublish = fmt.Errorf("%w: persisted batch not published", ErrStore)

// Writer appends samples to device series.
type Writer interface {
	WritePoints(ctx context.Context, points []datagen.Point) error
	WriteTierSamples(ctx context.Context, samples []datagen.TierSample) error
}

// Reader lists samples back for inspection and export.
type Reader interface {
	ListPoints(ctx context.Context, serial int64, from, to time.Time) ([]datagen.Point, error)
	ListTierSamples(ctx context.Context, serial int64, limit int) ([]datagen.TierSample, error)
}

// Store is the full surface used by the seeder and the CLI.
type Store interface {
	Writer
	Reader
	rollup.Store
	Close()
}

// IsRetryable reports whether err came from the store and may succeed on a re-run:
// store failures, deadlines and network errors. Configuration errors never are.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, datagen.ErrConfiguration) || errors.Is(err, datagen.ErrInvalidRequest) {
		return false
	}
	if errors.Is(err, ErrStore) || errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr)
}
