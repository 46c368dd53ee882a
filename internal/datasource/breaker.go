package datasource

import (
	"context"
	"time"

	"github.com/linnemanlabs/go-core/log"
	"github.com/sony/gobreaker/v2"

	"github.com/linnemanlabs/fleetwatch/internal/compliance"
)

const (
	breakerTripAfter   = 5
	breakerOpenTimeout = 30 * time.Second
)

// BreakerSource wraps a source in a circuit breaker. Once a provider fails
// breakerTripAfter times in a row, fetches fail fast for breakerOpenTimeout
// instead of eating the per-category deadline every cycle.
type BreakerSource struct {
	inner   Source
	breaker *gobreaker.CircuitBreaker[*compliance.SnapshotEnvelope]
}

// WithBreaker wraps src. State transitions are logged at warn level.
func WithBreaker(src Source, logger log.Logger) *BreakerSource {
	if logger == nil {
		logger = log.Nop()
	}
	settings := gobreaker.Settings{
		Name:    string(src.Category()),
		Timeout: breakerOpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= breakerTripAfter
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn(context.Background(), "data source breaker state change",
				"category", name,
				"from", from.String(),
				"to", to.String(),
			)
		},
	}
	return &BreakerSource{
		inner:   src,
		breaker: gobreaker.NewCircuitBreaker[*compliance.SnapshotEnvelope](settings),
	}
}

func (b *BreakerSource) Category() compliance.Category { return b.inner.Category() }

// Fetch delegates to the wrapped source. An open breaker returns
// gobreaker.ErrOpenState immediately, which the scheduler treats like any
// other unavailable category.
func (b *BreakerSource) Fetch(ctx context.Context, vin, dotNumber string) (*compliance.SnapshotEnvelope, error) {
	return b.breaker.Execute(func() (*compliance.SnapshotEnvelope, error) {
		return b.inner.Fetch(ctx, vin, dotNumber)
	})
}
