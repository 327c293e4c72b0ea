package ledger

import (
	"context"
	"log/slog"
	"time"
)

// Sweeper periodically reclaims reservations held past the TTL,
// restoring balance and marking them expired (spec.md §4.5 Expire).
// It owns its own goroutine with explicit shutdown via context
// cancellation, matching spec.md §9's redesign note against global
// singletons for background tasks.
type Sweeper struct {
	ledger   *TokenLedger
	ttl      time.Duration
	interval time.Duration
	log      *slog.Logger
}

func NewSweeper(ledger *TokenLedger, ttl, interval time.Duration, log *slog.Logger) *Sweeper {
	if log == nil {
		log = slog.Default()
	}
	return &Sweeper{ledger: ledger, ttl: ttl, interval: interval, log: log}
}

// Run blocks until ctx is cancelled, sweeping at each tick. Errors are
// logged and the sweeper continues (spec.md §7's propagation policy for
// background tasks).
func (s *Sweeper) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			expired, err := s.ledger.ExpireSweep(ctx, s.ttl)
			if err != nil {
				s.log.ErrorContext(ctx, "ledger sweep failed", "error", err)
				continue
			}
			if len(expired) > 0 {
				s.log.InfoContext(ctx, "ledger reservations expired", "count", len(expired))
			}
		}
	}
}
