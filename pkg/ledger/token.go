// Package ledger also implements the Token Ledger's reserve/settle/refund
// state machine (spec.md §4.5) on top of an Accounts storage adapter.
// Cost and balance are both expressed in the same abstract unit the
// caller's pricePerToken maps onto (typically USD, or raw tokens when
// pricePerToken is 1), matching the literal scenarios in spec.md §8.
package ledger

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/vectorgate/gateway/pkg/gwerr"
)

// ReservationStatus is the lifecycle state of a held claim on a user's
// balance (spec.md §3 Reservation).
type ReservationStatus string

const (
	ReservationHeld      ReservationStatus = "held"
	ReservationCommitted ReservationStatus = "committed"
	ReservationRefunded  ReservationStatus = "refunded"
	ReservationExpired   ReservationStatus = "expired"
)

// Reservation is a held claim covering the upper-bound cost of an
// in-flight request.
type Reservation struct {
	ReservationID    string
	UserID           string
	EstimatedTokens  int64
	PricePerToken    float64
	EstimatedCostUSD float64
	CreatedAt        time.Time
	Status           ReservationStatus
	HasOwnKey        bool
}

// UsageEvent is an immutable append-only settlement record (spec.md §3).
// PlatformFeeUSD is a pointer per DESIGN.md's Open Question #2 decision:
// nil means "not applicable", a pointed-to 0 means "no fee charged".
// Charged is false for BYOK no-op settlements, which still produce an
// analytics record but never move a balance (scenario 2, spec.md §8).
type UsageEvent struct {
	EventID        string
	UserID         string
	ProviderID     string
	ModelID        string
	InputTokens    int64
	OutputTokens   int64
	CostUSD        float64
	PlatformFeeUSD *float64
	ReservationID  string
	OccurredAt     time.Time
	Charged        bool
	CountsEstimated bool
}

// Balance is the derived per-user view (spec.md §3).
type Balance struct {
	UserID                      string
	PrepaidTokens               int64
	SubscriptionTokensRemaining int64
	MonthlyResetAt              time.Time
	Available                   float64
	Held                        float64
}

// PlanConsumption is the pre-flight check exposed as spec.md §6's
// `billing.planConsumption` procedure and §8 scenario 3.
type PlanConsumption struct {
	WouldSucceed bool
	Required     float64
	Available    float64
}

// Analytics summarizes usage over a trailing window (spec.md §4.5 Queries).
type Analytics struct {
	UserID       string
	Days         int
	TotalCostUSD float64
	TotalTokens  int64
	ByProvider   map[string]float64
	History      []*UsageEvent
}

// Accounts is the storage adapter the Token Ledger depends on. Each
// method below is atomic with respect to the named user: an in-memory
// implementation serializes by a per-user mutex (§5, §9's sharded-mutex
// redesign note), a SQL-backed one by a row-locked transaction.
type Accounts interface {
	Balance(ctx context.Context, userID string) (*Balance, error)
	Reserve(ctx context.Context, userID string, estimatedTokens int64, pricePerToken float64, hasOwnKey bool) (*Reservation, error)
	GetReservation(ctx context.Context, reservationID string) (*Reservation, error)
	Commit(ctx context.Context, reservationID string, usage UsageEvent) (*Balance, *UsageEvent, error)
	Refund(ctx context.Context, reservationID string) (*Balance, error)
	ExpireOlderThan(ctx context.Context, cutoff time.Time) ([]*Reservation, error)
	History(ctx context.Context, userID string, limit int, cursor string) ([]*UsageEvent, string, error)
	Analytics(ctx context.Context, userID string, days int) (*Analytics, error)
	Grant(ctx context.Context, userID string, prepaidTokens, subscriptionTokens int64, monthlyResetAt time.Time) error
}

// idempotencyResult is cached per settlement key (typically the
// reservationID), generalizing pkg/api.IdempotencyMiddleware's
// cache-by-key replay from HTTP responses to settlement outcomes.
type idempotencyResult struct {
	balance *Balance
	event   *UsageEvent
	err     error
}

// TokenLedger is the C5 component: Accounts plus idempotent settlement
// and LostUsage compensating-event logging.
type TokenLedger struct {
	accounts Accounts
	lost     *Ledger

	idemMu sync.Mutex
	idem   map[string]*idempotencyResult
}

func New(accounts Accounts) *TokenLedger {
	return &TokenLedger{
		accounts: accounts,
		lost:     NewLedger(LedgerTypeLostUsage),
		idem:     make(map[string]*idempotencyResult),
	}
}

// LostUsageLedger exposes the hash-chained compensating log for
// operator tooling and tests; it is never written to except via the
// failure paths below.
func (l *TokenLedger) LostUsageLedger() *Ledger { return l.lost }

// Reserve implements spec.md §4.5 Reserve. A BYOK caller's reservation
// is a no-op stub: logged but never checked against balance.
func (l *TokenLedger) Reserve(ctx context.Context, userID string, estimatedTokens int64, pricePerToken float64, hasOwnKey bool) (*Reservation, *float64, error) {
	res, err := l.accounts.Reserve(ctx, userID, estimatedTokens, pricePerToken, hasOwnKey)
	if err != nil {
		return nil, nil, err
	}
	if hasOwnKey {
		return res, nil, nil
	}
	bal, err := l.accounts.Balance(ctx, userID)
	if err != nil {
		return res, nil, err
	}
	remaining := bal.Available
	return res, &remaining, nil
}

// PlanConsumption answers spec.md §8 scenario 3 without holding anything.
func (l *TokenLedger) PlanConsumption(ctx context.Context, userID string, estimatedTokens int64, pricePerToken float64, hasApiKey bool) (*PlanConsumption, error) {
	if hasApiKey {
		return &PlanConsumption{WouldSucceed: true}, nil
	}
	bal, err := l.accounts.Balance(ctx, userID)
	if err != nil {
		return nil, err
	}
	required := float64(estimatedTokens) * pricePerToken
	return &PlanConsumption{
		WouldSucceed: bal.Available >= required,
		Required:     required,
		Available:    bal.Available,
	}, nil
}

// Settle implements spec.md §4.5 Settle, idempotent on idempotencyKey
// (defaulting to reservationID per §4.5's Idempotency note).
func (l *TokenLedger) Settle(ctx context.Context, idempotencyKey, reservationID string, usage UsageEvent) (*Balance, *UsageEvent, error) {
	if idempotencyKey == "" {
		idempotencyKey = reservationID
	}

	l.idemMu.Lock()
	if cached, ok := l.idem[idempotencyKey]; ok {
		l.idemMu.Unlock()
		return cached.balance, cached.event, cached.err
	}
	l.idemMu.Unlock()

	usage.ReservationID = reservationID
	if usage.EventID == "" {
		usage.EventID = uuid.NewString()
	}
	if usage.OccurredAt.IsZero() {
		usage.OccurredAt = time.Now().UTC()
	}

	bal, event, err := l.accounts.Commit(ctx, reservationID, usage)
	if err != nil {
		if ge, ok := gwerr.As(err); ok && ge.Kind == gwerr.Conflict {
			// Settling an already-expired reservation: the spend
			// happened upstream but cannot settle cleanly. Log the
			// compensating event and surface the conflict unchanged.
			if res, getErr := l.accounts.GetReservation(ctx, reservationID); getErr == nil {
				usage.UserID = res.UserID
			}
			l.logLostUsage(reservationID, usage, "settle_after_expiry")
		}
	}

	l.idemMu.Lock()
	l.idem[idempotencyKey] = &idempotencyResult{balance: bal, event: event, err: err}
	l.idemMu.Unlock()

	return bal, event, err
}

// Refund reverses a held reservation (execution failed before
// settlement). If the refund itself fails, a LostUsage event records
// the situation for operator reconciliation rather than silently
// dropping it.
func (l *TokenLedger) Refund(ctx context.Context, reservationID string) (*Balance, error) {
	bal, err := l.accounts.Refund(ctx, reservationID)
	if err != nil {
		res, getErr := l.accounts.GetReservation(ctx, reservationID)
		if getErr == nil {
			l.logLostUsage(reservationID, UsageEvent{
				UserID:       res.UserID,
				InputTokens:  0,
				OutputTokens: 0,
				CostUSD:      res.EstimatedCostUSD,
			}, "refund_failed")
		}
	}
	return bal, err
}

// ExpireSweep reclaims reservations held past the TTL, restoring
// balance (spec.md §4.5 Expire). It is safe to call repeatedly.
func (l *TokenLedger) ExpireSweep(ctx context.Context, ttl time.Duration) ([]*Reservation, error) {
	return l.accounts.ExpireOlderThan(ctx, time.Now().Add(-ttl))
}

func (l *TokenLedger) Balance(ctx context.Context, userID string) (*Balance, error) {
	return l.accounts.Balance(ctx, userID)
}

func (l *TokenLedger) History(ctx context.Context, userID string, limit int, cursor string) ([]*UsageEvent, string, error) {
	return l.accounts.History(ctx, userID, limit, cursor)
}

func (l *TokenLedger) Analytics(ctx context.Context, userID string, days int) (*Analytics, error) {
	return l.accounts.Analytics(ctx, userID, days)
}

func (l *TokenLedger) Grant(ctx context.Context, userID string, prepaidTokens, subscriptionTokens int64, monthlyResetAt time.Time) error {
	return l.accounts.Grant(ctx, userID, prepaidTokens, subscriptionTokens, monthlyResetAt)
}

func (l *TokenLedger) logLostUsage(reservationID string, usage UsageEvent, reason string) {
	_, _ = l.lost.Append("LOST_USAGE", "system", map[string]interface{}{
		"reservationId": reservationID,
		"userId":        usage.UserID,
		"inputTokens":   usage.InputTokens,
		"outputTokens":  usage.OutputTokens,
		"costUsd":       usage.CostUSD,
		"reason":        reason,
	})
}
