package ledger

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/vectorgate/gateway/pkg/gwerr"
)

func TestBalanceGateScenario(t *testing.T) {
	// spec.md §8 scenario 3: balance 100, estimate 500 → rejected.
	accounts := NewMemoryAccounts()
	l := New(accounts)
	ctx := context.Background()

	require.NoError(t, accounts.Grant(ctx, "u1", 100, 0, time.Time{}))

	plan, err := l.PlanConsumption(ctx, "u1", 500, 1.0, false)
	require.NoError(t, err)
	require.False(t, plan.WouldSucceed)
	require.Equal(t, 500.0, plan.Required)
	require.Equal(t, 100.0, plan.Available)

	_, _, err = l.Reserve(ctx, "u1", 500, 1.0, false)
	ge, ok := gwerr.As(err)
	require.True(t, ok)
	require.Equal(t, gwerr.InsufficientBalance, ge.Kind)
}

func TestSettlementOverageScenario(t *testing.T) {
	// spec.md §8 scenario 4: reserve 1000, provider returns 1200.
	accounts := NewMemoryAccounts()
	l := New(accounts)
	ctx := context.Background()
	require.NoError(t, accounts.Grant(ctx, "u1", 5000, 0, time.Time{}))

	res, remaining, err := l.Reserve(ctx, "u1", 1000, 1.0, false)
	require.NoError(t, err)
	require.NotNil(t, remaining)
	require.Equal(t, 4000.0, *remaining)

	bal, event, err := l.Settle(ctx, "", res.ReservationID, UsageEvent{
		ProviderID:   "anthropic",
		ModelID:      "claude-3-5-sonnet-20241022",
		InputTokens:  900,
		OutputTokens: 300,
		CostUSD:      1200,
	})
	require.NoError(t, err)
	require.Equal(t, int64(1200), event.InputTokens+event.OutputTokens)
	require.Equal(t, 3800.0, bal.Available) // 5000 - 1200

	got, err := accounts.GetReservation(ctx, res.ReservationID)
	require.NoError(t, err)
	require.Equal(t, ReservationCommitted, got.Status)
}

func TestExpiredReservationScenario(t *testing.T) {
	// spec.md §8 scenario 5: reserve, sweeper reclaims, late settle rejected.
	accounts := NewMemoryAccounts()
	l := New(accounts)
	ctx := context.Background()
	require.NoError(t, accounts.Grant(ctx, "u1", 1000, 0, time.Time{}))

	res, _, err := l.Reserve(ctx, "u1", 500, 1.0, false)
	require.NoError(t, err)

	// Force the reservation to look old enough to sweep.
	accounts.mu.Lock()
	userID := accounts.reservations[res.ReservationID]
	accounts.mu.Unlock()
	u := accounts.userState(userID)
	u.mu.Lock()
	u.held[res.ReservationID].CreatedAt = time.Now().Add(-time.Hour)
	u.mu.Unlock()

	expired, err := l.ExpireSweep(ctx, time.Minute)
	require.NoError(t, err)
	require.Len(t, expired, 1)

	bal, err := l.Balance(ctx, "u1")
	require.NoError(t, err)
	require.Equal(t, 1000.0, bal.Available) // restored

	_, _, err = l.Settle(ctx, "", res.ReservationID, UsageEvent{InputTokens: 400, OutputTokens: 100, CostUSD: 500})
	require.Error(t, err)
	ge, ok := gwerr.As(err)
	require.True(t, ok)
	require.Equal(t, gwerr.Conflict, ge.Kind)

	require.Equal(t, 1, l.LostUsageLedger().Length())
	ok2, _ := l.LostUsageLedger().Verify()
	require.True(t, ok2)
}

func TestByokNoOpReservation(t *testing.T) {
	// spec.md §8 scenario 2: BYOK reservation is a no-op stub, no charge.
	accounts := NewMemoryAccounts()
	l := New(accounts)
	ctx := context.Background()

	res, remaining, err := l.Reserve(ctx, "u1", 1000, 1.0, true)
	require.NoError(t, err)
	require.Nil(t, remaining)

	bal, event, err := l.Settle(ctx, "", res.ReservationID, UsageEvent{
		ProviderID: "anthropic", InputTokens: 5, OutputTokens: 2, CostUSD: 7,
	})
	require.NoError(t, err)
	require.False(t, event.Charged)
	require.Equal(t, 0.0, event.CostUSD)
	require.Equal(t, 0.0, bal.Available) // no prior grant, never touched
}

func TestSettlementIdempotentReplay(t *testing.T) {
	// spec.md §8 at-most-once charge: replaying settle collapses to first outcome.
	accounts := NewMemoryAccounts()
	l := New(accounts)
	ctx := context.Background()
	require.NoError(t, accounts.Grant(ctx, "u1", 1000, 0, time.Time{}))

	res, _, err := l.Reserve(ctx, "u1", 200, 1.0, false)
	require.NoError(t, err)

	usage := UsageEvent{ProviderID: "anthropic", InputTokens: 100, OutputTokens: 50, CostUSD: 200}
	bal1, event1, err := l.Settle(ctx, res.ReservationID, res.ReservationID, usage)
	require.NoError(t, err)

	bal2, event2, err := l.Settle(ctx, res.ReservationID, res.ReservationID, usage)
	require.NoError(t, err)

	require.Equal(t, event1.EventID, event2.EventID)
	require.Equal(t, bal1.Available, bal2.Available)
}

func TestReserveThenRefundReturnsToPreReserveBalance(t *testing.T) {
	accounts := NewMemoryAccounts()
	l := New(accounts)
	ctx := context.Background()
	require.NoError(t, accounts.Grant(ctx, "u1", 1000, 0, time.Time{}))

	before, err := l.Balance(ctx, "u1")
	require.NoError(t, err)

	res, _, err := l.Reserve(ctx, "u1", 300, 1.0, false)
	require.NoError(t, err)

	_, err = l.Refund(ctx, res.ReservationID)
	require.NoError(t, err)

	after, err := l.Balance(ctx, "u1")
	require.NoError(t, err)
	require.Equal(t, before.Available, after.Available)
}
