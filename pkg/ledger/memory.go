package ledger

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/vectorgate/gateway/pkg/gwerr"
)

// memUserState holds one user's accounting state behind its own mutex,
// generalizing pkg/kernel.InMemoryLimiterStore's map-of-buckets shape
// from per-actor rate state to per-user balance state.
type memUserState struct {
	mu                          sync.Mutex
	prepaidTokens               int64
	subscriptionTokensRemaining int64
	monthlyResetAt              time.Time
	committedTotal              float64
	held                        map[string]*Reservation
	events                      []*UsageEvent
}

func newMemUserState() *memUserState {
	return &memUserState{held: make(map[string]*Reservation)}
}

func (u *memUserState) grantedLocked() float64 {
	return float64(u.prepaidTokens + u.subscriptionTokensRemaining)
}

func (u *memUserState) heldTotalLocked() float64 {
	var total float64
	for _, r := range u.held {
		if r.HasOwnKey {
			continue
		}
		total += r.EstimatedCostUSD
	}
	return total
}

func (u *memUserState) balanceLocked(userID string) *Balance {
	heldTotal := u.heldTotalLocked()
	return &Balance{
		UserID:                      userID,
		PrepaidTokens:               u.prepaidTokens,
		SubscriptionTokensRemaining: u.subscriptionTokensRemaining,
		MonthlyResetAt:              u.monthlyResetAt,
		Available:                   u.grantedLocked() - u.committedTotal - heldTotal,
		Held:                        heldTotal,
	}
}

// MemoryAccounts is a single-process Accounts implementation suitable
// for tests and single-instance deployments. Per-user serialization is
// a mutex per entry in the users map (spec.md §9's sharded-mutex note);
// a global mutex only ever guards map membership, never balance math.
type MemoryAccounts struct {
	mu           sync.Mutex
	users        map[string]*memUserState
	reservations map[string]string // reservationID -> userID
}

func NewMemoryAccounts() *MemoryAccounts {
	return &MemoryAccounts{
		users:        make(map[string]*memUserState),
		reservations: make(map[string]string),
	}
}

func (m *MemoryAccounts) userState(userID string) *memUserState {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[userID]
	if !ok {
		u = newMemUserState()
		m.users[userID] = u
	}
	return u
}

func (m *MemoryAccounts) Balance(ctx context.Context, userID string) (*Balance, error) {
	u := m.userState(userID)
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.balanceLocked(userID), nil
}

func (m *MemoryAccounts) Grant(ctx context.Context, userID string, prepaidTokens, subscriptionTokens int64, monthlyResetAt time.Time) error {
	u := m.userState(userID)
	u.mu.Lock()
	defer u.mu.Unlock()
	u.prepaidTokens = prepaidTokens
	u.subscriptionTokensRemaining = subscriptionTokens
	u.monthlyResetAt = monthlyResetAt
	return nil
}

func (m *MemoryAccounts) Reserve(ctx context.Context, userID string, estimatedTokens int64, pricePerToken float64, hasOwnKey bool) (*Reservation, error) {
	res := &Reservation{
		ReservationID:    uuid.NewString(),
		UserID:           userID,
		EstimatedTokens:  estimatedTokens,
		PricePerToken:    pricePerToken,
		EstimatedCostUSD: float64(estimatedTokens) * pricePerToken,
		CreatedAt:        time.Now().UTC(),
		Status:           ReservationHeld,
		HasOwnKey:        hasOwnKey,
	}

	if hasOwnKey {
		// BYOK reservations are a no-op stub: not checked or held
		// against balance (heldTotalLocked skips them), only tracked
		// so Settle/Refund still work.
		u := m.userState(userID)
		u.mu.Lock()
		u.held[res.ReservationID] = res
		u.mu.Unlock()
		m.mu.Lock()
		m.reservations[res.ReservationID] = userID
		m.mu.Unlock()
		return res, nil
	}

	u := m.userState(userID)
	u.mu.Lock()
	defer u.mu.Unlock()

	available := u.grantedLocked() - u.committedTotal - u.heldTotalLocked()
	if available < res.EstimatedCostUSD {
		return nil, gwerr.New(gwerr.InsufficientBalance, "insufficient balance").WithFields(map[string]any{
			"required":  res.EstimatedCostUSD,
			"available": available,
		})
	}

	u.held[res.ReservationID] = res
	m.mu.Lock()
	m.reservations[res.ReservationID] = userID
	m.mu.Unlock()
	return res, nil
}

func (m *MemoryAccounts) GetReservation(ctx context.Context, reservationID string) (*Reservation, error) {
	m.mu.Lock()
	userID, ok := m.reservations[reservationID]
	m.mu.Unlock()
	if !ok {
		return nil, gwerr.New(gwerr.Internal, "reservation %s not found", reservationID)
	}
	u := m.userState(userID)
	u.mu.Lock()
	defer u.mu.Unlock()
	if res, ok := u.held[reservationID]; ok {
		clone := *res
		return &clone, nil
	}
	for _, e := range u.events {
		if e.ReservationID == reservationID {
			// Reservation already committed; reconstruct a minimal view.
			return &Reservation{ReservationID: reservationID, UserID: userID, Status: ReservationCommitted}, nil
		}
	}
	return &Reservation{ReservationID: reservationID, UserID: userID, Status: ReservationExpired}, nil
}

func (m *MemoryAccounts) Commit(ctx context.Context, reservationID string, usage UsageEvent) (*Balance, *UsageEvent, error) {
	m.mu.Lock()
	userID, ok := m.reservations[reservationID]
	m.mu.Unlock()
	if !ok {
		return nil, nil, gwerr.New(gwerr.Conflict, "unknown reservation %s", reservationID)
	}

	u := m.userState(userID)
	u.mu.Lock()
	defer u.mu.Unlock()

	res, held := u.held[reservationID]
	if !held {
		// Already committed, refunded, or expired: settlement of a
		// non-held reservation is always a conflict (spec.md §4.5 Expire).
		return nil, nil, gwerr.New(gwerr.Conflict, "reservation %s is not held", reservationID)
	}

	if res.HasOwnKey {
		delete(u.held, reservationID)
		res.Status = ReservationCommitted
		usage.UserID = userID
		usage.CostUSD = 0
		usage.Charged = false
		u.events = append(u.events, &usage)
		return u.balanceLocked(userID), &usage, nil
	}

	delete(u.held, reservationID)
	res.Status = ReservationCommitted
	u.committedTotal += usage.CostUSD
	usage.UserID = userID
	usage.Charged = true
	u.events = append(u.events, &usage)

	return u.balanceLocked(userID), &usage, nil
}

func (m *MemoryAccounts) Refund(ctx context.Context, reservationID string) (*Balance, error) {
	m.mu.Lock()
	userID, ok := m.reservations[reservationID]
	m.mu.Unlock()
	if !ok {
		return nil, gwerr.New(gwerr.Conflict, "unknown reservation %s", reservationID)
	}

	u := m.userState(userID)
	u.mu.Lock()
	defer u.mu.Unlock()

	res, held := u.held[reservationID]
	if !held {
		return nil, gwerr.New(gwerr.Conflict, "reservation %s is not held", reservationID)
	}
	delete(u.held, reservationID)
	res.Status = ReservationRefunded
	return u.balanceLocked(userID), nil
}

func (m *MemoryAccounts) ExpireOlderThan(ctx context.Context, cutoff time.Time) ([]*Reservation, error) {
	m.mu.Lock()
	userIDs := make(map[string]struct{})
	for _, uid := range m.reservations {
		userIDs[uid] = struct{}{}
	}
	m.mu.Unlock()

	var expired []*Reservation
	for uid := range userIDs {
		u := m.userState(uid)
		u.mu.Lock()
		for id, res := range u.held {
			if res.CreatedAt.Before(cutoff) {
				delete(u.held, id)
				res.Status = ReservationExpired
				expired = append(expired, res)
			}
		}
		u.mu.Unlock()
	}
	return expired, nil
}

func (m *MemoryAccounts) History(ctx context.Context, userID string, limit int, cursor string) ([]*UsageEvent, string, error) {
	u := m.userState(userID)
	u.mu.Lock()
	defer u.mu.Unlock()

	events := make([]*UsageEvent, len(u.events))
	copy(events, u.events)
	sort.Slice(events, func(i, j int) bool { return events[i].OccurredAt.After(events[j].OccurredAt) })

	start := 0
	if cursor != "" {
		for i, e := range events {
			if e.EventID == cursor {
				start = i + 1
				break
			}
		}
	}
	if limit <= 0 || limit > len(events)-start {
		limit = len(events) - start
	}
	if start >= len(events) {
		return nil, "", nil
	}
	page := events[start : start+limit]
	nextCursor := ""
	if start+limit < len(events) {
		nextCursor = page[len(page)-1].EventID
	}
	return page, nextCursor, nil
}

func (m *MemoryAccounts) Analytics(ctx context.Context, userID string, days int) (*Analytics, error) {
	u := m.userState(userID)
	u.mu.Lock()
	defer u.mu.Unlock()

	cutoff := time.Now().Add(-time.Duration(days) * 24 * time.Hour)
	a := &Analytics{UserID: userID, Days: days, ByProvider: make(map[string]float64)}
	for _, e := range u.events {
		if e.OccurredAt.Before(cutoff) {
			continue
		}
		a.TotalCostUSD += e.CostUSD
		a.TotalTokens += e.InputTokens + e.OutputTokens
		a.ByProvider[e.ProviderID] += e.CostUSD
		a.History = append(a.History, e)
	}
	return a, nil
}
