package ledger

import (
	"context"
	"database/sql"
	"errors"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/vectorgate/gateway/pkg/gwerr"
	"github.com/vectorgate/gateway/pkg/storedb"
)

// SQLAccounts is the durable Accounts implementation, grounded on
// pkg/metering.PostgresMeter's transactional insert pattern and
// pkg/budget.SimpleEnforcer.Check's fetch/compute/compare/persist
// shape, generalized to hold-then-settle accounting. It runs unmodified
// against Postgres or sqlite; only placeholder syntax and row-locking
// differ, both handled by storedb.Dialect.
type SQLAccounts struct {
	db      *sql.DB
	dialect storedb.Dialect
}

func NewSQLAccounts(db *sql.DB, dialect storedb.Dialect) *SQLAccounts {
	return &SQLAccounts{db: db, dialect: dialect}
}

func (a *SQLAccounts) q(query string) string { return storedb.Rebind(a.dialect, query) }

// forUpdate appends Postgres row-locking inside a transaction; sqlite's
// single-writer locking mode makes this unnecessary for that dialect,
// matching metering.PostgresMeter.RecordBatch's tx-scoped writes.
func (a *SQLAccounts) forUpdate() string {
	if a.dialect == storedb.Postgres {
		return " FOR UPDATE"
	}
	return ""
}

func (a *SQLAccounts) Balance(ctx context.Context, userID string) (*Balance, error) {
	tx, err := a.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, gwerr.Wrap(err, "ledger: begin balance tx")
	}
	defer func() { _ = tx.Rollback() }()

	bal, err := a.balanceTx(ctx, tx, userID)
	if err != nil {
		return nil, err
	}
	return bal, tx.Commit()
}

// balanceTx computes the derived balance under the given transaction:
// granted − committed − held, reading ledger_balances and summing held
// reservations.
func (a *SQLAccounts) balanceTx(ctx context.Context, tx *sql.Tx, userID string) (*Balance, error) {
	var prepaid, subscription int64
	var committed float64
	var resetAt sql.NullTime
	err := tx.QueryRowContext(ctx, a.q(`
		SELECT prepaid_tokens, subscription_tokens_remaining, committed_total, monthly_reset_at
		FROM ledger_balances WHERE user_id = $1`+a.forUpdate()), userID).
		Scan(&prepaid, &subscription, &committed, &resetAt)
	if errors.Is(err, sql.ErrNoRows) {
		prepaid, subscription, committed = 0, 0, 0
	} else if err != nil {
		return nil, gwerr.Wrap(err, "ledger: read balance")
	}

	var held float64
	err = tx.QueryRowContext(ctx, a.q(`
		SELECT COALESCE(SUM(estimated_cost_usd), 0) FROM ledger_reservations
		WHERE user_id = $1 AND status = 'held' AND NOT has_own_key`), userID).Scan(&held)
	if err != nil {
		return nil, gwerr.Wrap(err, "ledger: sum held")
	}

	bal := &Balance{
		UserID:                      userID,
		PrepaidTokens:               prepaid,
		SubscriptionTokensRemaining: subscription,
		Available:                   float64(prepaid+subscription) - committed - held,
		Held:                        held,
	}
	if resetAt.Valid {
		bal.MonthlyResetAt = resetAt.Time
	}
	return bal, nil
}

func (a *SQLAccounts) Grant(ctx context.Context, userID string, prepaidTokens, subscriptionTokens int64, monthlyResetAt time.Time) error {
	_, err := a.db.ExecContext(ctx, a.q(`
		INSERT INTO ledger_balances (user_id, prepaid_tokens, subscription_tokens_remaining, committed_total, monthly_reset_at)
		VALUES ($1, $2, $3, 0, $4)
		ON CONFLICT (user_id) DO UPDATE SET
			prepaid_tokens = EXCLUDED.prepaid_tokens,
			subscription_tokens_remaining = EXCLUDED.subscription_tokens_remaining,
			monthly_reset_at = EXCLUDED.monthly_reset_at
	`), userID, prepaidTokens, subscriptionTokens, monthlyResetAt)
	if err != nil {
		return gwerr.Wrap(err, "ledger: grant")
	}
	return nil
}

func (a *SQLAccounts) Reserve(ctx context.Context, userID string, estimatedTokens int64, pricePerToken float64, hasOwnKey bool) (*Reservation, error) {
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

	tx, err := a.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, gwerr.Wrap(err, "ledger: begin reserve tx")
	}
	defer func() { _ = tx.Rollback() }()

	if !hasOwnKey {
		bal, err := a.balanceTx(ctx, tx, userID)
		if err != nil {
			return nil, err
		}
		if bal.Available < res.EstimatedCostUSD {
			return nil, gwerr.New(gwerr.InsufficientBalance, "insufficient balance").WithFields(map[string]any{
				"required":  res.EstimatedCostUSD,
				"available": bal.Available,
			})
		}
	}

	_, err = tx.ExecContext(ctx, a.q(`
		INSERT INTO ledger_reservations (reservation_id, user_id, estimated_tokens, price_per_token, estimated_cost_usd, created_at, status, has_own_key)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`), res.ReservationID, userID, estimatedTokens, pricePerToken, res.EstimatedCostUSD, res.CreatedAt, string(ReservationHeld), hasOwnKey)
	if err != nil {
		return nil, gwerr.Wrap(err, "ledger: insert reservation")
	}

	if err := tx.Commit(); err != nil {
		return nil, gwerr.Wrap(err, "ledger: commit reserve")
	}
	return res, nil
}

func (a *SQLAccounts) GetReservation(ctx context.Context, reservationID string) (*Reservation, error) {
	var r Reservation
	var status string
	err := a.db.QueryRowContext(ctx, a.q(`
		SELECT user_id, estimated_tokens, price_per_token, estimated_cost_usd, created_at, status, has_own_key
		FROM ledger_reservations WHERE reservation_id = $1
	`), reservationID).Scan(&r.UserID, &r.EstimatedTokens, &r.PricePerToken, &r.EstimatedCostUSD, &r.CreatedAt, &status, &r.HasOwnKey)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, gwerr.New(gwerr.Internal, "reservation %s not found", reservationID)
	}
	if err != nil {
		return nil, gwerr.Wrap(err, "ledger: get reservation")
	}
	r.ReservationID = reservationID
	r.Status = ReservationStatus(status)
	return &r, nil
}

func (a *SQLAccounts) Commit(ctx context.Context, reservationID string, usage UsageEvent) (*Balance, *UsageEvent, error) {
	tx, err := a.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, nil, gwerr.Wrap(err, "ledger: begin commit tx")
	}
	defer func() { _ = tx.Rollback() }()

	var userID, status string
	var hasOwnKey bool
	err = tx.QueryRowContext(ctx, a.q(`
		SELECT user_id, status, has_own_key FROM ledger_reservations WHERE reservation_id = $1`+a.forUpdate()), reservationID).
		Scan(&userID, &status, &hasOwnKey)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil, gwerr.New(gwerr.Conflict, "unknown reservation %s", reservationID)
	}
	if err != nil {
		return nil, nil, gwerr.Wrap(err, "ledger: read reservation")
	}
	if ReservationStatus(status) != ReservationHeld {
		return nil, nil, gwerr.New(gwerr.Conflict, "reservation %s is not held", reservationID)
	}

	usage.UserID = userID
	usage.ReservationID = reservationID
	usage.Charged = !hasOwnKey
	if hasOwnKey {
		usage.CostUSD = 0
	}

	_, err = tx.ExecContext(ctx, a.q(`
		UPDATE ledger_reservations SET status = 'committed' WHERE reservation_id = $1
	`), reservationID)
	if err != nil {
		return nil, nil, gwerr.Wrap(err, "ledger: mark committed")
	}

	if !hasOwnKey {
		_, err = tx.ExecContext(ctx, a.q(`
			UPDATE ledger_balances SET committed_total = committed_total + $1 WHERE user_id = $2
		`), usage.CostUSD, userID)
		if err != nil {
			return nil, nil, gwerr.Wrap(err, "ledger: adjust committed total")
		}
	}

	if err := a.insertUsageEvent(ctx, tx, &usage); err != nil {
		return nil, nil, err
	}

	bal, err := a.balanceTx(ctx, tx, userID)
	if err != nil {
		return nil, nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, nil, gwerr.Wrap(err, "ledger: commit settle")
	}
	return bal, &usage, nil
}

func (a *SQLAccounts) insertUsageEvent(ctx context.Context, tx *sql.Tx, usage *UsageEvent) error {
	if usage.EventID == "" {
		usage.EventID = uuid.NewString()
	}
	if usage.OccurredAt.IsZero() {
		usage.OccurredAt = time.Now().UTC()
	}
	var feeVal sql.NullFloat64
	feeSet := usage.PlatformFeeUSD != nil
	if feeSet {
		feeVal = sql.NullFloat64{Float64: *usage.PlatformFeeUSD, Valid: true}
	}
	_, err := tx.ExecContext(ctx, a.q(`
		INSERT INTO ledger_usage_events
			(event_id, user_id, provider_id, model_id, input_tokens, output_tokens, cost_usd, platform_fee_usd, platform_fee_set, reservation_id, occurred_at, charged, counts_estimated)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
	`), usage.EventID, usage.UserID, usage.ProviderID, usage.ModelID, usage.InputTokens, usage.OutputTokens,
		usage.CostUSD, feeVal, feeSet, usage.ReservationID, usage.OccurredAt, usage.Charged, usage.CountsEstimated)
	if err != nil {
		return gwerr.Wrap(err, "ledger: insert usage event")
	}
	return nil
}

func (a *SQLAccounts) Refund(ctx context.Context, reservationID string) (*Balance, error) {
	tx, err := a.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, gwerr.Wrap(err, "ledger: begin refund tx")
	}
	defer func() { _ = tx.Rollback() }()

	var userID, status string
	err = tx.QueryRowContext(ctx, a.q(`
		SELECT user_id, status FROM ledger_reservations WHERE reservation_id = $1`+a.forUpdate()), reservationID).
		Scan(&userID, &status)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, gwerr.New(gwerr.Conflict, "unknown reservation %s", reservationID)
	}
	if err != nil {
		return nil, gwerr.Wrap(err, "ledger: read reservation")
	}
	if ReservationStatus(status) != ReservationHeld {
		return nil, gwerr.New(gwerr.Conflict, "reservation %s is not held", reservationID)
	}

	_, err = tx.ExecContext(ctx, a.q(`UPDATE ledger_reservations SET status = 'refunded' WHERE reservation_id = $1`), reservationID)
	if err != nil {
		return nil, gwerr.Wrap(err, "ledger: mark refunded")
	}

	bal, err := a.balanceTx(ctx, tx, userID)
	if err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, gwerr.Wrap(err, "ledger: commit refund")
	}
	return bal, nil
}

func (a *SQLAccounts) ExpireOlderThan(ctx context.Context, cutoff time.Time) ([]*Reservation, error) {
	rows, err := a.db.QueryContext(ctx, a.q(`
		SELECT reservation_id, user_id, estimated_tokens, price_per_token, estimated_cost_usd, created_at, has_own_key
		FROM ledger_reservations WHERE status = 'held' AND created_at < $1
	`), cutoff)
	if err != nil {
		return nil, gwerr.Wrap(err, "ledger: query expirable")
	}
	var expired []*Reservation
	for rows.Next() {
		var r Reservation
		if err := rows.Scan(&r.ReservationID, &r.UserID, &r.EstimatedTokens, &r.PricePerToken, &r.EstimatedCostUSD, &r.CreatedAt, &r.HasOwnKey); err != nil {
			_ = rows.Close()
			return nil, gwerr.Wrap(err, "ledger: scan expirable")
		}
		r.Status = ReservationExpired
		expired = append(expired, &r)
	}
	if err := rows.Close(); err != nil {
		return nil, gwerr.Wrap(err, "ledger: close expirable rows")
	}
	if err := rows.Err(); err != nil {
		return nil, gwerr.Wrap(err, "ledger: iterate expirable")
	}

	for _, r := range expired {
		if _, err := a.db.ExecContext(ctx, a.q(`UPDATE ledger_reservations SET status = 'expired' WHERE reservation_id = $1 AND status = 'held'`), r.ReservationID); err != nil {
			return nil, gwerr.Wrap(err, "ledger: mark expired")
		}
	}
	return expired, nil
}

func (a *SQLAccounts) History(ctx context.Context, userID string, limit int, cursor string) ([]*UsageEvent, string, error) {
	if limit <= 0 {
		limit = 50
	}
	var cursorTime time.Time
	if cursor != "" {
		if err := a.db.QueryRowContext(ctx, a.q(`SELECT occurred_at FROM ledger_usage_events WHERE event_id = $1`), cursor).Scan(&cursorTime); err != nil && !errors.Is(err, sql.ErrNoRows) {
			return nil, "", gwerr.Wrap(err, "ledger: resolve cursor")
		}
	}

	query := `
		SELECT event_id, user_id, provider_id, model_id, input_tokens, output_tokens, cost_usd, platform_fee_usd, platform_fee_set, reservation_id, occurred_at, charged, counts_estimated
		FROM ledger_usage_events WHERE user_id = $1`
	args := []any{userID}
	if !cursorTime.IsZero() {
		query += ` AND occurred_at < $2 ORDER BY occurred_at DESC LIMIT ` + strconv.Itoa(limit+1)
		args = append(args, cursorTime)
	} else {
		query += ` ORDER BY occurred_at DESC LIMIT ` + strconv.Itoa(limit+1)
	}

	rows, err := a.db.QueryContext(ctx, a.q(query), args...)
	if err != nil {
		return nil, "", gwerr.Wrap(err, "ledger: query history")
	}
	defer func() { _ = rows.Close() }()

	var events []*UsageEvent
	for rows.Next() {
		var e UsageEvent
		var resID sql.NullString
		var fee sql.NullFloat64
		var feeSet bool
		if err := rows.Scan(&e.EventID, &e.UserID, &e.ProviderID, &e.ModelID, &e.InputTokens, &e.OutputTokens, &e.CostUSD, &fee, &feeSet, &resID, &e.OccurredAt, &e.Charged, &e.CountsEstimated); err != nil {
			return nil, "", gwerr.Wrap(err, "ledger: scan history row")
		}
		if feeSet && fee.Valid {
			v := fee.Float64
			e.PlatformFeeUSD = &v
		}
		e.ReservationID = resID.String
		events = append(events, &e)
	}

	nextCursor := ""
	if len(events) > limit {
		nextCursor = events[limit-1].EventID
		events = events[:limit]
	}
	return events, nextCursor, rows.Err()
}

func (a *SQLAccounts) Analytics(ctx context.Context, userID string, days int) (*Analytics, error) {
	cutoff := time.Now().Add(-time.Duration(days) * 24 * time.Hour)
	rows, err := a.db.QueryContext(ctx, a.q(`
		SELECT event_id, provider_id, model_id, input_tokens, output_tokens, cost_usd, occurred_at, charged
		FROM ledger_usage_events WHERE user_id = $1 AND occurred_at >= $2
	`), userID, cutoff)
	if err != nil {
		return nil, gwerr.Wrap(err, "ledger: query analytics")
	}
	defer func() { _ = rows.Close() }()

	a2 := &Analytics{UserID: userID, Days: days, ByProvider: make(map[string]float64)}
	for rows.Next() {
		var e UsageEvent
		if err := rows.Scan(&e.EventID, &e.ProviderID, &e.ModelID, &e.InputTokens, &e.OutputTokens, &e.CostUSD, &e.OccurredAt, &e.Charged); err != nil {
			return nil, gwerr.Wrap(err, "ledger: scan analytics row")
		}
		a2.TotalCostUSD += e.CostUSD
		a2.TotalTokens += e.InputTokens + e.OutputTokens
		a2.ByProvider[e.ProviderID] += e.CostUSD
		a2.History = append(a2.History, &e)
	}
	return a2, rows.Err()
}
