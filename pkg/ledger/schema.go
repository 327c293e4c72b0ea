package ledger

// SchemaPostgres creates the three tables the Token Ledger needs
// (spec.md §6's persisted-state layout items ii-iv): a balance row per
// user, an append-only usage-event stream, and a TTL-indexed reservation
// table.
const SchemaPostgres = `
CREATE TABLE IF NOT EXISTS ledger_balances (
	user_id TEXT PRIMARY KEY,
	prepaid_tokens BIGINT NOT NULL DEFAULT 0,
	subscription_tokens_remaining BIGINT NOT NULL DEFAULT 0,
	committed_total DOUBLE PRECISION NOT NULL DEFAULT 0,
	monthly_reset_at TIMESTAMPTZ
);

CREATE TABLE IF NOT EXISTS ledger_reservations (
	reservation_id TEXT PRIMARY KEY,
	user_id TEXT NOT NULL,
	estimated_tokens BIGINT NOT NULL,
	price_per_token DOUBLE PRECISION NOT NULL,
	estimated_cost_usd DOUBLE PRECISION NOT NULL,
	created_at TIMESTAMPTZ NOT NULL,
	status TEXT NOT NULL,
	has_own_key BOOLEAN NOT NULL DEFAULT FALSE
);
CREATE INDEX IF NOT EXISTS idx_ledger_reservations_ttl ON ledger_reservations(status, created_at);
CREATE INDEX IF NOT EXISTS idx_ledger_reservations_user ON ledger_reservations(user_id);

CREATE TABLE IF NOT EXISTS ledger_usage_events (
	event_id TEXT PRIMARY KEY,
	user_id TEXT NOT NULL,
	provider_id TEXT NOT NULL,
	model_id TEXT NOT NULL,
	input_tokens BIGINT NOT NULL,
	output_tokens BIGINT NOT NULL,
	cost_usd DOUBLE PRECISION NOT NULL,
	platform_fee_usd DOUBLE PRECISION,
	platform_fee_set BOOLEAN NOT NULL DEFAULT FALSE,
	reservation_id TEXT,
	occurred_at TIMESTAMPTZ NOT NULL,
	charged BOOLEAN NOT NULL DEFAULT FALSE,
	counts_estimated BOOLEAN NOT NULL DEFAULT FALSE
);
CREATE INDEX IF NOT EXISTS idx_ledger_usage_user_time ON ledger_usage_events(user_id, occurred_at);
`

// SchemaSQLite is the same shape with sqlite-compatible types.
const SchemaSQLite = `
CREATE TABLE IF NOT EXISTS ledger_balances (
	user_id TEXT PRIMARY KEY,
	prepaid_tokens INTEGER NOT NULL DEFAULT 0,
	subscription_tokens_remaining INTEGER NOT NULL DEFAULT 0,
	committed_total REAL NOT NULL DEFAULT 0,
	monthly_reset_at DATETIME
);

CREATE TABLE IF NOT EXISTS ledger_reservations (
	reservation_id TEXT PRIMARY KEY,
	user_id TEXT NOT NULL,
	estimated_tokens INTEGER NOT NULL,
	price_per_token REAL NOT NULL,
	estimated_cost_usd REAL NOT NULL,
	created_at DATETIME NOT NULL,
	status TEXT NOT NULL,
	has_own_key INTEGER NOT NULL DEFAULT 0
);
CREATE INDEX IF NOT EXISTS idx_ledger_reservations_ttl ON ledger_reservations(status, created_at);
CREATE INDEX IF NOT EXISTS idx_ledger_reservations_user ON ledger_reservations(user_id);

CREATE TABLE IF NOT EXISTS ledger_usage_events (
	event_id TEXT PRIMARY KEY,
	user_id TEXT NOT NULL,
	provider_id TEXT NOT NULL,
	model_id TEXT NOT NULL,
	input_tokens INTEGER NOT NULL,
	output_tokens INTEGER NOT NULL,
	cost_usd REAL NOT NULL,
	platform_fee_usd REAL,
	platform_fee_set INTEGER NOT NULL DEFAULT 0,
	reservation_id TEXT,
	occurred_at DATETIME NOT NULL,
	charged INTEGER NOT NULL DEFAULT 0,
	counts_estimated INTEGER NOT NULL DEFAULT 0
);
CREATE INDEX IF NOT EXISTS idx_ledger_usage_user_time ON ledger_usage_events(user_id, occurred_at);
`
