package secretstore

// SchemaPostgres creates the byok_entries table (lib/pq backend).
const SchemaPostgres = `
CREATE TABLE IF NOT EXISTS byok_entries (
	user_id     TEXT NOT NULL,
	provider_id TEXT NOT NULL,
	ciphertext  BYTEA NOT NULL,
	salt        BYTEA NOT NULL,
	kdf_n       INTEGER NOT NULL,
	kdf_r       INTEGER NOT NULL,
	kdf_p       INTEGER NOT NULL,
	created_at  TIMESTAMPTZ NOT NULL,
	rotated_at  TIMESTAMPTZ,
	PRIMARY KEY (user_id, provider_id)
);
`

// SchemaSQLite is the modernc.org/sqlite equivalent, used for the
// single-process embedded fallback.
const SchemaSQLite = `
CREATE TABLE IF NOT EXISTS byok_entries (
	user_id     TEXT NOT NULL,
	provider_id TEXT NOT NULL,
	ciphertext  BLOB NOT NULL,
	salt        BLOB NOT NULL,
	kdf_n       INTEGER NOT NULL,
	kdf_r       INTEGER NOT NULL,
	kdf_p       INTEGER NOT NULL,
	created_at  DATETIME NOT NULL,
	rotated_at  DATETIME,
	PRIMARY KEY (user_id, provider_id)
);
`
