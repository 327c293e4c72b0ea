// Package secretstore persists per-user BYOK API keys with authenticated
// encryption whose key is derived per-call from a caller-supplied unlock
// secret — the server process never holds a key capable of unilaterally
// decrypting an entry. Grounded on the AES-256-GCM AEAD scheme and
// upsert/status/delete shape of a teacher credential vault, generalized
// from operator OAuth tokens to per-user BYOK material keyed by
// (userID, providerID).
package secretstore

import (
	"context"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/subtle"
	"database/sql"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"time"

	"golang.org/x/crypto/scrypt"

	"github.com/vectorgate/gateway/pkg/gwerr"
	"github.com/vectorgate/gateway/pkg/storedb"
)

const (
	scryptN      = 1 << 15
	scryptR      = 8
	scryptP      = 1
	scryptKeyLen = 32 // AES-256
	saltLen      = 16
)

// Entry is the persisted, encrypted-at-rest shape of spec.md §3's BYOK
// Entry. Ciphertext and KDF params are stored together so unlock needs
// nothing but the caller's secret.
type Entry struct {
	UserID     string
	ProviderID string
	Ciphertext []byte
	Salt       []byte
	N, R, P    int
	CreatedAt  time.Time
	RotatedAt  *time.Time
}

// Status is the public-facing view — never the key (spec.md §4.3).
type Status struct {
	Present   bool
	CreatedAt time.Time
	RotatedAt *time.Time
}

// Store is the C3 component backed by a database/sql connection; it
// works unmodified against either the Postgres or sqlite adapter since
// both satisfy database/sql.
type Store struct {
	db      *sql.DB
	dialect storedb.Dialect
}

func New(db *sql.DB, dialect storedb.Dialect) *Store {
	return &Store{db: db, dialect: dialect}
}

func (s *Store) q(query string) string { return storedb.Rebind(s.dialect, query) }

// Store upserts a BYOK entry (spec.md §4.3 `store`).
func (s *Store) Store(ctx context.Context, userID, providerID, apiKey, unlockSecret string) error {
	salt := make([]byte, saltLen)
	if _, err := io.ReadFull(rand.Reader, salt); err != nil {
		return gwerr.Wrap(err, "secretstore: generate salt")
	}
	ciphertext, err := seal(apiKey, unlockSecret, salt)
	if err != nil {
		return gwerr.Wrap(err, "secretstore: seal")
	}

	now := time.Now().UTC()
	_, err = s.db.ExecContext(ctx, s.q(`
		INSERT INTO byok_entries (user_id, provider_id, ciphertext, salt, kdf_n, kdf_r, kdf_p, created_at, rotated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, NULL)
		ON CONFLICT (user_id, provider_id) DO UPDATE SET
			ciphertext = EXCLUDED.ciphertext,
			salt       = EXCLUDED.salt,
			kdf_n = EXCLUDED.kdf_n, kdf_r = EXCLUDED.kdf_r, kdf_p = EXCLUDED.kdf_p,
			rotated_at = $8
	`), userID, providerID, ciphertext, salt, scryptN, scryptR, scryptP, now)
	if err != nil {
		return gwerr.Wrap(err, "secretstore: store")
	}
	return nil
}

// Rotate atomically replaces the ciphertext (spec.md §4.3 `rotate`);
// it is the same upsert as Store, so RotatedAt is recorded when an
// existing entry is replaced and stays empty when no entry existed.
func (s *Store) Rotate(ctx context.Context, userID, providerID, newAPIKey, unlockSecret string) error {
	return s.Store(ctx, userID, providerID, newAPIKey, unlockSecret)
}

// Status reports presence without ever returning the key.
func (s *Store) Status(ctx context.Context, userID, providerID string) (*Status, error) {
	var createdAt time.Time
	var rotatedAt sql.NullTime
	err := s.db.QueryRowContext(ctx, s.q(`
		SELECT created_at, rotated_at FROM byok_entries WHERE user_id = $1 AND provider_id = $2
	`), userID, providerID).Scan(&createdAt, &rotatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return &Status{Present: false}, nil
	}
	if err != nil {
		return nil, gwerr.Wrap(err, "secretstore: status")
	}
	st := &Status{Present: true, CreatedAt: createdAt}
	if rotatedAt.Valid {
		st.RotatedAt = &rotatedAt.Time
	}
	return st, nil
}

// Delete is idempotent (spec.md §4.3 `delete`): deleting an absent
// entry is not an error.
func (s *Store) Delete(ctx context.Context, userID, providerID string) error {
	_, err := s.db.ExecContext(ctx, s.q(`DELETE FROM byok_entries WHERE user_id = $1 AND provider_id = $2`), userID, providerID)
	if err != nil {
		return gwerr.Wrap(err, "secretstore: delete")
	}
	return nil
}

// errDecryptAuthFailed is returned verbatim whether the entry is absent
// or the unlock secret is wrong, per spec.md §4.3's oracle-avoidance
// requirement: same message, same approximate timing.
var errDecryptAuthFailed = gwerr.New(gwerr.DecryptAuthFailed, "unable to unlock credential")

// Unlock decrypts and returns the plaintext API key as a Go string,
// which the caller cannot zero in place; Unlock never logs the key and
// never caches it.
func (s *Store) Unlock(ctx context.Context, userID, providerID, unlockSecret string) (apiKey string, err error) {
	var ciphertext, salt []byte
	var n, r, p int
	scanErr := s.db.QueryRowContext(ctx, s.q(`
		SELECT ciphertext, salt, kdf_n, kdf_r, kdf_p FROM byok_entries WHERE user_id = $1 AND provider_id = $2
	`), userID, providerID).Scan(&ciphertext, &salt, &n, &r, &p)

	if errors.Is(scanErr, sql.ErrNoRows) {
		// Still perform a dummy KDF derivation so the absent-entry path
		// costs roughly the same as a wrong-secret path.
		_, _ = scrypt.Key([]byte(unlockSecret), make([]byte, saltLen), scryptN, scryptR, scryptP, scryptKeyLen)
		return "", errDecryptAuthFailed
	}
	if scanErr != nil {
		return "", gwerr.Wrap(scanErr, "secretstore: unlock lookup")
	}

	key, err := scrypt.Key([]byte(unlockSecret), salt, n, r, p, scryptKeyLen)
	if err != nil {
		return "", gwerr.Wrap(err, "secretstore: derive key")
	}
	plaintext, err := open(ciphertext, key)
	if err != nil {
		return "", errDecryptAuthFailed
	}
	return plaintext, nil
}

// seal derives a key via scrypt from unlockSecret+salt and encrypts
// plaintext with AES-256-GCM, prefixing the nonce (matching the
// teacher's encrypt()'s nonce-prefixed ciphertext layout).
func seal(plaintext, unlockSecret string, salt []byte) ([]byte, error) {
	key, err := scrypt.Key([]byte(unlockSecret), salt, scryptN, scryptR, scryptP, scryptKeyLen)
	if err != nil {
		return nil, fmt.Errorf("derive key: %w", err)
	}
	defer zero(key)

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("new cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("new gcm: %w", err)
	}
	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, fmt.Errorf("generate nonce: %w", err)
	}
	return gcm.Seal(nonce, nonce, []byte(plaintext), nil), nil
}

func open(ciphertext, key []byte) (string, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return "", err
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return "", err
	}
	if len(ciphertext) < gcm.NonceSize() {
		return "", errors.New("ciphertext too short")
	}
	nonce, body := ciphertext[:gcm.NonceSize()], ciphertext[gcm.NonceSize():]
	plaintext, err := gcm.Open(nil, nonce, body, nil)
	if err != nil {
		return "", err
	}
	return string(plaintext), nil
}

func zero(b []byte) {
	for i := range b {
		b[i] = 0
	}
	// subtle.ConstantTimeCopy keeps the compiler from eliding the loop.
	subtle.ConstantTimeCopy(0, b, b)
}

// Base64 helpers retained for callers that transport ciphertext as text
// (e.g. a debugging export); storage itself uses raw bytea/BLOB columns.
func EncodeCiphertext(b []byte) string { return base64.StdEncoding.EncodeToString(b) }
