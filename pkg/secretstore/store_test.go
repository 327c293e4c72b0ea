package secretstore

import (
	"context"
	"database/sql"
	"testing"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/scrypt"

	"github.com/vectorgate/gateway/pkg/gwerr"
	"github.com/vectorgate/gateway/pkg/storedb"
)

func TestSealOpenRoundTrip(t *testing.T) {
	// spec.md §8 round-trip: store(u,p,k,s) then unlock(u,p,s) == k.
	salt := make([]byte, saltLen)
	ct, err := seal("sk-test-key", "pw", salt)
	require.NoError(t, err)

	key, err := scrypt.Key([]byte("pw"), salt, scryptN, scryptR, scryptP, scryptKeyLen)
	require.NoError(t, err)
	pt, err := open(ct, key)
	require.NoError(t, err)
	require.Equal(t, "sk-test-key", pt)
}

func TestStatusAbsentReturnsNotPresent(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectQuery("SELECT created_at, rotated_at").
		WithArgs("u1", "anthropic").
		WillReturnError(sql.ErrNoRows)

	st := New(db, storedb.Postgres)
	status, err := st.Status(context.Background(), "u1", "anthropic")
	require.NoError(t, err)
	require.False(t, status.Present)
}

func TestUnlockWrongSecretAndMissingEntryLookIdentical(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectQuery("SELECT ciphertext, salt").
		WithArgs("u1", "anthropic").
		WillReturnError(sql.ErrNoRows)

	st := New(db, storedb.Postgres)
	_, err = st.Unlock(context.Background(), "u1", "anthropic", "wrong")
	ge, ok := gwerr.As(err)
	require.True(t, ok)
	require.Equal(t, gwerr.DecryptAuthFailed, ge.Kind)
	require.Equal(t, errDecryptAuthFailed.Error(), err.Error())
}

func TestDeleteIsIdempotent(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectExec("DELETE FROM byok_entries").WithArgs("u1", "anthropic").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec("DELETE FROM byok_entries").WithArgs("u1", "anthropic").WillReturnResult(sqlmock.NewResult(0, 0))

	st := New(db, storedb.Postgres)
	require.NoError(t, st.Delete(context.Background(), "u1", "anthropic"))
	require.NoError(t, st.Delete(context.Background(), "u1", "anthropic"))
}
