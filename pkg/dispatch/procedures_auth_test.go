package dispatch

import (
	"context"
	"database/sql"
	"encoding/json"
	"log/slog"
	"testing"

	sqlmock "github.com/DATA-DOG/go-sqlmock"

	"github.com/vectorgate/gateway/pkg/registry"
	"github.com/vectorgate/gateway/pkg/secretstore"
	"github.com/vectorgate/gateway/pkg/storedb"
)

func newTestRegistry(t *testing.T) *registry.Registry {
	t.Helper()
	fallback, err := registry.LoadEmbeddedFallback()
	if err != nil {
		t.Fatalf("load embedded fallback: %v", err)
	}
	return registry.New(fallback, nil, slog.Default())
}

func TestAuthGetUserKeyAbsent(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	defer db.Close()

	mock.ExpectQuery("SELECT created_at, rotated_at").
		WithArgs("user-1", "anthropic").
		WillReturnError(sql.ErrNoRows)

	store := secretstore.New(db, storedb.Postgres)
	reg := NewRegistry()
	if err := registerAuthProcedures(reg, store, newTestRegistry(t)); err != nil {
		t.Fatalf("register: %v", err)
	}

	raw := json.RawMessage(`{"provider":"anthropic"}`)
	result, err := reg.Invoke(context.Background(), "auth.getUserKey", testPrincipal{id: "user-1"}, raw)
	if err != nil {
		t.Fatalf("invoke: %v", err)
	}
	m, ok := result.(map[string]any)
	if !ok || m["present"] != false {
		t.Fatalf("unexpected result: %+v", result)
	}
}

func TestAuthValidateUserKeyWrongSecretReturnsFalseNotError(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	defer db.Close()

	mock.ExpectQuery("SELECT ciphertext, salt").
		WithArgs("user-1", "anthropic").
		WillReturnError(sql.ErrNoRows)

	store := secretstore.New(db, storedb.Postgres)
	reg := NewRegistry()
	if err := registerAuthProcedures(reg, store, newTestRegistry(t)); err != nil {
		t.Fatalf("register: %v", err)
	}

	raw := json.RawMessage(`{"provider":"anthropic","unlockSecret":"wrong"}`)
	result, err := reg.Invoke(context.Background(), "auth.validateUserKey", testPrincipal{id: "user-1"}, raw)
	if err != nil {
		t.Fatalf("invoke should not error on a failed unlock: %v", err)
	}
	m, ok := result.(map[string]any)
	if !ok || m["valid"] != false {
		t.Fatalf("expected valid=false, got %+v", result)
	}
}

func TestAuthProceduresRejectAnonymous(t *testing.T) {
	db, _, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	defer db.Close()

	store := secretstore.New(db, storedb.Postgres)
	reg := NewRegistry()
	if err := registerAuthProcedures(reg, store, newTestRegistry(t)); err != nil {
		t.Fatalf("register: %v", err)
	}

	raw := json.RawMessage(`{"provider":"anthropic"}`)
	if _, err := reg.Invoke(context.Background(), "auth.getUserKey", nil, raw); err == nil {
		t.Fatal("expected an error for an anonymous caller")
	}
}

func TestAuthGetUserProvidersListsEligibleProviders(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	defer db.Close()

	mock.MatchExpectationsInOrder(false)
	store := secretstore.New(db, storedb.Postgres)
	reg := NewRegistry()
	rgy := newTestRegistry(t)
	for range rgy.ListBYOKProviders() {
		mock.ExpectQuery("SELECT created_at, rotated_at").WillReturnError(sql.ErrNoRows)
	}
	if err := registerAuthProcedures(reg, store, rgy); err != nil {
		t.Fatalf("register: %v", err)
	}

	result, err := reg.Invoke(context.Background(), "auth.getUserProviders", testPrincipal{id: "user-1"}, nil)
	if err != nil {
		t.Fatalf("invoke: %v", err)
	}
	m, ok := result.(map[string]any)
	if !ok {
		t.Fatalf("unexpected result shape: %+v", result)
	}
	if _, ok := m["providers"]; !ok {
		t.Fatalf("expected a providers key, got %+v", m)
	}
}
