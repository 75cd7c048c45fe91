package bolt_test

import (
	"context"
	"path/filepath"
	"testing"

	"go.uber.org/zap"

	"github.com/seu-repo/sigec-ve-client/internal/adapter/storage/bolt"
	"github.com/seu-repo/sigec-ve-client/internal/domain"
)

func openStore(t *testing.T, path string) *bolt.RememberedStore {
	t.Helper()
	s, err := bolt.NewRememberedStore(path, zap.NewNop())
	if err != nil {
		t.Fatalf("failed to open store: %v", err)
	}
	return s
}

func TestGetUnknownReturnsZero(t *testing.T) {
	s := openStore(t, filepath.Join(t.TempDir(), "sessions.db"))
	defer s.Close()

	id, err := s.Get(context.Background(), "CP-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if id.Valid() {
		t.Fatalf("expected nothing remembered, got %s", id)
	}
}

func TestPutSurvivesReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "data", "sessions.db")
	ctx := context.Background()

	s := openStore(t, path)
	if err := s.Put(ctx, "CP-1", 42); err != nil {
		t.Fatalf("put failed: %v", err)
	}
	// Same value again is a no-op.
	if err := s.Put(ctx, "CP-1", 42); err != nil {
		t.Fatalf("second put failed: %v", err)
	}
	s.Close()

	s = openStore(t, path)
	defer s.Close()

	id, err := s.Get(ctx, "CP-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if id != domain.TransactionID(42) {
		t.Fatalf("expected 42, got %s", id)
	}
}

func TestDeleteIsIdempotent(t *testing.T) {
	s := openStore(t, filepath.Join(t.TempDir(), "sessions.db"))
	defer s.Close()
	ctx := context.Background()

	if err := s.Put(ctx, "CP-1", 42); err != nil {
		t.Fatalf("put failed: %v", err)
	}
	for i := 0; i < 2; i++ {
		if err := s.Delete(ctx, "CP-1"); err != nil {
			t.Fatalf("delete %d failed: %v", i, err)
		}
	}

	id, _ := s.Get(ctx, "CP-1")
	if id.Valid() {
		t.Fatalf("expected cleared, got %s", id)
	}
}

func TestPutZeroClears(t *testing.T) {
	s := openStore(t, filepath.Join(t.TempDir(), "sessions.db"))
	defer s.Close()
	ctx := context.Background()

	_ = s.Put(ctx, "CP-1", 42)
	if err := s.Put(ctx, "CP-1", 0); err != nil {
		t.Fatalf("put zero failed: %v", err)
	}

	id, _ := s.Get(ctx, "CP-1")
	if id.Valid() {
		t.Fatalf("expected cleared, got %s", id)
	}
}
