package storage_test

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/md-rashed-zaman/planner/services/calendar-service/internal/storage"
	"github.com/md-rashed-zaman/planner/services/calendar-service/internal/storage/storetest"
)

func openSQLite(t *testing.T) storage.Store {
	t.Helper()
	s, err := storage.OpenSQLite(context.Background(), filepath.Join(t.TempDir(), "calendar-test.db"))
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestSQLiteStore(t *testing.T) {
	storetest.Run(t, openSQLite)
}

func TestSQLiteMigrateIsIdempotent(t *testing.T) {
	s, err := storage.OpenSQLite(context.Background(), filepath.Join(t.TempDir(), "twice.db"))
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	defer s.Close()
	if err := s.Migrate(context.Background()); err != nil {
		t.Fatalf("second migrate: %v", err)
	}
}
