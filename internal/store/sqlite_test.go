package store

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
)

func TestSQLiteGetAbsent(t *testing.T) {
	db := openTestDB(t)
	defer db.Close()

	scope := db.Scope("c1")
	_, ok, err := scope.Get(context.Background(), "state")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if ok {
		t.Error("expected absent key, got present")
	}
}

func TestSQLitePutGetDelete(t *testing.T) {
	db := openTestDB(t)
	defer db.Close()

	ctx := context.Background()
	scope := db.Scope("c1")

	if err := scope.Put(ctx, "state", "starting"); err != nil {
		t.Fatalf("Put failed: %v", err)
	}
	value, ok, err := scope.Get(ctx, "state")
	if err != nil || !ok {
		t.Fatalf("Get = (%q, %v, %v), want present", value, ok, err)
	}
	if value != "starting" {
		t.Errorf("Get = %q, want %q", value, "starting")
	}

	// Overwrite
	if err := scope.Put(ctx, "state", "running"); err != nil {
		t.Fatalf("Put failed: %v", err)
	}
	value, _, _ = scope.Get(ctx, "state")
	if value != "running" {
		t.Errorf("Get after overwrite = %q, want %q", value, "running")
	}

	if err := scope.Delete(ctx, "state"); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	_, ok, _ = scope.Get(ctx, "state")
	if ok {
		t.Error("expected key absent after delete")
	}
}

func TestSQLiteScopesAreIsolated(t *testing.T) {
	db := openTestDB(t)
	defer db.Close()

	ctx := context.Background()
	a := db.Scope("container-a")
	b := db.Scope("container-b")

	if err := a.Put(ctx, "state", "running"); err != nil {
		t.Fatalf("Put failed: %v", err)
	}
	if err := b.Put(ctx, "state", "failed"); err != nil {
		t.Fatalf("Put failed: %v", err)
	}

	if err := a.DeleteAll(ctx); err != nil {
		t.Fatalf("DeleteAll failed: %v", err)
	}

	if _, ok, _ := a.Get(ctx, "state"); ok {
		t.Error("scope a should be empty after DeleteAll")
	}
	if value, ok, _ := b.Get(ctx, "state"); !ok || value != "failed" {
		t.Errorf("scope b lost data: (%q, %v)", value, ok)
	}
}

func TestSQLiteSurvivesReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "warden.db")
	ctx := context.Background()

	db, err := OpenSQLite(path)
	if err != nil {
		t.Fatalf("OpenSQLite failed: %v", err)
	}
	if err := db.Scope("c1").Put(ctx, "state", "unhealthy"); err != nil {
		t.Fatalf("Put failed: %v", err)
	}
	if err := db.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	// A restarted instance must see the last durable write.
	db, err = OpenSQLite(path)
	if err != nil {
		t.Fatalf("reopen failed: %v", err)
	}
	defer db.Close()

	value, ok, err := db.Scope("c1").Get(ctx, "state")
	if err != nil || !ok {
		t.Fatalf("Get after reopen = (%q, %v, %v), want present", value, ok, err)
	}
	if value != "unhealthy" {
		t.Errorf("Get after reopen = %q, want %q", value, "unhealthy")
	}
}

func TestSQLiteConcurrentWrites(t *testing.T) {
	db := openTestDB(t)
	defer db.Close()

	ctx := context.Background()
	numWriters := 20
	var wg sync.WaitGroup
	errors := make(chan error, numWriters)

	for i := 0; i < numWriters; i++ {
		wg.Add(1)
		go func(idx int) {
			defer wg.Done()
			scope := db.Scope(fmt.Sprintf("container-%d", idx))
			if err := scope.Put(ctx, "state", "starting"); err != nil {
				errors <- fmt.Errorf("writer %d: %w", idx, err)
			}
		}(i)
	}

	wg.Wait()
	close(errors)
	for err := range errors {
		t.Errorf("concurrent write error: %v", err)
	}

	for i := 0; i < numWriters; i++ {
		value, ok, err := db.Scope(fmt.Sprintf("container-%d", i)).Get(ctx, "state")
		if err != nil || !ok || value != "starting" {
			t.Errorf("container-%d: Get = (%q, %v, %v)", i, value, ok, err)
		}
	}
}

func openTestDB(t *testing.T) *SQLiteDB {
	t.Helper()
	db, err := OpenSQLite(filepath.Join(t.TempDir(), "warden.db"))
	if err != nil {
		t.Fatalf("OpenSQLite failed: %v", err)
	}
	return db
}
