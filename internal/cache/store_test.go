package cache

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestOpenStore_CreatesParentDirectories(t *testing.T) {
	path := filepath.Join(t.TempDir(), "a", "b", "cache.db")

	store, err := OpenStore(path)
	if err != nil {
		t.Fatalf("OpenStore failed: %v", err)
	}
	defer store.Close()

	if _, err := os.Stat(path); os.IsNotExist(err) {
		t.Errorf("database file does not exist at %s", path)
	}
	if store.Path() != path {
		t.Errorf("Path() = %q, want %q", store.Path(), path)
	}
}

func TestOpenStore_ReopenIsIdempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cache.db")

	store, err := OpenStore(path)
	if err != nil {
		t.Fatal(err)
	}
	now := time.Now()
	entry := &Entry{
		KeyID:       "k1",
		Fingerprint: "fp",
		Scope:       "build",
		Target:      "out",
		Payload:     "result",
		CreatedAt:   now,
		LastUsed:    now,
	}
	if err := store.Put(entry); err != nil {
		t.Fatal(err)
	}
	store.Close()

	// Second open re-runs migrations against the existing schema.
	store2, err := OpenStore(path)
	if err != nil {
		t.Fatalf("reopen failed: %v", err)
	}
	defer store2.Close()

	got, err := store2.Get("k1")
	if err != nil {
		t.Fatal(err)
	}
	if got == nil || got.Payload != "result" {
		t.Errorf("entry did not survive reopen: %+v", got)
	}
}

func TestStore_GetMissingReturnsNil(t *testing.T) {
	store, err := OpenStore(filepath.Join(t.TempDir(), "cache.db"))
	if err != nil {
		t.Fatal(err)
	}
	defer store.Close()

	entry, err := store.Get("missing")
	if err != nil {
		t.Fatalf("Get returned error %v, want nil for a miss", err)
	}
	if entry != nil {
		t.Errorf("Get = %+v, want nil", entry)
	}
}

func TestStore_GetBumpsUsage(t *testing.T) {
	store, err := OpenStore(filepath.Join(t.TempDir(), "cache.db"))
	if err != nil {
		t.Fatal(err)
	}
	defer store.Close()

	now := time.Now()
	if err := store.Put(&Entry{
		KeyID: "k1", Fingerprint: "fp", Scope: "s", Target: "t",
		Payload: "p", CreatedAt: now, LastUsed: now,
	}); err != nil {
		t.Fatal(err)
	}

	for i := 1; i <= 3; i++ {
		entry, err := store.Get("k1")
		if err != nil {
			t.Fatal(err)
		}
		if entry.UseCount != int64(i) {
			t.Errorf("UseCount after read %d = %d, want %d", i, entry.UseCount, i)
		}
	}
}

func TestStore_MostUsed(t *testing.T) {
	store, err := OpenStore(filepath.Join(t.TempDir(), "cache.db"))
	if err != nil {
		t.Fatal(err)
	}
	defer store.Close()

	top, err := store.MostUsed()
	if err != nil {
		t.Fatal(err)
	}
	if top != nil {
		t.Errorf("MostUsed on empty cache = %+v, want nil", top)
	}

	now := time.Now()
	for _, e := range []*Entry{
		{KeyID: "a", Fingerprint: "f", Scope: "docs", Target: "intro", Payload: "p", CreatedAt: now, LastUsed: now},
		{KeyID: "b", Fingerprint: "f", Scope: "docs", Target: "outro", Payload: "p", CreatedAt: now, LastUsed: now},
	} {
		if err := store.Put(e); err != nil {
			t.Fatal(err)
		}
	}
	for i := 0; i < 2; i++ {
		if _, err := store.Get("b"); err != nil {
			t.Fatal(err)
		}
	}
	if _, err := store.Get("a"); err != nil {
		t.Fatal(err)
	}

	top, err = store.MostUsed()
	if err != nil {
		t.Fatal(err)
	}
	if top == nil || top.KeyID != "b" {
		t.Fatalf("MostUsed = %+v, want entry b", top)
	}
	if top.UseCount != 2 {
		t.Errorf("UseCount = %d, want 2", top.UseCount)
	}
}

func TestStore_DeleteOlderThan(t *testing.T) {
	store, err := OpenStore(filepath.Join(t.TempDir(), "cache.db"))
	if err != nil {
		t.Fatal(err)
	}
	defer store.Close()

	old := time.Now().Add(-48 * time.Hour)
	fresh := time.Now()
	entries := []*Entry{
		{KeyID: "old1", Fingerprint: "f", Scope: "s", Target: "a", Payload: "p", CreatedAt: old, LastUsed: old},
		{KeyID: "old2", Fingerprint: "f", Scope: "s", Target: "b", Payload: "p", CreatedAt: old, LastUsed: old},
		{KeyID: "new1", Fingerprint: "f", Scope: "s", Target: "c", Payload: "p", CreatedAt: fresh, LastUsed: fresh},
	}
	for _, e := range entries {
		if err := store.Put(e); err != nil {
			t.Fatal(err)
		}
	}

	n, err := store.DeleteOlderThan(time.Now().Add(-24 * time.Hour))
	if err != nil {
		t.Fatalf("DeleteOlderThan returned %v", err)
	}
	if n != 2 {
		t.Errorf("DeleteOlderThan removed %d, want 2", n)
	}

	count, size, err := store.CountAndSize()
	if err != nil {
		t.Fatal(err)
	}
	if count != 1 {
		t.Errorf("count = %d, want 1", count)
	}
	if size != int64(len("p")) {
		t.Errorf("size = %d, want %d", size, len("p"))
	}
}

func TestStore_DeleteByScope(t *testing.T) {
	store, err := OpenStore(filepath.Join(t.TempDir(), "cache.db"))
	if err != nil {
		t.Fatal(err)
	}
	defer store.Close()

	now := time.Now()
	for _, e := range []*Entry{
		{KeyID: "1", Fingerprint: "f", Scope: "api", Target: "a", Payload: "p", CreatedAt: now, LastUsed: now},
		{KeyID: "2", Fingerprint: "f", Scope: "api", Target: "b", Payload: "p", CreatedAt: now, LastUsed: now},
		{KeyID: "3", Fingerprint: "f", Scope: "build", Target: "c", Payload: "p", CreatedAt: now, LastUsed: now},
	} {
		if err := store.Put(e); err != nil {
			t.Fatal(err)
		}
	}

	n, err := store.DeleteByScope("api")
	if err != nil {
		t.Fatal(err)
	}
	if n != 2 {
		t.Errorf("DeleteByScope removed %d, want 2", n)
	}
}
