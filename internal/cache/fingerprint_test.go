package cache

import (
	"os"
	"path/filepath"
	"testing"
)

func TestFingerprint_Deterministic(t *testing.T) {
	a := Fingerprint([]byte("hello"))
	b := Fingerprint([]byte("hello"))
	if a != b {
		t.Errorf("same content produced different fingerprints: %s vs %s", a, b)
	}
	if len(a) != 64 {
		t.Errorf("fingerprint length = %d, want 64 hex chars", len(a))
	}
}

func TestFingerprint_SensitiveToContent(t *testing.T) {
	if Fingerprint([]byte("hello")) == Fingerprint([]byte("hello ")) {
		t.Error("different content should produce different fingerprints")
	}
}

func TestFingerprint_KnownValue(t *testing.T) {
	// sha256("") is a fixed constant; catches accidental algorithm drift.
	want := "e3b0c44298fc1c149afbf4c8996fb92427ae41e4649b934ca495991b7852b855"
	if got := Fingerprint(nil); got != want {
		t.Errorf("Fingerprint(nil) = %s, want %s", got, want)
	}
}

func TestFingerprintFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "input.txt")
	if err := os.WriteFile(path, []byte("file content"), 0o644); err != nil {
		t.Fatal(err)
	}

	got, err := FingerprintFile(path)
	if err != nil {
		t.Fatalf("FingerprintFile returned %v", err)
	}
	if want := Fingerprint([]byte("file content")); got != want {
		t.Errorf("FingerprintFile = %s, want %s", got, want)
	}
}

func TestFingerprintFile_Missing(t *testing.T) {
	if _, err := FingerprintFile(filepath.Join(t.TempDir(), "absent")); err == nil {
		t.Error("FingerprintFile of a missing file should fail")
	}
}

func TestKey_ID(t *testing.T) {
	base := Key{Fingerprint: "fp", Scope: "build", Target: "out"}

	if base.ID() != base.ID() {
		t.Error("Key.ID should be deterministic")
	}

	variants := []Key{
		{Fingerprint: "fp2", Scope: "build", Target: "out"},
		{Fingerprint: "fp", Scope: "api", Target: "out"},
		{Fingerprint: "fp", Scope: "build", Target: "other"},
	}
	for _, v := range variants {
		if v.ID() == base.ID() {
			t.Errorf("key %+v should not collide with %+v", v, base)
		}
	}

	// NUL joining keeps shifted boundaries apart.
	a := Key{Fingerprint: "ab", Scope: "c", Target: ""}
	b := Key{Fingerprint: "a", Scope: "bc", Target: ""}
	if a.ID() == b.ID() {
		t.Error("keys with shifted field boundaries must not collide")
	}
}
