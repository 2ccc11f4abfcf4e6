// Package cache provides the content-addressable result cache. Entries are
// keyed by (input fingerprint, scope, target) so a result is reused only
// while the inputs that produced it are unchanged.
package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"
)

// Fingerprint returns the hex SHA-256 of the given content.
func Fingerprint(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// FingerprintFile returns the hex SHA-256 of a file's content, streaming
// so large inputs never load fully into memory.
func FingerprintFile(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", fmt.Errorf("hash %s: %w", path, err)
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// Key identifies a cached result: the fingerprint of the inputs, the scope
// the result belongs to, and the target it produces.
type Key struct {
	Fingerprint string
	Scope       string
	Target      string
}

// ID collapses the key into a single stable primary key. The parts are
// NUL-joined before hashing so distinct keys cannot collide by
// concatenation.
func (k Key) ID() string {
	h := sha256.New()
	h.Write([]byte(k.Fingerprint))
	h.Write([]byte{0})
	h.Write([]byte(k.Scope))
	h.Write([]byte{0})
	h.Write([]byte(k.Target))
	return hex.EncodeToString(h.Sum(nil))
}
