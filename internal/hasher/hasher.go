// Package hasher fingerprints image bytes for use as cache keys.
package hasher

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"
)

// ContentHasher produces a stable key for image content.
type ContentHasher interface {
	HashFile(path string) (string, error)
}

// SHA256 hashes full file contents with SHA-256 (hex encoded).
type SHA256 struct{}

// HashReader hashes everything readable from r.
func (SHA256) HashReader(r io.Reader) (string, error) {
	h := sha256.New()
	if _, err := io.Copy(h, r); err != nil {
		return "", fmt.Errorf("failed to hash content: %w", err)
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// HashBytes hashes b.
func (SHA256) HashBytes(b []byte) string {
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}

// HashFile hashes the file at path.
func (s SHA256) HashFile(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("failed to open %s: %w", path, err)
	}
	defer f.Close()
	return s.HashReader(f)
}
