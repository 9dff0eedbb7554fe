// Package hashing computes the content digests used for change detection.
package hashing

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"
)

// Digest returns the hex SHA256 digest of data.
func Digest(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// DigestReader streams r through SHA256 and returns the hex digest and byte count.
// Memory use is constant regardless of input size.
func DigestReader(r io.Reader) (string, int64, error) {
	h := sha256.New()
	n, err := io.Copy(h, r)
	if err != nil {
		return "", n, fmt.Errorf("failed to hash content: %w", err)
	}
	return hex.EncodeToString(h.Sum(nil)), n, nil
}

// DigestFile hashes the file at path without loading it into memory.
func DigestFile(path string) (string, int64, error) {
	//nolint:gosec // G304: path is a managed content file
	f, err := os.Open(path)
	if err != nil {
		return "", 0, fmt.Errorf("failed to open %s: %w", path, err)
	}
	defer func() { _ = f.Close() }()

	return DigestReader(f)
}
