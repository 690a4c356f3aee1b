// Package integrity provides BLAKE3 content checksums for SentryBar's
// durable state. The rule store writes a checksum beside every file it
// persists; a mismatch at load time marks the file as corrupt.
package integrity

import (
	"encoding/hex"
	"fmt"
	"os"
	"strings"

	"github.com/zeebo/blake3"
)

// Checksum computes the BLAKE3 hash of data as a hex string.
func Checksum(data []byte) string {
	sum := blake3.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// Verify reports whether data matches the expected hex checksum.
// Comparison is case-insensitive on the hex digits.
func Verify(data []byte, expected string) bool {
	return strings.EqualFold(Checksum(data), strings.TrimSpace(expected))
}

// SidecarPath returns the checksum file location for a stored file.
func SidecarPath(path string) string {
	return path + ".b3"
}

// WriteSidecar writes the checksum of data next to the stored file.
// The sidecar carries the same owner-only permissions as the store.
func WriteSidecar(path string, data []byte, perm os.FileMode) error {
	sum := Checksum(data) + "\n"
	if err := os.WriteFile(SidecarPath(path), []byte(sum), perm); err != nil {
		return fmt.Errorf("write checksum sidecar: %w", err)
	}
	return nil
}

// VerifySidecar checks data against the stored sidecar checksum.
// A missing sidecar verifies successfully: stores written before
// checksumming existed remain loadable. A present but mismatched
// sidecar fails.
func VerifySidecar(path string, data []byte) error {
	raw, err := os.ReadFile(SidecarPath(path))
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("read checksum sidecar: %w", err)
	}

	if !Verify(data, string(raw)) {
		return fmt.Errorf("checksum mismatch for %s", path)
	}
	return nil
}
