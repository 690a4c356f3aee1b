package integrity

import (
	"os"
	"path/filepath"
	"testing"
)

func TestChecksumVerify(t *testing.T) {
	data := []byte("rule store content")
	sum := Checksum(data)

	if len(sum) != 64 {
		t.Errorf("expected 64 hex chars, got %d", len(sum))
	}
	if !Verify(data, sum) {
		t.Error("data must verify against its own checksum")
	}
	if !Verify(data, "  "+sum+"\n") {
		t.Error("surrounding whitespace in the stored checksum must be tolerated")
	}
	if Verify([]byte("tampered"), sum) {
		t.Error("different data must fail verification")
	}
}

func TestSidecarRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "store.json")
	data := []byte(`[{"id":"x"}]`)

	if err := WriteSidecar(path, data, 0600); err != nil {
		t.Fatalf("WriteSidecar: %v", err)
	}
	if err := VerifySidecar(path, data); err != nil {
		t.Errorf("VerifySidecar after write: %v", err)
	}
	if err := VerifySidecar(path, []byte("tampered")); err == nil {
		t.Error("expected mismatch error for tampered data")
	}
}

func TestVerifySidecarMissingFileOK(t *testing.T) {
	path := filepath.Join(t.TempDir(), "store.json")
	if err := VerifySidecar(path, []byte("anything")); err != nil {
		t.Errorf("missing sidecar must verify, got %v", err)
	}
}

func TestSidecarPermissions(t *testing.T) {
	path := filepath.Join(t.TempDir(), "store.json")
	if err := WriteSidecar(path, []byte("data"), 0600); err != nil {
		t.Fatal(err)
	}

	info, err := os.Stat(SidecarPath(path))
	if err != nil {
		t.Fatal(err)
	}
	if perm := info.Mode().Perm(); perm != 0600 {
		t.Errorf("sidecar mode = %o, want 0600", perm)
	}
}
