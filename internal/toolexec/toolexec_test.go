package toolexec

import (
	"context"
	"testing"
	"time"
)

func TestCaptureStdout(t *testing.T) {
	r := NewRunner()
	out := r.Capture(context.Background(), time.Second, []string{"echo", "hello"})
	if out != "hello\n" {
		t.Errorf("Capture(echo hello) = %q, want %q", out, "hello\n")
	}
}

func TestCaptureFailuresYieldEmpty(t *testing.T) {
	r := NewRunner()

	tests := []struct {
		name string
		argv []string
	}{
		{"empty argv", nil},
		{"missing binary", []string{"definitely-not-a-real-binary-xyz"}},
		{"nonzero exit", []string{"false"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if out := r.Capture(context.Background(), time.Second, tt.argv); out != "" {
				t.Errorf("expected empty string, got %q", out)
			}
		})
	}
}

func TestCaptureTimeout(t *testing.T) {
	r := NewRunner()

	start := time.Now()
	out := r.Capture(context.Background(), 100*time.Millisecond, []string{"sleep", "10"})
	elapsed := time.Since(start)

	if out != "" {
		t.Errorf("timed-out capture must be empty, got %q", out)
	}
	if elapsed > 5*time.Second {
		t.Errorf("capture did not respect the timeout, took %v", elapsed)
	}
}

func TestCaptureStderrDiscarded(t *testing.T) {
	r := NewRunner()
	out := r.Capture(context.Background(), time.Second,
		[]string{"sh", "-c", "echo visible; echo noise >&2"})
	if out != "visible\n" {
		t.Errorf("stderr must not reach the capture, got %q", out)
	}
}

func TestCaptureTimedReportsElapsed(t *testing.T) {
	r := NewRunner()
	out, elapsed := r.CaptureTimed(context.Background(), time.Second, []string{"echo", "x"})
	if out != "x\n" {
		t.Errorf("unexpected output %q", out)
	}
	if elapsed <= 0 {
		t.Errorf("elapsed must be positive, got %v", elapsed)
	}
}
