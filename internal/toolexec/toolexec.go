// Package toolexec runs external text-producing tools with a bounded
// timeout. It is the only place SentryBar spawns subprocesses.
//
// The contract is deliberately forgiving: any failure (spawn error,
// non-zero exit, timeout) yields an empty string, never an error. The
// monitoring loop treats an empty capture as "no data this cycle" and
// retries naturally on the next tick.
package toolexec

import (
	"bytes"
	"context"
	"os/exec"
	"time"

	"github.com/constripacity/SentryBar/internal/logging"
)

// DefaultTimeout bounds tool invocations that don't specify their own.
const DefaultTimeout = 5 * time.Second

// Runner executes external commands and captures their standard output.
type Runner struct {
	log *logging.Logger
}

// NewRunner creates a Runner.
func NewRunner() *Runner {
	return &Runner{log: logging.ToolLogger()}
}

// Capture runs the command and returns its standard output as text.
// On any failure it returns the empty string. Standard error is
// discarded so tool diagnostics never leak downstream. The subprocess
// is force-killed when the timeout elapses; stdout is drained through
// an in-memory buffer concurrently with the wait, so a chatty tool
// cannot deadlock against a full pipe.
func (r *Runner) Capture(ctx context.Context, timeout time.Duration, argv []string) string {
	if len(argv) == 0 {
		return ""
	}
	if timeout <= 0 {
		timeout = DefaultTimeout
	}

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, argv[0], argv[1:]...)

	var stdout bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = nil // discarded

	// If the tool ignores the kill signal's pipe teardown, don't wait
	// on its copy goroutine forever.
	cmd.WaitDelay = 2 * time.Second

	start := time.Now()
	err := cmd.Run()
	elapsed := time.Since(start)

	if err != nil {
		if ctx.Err() == context.DeadlineExceeded {
			r.log.Warn("tool timed out",
				"command", argv[0],
				"timeout", timeout,
			)
		} else {
			r.log.Debug("tool failed",
				"command", argv[0],
				"elapsed", elapsed,
				logging.Err(err),
			)
		}
		return ""
	}

	r.log.Debug("tool completed",
		"command", argv[0],
		"elapsed", elapsed,
		"output_bytes", stdout.Len(),
	)
	return stdout.String()
}

// CaptureTimed runs Capture and also reports the measured wall-clock
// duration of the invocation. The bandwidth sampler needs the real
// elapsed time, not the nominal interval, for rate math.
func (r *Runner) CaptureTimed(ctx context.Context, timeout time.Duration, argv []string) (string, time.Duration) {
	start := time.Now()
	out := r.Capture(ctx, timeout, argv)
	return out, time.Since(start)
}
