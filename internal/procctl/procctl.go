// Package procctl is the process-termination boundary. It enforces the
// safety checks the monitor must honor before signalling any process:
// low pids are rejected outright, and root-owned processes are never
// touched.
package procctl

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"golang.org/x/sys/unix"

	"github.com/constripacity/SentryBar/internal/logging"
	"github.com/constripacity/SentryBar/internal/toolexec"
)

// ErrProtectedPID is returned for pid <= 1.
var ErrProtectedPID = errors.New("refusing to signal protected pid")

// ErrRootOwned is returned when the target process belongs to the
// superuser.
var ErrRootOwned = errors.New("refusing to signal root-owned process")

// ErrPermission is returned when the kernel rejects the signal.
var ErrPermission = errors.New("permission denied signalling process")

// ownerQueryTimeout bounds the ownership lookup.
const ownerQueryTimeout = 5 * time.Second

// Terminator sends termination signals after safety validation. The
// ownership check goes through the external tool runner; only the
// validated numeric pid is ever placed in the command line.
type Terminator struct {
	runner *toolexec.Runner
	log    *logging.Logger
}

// NewTerminator creates a Terminator using runner for owner queries.
func NewTerminator(runner *toolexec.Runner) *Terminator {
	return &Terminator{
		runner: runner,
		log:    logging.ProcctlLogger(),
	}
}

// Owner returns the username owning pid, or "" when it cannot be
// determined (missing process, tool failure).
func (t *Terminator) Owner(ctx context.Context, pid int) string {
	if pid <= 0 {
		return ""
	}
	out := t.runner.Capture(ctx, ownerQueryTimeout,
		[]string{"ps", "-o", "user=", "-p", strconv.Itoa(pid)})
	return strings.TrimSpace(out)
}

// Terminate sends SIGTERM to pid after validating that it is neither a
// protected low pid nor owned by root. Failures are definite: the
// caller gets an error and no signal was sent, or nil and the signal
// was delivered.
func (t *Terminator) Terminate(ctx context.Context, pid int) error {
	if pid <= 1 {
		return fmt.Errorf("%w: %d", ErrProtectedPID, pid)
	}

	owner := t.Owner(ctx, pid)
	if owner == "root" {
		t.log.Warn("terminate refused", "pid", pid, "owner", owner)
		return fmt.Errorf("%w: pid %d", ErrRootOwned, pid)
	}

	err := unix.Kill(pid, unix.SIGTERM)
	switch {
	case err == nil:
		t.log.Info("process signalled", "pid", pid, "signal", "SIGTERM")
		return nil
	case errors.Is(err, unix.EPERM):
		return fmt.Errorf("%w: pid %d", ErrPermission, pid)
	case errors.Is(err, unix.ESRCH):
		return fmt.Errorf("pid %d no longer exists: %w", pid, err)
	default:
		return fmt.Errorf("signal pid %d: %w", pid, err)
	}
}
