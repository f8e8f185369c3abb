// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package procgroup runs ffmpeg in its own process group so a stop reaches
// every helper it forks, then escalates from SIGTERM to SIGKILL.
package procgroup

import (
	"context"
	"errors"
	"os"
	"os/exec"
	"syscall"
	"time"

	"github.com/ManuGH/chanstream/internal/metrics"
)

// Set makes cmd lead a new process group. Call it before cmd.Start.
func Set(cmd *exec.Cmd) {
	set(cmd)
}

// Terminate stops the group of cmd and returns the result read from waitCh.
// SIGTERM goes first; SIGKILL follows once grace has passed or ctx is done.
// A command that never started returns nil.
func Terminate(ctx context.Context, cmd *exec.Cmd, waitCh <-chan error, grace time.Duration) error {
	if cmd == nil || cmd.Process == nil {
		return nil
	}

	signalGroup(cmd, SIGTERM, "SIGTERM")

	timer := time.NewTimer(grace)
	defer timer.Stop()

	select {
	case err := <-waitCh:
		metrics.IncProcWait(waitOutcome("", err))
		return err
	case <-timer.C:
	case <-ctx.Done():
	}

	signalGroup(cmd, SIGKILL, "SIGKILL")
	err := <-waitCh
	metrics.IncProcWait(waitOutcome("forced_", err))
	return err
}

func waitOutcome(prefix string, err error) string {
	switch {
	case err == nil:
		return prefix + "exit0"
	case prefix == "":
		return "exit_nonzero"
	default:
		return prefix + "error"
	}
}

func signalGroup(cmd *exec.Cmd, sig Signal, name string) {
	err := kill(cmd, sig)
	switch {
	case err == nil:
		metrics.IncProcTerminate(name, "sent")
	case errors.Is(err, os.ErrProcessDone), errors.Is(err, syscall.ESRCH):
		metrics.IncProcTerminate(name, "esrch")
	default:
		metrics.IncProcTerminate(name, "error")
	}
}
