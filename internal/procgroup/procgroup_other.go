// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

//go:build !unix

package procgroup

import (
	"os/exec"
	"syscall"
)

// Signal is the platform signal type.
type Signal = syscall.Signal

const (
	SIGTERM Signal = syscall.SIGTERM
	SIGKILL Signal = syscall.SIGKILL
)

func set(*exec.Cmd) {}

// Without process groups only the direct child is reached, and only by
// SIGKILL; SIGTERM waits for the forced kill.
func kill(cmd *exec.Cmd, sig Signal) error {
	if sig == SIGKILL {
		return cmd.Process.Kill()
	}
	return nil
}
