// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

//go:build unix

package procgroup

import (
	"os/exec"
	"syscall"

	"github.com/ManuGH/chanstream/internal/log"
)

// Signal is the platform signal type.
type Signal = syscall.Signal

const (
	SIGTERM Signal = syscall.SIGTERM
	SIGKILL Signal = syscall.SIGKILL
)

func set(cmd *exec.Cmd) {
	if cmd.SysProcAttr == nil {
		cmd.SysProcAttr = &syscall.SysProcAttr{}
	}
	cmd.SysProcAttr.Setpgid = true
}

// kill signals the whole group led by cmd. ESRCH is passed through so the
// caller can count already-finished processes.
func kill(cmd *exec.Cmd, sig Signal) error {
	pgid, err := syscall.Getpgid(cmd.Process.Pid)
	if err != nil {
		return err
	}
	log.L().Debug().Int(log.FieldPID, cmd.Process.Pid).Str("signal", sig.String()).Msg("signalling process group")
	return syscall.Kill(-pgid, sig)
}
