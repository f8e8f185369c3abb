// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package ffmpeg

import (
	"bytes"
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/ManuGH/chanstream/internal/validate"
)

func requireShell(t *testing.T) {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("uses sh, unsupported on windows")
	}
	if _, err := exec.LookPath("sh"); err != nil {
		t.Skip("sh not found")
	}
}

func shell(script string) Command {
	return Command{Args: []string{"-c", script}}
}

func TestProcess_ExitCodeIsNotAnError(t *testing.T) {
	requireShell(t)
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	var counter Counter
	p, err := Start(context.Background(), "sh", shell("echo 'Error opening input' >&2; exit 3"), Options{
		CaptureStderr: true,
		Counter:       &counter,
	})
	require.NoError(t, err)
	assert.NotEmpty(t, p.ID)

	status, err := p.Wait(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, status.Code)
	assert.Equal(t, "error", status.Reason)
	assert.Equal(t, []string{"Error opening input"}, p.LastLogLines(5))
	assert.Equal(t, int64(0), counter.Live())
}

func TestProcess_StdoutAndEnvironment(t *testing.T) {
	requireShell(t)
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	var out bytes.Buffer
	cmd := shell("echo \"$CHANSTREAM_TEST\"")
	cmd.Env = []string{"CHANSTREAM_TEST=hello"}

	p, err := Start(context.Background(), "sh", cmd, Options{Stdout: &out})
	require.NoError(t, err)

	status, err := p.Wait(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, status.Code)
	assert.Equal(t, "clean", status.Reason)
	assert.Equal(t, "hello\n", out.String())
	assert.Nil(t, p.LastLogLines(5), "stderr is discarded unless captured")
}

func TestProcess_CounterTracksLiveHandles(t *testing.T) {
	requireShell(t)
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	var counter Counter
	ctx := context.Background()
	procs := make([]*Process, 0, 3)
	for i := 0; i < 3; i++ {
		p, err := Start(ctx, "sh", shell("sleep 10"), Options{Counter: &counter, KillTimeout: time.Second})
		require.NoError(t, err)
		procs = append(procs, p)
	}
	assert.Equal(t, int64(3), counter.Live())

	for _, p := range procs {
		require.NoError(t, p.Stop(ctx))
		// stopping twice must not release the count twice
		require.NoError(t, p.Stop(ctx))
	}
	assert.Equal(t, int64(0), counter.Live())
}

func TestProcess_StopKillsAfterTimeout(t *testing.T) {
	requireShell(t)
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	killTimeout := 200 * time.Millisecond
	p, err := Start(context.Background(), "sh",
		shell("trap '' TERM; while true; do sleep 1; done"),
		Options{KillTimeout: killTimeout})
	require.NoError(t, err)
	time.Sleep(100 * time.Millisecond)

	start := time.Now()
	_ = p.Stop(context.Background())
	elapsed := time.Since(start)

	status, err := p.Wait(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "signal", status.Reason)
	assert.GreaterOrEqual(t, elapsed, killTimeout)
	assert.Less(t, elapsed, 3*time.Second)
}

func TestProcess_ContextCancelStopsProcess(t *testing.T) {
	requireShell(t)
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	ctx, cancel := context.WithCancel(context.Background())
	p, err := Start(ctx, "sh", shell("sleep 10"), Options{KillTimeout: time.Second})
	require.NoError(t, err)

	cancel()

	select {
	case <-p.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("process did not stop after cancellation")
	}
	status, err := p.Wait(context.Background())
	require.NoError(t, err)
	assert.NotEqual(t, 0, status.Code)
}

func TestProcess_StartFailure(t *testing.T) {
	_, err := Start(context.Background(), filepath.Join(t.TempDir(), "missing-ffmpeg"), Command{}, Options{})
	require.Error(t, err)
}

func TestProcess_StdoutAndProgressExclusive(t *testing.T) {
	_, err := Start(context.Background(), "ffmpeg", Command{}, Options{
		Stdout:  &bytes.Buffer{},
		OnSpeed: func(float64) {},
	})
	require.Error(t, err)
}

func TestReadProgress(t *testing.T) {
	input := strings.Join([]string{
		"frame=120",
		"fps=48.0",
		"speed=1.95x",
		"progress=continue",
		"speed=N/A",
		"speed= 2.5x",
		"progress=end",
	}, "\n")

	var mu sync.Mutex
	var speeds []float64
	err := ReadProgress(context.Background(), strings.NewReader(input), func(s float64) {
		mu.Lock()
		defer mu.Unlock()
		speeds = append(speeds, s)
	})
	require.NoError(t, err)
	assert.Equal(t, []float64{1.95, 2.5}, speeds)
}

func TestReadProgress_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := ReadProgress(ctx, strings.NewReader("speed=1x\n"), nil)
	require.ErrorIs(t, err, context.Canceled)
}

func TestValidateBinaries(t *testing.T) {
	dir := t.TempDir()
	ffmpegBin := filepath.Join(dir, "ffmpeg")
	require.NoError(t, os.WriteFile(ffmpegBin, []byte("#!/bin/sh\n"), 0o755))

	require.NoError(t, ValidateBinaries(ffmpegBin, ffmpegBin))

	err := ValidateBinaries(ffmpegBin, filepath.Join(dir, "ffprobe"))
	require.Error(t, err)
	var verr validate.ValidationError
	require.ErrorAs(t, err, &verr)
	assert.True(t, verr.Has("ffprobe"))
	assert.False(t, verr.Has("ffmpeg"))
}
