// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package httpapi

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"runtime"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/ManuGH/chanstream/internal/pipeline/exec/ffmpeg"
)

func script(t *testing.T, body string) string {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("shell scripts required")
	}
	path := filepath.Join(t.TempDir(), "ffmpeg")
	require.NoError(t, os.WriteFile(path, []byte("#!/bin/sh\n"+body), 0o755))
	return path
}

func TestProcessStreamer_CopiesStdout(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	counter := &ffmpeg.Counter{}
	s := ProcessStreamer{Bin: script(t, `printf '%s ' "$@"`), Counter: counter}
	var out bytes.Buffer

	err := s.Stream(context.Background(), "concat", ffmpeg.Command{Args: []string{"-i", "pipe:0"}}, &out)
	require.NoError(t, err)
	assert.Equal(t, "-i pipe:0 ", out.String())
	assert.Zero(t, counter.Live())
}

func TestProcessStreamer_ExitCode(t *testing.T) {
	s := ProcessStreamer{Bin: script(t, "exit 3\n")}
	err := s.Stream(context.Background(), "stream", ffmpeg.Command{}, &bytes.Buffer{})
	assert.ErrorContains(t, err, "exited with code 3")
}

func TestProcessStreamer_ClientGone(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	s := ProcessStreamer{Bin: script(t, "exec sleep 30\n"), KillTimeout: time.Second}
	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()

	start := time.Now()
	err := s.Stream(ctx, "stream", ffmpeg.Command{}, &bytes.Buffer{})
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Less(t, time.Since(start), 10*time.Second)
}
