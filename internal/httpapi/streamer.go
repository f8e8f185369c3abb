// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package httpapi

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/ManuGH/chanstream/internal/pipeline/exec/ffmpeg"
)

// ProcessStreamer runs ffmpeg with its stdout attached to the response.
type ProcessStreamer struct {
	Bin         string
	KillTimeout time.Duration
	Counter     *ffmpeg.Counter
}

// Stream starts cmd and blocks until it exits. Cancelling ctx stops the
// process; Stream still waits for it so nothing writes to w afterwards.
func (p ProcessStreamer) Stream(ctx context.Context, kind string, cmd ffmpeg.Command, w io.Writer) error {
	proc, err := ffmpeg.Start(ctx, p.Bin, cmd, ffmpeg.Options{
		Kind:          kind,
		Stdout:        w,
		CaptureStderr: true,
		KillTimeout:   p.KillTimeout,
		Counter:       p.Counter,
	})
	if err != nil {
		return err
	}
	<-proc.Done()
	st, err := proc.Wait(context.Background())
	if err != nil {
		return err
	}
	if ctx.Err() != nil {
		return ctx.Err()
	}
	if st.Code != 0 {
		return fmt.Errorf("ffmpeg %s exited with code %d", kind, st.Code)
	}
	return nil
}
