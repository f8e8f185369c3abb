package hls

import (
	"context"
	"time"

	"github.com/ManuGH/chanstream/internal/metrics"
	"github.com/ManuGH/chanstream/internal/pipeline/exec/ffmpeg"
)

// RunResult is the outcome of one transcoder run.
type RunResult struct {
	Status ffmpeg.ExitStatus
	// Stderr holds the last lines the process wrote to stderr.
	Stderr []string
}

// Runner executes transcoder invocations for a session.
type Runner interface {
	Run(ctx context.Context, channel string, inv Invocation) (RunResult, error)
}

// ProcessRunner runs invocations as ffmpeg processes.
type ProcessRunner struct {
	Bin         string
	Counter     *ffmpeg.Counter
	KillTimeout time.Duration
	// OnSpeed receives progress speed reports in addition to the metrics.
	OnSpeed func(channel string, workAhead bool, speed float64)
}

const stderrTailLines = 50

// Run starts the process and blocks until it exits. When ctx is cancelled the
// process is stopped and ctx.Err() is returned once it has exited.
func (r ProcessRunner) Run(ctx context.Context, channel string, inv Invocation) (RunResult, error) {
	p, err := ffmpeg.Start(ctx, r.Bin, inv.Command, ffmpeg.Options{
		Kind:          inv.Kind,
		CaptureStderr: true,
		OnSpeed: func(speed float64) {
			metrics.SetTranscoderSpeed(channel, speed)
			if r.OnSpeed != nil {
				r.OnSpeed(channel, !inv.Realtime, speed)
			}
		},
		KillTimeout: r.KillTimeout,
		Counter:     r.Counter,
	})
	if err != nil {
		return RunResult{}, err
	}

	<-p.Done()
	status, err := p.Wait(context.Background())
	res := RunResult{Status: status, Stderr: p.LastLogLines(stderrTailLines)}
	if err != nil {
		return res, err
	}
	return res, ctx.Err()
}
