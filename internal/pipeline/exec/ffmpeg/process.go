// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package ffmpeg

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/ManuGH/chanstream/internal/log"
	"github.com/ManuGH/chanstream/internal/metrics"
	"github.com/ManuGH/chanstream/internal/procgroup"
)

const (
	DefaultKillTimeout = 5 * time.Second

	stderrRingLines = 256
)

// Counter tracks live process handles. Each handle releases its count
// exactly once, on exit.
type Counter struct {
	live atomic.Int64
}

// Live returns the number of handles that have not exited yet.
func (c *Counter) Live() int64 {
	if c == nil {
		return 0
	}
	return c.live.Load()
}

func (c *Counter) acquire() {
	if c != nil {
		c.live.Add(1)
	}
}

func (c *Counter) release() {
	if c != nil {
		c.live.Add(-1)
	}
}

// ExitStatus describes how a process ended. A non-zero Code is a normal
// outcome for a transcoder run, not an error.
type ExitStatus struct {
	Code      int
	Reason    string
	StartedAt time.Time
	EndedAt   time.Time
}

// Options configures a process launch.
type Options struct {
	// Kind labels metrics, e.g. "transcode", "concat" or "error".
	Kind string
	// Stdout receives the output for pipe:1 targets. Nil discards it.
	Stdout io.Writer
	// CaptureStderr keeps the last lines of stderr for diagnostics.
	CaptureStderr bool
	// OnSpeed enables -progress output on stdout and reports the parsed
	// encode speed. It must not be combined with Stdout.
	OnSpeed     func(speed float64)
	KillTimeout time.Duration
	Counter     *Counter
}

// Process is a single ffmpeg run.
type Process struct {
	ID   string
	Kind string

	cmd         *exec.Cmd
	ring        *LineRing
	counter     *Counter
	killTimeout time.Duration

	started time.Time
	done    chan struct{}
	waitErr error
	status  ExitStatus

	progressDone chan struct{}
	releaseOnce  sync.Once
}

// Start launches bin with the assembled command. The process gets no stdin
// and runs in its own process group.
func Start(ctx context.Context, bin string, command Command, opts Options) (*Process, error) {
	if opts.Stdout != nil && opts.OnSpeed != nil {
		return nil, errors.New("ffmpeg: stdout and progress reporting are exclusive")
	}
	if opts.Kind == "" {
		opts.Kind = "transcode"
	}
	if opts.KillTimeout <= 0 {
		opts.KillTimeout = DefaultKillTimeout
	}

	args := command.Args
	if opts.OnSpeed != nil {
		args = append([]string{"-progress", "pipe:1"}, args...)
	}

	p := &Process{
		ID:          uuid.NewString(),
		Kind:        opts.Kind,
		counter:     opts.Counter,
		killTimeout: opts.KillTimeout,
		done:        make(chan struct{}),
	}

	// #nosec G204 -- arguments are assembled without a shell
	cmd := exec.Command(bin, args...)
	procgroup.Set(cmd)
	cmd.Env = append(os.Environ(), command.Env...)
	cmd.Stdout = opts.Stdout
	if opts.CaptureStderr {
		p.ring = NewLineRing(stderrRingLines)
		cmd.Stderr = p.ring
	}

	var progress io.ReadCloser
	if opts.OnSpeed != nil {
		var err error
		progress, err = cmd.StdoutPipe()
		if err != nil {
			return nil, fmt.Errorf("ffmpeg: progress pipe: %w", err)
		}
	}

	logger := log.WithComponentFromContext(ctx, "ffmpeg")
	if err := cmd.Start(); err != nil {
		metrics.TranscoderStarts.WithLabelValues(opts.Kind + "_failed").Inc()
		return nil, fmt.Errorf("ffmpeg start failed: %w", err)
	}
	p.cmd = cmd
	p.started = time.Now()
	p.counter.acquire()
	metrics.IncTranscoderStart(opts.Kind)

	logger.Debug().
		Str("process_id", p.ID).
		Int(log.FieldPID, cmd.Process.Pid).
		Strs(log.FieldCommand, cmd.Args).
		Msg("started ffmpeg process")

	if progress != nil {
		p.progressDone = make(chan struct{})
		go func() {
			defer close(p.progressDone)
			_ = ReadProgress(ctx, progress, opts.OnSpeed)
			// drain so ffmpeg never blocks on a full pipe
			_, _ = io.Copy(io.Discard, progress)
		}()
	}

	go p.wait(logger)

	// cancellation stops the process the same way Stop does
	go func() {
		select {
		case <-ctx.Done():
			_ = p.terminate(context.Background())
		case <-p.done:
		}
	}()

	return p, nil
}

func (p *Process) wait(logger zerolog.Logger) {
	if p.progressDone != nil {
		// StdoutPipe readers must finish before Wait closes the pipe
		<-p.progressDone
	}
	err := p.cmd.Wait()
	if p.ring != nil {
		p.ring.Flush()
	}

	status := ExitStatus{StartedAt: p.started, EndedAt: time.Now(), Reason: "clean"}
	var exitErr *exec.ExitError
	switch {
	case err == nil:
	case errors.As(err, &exitErr):
		status.Code = exitErr.ExitCode()
		status.Reason = "error"
		if status.Code < 0 {
			status.Reason = "signal"
		}
		err = nil
	default:
		status.Code = -1
		status.Reason = "wait_failed"
	}
	p.status = status
	p.waitErr = err

	p.releaseOnce.Do(func() {
		p.counter.release()
		metrics.ObserveTranscoderExit(p.Kind, status.Reason, status.EndedAt.Sub(status.StartedAt))
	})

	ev := logger.Debug()
	if status.Code != 0 {
		ev = logger.Warn()
		if p.ring != nil {
			ev = ev.Strs("stderr", p.ring.LastN(20))
		}
	}
	ev.Str("process_id", p.ID).
		Int(log.FieldExitCode, status.Code).
		Str("reason", status.Reason).
		Dur("ran", status.EndedAt.Sub(status.StartedAt)).
		Msg("ffmpeg process exited")

	close(p.done)
}

// Done is closed when the process has exited.
func (p *Process) Done() <-chan struct{} {
	return p.done
}

// Wait blocks until the process exits or ctx is done. A non-zero exit code
// is reported in the status, not as an error.
func (p *Process) Wait(ctx context.Context) (ExitStatus, error) {
	select {
	case <-p.done:
		return p.status, p.waitErr
	case <-ctx.Done():
		return ExitStatus{}, ctx.Err()
	}
}

// Stop sends SIGTERM to the process group and SIGKILL once the kill timeout
// passes or ctx is done. It returns after the process has exited.
func (p *Process) Stop(ctx context.Context) error {
	return p.terminate(ctx)
}

func (p *Process) terminate(ctx context.Context) error {
	select {
	case <-p.done:
		return nil
	default:
	}

	waitCh := make(chan error, 1)
	go func() {
		<-p.done
		waitCh <- p.waitErr
	}()
	return procgroup.Terminate(ctx, p.cmd, waitCh, p.killTimeout)
}

// Pid returns the operating system process id.
func (p *Process) Pid() int {
	if p.cmd == nil || p.cmd.Process == nil {
		return 0
	}
	return p.cmd.Process.Pid
}

// LastLogLines returns the last n captured stderr lines.
func (p *Process) LastLogLines(n int) []string {
	if p.ring == nil {
		return nil
	}
	return p.ring.LastN(n)
}
