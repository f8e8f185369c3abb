package hls

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/google/renameio/v2"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/ManuGH/chanstream/internal/log"
	"github.com/ManuGH/chanstream/internal/metrics"
	"github.com/ManuGH/chanstream/internal/pipeline/exec/ffmpeg"
)

const (
	// DefaultWindowSegments is the number of segments served to clients.
	DefaultWindowSegments = 10

	trimKeep          = time.Minute
	serveKeep         = 30 * time.Second
	deleteInterval    = 30 * time.Second
	idleTrimInterval  = 5 * time.Second
	bufferTarget      = time.Minute
	realtimeThreshold = 30 * time.Second
	waitForSegments   = 8 * time.Second
)

// ErrSessionStopped is returned by operations on a session that has exited.
var ErrSessionStopped = errors.New("hls: session stopped")

// SessionState is the position of the session in its transcode cycle.
type SessionState int

const (
	// StateSeekAndWorkAhead starts inside the current item, faster than realtime.
	StateSeekAndWorkAhead SessionState = iota
	// StateSeekAndRealtime starts inside the current item at realtime speed.
	StateSeekAndRealtime
	// StateZeroAndWorkAhead starts the next item from the beginning, faster than realtime.
	StateZeroAndWorkAhead
	// StateZeroAndRealtime starts the next item from the beginning at realtime speed.
	StateZeroAndRealtime
	// StatePlayoutUpdated restarts from the schedule after a playout change.
	StatePlayoutUpdated
)

func (s SessionState) String() string {
	switch s {
	case StateSeekAndWorkAhead:
		return "seek_and_work_ahead"
	case StateSeekAndRealtime:
		return "seek_and_realtime"
	case StateZeroAndWorkAhead:
		return "zero_and_work_ahead"
	case StateZeroAndRealtime:
		return "zero_and_realtime"
	case StatePlayoutUpdated:
		return "playout_updated"
	default:
		return "unknown"
	}
}

func (s SessionState) startsAtZero() bool {
	return s == StateZeroAndWorkAhead || s == StateZeroAndRealtime
}

// nextState advances the cycle after a successful run. complete reports
// whether the run reached the end of its item.
func nextState(state SessionState, complete bool) SessionState {
	switch state {
	case StatePlayoutUpdated:
		return StateSeekAndWorkAhead
	case StateSeekAndWorkAhead:
		if complete {
			return StateZeroAndWorkAhead
		}
		return StateSeekAndRealtime
	case StateZeroAndWorkAhead:
		if complete {
			return StateZeroAndWorkAhead
		}
		return StateSeekAndRealtime
	default:
		// realtime runs always complete their item
		return StateZeroAndRealtime
	}
}

func accelerate(state SessionState) SessionState {
	switch state {
	case StateSeekAndRealtime:
		return StateSeekAndWorkAhead
	case StateZeroAndRealtime:
		return StateZeroAndWorkAhead
	default:
		return state
	}
}

func throttle(state SessionState) SessionState {
	switch state {
	case StateSeekAndWorkAhead:
		return StateSeekAndRealtime
	case StateZeroAndWorkAhead:
		return StateZeroAndRealtime
	default:
		return state
	}
}

// ProcessRequest asks for the next transcoder run of a channel.
type ProcessRequest struct {
	Channel string
	Dir     string
	// Start is the wall clock the run begins at.
	Start        time.Time
	StartAtZero  bool
	Realtime     bool
	ChannelStart time.Time
	PTSOffset    time.Duration
	FMP4         bool
	// TargetFrameRate normalizes the output frame rate when set.
	TargetFrameRate string
}

// ErrorRequest asks for the offline screen replacing a failed run.
type ErrorRequest struct {
	Channel   string
	Dir       string
	Start     time.Time
	Realtime  bool
	PTSOffset time.Duration
	FMP4      bool
	// Duration is the length of the failed run, zero when unknown.
	Duration time.Duration
	Until    time.Time
	Message  string
}

// Invocation is one transcoder run returned by a ProcessProvider.
type Invocation struct {
	Command ffmpeg.Command
	Kind    string
	// Realtime reports whether the run is throttled to realtime speed.
	Realtime bool
	// Until is the wall clock the output reaches when the run completes.
	Until time.Time
	// Complete reports whether the run plays its item to the end.
	Complete bool
	Duration time.Duration
	// GeneratedAt tags fMP4 output of the run, zero for MPEG-TS.
	GeneratedAt int64
}

// ProcessProvider builds transcoder runs for a session. It decides what
// plays; the session decides when and how fast.
type ProcessProvider interface {
	NextProcess(ctx context.Context, req ProcessRequest) (Invocation, error)
	ErrorProcess(ctx context.Context, req ErrorRequest) (Invocation, error)
}

// PTSSource reports where the previous run's timestamps ended.
type PTSSource interface {
	LastPTS(ctx context.Context, channel string) (time.Duration, error)
}

// SessionConfig configures a session.
type SessionConfig struct {
	Channel string
	// Dir is the channel transcode folder. It is emptied when the session ends.
	Dir  string
	FMP4 bool
	// IdleTimeout stops the session when no client touched it for that long.
	// Zero disables it.
	IdleTimeout     time.Duration
	WindowSegments  int
	TargetFrameRate string
	// RespawnInterval is the minimum spacing of process starts after the
	// initial burst.
	RespawnInterval time.Duration
	RespawnBurst    int
}

// SessionDeps are the collaborators of a session.
type SessionDeps struct {
	Provider ProcessProvider
	Runner   Runner
	Trimmer  *Trimmer
	Inits    *InitCache
	Limiter  *WorkAheadLimiter
	// PTS is optional; without it MPEG-TS runs start at offset zero.
	PTS PTSSource
}

// Session keeps one channel's live playlist going across many short
// transcoder runs.
type Session struct {
	ID  string
	cfg SessionConfig

	provider ProcessProvider
	runner   Runner
	trimmer  *Trimmer
	inits    *InitCache
	limiter  *WorkAheadLimiter
	pts      PTSSource
	respawn  *rate.Limiter

	now          func() time.Time
	pollInterval time.Duration

	lastAccess     atomic.Int64
	playoutUpdated atomic.Bool

	// mu guards the playlist file and the fields below it.
	mu              sync.Mutex
	playlistStart   time.Time
	discontinuities map[int64]int
	discSeq         int
	lastDelete      time.Time

	// loop state, owned by the run goroutine
	state           SessionState
	channelStart    time.Time
	transcodedUntil time.Time

	cancel   context.CancelFunc
	done     chan struct{}
	err      error
	startOne sync.Once
}

// NewSession returns a session that has not started yet.
func NewSession(cfg SessionConfig, deps SessionDeps) *Session {
	if cfg.WindowSegments <= 0 {
		cfg.WindowSegments = DefaultWindowSegments
	}
	if cfg.RespawnInterval <= 0 {
		cfg.RespawnInterval = time.Second
	}
	if cfg.RespawnBurst <= 0 {
		cfg.RespawnBurst = 3
	}
	if deps.Limiter == nil {
		deps.Limiter = NewWorkAheadLimiter(DefaultWorkAheadLimit)
	}
	if deps.Trimmer == nil {
		deps.Trimmer = NewTrimmer(nil, deps.Inits)
	}
	return &Session{
		ID:              uuid.NewString(),
		cfg:             cfg,
		provider:        deps.Provider,
		runner:          deps.Runner,
		trimmer:         deps.Trimmer,
		inits:           deps.Inits,
		limiter:         deps.Limiter,
		pts:             deps.PTS,
		respawn:         rate.NewLimiter(rate.Every(cfg.RespawnInterval), cfg.RespawnBurst),
		now:             time.Now,
		pollInterval:    idleTrimInterval,
		discontinuities: make(map[int64]int),
		done:            make(chan struct{}),
	}
}

// Channel returns the channel number of the session.
func (s *Session) Channel() string { return s.cfg.Channel }

// Dir returns the channel transcode folder.
func (s *Session) Dir() string { return s.cfg.Dir }

// Start runs the session in the background until ctx is done, the idle
// timeout passes, or a run cannot be started. Calling Start more than once
// has no effect.
func (s *Session) Start(ctx context.Context) {
	s.startOne.Do(func() {
		ctx, cancel := context.WithCancel(ctx)
		s.mu.Lock()
		s.cancel = cancel
		s.mu.Unlock()
		go func() {
			defer close(s.done)
			s.err = s.run(ctx)
		}()
	})
}

// Done is closed when the session has exited.
func (s *Session) Done() <-chan struct{} { return s.done }

// Err returns the error the session exited with. It is only valid after Done
// is closed.
func (s *Session) Err() error { return s.err }

// Stop cancels the session and waits for it to exit or ctx to be done.
func (s *Session) Stop(ctx context.Context) error {
	s.mu.Lock()
	cancel := s.cancel
	s.mu.Unlock()
	if cancel == nil {
		return nil
	}
	cancel()
	select {
	case <-s.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Touch records client activity and defers the idle timeout.
func (s *Session) Touch() {
	s.lastAccess.Store(s.now().UnixNano())
}

// LastAccess returns the time of the last client activity.
func (s *Session) LastAccess() time.Time {
	return time.Unix(0, s.lastAccess.Load())
}

func (s *Session) run(ctx context.Context) error {
	ctx = log.ContextWithChannel(ctx, s.cfg.Channel)
	ctx = log.ContextWithSessionID(ctx, s.ID)
	logger := log.WithComponentFromContext(ctx, "hls")

	if err := os.MkdirAll(s.cfg.Dir, 0o750); err != nil {
		return fmt.Errorf("create transcode folder: %w", err)
	}
	if entries, err := os.ReadDir(s.cfg.Dir); err == nil && len(entries) > 0 {
		logger.Error().Str(log.FieldPath, s.cfg.Dir).Int("files", len(entries)).Msg("transcode folder is not empty")
	}
	defer s.emptyFolder(logger)

	logger.Info().Msg("starting hls session")

	loopCtx, stopWatch := context.WithCancel(ctx)
	g, gctx := errgroup.WithContext(loopCtx)
	g.Go(func() error {
		defer stopWatch()
		return s.loop(gctx, logger)
	})
	g.Go(func() error {
		s.watchInits(gctx, logger)
		return nil
	})
	err := g.Wait()

	if errors.Is(err, context.Canceled) && ctx.Err() != nil {
		err = nil
	}
	logger.Info().Err(err).Msg("hls session stopped")
	return err
}

func (s *Session) loop(ctx context.Context, logger zerolog.Logger) error {
	s.Touch()
	start := s.now()
	s.transcodedUntil = start
	s.channelStart = start
	s.mu.Lock()
	s.playlistStart = start
	s.mu.Unlock()

	initialWorkAhead := s.limiter.Available()
	s.state = StateSeekAndRealtime
	if initialWorkAhead {
		s.state = StateSeekAndWorkAhead
	}
	if err := s.transcode(ctx, logger, !initialWorkAhead); err != nil {
		return err
	}

	for ctx.Err() == nil {
		if s.cfg.IdleTimeout > 0 && s.now().Sub(s.LastAccess()) > s.cfg.IdleTimeout {
			logger.Info().Dur("idle_timeout", s.cfg.IdleTimeout).Msg("stopping idle hls session")
			return nil
		}

		buffer := s.transcodedUntil.Sub(s.now())
		if buffer < 0 {
			buffer = 0
		}
		if buffer <= bufferTarget {
			// only run at realtime speed once far enough ahead
			realtime := buffer >= realtimeThreshold
			if err := s.transcode(ctx, logger, realtime); err != nil {
				return err
			}
			continue
		}

		if err := s.TrimAndDelete(ctx); err != nil {
			logger.Warn().Err(err).Msg("trim failed")
		}
		select {
		case <-ctx.Done():
		case <-time.After(s.pollInterval):
		}
	}
	return ctx.Err()
}

// transcode runs one invocation. A nil error means the session continues.
func (s *Session) transcode(ctx context.Context, logger zerolog.Logger, realtime bool) error {
	if s.playoutUpdated.Swap(false) {
		s.state = StatePlayoutUpdated
	}
	wasSeekAndWorkAhead := s.state == StateSeekAndWorkAhead

	if !realtime {
		if s.limiter.TryAcquire() {
			defer s.limiter.Release()
			if next := accelerate(s.state); next != s.state {
				logger.Debug().Stringer("from", s.state).Stringer("to", next).Msg("hls session accelerating")
				s.state = next
			}
		} else {
			realtime = true
		}
	}
	if realtime {
		if next := throttle(s.state); next != s.state {
			logger.Debug().Stringer("from", s.state).Stringer("to", next).Msg("hls session throttling")
			s.state = next
		}
	}

	start := s.transcodedUntil
	if wasSeekAndWorkAhead {
		start = s.now()
	}
	ptsOffset := s.ptsOffset(ctx, logger)

	inv, err := s.provider.NextProcess(ctx, ProcessRequest{
		Channel:         s.cfg.Channel,
		Dir:             s.cfg.Dir,
		Start:           start,
		StartAtZero:     s.state.startsAtZero(),
		Realtime:        realtime,
		ChannelStart:    s.channelStart,
		PTSOffset:       ptsOffset,
		FMP4:            s.cfg.FMP4,
		TargetFrameRate: s.cfg.TargetFrameRate,
	})
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		logger.Warn().Err(err).Msg("failed to create process for hls session")
		return fmt.Errorf("next process: %w", err)
	}

	if err := s.TrimAndDelete(ctx); err != nil {
		logger.Warn().Err(err).Msg("trim before process start failed")
	}
	s.trackGeneration(inv.GeneratedAt)

	logger.Debug().
		Stringer("state", s.state).
		Bool("realtime", realtime).
		Time("until", inv.Until).
		Strs(log.FieldCommand, inv.Command.Args).
		Msg("starting hls process")

	res, err := s.runLimited(ctx, inv)
	if err != nil {
		if ctx.Err() != nil {
			logger.Info().Msg("terminating hls session")
			return ctx.Err()
		}
		return fmt.Errorf("run %s process: %w", inv.Kind, err)
	}

	if res.Status.Code == 0 {
		logger.Debug().
			Time("until", inv.Until).
			Float64("buffer_seconds", inv.Until.Sub(s.now()).Seconds()).
			Msg("hls process completed")
		s.transcodedUntil = inv.Until
		s.advance(logger, inv.Complete)
		return nil
	}

	message := strings.Join(res.Stderr, "\n")
	if strings.TrimSpace(message) == "" {
		message = fmt.Sprintf("Unknown FFMPEG error; exit code %d", res.Status.Code)
	}
	logger.Error().
		Int(log.FieldExitCode, res.Status.Code).
		Str("stderr", message).
		Msg("hls process terminated unsuccessfully")

	errInv, err := s.provider.ErrorProcess(ctx, ErrorRequest{
		Channel:   s.cfg.Channel,
		Dir:       s.cfg.Dir,
		Start:     start,
		Realtime:  realtime,
		PTSOffset: ptsOffset,
		FMP4:      s.cfg.FMP4,
		Duration:  inv.Duration,
		Until:     inv.Until,
		Message:   message,
	})
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return fmt.Errorf("error process: %w", err)
	}
	s.trackGeneration(errInv.GeneratedAt)

	res, err = s.runLimited(ctx, errInv)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return fmt.Errorf("run error process: %w", err)
	}
	if res.Status.Code != 0 {
		return fmt.Errorf("error process exited with code %d", res.Status.Code)
	}
	s.transcodedUntil = inv.Until
	s.advance(logger, false)
	return nil
}

func (s *Session) runLimited(ctx context.Context, inv Invocation) (RunResult, error) {
	if err := s.respawn.Wait(ctx); err != nil {
		return RunResult{}, err
	}
	return s.runner.Run(ctx, s.cfg.Channel, inv)
}

func (s *Session) advance(logger zerolog.Logger, complete bool) {
	next := nextState(s.state, complete)
	logger.Debug().Stringer("from", s.state).Stringer("to", next).Msg("hls session state")
	s.state = next
}

// PlayoutUpdated makes the next run start over from the schedule.
func (s *Session) PlayoutUpdated() {
	s.playoutUpdated.Store(true)
}

func (s *Session) ptsOffset(ctx context.Context, logger zerolog.Logger) time.Duration {
	// fMP4 runs get a new init segment and a discontinuity, so each starts at zero
	if s.cfg.FMP4 || s.pts == nil {
		return 0
	}
	offset, err := s.pts.LastPTS(ctx, s.cfg.Channel)
	if err != nil {
		logger.Debug().Err(err).Msg("no last pts, starting at zero")
		return 0
	}
	return offset
}

func (s *Session) trackGeneration(generatedAt int64) {
	if generatedAt == 0 {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.discSeq++
	if _, ok := s.discontinuities[generatedAt]; !ok {
		s.discontinuities[generatedAt] = s.discSeq
	}
}

func (s *Session) playlistPath() string {
	return filepath.Join(s.cfg.Dir, PlaylistName)
}

func (s *Session) readPlaylist() ([]string, bool, error) {
	data, err := os.ReadFile(s.playlistPath())
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, false, nil
		}
		return nil, false, err
	}
	return strings.Split(string(data), "\n"), true, nil
}

// TrimAndDelete rewrites the playlist to the last minute with a trailing
// discontinuity so the next process appends cleanly, then removes the
// segment files that fell out of the window.
func (s *Session) TrimAndDelete(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	lines, ok, err := s.readPlaylist()
	if err != nil || !ok {
		return err
	}
	s.refreshInits()

	res, err := s.trimmer.Trim(TrimRequest{
		Start:                s.playlistStart,
		FilterBefore:         s.now().Add(-trimKeep),
		Lines:                lines,
		EndWithDiscontinuity: true,
		Discontinuities:      s.discontinuities,
	})
	if err != nil {
		return err
	}
	if err := renameio.WriteFile(s.playlistPath(), []byte(res.Playlist), 0o644); err != nil {
		return fmt.Errorf("write playlist: %w", err)
	}
	s.deleteOldSegments(res)
	s.playlistStart = res.PlaylistStart
	return nil
}

// Playlist returns the window served to clients: at most WindowSegments
// segments starting no earlier than 30 seconds ago. It reports false when
// the segmenter has not written a playlist yet.
func (s *Session) Playlist(ctx context.Context) (TrimResult, bool, error) {
	return s.playlist(ctx, s.now().Add(-serveKeep))
}

func (s *Session) playlist(ctx context.Context, filterBefore time.Time) (TrimResult, bool, error) {
	if err := ctx.Err(); err != nil {
		return TrimResult{}, false, err
	}
	select {
	case <-s.done:
		return TrimResult{}, false, ErrSessionStopped
	default:
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	lines, ok, err := s.readPlaylist()
	if err != nil || !ok {
		return TrimResult{}, false, err
	}
	s.refreshInits()

	res, err := s.trimmer.Trim(TrimRequest{
		Start:           s.playlistStart,
		FilterBefore:    filterBefore,
		Lines:           lines,
		MaxSegments:     s.cfg.WindowSegments,
		Discontinuities: s.discontinuities,
	})
	if err != nil {
		return TrimResult{}, false, err
	}
	if now := s.now(); now.After(s.lastDelete.Add(deleteInterval)) {
		s.deleteOldSegments(res)
		s.lastDelete = now
	}
	return res, true, nil
}

// WaitForPlaylistSegments blocks until the served window holds n segments,
// the wait deadline passes, or ctx is done.
func (s *Session) WaitForPlaylistSegments(ctx context.Context, n int) error {
	logger := log.WithComponentFromContext(ctx, "hls")
	started := s.now()
	defer func() {
		logger.Debug().Dur("took", s.now().Sub(started)).Msg("waited for playlist segments")
	}()

	if err := waitForFile(ctx, logger, s.playlistPath(), s.done); err != nil {
		return err
	}

	deadline := time.NewTimer(waitForSegments)
	defer deadline.Stop()
	ticker := time.NewTicker(200 * time.Millisecond)
	defer ticker.Stop()

	count, last := 0, -1
	for count < n {
		if count != last {
			logger.Debug().Int(log.FieldSegmentCount, count).Int("wanted", n).Msg("waiting for segments")
			last = count
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-s.done:
			return ErrSessionStopped
		case <-deadline.C:
			return nil
		case <-ticker.C:
		}

		res, ok, err := s.Playlist(ctx)
		if err != nil {
			logger.Warn().Err(err).Msg("error trimming playlist")
			continue
		}
		if ok {
			count = res.SegmentCount
		}
	}
	return nil
}

// waitForFile waits until path exists with content.
func waitForFile(ctx context.Context, logger zerolog.Logger, path string, stopped <-chan struct{}) error {
	if info, err := os.Stat(path); err == nil && info.Size() > 0 {
		return nil
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("fsnotify.NewWatcher: %w", err)
	}
	defer func() {
		_ = watcher.Close()
	}()

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return fmt.Errorf("create transcode folder: %w", err)
	}
	if err := watcher.Add(dir); err != nil {
		return fmt.Errorf("watch directory %s: %w", dir, err)
	}

	// the file may have appeared before the watch was added
	if info, err := os.Stat(path); err == nil && info.Size() > 0 {
		return nil
	}

	name := filepath.Base(path)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-stopped:
			return ErrSessionStopped
		case event, ok := <-watcher.Events:
			if !ok {
				return errors.New("watcher channel closed")
			}
			if filepath.Base(event.Name) != name || !(event.Has(fsnotify.Create) || event.Has(fsnotify.Write)) {
				continue
			}
			if info, err := os.Stat(path); err == nil && info.Size() > 0 {
				return nil
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return errors.New("watcher error channel closed")
			}
			logger.Warn().Err(err).Msg("fsnotify watcher error")
		}
	}
}

// watchInits registers init segments as soon as the first fragment of
// their generation appears. Trim passes refresh as well, so a failing
// watcher only delays registration.
func (s *Session) watchInits(ctx context.Context, logger zerolog.Logger) {
	if !s.cfg.FMP4 || s.inits == nil {
		return
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		logger.Warn().Err(err).Msg("init segment watcher disabled")
		return
	}
	defer func() {
		_ = watcher.Close()
	}()
	if err := watcher.Add(s.cfg.Dir); err != nil {
		logger.Warn().Err(err).Str(log.FieldPath, s.cfg.Dir).Msg("init segment watcher disabled")
		return
	}

	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-watcher.Events:
			if !ok {
				return
			}
			if !event.Has(fsnotify.Create) {
				continue
			}
			if name, ok := ParseSegmentName(filepath.Base(event.Name)); ok && name.FMP4 {
				s.mu.Lock()
				s.refreshInits()
				s.mu.Unlock()
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return
			}
			logger.Warn().Err(err).Msg("fsnotify watcher error")
		}
	}
}

// refreshInits adds every init segment that already has fragments on disk.
// Callers hold mu.
func (s *Session) refreshInits() {
	if s.inits == nil {
		return
	}
	entries, err := os.ReadDir(s.cfg.Dir)
	if err != nil {
		return
	}

	generations := make(map[int64]struct{})
	for _, e := range entries {
		if name, ok := ParseSegmentName(e.Name()); ok && name.FMP4 {
			generations[name.GeneratedAt] = struct{}{}
		}
	}
	for _, e := range entries {
		gen, ok := ParseInitName(e.Name())
		if !ok {
			continue
		}
		if _, ok := generations[gen]; !ok {
			continue
		}
		if err := s.inits.AddSegment(filepath.Join(s.cfg.Dir, e.Name())); err != nil {
			logger := log.WithComponent("hls")
			logger.Debug().Err(err).Str(log.FieldSegment, e.Name()).Msg("init segment not registered")
		}
	}
}

// deleteOldSegments removes segments below the window and init segments
// that no fragment references anymore. Callers hold mu.
func (s *Session) deleteOldSegments(res TrimResult) {
	// an empty window carries no reliable sequence to delete below
	if res.SegmentCount == 0 {
		return
	}
	entries, err := os.ReadDir(s.cfg.Dir)
	if err != nil {
		return
	}

	var toDelete []string
	generations := make(map[int64]struct{})
	for _, e := range entries {
		name, ok := ParseSegmentName(e.Name())
		if !ok {
			continue
		}
		generations[name.GeneratedAt] = struct{}{}
		if name.Sequence < res.Sequence {
			toDelete = append(toDelete, e.Name())
		}
	}
	segments := len(toDelete)

	for _, e := range entries {
		gen, ok := ParseInitName(e.Name())
		if !ok {
			continue
		}
		if _, ok := generations[gen]; ok || gen >= res.GeneratedAt {
			continue
		}
		if s.inits != nil {
			if s.inits.IsEarliestByHash(e.Name()) {
				continue
			}
			s.inits.DeleteSegment(e.Name())
		}
		delete(s.discontinuities, gen)
		toDelete = append(toDelete, e.Name())
	}

	logger := log.WithComponent("hls")
	for i, name := range toDelete {
		if err := os.Remove(filepath.Join(s.cfg.Dir, name)); err != nil && !errors.Is(err, os.ErrNotExist) {
			logger.Debug().Err(err).Str(log.FieldSegment, name).Msg("failed to delete old segment")
			continue
		}
		kind := "segment"
		if i >= segments {
			kind = "init"
		}
		metrics.SegmentsDeleted.WithLabelValues(kind).Inc()
	}
}

func (s *Session) emptyFolder(logger zerolog.Logger) {
	entries, err := os.ReadDir(s.cfg.Dir)
	if err != nil {
		return
	}
	for _, e := range entries {
		if err := os.RemoveAll(filepath.Join(s.cfg.Dir, e.Name())); err != nil {
			logger.Debug().Err(err).Str(log.FieldPath, e.Name()).Msg("failed to clean transcode folder")
		}
	}
}
