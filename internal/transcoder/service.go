// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package transcoder turns what a channel plays into transcoder commands.
package transcoder

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/ManuGH/chanstream/internal/domain/media"
	"github.com/ManuGH/chanstream/internal/hls"
	"github.com/ManuGH/chanstream/internal/log"
	"github.com/ManuGH/chanstream/internal/pipeline"
	"github.com/ManuGH/chanstream/internal/pipeline/exec/ffmpeg"
	"github.com/ManuGH/chanstream/internal/playback"
	"github.com/ManuGH/chanstream/internal/streamselect"
	"github.com/ManuGH/chanstream/internal/subtitle"
	"github.com/ManuGH/chanstream/internal/tempfile"
	"github.com/ManuGH/chanstream/internal/watermark"
)

const (
	// workAheadLimit caps runs that are faster than realtime, a multiple of
	// the segment length.
	workAheadLimit = 44 * time.Second

	// offlineRetry is how long the offline screen runs when nothing is
	// scheduled later.
	offlineRetry = time.Minute

	offlineMessage = "Channel is Offline"
	serviceName    = "chanstream"
)

// Channels resolves channel numbers.
type Channels interface {
	Channel(ctx context.Context, number string) (media.Channel, error)
}

// Item is one scheduled playout item.
type Item struct {
	Title     string
	Version   media.Version
	Subtitles []media.Subtitle
	// Watermark overrides the channel watermark when set.
	Watermark *media.Watermark

	Start  time.Time
	Finish time.Time

	InPoint  time.Duration
	OutPoint time.Duration
}

// Playout answers what a channel plays.
type Playout interface {
	// ItemAt returns the item playing at t, or ErrNoPlayoutItem.
	ItemAt(ctx context.Context, channel string, t time.Time) (Item, error)
	// NextStart returns the start of the first item after t.
	NextStart(ctx context.Context, channel string, t time.Time) (time.Time, bool)
}

// Config holds the process-wide settings of the service.
type Config struct {
	// Port is where the daemon serves concat and segmenter playlists.
	Port           int
	SegmentSeconds int
	ResourcesDir   string
	FontsDir       string
	ReportsDir     string
	SaveReports    bool
}

// Service builds transcoder commands. It implements hls.ProcessProvider.
type Service struct {
	cfg      Config
	channels Channels
	playout  Playout
	resolver *streamselect.Resolver
	compiler *pipeline.Compiler
	pool     *tempfile.Pool

	mu          sync.Mutex
	generations map[string]int64
}

// New returns a Service.
func New(cfg Config, channels Channels, playout Playout, resolver *streamselect.Resolver, compiler *pipeline.Compiler, pool *tempfile.Pool) *Service {
	return &Service{
		cfg:         cfg,
		channels:    channels,
		playout:     playout,
		resolver:    resolver,
		compiler:    compiler,
		pool:        pool,
		generations: make(map[string]int64),
	}
}

// Channel returns the channel configuration for number.
func (s *Service) Channel(ctx context.Context, number string) (media.Channel, error) {
	return s.channels.Channel(ctx, number)
}

// PlayoutRun describes one run of a playout item.
type PlayoutRun struct {
	Item Item
	// Now is the wall clock the run starts at; the item is entered at
	// Now - Item.Start.
	Now      time.Time
	Finish   time.Time
	OutPoint time.Duration
	Duration time.Duration

	Realtime        bool
	TargetFrameRate string
	HLS             pipeline.HLSOutput
}

// ForPlayoutItem compiles the command that plays run on ch.
func (s *Service) ForPlayoutItem(ctx context.Context, ch media.Channel, run PlayoutRun) (ffmpeg.Command, error) {
	item := run.Item
	logger := log.WithComponentFromContext(ctx, "transcoder")

	sel, err := s.resolver.Resolve(ctx, ch, item.Version, item.Subtitles)
	if err != nil {
		return ffmpeg.Command{}, fmt.Errorf("select streams: %w", err)
	}

	outPoint := run.OutPoint
	if outPoint == 0 {
		outPoint = item.OutPoint
	}
	settings := playback.Calculate(playback.Request{
		Mode:            ch.StreamingMode,
		Profile:         ch.Profile,
		Version:         item.Version,
		VideoStream:     sel.Video,
		AudioStream:     sel.Audio,
		Start:           item.Start,
		Now:             run.Now,
		InPoint:         item.InPoint,
		OutPoint:        outPoint,
		HLSRealtime:     run.Realtime,
		TargetFrameRate: run.TargetFrameRate,
	})

	opts := s.stateOptions(ch, run.HLS, run.Duration)
	if sel.Audio != nil {
		opts.Metadata.AudioLanguage = sel.Audio.Language
	}
	frame, audio, engine := pipeline.StatesFromSettings(settings, ch.Profile, opts)

	req := pipeline.Request{
		Frame:  frame,
		Audio:  audio,
		Engine: engine,
		Video: pipeline.VideoInput{
			Path: item.Version.Path,
			Stream: pipeline.Stream{
				Index:       sel.Video.Index,
				Codec:       sel.Video.Codec,
				PixelFormat: sel.Video.PixelFormat,
				Size:        item.Version.Size(),
				FrameRate:   item.Version.RFrameRate,
				StillImage:  sel.Video.AttachedPic,
			},
		},
	}

	switch {
	case sel.Audio != nil:
		req.AudioInput = pipeline.AudioInput{
			Path:   item.Version.Path,
			Stream: pipeline.Stream{Index: sel.Audio.Index, Codec: sel.Audio.Codec},
		}
	case len(item.Version.StreamsOfKind(media.StreamKindAudio)) == 0:
		req.AudioInput = pipeline.NullAudioInput{}
	}

	if wm, ok := watermark.Resolve(ch.Watermark, item.Watermark, watermark.Timing{
		Start:      item.Start,
		InPoint:    item.InPoint,
		OutPoint:   outPoint,
		StreamSeek: settings.StreamSeek,
	}); ok {
		req.Watermark = &pipeline.WatermarkInput{Options: wm}
	}

	if sub := sel.Subtitle; sub != nil {
		path := sub.Path
		embedded := sub.Kind == media.SubtitleKindEmbedded && !sub.IsExtracted
		if embedded || path == "" {
			path = item.Version.Path
		}
		req.Subtitle = &pipeline.SubtitleInput{
			Path:     path,
			Stream:   pipeline.Stream{Index: sub.StreamIndex, Codec: sub.Codec},
			Image:    sub.IsImage,
			Embedded: embedded,
		}
	}

	p, err := s.compiler.Compile(ctx, req)
	if err != nil {
		return ffmpeg.Command{}, fmt.Errorf("compile pipeline: %w", err)
	}
	cmd, err := ffmpeg.Assemble(p)
	if err != nil {
		return ffmpeg.Command{}, fmt.Errorf("assemble command: %w", err)
	}

	logger.Debug().
		Str("title", item.Title).
		Str(log.FieldPath, item.Version.Path).
		Time("start", item.Start).
		Time("finish", run.Finish).
		Dur("seek", settings.StreamSeek).
		Dur("duration", run.Duration).
		Msg("compiled playout item")
	return cmd, nil
}

// ErrorRun describes one run of the offline screen.
type ErrorRun struct {
	Message string
	// Duration is zero to run until stopped.
	Duration time.Duration
	HLS      pipeline.HLSOutput
}

// ForError compiles the offline screen showing run.Message.
func (s *Service) ForError(ctx context.Context, ch media.Channel, run ErrorRun) (ffmpeg.Command, error) {
	subtitlePath, err := subtitle.ErrorScreen(s.pool, ch.Profile.Resolution, run.Message)
	if err != nil {
		return ffmpeg.Command{}, fmt.Errorf("render error text: %w", err)
	}

	req := pipeline.ErrorScreen(s.backgroundImage(), subtitlePath, ch.Profile, s.stateOptions(ch, run.HLS, run.Duration))
	p, err := s.compiler.Compile(ctx, req)
	if err != nil {
		return ffmpeg.Command{}, fmt.Errorf("compile error screen: %w", err)
	}
	return ffmpeg.Assemble(p)
}

// ConcatChannel returns the wrapper that loops the channel's concat
// playlist into one continuous MPEG-TS stream.
func (s *Service) ConcatChannel(ch media.Channel) (ffmpeg.Command, error) {
	return s.wrap(ch, pipeline.ConcatInput{URL: pipeline.ConcatURL(s.cfg.Port, ch.Number)})
}

// WrapSegmenter returns the wrapper that remuxes the channel's live HLS
// playlist into MPEG-TS.
func (s *Service) WrapSegmenter(ch media.Channel) (ffmpeg.Command, error) {
	return s.wrap(ch, pipeline.ConcatInput{
		URL:    pipeline.SegmenterURL(s.cfg.Port, ch.Number),
		Format: pipeline.ConcatSegmenter,
	})
}

func (s *Service) wrap(ch media.Channel, input pipeline.ConcatInput) (ffmpeg.Command, error) {
	p := pipeline.Concat(input, pipeline.StateOptions{
		SaveReport: s.cfg.SaveReports,
		ReportsDir: s.cfg.ReportsDir,
		Metadata:   pipeline.Metadata{ServiceProvider: serviceName, ServiceName: ch.Name},
	})
	return ffmpeg.Assemble(p)
}

// StreamAt compiles the realtime MPEG-TS run of whatever plays on ch at
// now. It backs the concat playlist: each request plays the rest of the
// current item.
func (s *Service) StreamAt(ctx context.Context, ch media.Channel, now time.Time) (ffmpeg.Command, error) {
	item, err := s.playout.ItemAt(ctx, ch.Number, now)
	if err != nil {
		message, duration := s.offline(ctx, ch, now, err)
		return s.ForError(ctx, ch, ErrorRun{Message: message, Duration: duration})
	}
	if msg, ok := missingFile(item); ok {
		duration := item.Finish.Sub(now)
		return s.ForError(ctx, ch, ErrorRun{Message: msg, Duration: duration})
	}
	return s.ForPlayoutItem(ctx, ch, PlayoutRun{
		Item:     item,
		Now:      now,
		Finish:   item.Finish,
		Duration: item.Finish.Sub(now),
		Realtime: true,
	})
}

// NextProcess builds the next segmenter run of a session.
func (s *Service) NextProcess(ctx context.Context, req hls.ProcessRequest) (hls.Invocation, error) {
	ch, err := s.channels.Channel(ctx, req.Channel)
	if err != nil {
		return hls.Invocation{}, err
	}
	if !ch.StreamingMode.IsSegmenter() && ch.StreamingMode != media.StreamingModeTransportStreamHybrid {
		return hls.Invocation{}, fmt.Errorf("channel %s: %w", ch.Number, ErrNotSegmenter)
	}
	// hybrid channels are served from the segmenter and remuxed per client
	if ch.StreamingMode == media.StreamingModeTransportStreamHybrid {
		ch.StreamingMode = media.StreamingModeHLSSegmenter
	}

	now := req.Start
	item, err := s.playout.ItemAt(ctx, ch.Number, now)
	if err != nil {
		message, duration := s.offline(ctx, ch, now, err)
		return s.errorInvocation(ctx, ch, errorRequest{
			start:     now,
			duration:  duration,
			message:   message,
			realtime:  req.Realtime,
			ptsOffset: req.PTSOffset,
			fmp4:      req.FMP4,
			dir:       req.Dir,
		})
	}

	effectiveNow := now
	if req.StartAtZero {
		effectiveNow = item.Start
	}
	finish := item.Finish
	duration := finish.Sub(effectiveNow)
	outPoint := item.OutPoint
	complete := true
	if !req.Realtime && duration > workAheadLimit {
		finish = effectiveNow.Add(workAheadLimit)
		outPoint = item.InPoint + workAheadLimit
		duration = workAheadLimit
		complete = false
	}

	if msg, ok := missingFile(item); ok {
		return s.errorInvocation(ctx, ch, errorRequest{
			start:     effectiveNow,
			duration:  duration,
			message:   msg,
			realtime:  req.Realtime,
			ptsOffset: req.PTSOffset,
			fmp4:      req.FMP4,
			dir:       req.Dir,
		})
	}

	gen := s.generation(ch.Number, req.FMP4, effectiveNow)
	cmd, err := s.ForPlayoutItem(ctx, ch, PlayoutRun{
		Item:            item,
		Now:             effectiveNow,
		Finish:          finish,
		OutPoint:        outPoint,
		Duration:        duration,
		Realtime:        req.Realtime,
		TargetFrameRate: req.TargetFrameRate,
		HLS: pipeline.HLSOutput{
			Dir:            req.Dir,
			GeneratedAt:    gen,
			PTSOffset:      req.PTSOffset,
			SegmentSeconds: s.cfg.SegmentSeconds,
		},
	})
	if err != nil {
		return hls.Invocation{}, err
	}
	return hls.Invocation{
		Command:     cmd,
		Kind:        "transcode",
		Realtime:    req.Realtime,
		Until:       finish,
		Complete:    complete,
		Duration:    duration,
		GeneratedAt: gen,
	}, nil
}

// ErrorProcess builds the offline screen that covers a failed run.
func (s *Service) ErrorProcess(ctx context.Context, req hls.ErrorRequest) (hls.Invocation, error) {
	ch, err := s.channels.Channel(ctx, req.Channel)
	if err != nil {
		return hls.Invocation{}, err
	}
	if ch.StreamingMode == media.StreamingModeTransportStreamHybrid {
		ch.StreamingMode = media.StreamingModeHLSSegmenter
	}
	duration := req.Until.Sub(req.Start)
	if duration <= 0 {
		duration = req.Duration
	}
	inv, err := s.errorInvocation(ctx, ch, errorRequest{
		start:     req.Start,
		duration:  duration,
		message:   req.Message,
		realtime:  req.Realtime,
		ptsOffset: req.PTSOffset,
		fmp4:      req.FMP4,
		dir:       req.Dir,
	})
	if err != nil {
		return hls.Invocation{}, err
	}
	if !req.Until.IsZero() {
		inv.Until = req.Until
	}
	return inv, nil
}

type errorRequest struct {
	start     time.Time
	duration  time.Duration
	message   string
	realtime  bool
	ptsOffset time.Duration
	fmp4      bool
	dir       string
}

func (s *Service) errorInvocation(ctx context.Context, ch media.Channel, req errorRequest) (hls.Invocation, error) {
	gen := s.generation(ch.Number, req.fmp4, req.start)
	cmd, err := s.ForError(ctx, ch, ErrorRun{
		Message:  req.message,
		Duration: req.duration,
		HLS: pipeline.HLSOutput{
			Dir:            req.dir,
			GeneratedAt:    gen,
			PTSOffset:      req.ptsOffset,
			SegmentSeconds: s.cfg.SegmentSeconds,
		},
	})
	if err != nil {
		return hls.Invocation{}, err
	}
	return hls.Invocation{
		Command:     cmd,
		Kind:        "error",
		Realtime:    req.realtime,
		Until:       req.start.Add(req.duration),
		Complete:    true,
		Duration:    req.duration,
		GeneratedAt: gen,
	}, nil
}

// offline logs why nothing plays and returns the screen text and how long
// to show it.
func (s *Service) offline(ctx context.Context, ch media.Channel, now time.Time, cause error) (string, time.Duration) {
	duration := offlineRetry
	if next, ok := s.playout.NextStart(ctx, ch.Number, now); ok && next.After(now) {
		duration = next.Sub(now)
	}
	logger := log.WithComponentFromContext(ctx, "transcoder")
	ev := logger.Warn()
	if errors.Is(cause, ErrNoPlayoutItem) {
		ev = logger.Info()
	}
	ev.Err(cause).
		Str(log.FieldChannel, ch.Number).
		Time("until", now.Add(duration)).
		Msg("error locating playout item; showing offline screen")
	return offlineMessage, duration
}

// generation returns a unique fMP4 generation tag for a run starting at t,
// or zero for MPEG-TS output.
func (s *Service) generation(channel string, fmp4 bool, t time.Time) int64 {
	if !fmp4 {
		return 0
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	gen := t.Unix()
	if last := s.generations[channel]; gen <= last {
		gen = last + 1
	}
	s.generations[channel] = gen
	return gen
}

func (s *Service) stateOptions(ch media.Channel, out pipeline.HLSOutput, duration time.Duration) pipeline.StateOptions {
	if out.SegmentSeconds == 0 {
		out.SegmentSeconds = s.cfg.SegmentSeconds
	}
	return pipeline.StateOptions{
		Output:      pipeline.OutputKindFor(ch.StreamingMode),
		HLS:         out,
		Finish:      duration,
		SaveReport:  s.cfg.SaveReports,
		ReportsDir:  s.cfg.ReportsDir,
		FontsDir:    s.cfg.FontsDir,
		Metadata:    pipeline.Metadata{ServiceProvider: serviceName, ServiceName: ch.Name},
		VaapiDriver: ch.Profile.VaapiDriver,
		VaapiDevice: ch.Profile.VaapiDevice,
	}
}

func (s *Service) backgroundImage() string {
	return filepath.Join(s.cfg.ResourcesDir, "background.png")
}

func missingFile(item Item) (string, bool) {
	if _, err := os.Stat(item.Version.Path); err != nil {
		return fmt.Sprintf("Playout item does not exist on disk\n%s", filepath.Base(item.Version.Path)), true
	}
	return "", false
}
