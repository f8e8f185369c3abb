// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package httpapi exposes the live playlists, segments and MPEG-TS streams
// of the channels, plus the loopback endpoints ffmpeg reads from.
package httpapi

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/ManuGH/chanstream/internal/domain/media"
	"github.com/ManuGH/chanstream/internal/fsutil"
	"github.com/ManuGH/chanstream/internal/hls"
	"github.com/ManuGH/chanstream/internal/log"
	"github.com/ManuGH/chanstream/internal/pipeline/exec/ffmpeg"
	"github.com/ManuGH/chanstream/internal/probe"
	"github.com/ManuGH/chanstream/internal/segmenter"
	"github.com/ManuGH/chanstream/internal/transcoder"
)

const (
	contentTypePlaylist = "application/vnd.apple.mpegurl"
	contentTypeTS       = "video/mp2t"

	defaultLastPTSLimit  = 30
	defaultLastPTSWindow = time.Minute
)

// Sessions starts and finds segmenter sessions.
type Sessions interface {
	Session(ctx context.Context, channel string) (*hls.Session, error)
	Lookup(channel string) (*hls.Session, bool)
}

// Commands builds the ffmpeg invocations behind the MPEG-TS endpoints.
type Commands interface {
	Channel(ctx context.Context, number string) (media.Channel, error)
	ConcatChannel(ch media.Channel) (ffmpeg.Command, error)
	WrapSegmenter(ch media.Channel) (ffmpeg.Command, error)
	StreamAt(ctx context.Context, ch media.Channel, now time.Time) (ffmpeg.Command, error)
}

// PTSProber reports where a channel's newest segment ends.
type PTSProber interface {
	LastPTS(ctx context.Context, channel string) (time.Duration, error)
}

// Streamer runs a command and copies its output to w until it exits or
// ctx is done.
type Streamer interface {
	Stream(ctx context.Context, kind string, cmd ffmpeg.Command, w io.Writer) error
}

// Config configures the router.
type Config struct {
	// Port is the port ffmpeg uses to read the loopback endpoints.
	Port         int
	TranscodeDir string
	// LastPTSLimit requests per LastPTSWindow and client IP.
	LastPTSLimit  int
	LastPTSWindow time.Duration
}

// Deps are the collaborators of the router.
type Deps struct {
	Sessions Sessions
	Commands Commands
	PTS      PTSProber
	Streamer Streamer
	Now      func() time.Time
}

type server struct {
	cfg  Config
	deps Deps
}

// NewRouter returns the HTTP handler of the daemon.
func NewRouter(cfg Config, deps Deps) http.Handler {
	if cfg.LastPTSLimit <= 0 {
		cfg.LastPTSLimit = defaultLastPTSLimit
	}
	if cfg.LastPTSWindow <= 0 {
		cfg.LastPTSWindow = defaultLastPTSWindow
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}
	s := &server{cfg: cfg, deps: deps}

	r := chi.NewRouter()
	r.Use(recoverer)
	r.Use(requestID)
	r.Use(observe)

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		_, _ = io.WriteString(w, "ok\n")
	})
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/iptv", func(r chi.Router) {
		r.Get("/channel/{number}.ts", s.handleTransportStream)
		r.Get("/channel/{number}/live.m3u8", s.handlePlaylist)
		r.With(rateLimit(cfg.LastPTSLimit, cfg.LastPTSWindow)).
			Get("/channel/{number}/last-pts", s.handleLastPTS)
		r.Get("/session/{number}/{segment}", s.handleSegment)
	})
	r.Route("/ffmpeg", func(r chi.Router) {
		r.Get("/concat/{number}", s.handleConcatPlaylist)
		r.Get("/stream/{number}", s.handleStream)
	})
	return r
}

func (s *server) channel(w http.ResponseWriter, r *http.Request) (media.Channel, bool) {
	number := chi.URLParam(r, "number")
	ch, err := s.deps.Commands.Channel(r.Context(), number)
	if err != nil {
		if errors.Is(err, transcoder.ErrChannelNotFound) {
			writeError(w, r, http.StatusNotFound, "channel not found")
			return media.Channel{}, false
		}
		writeError(w, r, http.StatusInternalServerError, err.Error())
		return media.Channel{}, false
	}
	return ch, true
}

func (s *server) session(w http.ResponseWriter, r *http.Request, number string) (*hls.Session, bool) {
	sess, err := s.deps.Sessions.Session(r.Context(), number)
	switch {
	case err == nil:
		return sess, true
	case errors.Is(err, segmenter.ErrProcessExists):
		writeError(w, r, http.StatusConflict, "channel is busy with another process")
	case errors.Is(err, context.Canceled):
		// client went away
	default:
		logger := log.WithComponentFromContext(r.Context(), "httpapi")
		logger.Warn().Err(err).
			Str(log.FieldChannel, number).Msg("failed to start segmenter session")
		w.Header().Set("Retry-After", "2")
		writeError(w, r, http.StatusServiceUnavailable, "channel is starting")
	}
	return nil, false
}

func (s *server) handlePlaylist(w http.ResponseWriter, r *http.Request) {
	ch, ok := s.channel(w, r)
	if !ok {
		return
	}
	if !ch.StreamingMode.IsSegmenter() && ch.StreamingMode != media.StreamingModeTransportStreamHybrid {
		writeError(w, r, http.StatusBadRequest, "channel is not served by the segmenter")
		return
	}
	ctx := log.ContextWithChannel(r.Context(), ch.Number)
	r = r.WithContext(ctx)

	sess, ok := s.session(w, r, ch.Number)
	if !ok {
		return
	}
	sess.Touch()

	res, ok, err := sess.Playlist(ctx)
	if err != nil || !ok {
		if err != nil && !errors.Is(err, hls.ErrSessionStopped) {
			logger := log.WithComponentFromContext(ctx, "httpapi")
			logger.Warn().Err(err).Msg("failed to trim playlist")
		}
		w.Header().Set("Retry-After", "2")
		writeError(w, r, http.StatusServiceUnavailable, "playlist not ready")
		return
	}

	w.Header().Set("Content-Type", contentTypePlaylist)
	w.Header().Set("Cache-Control", "no-cache")
	_, _ = io.WriteString(w, rewriteSegmentURIs(res.Playlist, "/iptv/session/"+ch.Number+"/"))
}

// rewriteSegmentURIs makes segment and init references absolute so they are
// served by the session route.
func rewriteSegmentURIs(playlist, prefix string) string {
	lines := strings.Split(playlist, "\n")
	for i, line := range lines {
		switch {
		case line == "":
		case strings.HasPrefix(line, `#EXT-X-MAP:URI="`):
			lines[i] = `#EXT-X-MAP:URI="` + prefix + strings.TrimPrefix(line, `#EXT-X-MAP:URI="`)
		case strings.HasPrefix(line, "#"):
		default:
			lines[i] = prefix + line
		}
	}
	return strings.Join(lines, "\n")
}

func (s *server) handleSegment(w http.ResponseWriter, r *http.Request) {
	number := chi.URLParam(r, "number")
	segment := chi.URLParam(r, "segment")
	if sess, ok := s.deps.Sessions.Lookup(number); ok {
		sess.Touch()
	}

	file, err := fsutil.ConfineRelPath(s.cfg.TranscodeDir, path.Join(number, segment))
	if err != nil {
		if errors.Is(err, fsutil.ErrOutsideRoot) {
			writeError(w, r, http.StatusBadRequest, "invalid segment path")
			return
		}
		writeError(w, r, http.StatusNotFound, "segment not found")
		return
	}
	if err := fsutil.IsRegularFile(file); err != nil {
		writeError(w, r, http.StatusNotFound, "segment not found")
		return
	}

	f, err := os.Open(file) // #nosec G304 -- confined to the transcode folder
	if err != nil {
		writeError(w, r, http.StatusNotFound, "segment not found")
		return
	}
	defer func() { _ = f.Close() }()
	info, err := f.Stat()
	if err != nil {
		writeError(w, r, http.StatusInternalServerError, "stat segment")
		return
	}

	switch filepath.Ext(file) {
	case ".ts":
		w.Header().Set("Content-Type", contentTypeTS)
	case ".m4s", ".mp4":
		w.Header().Set("Content-Type", "video/mp4")
	case ".m3u8":
		w.Header().Set("Content-Type", contentTypePlaylist)
	}
	http.ServeContent(w, r, segment, info.ModTime(), f)
}

func (s *server) handleLastPTS(w http.ResponseWriter, r *http.Request) {
	number := chi.URLParam(r, "number")
	pts, err := s.deps.PTS.LastPTS(r.Context(), number)
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, map[string]any{
			"channel":     number,
			"last_pts_us": pts.Microseconds(),
		})
	case errors.Is(err, probe.ErrNoSegment):
		writeError(w, r, http.StatusNotFound, "no segment")
	default:
		writeError(w, r, http.StatusInternalServerError, err.Error())
	}
}

// handleTransportStream serves a continuous MPEG-TS stream. Plain TS
// channels loop the concat playlist; hybrid channels remux the segmenter.
func (s *server) handleTransportStream(w http.ResponseWriter, r *http.Request) {
	ch, ok := s.channel(w, r)
	if !ok {
		return
	}
	ctx := log.ContextWithChannel(r.Context(), ch.Number)
	r = r.WithContext(ctx)

	var (
		cmd  ffmpeg.Command
		kind string
		err  error
	)
	switch ch.StreamingMode {
	case media.StreamingModeTransportStream:
		kind = "concat"
		cmd, err = s.deps.Commands.ConcatChannel(ch)
	case media.StreamingModeTransportStreamHybrid:
		if _, ok := s.session(w, r, ch.Number); !ok {
			return
		}
		kind = "segmenter_wrap"
		cmd, err = s.deps.Commands.WrapSegmenter(ch)
	default:
		writeError(w, r, http.StatusBadRequest, "channel does not stream MPEG-TS")
		return
	}
	if err != nil {
		writeError(w, r, http.StatusInternalServerError, err.Error())
		return
	}
	s.stream(w, r, kind, cmd)
}

// handleConcatPlaylist answers the ffconcat document the concat process
// loops over. Both entries point at the same live stream so the demuxer
// always has a next file queued.
func (s *server) handleConcatPlaylist(w http.ResponseWriter, r *http.Request) {
	number := chi.URLParam(r, "number")
	url := fmt.Sprintf("http://localhost:%d/ffmpeg/stream/%s", s.cfg.Port, number)
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	_, _ = fmt.Fprintf(w, "ffconcat version 1.0\nfile %s\nfile %s\n", url, url)
}

// handleStream plays the remainder of the current item as MPEG-TS.
func (s *server) handleStream(w http.ResponseWriter, r *http.Request) {
	ch, ok := s.channel(w, r)
	if !ok {
		return
	}
	ctx := log.ContextWithChannel(r.Context(), ch.Number)
	r = r.WithContext(ctx)

	cmd, err := s.deps.Commands.StreamAt(ctx, ch, s.deps.Now())
	if err != nil {
		writeError(w, r, http.StatusInternalServerError, err.Error())
		return
	}
	s.stream(w, r, "stream", cmd)
}

func (s *server) stream(w http.ResponseWriter, r *http.Request, kind string, cmd ffmpeg.Command) {
	w.Header().Set("Content-Type", contentTypeTS)
	w.Header().Set("Cache-Control", "no-cache")
	w.WriteHeader(http.StatusOK)

	err := s.deps.Streamer.Stream(r.Context(), kind, cmd, &flushWriter{w: w, rc: http.NewResponseController(w)})
	if err != nil && !errors.Is(err, context.Canceled) {
		logger := log.WithComponentFromContext(r.Context(), "httpapi")
		logger.Warn().Err(err).
			Str("kind", kind).Msg("stream ended with error")
	}
}

// flushWriter pushes every chunk to the client immediately.
type flushWriter struct {
	w  io.Writer
	rc *http.ResponseController
}

func (f *flushWriter) Write(p []byte) (int, error) {
	n, err := f.w.Write(p)
	if err == nil {
		_ = f.rc.Flush()
	}
	return n, err
}
