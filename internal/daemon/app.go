// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package daemon wires the playback core into a running server.
package daemon

import (
	"context"
	"fmt"
	"net/http"
	"path/filepath"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/ManuGH/chanstream/internal/config"
	"github.com/ManuGH/chanstream/internal/domain/media"
	"github.com/ManuGH/chanstream/internal/hls"
	"github.com/ManuGH/chanstream/internal/httpapi"
	"github.com/ManuGH/chanstream/internal/lineup"
	"github.com/ManuGH/chanstream/internal/log"
	"github.com/ManuGH/chanstream/internal/pipeline"
	"github.com/ManuGH/chanstream/internal/pipeline/exec/ffmpeg"
	"github.com/ManuGH/chanstream/internal/pipeline/hardware"
	"github.com/ManuGH/chanstream/internal/probe"
	"github.com/ManuGH/chanstream/internal/segmenter"
	"github.com/ManuGH/chanstream/internal/streamselect"
	"github.com/ManuGH/chanstream/internal/tempfile"
	"github.com/ManuGH/chanstream/internal/transcoder"
)

// App owns the long-lived runtime: the lineup watcher, the segmenter
// sessions and the HTTP server.
type App struct {
	cfg    config.Config
	logger zerolog.Logger

	lineup   *lineup.Lineup
	pool     *tempfile.Pool
	counter  *ffmpeg.Counter
	sessions *segmenter.Manager
	handler  http.Handler

	cancelSessions context.CancelFunc
}

// New builds every component from cfg. The lineup is loaded, and media
// without a configured duration probed, before New returns.
func New(ctx context.Context, cfg config.Config) (*App, error) {
	logger := log.WithComponent("daemon")

	if err := ffmpeg.ValidateBinaries(cfg.FFmpeg.Bin, cfg.FFmpeg.FFprobeBin); err != nil {
		return nil, err
	}

	gate := hardware.NewGate()
	if cfg.FFmpeg.VaapiDevice != "" {
		if err := gate.PreflightVAAPI(ctx, cfg.FFmpeg.Bin, cfg.FFmpeg.VaapiDevice); err != nil {
			logger.Warn().Err(err).Str(log.FieldDevice, cfg.FFmpeg.VaapiDevice).
				Msg("VAAPI preflight failed; channels requesting it fall back to software")
		}
	}

	pool := tempfile.New(cfg.Paths.Temp, cfg.TempPoolSize)
	if err := pool.Cleanup(); err != nil {
		logger.Warn().Err(err).Str(log.FieldPath, pool.Dir()).Msg("failed to clean temp pool")
	}

	lu, err := lineup.Load(ctx, cfg.Lineup, lineup.NewProber(cfg.FFmpeg.FFprobeBin),
		lineup.WithVaapiDefaults(media.VaapiDriver(cfg.FFmpeg.VaapiDriver), cfg.FFmpeg.VaapiDevice),
		lineup.WithSubtitlesDir(cfg.Paths.Subtitles),
	)
	if err != nil {
		return nil, fmt.Errorf("load lineup: %w", err)
	}

	resolver := streamselect.NewResolver(streamselect.New(streamselect.ISOLanguageCodes{}, cfg.Audio.DefaultLanguage), cfg.Paths.Policies)
	svc := transcoder.New(transcoder.Config{
		Port:           cfg.Port(),
		SegmentSeconds: cfg.HLS.SegmentSeconds,
		ResourcesDir:   cfg.Paths.Resources,
		FontsDir:       cfg.Paths.Fonts,
		ReportsDir:     cfg.Paths.Reports,
		SaveReports:    cfg.FFmpeg.SaveReports,
	}, lu, lu, resolver, pipeline.NewCompiler(gate), pool)

	status := probe.NewStatusTracker()
	prober := probe.New(cfg.FFmpeg.FFprobeBin, cfg.Paths.Transcode, pool)
	prober.Status = status
	prober.Reporter = logReporter{logger: logger}

	counter := &ffmpeg.Counter{}
	runner := hls.ProcessRunner{
		Bin:         cfg.FFmpeg.Bin,
		Counter:     counter,
		KillTimeout: cfg.FFmpeg.KillTimeout,
		OnSpeed:     status.Observe,
	}
	limiter := hls.NewWorkAheadLimiter(cfg.HLS.WorkAheadLimit)

	base, cancel := context.WithCancel(context.WithoutCancel(ctx))
	factory := func(channel string) (*hls.Session, error) {
		ch, err := lu.Channel(base, channel)
		if err != nil {
			return nil, err
		}
		if !ch.StreamingMode.IsSegmenter() && ch.StreamingMode != media.StreamingModeTransportStreamHybrid {
			return nil, fmt.Errorf("%w: channel %s is %s", transcoder.ErrNotSegmenter, channel, ch.StreamingMode)
		}
		inits := hls.NewInitCache()
		return hls.NewSession(hls.SessionConfig{
			Channel:        channel,
			Dir:            filepath.Join(cfg.Paths.Transcode, channel),
			FMP4:           ch.StreamingMode == media.StreamingModeHLSSegmenterFMP4,
			IdleTimeout:    cfg.HLS.IdleTimeout,
			WindowSegments: cfg.HLS.WindowSegments,
		}, hls.SessionDeps{
			Provider: svc,
			Runner:   runner,
			Trimmer:  hls.NewTrimmer(pool, inits),
			Inits:    inits,
			Limiter:  limiter,
			PTS:      prober,
		}), nil
	}
	sessions := segmenter.NewManager(base, segmenter.NewRegistry(), factory, 0)
	sessions.OnSessionExit = status.Forget

	handler := httpapi.NewRouter(httpapi.Config{
		Port:         cfg.Port(),
		TranscodeDir: cfg.Paths.Transcode,
	}, httpapi.Deps{
		Sessions: sessions,
		Commands: svc,
		PTS:      prober,
		Streamer: httpapi.ProcessStreamer{
			Bin:         cfg.FFmpeg.Bin,
			KillTimeout: cfg.FFmpeg.KillTimeout,
			Counter:     counter,
		},
	})

	logger.Info().
		Int("channels", len(lu.Channels())).
		Str("listen", cfg.Listen).
		Str(log.FieldPath, cfg.Paths.Transcode).
		Msg("daemon initialised")

	return &App{
		cfg:            cfg,
		logger:         logger,
		lineup:         lu,
		pool:           pool,
		counter:        counter,
		sessions:       sessions,
		handler:        handler,
		cancelSessions: cancel,
	}, nil
}

// Handler returns the HTTP handler of the app.
func (a *App) Handler() http.Handler { return a.handler }

// Run serves until ctx is cancelled or the server fails. Sessions are
// stopped and the temp pool emptied before it returns.
func (a *App) Run(ctx context.Context) error {
	m, err := NewManager(ServerConfig{ListenAddr: a.cfg.Listen}, a.handler)
	if err != nil {
		return err
	}
	m.RegisterShutdownHook("temp_pool", func(context.Context) error {
		return a.pool.Cleanup()
	})
	m.RegisterShutdownHook("sessions", func(ctx context.Context) error {
		a.sessions.Shutdown(ctx)
		a.cancelSessions()
		a.logger.Debug().Int64("live_processes", a.counter.Live()).Msg("sessions stopped")
		return nil
	})

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return m.Start(gctx)
	})
	g.Go(func() error {
		// best-effort: a broken watcher leaves the loaded lineup in place
		if err := a.lineup.Watch(gctx, a.playoutUpdated); err != nil {
			a.logger.Warn().Err(err).Str(log.FieldEvent, "lineup.watcher_start_failed").Msg("failed to watch lineup")
		}
		return nil
	})
	return g.Wait()
}

// playoutUpdated tells running sessions of changed channels to rebuild
// their schedule.
func (a *App) playoutUpdated(channels []string) {
	for _, ch := range channels {
		if s, ok := a.sessions.Lookup(ch); ok {
			a.logger.Info().Str(log.FieldChannel, ch).Msg("playout changed; updating session")
			s.PlayoutUpdated()
		}
	}
}

type logReporter struct {
	logger zerolog.Logger
}

func (r logReporter) Report(err error) {
	r.logger.Error().Err(err).Str(log.FieldEvent, "diagnostics.failed").Msg("background operation failed")
}
