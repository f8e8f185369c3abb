// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// PlaylistTrims tracks trim passes over live playlists.
	PlaylistTrims = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "chanstream_hls_playlist_trims_total",
		Help: "Total live playlist trim passes by result",
	}, []string{"result"})

	// PlaylistSegments tracks how many segments a trimmed window contains.
	PlaylistSegments = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "chanstream_hls_playlist_window_segments",
		Help:    "Segments retained in a trimmed playlist window",
		Buckets: prometheus.LinearBuckets(0, 5, 13),
	})

	// SegmentsDeleted tracks segment and init files removed below the window.
	SegmentsDeleted = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "chanstream_hls_segments_deleted_total",
		Help: "Segment files deleted after falling out of the live window",
	}, []string{"type"})

	// InitCacheEntries tracks known init segment names.
	InitCacheEntries = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "chanstream_hls_init_cache_entries",
		Help: "Init segment names known to the hash cache",
	})

	// SegmenterSessions tracks registered per-channel segmenter sessions.
	SegmenterSessions = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "chanstream_segmenter_sessions",
		Help: "Channels with a registered segmenter session",
	})

	// WorkAheadSessions tracks sessions transcoding faster than realtime.
	WorkAheadSessions = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "chanstream_segmenter_work_ahead_sessions",
		Help: "Segmenter sessions currently working ahead of realtime",
	})

	// LastPTSProbes tracks last-PTS probes by result.
	LastPTSProbes = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "chanstream_probe_last_pts_total",
		Help: "Last presentation timestamp probes by result",
	}, []string{"result"})

	// DiagnosticsSnapshots tracks troubleshooting bundles written after parse failures.
	DiagnosticsSnapshots = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "chanstream_diagnostics_snapshots_total",
		Help: "Troubleshooting bundles written by result",
	}, []string{"result"})

	// TempFileSlots tracks temp pool slots handed out by category.
	TempFileSlots = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "chanstream_tempfile_slots_total",
		Help: "Rotating temp file slots handed out",
	}, []string{"category"})
)

// RecordPlaylistTrim records a trim pass and, on success, the window size.
func RecordPlaylistTrim(ok bool, segments int) {
	if !ok {
		PlaylistTrims.WithLabelValues("error").Inc()
		return
	}
	PlaylistTrims.WithLabelValues("ok").Inc()
	PlaylistSegments.Observe(float64(segments))
}

// RecordLastPTSProbe records a last-PTS probe outcome.
func RecordLastPTSProbe(result string) {
	LastPTSProbes.WithLabelValues(result).Inc()
}

// RecordDiagnosticsSnapshot records whether a troubleshooting bundle was written.
func RecordDiagnosticsSnapshot(ok bool) {
	if ok {
		DiagnosticsSnapshots.WithLabelValues("written").Inc()
		return
	}
	DiagnosticsSnapshots.WithLabelValues("failed").Inc()
}
