// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// TranscoderStarts tracks ffmpeg launches by pipeline kind (transcode, concat, error).
	TranscoderStarts = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "chanstream_transcoder_starts_total",
		Help: "Total ffmpeg processes started",
	}, []string{"kind"})

	// TranscoderExits tracks ffmpeg exits by pipeline kind and outcome.
	TranscoderExits = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "chanstream_transcoder_exits_total",
		Help: "Total ffmpeg process exits",
	}, []string{"kind", "result"})

	// TranscoderRunDuration tracks how long a single ffmpeg run lasted.
	TranscoderRunDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "chanstream_transcoder_run_duration_seconds",
		Help:    "Wall clock duration of ffmpeg runs",
		Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600, 1800, 3600},
	}, []string{"kind"})

	// TranscoderLiveProcesses is the reference count of running ffmpeg handles.
	TranscoderLiveProcesses = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "chanstream_transcoder_live_processes",
		Help: "Number of ffmpeg processes currently alive",
	})

	// TranscoderSpeed tracks the last reported encode speed per channel.
	TranscoderSpeed = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "chanstream_transcoder_speed_ratio",
		Help: "Last encode speed reported by ffmpeg progress output",
	}, []string{"channel"})

	procTerminate = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "chanstream_proc_terminate_total",
		Help: "Signals sent while terminating process groups",
	}, []string{"signal", "result"})

	procWait = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "chanstream_proc_wait_total",
		Help: "Outcome of waiting for terminated process groups",
	}, []string{"outcome"})
)

// IncTranscoderStart records an ffmpeg launch and bumps the live gauge.
func IncTranscoderStart(kind string) {
	TranscoderStarts.WithLabelValues(kind).Inc()
	TranscoderLiveProcesses.Inc()
}

// ObserveTranscoderExit records an ffmpeg exit and releases the live gauge.
func ObserveTranscoderExit(kind, result string, ran time.Duration) {
	TranscoderExits.WithLabelValues(kind, result).Inc()
	TranscoderRunDuration.WithLabelValues(kind).Observe(ran.Seconds())
	TranscoderLiveProcesses.Dec()
}

// SetTranscoderSpeed records the encode speed parsed from progress output.
func SetTranscoderSpeed(channel string, speed float64) {
	TranscoderSpeed.WithLabelValues(channel).Set(speed)
}

// IncProcTerminate records a termination signal outcome.
func IncProcTerminate(signal, result string) {
	procTerminate.WithLabelValues(signal, result).Inc()
}

// IncProcWait records how a terminated process group finished.
func IncProcWait(outcome string) {
	procWait.WithLabelValues(outcome).Inc()
}
