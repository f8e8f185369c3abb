// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package metrics_test

import (
	"io"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/ManuGH/chanstream/internal/metrics"
)

func TestPromhttpExposure(t *testing.T) {
	metrics.RecordPlaylistTrim(true, 10)

	srv := httptest.NewServer(promhttp.Handler())
	defer srv.Close()

	resp, err := srv.Client().Get(srv.URL)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(body), "chanstream_hls_playlist_trims_total") {
		t.Error("expected playlist trim counter in exposition")
	}
}

func TestTranscoderLiveGauge(t *testing.T) {
	before := testutil.ToFloat64(metrics.TranscoderLiveProcesses)

	metrics.IncTranscoderStart("transcode")
	if got := testutil.ToFloat64(metrics.TranscoderLiveProcesses); got != before+1 {
		t.Fatalf("live processes = %v, want %v", got, before+1)
	}

	metrics.ObserveTranscoderExit("transcode", "exit0", 3*time.Second)
	if got := testutil.ToFloat64(metrics.TranscoderLiveProcesses); got != before {
		t.Fatalf("live processes = %v, want %v", got, before)
	}
	if got := testutil.ToFloat64(metrics.TranscoderExits.WithLabelValues("transcode", "exit0")); got < 1 {
		t.Errorf("exit counter = %v, want >= 1", got)
	}
}

func TestRecordDiagnosticsSnapshot(t *testing.T) {
	written := testutil.ToFloat64(metrics.DiagnosticsSnapshots.WithLabelValues("written"))
	failed := testutil.ToFloat64(metrics.DiagnosticsSnapshots.WithLabelValues("failed"))

	metrics.RecordDiagnosticsSnapshot(true)
	metrics.RecordDiagnosticsSnapshot(false)

	if got := testutil.ToFloat64(metrics.DiagnosticsSnapshots.WithLabelValues("written")); got != written+1 {
		t.Errorf("written = %v, want %v", got, written+1)
	}
	if got := testutil.ToFloat64(metrics.DiagnosticsSnapshots.WithLabelValues("failed")); got != failed+1 {
		t.Errorf("failed = %v, want %v", got, failed+1)
	}
}
