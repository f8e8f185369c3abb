// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package daemon

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestNewManager_RequiresHandler(t *testing.T) {
	_, err := NewManager(ServerConfig{}, nil)
	assert.ErrorIs(t, err, ErrMissingHandler)
}

func TestManager_ShutdownBeforeStart(t *testing.T) {
	m, err := NewManager(ServerConfig{}, http.NotFoundHandler())
	require.NoError(t, err)
	assert.ErrorIs(t, m.Shutdown(context.Background()), ErrManagerNotStarted)
}

func TestManager_HooksRunInReverseOrder(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	addr := reserveListenAddr(t)
	m, err := NewManager(ServerConfig{ListenAddr: addr}, http.NotFoundHandler())
	require.NoError(t, err)

	var (
		mu    sync.Mutex
		order []string
	)
	for _, name := range []string{"first", "second", "third"} {
		name := name
		m.RegisterShutdownHook(name, func(context.Context) error {
			mu.Lock()
			order = append(order, name)
			mu.Unlock()
			return nil
		})
	}
	failure := errors.New("boom")
	m.RegisterShutdownHook("failing", func(context.Context) error { return failure })

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- m.Start(ctx) }()
	require.NoError(t, waitForListen(addr, 2*time.Second))

	cancel()
	err = <-done
	require.ErrorIs(t, err, failure)
	assert.Equal(t, []string{"third", "second", "first"}, order)

	assert.NoError(t, m.Shutdown(context.Background()), "second shutdown is a no-op")
	assert.ErrorIs(t, m.Start(context.Background()), ErrManagerStarted)
}

func TestManager_ShutdownReleasesStreamingRequests(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	addr := reserveListenAddr(t)
	entered := make(chan struct{})
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		if f, ok := w.(http.Flusher); ok {
			f.Flush()
		}
		close(entered)
		<-r.Context().Done()
	})
	m, err := NewManager(ServerConfig{ListenAddr: addr, ShutdownTimeout: 5 * time.Second}, handler)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- m.Start(ctx) }()
	require.NoError(t, waitForListen(addr, 2*time.Second))

	client := &http.Client{}
	resp, err := client.Get("http://" + addr + "/stream")
	require.NoError(t, err)
	<-entered

	start := time.Now()
	cancel()
	require.NoError(t, <-done)
	assert.Less(t, time.Since(start), 4*time.Second, "streams end when shutdown begins")
	_ = resp.Body.Close()
	client.CloseIdleConnections()
}
