// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package log provides structured logging utilities.
package log

import (
	"context"

	"github.com/rs/zerolog"
)

// ctxKey doubles as the log field name of the value it stores.
type ctxKey string

const (
	requestIDKey ctxKey = FieldRequestID
	sessionIDKey ctxKey = FieldSessionID
	channelKey   ctxKey = FieldChannel
)

// correlationKeys are copied onto loggers by WithContext, in this order.
var correlationKeys = [...]ctxKey{requestIDKey, sessionIDKey, channelKey}

func withValue(ctx context.Context, key ctxKey, v string) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithValue(ctx, key, v)
}

func value(ctx context.Context, key ctxKey) string {
	if ctx == nil {
		return ""
	}
	v, _ := ctx.Value(key).(string)
	return v
}

// ContextWithRequestID stores the HTTP request ID in ctx.
func ContextWithRequestID(ctx context.Context, id string) context.Context {
	return withValue(ctx, requestIDKey, id)
}

// ContextWithSessionID stores the segmenter session ID in ctx.
func ContextWithSessionID(ctx context.Context, id string) context.Context {
	return withValue(ctx, sessionIDKey, id)
}

// ContextWithChannel stores the channel number in ctx.
func ContextWithChannel(ctx context.Context, channel string) context.Context {
	return withValue(ctx, channelKey, channel)
}

func RequestIDFromContext(ctx context.Context) string { return value(ctx, requestIDKey) }
func SessionIDFromContext(ctx context.Context) string { return value(ctx, sessionIDKey) }
func ChannelFromContext(ctx context.Context) string   { return value(ctx, channelKey) }

// WithContext adds the correlation values found in ctx to logger. The logger
// is returned unchanged when ctx carries none.
func WithContext(ctx context.Context, logger zerolog.Logger) zerolog.Logger {
	var lc *zerolog.Context
	for _, key := range correlationKeys {
		v := value(ctx, key)
		if v == "" {
			continue
		}
		if lc == nil {
			c := logger.With()
			lc = &c
		}
		*lc = lc.Str(string(key), v)
	}
	if lc == nil {
		return logger
	}
	return lc.Logger()
}

// WithComponentFromContext is WithComponent plus the correlation values of ctx.
func WithComponentFromContext(ctx context.Context, component string) zerolog.Logger {
	return WithContext(ctx, WithComponent(component))
}
