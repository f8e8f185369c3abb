package transcoder

import "errors"

var (
	// ErrNoPlayoutItem is returned by a Playout when nothing is scheduled at
	// the requested time.
	ErrNoPlayoutItem = errors.New("no playout item scheduled")

	// ErrChannelNotFound is returned by Channels for unknown channel numbers.
	ErrChannelNotFound = errors.New("channel not found")

	// ErrNotSegmenter is returned when an HLS session is requested for a
	// channel that does not stream through the segmenter.
	ErrNotSegmenter = errors.New("channel does not use the segmenter")
)
