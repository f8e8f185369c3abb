// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package pipeline

import (
	"fmt"

	"github.com/ManuGH/chanstream/internal/domain/media"
	"github.com/ManuGH/chanstream/internal/watermark"
)

// InputKind tags an InputFile variant.
type InputKind int

const (
	InputVideo InputKind = iota
	InputAudio
	InputNullAudio
	InputWatermark
	InputSubtitle
	InputConcat
)

func (k InputKind) String() string {
	switch k {
	case InputVideo:
		return "video"
	case InputAudio:
		return "audio"
	case InputNullAudio:
		return "null_audio"
	case InputWatermark:
		return "watermark"
	case InputSubtitle:
		return "subtitle"
	case InputConcat:
		return "concat"
	default:
		return fmt.Sprintf("input(%d)", int(k))
	}
}

// Stream is one stream of an input the pipeline refers to.
type Stream struct {
	Index       int
	Codec       string
	PixelFormat string
	Size        media.FrameSize
	FrameRate   string
	// StillImage marks a single picture that is looped into video.
	StillImage bool
}

// InputFile is one of VideoInput, AudioInput, NullAudioInput,
// WatermarkInput, SubtitleInput or ConcatInput.
type InputFile interface {
	Kind() InputKind
	// Source is the value passed to -i; empty when the input is consumed
	// by a filter instead of being opened by ffmpeg.
	Source() string
	Streams() []Stream
	// InputOptions are the options the input always needs, independent of
	// the run.
	InputOptions() []string

	isInput()
}

// VideoInput is the decoded primary video.
type VideoInput struct {
	Path   string
	Stream Stream
}

func (VideoInput) Kind() InputKind          { return InputVideo }
func (v VideoInput) Source() string         { return v.Path }
func (v VideoInput) Streams() []Stream      { return []Stream{v.Stream} }
func (v VideoInput) InputOptions() []string { return nil }
func (VideoInput) isInput()                 {}

// AudioInput is the selected audio stream, often in the same file as the video.
type AudioInput struct {
	Path   string
	Stream Stream
}

func (AudioInput) Kind() InputKind        { return InputAudio }
func (a AudioInput) Source() string       { return a.Path }
func (a AudioInput) Streams() []Stream    { return []Stream{a.Stream} }
func (AudioInput) InputOptions() []string { return nil }
func (AudioInput) isInput()               {}

// NullAudioInput synthesizes silence for video-only sources.
type NullAudioInput struct{}

func (NullAudioInput) Kind() InputKind   { return InputNullAudio }
func (NullAudioInput) Source() string    { return "anullsrc" }
func (NullAudioInput) Streams() []Stream { return []Stream{{Index: 0}} }
func (NullAudioInput) InputOptions() []string {
	return []string{"-f", "lavfi"}
}
func (NullAudioInput) isInput() {}

// WatermarkInput is the channel bug overlaid on the video.
type WatermarkInput struct {
	Options watermark.Options
}

func (WatermarkInput) Kind() InputKind  { return InputWatermark }
func (w WatermarkInput) Source() string { return w.Options.ImagePath }
func (w WatermarkInput) Streams() []Stream {
	return []Stream{{Index: w.Options.StreamIndex, StillImage: !w.Options.Animated}}
}
func (w WatermarkInput) InputOptions() []string {
	if w.Options.Animated {
		return []string{"-ignore_loop", "0"}
	}
	return []string{"-loop", "1"}
}
func (WatermarkInput) isInput() {}

// SubtitleMethod selects how a subtitle reaches the output.
type SubtitleMethod int

const (
	// SubtitleBurn renders the subtitle into the video frames.
	SubtitleBurn SubtitleMethod = iota
)

// SubtitleInput is a subtitle burned into the video. Image subtitles are
// opened as an input and overlaid; text subtitles are rendered by the
// subtitles filter from Path.
type SubtitleInput struct {
	Path   string
	Stream Stream
	Image  bool
	// Embedded text subtitles are read from Path with the stream index.
	Embedded bool
	Method   SubtitleMethod
}

func (SubtitleInput) Kind() InputKind { return InputSubtitle }
func (s SubtitleInput) Source() string {
	if !s.Image {
		return ""
	}
	return s.Path
}
func (s SubtitleInput) Streams() []Stream    { return []Stream{s.Stream} }
func (SubtitleInput) InputOptions() []string { return nil }
func (SubtitleInput) isInput()               {}

// ConcatFormat selects how a concat input is read.
type ConcatFormat int

const (
	// ConcatPlaylist reads an ffconcat document served over http.
	ConcatPlaylist ConcatFormat = iota
	// ConcatSegmenter pulls the channel's own live HLS playlist.
	ConcatSegmenter
)

// ConcatInput is an internally served stream that a wrapper process remuxes.
type ConcatInput struct {
	URL    string
	Format ConcatFormat
}

func (ConcatInput) Kind() InputKind   { return InputConcat }
func (c ConcatInput) Source() string  { return c.URL }
func (ConcatInput) Streams() []Stream { return []Stream{{Index: 0}} }
func (c ConcatInput) InputOptions() []string {
	if c.Format == ConcatSegmenter {
		return nil
	}
	return []string{
		"-f", "concat",
		"-safe", "0",
		"-protocol_whitelist", "file,http,tcp,https,tcp,tls",
		"-probesize", "32",
	}
}
func (ConcatInput) isInput() {}

// ConcatURL is the ffconcat document of a channel served by the daemon.
func ConcatURL(port int, channel string) string {
	return fmt.Sprintf("http://localhost:%d/ffmpeg/concat/%s", port, channel)
}

// SegmenterURL is the live playlist of a channel served by the daemon.
func SegmenterURL(port int, channel string) string {
	return fmt.Sprintf("http://localhost:%d/iptv/channel/%s/live.m3u8", port, channel)
}
