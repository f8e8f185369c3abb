// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package pipeline compiles a desired playback state into the inputs, filter
// graph and stream mapping of one ffmpeg run. The exec/ffmpeg package turns
// a compiled Pipeline into an argument vector.
package pipeline

import (
	"time"

	"github.com/ManuGH/chanstream/internal/domain/media"
	"github.com/ManuGH/chanstream/internal/playback"
)

// OutputKind selects the muxer of a run.
type OutputKind int

const (
	// OutputMPEGTS writes a transport stream to stdout.
	OutputMPEGTS OutputKind = iota
	// OutputHLS writes live%06d.ts segments and a live playlist.
	OutputHLS
	// OutputHLSFMP4 writes fragmented mp4 segments with a per-run init file.
	OutputHLSFMP4
)

func (k OutputKind) String() string {
	switch k {
	case OutputHLS:
		return "hls"
	case OutputHLSFMP4:
		return "hls_fmp4"
	default:
		return "mpegts"
	}
}

// IsHLS reports whether the kind writes a segment playlist.
func (k OutputKind) IsHLS() bool {
	return k == OutputHLS || k == OutputHLSFMP4
}

// DefaultSegmentSeconds is the HLS target segment duration.
const DefaultSegmentSeconds = 4

// FrameState is the desired video output.
type FrameState struct {
	Realtime bool

	VideoFormat  media.VideoFormat
	VideoProfile string
	VideoPreset  string
	AllowBFrames bool
	PixelFormat  string

	// ScaledSize is zero when the source keeps its size.
	ScaledSize media.FrameSize
	// PaddedSize is zero when no black bars are added.
	PaddedSize media.FrameSize
	// CropSize is zero when the scaled frame is not cropped.
	CropSize media.FrameSize

	FrameRate           string
	VideoBitrate        int
	VideoBufferSize     int
	VideoTrackTimeScale int
	Deinterlace         bool
}

// AudioState is the desired audio output.
type AudioState struct {
	Format     media.AudioFormat
	Channels   int
	Bitrate    int
	BufferSize int
	SampleRate int
	// PadDuration pads the audio with silence up to this length.
	PadDuration       time.Duration
	NormalizeLoudness bool
}

// HLSOutput locates the segmenter output of a run.
type HLSOutput struct {
	// Dir holds the playlist, segments and init files of the channel.
	Dir string
	// GeneratedAt tags fMP4 segment and init file names of this run.
	GeneratedAt int64
	// PTSOffset shifts output timestamps so consecutive runs stay monotonic.
	PTSOffset      time.Duration
	SegmentSeconds int
}

// Metadata is written into the output container.
type Metadata struct {
	ServiceProvider string
	ServiceName     string
	AudioLanguage   string
}

// EngineState describes the process rather than the streams.
type EngineState struct {
	DecoderAccel media.HardwareAccel
	EncoderAccel media.HardwareAccel
	VideoDecoder string
	VaapiDriver  media.VaapiDriver
	VaapiDevice  string

	ThreadCount int
	FormatFlags []string
	Seek        time.Duration
	// Finish limits the output duration; zero runs to the end of the input.
	Finish time.Duration

	Output OutputKind
	HLS    HLSOutput

	SaveReport bool
	ReportsDir string
	FontsDir   string

	Metadata Metadata
}

// StateOptions carries the per-run values that are not part of the
// calculated settings.
type StateOptions struct {
	Output      OutputKind
	HLS         HLSOutput
	Finish      time.Duration
	SaveReport  bool
	ReportsDir  string
	FontsDir    string
	Metadata    Metadata
	VaapiDriver media.VaapiDriver
	VaapiDevice string
}

// StatesFromSettings maps calculated playback settings onto compiler states.
func StatesFromSettings(s playback.Settings, profile media.Profile, opts StateOptions) (FrameState, AudioState, EngineState) {
	frame := FrameState{
		Realtime:            s.RealtimeOutput,
		VideoFormat:         s.VideoFormat,
		VideoProfile:        s.VideoProfile,
		VideoPreset:         s.VideoPreset,
		AllowBFrames:        s.AllowBFrames,
		PixelFormat:         s.PixelFormat,
		ScaledSize:          s.ScaledSize,
		CropSize:            s.CropSize,
		FrameRate:           s.FrameRate,
		VideoBitrate:        s.VideoBitrate,
		VideoBufferSize:     s.VideoBufferSize,
		VideoTrackTimeScale: s.VideoTrackTimeScale,
		Deinterlace:         s.Deinterlace,
	}
	if s.PadToDesiredResolution {
		frame.PaddedSize = profile.Resolution
	}

	audio := AudioState{
		Format:            s.AudioFormat,
		Channels:          s.AudioChannels,
		Bitrate:           s.AudioBitrate,
		BufferSize:        s.AudioBufferSize,
		SampleRate:        s.AudioSampleRate,
		PadDuration:       s.AudioDuration,
		NormalizeLoudness: s.NormalizeLoudness,
	}

	if opts.HLS.SegmentSeconds <= 0 {
		opts.HLS.SegmentSeconds = DefaultSegmentSeconds
	}
	accel := s.HardwareAccel
	if accel == "" {
		accel = media.HardwareAccelNone
	}
	engine := EngineState{
		DecoderAccel: accel,
		EncoderAccel: accel,
		VideoDecoder: s.VideoDecoder,
		VaapiDriver:  opts.VaapiDriver,
		VaapiDevice:  opts.VaapiDevice,
		ThreadCount:  s.ThreadCount,
		FormatFlags:  s.FormatFlags,
		Seek:         s.StreamSeek,
		Finish:       opts.Finish,
		Output:       opts.Output,
		HLS:          opts.HLS,
		SaveReport:   opts.SaveReport,
		ReportsDir:   opts.ReportsDir,
		FontsDir:     opts.FontsDir,
		Metadata:     opts.Metadata,
	}

	return frame, audio, engine
}

// OutputKindFor returns the output kind of a streaming mode.
func OutputKindFor(mode media.StreamingMode) OutputKind {
	switch mode {
	case media.StreamingModeHLSSegmenter:
		return OutputHLS
	case media.StreamingModeHLSSegmenterFMP4:
		return OutputHLSFMP4
	default:
		return OutputMPEGTS
	}
}
