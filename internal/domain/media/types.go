// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package media holds the value types supplied by the playout collaborator:
// channels, their transcode profiles, and the probed media being played.
package media

import (
	"fmt"
	"time"
)

// StreamingMode selects how a channel is delivered to clients.
type StreamingMode string

const (
	StreamingModeTransportStream       StreamingMode = "ts"
	StreamingModeTransportStreamHybrid StreamingMode = "ts_hybrid"
	StreamingModeHLSDirect             StreamingMode = "hls_direct"
	StreamingModeHLSSegmenter          StreamingMode = "hls_segmenter"
	StreamingModeHLSSegmenterFMP4      StreamingMode = "hls_segmenter_fmp4"
)

// IsSegmenter reports whether the mode writes an HLS segment playlist.
func (m StreamingMode) IsSegmenter() bool {
	return m == StreamingModeHLSSegmenter || m == StreamingModeHLSSegmenterFMP4
}

// HardwareAccel is a transcoding backend.
type HardwareAccel string

const (
	HardwareAccelNone         HardwareAccel = "none"
	HardwareAccelQSV          HardwareAccel = "qsv"
	HardwareAccelNVENC        HardwareAccel = "nvenc"
	HardwareAccelVAAPI        HardwareAccel = "vaapi"
	HardwareAccelVideoToolbox HardwareAccel = "videotoolbox"
	HardwareAccelAMF          HardwareAccel = "amf"
	HardwareAccelV4L2M2M      HardwareAccel = "v4l2m2m"
)

// VaapiDriver overrides LIBVA_DRIVER_NAME.
type VaapiDriver string

const (
	VaapiDriverDefault  VaapiDriver = ""
	VaapiDriverI965     VaapiDriver = "i965"
	VaapiDriverIHD      VaapiDriver = "iHD"
	VaapiDriverRadeonSI VaapiDriver = "radeonsi"
	VaapiDriverNouveau  VaapiDriver = "nouveau"
)

type VideoFormat string

const (
	VideoFormatH264       VideoFormat = "h264"
	VideoFormatHEVC       VideoFormat = "hevc"
	VideoFormatMPEG2Video VideoFormat = "mpeg2video"
	VideoFormatCopy       VideoFormat = "copy"
)

type AudioFormat string

const (
	AudioFormatAAC  AudioFormat = "aac"
	AudioFormatAC3  AudioFormat = "ac3"
	AudioFormatCopy AudioFormat = "copy"
)

type BitDepth int

const (
	BitDepth8  BitDepth = 8
	BitDepth10 BitDepth = 10
)

// ScalingBehavior controls how a source that does not match the profile
// resolution is fitted.
type ScalingBehavior string

const (
	ScalingBehaviorScaleAndPad ScalingBehavior = "scale_and_pad"
	ScalingBehaviorStretch     ScalingBehavior = "stretch"
	ScalingBehaviorCrop        ScalingBehavior = "crop"
)

// FrameSize is a width/height pair in pixels.
type FrameSize struct {
	Width  int
	Height int
}

func (s FrameSize) String() string {
	return fmt.Sprintf("%dx%d", s.Width, s.Height)
}

// IsZero reports whether the size is unset.
func (s FrameSize) IsZero() bool {
	return s.Width == 0 && s.Height == 0
}

// Profile is the channel's target transcode profile.
type Profile struct {
	Name       string
	Resolution FrameSize

	VideoFormat     VideoFormat
	VideoProfile    string
	VideoPreset     string
	AllowBFrames    bool
	BitDepth        BitDepth
	VideoBitrate    int // kbit/s
	VideoBufferSize int // kbit

	AudioFormat     AudioFormat
	AudioBitrate    int // kbit/s
	AudioBufferSize int // kbit
	AudioChannels   int
	AudioSampleRate int // kHz

	NormalizeVideo     bool
	NormalizeAudio     bool
	NormalizeLoudness  bool
	NormalizeFramerate bool
	Deinterlace        bool
	ScalingBehavior    ScalingBehavior

	HardwareAccel HardwareAccel
	VaapiDriver   VaapiDriver
	VaapiDevice   string
	ThreadCount   int
}

// SubtitleMode is the channel's subtitle preference.
type SubtitleMode string

const (
	SubtitleModeNone    SubtitleMode = "none"
	SubtitleModeForced  SubtitleMode = "forced"
	SubtitleModeDefault SubtitleMode = "default"
	SubtitleModeAny     SubtitleMode = "any"
)

// Channel describes one linear channel.
type Channel struct {
	Number        string
	Name          string
	StreamingMode StreamingMode
	Profile       Profile

	PreferredAudioLanguage    string
	PreferredAudioTitle       string
	PreferredSubtitleLanguage string
	SubtitleMode              SubtitleMode

	// StreamSelector names a YAML policy document that overrides the
	// default stream selection; empty means none.
	StreamSelector string

	Watermark *Watermark
}

type StreamKind string

const (
	StreamKindVideo      StreamKind = "video"
	StreamKindAudio      StreamKind = "audio"
	StreamKindSubtitle   StreamKind = "subtitle"
	StreamKindAttachment StreamKind = "attachment"
)

// MediaStream is one probed stream of a media file.
type MediaStream struct {
	Index            int
	Kind             StreamKind
	Codec            string
	Profile          string
	Language         string
	Title            string
	Channels         int
	Default          bool
	Forced           bool
	PixelFormat      string
	BitsPerRawSample int
	AttachedPic      bool
}

type SubtitleKind string

const (
	SubtitleKindEmbedded SubtitleKind = "embedded"
	SubtitleKindSidecar  SubtitleKind = "sidecar"
)

// Subtitle is a selectable subtitle track, embedded or sidecar.
type Subtitle struct {
	StreamIndex int
	Codec       string
	Language    string
	Title       string
	Default     bool
	Forced      bool
	SDH         bool
	Kind        SubtitleKind
	IsImage     bool
	IsExtracted bool
	Path        string
}

type ScanKind string

const (
	ScanKindUnknown     ScanKind = ""
	ScanKindProgressive ScanKind = "progressive"
	ScanKindInterlaced  ScanKind = "interlaced"
)

// Version is one probed version of a media item.
type Version struct {
	Path               string
	Width              int
	Height             int
	SampleAspectRatio  string
	DisplayAspectRatio string
	RFrameRate         string
	ScanKind           ScanKind
	Duration           time.Duration
	Streams            []MediaStream
}

// Size returns the frame size of the version.
func (v Version) Size() FrameSize {
	return FrameSize{Width: v.Width, Height: v.Height}
}

// StreamsOfKind returns the streams of the given kind in file order.
func (v Version) StreamsOfKind(kind StreamKind) []MediaStream {
	var out []MediaStream
	for _, s := range v.Streams {
		if s.Kind == kind {
			out = append(out, s)
		}
	}
	return out
}

type WatermarkMode string

const (
	WatermarkModeNone         WatermarkMode = "none"
	WatermarkModePermanent    WatermarkMode = "permanent"
	WatermarkModeIntermittent WatermarkMode = "intermittent"
)

type WatermarkLocation string

const (
	WatermarkLocationBottomRight  WatermarkLocation = "bottom_right"
	WatermarkLocationBottomLeft   WatermarkLocation = "bottom_left"
	WatermarkLocationTopRight     WatermarkLocation = "top_right"
	WatermarkLocationTopLeft      WatermarkLocation = "top_left"
	WatermarkLocationTopMiddle    WatermarkLocation = "top_middle"
	WatermarkLocationRightMiddle  WatermarkLocation = "right_middle"
	WatermarkLocationBottomMiddle WatermarkLocation = "bottom_middle"
	WatermarkLocationLeftMiddle   WatermarkLocation = "left_middle"
)

type WatermarkSize string

const (
	WatermarkSizeActual WatermarkSize = "actual"
	WatermarkSizeScaled WatermarkSize = "scaled"
)

// Watermark is a channel bug overlaid on the video.
type Watermark struct {
	Mode                    WatermarkMode
	ImagePath               string
	Animated                bool
	Location                WatermarkLocation
	Size                    WatermarkSize
	WidthPercent            int
	HorizontalMarginPercent int
	VerticalMarginPercent   int
	Opacity                 int
	FrequencyMinutes        int
	DurationSeconds         int
}
