// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package playback derives the technical parameters of a single transcoder
// run from the channel profile, the probed source and the timing window.
package playback

import (
	"strings"
	"time"

	"github.com/ManuGH/chanstream/internal/domain/media"
	"github.com/ManuGH/chanstream/internal/log"
)

const (
	PixelFormatYUV420P     = "yuv420p"
	PixelFormatYUV420P10LE = "yuv420p10le"

	// TrackTimeScale is the mp4/ts video time base used when normalizing.
	TrackTimeScale = 90000

	errorScreenFrameRate = "24"
)

var commonFormatFlags = []string{"+genpts", "+discardcorrupt", "+igndts"}

// Request is the input of a settings calculation.
type Request struct {
	Mode        media.StreamingMode
	Profile     media.Profile
	Version     media.Version
	VideoStream media.MediaStream
	// AudioStream is nil when every audio stream is passed through.
	AudioStream *media.MediaStream

	Start time.Time
	Now   time.Time

	InPoint  time.Duration
	OutPoint time.Duration

	// HLSRealtime throttles segmenter output to realtime.
	HLSRealtime bool
	// TargetFrameRate is used when the profile normalizes frame rate, e.g. "24000/1001".
	TargetFrameRate string
}

// Settings describes one transcoder run. Zero values mean "not set".
type Settings struct {
	FormatFlags    []string
	ThreadCount    int
	RealtimeOutput bool
	StreamSeek     time.Duration

	HardwareAccel media.HardwareAccel
	VideoDecoder  string

	VideoFormat     media.VideoFormat
	VideoProfile    string
	VideoPreset     string
	AllowBFrames    bool
	PixelFormat     string
	VideoBitrate    int
	VideoBufferSize int

	ScaledSize             media.FrameSize
	CropSize               media.FrameSize
	PadToDesiredResolution bool
	Deinterlace            bool

	FrameRate           string
	VideoTrackTimeScale int

	AudioFormat       media.AudioFormat
	AudioBitrate      int
	AudioBufferSize   int
	AudioChannels     int
	AudioSampleRate   int
	AudioDuration     time.Duration
	NormalizeLoudness bool
}

// IsCopy reports whether both streams are passed through unmodified.
func (s Settings) IsCopy() bool {
	return s.VideoFormat == media.VideoFormatCopy && s.AudioFormat == media.AudioFormatCopy
}

func formatFlags(mode media.StreamingMode) []string {
	flags := make([]string, 0, len(commonFormatFlags))
	for _, f := range commonFormatFlags {
		// segmenter output keeps source timestamps for continuity
		if f == "+genpts" && mode.IsSegmenter() {
			continue
		}
		flags = append(flags, f)
	}
	return flags
}

// Calculate derives the settings for a playback request.
func Calculate(req Request) Settings {
	p := req.Profile

	realtime := !req.Mode.IsSegmenter() || req.HLSRealtime
	threads := p.ThreadCount
	if realtime {
		threads = 1
	}

	s := Settings{
		FormatFlags:    formatFlags(req.Mode),
		ThreadCount:    threads,
		RealtimeOutput: realtime,
	}

	if !req.Now.Equal(req.Start) || req.InPoint != 0 {
		seek := req.Now.Sub(req.Start) + req.InPoint
		if seek > 0 {
			s.StreamSeek = seek
		}
	}

	if req.Mode == media.StreamingModeHLSDirect {
		s.VideoFormat = media.VideoFormatCopy
		s.AudioFormat = media.AudioFormatCopy
		s.HardwareAccel = media.HardwareAccelNone
		return s
	}

	s.HardwareAccel = p.HardwareAccel
	if s.HardwareAccel == "" {
		s.HardwareAccel = media.HardwareAccelNone
	}

	v := req.Version
	switch p.ScalingBehavior {
	case media.ScalingBehaviorStretch:
		if v.Size() != p.Resolution || IsAnamorphic(v) {
			s.ScaledSize = p.Resolution
		}
	case media.ScalingBehaviorCrop:
		if IsIncorrectSize(p.Resolution, v) || isOddSize(v) {
			s.ScaledSize = RoundUpEven(CoverSize(p, v))
			if s.ScaledSize != p.Resolution {
				s.CropSize = p.Resolution
			}
		}
	default:
		if NeedToScale(p, v) {
			scaled := ScaledSize(p, v)
			if scaled != v.Size() {
				s.ScaledSize = RoundUpEven(scaled)
			}
		}
	}

	afterScaling := v.Size()
	switch {
	case !s.CropSize.IsZero():
		afterScaling = s.CropSize
	case !s.ScaledSize.IsZero():
		afterScaling = s.ScaledSize
	}
	s.PadToDesiredResolution = NeedToPad(p, afterScaling)

	if p.NormalizeVideo {
		s.VideoTrackTimeScale = TrackTimeScale
	}

	needsEncode := !s.ScaledSize.IsZero() || s.PadToDesiredResolution ||
		(p.NormalizeVideo && !sameCodec(p.VideoFormat, req.VideoStream.Codec))
	if needsEncode && p.VideoFormat != media.VideoFormatCopy {
		s.VideoFormat = p.VideoFormat
		s.VideoProfile = p.VideoProfile
		s.VideoPreset = p.VideoPreset
		s.AllowBFrames = p.AllowBFrames
		s.VideoBitrate = p.VideoBitrate
		s.VideoBufferSize = p.VideoBufferSize
	} else {
		s.VideoFormat = media.VideoFormatCopy
		s.ScaledSize = media.FrameSize{}
		s.CropSize = media.FrameSize{}
		s.PadToDesiredResolution = false
	}

	s.PixelFormat = pixelFormat(p)
	s.VideoDecoder = DecoderFor(s.HardwareAccel, req.VideoStream.Codec, req.VideoStream.PixelFormat, p.Deinterlace && v.ScanKind == media.ScanKindInterlaced)

	if s.VideoFormat != media.VideoFormatCopy {
		s.Deinterlace = p.Deinterlace && v.ScanKind == media.ScanKindInterlaced
		if p.NormalizeFramerate && req.TargetFrameRate != "" {
			s.FrameRate = req.TargetFrameRate
		}
	}

	if p.NormalizeAudio && p.AudioFormat != media.AudioFormatCopy {
		s.AudioFormat = p.AudioFormat
		s.AudioBitrate = p.AudioBitrate
		s.AudioBufferSize = p.AudioBufferSize
		if req.AudioStream != nil && req.AudioStream.Channels != p.AudioChannels {
			s.AudioChannels = p.AudioChannels
		}
		s.AudioSampleRate = p.AudioSampleRate
		s.AudioDuration = v.Duration
		if req.OutPoint > req.InPoint {
			s.AudioDuration = req.OutPoint - req.InPoint
		}
		s.NormalizeLoudness = p.NormalizeLoudness
	} else {
		s.AudioFormat = media.AudioFormatCopy
	}

	log.L().Debug().
		Str("profile", p.Name).
		Str(log.FieldHWAccel, string(s.HardwareAccel)).
		Str(log.FieldCodec, string(s.VideoFormat)).
		Str(log.FieldDecoder, s.VideoDecoder).
		Str(log.FieldResolution, s.ScaledSize.String()).
		Bool("pad", s.PadToDesiredResolution).
		Bool("realtime", s.RealtimeOutput).
		Msg("calculated playback settings")

	return s
}

// CalculateErrorSettings returns the settings for the offline screen. No
// hardware acceleration is used.
func CalculateErrorSettings(p media.Profile) Settings {
	videoFormat := p.VideoFormat
	if videoFormat == "" || videoFormat == media.VideoFormatCopy {
		videoFormat = media.VideoFormatH264
	}
	audioFormat := p.AudioFormat
	if audioFormat == "" || audioFormat == media.AudioFormatCopy {
		audioFormat = media.AudioFormatAAC
	}

	return Settings{
		FormatFlags:         append([]string(nil), commonFormatFlags...),
		ThreadCount:         1,
		RealtimeOutput:      true,
		HardwareAccel:       media.HardwareAccelNone,
		VideoFormat:         videoFormat,
		VideoProfile:        p.VideoProfile,
		VideoPreset:         p.VideoPreset,
		PixelFormat:         PixelFormatYUV420P,
		VideoBitrate:        p.VideoBitrate,
		VideoBufferSize:     p.VideoBufferSize,
		FrameRate:           errorScreenFrameRate,
		VideoTrackTimeScale: TrackTimeScale,
		AudioFormat:         audioFormat,
		AudioBitrate:        p.AudioBitrate,
		AudioBufferSize:     p.AudioBufferSize,
		AudioChannels:       p.AudioChannels,
		AudioSampleRate:     p.AudioSampleRate,
	}
}

// ConcatSettings returns the settings for a stream-copy wrapper process.
func ConcatSettings() Settings {
	return Settings{
		FormatFlags:    append([]string(nil), commonFormatFlags...),
		ThreadCount:    1,
		RealtimeOutput: true,
		HardwareAccel:  media.HardwareAccelNone,
		VideoFormat:    media.VideoFormatCopy,
		AudioFormat:    media.AudioFormatCopy,
	}
}

func pixelFormat(p media.Profile) string {
	if p.BitDepth == media.BitDepth10 && p.VideoFormat != media.VideoFormatMPEG2Video {
		return PixelFormatYUV420P10LE
	}
	return PixelFormatYUV420P
}

func sameCodec(format media.VideoFormat, codec string) bool {
	codec = strings.ToLower(codec)
	switch format {
	case media.VideoFormatHEVC:
		return codec == "hevc" || codec == "h265"
	default:
		return string(format) == codec
	}
}
