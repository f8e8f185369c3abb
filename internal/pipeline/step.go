// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package pipeline

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/ManuGH/chanstream/internal/domain/media"
)

// StepKind tags a Step variant.
type StepKind int

const (
	StepScale StepKind = iota
	StepPad
	StepCrop
	StepDeinterlace
	StepFormat
	StepUpload
	StepDownload
	StepOverlay
	StepSubtitle
	StepSetSAR
	StepFrameRate
	StepLoudness
	StepAudioPad
)

var stepNames = map[StepKind]string{
	StepScale:       "scale",
	StepPad:         "pad",
	StepCrop:        "crop",
	StepDeinterlace: "deinterlace",
	StepFormat:      "format",
	StepUpload:      "upload",
	StepDownload:    "download",
	StepOverlay:     "overlay",
	StepSubtitle:    "subtitle",
	StepSetSAR:      "setsar",
	StepFrameRate:   "framerate",
	StepLoudness:    "loudnorm",
	StepAudioPad:    "apad",
}

func (k StepKind) String() string {
	if name, ok := stepNames[k]; ok {
		return name
	}
	return fmt.Sprintf("step(%d)", int(k))
}

// Step is one filter of the compiled graph.
type Step interface {
	Kind() StepKind
	// Filter returns the filter text for this step.
	Filter() string
}

// ScaleStep resizes the frame, on the device when Accel has a scaler.
type ScaleStep struct {
	Accel media.HardwareAccel
	Size  media.FrameSize
}

func (ScaleStep) Kind() StepKind { return StepScale }

func (s ScaleStep) Filter() string {
	w, h := s.Size.Width, s.Size.Height
	switch s.Accel {
	case media.HardwareAccelQSV:
		return fmt.Sprintf("scale_qsv=w=%d:h=%d", w, h)
	case media.HardwareAccelNVENC:
		return fmt.Sprintf("scale_cuda=%d:%d", w, h)
	case media.HardwareAccelVAAPI:
		return fmt.Sprintf("scale_vaapi=format=nv12:w=%d:h=%d", w, h)
	default:
		return fmt.Sprintf("scale=%d:%d:flags=fast_bilinear", w, h)
	}
}

// PadStep centers the frame on black bars.
type PadStep struct {
	Size media.FrameSize
}

func (PadStep) Kind() StepKind { return StepPad }

func (p PadStep) Filter() string {
	return fmt.Sprintf("pad=%d:%d:(ow-iw)/2:(oh-ih)/2", p.Size.Width, p.Size.Height)
}

// CropStep cuts the center of a frame scaled to cover the target.
type CropStep struct {
	Size media.FrameSize
}

func (CropStep) Kind() StepKind { return StepCrop }

func (c CropStep) Filter() string {
	return fmt.Sprintf("crop=%d:%d", c.Size.Width, c.Size.Height)
}

// DeinterlaceStep picks the deinterlacer of the frame location.
type DeinterlaceStep struct {
	Accel media.HardwareAccel
}

func (DeinterlaceStep) Kind() StepKind { return StepDeinterlace }

func (d DeinterlaceStep) Filter() string {
	switch d.Accel {
	case media.HardwareAccelQSV:
		return "deinterlace_qsv"
	case media.HardwareAccelNVENC:
		return "yadif_cuda"
	case media.HardwareAccelVAAPI:
		return "deinterlace_vaapi"
	default:
		return "yadif=1"
	}
}

// FormatStep converts software frames to one of the listed pixel formats.
type FormatStep struct {
	PixelFormats []string
}

func (FormatStep) Kind() StepKind { return StepFormat }

func (f FormatStep) Filter() string {
	return "format=" + strings.Join(f.PixelFormats, "|")
}

// UploadStep moves software frames to the device.
type UploadStep struct {
	Accel media.HardwareAccel
}

func (UploadStep) Kind() StepKind { return StepUpload }

func (u UploadStep) Filter() string {
	switch u.Accel {
	case media.HardwareAccelNVENC:
		return "hwupload_cuda"
	case media.HardwareAccelQSV:
		return "hwupload=extra_hw_frames=64"
	default:
		return "hwupload"
	}
}

// DownloadStep moves device frames to system memory.
type DownloadStep struct {
	PixelFormat string
}

func (DownloadStep) Kind() StepKind { return StepDownload }

func (d DownloadStep) Filter() string {
	return "hwdownload,format=" + d.PixelFormat
}

// OverlayStep merges a second input (a watermark or an image subtitle) into
// the video. Preprocess is applied to the second input first.
type OverlayStep struct {
	Source     InputKind
	Position   string
	Preprocess []string
	CUDA       bool
	// ConvertAfter is appended after the overlay, e.g. format=nv12.
	ConvertAfter string
}

func (OverlayStep) Kind() StepKind { return StepOverlay }

func (o OverlayStep) Filter() string {
	name := "overlay"
	if o.CUDA {
		name = "overlay_cuda"
	}
	f := name
	if o.Position != "" {
		f += "=" + o.Position
	}
	if o.ConvertAfter != "" {
		f += "," + o.ConvertAfter
	}
	return f
}

// SubtitleStep renders a text subtitle into the frame.
type SubtitleStep struct {
	Path     string
	FontsDir string
	// StreamIndex selects an embedded subtitle stream; -1 reads the file as
	// a standalone subtitle.
	StreamIndex int
}

func (SubtitleStep) Kind() StepKind { return StepSubtitle }

func (s SubtitleStep) Filter() string {
	f := "subtitles=f=" + escapeFilterValue(s.Path)
	if s.StreamIndex >= 0 {
		f += ":si=" + strconv.Itoa(s.StreamIndex)
	}
	if s.FontsDir != "" {
		f += ":fontsdir=" + escapeFilterValue(s.FontsDir)
	}
	return f
}

// SetSARStep marks the output pixels as square.
type SetSARStep struct{}

func (SetSARStep) Kind() StepKind { return StepSetSAR }
func (SetSARStep) Filter() string { return "setsar=1" }

// FrameRateStep normalizes the output frame rate.
type FrameRateStep struct {
	Rate string
}

func (FrameRateStep) Kind() StepKind   { return StepFrameRate }
func (f FrameRateStep) Filter() string { return "fps=" + f.Rate }

// LoudnessStep applies EBU R128 loudness normalization.
type LoudnessStep struct{}

func (LoudnessStep) Kind() StepKind { return StepLoudness }
func (LoudnessStep) Filter() string { return "loudnorm=I=-16:TP=-1.5:LRA=11" }

// AudioPadStep pads audio with silence to the item duration.
type AudioPadStep struct {
	Duration time.Duration
}

func (AudioPadStep) Kind() StepKind { return StepAudioPad }

func (a AudioPadStep) Filter() string {
	return fmt.Sprintf("apad=whole_dur=%dms", a.Duration.Milliseconds())
}

var filterValueEscaper = strings.NewReplacer(
	`\`, `\\\\`,
	`'`, `\\\'`,
	`:`, `\\:`,
	`[`, `\[`,
	`]`, `\]`,
	`,`, `\,`,
	`;`, `\;`,
)

// escapeFilterValue escapes a path for use as a filter option inside a
// filter graph.
func escapeFilterValue(s string) string {
	return filterValueEscaper.Replace(s)
}
