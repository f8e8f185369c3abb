// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package watermark

import (
	"fmt"
	"math"
	"time"

	"github.com/ManuGH/chanstream/internal/domain/media"
)

// Options is a watermark ready to be compiled into a pipeline.
type Options struct {
	Watermark   media.Watermark
	ImagePath   string
	StreamIndex int
	Animated    bool
	// FadePoints is empty for permanent watermarks.
	FadePoints []FadePoint
}

// Timing is the item window the schedule is computed for.
type Timing struct {
	Start      time.Time
	InPoint    time.Duration
	OutPoint   time.Duration
	StreamSeek time.Duration
}

// Resolve returns the watermark options for one transcoder run. The item
// watermark takes precedence over the channel watermark. It reports false
// when no watermark should be drawn, including an intermittent watermark
// with no fades inside the window.
func Resolve(channel, item *media.Watermark, timing Timing) (Options, bool) {
	wm := item
	if wm == nil {
		wm = channel
	}
	if wm == nil || wm.Mode == "" || wm.Mode == media.WatermarkModeNone || wm.ImagePath == "" {
		return Options{}, false
	}

	opts := Options{
		Watermark: *wm,
		ImagePath: wm.ImagePath,
		Animated:  wm.Animated,
	}

	if wm.Mode == media.WatermarkModeIntermittent {
		opts.FadePoints = FadePoints(timing.Start, timing.InPoint, timing.OutPoint, timing.StreamSeek,
			wm.FrequencyMinutes, wm.DurationSeconds)
		if len(opts.FadePoints) == 0 {
			return Options{}, false
		}
	}

	return opts, true
}

// Margins converts the percentage margins of wm to pixels for a frame.
func Margins(wm media.Watermark, frame media.FrameSize) (horizontal, vertical int) {
	horizontal = int(math.Round(float64(wm.HorizontalMarginPercent) / 100 * float64(frame.Width)))
	vertical = int(math.Round(float64(wm.VerticalMarginPercent) / 100 * float64(frame.Height)))
	return horizontal, vertical
}

// Position returns the overlay x/y expression for a location.
func Position(location media.WatermarkLocation, horizontal, vertical int) string {
	switch location {
	case media.WatermarkLocationBottomLeft:
		return fmt.Sprintf("x=%d:y=H-h-%d", horizontal, vertical)
	case media.WatermarkLocationTopLeft:
		return fmt.Sprintf("x=%d:y=%d", horizontal, vertical)
	case media.WatermarkLocationTopRight:
		return fmt.Sprintf("x=W-w-%d:y=%d", horizontal, vertical)
	case media.WatermarkLocationTopMiddle:
		return fmt.Sprintf("x=(W-w)/2:y=%d", vertical)
	case media.WatermarkLocationRightMiddle:
		return fmt.Sprintf("x=W-w-%d:y=(H-h)/2", horizontal)
	case media.WatermarkLocationBottomMiddle:
		return fmt.Sprintf("x=(W-w)/2:y=H-h-%d", vertical)
	case media.WatermarkLocationLeftMiddle:
		return fmt.Sprintf("x=%d:y=(H-h)/2", horizontal)
	default:
		return fmt.Sprintf("x=W-w-%d:y=H-h-%d", horizontal, vertical)
	}
}

// ScaledWidth returns the watermark width for a scaled watermark, or 0 when
// the image keeps its actual size.
func ScaledWidth(wm media.Watermark, frame media.FrameSize) int {
	if wm.Size != media.WatermarkSizeScaled {
		return 0
	}
	return int(math.Round(float64(wm.WidthPercent) / 100 * float64(frame.Width)))
}
