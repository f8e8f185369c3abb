// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package playback

import (
	"strconv"
	"strings"

	"github.com/ManuGH/chanstream/internal/domain/media"
)

// ratio parses "w:h". Zero or malformed components report ok=false.
func ratio(s string) (w, h int, ok bool) {
	a, b, found := strings.Cut(strings.TrimSpace(s), ":")
	if !found {
		return 0, 0, false
	}
	w, errW := strconv.Atoi(a)
	h, errH := strconv.Atoi(b)
	if errW != nil || errH != nil || w <= 0 || h <= 0 {
		return 0, 0, false
	}
	return w, h, true
}

// sampleAspect returns the pixel shape of the version. An unknown sample
// aspect ratio is derived from the display aspect ratio; square pixels are
// assumed when neither is known.
func sampleAspect(v media.Version) (int, int) {
	if w, h, ok := ratio(v.SampleAspectRatio); ok {
		return w, h
	}
	if dw, dh, ok := ratio(v.DisplayAspectRatio); ok && v.Width > 0 && v.Height > 0 {
		return dw * v.Height, dh * v.Width
	}
	return 1, 1
}

// IsAnamorphic reports whether the version has non-square pixels.
func IsAnamorphic(v media.Version) bool {
	if v.SampleAspectRatio == "1:1" {
		return false
	}
	if _, _, ok := ratio(v.SampleAspectRatio); ok {
		return true
	}
	dw, dh, ok := ratio(v.DisplayAspectRatio)
	if !ok {
		return false
	}
	return dw*v.Height != dh*v.Width
}

// IsIncorrectSize reports whether the version differs from the target
// resolution, counting non-square pixels as a difference.
func IsIncorrectSize(target media.FrameSize, v media.Version) bool {
	return IsAnamorphic(v) || v.Width != target.Width || v.Height != target.Height
}

func isTooLarge(target media.FrameSize, v media.Version) bool {
	return v.Height > target.Height || v.Width > target.Width
}

func isOddSize(v media.Version) bool {
	return v.Height%2 == 1 || v.Width%2 == 1
}

// NeedToScale reports whether the version must be scaled for the profile.
func NeedToScale(p media.Profile, v media.Version) bool {
	return p.NormalizeVideo && IsIncorrectSize(p.Resolution, v) ||
		isTooLarge(p.Resolution, v) ||
		isOddSize(v)
}

// NeedToPad reports whether a frame of size after scaling must be padded.
func NeedToPad(p media.Profile, size media.FrameSize) bool {
	return p.NormalizeVideo && size != p.Resolution
}

// ScaledSize fits the square-pixel equivalent of the version inside the
// profile resolution. The width-constrained candidate wins when its height
// fits. The result is not rounded.
func ScaledSize(p media.Profile, v media.Version) media.FrameSize {
	num, den := reducedRatio(v)
	target := p.Resolution

	hh1 := target.Width * den / num
	if hh1 <= target.Height {
		return media.FrameSize{Width: target.Width, Height: hh1}
	}
	return media.FrameSize{Width: target.Height * num / den, Height: target.Height}
}

// CoverSize scales the version so it fully covers the profile resolution,
// for cropping afterwards.
func CoverSize(p media.Profile, v media.Version) media.FrameSize {
	num, den := reducedRatio(v)
	target := p.Resolution

	hh1 := target.Width * den / num
	if hh1 >= target.Height {
		return media.FrameSize{Width: target.Width, Height: hh1}
	}
	return media.FrameSize{Width: target.Height * num / den, Height: target.Height}
}

func reducedRatio(v media.Version) (int, int) {
	sw, sh := sampleAspect(v)
	p := v.Width * sw
	q := v.Height * sh
	if p <= 0 || q <= 0 {
		return 1, 1
	}
	g := gcd(p, q)
	return p / g, q / g
}

func gcd(a, b int) int {
	for b != 0 {
		a, b = b, a%b
	}
	return a
}

// RoundUpEven rounds both dimensions up to the next even number.
func RoundUpEven(s media.FrameSize) media.FrameSize {
	return media.FrameSize{Width: s.Width + s.Width%2, Height: s.Height + s.Height%2}
}
