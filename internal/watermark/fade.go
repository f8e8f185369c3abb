// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package watermark computes the fade schedule of intermittent channel
// watermarks.
package watermark

import (
	"fmt"
	"strconv"
	"time"
)

// lookBehind is how far before the item start the schedule scan begins, so a
// fade that started just before the item is still closed properly.
const lookBehind = 16 * time.Minute

// FadeKind tags a fade point variant.
type FadeKind int

const (
	FadeKindIn FadeKind = iota
	FadeKindOut
)

func (k FadeKind) String() string {
	if k == FadeKindOut {
		return "out"
	}
	return "in"
}

// Window is the interval, relative to the transcoder start, during which a
// fade filter is enabled.
type Window struct {
	Start  time.Duration
	Finish time.Duration
}

// FadePoint is either a FadeIn or a FadeOut.
type FadePoint interface {
	Kind() FadeKind
	// Time is the offset of the fade relative to the transcoder start.
	Time() time.Duration
	Window() Window
	// Filter renders the ffmpeg fade filter for this point.
	Filter() string

	withWindow(Window) FadePoint
}

type point struct {
	at     time.Duration
	window Window
}

func (p point) Time() time.Duration { return p.at }
func (p point) Window() Window      { return p.window }

// FadeIn makes the watermark visible.
type FadeIn struct{ point }

func (FadeIn) Kind() FadeKind { return FadeKindIn }

func (f FadeIn) Filter() string { return filter(f) }

func (f FadeIn) withWindow(w Window) FadePoint {
	f.window = w
	return f
}

// FadeOut hides the watermark.
type FadeOut struct{ point }

func (FadeOut) Kind() FadeKind { return FadeKindOut }

func (f FadeOut) Filter() string { return filter(f) }

func (f FadeOut) withWindow(w Window) FadePoint {
	f.window = w
	return f
}

// NewFadeIn returns a fade-in at t without an enable window.
func NewFadeIn(t time.Duration) FadeIn { return FadeIn{point{at: t}} }

// NewFadeOut returns a fade-out at t without an enable window.
func NewFadeOut(t time.Duration) FadeOut { return FadeOut{point{at: t}} }

func filter(p FadePoint) string {
	w := p.Window()
	return fmt.Sprintf("fade=%s:st=%s:d=1:alpha=1:enable='between(t,%s,%s)'",
		p.Kind(), seconds(p.Time()), seconds(w.Start), seconds(w.Finish))
}

func seconds(d time.Duration) string {
	return strconv.FormatFloat(d.Seconds(), 'f', -1, 64)
}

// FadePoints returns the fade schedule for one item. Fades happen whenever
// the wall-clock minute is a multiple of frequencyMinutes and last
// durationSeconds. Points are shifted by streamSeek and limited to
// [0, outPoint). The result is strictly increasing in time.
func FadePoints(start time.Time, inPoint, outPoint, streamSeek time.Duration, frequencyMinutes, durationSeconds int) []FadePoint {
	if frequencyMinutes <= 0 {
		return nil
	}
	visible := time.Duration(durationSeconds) * time.Second

	scanFrom := ceilMinute(start.Add(-lookBehind))
	scanTo := start.Add(outPoint - inPoint).Truncate(time.Minute)

	var raw []FadePoint
	for t := scanFrom; !t.After(scanTo); t = t.Add(time.Minute) {
		if t.Minute()%frequencyMinutes != 0 {
			continue
		}
		at := t.Sub(start) + inPoint
		raw = append(raw, NewFadeIn(at), NewFadeOut(at+visible))
	}

	points := make([]FadePoint, 0, len(raw))
	for _, p := range raw {
		at := p.Time() - streamSeek
		if at < 0 || at >= outPoint {
			continue
		}
		if n := len(points); n > 0 && at <= points[n-1].Time() {
			continue
		}
		switch v := p.(type) {
		case FadeIn:
			v.at = at
			points = append(points, v)
		case FadeOut:
			v.at = at
			points = append(points, v)
		}
	}

	for i, p := range points {
		w := Window{Start: 0, Finish: outPoint}
		if i > 0 {
			w.Start = points[i-1].Time() + time.Second
		}
		if i < len(points)-1 {
			w.Finish = points[i+1].Time() - time.Second
		}
		points[i] = p.withWindow(w)
	}

	return points
}

// ceilMinute rounds t up to the next whole minute.
func ceilMinute(t time.Time) time.Time {
	tr := t.Truncate(time.Minute)
	if tr.Equal(t) {
		return t
	}
	return tr.Add(time.Minute)
}
