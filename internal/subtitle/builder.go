// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package subtitle renders small styled ASS documents that are burned into
// generated video, such as the offline screen or music video credits.
package subtitle

import (
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/ManuGH/chanstream/internal/domain/media"
	"github.com/ManuGH/chanstream/internal/tempfile"
)

const (
	// openEnd keeps an event visible for the whole input.
	openEnd = "99:99:99.99"

	fadeMillis = 1200
)

// Builder assembles one single-event ASS document. The zero value is not
// usable; use NewBuilder.
type Builder struct {
	pool *tempfile.Pool

	resolution   media.FrameSize
	fontName     string
	fontSize     int
	primaryColor string
	outlineColor string
	alignment    int
	marginLeft   int
	marginRight  int
	marginV      int
	borderStyle  int
	shadow       int
	fade         bool
	start        time.Duration
	end          time.Duration
	content      string
}

// NewBuilder returns a builder that writes files into pool slots.
func NewBuilder(pool *tempfile.Pool) *Builder {
	return &Builder{
		pool:         pool,
		fontName:     "Roboto",
		fontSize:     32,
		primaryColor: "&HFFFFFF",
		outlineColor: "&H000000",
		alignment:    2,
		borderStyle:  1,
	}
}

func (b *Builder) WithResolution(size media.FrameSize) *Builder {
	b.resolution = size
	return b
}

func (b *Builder) WithFontName(name string) *Builder {
	b.fontName = name
	return b
}

func (b *Builder) WithFontSize(size int) *Builder {
	b.fontSize = size
	return b
}

// WithPrimaryColor takes an ASS color such as "&HFFFFFF".
func (b *Builder) WithPrimaryColor(color string) *Builder {
	b.primaryColor = color
	return b
}

func (b *Builder) WithOutlineColor(color string) *Builder {
	b.outlineColor = color
	return b
}

// WithAlignment takes a numpad-style ASS alignment (2 is bottom center).
func (b *Builder) WithAlignment(alignment int) *Builder {
	b.alignment = alignment
	return b
}

func (b *Builder) WithMarginRight(margin int) *Builder {
	b.marginRight = margin
	return b
}

func (b *Builder) WithMarginLeft(margin int) *Builder {
	b.marginLeft = margin
	return b
}

func (b *Builder) WithMarginV(margin int) *Builder {
	b.marginV = margin
	return b
}

func (b *Builder) WithBorderStyle(style int) *Builder {
	b.borderStyle = style
	return b
}

func (b *Builder) WithShadow(shadow int) *Builder {
	b.shadow = shadow
	return b
}

// WithFade fades the event in and out.
func (b *Builder) WithFade(fade bool) *Builder {
	b.fade = fade
	return b
}

// WithStartEnd limits the visibility of the event. A zero end means the
// event stays visible.
func (b *Builder) WithStartEnd(start, end time.Duration) *Builder {
	b.start = start
	b.end = end
	return b
}

// WithFormattedContent sets the event text. ASS line breaks are written as \N.
func (b *Builder) WithFormattedContent(content string) *Builder {
	b.content = content
	return b
}

// Build renders the document.
func (b *Builder) Build() string {
	var sb strings.Builder

	sb.WriteString("[Script Info]\n")
	sb.WriteString("ScriptType: v4.00+\n")
	sb.WriteString("WrapStyle: 0\n")
	fmt.Fprintf(&sb, "PlayResX: %d\n", b.resolution.Width)
	fmt.Fprintf(&sb, "PlayResY: %d\n", b.resolution.Height)
	sb.WriteString("ScaledBorderAndShadow: yes\n\n")

	sb.WriteString("[V4+ Styles]\n")
	sb.WriteString("Format: Name, Fontname, Fontsize, PrimaryColour, OutlineColour, BorderStyle, Outline, Shadow, Alignment, Encoding\n")
	fmt.Fprintf(&sb, "Style: Default,%s,%d,%s,%s,%d,1,%d,%d,1\n\n",
		b.fontName, b.fontSize, b.primaryColor, b.outlineColor, b.borderStyle, b.shadow, b.alignment)

	sb.WriteString("[Events]\n")
	sb.WriteString("Format: Layer, Start, End, Style, Name, MarginL, MarginR, MarginV, Effect, Text\n")

	end := openEnd
	if b.end > 0 {
		end = timestamp(b.end)
	}
	var fade string
	if b.fade {
		fade = fmt.Sprintf(`{\fad(%d,%d)}`, fadeMillis, fadeMillis)
	}
	fmt.Fprintf(&sb, "Dialogue: 0,%s,%s,Default,,%d,%d,%d,,%s%s\n",
		timestamp(b.start), end, b.marginLeft, b.marginRight, b.marginV, fade, b.content)

	return sb.String()
}

// BuildFile renders the document into the next subtitle slot of the pool
// and returns the path.
func (b *Builder) BuildFile() (string, error) {
	path, err := b.pool.Write(tempfile.CategorySubtitle, []byte(b.Build()))
	if err != nil {
		return "", fmt.Errorf("write subtitle: %w", err)
	}
	return path, nil
}

// timestamp formats d as h:mm:ss.cc.
func timestamp(d time.Duration) string {
	cs := d.Milliseconds() / 10
	h := cs / 360000
	m := cs / 6000 % 60
	s := cs / 100 % 60
	return fmt.Sprintf("%d:%02d:%02d.%02d", h, m, s, cs%100)
}

// ErrorScreen writes the offline screen text for a frame size: white Roboto,
// bottom center, sized and spaced relative to the frame height.
func ErrorScreen(pool *tempfile.Pool, resolution media.FrameSize, message string) (string, error) {
	fontSize := int(math.Round(float64(resolution.Height) / 20))
	margin := int(math.Round(float64(resolution.Height) * 0.05))

	content := strings.ReplaceAll(strings.ReplaceAll(message, "\r\n", "\n"), "\n", `\N`)

	return NewBuilder(pool).
		WithResolution(resolution).
		WithFontName("Roboto").
		WithFontSize(fontSize).
		WithAlignment(2).
		WithMarginV(margin).
		WithPrimaryColor("&HFFFFFF").
		WithFormattedContent(content).
		BuildFile()
}
