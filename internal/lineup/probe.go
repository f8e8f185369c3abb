// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package lineup

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os/exec"
	"strconv"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/ManuGH/chanstream/internal/domain/media"
	"github.com/ManuGH/chanstream/internal/log"
)

const maxStderr = 4096

// ErrNotPlayable is returned for files without a video or audio stream.
var ErrNotPlayable = errors.New("no playable streams")

// Probed is the media information of one file.
type Probed struct {
	Version   media.Version
	Subtitles []media.Subtitle
}

// Prober reads media information with ffprobe and caches it per path.
type Prober struct {
	bin   string
	cache sync.Map // path -> Probed
	group singleflight.Group
}

// NewProber returns a Prober that runs bin.
func NewProber(bin string) *Prober {
	return &Prober{bin: bin}
}

// Probe returns the cached information for path, running ffprobe once.
func (p *Prober) Probe(ctx context.Context, path string) (Probed, error) {
	if v, ok := p.cache.Load(path); ok {
		return v.(Probed), nil
	}
	v, err, _ := p.group.Do(path, func() (interface{}, error) {
		probed, err := p.run(ctx, path)
		if err != nil {
			return Probed{}, err
		}
		p.cache.Store(path, probed)
		return probed, nil
	})
	if err != nil {
		return Probed{}, err
	}
	return v.(Probed), nil
}

// Forget drops cached entries so the next Probe re-reads the files.
func (p *Prober) Forget(paths ...string) {
	for _, path := range paths {
		p.cache.Delete(path)
	}
}

func (p *Prober) run(ctx context.Context, path string) (Probed, error) {
	args := []string{
		"-v", "error",
		"-print_format", "json",
		"-show_format",
		"-show_streams",
		path,
	}
	// #nosec G204 -- binary comes from configuration; path is an opaque argument
	cmd := exec.CommandContext(ctx, p.bin, args...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	out, runErr := cmd.Output()
	var data probeData
	if err := json.Unmarshal(out, &data); err != nil || !data.playable() {
		if runErr != nil {
			return Probed{}, fmt.Errorf("ffprobe %s: %w (stderr: %s)", path, runErr, truncate(stderr.String()))
		}
		if err != nil {
			return Probed{}, fmt.Errorf("ffprobe %s: decode json: %w", path, err)
		}
		return Probed{}, fmt.Errorf("ffprobe %s: %w", path, ErrNotPlayable)
	}
	if runErr != nil {
		// partial files still produce usable output
		logger := log.WithComponent("lineup")
		logger.Warn().Err(runErr).
			Str(log.FieldPath, path).
			Str("stderr", truncate(stderr.String())).
			Msg("ffprobe non-zero exit but JSON accepted")
	}
	return data.probed(path), nil
}

func truncate(s string) string {
	if len(s) > maxStderr {
		return s[:maxStderr] + "..."
	}
	return s
}

type probeStream struct {
	Index              int    `json:"index"`
	CodecType          string `json:"codec_type"`
	CodecName          string `json:"codec_name"`
	Profile            string `json:"profile"`
	PixFmt             string `json:"pix_fmt"`
	BitsPerRawSample   string `json:"bits_per_raw_sample"`
	Width              int    `json:"width"`
	Height             int    `json:"height"`
	SampleAspectRatio  string `json:"sample_aspect_ratio"`
	DisplayAspectRatio string `json:"display_aspect_ratio"`
	RFrameRate         string `json:"r_frame_rate"`
	FieldOrder         string `json:"field_order"`
	Channels           int    `json:"channels"`
	Duration           string `json:"duration"`
	Disposition        struct {
		Default         int `json:"default"`
		Forced          int `json:"forced"`
		HearingImpaired int `json:"hearing_impaired"`
		AttachedPic     int `json:"attached_pic"`
	} `json:"disposition"`
	Tags struct {
		Language string `json:"language"`
		Title    string `json:"title"`
	} `json:"tags"`
}

type probeData struct {
	Streams []probeStream `json:"streams"`
	Format  struct {
		Duration   string `json:"duration"`
		FormatName string `json:"format_name"`
	} `json:"format"`
}

func (d probeData) playable() bool {
	if d.Format.FormatName == "" {
		return false
	}
	for _, s := range d.Streams {
		if (s.CodecType == "video" || s.CodecType == "audio") && s.CodecName != "" {
			return true
		}
	}
	return false
}

func (d probeData) probed(path string) Probed {
	out := Probed{Version: media.Version{Path: path, Duration: seconds(d.Format.Duration)}}
	videoSeen := false
	for _, s := range d.Streams {
		kind := media.StreamKind(s.CodecType)
		switch kind {
		case media.StreamKindVideo:
			if !videoSeen && s.Disposition.AttachedPic == 0 {
				videoSeen = true
				v := &out.Version
				v.Width, v.Height = s.Width, s.Height
				v.SampleAspectRatio = s.SampleAspectRatio
				v.DisplayAspectRatio = s.DisplayAspectRatio
				v.RFrameRate = s.RFrameRate
				v.ScanKind = scanKind(s.FieldOrder)
				if v.Duration == 0 {
					v.Duration = seconds(s.Duration)
				}
			}
		case media.StreamKindSubtitle:
			out.Subtitles = append(out.Subtitles, media.Subtitle{
				StreamIndex: s.Index,
				Codec:       s.CodecName,
				Language:    s.Tags.Language,
				Title:       s.Tags.Title,
				Default:     s.Disposition.Default == 1,
				Forced:      s.Disposition.Forced == 1,
				SDH:         s.Disposition.HearingImpaired == 1,
				Kind:        media.SubtitleKindEmbedded,
			})
		case media.StreamKindAudio, media.StreamKindAttachment:
		default:
			continue
		}
		bits, _ := strconv.Atoi(s.BitsPerRawSample)
		out.Version.Streams = append(out.Version.Streams, media.MediaStream{
			Index:            s.Index,
			Kind:             kind,
			Codec:            s.CodecName,
			Profile:          s.Profile,
			Language:         s.Tags.Language,
			Title:            s.Tags.Title,
			Channels:         s.Channels,
			Default:          s.Disposition.Default == 1,
			Forced:           s.Disposition.Forced == 1,
			PixelFormat:      s.PixFmt,
			BitsPerRawSample: bits,
			AttachedPic:      s.Disposition.AttachedPic == 1,
		})
	}
	return out
}

func scanKind(fieldOrder string) media.ScanKind {
	switch strings.ToLower(fieldOrder) {
	case "":
		return media.ScanKindUnknown
	case "progressive":
		return media.ScanKindProgressive
	default:
		return media.ScanKindInterlaced
	}
}

func seconds(s string) time.Duration {
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0
	}
	return time.Duration(f * float64(time.Second)).Round(time.Millisecond)
}
