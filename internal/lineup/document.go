// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package lineup

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/ManuGH/chanstream/internal/domain/media"
)

// Document is the on-disk lineup.
type Document struct {
	// Epoch anchors every channel schedule; items loop from here.
	Epoch    time.Time    `yaml:"epoch"`
	Channels []ChannelDoc `yaml:"channels"`
}

// ChannelDoc describes one channel and its looping item list.
type ChannelDoc struct {
	Number                    string              `yaml:"number"`
	Name                      string              `yaml:"name"`
	StreamingMode             media.StreamingMode `yaml:"streaming_mode"`
	Profile                   ProfileDoc          `yaml:"profile"`
	PreferredAudioLanguage    string              `yaml:"preferred_audio_language"`
	PreferredAudioTitle       string              `yaml:"preferred_audio_title"`
	PreferredSubtitleLanguage string              `yaml:"preferred_subtitle_language"`
	SubtitleMode              media.SubtitleMode  `yaml:"subtitle_mode"`
	StreamSelector            string              `yaml:"stream_selector"`
	Watermark                 *WatermarkDoc       `yaml:"watermark"`
	Items                     []ItemDoc           `yaml:"items"`
}

// ProfileDoc is the encoding profile of a channel. Zero fields take the
// defaults of DefaultProfile.
type ProfileDoc struct {
	Name               string                `yaml:"name"`
	Resolution         string                `yaml:"resolution"`
	VideoFormat        media.VideoFormat     `yaml:"video_format"`
	VideoProfile       string                `yaml:"video_profile"`
	VideoPreset        string                `yaml:"video_preset"`
	AllowBFrames       bool                  `yaml:"allow_b_frames"`
	BitDepth           media.BitDepth        `yaml:"bit_depth"`
	VideoBitrate       int                   `yaml:"video_bitrate"`
	VideoBufferSize    int                   `yaml:"video_buffer_size"`
	AudioFormat        media.AudioFormat     `yaml:"audio_format"`
	AudioBitrate       int                   `yaml:"audio_bitrate"`
	AudioBufferSize    int                   `yaml:"audio_buffer_size"`
	AudioChannels      int                   `yaml:"audio_channels"`
	AudioSampleRate    int                   `yaml:"audio_sample_rate"`
	NormalizeVideo     *bool                 `yaml:"normalize_video"`
	NormalizeAudio     *bool                 `yaml:"normalize_audio"`
	NormalizeLoudness  bool                  `yaml:"normalize_loudness"`
	NormalizeFramerate bool                  `yaml:"normalize_framerate"`
	Deinterlace        *bool                 `yaml:"deinterlace"`
	ScalingBehavior    media.ScalingBehavior `yaml:"scaling_behavior"`
	HardwareAccel      media.HardwareAccel   `yaml:"hardware_accel"`
	VaapiDriver        media.VaapiDriver     `yaml:"vaapi_driver"`
	VaapiDevice        string                `yaml:"vaapi_device"`
	ThreadCount        int                   `yaml:"thread_count"`
}

// WatermarkDoc mirrors media.Watermark.
type WatermarkDoc struct {
	Mode                    media.WatermarkMode     `yaml:"mode"`
	Image                   string                  `yaml:"image"`
	Animated                bool                    `yaml:"animated"`
	Location                media.WatermarkLocation `yaml:"location"`
	Size                    media.WatermarkSize     `yaml:"size"`
	WidthPercent            int                     `yaml:"width_percent"`
	HorizontalMarginPercent int                     `yaml:"horizontal_margin_percent"`
	VerticalMarginPercent   int                     `yaml:"vertical_margin_percent"`
	Opacity                 int                     `yaml:"opacity"`
	FrequencyMinutes        int                     `yaml:"frequency_minutes"`
	DurationSeconds         int                     `yaml:"duration_seconds"`
}

// ItemDoc is one scheduled media file.
type ItemDoc struct {
	Path  string `yaml:"path"`
	Title string `yaml:"title"`
	// Duration is required for files that cannot be probed at load time.
	Duration  time.Duration `yaml:"duration"`
	InPoint   time.Duration `yaml:"in_point"`
	OutPoint  time.Duration `yaml:"out_point"`
	Subtitles []SidecarDoc  `yaml:"subtitles"`
	Watermark *WatermarkDoc `yaml:"watermark"`
}

// SidecarDoc is an external subtitle file.
type SidecarDoc struct {
	Path     string `yaml:"path"`
	Codec    string `yaml:"codec"`
	Language string `yaml:"language"`
	Title    string `yaml:"title"`
	Default  bool   `yaml:"default"`
	Forced   bool   `yaml:"forced"`
	SDH      bool   `yaml:"sdh"`
}

var (
	// ErrInvalidDocument wraps every structural problem of a lineup.
	ErrInvalidDocument = errors.New("invalid lineup")
)

// ParseDocument decodes a lineup strictly: unknown keys and trailing
// documents are rejected.
func ParseDocument(data []byte) (Document, error) {
	var doc Document
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&doc); err != nil {
		if errors.Is(err, io.EOF) {
			return doc, nil
		}
		return doc, fmt.Errorf("%w: %v", ErrInvalidDocument, err)
	}
	if err := dec.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		return doc, fmt.Errorf("%w: multiple documents or trailing content", ErrInvalidDocument)
	}
	return doc, doc.validate()
}

func (d Document) validate() error {
	seen := make(map[string]bool, len(d.Channels))
	for i, ch := range d.Channels {
		if strings.TrimSpace(ch.Number) == "" {
			return fmt.Errorf("%w: channel %d has no number", ErrInvalidDocument, i)
		}
		if seen[ch.Number] {
			return fmt.Errorf("%w: duplicate channel %s", ErrInvalidDocument, ch.Number)
		}
		seen[ch.Number] = true
		switch ch.StreamingMode {
		case "", media.StreamingModeTransportStream, media.StreamingModeTransportStreamHybrid,
			media.StreamingModeHLSDirect, media.StreamingModeHLSSegmenter, media.StreamingModeHLSSegmenterFMP4:
		default:
			return fmt.Errorf("%w: channel %s: unknown streaming mode %q", ErrInvalidDocument, ch.Number, ch.StreamingMode)
		}
		if _, err := parseResolution(ch.Profile.Resolution); err != nil {
			return fmt.Errorf("%w: channel %s: %v", ErrInvalidDocument, ch.Number, err)
		}
		for j, it := range ch.Items {
			if it.Path == "" {
				return fmt.Errorf("%w: channel %s item %d has no path", ErrInvalidDocument, ch.Number, j)
			}
			if it.OutPoint != 0 && it.OutPoint <= it.InPoint {
				return fmt.Errorf("%w: channel %s item %d: out point before in point", ErrInvalidDocument, ch.Number, j)
			}
		}
	}
	return nil
}

// DefaultProfile is the 1080p H.264/AAC profile used for unset fields.
func DefaultProfile() media.Profile {
	return media.Profile{
		Name:            "1080p h264 aac",
		Resolution:      media.FrameSize{Width: 1920, Height: 1080},
		VideoFormat:     media.VideoFormatH264,
		BitDepth:        media.BitDepth8,
		VideoBitrate:    2000,
		VideoBufferSize: 4000,
		AudioFormat:     media.AudioFormatAAC,
		AudioBitrate:    192,
		AudioBufferSize: 384,
		AudioChannels:   2,
		AudioSampleRate: 48,
		NormalizeVideo:  true,
		NormalizeAudio:  true,
		ScalingBehavior: media.ScalingBehaviorScaleAndPad,
		HardwareAccel:   media.HardwareAccelNone,
	}
}

func (p ProfileDoc) profile() media.Profile {
	out := DefaultProfile()
	if p.Name != "" {
		out.Name = p.Name
	}
	if size, _ := parseResolution(p.Resolution); !size.IsZero() {
		out.Resolution = size
	}
	if p.VideoFormat != "" {
		out.VideoFormat = p.VideoFormat
	}
	out.VideoProfile = p.VideoProfile
	out.VideoPreset = p.VideoPreset
	out.AllowBFrames = p.AllowBFrames
	if p.BitDepth != 0 {
		out.BitDepth = p.BitDepth
	}
	setInt(&out.VideoBitrate, p.VideoBitrate)
	setInt(&out.VideoBufferSize, p.VideoBufferSize)
	if p.AudioFormat != "" {
		out.AudioFormat = p.AudioFormat
	}
	setInt(&out.AudioBitrate, p.AudioBitrate)
	setInt(&out.AudioBufferSize, p.AudioBufferSize)
	setInt(&out.AudioChannels, p.AudioChannels)
	setInt(&out.AudioSampleRate, p.AudioSampleRate)
	if p.NormalizeVideo != nil {
		out.NormalizeVideo = *p.NormalizeVideo
	}
	if p.NormalizeAudio != nil {
		out.NormalizeAudio = *p.NormalizeAudio
	}
	out.NormalizeLoudness = p.NormalizeLoudness
	out.NormalizeFramerate = p.NormalizeFramerate
	if p.Deinterlace != nil {
		out.Deinterlace = *p.Deinterlace
	}
	if p.ScalingBehavior != "" {
		out.ScalingBehavior = p.ScalingBehavior
	}
	if p.HardwareAccel != "" {
		out.HardwareAccel = p.HardwareAccel
	}
	out.VaapiDriver = p.VaapiDriver
	out.VaapiDevice = p.VaapiDevice
	out.ThreadCount = p.ThreadCount
	return out
}

func (w *WatermarkDoc) watermark() *media.Watermark {
	if w == nil {
		return nil
	}
	return &media.Watermark{
		Mode:                    w.Mode,
		ImagePath:               w.Image,
		Animated:                w.Animated,
		Location:                w.Location,
		Size:                    w.Size,
		WidthPercent:            w.WidthPercent,
		HorizontalMarginPercent: w.HorizontalMarginPercent,
		VerticalMarginPercent:   w.VerticalMarginPercent,
		Opacity:                 w.Opacity,
		FrequencyMinutes:        w.FrequencyMinutes,
		DurationSeconds:         w.DurationSeconds,
	}
}

func (c ChannelDoc) channel() media.Channel {
	mode := c.StreamingMode
	if mode == "" {
		mode = media.StreamingModeHLSSegmenter
	}
	return media.Channel{
		Number:                    c.Number,
		Name:                      c.Name,
		StreamingMode:             mode,
		Profile:                   c.Profile.profile(),
		PreferredAudioLanguage:    c.PreferredAudioLanguage,
		PreferredAudioTitle:       c.PreferredAudioTitle,
		PreferredSubtitleLanguage: c.PreferredSubtitleLanguage,
		SubtitleMode:              c.SubtitleMode,
		StreamSelector:            c.StreamSelector,
		Watermark:                 c.Watermark.watermark(),
	}
}

func (s SidecarDoc) subtitle() media.Subtitle {
	return media.Subtitle{
		Codec:    s.Codec,
		Language: s.Language,
		Title:    s.Title,
		Default:  s.Default,
		Forced:   s.Forced,
		SDH:      s.SDH,
		Kind:     media.SubtitleKindSidecar,
		Path:     s.Path,
	}
}

// parseResolution accepts "WIDTHxHEIGHT"; empty yields a zero size.
func parseResolution(s string) (media.FrameSize, error) {
	if s == "" {
		return media.FrameSize{}, nil
	}
	w, h, ok := strings.Cut(strings.ToLower(s), "x")
	if !ok {
		return media.FrameSize{}, fmt.Errorf("resolution %q: want WIDTHxHEIGHT", s)
	}
	width, errW := strconv.Atoi(w)
	height, errH := strconv.Atoi(h)
	if errW != nil || errH != nil || width <= 0 || height <= 0 {
		return media.FrameSize{}, fmt.Errorf("resolution %q: want WIDTHxHEIGHT", s)
	}
	return media.FrameSize{Width: width, Height: height}, nil
}

func setInt(dst *int, v int) {
	if v != 0 {
		*dst = v
	}
}
