// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package playback

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ManuGH/chanstream/internal/domain/media"
)

var testVersion = media.Version{SampleAspectRatio: "1:1", Width: 1920, Height: 1080}

func testProfile() media.Profile {
	return media.Profile{
		Name:            "1080p",
		Resolution:      media.FrameSize{Width: 1920, Height: 1080},
		VideoFormat:     media.VideoFormatH264,
		VideoBitrate:    2525,
		VideoBufferSize: 2525,
		AudioFormat:     media.AudioFormatAAC,
		AudioBitrate:    2424,
		AudioBufferSize: 2424,
		AudioChannels:   6,
		AudioSampleRate: 48,
		NormalizeVideo:  true,
		NormalizeAudio:  true,
		ThreadCount:     7,
		HardwareAccel:   media.HardwareAccelNone,
	}
}

func request(mode media.StreamingMode, p media.Profile, v media.Version) Request {
	now := time.Date(2024, 3, 1, 20, 0, 0, 0, time.UTC)
	return Request{
		Mode:        mode,
		Profile:     p,
		Version:     v,
		VideoStream: media.MediaStream{Kind: media.StreamKindVideo, Codec: "h264", PixelFormat: "yuv420p"},
		Start:       now,
		Now:         now,
	}
}

func TestCalculate_FormatFlags(t *testing.T) {
	ts := Calculate(request(media.StreamingModeTransportStream, testProfile(), testVersion))
	assert.Equal(t, []string{"+genpts", "+discardcorrupt", "+igndts"}, ts.FormatFlags)

	for _, mode := range []media.StreamingMode{media.StreamingModeHLSSegmenter, media.StreamingModeHLSSegmenterFMP4} {
		s := Calculate(request(mode, testProfile(), testVersion))
		assert.NotContains(t, s.FormatFlags, "+genpts", string(mode))
		assert.Contains(t, s.FormatFlags, "+igndts", string(mode))
	}
}

func TestCalculate_RealtimeAndThreads(t *testing.T) {
	tests := []struct {
		name         string
		mode         media.StreamingMode
		hlsRealtime  bool
		wantRealtime bool
		wantThreads  int
	}{
		{"transport stream always realtime", media.StreamingModeTransportStream, false, true, 1},
		{"hybrid always realtime", media.StreamingModeTransportStreamHybrid, false, true, 1},
		{"hls direct always realtime", media.StreamingModeHLSDirect, false, true, 1},
		{"segmenter working ahead", media.StreamingModeHLSSegmenter, false, false, 7},
		{"segmenter realtime", media.StreamingModeHLSSegmenter, true, true, 1},
		{"fmp4 segmenter working ahead", media.StreamingModeHLSSegmenterFMP4, false, false, 7},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := request(tt.mode, testProfile(), testVersion)
			req.HLSRealtime = tt.hlsRealtime
			s := Calculate(req)
			assert.Equal(t, tt.wantRealtime, s.RealtimeOutput)
			assert.Equal(t, tt.wantThreads, s.ThreadCount)
		})
	}
}

func TestCalculate_StreamSeek(t *testing.T) {
	req := request(media.StreamingModeTransportStream, testProfile(), testVersion)
	req.Now = req.Start.Add(5 * time.Minute)
	assert.Equal(t, 5*time.Minute, Calculate(req).StreamSeek)

	req.InPoint = 30 * time.Second
	assert.Equal(t, 5*time.Minute+30*time.Second, Calculate(req).StreamSeek)

	req = request(media.StreamingModeHLSDirect, testProfile(), testVersion)
	req.InPoint = 10 * time.Second
	assert.Equal(t, 10*time.Second, Calculate(req).StreamSeek)

	req = request(media.StreamingModeHLSSegmenter, testProfile(), testVersion)
	assert.Zero(t, Calculate(req).StreamSeek)
}

func TestCalculate_HLSDirectCopies(t *testing.T) {
	p := testProfile()
	p.Deinterlace = true
	p.HardwareAccel = media.HardwareAccelQSV
	v := media.Version{SampleAspectRatio: "32:27", Width: 706, Height: 362, ScanKind: media.ScanKindInterlaced}

	s := Calculate(request(media.StreamingModeHLSDirect, p, v))
	assert.Equal(t, media.VideoFormatCopy, s.VideoFormat)
	assert.Equal(t, media.AudioFormatCopy, s.AudioFormat)
	assert.False(t, s.Deinterlace)
	assert.True(t, s.ScaledSize.IsZero())
	assert.False(t, s.PadToDesiredResolution)
	assert.Equal(t, media.HardwareAccelNone, s.HardwareAccel)
	assert.True(t, s.IsCopy())
}

func TestCalculate_Scaling(t *testing.T) {
	tests := []struct {
		name       string
		resolution media.FrameSize
		behavior   media.ScalingBehavior
		version    media.Version
		wantScaled media.FrameSize
		wantCrop   media.FrameSize
		wantPad    bool
	}{
		{
			name:       "correct size",
			resolution: media.FrameSize{Width: 1920, Height: 1080},
			version:    media.Version{Width: 1920, Height: 1080, SampleAspectRatio: "1:1"},
		},
		{
			name:       "scaled size would equal content size",
			resolution: media.FrameSize{Width: 1920, Height: 1080},
			version:    media.Version{Width: 1918, Height: 1080, SampleAspectRatio: "1:1"},
			wantPad:    true,
		},
		{
			name:       "anamorphic scales to even dimensions",
			resolution: media.FrameSize{Width: 1280, Height: 720},
			version:    media.Version{Width: 706, Height: 362, SampleAspectRatio: "32:27"},
			wantScaled: media.FrameSize{Width: 1280, Height: 554},
			wantPad:    true,
		},
		{
			name:       "wide source is width constrained",
			resolution: media.FrameSize{Width: 1280, Height: 720},
			version:    media.Version{Width: 1920, Height: 800, SampleAspectRatio: "1:1"},
			wantScaled: media.FrameSize{Width: 1280, Height: 534},
			wantPad:    true,
		},
		{
			name:       "tall source is height constrained",
			resolution: media.FrameSize{Width: 1280, Height: 720},
			version:    media.Version{Width: 1440, Height: 1080, SampleAspectRatio: "1:1"},
			wantScaled: media.FrameSize{Width: 960, Height: 720},
			wantPad:    true,
		},
		{
			name:       "crop scales beyond min size",
			resolution: media.FrameSize{Width: 1280, Height: 720},
			behavior:   media.ScalingBehaviorCrop,
			version:    media.Version{Width: 944, Height: 720, SampleAspectRatio: "1:1"},
			wantScaled: media.FrameSize{Width: 1280, Height: 976},
			wantCrop:   media.FrameSize{Width: 1280, Height: 720},
		},
		{
			name:       "crop with unknown sample aspect ratio",
			resolution: media.FrameSize{Width: 640, Height: 411},
			behavior:   media.ScalingBehaviorCrop,
			version:    media.Version{Width: 626, Height: 476, SampleAspectRatio: "0:0", DisplayAspectRatio: "4:3"},
			wantScaled: media.FrameSize{Width: 640, Height: 480},
			wantCrop:   media.FrameSize{Width: 640, Height: 411},
		},
		{
			name:       "crop scales down to min size",
			resolution: media.FrameSize{Width: 1280, Height: 720},
			behavior:   media.ScalingBehaviorCrop,
			version:    media.Version{Width: 1920, Height: 816, SampleAspectRatio: "1:1"},
			wantScaled: media.FrameSize{Width: 1694, Height: 720},
			wantCrop:   media.FrameSize{Width: 1280, Height: 720},
		},
		{
			name:       "stretch goes straight to profile size",
			resolution: media.FrameSize{Width: 1280, Height: 720},
			behavior:   media.ScalingBehaviorStretch,
			version:    media.Version{Width: 1920, Height: 800, SampleAspectRatio: "1:1"},
			wantScaled: media.FrameSize{Width: 1280, Height: 720},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := testProfile()
			p.Resolution = tt.resolution
			p.ScalingBehavior = tt.behavior

			s := Calculate(request(media.StreamingModeTransportStream, p, tt.version))
			assert.Equal(t, tt.wantScaled, s.ScaledSize)
			assert.Equal(t, tt.wantCrop, s.CropSize)
			assert.Equal(t, tt.wantPad, s.PadToDesiredResolution)
		})
	}
}

func TestCalculate_NoPadWithoutNormalize(t *testing.T) {
	p := testProfile()
	p.NormalizeVideo = false
	v := media.Version{Width: 1918, Height: 1080, SampleAspectRatio: "1:1"}

	s := Calculate(request(media.StreamingModeTransportStream, p, v))
	assert.True(t, s.ScaledSize.IsZero())
	assert.False(t, s.PadToDesiredResolution)
	assert.Equal(t, media.VideoFormatCopy, s.VideoFormat)
	assert.Zero(t, s.VideoTrackTimeScale)
}

func TestCalculate_VideoFormat(t *testing.T) {
	padded := Calculate(request(media.StreamingModeTransportStream, testProfile(),
		media.Version{Width: 1918, Height: 1080, SampleAspectRatio: "1:1"}))
	assert.Equal(t, media.VideoFormatH264, padded.VideoFormat)
	assert.Equal(t, 2525, padded.VideoBitrate)
	assert.Equal(t, 2525, padded.VideoBufferSize)
	assert.Equal(t, TrackTimeScale, padded.VideoTrackTimeScale)

	sameCodec := Calculate(request(media.StreamingModeTransportStream, testProfile(), testVersion))
	assert.Equal(t, media.VideoFormatCopy, sameCodec.VideoFormat)

	req := request(media.StreamingModeTransportStream, testProfile(), testVersion)
	req.VideoStream.Codec = "mpeg2video"
	otherCodec := Calculate(req)
	assert.Equal(t, media.VideoFormatH264, otherCodec.VideoFormat)
	assert.Equal(t, 2525, otherCodec.VideoBitrate)
}

func TestCalculate_PixelFormat(t *testing.T) {
	p := testProfile()
	p.BitDepth = media.BitDepth10
	p.VideoFormat = media.VideoFormatHEVC
	assert.Equal(t, PixelFormatYUV420P10LE, Calculate(request(media.StreamingModeTransportStream, p, testVersion)).PixelFormat)

	p.VideoFormat = media.VideoFormatMPEG2Video
	assert.Equal(t, PixelFormatYUV420P, Calculate(request(media.StreamingModeTransportStream, p, testVersion)).PixelFormat)

	p.BitDepth = media.BitDepth8
	p.VideoFormat = media.VideoFormatH264
	assert.Equal(t, PixelFormatYUV420P, Calculate(request(media.StreamingModeTransportStream, p, testVersion)).PixelFormat)
}

func TestCalculate_Deinterlace(t *testing.T) {
	p := testProfile()
	interlaced := media.Version{Width: 1918, Height: 1080, SampleAspectRatio: "1:1", ScanKind: media.ScanKindInterlaced}
	progressive := interlaced
	progressive.ScanKind = media.ScanKindProgressive

	assert.False(t, Calculate(request(media.StreamingModeTransportStream, p, interlaced)).Deinterlace, "profile does not request it")

	p.Deinterlace = true
	assert.True(t, Calculate(request(media.StreamingModeTransportStream, p, interlaced)).Deinterlace)
	assert.False(t, Calculate(request(media.StreamingModeTransportStream, p, progressive)).Deinterlace)
}

func TestCalculate_FrameRate(t *testing.T) {
	p := testProfile()
	p.NormalizeFramerate = true
	req := request(media.StreamingModeTransportStream, p, media.Version{Width: 1918, Height: 1080, SampleAspectRatio: "1:1"})
	req.TargetFrameRate = "24000/1001"
	assert.Equal(t, "24000/1001", Calculate(req).FrameRate)

	p.NormalizeFramerate = false
	req.Profile = p
	assert.Empty(t, Calculate(req).FrameRate)
}

func TestCalculate_Audio(t *testing.T) {
	p := testProfile()
	p.NormalizeLoudness = true
	v := testVersion
	v.Duration = 5 * time.Minute

	req := request(media.StreamingModeTransportStream, p, v)
	req.AudioStream = &media.MediaStream{Kind: media.StreamKindAudio, Channels: 2}
	s := Calculate(req)

	assert.Equal(t, media.AudioFormatAAC, s.AudioFormat)
	assert.Equal(t, 2424, s.AudioBitrate)
	assert.Equal(t, 2424, s.AudioBufferSize)
	assert.Equal(t, 6, s.AudioChannels)
	assert.Equal(t, 48, s.AudioSampleRate)
	assert.Equal(t, 5*time.Minute, s.AudioDuration)
	assert.True(t, s.NormalizeLoudness)

	req.AudioStream = &media.MediaStream{Kind: media.StreamKindAudio, Channels: 6}
	req.InPoint = time.Minute
	req.OutPoint = 3 * time.Minute
	s = Calculate(req)
	assert.Zero(t, s.AudioChannels, "matching channel count is left alone")
	assert.Equal(t, 2*time.Minute, s.AudioDuration)

	p.NormalizeAudio = false
	s = Calculate(request(media.StreamingModeTransportStream, p, v))
	assert.Equal(t, media.AudioFormatCopy, s.AudioFormat)
	assert.Zero(t, s.AudioDuration)
}

func TestCalculate_HardwareAcceleration(t *testing.T) {
	p := testProfile()
	p.HardwareAccel = media.HardwareAccelQSV
	s := Calculate(request(media.StreamingModeTransportStream, p, testVersion))
	assert.Equal(t, media.HardwareAccelQSV, s.HardwareAccel)
	assert.Equal(t, "h264_qsv", s.VideoDecoder)
}

func TestCalculateErrorSettings(t *testing.T) {
	p := testProfile()
	p.HardwareAccel = media.HardwareAccelNVENC
	p.VideoFormat = media.VideoFormatHEVC

	s := CalculateErrorSettings(p)
	assert.Equal(t, media.HardwareAccelNone, s.HardwareAccel)
	assert.Equal(t, "24", s.FrameRate)
	assert.Equal(t, 90000, s.VideoTrackTimeScale)
	assert.Equal(t, media.VideoFormatHEVC, s.VideoFormat)
	assert.Equal(t, media.AudioFormatAAC, s.AudioFormat)
	assert.Equal(t, 1, s.ThreadCount)
	assert.True(t, s.RealtimeOutput)
}

func TestConcatSettings(t *testing.T) {
	s := ConcatSettings()
	require.Equal(t, 1, s.ThreadCount)
	assert.True(t, s.IsCopy())
	assert.True(t, s.RealtimeOutput)
	assert.Contains(t, s.FormatFlags, "+genpts")
}
