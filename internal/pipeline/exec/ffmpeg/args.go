// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package ffmpeg

import (
	"errors"
	"fmt"
	"math"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/ManuGH/chanstream/internal/domain/media"
	"github.com/ManuGH/chanstream/internal/pipeline"
)

// ErrNoInputs is returned when a pipeline has nothing to read.
var ErrNoInputs = errors.New("ffmpeg: pipeline has no inputs")

const (
	playlistName     = "live.m3u8"
	tsSegmentPattern = "live%06d.ts"
)

// Command is a fully assembled ffmpeg invocation. Args never pass through a
// shell, so values are not quoted.
type Command struct {
	Args []string
	// Env holds KEY=VALUE pairs added to the process environment.
	Env []string
}

// Assemble turns a compiled pipeline into an argument vector. Global options
// come first, then every input with its options, the filter graph, the
// stream mapping, output options and finally the output target.
func Assemble(p pipeline.Pipeline) (Command, error) {
	if len(p.Inputs) == 0 {
		return Command{}, ErrNoInputs
	}
	engine := p.Engine

	var args []string
	if engine.ThreadCount > 0 {
		args = append(args, "-threads", strconv.Itoa(engine.ThreadCount))
	}
	args = append(args, "-nostdin", "-hide_banner", "-nostats", "-loglevel", "error")
	if len(engine.FormatFlags) > 0 {
		args = append(args, "-fflags", strings.Join(engine.FormatFlags, ""))
	}

	for _, in := range p.Inputs {
		args = append(args, in.Options...)
		args = append(args, "-i", in.File.Source())
	}

	if p.MapAll {
		args = append(args, "-map", "0", "-c", "copy")
		args = append(args, metadataArgs(engine.Metadata, false)...)
		args = append(args, "-f", "mpegts", "pipe:1")
		return Command{Args: args, Env: environment(engine)}, nil
	}

	if p.Graph != nil {
		args = append(args, "-filter_complex", p.Graph.Expr)
	}
	if !p.StreamCopy {
		if p.VideoMap != "" {
			args = append(args, "-map", p.VideoMap)
		}
		if p.AudioMap != "" {
			args = append(args, "-map", p.AudioMap)
		}
	}

	args = append(args, "-muxdelay", "0", "-muxpreload", "0")
	if engine.Output != pipeline.OutputHLSFMP4 {
		args = append(args, "-movflags", "+faststart")
	}
	args = append(args, "-flags", "cgop")

	encodeVideo := p.VideoEncoder != "" && p.VideoEncoder != "copy"
	if encodeVideo && !p.Frame.AllowBFrames {
		args = append(args, "-bf", "0")
	}
	if p.Frame.VideoFormat == media.VideoFormatMPEG2Video {
		args = append(args, "-sc_threshold", "1000000000")
	} else {
		args = append(args, "-sc_threshold", "0")
	}

	if p.StreamCopy {
		args = append(args, "-c", "copy")
	} else {
		if p.Frame.VideoTrackTimeScale > 0 {
			args = append(args, "-video_track_timescale", strconv.Itoa(p.Frame.VideoTrackTimeScale))
		}
		if encodeVideo {
			args = append(args, videoRateArgs(p.Frame)...)
			args = append(args, audioArgs(p)...)
			args = append(args, videoCodecArgs(p)...)
		} else {
			args = append(args, "-c:v", "copy")
			args = append(args, audioArgs(p)...)
		}
	}

	args = append(args, metadataArgs(engine.Metadata, true)...)

	if engine.Finish > 0 {
		args = append(args, "-t", pipeline.FormatTimestamp(engine.Finish))
	}

	args = append(args, outputArgs(p, encodeVideo)...)

	return Command{Args: args, Env: environment(engine)}, nil
}

func videoRateArgs(frame pipeline.FrameState) []string {
	var args []string
	if frame.VideoBitrate > 0 {
		args = append(args,
			"-b:v", fmt.Sprintf("%dk", frame.VideoBitrate),
			"-maxrate:v", fmt.Sprintf("%dk", frame.VideoBitrate))
	}
	if frame.VideoBufferSize > 0 {
		args = append(args, "-bufsize:v", fmt.Sprintf("%dk", frame.VideoBufferSize))
	}
	return args
}

func videoCodecArgs(p pipeline.Pipeline) []string {
	var args []string
	if p.Graph != nil && p.Graph.PixelFormat != "" && !p.HardwareFrames {
		args = append(args, "-pix_fmt", p.Graph.PixelFormat)
	}
	args = append(args, "-c:v", p.VideoEncoder)
	if p.VideoEncoder == "libx265" {
		args = append(args, "-tag:v", "hvc1", "-x265-params", "log-level=error")
	} else if strings.HasPrefix(p.VideoEncoder, "hevc_") {
		args = append(args, "-tag:v", "hvc1")
	}
	if p.Frame.VideoProfile != "" {
		args = append(args, "-profile:v", p.Frame.VideoProfile)
	}
	if p.Frame.VideoPreset != "" {
		args = append(args, "-preset:v", p.Frame.VideoPreset)
	}
	return args
}

func audioArgs(p pipeline.Pipeline) []string {
	if p.AudioEncoder == "" {
		return nil
	}
	args := []string{"-c:a", p.AudioEncoder}
	if p.AudioEncoder == "copy" {
		return args
	}
	a := p.Audio
	if a.Channels > 0 {
		args = append(args, "-ac", strconv.Itoa(a.Channels))
	}
	if a.Bitrate > 0 {
		args = append(args,
			"-b:a", fmt.Sprintf("%dk", a.Bitrate),
			"-maxrate:a", fmt.Sprintf("%dk", a.Bitrate))
	}
	if a.BufferSize > 0 {
		args = append(args, "-bufsize:a", fmt.Sprintf("%dk", a.BufferSize))
	}
	if a.SampleRate > 0 {
		args = append(args, "-ar", fmt.Sprintf("%dk", a.SampleRate))
	}
	return args
}

func metadataArgs(m pipeline.Metadata, dropSource bool) []string {
	var args []string
	if m.ServiceProvider != "" || m.ServiceName != "" {
		if dropSource {
			args = append(args, "-map_metadata", "-1")
		}
		if m.ServiceProvider != "" {
			args = append(args, "-metadata", "service_provider="+m.ServiceProvider)
		}
		if m.ServiceName != "" {
			args = append(args, "-metadata", "service_name="+m.ServiceName)
		}
	}
	if m.AudioLanguage != "" {
		args = append(args, "-metadata:s:a:0", "language="+m.AudioLanguage)
	}
	return args
}

func outputArgs(p pipeline.Pipeline, encodeVideo bool) []string {
	engine := p.Engine
	if !engine.Output.IsHLS() {
		return []string{"-f", "mpegts", "-mpegts_flags", "+initial_discontinuity", "pipe:1"}
	}

	hls := engine.HLS
	seconds := hls.SegmentSeconds
	if seconds <= 0 {
		seconds = pipeline.DefaultSegmentSeconds
	}

	var args []string
	if hls.PTSOffset > 0 {
		args = append(args, "-output_ts_offset", strconv.FormatFloat(hls.PTSOffset.Seconds(), 'f', -1, 64))
	}
	if encodeVideo {
		if fps, ok := parseFrameRate(p.OutputFrameRate); ok {
			gop := strconv.Itoa(int(math.Round(fps * float64(seconds))))
			args = append(args, "-g", gop, "-keyint_min", gop)
		}
		args = append(args, "-force_key_frames", fmt.Sprintf("expr:gte(t,n_forced*%d)", seconds))
	}

	args = append(args,
		"-f", "hls",
		"-hls_time", strconv.Itoa(seconds),
		"-hls_list_size", "0",
		"-segment_list_flags", "+live",
	)
	if engine.Output == pipeline.OutputHLSFMP4 {
		args = append(args,
			"-hls_segment_filename", filepath.Join(hls.Dir, fmt.Sprintf("live_%d_%%06d.m4s", hls.GeneratedAt)),
			"-hls_segment_type", "fmp4",
			"-hls_fmp4_init_filename", fmt.Sprintf("%d_init.mp4", hls.GeneratedAt),
		)
	} else {
		args = append(args, "-hls_segment_filename", filepath.Join(hls.Dir, tsSegmentPattern))
	}
	args = append(args,
		"-hls_flags", "program_date_time+append_list+discont_start+omit_endlist+independent_segments",
		"-mpegts_flags", "+initial_discontinuity",
		filepath.Join(hls.Dir, playlistName),
	)
	return args
}

// parseFrameRate accepts "25", "29.97" and "30000/1001".
func parseFrameRate(s string) (float64, bool) {
	if s == "" {
		return 0, false
	}
	if num, den, ok := strings.Cut(s, "/"); ok {
		n, err1 := strconv.ParseFloat(num, 64)
		d, err2 := strconv.ParseFloat(den, 64)
		if err1 != nil || err2 != nil || d == 0 {
			return 0, false
		}
		return n / d, n > 0
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil || f <= 0 {
		return 0, false
	}
	return f, true
}

func environment(engine pipeline.EngineState) []string {
	var env []string
	if engine.VaapiDriver != media.VaapiDriverDefault && engine.EncoderAccel == media.HardwareAccelVAAPI {
		env = append(env, "LIBVA_DRIVER_NAME="+string(engine.VaapiDriver))
	}
	if engine.SaveReport && engine.ReportsDir != "" {
		report := filepath.Join(engine.ReportsDir, "ffmpeg-%t-transcode.log")
		env = append(env, "FFREPORT=file="+strings.ReplaceAll(report, ":", `\:`)+":level=32")
	}
	return env
}
