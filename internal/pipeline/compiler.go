// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package pipeline

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/ManuGH/chanstream/internal/domain/media"
	"github.com/ManuGH/chanstream/internal/log"
	"github.com/ManuGH/chanstream/internal/playback"
	"github.com/ManuGH/chanstream/internal/watermark"
)

// ErrNoVideoInput is returned when a request has no video source.
var ErrNoVideoInput = errors.New("pipeline: no video input")

const (
	labelVideo        = "[v]"
	labelAudio        = "[a]"
	labelWatermarkCut = "[vt]"
	labelSubtitleCut  = "[vst]"
	labelWatermark    = "[wmp]"

	watermarkAlphaFormats = "yuva420p|yuva444p|yuva422p|rgba|abgr|bgra|gbrap|ya8"
)

// HardwareGate reports whether an acceleration backend is usable.
type HardwareGate interface {
	Available(accel media.HardwareAccel, device string) bool
}

// Request is everything the compiler needs for one run.
type Request struct {
	Frame  FrameState
	Audio  AudioState
	Engine EngineState

	Video VideoInput
	// AudioInput is an AudioInput or a NullAudioInput. Nil passes every
	// audio stream of the video input through.
	AudioInput InputFile
	Watermark  *WatermarkInput
	Subtitle   *SubtitleInput
}

// CompiledInput is an input with the options of this run.
type CompiledInput struct {
	File    InputFile
	Options []string
}

// FilterGraph is the -filter_complex of a run.
type FilterGraph struct {
	Expr string
	// VideoLabel is empty when the video stream is mapped unfiltered.
	VideoLabel string
	// AudioLabel is empty when the audio stream is mapped unfiltered.
	AudioLabel  string
	PixelFormat string
}

// Pipeline is a compiled run, ready for the command assembler.
type Pipeline struct {
	Frame  FrameState
	Audio  AudioState
	Engine EngineState

	Inputs     []CompiledInput
	VideoSteps []Step
	AudioSteps []Step
	// Graph is nil when no filter is required.
	Graph *FilterGraph

	VideoMap     string
	AudioMap     string
	VideoEncoder string
	AudioEncoder string

	// HardwareFrames is set when the encoder receives device frames, so no
	// output pixel format may be forced.
	HardwareFrames  bool
	OutputFrameRate string

	// StreamCopy remuxes every mapped stream without codec options.
	StreamCopy bool
	// MapAll maps every stream of the first input.
	MapAll bool
}

// IsCopy reports whether the run needs no filter graph and no encoder.
func (p Pipeline) IsCopy() bool {
	return p.Graph == nil && p.VideoEncoder == "copy" && (p.AudioEncoder == "copy" || p.AudioEncoder == "")
}

// Compiler turns requests into pipelines. It is safe for concurrent use.
type Compiler struct {
	gate HardwareGate
}

// NewCompiler returns a compiler. A nil gate trusts every backend.
func NewCompiler(gate HardwareGate) *Compiler {
	return &Compiler{gate: gate}
}

// Compile applies the filter rules in their fixed order: audio filters,
// upload, deinterlace, frame rate, scale, download and crop, square pixels,
// watermark, pad and subtitles, and finally the upload for the encoder.
func (c *Compiler) Compile(ctx context.Context, req Request) (Pipeline, error) {
	if req.Video.Path == "" {
		return Pipeline{}, ErrNoVideoInput
	}
	logger := log.WithComponentFromContext(ctx, "pipeline")

	frame, audio, engine := req.Frame, req.Audio, req.Engine
	stream := req.Video.Stream
	encodeVideo := frame.VideoFormat != media.VideoFormatCopy && frame.VideoFormat != ""

	if engine.EncoderAccel == "" {
		engine.EncoderAccel = media.HardwareAccelNone
	}
	if engine.DecoderAccel == "" {
		engine.DecoderAccel = engine.EncoderAccel
	}
	if !encodeVideo {
		engine.DecoderAccel = media.HardwareAccelNone
		engine.EncoderAccel = media.HardwareAccelNone
	}
	if engine.EncoderAccel != media.HardwareAccelNone && c.gate != nil &&
		!c.gate.Available(engine.EncoderAccel, engine.VaapiDevice) {
		logger.Warn().
			Str(log.FieldHWAccel, string(engine.EncoderAccel)).
			Str(log.FieldDevice, engine.VaapiDevice).
			Msg("hardware acceleration unavailable, falling back to software")
		engine.DecoderAccel = media.HardwareAccelNone
		engine.EncoderAccel = media.HardwareAccelNone
		engine.VideoDecoder = playback.DecoderFor(media.HardwareAccelNone, stream.Codec, stream.PixelFormat, frame.Deinterlace)
	}

	hwDecode := encodeVideo && !stream.StillImage &&
		playback.IsHardwareDecoder(engine.DecoderAccel, engine.VideoDecoder, stream.Codec, stream.PixelFormat, frame.Deinterlace)

	p := Pipeline{
		Frame:           frame,
		Audio:           audio,
		Engine:          engine,
		OutputFrameRate: frame.FrameRate,
	}
	if p.OutputFrameRate == "" {
		p.OutputFrameRate = stream.FrameRate
	}

	inputs := newInputSet()
	videoIdx := inputs.add(req.Video, videoInputOptions(frame, engine, stream, hwDecode))
	videoLabel := fmt.Sprintf("[%d:%d]", videoIdx, stream.Index)

	var segments []string

	// video
	if !encodeVideo {
		p.VideoEncoder = "copy"
		p.VideoMap = fmt.Sprintf("%d:%d", videoIdx, stream.Index)
		if req.Watermark != nil || req.Subtitle != nil {
			logger.Debug().Msg("stream copy ignores watermark and subtitle")
		}
	} else {
		vc := videoCompiler{
			logger:   logger,
			frame:    frame,
			engine:   engine,
			stream:   stream,
			onDevice: hwDecode,
		}
		vc.deviceFormat = "nv12"
		if is10Bit(stream.PixelFormat) {
			vc.deviceFormat = "p010le"
		}
		encoder, encoderOnDevice := VideoEncoder(engine.EncoderAccel, frame.VideoFormat)
		p.VideoEncoder = encoder

		graph := graphBuilder{head: videoLabel}
		vc.compile(req, encoderOnDevice, inputs, &graph)

		p.VideoSteps = vc.steps
		p.HardwareFrames = vc.onDevice
		if graph.changed() {
			segments = append(segments, graph.finish(labelVideo)...)
			p.VideoMap = labelVideo
		} else {
			p.VideoMap = fmt.Sprintf("%d:%d", videoIdx, stream.Index)
		}
	}

	// audio
	encodeAudio := audio.Format != media.AudioFormatCopy && audio.Format != ""
	p.AudioEncoder = AudioEncoder(audio.Format)
	switch a := req.AudioInput.(type) {
	case nil:
		p.AudioMap = fmt.Sprintf("%d:a", videoIdx)
	case NullAudioInput:
		idx := inputs.add(a, a.InputOptions())
		p.AudioMap = fmt.Sprintf("%d:0", idx)
		if !encodeAudio {
			p.AudioEncoder = AudioEncoder(media.AudioFormatAAC)
		}
	case AudioInput:
		idx := inputs.add(a, audioInputOptions(frame, engine))
		p.AudioMap = fmt.Sprintf("%d:%d", idx, a.Stream.Index)
		if encodeAudio {
			p.AudioSteps = audioSteps(audio)
		}
		if len(p.AudioSteps) > 0 {
			filters := make([]string, 0, len(p.AudioSteps))
			for _, s := range p.AudioSteps {
				filters = append(filters, s.Filter())
			}
			segments = append(segments, fmt.Sprintf("[%d:%d]%s%s", idx, a.Stream.Index, strings.Join(filters, ","), labelAudio))
			p.AudioMap = labelAudio
		}
	default:
		return Pipeline{}, fmt.Errorf("pipeline: unsupported audio input %s", a.Kind())
	}

	p.Inputs = inputs.list

	if len(segments) > 0 {
		p.Graph = &FilterGraph{Expr: strings.Join(segments, ";")}
		if p.VideoMap == labelVideo {
			p.Graph.VideoLabel = labelVideo
		}
		if p.AudioMap == labelAudio {
			p.Graph.AudioLabel = labelAudio
		}
		if encodeVideo && !p.HardwareFrames {
			p.Graph.PixelFormat = frame.PixelFormat
		}
	}

	logger.Debug().
		Str(log.FieldHWAccel, string(engine.EncoderAccel)).
		Str(log.FieldEncoder, p.VideoEncoder).
		Int("video_steps", len(p.VideoSteps)).
		Int("audio_steps", len(p.AudioSteps)).
		Bool("hardware_frames", p.HardwareFrames).
		Msg("compiled pipeline")

	return p, nil
}

// videoCompiler tracks where frames live while the video rules are applied.
type videoCompiler struct {
	logger       zerolog.Logger
	frame        FrameState
	engine       EngineState
	stream       Stream
	onDevice     bool
	deviceFormat string

	steps        []Step
	softwareUsed bool
}

func (vc *videoCompiler) add(g *graphBuilder, s Step) {
	vc.steps = append(vc.steps, s)
	if !vc.onDevice && hasDeviceFilters(vc.engine.EncoderAccel) {
		switch s.(type) {
		case UploadStep, DownloadStep, FormatStep:
		default:
			vc.softwareUsed = true
		}
	}
	g.chain = append(g.chain, s.Filter())
}

func (vc *videoCompiler) upload(g *graphBuilder) {
	accel := vc.engine.EncoderAccel
	format := "nv12"
	if vc.frame.PixelFormat == playback.PixelFormatYUV420P10LE {
		format = "p010le"
	}
	formats := []string{format}
	if accel == media.HardwareAccelVAAPI {
		formats = append(formats, "vaapi")
	}
	vc.add(g, FormatStep{PixelFormats: formats})
	vc.add(g, UploadStep{Accel: accel})
	vc.onDevice = true
	vc.deviceFormat = format
}

func (vc *videoCompiler) download(g *graphBuilder) {
	vc.add(g, DownloadStep{PixelFormat: vc.deviceFormat})
	vc.onDevice = false
}

func (vc *videoCompiler) compile(req Request, encoderOnDevice bool, inputs *inputSet, g *graphBuilder) {
	frame, accel := vc.frame, vc.engine.EncoderAccel
	scale := !frame.ScaledSize.IsZero()
	pad := !frame.PaddedSize.IsZero()
	crop := !frame.CropSize.IsZero()

	if hasDeviceFilters(accel) && !vc.onDevice && (frame.Deinterlace || scale) {
		vc.upload(g)
	}

	if frame.Deinterlace {
		switch {
		case vc.onDevice && hasDeviceFilters(accel):
			vc.add(g, DeinterlaceStep{Accel: accel})
		case accel == media.HardwareAccelNone:
			vc.add(g, DeinterlaceStep{Accel: media.HardwareAccelNone})
		default:
			vc.logger.Debug().Str(log.FieldHWAccel, string(accel)).Msg("no deinterlace filter for backend, skipping")
		}
	}

	if frame.FrameRate != "" {
		vc.add(g, FrameRateStep{Rate: frame.FrameRate})
	}

	if scale {
		scaleAccel := media.HardwareAccelNone
		if vc.onDevice {
			scaleAccel = accel
			if accel == media.HardwareAccelVAAPI {
				vc.deviceFormat = "nv12"
			}
		}
		vc.add(g, ScaleStep{Accel: scaleAccel, Size: frame.ScaledSize})
	}

	needsSoftware := pad || crop || req.Subtitle != nil ||
		(req.Watermark != nil && accel != media.HardwareAccelNVENC)
	if vc.onDevice && needsSoftware {
		vc.download(g)
	}

	if crop {
		vc.add(g, CropStep{Size: frame.CropSize})
	}

	if scale || pad {
		vc.add(g, SetSARStep{})
	}

	if req.Watermark != nil {
		vc.overlayWatermark(*req.Watermark, inputs, g)
	}

	if pad {
		vc.add(g, PadStep{Size: frame.PaddedSize})
	}

	if req.Subtitle != nil {
		vc.burnSubtitle(req, inputs, g)
	}

	if hasDeviceFilters(accel) && encoderOnDevice && !vc.onDevice &&
		(vc.softwareUsed || accel == media.HardwareAccelVAAPI) {
		vc.upload(g)
	}
	if vc.onDevice && !encoderOnDevice {
		vc.download(g)
	}
}

func (vc *videoCompiler) outputSize() media.FrameSize {
	switch {
	case !vc.frame.PaddedSize.IsZero():
		return vc.frame.PaddedSize
	case !vc.frame.CropSize.IsZero():
		return vc.frame.CropSize
	case !vc.frame.ScaledSize.IsZero():
		return vc.frame.ScaledSize
	default:
		return vc.stream.Size
	}
}

func (vc *videoCompiler) overlayWatermark(in WatermarkInput, inputs *inputSet, g *graphBuilder) {
	opts := in.Options
	wm := opts.Watermark
	cuda := vc.onDevice && vc.engine.EncoderAccel == media.HardwareAccelNVENC
	fades := len(opts.FadePoints) > 0
	translucent := wm.Opacity > 0 && wm.Opacity < 100
	size := vc.outputSize()

	var pre []string
	switch {
	case cuda:
		pre = append(pre, "format=yuva420p")
	case translucent || fades:
		pre = append(pre, "format="+watermarkAlphaFormats)
	}
	if translucent {
		pre = append(pre, fmt.Sprintf("colorchannelmixer=aa=%.2f", float64(wm.Opacity)/100))
	}
	if w := watermark.ScaledWidth(wm, size); w > 0 {
		pre = append(pre, fmt.Sprintf("scale=%d:-1", w))
	}
	for _, fp := range opts.FadePoints {
		pre = append(pre, fp.Filter())
	}
	if cuda {
		pre = append(pre, UploadStep{Accel: media.HardwareAccelNVENC}.Filter())
	}

	h, v := watermark.Margins(wm, size)
	step := OverlayStep{
		Source:     InputWatermark,
		Position:   watermark.Position(wm.Location, h, v),
		Preprocess: pre,
		CUDA:       cuda,
	}
	if fades && !cuda {
		step.ConvertAfter = "format=nv12"
	}

	idx := inputs.add(in, in.InputOptions())
	second := fmt.Sprintf("[%d:v]", idx)
	if opts.StreamIndex > 0 {
		second = fmt.Sprintf("[%d:%d]", idx, opts.StreamIndex)
	}
	g.overlay(labelWatermarkCut, second, labelWatermark, pre)
	vc.add(g, step)
}

func (vc *videoCompiler) burnSubtitle(req Request, inputs *inputSet, g *graphBuilder) {
	sub := *req.Subtitle
	if sub.Image {
		var options []string
		if sub.Path != req.Video.Path && vc.engine.Seek > 0 {
			options = append(options, "-ss", FormatTimestamp(vc.engine.Seek))
		}
		idx := inputs.add(sub, options)
		g.overlay(labelSubtitleCut, fmt.Sprintf("[%d:%d]", idx, sub.Stream.Index), "", nil)
		vc.add(g, OverlayStep{Source: InputSubtitle, Position: "x=(W-w)/2:y=(H-h)/2"})
		return
	}

	si := -1
	if sub.Embedded {
		si = sub.Stream.Index
	}
	vc.add(g, SubtitleStep{Path: sub.Path, FontsDir: vc.engine.FontsDir, StreamIndex: si})
}

func audioSteps(audio AudioState) []Step {
	var steps []Step
	if audio.NormalizeLoudness {
		steps = append(steps, LoudnessStep{})
	}
	if audio.PadDuration > 0 {
		steps = append(steps, AudioPadStep{Duration: audio.PadDuration})
	}
	return steps
}

func deviceOptions(engine EngineState, hwDecode bool) []string {
	var opts []string
	switch engine.EncoderAccel {
	case media.HardwareAccelQSV:
		if hwDecode {
			opts = append(opts, "-hwaccel", "qsv", "-hwaccel_output_format", "qsv")
		}
		opts = append(opts, "-init_hw_device", "qsv=qsv:MFX_IMPL_hw_any", "-filter_hw_device", "qsv")
	case media.HardwareAccelNVENC:
		if hwDecode {
			opts = append(opts, "-hwaccel", "cuda", "-hwaccel_output_format", "cuda")
		}
	case media.HardwareAccelVAAPI:
		device := engine.VaapiDevice
		if device == "" {
			device = "/dev/dri/renderD128"
		}
		if hwDecode {
			opts = append(opts, "-hwaccel", "vaapi")
		}
		opts = append(opts, "-vaapi_device", device)
		if hwDecode {
			opts = append(opts, "-hwaccel_output_format", "vaapi")
		}
	}
	return opts
}

func videoInputOptions(frame FrameState, engine EngineState, stream Stream, hwDecode bool) []string {
	opts := deviceOptions(engine, hwDecode)
	if engine.Seek > 0 && !stream.StillImage {
		opts = append(opts, "-ss", FormatTimestamp(engine.Seek))
	}
	if engine.VideoDecoder != "" && frame.VideoFormat != media.VideoFormatCopy && !stream.StillImage {
		opts = append(opts, "-c:v", engine.VideoDecoder)
	}
	if frame.Realtime {
		opts = append(opts, "-re")
	}
	if stream.StillImage {
		opts = append(opts, "-loop", "1")
	}
	return opts
}

func audioInputOptions(frame FrameState, engine EngineState) []string {
	var opts []string
	if engine.Seek > 0 {
		opts = append(opts, "-ss", FormatTimestamp(engine.Seek))
	}
	if frame.Realtime {
		opts = append(opts, "-re")
	}
	return opts
}

// FormatTimestamp renders d as hh:mm:ss with fractional seconds when needed.
func FormatTimestamp(d time.Duration) string {
	if d < 0 {
		d = 0
	}
	h := d / time.Hour
	d -= h * time.Hour
	m := d / time.Minute
	d -= m * time.Minute
	s := d / time.Second
	d -= s * time.Second
	out := fmt.Sprintf("%02d:%02d:%02d", h, m, s)
	if d > 0 {
		frac := fmt.Sprintf("%.6f", d.Seconds())
		out += strings.TrimRight(strings.TrimPrefix(frac, "0"), "0")
	}
	return out
}

func is10Bit(pixelFormat string) bool {
	return strings.Contains(pixelFormat, "p10")
}

// inputSet deduplicates inputs that open the same file.
type inputSet struct {
	list   []CompiledInput
	byPath map[string]int
}

func newInputSet() *inputSet {
	return &inputSet{byPath: make(map[string]int)}
}

func (s *inputSet) add(f InputFile, options []string) int {
	src := f.Source()
	if src != "" {
		if idx, ok := s.byPath[src]; ok {
			return idx
		}
	}
	s.list = append(s.list, CompiledInput{File: f, Options: options})
	idx := len(s.list) - 1
	if src != "" {
		s.byPath[src] = idx
	}
	return idx
}

// graphBuilder assembles the video part of the filter graph. Overlays split
// the main chain so the second input can join it.
type graphBuilder struct {
	head     string
	chain    []string
	segments []string
}

func (g *graphBuilder) overlay(cut, second, preLabel string, pre []string) {
	if len(g.chain) > 0 {
		g.segments = append(g.segments, g.head+strings.Join(g.chain, ",")+cut)
		g.head = cut
		g.chain = nil
	}
	if len(pre) > 0 {
		g.segments = append(g.segments, second+strings.Join(pre, ",")+preLabel)
		second = preLabel
	}
	g.head += second
}

func (g *graphBuilder) changed() bool {
	return len(g.chain) > 0 || len(g.segments) > 0
}

func (g *graphBuilder) finish(out string) []string {
	if len(g.chain) == 0 {
		return g.segments
	}
	return append(g.segments, g.head+strings.Join(g.chain, ",")+out)
}
