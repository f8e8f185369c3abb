// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package pipeline

import (
	"github.com/ManuGH/chanstream/internal/domain/media"
	"github.com/ManuGH/chanstream/internal/playback"
)

// Concat returns the wrapper pipeline that remuxes an internally served
// stream into MPEG-TS. A concat playlist is looped forever and copied
// stream by stream; the segmenter wrapper maps every stream of the live
// playlist.
func Concat(input ConcatInput, opts StateOptions) Pipeline {
	frame, audio, engine := StatesFromSettings(playback.ConcatSettings(), media.Profile{}, opts)
	engine.Output = OutputMPEGTS

	options := input.InputOptions()
	options = append(options, "-re")
	if input.Format == ConcatPlaylist {
		options = append(options, "-stream_loop", "-1")
	}

	p := Pipeline{
		Frame:        frame,
		Audio:        audio,
		Engine:       engine,
		Inputs:       []CompiledInput{{File: input, Options: options}},
		VideoEncoder: "copy",
		AudioEncoder: "copy",
	}
	if input.Format == ConcatSegmenter {
		p.MapAll = true
	} else {
		p.StreamCopy = true
	}
	return p
}

// ErrorScreen returns the request for the offline screen: background is a
// still image looped as video, subtitlePath an ASS document with the message
// that is burned in, and the audio is silence.
func ErrorScreen(background, subtitlePath string, profile media.Profile, opts StateOptions) Request {
	frame, audio, engine := StatesFromSettings(playback.CalculateErrorSettings(profile), profile, opts)
	frame.ScaledSize = profile.Resolution

	return Request{
		Frame:  frame,
		Audio:  audio,
		Engine: engine,
		Video: VideoInput{
			Path: background,
			Stream: Stream{
				Index:      0,
				Codec:      "png",
				StillImage: true,
			},
		},
		AudioInput: NullAudioInput{},
		Subtitle: &SubtitleInput{
			Path:   subtitlePath,
			Method: SubtitleBurn,
		},
	}
}
