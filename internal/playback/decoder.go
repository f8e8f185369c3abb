// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package playback

import (
	"strings"

	"github.com/ManuGH/chanstream/internal/domain/media"
)

var softwareDecoders = map[string]string{
	"hevc":       "hevc",
	"h264":       "h264",
	"mpeg1video": "mpeg1video",
	"mpeg2video": "mpeg2video",
	"vc1":        "vc1",
	"msmpeg4v2":  "msmpeg4v2",
	"msmpeg4v3":  "msmpeg4",
	"mpeg4":      "mpeg4",
	"vp9":        "vp9",
}

func is10Bit(pixelFormat string) bool {
	return strings.Contains(pixelFormat, "p10")
}

func is444(pixelFormat string) bool {
	return strings.HasPrefix(pixelFormat, "yuv444p")
}

// DecoderFor returns the ffmpeg decoder to force for the source, or "" to
// let ffmpeg pick (implicit hardware decode under VAAPI, or unknown codecs).
// Combinations known to fail on a backend fall back to software decoders.
func DecoderFor(accel media.HardwareAccel, codec, pixelFormat string, deinterlace bool) string {
	codec = strings.ToLower(codec)
	software := softwareDecoders[codec]

	switch accel {
	case media.HardwareAccelNVENC:
		if is444(pixelFormat) {
			return software
		}
		switch codec {
		case "hevc":
			return "hevc_cuvid"
		case "h264":
			if is10Bit(pixelFormat) {
				return software
			}
			return "h264_cuvid"
		case "mpeg2video":
			// mpeg2_cuvid misbehaves with yadif_cuda
			if deinterlace {
				return software
			}
			return "mpeg2_cuvid"
		case "vc1":
			return "vc1_cuvid"
		case "vp9":
			return "vp9_cuvid"
		case "mpeg4":
			return "mpeg4_cuvid"
		}
	case media.HardwareAccelQSV:
		switch codec {
		case "hevc":
			if pixelFormat == PixelFormatYUV420P10LE {
				return software
			}
			return "hevc_qsv"
		case "h264":
			if is10Bit(pixelFormat) || deinterlace {
				return software
			}
			return "h264_qsv"
		case "mpeg2video":
			if deinterlace {
				return software
			}
			return "mpeg2_qsv"
		case "vc1":
			return "vc1_qsv"
		case "vp9":
			return "vp9_qsv"
		}
	case media.HardwareAccelVAAPI:
		// the driver cannot decode mpeg4 part 2
		if codec == "mpeg4" {
			return software
		}
		return ""
	}

	return software
}

// IsHardwareDecoder reports whether the decoder keeps frames on the device.
func IsHardwareDecoder(accel media.HardwareAccel, decoder, codec, pixelFormat string, deinterlace bool) bool {
	switch accel {
	case media.HardwareAccelNVENC:
		return strings.HasSuffix(decoder, "_cuvid")
	case media.HardwareAccelQSV:
		return strings.HasSuffix(decoder, "_qsv")
	case media.HardwareAccelVAAPI:
		return decoder == "" && codec != "mpeg4" && !(deinterlace && is10Bit(pixelFormat))
	default:
		return false
	}
}
