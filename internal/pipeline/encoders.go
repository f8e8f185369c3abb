// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package pipeline

import (
	"github.com/ManuGH/chanstream/internal/domain/media"
)

type encoderKey struct {
	accel  media.HardwareAccel
	format media.VideoFormat
}

var hardwareEncoders = map[encoderKey]string{
	{media.HardwareAccelNVENC, media.VideoFormatH264}:        "h264_nvenc",
	{media.HardwareAccelNVENC, media.VideoFormatHEVC}:        "hevc_nvenc",
	{media.HardwareAccelQSV, media.VideoFormatH264}:          "h264_qsv",
	{media.HardwareAccelQSV, media.VideoFormatHEVC}:          "hevc_qsv",
	{media.HardwareAccelQSV, media.VideoFormatMPEG2Video}:    "mpeg2_qsv",
	{media.HardwareAccelVAAPI, media.VideoFormatH264}:        "h264_vaapi",
	{media.HardwareAccelVAAPI, media.VideoFormatHEVC}:        "hevc_vaapi",
	{media.HardwareAccelVAAPI, media.VideoFormatMPEG2Video}:  "mpeg2_vaapi",
	{media.HardwareAccelVideoToolbox, media.VideoFormatH264}: "h264_videotoolbox",
	{media.HardwareAccelVideoToolbox, media.VideoFormatHEVC}: "hevc_videotoolbox",
	{media.HardwareAccelAMF, media.VideoFormatH264}:          "h264_amf",
	{media.HardwareAccelAMF, media.VideoFormatHEVC}:          "hevc_amf",
	{media.HardwareAccelV4L2M2M, media.VideoFormatH264}:      "h264_v4l2m2m",
	{media.HardwareAccelV4L2M2M, media.VideoFormatHEVC}:      "hevc_v4l2m2m",
}

var softwareEncoders = map[media.VideoFormat]string{
	media.VideoFormatH264:       "libx264",
	media.VideoFormatHEVC:       "libx265",
	media.VideoFormatMPEG2Video: "mpeg2video",
}

// VideoEncoder returns the encoder for format on accel and whether it runs
// on the device. Formats without a hardware encoder fall back to software.
func VideoEncoder(accel media.HardwareAccel, format media.VideoFormat) (string, bool) {
	if format == media.VideoFormatCopy || format == "" {
		return "copy", false
	}
	if name, ok := hardwareEncoders[encoderKey{accel, format}]; ok {
		return name, true
	}
	return softwareEncoders[format], false
}

// AudioEncoder returns the encoder for an audio format.
func AudioEncoder(format media.AudioFormat) string {
	switch format {
	case media.AudioFormatAAC:
		return "aac"
	case media.AudioFormatAC3:
		return "ac3"
	default:
		return "copy"
	}
}

// hasDeviceFilters reports whether accel has scale and deinterlace filters
// that run on device frames.
func hasDeviceFilters(accel media.HardwareAccel) bool {
	switch accel {
	case media.HardwareAccelQSV, media.HardwareAccelNVENC, media.HardwareAccelVAAPI:
		return true
	default:
		return false
	}
}
