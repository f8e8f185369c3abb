// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package log

// Canonical field name constants for structured logging.
const (
	// Identity fields
	FieldSessionID = "session_id"
	FieldRequestID = "request_id"
	FieldChannel   = "channel"

	// Process / pipeline fields
	FieldEvent     = "event"
	FieldComponent = "component"
	FieldPID       = "pid"
	FieldExitCode  = "exit_code"
	FieldCommand   = "command"

	// Media / stream fields
	FieldCodec      = "codec"
	FieldResolution = "resolution"
	FieldEncoder    = "encoder"
	FieldDecoder    = "decoder"
	FieldHWAccel    = "hwaccel"
	FieldDevice     = "device"
	FieldLanguage   = "language"

	// HLS fields
	FieldSegment      = "segment"
	FieldSegmentCount = "segment_count"

	// Path / URL fields
	FieldPath = "path"
)
