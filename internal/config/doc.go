// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package config loads the daemon configuration.
//
// Values are resolved in order of precedence: CHANSTREAM_* environment
// variables, then the YAML file, then built-in defaults. Directories left
// unset are derived from the data directory, and the ffmpeg/ffprobe binaries
// are resolved and remembered in a state file next to the data.
package config
