// SPDX-License-Identifier: MIT

package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

func TestResolveBinaries_ConfiguredPaths(t *testing.T) {
	bin := fakeBinaries(t)
	cfg := Config{
		FFmpeg: FFmpegConfig{Bin: filepath.Join(bin, "ffmpeg"), FFprobeBin: filepath.Join(bin, "ffprobe")},
		Paths:  PathsConfig{Data: t.TempDir()},
	}

	require.NoError(t, ResolveBinaries(&cfg))
	assert.Equal(t, filepath.Join(bin, "ffmpeg"), cfg.FFmpeg.Bin)
	assert.Equal(t, filepath.Join(bin, "ffprobe"), cfg.FFmpeg.FFprobeBin)

	data, err := os.ReadFile(filepath.Join(cfg.Paths.Data, BinaryStateFile))
	require.NoError(t, err)
	var state binaryState
	require.NoError(t, yaml.Unmarshal(data, &state))
	assert.Equal(t, binaryState{FFmpeg: cfg.FFmpeg.Bin, FFprobe: cfg.FFmpeg.FFprobeBin}, state)
}

func TestResolveBinaries_DerivesFFprobeFromFFmpeg(t *testing.T) {
	bin := fakeBinaries(t)
	cfg := Config{
		FFmpeg: FFmpegConfig{Bin: filepath.Join(bin, "ffmpeg")},
		Paths:  PathsConfig{Data: t.TempDir()},
	}
	t.Setenv("PATH", t.TempDir())

	require.NoError(t, ResolveBinaries(&cfg))
	assert.Equal(t, filepath.Join(bin, "ffprobe"), cfg.FFmpeg.FFprobeBin)
}

func TestResolveBinaries_SearchesPath(t *testing.T) {
	bin := fakeBinaries(t)
	t.Setenv("PATH", bin)
	cfg := Config{
		FFmpeg: FFmpegConfig{Bin: "ffmpeg", FFprobeBin: "/does/not/exist/ffprobe"},
		Paths:  PathsConfig{Data: t.TempDir()},
	}

	require.NoError(t, ResolveBinaries(&cfg))
	assert.Equal(t, filepath.Join(bin, "ffmpeg"), cfg.FFmpeg.Bin)
	assert.Equal(t, filepath.Join(bin, "ffprobe"), cfg.FFmpeg.FFprobeBin)
}

func TestResolveBinaries_RemembersLastResolution(t *testing.T) {
	bin := fakeBinaries(t)
	data := t.TempDir()
	state, err := yaml.Marshal(binaryState{FFmpeg: filepath.Join(bin, "ffmpeg"), FFprobe: filepath.Join(bin, "ffprobe")})
	require.NoError(t, err)
	writeFile(t, filepath.Join(data, BinaryStateFile), string(state))
	t.Setenv("PATH", t.TempDir())

	cfg := Config{FFmpeg: FFmpegConfig{Bin: "/moved/ffmpeg"}, Paths: PathsConfig{Data: data}}
	require.NoError(t, ResolveBinaries(&cfg))
	assert.Equal(t, filepath.Join(bin, "ffmpeg"), cfg.FFmpeg.Bin)
}

func TestResolveBinaries_NotFound(t *testing.T) {
	t.Setenv("PATH", t.TempDir())
	cfg := Config{FFmpeg: FFmpegConfig{Bin: "ffmpeg"}, Paths: PathsConfig{Data: t.TempDir()}}

	err := ResolveBinaries(&cfg)
	assert.ErrorIs(t, err, ErrBinaryNotFound)
}

func TestSiblingFFprobe(t *testing.T) {
	bin := fakeBinaries(t)
	assert.Equal(t, filepath.Join(bin, "ffprobe"), siblingFFprobe(filepath.Join(bin, "ffmpeg")))
	assert.Empty(t, siblingFFprobe(filepath.Join(bin, "ffmpeg6")))
	assert.Empty(t, siblingFFprobe(filepath.Join(t.TempDir(), "ffmpeg")))
}
