// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package streamselect

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ManuGH/chanstream/internal/domain/media"
)

const animePolicy = `
items:
  - audio_language: ["j*"]
    audio_title_blocklist: ["commentary"]
    subtitle_language: ["en*"]
    subtitle_title_blocklist: ["signs"]
  - audio_language: ["en*", "*"]
    disable_subtitles: true
`

func TestParsePolicy_RejectsUnknownFields(t *testing.T) {
	_, err := ParsePolicy([]byte("items:\n  - audio_languages: [eng]\n"))
	require.Error(t, err)

	p, err := ParsePolicy([]byte(animePolicy))
	require.NoError(t, err)
	require.Len(t, p.Items, 2)
	assert.True(t, p.Items[1].DisableSubtitles)
}

func TestPolicy_Select(t *testing.T) {
	p, err := ParsePolicy([]byte(animePolicy))
	require.NoError(t, err)

	audio := []media.MediaStream{
		audioStream(1, "eng", 6),
		{Index: 2, Kind: media.StreamKindAudio, Language: "jpn", Title: "Commentary"},
		audioStream(3, "jpn", 2),
	}
	subs := []media.Subtitle{
		{StreamIndex: 4, Codec: "ass", Language: "eng", Title: "Signs & Songs", Kind: media.SubtitleKindEmbedded, IsExtracted: true},
		{StreamIndex: 5, Codec: "ass", Language: "eng", Title: "Full", Kind: media.SubtitleKindEmbedded, IsExtracted: true},
	}

	sel, ok := p.Select(media.StreamingModeHLSSegmenter, audio, subs)
	require.True(t, ok)
	require.NotNil(t, sel.Audio)
	assert.Equal(t, 3, sel.Audio.Index)
	require.NotNil(t, sel.Subtitle)
	assert.Equal(t, 5, sel.Subtitle.StreamIndex)
}

func TestPolicy_Select_FallsThroughWhenSubtitleRequired(t *testing.T) {
	p, err := ParsePolicy([]byte(animePolicy))
	require.NoError(t, err)

	audio := []media.MediaStream{audioStream(1, "", 2), audioStream(2, "jpn", 2)}
	// not extracted, so unusable outside hls direct
	subs := []media.Subtitle{{StreamIndex: 3, Codec: "subrip", Language: "eng", Kind: media.SubtitleKindEmbedded}}

	sel, ok := p.Select(media.StreamingModeTransportStream, audio, subs)
	require.True(t, ok)
	require.NotNil(t, sel.Audio)
	assert.Equal(t, 1, sel.Audio.Index, "second item matches und through the wildcard")
	assert.Nil(t, sel.Subtitle)

	sel, ok = p.Select(media.StreamingModeHLSDirect, audio, subs)
	require.True(t, ok)
	assert.Equal(t, 2, sel.Audio.Index)
	require.NotNil(t, sel.Subtitle)
	assert.Equal(t, 3, sel.Subtitle.StreamIndex)
}

func TestPolicy_Select_PriorityFollowsPatternOrder(t *testing.T) {
	p := Policy{Items: []PolicyItem{{AudioLanguage: []string{"fr?", "eng"}}}}
	audio := []media.MediaStream{audioStream(1, "eng", 2), audioStream(2, "fre", 2)}

	sel, ok := p.Select(media.StreamingModeTransportStream, audio, nil)
	require.True(t, ok)
	assert.Equal(t, 2, sel.Audio.Index)
}

func TestPolicy_Select_NoMatch(t *testing.T) {
	p := Policy{Items: []PolicyItem{{AudioLanguage: []string{"kor"}}}}
	_, ok := p.Select(media.StreamingModeTransportStream, []media.MediaStream{audioStream(1, "eng", 2)}, nil)
	assert.False(t, ok)
}

func TestPolicy_Select_EmptyLanguagesMatchAnyStream(t *testing.T) {
	p, err := ParsePolicy([]byte("items:\n  - audio_title_blocklist: [commentary]\n"))
	require.NoError(t, err)

	audio := []media.MediaStream{
		{Index: 1, Kind: media.StreamKindAudio, Language: "eng", Title: "Director Commentary"},
		audioStream(2, "", 2),
	}
	subs := []media.Subtitle{{StreamIndex: 3, Codec: "subrip", Language: "ger", Kind: media.SubtitleKindSidecar}}

	sel, ok := p.Select(media.StreamingModeHLSSegmenter, audio, subs)
	require.True(t, ok)
	require.NotNil(t, sel.Audio)
	assert.Equal(t, 2, sel.Audio.Index)
	require.NotNil(t, sel.Subtitle)
	assert.Equal(t, 3, sel.Subtitle.StreamIndex)

	sel, ok = p.Select(media.StreamingModeHLSSegmenter, audio, nil)
	require.True(t, ok)
	assert.Equal(t, 2, sel.Audio.Index)
	assert.Nil(t, sel.Subtitle)
}

func TestPolicy_Select_SubtitleAllowlistFallsThrough(t *testing.T) {
	p := Policy{Items: []PolicyItem{
		{SubtitleTitleAllowlist: []string{"full"}},
		{AudioLanguage: []string{"*"}, DisableSubtitles: true},
	}}
	audio := []media.MediaStream{audioStream(1, "eng", 2)}
	subs := []media.Subtitle{{StreamIndex: 2, Codec: "subrip", Language: "eng", Title: "Signs", Kind: media.SubtitleKindSidecar}}

	sel, ok := p.Select(media.StreamingModeHLSSegmenter, audio, subs)
	require.True(t, ok)
	assert.Equal(t, 1, sel.Audio.Index)
	assert.Nil(t, sel.Subtitle)

	subs[0].Title = "Full"
	sel, ok = p.Select(media.StreamingModeHLSSegmenter, audio, subs)
	require.True(t, ok)
	require.NotNil(t, sel.Subtitle)
	assert.Equal(t, 2, sel.Subtitle.StreamIndex)
}

func TestResolver_Resolve(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "japanese.yml"), []byte("items:\n  - audio_language: [jpn]\n"), 0o600))

	version := media.Version{Streams: []media.MediaStream{
		{Index: 0, Kind: media.StreamKindVideo, Codec: "h264"},
		audioStream(1, "eng", 6),
		audioStream(2, "jpn", 2),
	}}
	r := NewResolver(New(nil, ""), dir)

	t.Run("policy", func(t *testing.T) {
		ch := media.Channel{StreamingMode: media.StreamingModeHLSSegmenter, StreamSelector: "japanese.yml"}
		sel, err := r.Resolve(context.Background(), ch, version, nil)
		require.NoError(t, err)
		assert.Equal(t, 0, sel.Video.Index)
		require.NotNil(t, sel.Audio)
		assert.Equal(t, 2, sel.Audio.Index)
	})

	t.Run("missing policy falls back", func(t *testing.T) {
		ch := media.Channel{StreamingMode: media.StreamingModeHLSSegmenter, StreamSelector: "missing.yml"}
		sel, err := r.Resolve(context.Background(), ch, version, nil)
		require.NoError(t, err)
		require.NotNil(t, sel.Audio)
		assert.Equal(t, 1, sel.Audio.Index)
		assert.Nil(t, sel.Subtitle)
	})

	t.Run("no video", func(t *testing.T) {
		_, err := r.Resolve(context.Background(), media.Channel{}, media.Version{}, nil)
		assert.ErrorIs(t, err, ErrNoVideoStream)
	})
}
