// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package streamselect

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ManuGH/chanstream/internal/domain/media"
)

func audioStream(index int, lang string, channels int) media.MediaStream {
	return media.MediaStream{Index: index, Kind: media.StreamKindAudio, Codec: "aac", Language: lang, Channels: channels}
}

func TestISOLanguageCodes_AllCodes(t *testing.T) {
	codes := ISOLanguageCodes{}
	ctx := context.Background()

	assert.Equal(t, []string{"eng", "en"}, codes.AllCodes(ctx, "eng"))
	assert.Equal(t, []string{"en", "eng"}, codes.AllCodes(ctx, "EN"))
	assert.ElementsMatch(t, []string{"ger", "de", "deu"}, codes.AllCodes(ctx, "ger"))
	assert.ElementsMatch(t, []string{"fra", "fr", "fre"}, codes.AllCodes(ctx, "fra"))
	assert.Equal(t, []string{"xx-nope"}, codes.AllCodes(ctx, "xx-nope"))
	assert.Nil(t, codes.AllCodes(ctx, " "))
}

func TestSelectVideoStream_SkipsAttachedPicture(t *testing.T) {
	s := New(nil, "")
	version := media.Version{Streams: []media.MediaStream{
		{Index: 0, Kind: media.StreamKindVideo, Codec: "mjpeg", AttachedPic: true},
		{Index: 1, Kind: media.StreamKindVideo, Codec: "h264"},
	}}

	got, err := s.SelectVideoStream(version)
	require.NoError(t, err)
	assert.Equal(t, 1, got.Index)

	_, err = s.SelectVideoStream(media.Version{})
	assert.ErrorIs(t, err, ErrNoVideoStream)
}

func TestSelectAudioStream(t *testing.T) {
	version := media.Version{Streams: []media.MediaStream{
		{Index: 0, Kind: media.StreamKindVideo},
		audioStream(1, "eng", 2),
		audioStream(2, "en", 6),
		audioStream(3, "jpn", 8),
		audioStream(4, "ger", 2),
	}}

	tests := []struct {
		name      string
		channel   media.Channel
		def       string
		wantIndex int
		wantOK    bool
	}{
		{
			name:    "hls direct without preference uses all streams",
			channel: media.Channel{StreamingMode: media.StreamingModeHLSDirect},
		},
		{
			name:      "hls direct with preference selects",
			channel:   media.Channel{StreamingMode: media.StreamingModeHLSDirect, PreferredAudioLanguage: "jpn"},
			wantIndex: 3, wantOK: true,
		},
		{
			name:      "preferred language matches equivalent codes and picks most channels",
			channel:   media.Channel{StreamingMode: media.StreamingModeTransportStream, PreferredAudioLanguage: "eng"},
			wantIndex: 2, wantOK: true,
		},
		{
			name:      "bibliographic code matches terminology stream",
			channel:   media.Channel{StreamingMode: media.StreamingModeHLSSegmenter, PreferredAudioLanguage: "deu"},
			wantIndex: 4, wantOK: true,
		},
		{
			name:      "configured default language applies",
			channel:   media.Channel{StreamingMode: media.StreamingModeTransportStream},
			def:       "ger",
			wantIndex: 4, wantOK: true,
		},
		{
			name:      "falls back to eng",
			channel:   media.Channel{StreamingMode: media.StreamingModeTransportStream},
			wantIndex: 2, wantOK: true,
		},
		{
			name:      "no match picks overall most channels",
			channel:   media.Channel{StreamingMode: media.StreamingModeTransportStream, PreferredAudioLanguage: "spa"},
			wantIndex: 3, wantOK: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := New(ISOLanguageCodes{}, tt.def)
			got, ok := s.SelectAudioStream(context.Background(), tt.channel, version)
			require.Equal(t, tt.wantOK, ok)
			if ok {
				assert.Equal(t, tt.wantIndex, got.Index)
			}
		})
	}
}

func TestSelectAudioStream_NoAudio(t *testing.T) {
	s := New(nil, "")
	_, ok := s.SelectAudioStream(context.Background(), media.Channel{StreamingMode: media.StreamingModeTransportStream}, media.Version{})
	assert.False(t, ok)
}

func TestSelectAudioStream_TieKeepsFirst(t *testing.T) {
	s := New(nil, "")
	version := media.Version{Streams: []media.MediaStream{audioStream(1, "eng", 2), audioStream(2, "eng", 2)}}
	got, ok := s.SelectAudioStream(context.Background(), media.Channel{PreferredAudioLanguage: "eng"}, version)
	require.True(t, ok)
	assert.Equal(t, 1, got.Index)
}

func TestSelectSubtitle(t *testing.T) {
	subs := []media.Subtitle{
		{StreamIndex: 5, Codec: "subrip", Language: "eng", Default: true, Forced: true},
		{StreamIndex: 4, Codec: "hdmv_pgs_subtitle", Language: "eng", Default: true},
		{StreamIndex: 3, Codec: "dvd_subtitle", Language: "en", Forced: true},
		{StreamIndex: 2, Codec: "hdmv_pgs_subtitle", Language: "fre"},
	}

	tests := []struct {
		name      string
		channel   media.Channel
		wantIndex int
		wantOK    bool
	}{
		{"disabled", media.Channel{SubtitleMode: media.SubtitleModeNone}, 0, false},
		{"unset mode", media.Channel{}, 0, false},
		{"hls direct without language", media.Channel{StreamingMode: media.StreamingModeHLSDirect, SubtitleMode: media.SubtitleModeAny}, 0, false},
		{"forced", media.Channel{SubtitleMode: media.SubtitleModeForced, PreferredSubtitleLanguage: "eng"}, 3, true},
		{"default", media.Channel{SubtitleMode: media.SubtitleModeDefault, PreferredSubtitleLanguage: "eng"}, 4, true},
		{"any lowest index", media.Channel{SubtitleMode: media.SubtitleModeAny}, 2, true},
		{"any with language", media.Channel{SubtitleMode: media.SubtitleModeAny, PreferredSubtitleLanguage: "fra"}, 2, true},
		{"no forced french", media.Channel{SubtitleMode: media.SubtitleModeForced, PreferredSubtitleLanguage: "fre"}, 0, false},
	}

	s := New(nil, "")
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := s.SelectSubtitle(context.Background(), tt.channel, subs)
			require.Equal(t, tt.wantOK, ok)
			if ok {
				assert.Equal(t, tt.wantIndex, got.StreamIndex)
			}
		})
	}
}
