// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package streamselect picks the video, audio and subtitle streams that a
// channel plays from a media item.
package streamselect

import (
	"context"
	"errors"
	"sort"
	"strings"

	"github.com/ManuGH/chanstream/internal/domain/media"
	"github.com/ManuGH/chanstream/internal/log"
)

// ErrNoVideoStream is returned when a media version carries no usable video stream.
var ErrNoVideoStream = errors.New("no video stream")

const fallbackAudioLanguage = "eng"

var imageSubtitleCodecs = map[string]struct{}{
	"hdmv_pgs_subtitle": {},
	"pgssub":            {},
	"dvd_subtitle":      {},
	"dvdsub":            {},
	"dvb_subtitle":      {},
	"vobsub":            {},
	"xsub":              {},
}

// IsImageSubtitle reports whether the subtitle is bitmap based.
func IsImageSubtitle(s media.Subtitle) bool {
	if s.IsImage {
		return true
	}
	_, ok := imageSubtitleCodecs[strings.ToLower(s.Codec)]
	return ok
}

// Selector implements the default, preference driven stream selection.
type Selector struct {
	languages       LanguageCodes
	defaultLanguage string
}

// New returns a Selector. defaultAudioLanguage is used when a channel has no
// preferred audio language; empty means "eng".
func New(languages LanguageCodes, defaultAudioLanguage string) *Selector {
	if languages == nil {
		languages = ISOLanguageCodes{}
	}
	return &Selector{
		languages:       languages,
		defaultLanguage: strings.ToLower(strings.TrimSpace(defaultAudioLanguage)),
	}
}

// SelectVideoStream returns the first video stream that is not an attached picture.
func (s *Selector) SelectVideoStream(version media.Version) (media.MediaStream, error) {
	for _, stream := range version.Streams {
		if stream.Kind == media.StreamKindVideo && !stream.AttachedPic {
			return stream, nil
		}
	}
	return media.MediaStream{}, ErrNoVideoStream
}

// SelectAudioStream picks one audio stream. It returns false when every
// audio stream should be passed through, or when the version has no audio.
func (s *Selector) SelectAudioStream(ctx context.Context, ch media.Channel, version media.Version) (media.MediaStream, bool) {
	logger := log.WithComponentFromContext(ctx, "streamselect")

	if ch.StreamingMode == media.StreamingModeHLSDirect && strings.TrimSpace(ch.PreferredAudioLanguage) == "" {
		logger.Debug().Str(log.FieldChannel, ch.Number).Msg("hls direct without preferred audio language; using all audio streams")
		return media.MediaStream{}, false
	}

	audio := version.StreamsOfKind(media.StreamKindAudio)
	if len(audio) == 0 {
		return media.MediaStream{}, false
	}

	lang := strings.ToLower(strings.TrimSpace(ch.PreferredAudioLanguage))
	if lang == "" {
		lang = s.defaultLanguage
		if lang == "" {
			lang = fallbackAudioLanguage
		}
		logger.Debug().Str(log.FieldChannel, ch.Number).Str(log.FieldLanguage, lang).Msg("channel has no preferred audio language")
	}

	codes := s.languages.AllCodes(ctx, lang)
	var matching []media.MediaStream
	for _, a := range audio {
		if matchesAnyCode(a.Language, codes) {
			matching = append(matching, a)
		}
	}

	if len(matching) > 0 {
		logger.Debug().
			Int("count", len(matching)).
			Strs("codes", codes).
			Msg("found audio streams with preferred language; selecting most channels")
		return mostChannels(matching), true
	}

	logger.Debug().Strs("codes", codes).Msg("no audio stream with preferred language; selecting most channels")
	return mostChannels(audio), true
}

// SelectSubtitle picks the subtitle to burn in, if any.
func (s *Selector) SelectSubtitle(ctx context.Context, ch media.Channel, subtitles []media.Subtitle) (media.Subtitle, bool) {
	logger := log.WithComponentFromContext(ctx, "streamselect")

	if ch.SubtitleMode == "" || ch.SubtitleMode == media.SubtitleModeNone {
		return media.Subtitle{}, false
	}

	lang := strings.ToLower(strings.TrimSpace(ch.PreferredSubtitleLanguage))
	if ch.StreamingMode == media.StreamingModeHLSDirect && lang == "" {
		return media.Subtitle{}, false
	}

	var candidates []media.Subtitle
	for _, sub := range subtitles {
		if IsImageSubtitle(sub) {
			candidates = append(candidates, sub)
		}
	}

	if lang != "" {
		codes := s.languages.AllCodes(ctx, lang)
		filtered := candidates[:0:0]
		for _, sub := range candidates {
			if matchesAnyCode(sub.Language, codes) {
				filtered = append(filtered, sub)
			}
		}
		candidates = filtered
	}

	sort.SliceStable(candidates, func(i, j int) bool {
		return candidates[i].StreamIndex < candidates[j].StreamIndex
	})

	for _, sub := range candidates {
		switch ch.SubtitleMode {
		case media.SubtitleModeForced:
			if sub.Forced {
				return sub, true
			}
		case media.SubtitleModeDefault:
			if sub.Default {
				return sub, true
			}
		case media.SubtitleModeAny:
			return sub, true
		}
	}

	logger.Debug().
		Str(log.FieldChannel, ch.Number).
		Str("mode", string(ch.SubtitleMode)).
		Str(log.FieldLanguage, lang).
		Msg("found no matching subtitles")
	return media.Subtitle{}, false
}

func mostChannels(streams []media.MediaStream) media.MediaStream {
	best := streams[0]
	for _, s := range streams[1:] {
		if s.Channels > best.Channels {
			best = s
		}
	}
	return best
}
