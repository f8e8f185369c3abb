// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package streamselect

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/ManuGH/chanstream/internal/domain/media"
	"github.com/ManuGH/chanstream/internal/log"
)

const undeterminedLanguage = "und"

// Policy is a user supplied, ordered list of selection rules.
type Policy struct {
	Items []PolicyItem `yaml:"items"`
}

// PolicyItem is one selection rule. Languages accept "*" and shell globs; an
// empty language list matches every stream.
type PolicyItem struct {
	AudioLanguage          []string `yaml:"audio_language"`
	AudioTitleAllowlist    []string `yaml:"audio_title_allowlist"`
	AudioTitleBlocklist    []string `yaml:"audio_title_blocklist"`
	SubtitleLanguage       []string `yaml:"subtitle_language"`
	SubtitleTitleAllowlist []string `yaml:"subtitle_title_allowlist"`
	SubtitleTitleBlocklist []string `yaml:"subtitle_title_blocklist"`
	DisableSubtitles       bool     `yaml:"disable_subtitles"`
}

// Selection is the outcome of stream selection. Nil Audio means every audio
// stream is used; nil Subtitle means nothing is burned in.
type Selection struct {
	Video    media.MediaStream
	Audio    *media.MediaStream
	Subtitle *media.Subtitle
}

// ParsePolicy decodes a policy document, rejecting unknown keys.
func ParsePolicy(data []byte) (Policy, error) {
	var p Policy
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&p); err != nil {
		return Policy{}, fmt.Errorf("parse stream selector policy: %w", err)
	}
	return p, nil
}

// LoadPolicy reads and parses a policy document from disk.
func LoadPolicy(file string) (Policy, error) {
	// #nosec G304 -- policy files live in the operator controlled selector directory
	data, err := os.ReadFile(file)
	if err != nil {
		return Policy{}, fmt.Errorf("read stream selector policy: %w", err)
	}
	return ParsePolicy(data)
}

// Select evaluates the policy items in order. The first item with at least
// one audio candidate wins, provided its subtitle clause is satisfied.
func (p Policy) Select(mode media.StreamingMode, audio []media.MediaStream, subtitles []media.Subtitle) (Selection, bool) {
	for _, item := range p.Items {
		audioCandidates := item.audioCandidates(audio)
		if len(audioCandidates) == 0 {
			continue
		}

		sel := Selection{Audio: &audioCandidates[0]}
		if item.DisableSubtitles {
			return sel, true
		}

		subCandidates := item.subtitleCandidates(mode, subtitles)
		if len(subCandidates) == 0 {
			if item.requiresSubtitle() {
				continue
			}
			return sel, true
		}
		sel.Subtitle = &subCandidates[0]
		return sel, true
	}
	return Selection{}, false
}

// requiresSubtitle reports whether the item constrains subtitles, in which
// case it only applies when a subtitle passes those constraints.
func (item PolicyItem) requiresSubtitle() bool {
	return len(item.SubtitleLanguage) > 0 || len(item.SubtitleTitleAllowlist) > 0
}

func (item PolicyItem) audioCandidates(audio []media.MediaStream) []media.MediaStream {
	type ranked struct {
		stream   media.MediaStream
		priority int
	}
	var out []ranked
	for _, a := range audio {
		priority, ok := languagePriority(item.AudioLanguage, a.Language)
		if !ok {
			continue
		}
		if !titleAllowed(a.Title, item.AudioTitleAllowlist, item.AudioTitleBlocklist) {
			continue
		}
		out = append(out, ranked{stream: a, priority: priority})
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].priority < out[j].priority })

	streams := make([]media.MediaStream, len(out))
	for i, r := range out {
		streams[i] = r.stream
	}
	return streams
}

func (item PolicyItem) subtitleCandidates(mode media.StreamingMode, subtitles []media.Subtitle) []media.Subtitle {
	type ranked struct {
		sub      media.Subtitle
		priority int
	}
	var out []ranked
	for _, s := range subtitles {
		// embedded text subtitles are only usable once extracted
		if mode != media.StreamingModeHLSDirect && s.Kind == media.SubtitleKindEmbedded && !IsImageSubtitle(s) && !s.IsExtracted {
			continue
		}
		priority, ok := languagePriority(item.SubtitleLanguage, s.Language)
		if !ok {
			continue
		}
		if !titleAllowed(s.Title, item.SubtitleTitleAllowlist, item.SubtitleTitleBlocklist) {
			continue
		}
		out = append(out, ranked{sub: s, priority: priority})
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].priority < out[j].priority })

	subs := make([]media.Subtitle, len(out))
	for i, r := range out {
		subs[i] = r.sub
	}
	return subs
}

// languagePriority returns the index of the first pattern matching lang. No
// patterns at all match any language.
func languagePriority(patterns []string, lang string) (int, bool) {
	if len(patterns) == 0 {
		return 0, true
	}
	lang = strings.ToLower(strings.TrimSpace(lang))
	if lang == "" {
		lang = undeterminedLanguage
	}
	for i, p := range patterns {
		p = strings.ToLower(strings.TrimSpace(p))
		if p == "*" || p == lang {
			return i, true
		}
		if ok, err := path.Match(p, lang); err == nil && ok {
			return i, true
		}
	}
	return 0, false
}

func titleAllowed(title string, allow, block []string) bool {
	title = strings.ToLower(title)
	for _, b := range block {
		if b != "" && strings.Contains(title, strings.ToLower(b)) {
			return false
		}
	}
	if len(allow) == 0 {
		return true
	}
	for _, a := range allow {
		if strings.Contains(title, strings.ToLower(a)) {
			return true
		}
	}
	return false
}

// Resolver combines the per-channel policy documents with the default selector.
type Resolver struct {
	selector  *Selector
	policyDir string
}

// NewResolver returns a Resolver that reads policy documents from policyDir.
func NewResolver(selector *Selector, policyDir string) *Resolver {
	return &Resolver{selector: selector, policyDir: policyDir}
}

// Resolve selects the video, audio and subtitle streams for a playback request.
func (r *Resolver) Resolve(ctx context.Context, ch media.Channel, version media.Version, subtitles []media.Subtitle) (Selection, error) {
	video, err := r.selector.SelectVideoStream(version)
	if err != nil {
		return Selection{}, err
	}

	if ch.StreamSelector != "" {
		if sel, ok := r.fromPolicy(ctx, ch, version, subtitles); ok {
			sel.Video = video
			return sel, nil
		}
	}

	sel := Selection{Video: video}
	if a, ok := r.selector.SelectAudioStream(ctx, ch, version); ok {
		sel.Audio = &a
	}
	if s, ok := r.selector.SelectSubtitle(ctx, ch, subtitles); ok {
		sel.Subtitle = &s
	}
	return sel, nil
}

func (r *Resolver) fromPolicy(ctx context.Context, ch media.Channel, version media.Version, subtitles []media.Subtitle) (Selection, bool) {
	logger := log.WithComponentFromContext(ctx, "streamselect")

	file := ch.StreamSelector
	if !filepath.IsAbs(file) {
		file = filepath.Join(r.policyDir, filepath.Clean("/"+file))
	}

	policy, err := LoadPolicy(file)
	if err != nil {
		ev := logger.Warn()
		if errors.Is(err, os.ErrNotExist) {
			ev = logger.Info()
		}
		ev.Err(err).Str(log.FieldPath, file).Msg("stream selector policy unavailable; using default selection")
		return Selection{}, false
	}

	sel, ok := policy.Select(ch.StreamingMode, version.StreamsOfKind(media.StreamKindAudio), subtitles)
	if !ok {
		logger.Debug().Str(log.FieldPath, file).Msg("no stream selector policy item matched; using default selection")
	}
	return sel, ok
}
