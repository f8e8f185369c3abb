// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package streamselect

import (
	"context"
	"strings"

	"golang.org/x/text/language"
)

// LanguageCodes expands a language code to every equivalent code a media
// file may carry (ISO 639-1, 639-2/T and 639-2/B).
type LanguageCodes interface {
	AllCodes(ctx context.Context, code string) []string
}

// bibliographic maps ISO 639-2/B codes to their terminology form. Only the
// twenty codes where the two differ are listed.
var bibliographic = map[string]string{
	"alb": "sqi", "arm": "hye", "baq": "eus", "bur": "mya", "chi": "zho",
	"cze": "ces", "dut": "nld", "fre": "fra", "geo": "kat", "ger": "deu",
	"gre": "ell", "ice": "isl", "mac": "mkd", "mao": "mri", "may": "msa",
	"per": "fas", "rum": "ron", "slo": "slk", "tib": "bod", "wel": "cym",
}

var terminology = func() map[string]string {
	m := make(map[string]string, len(bibliographic))
	for b, t := range bibliographic {
		m[t] = b
	}
	return m
}()

// ISOLanguageCodes is the default LanguageCodes backed by x/text.
type ISOLanguageCodes struct{}

// AllCodes returns code itself first, followed by its equivalents. Unknown
// codes expand to themselves only.
func (ISOLanguageCodes) AllCodes(_ context.Context, code string) []string {
	code = strings.ToLower(strings.TrimSpace(code))
	if code == "" {
		return nil
	}

	out := []string{code}
	seen := map[string]struct{}{code: {}}
	add := func(c string) {
		if c == "" {
			return
		}
		c = strings.ToLower(c)
		if _, ok := seen[c]; ok {
			return
		}
		seen[c] = struct{}{}
		out = append(out, c)
	}

	lookup := code
	if t, ok := bibliographic[code]; ok {
		lookup = t
	}

	base, err := language.ParseBase(lookup)
	if err != nil {
		return out
	}
	add(base.String())
	iso3 := base.ISO3()
	add(iso3)
	if b, ok := terminology[iso3]; ok {
		add(b)
	}
	return out
}

func matchesAnyCode(lang string, codes []string) bool {
	for _, c := range codes {
		if strings.EqualFold(lang, c) {
			return true
		}
	}
	return false
}
