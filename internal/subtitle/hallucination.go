package subtitle

import (
	"strings"
	"unicode"

	"golang.org/x/text/cases"

	"github.com/lingosub/internal/config"
)

// HallucinationFilter rejects stock phrases that recognizers emit over silence
// or music. It is a precision-first heuristic; the phrase lists and duration
// gates come from config and are expected to be tuned per deployment.
type HallucinationFilter struct {
	cfg       config.HallucinationConfig
	phrases   map[string]bool
	fragments []string
}

// NewHallucinationFilter normalizes the configured phrase lists once.
func NewHallucinationFilter(cfg config.HallucinationConfig) *HallucinationFilter {
	f := &HallucinationFilter{
		cfg:     cfg,
		phrases: make(map[string]bool, len(cfg.Phrases)),
	}
	for _, p := range cfg.Phrases {
		if n := f.normalize(p); n != "" {
			f.phrases[n] = true
		}
	}
	for _, p := range cfg.Fragments {
		if n := f.normalize(p); n != "" {
			f.fragments = append(f.fragments, n)
		}
	}
	return f
}

// IsHallucination reports whether a segment with this text and duration
// (seconds) should be dropped.
func (f *HallucinationFilter) IsHallucination(text string, duration float64) bool {
	norm := f.normalize(text)
	if norm == "" {
		return false
	}

	if f.phrases[norm] && duration > f.cfg.PhraseMinDuration {
		return true
	}

	if duration > f.cfg.FragmentMinDuration && runeLen(norm) < f.cfg.FragmentMaxLength {
		for _, frag := range f.fragments {
			if strings.Contains(norm, frag) {
				return true
			}
		}
	}
	return false
}

// normalize drops punctuation and symbols, case-folds and collapses whitespace.
func (f *HallucinationFilter) normalize(s string) string {
	stripped := strings.Map(func(r rune) rune {
		if unicode.IsPunct(r) || unicode.IsSymbol(r) {
			return -1
		}
		return r
	}, s)
	return strings.Join(strings.Fields(cases.Fold().String(stripped)), " ")
}
