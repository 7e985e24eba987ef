package subtitle

import (
	"strings"

	"github.com/lingosub/internal/config"
)

// MergeFragments joins the short fragments some engines emit into
// sentence-sized segments. A segment always closes after major or minor
// punctuation; otherwise the next fragment is merged when the accumulated
// text is shorter than a tier's MaxRunes and the silence between them is
// below that tier's MaxGap. Word timings are carried over.
func MergeFragments(fragments []Segment, cfg config.MergeConfig) []Segment {
	var out []Segment
	var cur *Segment
	var parts []string

	closeCur := func() {
		if cur == nil {
			return
		}
		cur.Text = joinText(parts)
		out = append(out, *cur)
		cur = nil
		parts = nil
	}

	for _, frag := range fragments {
		text := strings.TrimSpace(frag.Text)
		if text == "" {
			continue
		}
		if cur != nil && !canMerge(joinText(parts), frag.Start-cur.End, cfg) {
			closeCur()
		}
		if cur == nil {
			seg := Segment{Start: frag.Start, End: frag.End}
			cur = &seg
		}
		parts = append(parts, text)
		cur.End = frag.End
		cur.Words = append(cur.Words, frag.Words...)
	}
	closeCur()
	return out
}

func canMerge(text string, gap float64, cfg config.MergeConfig) bool {
	runes := []rune(text)
	if len(runes) == 0 {
		return true
	}
	if last := runes[len(runes)-1]; isMajorTerminator(last) || isMinorPunct(last) {
		return false
	}
	for _, tier := range cfg.Tiers {
		if len(runes) < tier.MaxRunes {
			return gap < tier.MaxGap
		}
	}
	return false
}
