package subtitle

import (
	"math"
	"strings"
	"unicode"
)

// Align assigns times to lines split from one recognizer segment.
//
// Words are consumed in order until their whitespace-stripped text is at least
// as long as the line's. A line starts at its first word (never before the
// previous line's end) and ends at its last word. When words are missing or
// run out before the last line, the segment is divided evenly instead. Words
// left over after the last line extend its end. A line that would end at or
// before its start gets epsilon seconds.
func Align(lines []string, words []Word, segStart, segEnd, epsilon float64) []Line {
	if len(lines) == 0 {
		return nil
	}
	if segEnd < segStart {
		segEnd = segStart
	}

	out, ok := alignWords(lines, words)
	if !ok {
		out = alignProportional(lines, segStart, segEnd)
	}
	return fixDegenerate(out, epsilon)
}

func alignWords(lines []string, words []Word) ([]Line, bool) {
	if len(words) == 0 {
		return nil, false
	}

	out := make([]Line, 0, len(lines))
	idx := 0
	prevEnd := 0.0
	for i, text := range lines {
		target := strippedLen(text)
		first := idx
		consumed := 0
		for idx < len(words) && (consumed < target || idx == first) {
			consumed += strippedLen(words[idx].Text)
			idx++
		}
		if idx == first {
			return nil, false
		}

		start := words[first].Start
		if i > 0 && start < prevEnd {
			start = prevEnd
		}
		end := words[idx-1].End
		line := Line{Start: round2(start), End: round2(end), Text: text}
		out = append(out, line)
		prevEnd = math.Max(line.Start, line.End)
	}

	if idx < len(words) {
		last := &out[len(out)-1]
		if tail := round2(words[len(words)-1].End); tail > last.End {
			last.End = tail
		}
	}
	return out, true
}

func alignProportional(lines []string, segStart, segEnd float64) []Line {
	step := (segEnd - segStart) / float64(len(lines))
	out := make([]Line, len(lines))
	for i, text := range lines {
		out[i] = Line{
			Start: round2(segStart + float64(i)*step),
			End:   round2(segStart + float64(i+1)*step),
			Text:  text,
		}
	}
	return out
}

func fixDegenerate(lines []Line, epsilon float64) []Line {
	if epsilon <= 0 {
		epsilon = 0.01
	}
	for i := range lines {
		if lines[i].End <= lines[i].Start {
			lines[i].End = bumpEnd(lines[i].Start, epsilon)
		}
	}
	return lines
}

// bumpEnd returns start+epsilon at centisecond precision, unless rounding
// would swallow an epsilon below 0.01.
func bumpEnd(start, epsilon float64) float64 {
	if end := round2(start + epsilon); end > start {
		return end
	}
	return start + epsilon
}

func strippedLen(s string) int {
	n := 0
	for _, r := range s {
		if !unicode.IsSpace(r) {
			n++
		}
	}
	return n
}

// joinText concatenates line texts, inserting a space only between
// space-delimited fragments.
func joinText(parts []string) string {
	var b strings.Builder
	for _, p := range parts {
		if b.Len() > 0 && needsSpace(b.String(), p) {
			b.WriteByte(' ')
		}
		b.WriteString(p)
	}
	return b.String()
}

func needsSpace(left, right string) bool {
	l := []rune(left)
	r := []rune(right)
	if len(l) == 0 || len(r) == 0 {
		return false
	}
	return !isUnspacedRune(l[len(l)-1]) && !isUnspacedRune(r[0]) && !isFullWidthPunct(l[len(l)-1])
}

func isFullWidthPunct(r rune) bool {
	return r >= 0x3000 && r <= 0x303F || r >= 0xFF00 && r <= 0xFFEF
}
