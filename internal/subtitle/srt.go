package subtitle

import (
	"fmt"
	"math"
	"strings"
)

// FormatSRT renders lines as SubRip. With translated set, the translation is
// placed under the original text when present.
func FormatSRT(lines []Line, translated bool) string {
	var b strings.Builder
	for i, l := range lines {
		fmt.Fprintf(&b, "%d\n%s --> %s\n%s\n\n", i+1, timestamp(l.Start, ","), timestamp(l.End, ","), cueText(l, translated))
	}
	return b.String()
}

// FormatVTT renders lines as WebVTT.
func FormatVTT(lines []Line, translated bool) string {
	var b strings.Builder
	b.WriteString("WEBVTT\n\n")
	for _, l := range lines {
		fmt.Fprintf(&b, "%s --> %s\n%s\n\n", timestamp(l.Start, "."), timestamp(l.End, "."), cueText(l, translated))
	}
	return b.String()
}

func cueText(l Line, translated bool) string {
	if translated && l.Translation != "" {
		return l.Text + "\n" + l.Translation
	}
	return l.Text
}

func timestamp(seconds float64, sep string) string {
	if seconds < 0 {
		seconds = 0
	}
	ms := int64(math.Round(seconds * 1000))
	h := ms / 3_600_000
	m := ms % 3_600_000 / 60_000
	s := ms % 60_000 / 1000
	return fmt.Sprintf("%02d:%02d:%02d%s%03d", h, m, s, sep, ms%1000)
}
