package translate

import (
	"encoding/json"
	"fmt"
	"strings"
)

const systemPrompt = "You are a professional subtitle translator. Reply with a single JSON object and nothing else."

const correctionSystemPrompt = "You are a careful subtitle proofreader. Reply with a single JSON object and nothing else."

func summaryPrompt(text, src, tgt string, maxTerms int) string {
	return fmt.Sprintf(`Summarize this %s video transcript in two sentences and extract at most %d key terms or names with their %s translation.

<text>
%s
</text>

Return JSON: {"theme": "two-sentence summary", "terms": [{"src": "term", "tgt": "translation", "note": "short explanation"}]}`,
		src, maxTerms, tgt, text)
}

// sharedContext renders the summary and neighbouring lines common to both passes.
func sharedContext(before, after []string, sum Summary) string {
	var b strings.Builder
	if len(before) > 0 {
		b.WriteString("Previous lines:\n")
		b.WriteString(strings.Join(before, "\n"))
		b.WriteString("\n\n")
	}
	if len(after) > 0 {
		b.WriteString("Following lines:\n")
		b.WriteString(strings.Join(after, "\n"))
		b.WriteString("\n\n")
	}
	if sum.Theme != "" {
		b.WriteString("Topic: ")
		b.WriteString(sum.Theme)
		b.WriteString("\n\n")
	}
	if len(sum.Terms) > 0 {
		b.WriteString("Terms:\n")
		for _, t := range sum.Terms {
			fmt.Fprintf(&b, "- %s: %s", t.Src, t.Tgt)
			if t.Note != "" {
				fmt.Fprintf(&b, " (%s)", t.Note)
			}
			b.WriteString("\n")
		}
		b.WriteString("\n")
	}
	return b.String()
}

func faithfulPrompt(texts []string, shared, src, tgt string) string {
	format := indexedJSON(len(texts), func(i int) any {
		return map[string]string{"origin": texts[i], "direct": fmt.Sprintf("direct %s translation %d", tgt, i)}
	})
	return fmt.Sprintf(`Translate each %s subtitle line into %s, faithfully and line by line. Keep the meaning; do not add or omit content.

%s<subtitles>
%s
</subtitles>

Return JSON with exactly one entry per line:
%s`, src, tgt, shared, strings.Join(texts, "\n"), format)
}

func expressivePrompt(texts []string, direct map[int]string, shared, src, tgt string) string {
	format := indexedJSON(len(texts), func(i int) any {
		return map[string]string{
			"origin":  texts[i],
			"direct":  direct[i],
			"reflect": "your reflection on the direct translation",
			"free":    "your natural " + tgt + " translation",
		}
	})
	return fmt.Sprintf(`Improve these direct %s translations of %s subtitles so they read naturally. Keep them concise, one line per input line, no comments.

%s<subtitles>
%s
</subtitles>

Return JSON with exactly one entry per line:
%s`, tgt, src, shared, strings.Join(texts, "\n"), format)
}

func correctionPrompt(texts []string, src string) string {
	format := indexedJSON(len(texts), func(i int) any {
		return map[string]string{"original": texts[i], "corrected": texts[i]}
	})
	return fmt.Sprintf(`Fix typos, homophones and obvious transcription errors in these %s subtitle lines.
Keep each line about the same length, never split or merge lines, and return correct lines unchanged.

Return JSON with exactly one entry per line:
%s`, src, format)
}

// indexedJSON renders {"0": v0, "1": v1, ...} with keys in numeric order.
func indexedJSON(n int, value func(i int) any) string {
	var b strings.Builder
	b.WriteString("{\n")
	for i := 0; i < n; i++ {
		encoded, _ := json.Marshal(value(i))
		fmt.Fprintf(&b, "  %q: %s", fmt.Sprint(i), encoded)
		if i < n-1 {
			b.WriteString(",")
		}
		b.WriteString("\n")
	}
	b.WriteString("}")
	return b.String()
}
