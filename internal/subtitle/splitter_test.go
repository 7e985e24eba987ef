package subtitle

import (
	"strings"
	"testing"
	"unicode"

	"github.com/lingosub/internal/config"
)

func newTestSplitter() *Splitter {
	return NewSplitter(config.DefaultHeuristics().Split)
}

func stripSpace(s string) string {
	return strings.Map(func(r rune) rune {
		if unicode.IsSpace(r) {
			return -1
		}
		return r
	}, s)
}

func TestSplitShortTextUnchanged(t *testing.T) {
	s := newTestSplitter()
	got := s.Split("  short line  ", 25, "en")
	if len(got) != 1 || got[0] != "short line" {
		t.Fatalf("expected single trimmed line, got %q", got)
	}
}

func TestSplitEmptyText(t *testing.T) {
	if got := newTestSplitter().Split("   ", 10, "en"); len(got) != 0 {
		t.Fatalf("expected no lines for blank text, got %q", got)
	}
}

func TestSplitSentenceTerminatorsAlwaysBreak(t *testing.T) {
	got := newTestSplitter().Split("今天天气很好。我们去公园吧！", 10, "zh")
	want := []string{"今天天气很好。", "我们去公园吧！"}
	if strings.Join(got, "|") != strings.Join(want, "|") {
		t.Fatalf("expected %q, got %q", want, got)
	}
}

func TestSplitKeepsDecimalPoint(t *testing.T) {
	got := splitSentences("Version 3.5 is out. Update now!")
	want := []string{"Version 3.5 is out.", "Update now!"}
	if strings.Join(got, "|") != strings.Join(want, "|") {
		t.Fatalf("expected %q, got %q", want, got)
	}
}

func TestSplitPrefersConnectorPastHalf(t *testing.T) {
	got := newTestSplitter().Split("我觉得这个方法非常好但是我们还需要更多的时间来准备", 15, "zh")
	want := []string{"我觉得这个方法非常好", "但是我们还需要更多的时间来准备"}
	if strings.Join(got, "|") != strings.Join(want, "|") {
		t.Fatalf("expected %q, got %q", want, got)
	}
}

func TestSplitCommaNeedsIndependentClauses(t *testing.T) {
	text := "Well, I think we should probably head back home before the storm arrives tonight"

	linguistic := newTestSplitter().Split(text, 42, "en")
	if !strings.HasPrefix(linguistic[0], "Well, I think") {
		t.Fatalf("short leading phrase should not be split off, got %q", linguistic)
	}

	punctuationOnly := newTestSplitter().WithAnalyzer(nil).Split(text, 42, "en")
	if punctuationOnly[0] != "Well," {
		t.Fatalf("without clause analysis commas break, got %q", punctuationOnly)
	}
}

func TestSplitCommaBetweenIndependentClauses(t *testing.T) {
	text := "I finished the report late last night, she reviewed every page this morning"
	got := newTestSplitter().Split(text, 42, "en")
	want := []string{"I finished the report late last night,", "she reviewed every page this morning"}
	if strings.Join(got, "|") != strings.Join(want, "|") {
		t.Fatalf("expected %q, got %q", want, got)
	}
}

func TestSplitRepeatedRunAtMidpoint(t *testing.T) {
	got := newTestSplitter().Split(strings.Repeat("哈", 40), 25, "zh")
	if len(got) != 2 || got[0] != strings.Repeat("哈", 20) || got[1] != strings.Repeat("哈", 20) {
		t.Fatalf("expected two halves of 20, got %q", got)
	}

	words := strings.TrimSpace(strings.Repeat("la ", 20))
	got = newTestSplitter().Split(words, 25, "en")
	if len(got) != 4 {
		t.Fatalf("expected 4 lines, got %d: %q", len(got), got)
	}
	for _, line := range got {
		if line != "la la la la la" {
			t.Fatalf("unexpected line %q", line)
		}
	}
}

func TestSplitHardCutsLongToken(t *testing.T) {
	got := newTestSplitter().Split(strings.Repeat("x", 49)+"y", 20, "en")
	if len(got) != 3 {
		t.Fatalf("expected 3 chunks, got %q", got)
	}
	for i, want := range []int{20, 20, 10} {
		if runeLen(got[i]) != want {
			t.Fatalf("chunk %d: expected %d runes, got %d", i, want, runeLen(got[i]))
		}
	}
}

func TestSplitLengthAndReconstruction(t *testing.T) {
	texts := []string{
		"The quick brown fox jumps over the lazy dog while the farmer watches from the porch, and the children laugh at the silly animals in the yard",
		"人工智能正在改变我们的生活方式，从医疗诊断到自动驾驶，它的应用无处不在。但是我们也需要思考它带来的伦理问题，因此监管变得越来越重要！",
		"我们今天学习iPhone 15的新功能，然后讨论一下价格问题",
		"Hello? Is anyone there... I can hear you; please answer me now, because the signal is fading quickly and I'm running out of battery",
		"这是一个没有任何标点符号的非常长的句子它会一直持续下去直到超过最大长度限制为止",
		"Supercalifragilisticexpialidocious is a very long word, isn't it?",
		"ok",
		"嗯嗯嗯嗯嗯嗯嗯嗯嗯嗯嗯嗯嗯嗯嗯嗯嗯嗯嗯嗯嗯嗯嗯嗯嗯嗯嗯嗯嗯嗯嗯嗯",
		"  leading and trailing   spaces   everywhere in   this sentence that keeps going on and on  ",
	}
	s := newTestSplitter()
	for _, text := range texts {
		for _, maxLen := range []int{6, 10, 25, 42} {
			lines := s.Split(text, maxLen, "auto")
			if len(lines) == 0 {
				t.Fatalf("no lines for %q", text)
			}
			for _, line := range lines {
				if strings.TrimSpace(line) == "" {
					t.Fatalf("empty line for %q (max %d): %q", text, maxLen, lines)
				}
				if runeLen(line) > maxLen {
					t.Fatalf("line %q exceeds %d runes", line, maxLen)
				}
			}
			if stripSpace(strings.Join(lines, "")) != stripSpace(text) {
				t.Fatalf("content changed for max %d:\n in: %q\nout: %q", maxLen, text, lines)
			}
		}
	}
}

func TestSplitDefaultMaxLenByScript(t *testing.T) {
	s := newTestSplitter()
	if got := s.MaxLen("zh", ""); got != 25 {
		t.Fatalf("expected cjk max 25, got %d", got)
	}
	if got := s.MaxLen("en", ""); got != 42 {
		t.Fatalf("expected spaced max 42, got %d", got)
	}
	if got := s.MaxLen("auto", "今天天气很好"); got != 25 {
		t.Fatalf("expected detected cjk max 25, got %d", got)
	}
}

func TestIsSpaceDelimited(t *testing.T) {
	cases := []struct {
		hint string
		text string
		want bool
	}{
		{"en", "", true},
		{"zh", "", false},
		{"zh-CN", "", false},
		{"ja", "", false},
		{"ko", "", true},
		{"auto", "hello there", true},
		{"", "你好世界", false},
		{"auto", "我们用iPhone拍照", false},
	}
	for _, tc := range cases {
		if got := IsSpaceDelimited(tc.hint, tc.text); got != tc.want {
			t.Fatalf("IsSpaceDelimited(%q, %q) = %v, want %v", tc.hint, tc.text, got, tc.want)
		}
	}
}
