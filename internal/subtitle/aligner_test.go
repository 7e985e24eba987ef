package subtitle

import (
	"math"
	"testing"
)

func TestAlignConsumesWordsByLength(t *testing.T) {
	words := []Word{
		{Start: 0, End: 0.5, Text: "hello"},
		{Start: 0.5, End: 1.0, Text: " world"},
		{Start: 1.2, End: 1.5, Text: " foo"},
		{Start: 1.5, End: 2.0, Text: " bar"},
	}
	got := Align([]string{"hello world", "foo bar"}, words, 0, 2, 0.01)
	if len(got) != 2 {
		t.Fatalf("expected 2 lines, got %d", len(got))
	}
	if got[0].Start != 0 || got[0].End != 1.0 {
		t.Fatalf("line 0 timing %+v", got[0])
	}
	if got[1].Start != 1.2 || got[1].End != 2.0 {
		t.Fatalf("line 1 timing %+v", got[1])
	}
}

func TestAlignFoldsLeftoverWordsIntoLastLine(t *testing.T) {
	words := []Word{
		{Start: 0, End: 1, Text: "one"},
		{Start: 1, End: 2, Text: "two"},
		{Start: 2, End: 3.4, Text: "three"},
	}
	got := Align([]string{"one", "two"}, words, 0, 4, 0.01)
	if got[1].End != 3.4 {
		t.Fatalf("expected leftover word to extend end to 3.4, got %v", got[1].End)
	}
}

func TestAlignProportionalWithoutWords(t *testing.T) {
	got := Align([]string{"a", "b", "c"}, nil, 10, 16, 0.01)
	want := [][2]float64{{10, 12}, {12, 14}, {14, 16}}
	for i, w := range want {
		if got[i].Start != w[0] || got[i].End != w[1] {
			t.Fatalf("line %d: expected %v, got %+v", i, w, got[i])
		}
	}
}

func TestAlignProportionalWhenWordsRunOut(t *testing.T) {
	words := []Word{{Start: 0, End: 1, Text: "first line text"}}
	got := Align([]string{"first line text", "second line"}, words, 0, 8, 0.01)
	if got[0].End != 4 || got[1].Start != 4 || got[1].End != 8 {
		t.Fatalf("expected proportional split, got %+v", got)
	}
}

func TestAlignClampsToPreviousEnd(t *testing.T) {
	words := []Word{
		{Start: 0, End: 1.0, Text: "ab"},
		{Start: 0.8, End: 1.6, Text: "cd"},
	}
	got := Align([]string{"ab", "cd"}, words, 0, 2, 0.01)
	if got[1].Start != 1.0 {
		t.Fatalf("expected start clamped to 1.0, got %v", got[1].Start)
	}
}

func TestAlignFixesDegenerateDuration(t *testing.T) {
	words := []Word{{Start: 3, End: 3, Text: "blip"}}
	got := Align([]string{"blip"}, words, 3, 3, 0.05)
	if got[0].End <= got[0].Start {
		t.Fatalf("expected positive duration, got %+v", got[0])
	}
	if math.Abs(got[0].End-3.05) > 1e-9 {
		t.Fatalf("expected end 3.05, got %v", got[0].End)
	}
}

func TestAlignRoundsBumpedEnd(t *testing.T) {
	words := []Word{{Start: 5.02, End: 5.02, Text: "blip"}}
	got := Align([]string{"blip"}, words, 5.02, 5.02, 0.01)
	if got[0].End != 5.03 {
		t.Fatalf("expected end exactly 5.03, got %v", got[0].End)
	}
	if end := bumpEnd(2, 0.001); end <= 2 {
		t.Fatalf("sub-centisecond epsilon must still move the end, got %v", end)
	}
}

func TestAlignNonDecreasingStarts(t *testing.T) {
	words := []Word{
		{Start: 0, End: 0.4, Text: "a"},
		{Start: 0.2, End: 0.3, Text: "b"},
		{Start: 0.1, End: 0.2, Text: "c"},
	}
	got := Align([]string{"a", "b", "c"}, words, 0, 1, 0.01)
	for i := 1; i < len(got); i++ {
		if got[i].Start < got[i-1].Start {
			t.Fatalf("starts decrease at %d: %+v", i, got)
		}
		if got[i].End < got[i].Start {
			t.Fatalf("end before start at %d: %+v", i, got[i])
		}
	}
}
