package subtitle

import (
	"sort"
	"strings"

	"github.com/lingosub/internal/config"
	"github.com/lingosub/pkg/logger"
)

// Refiner turns raw recognizer segments into subtitle lines: hallucinated
// segments are dropped, the rest are split to line length and aligned to
// their word timings.
type Refiner struct {
	cfg      config.HeuristicsConfig
	splitter *Splitter
	filter   *HallucinationFilter
}

// RefineStats summarizes one refinement run.
type RefineStats struct {
	Segments      int
	Hallucinated  int
	Lines         int
	FragmentsIn   int
	MergedInto    int
	Proportionals int
}

func NewRefiner(cfg config.HeuristicsConfig) *Refiner {
	return &Refiner{
		cfg:      cfg,
		splitter: NewSplitter(cfg.Split),
		filter:   NewHallucinationFilter(cfg.Hallucination),
	}
}

// Splitter exposes the underlying splitter.
func (r *Refiner) Splitter() *Splitter { return r.splitter }

// Refine produces lines in non-decreasing start order that do not overlap.
// fragmented marks engines whose segments are sentence fragments; those are
// merged before splitting.
func (r *Refiner) Refine(segments []Segment, languageHint string, fragmented bool) ([]Line, RefineStats) {
	stats := RefineStats{Segments: len(segments)}

	segs := append([]Segment(nil), segments...)
	sort.SliceStable(segs, func(i, j int) bool { return segs[i].Start < segs[j].Start })
	if fragmented {
		stats.FragmentsIn = len(segs)
		segs = MergeFragments(segs, r.cfg.Merge)
		stats.MergedInto = len(segs)
	}

	eps := r.cfg.Align.Epsilon
	if eps <= 0 {
		eps = 0.01
	}

	var lines []Line
	prevEnd := 0.0
	for _, seg := range segs {
		text := strings.TrimSpace(seg.Text)
		if text == "" {
			continue
		}
		if r.filter.IsHallucination(text, seg.End-seg.Start) {
			stats.Hallucinated++
			logger.Debugf("🧹 Dropped hallucination [%.2f-%.2f]: %s", seg.Start, seg.End, text)
			continue
		}

		parts := r.splitter.Split(text, 0, languageHint)
		if len(seg.Words) == 0 && len(parts) > 1 {
			stats.Proportionals++
		}
		for _, line := range Align(parts, seg.Words, seg.Start, seg.End, r.cfg.Align.Epsilon) {
			if line.Start < prevEnd {
				line.Start = prevEnd
			}
			if line.End <= line.Start {
				line.End = bumpEnd(line.Start, eps)
			}
			lines = append(lines, line)
			prevEnd = line.End
		}
	}

	stats.Lines = len(lines)
	return lines, stats
}
