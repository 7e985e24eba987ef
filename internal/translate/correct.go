package translate

import (
	"context"
	"math"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/lingosub/internal/subtitle"
	"github.com/lingosub/pkg/logger"
)

type correctionEntry struct {
	Original  string `json:"original"`
	Corrected string `json:"corrected"`
}

// CorrectStats counts how many lines a correction run changed or rejected.
type CorrectStats struct {
	Batches       int
	FailedBatches int
	Changed       int
	Rejected      int
}

// Correct fixes obvious recognition errors in place of the text, keeping
// timings. A batch without a complete reply keeps its original text, as does
// any line whose length drifts more than MaxLengthDrift.
func (p *Pipeline) Correct(ctx context.Context, lines []subtitle.Line, srcLang string) ([]subtitle.Line, CorrectStats) {
	out := append([]subtitle.Line(nil), lines...)
	var stats CorrectStats
	src := subtitle.LanguageName(srcLang)
	all := texts(lines)

	for start := 0; start < len(all); start += p.cfg.CorrectionBatchSize {
		if ctx.Err() != nil {
			break
		}
		end := min(start+p.cfg.CorrectionBatchSize, len(all))
		batch := all[start:end]
		stats.Batches++

		got, ok := askIndexed[correctionEntry](ctx, p, correctionSystemPrompt, correctionPrompt(batch, src), len(batch))
		if !ok {
			stats.FailedBatches++
			logger.Warnf("⚠️ Correction failed for lines %d-%d, keeping originals", start, end-1)
			continue
		}

		for i, original := range batch {
			corrected := strings.TrimSpace(got[strconv.Itoa(i)].Corrected)
			if corrected == "" || corrected == original {
				continue
			}
			if drift(original, corrected) > p.cfg.MaxLengthDrift {
				stats.Rejected++
				logger.Debugf("correction rejected, length drift too large: %q -> %q", original, corrected)
				continue
			}
			out[start+i].Text = corrected
			stats.Changed++
		}
	}

	logger.Infof("✏️ Correction done: %d lines changed, %d rejected, %d/%d batches failed",
		stats.Changed, stats.Rejected, stats.FailedBatches, stats.Batches)
	return out, stats
}

// drift is the relative change in rune length.
func drift(original, corrected string) float64 {
	a := utf8.RuneCountInString(original)
	b := utf8.RuneCountInString(corrected)
	return math.Abs(float64(b-a)) / math.Max(float64(a), 1)
}
