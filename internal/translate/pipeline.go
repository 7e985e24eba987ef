package translate

import (
	"context"
	"strconv"
	"strings"

	"github.com/lingosub/internal/config"
	"github.com/lingosub/internal/subtitle"
	"github.com/lingosub/pkg/logger"
)

// Asker issues one structured model call. An error means there is no usable
// answer and the caller degrades.
type Asker interface {
	AskStructured(ctx context.Context, system, prompt string) (string, error)
}

// Term is a glossary entry extracted from the source text.
type Term struct {
	Src  string `json:"src"`
	Tgt  string `json:"tgt"`
	Note string `json:"note"`
}

// Summary is the context shared by every translation batch.
type Summary struct {
	Theme string `json:"theme"`
	Terms []Term `json:"terms"`
}

// Stats describes how a translation run degraded, if at all.
type Stats struct {
	Batches            int
	FaithfulFailed     int
	ExpressiveFallback int
}

// Pipeline runs summary, translation and correction passes over subtitle lines.
type Pipeline struct {
	asker Asker
	cfg   config.TranslateConfig
}

// New creates a Pipeline, filling zero settings with defaults.
func New(asker Asker, cfg config.TranslateConfig) *Pipeline {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 10
	}
	if cfg.CorrectionBatchSize <= 0 {
		cfg.CorrectionBatchSize = 20
	}
	if cfg.SampleLines <= 0 {
		cfg.SampleLines = 80
	}
	if cfg.MaxTerms <= 0 {
		cfg.MaxTerms = 15
	}
	if cfg.PassRetries < 0 {
		cfg.PassRetries = 0
	}
	if cfg.MaxLengthDrift <= 0 {
		cfg.MaxLengthDrift = 0.5
	}
	return &Pipeline{asker: asker, cfg: cfg}
}

// Summarize extracts a theme and glossary from a sample of the lines. Any
// failure yields an empty summary.
func (p *Pipeline) Summarize(ctx context.Context, lines []subtitle.Line, srcLang, tgtLang string) Summary {
	sample := texts(lines)
	if len(sample) > p.cfg.SampleLines {
		sample = sample[:p.cfg.SampleLines]
	}
	if len(sample) == 0 {
		return Summary{}
	}

	reply, err := p.asker.AskStructured(ctx, systemPrompt,
		summaryPrompt(strings.Join(sample, "\n"), subtitle.LanguageName(srcLang), subtitle.LanguageName(tgtLang), p.cfg.MaxTerms))
	if err != nil {
		logger.Warnf("⚠️ Summary call failed, translating without context: %v", err)
		return Summary{}
	}

	var sum Summary
	if err := decodeReply(reply, &sum); err != nil {
		logger.Warnf("⚠️ Summary reply unreadable, translating without context: %v", err)
		return Summary{}
	}
	if len(sum.Terms) > p.cfg.MaxTerms {
		sum.Terms = sum.Terms[:p.cfg.MaxTerms]
	}
	logger.Infof("📝 Summary: %d terms extracted", len(sum.Terms))
	return sum
}

type faithfulEntry struct {
	Origin string `json:"origin"`
	Direct string `json:"direct"`
}

type expressiveEntry struct {
	Origin  string `json:"origin"`
	Direct  string `json:"direct"`
	Reflect string `json:"reflect"`
	Free    string `json:"free"`
}

// Translate returns a copy of lines with Translation filled. Batches run
// sequentially; a batch whose faithful pass fails is left untranslated and a
// failed expressive pass falls back to the faithful result.
func (p *Pipeline) Translate(ctx context.Context, lines []subtitle.Line, srcLang, tgtLang string) ([]subtitle.Line, Stats) {
	out := append([]subtitle.Line(nil), lines...)
	var stats Stats
	if len(out) == 0 {
		return out, stats
	}

	src := subtitle.LanguageName(srcLang)
	tgt := subtitle.LanguageName(tgtLang)
	sum := p.Summarize(ctx, lines, srcLang, tgtLang)
	all := texts(lines)

	for start := 0; start < len(all); start += p.cfg.BatchSize {
		if ctx.Err() != nil {
			logger.Warnf("⚠️ Translation interrupted: %v", ctx.Err())
			break
		}
		end := min(start+p.cfg.BatchSize, len(all))
		batch := all[start:end]
		stats.Batches++

		before := all[max(0, start-p.cfg.ContextWindow):start]
		after := all[end:min(len(all), end+p.cfg.ContextWindow)]
		shared := sharedContext(before, after, sum)

		direct, ok := p.faithful(ctx, batch, shared, src, tgt)
		if !ok {
			stats.FaithfulFailed++
			logger.Warnf("⚠️ Faithful pass failed for lines %d-%d, leaving them untranslated", start, end-1)
			continue
		}

		final, ok := p.expressive(ctx, batch, direct, shared, src, tgt)
		if !ok {
			stats.ExpressiveFallback++
			logger.Warnf("⚠️ Expressive pass failed for lines %d-%d, using direct translation", start, end-1)
			final = direct
		}
		for i := range batch {
			out[start+i].Translation = strings.TrimSpace(final[i])
		}
		logger.Debugf("🌐 Translated lines %d-%d", start, end-1)
	}

	logger.Infof("🌐 Translation done: %d batches, %d untranslated, %d direct-only",
		stats.Batches, stats.FaithfulFailed, stats.ExpressiveFallback)
	return out, stats
}

func (p *Pipeline) faithful(ctx context.Context, batch []string, shared, src, tgt string) (map[int]string, bool) {
	prompt := faithfulPrompt(batch, shared, src, tgt)
	got, ok := askIndexed[faithfulEntry](ctx, p, systemPrompt, prompt, len(batch))
	if !ok {
		return nil, false
	}
	direct := make(map[int]string, len(batch))
	for i := range batch {
		direct[i] = got[strconv.Itoa(i)].Direct
	}
	return direct, true
}

func (p *Pipeline) expressive(ctx context.Context, batch []string, direct map[int]string, shared, src, tgt string) (map[int]string, bool) {
	prompt := expressivePrompt(batch, direct, shared, src, tgt)
	got, ok := askIndexed[expressiveEntry](ctx, p, systemPrompt, prompt, len(batch))
	if !ok {
		return nil, false
	}
	final := make(map[int]string, len(batch))
	for i := range batch {
		entry := got[strconv.Itoa(i)]
		if strings.TrimSpace(entry.Free) != "" {
			final[i] = entry.Free
		} else {
			final[i] = direct[i]
		}
	}
	return final, true
}

// askIndexed calls the model until the reply decodes into a map holding an
// entry for every index 0..want-1, trying at most 1+PassRetries times.
func askIndexed[T any](ctx context.Context, p *Pipeline, system, prompt string, want int) (map[string]T, bool) {
	attempts := 1 + p.cfg.PassRetries
	for attempt := 1; attempt <= attempts; attempt++ {
		if ctx.Err() != nil {
			return nil, false
		}
		reply, err := p.asker.AskStructured(ctx, system, prompt)
		if err != nil {
			logger.Debugf("model call failed (attempt %d/%d): %v", attempt, attempts, err)
			continue
		}
		got, err := decodeIndexed[T](reply, want)
		if err != nil {
			logger.Debugf("model reply rejected (attempt %d/%d): %v", attempt, attempts, err)
			continue
		}
		return got, true
	}
	return nil, false
}

func texts(lines []subtitle.Line) []string {
	out := make([]string, len(lines))
	for i, l := range lines {
		out[i] = l.Text
	}
	return out
}
