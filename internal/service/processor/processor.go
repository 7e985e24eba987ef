package processor

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"

	"golang.org/x/text/language"

	"github.com/lingosub/internal/cache"
	"github.com/lingosub/internal/config"
	"github.com/lingosub/internal/events"
	"github.com/lingosub/internal/executor"
	"github.com/lingosub/internal/fileops"
	"github.com/lingosub/internal/queue"
	"github.com/lingosub/internal/retry"
	"github.com/lingosub/internal/source"
	"github.com/lingosub/internal/subtitle"
	"github.com/lingosub/internal/translate"
	"github.com/lingosub/pkg/logger"
)

var (
	// ErrConfiguration marks a missing credential or endpoint. It is never retried.
	ErrConfiguration = errors.New("configuration error")
	// ErrNoContent means recognition produced no usable subtitle lines.
	ErrNoContent = errors.New("no speech content")
	// ErrNotFound is returned for ids that are neither queued nor cached.
	ErrNotFound = errors.New("job not found")
)

// Downloader fetches and prepares audio.
type Downloader interface {
	Download(ctx context.Context, ref source.Reference) (string, error)
	Compress(ctx context.Context, path string, maxMB int) (string, error)
	ListPlaylist(ctx context.Context, url string) ([]executor.PlaylistEntry, error)
}

// Recognizers resolves the recognizer for a service and engine.
type Recognizers interface {
	For(service, engine string) (executor.Recognizer, error)
}

// Translator runs the language-model passes over subtitle lines.
type Translator interface {
	Translate(ctx context.Context, lines []subtitle.Line, srcLang, tgtLang string) ([]subtitle.Line, translate.Stats)
	Correct(ctx context.Context, lines []subtitle.Line, srcLang string) ([]subtitle.Line, translate.CorrectStats)
}

// Notifier reports job outcomes to humans.
type Notifier interface {
	JobCompleted(ctx context.Context, jobID, source string, lines int, cache string) error
	JobFailed(ctx context.Context, jobID, source, stage string, err error) error
}

// Deps are the collaborators of the Service.
type Deps struct {
	Cache       *cache.Manager
	Downloader  Downloader
	Recognizers Recognizers
	Translator  Translator
	// LLMReady reports whether correction and translation can run.
	LLMReady bool
	Notifier Notifier
	Events   events.Publisher
}

// Service handles the subtitle processing pipeline.
type Service struct {
	mu      sync.RWMutex
	cfg     *config.Config
	refiner *subtitle.Refiner

	cache       *cache.Manager
	downloader  Downloader
	recognizers Recognizers
	translator  Translator
	llmReady    bool
	notifier    Notifier
	events      events.Publisher
	queue       *queue.Queue
}

// New creates a new processor service.
func New(cfg *config.Config, deps Deps) *Service {
	s := &Service{
		cache:       deps.Cache,
		downloader:  deps.Downloader,
		recognizers: deps.Recognizers,
		translator:  deps.Translator,
		llmReady:    deps.LLMReady,
		notifier:    deps.Notifier,
		events:      deps.Events,
	}
	if s.events == nil {
		s.events = events.Nop{}
	}
	s.SetConfig(cfg)
	return s
}

// AttachQueue connects the queue that runs this service's jobs.
func (s *Service) AttachQueue(q *queue.Queue) { s.queue = q }

// SetConfig swaps the configuration used by subsequent jobs.
func (s *Service) SetConfig(cfg *config.Config) {
	refiner := subtitle.NewRefiner(cfg.Heuristics)
	s.mu.Lock()
	s.cfg = cfg
	s.refiner = refiner
	s.mu.Unlock()
}

func (s *Service) snapshot() (*config.Config, *subtitle.Refiner) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cfg, s.refiner
}

// stepTimer tracks timing for a processing step.
type stepTimer struct {
	name  string
	start time.Time
}

func startStep(name string) *stepTimer {
	return &stepTimer{name: name, start: time.Now()}
}

func (s *stepTimer) done() time.Duration {
	elapsed := time.Since(s.start)
	logger.Infof("   ⏱️  %s: %v", s.name, formatDuration(elapsed))
	return elapsed
}

// formatDuration formats duration in human-readable form.
func formatDuration(d time.Duration) string {
	if d < time.Second {
		return fmt.Sprintf("%dms", d.Milliseconds())
	}
	if d < time.Minute {
		return fmt.Sprintf("%.1fs", d.Seconds())
	}
	if d < time.Hour {
		m := int(d.Minutes())
		s := int(d.Seconds()) % 60
		return fmt.Sprintf("%dm%ds", m, s)
	}
	h := int(d.Hours())
	m := int(d.Minutes()) % 60
	return fmt.Sprintf("%dh%dm", h, m)
}

func cacheKey(c queue.Config) cache.Key {
	return cache.Key{Service: c.Service, Domain: c.Domain, Engine: c.Engine, TargetLanguage: c.TargetLanguage}
}

// Process implements queue.Processor interface.
func (s *Service) Process(ctx context.Context, job *queue.Job, report queue.Reporter) (*queue.Result, error) {
	totalStart := time.Now()
	cfg, refiner := s.snapshot()

	logger.Infof("━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━")
	logger.Infof("🎬 Starting job: %s (%s)", job.ID, job.Source)
	logger.Infof("━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━")

	// Step 1: Final cache
	if rec, err := s.cache.GetFinal(ctx, job.ID, cacheKey(job.Config)); err == nil {
		logger.Infof("⚡ Step 1: Final cache hit (%d lines)", len(rec.Lines))
		res := &queue.Result{DetectedLanguage: rec.DetectedLanguage, Lines: rec.Lines, Cache: string(cache.TierFinal)}
		s.finish(ctx, job, res)
		return res, nil
	}

	if err := s.checkConfig(job.Config); err != nil {
		return nil, s.handleError(ctx, job, "configuration", err)
	}

	durations := make(map[string]time.Duration)

	// Steps 2-4: Raw cache, or download + recognition + refinement
	lines, detected, tier, err := s.transcribe(ctx, cfg, refiner, job, report, durations)
	if err != nil {
		return nil, err
	}

	// Step 5: Correction
	if job.Config.CorrectionEnabled {
		logger.Infof("✏️ Step 5: Correcting transcript...")
		report(queue.StatusTranscribing, queue.ProgressCorrecting, "correcting transcript")
		t := startStep("Correction")
		lines, _ = s.translator.Correct(ctx, lines, detected)
		durations["correction"] = t.done()
	}

	// Step 6: Translation
	target := job.Config.TargetLanguage
	if needsTranslation(target, detected) {
		logger.Infof("🌐 Step 6: Translating %s → %s...", subtitle.LanguageName(detected), subtitle.LanguageName(target))
		report(queue.StatusTranscribing, queue.ProgressTranslating, "translating to "+subtitle.LanguageName(target))
		t := startStep("Translation")
		lines, _ = s.translator.Translate(ctx, lines, detected, target)
		durations["translation"] = t.done()
	}

	if err := ctx.Err(); err != nil {
		return nil, s.handleError(ctx, job, "shutdown", err)
	}

	// Step 7: Final cache write
	final := &cache.FinalRecord{
		SourceID:         job.ID,
		DetectedLanguage: detected,
		Service:          job.Config.Service,
		Domain:           job.Config.Domain,
		Engine:           job.Config.Engine,
		TargetLanguage:   target,
		CreatedAt:        time.Now().UTC(),
		Lines:            lines,
	}
	if err := s.cache.PutFinal(ctx, final); err != nil {
		logger.Errorf("❌ Failed to cache final subtitles for %s: %v", job.ID, err)
	}

	res := &queue.Result{DetectedLanguage: detected, Lines: lines, Cache: tier}
	s.finish(ctx, job, res)

	logger.Infof("━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━")
	logger.Infof("✅ Job completed: %s (%d lines)", job.ID, len(lines))
	logger.Infof("⏱️  Total time: %s", formatDuration(time.Since(totalStart)))
	logger.Infof("   Recognition: %s | Translation: %s",
		formatDuration(durations["recognition"]),
		formatDuration(durations["translation"]))
	logger.Infof("━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━")
	return res, nil
}

type recognition struct {
	segments []subtitle.Segment
	language string
}

// transcribe returns refined lines from the raw cache or a fresh recognition
// run, plus the detected language and the cache tier that served them.
func (s *Service) transcribe(ctx context.Context, cfg *config.Config, refiner *subtitle.Refiner, job *queue.Job, report queue.Reporter, durations map[string]time.Duration) ([]subtitle.Line, string, string, error) {
	jc := job.Config

	// Step 2: Raw cache
	if raw, err := s.cache.GetRaw(ctx, job.ID); err == nil {
		if raw.Reusable(jc.Domain, jc.Engine) {
			logger.Infof("♻️ Step 2: Raw cache hit (%d lines)", len(raw.Lines))
			return raw.Lines, raw.DetectedLanguage, string(cache.TierRaw), nil
		}
		logger.Infof("♻️ Step 2: Raw cache built with %s/%s, recognizing again", raw.Domain, raw.Engine)
	}

	// Step 3: Download
	logger.Infof("⬇️ Step 3: Fetching audio...")
	report(queue.StatusDownloading, queue.ProgressDownloadStarted, "downloading audio")
	t := startStep("Download")
	audio, err := s.downloader.Download(ctx, job.Source)
	if err != nil {
		return nil, "", "", s.handleError(ctx, job, "download", err)
	}
	durations["download"] = t.done()
	report(queue.StatusDownloading, queue.ProgressDownloaded, "download complete")

	// Step 4: Recognition
	rec, err := s.recognizers.For(jc.Service, jc.Engine)
	if err != nil {
		return nil, "", "", s.handleError(ctx, job, "recognition", asConfigError(err))
	}

	upload := audio
	if jc.Service != "local" {
		upload, err = s.downloader.Compress(ctx, audio, cfg.Recognizer.MaxUploadMB)
		if err != nil {
			return nil, "", "", s.handleError(ctx, job, "compression", err)
		}
	}

	logger.Infof("🎤 Step 4: Recognizing speech (%s)...", rec.Name())
	report(queue.StatusTranscribing, queue.ProgressRecognizing, "recognizing speech")
	t = startStep("Recognition")
	policy := retry.NewPolicy(cfg.Retry.MaxAttempts, cfg.Retry.BaseDelayMs, cfg.Retry.RecognizeTimeoutSec)
	out, err := retry.Value(ctx, policy, "recognition", func(ctx context.Context) (recognition, error) {
		segments, lang, err := rec.Recognize(ctx, upload, jc.Language, promptHint(cfg, jc.Domain))
		return recognition{segments: segments, language: lang}, err
	})
	if err != nil {
		return nil, "", "", s.handleError(ctx, job, "recognition", asConfigError(err))
	}
	durations["recognition"] = t.done()

	detected := out.language
	if detected == "" && jc.Language != "auto" {
		detected = jc.Language
	}
	fragmented := slices.Contains(cfg.Recognizer.FragmentedEngines, jc.Engine)
	lines, stats := refiner.Refine(out.segments, detected, fragmented)
	logger.Infof("   📐 %d segments → %d lines (%d hallucinations dropped, %d proportional)",
		stats.Segments, stats.Lines, stats.Hallucinated, stats.Proportionals)
	if len(lines) == 0 {
		return nil, "", "", s.handleError(ctx, job, "refinement", ErrNoContent)
	}

	raw := &cache.RawRecord{
		SourceID:         job.ID,
		DetectedLanguage: detected,
		Domain:           jc.Domain,
		Engine:           jc.Engine,
		CreatedAt:        time.Now().UTC(),
		Lines:            lines,
	}
	if err := s.cache.PutRaw(ctx, raw); err != nil {
		logger.Errorf("❌ Failed to cache raw subtitles for %s: %v", job.ID, err)
	}

	if upload != audio {
		fileops.RemoveQuiet(upload)
	}
	if !job.Source.IsLocal() {
		fileops.RemoveQuiet(audio)
	}
	return lines, detected, "", nil
}

func promptHint(cfg *config.Config, domain string) string {
	hint := cfg.Recognizer.InitialPrompt
	if domain != "" && domain != "general" {
		hint = strings.TrimSpace(fmt.Sprintf("Topic: %s. %s", domain, hint))
	}
	return hint
}

// needsTranslation reports whether target names a language other than detected.
func needsTranslation(target, detected string) bool {
	if target == "" {
		return false
	}
	if detected == "" {
		return true
	}
	t, errT := language.Parse(target)
	d, errD := language.Parse(detected)
	if errT != nil || errD != nil {
		return !strings.EqualFold(target, detected)
	}
	tb, _ := t.Base()
	db, _ := d.Base()
	if tb != db {
		return true
	}
	// Same base language: only scripts or regions such as zh-TW vs zh differ.
	return !strings.EqualFold(target, detected) && strings.Contains(target, "-")
}

func asConfigError(err error) error {
	if errors.Is(err, executor.ErrNotConfigured) && !errors.Is(err, ErrConfiguration) {
		return fmt.Errorf("%w: %w", ErrConfiguration, err)
	}
	return err
}

// checkConfig rejects jobs that need the language model when none is configured.
func (s *Service) checkConfig(c queue.Config) error {
	if s.llmReady {
		return nil
	}
	if c.CorrectionEnabled || c.TargetLanguage != "" {
		return fmt.Errorf("%w: correction and translation need llm.api_key", ErrConfiguration)
	}
	return nil
}

func (s *Service) finish(ctx context.Context, job *queue.Job, res *queue.Result) {
	ev := events.New(events.JobCompleted, job.ID)
	ev.Source = job.Source.String()
	ev.Lines = len(res.Lines)
	ev.Cache = res.Cache
	s.publish(ctx, ev)

	if s.notifier == nil {
		return
	}
	if err := s.notifier.JobCompleted(ctx, job.ID, job.Source.String(), len(res.Lines), res.Cache); err != nil {
		logger.Warnf("⚠️ Failed to send notification: %v", err)
	}
}

func (s *Service) handleError(ctx context.Context, job *queue.Job, step string, err error) error {
	fullErr := fmt.Errorf("%s failed: %w", step, err)
	logger.Errorf("❌ %v", fullErr)

	ev := events.New(events.JobFailed, job.ID)
	ev.Source = job.Source.String()
	ev.Message = fullErr.Error()
	s.publish(ctx, ev)

	if s.notifier != nil {
		// The job context may already be cancelled; notifications still go out.
		nctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 30*time.Second)
		defer cancel()
		if notifyErr := s.notifier.JobFailed(nctx, job.ID, job.Source.String(), step, err); notifyErr != nil {
			logger.Warnf("⚠️ Failed to send error notification: %v", notifyErr)
		}
	}
	return fullErr
}

func (s *Service) publish(ctx context.Context, ev events.Event) {
	pctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	if err := s.events.Publish(pctx, ev); err != nil {
		logger.Warnf("⚠️ Failed to publish %s event: %v", ev.Type, err)
	}
}
