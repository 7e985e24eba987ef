package executor

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/go-resty/resty/v2"
	openai "github.com/sashabaranov/go-openai"

	"github.com/lingosub/internal/config"
	"github.com/lingosub/internal/retry"
	"github.com/lingosub/internal/subtitle"
	"github.com/lingosub/pkg/logger"
)

// Recognizer turns an audio file into timed segments.
type Recognizer interface {
	Name() string
	// EnsureLoaded prepares the backend once; later calls are cheap.
	EnsureLoaded(ctx context.Context) error
	Recognize(ctx context.Context, audioPath, languageHint, promptHint string) ([]subtitle.Segment, string, error)
}

// Recognizers hands out the recognizer for a service and engine.
type Recognizers struct {
	cfg config.RecognizerConfig

	mu     sync.Mutex
	local  map[string]*LocalRecognizer
	openai *APIRecognizer
	groq   *APIRecognizer
}

// NewRecognizers creates the registry. Backends are created on first use.
func NewRecognizers(cfg config.RecognizerConfig) *Recognizers {
	return &Recognizers{cfg: cfg, local: make(map[string]*LocalRecognizer)}
}

// For returns the recognizer serving service/engine.
func (r *Recognizers) For(service, engine string) (Recognizer, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	switch strings.ToLower(service) {
	case "local", "":
		if engine == "" {
			engine = r.cfg.DefaultEngine
		}
		rec, ok := r.local[engine]
		if !ok {
			rec = NewLocalRecognizer(r.cfg.LocalURL, engine)
			r.local[engine] = rec
		}
		return rec, nil
	case "openai":
		if r.openai == nil {
			r.openai = NewAPIRecognizer("openai", r.cfg.OpenAI, "whisper-1")
		}
		return r.openai, nil
	case "groq":
		if r.groq == nil {
			r.groq = NewAPIRecognizer("groq", r.cfg.Groq, "whisper-large-v3")
		}
		return r.groq, nil
	default:
		return nil, retry.Permanent(fmt.Errorf("%w: unknown recognition service %q", ErrNotConfigured, service))
	}
}

// LocalRecognizer talks to the speech sidecar over HTTP.
type LocalRecognizer struct {
	client  *resty.Client
	baseURL string
	engine  string

	mu     sync.Mutex
	loaded bool
}

// NewLocalRecognizer creates a client for the sidecar at baseURL.
func NewLocalRecognizer(baseURL, engine string) *LocalRecognizer {
	baseURL = strings.TrimRight(baseURL, "/")
	return &LocalRecognizer{
		client:  resty.New().SetBaseURL(baseURL),
		baseURL: baseURL,
		engine:  engine,
	}
}

func (l *LocalRecognizer) Name() string { return "local/" + l.engine }

// EnsureLoaded asks the sidecar to have the engine's model ready.
func (l *LocalRecognizer) EnsureLoaded(ctx context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.loaded {
		return nil
	}
	if l.baseURL == "" {
		return retry.Permanent(fmt.Errorf("%w: recognizer.local_url is empty", ErrNotConfigured))
	}

	logger.Infof("🧠 Loading %s model on %s", l.engine, l.baseURL)
	resp, err := l.client.R().
		SetContext(ctx).
		SetQueryParam("engine", l.engine).
		Get("/health")
	if err != nil {
		return fmt.Errorf("sidecar health: %w", err)
	}
	if err := statusError("sidecar health", resp); err != nil {
		return err
	}

	l.loaded = true
	logger.Infof("✅ %s model ready", l.engine)
	return nil
}

type localWord struct {
	Start float64 `json:"start"`
	End   float64 `json:"end"`
	Word  string  `json:"word"`
}

type localSegment struct {
	Start float64     `json:"start"`
	End   float64     `json:"end"`
	Text  string      `json:"text"`
	Words []localWord `json:"words"`
}

type localResponse struct {
	Language string         `json:"language"`
	Segments []localSegment `json:"segments"`
}

// Recognize uploads the audio and returns the sidecar's segments.
func (l *LocalRecognizer) Recognize(ctx context.Context, audioPath, languageHint, promptHint string) ([]subtitle.Segment, string, error) {
	if err := l.EnsureLoaded(ctx); err != nil {
		return nil, "", err
	}

	form := map[string]string{
		"engine":          l.engine,
		"word_timestamps": "true",
	}
	if languageHint != "" && languageHint != "auto" {
		form["language"] = languageHint
	}
	if promptHint != "" {
		form["initial_prompt"] = promptHint
	}

	logger.Infof("🎤 Transcribing (%s): %s", l.Name(), filepath.Base(audioPath))
	var out localResponse
	resp, err := l.client.R().
		SetContext(ctx).
		SetFile("file", audioPath).
		SetFormData(form).
		SetResult(&out).
		Post("/transcribe")
	if err != nil {
		return nil, "", fmt.Errorf("sidecar transcribe: %w", err)
	}
	if err := statusError("sidecar transcribe", resp); err != nil {
		if resp.StatusCode() == http.StatusServiceUnavailable {
			l.mu.Lock()
			l.loaded = false
			l.mu.Unlock()
		}
		return nil, "", err
	}

	segments := make([]subtitle.Segment, 0, len(out.Segments))
	for _, s := range out.Segments {
		seg := subtitle.Segment{Start: s.Start, End: s.End, Text: strings.TrimSpace(s.Text)}
		for _, w := range s.Words {
			seg.Words = append(seg.Words, subtitle.Word{Start: w.Start, End: w.End, Text: w.Word})
		}
		segments = append(segments, seg)
	}
	return segments, out.Language, nil
}

// statusError maps an HTTP failure to an error; client errors other than
// timeouts and rate limits are permanent.
func statusError(op string, resp *resty.Response) error {
	code := resp.StatusCode()
	if code < 400 {
		return nil
	}
	body := strings.TrimSpace(resp.String())
	if len(body) > 300 {
		body = body[:300] + "..."
	}
	err := fmt.Errorf("%s: status %d: %s", op, code, body)
	if isClientError(code) {
		return retry.Permanent(err)
	}
	return err
}

func isClientError(code int) bool {
	return code >= 400 && code < 500 && code != http.StatusRequestTimeout && code != http.StatusTooManyRequests
}

// APIRecognizer uses an OpenAI-compatible transcription endpoint.
type APIRecognizer struct {
	name   string
	client *openai.Client
	model  string
	apiKey string
}

// NewAPIRecognizer creates a recognizer for an OpenAI-compatible service.
func NewAPIRecognizer(name string, ep config.APIEndpoint, defaultModel string) *APIRecognizer {
	clientCfg := openai.DefaultConfig(ep.APIKey)
	if ep.BaseURL != "" {
		clientCfg.BaseURL = strings.TrimRight(ep.BaseURL, "/")
	}
	model := ep.Model
	if model == "" {
		model = defaultModel
	}
	return &APIRecognizer{
		name:   name,
		client: openai.NewClientWithConfig(clientCfg),
		model:  model,
		apiKey: ep.APIKey,
	}
}

func (a *APIRecognizer) Name() string { return a.name + "/" + a.model }

// EnsureLoaded only checks that a key is configured.
func (a *APIRecognizer) EnsureLoaded(context.Context) error {
	if a.apiKey == "" {
		return retry.Permanent(fmt.Errorf("%w: %s api key is missing", ErrNotConfigured, a.name))
	}
	return nil
}

// Recognize requests verbose JSON with word and segment timestamps.
func (a *APIRecognizer) Recognize(ctx context.Context, audioPath, languageHint, promptHint string) ([]subtitle.Segment, string, error) {
	if err := a.EnsureLoaded(ctx); err != nil {
		return nil, "", err
	}

	req := openai.AudioRequest{
		Model:    a.model,
		FilePath: audioPath,
		Prompt:   promptHint,
		Format:   openai.AudioResponseFormatVerboseJSON,
		TimestampGranularities: []openai.TranscriptionTimestampGranularity{
			openai.TranscriptionTimestampGranularityWord,
			openai.TranscriptionTimestampGranularitySegment,
		},
	}
	if languageHint != "" && languageHint != "auto" {
		req.Language = languageHint
	}

	logger.Infof("🎤 Transcribing (%s): %s", a.Name(), filepath.Base(audioPath))
	resp, err := a.client.CreateTranscription(ctx, req)
	if err != nil {
		return nil, "", classifyAPIError(fmt.Errorf("%s transcription: %w", a.name, err))
	}

	segments := make([]subtitle.Segment, 0, len(resp.Segments))
	for _, s := range resp.Segments {
		segments = append(segments, subtitle.Segment{Start: s.Start, End: s.End, Text: strings.TrimSpace(s.Text)})
	}
	words := make([]subtitle.Word, 0, len(resp.Words))
	for _, w := range resp.Words {
		words = append(words, subtitle.Word{Start: w.Start, End: w.End, Text: w.Word})
	}
	assignWords(segments, words)

	return segments, resp.Language, nil
}

// assignWords distributes globally timed words to the segment containing
// each word's midpoint. Both inputs are expected in time order.
func assignWords(segments []subtitle.Segment, words []subtitle.Word) {
	if len(segments) == 0 || len(words) == 0 {
		return
	}
	sort.SliceStable(words, func(i, j int) bool { return words[i].Start < words[j].Start })

	seg := 0
	for _, w := range words {
		mid := (w.Start + w.End) / 2
		for seg < len(segments)-1 && mid >= segments[seg+1].Start {
			seg++
		}
		if mid < segments[seg].Start || mid > segments[seg].End {
			continue
		}
		segments[seg].Words = append(segments[seg].Words, w)
	}
}

// classifyAPIError marks client-side API failures as permanent.
func classifyAPIError(err error) error {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) && isClientError(apiErr.HTTPStatusCode) {
		return retry.Permanent(err)
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) && isClientError(reqErr.HTTPStatusCode) {
		return retry.Permanent(err)
	}
	return err
}
