package executor

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"

	openai "github.com/sashabaranov/go-openai"
	"golang.org/x/time/rate"

	"github.com/lingosub/internal/config"
	"github.com/lingosub/internal/retry"
	"github.com/lingosub/pkg/logger"
)

// LLM makes JSON-mode chat completions against an OpenAI-compatible API.
type LLM struct {
	client      *openai.Client
	model       string
	temperature float32
	apiKey      string
	limiter     *rate.Limiter
	policy      atomic.Pointer[retry.Policy]
}

// NewLLM creates an LLM client. Calls are retried with policy.
func NewLLM(cfg config.LLMConfig, policy retry.Policy) *LLM {
	clientCfg := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientCfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	}

	l := &LLM{
		client:      openai.NewClientWithConfig(clientCfg),
		model:       cfg.Model,
		temperature: cfg.Temperature,
		apiKey:      cfg.APIKey,
	}
	l.SetPolicy(policy)

	// Set up rate limiter if configured
	if cfg.RateLimitRPM > 0 {
		rps := float64(cfg.RateLimitRPM) / 60.0
		l.limiter = rate.NewLimiter(rate.Limit(rps), 1)
		logger.Infof("🚦 LLM rate limit: %d RPM", cfg.RateLimitRPM)
	}
	return l
}

// SetPolicy replaces the retry policy used by later calls.
func (l *LLM) SetPolicy(p retry.Policy) { l.policy.Store(&p) }

// Configured reports whether an API key is set.
func (l *LLM) Configured() bool { return l.apiKey != "" }

// AskStructured sends one system+user exchange and returns the raw JSON
// reply. Any error means no usable answer.
func (l *LLM) AskStructured(ctx context.Context, system, prompt string) (string, error) {
	if !l.Configured() {
		return "", retry.Permanent(fmt.Errorf("%w: llm api key is missing", ErrNotConfigured))
	}

	return retry.Value(ctx, *l.policy.Load(), "llm", func(ctx context.Context) (string, error) {
		if l.limiter != nil {
			if err := l.limiter.Wait(ctx); err != nil {
				return "", fmt.Errorf("rate limit: %w", err)
			}
		}

		resp, err := l.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
			Model: l.model,
			Messages: []openai.ChatCompletionMessage{
				{Role: openai.ChatMessageRoleSystem, Content: system},
				{Role: openai.ChatMessageRoleUser, Content: prompt},
			},
			Temperature: l.temperature,
			ResponseFormat: &openai.ChatCompletionResponseFormat{
				Type: openai.ChatCompletionResponseFormatTypeJSONObject,
			},
		})
		if err != nil {
			return "", classifyAPIError(fmt.Errorf("chat completion: %w", err))
		}
		if len(resp.Choices) == 0 {
			return "", errors.New("chat completion returned no choices")
		}
		content := strings.TrimSpace(resp.Choices[0].Message.Content)
		if content == "" {
			return "", errors.New("chat completion returned empty content")
		}
		return content, nil
	})
}
