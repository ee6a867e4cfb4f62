package groundex

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/sony/gobreaker/v2"
	"golang.org/x/time/rate"
	"google.golang.org/genai"
)

// InferenceOptions are the sampling parameters passed to a model call.
type InferenceOptions struct {
	Temperature float64
	MaxTokens   int
	Format      FormatType
}

// ScoredOutput is one model response, with an optional confidence
// score when the provider reports one.
type ScoredOutput struct {
	Text  string  `json:"text"`
	Score float64 `json:"score,omitempty"`
}

// LanguageModel is the single capability the core consumes: given
// prompts and sampling parameters, return text. Implementations must
// return exactly one output per prompt, in order, and are responsible
// for their own transport retries; an error returned here is terminal
// for the request.
type LanguageModel interface {
	Infer(ctx context.Context, prompts []string, opts InferenceOptions) ([]*ScoredOutput, error)
	Name() string
}

// GeminiModel adapts the Google GenAI client to the LanguageModel
// interface.
type GeminiModel struct {
	client     *genai.Client
	model      string
	log        *slog.Logger
	maxRetries int
	backoff    time.Duration
}

// NewGeminiModel wraps a genai client for the named model.
func NewGeminiModel(client *genai.Client, model string, log *slog.Logger) *GeminiModel {
	if log == nil {
		log = slog.Default()
	}
	return &GeminiModel{
		client:     client,
		model:      model,
		log:        log,
		maxRetries: 2,
		backoff:    500 * time.Millisecond,
	}
}

// Name identifies the provider and model.
func (g *GeminiModel) Name() string { return "gemini/" + g.model }

// Infer generates one response per prompt.
func (g *GeminiModel) Infer(ctx context.Context, prompts []string, opts InferenceOptions) ([]*ScoredOutput, error) {
	if g.client == nil {
		return nil, fmt.Errorf("%w: genai client not initialized", ErrConfiguration)
	}

	outputs := make([]*ScoredOutput, 0, len(prompts))
	for _, prompt := range prompts {
		var text string
		err := retryable(ctx, func() error {
			var genErr error
			text, genErr = g.generate(ctx, prompt, opts)
			return genErr
		}, g.maxRetries, g.backoff, g.log)
		if err != nil {
			return nil, fmt.Errorf("%w: %s: %v", ErrInference, g.Name(), err)
		}
		outputs = append(outputs, &ScoredOutput{Text: text})
	}
	return outputs, nil
}

func (g *GeminiModel) generate(ctx context.Context, prompt string, opts InferenceOptions) (string, error) {
	parts := []*genai.Part{genai.NewPartFromText(prompt)}
	contents := []*genai.Content{genai.NewContentFromParts(parts, genai.RoleUser)}

	config := &genai.GenerateContentConfig{}
	if opts.Format == FormatJSON {
		config.ResponseMIMEType = "application/json"
	}
	if opts.Temperature > 0 {
		temp := float32(opts.Temperature)
		config.Temperature = &temp
	}
	if opts.MaxTokens > 0 {
		config.MaxOutputTokens = int32(opts.MaxTokens)
	}

	g.log.Debug("calling model", "model", g.model, "prompt_length", len(prompt))

	resp, err := g.client.Models.GenerateContent(ctx, g.model, contents, config)
	if err != nil {
		return "", fmt.Errorf("generate content: %w", err)
	}
	if len(resp.Candidates) == 0 {
		return "", fmt.Errorf("no candidates in response")
	}
	candidate := resp.Candidates[0]
	if candidate.Content == nil || len(candidate.Content.Parts) == 0 {
		return "", fmt.Errorf("no parts in candidate content")
	}
	part := candidate.Content.Parts[0]
	if part.Text == "" {
		return "", fmt.Errorf("no text in first part of response")
	}

	g.log.Debug("received response", "model", g.model, "response_length", len(part.Text))
	return part.Text, nil
}

// retryable executes a call with exponential backoff. max == 0 means
// no retry.
func retryable(ctx context.Context, call func() error, max int, backoff time.Duration, log *slog.Logger) error {
	if log == nil {
		log = slog.Default()
	}
	if max == 0 {
		return call()
	}

	delay := backoff
	var err error
	for i := 0; i <= max; i++ {
		if err = call(); err == nil {
			if i > 0 {
				log.Debug("attempt succeeded", "attempt", i+1)
			}
			return nil
		}
		if i == max {
			break
		}
		log.Debug("attempt failed, retrying", "attempt", i+1, "error", err, "delay", delay)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
		delay *= 2
	}
	return err
}

// RateLimitedModel paces inference requests through a token bucket.
type RateLimitedModel struct {
	inner   LanguageModel
	limiter *rate.Limiter
}

// NewRateLimitedModel wraps a model with a requests-per-second budget.
func NewRateLimitedModel(inner LanguageModel, rps float64, burst int) *RateLimitedModel {
	if burst < 1 {
		burst = 1
	}
	return &RateLimitedModel{inner: inner, limiter: rate.NewLimiter(rate.Limit(rps), burst)}
}

func (m *RateLimitedModel) Name() string { return m.inner.Name() }

func (m *RateLimitedModel) Infer(ctx context.Context, prompts []string, opts InferenceOptions) ([]*ScoredOutput, error) {
	if err := m.limiter.WaitN(ctx, len(prompts)); err != nil {
		return nil, err
	}
	return m.inner.Infer(ctx, prompts, opts)
}

// BreakerModel shields a provider behind a circuit breaker: after
// repeated failures requests are rejected fast until the provider
// recovers.
type BreakerModel struct {
	inner   LanguageModel
	breaker *gobreaker.CircuitBreaker[[]*ScoredOutput]
}

// NewBreakerModel wraps a model with a circuit breaker that opens when
// more than half of at least five requests in the window fail.
func NewBreakerModel(inner LanguageModel) *BreakerModel {
	settings := gobreaker.Settings{
		Name:    inner.Name(),
		Timeout: 30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			ratio := float64(counts.TotalFailures) / float64(counts.Requests)
			return counts.Requests >= 5 && ratio > 0.5
		},
	}
	return &BreakerModel{
		inner:   inner,
		breaker: gobreaker.NewCircuitBreaker[[]*ScoredOutput](settings),
	}
}

func (m *BreakerModel) Name() string { return m.inner.Name() }

func (m *BreakerModel) Infer(ctx context.Context, prompts []string, opts InferenceOptions) ([]*ScoredOutput, error) {
	return m.breaker.Execute(func() ([]*ScoredOutput, error) {
		return m.inner.Infer(ctx, prompts, opts)
	})
}
