package genai

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/firebase/genkit/go/ai"
	"github.com/firebase/genkit/go/genkit"
	"golang.org/x/time/rate"

	"github.com/uzhavan/uzhavan/internal/log"
)

// DefaultGenerateTimeout bounds a single model invocation including
// retries. Chosen to cover slow long-form answers without pinning a
// request handler forever.
const DefaultGenerateTimeout = 60 * time.Second

// GeneratorConfig configures a Generator.
type GeneratorConfig struct {
	ModelName   string // provider-qualified, e.g. "googleai/gemini-2.5-flash"
	Temperature float32
	MaxTokens   int
	Timeout     time.Duration // zero selects DefaultGenerateTimeout
	Retry       RetryConfig
	// RequestsPerSecond caps outgoing model calls. Zero disables limiting.
	RequestsPerSecond float64
}

// Generator calls the configured Gemini model with retry, backoff, and
// client-side rate limiting.
//
// Generator is safe for concurrent use.
type Generator struct {
	g       *genkit.Genkit
	cfg     GeneratorConfig
	limiter *rate.Limiter
	logger  log.Logger
}

// NewGenerator creates a Generator.
func NewGenerator(g *genkit.Genkit, cfg GeneratorConfig, logger log.Logger) (*Generator, error) {
	if g == nil {
		return nil, fmt.Errorf("genkit instance must not be nil")
	}
	if strings.TrimSpace(cfg.ModelName) == "" {
		return nil, fmt.Errorf("model name must not be empty")
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultGenerateTimeout
	}
	if cfg.Retry.MaxRetries == 0 && cfg.Retry.InitialInterval == 0 {
		cfg.Retry = DefaultRetryConfig()
	}

	var limiter *rate.Limiter
	if cfg.RequestsPerSecond > 0 {
		limiter = rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), 1)
	}

	return &Generator{g: g, cfg: cfg, limiter: limiter, logger: logger}, nil
}

// Generate produces a reply for the given system instruction and message
// history. Transient provider errors are retried with exponential
// backoff; each attempt passes through the rate limiter.
func (gen *Generator) Generate(ctx context.Context, system string, msgs []*ai.Message) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, gen.cfg.Timeout)
	defer cancel()

	opts := []ai.GenerateOption{
		ai.WithModelName(gen.cfg.ModelName),
		ai.WithMessages(msgs...),
		ai.WithConfig(&ai.GenerationCommonConfig{
			Temperature:     float64(gen.cfg.Temperature),
			MaxOutputTokens: gen.cfg.MaxTokens,
		}),
	}
	if system != "" {
		opts = append(opts, ai.WithSystem(system))
	}

	resp, err := gen.generateWithRetry(ctx, opts)
	if err != nil {
		return "", err
	}

	text := strings.TrimSpace(resp.Text())
	if text == "" {
		return "", fmt.Errorf("model returned empty response")
	}
	return text, nil
}

// generateWithRetry runs genkit.Generate with exponential backoff.
// Each attempt is rate limited so retries cannot amplify quota pressure.
func (gen *Generator) generateWithRetry(ctx context.Context, opts []ai.GenerateOption) (*ai.ModelResponse, error) {
	var lastErr error
	delay := gen.cfg.Retry.InitialInterval
	start := time.Now()

	for attempt := 0; attempt <= gen.cfg.Retry.MaxRetries; attempt++ {
		if gen.limiter != nil {
			if err := gen.limiter.Wait(ctx); err != nil {
				return nil, fmt.Errorf("rate limit wait: %w", err)
			}
		}

		resp, err := genkit.Generate(ctx, gen.g, opts...)
		if err == nil {
			gen.logger.Debug("generation succeeded",
				"attempts", attempt+1,
				"elapsed", time.Since(start))
			return resp, nil
		}

		lastErr = err

		if !retryableError(err) {
			return nil, fmt.Errorf("generate: %w", err)
		}
		if attempt == gen.cfg.Retry.MaxRetries {
			break
		}

		gen.logger.Debug("retrying after transient error",
			"attempt", attempt+1,
			"delay", delay,
			"error", err)

		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("context canceled during retry: %w", ctx.Err())
		case <-time.After(delay):
			delay = min(delay*2, gen.cfg.Retry.MaxInterval)
		}
	}

	return nil, fmt.Errorf("generate after %d retries (elapsed: %v): %w",
		gen.cfg.Retry.MaxRetries, time.Since(start), lastErr)
}
