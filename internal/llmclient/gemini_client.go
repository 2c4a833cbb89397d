// internal/llmclient/gemini_client.go
package llmclient

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
	"google.golang.org/genai"

	"github.com/xkilldash9x/pagehand/api/schemas"
	"github.com/xkilldash9x/pagehand/internal/config"
)

// contentGenerator is the slice of the genai Models service the client uses.
type contentGenerator interface {
	GenerateContent(ctx context.Context, model string, contents []*genai.Content, config *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error)
}

// GeminiClient implements schemas.LLMClient over the Gemini API.
type GeminiClient struct {
	models  contentGenerator
	config  config.LLMConfig
	limiter *rate.Limiter
	logger  *zap.Logger

	// backoffFactory builds the retry policy for one Generate call.
	backoffFactory func() backoff.BackOff
}

// NewGeminiClient initializes the client.
func NewGeminiClient(ctx context.Context, cfg config.LLMConfig, logger *zap.Logger) (*GeminiClient, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("Gemini API Key is required")
	}
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  cfg.APIKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create GenAI client: %w", err)
	}
	return newGeminiClient(client.Models, cfg, logger), nil
}

func newGeminiClient(models contentGenerator, cfg config.LLMConfig, logger *zap.Logger) *GeminiClient {
	limit := rate.Inf
	if cfg.RequestsPerMinute > 0 {
		limit = rate.Every(time.Minute / time.Duration(cfg.RequestsPerMinute))
	}
	c := &GeminiClient{
		models:  models,
		config:  cfg,
		limiter: rate.NewLimiter(limit, 1),
		logger:  logger.Named("llm_client.gemini"),
	}
	c.backoffFactory = func() backoff.BackOff {
		b := backoff.NewExponentialBackOff()
		b.MaxElapsedTime = 2 * time.Minute
		b.MaxInterval = 30 * time.Second
		return b
	}
	return c
}

// Generate sends the prompts to Gemini and returns the generated text with retries.
func (c *GeminiClient) Generate(ctx context.Context, req schemas.GenerationRequest) (string, error) {
	genConfig := c.buildGenerateConfig(req)
	contents := []*genai.Content{genai.NewContentFromText(req.UserPrompt, genai.RoleUser)}

	var b backoff.BackOff = c.backoffFactory()
	if c.config.MaxRetries > 0 {
		b = backoff.WithMaxRetries(b, uint64(c.config.MaxRetries))
	}

	var responseContent string
	operation := func() error {
		if err := c.limiter.Wait(ctx); err != nil {
			return backoff.Permanent(fmt.Errorf("waiting for rate limiter: %w", err))
		}

		attemptCtx, cancel := c.attemptContext(ctx)
		defer cancel()

		startTime := time.Now()
		resp, err := c.models.GenerateContent(attemptCtx, c.config.Model, contents, genConfig)
		duration := time.Since(startTime)
		if err != nil {
			return c.classifyError(ctx, err)
		}

		text, err := responseText(resp)
		if err != nil {
			return err
		}

		fields := []zap.Field{zap.Duration("duration", duration), zap.String("model", c.config.Model)}
		if usage := resp.UsageMetadata; usage != nil {
			fields = append(fields,
				zap.Int32("prompt_tokens", usage.PromptTokenCount),
				zap.Int32("completion_tokens", usage.CandidatesTokenCount),
				zap.Int32("total_tokens", usage.TotalTokenCount),
			)
		}
		c.logger.Info("LLM generation complete (Gemini)", fields...)

		responseContent = text
		return nil
	}

	if err := backoff.Retry(operation, backoff.WithContext(b, ctx)); err != nil {
		return "", err
	}
	return responseContent, nil
}

// Close releases client resources. The genai client holds none.
func (c *GeminiClient) Close() error { return nil }

func (c *GeminiClient) attemptContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if c.config.APITimeout > 0 {
		return context.WithTimeout(ctx, c.config.APITimeout)
	}
	return context.WithCancel(ctx)
}

func (c *GeminiClient) buildGenerateConfig(req schemas.GenerationRequest) *genai.GenerateContentConfig {
	temperature := c.config.Temperature
	if req.Options.Temperature > 0 {
		temperature = float32(req.Options.Temperature)
	}

	genConfig := &genai.GenerateContentConfig{
		Temperature:     genai.Ptr(temperature),
		MaxOutputTokens: int32(c.config.MaxOutputTokens),
	}
	if req.SystemPrompt != "" {
		genConfig.SystemInstruction = genai.NewContentFromText(req.SystemPrompt, genai.RoleUser)
	}
	if req.Options.ForceJSONFormat {
		genConfig.ResponseMIMEType = "application/json"
		genConfig.ResponseSchema = req.Options.ResponseSchema
	}
	return genConfig
}

// classifyError decides whether a failed call is worth retrying.
func (c *GeminiClient) classifyError(ctx context.Context, err error) error {
	if ctx.Err() != nil {
		return backoff.Permanent(ctx.Err())
	}

	var apiErr genai.APIError
	if !errors.As(err, &apiErr) {
		c.logger.Warn("Network error during LLM request, retrying...", zap.Error(err))
		return fmt.Errorf("gemini request failed: %w", err)
	}

	c.logger.Error("Gemini API returned error status", zap.Int("status", apiErr.Code), zap.String("response", apiErr.Message))
	wrapped := fmt.Errorf("gemini API error: status %d: %w", apiErr.Code, err)
	switch apiErr.Code {
	case http.StatusTooManyRequests, http.StatusInternalServerError, http.StatusBadGateway,
		http.StatusServiceUnavailable, http.StatusGatewayTimeout:
		return wrapped // Transient errors, retry.
	default:
		return backoff.Permanent(wrapped)
	}
}

// responseText pulls the text out of a response. Blocked prompts and
// missing candidates are permanent; an empty candidate is retried.
func responseText(resp *genai.GenerateContentResponse) (string, error) {
	if resp == nil {
		return "", backoff.Permanent(fmt.Errorf("gemini API returned no response"))
	}
	if fb := resp.PromptFeedback; fb != nil && fb.BlockReason != "" {
		return "", backoff.Permanent(fmt.Errorf("gemini API blocked the prompt (Reason: %s)", fb.BlockReason))
	}
	if len(resp.Candidates) == 0 {
		return "", backoff.Permanent(fmt.Errorf("gemini API returned no candidates"))
	}

	text := resp.Text()
	if text == "" {
		reason := resp.Candidates[0].FinishReason
		if reason == genai.FinishReasonSafety || reason == genai.FinishReasonBlocklist {
			return "", backoff.Permanent(fmt.Errorf("gemini API blocked the request (Reason: %s)", reason))
		}
		return "", fmt.Errorf("gemini API returned empty content (Reason: %s)", reason)
	}
	return text, nil
}
