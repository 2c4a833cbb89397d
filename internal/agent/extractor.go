package agent

import (
	"context"
	"fmt"

	"go.uber.org/zap"
	"google.golang.org/genai"

	"github.com/xkilldash9x/pagehand/api/schemas"
	"github.com/xkilldash9x/pagehand/internal/llmutil"
)

// Extractor implements schemas.Extractor over the page's visible text.
type Extractor struct {
	page      Page
	llm       schemas.LLMClient
	validator schemas.Validator
	opts      Options
	logger    *zap.Logger
}

var _ schemas.Extractor = (*Extractor)(nil)

// NewExtractor returns an Extractor for page. validator may be nil, in
// which case model output is returned unchecked.
func NewExtractor(page Page, llm schemas.LLMClient, validator schemas.Validator, logger *zap.Logger, opts Options) *Extractor {
	return &Extractor{
		page:      page,
		llm:       llm,
		validator: validator,
		opts:      opts.withDefaults(),
		logger:    logger.Named("extractor"),
	}
}

// Extract sends the instruction and the page text to the model in JSON mode
// and returns the decoded object once it matches req.Schema.
func (e *Extractor) Extract(ctx context.Context, req schemas.ExtractRequest) (schemas.ExtractResult, error) {
	schema := req.Schema
	if schema == nil {
		schema = schemas.DefaultExtractSchema()
	}
	if schema.Type != genai.TypeObject {
		return nil, schemas.NewUsageError("", "extraction schemas must describe an object, got %q", schema.Type)
	}

	document, err := e.page.Content(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to read page content: %w", err)
	}
	text, err := PageText(document, e.opts.MaxPageChars)
	if err != nil {
		return nil, fmt.Errorf("failed to parse page content: %w", err)
	}

	raw, err := e.llm.Generate(ctx, schemas.GenerationRequest{
		SystemPrompt: extractSystemPrompt,
		UserPrompt:   extractUserPrompt(req.Instruction, text),
		Options:      schemas.GenerationOptions{ForceJSONFormat: true, ResponseSchema: schema},
	})
	if err != nil {
		return nil, fmt.Errorf("llm generation failed: %w", err)
	}

	parsed, err := llmutil.ParseJSONResponse[map[string]any](raw)
	if err != nil {
		e.logger.Warn("Failed to decode extraction response.", zap.String("raw_response", raw), zap.Error(err))
		return nil, err
	}
	out := *parsed
	if e.validator != nil {
		if err := e.validator.Validate(schema, out); err != nil {
			return nil, fmt.Errorf("extraction did not match the schema: %w", err)
		}
	}

	e.logger.Debug("Extraction complete.", zap.Int("page_chars", len(text)), zap.Int("fields", len(out)))
	return schemas.ExtractResult(out), nil
}
