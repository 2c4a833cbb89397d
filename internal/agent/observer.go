package agent

import (
	"context"
	"fmt"

	"go.uber.org/zap"
	"google.golang.org/genai"

	"github.com/xkilldash9x/pagehand/api/schemas"
	"github.com/xkilldash9x/pagehand/internal/llmutil"
)

var observeResponseSchema = &genai.Schema{
	Type: genai.TypeObject,
	Properties: map[string]*genai.Schema{
		"elements": {
			Type: genai.TypeArray,
			Items: &genai.Schema{
				Type: genai.TypeObject,
				Properties: map[string]*genai.Schema{
					"elementId":   {Type: genai.TypeString},
					"description": {Type: genai.TypeString},
				},
				Required: []string{"elementId", "description"},
			},
		},
	},
	Required: []string{"elements"},
}

type observeDecision struct {
	Elements []struct {
		ElementID   string `json:"elementId"`
		Description string `json:"description"`
	} `json:"elements"`
}

// Observer narrows a page snapshot to the elements matching an instruction.
type Observer struct {
	page   Page
	llm    schemas.LLMClient
	logger *zap.Logger
}

// NewObserver returns an Observer for page.
func NewObserver(page Page, llm schemas.LLMClient, logger *zap.Logger) *Observer {
	return &Observer{page: page, llm: llm, logger: logger.Named("observer")}
}

// Observe returns the snapshot elements the model considers relevant to
// instruction, in the model's order, each with its description. Ids the
// model invents are dropped.
func (o *Observer) Observe(ctx context.Context, instruction string) ([]schemas.ObservedElement, error) {
	elements, err := o.page.Snapshot(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to observe page: %w", err)
	}
	if len(elements) == 0 {
		return nil, nil
	}

	raw, err := o.llm.Generate(ctx, schemas.GenerationRequest{
		SystemPrompt: observeSystemPrompt,
		UserPrompt:   observeUserPrompt(instruction, elements),
		Options:      schemas.GenerationOptions{ForceJSONFormat: true, ResponseSchema: observeResponseSchema},
	})
	if err != nil {
		return nil, fmt.Errorf("llm generation failed: %w", err)
	}

	decision, err := llmutil.ParseJSONResponse[observeDecision](raw)
	if err != nil {
		return nil, err
	}

	byID := make(map[string]schemas.ObservedElement, len(elements))
	for _, el := range elements {
		byID[el.EncodedID] = el
	}
	out := make([]schemas.ObservedElement, 0, len(decision.Elements))
	seen := make(map[string]bool, len(decision.Elements))
	for _, pick := range decision.Elements {
		el, ok := byID[pick.ElementID]
		if !ok || seen[pick.ElementID] {
			o.logger.Debug("Dropping element the model returned.", zap.String("element_id", pick.ElementID))
			continue
		}
		seen[pick.ElementID] = true
		el.Description = pick.Description
		out = append(out, el)
	}
	return out, nil
}
