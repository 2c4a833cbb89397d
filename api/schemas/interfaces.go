package schemas

import (
	"context"

	"google.golang.org/genai"
)

// -- Element Handles --

// Locator is a lazily resolved handle to zero or more elements on a live page.
// Nothing is looked up when a Locator is built; every call re-queries the DOM,
// so a Locator never holds a stale node across navigations or re-renders.
type Locator interface {
	Click(ctx context.Context) error
	DblClick(ctx context.Context) error
	Hover(ctx context.Context) error
	Focus(ctx context.Context) error
	Fill(ctx context.Context, value string) error
	Press(ctx context.Context, key string) error
	Check(ctx context.Context) error
	Uncheck(ctx context.Context) error
	SelectOption(ctx context.Context, value string) error

	InnerText(ctx context.Context) (string, error)
	TextContent(ctx context.Context) (string, error)
	InputValue(ctx context.Context) (string, error)
	InnerHTML(ctx context.Context) (string, error)
	// AllTextContents returns the textContent of every matched element in document order.
	AllTextContents(ctx context.Context) ([]string, error)
	// GetAttribute returns "" when the attribute is absent.
	GetAttribute(ctx context.Context, name string) (string, error)
	// Count reports how many elements currently match.
	Count(ctx context.Context) (int, error)

	String() string
}

// OverlayClearer removes visual overlays that could intercept synthetic input.
type OverlayClearer interface {
	ClearOverlays(ctx context.Context) error
}

// -- AI Collaborators --

// Actor turns a natural language instruction into a concrete page action.
type Actor interface {
	Act(ctx context.Context, req ActRequest) (ActResult, error)
}

// Extractor turns a natural language instruction into structured data read from the page.
type Extractor interface {
	Extract(ctx context.Context, req ExtractRequest) (ExtractResult, error)
}

// Validator checks a decoded value against a response schema.
type Validator interface {
	Validate(schema *genai.Schema, value any) error
}

// -- LLM Client --

// GenerationOptions controls sampling and output format for a single generation.
type GenerationOptions struct {
	Temperature     float64 `json:"temperature"`
	ForceJSONFormat bool    `json:"force_json_format"`
	// ResponseSchema constrains JSON output when ForceJSONFormat is set.
	ResponseSchema *genai.Schema `json:"response_schema,omitempty"`
}

// GenerationRequest is a complete prompt for the language model.
type GenerationRequest struct {
	SystemPrompt string            `json:"system_prompt"`
	UserPrompt   string            `json:"user_prompt"`
	Options      GenerationOptions `json:"options"`
}

// LLMClient defines a standard interface for interacting with a Large Language
// Model, abstracting the specifics of the underlying provider.
type LLMClient interface {
	Generate(ctx context.Context, req GenerationRequest) (string, error)
	Close() error
}
