package agent

import (
	"context"
	"sync"

	"github.com/chromedp/chromedp"
	"github.com/stretchr/testify/mock"
	"google.golang.org/genai"

	"github.com/xkilldash9x/pagehand/api/schemas"
)

// MockLLMClient mocks schemas.LLMClient.
type MockLLMClient struct {
	mock.Mock
}

func (m *MockLLMClient) Generate(ctx context.Context, req schemas.GenerationRequest) (string, error) {
	args := m.Called(ctx, req)
	return args.String(0), args.Error(1)
}

func (m *MockLLMClient) Close() error { return nil }

// MockValidator mocks schemas.Validator.
type MockValidator struct {
	mock.Mock
}

func (m *MockValidator) Validate(schema *genai.Schema, value any) error {
	return m.Called(schema, value).Error(0)
}

// fakePage serves a fixed snapshot and document and records every action
// run against it without executing any.
type fakePage struct {
	elements    []schemas.ObservedElement
	snapshotErr error
	html        string

	mu      sync.Mutex
	actions []chromedp.Action
}

func (p *fakePage) RunActions(_ context.Context, actions ...chromedp.Action) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.actions = append(p.actions, actions...)
	return nil
}

func (p *fakePage) RunBackgroundActions(ctx context.Context, actions ...chromedp.Action) error {
	return p.RunActions(ctx, actions...)
}

func (p *fakePage) Snapshot(context.Context) ([]schemas.ObservedElement, error) {
	return p.elements, p.snapshotErr
}

func (p *fakePage) Content(context.Context) (string, error) { return p.html, nil }

func (p *fakePage) recorded() []chromedp.Action {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]chromedp.Action(nil), p.actions...)
}

var checkoutElements = []schemas.ObservedElement{
	{EncodedID: "0-12", BackendNodeID: 12, Tag: "input", Attributes: map[string]string{"id": "q", "type": "search"}},
	{EncodedID: "0-15", BackendNodeID: 15, Tag: "button", Text: "Buy now", Attributes: map[string]string{"id": "buy"}},
	{EncodedID: "1-4", BackendNodeID: 4, FrameID: "F1", Tag: "a", Text: "Terms", Attributes: map[string]string{"href": "/terms"}},
}
