// Package testutils provides testing utilities for pmcrew packages.
package testutils

import (
	"context"
	"errors"
	"iter"
	"strings"
	"sync"
	"time"

	"github.com/kadirpekel/pmcrew/pkg/config"
	"github.com/kadirpekel/pmcrew/pkg/model"
	"github.com/kadirpekel/pmcrew/pkg/tool"
)

// ErrNoMoreResponses is returned by MockLLM once its script is exhausted.
var ErrNoMoreResponses = errors.New("mock llm: no more responses")

// TestConfig returns a minimal valid configuration for testing
func TestConfig() *config.Config {
	cfg := config.Default()
	cfg.LLM.APIKey = "test-key"
	cfg.LLM.Model = "gpt-4o-mini"
	cfg.Storage.Disabled = true
	cfg.SetDefaults()
	return cfg
}

// TestContextWithTimeout returns a context cancelled when the test ends or
// after timeout, whichever comes first.
func TestContextWithTimeout(t interface{ Cleanup(func()) }, timeout time.Duration) context.Context {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	t.Cleanup(cancel)
	return ctx
}

// TextResponse is a final answer without tool calls.
func TextResponse(content string) *model.Response {
	return &model.Response{
		Content:      content,
		FinishReason: model.FinishReasonStop,
		Usage:        &model.Usage{PromptTokens: 10, CompletionTokens: 5, TotalTokens: 15},
	}
}

// ToolCallResponse is a response requesting the given tool calls.
func ToolCallResponse(calls ...tool.ToolCall) *model.Response {
	return &model.Response{
		ToolCalls:    calls,
		FinishReason: model.FinishReasonToolCalls,
		Usage:        &model.Usage{PromptTokens: 10, CompletionTokens: 5, TotalTokens: 15},
	}
}

// MockLLM implements model.LLM with scripted responses.
type MockLLM struct {
	ModelName string

	// Responses are returned in order, one per call.
	Responses []*model.Response

	// GenerateFunc, when set, replaces the script.
	GenerateFunc func(ctx context.Context, req *model.Request) (*model.Response, error)

	// GenerateDelay is waited before answering, honouring cancellation.
	GenerateDelay time.Duration

	mu       sync.Mutex
	requests []*model.Request
}

// NewMockLLM creates a mock that answers with responses in order.
func NewMockLLM(responses ...*model.Response) *MockLLM {
	return &MockLLM{ModelName: "mock-model", Responses: responses}
}

// Name returns the model name.
func (m *MockLLM) Name() string { return m.ModelName }

// Provider returns the provider type.
func (m *MockLLM) Provider() model.Provider { return model.ProviderUnknown }

// Close is a no-op.
func (m *MockLLM) Close() error { return nil }

// GenerateContent returns the next scripted response. With stream set the
// content is first emitted word by word as partial responses.
func (m *MockLLM) GenerateContent(ctx context.Context, req *model.Request, stream bool) iter.Seq2[*model.Response, error] {
	return func(yield func(*model.Response, error) bool) {
		resp, err := m.next(ctx, req)
		if err != nil {
			yield(nil, err)
			return
		}

		if stream && resp.Content != "" {
			agg := model.NewStreamingAggregator()
			for _, word := range strings.SplitAfter(resp.Content, " ") {
				if !yield(agg.AddText(word), nil) {
					return
				}
			}
			agg.SetToolCalls(resp.ToolCalls)
			agg.SetFinishReason(resp.FinishReason)
			agg.SetUsage(resp.Usage)
			resp = agg.Close()
		}

		yield(resp, nil)
	}
}

func (m *MockLLM) next(ctx context.Context, req *model.Request) (*model.Response, error) {
	m.mu.Lock()
	snapshot := *req
	snapshot.Messages = append([]*model.Message(nil), req.Messages...)
	snapshot.Tools = append([]tool.Definition(nil), req.Tools...)
	m.requests = append(m.requests, &snapshot)
	call := len(m.requests) - 1
	m.mu.Unlock()

	if m.GenerateDelay > 0 {
		select {
		case <-time.After(m.GenerateDelay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	if m.GenerateFunc != nil {
		return m.GenerateFunc(ctx, &snapshot)
	}
	if call >= len(m.Responses) {
		return nil, ErrNoMoreResponses
	}
	return m.Responses[call], nil
}

// Requests returns the requests received so far.
func (m *MockLLM) Requests() []*model.Request {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]*model.Request(nil), m.requests...)
}

// Calls returns how many times the model was called.
func (m *MockLLM) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.requests)
}

var _ model.LLM = (*MockLLM)(nil)
