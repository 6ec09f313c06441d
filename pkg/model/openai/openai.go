// SPDX-License-Identifier: AGPL-3.0
// Copyright 2025 Kadir Pekel
//
// Licensed under the GNU Affero General Public License v3.0 (AGPL-3.0) (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     https://www.gnu.org/licenses/agpl-3.0.en.html
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package openai implements model.LLM on the OpenAI Chat Completions API.
// Any server exposing /chat/completions (Azure OpenAI proxies, vLLM,
// Ollama's OpenAI endpoint) works through Config.BaseURL.
package openai

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"iter"
	"log/slog"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/kadirpekel/pmcrew/pkg/httpclient"
	"github.com/kadirpekel/pmcrew/pkg/model"
	"github.com/kadirpekel/pmcrew/pkg/tool"
)

const (
	defaultBaseURL   = "https://api.openai.com/v1"
	defaultMaxTokens = 4096
	defaultTimeout   = 120 * time.Second
)

// Config configures the OpenAI client.
type Config struct {
	APIKey      string
	Model       string
	MaxTokens   int
	Temperature *float64
	BaseURL     string
	Timeout     time.Duration
	MaxRetries  int

	// HTTPClient overrides the transport; Timeout is ignored when set.
	HTTPClient *http.Client
}

// Client is an OpenAI chat model.
type Client struct {
	httpClient  *httpclient.Client
	apiKey      string
	baseURL     string
	modelName   string
	maxTokens   int
	temperature *float64
}

// New creates a new OpenAI client.
func New(cfg Config) (*Client, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("API key is required")
	}
	if cfg.Model == "" {
		return nil, fmt.Errorf("model is required")
	}

	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	baseURL = strings.TrimSuffix(baseURL, "/")

	maxTokens := cfg.MaxTokens
	if maxTokens == 0 {
		maxTokens = defaultMaxTokens
	}

	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = defaultTimeout
	}

	maxRetries := cfg.MaxRetries
	if maxRetries == 0 {
		maxRetries = 5
	}

	hc := cfg.HTTPClient
	if hc == nil {
		hc = &http.Client{Timeout: timeout}
	}

	return &Client{
		httpClient: httpclient.New(
			httpclient.WithHTTPClient(hc),
			httpclient.WithMaxRetries(maxRetries),
			httpclient.WithHeaderParser(httpclient.ParseOpenAIHeaders),
		),
		apiKey:      cfg.APIKey,
		baseURL:     baseURL,
		modelName:   cfg.Model,
		maxTokens:   maxTokens,
		temperature: cfg.Temperature,
	}, nil
}

// Name returns the model identifier.
func (c *Client) Name() string {
	return c.modelName
}

// Provider returns the provider type.
func (c *Client) Provider() model.Provider {
	return model.ProviderOpenAI
}

// GenerateContent produces responses for the given request.
//
// When stream=false it yields exactly one complete Response. When
// stream=true it yields partial text Responses followed by one aggregated
// Response with Partial=false.
func (c *Client) GenerateContent(ctx context.Context, req *model.Request, stream bool) iter.Seq2[*model.Response, error] {
	if stream {
		return c.generateStream(ctx, req)
	}

	return func(yield func(*model.Response, error) bool) {
		resp, err := c.generate(ctx, req)
		yield(resp, err)
	}
}

// Close releases resources.
func (c *Client) Close() error {
	return nil
}

func (c *Client) generate(ctx context.Context, req *model.Request) (*model.Response, error) {
	resp, err := c.send(ctx, c.buildRequest(req, false))
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var apiResp chatResponse
	if err := json.NewDecoder(resp.Body).Decode(&apiResp); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}
	if apiResp.Error != nil {
		return nil, apiResp.Error
	}

	return parseResponse(&apiResp)
}

func (c *Client) generateStream(ctx context.Context, req *model.Request) iter.Seq2[*model.Response, error] {
	return func(yield func(*model.Response, error) bool) {
		resp, err := c.send(ctx, c.buildRequest(req, true))
		if err != nil {
			yield(nil, err)
			return
		}
		defer resp.Body.Close()

		aggregator := model.NewStreamingAggregator()
		calls := make(map[int]*apiToolCall)
		reader := bufio.NewReader(resp.Body)

		for {
			line, err := reader.ReadBytes('\n')
			if err != nil && !errors.Is(err, io.EOF) {
				yield(nil, fmt.Errorf("stream read error: %w", err))
				return
			}
			done := errors.Is(err, io.EOF)

			line = bytes.TrimSpace(line)
			if bytes.HasPrefix(line, []byte("data:")) {
				data := bytes.TrimSpace(line[5:])
				if bytes.Equal(data, []byte("[DONE]")) {
					break
				}

				var chunk chatStreamChunk
				if err := json.Unmarshal(data, &chunk); err != nil {
					slog.Debug("Failed to parse streaming chunk", "error", err)
				} else {
					if chunk.Error != nil {
						yield(nil, chunk.Error)
						return
					}
					if chunk.Usage != nil {
						aggregator.SetUsage(chunk.Usage.toModel())
					}
					for _, choice := range chunk.Choices {
						if choice.FinishReason != "" {
							aggregator.SetFinishReason(model.FinishReason(choice.FinishReason))
						}
						accumulateToolCalls(calls, choice.Delta.ToolCalls)
						if choice.Delta.Content != "" {
							if !yield(aggregator.AddText(choice.Delta.Content), nil) {
								return
							}
						}
					}
				}
			}

			if done {
				break
			}
		}

		toolCalls, err := finishToolCalls(calls)
		if err != nil {
			yield(nil, err)
			return
		}
		aggregator.SetToolCalls(toolCalls)

		yield(aggregator.Close(), nil)
	}
}

// send posts the request and returns a 200 response or an error carrying
// the API's error message.
func (c *Client) send(ctx context.Context, apiReq *chatRequest) (*http.Response, error) {
	body, err := json.Marshal(apiReq)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)
	if apiReq.Stream {
		httpReq.Header.Set("Accept", "text/event-stream")
	}

	resp, err := c.httpClient.Do(httpReq)
	if resp != nil && resp.StatusCode != http.StatusOK {
		defer resp.Body.Close()
		bodyBytes, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
		if apiErr := parseErrorResponse(bodyBytes); apiErr != nil {
			apiErr.StatusCode = resp.StatusCode
			if err != nil {
				return nil, fmt.Errorf("request failed: %w: %w", err, apiErr)
			}
			return nil, apiErr
		}
		return nil, fmt.Errorf("API error (status %d): %s", resp.StatusCode, strings.TrimSpace(string(bodyBytes)))
	}
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	return resp, nil
}

func (c *Client) buildRequest(req *model.Request, stream bool) *chatRequest {
	apiReq := &chatRequest{
		Model:       c.modelName,
		Messages:    convertMessages(req),
		MaxTokens:   c.maxTokens,
		Temperature: c.temperature,
		Stream:      stream,
	}
	if stream {
		apiReq.StreamOptions = &streamOptions{IncludeUsage: true}
	}

	if cfg := req.Config; cfg != nil {
		if cfg.Temperature != nil {
			apiReq.Temperature = cfg.Temperature
		}
		if cfg.MaxTokens != nil {
			apiReq.MaxTokens = *cfg.MaxTokens
		}
		apiReq.TopP = cfg.TopP
		apiReq.Stop = cfg.StopSequences
	}

	for _, def := range req.Tools {
		params := def.Parameters
		if params == nil {
			params = map[string]any{"type": "object", "properties": map[string]any{}}
		}
		apiReq.Tools = append(apiReq.Tools, apiTool{
			Type: "function",
			Function: apiFunction{
				Name:        def.Name,
				Description: def.Description,
				Parameters:  params,
			},
		})
	}

	return apiReq
}

func convertMessages(req *model.Request) []apiMessage {
	messages := make([]apiMessage, 0, len(req.Messages)+1)
	if req.SystemInstruction != "" {
		messages = append(messages, apiMessage{Role: string(model.RoleSystem), Content: ptr(req.SystemInstruction)})
	}

	for _, m := range req.Messages {
		if m == nil {
			continue
		}
		msg := apiMessage{Role: string(m.Role), ToolCallID: m.ToolCallID}
		if m.Content != "" || len(m.ToolCalls) == 0 {
			msg.Content = ptr(m.Content)
		}
		for _, tc := range m.ToolCalls {
			msg.ToolCalls = append(msg.ToolCalls, apiToolCall{
				ID:   tc.ID,
				Type: "function",
				Function: apiFunctionCall{
					Name:      tc.Name,
					Arguments: tc.ArgsJSON(),
				},
			})
		}
		messages = append(messages, msg)
	}

	return messages
}

func parseResponse(resp *chatResponse) (*model.Response, error) {
	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("response contained no choices")
	}
	choice := resp.Choices[0]

	out := &model.Response{
		FinishReason: model.FinishReason(choice.FinishReason),
		Usage:        resp.Usage.toModel(),
	}
	if choice.Message.Content != nil {
		out.Content = *choice.Message.Content
	}

	for _, tc := range choice.Message.ToolCalls {
		call, err := parseToolCall(tc)
		if err != nil {
			return nil, err
		}
		out.ToolCalls = append(out.ToolCalls, call)
	}

	return out, nil
}

func parseToolCall(tc apiToolCall) (tool.ToolCall, error) {
	args := map[string]any{}
	if raw := strings.TrimSpace(tc.Function.Arguments); raw != "" {
		if err := json.Unmarshal([]byte(raw), &args); err != nil {
			return tool.ToolCall{}, fmt.Errorf("failed to parse arguments of tool call %s: %w", tc.Function.Name, err)
		}
	}
	return tool.ToolCall{ID: tc.ID, Name: tc.Function.Name, Args: args}, nil
}

// accumulateToolCalls merges streamed tool-call deltas keyed by index.
// The first delta of a call carries its id and name; later deltas append
// argument fragments.
func accumulateToolCalls(calls map[int]*apiToolCall, deltas []apiToolCall) {
	for _, d := range deltas {
		idx := len(calls)
		if d.Index != nil {
			idx = *d.Index
		} else if d.ID == "" && len(calls) > 0 {
			idx = len(calls) - 1
		}

		call, ok := calls[idx]
		if !ok {
			call = &apiToolCall{Type: "function"}
			calls[idx] = call
		}
		if d.ID != "" {
			call.ID = d.ID
		}
		if d.Function.Name != "" {
			call.Function.Name = d.Function.Name
		}
		call.Function.Arguments += d.Function.Arguments
	}
}

func finishToolCalls(calls map[int]*apiToolCall) ([]tool.ToolCall, error) {
	if len(calls) == 0 {
		return nil, nil
	}
	indexes := make([]int, 0, len(calls))
	for idx := range calls {
		indexes = append(indexes, idx)
	}
	sort.Ints(indexes)

	out := make([]tool.ToolCall, 0, len(indexes))
	for _, idx := range indexes {
		call, err := parseToolCall(*calls[idx])
		if err != nil {
			return nil, err
		}
		out = append(out, call)
	}
	return out, nil
}

// parseErrorResponse extracts error information from an API error body.
func parseErrorResponse(body []byte) *APIError {
	if len(body) == 0 {
		return nil
	}
	var errorResp struct {
		Error *APIError `json:"error"`
	}
	if err := json.Unmarshal(body, &errorResp); err == nil && errorResp.Error != nil && errorResp.Error.Message != "" {
		return errorResp.Error
	}
	return nil
}

func ptr[T any](v T) *T {
	return &v
}

var _ model.LLM = (*Client)(nil)
