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

package openai

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kadirpekel/pmcrew/pkg/model"
	"github.com/kadirpekel/pmcrew/pkg/tool"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	temp := 0.0
	c, err := New(Config{
		APIKey:      "sk-test",
		Model:       "gpt-4o-mini",
		BaseURL:     srv.URL + "/",
		Temperature: &temp,
		MaxRetries:  1,
	})
	require.NoError(t, err)
	return c
}

func TestNew_Validation(t *testing.T) {
	_, err := New(Config{Model: "gpt-4o"})
	assert.EqualError(t, err, "API key is required")

	_, err = New(Config{APIKey: "sk"})
	assert.EqualError(t, err, "model is required")

	c, err := New(Config{APIKey: "sk", Model: "gpt-4o"})
	require.NoError(t, err)
	assert.Equal(t, "gpt-4o", c.Name())
	assert.Equal(t, model.ProviderOpenAI, c.Provider())
	assert.Equal(t, defaultBaseURL, c.baseURL)
}

func TestGenerateContent_NonStreaming(t *testing.T) {
	var captured chatRequest
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer sk-test", r.Header.Get("Authorization"))
		body, _ := io.ReadAll(r.Body)
		assert.NoError(t, json.Unmarshal(body, &captured))

		_, _ = io.WriteString(w, `{
			"choices": [{
				"message": {"role": "assistant", "content": null, "tool_calls": [
					{"id": "call_1", "type": "function", "function": {"name": "duckduckgo_search", "arguments": "{\"query\":\"PMBOK 7\"}"}}
				]},
				"finish_reason": "tool_calls"
			}],
			"usage": {"prompt_tokens": 12, "completion_tokens": 8, "total_tokens": 20}
		}`)
	})

	searchDef := tool.Definition{Name: "duckduckgo_search", Description: "Search", Parameters: map[string]any{"type": "object"}}
	req := &model.Request{
		SystemInstruction: "Você é Gerente de Projeto.",
		Messages: []*model.Message{
			model.UserMessage("Elaborar os documentos"),
		},
		Tools: []tool.Definition{searchDef},
	}

	resp, err := model.Final(c.GenerateContent(context.Background(), req, false))
	require.NoError(t, err)

	require.Len(t, resp.ToolCalls, 1)
	assert.Equal(t, "call_1", resp.ToolCalls[0].ID)
	assert.Equal(t, "duckduckgo_search", resp.ToolCalls[0].Name)
	assert.Equal(t, map[string]any{"query": "PMBOK 7"}, resp.ToolCalls[0].Args)
	assert.Equal(t, model.FinishReasonToolCalls, resp.FinishReason)
	assert.Equal(t, &model.Usage{PromptTokens: 12, CompletionTokens: 8, TotalTokens: 20}, resp.Usage)

	assert.Equal(t, "gpt-4o-mini", captured.Model)
	require.Len(t, captured.Messages, 2)
	assert.Equal(t, "system", captured.Messages[0].Role)
	assert.Equal(t, "user", captured.Messages[1].Role)
	require.NotNil(t, captured.Temperature)
	assert.Equal(t, 0.0, *captured.Temperature)
	require.Len(t, captured.Tools, 1)
	assert.Equal(t, "duckduckgo_search", captured.Tools[0].Function.Name)
	assert.False(t, captured.Stream)
}

func TestGenerateContent_ToolHistoryRoundTrip(t *testing.T) {
	var captured map[string]any
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewDecoder(r.Body).Decode(&captured)
		_, _ = io.WriteString(w, `{"choices":[{"message":{"role":"assistant","content":"Final Answer"},"finish_reason":"stop"}]}`)
	})

	req := &model.Request{Messages: []*model.Message{
		model.UserMessage("task"),
		{Role: model.RoleAssistant, ToolCalls: []tool.ToolCall{{ID: "c1", Name: "ask_question", Args: map[string]any{"question": "q"}}}},
		model.ToolResultMessage("c1", "answer"),
	}}

	resp, err := model.Final(c.GenerateContent(context.Background(), req, false))
	require.NoError(t, err)
	assert.Equal(t, "Final Answer", resp.Content)
	assert.Nil(t, resp.Usage)

	messages := captured["messages"].([]any)
	require.Len(t, messages, 3)
	assistant := messages[1].(map[string]any)
	assert.Nil(t, assistant["content"])
	call := assistant["tool_calls"].([]any)[0].(map[string]any)
	assert.Equal(t, `{"question":"q"}`, call["function"].(map[string]any)["arguments"])
	toolMsg := messages[2].(map[string]any)
	assert.Equal(t, "tool", toolMsg["role"])
	assert.Equal(t, "c1", toolMsg["tool_call_id"])
}

func TestGenerateContent_Streaming(t *testing.T) {
	chunks := []string{
		`{"choices":[{"delta":{"role":"assistant","content":"Termo "}}]}`,
		`{"choices":[{"delta":{"content":"de Abertura"}}]}`,
		`{"choices":[{"delta":{"tool_calls":[{"index":0,"id":"call_a","type":"function","function":{"name":"delegate_work","arguments":""}}]}}]}`,
		`{"choices":[{"delta":{"tool_calls":[{"index":0,"function":{"arguments":"{\"task\": \"Plano"}}]}}]}`,
		`{"choices":[{"delta":{"tool_calls":[{"index":1,"id":"call_b","type":"function","function":{"name":"ask_question","arguments":"{}"}}]}}]}`,
		`{"choices":[{"delta":{"tool_calls":[{"index":0,"function":{"arguments":" de Riscos\"}"}}]}}]}`,
		`{"choices":[{"delta":{},"finish_reason":"tool_calls"}]}`,
		`{"choices":[],"usage":{"prompt_tokens":5,"completion_tokens":7,"total_tokens":12}}`,
	}

	var stream bool
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		var req chatRequest
		_ = json.NewDecoder(r.Body).Decode(&req)
		stream = req.Stream && req.StreamOptions != nil && req.StreamOptions.IncludeUsage

		w.Header().Set("Content-Type", "text/event-stream")
		for _, chunk := range chunks {
			fmt.Fprintf(w, "data: %s\n\n", chunk)
		}
		fmt.Fprint(w, "data: [DONE]\n\n")
	})

	var partials []string
	var final *model.Response
	for resp, err := range c.GenerateContent(context.Background(), &model.Request{}, true) {
		require.NoError(t, err)
		if resp.Partial {
			partials = append(partials, resp.Content)
		} else {
			final = resp
		}
	}

	assert.True(t, stream)
	assert.Equal(t, []string{"Termo ", "de Abertura"}, partials)
	require.NotNil(t, final)
	assert.Equal(t, "Termo de Abertura", final.Content)
	assert.Equal(t, model.FinishReasonToolCalls, final.FinishReason)
	assert.Equal(t, 12, final.Usage.TotalTokens)
	require.Len(t, final.ToolCalls, 2)
	assert.Equal(t, "call_a", final.ToolCalls[0].ID)
	assert.Equal(t, map[string]any{"task": "Plano de Riscos"}, final.ToolCalls[0].Args)
	assert.Equal(t, "ask_question", final.ToolCalls[1].Name)
}

func TestGenerateContent_APIError(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = io.WriteString(w, `{"error":{"message":"Incorrect API key provided","type":"invalid_request_error","code":"invalid_api_key"}}`)
	})

	_, err := model.Final(c.GenerateContent(context.Background(), &model.Request{}, false))
	require.Error(t, err)

	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusUnauthorized, apiErr.StatusCode)
	assert.Contains(t, err.Error(), "Incorrect API key provided")
	assert.Contains(t, err.Error(), "invalid_api_key")
}

func TestGenerateContent_PlainErrorBody(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "upstream exploded", http.StatusBadRequest)
	})

	_, err := model.Final(c.GenerateContent(context.Background(), &model.Request{}, true))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "status 400")
	assert.Contains(t, err.Error(), "upstream exploded")
}

func TestGenerateContent_Cancelled(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, `{"choices":[{"message":{"content":"x"}}]}`)
	})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := model.Final(c.GenerateContent(ctx, &model.Request{}, false))
	assert.ErrorIs(t, err, context.Canceled)
}
