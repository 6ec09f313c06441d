// Copyright 2025 Kadir Pekel
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package model defines the LLM abstraction used by agents.
//
// GenerateContent returns an iterator. Without streaming it yields exactly
// one complete Response; with streaming it yields partial Responses
// (Partial=true) followed by one aggregated Response (Partial=false).
package model

import (
	"context"
	"iter"
	"strings"

	"github.com/kadirpekel/pmcrew/pkg/tool"
)

// LLM is a chat model.
type LLM interface {
	// Name returns the model identifier.
	Name() string

	// Provider returns the provider type.
	Provider() Provider

	// GenerateContent produces responses for the given request.
	GenerateContent(ctx context.Context, req *Request, stream bool) iter.Seq2[*Response, error]

	// Close releases resources held by the model.
	Close() error
}

// Provider identifies an LLM provider.
type Provider string

const (
	ProviderOpenAI  Provider = "openai"
	ProviderUnknown Provider = "unknown"
)

// Role is the author of a message.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)

// Message is one turn of a conversation.
type Message struct {
	Role    Role
	Content string

	// ToolCalls requested by the assistant.
	ToolCalls []tool.ToolCall

	// ToolCallID links a tool result to the call that produced it.
	ToolCallID string
}

// UserMessage returns a user message.
func UserMessage(content string) *Message {
	return &Message{Role: RoleUser, Content: content}
}

// ToolResultMessage returns the message answering a tool call.
func ToolResultMessage(callID, content string) *Message {
	return &Message{Role: RoleTool, Content: content, ToolCallID: callID}
}

// Request is the input to GenerateContent.
type Request struct {
	SystemInstruction string

	Messages []*Message

	// Tools available to the model. Empty disables tool calling.
	Tools []tool.Definition

	Config *GenerateConfig
}

// GenerateConfig overrides per-request generation settings.
type GenerateConfig struct {
	Temperature *float64

	MaxTokens *int

	TopP *float64

	StopSequences []string
}

// Clone returns a deep copy of the config.
func (c *GenerateConfig) Clone() *GenerateConfig {
	if c == nil {
		return nil
	}

	clone := *c

	if c.Temperature != nil {
		temp := *c.Temperature
		clone.Temperature = &temp
	}
	if c.MaxTokens != nil {
		maxTok := *c.MaxTokens
		clone.MaxTokens = &maxTok
	}
	if c.TopP != nil {
		topP := *c.TopP
		clone.TopP = &topP
	}
	if c.StopSequences != nil {
		clone.StopSequences = append([]string(nil), c.StopSequences...)
	}

	return &clone
}

// Response is a model reply, or a fragment of one when Partial is set.
type Response struct {
	Content string

	Partial bool

	ToolCalls []tool.ToolCall

	Usage *Usage

	FinishReason FinishReason
}

// Usage reports token consumption.
type Usage struct {
	PromptTokens     int
	CompletionTokens int
	TotalTokens      int
}

// Add accumulates other into u.
func (u *Usage) Add(other *Usage) {
	if other == nil {
		return
	}
	u.PromptTokens += other.PromptTokens
	u.CompletionTokens += other.CompletionTokens
	u.TotalTokens += other.TotalTokens
}

// FinishReason explains why generation stopped.
type FinishReason string

const (
	FinishReasonStop      FinishReason = "stop"
	FinishReasonLength    FinishReason = "length"
	FinishReasonToolCalls FinishReason = "tool_calls"
	FinishReasonContent   FinishReason = "content_filter"
)

// HasToolCalls reports whether the model requested tool calls.
func (r *Response) HasToolCalls() bool {
	return r != nil && len(r.ToolCalls) > 0
}

// ToMessage converts the response to an assistant message for the history.
func (r *Response) ToMessage() *Message {
	if r == nil {
		return nil
	}
	return &Message{
		Role:      RoleAssistant,
		Content:   r.Content,
		ToolCalls: r.ToolCalls,
	}
}

// StreamingAggregator assembles partial responses into the final one.
type StreamingAggregator struct {
	text         strings.Builder
	toolCalls    []tool.ToolCall
	usage        *Usage
	finishReason FinishReason
}

// NewStreamingAggregator creates an empty aggregator.
func NewStreamingAggregator() *StreamingAggregator {
	return &StreamingAggregator{}
}

// AddText appends a text delta and returns the partial response to emit.
func (a *StreamingAggregator) AddText(delta string) *Response {
	a.text.WriteString(delta)
	return &Response{Content: delta, Partial: true}
}

// SetToolCalls records the completed tool calls.
func (a *StreamingAggregator) SetToolCalls(calls []tool.ToolCall) {
	a.toolCalls = calls
}

// SetUsage records token usage.
func (a *StreamingAggregator) SetUsage(usage *Usage) {
	a.usage = usage
}

// SetFinishReason records why generation stopped.
func (a *StreamingAggregator) SetFinishReason(reason FinishReason) {
	a.finishReason = reason
}

// Close returns the aggregated response.
func (a *StreamingAggregator) Close() *Response {
	return &Response{
		Content:      a.text.String(),
		ToolCalls:    a.toolCalls,
		Usage:        a.usage,
		FinishReason: a.finishReason,
	}
}

// Final drains seq and returns the last non-partial response.
func Final(seq iter.Seq2[*Response, error]) (*Response, error) {
	var final *Response
	for resp, err := range seq {
		if err != nil {
			return nil, err
		}
		if resp != nil && !resp.Partial {
			final = resp
		}
	}
	return final, nil
}
