// Package utils holds small helpers shared by pmcrew packages.
package utils

import (
	"fmt"
	"sync"

	"github.com/pkoukk/tiktoken-go"
)

// TokenCounter counts tokens the way the target model's tokenizer does.
type TokenCounter struct {
	encoding *tiktoken.Tiktoken
	model    string
}

// Message represents a message for token counting
type Message struct {
	Role    string
	Content string
}

type cachedEncoding struct {
	encoding *tiktoken.Tiktoken
	err      error
}

var (
	// Encodings load BPE ranks on first use; failures are cached too so an
	// offline process does not retry on every call.
	encodingCache = make(map[string]cachedEncoding)
	cacheMu       sync.Mutex
)

// NewTokenCounter creates a counter for specific model
func NewTokenCounter(model string) (*TokenCounter, error) {
	cacheMu.Lock()
	defer cacheMu.Unlock()

	cached, exists := encodingCache[model]
	if !exists {
		encoding, err := tiktoken.EncodingForModel(model)
		if err != nil {
			encoding, err = tiktoken.GetEncoding(GetEncodingForModel(model))
		}
		if err != nil {
			err = fmt.Errorf("failed to get encoding: %w", err)
		}
		cached = cachedEncoding{encoding: encoding, err: err}
		encodingCache[model] = cached
	}

	if cached.err != nil {
		return nil, cached.err
	}
	return &TokenCounter{encoding: cached.encoding, model: model}, nil
}

// Count returns the token count of text. A nil counter estimates.
func (tc *TokenCounter) Count(text string) int {
	if tc == nil || tc.encoding == nil {
		return EstimateTokens(text)
	}
	return len(tc.encoding.Encode(text, nil, nil))
}

// CountMessages counts tokens in message list (includes role overhead)
// Based on OpenAI's token counting format:
// https://github.com/openai/openai-cookbook/blob/main/examples/How_to_count_tokens_with_tiktoken.ipynb
func (tc *TokenCounter) CountMessages(messages []Message) int {
	const tokensPerMessage = 3 // <|start|>role|message<|end|>

	totalTokens := 0
	for _, msg := range messages {
		totalTokens += tokensPerMessage
		totalTokens += tc.Count(msg.Role)
		totalTokens += tc.Count(msg.Content)
	}

	// Every reply is primed with <|start|>assistant<|message|>
	return totalTokens + 3
}

// GetModel returns the model name this counter is configured for
func (tc *TokenCounter) GetModel() string {
	if tc == nil {
		return ""
	}
	return tc.model
}

// EstimateTokens is the 4-characters-per-token rule of thumb, used when no
// tokenizer is available.
func EstimateTokens(text string) int {
	if text == "" {
		return 0
	}
	return len(text)/4 + 1
}

// GetEncodingForModel returns the appropriate encoding name for a model
func GetEncodingForModel(model string) string {
	prefixes := []struct {
		prefix   string
		encoding string
	}{
		{"gpt-4o", "o200k_base"},
		{"gpt-4.1", "o200k_base"},
		{"o1", "o200k_base"},
		{"o3", "o200k_base"},
		{"o4", "o200k_base"},
		{"gpt-4", "cl100k_base"},
		{"gpt-3.5-turbo", "cl100k_base"},
	}

	for _, p := range prefixes {
		if len(model) >= len(p.prefix) && model[:len(p.prefix)] == p.prefix {
			return p.encoding
		}
	}

	return "cl100k_base"
}
