package utils

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGetEncodingForModel(t *testing.T) {
	tests := map[string]string{
		"gpt-4o":        "o200k_base",
		"gpt-4o-mini":   "o200k_base",
		"gpt-4.1-nano":  "o200k_base",
		"gpt-4-turbo":   "cl100k_base",
		"gpt-3.5-turbo": "cl100k_base",
		"llama3":        "cl100k_base",
	}
	for model, want := range tests {
		assert.Equal(t, want, GetEncodingForModel(model), model)
	}
}

func TestEstimateTokens(t *testing.T) {
	assert.Equal(t, 0, EstimateTokens(""))
	assert.Equal(t, 1, EstimateTokens("abc"))
	assert.Equal(t, 3, EstimateTokens("Plano de Riscos"))
}

func TestNilCounterEstimates(t *testing.T) {
	var tc *TokenCounter
	assert.Equal(t, EstimateTokens("Termo de Abertura"), tc.Count("Termo de Abertura"))
	assert.Equal(t, 3+1+3+3, tc.CountMessages([]Message{{Role: "user", Content: "Olá mundo"}}))
	assert.Empty(t, tc.GetModel())
}

func TestTokenCounter(t *testing.T) {
	counter, err := NewTokenCounter("gpt-4o")
	if err != nil {
		t.Skipf("tokenizer unavailable (offline?): %v", err)
	}

	assert.Equal(t, "gpt-4o", counter.GetModel())
	assert.Equal(t, 0, counter.Count(""))
	assert.Positive(t, counter.Count("Elaborar os documentos do projeto"))
	assert.Greater(t, counter.CountMessages([]Message{{Role: "user", Content: "hi"}}), counter.Count("hi"))
}

func TestEnsureParentDir(t *testing.T) {
	path := filepath.Join(t.TempDir(), "a", "b", "runs.db")
	require.NoError(t, EnsureParentDir(path))

	info, err := os.Stat(filepath.Dir(path))
	require.NoError(t, err)
	assert.True(t, info.IsDir())

	assert.NoError(t, EnsureParentDir("runs.db"))
}
