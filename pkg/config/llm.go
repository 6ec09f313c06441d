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

package config

import (
	"fmt"
	"time"
)

const (
	DefaultBaseURL    = "https://api.openai.com/v1"
	DefaultMaxTokens  = 4096
	DefaultLLMTimeout = 120 * time.Second
	DefaultMaxRetries = 5
)

// LLMConfig configures the chat model shared by every agent.
type LLMConfig struct {
	// Provider type. Only "openai" (and OpenAI-compatible endpoints) is supported.
	Provider string `yaml:"provider,omitempty"`

	// Model name (e.g., "gpt-4o-mini").
	Model string `yaml:"model,omitempty"`

	// APIKey for authentication. Supports ${VAR} expansion.
	APIKey string `yaml:"api_key,omitempty"`

	// BaseURL overrides the default API endpoint.
	BaseURL string `yaml:"base_url,omitempty"`

	// Temperature for generation. Default: 0.
	Temperature *float64 `yaml:"temperature,omitempty"`

	// MaxTokens limits response length.
	MaxTokens int `yaml:"max_tokens,omitempty"`

	// Timeout bounds a single HTTP request to the provider.
	Timeout time.Duration `yaml:"timeout,omitempty"`

	// MaxRetries bounds rate-limit retries.
	MaxRetries int `yaml:"max_retries,omitempty"`
}

// SetDefaults applies default values.
func (c *LLMConfig) SetDefaults() {
	if c.Provider == "" {
		c.Provider = "openai"
	}
	if c.BaseURL == "" {
		c.BaseURL = DefaultBaseURL
	}
	if c.Temperature == nil {
		temp := 0.0
		c.Temperature = &temp
	}
	if c.MaxTokens == 0 {
		c.MaxTokens = DefaultMaxTokens
	}
	if c.Timeout == 0 {
		c.Timeout = DefaultLLMTimeout
	}
	if c.MaxRetries == 0 {
		c.MaxRetries = DefaultMaxRetries
	}
}

// Validate checks the LLM configuration.
func (c *LLMConfig) Validate() error {
	if c.Provider != "openai" {
		return fmt.Errorf("unsupported provider %q (valid: openai)", c.Provider)
	}
	if c.APIKey == "" {
		return ErrMissingAPIKey
	}
	if c.Model == "" {
		return ErrMissingModel
	}
	if c.Temperature != nil && (*c.Temperature < 0 || *c.Temperature > 2) {
		return fmt.Errorf("temperature must be between 0 and 2, got %g", *c.Temperature)
	}
	if c.MaxTokens < 0 {
		return fmt.Errorf("max_tokens must be positive, got %d", c.MaxTokens)
	}
	if c.MaxRetries < 0 {
		return fmt.Errorf("max_retries must not be negative, got %d", c.MaxRetries)
	}
	return nil
}

// SearchConfig configures the web search tool given to the project manager.
type SearchConfig struct {
	// Endpoint of the DuckDuckGo HTML interface.
	Endpoint string `yaml:"endpoint,omitempty"`

	// MaxResults caps the number of results returned per query.
	MaxResults int `yaml:"max_results,omitempty"`

	// Region is the DuckDuckGo region code (kl parameter), e.g. "br-pt".
	Region string `yaml:"region,omitempty"`

	// Timeout bounds a single search request.
	Timeout time.Duration `yaml:"timeout,omitempty"`
}

// SetDefaults applies default values.
func (c *SearchConfig) SetDefaults() {
	if c.Endpoint == "" {
		c.Endpoint = "https://html.duckduckgo.com/html/"
	}
	if c.MaxResults == 0 {
		c.MaxResults = 5
	}
	if c.Region == "" {
		c.Region = "wt-wt"
	}
	if c.Timeout == 0 {
		c.Timeout = 15 * time.Second
	}
}

// Validate checks the search configuration.
func (c *SearchConfig) Validate() error {
	if c.MaxResults < 1 || c.MaxResults > 25 {
		return fmt.Errorf("max_results must be between 1 and 25, got %d", c.MaxResults)
	}
	return nil
}
