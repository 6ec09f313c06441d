// Package config loads pmcrew's typed configuration from YAML, .env files
// and the environment.
//
// Loading follows a fixed pipeline: read the file, expand ${VAR} references,
// decode into Config, apply environment overrides, SetDefaults, Validate.
// The result is passed by pointer to every component at startup.
package config

import (
	"errors"
	"fmt"

	"github.com/kadirpekel/pmcrew/pkg/observability"
)

var (
	// ErrMissingAPIKey is returned when no LLM API key is configured.
	ErrMissingAPIKey = errors.New("LLM API key is not configured (set OPENAI_API_KEY)")

	// ErrMissingModel is returned when no LLM model is configured.
	ErrMissingModel = errors.New("LLM model is not configured (set OPENAI_MODEL)")
)

// Config is the root configuration.
//
// Example:
//
//	llm:
//	  model: gpt-4o-mini
//	  api_key: ${OPENAI_API_KEY}
//	search:
//	  max_results: 5
//	server:
//	  addr: ":8501"
//	storage:
//	  path: pmcrew.db
//	crew:
//	  file: crew.yaml
//	  verbose: true
type Config struct {
	LLM           LLMConfig            `yaml:"llm,omitempty"`
	Search        SearchConfig         `yaml:"search,omitempty"`
	Server        ServerConfig         `yaml:"server,omitempty"`
	Storage       StorageConfig        `yaml:"storage,omitempty"`
	Logger        LoggerConfig         `yaml:"logger,omitempty"`
	Observability observability.Config `yaml:"observability,omitempty"`
	Crew          CrewConfig           `yaml:"crew,omitempty"`
}

// SetDefaults applies default values to every section.
func (c *Config) SetDefaults() {
	c.LLM.SetDefaults()
	c.Search.SetDefaults()
	c.Server.SetDefaults()
	c.Storage.SetDefaults()
	c.Logger.SetDefaults()
	c.Observability.SetDefaults()
	c.Crew.SetDefaults()
}

// Validate checks every section and returns the first error found.
func (c *Config) Validate() error {
	if err := c.LLM.Validate(); err != nil {
		return fmt.Errorf("llm: %w", err)
	}
	if err := c.Search.Validate(); err != nil {
		return fmt.Errorf("search: %w", err)
	}
	if err := c.Server.Validate(); err != nil {
		return fmt.Errorf("server: %w", err)
	}
	if err := c.Logger.Validate(); err != nil {
		return fmt.Errorf("logger: %w", err)
	}
	if err := c.Observability.Validate(); err != nil {
		return fmt.Errorf("observability: %w", err)
	}
	if err := c.Crew.Validate(); err != nil {
		return fmt.Errorf("crew: %w", err)
	}
	return nil
}

// Default returns a Config with defaults applied and no file or environment
// input.
func Default() *Config {
	cfg := &Config{}
	cfg.SetDefaults()
	return cfg
}
