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

package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/kadirpekel/pmcrew/pkg/config"
	"github.com/kadirpekel/pmcrew/pkg/model"
	"github.com/kadirpekel/pmcrew/pkg/model/openai"
	"github.com/kadirpekel/pmcrew/pkg/observability"
	"github.com/kadirpekel/pmcrew/pkg/pmcrew"
	"github.com/kadirpekel/pmcrew/pkg/runstore"
	"github.com/kadirpekel/pmcrew/pkg/tool"
	"github.com/kadirpekel/pmcrew/pkg/tool/searchtool"
)

// environment is everything a run needs, built from configuration.
type environment struct {
	cfg        *config.Config
	definition *pmcrew.Definition
	llm        model.LLM
	tools      []tool.CallableTool
	store      *runstore.Store
	obs        *observability.Manager
}

// loadEnvironment loads configuration and the crew definition and builds
// the model client, tools, run store and observability. crewFile overrides
// crew.file from the config.
func loadEnvironment(ctx context.Context, cli *CLI, logs *logSettings, crewFile string) (*environment, error) {
	cfg, err := config.Load(cli.Config)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if err := logs.applyConfig(cfg.Logger); err != nil {
		return nil, err
	}
	if cli.Config != "" {
		slog.Info("Loaded configuration", "path", cli.Config)
	}
	if crewFile != "" {
		cfg.Crew.File = crewFile
	}

	def, err := pmcrew.LoadDefinition(cfg.Crew.File)
	if err != nil {
		return nil, err
	}

	llm, err := openai.New(openai.Config{
		APIKey:      cfg.LLM.APIKey,
		Model:       cfg.LLM.Model,
		MaxTokens:   cfg.LLM.MaxTokens,
		Temperature: cfg.LLM.Temperature,
		BaseURL:     cfg.LLM.BaseURL,
		Timeout:     cfg.LLM.Timeout,
		MaxRetries:  cfg.LLM.MaxRetries,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create LLM client: %w", err)
	}

	env := &environment{
		cfg:        cfg,
		definition: def,
		llm:        llm,
		tools: []tool.CallableTool{searchtool.New(searchtool.Config{
			Endpoint:   cfg.Search.Endpoint,
			MaxResults: cfg.Search.MaxResults,
			Region:     cfg.Search.Region,
			Timeout:    cfg.Search.Timeout,
		})},
	}

	env.obs = observability.NewManager(cfg.Observability)
	if err := env.obs.Initialize(ctx); err != nil {
		env.Close()
		return nil, fmt.Errorf("failed to initialize observability: %w", err)
	}

	if !cfg.Storage.Disabled {
		store, err := runstore.Open(cfg.Storage.Path)
		if err != nil {
			env.Close()
			return nil, fmt.Errorf("failed to open run store: %w", err)
		}
		env.store = store
		slog.Debug("Run history enabled", "path", cfg.Storage.Path)
	}

	return env, nil
}

// Close releases the store, the model client and observability exporters.
func (e *environment) Close() {
	if e.store != nil {
		if err := e.store.Close(); err != nil {
			slog.Warn("Failed to close run store", "error", err)
		}
	}
	if e.obs != nil {
		if err := e.obs.Shutdown(context.Background()); err != nil {
			slog.Warn("Failed to shut down observability", "error", err)
		}
	}
	if e.llm != nil {
		_ = e.llm.Close()
	}
}

// crewFileFromConfig reads crew.file without validating the rest of the
// config, so listing personas works before an API key is set.
func crewFileFromConfig(path string) (string, error) {
	if path == "" {
		return "", nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("failed to read config file %s: %w", path, err)
	}
	cfg, err := config.Parse(data)
	if err != nil {
		return "", fmt.Errorf("%s: %w", path, err)
	}
	return cfg.Crew.File, nil
}
