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
	"fmt"

	"github.com/fatih/color"

	"github.com/kadirpekel/pmcrew/pkg/config"
	"github.com/kadirpekel/pmcrew/pkg/pmcrew"
)

// ValidateCmd validates the configuration and crew definition.
type ValidateCmd struct {
	Crew string `help:"Crew definition file (overrides crew.file)." type:"path"`
}

func (c *ValidateCmd) Run(cli *CLI) error {
	cfg, err := config.Load(cli.Config)
	if err != nil {
		return fmt.Errorf("configuration is invalid: %w", err)
	}

	path := cfg.Crew.File
	if c.Crew != "" {
		path = c.Crew
	}
	def, err := pmcrew.LoadDefinition(path)
	if err != nil {
		return fmt.Errorf("crew definition is invalid: %w", err)
	}

	source := path
	if source == "" {
		source = "embedded"
	}

	ok := color.New(color.FgGreen)
	_, _ = ok.Println("✓ Configuration is valid")
	fmt.Printf("  Model:     %s (%s)\n", cfg.LLM.Model, cfg.LLM.Provider)
	fmt.Printf("  Address:   %s\n", cfg.Server.Addr)
	_, _ = ok.Println("✓ Crew definition is valid")
	fmt.Printf("  Source:    %s\n", source)
	fmt.Printf("  Agents:    %d enabled of %d\n", len(def.EnabledAgents()), len(def.Agents))
	fmt.Printf("  Documents: %d\n", len(def.Documents))
	return nil
}
