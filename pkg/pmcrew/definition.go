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

// Package pmcrew assembles the project-opening crew: a project manager
// backed by eight specialists who draft the PMBOK 7 documents for a project
// description.
//
// The personas, the document list and the task template live in an
// embedded crew.yaml. A file with the same layout can replace it:
//
//	def, err := pmcrew.LoadDefinition("crew.yaml")
//	c, err := pmcrew.Setup(def, "Implantação de um ERP", pmcrew.Options{LLM: llm})
//	out, err := c.Kickoff(ctx)
package pmcrew

import (
	"bytes"
	_ "embed"
	"errors"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// Placeholders interpolated into goals, backstories and the task.
const (
	PlaceholderDescription = "{{description}}"
	PlaceholderDocuments   = "{{documents}}"
)

//go:embed crew.yaml
var defaultDefinition []byte

// AgentDefinition describes one persona.
type AgentDefinition struct {
	Role      string `yaml:"role"`
	Goal      string `yaml:"goal"`
	Backstory string `yaml:"backstory"`

	// Delegation lets the agent hand work to the other members.
	Delegation bool `yaml:"delegation,omitempty"`

	// Tools names the tools the agent may call.
	Tools []string `yaml:"tools,omitempty"`

	// Enabled defaults to true. Disabled personas are kept in the file but
	// left out of the crew.
	Enabled *bool `yaml:"enabled,omitempty"`
}

// IsEnabled reports whether the persona joins the crew.
func (a AgentDefinition) IsEnabled() bool {
	return a.Enabled == nil || *a.Enabled
}

// TaskDefinition is the task template handed to one persona.
type TaskDefinition struct {
	Agent          string `yaml:"agent"`
	Description    string `yaml:"description"`
	ExpectedOutput string `yaml:"expected_output"`
}

// Definition is the complete crew layout.
type Definition struct {
	Agents    []AgentDefinition `yaml:"agents"`
	Documents []string          `yaml:"documents"`
	Task      TaskDefinition    `yaml:"task"`
}

// DefaultDefinition returns the embedded crew.
func DefaultDefinition() (*Definition, error) {
	def, err := ParseDefinition(defaultDefinition)
	if err != nil {
		return nil, fmt.Errorf("embedded crew definition: %w", err)
	}
	return def, nil
}

// LoadDefinition reads a crew file. An empty path selects the embedded
// definition.
func LoadDefinition(path string) (*Definition, error) {
	if path == "" {
		return DefaultDefinition()
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read crew file: %w", err)
	}

	def, err := ParseDefinition(data)
	if err != nil {
		return nil, fmt.Errorf("crew file %s: %w", path, err)
	}
	return def, nil
}

// ParseDefinition decodes and validates a crew definition. Unknown fields
// are rejected.
func ParseDefinition(data []byte) (*Definition, error) {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)

	var def Definition
	if err := dec.Decode(&def); err != nil {
		return nil, fmt.Errorf("failed to parse crew definition: %w", err)
	}
	if err := def.Validate(); err != nil {
		return nil, err
	}
	return &def, nil
}

// Validate checks the definition is usable.
func (d *Definition) Validate() error {
	if len(d.Agents) == 0 {
		return errors.New("at least one agent is required")
	}

	roles := make(map[string]AgentDefinition, len(d.Agents))
	enabled := 0
	for i, a := range d.Agents {
		role := strings.TrimSpace(a.Role)
		if role == "" {
			return fmt.Errorf("agents[%d]: role is required", i)
		}
		key := strings.ToLower(role)
		if _, dup := roles[key]; dup {
			return fmt.Errorf("agents[%d]: duplicate role %q", i, role)
		}
		if strings.TrimSpace(a.Goal) == "" {
			return fmt.Errorf("agents[%d] (%s): goal is required", i, role)
		}
		roles[key] = a
		if a.IsEnabled() {
			enabled++
		}
	}
	if enabled == 0 {
		return errors.New("at least one agent must be enabled")
	}

	for i, doc := range d.Documents {
		if strings.TrimSpace(doc) == "" {
			return fmt.Errorf("documents[%d] is empty", i)
		}
	}

	if strings.TrimSpace(d.Task.Description) == "" {
		return errors.New("task: description is required")
	}
	owner, ok := roles[strings.ToLower(strings.TrimSpace(d.Task.Agent))]
	if !ok {
		return fmt.Errorf("task: agent %q is not defined", d.Task.Agent)
	}
	if !owner.IsEnabled() {
		return fmt.Errorf("task: agent %q is disabled", d.Task.Agent)
	}

	return nil
}

// EnabledAgents returns the personas that join the crew, in file order.
func (d *Definition) EnabledAgents() []AgentDefinition {
	var out []AgentDefinition
	for _, a := range d.Agents {
		if a.IsEnabled() {
			out = append(out, a)
		}
	}
	return out
}

// DocumentList returns the documents lower-cased and joined with ", ".
func (d *Definition) DocumentList() string {
	return DocumentList(d.Documents)
}

// DocumentList lower-cases docs and joins them with ", ".
func DocumentList(docs []string) string {
	lowered := make([]string, len(docs))
	for i, doc := range docs {
		lowered[i] = strings.ToLower(doc)
	}
	return strings.Join(lowered, ", ")
}

// Render fills the placeholders of template.
func Render(template, description, documents string) string {
	return strings.NewReplacer(
		PlaceholderDescription, description,
		PlaceholderDocuments, documents,
	).Replace(template)
}
