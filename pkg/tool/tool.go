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

// Package tool defines the tools agents can call.
package tool

import (
	"context"
	"encoding/json"
	"fmt"
)

// Tool is a named capability exposed to the model.
type Tool interface {
	// Name returns the function name the model calls.
	Name() string

	// Description tells the model when to use the tool.
	Description() string
}

// CallableTool is a tool that runs synchronously.
type CallableTool interface {
	Tool

	// Call executes the tool with arguments decoded from the model's JSON.
	Call(ctx context.Context, args map[string]any) (map[string]any, error)

	// Schema returns the JSON schema of the arguments.
	Schema() map[string]any
}

// Predicate decides whether a tool is exposed.
type Predicate func(tool Tool) bool

// StringPredicate allows tools whose names are listed.
func StringPredicate(allowedTools []string) Predicate {
	allowed := make(map[string]bool, len(allowedTools))
	for _, name := range allowedTools {
		allowed[name] = true
	}

	return func(tool Tool) bool {
		return allowed[tool.Name()]
	}
}

// Filter returns the tools matching p, preserving order.
func Filter(tools []CallableTool, p Predicate) []CallableTool {
	var out []CallableTool
	for _, t := range tools {
		if p(t) {
			out = append(out, t)
		}
	}
	return out
}

// Definition describes a tool to the model.
type Definition struct {
	Name        string
	Description string
	Parameters  map[string]any
}

// ToDefinition builds the model-facing definition of t.
func ToDefinition(t Tool) Definition {
	def := Definition{
		Name:        t.Name(),
		Description: t.Description(),
	}

	if ct, ok := t.(CallableTool); ok {
		def.Parameters = ct.Schema()
	}

	return def
}

// ToolCall is a function call requested by the model.
type ToolCall struct {
	ID   string
	Name string
	Args map[string]any
}

// ArgsJSON renders the arguments as compact JSON.
func (c ToolCall) ArgsJSON() string {
	if len(c.Args) == 0 {
		return "{}"
	}
	data, err := json.Marshal(c.Args)
	if err != nil {
		return fmt.Sprintf("%v", c.Args)
	}
	return string(data)
}

// ToolResult is the outcome of a tool call, rendered for the model.
type ToolResult struct {
	ToolCallID string
	Content    string
	Error      string
}

// Text returns the content the model sees.
func (r ToolResult) Text() string {
	if r.Error != "" {
		return "Error: " + r.Error
	}
	return r.Content
}
