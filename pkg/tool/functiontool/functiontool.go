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

// Package functiontool creates tools from typed Go functions.
//
// The argument struct's json and jsonschema tags define the schema the model
// sees:
//
//	type DelegateArgs struct {
//	    Task     string `json:"task" jsonschema:"required,description=The task to delegate"`
//	    Coworker string `json:"coworker" jsonschema:"required,description=Role of the coworker"`
//	}
//
//	delegate, err := functiontool.New(
//	    functiontool.Config{Name: "delegate_work", Description: "Delegate a task to a coworker"},
//	    func(ctx context.Context, args DelegateArgs) (map[string]any, error) {
//	        return map[string]any{"result": "..."}, nil
//	    },
//	)
package functiontool

import (
	"context"
	"fmt"

	"github.com/kadirpekel/pmcrew/pkg/tool"
)

// Config describes a function tool.
type Config struct {
	// Name is the function name the model calls.
	Name string

	// Description tells the model when to use the tool.
	Description string
}

// Func is the typed implementation of a tool.
type Func[Args any] func(ctx context.Context, args Args) (map[string]any, error)

// New creates a CallableTool from a typed function.
func New[Args any](cfg Config, fn Func[Args]) (tool.CallableTool, error) {
	if err := validateConfig(cfg); err != nil {
		return nil, err
	}

	schema, err := generateSchema[Args]()
	if err != nil {
		return nil, fmt.Errorf("failed to generate schema for %s: %w", cfg.Name, err)
	}

	return &functionTool[Args]{
		config: cfg,
		fn:     fn,
		schema: schema,
	}, nil
}

// NewWithValidation is like New but runs validate on the decoded arguments
// before calling fn.
func NewWithValidation[Args any](cfg Config, fn Func[Args], validate func(Args) error) (tool.CallableTool, error) {
	baseTool, err := New(cfg, fn)
	if err != nil {
		return nil, err
	}

	return &functionToolWithValidation[Args]{
		functionTool: baseTool.(*functionTool[Args]),
		validate:     validate,
	}, nil
}

// MustNew is like New but panics on error. Intended for package-level tools
// whose configuration is static.
func MustNew[Args any](cfg Config, fn Func[Args]) tool.CallableTool {
	t, err := New(cfg, fn)
	if err != nil {
		panic(err)
	}
	return t
}

type functionTool[Args any] struct {
	config Config
	fn     Func[Args]
	schema map[string]any
}

func (t *functionTool[Args]) Name() string {
	return t.config.Name
}

func (t *functionTool[Args]) Description() string {
	return t.config.Description
}

func (t *functionTool[Args]) Schema() map[string]any {
	return t.schema
}

func (t *functionTool[Args]) Call(ctx context.Context, args map[string]any) (map[string]any, error) {
	var typedArgs Args
	if err := mapToStruct(args, &typedArgs); err != nil {
		return nil, fmt.Errorf("invalid arguments for %s: %w", t.config.Name, err)
	}

	return t.fn(ctx, typedArgs)
}

type functionToolWithValidation[Args any] struct {
	*functionTool[Args]
	validate func(Args) error
}

func (t *functionToolWithValidation[Args]) Call(ctx context.Context, args map[string]any) (map[string]any, error) {
	var typedArgs Args
	if err := mapToStruct(args, &typedArgs); err != nil {
		return nil, fmt.Errorf("invalid arguments for %s: %w", t.config.Name, err)
	}

	if err := t.validate(typedArgs); err != nil {
		return nil, fmt.Errorf("validation failed for %s: %w", t.config.Name, err)
	}

	return t.fn(ctx, typedArgs)
}

func validateConfig(cfg Config) error {
	if cfg.Name == "" {
		return fmt.Errorf("tool name is required")
	}
	if cfg.Description == "" {
		return fmt.Errorf("tool description is required")
	}
	return nil
}

var _ tool.CallableTool = (*functionTool[struct{}])(nil)
var _ tool.CallableTool = (*functionToolWithValidation[struct{}])(nil)
