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

package pmcrew

import (
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/kadirpekel/pmcrew/pkg/agent"
	"github.com/kadirpekel/pmcrew/pkg/crew"
	"github.com/kadirpekel/pmcrew/pkg/model"
	"github.com/kadirpekel/pmcrew/pkg/observability"
	"github.com/kadirpekel/pmcrew/pkg/tool"
)

// ErrEmptyDescription is returned when no project description is given.
var ErrEmptyDescription = errors.New("project description is required")

// Options carries what Setup needs beyond the definition.
type Options struct {
	// LLM is shared by every agent. Required.
	LLM model.LLM

	// Tools are the tools personas may name, typically the web search.
	Tools []tool.CallableTool

	// Output receives the crew's progress text.
	Output io.Writer

	// Verbose defaults to false; the CLI and server turn it on.
	Verbose bool

	// Stream echoes model output as it is generated.
	Stream bool

	MaxIterations int
	Temperature   *float64

	Tracer  *observability.Tracer
	Metrics observability.Metrics
}

// Setup builds the crew for description.
func Setup(def *Definition, description string, opts Options) (*crew.Crew, error) {
	if def == nil {
		return nil, errors.New("crew definition is required")
	}
	description = strings.TrimSpace(description)
	if description == "" {
		return nil, ErrEmptyDescription
	}
	if opts.LLM == nil {
		return nil, errors.New("llm is required")
	}

	documents := def.DocumentList()

	var agents []*agent.Agent
	byRole := make(map[string]*agent.Agent)
	for _, a := range def.EnabledAgents() {
		tools, err := resolveTools(a, opts.Tools)
		if err != nil {
			return nil, err
		}

		member, err := agent.New(agent.Config{
			Role:            a.Role,
			Goal:            Render(a.Goal, description, documents),
			Backstory:       Render(a.Backstory, description, documents),
			AllowDelegation: a.Delegation,
			Tools:           tools,
			LLM:             opts.LLM,
			Verbose:         opts.Verbose,
			Stream:          opts.Stream,
			MaxIterations:   opts.MaxIterations,
			Temperature:     opts.Temperature,
			Tracer:          opts.Tracer,
			Metrics:         opts.Metrics,
		})
		if err != nil {
			return nil, err
		}

		agents = append(agents, member)
		byRole[strings.ToLower(strings.TrimSpace(a.Role))] = member
	}

	owner, ok := byRole[strings.ToLower(strings.TrimSpace(def.Task.Agent))]
	if !ok {
		return nil, fmt.Errorf("task agent %q is not an enabled crew member", def.Task.Agent)
	}

	return crew.New(crew.Config{
		Agents: agents,
		Tasks: []*crew.Task{{
			Description:    Render(def.Task.Description, description, documents),
			ExpectedOutput: Render(def.Task.ExpectedOutput, description, documents),
			Agent:          owner,
		}},
		Process: crew.ProcessSequential,
		Verbose: opts.Verbose,
		Output:  opts.Output,
		Tracer:  opts.Tracer,
		Metrics: opts.Metrics,
	})
}

func resolveTools(a AgentDefinition, available []tool.CallableTool) ([]tool.CallableTool, error) {
	if len(a.Tools) == 0 {
		return nil, nil
	}

	tools := tool.Filter(available, tool.StringPredicate(a.Tools))
	if len(tools) != len(a.Tools) {
		found := make(map[string]bool, len(tools))
		for _, t := range tools {
			found[t.Name()] = true
		}
		for _, name := range a.Tools {
			if !found[name] {
				return nil, fmt.Errorf("agent %q: tool %q is not available", a.Role, name)
			}
		}
	}
	return tools, nil
}
