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

// Package agent runs a single crew member against an assignment.
//
// An Agent holds a persona (role, goal, backstory), a chat model and the
// tools it may call. Execute drives the model in a loop: every tool call
// the model requests is executed and its result fed back, until the model
// answers without calling tools or the iteration limit forces a final
// answer. Progress is written to the io.Writer passed to Execute.
package agent

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/kadirpekel/pmcrew/pkg/model"
	"github.com/kadirpekel/pmcrew/pkg/observability"
	"github.com/kadirpekel/pmcrew/pkg/tool"
	"github.com/kadirpekel/pmcrew/pkg/utils"
)

// DefaultMaxIterations bounds the tool loop of one assignment.
const DefaultMaxIterations = 15

// ErrEmptyAnswer is returned when the model finishes without any content.
var ErrEmptyAnswer = errors.New("model returned an empty answer")

// Config defines an agent.
type Config struct {
	// Role is the agent's job title. It identifies the agent in the crew.
	Role string

	// Goal is the agent's personal objective.
	Goal string

	// Backstory gives the model the persona's background.
	Backstory string

	// AllowDelegation lets the crew hand this agent coworker tools.
	AllowDelegation bool

	// Tools the agent can always call.
	Tools []tool.CallableTool

	// LLM is the chat model. Required.
	LLM model.LLM

	// Verbose writes progress lines to the output writer.
	Verbose bool

	// Stream requests streamed completions and echoes partial text when
	// Verbose is set.
	Stream bool

	// MaxIterations bounds model round-trips before a final answer is
	// forced. Default: 15.
	MaxIterations int

	// Temperature overrides the model's default when set.
	Temperature *float64

	Tracer  *observability.Tracer
	Metrics observability.Metrics
}

// Assignment is one unit of work for an agent.
type Assignment struct {
	Description    string
	ExpectedOutput string

	// Context is the output of earlier work the agent builds on.
	Context string

	// Tools are added to the agent's own tools for this assignment only.
	Tools []tool.CallableTool
}

// Result is the outcome of an assignment.
type Result struct {
	Output     string
	Usage      model.Usage
	Iterations int
	ToolCalls  int

	// Forced is set when the iteration limit ended the tool loop.
	Forced bool
}

// Agent is a configured crew member.
type Agent struct {
	cfg     Config
	counter *utils.TokenCounter
}

// New validates cfg and creates an Agent.
func New(cfg Config) (*Agent, error) {
	if strings.TrimSpace(cfg.Role) == "" {
		return nil, errors.New("agent role is required")
	}
	if cfg.LLM == nil {
		return nil, fmt.Errorf("agent %q: llm is required", cfg.Role)
	}
	if cfg.MaxIterations < 0 {
		return nil, fmt.Errorf("agent %q: max iterations must be non-negative", cfg.Role)
	}
	if cfg.MaxIterations == 0 {
		cfg.MaxIterations = DefaultMaxIterations
	}
	if cfg.Metrics == nil {
		cfg.Metrics = observability.NoopMetrics{}
	}

	a := &Agent{cfg: cfg}

	// Usage is estimated locally when a provider omits it. Without a
	// tokenizer the character heuristic is used.
	counter, err := utils.NewTokenCounter(cfg.LLM.Name())
	if err != nil {
		slog.Debug("Token counter unavailable, estimating by length", "model", cfg.LLM.Name(), "error", err)
	}
	a.counter = counter

	return a, nil
}

// Role returns the agent's role.
func (a *Agent) Role() string { return a.cfg.Role }

// Goal returns the agent's goal.
func (a *Agent) Goal() string { return a.cfg.Goal }

// Backstory returns the agent's backstory.
func (a *Agent) Backstory() string { return a.cfg.Backstory }

// AllowDelegation reports whether the agent may delegate to coworkers.
func (a *Agent) AllowDelegation() bool { return a.cfg.AllowDelegation }

// Tools returns the agent's own tools.
func (a *Agent) Tools() []tool.CallableTool { return a.cfg.Tools }

// Execute works on the assignment until a final answer is produced.
// Progress is written to w when the agent is verbose; w may be nil.
func (a *Agent) Execute(ctx context.Context, as Assignment, w io.Writer) (*Result, error) {
	if strings.TrimSpace(as.Description) == "" {
		return nil, errors.New("assignment description is required")
	}
	out := a.progress(w)

	fmt.Fprintf(out, "[DEBUG]: == Working Agent: %s\n", a.cfg.Role)
	fmt.Fprintf(out, "[INFO]: == Starting Task: %s\n", as.Description)

	tools := append(append([]tool.CallableTool(nil), a.cfg.Tools...), as.Tools...)
	byName := make(map[string]tool.CallableTool, len(tools))
	defs := make([]tool.Definition, 0, len(tools))
	for _, t := range tools {
		if _, dup := byName[t.Name()]; dup {
			continue
		}
		byName[t.Name()] = t
		defs = append(defs, tool.ToDefinition(t))
	}

	req := &model.Request{
		SystemInstruction: a.systemPrompt(),
		Messages:          []*model.Message{model.UserMessage(taskPrompt(as))},
		Tools:             defs,
		Config:            &model.GenerateConfig{Temperature: a.cfg.Temperature},
	}

	result := &Result{}
	for result.Iterations < a.cfg.MaxIterations {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		result.Iterations++

		resp, err := a.generate(ctx, req, out, &result.Usage)
		if err != nil {
			return nil, err
		}

		if !resp.HasToolCalls() {
			return a.finish(out, result, resp)
		}

		req.Messages = append(req.Messages, resp.ToMessage())
		for _, call := range resp.ToolCalls {
			result.ToolCalls++
			text := a.callTool(ctx, byName, call, out)
			req.Messages = append(req.Messages, model.ToolResultMessage(call.ID, text))
		}
	}

	slog.Warn("Iteration limit reached, forcing final answer",
		"agent", a.cfg.Role,
		"iterations", result.Iterations)

	req.Tools = nil
	req.Messages = append(req.Messages, model.UserMessage(forceFinalAnswerPrompt))
	resp, err := a.generate(ctx, req, out, &result.Usage)
	if err != nil {
		return nil, err
	}
	result.Forced = true
	return a.finish(out, result, resp)
}

func (a *Agent) finish(out io.Writer, result *Result, resp *model.Response) (*Result, error) {
	answer := strings.TrimSpace(resp.Content)
	if answer == "" {
		return nil, fmt.Errorf("agent %q: %w", a.cfg.Role, ErrEmptyAnswer)
	}
	result.Output = answer
	fmt.Fprintf(out, "[DEBUG]: == [%s] Task output: %s\n\n", a.cfg.Role, answer)
	return result, nil
}

// generate performs one model call, recording usage, spans and metrics.
func (a *Agent) generate(ctx context.Context, req *model.Request, out io.Writer, usage *model.Usage) (*model.Response, error) {
	ctx, span := a.cfg.Tracer.StartLLMCall(ctx, a.cfg.LLM.Name())
	defer span.End()

	start := time.Now()
	echo := a.cfg.Verbose && a.cfg.Stream

	var final *model.Response
	var genErr error
	for resp, err := range a.cfg.LLM.GenerateContent(ctx, req, a.cfg.Stream) {
		if err != nil {
			genErr = err
			break
		}
		if resp == nil {
			continue
		}
		if resp.Partial {
			if echo {
				_, _ = io.WriteString(out, resp.Content)
			}
			continue
		}
		final = resp
	}
	if echo && final != nil && final.Content != "" {
		_, _ = io.WriteString(out, "\n")
	}
	if genErr == nil && final == nil {
		genErr = errors.New("model returned no response")
	}

	if genErr != nil {
		observability.RecordError(span, genErr)
		a.cfg.Metrics.RecordLLMCall(ctx, a.cfg.LLM.Name(), time.Since(start), 0, 0, genErr)
		return nil, fmt.Errorf("agent %q: llm call failed: %w", a.cfg.Role, genErr)
	}

	callUsage := final.Usage
	if callUsage == nil {
		callUsage = a.estimateUsage(req, final)
	}
	usage.Add(callUsage)

	observability.AddLLMUsage(span, callUsage.PromptTokens, callUsage.CompletionTokens, string(final.FinishReason))
	a.cfg.Metrics.RecordLLMCall(ctx, a.cfg.LLM.Name(), time.Since(start), callUsage.PromptTokens, callUsage.CompletionTokens, nil)

	return final, nil
}

func (a *Agent) estimateUsage(req *model.Request, resp *model.Response) *model.Usage {
	msgs := make([]utils.Message, 0, len(req.Messages)+1)
	msgs = append(msgs, utils.Message{Role: string(model.RoleSystem), Content: req.SystemInstruction})
	for _, m := range req.Messages {
		content := m.Content
		for _, call := range m.ToolCalls {
			content += call.Name + call.ArgsJSON()
		}
		msgs = append(msgs, utils.Message{Role: string(m.Role), Content: content})
	}

	completion := a.counter.Count(resp.Content)
	for _, call := range resp.ToolCalls {
		completion += a.counter.Count(call.Name + call.ArgsJSON())
	}

	prompt := a.counter.CountMessages(msgs)
	return &model.Usage{
		PromptTokens:     prompt,
		CompletionTokens: completion,
		TotalTokens:      prompt + completion,
	}
}

// callTool runs one tool call. Failures are returned to the model as text.
func (a *Agent) callTool(ctx context.Context, tools map[string]tool.CallableTool, call tool.ToolCall, out io.Writer) string {
	fmt.Fprintf(out, "\nAction: %s\nAction Input: %s\n", call.Name, call.ArgsJSON())

	ctx, span := a.cfg.Tracer.StartToolExecution(ctx, call.Name)
	defer span.End()

	start := time.Now()
	res := tool.ToolResult{ToolCallID: call.ID}

	t, ok := tools[call.Name]
	if !ok {
		res.Error = fmt.Sprintf("tool %q not found", call.Name)
	} else if output, err := t.Call(ctx, call.Args); err != nil {
		res.Error = err.Error()
	} else {
		res.Content = formatToolResult(output)
	}

	var callErr error
	if res.Error != "" {
		callErr = errors.New(res.Error)
		observability.RecordError(span, callErr)
		slog.Debug("Tool call failed", "agent", a.cfg.Role, "tool", call.Name, "error", res.Error)
	}
	a.cfg.Metrics.RecordToolCall(ctx, call.Name, time.Since(start), callErr)

	text := res.Text()
	fmt.Fprintf(out, "Observation: %s\n", text)
	return text
}

func (a *Agent) progress(w io.Writer) io.Writer {
	if w == nil || !a.cfg.Verbose {
		return io.Discard
	}
	return w
}
