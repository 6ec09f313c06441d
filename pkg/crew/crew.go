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

// Package crew runs a group of agents through a list of tasks.
//
// Only the sequential process is supported: tasks run one after another in
// the order given and each task receives the previous task's output as
// context. Agents that allow delegation get delegate_work and ask_question
// tools bound to the other crew members.
package crew

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/kadirpekel/pmcrew/pkg/agent"
	"github.com/kadirpekel/pmcrew/pkg/model"
	"github.com/kadirpekel/pmcrew/pkg/observability"
	"github.com/kadirpekel/pmcrew/pkg/tool"
	"github.com/kadirpekel/pmcrew/pkg/tool/delegatetool"
)

// Process selects how tasks are scheduled.
type Process string

const (
	ProcessSequential Process = "sequential"
)

// coworkerExpectedOutput is the expected output given to delegated work.
const coworkerExpectedOutput = "Your best answer to your coworker asking you this, accounting for the context shared."

// Task is a unit of work assigned to one agent.
type Task struct {
	Description    string
	ExpectedOutput string
	Agent          *agent.Agent
}

// Config defines a crew.
type Config struct {
	Agents []*agent.Agent
	Tasks  []*Task

	// Process defaults to ProcessSequential.
	Process Process

	// Verbose forwards agent progress to Output.
	Verbose bool

	// Output receives progress text. Nil discards it.
	Output io.Writer

	Tracer  *observability.Tracer
	Metrics observability.Metrics
}

// TaskOutput is the result of one task.
type TaskOutput struct {
	Description string
	Agent       string
	Raw         string
	Usage       model.Usage
	Elapsed     time.Duration
}

// Output is the result of a kickoff.
type Output struct {
	// Raw is the final task's output.
	Raw string

	Tasks   []TaskOutput
	Usage   model.Usage
	Elapsed time.Duration
}

// String returns the final output.
func (o *Output) String() string {
	if o == nil {
		return ""
	}
	return o.Raw
}

// Crew is a validated set of agents and tasks.
type Crew struct {
	agents  []*agent.Agent
	tasks   []*Task
	process Process
	out     io.Writer
	tracer  *observability.Tracer
	metrics observability.Metrics
}

// New validates cfg and creates a Crew.
func New(cfg Config) (*Crew, error) {
	if cfg.Process == "" {
		cfg.Process = ProcessSequential
	}
	if cfg.Process != ProcessSequential {
		return nil, fmt.Errorf("unsupported process %q (valid: %s)", cfg.Process, ProcessSequential)
	}
	if len(cfg.Agents) == 0 {
		return nil, errors.New("crew needs at least one agent")
	}
	if len(cfg.Tasks) == 0 {
		return nil, errors.New("crew needs at least one task")
	}

	members := make(map[*agent.Agent]bool, len(cfg.Agents))
	roles := make(map[string]bool, len(cfg.Agents))
	for i, a := range cfg.Agents {
		if a == nil {
			return nil, fmt.Errorf("agent %d is nil", i)
		}
		key := strings.ToLower(a.Role())
		if roles[key] {
			return nil, fmt.Errorf("duplicate agent role %q", a.Role())
		}
		roles[key] = true
		members[a] = true
	}

	for i, t := range cfg.Tasks {
		if t == nil || strings.TrimSpace(t.Description) == "" {
			return nil, fmt.Errorf("task %d: description is required", i)
		}
		if t.Agent == nil {
			return nil, fmt.Errorf("task %d: agent is required", i)
		}
		if !members[t.Agent] {
			return nil, fmt.Errorf("task %d: agent %q is not a crew member", i, t.Agent.Role())
		}
	}

	out := cfg.Output
	if out == nil || !cfg.Verbose {
		out = io.Discard
	}
	metrics := cfg.Metrics
	if metrics == nil {
		metrics = observability.NoopMetrics{}
	}

	return &Crew{
		agents:  cfg.Agents,
		tasks:   cfg.Tasks,
		process: cfg.Process,
		out:     out,
		tracer:  cfg.Tracer,
		metrics: metrics,
	}, nil
}

// Agents returns the crew members.
func (c *Crew) Agents() []*agent.Agent { return c.agents }

// Tasks returns the tasks in execution order.
func (c *Crew) Tasks() []*Task { return c.tasks }

// Kickoff runs every task and returns the aggregated output.
func (c *Crew) Kickoff(ctx context.Context) (*Output, error) {
	start := time.Now()
	ctx, span := c.tracer.StartKickoff(ctx, len(c.tasks))
	defer span.End()

	slog.Info("Crew kickoff", "tasks", len(c.tasks), "agents", len(c.agents), "process", c.process)

	result := &Output{}
	err := c.runSequential(ctx, result)
	result.Elapsed = time.Since(start)

	c.metrics.RecordRun(ctx, result.Elapsed, result.Usage.TotalTokens, err)
	if err != nil {
		observability.RecordError(span, err)
		slog.Error("Crew run failed", "error", err, "elapsed", result.Elapsed)
		return nil, err
	}

	slog.Info("Crew run finished", "elapsed", result.Elapsed, "tokens", result.Usage.TotalTokens)
	return result, nil
}

func (c *Crew) runSequential(ctx context.Context, result *Output) error {
	var previous string
	for i, task := range c.tasks {
		if err := ctx.Err(); err != nil {
			return err
		}

		taskOut, err := c.runTask(ctx, i, task, previous)
		if err != nil {
			return fmt.Errorf("task %d (%s): %w", i+1, task.Agent.Role(), err)
		}

		result.Tasks = append(result.Tasks, *taskOut)
		result.Usage.Add(&taskOut.Usage)
		result.Raw = taskOut.Raw
		previous = taskOut.Raw
	}
	return nil
}

func (c *Crew) runTask(ctx context.Context, index int, task *Task, taskContext string) (*TaskOutput, error) {
	ctx, span := c.tracer.StartTask(ctx, index, task.Agent.Role())
	defer span.End()

	start := time.Now()
	delegated := &usageRecorder{}

	tools, err := c.delegationTools(task.Agent, delegated)
	if err != nil {
		observability.RecordError(span, err)
		return nil, err
	}

	res, err := task.Agent.Execute(ctx, agent.Assignment{
		Description:    task.Description,
		ExpectedOutput: task.ExpectedOutput,
		Context:        taskContext,
		Tools:          tools,
	}, c.out)
	elapsed := time.Since(start)
	c.metrics.RecordTask(ctx, task.Agent.Role(), elapsed, err)
	if err != nil {
		observability.RecordError(span, err)
		return nil, err
	}

	usage := res.Usage
	usage.Add(delegated.total())

	return &TaskOutput{
		Description: task.Description,
		Agent:       task.Agent.Role(),
		Raw:         res.Output,
		Usage:       usage,
		Elapsed:     elapsed,
	}, nil
}

// delegationTools binds the coworker tools for a, or returns none when a
// may not delegate.
func (c *Crew) delegationTools(a *agent.Agent, rec *usageRecorder) ([]tool.CallableTool, error) {
	if !a.AllowDelegation() {
		return nil, nil
	}

	var coworkers []delegatetool.Coworker
	for _, member := range c.agents {
		if member == a {
			continue
		}
		coworkers = append(coworkers, &coworker{agent: member, out: c.out, rec: rec})
	}
	return delegatetool.New(coworkers)
}

// coworker exposes a crew member to delegatetool.
type coworker struct {
	agent *agent.Agent
	out   io.Writer
	rec   *usageRecorder
}

func (w *coworker) Role() string { return w.agent.Role() }

func (w *coworker) Perform(ctx context.Context, task, taskContext string) (string, error) {
	res, err := w.agent.Execute(ctx, agent.Assignment{
		Description:    task,
		ExpectedOutput: coworkerExpectedOutput,
		Context:        taskContext,
	}, w.out)
	if err != nil {
		return "", err
	}
	w.rec.add(&res.Usage)
	return res.Output, nil
}

type usageRecorder struct {
	mu    sync.Mutex
	usage model.Usage
}

func (r *usageRecorder) add(u *model.Usage) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.usage.Add(u)
}

func (r *usageRecorder) total() *model.Usage {
	r.mu.Lock()
	defer r.mu.Unlock()
	u := r.usage
	return &u
}
