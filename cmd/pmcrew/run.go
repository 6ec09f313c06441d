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
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/fatih/color"
	"github.com/google/renameio/v2"

	"github.com/kadirpekel/pmcrew/pkg/crew"
	"github.com/kadirpekel/pmcrew/pkg/logstream"
	"github.com/kadirpekel/pmcrew/pkg/pmcrew"
	"github.com/kadirpekel/pmcrew/pkg/runstore"
)

// RunCmd runs the crew once in the terminal.
type RunCmd struct {
	Description string `arg:"" help:"Project description."`
	Crew        string `help:"Crew definition file (overrides crew.file)." type:"path"`
	Output      string `short:"o" help:"Write the resulting markdown to this file." type:"path"`
	Quiet       bool   `short:"q" help:"Only print the result."`
}

func (c *RunCmd) Run(cli *CLI, logs *logSettings) error {
	description := strings.TrimSpace(c.Description)
	if description == "" {
		return pmcrew.ErrEmptyDescription
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	env, err := loadEnvironment(ctx, cli, logs, c.Crew)
	if err != nil {
		return err
	}
	defer env.Close()

	out, elapsed, err := c.execute(ctx, env, description, os.Stdout, os.Stderr)
	fmt.Fprintln(os.Stderr, elapsedLine(elapsed))
	if err != nil {
		return err
	}

	fmt.Println()
	_, _ = color.New(color.Bold).Println("Resultados:")
	fmt.Println(out.Raw)

	if c.Output != "" {
		if err := writeResult(c.Output, out.Raw); err != nil {
			return err
		}
		slog.Info("Result written", "path", c.Output)
	}
	return nil
}

// execute runs the crew with progress going through a log filter: text to
// progress, task notifications highlighted on notices. The run is recorded
// in the store when one is configured.
func (c *RunCmd) execute(ctx context.Context, env *environment, description string, progress, notices io.Writer) (*crew.Output, time.Duration, error) {
	toast := color.New(color.FgCyan, color.Bold)
	filter := logstream.New(
		logstream.DisplayFunc(func(text string) { _, _ = io.WriteString(progress, text) }),
		logstream.NotifierFunc(func(msg string) { _, _ = toast.Fprintln(notices, msg) }),
		logstream.WithNotifyPrefix("🤖 "),
	)

	crw, err := pmcrew.Setup(env.definition, description, pmcrew.Options{
		LLM:           env.llm,
		Tools:         env.tools,
		Output:        filter,
		Verbose:       env.cfg.Crew.IsVerbose() && !c.Quiet,
		Stream:        env.cfg.Crew.Stream,
		MaxIterations: env.cfg.Crew.MaxIterations,
		Temperature:   env.cfg.LLM.Temperature,
		Tracer:        env.obs.Tracer(),
		Metrics:       env.obs.Metrics(),
	})
	if err != nil {
		return nil, 0, err
	}

	run := recordStart(ctx, env.store, description)

	start := time.Now()
	out, err := crw.Kickoff(ctx)
	filter.Flush()
	elapsed := time.Since(start)

	recordEnd(env.store, run, out, err, elapsed)
	return out, elapsed, err
}

func recordStart(ctx context.Context, store *runstore.Store, description string) *runstore.Run {
	if store == nil {
		return nil
	}
	run, err := store.Create(ctx, description)
	if err != nil {
		slog.Warn("Failed to record run", "error", err)
		return nil
	}
	return run
}

func recordEnd(store *runstore.Store, run *runstore.Run, out *crew.Output, runErr error, elapsed time.Duration) {
	if store == nil || run == nil {
		return
	}
	// The run may have been interrupted; the record is still written.
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	var err error
	if runErr != nil {
		err = store.Fail(ctx, run.ID, runErr, elapsed)
	} else {
		err = store.Complete(ctx, run.ID, out.Raw, elapsed, out.Usage.TotalTokens)
	}
	if err != nil {
		slog.Warn("Failed to record run result", "run_id", run.ID, "error", err)
	}
}

// writeResult replaces path atomically so a reader never sees a partial
// document.
func writeResult(path, markdown string) error {
	if path == "" {
		return errors.New("output path is empty")
	}
	if err := renameio.WriteFile(path, []byte(markdown), 0o644); err != nil {
		return fmt.Errorf("failed to write result: %w", err)
	}
	return nil
}

func elapsedLine(d time.Duration) string {
	return fmt.Sprintf("Tempo total decorrido: %.2f segundos", d.Seconds())
}
