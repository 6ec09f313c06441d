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
	"net"
	"os"
	"os/signal"
	"syscall"

	"github.com/fatih/color"
	"golang.org/x/sync/errgroup"

	"github.com/kadirpekel/pmcrew/pkg/config"
	"github.com/kadirpekel/pmcrew/pkg/pmcrew"
	"github.com/kadirpekel/pmcrew/pkg/server"
)

// ServeCmd starts the web UI.
type ServeCmd struct {
	Addr  string `help:"Address to listen on (overrides server.addr)."`
	Crew  string `help:"Crew definition file (overrides crew.file)." type:"path"`
	Watch bool   `help:"Reload the crew definition when its file changes."`
}

func (c *ServeCmd) Run(cli *CLI, logs *logSettings) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	env, err := loadEnvironment(ctx, cli, logs, c.Crew)
	if err != nil {
		return err
	}
	defer env.Close()

	if c.Addr != "" {
		env.cfg.Server.Addr = c.Addr
	}

	srv, err := server.New(server.Options{
		Server:        env.cfg.Server,
		Crew:          env.cfg.Crew,
		Definition:    env.definition,
		LLM:           env.llm,
		Temperature:   env.cfg.LLM.Temperature,
		Tools:         env.tools,
		Store:         env.store,
		Observability: env.obs,
	})
	if err != nil {
		return fmt.Errorf("failed to create server: %w", err)
	}

	var watcher *config.Watcher
	if c.Watch {
		if env.cfg.Crew.File == "" {
			slog.Warn("Nothing to watch: the embedded crew definition is in use")
		} else {
			watcher, err = config.NewWatcher(env.cfg.Crew.File, func(data []byte) {
				def, err := pmcrew.ParseDefinition(data)
				if err != nil {
					slog.Error("Ignoring invalid crew definition", "path", env.cfg.Crew.File, "error", err)
					return
				}
				srv.SetDefinition(def)
			})
			if err != nil {
				return err
			}
		}
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return srv.Start(gctx)
	})
	if watcher != nil {
		g.Go(func() error {
			return watcher.Run(gctx)
		})
	}

	g.Go(func() error {
		select {
		case <-srv.Ready():
			printServeInfo(env, displayAddr(srv.Address()), c.Watch)
		case <-gctx.Done():
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		return err
	}
	slog.Info("Shutting down...")
	return nil
}

// displayAddr turns a wildcard listen address (":8501", "[::]:8501",
// "0.0.0.0:8501") into a browsable one.
func displayAddr(addr string) string {
	host, port, err := net.SplitHostPort(addr)
	if err != nil {
		return addr
	}
	switch host {
	case "", "::", "0.0.0.0":
		return net.JoinHostPort("localhost", port)
	}
	return addr
}

func printServeInfo(env *environment, addr string, watch bool) {
	green := color.New(color.FgGreen, color.Bold)
	_, _ = green.Printf("\n🚀 pmcrew server ready!\n")
	fmt.Printf("   Web UI:      http://%s\n", addr)
	fmt.Printf("   Health:      http://%s/health\n", addr)
	fmt.Printf("   Model:       %s\n", env.llm.Name())
	fmt.Printf("   Agents:      %d\n", len(env.definition.EnabledAgents()))
	if env.store != nil {
		fmt.Printf("   Run history: %s\n", env.cfg.Storage.Path)
	} else {
		fmt.Printf("   Run history: disabled\n")
	}
	if env.cfg.Observability.Metrics.Enabled {
		fmt.Printf("   Metrics:     http://%s%s\n", addr, env.obs.MetricsPath())
	}
	if env.cfg.Observability.Tracing.Enabled {
		fmt.Printf("   Tracing:     %s (%s)\n", env.cfg.Observability.Tracing.Exporter, env.cfg.Observability.Tracing.Endpoint)
	}
	if watch && env.cfg.Crew.File != "" {
		fmt.Printf("   Watching:    %s\n", env.cfg.Crew.File)
	}
	fmt.Println("\nPress Ctrl+C to stop")
}
