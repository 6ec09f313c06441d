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

// Command pmcrew runs the project-initiation crew from the terminal or
// serves it behind a small web page.
//
// Usage:
//
//	pmcrew serve --config pmcrew.yaml
//	pmcrew run "Implantação de um ERP na empresa X" --output projeto.md
//	pmcrew agents
package main

import (
	"fmt"
	"os"

	"github.com/alecthomas/kong"

	"github.com/kadirpekel/pmcrew/pkg/config"
)

// CLI defines the command-line interface.
type CLI struct {
	Version  VersionCmd  `cmd:"" help:"Show version information."`
	Serve    ServeCmd    `cmd:"" help:"Start the web UI."`
	Run      RunCmd      `cmd:"" help:"Run the crew for a project description in the terminal."`
	Agents   AgentsCmd   `cmd:"" help:"List the crew personas."`
	Validate ValidateCmd `cmd:"" help:"Validate the configuration and crew definition."`

	Config    string `short:"c" help:"Path to config file." type:"path"`
	LogLevel  string `help:"Log level (debug, info, warn, error)."`
	LogFile   string `help:"Log file path (empty = stderr)."`
	LogFormat string `help:"Log format (simple, verbose, json)."`
}

func main() {
	if err := config.LoadDotEnv(); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: %v\n", err)
	}

	cli := CLI{}
	ctx := kong.Parse(&cli,
		kong.Name("pmcrew"),
		kong.Description("Equipe de IA para abertura de projetos"),
		kong.UsageOnError(),
	)

	logs, err := initLoggerFromCLI(cli.LogLevel, cli.LogFile, cli.LogFormat)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer logs.Close()

	err = ctx.Run(&cli, logs)
	ctx.FatalIfErrorf(err)
}
