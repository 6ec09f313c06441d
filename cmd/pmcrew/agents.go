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
	"io"
	"os"
	"strings"

	"github.com/fatih/color"

	"github.com/kadirpekel/pmcrew/pkg/pmcrew"
)

// AgentsCmd lists the crew personas.
type AgentsCmd struct {
	Crew string `help:"Crew definition file (overrides crew.file)." type:"path"`
	All  bool   `help:"Include disabled personas."`
}

func (c *AgentsCmd) Run(cli *CLI) error {
	path := c.Crew
	if path == "" {
		var err error
		if path, err = crewFileFromConfig(cli.Config); err != nil {
			return err
		}
	}

	def, err := pmcrew.LoadDefinition(path)
	if err != nil {
		return err
	}
	printAgents(os.Stdout, def, c.All)
	return nil
}

func printAgents(w io.Writer, def *pmcrew.Definition, all bool) {
	bold := color.New(color.Bold)
	for _, a := range def.Agents {
		if !a.IsEnabled() && !all {
			continue
		}
		_, _ = bold.Fprintf(w, "- %s", a.Role)
		var flags []string
		if a.Delegation {
			flags = append(flags, "delegation")
		}
		if len(a.Tools) > 0 {
			flags = append(flags, "tools: "+strings.Join(a.Tools, ", "))
		}
		if !a.IsEnabled() {
			flags = append(flags, "disabled")
		}
		if len(flags) > 0 {
			fmt.Fprintf(w, " (%s)", strings.Join(flags, "; "))
		}
		fmt.Fprintln(w)
		fmt.Fprintf(w, "    %s\n", a.Goal)
	}
	fmt.Fprintf(w, "\nDocuments: %s\n", def.DocumentList())
	fmt.Fprintf(w, "Task owner: %s\n", def.Task.Agent)
}
