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

package agent

import (
	"encoding/json"
	"fmt"
	"strings"
)

const forceFinalAnswerPrompt = "Now it's time you MUST give your absolute best final answer. " +
	"You'll ignore all previous instructions, stop using any tools, and just return your absolute BEST Final answer."

func (a *Agent) systemPrompt() string {
	var b strings.Builder
	fmt.Fprintf(&b, "You are %s.\n", a.cfg.Role)
	if a.cfg.Backstory != "" {
		b.WriteString(a.cfg.Backstory)
		b.WriteString("\n")
	}
	if a.cfg.Goal != "" {
		fmt.Fprintf(&b, "\nYour personal goal is: %s\n", a.cfg.Goal)
	}
	return b.String()
}

func taskPrompt(as Assignment) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Current Task: %s\n", as.Description)
	if as.ExpectedOutput != "" {
		fmt.Fprintf(&b, "\nThis is the expected criteria for your final answer: %s\n", as.ExpectedOutput)
		b.WriteString("You MUST return the actual complete content as the final answer, not a summary.\n")
	}
	if as.Context != "" {
		fmt.Fprintf(&b, "\nThis is the context you're working with:\n%s\n", as.Context)
	}
	b.WriteString("\nBegin! This is VERY important to you, use the tools available and give your best Final Answer, your job depends on it!")
	return b.String()
}

// formatToolResult renders a tool's output for the model. A "result"
// string is passed through; anything else is sent as JSON.
func formatToolResult(result map[string]any) string {
	if result == nil {
		return "(no output)"
	}
	if text, ok := result["result"].(string); ok {
		if strings.TrimSpace(text) == "" {
			return "(no output)"
		}
		return strings.TrimSpace(text)
	}

	data, err := json.Marshal(result)
	if err != nil {
		return fmt.Sprintf("%v", result)
	}
	return string(data)
}
