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
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kadirpekel/pmcrew/pkg/testutils"
	"github.com/kadirpekel/pmcrew/pkg/tool"
	"github.com/kadirpekel/pmcrew/pkg/tool/searchtool"
)

const wantDocuments = "termo de abertura do projeto, registro das partes interessadas, " +
	"plano de gerenciamento do projeto, plano de escopo, plano de cronograma, plano de qualidade, " +
	"plano de recursos, plano de comunicação, plano de riscos, plano de aquisições, " +
	"plano de engajamento das partes interessadas"

func TestDefaultDefinition(t *testing.T) {
	def, err := DefaultDefinition()
	require.NoError(t, err)

	assert.Len(t, def.Agents, 9)
	assert.Len(t, def.Documents, 11)
	assert.Equal(t, wantDocuments, def.DocumentList())

	var roles []string
	for _, a := range def.EnabledAgents() {
		roles = append(roles, a.Role)
	}
	assert.Equal(t, []string{
		"Gerente de Projeto",
		"Consultor de Metodologia",
		"Analista de Negócios",
		"Analista de Qualidade",
		"Gerente de Recurso",
		"Administrador de Ferramentas e Sistemas",
		"Especialista em Comunicação",
		"Analista Financeiro",
	}, roles)

	pm := def.Agents[0]
	assert.True(t, pm.Delegation)
	assert.Equal(t, []string{searchtool.ToolName}, pm.Tools)
	assert.Contains(t, pm.Goal, PlaceholderDescription)
	assert.False(t, def.Agents[3].IsEnabled())

	assert.Equal(t, "Gerente de Projeto", def.Task.Agent)
}

func TestDocumentList(t *testing.T) {
	assert.Equal(t, "plano de escopo, plano de riscos", DocumentList([]string{"Plano de Escopo", "Plano de Riscos"}))
	assert.Equal(t, "", DocumentList(nil))
}

func TestRender(t *testing.T) {
	got := Render("Elaborar ({{documents}}) para {{description}}; {{description}}", "ERP", "a, b")
	assert.Equal(t, "Elaborar (a, b) para ERP; ERP", got)
}

func TestParseDefinition_Errors(t *testing.T) {
	tests := []struct {
		name    string
		yaml    string
		wantErr string
	}{
		{"no agents", "task: {agent: A, description: d}", "at least one agent"},
		{"unknown field", "agents: [{role: A, goal: g, colour: red}]\ntask: {agent: A, description: d}", "field colour not found"},
		{"missing role", "agents: [{goal: g}]\ntask: {agent: A, description: d}", "role is required"},
		{"missing goal", "agents: [{role: A}]\ntask: {agent: A, description: d}", "goal is required"},
		{"duplicate role", "agents: [{role: A, goal: g}, {role: a, goal: g}]\ntask: {agent: A, description: d}", "duplicate role"},
		{"all disabled", "agents: [{role: A, goal: g, enabled: false}]\ntask: {agent: A, description: d}", "must be enabled"},
		{"no task description", "agents: [{role: A, goal: g}]\ntask: {agent: A}", "description is required"},
		{"unknown task agent", "agents: [{role: A, goal: g}]\ntask: {agent: B, description: d}", `agent "B" is not defined`},
		{"disabled task agent", "agents: [{role: A, goal: g}, {role: B, goal: g, enabled: false}]\ntask: {agent: B, description: d}", "is disabled"},
		{"empty document", "agents: [{role: A, goal: g}]\ndocuments: [x, '']\ntask: {agent: A, description: d}", "documents[1] is empty"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseDefinition([]byte(tt.yaml))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestLoadDefinition(t *testing.T) {
	def, err := LoadDefinition("")
	require.NoError(t, err)
	assert.Len(t, def.Agents, 9)

	path := filepath.Join(t.TempDir(), "crew.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
agents:
  - role: Redator
    goal: Escrever sobre {{description}}
documents: [Resumo]
task:
  agent: redator
  description: "Escrever ({{documents}}): {{description}}"
  expected_output: Texto
`), 0o644))

	def, err = LoadDefinition(path)
	require.NoError(t, err)
	assert.Equal(t, "Redator", def.Agents[0].Role)
	assert.Equal(t, "resumo", def.DocumentList())

	_, err = LoadDefinition(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.ErrorContains(t, err, "failed to read crew file")
}

func TestSetup_Validation(t *testing.T) {
	def, err := DefaultDefinition()
	require.NoError(t, err)
	llm := testutils.NewMockLLM()

	_, err = Setup(nil, "x", Options{LLM: llm})
	assert.ErrorContains(t, err, "definition is required")

	_, err = Setup(def, "   ", Options{LLM: llm})
	assert.ErrorIs(t, err, ErrEmptyDescription)

	_, err = Setup(def, "ERP", Options{})
	assert.ErrorContains(t, err, "llm is required")

	// The project manager names the search tool, which is not provided.
	_, err = Setup(def, "ERP", Options{LLM: llm})
	assert.ErrorContains(t, err, `tool "duckduckgo_search" is not available`)
}

func TestSetup_BuildsCrew(t *testing.T) {
	def, err := DefaultDefinition()
	require.NoError(t, err)

	search := searchtool.New(searchtool.Config{Endpoint: "http://127.0.0.1:0"})
	llm := testutils.NewMockLLM(testutils.TextResponse("# Documentos\n\nTermo de abertura..."))

	var out bytes.Buffer
	c, err := Setup(def, "Implantação de um ERP", Options{
		LLM:     llm,
		Tools:   []tool.CallableTool{search},
		Output:  &out,
		Verbose: true,
	})
	require.NoError(t, err)

	require.Len(t, c.Agents(), 8)
	require.Len(t, c.Tasks(), 1)

	pm := c.Agents()[0]
	assert.Equal(t, "Gerente de Projeto", pm.Role())
	assert.True(t, pm.AllowDelegation())
	require.Len(t, pm.Tools(), 1)
	assert.Equal(t, searchtool.ToolName, pm.Tools()[0].Name())
	assert.Contains(t, pm.Goal(), "Garantir a entrega bem-sucedida do projeto Implantação de um ERP,")
	assert.NotContains(t, pm.Goal(), "{{")
	assert.Empty(t, c.Agents()[1].Tools())

	task := c.Tasks()[0]
	assert.Same(t, pm, task.Agent)
	assert.Equal(t, "Elaborar os documentos ("+wantDocuments+") do projeto com descrição: Implantação de um ERP", task.Description)
	assert.Equal(t, "Documentos ("+wantDocuments+") de acordo com PMBOK7", task.ExpectedOutput)

	result, err := c.Kickoff(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "# Documentos\n\nTermo de abertura...", result.Raw)

	req := llm.Requests()[0]
	var toolNames []string
	for _, d := range req.Tools {
		toolNames = append(toolNames, d.Name)
	}
	assert.Equal(t, []string{"duckduckgo_search", "delegate_work", "ask_question"}, toolNames)
	assert.True(t, strings.Contains(out.String(), "[INFO]: == Starting Task: Elaborar os documentos"))
}
