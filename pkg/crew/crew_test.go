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

package crew

import (
	"bytes"
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kadirpekel/pmcrew/pkg/agent"
	"github.com/kadirpekel/pmcrew/pkg/model"
	"github.com/kadirpekel/pmcrew/pkg/observability"
	"github.com/kadirpekel/pmcrew/pkg/testutils"
	"github.com/kadirpekel/pmcrew/pkg/tool"
	"github.com/kadirpekel/pmcrew/pkg/tool/delegatetool"
)

func newAgent(t *testing.T, role string, llm model.LLM, delegation bool) *agent.Agent {
	t.Helper()
	a, err := agent.New(agent.Config{
		Role:            role,
		Goal:            "Ajudar o projeto",
		Backstory:       "Profissional experiente.",
		LLM:             llm,
		Verbose:         true,
		AllowDelegation: delegation,
	})
	require.NoError(t, err)
	return a
}

func TestNew_Validation(t *testing.T) {
	pm := newAgent(t, "Gerente de Projeto", testutils.NewMockLLM(), true)
	outsider := newAgent(t, "Consultor Externo", testutils.NewMockLLM(), false)
	twin := newAgent(t, "gerente de projeto", testutils.NewMockLLM(), false)

	tests := []struct {
		name    string
		cfg     Config
		wantErr string
	}{
		{
			name:    "no agents",
			cfg:     Config{Tasks: []*Task{{Description: "x", Agent: pm}}},
			wantErr: "at least one agent",
		},
		{
			name:    "no tasks",
			cfg:     Config{Agents: []*agent.Agent{pm}},
			wantErr: "at least one task",
		},
		{
			name:    "unknown process",
			cfg:     Config{Agents: []*agent.Agent{pm}, Tasks: []*Task{{Description: "x", Agent: pm}}, Process: "hierarchical"},
			wantErr: "unsupported process",
		},
		{
			name:    "agent outside crew",
			cfg:     Config{Agents: []*agent.Agent{pm}, Tasks: []*Task{{Description: "x", Agent: outsider}}},
			wantErr: "not a crew member",
		},
		{
			name:    "task without agent",
			cfg:     Config{Agents: []*agent.Agent{pm}, Tasks: []*Task{{Description: "x"}}},
			wantErr: "agent is required",
		},
		{
			name:    "empty description",
			cfg:     Config{Agents: []*agent.Agent{pm}, Tasks: []*Task{{Description: " ", Agent: pm}}},
			wantErr: "description is required",
		},
		{
			name:    "duplicate role",
			cfg:     Config{Agents: []*agent.Agent{pm, twin}, Tasks: []*Task{{Description: "x", Agent: pm}}},
			wantErr: "duplicate agent role",
		},
		{
			name:    "nil agent",
			cfg:     Config{Agents: []*agent.Agent{pm, nil}, Tasks: []*Task{{Description: "x", Agent: pm}}},
			wantErr: "agent 1 is nil",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := New(tt.cfg)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}

	c, err := New(Config{Agents: []*agent.Agent{pm}, Tasks: []*Task{{Description: "x", Agent: pm}}})
	require.NoError(t, err)
	assert.Equal(t, ProcessSequential, c.process)
	assert.Len(t, c.Agents(), 1)
	assert.Len(t, c.Tasks(), 1)
}

func TestKickoff_SequentialContextChaining(t *testing.T) {
	analystLLM := testutils.NewMockLLM(testutils.TextResponse("Requisitos levantados"))
	pmLLM := testutils.NewMockLLM(testutils.TextResponse("Documentos finais"))
	analyst := newAgent(t, "Analista de Negócios", analystLLM, false)
	pm := newAgent(t, "Gerente de Projeto", pmLLM, false)

	var out bytes.Buffer
	c, err := New(Config{
		Agents: []*agent.Agent{pm, analyst},
		Tasks: []*Task{
			{Description: "Levantar requisitos", ExpectedOutput: "Lista", Agent: analyst},
			{Description: "Elaborar documentos", ExpectedOutput: "Markdown", Agent: pm},
		},
		Verbose: true,
		Output:  &out,
	})
	require.NoError(t, err)

	result, err := c.Kickoff(context.Background())
	require.NoError(t, err)

	assert.Equal(t, "Documentos finais", result.Raw)
	assert.Equal(t, "Documentos finais", result.String())
	assert.Equal(t, 30, result.Usage.TotalTokens)

	got := make([]string, len(result.Tasks))
	for i, task := range result.Tasks {
		got[i] = task.Agent + ": " + task.Raw
	}
	want := []string{"Analista de Negócios: Requisitos levantados", "Gerente de Projeto: Documentos finais"}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("task outputs mismatch (-want +got):\n%s", diff)
	}

	pmPrompt := pmLLM.Requests()[0].Messages[0].Content
	assert.Contains(t, pmPrompt, "Requisitos levantados")
	assert.NotContains(t, analystLLM.Requests()[0].Messages[0].Content, "This is the context")

	log := out.String()
	assert.Less(t, strings.Index(log, "Working Agent: Analista de Negócios"), strings.Index(log, "Working Agent: Gerente de Projeto"))
}

func TestKickoff_QuietUnlessVerbose(t *testing.T) {
	pm := newAgent(t, "Gerente de Projeto", testutils.NewMockLLM(testutils.TextResponse("ok")), false)

	var out bytes.Buffer
	c, err := New(Config{
		Agents: []*agent.Agent{pm},
		Tasks:  []*Task{{Description: "x", Agent: pm}},
		Output: &out,
	})
	require.NoError(t, err)

	_, err = c.Kickoff(context.Background())
	require.NoError(t, err)
	assert.Empty(t, out.String())
}

func TestKickoff_Delegation(t *testing.T) {
	pmLLM := testutils.NewMockLLM(
		testutils.ToolCallResponse(tool.ToolCall{
			ID:   "call_1",
			Name: delegatetool.DelegateWorkName,
			Args: map[string]any{
				"task":     "Estimar o orçamento",
				"context":  "Projeto de ERP",
				"coworker": "analista financeiro",
			},
		}),
		testutils.TextResponse("Plano com orçamento"),
	)
	financeLLM := testutils.NewMockLLM(testutils.TextResponse("Orçamento: R$ 100 mil"))

	pm := newAgent(t, "Gerente de Projeto", pmLLM, true)
	finance := newAgent(t, "Analista Financeiro", financeLLM, false)

	var out bytes.Buffer
	c, err := New(Config{
		Agents:  []*agent.Agent{pm, finance},
		Tasks:   []*Task{{Description: "Elaborar o plano", Agent: pm}},
		Verbose: true,
		Output:  &out,
	})
	require.NoError(t, err)

	result, err := c.Kickoff(context.Background())
	require.NoError(t, err)

	assert.Equal(t, "Plano com orçamento", result.Raw)
	assert.Equal(t, 45, result.Usage.TotalTokens)

	var toolNames []string
	for _, def := range pmLLM.Requests()[0].Tools {
		toolNames = append(toolNames, def.Name)
	}
	assert.Equal(t, []string{delegatetool.DelegateWorkName, delegatetool.AskQuestionName}, toolNames)

	delegated := financeLLM.Requests()[0]
	assert.Empty(t, delegated.Tools)
	assert.Contains(t, delegated.Messages[0].Content, "Current Task: Estimar o orçamento")
	assert.Contains(t, delegated.Messages[0].Content, "Projeto de ERP")

	msgs := pmLLM.Requests()[1].Messages
	assert.Equal(t, "Orçamento: R$ 100 mil", msgs[len(msgs)-1].Content)

	assert.Contains(t, out.String(), "Working Agent: Analista Financeiro")
	assert.Contains(t, out.String(), `"task":"Estimar o orçamento"`)
}

func TestKickoff_TaskFailure(t *testing.T) {
	boom := errors.New("openai: server error")
	failing := testutils.NewMockLLM()
	failing.GenerateFunc = func(context.Context, *model.Request) (*model.Response, error) { return nil, boom }

	first := newAgent(t, "Analista de Qualidade", testutils.NewMockLLM(testutils.TextResponse("ok")), false)
	second := newAgent(t, "Gerente de Recursos", failing, false)

	c, err := New(Config{
		Agents: []*agent.Agent{first, second},
		Tasks: []*Task{
			{Description: "a", Agent: first},
			{Description: "b", Agent: second},
		},
	})
	require.NoError(t, err)

	result, err := c.Kickoff(context.Background())
	assert.Nil(t, result)
	require.Error(t, err)
	assert.ErrorIs(t, err, boom)
	assert.Contains(t, err.Error(), "task 2 (Gerente de Recursos)")
}

func TestKickoff_Cancelled(t *testing.T) {
	llm := testutils.NewMockLLM(testutils.TextResponse("never"))
	pm := newAgent(t, "Gerente de Projeto", llm, false)

	c, err := New(Config{Agents: []*agent.Agent{pm}, Tasks: []*Task{{Description: "x", Agent: pm}}})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err = c.Kickoff(ctx)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Zero(t, llm.Calls())
}

func TestKickoff_RecordsMetrics(t *testing.T) {
	m, err := observability.NewPrometheusMetrics(observability.MetricsConfig{Enabled: true, Namespace: "pmcrew"})
	require.NoError(t, err)
	metrics, ok := m.(*observability.PrometheusMetrics)
	require.True(t, ok)
	defer metrics.Shutdown(context.Background())

	pm := newAgent(t, "Gerente de Projeto", testutils.NewMockLLM(testutils.TextResponse("ok")), false)
	c, err := New(Config{
		Agents:  []*agent.Agent{pm},
		Tasks:   []*Task{{Description: "x", Agent: pm}},
		Metrics: metrics,
	})
	require.NoError(t, err)

	_, err = c.Kickoff(context.Background())
	require.NoError(t, err)

	handler := metrics.Handler()
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	body := rec.Body.String()
	assert.Contains(t, body, "pmcrew_crew_runs")
	assert.Contains(t, body, "pmcrew_crew_task_duration")
}
