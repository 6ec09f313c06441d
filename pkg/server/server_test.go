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

package server

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/kadirpekel/pmcrew/pkg/config"
	"github.com/kadirpekel/pmcrew/pkg/model"
	"github.com/kadirpekel/pmcrew/pkg/observability"
	"github.com/kadirpekel/pmcrew/pkg/pmcrew"
	"github.com/kadirpekel/pmcrew/pkg/runstore"
	"github.com/kadirpekel/pmcrew/pkg/testutils"
)

const testDefinition = `
agents:
  - role: Gerente de Projeto
    goal: Entregar o projeto {{description}}
documents: [Plano de Escopo]
task:
  agent: Gerente de Projeto
  description: "Elaborar ({{documents}}) com descrição: {{description}}"
  expected_output: "Documentos ({{documents}})"
`

type sseEvent struct {
	Name string
	Data map[string]any
}

func parseEvents(t *testing.T, body string) []sseEvent {
	t.Helper()
	var events []sseEvent
	var current sseEvent
	scanner := bufio.NewScanner(strings.NewReader(body))
	for scanner.Scan() {
		line := scanner.Text()
		switch {
		case strings.HasPrefix(line, "event: "):
			current.Name = strings.TrimPrefix(line, "event: ")
		case strings.HasPrefix(line, "data: "):
			require.NoError(t, json.Unmarshal([]byte(strings.TrimPrefix(line, "data: ")), &current.Data))
		case line == "" && current.Name != "":
			events = append(events, current)
			current = sseEvent{}
		}
	}
	return events
}

func eventsNamed(events []sseEvent, name string) []sseEvent {
	var out []sseEvent
	for _, e := range events {
		if e.Name == name {
			out = append(out, e)
		}
	}
	return out
}

type fixture struct {
	server *Server
	llm    *testutils.MockLLM
	store  *runstore.Store
}

func newFixture(t *testing.T, mutate ...func(*Options)) *fixture {
	t.Helper()

	def, err := pmcrew.ParseDefinition([]byte(testDefinition))
	require.NoError(t, err)

	store, err := runstore.Open(runstore.MemoryDSN)
	require.NoError(t, err)
	t.Cleanup(func() {
		if store != nil {
			_ = store.Close()
		}
	})

	llm := testutils.NewMockLLM(testutils.TextResponse("# Resultado\n\n**ok**"))
	opts := Options{
		Server:     config.ServerConfig{Addr: "127.0.0.1:0"},
		Definition: def,
		LLM:        llm,
		Store:      store,
	}
	for _, m := range mutate {
		m(&opts)
	}
	if opts.Store == nil {
		require.NoError(t, store.Close())
		store = nil
	}

	s, err := New(opts)
	require.NoError(t, err)
	return &fixture{server: s, llm: llm, store: store}
}

func (f *fixture) do(method, path, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	f.server.Handler().ServeHTTP(rec, req)
	return rec
}

func TestNew_Validation(t *testing.T) {
	_, err := New(Options{})
	assert.ErrorContains(t, err, "llm is required")

	_, err = New(Options{LLM: testutils.NewMockLLM()})
	assert.ErrorContains(t, err, "definition is required")
}

func TestIndex(t *testing.T) {
	f := newFixture(t)

	rec := f.do(http.MethodGet, "/", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "text/html; charset=utf-8", rec.Header().Get("Content-Type"))

	body := rec.Body.String()
	assert.Contains(t, body, "Equipe de IA para abertura de projetos")
	assert.Contains(t, body, "Insira um a descrição de um projeto para gerar os documentos deste projeto.")
	assert.Contains(t, body, "Analisar")
	assert.Contains(t, body, "Processando!")
	assert.Contains(t, body, "Resultados:")
}

func TestHealth(t *testing.T) {
	rec := newFixture(t).do(http.MethodGet, "/health", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())
}

func TestAnalyze_StreamsProgressAndResult(t *testing.T) {
	f := newFixture(t)

	rec := f.do(http.MethodPost, "/api/analyze", `{"description":"Implantação de um ERP"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "text/event-stream", rec.Header().Get("Content-Type"))

	events := parseEvents(t, rec.Body.String())

	toasts := eventsNamed(events, eventToast)
	require.Len(t, toasts, 1)
	assert.Equal(t, "🤖 Elaborar (plano de escopo) com descrição: Implantação de um ERP", toasts[0].Data["message"])

	var logText strings.Builder
	for _, e := range eventsNamed(events, eventLog) {
		logText.WriteString(e.Data["text"].(string))
	}
	assert.Contains(t, logText.String(), "[DEBUG]: == Working Agent: Gerente de Projeto")
	assert.NotContains(t, logText.String(), "\x1b[")

	results := eventsNamed(events, eventResult)
	require.Len(t, results, 1)
	result := results[0].Data
	assert.Equal(t, "# Resultado\n\n**ok**", result["markdown"])
	assert.Contains(t, result["html"], "<h1>Resultado</h1>")
	assert.Contains(t, result["html"], "<strong>ok</strong>")
	assert.True(t, strings.HasPrefix(result["elapsed_text"].(string), "Tempo total decorrido: "))
	assert.True(t, strings.HasSuffix(result["elapsed_text"].(string), " segundos"))
	assert.Equal(t, events[len(events)-1].Name, eventResult)

	id, _ := result["id"].(string)
	require.NotEmpty(t, id)

	run, err := f.store.Get(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, runstore.StatusSucceeded, run.Status)
	assert.Equal(t, "Implantação de um ERP", run.Description)
	assert.Equal(t, 15, run.TotalTokens)
}

func TestAnalyze_Failure(t *testing.T) {
	f := newFixture(t)
	f.llm.GenerateFunc = func(context.Context, *model.Request) (*model.Response, error) {
		return nil, errors.New("openai: invalid api key")
	}

	rec := f.do(http.MethodPost, "/api/analyze", `{"description":"ERP"}`)
	require.Equal(t, http.StatusOK, rec.Code)

	events := parseEvents(t, rec.Body.String())
	errs := eventsNamed(events, eventError)
	require.Len(t, errs, 1)
	assert.Contains(t, errs[0].Data["message"], "invalid api key")
	assert.Empty(t, eventsNamed(events, eventResult))

	runs, err := f.store.List(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, runstore.StatusFailed, runs[0].Status)
	assert.Contains(t, runs[0].Error, "invalid api key")
}

func TestAnalyze_BadRequests(t *testing.T) {
	f := newFixture(t)

	tests := []struct {
		name string
		body string
	}{
		{"empty description", `{"description":""}`},
		{"blank description", `{"description":"   "}`},
		{"missing description", `{}`},
		{"invalid json", `{"description":`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := f.do(http.MethodPost, "/api/analyze", tt.body)
			assert.Equal(t, http.StatusBadRequest, rec.Code)
			assert.Contains(t, rec.Body.String(), `"error"`)
		})
	}
	assert.Zero(t, f.llm.Calls())
}

func TestAnalyze_RateLimited(t *testing.T) {
	f := newFixture(t, func(o *Options) {
		o.Server.RateLimit = 1
		o.Server.RateWindow = time.Minute
	})
	f.llm.Responses = append(f.llm.Responses, testutils.TextResponse("segundo"))

	first := f.do(http.MethodPost, "/api/analyze", `{"description":"ERP"}`)
	assert.Equal(t, http.StatusOK, first.Code)

	second := f.do(http.MethodPost, "/api/analyze", `{"description":"ERP"}`)
	assert.Equal(t, http.StatusTooManyRequests, second.Code)
	assert.Equal(t, "60", second.Header().Get("Retry-After"))
}

func TestRuns(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	run, err := f.store.Create(ctx, "ERP")
	require.NoError(t, err)
	require.NoError(t, f.store.Complete(ctx, run.ID, "# ok", time.Second, 10))

	rec := f.do(http.MethodGet, "/api/runs", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var list struct {
		Runs []runstore.Run `json:"runs"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &list))
	require.Len(t, list.Runs, 1)
	assert.Equal(t, run.ID, list.Runs[0].ID)

	rec = f.do(http.MethodGet, "/api/runs/"+run.ID, "")
	require.Equal(t, http.StatusOK, rec.Code)
	var got runstore.Run
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.Equal(t, "# ok", got.Result)

	assert.Equal(t, http.StatusNotFound, f.do(http.MethodGet, "/api/runs/missing", "").Code)
	assert.Equal(t, http.StatusBadRequest, f.do(http.MethodGet, "/api/runs?limit=abc", "").Code)
}

func TestRuns_Disabled(t *testing.T) {
	f := newFixture(t, func(o *Options) { o.Store = nil })

	assert.Equal(t, http.StatusNotFound, f.do(http.MethodGet, "/api/runs", "").Code)
	assert.Equal(t, http.StatusNotFound, f.do(http.MethodGet, "/api/runs/x", "").Code)

	rec := f.do(http.MethodPost, "/api/analyze", `{"description":"ERP"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, eventsNamed(parseEvents(t, rec.Body.String()), eventResult), 1)
}

func TestMetricsEndpoint(t *testing.T) {
	ctx := context.Background()
	obs := observability.NewManager(observability.Config{
		Metrics: observability.MetricsConfig{Enabled: true, Endpoint: "/metrics", Namespace: "pmcrew"},
	})
	require.NoError(t, obs.Initialize(ctx))
	defer obs.Shutdown(ctx)

	f := newFixture(t, func(o *Options) { o.Observability = obs })

	require.Equal(t, http.StatusOK, f.do(http.MethodGet, "/health", "").Code)

	rec := f.do(http.MethodGet, "/metrics", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "pmcrew_http_request_duration")
}

func TestSetDefinition(t *testing.T) {
	f := newFixture(t)
	before := f.server.Definition()

	f.server.SetDefinition(nil)
	assert.Same(t, before, f.server.Definition())

	def, err := pmcrew.DefaultDefinition()
	require.NoError(t, err)
	f.server.SetDefinition(def)
	assert.Same(t, def, f.server.Definition())
}

func TestStartAndShutdown(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	f := newFixture(t, func(o *Options) { o.Store = nil })
	ctx, cancel := context.WithCancel(context.Background())

	select {
	case <-f.server.Ready():
		t.Fatal("ready before Start")
	default:
	}
	assert.Equal(t, "127.0.0.1:0", f.server.Address())

	done := make(chan error, 1)
	go func() { done <- f.server.Start(ctx) }()

	select {
	case <-f.server.Ready():
	case <-time.After(5 * time.Second):
		t.Fatal("server never became ready")
	}
	assert.NotEqual(t, "127.0.0.1:0", f.server.Address())
	assert.True(t, strings.HasPrefix(f.server.Address(), "127.0.0.1:"))

	client := &http.Client{Transport: &http.Transport{DisableKeepAlives: true}}
	require.Eventually(t, func() bool {
		resp, err := client.Get("http://" + f.server.Address() + "/health")
		if err != nil {
			return false
		}
		_ = resp.Body.Close()
		return resp.StatusCode == http.StatusOK
	}, 5*time.Second, 20*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not stop")
	}
}

func TestRenderMarkdown(t *testing.T) {
	html, err := RenderMarkdown("## Plano de Riscos\n\n| Risco | Impacto |\n|---|---|\n| Atraso | Alto |\n\n<script>x</script>")
	require.NoError(t, err)
	assert.Contains(t, html, "<h2>Plano de Riscos</h2>")
	assert.Contains(t, html, "<table>")
	assert.NotContains(t, html, "<script>")
}

func TestElapsedText(t *testing.T) {
	assert.Equal(t, "Tempo total decorrido: 1.50 segundos", elapsedText(1500*time.Millisecond))
	assert.Equal(t, "Tempo total decorrido: 0.00 segundos", elapsedText(0))
}
