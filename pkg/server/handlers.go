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
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/kadirpekel/pmcrew/pkg/logstream"
	"github.com/kadirpekel/pmcrew/pkg/pmcrew"
	"github.com/kadirpekel/pmcrew/pkg/runstore"
)

// maxRequestBytes bounds the analyze request body.
const maxRequestBytes = 64 << 10

// toastPrefix is shown before every task announcement.
const toastPrefix = "🤖 "

type analyzeRequest struct {
	Description string `json:"description"`
}

func (s *Server) handleIndex(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Header().Set("Cache-Control", "no-cache")
	_, _ = w.Write(indexHTML)
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// handleAnalyze runs the crew for one description and streams its progress.
func (s *Server) handleAnalyze(w http.ResponseWriter, r *http.Request) {
	var req analyzeRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBytes)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	description := strings.TrimSpace(req.Description)
	if description == "" {
		writeError(w, http.StatusBadRequest, pmcrew.ErrEmptyDescription.Error())
		return
	}

	stream, err := newEventStream(w)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	filter := logstream.New(
		logstream.DisplayFunc(func(text string) { stream.send(eventLog, logEvent{Text: text}) }),
		logstream.NotifierFunc(func(msg string) { stream.send(eventToast, toastEvent{Message: msg}) }),
		logstream.WithNotifyPrefix(toastPrefix),
	)

	c, err := pmcrew.Setup(s.Definition(), description, pmcrew.Options{
		LLM:           s.opts.LLM,
		Tools:         s.opts.Tools,
		Output:        filter,
		Verbose:       s.opts.Crew.IsVerbose(),
		Stream:        s.opts.Crew.Stream,
		MaxIterations: s.opts.Crew.MaxIterations,
		Temperature:   s.opts.Temperature,
		Tracer:        s.opts.Observability.Tracer(),
		Metrics:       s.opts.Observability.Metrics(),
	})
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	ctx := r.Context()
	runID := s.createRun(r, description)

	stream.start()
	start := time.Now()
	out, err := c.Kickoff(ctx)
	filter.Flush()
	elapsed := time.Since(start)

	if err != nil {
		slog.Error("Run failed", "run_id", runID, "error", err, "elapsed", elapsed)
		if s.opts.Store != nil && runID != "" {
			if storeErr := s.opts.Store.Fail(context.WithoutCancel(ctx), runID, err, elapsed); storeErr != nil {
				slog.Warn("Failed to record run failure", "run_id", runID, "error", storeErr)
			}
		}
		stream.send(eventError, errorEvent{
			ID:             runID,
			Message:        err.Error(),
			ElapsedSeconds: elapsed.Seconds(),
			ElapsedText:    elapsedText(elapsed),
		})
		return
	}

	rendered, renderErr := RenderMarkdown(out.Raw)
	if renderErr != nil {
		slog.Warn("Failed to render result", "run_id", runID, "error", renderErr)
	}

	if s.opts.Store != nil && runID != "" {
		if err := s.opts.Store.Complete(context.WithoutCancel(ctx), runID, out.Raw, elapsed, out.Usage.TotalTokens); err != nil {
			slog.Warn("Failed to record run result", "run_id", runID, "error", err)
		}
	}

	stream.send(eventResult, resultEvent{
		ID:             runID,
		ElapsedSeconds: elapsed.Seconds(),
		ElapsedText:    elapsedText(elapsed),
		Markdown:       out.Raw,
		HTML:           rendered,
		TotalTokens:    out.Usage.TotalTokens,
	})
}

func (s *Server) createRun(r *http.Request, description string) string {
	if s.opts.Store == nil {
		return ""
	}
	run, err := s.opts.Store.Create(r.Context(), description)
	if err != nil {
		slog.Warn("Failed to record run", "error", err)
		return ""
	}
	return run.ID
}

func (s *Server) handleListRuns(w http.ResponseWriter, r *http.Request) {
	if s.opts.Store == nil {
		writeError(w, http.StatusNotFound, "run history is disabled")
		return
	}

	limit := runstore.DefaultListLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			writeError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = n
	}

	runs, err := s.opts.Store.List(r.Context(), limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if runs == nil {
		runs = []*runstore.Run{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"runs": runs})
}

func (s *Server) handleGetRun(w http.ResponseWriter, r *http.Request) {
	if s.opts.Store == nil {
		writeError(w, http.StatusNotFound, "run history is disabled")
		return
	}

	run, err := s.opts.Store.Get(r.Context(), chi.URLParam(r, "id"))
	if errors.Is(err, runstore.ErrNotFound) {
		writeError(w, http.StatusNotFound, "run not found")
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, run)
}

// elapsedText formats the stopwatch line shown under the button.
func elapsedText(d time.Duration) string {
	return fmt.Sprintf("Tempo total decorrido: %.2f segundos", d.Seconds())
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
