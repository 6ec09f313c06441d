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

// Package server serves the pmcrew web UI.
//
// The page posts a project description to /api/analyze. The crew runs on the
// request goroutine and the response is a server-sent event stream: "toast"
// for every task announcement, "log" for every completed progress line and
// finally "result" or "error".
package server

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/httprate"

	"github.com/kadirpekel/pmcrew/pkg/config"
	"github.com/kadirpekel/pmcrew/pkg/model"
	"github.com/kadirpekel/pmcrew/pkg/observability"
	"github.com/kadirpekel/pmcrew/pkg/pmcrew"
	"github.com/kadirpekel/pmcrew/pkg/runstore"
	"github.com/kadirpekel/pmcrew/pkg/tool"
)

//go:embed static/index.html
var indexHTML []byte

// Options configures the server.
type Options struct {
	Server config.ServerConfig
	Crew   config.CrewConfig

	// Definition is the crew layout. Replace it at runtime with SetDefinition.
	Definition *pmcrew.Definition

	// LLM is shared by every run. Required.
	LLM         model.LLM
	Temperature *float64

	// Tools offered to personas that name them.
	Tools []tool.CallableTool

	// Store records run history. Nil disables /api/runs.
	Store *runstore.Store

	// Observability provides tracing and metrics. Nil disables both.
	Observability *observability.Manager
}

// Server is the web UI server.
type Server struct {
	opts       Options
	definition atomic.Pointer[pmcrew.Definition]
	handler    http.Handler

	mu        sync.Mutex
	server    *http.Server
	listener  net.Listener
	ready     chan struct{}
	readyOnce sync.Once
}

// New validates opts and builds the router.
func New(opts Options) (*Server, error) {
	if opts.LLM == nil {
		return nil, errors.New("llm is required")
	}
	if opts.Definition == nil {
		return nil, errors.New("crew definition is required")
	}
	if opts.Observability == nil {
		opts.Observability = observability.NoopManager()
	}
	opts.Server.SetDefaults()
	opts.Crew.SetDefaults()

	s := &Server{opts: opts, ready: make(chan struct{})}
	s.definition.Store(opts.Definition)
	s.handler = s.routes()
	return s, nil
}

// SetDefinition swaps the crew layout used by subsequent runs.
func (s *Server) SetDefinition(def *pmcrew.Definition) {
	if def == nil {
		return
	}
	s.definition.Store(def)
	slog.Info("Crew definition updated", "agents", len(def.EnabledAgents()))
}

// Definition returns the current crew layout.
func (s *Server) Definition() *pmcrew.Definition {
	return s.definition.Load()
}

// Handler returns the HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.handler
}

func (s *Server) routes() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(observability.HTTPMiddleware(s.opts.Observability.Tracer(), s.opts.Observability.Metrics(), routePattern))
	r.Use(loggingMiddleware)

	r.Get("/", s.handleIndex)
	r.Get("/health", s.handleHealth)

	if h := s.opts.Observability.MetricsHandler(); h != nil {
		r.Method(http.MethodGet, s.opts.Observability.MetricsPath(), h)
		slog.Info("Metrics endpoint enabled", "path", s.opts.Observability.MetricsPath())
	}

	r.Route("/api", func(r chi.Router) {
		analyze := http.Handler(http.HandlerFunc(s.handleAnalyze))
		if s.opts.Server.RateLimit > 0 {
			analyze = rateLimit(s.opts.Server.RateLimit, s.opts.Server.RateWindow)(analyze)
		}
		r.Method(http.MethodPost, "/analyze", analyze)
		r.Get("/runs", s.handleListRuns)
		r.Get("/runs/{id}", s.handleGetRun)
	})

	return r
}

// rateLimit limits analyze requests per client IP.
func rateLimit(limit int, window time.Duration) func(http.Handler) http.Handler {
	return httprate.Limit(
		limit,
		window,
		httprate.WithKeyFuncs(httprate.KeyByIP),
		httprate.WithLimitHandler(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Retry-After", fmt.Sprintf("%d", int(window.Seconds())))
			writeError(w, http.StatusTooManyRequests, "too many requests, please try again later")
		}),
	)
}

func routePattern(r *http.Request) string {
	if rctx := chi.RouteContext(r.Context()); rctx != nil {
		return rctx.RoutePattern()
	}
	return ""
}

// loggingMiddleware logs requests without wrapping the writer, so SSE
// flushing keeps working.
func loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		slog.Debug("HTTP request",
			"method", r.Method,
			"path", r.URL.Path,
			"request_id", middleware.GetReqID(r.Context()),
			"duration", time.Since(start),
		)
	})
}

// Start listens on the configured address and serves until ctx is done.
func (s *Server) Start(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.opts.Server.Addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.opts.Server.Addr, err)
	}

	srv := &http.Server{
		Handler:           s.handler,
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	s.mu.Lock()
	s.server = srv
	s.listener = ln
	s.mu.Unlock()
	s.readyOnce.Do(func() { close(s.ready) })

	slog.Info("HTTP server starting", "address", ln.Addr().String())

	errCh := make(chan error, 1)
	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		return s.Shutdown(context.Background())
	}
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	srv := s.server
	s.mu.Unlock()
	if srv == nil {
		return nil
	}

	shutdownCtx, cancel := context.WithTimeout(ctx, s.opts.Server.ShutdownTimeout)
	defer cancel()

	slog.Info("HTTP server shutting down")
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("HTTP shutdown error: %w", err)
	}
	return nil
}

// Ready is closed once Start is listening; Address then reports the bound
// address.
func (s *Server) Ready() <-chan struct{} {
	return s.ready
}

// Address returns the bound address once Start is listening, or the
// configured one before that.
func (s *Server) Address() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener != nil {
		return s.listener.Addr().String()
	}
	return s.opts.Server.Addr
}
