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

package observability

import (
	"context"
	"errors"
	"net/http"
	"sync"
)

// Manager owns the tracer and metrics for the process lifetime.
type Manager struct {
	config  Config
	opts    []TracerOption
	mu      sync.RWMutex
	tracer  *Tracer
	metrics Metrics
}

// NewManager creates a Manager. Call Initialize before use.
func NewManager(cfg Config, opts ...TracerOption) *Manager {
	return &Manager{config: cfg, opts: opts, metrics: NoopMetrics{}}
}

// NoopManager returns a Manager with tracing and metrics disabled.
func NoopManager() *Manager {
	return NewManager(Config{})
}

// Initialize creates the tracer provider and metric instruments.
func (m *Manager) Initialize(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	tracer, err := NewTracer(ctx, m.config.Tracing, m.opts...)
	if err != nil {
		return err
	}
	m.tracer = tracer

	metrics, err := NewPrometheusMetrics(m.config.Metrics)
	if err != nil {
		return errors.Join(err, tracer.Shutdown(ctx))
	}
	m.metrics = metrics

	return nil
}

// Tracer returns the tracer; nil (and no-op) when tracing is disabled.
func (m *Manager) Tracer() *Tracer {
	if m == nil {
		return nil
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.tracer
}

// Metrics returns the metrics recorder; never nil.
func (m *Manager) Metrics() Metrics {
	if m == nil {
		return NoopMetrics{}
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.metrics == nil {
		return NoopMetrics{}
	}
	return m.metrics
}

// MetricsHandler returns the Prometheus handler, or nil when metrics are
// disabled.
func (m *Manager) MetricsHandler() http.Handler {
	if pm, ok := m.Metrics().(*PrometheusMetrics); ok {
		return pm.Handler()
	}
	return nil
}

// MetricsPath returns the configured metrics endpoint path.
func (m *Manager) MetricsPath() string {
	if m.config.Metrics.Endpoint == "" {
		return DefaultMetricsPath
	}
	return m.config.Metrics.Endpoint
}

// Shutdown flushes pending spans and stops the providers.
func (m *Manager) Shutdown(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	var errs []error
	if err := m.tracer.Shutdown(ctx); err != nil {
		errs = append(errs, err)
	}
	if pm, ok := m.metrics.(*PrometheusMetrics); ok {
		if err := pm.Shutdown(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
