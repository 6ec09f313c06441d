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
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
)

// Event names of the analyze stream.
const (
	eventToast  = "toast"
	eventLog    = "log"
	eventResult = "result"
	eventError  = "error"
)

type toastEvent struct {
	Message string `json:"message"`
}

type logEvent struct {
	Text string `json:"text"`
}

type resultEvent struct {
	ID             string  `json:"id,omitempty"`
	ElapsedSeconds float64 `json:"elapsed_seconds"`
	ElapsedText    string  `json:"elapsed_text"`
	Markdown       string  `json:"markdown"`
	HTML           string  `json:"html"`
	TotalTokens    int     `json:"total_tokens"`
}

type errorEvent struct {
	ID             string  `json:"id,omitempty"`
	Message        string  `json:"message"`
	ElapsedSeconds float64 `json:"elapsed_seconds"`
	ElapsedText    string  `json:"elapsed_text"`
}

// eventStream writes server-sent events to one response.
type eventStream struct {
	mu      sync.Mutex
	w       http.ResponseWriter
	flusher http.Flusher
	started bool
}

func newEventStream(w http.ResponseWriter) (*eventStream, error) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		return nil, errors.New("streaming not supported")
	}
	return &eventStream{w: w, flusher: flusher}, nil
}

// start sends the SSE headers. Later calls are no-ops.
func (s *eventStream) start() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.startLocked()
}

func (s *eventStream) startLocked() {
	if s.started {
		return
	}
	s.started = true

	h := s.w.Header()
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	h.Set("X-Accel-Buffering", "no")
	s.w.WriteHeader(http.StatusOK)
	s.flusher.Flush()
}

// send writes one event: "event: <name>\ndata: <json>\n\n".
func (s *eventStream) send(event string, data any) {
	payload, err := json.Marshal(data)
	if err != nil {
		slog.Warn("Failed to encode event", "event", event, "error", err)
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.startLocked()

	if _, err := fmt.Fprintf(s.w, "event: %s\ndata: %s\n\n", event, payload); err != nil {
		slog.Debug("Failed to write event", "event", event, "error", err)
		return
	}
	s.flusher.Flush()
}
