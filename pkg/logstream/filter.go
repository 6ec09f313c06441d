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

// Package logstream turns the crew's progress output into UI events.
//
// A Filter sits between whatever emits progress text (agents, the crew
// executor) and a UI surface. Every chunk written to it is cleaned of ANSI
// colour codes, scanned for a task announcement, and buffered until a newline
// arrives:
//
//	f := logstream.New(
//	    logstream.DisplayFunc(func(text string) { panel.Append(text) }),
//	    logstream.NotifierFunc(func(msg string) { toasts.Show(msg) }),
//	)
//	fmt.Fprintf(f, "[INFO]: == Starting Task: %s\n", description)
//
// Two announcement formats are recognised. A quoted JSON-like field
// ("task": "Draft charter") is checked first; a bare prefix
// (task: Draft charter) is the fallback. Both are case-insensitive.
package logstream

import (
	"io"
	"regexp"
	"strings"
	"sync"
)

// space matches Unicode whitespace, not only ASCII.
const space = `[\s\v\x1c-\x1f\x85\p{Z}]`

var (
	ansiPattern       = regexp.MustCompile(`\x1b\[[0-9;]*[mK]`)
	quotedTaskPattern = regexp.MustCompile(`(?i)"task"` + space + `*:` + space + `*"(.*?)"`)
	bareTaskPattern   = regexp.MustCompile(`(?i)task` + space + `*:` + space + `*([^\n]*)`)
)

// Notifier receives task labels scraped from the stream.
type Notifier interface {
	Notify(message string)
}

// NotifierFunc adapts a function to Notifier.
type NotifierFunc func(message string)

// Notify calls f(message).
func (f NotifierFunc) Notify(message string) { f(message) }

// Display receives buffered text each time a line completes.
type Display interface {
	Display(text string)
}

// DisplayFunc adapts a function to Display.
type DisplayFunc func(text string)

// Display calls f(text).
func (f DisplayFunc) Display(text string) { f(text) }

type nopSink struct{}

func (nopSink) Notify(string)  {}
func (nopSink) Display(string) {}

// Option configures a Filter.
type Option func(*Filter)

// WithNotifyPrefix prepends prefix to every notification.
func WithNotifyPrefix(prefix string) Option {
	return func(f *Filter) {
		f.notifyPrefix = prefix
	}
}

// Filter is an io.Writer that strips ANSI sequences, surfaces task labels
// through a Notifier and flushes complete lines to a Display.
//
// Write never fails: unmatched input produces no notification and a chunk
// without a newline stays buffered until one arrives.
type Filter struct {
	mu           sync.Mutex
	display      Display
	notifier     Notifier
	notifyPrefix string
	buffer       []string
}

// New creates a Filter. A nil display or notifier discards its events.
func New(display Display, notifier Notifier, opts ...Option) *Filter {
	f := &Filter{
		display:  display,
		notifier: notifier,
	}
	if f.display == nil {
		f.display = nopSink{}
	}
	if f.notifier == nil {
		f.notifier = nopSink{}
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// Write implements io.Writer.
func (f *Filter) Write(p []byte) (int, error) {
	f.write(string(p))
	return len(p), nil
}

// WriteString implements io.StringWriter.
func (f *Filter) WriteString(s string) (int, error) {
	f.write(s)
	return len(s), nil
}

func (f *Filter) write(data string) {
	cleaned := StripANSI(data)

	f.mu.Lock()
	defer f.mu.Unlock()

	if label, ok := ExtractTask(cleaned); ok {
		f.notifier.Notify(f.notifyPrefix + label)
	}

	f.buffer = append(f.buffer, cleaned)
	if strings.Contains(data, "\n") {
		f.flushLocked()
	}
}

// Buffered returns the text waiting for a newline.
func (f *Filter) Buffered() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return strings.Join(f.buffer, "")
}

// Flush displays any pending text even though no newline has arrived.
// It is a no-op when nothing is buffered.
func (f *Filter) Flush() {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.buffer) == 0 {
		return
	}
	f.flushLocked()
}

func (f *Filter) flushLocked() {
	f.display.Display(strings.Join(f.buffer, ""))
	f.buffer = nil
}

// StripANSI removes ANSI colour (m) and erase-line (K) sequences,
// including sequences that only form once an inner one is removed.
func StripANSI(s string) string {
	for strings.Contains(s, "\x1b") {
		cleaned := ansiPattern.ReplaceAllString(s, "")
		if cleaned == s {
			break
		}
		s = cleaned
	}
	return s
}

// ExtractTask returns the task label announced in s, if any.
// The quoted form wins over the bare form when both are present.
func ExtractTask(s string) (string, bool) {
	if m := quotedTaskPattern.FindStringSubmatch(s); m != nil {
		return m[1], m[1] != ""
	}
	if m := bareTaskPattern.FindStringSubmatch(s); m != nil {
		label := strings.TrimSpace(m[1])
		return label, label != ""
	}
	return "", false
}

var (
	_ io.Writer       = (*Filter)(nil)
	_ io.StringWriter = (*Filter)(nil)
)
