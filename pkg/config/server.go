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

package config

import (
	"fmt"
	"net"
	"strconv"
	"time"
)

// ServerConfig configures the web UI.
type ServerConfig struct {
	// Addr is the listen address. Default: ":8501".
	Addr string `yaml:"addr,omitempty"`

	// RateLimit is the number of analyze requests allowed per client IP
	// within RateWindow. Default: 10.
	RateLimit int `yaml:"rate_limit,omitempty"`

	// RateWindow is the rate limit window. Default: 1m.
	RateWindow time.Duration `yaml:"rate_window,omitempty"`

	// ShutdownTimeout bounds graceful shutdown. Default: 5s.
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout,omitempty"`
}

// SetDefaults applies default values.
func (c *ServerConfig) SetDefaults() {
	if c.Addr == "" {
		c.Addr = ":8501"
	}
	if c.RateLimit == 0 {
		c.RateLimit = 10
	}
	if c.RateWindow == 0 {
		c.RateWindow = time.Minute
	}
	if c.ShutdownTimeout == 0 {
		c.ShutdownTimeout = 5 * time.Second
	}
}

// Validate checks the server configuration.
func (c *ServerConfig) Validate() error {
	_, port, err := net.SplitHostPort(c.Addr)
	if err != nil {
		return fmt.Errorf("invalid addr %q: %w", c.Addr, err)
	}
	if port != "" {
		n, err := strconv.Atoi(port)
		if err != nil || n < 0 || n > 65535 {
			return fmt.Errorf("invalid port %q", port)
		}
	}
	if c.RateLimit < 0 {
		return fmt.Errorf("rate_limit must not be negative, got %d", c.RateLimit)
	}
	return nil
}

// StorageConfig configures the run history database.
type StorageConfig struct {
	// Path of the SQLite database. Default: "pmcrew.db".
	Path string `yaml:"path,omitempty"`

	// Disabled turns off run history.
	Disabled bool `yaml:"disabled,omitempty"`
}

// SetDefaults applies default values.
func (c *StorageConfig) SetDefaults() {
	if c.Path == "" {
		c.Path = "pmcrew.db"
	}
}

// CrewConfig configures the crew definition and agent loop.
type CrewConfig struct {
	// File overrides the embedded crew definition.
	File string `yaml:"file,omitempty"`

	// Verbose enables agent progress output. Default: true.
	Verbose *bool `yaml:"verbose,omitempty"`

	// MaxIterations bounds the tool-calling loop of each agent. Default: 15.
	MaxIterations int `yaml:"max_iterations,omitempty"`

	// Stream echoes model output to the progress log as it is generated.
	Stream bool `yaml:"stream,omitempty"`
}

// SetDefaults applies default values.
func (c *CrewConfig) SetDefaults() {
	if c.Verbose == nil {
		verbose := true
		c.Verbose = &verbose
	}
	if c.MaxIterations == 0 {
		c.MaxIterations = 15
	}
}

// Validate checks the crew configuration.
func (c *CrewConfig) Validate() error {
	if c.MaxIterations < 1 || c.MaxIterations > 100 {
		return fmt.Errorf("max_iterations must be between 1 and 100, got %d", c.MaxIterations)
	}
	return nil
}

// IsVerbose reports whether agent progress output is enabled.
func (c *CrewConfig) IsVerbose() bool {
	return c.Verbose == nil || *c.Verbose
}
