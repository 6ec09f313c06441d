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

package main

import (
	"fmt"
	"io"
	"os"

	"github.com/kadirpekel/pmcrew/pkg/config"
	"github.com/kadirpekel/pmcrew/pkg/logger"
)

const (
	// LogFileEnvVar is the environment variable name for log file path
	LogFileEnvVar = "LOG_FILE"
	// LogLevelEnvVar is the environment variable name for log level
	LogLevelEnvVar = "LOG_LEVEL"
	// LogFormatEnvVar is the environment variable name for log format
	LogFormatEnvVar = "LOG_FORMAT"
	// DefaultLogFormat is the default log format
	DefaultLogFormat = logger.FormatSimple
)

// logSettings remembers which logger settings came from flags or the
// environment so the config file only fills the rest.
type logSettings struct {
	level, file, format string
	explicit            struct{ level, file, format bool }
	cleanup             func()
}

// initLoggerFromCLI initializes the logger from CLI flags and environment variables.
// Priority: CLI flags > env vars > defaults
func initLoggerFromCLI(cliLogLevel, cliLogFile, cliLogFormat string) (*logSettings, error) {
	s := &logSettings{}
	s.level, s.explicit.level = firstSet(cliLogLevel, os.Getenv(config.EnvLogLevel), os.Getenv(LogLevelEnvVar))
	s.file, s.explicit.file = firstSet(cliLogFile, os.Getenv(LogFileEnvVar))
	s.format, s.explicit.format = firstSet(cliLogFormat, os.Getenv(LogFormatEnvVar))

	if err := s.apply(); err != nil {
		return nil, err
	}
	return s, nil
}

// applyConfig re-initializes the logger with config file values for any
// setting that was not given on the command line or in the environment.
func (s *logSettings) applyConfig(cfg config.LoggerConfig) error {
	if s.explicit.level && s.explicit.file && s.explicit.format {
		return nil
	}

	next := *s
	if !s.explicit.level && cfg.Level != "" {
		next.level = cfg.Level
	}
	if !s.explicit.file {
		next.file = cfg.File
	}
	if !s.explicit.format && cfg.Format != "" {
		next.format = cfg.Format
	}
	if next.level == s.level && next.file == s.file && next.format == s.format {
		return nil
	}

	next.cleanup = nil
	if err := next.apply(); err != nil {
		return err
	}
	s.Close()
	*s = next
	return nil
}

func (s *logSettings) apply() error {
	level, err := logger.ParseLevel(s.level)
	if err != nil {
		return fmt.Errorf("invalid log level: %w", err)
	}
	format := s.format
	if format == "" {
		format = DefaultLogFormat
	}

	var output io.Writer = os.Stderr
	if s.file != "" {
		file, cleanup, err := logger.OpenLogFile(s.file)
		if err != nil {
			return fmt.Errorf("failed to open log file: %w", err)
		}
		output = file
		s.cleanup = cleanup
	}

	logger.Init(level, output, format)
	return nil
}

// Close releases the log file, if any.
func (s *logSettings) Close() {
	if s != nil && s.cleanup != nil {
		s.cleanup()
		s.cleanup = nil
	}
}

func firstSet(values ...string) (string, bool) {
	for _, v := range values {
		if v != "" {
			return v, true
		}
	}
	return "", false
}
