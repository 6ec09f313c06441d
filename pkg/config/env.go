package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"regexp"
	"strings"

	"github.com/joho/godotenv"
)

// Environment variables that override file values.
const (
	EnvAPIKey   = "OPENAI_API_KEY"
	EnvModel    = "OPENAI_MODEL"
	EnvBaseURL  = "OPENAI_BASE_URL"
	EnvAddr     = "PMCREW_ADDR"
	EnvDB       = "PMCREW_DB"
	EnvLogLevel = "PMCREW_LOG_LEVEL"
)

// LoadDotEnv loads .env.local then .env from the working directory.
// Variables already set in the environment are not overwritten, and
// missing files are ignored.
func LoadDotEnv() error {
	for _, file := range []string{".env.local", ".env"} {
		if err := godotenv.Load(file); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("failed to load %s: %w", file, err)
		}
	}
	return nil
}

// applyEnvOverrides copies recognised environment variables over file values.
func applyEnvOverrides(cfg *Config) {
	overrides := []struct {
		env    string
		target *string
	}{
		{EnvAPIKey, &cfg.LLM.APIKey},
		{EnvModel, &cfg.LLM.Model},
		{EnvBaseURL, &cfg.LLM.BaseURL},
		{EnvAddr, &cfg.Server.Addr},
		{EnvDB, &cfg.Storage.Path},
		{EnvLogLevel, &cfg.Logger.Level},
	}
	for _, o := range overrides {
		if val := strings.TrimSpace(os.Getenv(o.env)); val != "" {
			*o.target = val
		}
	}
}

// envVarPattern matches ${VAR}, ${VAR:-default}, and $VAR
var envVarPattern = regexp.MustCompile(`\$\{([^}]+)\}|\$([A-Za-z_][A-Za-z0-9_]*)`)

func expandEnvString(s string) string {
	if !strings.Contains(s, "$") {
		return s
	}
	return envVarPattern.ReplaceAllStringFunc(s, func(match string) string {
		if strings.HasPrefix(match, "${") {
			inner := match[2 : len(match)-1]

			if idx := strings.Index(inner, ":-"); idx != -1 {
				if val := os.Getenv(inner[:idx]); val != "" {
					return val
				}
				return inner[idx+2:]
			}

			return os.Getenv(inner)
		}

		return os.Getenv(match[1:])
	})
}

// expandEnvVars recursively expands environment references in a map.
func expandEnvVars(input map[string]any) map[string]any {
	result := make(map[string]any, len(input))
	for k, v := range input {
		result[k] = expandValue(v)
	}
	return result
}

func expandValue(v any) any {
	switch val := v.(type) {
	case string:
		return expandEnvString(val)
	case map[string]any:
		return expandEnvVars(val)
	case []any:
		result := make([]any, len(val))
		for i, item := range val {
			result[i] = expandValue(item)
		}
		return result
	default:
		return v
	}
}
