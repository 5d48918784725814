package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/utkarshkpal/now-cli/internal/domain"
)

// SupportedVersion is the only project config schema version accepted
const SupportedVersion = 2

// FileName is the conventional project configuration file
const FileName = "now.json"

// IgnoreFileName lists path patterns excluded from static serving
const IgnoreFileName = ".nowignore"

// ProjectConfig is the declarative build/route configuration read from
// the project root
type ProjectConfig struct {
	Version int                `json:"version"`
	Builds  []domain.BuildRule `json:"builds,omitempty"`
	Routes  []domain.RouteRule `json:"routes,omitempty"`
	Env     map[string]string  `json:"env,omitempty"`
	Build   BuildEnv           `json:"build,omitempty"`
}

// BuildEnv carries build-time environment overrides
type BuildEnv struct {
	Env map[string]string `json:"env,omitempty"`
}

// ValidationError is fatal at startup; the server does not start
type ValidationError struct {
	Message string
}

func (e *ValidationError) Error() string {
	return e.Message
}

// Load reads and validates the project configuration. A missing file is
// not an error: it returns (nil, nil) and the server falls back to
// static serving.
func Load(projectRoot string) (*ProjectConfig, error) {
	path := filepath.Join(projectRoot, FileName)

	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", FileName, err)
	}

	var cfg ProjectConfig
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, &ValidationError{
			Message: fmt.Sprintf("%s is not valid JSON: %v", FileName, err),
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Validate enforces the schema version, rule shapes and the
// no-secret-references constraint
func (c *ProjectConfig) Validate() error {
	if c.Version != SupportedVersion {
		return &ValidationError{
			Message: fmt.Sprintf(
				"unsupported config version %d (only version %d is supported)",
				c.Version,
				SupportedVersion,
			),
		}
	}

	for i := range c.Builds {
		if err := c.Builds[i].Validate(); err != nil {
			return &ValidationError{
				Message: fmt.Sprintf("builds[%d]: %v", i, err),
			}
		}
	}

	for i := range c.Routes {
		if err := c.Routes[i].Validate(); err != nil {
			return &ValidationError{
				Message: fmt.Sprintf("routes[%d]: %v", i, err),
			}
		}
	}

	if err := rejectSecretRefs("env", c.Env); err != nil {
		return err
	}

	return rejectSecretRefs("build.env", c.Build.Env)
}

// Secret references (@my-secret) require the platform secret store,
// which does not exist in local emulation.
func rejectSecretRefs(section string, env map[string]string) error {
	for key, value := range env {
		if strings.HasPrefix(value, "@") {
			return &ValidationError{
				Message: fmt.Sprintf(
					"%s.%s references secret %s: secrets are not supported in local development",
					section,
					key,
					value,
				),
			}
		}
	}
	return nil
}

// LoadIgnorePatterns reads .nowignore from the project root. Blank lines
// and # comments are skipped. A missing file yields no patterns.
func LoadIgnorePatterns(projectRoot string) ([]string, error) {
	data, err := os.ReadFile(filepath.Join(projectRoot, IgnoreFileName))
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", IgnoreFileName, err)
	}

	var patterns []string
	for _, line := range strings.Split(string(data), "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		patterns = append(patterns, strings.TrimPrefix(line, "/"))
	}

	return patterns, nil
}
