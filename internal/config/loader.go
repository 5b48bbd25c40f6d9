package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

// Load reads and merges configuration from global and project paths.
// Order of precedence (highest to lowest): project config, global config,
// defaults. Missing files are not errors; malformed JSON returns an error.
func Load(globalPath, projectPath string) (*Config, error) {
	cfg := DefaultConfig()

	if globalPath != "" {
		if err := mergeConfigFile(cfg, globalPath); err != nil {
			return nil, fmt.Errorf("loading global config: %w", err)
		}
	}

	if projectPath != "" {
		if err := mergeConfigFile(cfg, projectPath); err != nil {
			return nil, fmt.Errorf("loading project config: %w", err)
		}
	}

	return cfg, nil
}

// LoadDefault loads configuration from conventional paths.
// Global: ~/.taskpilot/config.json
// Project: .taskpilot/config.json (relative to cwd)
func LoadDefault() (*Config, error) {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return nil, fmt.Errorf("getting home directory: %w", err)
	}

	globalPath := filepath.Join(homeDir, ".taskpilot", "config.json")
	projectPath := filepath.Join(".taskpilot", "config.json")

	return Load(globalPath, projectPath)
}

// Save writes the configuration as indented JSON, creating parent
// directories as needed. The write goes through a temp-file rename so a
// concurrent Load never sees a partial file.
func Save(cfg *Config, path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}

	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding config: %w", err)
	}

	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return fmt.Errorf("writing config: %w", err)
	}
	return os.Rename(tmp, path)
}

// mergeConfigFile reads a JSON config file and merges it into the base
// config. Missing files are silently skipped.
func mergeConfigFile(base *Config, path string) error {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("reading %s: %w", path, err)
	}

	var loaded Config
	if err := json.Unmarshal(data, &loaded); err != nil {
		return fmt.Errorf("parsing %s: %w", path, err)
	}

	for key, h := range loaded.Harnesses {
		base.Harnesses[key] = h
	}
	mergeGuardrails(&base.Guardrails, loaded.Guardrails)
	mergeRun(&base.Run, loaded.Run)
	mergePaths(&base.Paths, loaded.Paths)

	return nil
}

// mergeGuardrails overlays non-zero fields.
func mergeGuardrails(base *GuardrailConfig, over GuardrailConfig) {
	if over.TokenLimit != 0 {
		base.TokenLimit = over.TokenLimit
	}
	if over.CostLimit != 0 {
		base.CostLimit = over.CostLimit
	}
	if over.MaxIterations != 0 {
		base.MaxIterations = over.MaxIterations
	}
	if over.MaxTaskIterations != 0 {
		base.MaxTaskIterations = over.MaxTaskIterations
	}
	if over.WarnThreshold != 0 {
		base.WarnThreshold = over.WarnThreshold
	}
	if over.StagnationWindow != 0 {
		base.StagnationWindow = over.StagnationWindow
	}
}

func mergeRun(base *RunConfig, over RunConfig) {
	if over.Harness != "" {
		base.Harness = over.Harness
	}
	if over.Parallel != 0 {
		base.Parallel = over.Parallel
	}
	if over.FailureMode != "" {
		base.FailureMode = over.FailureMode
	}
	if over.AutoClose {
		base.AutoClose = true
	}
	if over.AttemptTimeout != "" {
		base.AttemptTimeout = over.AttemptTimeout
	}
	if over.RetryDelay != "" {
		base.RetryDelay = over.RetryDelay
	}
	if over.CostPerToken != 0 {
		base.CostPerToken = over.CostPerToken
	}
}

func mergePaths(base *PathsConfig, over PathsConfig) {
	if over.Ledger != "" {
		base.Ledger = over.Ledger
	}
	if over.TaskDB != "" {
		base.TaskDB = over.TaskDB
	}
	if over.Workspace != "" {
		base.Workspace = over.Workspace
	}
	if over.Counters != "" {
		base.Counters = over.Counters
	}
}
