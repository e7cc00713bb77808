package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// LoadConfig loads a configuration from a file.
//
// The file format is determined by extension:
//   - .yaml, .yml -> YAML
//   - .json -> JSON
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	return ParseConfig(data, path)
}

// ParseConfig parses configuration data. The format follows the extension
// of path, defaulting to YAML.
func ParseConfig(data []byte, path string) (*Config, error) {
	var config Config

	ext := strings.ToLower(filepath.Ext(path))
	switch ext {
	case ".json":
		if err := json.Unmarshal(data, &config); err != nil {
			return nil, fmt.Errorf("failed to parse JSON config: %w", err)
		}
	case ".yaml", ".yml", "":
		if err := yaml.Unmarshal(data, &config); err != nil {
			return nil, fmt.Errorf("failed to parse YAML config: %w", err)
		}
	default:
		if err := yaml.Unmarshal(data, &config); err != nil {
			return nil, fmt.Errorf("failed to parse config (unknown format %s): %w", ext, err)
		}
	}

	return &config, nil
}

// Marshal renders c as YAML.
func Marshal(c *Config) ([]byte, error) {
	return yaml.Marshal(c)
}

// ParseStages parses a compact stage list such as "2m:20,10m:20,2m:0".
// Each entry is duration:target.
func ParseStages(s string) ([]StageConfig, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, nil
	}

	parts := strings.Split(s, ",")
	stages := make([]StageConfig, 0, len(parts))
	for i, part := range parts {
		durStr, targetStr, ok := strings.Cut(strings.TrimSpace(part), ":")
		if !ok {
			return nil, fmt.Errorf("stage %d: %q is not duration:target", i, part)
		}

		dur, err := ParseDuration(strings.TrimSpace(durStr))
		if err != nil {
			return nil, fmt.Errorf("stage %d: %w", i, err)
		}

		target, err := strconv.Atoi(strings.TrimSpace(targetStr))
		if err != nil {
			return nil, fmt.Errorf("stage %d: invalid target %q", i, targetStr)
		}

		stages = append(stages, StageConfig{Duration: Duration(dur), Target: target})
	}
	return stages, nil
}

// FormatStages renders stages in the ParseStages syntax.
func FormatStages(stages []StageConfig) string {
	parts := make([]string, len(stages))
	for i, s := range stages {
		parts[i] = fmt.Sprintf("%s:%d", time.Duration(s.Duration), s.Target)
	}
	return strings.Join(parts, ",")
}

// ParseHeader parses "Name: value" or "Name=value".
func ParseHeader(s string) (string, string, error) {
	sep := strings.IndexAny(s, ":=")
	if sep <= 0 {
		return "", "", fmt.Errorf("invalid header %q (want Name: value)", s)
	}
	name := strings.TrimSpace(s[:sep])
	if name == "" {
		return "", "", fmt.Errorf("invalid header %q (empty name)", s)
	}
	return name, strings.TrimSpace(s[sep+1:]), nil
}
