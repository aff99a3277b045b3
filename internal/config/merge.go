package config

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"
)

// MergeFile decodes the YAML or TOML file at path onto target. Settings absent
// from the file keep the values already in target, so merging onto Default()
// yields a complete configuration.
func MergeFile(target *Config, path string) error {
	if target == nil {
		return errors.New("nil target *Config in MergeFile")
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("reading config file %s: %w", path, err)
	}

	// Empty or comment-only file: nothing to merge.
	if len(bytes.TrimSpace(data)) == 0 {
		return nil
	}

	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".yaml", ".yml":
		if err = yaml.Unmarshal(data, target); err != nil {
			return fmt.Errorf("parsing YAML config %s: %w", path, err)
		}
	case ".toml":
		if _, err = toml.Decode(string(data), target); err != nil {
			return fmt.Errorf("parsing TOML config %s: %w", path, err)
		}
	default:
		return invalid("config file", path, fmt.Sprintf("unsupported format %q", ext))
	}

	return nil
}

// WriteYAML renders cfg as YAML.
func WriteYAML(cfg *Config) ([]byte, error) {
	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(cfg); err != nil {
		return nil, fmt.Errorf("encoding config: %w", err)
	}
	if err := enc.Close(); err != nil {
		return nil, fmt.Errorf("encoding config: %w", err)
	}
	return buf.Bytes(), nil
}
