// Package config loads engine configuration and credentials. Both files are
// YAML read as generic maps; credentials deep-merge one level into the
// configuration with credential values winning, and a model override layers
// on top of the result.
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/mitchellh/mapstructure"
	"gopkg.in/yaml.v3"
)

// DefaultEngineURL is used when no configuration names an engine endpoint.
const DefaultEngineURL = "http://127.0.0.1:4096"

// Settings is the typed view of the merged configuration.
type Settings struct {
	EngineURL string            `mapstructure:"engine_url"`
	Model     string            `mapstructure:"model"`
	APIKey    string            `mapstructure:"api_key"`
	Env       map[string]string `mapstructure:"env"`
}

// Load reads and merges the optional config and credential files and applies
// the model override. Empty paths are skipped.
func Load(configPath, credentialsPath, modelOverride string) (Settings, error) {
	merged := map[string]any{}

	if configPath != "" {
		cfg, err := readYAMLMap(configPath)
		if err != nil {
			return Settings{}, err
		}
		merged = cfg
	}

	if credentialsPath != "" {
		creds, err := readYAMLMap(credentialsPath)
		if err != nil {
			return Settings{}, err
		}
		mergeOneLevel(merged, creds)
	}

	if modelOverride != "" {
		merged["model"] = modelOverride
	}

	var s Settings
	if err := mapstructure.Decode(merged, &s); err != nil {
		return Settings{}, fmt.Errorf("invalid configuration: %w", err)
	}
	if s.EngineURL == "" {
		s.EngineURL = DefaultEngineURL
	}
	return s, nil
}

// readYAMLMap loads one YAML file as a generic map. A missing or malformed
// file names only its base name; configs often live under dotfile paths the
// error must not expose. Other I/O failures propagate verbatim.
func readYAMLMap(path string) (map[string]any, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("config file not found: %s", filepath.Base(path))
		}
		return nil, err
	}

	var m map[string]any
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("malformed config file: %s", filepath.Base(path))
	}
	if m == nil {
		m = map[string]any{}
	}
	return m, nil
}

// mergeOneLevel merges src into dst. When both sides hold a map under the
// same key the maps are merged key-by-key with src winning; any other
// collision is replaced by src outright.
func mergeOneLevel(dst, src map[string]any) {
	for k, sv := range src {
		sm, sok := sv.(map[string]any)
		dm, dok := dst[k].(map[string]any)
		if sok && dok {
			for nk, nv := range sm {
				dm[nk] = nv
			}
			continue
		}
		dst[k] = sv
	}
}
