// Package task loads task definition files: the prompt, the validation
// script, and the retry budget for one checkloop run.
package task

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/checkloop/checkloop/internal/orchestrator"
	"github.com/checkloop/checkloop/internal/script"
)

// File is the on-disk task shape (YAML).
type File struct {
	Prompt     string            `yaml:"prompt"`
	Script     string            `yaml:"script"`
	Runtime    string            `yaml:"runtime"`
	MaxRetries int               `yaml:"max_retries"`
	Timeout    string            `yaml:"timeout"` // Go duration string, e.g. "5m"
	Workspace  string            `yaml:"workspace"`
	Env        map[string]string `yaml:"env"`
}

// Load reads a task file and converts it into an orchestrator task.
// A relative workspace is resolved against the task file's directory.
func Load(path string) (orchestrator.Task, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return orchestrator.Task{}, fmt.Errorf("task file not found: %s", filepath.Base(path))
		}
		return orchestrator.Task{}, err
	}

	var f File
	if err := yaml.Unmarshal(data, &f); err != nil {
		return orchestrator.Task{}, fmt.Errorf("malformed task file %s: %w", filepath.Base(path), err)
	}
	if f.Prompt == "" {
		return orchestrator.Task{}, fmt.Errorf("task file %s has no prompt", filepath.Base(path))
	}

	rt, err := script.ParseRuntime(f.Runtime)
	if err != nil {
		return orchestrator.Task{}, err
	}

	var timeout time.Duration
	if f.Timeout != "" {
		timeout, err = time.ParseDuration(f.Timeout)
		if err != nil {
			return orchestrator.Task{}, fmt.Errorf("invalid timeout %q: %w", f.Timeout, err)
		}
	}

	workspace := f.Workspace
	if workspace == "" {
		workspace = filepath.Dir(path)
	} else if !filepath.IsAbs(workspace) {
		workspace = filepath.Join(filepath.Dir(path), workspace)
	}

	return orchestrator.Task{
		Prompt:         f.Prompt,
		Script:         f.Script,
		Runtime:        rt,
		MaxRetries:     f.MaxRetries,
		SessionTimeout: timeout,
		WorkspaceRoot:  workspace,
		Env:            f.Env,
	}, nil
}
