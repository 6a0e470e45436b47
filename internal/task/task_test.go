package task

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/checkloop/checkloop/internal/script"
)

func TestLoad(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "task.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
prompt: "Write a README with installation instructions"
script: validate.py
runtime: python
max_retries: 4
timeout: 2m
env:
  STRICT: "1"
`), 0o644))

	task, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "Write a README with installation instructions", task.Prompt)
	assert.Equal(t, "validate.py", task.Script)
	assert.Equal(t, script.RuntimePython, task.Runtime)
	assert.Equal(t, 4, task.MaxRetries)
	assert.Equal(t, 2*time.Minute, task.SessionTimeout)
	assert.Equal(t, dir, task.WorkspaceRoot)
	assert.Equal(t, "1", task.Env["STRICT"])
}

func TestLoadRelativeWorkspace(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "task.yaml")
	require.NoError(t, os.WriteFile(path, []byte("prompt: p\nworkspace: sub\n"), 0o644))

	task, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "sub"), task.WorkspaceRoot)
}

func TestLoadErrors(t *testing.T) {
	t.Run("Missing File Names Base Name", func(t *testing.T) {
		_, err := Load("/some/private/dir/missing.yaml")
		require.Error(t, err)
		assert.Contains(t, err.Error(), "missing.yaml")
		assert.NotContains(t, err.Error(), "/some/private")
	})

	t.Run("Requires Prompt", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "task.yaml")
		require.NoError(t, os.WriteFile(path, []byte("script: x.py\n"), 0o644))
		_, err := Load(path)
		assert.ErrorContains(t, err, "no prompt")
	})

	t.Run("Rejects Unknown Runtime", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "task.yaml")
		require.NoError(t, os.WriteFile(path, []byte("prompt: p\nruntime: ruby\n"), 0o644))
		_, err := Load(path)
		assert.ErrorContains(t, err, "unknown runtime")
	})

	t.Run("Rejects Bad Timeout", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "task.yaml")
		require.NoError(t, os.WriteFile(path, []byte("prompt: p\ntimeout: soon\n"), 0o644))
		_, err := Load(path)
		assert.ErrorContains(t, err, "invalid timeout")
	})
}
