// Package projecttest writes throwaway projects to disk for tests.
package projecttest

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/goran-ethernal/ChainMapper/pkg/project"
	"github.com/stretchr/testify/require"
)

// Load writes files (relative path to contents) into a temp directory and loads the project.
// files must contain project.yaml.
func Load(t *testing.T, files map[string]string) *project.Project {
	t.Helper()

	dir := t.TempDir()
	for name, contents := range files {
		p := filepath.Join(dir, filepath.FromSlash(name))
		require.NoError(t, os.MkdirAll(filepath.Dir(p), 0o755))
		require.NoError(t, os.WriteFile(p, []byte(contents), 0o600))
	}

	p, err := project.Load(dir)
	require.NoError(t, err)

	return p
}
