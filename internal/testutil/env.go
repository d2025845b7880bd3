// Package testutil provides utilities for testing rtm in isolation.
package testutil

import (
	"os"
	"path/filepath"
	"testing"
)

// SetupTestEnv creates isolated config and data directories for one test
// and points RTM_CONFIG_DIR and RTM_DATA_DIR at them. Cleanup is handled by
// t.TempDir and t.Setenv.
func SetupTestEnv(t *testing.T) (configDir, dataDir string) {
	t.Helper()

	tmpDir := t.TempDir()
	configDir = filepath.Join(tmpDir, "config")
	dataDir = filepath.Join(tmpDir, "data")

	t.Setenv("RTM_CONFIG_DIR", configDir)
	t.Setenv("RTM_DATA_DIR", dataDir)
	// Keep XDG lookups inside the sandbox as well.
	t.Setenv("XDG_DATA_HOME", filepath.Join(tmpDir, "xdg-data"))
	t.Setenv("XDG_CONFIG_HOME", filepath.Join(tmpDir, "xdg-config"))

	for _, dir := range []string{configDir, dataDir} {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			t.Fatalf("failed to create test directory %s: %v", dir, err)
		}
	}
	return configDir, dataDir
}
