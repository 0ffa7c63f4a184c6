package config

import (
	"os"
	"path/filepath"
)

// DirName is the per-workspace directory holding config and logs.
const DirName = ".lnm"

// FindWorkspaceRoot walks up from the working directory to the first
// directory containing .lnm/ or go.mod. Falls back to the working directory.
func FindWorkspaceRoot() (string, error) {
	dir, err := os.Getwd()
	if err != nil {
		return "", err
	}

	originalDir := dir
	for {
		if _, err := os.Stat(filepath.Join(dir, DirName)); err == nil {
			return dir, nil
		}
		if _, err := os.Stat(filepath.Join(dir, "go.mod")); err == nil {
			return dir, nil
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			break
		}
		dir = parent
	}

	return originalDir, nil
}

// DefaultPath returns the config file location inside a workspace.
func DefaultPath(workspace string) string {
	return filepath.Join(workspace, DirName, "config.yaml")
}
