package config

import (
	"path/filepath"

	"lnm/internal/logging"
)

// LoggingConfig configures logging.
type LoggingConfig struct {
	Level      string          `yaml:"level"`                // debug, info, warn, error
	Format     string          `yaml:"format"`               // json, text
	DebugMode  bool            `yaml:"debug_mode"`           // Master toggle - false = no category files
	Dir        string          `yaml:"dir"`                  // Category log directory
	Categories map[string]bool `yaml:"categories,omitempty"` // Per-category toggles
}

// Options converts the config into the logging package's options.
func (c *LoggingConfig) Options() logging.Options {
	return logging.Options{
		DebugMode:  c.DebugMode,
		Categories: c.Categories,
		Level:      c.Level,
		JSONFormat: c.Format == "json",
	}
}

// LogsDir resolves the category log directory against the workspace root.
func (c *LoggingConfig) LogsDir(workspace string) string {
	if c.Dir == "" {
		return filepath.Join(workspace, ".lnm", "logs")
	}
	if filepath.IsAbs(c.Dir) {
		return c.Dir
	}
	return filepath.Join(workspace, c.Dir)
}
