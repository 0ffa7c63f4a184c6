package main

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"lnm/internal/config"
	"lnm/internal/logging"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var (
	// Global flags
	verbose    bool
	workspace  string
	configPath string

	// Resolved at start-up
	wsRoot string
	cfg    *config.Config
	logger *zap.Logger
)

// rootCmd represents the base command
var rootCmd = &cobra.Command{
	Use:   "lnm",
	Short: "LNM - forum archive, platform accounts and battle gateway",
	Long: `lnm runs the services behind the LNM community site:

  archive   read-only forum archive (JSON API + pages) and dump importer
  platform  user accounts and login sessions
  gateway   battle solver over HTTP
  battle    solve a battle from the command line`,
	SilenceUsage:      true,
	PersistentPreRunE: setup,
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if logger != nil {
			_ = logger.Sync()
		}
		logging.CloseAudit()
		logging.CloseAll()
	},
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable verbose logging")
	rootCmd.PersistentFlags().StringVarP(&workspace, "workspace", "w", "", "Workspace directory (default: nearest .lnm/ or go.mod)")
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Config file (default: <workspace>/.lnm/config.yaml)")

	rootCmd.AddCommand(archiveCmd)
	rootCmd.AddCommand(platformCmd)
	rootCmd.AddCommand(gatewayCmd)
	rootCmd.AddCommand(battleCmd)
	rootCmd.AddCommand(configCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// setup loads .env and config, then builds the loggers.
func setup(cmd *cobra.Command, args []string) error {
	root := workspace
	if root == "" {
		var err error
		if root, err = config.FindWorkspaceRoot(); err != nil {
			return fmt.Errorf("failed to resolve workspace: %w", err)
		}
	}
	wsRoot = root

	if err := godotenv.Load(filepath.Join(wsRoot, ".env")); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("failed to load .env: %w", err)
	}

	path := configPath
	if path == "" {
		path = config.DefaultPath(wsRoot)
	}
	loaded, err := config.Load(path)
	if err != nil {
		return err
	}
	if err := loaded.Validate(); err != nil {
		return fmt.Errorf("invalid config %s: %w", path, err)
	}
	cfg = loaded

	zapConfig := zap.NewProductionConfig()
	if verbose || cfg.Logging.Level == "debug" {
		zapConfig.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
	}
	if logger, err = zapConfig.Build(); err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}

	if err := logging.Initialize(cfg.Logging.LogsDir(wsRoot), cfg.Logging.Options()); err != nil {
		return fmt.Errorf("failed to initialize category logs: %w", err)
	}
	if err := logging.InitAudit(); err != nil {
		logger.Warn("audit log unavailable", zap.Error(err))
		logging.BootWarn("audit log unavailable: %v", err)
	}
	if logging.IsDebugMode() {
		logger.Debug("category logs enabled", zap.String("dir", cfg.Logging.LogsDir(wsRoot)))
	}
	logging.Boot("lnm %s (workspace %s, config %s)", cmd.CommandPath(), wsRoot, path)
	return nil
}

// resolvePath anchors relative paths at the workspace root.
func resolvePath(p string) string {
	if p == "" || p == ":memory:" || filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(wsRoot, p)
}

// signalContext is cancelled on SIGINT or SIGTERM.
func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}
