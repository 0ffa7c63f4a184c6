package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"lnm/internal/httpserver"
	"lnm/internal/logging"
	"lnm/internal/platform"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const purgeInterval = time.Hour

var (
	platformAddr string
	platformDSN  string

	fixtureCount         int
	fixtureSeed          int64
	fixtureAdminPassword string

	newUsername string
	newEmail    string
	newPassword string
	newAdmin    bool
	newGM       bool
	newDisabled bool
)

// platformCmd groups account and session management.
var platformCmd = &cobra.Command{
	Use:   "platform",
	Short: "User accounts and login sessions",
}

var platformServeCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the login API (POST /login, POST /logout, GET /me, POST /register)",
	Args:  cobra.NoArgs,
	RunE:  runPlatformServe,
}

var platformMigrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Create the users and sessions tables",
	Args:  cobra.NoArgs,
	RunE:  runPlatformMigrate,
}

var platformFixturesCmd = &cobra.Command{
	Use:   "fixtures",
	Short: "Load an admin account and generated development users",
	Args:  cobra.NoArgs,
	RunE:  runPlatformFixtures,
}

var platformUserCmd = &cobra.Command{
	Use:   "user",
	Short: "Manage user accounts",
}

var platformUserCreateCmd = &cobra.Command{
	Use:   "create",
	Short: "Create a user account",
	Example: `  lnm platform user create --username Inès --email ines@example.com --password secret
  lnm platform user create --username root --email root@example.com --password secret --admin`,
	Args: cobra.NoArgs,
	RunE: runPlatformUserCreate,
}

func init() {
	platformCmd.PersistentFlags().StringVar(&platformDSN, "database", "", "SQLite path or postgres:// URL (overrides platform.database_url)")
	platformServeCmd.Flags().StringVar(&platformAddr, "addr", "", "Listen address (overrides platform.server.address)")

	defaults := platform.DefaultFixtureOptions()
	platformFixturesCmd.Flags().IntVar(&fixtureCount, "count", defaults.Count, "Number of generated users")
	platformFixturesCmd.Flags().Int64Var(&fixtureSeed, "seed", defaults.Seed, "Random seed")
	platformFixturesCmd.Flags().StringVar(&fixtureAdminPassword, "admin-password", defaults.AdminPassword, "Admin account password")

	platformUserCreateCmd.Flags().StringVar(&newUsername, "username", "", "Display name (required)")
	platformUserCreateCmd.Flags().StringVar(&newEmail, "email", "", "E-mail address (required)")
	platformUserCreateCmd.Flags().StringVar(&newPassword, "password", "", "Password (required)")
	platformUserCreateCmd.Flags().BoolVar(&newAdmin, "admin", false, "Grant ROLE_ADMIN")
	platformUserCreateCmd.Flags().BoolVar(&newGM, "gm", false, "Grant ROLE_GM")
	platformUserCreateCmd.Flags().BoolVar(&newDisabled, "disabled", false, "Create the account disabled")
	platformUserCreateCmd.MarkFlagRequired("username")
	platformUserCreateCmd.MarkFlagRequired("email")
	platformUserCreateCmd.MarkFlagRequired("password")

	platformUserCmd.AddCommand(platformUserCreateCmd)
	platformCmd.AddCommand(platformServeCmd)
	platformCmd.AddCommand(platformMigrateCmd)
	platformCmd.AddCommand(platformFixturesCmd)
	platformCmd.AddCommand(platformUserCmd)
}

func platformDatabase() string {
	dsn := platformDSN
	if dsn == "" {
		dsn = cfg.Platform.DatabaseURL
	}
	if platform.DriverFor(dsn) == "sqlite" {
		return resolvePath(dsn)
	}
	return dsn
}

// openPlatform connects and migrates the store, then builds the service.
func openPlatform(ctx context.Context) (*platform.Service, func(), error) {
	dsn := platformDatabase()
	if platform.DriverFor(dsn) == "sqlite" && dsn != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(dsn), 0755); err != nil {
			return nil, nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}
	store, err := platform.OpenStore(ctx, dsn, platform.ConnectOptions{
		Retries: cfg.Platform.ConnectRetries,
		Backoff: cfg.Platform.GetConnectBackoff(),
	})
	if err != nil {
		return nil, nil, err
	}
	if err := store.Migrate(ctx); err != nil {
		store.Close()
		return nil, nil, err
	}
	hasher := platform.NewPasswordHasher(cfg.Platform.Argon2Memory, cfg.Platform.Argon2Iterations, cfg.Platform.Argon2Parallelism)
	svc, err := platform.NewService(store, hasher, platform.WithSessionTTL(cfg.Platform.GetSessionTTL()))
	if err != nil {
		store.Close()
		return nil, nil, err
	}
	return svc, func() { store.Close() }, nil
}

func runPlatformServe(cmd *cobra.Command, args []string) error {
	ctx, stop := signalContext()
	defer stop()

	svc, closeStore, err := openPlatform(ctx)
	if err != nil {
		return err
	}
	defer closeStore()

	handler := platform.NewHandler(svc, platform.CookieSettings{
		Name:   cfg.Platform.CookieName,
		Domain: cfg.Platform.CookieDomain,
		Secure: cfg.Platform.CookieSecure,
	}, cfg.Platform.Server.MaxBodyBytes)

	settings := httpserver.SettingsFromConfig("platform", cfg.Platform.Server)
	if platformAddr != "" {
		settings.Address = platformAddr
	}
	srv := httpserver.New(settings, handler.Router(cfg.Platform.AllowedOrigins), httpserver.WithLogger(logger))

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return srv.Run(gctx) })
	g.Go(func() error { return purgeSessions(gctx, svc, purgeInterval) })
	return g.Wait()
}

// purgeSessions deletes expired sessions every interval until ctx ends.
func purgeSessions(ctx context.Context, svc *platform.Service, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			n, err := svc.PurgeExpired(ctx)
			if err != nil {
				logger.Warn("session purge failed", zap.Error(err))
				continue
			}
			if n > 0 {
				logger.Info("purged expired sessions", zap.Int64("count", n))
			}
		}
	}
}

func runPlatformMigrate(cmd *cobra.Command, args []string) error {
	ctx, stop := signalContext()
	defer stop()

	_, closeStore, err := openPlatform(ctx)
	if err != nil {
		return err
	}
	defer closeStore()
	fmt.Fprintln(cmd.OutOrStdout(), successStyle.Render("schema up to date"))
	return nil
}

func runPlatformFixtures(cmd *cobra.Command, args []string) error {
	ctx, stop := signalContext()
	defer stop()

	svc, closeStore, err := openPlatform(ctx)
	if err != nil {
		return err
	}
	defer closeStore()

	opts := platform.DefaultFixtureOptions()
	opts.Count = fixtureCount
	opts.Seed = fixtureSeed
	opts.AdminPassword = fixtureAdminPassword

	users, err := platform.LoadFixtures(ctx, svc, opts)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	fmt.Fprintln(out, titleStyle.Render(fmt.Sprintf("Loaded %d users", len(users))))
	for _, fu := range users {
		line := fmt.Sprintf("%-24s %-40s %s", fu.User.Username, fu.User.Email, strings.Join(fu.User.Roles, ","))
		if !fu.User.IsEnabled {
			line = mutedStyle.Render(line + " (disabled)")
		}
		fmt.Fprintln(out, line)
	}
	return nil
}

func runPlatformUserCreate(cmd *cobra.Command, args []string) error {
	ctx, stop := signalContext()
	defer stop()

	svc, closeStore, err := openPlatform(ctx)
	if err != nil {
		return err
	}
	defer closeStore()

	in := platform.RegisterInput{
		Username: newUsername,
		Email:    newEmail,
		Password: newPassword,
		Disabled: newDisabled,
	}
	if newGM {
		in.Roles = append(in.Roles, platform.RoleGM)
	}
	if newAdmin {
		in.Roles = append(in.Roles, platform.RoleAdmin)
	}

	user, err := svc.Register(ctx, in)
	if err != nil {
		var violations platform.ValidationErrors
		if errors.As(err, &violations) {
			for _, v := range violations {
				fmt.Fprintln(cmd.ErrOrStderr(), errorStyle.Render(v.Field)+": "+v.Message)
			}
		}
		return fmt.Errorf("user not created: %w", err)
	}
	logging.Platform("created user %s (%s) from the command line", user.Slug, user.ID)
	fmt.Fprintf(cmd.OutOrStdout(), "%s %s <%s> %s\n",
		successStyle.Render("created"), user.Username, user.Email, mutedStyle.Render(user.ID))
	return nil
}
