// Package cli команды сервера синхронизации offsync-server.
package cli

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/spf13/cobra"

	"github.com/iudanet/offsync/internal/config"
	"github.com/iudanet/offsync/internal/logging"
	"github.com/iudanet/offsync/internal/server"
	"github.com/iudanet/offsync/internal/server/jwt"
	"github.com/iudanet/offsync/internal/server/storage/sqlite"
)

// VersionInfo сведения о сборке, задаются через ldflags
type VersionInfo struct {
	Version   string
	BuildDate string
	GitCommit string
}

// RootOptions глобальные флаги всех команд
type RootOptions struct {
	ConfigFile string
}

// NewRootCommand создает корневую команду сервера
func NewRootCommand(info VersionInfo) *cobra.Command {
	opts := &RootOptions{}

	cmd := &cobra.Command{
		Use:           "offsync-server",
		Short:         "Reference sync server for offsync clients",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	pf := cmd.PersistentFlags()
	pf.StringVar(&opts.ConfigFile, "config", "", "path to config file (yaml)")
	pf.String("addr", "", "listen address")
	pf.String("db", "", "path to server database")
	pf.String("log-level", "", "log level (debug|info|warn|error)")

	cmd.AddCommand(
		newVersionCommand(info),
		newServeCommand(opts, info),
		newTokenCommand(opts),
		newMigrateCommand(opts),
	)

	return cmd
}

func newVersionCommand(info VersionInfo) *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()
			_, _ = fmt.Fprintf(out, "offsync server\n")
			_, _ = fmt.Fprintf(out, "Version:    %s\n", info.Version)
			_, _ = fmt.Fprintf(out, "Build Date: %s\n", info.BuildDate)
			_, _ = fmt.Fprintf(out, "Git Commit: %s\n", info.GitCommit)
			return nil
		},
	}
}

func newServeCommand(opts *RootOptions, info VersionInfo) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the sync server",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			cfg, err := config.LoadServer(opts.ConfigFile, cmd.Flags())
			if err != nil {
				return err
			}
			if err := cfg.ValidateAuth(); err != nil {
				return err
			}

			logger, closeLog, err := newLogger(cfg, cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			defer func() { _ = closeLog() }()

			store, err := sqlite.New(ctx, cfg.DBPath)
			if err != nil {
				return err
			}
			defer func() {
				if err := store.Close(); err != nil {
					logger.Error("Failed to close database", "error", err)
				}
			}()

			logger.Info("Starting offsync server",
				"version", info.Version,
				"addr", cfg.Addr,
				"db", cfg.DBPath)

			srv := server.New(server.Options{
				Addr:            cfg.Addr,
				RateLimitRPS:    cfg.RateLimit.RPS,
				RateLimitBurst:  cfg.RateLimit.Burst,
				ShutdownTimeout: cfg.ShutdownTimeout,
			}, store, jwt.NewService(cfg.JWTSecret, cfg.TokenTTL), logger)

			if err := srv.Run(ctx); err != nil {
				return err
			}
			logger.Info("Server stopped")
			return nil
		},
	}
}

func newTokenCommand(opts *RootOptions) *cobra.Command {
	var userID, deviceID string
	var ttl time.Duration

	cmd := &cobra.Command{
		Use:   "token",
		Short: "Issue an access token for a device",
		Long: `Issue a signed access token for a user's device.

The token is printed to stdout; pass it to the client with --token
or OFFSYNC_TOKEN.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadServer(opts.ConfigFile, cmd.Flags())
			if err != nil {
				return err
			}
			if ttl > 0 {
				cfg.TokenTTL = ttl
			}
			if err := cfg.ValidateAuth(); err != nil {
				return err
			}

			token, expiresAt, err := jwt.NewService(cfg.JWTSecret, cfg.TokenTTL).Issue(userID, deviceID)
			if err != nil {
				return err
			}

			_, _ = fmt.Fprintln(cmd.OutOrStdout(), token)
			_, _ = fmt.Fprintf(cmd.ErrOrStderr(), "Token for %s/%s expires at %s\n",
				userID, deviceID, expiresAt.UTC().Format(time.RFC3339))
			return nil
		},
	}

	cmd.Flags().StringVar(&userID, "user", "", "user id (required)")
	cmd.Flags().StringVar(&deviceID, "device", "", "device id (required)")
	cmd.Flags().DurationVar(&ttl, "ttl", 0, "token lifetime (default from config)")
	_ = cmd.MarkFlagRequired("user")
	_ = cmd.MarkFlagRequired("device")

	return cmd
}

func newMigrateCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply database migrations and print the schema version",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadServer(opts.ConfigFile, cmd.Flags())
			if err != nil {
				return err
			}
			return migrate(cmd.Context(), cfg.DBPath, cmd.OutOrStdout())
		},
	}
}

func migrate(ctx context.Context, dbPath string, out io.Writer) error {
	store, err := sqlite.New(ctx, dbPath)
	if err != nil {
		return err
	}
	defer func() { _ = store.Close() }()

	version, err := store.SchemaVersion(ctx)
	if err != nil {
		return fmt.Errorf("failed to read schema version: %w", err)
	}
	_, _ = fmt.Fprintf(out, "Schema version: %d\n", version)
	return nil
}

func newLogger(cfg *config.Server, out io.Writer) (*slog.Logger, func() error, error) {
	return logging.New(logging.Options{
		Level:      cfg.Logging.Level,
		Format:     cfg.Logging.Format,
		File:       cfg.Logging.File,
		MaxSizeMB:  cfg.Logging.MaxSizeMB,
		MaxBackups: cfg.Logging.MaxBackups,
		MaxAgeDays: cfg.Logging.MaxAgeDays,
		Output:     out,
	})
}
