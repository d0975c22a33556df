package main

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"go-session-auth/internal/app"
	"go-session-auth/internal/config"
	"go-session-auth/internal/logger"
	"go-session-auth/internal/token"
)

func main() {
	slog.SetDefault(logger.New(os.Stdout, "pretty", "info"))

	root := &cobra.Command{
		Use:           "session-auth",
		Short:         "Session token service (register, authenticate, refresh, logout)",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return serve(cmd.Context())
		},
	}

	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return serve(cmd.Context())
		},
	}

	migrateCmd := &cobra.Command{
		Use:   "migrate",
		Short: "Create the PostgreSQL schema if it is missing and exit",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if cfg.StoreDriver != config.StoreDriverPostgres {
				return fmt.Errorf("migrate requires STORE_DRIVER=%s", config.StoreDriverPostgres)
			}

			db, err := app.OpenDatabase(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			defer db.Close()

			slog.Info("schema is up to date")
			return nil
		},
	}

	var keyBytes int
	genSecretCmd := &cobra.Command{
		Use:   "gen-secret",
		Short: "Print a random base64 signing key for JWT_SECRET",
		RunE: func(cmd *cobra.Command, args []string) error {
			if keyBytes < token.MinKeyBytes {
				return fmt.Errorf("--bytes must be at least %d", token.MinKeyBytes)
			}
			buf := make([]byte, keyBytes)
			if _, err := rand.Read(buf); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), base64.StdEncoding.EncodeToString(buf))
			return nil
		},
	}
	genSecretCmd.Flags().IntVar(&keyBytes, "bytes", token.MinKeyBytes, "key length in bytes")

	root.AddCommand(serveCmd, migrateCmd, genSecretCmd)

	if err := root.ExecuteContext(context.Background()); err != nil {
		slog.Error("command failed", "error", err)
		os.Exit(1)
	}
}

func loadConfig() (*config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	slog.SetDefault(logger.New(os.Stdout, cfg.LogFormat, cfg.LogLevel))
	return cfg, nil
}

func serve(ctx context.Context) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	application, err := app.New(ctx, cfg)
	if err != nil {
		return fmt.Errorf("failed to initialize application: %w", err)
	}

	return application.Run()
}
