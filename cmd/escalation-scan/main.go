package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/spec-kit/case-timeline-service/internal/api/dto"
	"github.com/spec-kit/case-timeline-service/internal/auth"
	"github.com/spec-kit/case-timeline-service/internal/config"
	"github.com/spec-kit/case-timeline-service/internal/observability"
	"github.com/spec-kit/case-timeline-service/internal/wire"
	"github.com/spec-kit/case-timeline-service/internal/worker"
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "escalation-scan",
		Short: "Run the case escalation scanner outside the API process",
	}
	rootCmd.AddCommand(runCmd())
	rootCmd.AddCommand(tokenCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func runCmd() *cobra.Command {
	var (
		loop     bool
		interval time.Duration
	)

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Scan open cases once, or repeatedly with --loop",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := setup()
			if err != nil {
				return err
			}
			defer logger.Sync() //nolint:errcheck

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			engine, err := wire.NewEngine(ctx, cfg, logger, observability.NewMetrics())
			if err != nil {
				return err
			}
			defer engine.Close()

			if !loop {
				result, err := engine.Scanner.Scan(ctx)
				if err != nil {
					return err
				}
				return printJSON(cmd, dto.ScanResult(result))
			}

			if interval <= 0 {
				interval = cfg.Scanner.Interval()
			}
			logger.Info("escalation scan loop started", zap.Duration("interval", interval))
			worker.NewEscalationWorker(engine.Scanner, interval, logger).Run(ctx)
			return nil
		},
	}

	cmd.Flags().BoolVar(&loop, "loop", false, "keep scanning until interrupted")
	cmd.Flags().DurationVar(&interval, "interval", 0, "scan interval when looping (defaults to ESCALATION_SCAN_INTERVAL_SECONDS)")
	return cmd
}

func tokenCmd() *cobra.Command {
	var userID string

	cmd := &cobra.Command{
		Use:   "token",
		Short: "Mint an API bearer token for a directory user",
		RunE: func(cmd *cobra.Command, args []string) error {
			if userID == "" {
				return errors.New("--user is required")
			}
			cfg, logger, err := setup()
			if err != nil {
				return err
			}
			defer logger.Sync() //nolint:errcheck

			cfg.Postgres.RunMigrations = false
			engine, err := wire.NewEngine(cmd.Context(), cfg, logger, nil)
			if err != nil {
				return err
			}
			defer engine.Close()

			user, err := engine.Users.GetByID(cmd.Context(), userID)
			if err != nil {
				if errors.Is(err, pgx.ErrNoRows) {
					return fmt.Errorf("user %s not found", userID)
				}
				return err
			}
			if !user.Active {
				return fmt.Errorf("user %s is inactive", userID)
			}

			tokens := auth.NewTokenManager(cfg.Auth.JWTSecret, cfg.Auth.TokenTTLMinutes)
			token, expiresAt, err := tokens.GenerateToken(user)
			if err != nil {
				return err
			}
			return printJSON(cmd, map[string]any{"token": token, "expires_at": expiresAt.UTC()})
		},
	}

	cmd.Flags().StringVar(&userID, "user", "", "directory user id")
	return cmd
}

func setup() (*config.Config, *zap.Logger, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, fmt.Errorf("load config: %w", err)
	}
	logger, err := observability.NewLogger(cfg.Logger, cfg.App)
	if err != nil {
		return nil, nil, fmt.Errorf("init logger: %w", err)
	}
	return cfg, logger, nil
}

func printJSON(cmd *cobra.Command, v any) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
