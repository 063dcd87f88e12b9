package main

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/RnD-sandbox/image-sharing/pkg/bus"
	"github.com/RnD-sandbox/image-sharing/pkg/metrics"
	"github.com/RnD-sandbox/image-sharing/pkg/telemetry"
	"github.com/RnD-sandbox/image-sharing/services/imagectl"
	"github.com/RnD-sandbox/image-sharing/services/imagectl/internal/config"
	"github.com/RnD-sandbox/image-sharing/services/report"
)

type rootFlags struct {
	configPath string
	logLevel   string
	logFormat  string
}

func main() {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		fmt.Fprintf(os.Stderr, "warning: load .env: %v\n", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := newRootCommand().ExecuteContext(ctx)
	stop()
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	flags := &rootFlags{}
	cmd := &cobra.Command{
		Use:           "imagectl",
		Short:         "Share a PowerVS boot image across enterprise child accounts",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.PersistentFlags().StringVar(&flags.configPath, "config", "config.yaml", "Path to the YAML configuration file")
	cmd.PersistentFlags().StringVar(&flags.logLevel, "log-level", "info", "Log level (debug, info, warn, error)")
	cmd.PersistentFlags().StringVar(&flags.logFormat, "log-format", "json", "Log format (json or console)")

	cmd.AddCommand(newRunCommand(flags))
	cmd.AddCommand(newStatusCommand(flags))
	cmd.AddCommand(newAccountsCommand(flags))
	cmd.AddCommand(newVerifyReportCommand(flags))
	return cmd
}

func newRunCommand(flags *rootFlags) *cobra.Command {
	var overrides config.Overrides
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the configured image operation across all target accounts",
		RunE: func(cmd *cobra.Command, args []string) error {
			return execute(cmd.Context(), flags, overrides)
		},
	}
	cmd.Flags().StringVar(&overrides.Operation, "operation", "", "Override image_operation (IMPORT, DELETE, STATUS)")
	cmd.Flags().IntVar(&overrides.Processes, "processes", 0, "Override the number of accounts processed in parallel")
	cmd.Flags().BoolVar(&overrides.NoWait, "no-wait", false, "Do not wait for asynchronous operations to converge")
	cmd.Flags().StringVar(&overrides.Listen, "listen", "", "Serve health, metrics and the live report on this address")
	return cmd
}

func newStatusCommand(flags *rootFlags) *cobra.Command {
	var listen string
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Check the image state in every target workspace",
		RunE: func(cmd *cobra.Command, args []string) error {
			return execute(cmd.Context(), flags, config.Overrides{Operation: config.OperationStatus, Listen: listen})
		},
	}
	cmd.Flags().StringVar(&listen, "listen", "", "Serve health, metrics and the live report on this address")
	return cmd
}

func newAccountsCommand(flags *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "accounts",
		Short: "List the child accounts the configuration resolves to",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			cfg, logger, err := load(ctx, flags, config.Overrides{Operation: config.OperationStatus})
			if err != nil {
				return err
			}
			app, err := imagectl.New(cfg, imagectl.Options{Logger: logger})
			if err != nil {
				return err
			}
			accounts, _, err := app.ResolveAccounts(ctx)
			if err != nil {
				return err
			}

			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "ACCOUNT ID\tNAME\tTRUSTED PROFILE")
			for _, acct := range accounts {
				fmt.Fprintf(tw, "%s\t%s\t%s\n", acct.AccountID, acct.Name, acct.ProfileID)
			}
			return tw.Flush()
		},
	}
}

func newVerifyReportCommand(flags *rootFlags) *cobra.Command {
	var file string
	cmd := &cobra.Command{
		Use:   "verify-report",
		Short: "Verify a report file against its signature sidecar",
		RunE: func(cmd *cobra.Command, args []string) error {
			env, err := config.LoadEnv(cmd.Context(), nil)
			if err != nil {
				return err
			}
			signer, err := report.NewSigner(env.AgeSecretKey, env.AgePublicKey)
			if err != nil {
				return err
			}
			if err := signer.VerifyFile(file); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s: signature ok (%s)\n", file, signer.Recipient())
			return nil
		},
	}
	cmd.Flags().StringVar(&file, "file", "", "Report file to verify")
	_ = cmd.MarkFlagRequired("file")
	return cmd
}

func load(ctx context.Context, flags *rootFlags, overrides config.Overrides) (config.Config, zerolog.Logger, error) {
	logger, err := telemetry.NewLogger(telemetry.LoggerOptions{
		Level:  flags.logLevel,
		Format: flags.logFormat,
		Writer: os.Stderr,
	})
	if err != nil {
		return config.Config{}, zerolog.Logger{}, err
	}

	cfg, err := config.Load(ctx, flags.configPath, nil)
	if err != nil {
		return config.Config{}, logger, err
	}
	cfg.Apply(overrides)
	if err := cfg.Validate(); err != nil {
		return config.Config{}, logger, err
	}
	return cfg, logger, nil
}

func execute(ctx context.Context, flags *rootFlags, overrides config.Overrides) error {
	cfg, logger, err := load(ctx, flags, overrides)
	if err != nil {
		return err
	}

	shutdown, err := telemetry.Init(ctx, imagectl.ServiceName, cfg.Telemetry.OTLPEndpoint)
	if err != nil {
		return err
	}
	defer func() {
		flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdown(flushCtx); err != nil {
			logger.Warn().Err(err).Msg("telemetry shutdown")
		}
	}()

	rec := metrics.NewRecorder()
	opts := imagectl.Options{Logger: logger, Metrics: rec}

	if cfg.Telemetry.NATSURL != "" {
		b, err := bus.New(cfg.Telemetry.NATSURL)
		if err != nil {
			return fmt.Errorf("connect nats: %w", err)
		}
		defer b.Close()
		opts.Publisher = b
	}

	app, err := imagectl.New(cfg, opts)
	if err != nil {
		return err
	}

	if addr := cfg.Telemetry.Listen; addr != "" {
		srv, err := imagectl.StartStatusServer(addr, imagectl.StatusRouter(app.State(), rec), logger)
		if err != nil {
			return fmt.Errorf("status server: %w", err)
		}
		defer func() {
			stopCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = srv.Shutdown(stopCtx)
		}()
	}

	logger.Info().
		Str("run_id", app.RunID()).
		Str("operation", cfg.ImageOperation).
		Int("processes", cfg.Processes).
		Msg("starting image run")

	result, err := app.Run(ctx)
	if err != nil {
		return err
	}
	logger.Info().Str("run_id", result.RunID).Str("poll_state", result.PollState.String()).Msg("image run finished")
	return nil
}
