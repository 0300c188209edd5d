package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/grpc-ecosystem/go-grpc-middleware/logging/zap/ctxzap"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/igarashi50/w3c-dash-sub000/pkg/classify"
	"github.com/igarashi50/w3c-dash-sub000/pkg/crawl"
	"github.com/igarashi50/w3c-dash-sub000/pkg/snapshot"
	"github.com/igarashi50/w3c-dash-sub000/pkg/w3capi"
)

const envPrefix = "w3c_dash"

func main() {
	rootCmd := &cobra.Command{
		Use:          "w3c-dash",
		Short:        "Fetches W3C group participation data and classifies participants by affiliation",
		SilenceUsage: true,
	}
	cmdFlags(rootCmd)

	rootCmd.AddCommand(fetchCmd(), reportCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// initRun loads the configuration and builds a context carrying the logger.
func initRun(cmd *cobra.Command) (context.Context, *config, error) {
	v := viper.New()
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()
	if err := v.BindPFlags(cmd.Flags()); err != nil {
		return nil, nil, err
	}

	cfg := &config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, nil, fmt.Errorf("w3c-dash: failed to load config: %w", err)
	}

	logger, err := newLogger(cfg.Debug)
	if err != nil {
		return nil, nil, err
	}

	ctx := ctxzap.ToContext(cmd.Context(), logger)
	if err := validateConfig(ctx, cfg); err != nil {
		return nil, nil, err
	}

	return ctx, cfg, nil
}

func newLogger(debug bool) (*zap.Logger, error) {
	if debug {
		return zap.NewDevelopment()
	}
	return zap.NewProduction()
}

func fetchCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "fetch",
		Short: "Crawl the API into a new snapshot and update the latest pointer",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cfg, err := initRun(cmd)
			if err != nil {
				return err
			}
			l := ctxzap.Extract(ctx)

			ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
			defer stop()

			client, err := w3capi.NewClient(ctx, &w3capi.ClientConfig{
				BaseURL:      cfg.BaseURL,
				ItemsPerPage: cfg.ItemsPerPage,
				MaxRetries:   cfg.MaxRetries,
				RequestDelay: cfg.RequestDelay,
			})
			if err != nil {
				return err
			}

			rec := snapshot.NewRecorder()
			crawler := crawl.New(client, rec, cfg.GroupTypes)

			if err := crawler.Run(ctx); err != nil {
				if errors.Is(err, context.Canceled) {
					l.Warn("fetch interrupted; snapshot not saved")
				}
				return err
			}

			runDir, updated, err := snapshot.Save(ctx, cfg.SnapshotDir, rec.Store())
			if err != nil {
				return err
			}
			if !updated {
				l.Info("snapshot unchanged")
				return nil
			}

			l.Info("snapshot saved", zap.String("run", runDir))
			return nil
		},
	}
}

func reportCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "report",
		Short: "Classify the latest snapshot and emit the participation report",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cfg, err := initRun(cmd)
			if err != nil {
				return err
			}

			store, err := snapshot.LoadLatest(ctx, cfg.SnapshotDir)
			if err != nil {
				return err
			}

			report, err := classify.BuildReport(ctx, store)
			if err != nil {
				return err
			}

			data, err := json.MarshalIndent(report, "", "  ")
			if err != nil {
				return err
			}
			data = append(data, '\n')

			if cfg.Out == "" {
				_, err = os.Stdout.Write(data)
				return err
			}
			return os.WriteFile(cfg.Out, data, 0o644)
		},
	}
}
