package main

import (
	"context"
	"fmt"
	"net/url"
	"time"

	"github.com/spf13/cobra"

	"github.com/igarashi50/w3c-dash-sub000/pkg/crawl"
	"github.com/igarashi50/w3c-dash-sub000/pkg/w3capi"
)

// config defines the external configuration required for the tool to run.
type config struct {
	BaseURL      string        `mapstructure:"base-url"`
	SnapshotDir  string        `mapstructure:"snapshot-dir"`
	GroupTypes   []string      `mapstructure:"group-types"`
	ItemsPerPage uint          `mapstructure:"items-per-page"`
	RequestDelay time.Duration `mapstructure:"request-delay"`
	MaxRetries   int           `mapstructure:"max-retries"`
	Out          string        `mapstructure:"out"`
	Debug        bool          `mapstructure:"debug"`
}

// validateConfig is run after the configuration is loaded, and should return an error if it isn't valid.
func validateConfig(ctx context.Context, cfg *config) error {
	if cfg.SnapshotDir == "" {
		return fmt.Errorf("snapshot-dir is required, use --help for more information")
	}

	if _, err := url.Parse(cfg.BaseURL); err != nil {
		return fmt.Errorf("base-url is not a valid url: %w", err)
	}

	if cfg.MaxRetries < 0 {
		return fmt.Errorf("max-retries must not be negative")
	}

	return nil
}

func cmdFlags(cmd *cobra.Command) {
	cmd.PersistentFlags().String("base-url", w3capi.DefaultBaseURL, "Base URL of the API. ($W3C_DASH_BASE_URL)")
	cmd.PersistentFlags().String("snapshot-dir", "snapshots", "Directory holding snapshot runs and the latest pointer. ($W3C_DASH_SNAPSHOT_DIR)")
	cmd.PersistentFlags().StringSlice("group-types", crawl.DefaultGroupTypes, "Group type indexes to crawl. ($W3C_DASH_GROUP_TYPES)")
	cmd.PersistentFlags().Uint("items-per-page", w3capi.DefaultItemsPerPage, "Page size requested from the API. ($W3C_DASH_ITEMS_PER_PAGE)")
	cmd.PersistentFlags().Duration("request-delay", w3capi.DefaultRequestDelay, "Mandatory delay between API requests. ($W3C_DASH_REQUEST_DELAY)")
	cmd.PersistentFlags().Int("max-retries", w3capi.DefaultMaxRetries, "Retry attempts for transient fetch failures. ($W3C_DASH_MAX_RETRIES)")
	cmd.PersistentFlags().String("out", "", "Write the report to this file instead of stdout. ($W3C_DASH_OUT)")
	cmd.PersistentFlags().Bool("debug", false, "Enable debug logging. ($W3C_DASH_DEBUG)")
}
