package main

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/alfredjeanlab/zapline/internal/config"
	"github.com/alfredjeanlab/zapline/internal/ui"
)

var configCmd = &cobra.Command{
	Use:     "config",
	Short:   "Show the effective configuration (secrets redacted)",
	GroupID: "system",
	Args:    cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return err
		}
		view := *cfg
		view.SecretKey = redact(cfg.SecretKey)
		view.OpsToken = redact(cfg.OpsToken)
		view.DatabaseURL = redact(cfg.DatabaseURL)
		if jsonOutput {
			return printJSON(cmd.OutOrStdout(), view)
		}

		tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
		for _, row := range [][2]string{
			{"database", orMemory(view.DatabaseURL)},
			{"signer", view.SecretKey},
			{"relays", joinOrNone(view.Relays)},
			{"site url", view.SiteURL},
			{"backoff", fmt.Sprintf("%s .. %s, breaker after %d", view.BackoffBase, view.BackoffMax, view.CircuitBreakerAttempts)},
			{"retry interval", view.RetryInterval.String()},
			{"lookback", fmt.Sprintf("%ds, limit %d", view.LookbackSeconds, view.QueryLimit)},
			{"queue", fmt.Sprintf("%s x%d", view.Queue, view.Shards)},
			{"nats", view.NATSURL},
			{"http / grpc", view.HTTPAddr + " / " + view.GRPCAddr},
			{"snapshot", snapshotTarget(&view)},
		} {
			fmt.Fprintf(tw, "%s\t%s\n", ui.RenderMuted(row[0]), row[1])
		}
		return tw.Flush()
	},
}

func redact(s string) string {
	if s == "" {
		return ""
	}
	return "(set)"
}

func orMemory(s string) string {
	if s == "" {
		return "in-memory"
	}
	return s
}

func snapshotTarget(c *config.Config) string {
	if c.SyncS3Bucket == "" || c.SyncInterval <= 0 {
		return "disabled"
	}
	return fmt.Sprintf("s3://%s/%s every %s", c.SyncS3Bucket, c.SyncS3Prefix, c.SyncInterval)
}
