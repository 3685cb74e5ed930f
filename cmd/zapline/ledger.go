package main

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/alfredjeanlab/zapline/internal/config"
	"github.com/alfredjeanlab/zapline/internal/ledger"
	"github.com/alfredjeanlab/zapline/internal/metrics"
	"github.com/alfredjeanlab/zapline/internal/model"
	"github.com/alfredjeanlab/zapline/internal/nostr"
	snapshot "github.com/alfredjeanlab/zapline/internal/sync"
	"github.com/alfredjeanlab/zapline/internal/zaperr"
)

var ledgerCmd = &cobra.Command{
	Use:     "ledger",
	Short:   "Record zap receipts and inspect ledger totals",
	GroupID: "ledger",
}

var ledgerRecordCmd = &cobra.Command{
	Use:   "record [file|-]",
	Short: "Validate a kind-9735 zap receipt and apply it to the ledger",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		data, err := readInput(args, cmd.InOrStdin())
		if err != nil {
			return err
		}
		cfg, err := config.Load()
		if err != nil {
			return err
		}
		logger := newLogger(cfg, cmd.ErrOrStderr())
		st, err := openStore(cfg, logger)
		if err != nil {
			return err
		}
		defer st.Close()
		pub, err := openEvents(cfg, logger)
		if err != nil {
			return err
		}
		defer pub.Close()

		ev, err := nostr.ParseEvent(data)
		if err != nil {
			return err
		}
		l := ledger.New(metrics.New(), pub, logger)
		rec, status, err := l.RecordEvent(cmd.Context(), st, ev)
		if err != nil {
			return err
		}
		if jsonOutput {
			return printJSON(cmd.OutOrStdout(), map[string]any{"status": status, "event": rec})
		}
		printEventSummary(cmd.OutOrStdout(), rec, string(status))
		return nil
	},
}

var ledgerTotalsCmd = &cobra.Command{
	Use:   "totals <GAME|PLATFORM> [target-id]",
	Short: "Show ledger totals for a target",
	Args:  cobra.RangeArgs(1, 2),
	RunE: func(cmd *cobra.Command, args []string) error {
		tt, ok := model.ParseTargetType(args[0])
		if !ok {
			return zaperr.Newf(zaperr.KindMalformedInput, "ledger totals", "unknown target type %q", args[0])
		}
		var targetID string
		if len(args) == 2 {
			targetID = args[1]
		}
		cfg, err := config.Load()
		if err != nil {
			return err
		}
		logger := newLogger(cfg, cmd.ErrOrStderr())
		st, err := openStore(cfg, logger)
		if err != nil {
			return err
		}
		defer st.Close()

		totals, err := ledger.New(nil, nil, logger).Totals(cmd.Context(), st, tt, targetID)
		if err != nil {
			return err
		}
		if jsonOutput {
			if totals == nil {
				totals = []*model.ZapLedgerTotal{}
			}
			return printJSON(cmd.OutOrStdout(), totals)
		}
		printTotalsTable(cmd.OutOrStdout(), totals)
		return nil
	},
}

var ledgerExportCmd = &cobra.Command{
	Use:   "export",
	Short: "Write a JSONL snapshot of the ledger to stdout, a file, or S3",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		outPath, _ := cmd.Flags().GetString("out")
		toS3, _ := cmd.Flags().GetBool("s3")

		cfg, err := config.Load()
		if err != nil {
			return err
		}
		logger := newLogger(cfg, cmd.ErrOrStderr())
		st, err := openStore(cfg, logger)
		if err != nil {
			return err
		}
		defer st.Close()

		var buf bytes.Buffer
		if err := snapshot.ExportJSONL(cmd.Context(), st, &buf, time.Now()); err != nil {
			return err
		}

		if toS3 {
			return uploadSnapshot(cmd.Context(), cfg, buf.Bytes(), cmd.ErrOrStderr())
		}
		if outPath == "" {
			_, err := cmd.OutOrStdout().Write(buf.Bytes())
			return err
		}
		if err := os.WriteFile(outPath, buf.Bytes(), 0o644); err != nil {
			return fmt.Errorf("writing %s: %w", outPath, err)
		}
		return nil
	},
}

func uploadSnapshot(ctx context.Context, cfg *config.Config, data []byte, w io.Writer) error {
	if cfg.SyncS3Bucket == "" {
		return zaperr.New(zaperr.KindConfiguration, "ledger export", "ZAPLINE_SYNC_S3_BUCKET is required for --s3")
	}
	dest, err := snapshot.NewS3Destination(ctx, cfg.SyncS3Bucket, cfg.SyncS3Prefix, cfg.SyncS3Region, cfg.SyncS3Endpoint)
	if err != nil {
		return err
	}
	if err := dest.Write(ctx, data); err != nil {
		return err
	}
	fmt.Fprintf(w, "uploaded s3://%s/%s (%d bytes)\n", cfg.SyncS3Bucket, dest.Key(), len(data))
	return nil
}

func init() {
	ledgerExportCmd.Flags().String("out", "", "write the snapshot to this file instead of stdout")
	ledgerExportCmd.Flags().Bool("s3", false, "upload the snapshot to ZAPLINE_SYNC_S3_BUCKET")

	ledgerCmd.AddCommand(ledgerRecordCmd, ledgerTotalsCmd, ledgerExportCmd)
}
