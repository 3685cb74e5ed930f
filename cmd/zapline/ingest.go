package main

import (
	"fmt"
	"log/slog"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/alfredjeanlab/zapline/internal/config"
	"github.com/alfredjeanlab/zapline/internal/events"
	"github.com/alfredjeanlab/zapline/internal/ingest"
	"github.com/alfredjeanlab/zapline/internal/metrics"
	"github.com/alfredjeanlab/zapline/internal/queue"
	"github.com/alfredjeanlab/zapline/internal/store"
)

var ingestCmd = &cobra.Command{
	Use:     "ingest",
	Short:   "Poll relays for replies to published release notes",
	GroupID: "relays",
	Args:    cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		shard, _ := cmd.Flags().GetInt("shard")
		shards, _ := cmd.Flags().GetInt("shards")
		once, _ := cmd.Flags().GetBool("once")
		idle, _ := cmd.Flags().GetDuration("idle")

		cfg, err := config.Load()
		if err != nil {
			return err
		}
		if !cmd.Flags().Changed("shards") {
			shards = cfg.Shards
		}
		if err := queue.ValidateShard(shard, shards); err != nil {
			return err
		}
		logger := newLogger(cfg, cmd.ErrOrStderr())
		st, err := openStore(cfg, logger)
		if err != nil {
			return err
		}
		defer st.Close()
		evPub, err := openEvents(cfg, logger)
		if err != nil {
			return err
		}
		defer evPub.Close()
		q, err := openQueue(cmd.Context(), cfg)
		if err != nil {
			return err
		}
		defer q.Close()

		in, err := newIngestor(cfg, st, q, evPub, metrics.New(), logger)
		if err != nil {
			return err
		}

		if once {
			processed := 0
			for {
				worked, err := in.ProcessNext(cmd.Context(), shard, shards)
				if err != nil {
					return err
				}
				if !worked {
					break
				}
				processed++
			}
			fmt.Fprintf(cmd.OutOrStdout(), "processed %d reply job(s) on shard %d/%d\n", processed, shard, shards)
			return nil
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()
		return in.Run(ctx, shard, shards, idle)
	},
}

func newIngestor(cfg *config.Config, st store.Store, q queue.Queue, evPub events.Publisher, m *metrics.Metrics, logger *slog.Logger) (*ingest.Ingestor, error) {
	if err := cfg.RequireRelays(); err != nil {
		return nil, err
	}
	return ingest.New(ingest.Config{
		Relays:          cfg.Relays,
		LookbackSeconds: cfg.LookbackSeconds,
		QueryLimit:      cfg.QueryLimit,
		BackoffBase:     cfg.BackoffBase,
		BackoffMax:      cfg.BackoffMax,
	}, newRelayClient(cfg, m), st, q,
		ingest.WithEvents(evPub),
		ingest.WithMetrics(m),
		ingest.WithLogger(logger),
	)
}

func init() {
	ingestCmd.Flags().Int("shard", 0, "shard id to drain (0-based)")
	ingestCmd.Flags().Int("shards", 1, "total shard count (default ZAPLINE_SHARDS)")
	ingestCmd.Flags().Bool("once", false, "drain the shard once and exit instead of polling")
	ingestCmd.Flags().Duration("idle", 5*time.Second, "sleep between polls of an empty shard")
}
