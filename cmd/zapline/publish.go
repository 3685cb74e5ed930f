package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/alfredjeanlab/zapline/internal/config"
	"github.com/alfredjeanlab/zapline/internal/events"
	"github.com/alfredjeanlab/zapline/internal/metrics"
	"github.com/alfredjeanlab/zapline/internal/model"
	"github.com/alfredjeanlab/zapline/internal/nostr"
	"github.com/alfredjeanlab/zapline/internal/publisher"
	"github.com/alfredjeanlab/zapline/internal/queue"
	"github.com/alfredjeanlab/zapline/internal/store"
	"github.com/alfredjeanlab/zapline/internal/store/memstore"
	"github.com/alfredjeanlab/zapline/internal/ui"
	"github.com/alfredjeanlab/zapline/internal/zaperr"
)

var publishCmd = &cobra.Command{
	Use:     "publish <game-id>",
	Short:   "Sign a game's release note and deliver it to every relay",
	GroupID: "relays",
	Args:    cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		gameFile, _ := cmd.Flags().GetString("game-file")

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

		if gameFile != "" {
			if err := seedGame(st, gameFile, args[0]); err != nil {
				return err
			}
		}

		pub, cleanup, err := buildPublisher(cmd.Context(), cfg, logger, st, metrics.New())
		if err != nil {
			return err
		}
		defer cleanup()

		outcome, err := pub.Publish(cmd.Context(), args[0], time.Now())
		if err != nil {
			return err
		}
		if jsonOutput {
			if err := printJSON(cmd.OutOrStdout(), outcome); err != nil {
				return err
			}
		} else {
			printOutcome(cmd.OutOrStdout(), outcome)
		}
		if len(outcome.SuccessfulRelays) == 0 {
			return zaperr.New(zaperr.KindTransientNetwork, "publish", "no relay accepted the note; failures are queued for retry")
		}
		return nil
	},
}

var retryCmd = &cobra.Command{
	Use:     "retry",
	Short:   "Redeliver release notes whose relay backoff has expired",
	GroupID: "relays",
	Args:    cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
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

		pub, cleanup, err := buildPublisher(cmd.Context(), cfg, logger, st, metrics.New())
		if err != nil {
			return err
		}
		defer cleanup()

		report, err := pub.RetryDue(cmd.Context())
		if err != nil {
			return err
		}
		if jsonOutput {
			return printJSON(cmd.OutOrStdout(), report)
		}
		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "%s %d\n", ui.RenderMuted("due:      "), report.Due)
		fmt.Fprintf(out, "%s %s\n", ui.RenderMuted("delivered:"), ui.RenderPass(fmt.Sprint(report.Delivered)))
		fmt.Fprintf(out, "%s %s\n", ui.RenderMuted("failed:   "), ui.RenderFail(fmt.Sprint(report.Failed)))
		fmt.Fprintf(out, "%s %d\n", ui.RenderMuted("stale:    "), report.Stale)
		return nil
	},
}

// buildPublisher wires a Publisher from configuration. The returned cleanup
// closes the queue and event publisher.
func buildPublisher(ctx context.Context, cfg *config.Config, logger *slog.Logger, st store.Store, m *metrics.Metrics) (*publisher.Publisher, func(), error) {
	if err := cfg.RequireRelays(); err != nil {
		return nil, nil, err
	}
	keys, err := loadKeys(cfg)
	if err != nil {
		return nil, nil, err
	}
	evPub, err := openEvents(cfg, logger)
	if err != nil {
		return nil, nil, err
	}
	q, err := openQueue(ctx, cfg)
	if err != nil {
		evPub.Close()
		return nil, nil, err
	}
	cleanup := func() {
		q.Close()
		evPub.Close()
	}
	p, err := newPublisher(cfg, keys, st, q, evPub, m, logger)
	if err != nil {
		cleanup()
		return nil, nil, err
	}
	return p, cleanup, nil
}

func newPublisher(cfg *config.Config, keys nostr.Keys, st store.Store, q queue.Queue, evPub events.Publisher, m *metrics.Metrics, logger *slog.Logger) (*publisher.Publisher, error) {
	return publisher.New(publisher.Config{
		Relays:                 cfg.Relays,
		SiteURL:                cfg.SiteURL,
		BackoffBase:            cfg.BackoffBase,
		BackoffMax:             cfg.BackoffMax,
		CircuitBreakerAttempts: cfg.CircuitBreakerAttempts,
	}, keys, newRelayClient(cfg, m), st,
		publisher.WithQueue(q),
		publisher.WithEvents(evPub),
		publisher.WithMetrics(m),
		publisher.WithLogger(logger),
	)
}

// seedGame loads a game record from JSON into an in-memory store so a note
// can be published without a database.
func seedGame(st store.Store, path, gameID string) error {
	ms, ok := st.(*memstore.MemStore)
	if !ok {
		return zaperr.New(zaperr.KindConfiguration, "publish", "--game-file only works without ZAPLINE_DATABASE_URL")
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("reading %s: %w", path, err)
	}
	var g model.Game
	if err := json.Unmarshal(data, &g); err != nil {
		return zaperr.Wrap(zaperr.KindMalformedInput, "publish", err)
	}
	if g.ID == "" {
		g.ID = gameID
	}
	if g.ID != gameID {
		return zaperr.Newf(zaperr.KindMalformedInput, "publish", "game file id %q does not match %q", g.ID, gameID)
	}
	ms.PutGame(g)
	return nil
}

func init() {
	publishCmd.Flags().String("game-file", "", "JSON game record to publish from (in-memory store only)")
}
