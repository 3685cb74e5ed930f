package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/spf13/cobra"

	"github.com/alfredjeanlab/zapline/internal/config"
	"github.com/alfredjeanlab/zapline/internal/events"
	"github.com/alfredjeanlab/zapline/internal/ui"
	"github.com/alfredjeanlab/zapline/internal/zaperr"
)

var watchCmd = &cobra.Command{
	Use:     "watch [subject]",
	Short:   "Print zapline events from the bus as they are published",
	GroupID: "events",
	Args:    cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		subject := "zapline.>"
		if len(args) == 1 {
			subject = args[0]
		}
		cfg, err := config.Load()
		if err != nil {
			return err
		}
		if cfg.NATSURL == "" {
			return zaperr.New(zaperr.KindConfiguration, "watch", "ZAPLINE_NATS_URL is not set")
		}
		logger := newLogger(cfg, cmd.ErrOrStderr())

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
		defer stop()

		sub, err := events.NewNATSSubscriber(cfg.NATSURL,
			nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
				logger.Warn("nats: disconnected", "err", err)
			}),
			nats.ReconnectHandler(func(_ *nats.Conn) {
				logger.Info("nats: reconnected")
			}),
		)
		if err != nil {
			return fmt.Errorf("connecting to NATS: %w", err)
		}
		defer sub.Close()

		ch, cancel, err := sub.Subscribe(subject)
		if err != nil {
			return fmt.Errorf("subscribing to %s: %w", subject, err)
		}
		defer cancel()

		out := cmd.OutOrStdout()
		for {
			select {
			case <-ctx.Done():
				return nil
			case data, ok := <-ch:
				if !ok {
					return nil
				}
				if jsonOutput {
					fmt.Fprintln(out, string(data))
					continue
				}
				fmt.Fprintf(out, "%s %s\n", ui.RenderMuted(time.Now().Format(time.TimeOnly)), compactJSON(data))
			}
		}
	},
}

// compactJSON strips insignificant whitespace, returning data unchanged if it
// is not JSON.
func compactJSON(data []byte) string {
	var buf bytes.Buffer
	if err := json.Compact(&buf, data); err != nil {
		return string(data)
	}
	return buf.String()
}
