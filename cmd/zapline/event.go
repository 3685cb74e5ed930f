package main

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/alfredjeanlab/zapline/internal/config"
	"github.com/alfredjeanlab/zapline/internal/nostr"
	"github.com/alfredjeanlab/zapline/internal/ui"
	"github.com/alfredjeanlab/zapline/internal/zaperr"
)

var eventCmd = &cobra.Command{
	Use:     "event",
	Short:   "Compute ids, sign and verify nostr events",
	GroupID: "events",
}

var eventIDCmd = &cobra.Command{
	Use:   "id [file|-]",
	Short: "Print the canonical id of an event (id and sig may be absent)",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		data, err := readInput(args, cmd.InOrStdin())
		if err != nil {
			return err
		}
		var ev nostr.Event
		if err := json.Unmarshal(data, &ev); err != nil {
			return zaperr.Wrap(zaperr.KindMalformedInput, "event id", err)
		}
		if !nostr.IsHex32(ev.PubKey) {
			return zaperr.Newf(zaperr.KindMalformedInput, "event id", "pubkey %q is not 32-byte lowercase hex", ev.PubKey)
		}
		fmt.Fprintln(cmd.OutOrStdout(), ev.ComputeID())
		return nil
	},
}

var eventSignCmd = &cobra.Command{
	Use:   "sign",
	Short: "Sign an event with ZAPLINE_SECRET_KEY and print its wire form",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		kind, _ := cmd.Flags().GetInt("kind")
		content, _ := cmd.Flags().GetString("content")
		rawTags, _ := cmd.Flags().GetStringArray("tag")
		createdAt, _ := cmd.Flags().GetInt64("created-at")

		cfg, err := config.Load()
		if err != nil {
			return err
		}
		keys, err := loadKeys(cfg)
		if err != nil {
			return err
		}
		tags := nostr.Tags{}
		for _, raw := range rawTags {
			tag, err := splitTag(raw)
			if err != nil {
				return err
			}
			tags = append(tags, tag)
		}
		if createdAt == 0 {
			createdAt = time.Now().Unix()
		}
		ev, err := keys.SignEvent(createdAt, kind, tags, content)
		if err != nil {
			return err
		}
		wire, err := ev.MarshalJSON()
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), string(wire))
		return nil
	},
}

var eventVerifyCmd = &cobra.Command{
	Use:   "verify [file|-]",
	Short: "Verify an event's id and BIP-340 signature",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		data, err := readInput(args, cmd.InOrStdin())
		if err != nil {
			return err
		}
		ev, err := nostr.ParseEvent(data)
		if err != nil {
			return err
		}
		if err := nostr.VerifySignedEvent(ev); err != nil {
			return err
		}
		if jsonOutput {
			return printJSON(cmd.OutOrStdout(), map[string]any{"id": ev.ID, "pubkey": ev.PubKey, "kind": ev.Kind, "valid": true})
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%s %s (kind %d)\n", ui.RenderPass("valid"), ev.ID, ev.Kind)
		return nil
	},
}

func init() {
	eventSignCmd.Flags().Int("kind", nostr.KindTextNote, "event kind")
	eventSignCmd.Flags().String("content", "", "event content")
	eventSignCmd.Flags().StringArray("tag", nil, "tag as key=value[,value...] (repeatable)")
	eventSignCmd.Flags().Int64("created-at", 0, "unix timestamp (default now)")

	eventCmd.AddCommand(eventIDCmd, eventSignCmd, eventVerifyCmd)
}
