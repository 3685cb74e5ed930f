package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/alfredjeanlab/zapline/internal/nostr"
	"github.com/alfredjeanlab/zapline/internal/ui"
)

var keygenCmd = &cobra.Command{
	Use:     "keygen",
	Short:   "Generate a new signing key",
	GroupID: "keys",
	Args:    cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		keys, err := nostr.GenerateKeys()
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()
		if jsonOutput {
			return printJSON(out, map[string]string{
				"secret_key": keys.SecretKeyHex(),
				"pubkey":     keys.PublicKeyHex(),
				"npub":       keys.Npub(),
			})
		}
		fmt.Fprintf(out, "%s %s\n", ui.RenderMuted("secret:"), keys.SecretKeyHex())
		fmt.Fprintf(out, "%s %s\n", ui.RenderMuted("pubkey:"), keys.PublicKeyHex())
		fmt.Fprintf(out, "%s   %s\n", ui.RenderMuted("npub:"), keys.Npub())
		return nil
	},
}

var npubCmd = &cobra.Command{
	Use:     "npub",
	Short:   "Convert between hex public keys and npub strings",
	GroupID: "keys",
}

var npubEncodeCmd = &cobra.Command{
	Use:   "encode <pubkey-hex>",
	Short: "Encode a 32-byte hex public key as npub",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		npub, err := nostr.EncodeNpub(args[0])
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), npub)
		return nil
	},
}

var npubDecodeCmd = &cobra.Command{
	Use:   "decode <npub>",
	Short: "Decode an npub to its hex public key",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		pub, err := nostr.DecodeNpub(args[0])
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), pub)
		return nil
	},
}

func init() {
	npubCmd.AddCommand(npubEncodeCmd, npubDecodeCmd)
}
