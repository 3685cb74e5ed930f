// Command zapline signs and verifies nostr events, records zap receipts into
// the ledger, publishes release notes to relays and ingests replies.
package main

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/alfredjeanlab/zapline/internal/ui"
)

var (
	jsonOutput bool
	noColor    bool
)

var rootCmd = &cobra.Command{
	Use:           "zapline <command>",
	Short:         "Nostr zap ledger, release-note publisher and reply ingestor",
	SilenceUsage:  true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		if noColor || !ui.ShouldUseColor() {
			ui.ForceNoColor()
		}
	},
}

func init() {
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "output as JSON")
	rootCmd.PersistentFlags().BoolVar(&noColor, "no-color", false, "disable colored output")

	rootCmd.AddGroup(
		&cobra.Group{ID: "keys", Title: "Keys:"},
		&cobra.Group{ID: "events", Title: "Events:"},
		&cobra.Group{ID: "ledger", Title: "Ledger:"},
		&cobra.Group{ID: "relays", Title: "Relays:"},
		&cobra.Group{ID: "system", Title: "System:"},
	)

	cobra.EnableCommandSorting = false
	rootCmd.SetHelpFunc(colorizedHelpFunc())

	// Keys
	rootCmd.AddCommand(keygenCmd)
	rootCmd.AddCommand(npubCmd)

	// Events
	rootCmd.AddCommand(eventCmd)
	rootCmd.AddCommand(watchCmd)

	// Ledger
	rootCmd.AddCommand(ledgerCmd)

	// Relays
	rootCmd.AddCommand(publishCmd)
	rootCmd.AddCommand(retryCmd)
	rootCmd.AddCommand(ingestCmd)

	// System
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(configCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(exitCode(err))
	}
}
