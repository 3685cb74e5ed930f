package main

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/alfredjeanlab/zapline/internal/model"
	"github.com/alfredjeanlab/zapline/internal/publisher"
	"github.com/alfredjeanlab/zapline/internal/ui"
)

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	enc.SetEscapeHTML(false)
	return enc.Encode(v)
}

func printTotalsTable(w io.Writer, totals []*model.ZapLedgerTotal) {
	if len(totals) == 0 {
		fmt.Fprintln(w, ui.RenderMuted("no zaps recorded"))
		return
	}
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "TARGET\tID\tSOURCE\tAMOUNT\tZAPS\tLAST EVENT")
	var sum int64
	for _, t := range totals {
		sum += t.TotalMsats
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%d\t%s\n",
			t.TargetType, t.TargetID, t.Source, ui.FormatMsats(t.TotalMsats), t.ZapCount, shortID(t.LastEventID))
	}
	tw.Flush()
	fmt.Fprintf(w, "\n%s %s\n", ui.RenderMuted("total:"), ui.RenderAccent(ui.FormatMsats(sum)))
}

func printOutcome(w io.Writer, o publisher.Outcome) {
	fmt.Fprintf(w, "%s %s\n", ui.RenderMuted("event:"), o.EventID)
	skipped := make(map[string]bool, len(o.SkippedRelays))
	for _, r := range o.SkippedRelays {
		skipped[r] = true
	}
	for _, r := range o.SuccessfulRelays {
		fmt.Fprintf(w, "  %s %s\n", ui.RenderPass("ok  "), r)
	}
	for _, r := range o.FailedRelays {
		if skipped[r] {
			fmt.Fprintf(w, "  %s %s\n", ui.RenderWarn("skip"), r)
			continue
		}
		fmt.Fprintf(w, "  %s %s\n", ui.RenderFail("fail"), r)
	}
}

func printEventSummary(w io.Writer, rec *model.ZapLedgerEvent, status string) {
	fmt.Fprintf(w, "%s %s (%s)\n", ui.RenderAccent(status), rec.EventID, ui.FormatMsats(rec.TotalMsats))
	fmt.Fprintf(w, "  %s %s\n", ui.RenderMuted("sender:"), rec.SenderPubkey)
	fmt.Fprintf(w, "  %s  %d\n", ui.RenderMuted("parts:"), rec.PartCount)
	if !rec.EventCreatedAt.IsZero() {
		fmt.Fprintf(w, "  %s   %s\n", ui.RenderMuted("at:"), rec.EventCreatedAt.UTC().Format(time.RFC3339))
	}
}

func shortID(id string) string {
	if len(id) <= 12 {
		return id
	}
	return id[:12] + "…"
}

func joinOrNone(items []string) string {
	if len(items) == 0 {
		return "-"
	}
	return strings.Join(items, ", ")
}
