package main

import (
	"bytes"
	"fmt"
	"regexp"
	"strings"

	"github.com/spf13/cobra"

	"github.com/alfredjeanlab/zapline/internal/ui"
)

// helpStyle is one regexp-driven colorization pass over Cobra's help text.
type helpStyle struct {
	re    *regexp.Regexp
	apply func(groups []string) string
}

// helpStyles run in order: group headers, command names, flag types, defaults.
var helpStyles = []helpStyle{
	{
		// Unindented "Ledger:" style headers; "Usage:" stays plain.
		re: regexp.MustCompile(`(?m)^([A-Z][^\n]*:)[ \t]*$`),
		apply: func(g []string) string {
			if strings.HasPrefix(g[1], "Usage") {
				return g[0]
			}
			return ui.RenderAccent(strings.TrimSpace(g[1]))
		},
	},
	{
		re:    regexp.MustCompile(`(?m)^(  )(\S+)(  )`),
		apply: func(g []string) string { return g[1] + ui.RenderCommand(g[2]) + g[3] },
	},
	{
		re:    regexp.MustCompile(`(--?\S+\s+)(string|int|int64|duration|stringSlice|stringArray)\b`),
		apply: func(g []string) string { return g[1] + ui.RenderMuted(g[2]) },
	},
	{
		re:    regexp.MustCompile(`\(default [^)]*\)`),
		apply: func(g []string) string { return ui.RenderMuted(g[0]) },
	},
}

// colorizedHelpFunc renders Cobra's usage text and colors it when the
// terminal supports ANSI.
func colorizedHelpFunc() func(*cobra.Command, []string) {
	return func(cmd *cobra.Command, _ []string) {
		out := cmd.OutOrStdout()
		if !ui.ShouldUseColor() {
			_ = cmd.Usage()
			return
		}
		var buf bytes.Buffer
		cmd.SetOut(&buf)
		_ = cmd.Usage()
		cmd.SetOut(out)
		fmt.Fprint(out, colorizeHelpOutput(buf.String()))
	}
}

func colorizeHelpOutput(s string) string {
	for _, st := range helpStyles {
		s = st.re.ReplaceAllStringFunc(s, func(match string) string {
			return st.apply(st.re.FindStringSubmatch(match))
		})
	}
	return s
}
