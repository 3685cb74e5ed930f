package ui

import (
	"fmt"
	"strconv"
)

// ANSI256 color codes matching the Ayu palette.
const (
	colorAccent = 74  // blue
	colorCmd    = 250 // light gray
	colorMuted  = 245 // medium gray
	colorPass   = 114 // green
	colorFail   = 203 // red
	colorWarn   = 215 // orange
)

var noColor bool

func render(color int, s string) string {
	if noColor {
		return s
	}
	return fmt.Sprintf("\x1b[38;5;%dm%s\x1b[0m", color, s)
}

// RenderAccent returns s in the accent (blue) color.
func RenderAccent(s string) string { return render(colorAccent, s) }

// RenderMuted returns s in the muted (gray) color.
func RenderMuted(s string) string { return render(colorMuted, s) }

// RenderCommand returns s styled as a command name (light gray).
func RenderCommand(s string) string { return render(colorCmd, s) }

// RenderPass marks a relay or check that succeeded.
func RenderPass(s string) string { return render(colorPass, s) }

// RenderFail marks a relay or check that failed.
func RenderFail(s string) string { return render(colorFail, s) }

// RenderWarn marks something skipped or degraded.
func RenderWarn(s string) string { return render(colorWarn, s) }

// ForceNoColor disables color output globally.
func ForceNoColor() {
	noColor = true
}

// FormatMsats renders a millisatoshi amount as sats, keeping the fractional
// part only when there is one: 21000 -> "21 sats", 1500 -> "1.5 sats".
func FormatMsats(msats int64) string {
	neg := msats < 0
	if neg {
		msats = -msats
	}
	whole := strconv.FormatInt(msats/1000, 10)
	s := groupThousands(whole)
	if frac := msats % 1000; frac != 0 {
		f := fmt.Sprintf("%03d", frac)
		for f[len(f)-1] == '0' {
			f = f[:len(f)-1]
		}
		s += "." + f
	}
	if neg {
		s = "-" + s
	}
	return s + " sats"
}

func groupThousands(digits string) string {
	if len(digits) <= 3 {
		return digits
	}
	head := len(digits) % 3
	if head == 0 {
		head = 3
	}
	out := digits[:head]
	for i := head; i < len(digits); i += 3 {
		out += "," + digits[i:i+3]
	}
	return out
}
