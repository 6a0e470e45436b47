package tui

import (
	"fmt"
	"os"

	"github.com/muesli/termenv"
)

// PrintBanner outputs the checkloop banner to stderr. Suppressed when the
// output is not a terminal.
func PrintBanner() {
	if !IsTerminal() {
		return
	}
	p := termenv.ColorProfile()
	lines := []string{
		`       _               _    _                   `,
		`  ___ | |__   ___  ___| | _| | ___   ___  _ __  `,
		` / __|| '_ \ / _ \/ __| |/ / |/ _ \ / _ \| '_ \ `,
		`| (__ | | | |  __/ (__|   <| | (_) | (_) | |_) |`,
		` \___||_| |_|\___|\___|_|\_\_|\___/ \___/| .__/ `,
		`                                         |_|    `,
	}
	// Teal to blue fade, top to bottom.
	colors := []string{"#2dd4bf", "#22d3ee", "#38bdf8", "#60a5fa", "#818cf8", "#a78bfa"}

	fmt.Fprintln(os.Stderr)
	for i, line := range lines {
		fmt.Fprintln(os.Stderr, termenv.String(line).Foreground(p.Color(colors[i])))
	}
	fmt.Fprintln(os.Stderr)
}
