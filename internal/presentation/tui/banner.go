package tui

import (
	"fmt"
	"io"

	"github.com/muesli/termenv"
)

var bannerLines = []struct {
	text  string
	color string
}{
	{" _                       ", "#34d399"},
	{"| | ___   ___  _ __ ___  ", "#2dd4bf"},
	{"| |/ _ \\ / _ \\| '_ ` _ \\ ", "#22d3ee"},
	{"| | (_) | (_) | | | | | |", "#38bdf8"},
	{"|_|\\___/ \\___/|_| |_| |_|", "#60a5fa"},
}

// PrintBanner writes the loom banner followed by the version line.
func PrintBanner(w io.Writer, version string) {
	p := termenv.NewOutput(w).ColorProfile()
	fmt.Fprintln(w)
	for _, l := range bannerLines {
		fmt.Fprintln(w, termenv.String(l.text).Foreground(p.Color(l.color)))
	}
	fmt.Fprintln(w, termenv.String("  infinite canvas "+version).Faint())
	fmt.Fprintln(w)
}
