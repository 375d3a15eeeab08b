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
	{`                                   _                          _     `, "#818cf8"},
	{`  _ __  _ __ ___  _ __ ___  _ __ | |_ __ _ _ __ __ _ _ __ | |__  `, "#a78bfa"},
	{` | '_ \| '__/ _ \| '_ ' _ \| '_ \| __/ _' | '__/ _' | '_ \| '_ \ `, "#c084fc"},
	{` | |_) | | | (_) | | | | | | |_) | || (_| | | | (_| | |_) | | | |`, "#e879f9"},
	{` | .__/|_|  \___/|_| |_| |_| .__/ \__\__, |_|  \__,_| .__/|_| |_|`, "#f472b6"},
	{` |_|                       |_|       |___/          |_|          `, "#fb7185"},
}

// PrintBanner writes the ASCII art banner to w.
func PrintBanner(w io.Writer) {
	out := termenv.NewOutput(w)
	fmt.Fprintln(w)
	for _, l := range bannerLines {
		fmt.Fprintln(w, out.String(l.text).Foreground(out.Color(l.color)))
	}
	fmt.Fprintln(w)
}
