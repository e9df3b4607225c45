package probe

import (
	"os"
	"strings"
)

// SplitList turns a comma-separated flag value into a list, dropping blanks.
func SplitList(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// ShowHelp prints usage information for the probe tool.
func ShowHelp() {
	os.Stdout.WriteString(`intelsync probe
===============

Runs one attribute search against the remote platform and prints how many
attributes of each type came back and how each type would be mapped.

Usage:
  go run ./cmd/probe [options]

Options:
  -url string
        Base URL of the remote platform (default $INTELSYNC_MISP_URL)
  -key string
        API key (default $INTELSYNC_MISP_API_KEY)
  -insecure
        Skip TLS certificate verification
  -event string
        Restrict the search to one event id
  -from duration
        Only attributes changed within this duration, e.g. 24h
  -limit int
        Result cap (default 1000)
  -types string
        Comma-separated remote types
  -tags string
        Comma-separated tags
  -timeout duration
        Remote call timeout (default 30s)
  -output string
        Write the raw attributes as JSON to this file
  -help
        Show this help message

Examples:
  # Everything tagged tlp:white in the last day
  go run ./cmd/probe -tags tlp:white -from 24h

  # One event
  go run ./cmd/probe -event 1234 -limit 0
`)
}
