package main

import (
	"context"
	"flag"
	"os"
	"time"

	"github.com/okian/intelsync/internal/probe"
	"github.com/okian/intelsync/pkg/logger"
)

// Default configuration constants.
const (
	defaultLimit        = 1000
	defaultTimeout      = 30 * time.Second
	defaultProbeTimeout = 5 * time.Minute
)

func main() {
	var (
		baseURL  = flag.String("url", os.Getenv("INTELSYNC_MISP_URL"), "Base URL of the remote platform")
		apiKey   = flag.String("key", os.Getenv("INTELSYNC_MISP_API_KEY"), "API key")
		insecure = flag.Bool("insecure", false, "Skip TLS certificate verification")
		eventID  = flag.String("event", "", "Restrict the search to one event id")
		from     = flag.Duration("from", 0, "Only attributes changed within this duration")
		limit    = flag.Int("limit", defaultLimit, "Result cap")
		types    = flag.String("types", "", "Comma-separated remote types")
		tags     = flag.String("tags", "", "Comma-separated tags")
		timeout  = flag.Duration("timeout", defaultTimeout, "Remote call timeout")
		output   = flag.String("output", "", "Write the raw attributes as JSON to this file")
		verbose  = flag.Bool("verbose", false, "Enable verbose logging")
		help     = flag.Bool("help", false, "Show help")
	)
	flag.Parse()

	if *help {
		probe.ShowHelp()
		return
	}

	if err := logger.Init(); err != nil {
		os.Stderr.WriteString("failed to initialize logging: " + err.Error() + "\n")
		os.Exit(1)
	}
	if *verbose {
		_ = logger.SetLevelString("debug")
	}

	cfg := &probe.Config{
		URL:      *baseURL,
		APIKey:   *apiKey,
		Insecure: *insecure,
		EventID:  *eventID,
		Limit:    *limit,
		Types:    probe.SplitList(*types),
		Tags:     probe.SplitList(*tags),
		Timeout:  *timeout,
		Output:   *output,
	}
	if *from > 0 {
		cfg.From = time.Now().Add(-*from)
	}

	ctx, cancel := context.WithTimeout(context.Background(), defaultProbeTimeout)
	_, err := probe.Run(ctx, cfg, os.Stdout)
	cancel()
	if err != nil {
		os.Stderr.WriteString("probe failed: " + err.Error() + "\n")
		os.Exit(1)
	}
}
