// Package config defines service configuration structures and loading hooks.
//
// Conventions:
//   - Provide New() to build a Config with defaults.
//   - Load layers a YAML file and INTELSYNC_* environment variables on top.
//   - External errors are wrapped with this package's sentinel kinds.
package config

import (
	"fmt"
	"runtime"
	"strings"
	"time"
)

// Config contains process configuration.
type Config struct {
	// LogLevel controls verbosity: debug, info, warn, error.
	LogLevel string `koanf:"log_level"`

	// Debug forces the debug level regardless of LogLevel.
	Debug bool `koanf:"debug"`

	// Addr configures the HTTP listen address, e.g. ":9080".
	Addr string `koanf:"addr"`

	// MISPURL is the base URL of the remote platform.
	MISPURL string `koanf:"misp_url"`

	// MISPAPIKey is sent verbatim in the Authorization header.
	MISPAPIKey string `koanf:"misp_api_key"`

	// MISPInsecure disables TLS certificate verification.
	MISPInsecure bool `koanf:"misp_insecure"`

	// MISPTimeout bounds every remote call.
	MISPTimeout time.Duration `koanf:"misp_timeout"`

	// MISPMaxConns caps concurrent connections to the remote platform.
	MISPMaxConns int `koanf:"misp_max_conns"`

	// MISPSearchLimit is sent with searches that do not carry their own limit.
	MISPSearchLimit int `koanf:"misp_search_limit"`

	// RefreshInterval is the period between sync cycles.
	RefreshInterval time.Duration `koanf:"refresh_interval"`

	// FixedEvents lists event ids fetched individually every cycle.
	FixedEvents []string `koanf:"fixed_events"`

	// SearchEnabled turns on the generic filtered search unit.
	SearchEnabled bool `koanf:"search_enabled"`

	// SearchTags, SearchTypes and SearchExcludeEvents filter the generic search.
	SearchTags          []string `koanf:"search_tags"`
	SearchTypes         []string `koanf:"search_types"`
	SearchExcludeEvents []string `koanf:"search_exclude_events"`

	// SearchToIDs filters on the to_ids flag: "true", "false" or "any".
	SearchToIDs string `koanf:"search_to_ids"`

	// SearchLookback restricts the generic search to recent attributes. Zero disables it.
	SearchLookback time.Duration `koanf:"search_lookback"`

	// ReportSightings globally enables sighting reports.
	ReportSightings bool `koanf:"report_sightings"`

	// SightingMaxPerWindow and SightingWindow configure the per-indicator limiter.
	SightingMaxPerWindow int           `koanf:"sighting_max_per_window"`
	SightingWindow       time.Duration `koanf:"sighting_window"`

	// SightingLimiterMaxEntries bounds the limiter map. Zero means unbounded.
	SightingLimiterMaxEntries int `koanf:"sighting_limiter_max_entries"`

	// SightingGlobalRPS caps outbound sighting calls across all indicators. Zero disables it.
	SightingGlobalRPS   float64 `koanf:"sighting_global_rps"`
	SightingGlobalBurst int     `koanf:"sighting_global_burst"`

	// IgnoredTypes extends the default set of remote types dropped silently.
	IgnoredTypes []string `koanf:"ignored_types"`

	// NATSURL is the matching engine bus. Empty disables the bus.
	NATSURL           string `koanf:"nats_url"`
	NATSInsertSubject string `koanf:"nats_insert_subject"`
	NATSMatchSubject  string `koanf:"nats_match_subject"`

	// EventQueueSize bounds the in-memory match event queue.
	EventQueueSize int `koanf:"queue_size"`

	// WorkerCount sets the number of match handling workers.
	WorkerCount int `koanf:"worker_count"`
}

// New creates a Config with defaults.
func New() *Config {
	return &Config{
		LogLevel:             "info",
		Addr:                 ":9080",
		MISPTimeout:          30 * time.Second,
		MISPMaxConns:         4,
		MISPSearchLimit:      10_000,
		RefreshInterval:      2 * time.Minute,
		SearchToIDs:          "true",
		ReportSightings:      true,
		SightingMaxPerWindow: 3,
		SightingWindow:       time.Hour,
		// ~100 bytes per entry.
		SightingLimiterMaxEntries: 100_000,
		SightingGlobalBurst:       10,
		NATSInsertSubject:         "intel.insert",
		NATSMatchSubject:          "intel.match",
		EventQueueSize:            10_000,
		WorkerCount:               runtime.NumCPU(),
	}
}

// Validate checks values that would make the service misbehave.
func (c *Config) Validate() error {
	switch {
	case c.Addr == "":
		return fmt.Errorf("%w: addr must not be empty", ErrInvalidConfig)
	case c.RefreshInterval <= 0:
		return fmt.Errorf("%w: refresh_interval must be positive", ErrInvalidConfig)
	case c.MISPTimeout <= 0:
		return fmt.Errorf("%w: misp_timeout must be positive", ErrInvalidConfig)
	case c.SightingWindow <= 0:
		return fmt.Errorf("%w: sighting_window must be positive", ErrInvalidConfig)
	case c.SightingMaxPerWindow < 0:
		return fmt.Errorf("%w: sighting_max_per_window must not be negative", ErrInvalidConfig)
	case c.SearchLookback < 0:
		return fmt.Errorf("%w: search_lookback must not be negative", ErrInvalidConfig)
	case c.EventQueueSize <= 0:
		return fmt.Errorf("%w: queue_size must be positive", ErrInvalidConfig)
	case c.WorkerCount <= 0:
		return fmt.Errorf("%w: worker_count must be positive", ErrInvalidConfig)
	}
	if _, err := c.ToIDs(); err != nil {
		return err
	}
	return nil
}

// SyncReady reports whether the remote platform is configured well enough to sync.
func (c *Config) SyncReady() error {
	if strings.TrimSpace(c.MISPURL) == "" {
		return fmt.Errorf("%w: misp_url is empty", ErrMissingRemote)
	}
	if strings.TrimSpace(c.MISPAPIKey) == "" {
		return fmt.Errorf("%w: misp_api_key is empty", ErrMissingRemote)
	}
	return nil
}

// ToIDs returns the to_ids search filter. Nil means the filter is omitted.
func (c *Config) ToIDs() (*bool, error) {
	switch strings.ToLower(strings.TrimSpace(c.SearchToIDs)) {
	case "true", "1", "yes":
		v := true
		return &v, nil
	case "false", "0", "no":
		v := false
		return &v, nil
	case "", "any":
		return nil, nil
	default:
		return nil, fmt.Errorf("%w: search_to_ids must be true, false or any", ErrInvalidConfig)
	}
}
