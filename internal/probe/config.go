package probe

import (
	"time"

	"github.com/okian/intelsync/internal/domain/mapping"
)

// Config holds configuration for one probe run.
type Config struct {
	URL      string        // Base URL of the remote platform
	APIKey   string        // Authorization key
	Insecure bool          // Skip TLS verification
	EventID  string        // Restrict to one event; empty searches everything
	From     time.Time     // Only attributes changed since; zero disables the filter
	Limit    int           // Result cap
	Types    []string      // Remote type filter
	Tags     []string      // Tag filter
	Timeout  time.Duration // Remote call timeout
	Output   string        // Optional file receiving the raw attributes
}

// TypeCount is the number of fetched attributes of one remote type.
type TypeCount struct {
	Type  string
	Count int
	Class mapping.Class
	Kind  string
}

// Summary is the outcome of a probe run.
type Summary struct {
	Total     int
	Types     []TypeCount
	Stats     mapping.Stats
	Truncated bool
	Duration  time.Duration
}
