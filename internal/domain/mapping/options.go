package mapping

import (
	"strings"

	"github.com/okian/intelsync/pkg/logger"
)

// Option applies a configuration option to the Mapper.
type Option func(*Mapper)

// WithIgnoredTypes adds remote types that are dropped without a warning.
func WithIgnoredTypes(types ...string) Option {
	return func(m *Mapper) {
		for _, t := range types {
			t = strings.TrimSpace(t)
			if t != "" {
				m.ignored[t] = struct{}{}
			}
		}
	}
}

// WithReportSightings sets the report_sightings flag written into metadata.
func WithReportSightings(report bool) Option {
	return func(m *Mapper) {
		m.reportSightings = report
	}
}

// WithBaseURL sets the remote platform URL used for event back-links.
func WithBaseURL(baseURL string) Option {
	return func(m *Mapper) {
		m.baseURL = strings.TrimRight(baseURL, "/")
	}
}

// WithLogger sets the logger.
func WithLogger(l logger.Logger) Option {
	return func(m *Mapper) {
		if l != nil {
			m.log = l
		}
	}
}
