package misp

import (
	"net/http"
	"time"

	"github.com/okian/intelsync/pkg/logger"
)

// Option applies a configuration option to the Client.
type Option func(*Client)

// WithInsecure disables TLS certificate verification. Only an explicit true enables it.
func WithInsecure(insecure bool) Option {
	return func(c *Client) {
		c.insecure = insecure
	}
}

// WithTimeout bounds every call in addition to the caller's context.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.timeout = d
		}
	}
}

// WithMaxConns caps concurrent connections to the remote platform.
func WithMaxConns(n int) Option {
	return func(c *Client) {
		if n > 0 {
			c.maxConns = n
		}
	}
}

// WithDefaultLimit is sent with searches that carry no limit of their own.
func WithDefaultLimit(n int) Option {
	return func(c *Client) {
		if n > 0 {
			c.defaultLimit = n
		}
	}
}

// WithHTTPClient replaces the pooled HTTP client. Timeout, connection and TLS
// options are then the caller's responsibility.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		if hc != nil {
			c.http = hc
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l logger.Logger) Option {
	return func(c *Client) {
		if l != nil {
			c.log = l
		}
	}
}
