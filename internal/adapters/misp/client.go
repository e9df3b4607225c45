// Package misp is a small client for the parts of the MISP REST API used to
// pull indicators and push sightings.
//
// The client never retries. Failures come back as *RemoteError with kind
// ErrTransport or ErrProtocol; callers decide what to do with them.
package misp

import (
	"bytes"
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	json "github.com/goccy/go-json"

	"github.com/okian/intelsync/internal/domain/model"
	"github.com/okian/intelsync/pkg/logger"
	"github.com/okian/intelsync/pkg/metrics"
)

const (
	defaultTimeout  = 30 * time.Second
	defaultMaxConns = 4

	// maxErrorBodySize limits how much of a failed response is kept for diagnostics.
	maxErrorBodySize = 64 * 1024
)

// Operation names used in errors, logs and metrics.
const (
	OpSearch         = "search"
	OpAddSighting    = "add_sighting"
	OpAddSightingVal = "add_sighting_values"
)

// API is the subset of the remote platform the service depends on.
type API interface {
	Search(ctx context.Context, q Query) ([]model.RemoteAttribute, error)
	AddSighting(ctx context.Context, attributeID string) (*model.Sighting, error)
	AddSightingValues(ctx context.Context, values []string) (*model.Sighting, error)
}

// Query is the body of an attribute search.
type Query struct {
	// EventID restricts to events; an entry starting with "!" excludes that event.
	EventID []string `json:"eventid,omitempty"`
	Tags    []string `json:"tags,omitempty"`
	Types   []string `json:"type,omitempty"`
	ToIDs   *bool    `json:"to_ids,omitempty"`
	// From only returns attributes modified at or after this unix time.
	From  int64 `json:"from,omitempty"`
	Limit int   `json:"limit,omitempty"`
	Page  int   `json:"page,omitempty"`

	ReturnFormat string `json:"returnFormat"`
}

var _ API = (*Client)(nil)

// Client talks to one remote platform instance. Safe for concurrent use.
type Client struct {
	baseURL      string
	apiKey       string
	insecure     bool
	timeout      time.Duration
	maxConns     int
	defaultLimit int
	http         *http.Client
	log          logger.Logger
}

// New creates a Client. Empty baseURL or apiKey is rejected with ErrInvalidConfig.
func New(baseURL, apiKey string, opts ...Option) (*Client, error) {
	baseURL = strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if baseURL == "" {
		return nil, fmt.Errorf("%w: base url is empty", ErrInvalidConfig)
	}
	if strings.TrimSpace(apiKey) == "" {
		return nil, fmt.Errorf("%w: api key is empty", ErrInvalidConfig)
	}
	if _, err := url.ParseRequestURI(baseURL); err != nil {
		return nil, fmt.Errorf("%w: base url: %w", ErrInvalidConfig, err)
	}

	c := &Client{
		baseURL:  baseURL,
		apiKey:   apiKey,
		timeout:  defaultTimeout,
		maxConns: defaultMaxConns,
		log:      logger.Get().Named("misp"),
	}
	for _, opt := range opts {
		opt(c)
	}

	if c.http == nil {
		transport := http.DefaultTransport.(*http.Transport).Clone()
		transport.MaxConnsPerHost = c.maxConns
		transport.MaxIdleConnsPerHost = c.maxConns
		if c.insecure {
			transport.TLSClientConfig = &tls.Config{InsecureSkipVerify: true} //nolint:gosec // operator opt-in
		}
		c.http = &http.Client{Transport: transport, Timeout: c.timeout}
	}
	if c.insecure {
		c.log.Warn(context.Background(), "TLS certificate verification disabled",
			logger.String("base_url", c.baseURL),
		)
	}

	return c, nil
}

// BaseURL returns the normalized base URL.
func (c *Client) BaseURL() string { return c.baseURL }

// Search runs POST /attributes/restSearch.
func (c *Client) Search(ctx context.Context, q Query) ([]model.RemoteAttribute, error) {
	if q.Limit == 0 && c.defaultLimit > 0 {
		q.Limit = c.defaultLimit
	}
	q.ReturnFormat = "json"

	var out struct {
		Response *struct {
			Attribute *[]model.RemoteAttribute `json:"Attribute"`
		} `json:"response"`
	}
	if err := c.do(ctx, OpSearch, "/attributes/restSearch", q, &out); err != nil {
		return nil, err
	}
	if out.Response == nil || out.Response.Attribute == nil {
		return nil, protocolErr(OpSearch, http.StatusOK, "", fmt.Errorf("response.Attribute missing"))
	}
	return *out.Response.Attribute, nil
}

// AddSighting runs POST /sightings/add/<attributeID>. The id may be a numeric id or a uuid.
func (c *Client) AddSighting(ctx context.Context, attributeID string) (*model.Sighting, error) {
	if attributeID == "" {
		return nil, protocolErr(OpAddSighting, 0, "", fmt.Errorf("empty attribute id"))
	}

	var out struct {
		Sighting *model.Sighting `json:"Sighting"`
	}
	if err := c.do(ctx, OpAddSighting, "/sightings/add/"+url.PathEscape(attributeID), nil, &out); err != nil {
		return nil, err
	}
	if out.Sighting == nil {
		return nil, protocolErr(OpAddSighting, http.StatusOK, "", fmt.Errorf("sighting envelope missing"))
	}
	return out.Sighting, nil
}

// AddSightingValues runs POST /sightings/add with a list of values.
// The remote platform answers with a Sighting or, for several values, with a
// message only; the latter returns a nil Sighting.
func (c *Client) AddSightingValues(ctx context.Context, values []string) (*model.Sighting, error) {
	if len(values) == 0 {
		return nil, protocolErr(OpAddSightingVal, 0, "", fmt.Errorf("no values"))
	}

	body := struct {
		Values []string `json:"values"`
	}{Values: values}

	var out struct {
		Sighting *model.Sighting `json:"Sighting"`
		Message  string          `json:"message"`
	}
	if err := c.do(ctx, OpAddSightingVal, "/sightings/add", body, &out); err != nil {
		return nil, err
	}
	if out.Sighting == nil && out.Message == "" {
		return nil, protocolErr(OpAddSightingVal, http.StatusOK, "", fmt.Errorf("sighting envelope missing"))
	}
	return out.Sighting, nil
}

// do sends one authenticated JSON POST and decodes a 2xx response into out.
func (c *Client) do(ctx context.Context, op, path string, in, out any) (err error) {
	start := time.Now()
	defer func() {
		outcome := metrics.OutcomeSuccess
		if err != nil {
			outcome = metrics.OutcomeFailure
		}
		metrics.RecordRemoteRequest(op, outcome, float64(time.Since(start).Microseconds())/1000.0)
	}()

	var body io.Reader = http.NoBody
	if in != nil {
		payload, mErr := json.Marshal(in)
		if mErr != nil {
			return protocolErr(op, 0, "", fmt.Errorf("encode request: %w", mErr))
		}
		body = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, body)
	if err != nil {
		return transportErr(op, fmt.Errorf("build request: %w", err))
	}
	req.Header.Set("Authorization", c.apiKey)
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return transportErr(op, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return protocolErr(op, resp.StatusCode, readBodyForError(resp.Body), nil)
	}

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return transportErr(op, fmt.Errorf("read body: %w", err))
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return protocolErr(op, resp.StatusCode, truncate(raw), fmt.Errorf("decode body: %w", err))
	}

	c.log.Debug(ctx, "remote call done",
		logger.String("op", op),
		logger.Int("status", resp.StatusCode),
		logger.Int("bytes", len(raw)),
		logger.Duration("took", time.Since(start)),
	)
	return nil
}

// readBodyForError reads at most maxErrorBodySize bytes of a failed response.
func readBodyForError(r io.Reader) string {
	body, err := io.ReadAll(io.LimitReader(r, maxErrorBodySize))
	if err != nil {
		return "(failed to read response body)"
	}
	return truncate(body)
}

func truncate(b []byte) string {
	const keep = 512
	s := strings.TrimSpace(string(b))
	if len(s) > keep {
		return s[:keep] + "... (truncated)"
	}
	return s
}
