// Package airtable implements the remote store on the Airtable REST API.
//
// Listings are paginated with an opaque offset cursor. Requests share one
// rate limiter because the API allows only a handful of requests per second
// per base and answers bursts with 429.
package airtable

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/discochess/shelf/internal/inventory"
	"github.com/discochess/shelf/internal/remote"
)

const (
	// DefaultBaseURL is the public API endpoint.
	DefaultBaseURL = "https://api.airtable.com/v0"

	// DefaultRate is the documented per-base request limit.
	DefaultRate = rate.Limit(5)

	// DefaultTimeout bounds a single HTTP exchange.
	DefaultTimeout = 30 * time.Second

	// maxErrorBody caps how much of an error response is kept.
	maxErrorBody = 512
)

// Compile-time check that Client implements remote.Backend.
var _ remote.Backend = (*Client)(nil)

// Config identifies the base and tables to use.
type Config struct {
	BaseID         string
	BooksTable     string
	UsersTable     string
	AccessLogTable string
	Token          string
}

// StatusError is returned for non-success HTTP responses.
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("airtable: unexpected status %d %s: %s", e.Code, http.StatusText(e.Code), e.Body)
}

// Client talks to one Airtable base.
type Client struct {
	cfg     Config
	baseURL string
	http    *http.Client
	limiter *rate.Limiter
	logger  *zap.Logger
}

// Option configures a Client.
type Option func(*Client)

// WithBaseURL overrides the API endpoint, e.g. for tests.
func WithBaseURL(u string) Option {
	return func(c *Client) {
		c.baseURL = u
	}
}

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		c.http = hc
	}
}

// WithRateLimit sets the request rate and burst.
func WithRateLimit(limit rate.Limit, burst int) Option {
	return func(c *Client) {
		c.limiter = rate.NewLimiter(limit, burst)
	}
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(c *Client) {
		c.logger = l
	}
}

// New creates a client. BaseID, BooksTable and Token are required.
func New(cfg Config, opts ...Option) (*Client, error) {
	if cfg.BaseID == "" {
		return nil, errors.New("airtable: base id is required")
	}
	if cfg.BooksTable == "" {
		return nil, errors.New("airtable: books table is required")
	}
	if cfg.Token == "" {
		return nil, errors.New("airtable: token is required")
	}

	c := &Client{
		cfg:     cfg,
		baseURL: DefaultBaseURL,
		http: &http.Client{
			Timeout:   DefaultTimeout,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
		limiter: rate.NewLimiter(DefaultRate, 1),
		logger:  zap.NewNop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

type listResponse struct {
	Records []inventory.Record `json:"records"`
	Offset  string             `json:"offset,omitempty"`
}

type fieldsRequest struct {
	Fields map[string]any `json:"fields"`
}

// ListBooks returns one page of the books table.
func (c *Client) ListBooks(ctx context.Context, offset string) (remote.Page, error) {
	return c.list(ctx, c.cfg.BooksTable, offset)
}

// ListUsers returns one page of the users table.
func (c *Client) ListUsers(ctx context.Context, offset string) (remote.Page, error) {
	if c.cfg.UsersTable == "" {
		return remote.Page{}, nil
	}
	return c.list(ctx, c.cfg.UsersTable, offset)
}

// GetBook fetches one books-table row.
func (c *Client) GetBook(ctx context.Context, id string) (inventory.Record, error) {
	var rec inventory.Record
	if err := c.do(ctx, http.MethodGet, c.recordPath(c.cfg.BooksTable, id), nil, nil, &rec); err != nil {
		return inventory.Record{}, err
	}
	return rec, nil
}

// SetAvailable patches the available-copies field of one book.
func (c *Client) SetAvailable(ctx context.Context, bookID string, available int) error {
	body := fieldsRequest{Fields: map[string]any{inventory.FieldAvailable: available}}
	return c.do(ctx, http.MethodPatch, c.recordPath(c.cfg.BooksTable, bookID), nil, body, nil)
}

// AppendAccess creates one access-log row.
func (c *Client) AppendAccess(ctx context.Context, entry inventory.AccessEntry) error {
	if c.cfg.AccessLogTable == "" {
		return errors.New("airtable: access log table is not configured")
	}
	body := fieldsRequest{Fields: inventory.AccessFields(entry)}
	return c.do(ctx, http.MethodPost, c.tablePath(c.cfg.AccessLogTable), nil, body, nil)
}

func (c *Client) list(ctx context.Context, table, offset string) (remote.Page, error) {
	query := url.Values{}
	if offset != "" {
		query.Set("offset", offset)
	}

	var resp listResponse
	if err := c.do(ctx, http.MethodGet, c.tablePath(table), query, nil, &resp); err != nil {
		return remote.Page{}, err
	}

	c.logger.Debug("fetched page",
		zap.String("table", table),
		zap.Int("records", len(resp.Records)),
		zap.Bool("more", resp.Offset != ""),
	)
	return remote.Page{Records: resp.Records, Offset: resp.Offset}, nil
}

func (c *Client) tablePath(table string) string {
	return "/" + url.PathEscape(c.cfg.BaseID) + "/" + url.PathEscape(table)
}

func (c *Client) recordPath(table, id string) string {
	return c.tablePath(table) + "/" + url.PathEscape(id)
}

// do performs one rate-limited request. A 404 maps to remote.ErrNotFound;
// any other non-2xx status to *StatusError.
func (c *Client) do(ctx context.Context, method, path string, query url.Values, body, out any) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("waiting for rate limiter: %w", err)
	}

	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encoding request: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	u := c.baseURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, method, u, reader)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.cfg.Token)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return remote.ErrNotFound
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return &StatusError{Code: resp.StatusCode, Body: string(msg)}
	}

	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}

	dec := json.NewDecoder(resp.Body)
	dec.UseNumber()
	if err := dec.Decode(out); err != nil {
		return fmt.Errorf("decoding response: %w", err)
	}
	return nil
}
