// Package shopify is a minimal Admin GraphQL client. Every call is a single
// POST; there are no retries. A per-shop circuit breaker fails fast while a
// shop's endpoint keeps failing at the transport level.
package shopify

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"regexp"
	"time"

	"github.com/fraudpop/fraudpop/internal/circuitbreaker"
	"github.com/fraudpop/fraudpop/internal/logging"
	"github.com/fraudpop/fraudpop/internal/metrics"
	"github.com/fraudpop/fraudpop/internal/traces"
)

const (
	// maxResponseBytes bounds how much of a response body is read.
	maxResponseBytes = 8 << 20

	breakerThreshold = 5
	breakerOpenFor   = 30 * time.Second
)

var operationRe = regexp.MustCompile(`^\s*(?:#graphql\s+)?(?:query|mutation)\s+([A-Za-z_][A-Za-z0-9_]*)`)

// Factory builds per-shop clients that share one HTTP client and breaker.
type Factory struct {
	version  string
	http     *http.Client
	breaker  *circuitbreaker.Breaker
	endpoint func(shop, version string) string
}

// Option configures a Factory.
type Option func(*Factory)

// WithHTTPClient replaces the HTTP client.
func WithHTTPClient(c *http.Client) Option {
	return func(f *Factory) { f.http = c }
}

// WithEndpoint overrides how a shop's GraphQL URL is built. Used by tests to
// point at a local server.
func WithEndpoint(fn func(shop, version string) string) Option {
	return func(f *Factory) { f.endpoint = fn }
}

// WithBreaker replaces the circuit breaker.
func WithBreaker(b *circuitbreaker.Breaker) Option {
	return func(f *Factory) { f.breaker = b }
}

// NewFactory creates a factory for the given Admin API version. timeout bounds
// each call end to end.
func NewFactory(version string, timeout time.Duration, opts ...Option) *Factory {
	f := &Factory{
		version:  version,
		http:     &http.Client{Timeout: timeout},
		breaker:  circuitbreaker.New(breakerThreshold, breakerOpenFor),
		endpoint: DefaultEndpoint,
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// DefaultEndpoint is https://<shop>/admin/api/<version>/graphql.json.
func DefaultEndpoint(shop, version string) string {
	return fmt.Sprintf("https://%s/admin/api/%s/graphql.json", shop, version)
}

// Client returns a client bound to shop and its offline access token.
func (f *Factory) Client(shop, accessToken string) *Client {
	return &Client{
		shop:     shop,
		token:    accessToken,
		endpoint: f.endpoint(shop, f.version),
		http:     f.http,
		breaker:  f.breaker,
	}
}

// Breaker exposes the shared breaker for health reporting.
func (f *Factory) Breaker() *circuitbreaker.Breaker { return f.breaker }

// Client talks to one shop's Admin GraphQL endpoint.
type Client struct {
	shop     string
	token    string
	endpoint string
	http     *http.Client
	breaker  *circuitbreaker.Breaker
}

// Shop returns the shop domain this client is bound to.
func (c *Client) Shop() string { return c.shop }

type request struct {
	Query     string         `json:"query"`
	Variables map[string]any `json:"variables,omitempty"`
}

type envelope struct {
	Data   json.RawMessage `json:"data"`
	Errors json.RawMessage `json:"errors"`
}

// Do executes query with vars and decodes the "data" member into out (which
// may be nil). Errors are ErrTransport, ErrCircuitOpen, *InvalidResponseError
// or *GraphQLErrors.
func (c *Client) Do(ctx context.Context, query string, vars map[string]any, out any) (err error) {
	op := operationName(query)
	ctx, span := traces.StartSpan(ctx, "shopify.graphql", traces.Shop(c.shop), traces.Operation(op))
	start := time.Now()
	defer func() {
		metrics.PlatformCallDuration.WithLabelValues(op, outcome(err)).Observe(time.Since(start).Seconds())
		traces.End(span, err)
	}()

	err = c.breaker.Do(c.shop, func() error {
		return c.do(ctx, query, vars, out)
	}, countsAsFailure)
	if errors.Is(err, circuitbreaker.ErrOpen) {
		return ErrCircuitOpen
	}
	if errors.Is(err, ErrTransport) {
		logging.L(ctx).Warn("platform call failed", "operation", op, "error", err)
	}
	return err
}

func (c *Client) do(ctx context.Context, query string, vars map[string]any, out any) error {
	body, err := json.Marshal(request{Query: query, Variables: vars})
	if err != nil {
		return fmt.Errorf("shopify: encode request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("%w: %v", ErrTransport, err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-Shopify-Access-Token", c.token)

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrTransport, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return fmt.Errorf("%w: read body: %v", ErrTransport, err)
	}

	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return newInvalidResponse(resp.StatusCode, raw)
	}
	if errs := parseErrors(env.Errors); len(errs) > 0 {
		return &GraphQLErrors{Errors: errs}
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return newInvalidResponse(resp.StatusCode, raw)
	}
	if out == nil {
		return nil
	}
	if len(env.Data) == 0 || string(env.Data) == "null" {
		return newInvalidResponse(resp.StatusCode, raw)
	}
	if err := json.Unmarshal(env.Data, out); err != nil {
		return newInvalidResponse(resp.StatusCode, raw)
	}
	return nil
}

// countsAsFailure limits breaker failures to transport problems and
// non-JSON answers; GraphQL-level errors mean the shop is reachable.
func countsAsFailure(err error) bool {
	var inv *InvalidResponseError
	return errors.Is(err, ErrTransport) || errors.As(err, &inv)
}

func operationName(query string) string {
	if m := operationRe.FindStringSubmatch(query); m != nil {
		return m[1]
	}
	return "anonymous"
}

func outcome(err error) string {
	var inv *InvalidResponseError
	var gqlErrs *GraphQLErrors
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, ErrCircuitOpen):
		return "circuit_open"
	case errors.Is(err, ErrTransport):
		return "transport_error"
	case errors.As(err, &inv):
		return "invalid_response"
	case errors.As(err, &gqlErrs):
		return "graphql_errors"
	default:
		return "error"
	}
}
