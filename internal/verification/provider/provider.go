// Package provider talks to the identity provider: it builds the authorization
// URL, exchanges authorization codes and fetches verified profiles. In test mode
// both calls return canned payloads so the pipeline runs without a network.
package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"golang.org/x/oauth2"

	"kycgate/internal/platform/config"
	"kycgate/internal/verification/metrics"
	"kycgate/internal/verification/models"
)

// Test-mode sentinels.
const (
	MockAuthCode    = "MOCK_AUTH_CODE"
	InvalidAuthCode = "INVALID_CODE"
)

// Failure messages surfaced to callers.
const (
	MsgInvalidCode        = "Invalid authorization code"
	MsgSimulatedToken     = "Simulated token failure"
	MsgTokenTimeout       = "Token request timed out"
	MsgAccessTokenMissing = "Token exchange failed: access_token missing"
	MsgMissingAccessToken = "Missing access token"
	MsgSimulatedProfile   = "Simulated profile failure"
	MsgProfileTimeout     = "Profile request timed out"
)

// maxErrorBody caps how much of an upstream error body is embedded in messages.
const maxErrorBody = 2048

// Client calls the identity provider.
type Client struct {
	httpClient *http.Client
	logger     *slog.Logger
	metrics    *metrics.Metrics
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient sets the HTTP client used for live calls.
func WithHTTPClient(c *http.Client) Option {
	return func(p *Client) {
		p.httpClient = c
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(p *Client) {
		p.logger = logger
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(p *Client) {
		p.metrics = m
	}
}

// New constructs a provider Client. Live calls use http.DefaultClient unless
// WithHTTPClient is given; deadlines come from the timeout guard.
func New(opts ...Option) *Client {
	c := &Client{httpClient: http.DefaultClient}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// ExchangeOptions tune a single code exchange.
type ExchangeOptions struct {
	Simulate models.SimulatedFailure
}

// ProfileOptions tune a single profile fetch.
type ProfileOptions struct {
	Simulate models.SimulatedFailure
	TenantID string
}

// AuthorizationURL builds the provider authorization URL carrying
// response_type, client_id, redirect_uri, scope and state.
func AuthorizationURL(cfg config.Verification, state string) string {
	return oauthConfig(cfg).AuthCodeURL(state)
}

func oauthConfig(cfg config.Verification) *oauth2.Config {
	return &oauth2.Config{
		ClientID:     cfg.ClientID,
		ClientSecret: cfg.ClientSecret,
		RedirectURL:  cfg.RedirectURI,
		Scopes:       cfg.Scopes,
		Endpoint: oauth2.Endpoint{
			AuthURL:   cfg.AuthURL,
			TokenURL:  cfg.TokenURL,
			AuthStyle: oauth2.AuthStyleInParams,
		},
	}
}

func (c *Client) debug(ctx context.Context, msg string, args ...any) {
	if c.logger != nil {
		c.logger.DebugContext(ctx, msg, args...)
	}
}

// readErrorBody returns the upstream body for error messages. JSON bodies are
// compacted; anything else is trimmed text. A read cut short by the call
// deadline is returned as an error so the timeout guard reports it; other read
// failures yield an empty body.
func readErrorBody(ctx context.Context, r io.Reader) (string, error) {
	raw, err := io.ReadAll(io.LimitReader(r, maxErrorBody))
	if err != nil {
		if ctx.Err() != nil {
			return "", readError(ctx, "error body", err)
		}
		return "", nil
	}
	var buf bytes.Buffer
	if json.Compact(&buf, raw) == nil {
		return buf.String(), nil
	}
	return strings.TrimSpace(string(raw)), nil
}

// readError wraps a failed body read. When the request context is done the
// context error is wrapped instead, since the transport may surface the
// cancellation as an opaque read error.
func readError(ctx context.Context, what string, err error) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return fmt.Errorf("read %s: %w", what, ctxErr)
	}
	return fmt.Errorf("read %s: %w", what, err)
}

func upstreamError(prefix string, status int, body string) string {
	return fmt.Sprintf("%s: status=%d body=%s", prefix, status, body)
}
