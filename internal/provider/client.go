// Package provider is the HTTP client for the identity-verification provider.
// The provider's internals are opaque; this package only knows its
// session-start/status/collect endpoints, its event stream, and the
// credential-session API, and it validates every response shape at this
// boundary so unvalidated payloads never cross into the flow.
package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"medigate/internal/platform/config"
	dErrors "medigate/pkg/domain-errors"
)

var tracer = otel.Tracer("medigate/internal/provider")

// Client talks to the verification provider over HTTP. It is safe for
// concurrent use.
type Client struct {
	baseURL    string
	httpClient *http.Client
	// streamClient has no global timeout: long-poll requests are bounded by
	// a per-call context deadline instead.
	streamClient *http.Client
	logger       *slog.Logger
}

// ClientConfig holds configuration for creating a Client.
type ClientConfig struct {
	// BaseURL is the provider's root endpoint.
	BaseURL string
	// HTTPClient is used for all requests. If nil, a client with the
	// configured request timeout is built.
	HTTPClient *http.Client
	// RequestTimeout bounds each individual round-trip. The reconciler owns
	// the overall attempt ceiling.
	RequestTimeout time.Duration
	// Logger is used for structured logging. If nil, slog.Default() is used.
	Logger *slog.Logger
}

// NewClient creates a provider client.
func NewClient(cfg ClientConfig) (*Client, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("provider: BaseURL is required")
	}
	if _, err := url.Parse(cfg.BaseURL); err != nil {
		return nil, fmt.Errorf("provider: invalid BaseURL %q: %w", cfg.BaseURL, err)
	}

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		timeout := cfg.RequestTimeout
		if timeout <= 0 {
			timeout = 15 * time.Second
		}
		httpClient = &http.Client{Timeout: timeout}
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Client{
		baseURL:      strings.TrimRight(cfg.BaseURL, "/"),
		httpClient:   httpClient,
		streamClient: &http.Client{},
		logger:       logger,
	}, nil
}

// FromConfig builds a client from the module configuration.
func FromConfig(cfg config.ProviderConfig, logger *slog.Logger) (*Client, error) {
	return NewClient(ClientConfig{
		BaseURL:        cfg.BaseURL,
		RequestTimeout: cfg.RequestTimeout,
		Logger:         logger,
	})
}

// StartSession begins a verification attempt.
func (c *Client) StartSession(ctx context.Context, req StartRequest) (StartResponse, error) {
	var resp StartResponse
	err := c.do(ctx, "provider.start_session", http.MethodPost, "/session/start", req, &resp)
	if err != nil {
		return StartResponse{}, err
	}
	if resp.SessionID == "" {
		return StartResponse{}, dErrors.New(dErrors.CodeRemote, "provider returned no session id")
	}
	return resp, nil
}

// Status polls the attempt snapshot. This is the pull channel.
func (c *Client) Status(ctx context.Context, sessionID string) (StatusResponse, error) {
	var resp StatusResponse
	err := c.do(ctx, "provider.status", http.MethodGet, "/session/"+url.PathEscape(sessionID)+"/status", nil, &resp)
	if err != nil {
		return StatusResponse{}, err
	}
	return resp, nil
}

// ManualAuthComplete asserts that the user finished external approval out of
// band, prompting the provider to re-check instead of waiting for its own
// detection.
func (c *Client) ManualAuthComplete(ctx context.Context, sessionID string) error {
	return c.do(ctx, "provider.manual_auth_complete", http.MethodPost,
		"/session/"+url.PathEscape(sessionID)+"/manual-auth-complete", nil, nil)
}

// CollectHealthData explicitly triggers collection after a manual approval.
func (c *Client) CollectHealthData(ctx context.Context, sessionID string) (StatusResponse, error) {
	var resp StatusResponse
	err := c.do(ctx, "provider.collect_health_data", http.MethodPost,
		"/session/"+url.PathEscape(sessionID)+"/collect-health-data", nil, &resp)
	if err != nil {
		return StatusResponse{}, err
	}
	return resp, nil
}

// CreateSession mints a credential-gated session token.
func (c *Client) CreateSession(ctx context.Context, req CreateSessionRequest) (CreateSessionResponse, error) {
	var resp CreateSessionResponse
	err := c.do(ctx, "provider.create_session", http.MethodPost, "/sessions/create", req, &resp)
	if err != nil {
		return CreateSessionResponse{}, err
	}
	if resp.SessionToken == "" {
		return CreateSessionResponse{}, dErrors.New(dErrors.CodeRemote, "session server returned no token")
	}
	return resp, nil
}

// VerifySession re-validates a cached token. A 401-class refusal comes back
// as CodeUnauthorized so callers can distinguish authoritative invalidation
// from a transport blip.
func (c *Client) VerifySession(ctx context.Context, req VerifySessionRequest) (VerifySessionResponse, error) {
	var resp VerifySessionResponse
	err := c.do(ctx, "provider.verify_session", http.MethodPost, "/sessions/verify", req, &resp)
	if err != nil {
		return VerifySessionResponse{}, err
	}
	return resp, nil
}

// RevokeSession deletes a session server-side. Best effort; callers clear
// their local cache regardless.
func (c *Client) RevokeSession(ctx context.Context, token string) error {
	return c.do(ctx, "provider.revoke_session", http.MethodDelete,
		"/sessions/"+url.PathEscape(token), nil, nil)
}

// do runs one traced round-trip. Responses outside 2xx map onto coded domain
// errors: 401/403 → CodeUnauthorized, everything else → CodeRemote.
func (c *Client) do(ctx context.Context, span, method, path string, body, out any) error {
	ctx, sp := tracer.Start(ctx, span, trace.WithSpanKind(trace.SpanKindClient))
	defer sp.End()

	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		sp.SetStatus(codes.Error, err.Error())
		return dErrors.Wrap(err, dErrors.CodeRemote, method+" "+path)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		sp.SetStatus(codes.Error, resp.Status)
		return dErrors.Newf(dErrors.CodeUnauthorized, "%s %s: %s", method, path, resp.Status)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		sp.SetStatus(codes.Error, resp.Status)
		return dErrors.Newf(dErrors.CodeRemote, "%s %s: %s", method, path, resp.Status)
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		sp.SetStatus(codes.Error, err.Error())
		return dErrors.Wrap(err, dErrors.CodeRemote, "decode response")
	}
	return nil
}
