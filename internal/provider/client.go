package provider

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"
)

const maxResponseBody = 1 << 20

// ErrTokenUnavailable wraps failures to obtain a bearer token for an
// outbound call.
var ErrTokenUnavailable = errors.New("provider token unavailable")

// TokenSource supplies bearer tokens for provider calls. Invalidate drops a
// token the provider rejected.
type TokenSource interface {
	Token(ctx context.Context) (string, error)
	Invalidate(token string)
}

// Config configures the provider client.
type Config struct {
	APIURL          string
	VerificationURL string
	Timeout         time.Duration
	HTTPClient      *http.Client
	Tokens          TokenSource
	Logger          *slog.Logger
}

// Client calls the identity-verification provider.
type Client struct {
	apiURL          string
	verificationURL string
	client          *http.Client
	tokens          TokenSource
	logger          *slog.Logger
}

// Response is an upstream reply relayed to the caller as-is.
type Response struct {
	StatusCode  int
	ContentType string
	Body        []byte
}

func (r *Response) OK() bool {
	return r.StatusCode >= 200 && r.StatusCode <= 299
}

func NewClient(cfg Config) *Client {
	client := cfg.HTTPClient
	if client == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = 10 * time.Second
		}
		client = &http.Client{Timeout: timeout}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		apiURL:          strings.TrimRight(cfg.APIURL, "/"),
		verificationURL: strings.TrimRight(cfg.VerificationURL, "/"),
		client:          client,
		tokens:          cfg.Tokens,
		logger:          logger,
	}
}

// ExchangeToken forwards a caller's Basic credentials to the provider token
// endpoint.
func (c *Client) ExchangeToken(ctx context.Context, authorization string) (*Response, error) {
	form := url.Values{"grant_type": {"client_credentials"}}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.apiURL+"/auth/v2/token", strings.NewReader(form.Encode()))
	if err != nil {
		return nil, fmt.Errorf("creating token request: %w", err)
	}
	req.Header.Set("Authorization", authorization)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	return c.send(req, "token")
}

// CreateSession starts a verification session. body is sent verbatim.
func (c *Client) CreateSession(ctx context.Context, bearer string, body []byte) (*Response, error) {
	return c.authorized(ctx, "create_session", bearer, func() (*http.Request, error) {
		return http.NewRequestWithContext(ctx, http.MethodPost, c.verificationURL+"/v1/session/", bytes.NewReader(body))
	})
}

// GetDecision fetches the verification decision for a session.
func (c *Client) GetDecision(ctx context.Context, bearer, sessionID string) (*Response, error) {
	target := c.verificationURL + "/v1/session/" + url.PathEscape(sessionID) + "/decision/"
	return c.authorized(ctx, "get_decision", bearer, func() (*http.Request, error) {
		return http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	})
}

// authorized sends a bearer-authenticated request. With no caller token it
// uses the token source, and a 401 on a cached token is retried once with a
// fresh one.
func (c *Client) authorized(ctx context.Context, op, bearer string, build func() (*http.Request, error)) (*Response, error) {
	cached := bearer == ""
	attempts := 1
	if cached {
		attempts = 2
	}

	var resp *Response
	for attempt := 0; attempt < attempts; attempt++ {
		token := bearer
		if cached {
			if c.tokens == nil {
				return nil, fmt.Errorf("%w: no token source configured", ErrTokenUnavailable)
			}
			tok, err := c.tokens.Token(ctx)
			if err != nil {
				return nil, fmt.Errorf("%w: %w", ErrTokenUnavailable, err)
			}
			token = tok
		}

		req, err := build()
		if err != nil {
			return nil, fmt.Errorf("creating %s request: %w", op, err)
		}
		req.Header.Set("Authorization", "Bearer "+token)
		req.Header.Set("Content-Type", "application/json")

		resp, err = c.send(req, op)
		if err != nil {
			return nil, err
		}
		if resp.StatusCode != http.StatusUnauthorized || !cached {
			return resp, nil
		}
		c.tokens.Invalidate(token)
		c.logger.Warn("provider rejected cached token", "operation", op, "attempt", attempt+1)
	}
	return resp, nil
}

func (c *Client) send(req *http.Request, op string) (*Response, error) {
	start := time.Now()
	httpResp, err := c.client.Do(req)
	if err != nil {
		upstreamRequests.WithLabelValues(op, "error").Inc()
		return nil, fmt.Errorf("%s %s: %w", req.Method, req.URL.Path, err)
	}
	defer httpResp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(httpResp.Body, maxResponseBody))
	if err != nil {
		upstreamRequests.WithLabelValues(op, "error").Inc()
		return nil, fmt.Errorf("reading %s response: %w", op, err)
	}
	upstreamRequests.WithLabelValues(op, statusClass(httpResp.StatusCode)).Inc()

	c.logger.Debug("provider call",
		"operation", op,
		"status", httpResp.StatusCode,
		"duration_ms", time.Since(start).Milliseconds(),
	)
	return &Response{
		StatusCode:  httpResp.StatusCode,
		ContentType: httpResp.Header.Get("Content-Type"),
		Body:        body,
	}, nil
}

func statusClass(code int) string {
	return fmt.Sprintf("%dxx", code/100)
}
