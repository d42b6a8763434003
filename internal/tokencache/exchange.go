package tokencache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const maxErrorBody = 4 << 10

// ClientCredentialsConfig configures the OAuth2 client-credentials exchange.
type ClientCredentialsConfig struct {
	ClientID     string
	ClientSecret string
	TokenURL     string
	HTTPClient   *http.Client
}

// ClientCredentials fetches tokens with the client-credentials grant,
// authenticating with HTTP Basic.
type ClientCredentials struct {
	clientID     string
	clientSecret string
	tokenURL     string
	client       *http.Client
}

func NewClientCredentials(cfg ClientCredentialsConfig) *ClientCredentials {
	client := cfg.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: DefaultTimeout}
	}
	return &ClientCredentials{
		clientID:     cfg.ClientID,
		clientSecret: cfg.ClientSecret,
		tokenURL:     cfg.TokenURL,
		client:       client,
	}
}

type tokenResponse struct {
	AccessToken string      `json:"access_token"`
	TokenType   string      `json:"token_type"`
	ExpiresIn   json.Number `json:"expires_in"`
}

// Fetch performs one exchange. Every failure is an *AuthBrokerError.
func (c *ClientCredentials) Fetch(ctx context.Context) (Grant, error) {
	form := url.Values{"grant_type": {"client_credentials"}}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.tokenURL, strings.NewReader(form.Encode()))
	if err != nil {
		return Grant{}, &AuthBrokerError{Err: fmt.Errorf("creating token request: %w", err)}
	}
	req.SetBasicAuth(c.clientID, c.clientSecret)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return Grant{}, &AuthBrokerError{Err: fmt.Errorf("POST token endpoint: %w", err)}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return Grant{}, &AuthBrokerError{
			StatusCode: resp.StatusCode,
			Body:       strings.TrimSpace(string(body)),
		}
	}

	var tr tokenResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<20)).Decode(&tr); err != nil {
		return Grant{}, &AuthBrokerError{
			StatusCode: resp.StatusCode,
			Err:        fmt.Errorf("decoding token response: %w", err),
		}
	}
	if tr.AccessToken == "" {
		return Grant{}, &AuthBrokerError{
			StatusCode: resp.StatusCode,
			Err:        errors.New("token response missing access_token"),
		}
	}

	grant := Grant{
		AccessToken: tr.AccessToken,
		TokenType:   tr.TokenType,
	}
	if tr.ExpiresIn != "" {
		secs, err := strconv.ParseFloat(tr.ExpiresIn.String(), 64)
		if err != nil {
			return Grant{}, &AuthBrokerError{
				StatusCode: resp.StatusCode,
				Err:        fmt.Errorf("invalid expires_in %q", tr.ExpiresIn),
			}
		}
		grant.ExpiresIn = time.Duration(secs * float64(time.Second))
	}
	if grant.ExpiresIn <= 0 {
		grant.Expiry = jwtExpiry(tr.AccessToken)
	}
	return grant, nil
}

// jwtExpiry reads the exp claim of a JWT access token without verifying it.
// The token is only being scheduled for refresh, not trusted.
func jwtExpiry(raw string) time.Time {
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(raw, claims); err != nil {
		return time.Time{}
	}
	exp, err := claims.GetExpirationTime()
	if err != nil || exp == nil {
		return time.Time{}
	}
	return exp.Time
}
