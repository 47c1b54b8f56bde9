// Package salesforce holds the machine-to-machine credentials for the data
// service and the REST client that uses them. The token is process-wide
// shared state, not per-user state.
package salesforce

import (
	"context"
	"crypto/rsa"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync/atomic"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/lekkimworld/salesforce-consent-demo-herokuapp/internal/platform/config"
	"github.com/lekkimworld/salesforce-consent-demo-herokuapp/internal/platform/metrics"
	dErrors "github.com/lekkimworld/salesforce-consent-demo-herokuapp/pkg/domain-errors"
)

const (
	grantTypeJWTBearer = "urn:ietf:params:oauth:grant-type:jwt-bearer"

	// Short-lived to limit the assertion replay window.
	assertionLifetime = 3 * time.Minute
)

// Token is the bearer credential for outbound data service calls. It is
// replaced wholesale on refresh, never patched, so readers can never observe
// a half-updated access token / instance URL pair.
type Token struct {
	AccessToken string
	InstanceURL string
	ObtainedAt  time.Time
}

// TokenEndpointSource yields the provider's token endpoint. Implemented by
// the OIDC discovery cache.
type TokenEndpointSource interface {
	TokenEndpoint(ctx context.Context) (string, error)
}

// TokenCache owns the process-wide service token. The cached token lives in
// an atomic pointer so the hot path (cache hit) is a single load with no
// locking, and concurrent refreshers are last-writer-wins.
type TokenCache struct {
	cfg       config.ServiceJWTConfig
	audience  string
	endpoints TokenEndpointSource
	key       *rsa.PrivateKey
	http      *http.Client
	logger    *slog.Logger
	metrics   *metrics.Metrics

	tok atomic.Pointer[Token]
	now func() time.Time
}

// NewTokenCache builds a TokenCache. The audience is the OIDC provider's
// issuer URL; the signing key comes from configuration.
func NewTokenCache(
	cfg config.ServiceJWTConfig,
	audience string,
	endpoints TokenEndpointSource,
	httpClient *http.Client,
	logger *slog.Logger,
	m *metrics.Metrics,
) (*TokenCache, error) {
	key, err := cfg.ParsePrivateKey()
	if err != nil {
		return nil, err
	}
	return &TokenCache{
		cfg:       cfg,
		audience:  audience,
		endpoints: endpoints,
		key:       key,
		http:      httpClient,
		logger:    logger,
		metrics:   m,
		now:       time.Now,
	}, nil
}

// Get returns the cached token, refreshing it first when forceRefresh is set
// or no token exists yet. A cache hit performs no network I/O.
func (c *TokenCache) Get(ctx context.Context, forceRefresh bool) (Token, error) {
	if !forceRefresh {
		if tok := c.tok.Load(); tok != nil {
			return *tok, nil
		}
	}
	return c.refresh(ctx)
}

// Invalidate drops the cached token; the next Get refreshes.
func (c *TokenCache) Invalidate() {
	c.tok.Store(nil)
}

func (c *TokenCache) refresh(ctx context.Context) (Token, error) {
	// The refreshed token is shared value: let the exchange finish even if
	// the requesting client goes away. The HTTP client timeout still bounds
	// the call.
	ctx = context.WithoutCancel(ctx)

	endpoint, err := c.endpoints.TokenEndpoint(ctx)
	if err != nil {
		c.metrics.TokenRefreshes.WithLabelValues("discovery_error").Inc()
		return Token{}, err
	}

	assertion, err := c.signAssertion()
	if err != nil {
		c.metrics.TokenRefreshes.WithLabelValues("sign_error").Inc()
		return Token{}, dErrors.Wrap(dErrors.CodeInternal, "sign token assertion", err)
	}

	form := url.Values{
		"grant_type": {grantTypeJWTBearer},
		"assertion":  {assertion},
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return Token{}, dErrors.Wrap(dErrors.CodeInternal, "build token request", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.http.Do(req)
	if err != nil {
		c.metrics.TokenRefreshes.WithLabelValues("transport_error").Inc()
		return Token{}, dErrors.Wrap(dErrors.CodeUpstreamUnavailable, "token exchange failed", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		c.metrics.TokenRefreshes.WithLabelValues("transport_error").Inc()
		return Token{}, dErrors.Wrap(dErrors.CodeUpstreamUnavailable, "read token response", err)
	}

	var tr tokenResponse
	if err := json.Unmarshal(body, &tr); err != nil {
		c.metrics.TokenRefreshes.WithLabelValues("decode_error").Inc()
		return Token{}, dErrors.Wrap(dErrors.CodeUpstreamAuth, "malformed token response", err)
	}
	// The provider signals rejection via an error field, sometimes under a
	// 200 status. An error body is never a token.
	if tr.Error != "" {
		c.metrics.TokenRefreshes.WithLabelValues("rejected").Inc()
		return Token{}, dErrors.Newf(dErrors.CodeUpstreamAuth, "assertion rejected: %s: %s", tr.Error, tr.ErrorDescription)
	}
	if tr.AccessToken == "" || tr.InstanceURL == "" {
		c.metrics.TokenRefreshes.WithLabelValues("decode_error").Inc()
		return Token{}, dErrors.New(dErrors.CodeUpstreamAuth, "token response missing access_token or instance_url")
	}

	tok := Token{
		AccessToken: tr.AccessToken,
		InstanceURL: strings.TrimSuffix(tr.InstanceURL, "/"),
		ObtainedAt:  c.now(),
	}
	c.tok.Store(&tok)
	c.metrics.TokenRefreshes.WithLabelValues("success").Inc()
	c.logger.InfoContext(ctx, "refreshed service token", "instance_url", tok.InstanceURL)
	return tok, nil
}

func (c *TokenCache) signAssertion() (string, error) {
	now := c.now()
	claims := jwt.RegisteredClaims{
		Issuer:    c.cfg.ClientID,
		Subject:   c.cfg.Subject,
		Audience:  jwt.ClaimStrings{c.audience},
		ExpiresAt: jwt.NewNumericDate(now.Add(assertionLifetime)),
		IssuedAt:  jwt.NewNumericDate(now),
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodRS256, claims).SignedString(c.key)
	if err != nil {
		return "", fmt.Errorf("sign RS256 assertion: %w", err)
	}
	return signed, nil
}

type tokenResponse struct {
	AccessToken      string `json:"access_token"`
	InstanceURL      string `json:"instance_url"`
	Error            string `json:"error"`
	ErrorDescription string `json:"error_description"`
}
