package oidc

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"encoding/base64"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync/atomic"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lekkimworld/salesforce-consent-demo-herokuapp/internal/platform/config"
	"github.com/lekkimworld/salesforce-consent-demo-herokuapp/internal/platform/metrics"
	"github.com/lekkimworld/salesforce-consent-demo-herokuapp/internal/session"
	dErrors "github.com/lekkimworld/salesforce-consent-demo-herokuapp/pkg/domain-errors"
)

// fakeProvider is an in-process OIDC provider: discovery, JWKS, token and
// userinfo endpoints backed by a fresh RSA key.
type fakeProvider struct {
	srv   *httptest.Server
	key   *rsa.PrivateKey
	nonce string // nonce to embed in minted ID tokens

	discoveryCalls atomic.Int32
	userinfoClaims map[string]any
}

func newFakeProvider(t *testing.T) *fakeProvider {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)

	p := &fakeProvider{
		key: key,
		userinfoClaims: map[string]any{
			"sub":        "user-1",
			"name":       "Joe Doe",
			"given_name": "Joe",
			"active":     true,
			"contact_id": "003x000001",
		},
	}

	mux := http.NewServeMux()
	p.srv = httptest.NewServer(mux)
	t.Cleanup(p.srv.Close)

	mux.HandleFunc("/.well-known/openid-configuration", func(w http.ResponseWriter, r *http.Request) {
		p.discoveryCalls.Add(1)
		writeJSON(w, map[string]any{
			"issuer":                                p.srv.URL,
			"authorization_endpoint":                p.srv.URL + "/authorize",
			"token_endpoint":                        p.srv.URL + "/token",
			"jwks_uri":                              p.srv.URL + "/jwks",
			"userinfo_endpoint":                     p.srv.URL + "/userinfo",
			"id_token_signing_alg_values_supported": []string{"RS256"},
		})
	})
	mux.HandleFunc("/jwks", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, map[string]any{
			"keys": []map[string]any{{
				"kty": "RSA",
				"alg": "RS256",
				"use": "sig",
				"kid": "test-key",
				"n":   base64.RawURLEncoding.EncodeToString(key.N.Bytes()),
				"e":   "AQAB",
			}},
		})
	})
	mux.HandleFunc("/token", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, map[string]any{
			"access_token": "at-1",
			"token_type":   "Bearer",
			"id_token":     p.mintIDToken(t),
		})
	})
	mux.HandleFunc("/userinfo", func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") == "" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		writeJSON(w, p.userinfoClaims)
	})
	return p
}

func (p *fakeProvider) mintIDToken(t *testing.T) string {
	t.Helper()
	now := time.Now()
	token := jwt.NewWithClaims(jwt.SigningMethodRS256, jwt.MapClaims{
		"iss":   p.srv.URL,
		"aud":   "client-1",
		"sub":   "user-1",
		"exp":   now.Add(time.Hour).Unix(),
		"iat":   now.Unix(),
		"nonce": p.nonce,
	})
	token.Header["kid"] = "test-key"
	signed, err := token.SignedString(p.key)
	require.NoError(t, err)
	return signed
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestFlow(p *fakeProvider) *Flow {
	discovery := NewDiscoveryCache(p.srv.URL, http.DefaultClient)
	return NewFlow(discovery, config.OIDCConfig{
		ProviderURL:    p.srv.URL,
		ClientID:       "client-1",
		ClientSecret:   "secret",
		RedirectURI:    "http://localhost:8080/oidc/callback",
		Scopes:         "openid email",
		Prompt:         "login",
		ContactIDClaim: "contact_id",
	}, http.DefaultClient, testLogger(), metrics.NewForTest())
}

func TestFlow_BeginLogin(t *testing.T) {
	t.Run("stores nonce on session and embeds it in the URL", func(t *testing.T) {
		p := newFakeProvider(t)
		flow := newTestFlow(p)
		sess := session.New(time.Now())

		authURL, err := flow.BeginLogin(context.Background(), sess)
		require.NoError(t, err)
		require.NotEmpty(t, sess.OIDCNonce)

		parsed, err := url.Parse(authURL)
		require.NoError(t, err)
		assert.Equal(t, "/authorize", parsed.Path)
		q := parsed.Query()
		assert.Equal(t, sess.OIDCNonce, q.Get("nonce"))
		assert.Equal(t, sess.OIDCNonce, q.Get("state"))
		assert.Equal(t, "client-1", q.Get("client_id"))
		assert.Equal(t, "openid email", q.Get("scope"))
		assert.Equal(t, "login", q.Get("prompt"))
		assert.Equal(t, "http://localhost:8080/oidc/callback", q.Get("redirect_uri"))
	})

	t.Run("fresh nonce per login attempt", func(t *testing.T) {
		p := newFakeProvider(t)
		flow := newTestFlow(p)
		sess := session.New(time.Now())

		_, err := flow.BeginLogin(context.Background(), sess)
		require.NoError(t, err)
		first := sess.OIDCNonce
		_, err = flow.BeginLogin(context.Background(), sess)
		require.NoError(t, err)
		assert.NotEqual(t, first, sess.OIDCNonce)
	})

	t.Run("refuses an authenticated session", func(t *testing.T) {
		p := newFakeProvider(t)
		flow := newTestFlow(p)
		sess := session.New(time.Now())
		sess.Identity = &session.Identity{SubjectID: "user-1"}

		_, err := flow.BeginLogin(context.Background(), sess)
		require.Error(t, err)
		assert.True(t, dErrors.Is(err, dErrors.CodeAlreadyAuthenticated))
	})
}

func TestFlow_CompleteCallback(t *testing.T) {
	begin := func(t *testing.T, flow *Flow, p *fakeProvider) *session.State {
		t.Helper()
		sess := session.New(time.Now())
		_, err := flow.BeginLogin(context.Background(), sess)
		require.NoError(t, err)
		p.nonce = sess.OIDCNonce
		return sess
	}

	t.Run("establishes identity from verified token and userinfo", func(t *testing.T) {
		p := newFakeProvider(t)
		flow := newTestFlow(p)
		sess := begin(t, flow, p)

		err := flow.CompleteCallback(context.Background(), sess, url.Values{
			"code":  {"auth-code"},
			"state": {p.nonce},
		})
		require.NoError(t, err)
		require.True(t, sess.Authenticated())
		assert.Equal(t, "user-1", sess.Identity.SubjectID)
		assert.Equal(t, "Joe Doe", sess.Identity.FullName)
		assert.Equal(t, "003x000001", sess.Identity.ContactID)
		assert.True(t, sess.Identity.Active)
		assert.Empty(t, sess.OIDCNonce, "nonce is consumed by the callback")
	})

	t.Run("contact key falls back to custom attribute bag", func(t *testing.T) {
		p := newFakeProvider(t)
		delete(p.userinfoClaims, "contact_id")
		p.userinfoClaims["custom_attributes"] = map[string]any{"contact_id": "003x000099"}
		flow := newTestFlow(p)
		sess := begin(t, flow, p)

		err := flow.CompleteCallback(context.Background(), sess, url.Values{"code": {"auth-code"}})
		require.NoError(t, err)
		assert.Equal(t, "003x000099", sess.Identity.ContactID)
	})

	t.Run("callback without pending nonce fails before any network call", func(t *testing.T) {
		p := newFakeProvider(t)
		flow := newTestFlow(p)
		sess := session.New(time.Now())

		err := flow.CompleteCallback(context.Background(), sess, url.Values{"code": {"auth-code"}})
		require.Error(t, err)
		assert.True(t, dErrors.Is(err, dErrors.CodeMissingNonce))
		assert.Equal(t, int32(0), p.discoveryCalls.Load())
	})

	t.Run("duplicate callback is rejected", func(t *testing.T) {
		p := newFakeProvider(t)
		flow := newTestFlow(p)
		sess := begin(t, flow, p)
		params := url.Values{"code": {"auth-code"}, "state": {p.nonce}}

		require.NoError(t, flow.CompleteCallback(context.Background(), sess, params))
		err := flow.CompleteCallback(context.Background(), sess, params)
		require.Error(t, err)
		assert.True(t, dErrors.Is(err, dErrors.CodeMissingNonce))
	})

	t.Run("provider error parameter fails validation", func(t *testing.T) {
		p := newFakeProvider(t)
		flow := newTestFlow(p)
		sess := begin(t, flow, p)

		err := flow.CompleteCallback(context.Background(), sess, url.Values{
			"error":             {"access_denied"},
			"error_description": {"end-user denied the request"},
		})
		require.Error(t, err)
		assert.True(t, dErrors.Is(err, dErrors.CodeCallbackValidation))
		assert.Contains(t, err.Error(), "access_denied")
	})

	t.Run("missing code fails validation", func(t *testing.T) {
		p := newFakeProvider(t)
		flow := newTestFlow(p)
		sess := begin(t, flow, p)

		err := flow.CompleteCallback(context.Background(), sess, url.Values{})
		require.Error(t, err)
		assert.True(t, dErrors.Is(err, dErrors.CodeCallbackValidation))
	})

	t.Run("nonce mismatch in the ID token fails validation", func(t *testing.T) {
		p := newFakeProvider(t)
		flow := newTestFlow(p)
		sess := begin(t, flow, p)
		p.nonce = "some-other-nonce"

		err := flow.CompleteCallback(context.Background(), sess, url.Values{"code": {"auth-code"}})
		require.Error(t, err)
		assert.True(t, dErrors.Is(err, dErrors.CodeCallbackValidation))
		assert.Contains(t, err.Error(), "nonce mismatch")
	})
}

func TestDiscoveryCache(t *testing.T) {
	t.Run("discovery happens once across concurrent callers", func(t *testing.T) {
		p := newFakeProvider(t)
		cache := NewDiscoveryCache(p.srv.URL, http.DefaultClient)

		done := make(chan error, 8)
		for i := 0; i < 8; i++ {
			go func() {
				_, err := cache.Provider(context.Background())
				done <- err
			}()
		}
		for i := 0; i < 8; i++ {
			require.NoError(t, <-done)
		}
		assert.Equal(t, int32(1), p.discoveryCalls.Load())
	})

	t.Run("failed discovery is retried on the next call", func(t *testing.T) {
		var fail atomic.Bool
		fail.Store(true)
		var calls atomic.Int32
		var issuer string
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			calls.Add(1)
			if fail.Load() {
				w.WriteHeader(http.StatusInternalServerError)
				return
			}
			writeJSON(w, map[string]any{
				"issuer":                 issuer,
				"authorization_endpoint": issuer + "/authorize",
				"token_endpoint":         issuer + "/token",
				"jwks_uri":               issuer + "/jwks",
			})
		}))
		defer srv.Close()
		issuer = srv.URL

		cache := NewDiscoveryCache(srv.URL, http.DefaultClient)
		_, err := cache.Provider(context.Background())
		require.Error(t, err)
		assert.True(t, dErrors.Is(err, dErrors.CodeUpstreamUnavailable))

		fail.Store(false)
		_, err = cache.Provider(context.Background())
		require.NoError(t, err)
		assert.Equal(t, int32(2), calls.Load())

		endpoint, err := cache.TokenEndpoint(context.Background())
		require.NoError(t, err)
		assert.Equal(t, srv.URL+"/token", endpoint)
		assert.Equal(t, int32(2), calls.Load(), "cached after success")
	})
}
