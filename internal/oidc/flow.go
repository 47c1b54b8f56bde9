package oidc

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	goidc "github.com/coreos/go-oidc/v3/oidc"
	"golang.org/x/oauth2"

	"github.com/lekkimworld/salesforce-consent-demo-herokuapp/internal/platform/config"
	"github.com/lekkimworld/salesforce-consent-demo-herokuapp/internal/platform/metrics"
	"github.com/lekkimworld/salesforce-consent-demo-herokuapp/internal/session"
	dErrors "github.com/lekkimworld/salesforce-consent-demo-herokuapp/pkg/domain-errors"
)

// Flow orchestrates the authorization-code dance for a session:
// Anonymous -> PendingCallback (nonce held on the session) -> Authenticated.
type Flow struct {
	discovery *DiscoveryCache
	cfg       config.OIDCConfig
	http      *http.Client
	logger    *slog.Logger
	metrics   *metrics.Metrics
}

// NewFlow builds a Flow on top of the shared discovery cache.
func NewFlow(discovery *DiscoveryCache, cfg config.OIDCConfig, httpClient *http.Client, logger *slog.Logger, m *metrics.Metrics) *Flow {
	return &Flow{
		discovery: discovery,
		cfg:       cfg,
		http:      httpClient,
		logger:    logger,
		metrics:   m,
	}
}

func (f *Flow) oauthConfig(p *goidc.Provider) *oauth2.Config {
	return &oauth2.Config{
		ClientID:     f.cfg.ClientID,
		ClientSecret: f.cfg.ClientSecret,
		RedirectURL:  f.cfg.RedirectURI,
		Endpoint:     p.Endpoint(),
		Scopes:       strings.Fields(f.cfg.Scopes),
	}
}

// BeginLogin generates a nonce, stores it on the session, and returns the
// provider authorization URL to redirect to. It refuses sessions that are
// already authenticated.
func (f *Flow) BeginLogin(ctx context.Context, sess *session.State) (string, error) {
	if sess.Authenticated() {
		return "", dErrors.New(dErrors.CodeAlreadyAuthenticated, "user is already logged in")
	}

	p, err := f.discovery.Provider(ctx)
	if err != nil {
		return "", err
	}

	nonce, err := newNonce()
	if err != nil {
		return "", dErrors.Wrap(dErrors.CodeInternal, "generate nonce", err)
	}
	sess.OIDCNonce = nonce

	opts := []oauth2.AuthCodeOption{goidc.Nonce(nonce)}
	if f.cfg.Prompt != "" {
		opts = append(opts, oauth2.SetAuthURLParam("prompt", f.cfg.Prompt))
	}
	// The nonce doubles as the state parameter: both correlate this request
	// with its callback, and the session already holds the server-side copy.
	authURL := f.oauthConfig(p).AuthCodeURL(nonce, opts...)
	f.logger.DebugContext(ctx, "issued authorization URL", "url", authURL)
	return authURL, nil
}

// CompleteCallback validates the provider callback and establishes the
// session identity. The pending nonce is consumed on entry, before any
// network call, so a duplicate callback can never validate twice.
func (f *Flow) CompleteCallback(ctx context.Context, sess *session.State, params url.Values) error {
	nonce, ok := sess.ConsumeNonce()
	if !ok {
		return dErrors.New(dErrors.CodeMissingNonce, "no nonce found")
	}

	if e := params.Get("error"); e != "" {
		return dErrors.Newf(dErrors.CodeCallbackValidation, "provider returned error: %s: %s", e, params.Get("error_description"))
	}
	code := params.Get("code")
	if code == "" {
		return dErrors.New(dErrors.CodeCallbackValidation, "callback missing authorization code")
	}
	if state := params.Get("state"); state != "" && state != nonce {
		return dErrors.New(dErrors.CodeCallbackValidation, "state mismatch")
	}

	p, err := f.discovery.Provider(ctx)
	if err != nil {
		return err
	}
	cctx := goidc.ClientContext(ctx, f.http)

	tok, err := f.oauthConfig(p).Exchange(cctx, code)
	if err != nil {
		return dErrors.Wrap(dErrors.CodeCallbackValidation, fmt.Sprintf("unable to perform callback (%v)", err), err)
	}

	rawIDToken, ok := tok.Extra("id_token").(string)
	if !ok || rawIDToken == "" {
		return dErrors.New(dErrors.CodeCallbackValidation, "token response missing id_token")
	}
	idToken, err := p.Verifier(&goidc.Config{ClientID: f.cfg.ClientID}).Verify(cctx, rawIDToken)
	if err != nil {
		return dErrors.Wrap(dErrors.CodeCallbackValidation, "ID token verification failed", err)
	}
	if idToken.Nonce != nonce {
		return dErrors.New(dErrors.CodeCallbackValidation, "nonce mismatch")
	}

	userInfo, err := p.UserInfo(cctx, oauth2.StaticTokenSource(tok))
	if err != nil {
		return dErrors.Wrap(dErrors.CodeCallbackValidation, "userinfo fetch failed", err)
	}
	var claims map[string]any
	if err := userInfo.Claims(&claims); err != nil {
		return dErrors.Wrap(dErrors.CodeCallbackValidation, "decode userinfo claims", err)
	}

	sess.Identity = buildIdentity(userInfo.Subject, claims, f.cfg.ContactIDClaim)
	f.metrics.LoginsCompleted.Inc()
	f.logger.InfoContext(ctx, "completed OIDC callback", "subject", userInfo.Subject)
	return nil
}

func buildIdentity(subject string, claims map[string]any, contactIDClaim string) *session.Identity {
	active, _ := claims["active"].(bool)
	return &session.Identity{
		SubjectID:  subject,
		FullName:   stringClaim(claims, "name"),
		GivenName:  stringClaim(claims, "given_name"),
		FamilyName: stringClaim(claims, "family_name"),
		Active:     active,
		PhotoURL:   stringClaim(claims, "picture"),
		ContactID:  contactID(claims, contactIDClaim),
		RawClaims:  claims,
	}
}

func stringClaim(claims map[string]any, key string) string {
	v, _ := claims[key].(string)
	return v
}

// contactID reads the configured claim, falling back to the provider's
// custom attribute bag where Salesforce surfaces custom claims.
func contactID(claims map[string]any, claim string) string {
	if v := stringClaim(claims, claim); v != "" {
		return v
	}
	if custom, ok := claims["custom_attributes"].(map[string]any); ok {
		if v, ok := custom[claim].(string); ok {
			return v
		}
	}
	return ""
}

func newNonce() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}
