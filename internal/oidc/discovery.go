// Package oidc implements the relying-party side of the login flow: provider
// discovery, authorization-URL issuance, and callback validation.
package oidc

import (
	"context"
	"net/http"
	"sync/atomic"

	goidc "github.com/coreos/go-oidc/v3/oidc"
	"golang.org/x/sync/singleflight"

	dErrors "github.com/lekkimworld/salesforce-consent-demo-herokuapp/pkg/domain-errors"
)

// DiscoveryCache fetches the provider's endpoint metadata at most once per
// process. Concurrent first callers share a single in-flight discovery via
// singleflight; the result is immutable provider configuration, cached for
// the process lifetime.
type DiscoveryCache struct {
	issuer string
	http   *http.Client

	group  singleflight.Group
	cached atomic.Pointer[goidc.Provider]
}

// NewDiscoveryCache builds a DiscoveryCache for the given issuer URL.
func NewDiscoveryCache(issuer string, httpClient *http.Client) *DiscoveryCache {
	return &DiscoveryCache{issuer: issuer, http: httpClient}
}

// Provider returns the discovered provider, performing discovery on first
// call. A failed discovery is not cached; the next caller retries.
func (d *DiscoveryCache) Provider(ctx context.Context) (*goidc.Provider, error) {
	if p := d.cached.Load(); p != nil {
		return p, nil
	}
	v, err, _ := d.group.Do("discovery", func() (any, error) {
		if p := d.cached.Load(); p != nil {
			return p, nil
		}
		// Discovery output is shared state; don't abandon it because one
		// request was cancelled. The HTTP client timeout bounds the call.
		dctx := goidc.ClientContext(context.WithoutCancel(ctx), d.http)
		p, err := goidc.NewProvider(dctx, d.issuer)
		if err != nil {
			return nil, dErrors.Wrap(dErrors.CodeUpstreamUnavailable, "OIDC discovery failed", err)
		}
		d.cached.Store(p)
		return p, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*goidc.Provider), nil
}

// TokenEndpoint returns the provider's token endpoint, discovering metadata
// if needed. Used by the service token cache for the assertion exchange.
func (d *DiscoveryCache) TokenEndpoint(ctx context.Context) (string, error) {
	p, err := d.Provider(ctx)
	if err != nil {
		return "", err
	}
	return p.Endpoint().TokenURL, nil
}
