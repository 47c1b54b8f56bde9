// Package gate decides, for every inbound request, whether to let it
// through, start a login, demand a consent decision, or tear the session
// down. It is the single enforcement point for the consent policy.
package gate

import (
	"context"
	"log/slog"
	"time"

	"github.com/lekkimworld/salesforce-consent-demo-herokuapp/internal/consent"
	"github.com/lekkimworld/salesforce-consent-demo-herokuapp/internal/platform/metrics"
	"github.com/lekkimworld/salesforce-consent-demo-herokuapp/internal/session"
)

// Action is the kind of decision the gate makes.
type Action string

const (
	// ActionAllow lets the request through.
	ActionAllow Action = "allow"
	// ActionRedirectLogin sends the browser to the provider authorization URL.
	ActionRedirectLogin Action = "redirect_login"
	// ActionRenderConsent renders the consent-choice view.
	ActionRenderConsent Action = "render_consent"
	// ActionRevoke destroys the session and restarts from the landing page.
	ActionRevoke Action = "revoke"
	// ActionFail denies the request with an error. A failed consent check is
	// never an implicit allow.
	ActionFail Action = "fail"
)

// Decision is the outcome of evaluating one request.
type Decision struct {
	Action      Action
	RedirectURL string
	View        string
	ViewData    map[string]any
	Err         error
}

// Resolver is the consent lookup seam.
type Resolver interface {
	Resolve(ctx context.Context, contactID string) (consent.State, error)
}

// LoginStarter issues an authorization URL and stores the nonce on the
// session.
type LoginStarter interface {
	BeginLogin(ctx context.Context, sess *session.State) (string, error)
}

// Config is the gate policy. Everything here is deployment configuration:
// which purposes are mandatory, which require an explicit choice, how stale
// a cached consent snapshot may grow, and which paths bypass the gate.
type Config struct {
	ForceReloadInterval    time.Duration
	MandatoryPurposes      []consent.Purpose
	RequiredChoicePurposes []consent.Purpose
	// PromptOnUnknown: when true an Unknown value forces the consent view;
	// when false Unknown on a mandatory purpose is treated as a decline.
	PromptOnUnknown bool

	// AnonymousExemptPaths are reachable without a session (login entry,
	// callback entry, health).
	AnonymousExemptPaths []string
	// ConsentDecisionPrefixes are reachable with identity but without
	// settled consent (the accept/decline endpoints themselves).
	ConsentDecisionPrefixes []string
}

// Gate evaluates requests against the consent policy.
type Gate struct {
	cfg      Config
	resolver Resolver
	flow     LoginStarter
	logger   *slog.Logger
	metrics  *metrics.Metrics
}

// New builds a Gate.
func New(cfg Config, resolver Resolver, flow LoginStarter, logger *slog.Logger, m *metrics.Metrics) *Gate {
	return &Gate{
		cfg:      cfg,
		resolver: resolver,
		flow:     flow,
		logger:   logger,
		metrics:  m,
	}
}

// Decide evaluates one request. It may refresh sess.Consent in place; the
// caller is responsible for persisting the session afterwards.
func (g *Gate) Decide(ctx context.Context, sess *session.State, path string, now time.Time) Decision {
	d := g.decide(ctx, sess, path, now)
	g.metrics.GateDecisions.WithLabelValues(string(d.Action)).Inc()
	return d
}

func (g *Gate) decide(ctx context.Context, sess *session.State, path string, now time.Time) Decision {
	if !sess.Authenticated() {
		if g.anonymousExempt(path) {
			return Decision{Action: ActionAllow}
		}
		authURL, err := g.flow.BeginLogin(ctx, sess)
		if err != nil {
			return Decision{Action: ActionFail, Err: err}
		}
		return Decision{Action: ActionRedirectLogin, RedirectURL: authURL}
	}

	if g.consentDecisionPath(path) {
		return Decision{Action: ActionAllow}
	}

	if sess.Consent == nil || sess.Consent.StaleAfter(g.cfg.ForceReloadInterval, now) {
		state, err := g.resolver.Resolve(ctx, sess.Identity.ContactID)
		if err != nil {
			// Deny on unresolved consent. Granting access here would let an
			// upstream outage bypass the terms gate.
			g.logger.WarnContext(ctx, "consent refresh failed, denying request",
				"path", path,
				"error", err.Error(),
			)
			return Decision{Action: ActionFail, Err: err}
		}
		sess.Consent = &state
	}

	if g.cfg.PromptOnUnknown {
		if unknowns := g.unknownPurposes(sess.Consent); len(unknowns) > 0 {
			return Decision{
				Action:   ActionRenderConsent,
				View:     "consent",
				ViewData: consentViewData(sess.Consent, g.cfg.RequiredChoicePurposes),
			}
		}
	}

	for _, purpose := range g.cfg.MandatoryPurposes {
		v := sess.Consent.Get(purpose)
		if v == consent.ValueOptIn {
			continue
		}
		// Explicit decline, or Unknown while the policy says not to prompt:
		// the mandatory gate is not satisfied.
		g.logger.InfoContext(ctx, "mandatory consent not granted, revoking session",
			"purpose", string(purpose),
			"value", string(v),
		)
		return Decision{Action: ActionRevoke}
	}

	return Decision{Action: ActionAllow}
}

// unknownPurposes lists purposes that still need an explicit user choice.
func (g *Gate) unknownPurposes(state *consent.State) []consent.Purpose {
	var unknowns []consent.Purpose
	for _, purpose := range g.cfg.MandatoryPurposes {
		if !state.Get(purpose).Known() {
			unknowns = append(unknowns, purpose)
		}
	}
	for _, purpose := range g.cfg.RequiredChoicePurposes {
		if !state.Get(purpose).Known() {
			unknowns = append(unknowns, purpose)
		}
	}
	return unknowns
}

func consentViewData(state *consent.State, choices []consent.Purpose) map[string]any {
	values := make(map[string]string, len(choices))
	for _, purpose := range choices {
		values[string(purpose)] = string(state.Get(purpose))
	}
	return map[string]any{"purposes": values}
}

func (g *Gate) anonymousExempt(path string) bool {
	for _, p := range g.cfg.AnonymousExemptPaths {
		if path == p {
			return true
		}
	}
	return false
}

func (g *Gate) consentDecisionPath(path string) bool {
	for _, prefix := range g.cfg.ConsentDecisionPrefixes {
		if path == prefix || (len(path) > len(prefix) && path[:len(prefix)+1] == prefix+"/") {
			return true
		}
	}
	return false
}
