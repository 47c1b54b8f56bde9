package httptransport

import (
	"context"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/lekkimworld/salesforce-consent-demo-herokuapp/internal/consent"
	"github.com/lekkimworld/salesforce-consent-demo-herokuapp/internal/gate"
	"github.com/lekkimworld/salesforce-consent-demo-herokuapp/internal/platform/config"
	"github.com/lekkimworld/salesforce-consent-demo-herokuapp/internal/platform/middleware"
	"github.com/lekkimworld/salesforce-consent-demo-herokuapp/internal/session"
	"github.com/lekkimworld/salesforce-consent-demo-herokuapp/pkg/platform/httputil"
)

// OIDCFlow is the login orchestration seam.
type OIDCFlow interface {
	BeginLogin(ctx context.Context, sess *session.State) (string, error)
	CompleteCallback(ctx context.Context, sess *session.State, params url.Values) error
}

// ConsentService reads and writes consent state in the system of record.
type ConsentService interface {
	Resolve(ctx context.Context, contactID string) (consent.State, error)
	Submit(ctx context.Context, contactID string, decisions map[consent.Purpose]bool) (consent.State, error)
}

// Gatekeeper evaluates the per-request gate decision.
type Gatekeeper interface {
	Decide(ctx context.Context, sess *session.State, path string, now time.Time) gate.Decision
}

// HealthChecker reports backing store health.
type HealthChecker interface {
	Health(ctx context.Context) error
}

// Handler is the HTTP layer. It delegates to the flow, the gate, and the
// consent service; no policy lives here.
type Handler struct {
	cfg     config.Config
	store   session.Store
	flow    OIDCFlow
	consent ConsentService
	gate    Gatekeeper
	health  HealthChecker
	writer  *httputil.Writer
	logger  *slog.Logger
	now     func() time.Time
}

// NewHandler wires the HTTP layer.
func NewHandler(
	cfg config.Config,
	store session.Store,
	flow OIDCFlow,
	consentSvc ConsentService,
	gk Gatekeeper,
	health HealthChecker,
	logger *slog.Logger,
) *Handler {
	return &Handler{
		cfg:     cfg,
		store:   store,
		flow:    flow,
		consent: consentSvc,
		gate:    gk,
		health:  health,
		writer:  httputil.NewWriter(nil),
		logger:  logger,
		now:     time.Now,
	}
}

// Router wires all routes. Everything except health and metrics runs with a
// session; everything except the OIDC entry points runs behind the gate.
func (h *Handler) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recovery(h.logger))
	r.Use(middleware.Logger(h.logger))

	r.Get("/health", h.handleHealth)
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())

	r.Group(func(r chi.Router) {
		r.Use(h.withSession)
		r.Get("/oidc/login", h.handleLogin)
		r.Get("/oidc/callback", h.handleCallback)
		r.Get("/oidc/logout", h.handleLogout)

		r.Group(func(r chi.Router) {
			r.Use(h.withGate)
			r.Get("/", h.handleHome)
			r.Get("/consent", h.handleConsentShow)
			r.Get("/consent/accept/{order}/{newsletter}", h.handleConsentAccept)
			r.Get("/consent/declineall", h.handleConsentDecline)
		})
	})

	return r
}

// withGate runs the gate decision for the request and translates it into a
// transport action.
func (h *Handler) withGate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		sc := getSession(ctx)

		decision := h.gate.Decide(ctx, sc.State, r.URL.Path, h.now())
		switch decision.Action {
		case gate.ActionAllow:
			// The gate may have refreshed consent in place; persist before
			// letting the request through.
			if !h.saveSession(ctx, w, sc) {
				return
			}
			next.ServeHTTP(w, r)

		case gate.ActionRedirectLogin:
			// Persist the nonce the flow just parked on the session.
			if !h.saveSession(ctx, w, sc) {
				return
			}
			http.Redirect(w, r, decision.RedirectURL, http.StatusFound)

		case gate.ActionRenderConsent:
			if !h.saveSession(ctx, w, sc) {
				return
			}
			httputil.WriteJSON(w, http.StatusOK, map[string]any{
				"view": decision.View,
				"data": decision.ViewData,
			})

		case gate.ActionRevoke:
			h.destroySession(ctx, w, sc)
			http.Redirect(w, r, "/", http.StatusFound)

		default:
			h.writer.WriteError(w, decision.Err)
		}
	})
}
