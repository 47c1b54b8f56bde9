package httptransport

import (
	"net/http"

	"github.com/lekkimworld/salesforce-consent-demo-herokuapp/internal/platform/middleware"
)

// handleLogin starts the authorization-code dance and redirects to the
// provider. Logged-in users get an error rather than a second login.
func (h *Handler) handleLogin(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	sc := getSession(ctx)

	authURL, err := h.flow.BeginLogin(ctx, sc.State)
	if err != nil {
		h.logger.WarnContext(ctx, "login refused",
			"error", err.Error(),
			"request_id", middleware.GetRequestID(ctx),
		)
		h.writer.WriteError(w, err)
		return
	}
	if !h.saveSession(ctx, w, sc) {
		return
	}
	http.Redirect(w, r, authURL, http.StatusFound)
}

// handleCallback completes the dance. The flow consumes the nonce before any
// network call, so the session is saved on failure too: a replayed callback
// must find the nonce gone.
func (h *Handler) handleCallback(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	sc := getSession(ctx)

	err := h.flow.CompleteCallback(ctx, sc.State, r.URL.Query())
	if !h.saveSession(ctx, w, sc) {
		return
	}
	if err != nil {
		h.logger.WarnContext(ctx, "callback failed",
			"error", err.Error(),
			"request_id", middleware.GetRequestID(ctx),
		)
		h.writer.WriteError(w, err)
		return
	}
	http.Redirect(w, r, "/", http.StatusFound)
}

// handleLogout destroys the session unconditionally. Logging out an
// anonymous session is not an error.
func (h *Handler) handleLogout(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	h.destroySession(ctx, w, getSession(ctx))
	http.Redirect(w, r, "/", http.StatusFound)
}
