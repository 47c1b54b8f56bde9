package httptransport

import (
	"context"
	"errors"
	"net/http"

	"github.com/google/uuid"

	"github.com/lekkimworld/salesforce-consent-demo-herokuapp/internal/platform/middleware"
	"github.com/lekkimworld/salesforce-consent-demo-herokuapp/internal/session"
	"github.com/lekkimworld/salesforce-consent-demo-herokuapp/pkg/platform/sentinel"
)

type contextKeySession struct{}

// sessionContext carries the loaded session through the request.
type sessionContext struct {
	ID    string
	State *session.State
}

func getSession(ctx context.Context) *sessionContext {
	sc, _ := ctx.Value(contextKeySession{}).(*sessionContext)
	return sc
}

// withSession loads the session identified by the cookie, creating a fresh
// anonymous session (and cookie) when none exists. The session is saved by
// handlers, not here: only requests that mutate state pay the write.
func (h *Handler) withSession(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()

		sc := &sessionContext{}
		if cookie, err := r.Cookie(h.cfg.HTTP.SessionCookieName); err == nil && cookie.Value != "" {
			state, err := h.store.Find(ctx, cookie.Value)
			switch {
			case err == nil:
				sc.ID = cookie.Value
				sc.State = state
			case errors.Is(err, sentinel.ErrNotFound):
				// expired or bogus cookie, fall through to a new session
			default:
				h.logger.ErrorContext(ctx, "session lookup failed",
					"error", err.Error(),
					"request_id", middleware.GetRequestID(ctx),
				)
				h.writer.WriteError(w, err)
				return
			}
		}
		if sc.State == nil {
			sc.ID = uuid.NewString()
			sc.State = session.New(h.now())
			h.issueCookie(w, sc.ID)
		}

		ctx = context.WithValue(ctx, contextKeySession{}, sc)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (h *Handler) saveSession(ctx context.Context, w http.ResponseWriter, sc *sessionContext) bool {
	if err := h.store.Save(ctx, sc.ID, sc.State); err != nil {
		h.logger.ErrorContext(ctx, "session save failed",
			"error", err.Error(),
			"request_id", middleware.GetRequestID(ctx),
		)
		h.writer.WriteError(w, err)
		return false
	}
	return true
}

func (h *Handler) destroySession(ctx context.Context, w http.ResponseWriter, sc *sessionContext) {
	if err := h.store.Delete(ctx, sc.ID); err != nil {
		h.logger.ErrorContext(ctx, "session delete failed",
			"error", err.Error(),
			"request_id", middleware.GetRequestID(ctx),
		)
	}
	sc.State = session.New(h.now())
	h.clearCookie(w)
}

func (h *Handler) issueCookie(w http.ResponseWriter, id string) {
	http.SetCookie(w, &http.Cookie{
		Name:     h.cfg.HTTP.SessionCookieName,
		Value:    id,
		Path:     "/",
		HttpOnly: true,
		Secure:   h.cfg.HTTP.SecureCookies,
		SameSite: http.SameSiteLaxMode,
		MaxAge:   int(h.cfg.HTTP.SessionTTL.Seconds()),
	})
}

func (h *Handler) clearCookie(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     h.cfg.HTTP.SessionCookieName,
		Value:    "",
		Path:     "/",
		HttpOnly: true,
		Secure:   h.cfg.HTTP.SecureCookies,
		SameSite: http.SameSiteLaxMode,
		MaxAge:   -1,
	})
}
