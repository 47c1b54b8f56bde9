package httptransport

import (
	"net/http"

	"github.com/lekkimworld/salesforce-consent-demo-herokuapp/pkg/platform/httputil"
)

// handleHome is the protected landing resource. Reaching it means the gate
// was satisfied.
func (h *Handler) handleHome(w http.ResponseWriter, r *http.Request) {
	sc := getSession(r.Context())

	user := map[string]any{
		"subject_id":  sc.State.Identity.SubjectID,
		"full_name":   sc.State.Identity.FullName,
		"given_name":  sc.State.Identity.GivenName,
		"family_name": sc.State.Identity.FamilyName,
		"photo_url":   sc.State.Identity.PhotoURL,
	}
	consentValues := map[string]string{}
	if sc.State.Consent != nil {
		for purpose, value := range sc.State.Consent.Values {
			consentValues[string(purpose)] = string(value)
		}
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]any{
		"user":    user,
		"consent": consentValues,
	})
}

// handleHealth reports process and backing store health.
func (h *Handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	if h.health != nil {
		if err := h.health.Health(r.Context()); err != nil {
			httputil.WriteJSON(w, http.StatusServiceUnavailable, map[string]string{
				"status": "DEGRADED",
			})
			return
		}
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]string{"status": "OK"})
}
