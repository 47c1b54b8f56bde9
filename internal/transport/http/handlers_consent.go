package httptransport

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/lekkimworld/salesforce-consent-demo-herokuapp/internal/consent"
	"github.com/lekkimworld/salesforce-consent-demo-herokuapp/internal/platform/middleware"
	"github.com/lekkimworld/salesforce-consent-demo-herokuapp/pkg/platform/httputil"
	dErrors "github.com/lekkimworld/salesforce-consent-demo-herokuapp/pkg/domain-errors"
)

// handleConsentShow returns the user's current consent choices.
func (h *Handler) handleConsentShow(w http.ResponseWriter, r *http.Request) {
	sc := getSession(r.Context())

	values := map[string]string{}
	if sc.State.Consent != nil {
		for _, purpose := range consent.Purposes(h.cfg.Consent.RequiredChoicePurposes) {
			values[string(purpose)] = string(sc.State.Consent.Get(purpose))
		}
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]any{"purposes": values})
}

// handleConsentAccept records the user's choices. Positional path segments
// map onto the configured choice purposes in order; accepting also opts in
// to every mandatory purpose.
func (h *Handler) handleConsentAccept(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	_ = getSession(ctx)

	order, errOrder := strconv.ParseBool(chi.URLParam(r, "order"))
	newsletter, errNewsletter := strconv.ParseBool(chi.URLParam(r, "newsletter"))
	if errOrder != nil || errNewsletter != nil {
		h.writer.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "invalid format for consent accept"))
		return
	}
	choices := []bool{order, newsletter}

	choicePurposes := consent.Purposes(h.cfg.Consent.RequiredChoicePurposes)
	if len(choicePurposes) != len(choices) {
		h.writer.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "consent choice count does not match configured purposes"))
		return
	}

	decisions := make(map[consent.Purpose]bool, len(choicePurposes)+len(h.cfg.Consent.MandatoryPurposes))
	for i, purpose := range choicePurposes {
		decisions[purpose] = choices[i]
	}
	for _, purpose := range consent.Purposes(h.cfg.Consent.MandatoryPurposes) {
		decisions[purpose] = true
	}

	h.submitAndRedirect(w, r, decisions)
}

// handleConsentDecline opts out of everything, including the mandatory
// purposes; the gate tears the session down on the next request.
func (h *Handler) handleConsentDecline(w http.ResponseWriter, r *http.Request) {
	decisions := make(map[consent.Purpose]bool)
	for _, purpose := range consent.Purposes(h.cfg.Consent.RequiredChoicePurposes) {
		decisions[purpose] = false
	}
	for _, purpose := range consent.Purposes(h.cfg.Consent.MandatoryPurposes) {
		decisions[purpose] = false
	}

	h.submitAndRedirect(w, r, decisions)
}

func (h *Handler) submitAndRedirect(w http.ResponseWriter, r *http.Request, decisions map[consent.Purpose]bool) {
	ctx := r.Context()
	sc := getSession(ctx)

	state, err := h.consent.Submit(ctx, sc.State.Identity.ContactID, decisions)
	if err != nil {
		h.logger.ErrorContext(ctx, "consent submission failed",
			"error", err.Error(),
			"request_id", middleware.GetRequestID(ctx),
		)
		h.writer.WriteError(w, err)
		return
	}
	sc.State.Consent = &state
	if !h.saveSession(ctx, w, sc) {
		return
	}
	http.Redirect(w, r, "/", http.StatusFound)
}
