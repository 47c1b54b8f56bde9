// Package session defines the per-user session record and its stores. A
// session is owned by exactly one user; it is created on a successful OIDC
// callback and destroyed on logout, decline, or staleness-triggered
// revocation.
package session

import (
	"time"

	"github.com/lekkimworld/salesforce-consent-demo-herokuapp/internal/consent"
)

// Identity holds the claims established at the OIDC callback. It is
// immutable after creation.
type Identity struct {
	SubjectID  string `json:"subject_id"`
	FullName   string `json:"full_name"`
	GivenName  string `json:"given_name"`
	FamilyName string `json:"family_name"`
	Active     bool   `json:"active"`
	PhotoURL   string `json:"photo_url"`
	// ContactID is the system-of-record key used for consent lookups.
	ContactID string `json:"contact_id"`
	// RawClaims is the opaque claim bag from userinfo, passed through.
	RawClaims map[string]any `json:"raw_claims,omitempty"`
}

// State is the serialized session record.
type State struct {
	Identity *Identity      `json:"identity,omitempty"`
	Consent  *consent.State `json:"consent,omitempty"`
	// OIDCNonce is transient: present only between authorization-URL
	// issuance and callback validation, cleared on consumption.
	OIDCNonce string    `json:"oidc_nonce,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// New returns an anonymous session.
func New(now time.Time) *State {
	return &State{CreatedAt: now}
}

// Authenticated reports whether the session holds an identity.
func (s *State) Authenticated() bool {
	return s != nil && s.Identity != nil
}

// ConsumeNonce returns the pending nonce and clears it. The nonce is single
// use: a second consumption reports absence.
func (s *State) ConsumeNonce() (string, bool) {
	if s == nil || s.OIDCNonce == "" {
		return "", false
	}
	nonce := s.OIDCNonce
	s.OIDCNonce = ""
	return nonce, true
}
