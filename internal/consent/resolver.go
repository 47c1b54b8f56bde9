package consent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"sort"
	"time"

	"github.com/lekkimworld/salesforce-consent-demo-herokuapp/internal/platform/metrics"
	"github.com/lekkimworld/salesforce-consent-demo-herokuapp/internal/salesforce"
	dErrors "github.com/lekkimworld/salesforce-consent-demo-herokuapp/pkg/domain-errors"
)

// DataService is the slice of the data service client the resolver needs.
type DataService interface {
	Get(ctx context.Context, path string, query url.Values) ([]byte, error)
	Patch(ctx context.Context, path string, body any) error
}

// Resolver reads and writes consent records in the system of record.
// Resolution is idempotent and side-effect free; writes go through Submit.
type Resolver struct {
	data     DataService
	purposes []Purpose
	logger   *slog.Logger
	metrics  *metrics.Metrics
	now      func() time.Time
}

// NewResolver builds a Resolver for the configured purpose set.
func NewResolver(data DataService, purposes []Purpose, logger *slog.Logger, m *metrics.Metrics) *Resolver {
	return &Resolver{
		data:     data,
		purposes: purposes,
		logger:   logger,
		metrics:  m,
		now:      time.Now,
	}
}

type queryRecords[T any] struct {
	TotalSize int `json:"totalSize"`
	Records   []T `json:"records"`
}

type contactRecord struct {
	IndividualID string `json:"IndividualId"`
}

type consentRecord struct {
	ID             string `json:"Id"`
	Name           string `json:"Name"`
	DataUsePurpose struct {
		Name string `json:"Name"`
	} `json:"DataUsePurpose"`
	PrivacyConsentStatus string `json:"PrivacyConsentStatus"`
}

// Resolve fetches the current consent state for the contact. The lookup is
// two-step: resolve the party (individual) key from the contact, then query
// consent records scoped to that party. A purpose with no matching record
// resolves to ValueUnknown, never to a default decision.
func (r *Resolver) Resolve(ctx context.Context, contactID string) (State, error) {
	start := r.now()
	st, err := r.resolve(ctx, contactID)
	r.metrics.ConsentResolveDuration.Observe(float64(time.Since(start).Microseconds()) / 1000.0)
	if err != nil {
		if dErrors.Is(err, dErrors.CodeConsentLookup) {
			r.metrics.ConsentResolves.WithLabelValues("lookup_error").Inc()
		} else {
			r.metrics.ConsentResolves.WithLabelValues("upstream_error").Inc()
		}
		return State{}, err
	}
	r.metrics.ConsentResolves.WithLabelValues("success").Inc()
	return st, nil
}

func (r *Resolver) resolve(ctx context.Context, contactID string) (State, error) {
	if contactID == "" {
		return State{}, dErrors.New(dErrors.CodeConsentLookup, "identity has no contact key")
	}

	individualID, err := r.lookupIndividual(ctx, contactID)
	if err != nil {
		return State{}, err
	}

	q := fmt.Sprintf(
		"SELECT Id, Name, DataUsePurpose.Name, PrivacyConsentStatus FROM ContactPointTypeConsent WHERE PartyId='%s'",
		individualID,
	)
	body, err := r.data.Get(ctx, "/query", url.Values{"q": {q}})
	if err != nil {
		return State{}, translateAPIError(err, "consent record query failed")
	}

	var result queryRecords[consentRecord]
	if err := json.Unmarshal(body, &result); err != nil {
		return State{}, dErrors.Wrap(dErrors.CodeConsentLookup, "malformed consent query response", err)
	}

	values := make(map[Purpose]Value, len(r.purposes))
	for _, purpose := range r.purposes {
		values[purpose] = scanRecords(result.Records, purpose)
	}
	r.logger.DebugContext(ctx, "resolved consent state",
		"contact_id", contactID,
		"individual_id", individualID,
		"records", len(result.Records),
	)
	return State{Values: values, LastRefreshedAt: r.now()}, nil
}

func (r *Resolver) lookupIndividual(ctx context.Context, contactID string) (string, error) {
	q := fmt.Sprintf("SELECT IndividualId FROM Contact WHERE Id='%s' LIMIT 1", contactID)
	body, err := r.data.Get(ctx, "/query", url.Values{"q": {q}})
	if err != nil {
		return "", translateAPIError(err, "contact lookup failed")
	}

	var result queryRecords[contactRecord]
	if err := json.Unmarshal(body, &result); err != nil {
		return "", dErrors.Wrap(dErrors.CodeConsentLookup, "malformed contact query response", err)
	}
	if len(result.Records) == 0 || result.Records[0].IndividualID == "" {
		return "", dErrors.Newf(dErrors.CodeConsentLookup, "no individual found for contact %s", contactID)
	}
	return result.Records[0].IndividualID, nil
}

// scanRecords returns the decision of the first record matching the purpose;
// absence of a matching record yields ValueUnknown.
func scanRecords(records []consentRecord, purpose Purpose) Value {
	for _, rec := range records {
		if rec.DataUsePurpose.Name == string(purpose) {
			if rec.PrivacyConsentStatus == string(ValueOptIn) {
				return ValueOptIn
			}
			return ValueOptOut
		}
	}
	return ValueUnknown
}

type consentWrite struct {
	IDs                 string `json:"ids"`
	CaptureContactPoint string `json:"captureContactPoint"`
	CaptureSource       string `json:"captureSource"`
	PurposeName         string `json:"purposeName"`
	Status              string `json:"status"`
	EffectiveFrom       string `json:"effectiveFrom"`
	EffectiveTo         string `json:"effectiveTo"`
	ConsentName         string `json:"consentName"`
}

const (
	captureContactPoint = "Web"
	captureSource       = "My Fitness Tracker Web App"
	consentValidity     = 10 * 365 * 24 * time.Hour
)

// Submit writes one consent decision per purpose to the system of record and
// then re-resolves to confirm the writes landed. LastRefreshedAt on the
// returned state comes only from the confirming read.
func (r *Resolver) Submit(ctx context.Context, contactID string, decisions map[Purpose]bool) (State, error) {
	if contactID == "" {
		return State{}, dErrors.New(dErrors.CodeConsentLookup, "identity has no contact key")
	}

	purposes := make([]Purpose, 0, len(decisions))
	for p := range decisions {
		purposes = append(purposes, p)
	}
	sort.Slice(purposes, func(i, j int) bool { return purposes[i] < purposes[j] })

	now := r.now()
	for _, purpose := range purposes {
		status := ValueOptOut
		if decisions[purpose] {
			status = ValueOptIn
		}
		write := consentWrite{
			IDs:                 contactID,
			CaptureContactPoint: captureContactPoint,
			CaptureSource:       captureSource,
			PurposeName:         string(purpose),
			Status:              string(status),
			EffectiveFrom:       now.UTC().Format(time.RFC3339),
			EffectiveTo:         now.Add(consentValidity).UTC().Format(time.RFC3339),
			ConsentName:         fmt.Sprintf("%s, %s", purpose, contactID),
		}
		if err := r.data.Patch(ctx, "/consent/action/web", write); err != nil {
			return State{}, translateAPIError(err, fmt.Sprintf("consent write failed for purpose %q", purpose))
		}
		r.logger.InfoContext(ctx, "wrote consent decision",
			"contact_id", contactID,
			"purpose", string(purpose),
			"status", string(status),
		)
	}

	return r.Resolve(ctx, contactID)
}

// translateAPIError maps data service application errors to consent lookup
// failures; transport and auth failures pass through unmodified.
func translateAPIError(err error, msg string) error {
	var apiErr *salesforce.APIError
	if errors.As(err, &apiErr) {
		return dErrors.Wrap(dErrors.CodeConsentLookup, msg, err)
	}
	return err
}
