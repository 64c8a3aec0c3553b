package fiscal

import (
	"context"

	"github.com/gabrielcasa-surfclim/sentinel-sefaz-proxy/pkg/message"
	"github.com/gabrielcasa-surfclim/sentinel-sefaz-proxy/pkg/sefaz"
)

// rawExcerptLimit bounds the XML excerpt returned by lookups so responses
// stay small; the full body is available through the blob store once the
// document is ingested.
const rawExcerptLimit = 4096

// LookupResult reports a single-key distribution query.
type LookupResult struct {
	AccessKey  string `json:"accessKey"`
	StatusCode string `json:"statusCode"`
	Reason     string `json:"reason"`
	Found      bool   `json:"found"`

	Kind         string `json:"kind,omitempty"`
	EmitterTaxID string `json:"emitterTaxId,omitempty"`
	EmitterName  string `json:"emitterName,omitempty"`
	IssuedAt     string `json:"issuedAt,omitempty"`
	Number       string `json:"number,omitempty"`
	Series       string `json:"series,omitempty"`
	Total        string `json:"total,omitempty"`

	RawExcerpt string `json:"rawExcerpt,omitempty"`
}

// LookupKey queries the authority for a single document by access key. The
// lookup is read-only: nothing is ingested, the caller just sees what the
// authority holds for the key.
func (s *Service) LookupKey(ctx context.Context, tenantID, accessKey string) (*LookupResult, error) {
	if !validAccessKey(accessKey) {
		return nil, &ValidationError{Field: "accessKey", Message: "must be exactly 44 digits"}
	}

	tc, err := s.resolveTenant(ctx, tenantID)
	if err != nil {
		return nil, err
	}

	batch, err := s.client.QueryByKey(ctx, tc.creds, tc.ufCode, tc.tenant.TaxID, accessKey)
	if err != nil {
		return nil, err
	}

	result := &LookupResult{
		AccessKey:  accessKey,
		StatusCode: batch.StatusCode,
		Reason:     batch.Reason,
	}

	if batch.StatusCode != sefaz.StatusDocumentsFound || len(batch.Documents) == 0 {
		return result, nil
	}

	doc := pickLookupDocument(batch.Documents, accessKey)
	if doc == nil {
		return result, nil
	}

	result.Found = true
	result.Kind = string(doc.Kind)
	result.EmitterTaxID = doc.EmitterTaxID
	result.EmitterName = doc.EmitterName
	result.IssuedAt = doc.IssuedAt
	result.Number = doc.Number
	result.Series = doc.Series
	if !doc.Total.IsZero() {
		result.Total = doc.Total.String()
	}
	if len(doc.Raw) > 0 {
		excerpt := doc.Raw
		if len(excerpt) > rawExcerptLimit {
			excerpt = excerpt[:rawExcerptLimit]
		}
		result.RawExcerpt = string(excerpt)
	}
	return result, nil
}

// pickLookupDocument prefers the payload matching the queried key; event
// notifications only count when nothing better is present.
func pickLookupDocument(docs []message.Document, accessKey string) *message.Document {
	var fallback *message.Document
	for i := range docs {
		doc := &docs[i]
		if doc.Kind == message.KindUnknown {
			continue
		}
		if doc.AccessKey == accessKey && doc.Kind != message.KindEventSummary {
			return doc
		}
		if fallback == nil {
			fallback = doc
		}
	}
	return fallback
}
