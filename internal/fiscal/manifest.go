package fiscal

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/gabrielcasa-surfclim/sentinel-sefaz-proxy/internal/storage"
	"github.com/gabrielcasa-surfclim/sentinel-sefaz-proxy/pkg/message"
	"github.com/gabrielcasa-surfclim/sentinel-sefaz-proxy/pkg/sefaz"
)

// minJustificationLength applies to the not-performed manifestation kind,
// counted after trimming surrounding whitespace.
const minJustificationLength = 15

// ManifestRequest asks for one manifestation event. The target document is
// named by access key or by stored document ID; exactly one is required.
type ManifestRequest struct {
	TenantID      string            `json:"tenantId"`
	DocumentID    string            `json:"documentId,omitempty"`
	AccessKey     string            `json:"accessKey,omitempty"`
	Type          message.EventType `json:"type"`
	Justification string            `json:"justification,omitempty"`
}

// ManifestResult reports a registered manifestation.
type ManifestResult struct {
	AccessKey    string `json:"accessKey"`
	EventCode    string `json:"eventCode"`
	StatusCode   string `json:"statusCode"`
	Reason       string `json:"reason"`
	Protocol     string `json:"protocol,omitempty"`
	RegisteredAt string `json:"registeredAt,omitempty"`
}

// Manifest signs and submits one manifestation event. On registration the
// target document's manifestation status is updated; authority rejections
// come back as [sefaz.ProtocolError] with the reason translated for the
// well-known rejection codes.
func (s *Service) Manifest(ctx context.Context, req *ManifestRequest) (*ManifestResult, error) {
	if !req.Type.Valid() {
		return nil, &ValidationError{Field: "type", Message: fmt.Sprintf("unknown manifestation kind %q", req.Type)}
	}
	if req.Type == message.EventNotPerformed &&
		len(strings.TrimSpace(req.Justification)) < minJustificationLength {
		return nil, &ValidationError{
			Field:   "justification",
			Message: fmt.Sprintf("the not-performed kind requires a justification of at least %d characters", minJustificationLength),
		}
	}

	tc, err := s.resolveTenant(ctx, req.TenantID)
	if err != nil {
		return nil, err
	}

	accessKey, document, err := s.resolveTarget(ctx, req)
	if err != nil {
		return nil, err
	}

	event := &message.Event{
		Type:          req.Type,
		AccessKey:     accessKey,
		TaxID:         tc.tenant.TaxID,
		TpAmb:         s.client.Environment().TpAmb(),
		Justification: strings.TrimSpace(req.Justification),
		When:          time.Now(),
	}
	if req.Type != message.EventNotPerformed {
		event.Justification = ""
	}

	signed, err := s.signer.SignFragment(message.BuildEventFragment(event), tc.creds.CertPEM, tc.creds.KeyPEM)
	if err != nil {
		return nil, fmt.Errorf("signing event for key %s: %w", accessKey, err)
	}

	result, err := s.client.SubmitEvent(ctx, tc.creds, signed)
	if err != nil {
		return nil, err
	}

	if len(result.Events) == 0 {
		return nil, &sefaz.ProtocolError{
			Code:   result.BatchStatusCode,
			Reason: fmt.Sprintf("event batch rejected: %s", result.BatchReason),
		}
	}

	ack := result.Events[0]
	if !sefaz.EventRegistered(ack.StatusCode) {
		return nil, &sefaz.ProtocolError{Code: ack.StatusCode, Reason: translateRejection(ack)}
	}

	if document != nil {
		if err := s.store.SetManifestStatus(ctx, tc.tenant.ID, document.ID, string(req.Type)); err != nil {
			s.logger.Error("updating manifestation status failed",
				"tenant_id", tc.tenant.ID,
				"document_id", document.ID,
				"error", err)
		}
	}

	s.logger.Info("manifestation registered",
		"tenant_id", tc.tenant.ID,
		"access_key", accessKey,
		"event_code", req.Type.Code(),
		"status", ack.StatusCode,
		"protocol", ack.Protocol)

	return &ManifestResult{
		AccessKey:    accessKey,
		EventCode:    req.Type.Code(),
		StatusCode:   ack.StatusCode,
		Reason:       ack.Reason,
		Protocol:     ack.Protocol,
		RegisteredAt: ack.RegisteredAt,
	}, nil
}

// resolveTarget finds the access key to manifest against and, when the
// document is stored, the record whose status should be updated.
func (s *Service) resolveTarget(ctx context.Context, req *ManifestRequest) (string, *storage.Document, error) {
	if req.AccessKey != "" {
		if !validAccessKey(req.AccessKey) {
			return "", nil, &ValidationError{Field: "accessKey", Message: "must be exactly 44 digits"}
		}
		doc, err := s.store.GetDocumentByKey(ctx, req.TenantID, req.AccessKey)
		if err != nil && !errors.Is(err, storage.ErrNotFound) {
			return "", nil, fmt.Errorf("loading document by key: %w", err)
		}
		return req.AccessKey, doc, nil
	}

	if req.DocumentID == "" {
		return "", nil, &ValidationError{Field: "accessKey", Message: "either accessKey or documentId is required"}
	}

	doc, err := s.store.GetDocument(ctx, req.TenantID, req.DocumentID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return "", nil, err
		}
		return "", nil, fmt.Errorf("loading document %s: %w", req.DocumentID, err)
	}
	if !validAccessKey(doc.AccessKey) {
		return "", nil, &ValidationError{Field: "documentId", Message: "stored document has no valid access key"}
	}
	return doc.AccessKey, doc, nil
}

// translateRejection maps well-known event rejection codes to actionable
// messages; anything else keeps the authority's own reason text.
func translateRejection(ack message.EventAck) string {
	switch ack.StatusCode {
	case sefaz.StatusEventDuplicate:
		return "a manifestation of this kind is already registered for the document"
	case sefaz.StatusDocumentUnknown:
		return "the authority does not recognize this access key"
	case sefaz.StatusRateLimited:
		return "the authority blocked further requests; retry after the cooldown"
	default:
		return ack.Reason
	}
}
