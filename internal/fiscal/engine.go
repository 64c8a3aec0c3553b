package fiscal

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/gabrielcasa-surfclim/sentinel-sefaz-proxy/internal/storage"
	"github.com/gabrielcasa-surfclim/sentinel-sefaz-proxy/pkg/message"
	"github.com/gabrielcasa-surfclim/sentinel-sefaz-proxy/pkg/sefaz"
	"github.com/gabrielcasa-surfclim/sentinel-sefaz-proxy/pkg/transport"
)

// Sync run outcomes as recorded in the cursor row and the audit log.
// Transport and protocol failures are kept apart so the audit trail shows
// whether the authority rejected the run or was never reached.
const (
	OutcomeCompleted      = "completed"
	OutcomeNoDocuments    = "no-documents"
	OutcomeRateLimited    = "rate-limited"
	OutcomeMaxLoops       = "max-loops"
	OutcomeTransportError = "transport-error"
	OutcomeProtocolError  = "protocol-error"
	OutcomeFailed         = "failed"
)

// SyncReport summarizes one sync run.
type SyncReport struct {
	TenantID string `json:"tenantId"`
	StartNSU string `json:"startNsu"`
	EndNSU   string `json:"endNsu"`
	MaxNSU   string `json:"maxNsu,omitempty"`

	Loops int `json:"loops"`
	Found int `json:"found"`
	New   int `json:"new"`

	Outcome string   `json:"outcome"`
	Message string   `json:"message,omitempty"`
	Errors  []string `json:"errors,omitempty"`

	// Shared marks a report served from a concurrent run for the same
	// tenant instead of a run of its own.
	Shared bool `json:"shared,omitempty"`
}

// Sync drains the tenant's distribution queue from its stored cursor.
// maxLoops is the caller's budget for this run; zero or negative means the
// configured default. Concurrent calls for the same tenant share a single
// run (the joiner inherits the initiator's budget). The cursor is read once
// at the start and persisted once after the loop; a failed run still
// persists whatever progress it made, since ingested documents are never
// rolled back.
func (s *Service) Sync(ctx context.Context, tenantID string, maxLoops int) (*SyncReport, error) {
	var ran bool
	result, err, _ := s.syncGroup.Do(tenantID, func() (interface{}, error) {
		ran = true
		return s.runSync(ctx, tenantID, maxLoops)
	})
	if err != nil {
		return nil, err
	}
	report := result.(*SyncReport)
	if !ran {
		copied := *report
		copied.Shared = true
		return &copied, nil
	}
	return report, nil
}

func (s *Service) runSync(ctx context.Context, tenantID string, maxLoops int) (*SyncReport, error) {
	tc, err := s.resolveTenant(ctx, tenantID)
	if err != nil {
		return nil, err
	}

	state, err := s.store.GetSyncState(ctx, tenantID)
	if err != nil {
		return nil, fmt.Errorf("loading sync state for tenant %s: %w", tenantID, err)
	}
	if state == nil {
		state = &storage.SyncState{TenantID: tenantID, LastNSU: message.PadNSU("0")}
	}

	cursor := message.PadNSU(state.LastNSU)
	report := &SyncReport{
		TenantID: tenantID,
		StartNSU: cursor,
		Outcome:  OutcomeMaxLoops,
	}

	s.logger.Info("sync run starting",
		"tenant_id", tenantID,
		"uf_code", tc.ufCode,
		"last_nsu", cursor)

	if maxLoops <= 0 {
		maxLoops = s.opts.maxLoops()
	}

	var runErr error

loop:
	for report.Loops < maxLoops {
		report.Loops++

		batch, err := s.client.QueryByCursor(ctx, tc.creds, tc.ufCode, tc.tenant.TaxID, cursor)
		if err != nil {
			report.Outcome = failureOutcome(err)
			report.Message = err.Error()
			runErr = err
			break
		}

		switch batch.StatusCode {
		case sefaz.StatusNoDocuments:
			report.Outcome = OutcomeNoDocuments
			report.Message = batch.Reason
			if s.opts.AdvanceOnEmpty && batch.LastNSU != "" {
				cursor = message.PadNSU(batch.LastNSU)
			}
			break loop

		case sefaz.StatusRateLimited:
			report.Outcome = OutcomeRateLimited
			report.Message = batch.Reason
			s.logger.Warn("authority rate limit reached",
				"tenant_id", tenantID,
				"last_nsu", cursor)
			break loop

		case sefaz.StatusDocumentsFound:
			found, ingested := s.ingestBatch(ctx, tc, batch, report)
			report.Found += found
			report.New += ingested

			next := message.PadNSU(batch.LastNSU)
			if batch.LastNSU == "" || next <= cursor {
				// The echoed cursor did not move; stop rather than
				// re-query the same range forever.
				report.Outcome = OutcomeCompleted
				break loop
			}
			cursor = next
			report.MaxNSU = message.PadNSU(batch.MaxNSU)
			if batch.MaxNSU == "" || cursor >= report.MaxNSU {
				report.Outcome = OutcomeCompleted
				break loop
			}

		default:
			perr := &sefaz.ProtocolError{Code: batch.StatusCode, Reason: batch.Reason}
			report.Outcome = OutcomeProtocolError
			report.Message = perr.Error()
			runErr = perr
			break loop
		}
	}

	report.EndNSU = cursor

	state.LastNSU = cursor
	state.LastRunAt = time.Now().UTC()
	state.LastStatus = report.Outcome
	state.LastError = ""
	if runErr != nil {
		state.LastError = runErr.Error()
	}
	state.TotalDocuments += int64(report.New)
	if err := s.store.SaveSyncState(ctx, state); err != nil {
		s.logger.Error("persisting sync cursor failed",
			"tenant_id", tenantID,
			"last_nsu", cursor,
			"error", err)
		if runErr == nil {
			runErr = fmt.Errorf("persisting sync state for tenant %s: %w", tenantID, err)
		}
	}

	s.appendRunLog(ctx, tc, report)

	s.logger.Info("sync run finished",
		"tenant_id", tenantID,
		"outcome", report.Outcome,
		"loops", report.Loops,
		"found", report.Found,
		"new", report.New,
		"end_nsu", report.EndNSU)

	if runErr != nil {
		return nil, runErr
	}
	return report, nil
}

// ingestBatch stores every fiscal document of the batch, skipping event
// notifications and already-known access keys. A single bad document is
// recorded and skipped, never aborting the batch.
func (s *Service) ingestBatch(ctx context.Context, tc *tenantContext, batch *message.BatchResult, report *SyncReport) (found, ingested int) {
	for _, perr := range batch.Errors {
		report.Errors = append(report.Errors, perr.Error())
	}

	for i := range batch.Documents {
		doc := &batch.Documents[i]
		if doc.Kind == message.KindEventSummary || doc.Kind == message.KindUnknown {
			continue
		}
		if doc.AccessKey == "" {
			report.Errors = append(report.Errors, fmt.Sprintf("nsu %s: payload has no access key", doc.NSU))
			continue
		}
		found++

		exists, err := s.store.DocumentExists(ctx, tc.tenant.ID, doc.AccessKey)
		if err != nil {
			report.Errors = append(report.Errors, fmt.Sprintf("key %s: %v", doc.AccessKey, err))
			continue
		}
		if exists {
			continue
		}

		if err := s.ingestDocument(ctx, tc, doc); err != nil {
			report.Errors = append(report.Errors, fmt.Sprintf("key %s: %v", doc.AccessKey, err))
			s.logger.Warn("document ingestion failed",
				"tenant_id", tc.tenant.ID,
				"access_key", doc.AccessKey,
				"error", err)
			continue
		}
		ingested++
	}
	return found, ingested
}

func (s *Service) ingestDocument(ctx context.Context, tc *tenantContext, doc *message.Document) error {
	record := &storage.Document{
		TenantID:     tc.tenant.ID,
		AccessKey:    doc.AccessKey,
		Kind:         storage.DocumentKindSummary,
		EmitterTaxID: doc.EmitterTaxID,
		EmitterName:  doc.EmitterName,
		IssuedAt:     doc.IssuedAt,
		Number:       doc.Number,
		Series:       doc.Series,
		Total:        doc.Total,
		ManifestStat: storage.ManifestStatusPending,
		NSU:          message.PadNSU(doc.NSU),
	}
	if doc.Kind == message.KindFull {
		record.Kind = storage.DocumentKindFull
		record.Processed = true
	}

	if doc.EmitterTaxID != "" {
		emitterID, err := s.store.UpsertEmitter(ctx, &storage.Emitter{
			TenantID: tc.tenant.ID,
			TaxID:    doc.EmitterTaxID,
			Name:     doc.EmitterName,
		})
		if err != nil {
			return fmt.Errorf("registering emitter: %w", err)
		}
		record.EmitterID = emitterID
	}

	if len(doc.Raw) > 0 {
		path, err := s.store.StoreRawDocument(ctx, tc.tenant.ID, doc.AccessKey, doc.Raw)
		if err != nil {
			return fmt.Errorf("storing raw body: %w", err)
		}
		record.BlobPath = path
	}

	if err := s.store.InsertDocument(ctx, record); err != nil {
		return fmt.Errorf("inserting document: %w", err)
	}

	if doc.Kind != message.KindFull {
		return nil
	}

	items := make([]storage.DocumentItem, 0, len(doc.Items))
	for _, it := range doc.Items {
		items = append(items, storage.DocumentItem{
			Description: it.Description,
			NCM:         it.NCM,
			CFOP:        it.CFOP,
			Quantity:    it.Quantity,
			UnitValue:   it.UnitValue,
			Total:       it.Total,
		})
	}
	if len(items) > 0 {
		if err := s.store.ReplaceItems(ctx, tc.tenant.ID, record.ID, items); err != nil {
			return fmt.Errorf("storing item lines: %w", err)
		}
	}

	if err := s.store.ReplacePayables(ctx, tc.tenant.ID, record.ID, buildPayables(doc)); err != nil {
		return fmt.Errorf("storing payables: %w", err)
	}
	return nil
}

// buildPayables maps installments to payable entries. A full document
// without installments still produces one entry covering the whole total.
func buildPayables(doc *message.Document) []storage.PayableEntry {
	if len(doc.Installments) == 0 {
		return []storage.PayableEntry{{
			Number:  "1",
			DueDate: doc.IssuedAt,
			Value:   doc.Total,
		}}
	}
	entries := make([]storage.PayableEntry, 0, len(doc.Installments))
	for _, inst := range doc.Installments {
		entries = append(entries, storage.PayableEntry{
			Number:  inst.Number,
			DueDate: inst.DueDate,
			Value:   inst.Value,
		})
	}
	return entries
}

// failureOutcome distinguishes an unreachable authority from an explicit
// authority rejection in the audit trail.
func failureOutcome(err error) string {
	var terr *transport.Error
	var perr *sefaz.ProtocolError
	switch {
	case errors.As(err, &terr):
		return OutcomeTransportError
	case errors.As(err, &perr):
		return OutcomeProtocolError
	default:
		return OutcomeFailed
	}
}

// appendRunLog writes the audit entry. Audit failures are logged and
// swallowed; they never fail the run.
func (s *Service) appendRunLog(ctx context.Context, tc *tenantContext, report *SyncReport) {
	entry := &storage.SyncRunLog{
		TenantID:    tc.tenant.ID,
		Environment: string(s.client.Environment()),
		StartNSU:    report.StartNSU,
		EndNSU:      report.EndNSU,
		MaxNSU:      report.MaxNSU,
		Loops:       report.Loops,
		Found:       report.Found,
		New:         report.New,
		Outcome:     report.Outcome,
		Message:     report.Message,
		Errors:      report.Errors,
	}
	if err := s.store.AppendSyncLog(ctx, entry); err != nil {
		s.logger.Error("appending sync audit entry failed",
			"tenant_id", tc.tenant.ID,
			"error", err)
	}
}
