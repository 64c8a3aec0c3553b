// Package storage provides data storage interfaces and implementations for
// the fiscal gateway.
//
// # Interface Design
//
// The storage layer is organized into focused interfaces:
//
//   - [TenantStore]: registered companies and their gateway settings
//   - [CertificateStore]: digital certificate selection per tenant
//   - [DocumentStore]: fiscal documents, item lines, payables, emitters
//   - [SyncStateStore]: the per-tenant distribution cursor
//   - [AuditStore]: sync-run audit log entries
//   - [BlobStore]: raw decompressed document bodies
//
// The [Store] interface combines all sub-stores for convenience.
//
// # Implementations
//
// The mongodb sub-package provides a production MongoDB implementation with
// GridFS blob storage. The memory sub-package provides an in-memory backend
// for tests.
//
// # Concurrency
//
// All store implementations must be safe for concurrent use from multiple
// goroutines.
package storage

import (
	"context"
	"errors"
	"sort"
	"time"

	"github.com/shopspring/decimal"
)

// ErrNotFound indicates the requested record does not exist.
var ErrNotFound = errors.New("record not found")

// Store is the main storage interface combining all sub-stores
type Store interface {
	TenantStore
	CertificateStore
	DocumentStore
	SyncStateStore
	AuditStore
	BlobStore

	// Close releases storage resources
	Close(ctx context.Context) error

	// Ping checks database connectivity
	Ping(ctx context.Context) error
}

// TenantStore manages tenant data
type TenantStore interface {
	// GetTenant retrieves a tenant by ID; ErrNotFound when absent.
	GetTenant(ctx context.Context, id string) (*Tenant, error)
}

// CertificateStore manages digital certificate data
type CertificateStore interface {
	// ActiveCertificate returns the tenant's selected certificate: the
	// most recently created active certificate whose validity covers now.
	// ErrNotFound when no usable certificate exists.
	ActiveCertificate(ctx context.Context, tenantID string, now time.Time) (*Certificate, error)
}

// DocumentStore manages fiscal document data
type DocumentStore interface {
	// DocumentExists reports whether (tenant, access key) is already stored.
	DocumentExists(ctx context.Context, tenantID, accessKey string) (bool, error)

	// GetDocument retrieves a document by ID; ErrNotFound when absent.
	GetDocument(ctx context.Context, tenantID, id string) (*Document, error)

	// GetDocumentByKey retrieves a document by access key; ErrNotFound when absent.
	GetDocumentByKey(ctx context.Context, tenantID, accessKey string) (*Document, error)

	// InsertDocument stores a new document record.
	InsertDocument(ctx context.Context, doc *Document) error

	// UpdateDocument updates an existing document record.
	UpdateDocument(ctx context.Context, doc *Document) error

	// SetManifestStatus updates a document's manifestation status.
	SetManifestStatus(ctx context.Context, tenantID, documentID, status string) error

	// ReplaceItems atomically replaces a document's item lines.
	ReplaceItems(ctx context.Context, tenantID, documentID string, items []DocumentItem) error

	// ReplacePayables atomically replaces a document's payable entries.
	ReplacePayables(ctx context.Context, tenantID, documentID string, entries []PayableEntry) error

	// UpsertEmitter inserts or finds the emitter registry entry for
	// (tenant, tax ID) and returns its ID.
	UpsertEmitter(ctx context.Context, emitter *Emitter) (string, error)
}

// SyncStateStore manages the per-tenant distribution cursor
type SyncStateStore interface {
	// GetSyncState returns the tenant's cursor row, or (nil, nil) when the
	// tenant has never synchronized.
	GetSyncState(ctx context.Context, tenantID string) (*SyncState, error)

	// SaveSyncState inserts or replaces the tenant's cursor row.
	SaveSyncState(ctx context.Context, state *SyncState) error
}

// AuditStore appends sync-run audit entries. Audit writes are best-effort;
// callers log failures but never fail the run on them.
type AuditStore interface {
	AppendSyncLog(ctx context.Context, entry *SyncRunLog) error
}

// BlobStore stores raw decompressed document bodies
type BlobStore interface {
	// StoreRawDocument stores data keyed by (tenant, access key),
	// overwriting any previous body, and returns the storage path.
	StoreRawDocument(ctx context.Context, tenantID, accessKey string, data []byte) (string, error)
}

// Domain models

// Tenant is a registered company holding a digital certificate
type Tenant struct {
	ID        string    `bson:"_id" json:"id"`
	Name      string    `bson:"name" json:"name"`
	TaxID     string    `bson:"tax_id" json:"taxId"`
	UF        string    `bson:"uf" json:"uf"`
	Active    bool      `bson:"sefaz_active" json:"sefazActive"`
	CreatedAt time.Time `bson:"created_at" json:"createdAt"`
	UpdatedAt time.Time `bson:"updated_at" json:"updatedAt"`
}

// Certificate is one PEM certificate/key pair uploaded for a tenant.
// Multiple rows may exist historically; selection picks the newest active,
// unexpired one.
type Certificate struct {
	ID        string    `bson:"_id" json:"id"`
	TenantID  string    `bson:"tenant_id" json:"tenantId"`
	CertPEM   string    `bson:"cert_pem" json:"-"`
	KeyPEM    string    `bson:"key_pem" json:"-"`
	NotAfter  time.Time `bson:"not_after" json:"notAfter"`
	Active    bool      `bson:"active" json:"active"`
	FileName  string    `bson:"file_name,omitempty" json:"fileName,omitempty"`
	CreatedAt time.Time `bson:"created_at" json:"createdAt"`
}

// Usable reports whether the certificate can be selected at the given time.
func (c *Certificate) Usable(now time.Time) bool {
	if !c.Active || c.CertPEM == "" || c.KeyPEM == "" {
		return false
	}
	return c.NotAfter.IsZero() || c.NotAfter.After(now)
}

// SelectCertificate applies the selection rule to a set of certificate rows:
// most recently created first, active only, expired rejected. Returns nil
// when none is usable. Both backends share this rule.
func SelectCertificate(certs []*Certificate, now time.Time) *Certificate {
	var usable []*Certificate
	for _, c := range certs {
		if c.Usable(now) {
			usable = append(usable, c)
		}
	}
	if len(usable) == 0 {
		return nil
	}
	sort.Slice(usable, func(i, j int) bool {
		return usable[i].CreatedAt.After(usable[j].CreatedAt)
	})
	return usable[0]
}

// Document kinds as persisted
const (
	DocumentKindSummary = "summary"
	DocumentKindFull    = "full"
)

// ManifestStatusPending is the initial manifestation status of every
// ingested document; the other values are the four manifestation kinds.
const ManifestStatusPending = "pending"

// Document is one fiscal document addressed to a tenant. At most one record
// exists per (tenant, access key).
type Document struct {
	ID           string          `bson:"_id" json:"id"`
	TenantID     string          `bson:"tenant_id" json:"tenantId"`
	AccessKey    string          `bson:"access_key" json:"accessKey"`
	Kind         string          `bson:"kind" json:"kind"`
	EmitterID    string          `bson:"emitter_id,omitempty" json:"emitterId,omitempty"`
	EmitterTaxID string          `bson:"emitter_tax_id,omitempty" json:"emitterTaxId,omitempty"`
	EmitterName  string          `bson:"emitter_name,omitempty" json:"emitterName,omitempty"`
	IssuedAt     string          `bson:"issued_at,omitempty" json:"issuedAt,omitempty"`
	Number       string          `bson:"number,omitempty" json:"number,omitempty"`
	Series       string          `bson:"series,omitempty" json:"series,omitempty"`
	Total        decimal.Decimal `bson:"-" json:"total"`
	ManifestStat string          `bson:"manifest_status" json:"manifestStatus"`
	NSU          string          `bson:"nsu" json:"nsu"`
	BlobPath     string          `bson:"blob_path,omitempty" json:"blobPath,omitempty"`
	Processed    bool            `bson:"processed" json:"processed"`
	CreatedAt    time.Time       `bson:"created_at" json:"createdAt"`
	UpdatedAt    time.Time       `bson:"updated_at" json:"updatedAt"`

	// TotalRaw mirrors Total for persistence; decimals are stored as
	// strings to avoid binary-float loss.
	TotalRaw string `bson:"total" json:"-"`
}

// DocumentItem is one item line of a full document
type DocumentItem struct {
	ID          string          `bson:"_id" json:"id"`
	TenantID    string          `bson:"tenant_id" json:"tenantId"`
	DocumentID  string          `bson:"document_id" json:"documentId"`
	Description string          `bson:"description" json:"description"`
	NCM         string          `bson:"ncm,omitempty" json:"ncm,omitempty"`
	CFOP        string          `bson:"cfop,omitempty" json:"cfop,omitempty"`
	Quantity    decimal.Decimal `bson:"-" json:"quantity"`
	UnitValue   decimal.Decimal `bson:"-" json:"unitValue"`
	Total       decimal.Decimal `bson:"-" json:"total"`

	QuantityRaw  string `bson:"quantity" json:"-"`
	UnitValueRaw string `bson:"unit_value" json:"-"`
	TotalRaw     string `bson:"total" json:"-"`
}

// PayableEntry is one downstream payable generated from a document's
// installments; a document without installments gets a single entry
// covering the total.
type PayableEntry struct {
	ID         string          `bson:"_id" json:"id"`
	TenantID   string          `bson:"tenant_id" json:"tenantId"`
	DocumentID string          `bson:"document_id" json:"documentId"`
	Number     string          `bson:"number" json:"number"`
	DueDate    string          `bson:"due_date,omitempty" json:"dueDate,omitempty"`
	Value      decimal.Decimal `bson:"-" json:"value"`

	ValueRaw string `bson:"value" json:"-"`
}

// Emitter is a per-tenant registry entry for a document emitter
type Emitter struct {
	ID       string `bson:"_id" json:"id"`
	TenantID string `bson:"tenant_id" json:"tenantId"`
	TaxID    string `bson:"tax_id" json:"taxId"`
	Name     string `bson:"name" json:"name"`
	Active   bool   `bson:"active" json:"active"`
}

// SyncState is the per-tenant cursor row. The cursor is owned exclusively
// by the sync engine: read at loop start, persisted once after the loop.
type SyncState struct {
	TenantID       string    `bson:"_id" json:"tenantId"`
	LastNSU        string    `bson:"last_nsu" json:"lastNsu"`
	LastRunAt      time.Time `bson:"last_run_at" json:"lastRunAt"`
	LastStatus     string    `bson:"last_status,omitempty" json:"lastStatus,omitempty"`
	LastError      string    `bson:"last_error,omitempty" json:"lastError,omitempty"`
	TotalDocuments int64     `bson:"total_documents" json:"totalDocuments"`
	UpdatedAt      time.Time `bson:"updated_at" json:"updatedAt"`
}

// SyncRunLog is one sync-run audit entry
type SyncRunLog struct {
	ID          string    `bson:"_id" json:"id"`
	TenantID    string    `bson:"tenant_id" json:"tenantId"`
	Environment string    `bson:"environment" json:"environment"`
	StartNSU    string    `bson:"start_nsu" json:"startNsu"`
	EndNSU      string    `bson:"end_nsu" json:"endNsu"`
	MaxNSU      string    `bson:"max_nsu,omitempty" json:"maxNsu,omitempty"`
	Loops       int       `bson:"loops" json:"loops"`
	Found       int       `bson:"found" json:"found"`
	New         int       `bson:"new" json:"new"`
	Outcome     string    `bson:"outcome" json:"outcome"`
	Message     string    `bson:"message,omitempty" json:"message,omitempty"`
	Errors      []string  `bson:"errors,omitempty" json:"errors,omitempty"`
	CreatedAt   time.Time `bson:"created_at" json:"createdAt"`
}
