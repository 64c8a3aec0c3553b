// Package fiscal orchestrates the gateway's three operations: cursor-based
// document synchronization, manifestation event submission, and single-key
// document lookups. It glues the protocol client, the XML signer and the
// storage layer together per tenant.
package fiscal

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/gabrielcasa-surfclim/sentinel-sefaz-proxy/internal/storage"
	"github.com/gabrielcasa-surfclim/sentinel-sefaz-proxy/pkg/message"
	"github.com/gabrielcasa-surfclim/sentinel-sefaz-proxy/pkg/security"
	"github.com/gabrielcasa-surfclim/sentinel-sefaz-proxy/pkg/sefaz"
)

// protocolClient is the slice of the authority client the service uses.
// Tests substitute a fake.
type protocolClient interface {
	Environment() sefaz.Environment
	QueryByCursor(ctx context.Context, creds sefaz.Credentials, ufCode, cnpj, lastNSU string) (*message.BatchResult, error)
	QueryByKey(ctx context.Context, creds sefaz.Credentials, ufCode, cnpj, accessKey string) (*message.BatchResult, error)
	SubmitEvent(ctx context.Context, creds sefaz.Credentials, signedEvent []byte) (*message.EventResult, error)
}

// SyncOptions tunes the sync engine.
type SyncOptions struct {
	// MaxLoops caps the number of distribution queries in one run when
	// the caller supplies no budget of its own. Zero means the default
	// of 10.
	MaxLoops int

	// AdvanceOnEmpty moves the cursor to the echoed ultNSU even when a
	// batch carries no documents, so empty ranges are not re-queried.
	AdvanceOnEmpty bool
}

// defaultMaxLoops is a modest per-run budget; one run drains up to 50
// documents per loop, and callers raise the cap per request when draining
// a long backlog.
const defaultMaxLoops = 10

// DefaultSyncOptions are the options used when none are given.
func DefaultSyncOptions() SyncOptions {
	return SyncOptions{MaxLoops: defaultMaxLoops, AdvanceOnEmpty: true}
}

func (o SyncOptions) maxLoops() int {
	if o.MaxLoops <= 0 {
		return defaultMaxLoops
	}
	return o.MaxLoops
}

// Service implements the gateway operations on top of a storage backend and
// a protocol client. Safe for concurrent use; concurrent sync runs for the
// same tenant are collapsed into one.
type Service struct {
	store  storage.Store
	client protocolClient
	signer *security.FragmentSigner
	opts   SyncOptions
	logger *slog.Logger

	syncGroup singleflight.Group
}

// NewService creates the orchestration service. A nil logger falls back to
// slog.Default.
func NewService(store storage.Store, client protocolClient, signer *security.FragmentSigner, opts SyncOptions, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		store:  store,
		client: client,
		signer: signer,
		opts:   opts,
		logger: logger,
	}
}

// tenantContext resolves the tenant row, its selected certificate and its
// state authority code. Every operation starts here.
type tenantContext struct {
	tenant *storage.Tenant
	creds  sefaz.Credentials
	ufCode string
}

func (s *Service) resolveTenant(ctx context.Context, tenantID string) (*tenantContext, error) {
	if strings.TrimSpace(tenantID) == "" {
		return nil, &ValidationError{Field: "tenantId", Message: "must not be empty"}
	}

	tenant, err := s.store.GetTenant(ctx, tenantID)
	if err != nil {
		return nil, fmt.Errorf("loading tenant %s: %w", tenantID, err)
	}
	if !tenant.Active {
		return nil, &ValidationError{Field: "tenantId", Message: "gateway access is disabled for this tenant"}
	}

	ufCode, ok := sefaz.UFCode(tenant.UF)
	if !ok {
		return nil, &ValidationError{Field: "uf", Message: fmt.Sprintf("unknown state %q", tenant.UF)}
	}

	cert, err := s.store.ActiveCertificate(ctx, tenantID, time.Now())
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, &ValidationError{Field: "certificate", Message: "no usable digital certificate for this tenant"}
		}
		return nil, fmt.Errorf("loading certificate for tenant %s: %w", tenantID, err)
	}

	return &tenantContext{
		tenant: tenant,
		creds: sefaz.Credentials{
			CertPEM: []byte(cert.CertPEM),
			KeyPEM:  []byte(cert.KeyPEM),
		},
		ufCode: ufCode,
	}, nil
}

const accessKeyLength = 44

func validAccessKey(key string) bool {
	if len(key) != accessKeyLength {
		return false
	}
	for _, r := range key {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}
