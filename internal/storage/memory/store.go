// Package memory implements storage interfaces in memory, for tests and
// local development without a database.
package memory

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/gabrielcasa-surfclim/sentinel-sefaz-proxy/internal/storage"
)

// Store implements storage.Store with in-memory maps. Safe for concurrent
// use.
type Store struct {
	mu sync.RWMutex

	Tenants      map[string]*storage.Tenant
	Certificates map[string][]*storage.Certificate // keyed by tenant ID
	Documents    map[string]*storage.Document      // keyed by document ID
	Items        map[string][]storage.DocumentItem // keyed by document ID
	Payables     map[string][]storage.PayableEntry // keyed by document ID
	Emitters     map[string]*storage.Emitter       // keyed by tenant+tax ID
	SyncStates   map[string]*storage.SyncState     // keyed by tenant ID
	SyncLogs     []*storage.SyncRunLog
	Blobs        map[string][]byte // keyed by blob path

	// Fail injects an error into every call when set; engine tests use it
	// to exercise storage failure handling.
	Fail error
}

// NewStore creates an empty in-memory store
func NewStore() *Store {
	return &Store{
		Tenants:      make(map[string]*storage.Tenant),
		Certificates: make(map[string][]*storage.Certificate),
		Documents:    make(map[string]*storage.Document),
		Items:        make(map[string][]storage.DocumentItem),
		Payables:     make(map[string][]storage.PayableEntry),
		Emitters:     make(map[string]*storage.Emitter),
		SyncStates:   make(map[string]*storage.SyncState),
		Blobs:        make(map[string][]byte),
	}
}

func (s *Store) Close(ctx context.Context) error { return nil }
func (s *Store) Ping(ctx context.Context) error  { return s.Fail }

func (s *Store) GetTenant(ctx context.Context, id string) (*storage.Tenant, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.Fail != nil {
		return nil, s.Fail
	}
	tenant, ok := s.Tenants[id]
	if !ok {
		return nil, storage.ErrNotFound
	}
	copied := *tenant
	return &copied, nil
}

func (s *Store) ActiveCertificate(ctx context.Context, tenantID string, now time.Time) (*storage.Certificate, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.Fail != nil {
		return nil, s.Fail
	}
	selected := storage.SelectCertificate(s.Certificates[tenantID], now)
	if selected == nil {
		return nil, storage.ErrNotFound
	}
	copied := *selected
	return &copied, nil
}

func (s *Store) DocumentExists(ctx context.Context, tenantID, accessKey string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.Fail != nil {
		return false, s.Fail
	}
	for _, doc := range s.Documents {
		if doc.TenantID == tenantID && doc.AccessKey == accessKey {
			return true, nil
		}
	}
	return false, nil
}

func (s *Store) GetDocument(ctx context.Context, tenantID, id string) (*storage.Document, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.Fail != nil {
		return nil, s.Fail
	}
	doc, ok := s.Documents[id]
	if !ok || doc.TenantID != tenantID {
		return nil, storage.ErrNotFound
	}
	copied := *doc
	return &copied, nil
}

func (s *Store) GetDocumentByKey(ctx context.Context, tenantID, accessKey string) (*storage.Document, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.Fail != nil {
		return nil, s.Fail
	}
	for _, doc := range s.Documents {
		if doc.TenantID == tenantID && doc.AccessKey == accessKey {
			copied := *doc
			return &copied, nil
		}
	}
	return nil, storage.ErrNotFound
}

func (s *Store) InsertDocument(ctx context.Context, doc *storage.Document) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Fail != nil {
		return s.Fail
	}
	for _, existing := range s.Documents {
		if existing.TenantID == doc.TenantID && existing.AccessKey == doc.AccessKey {
			return fmt.Errorf("duplicate document for access key %s", doc.AccessKey)
		}
	}
	if doc.ID == "" {
		doc.ID = uuid.New().String()
	}
	now := time.Now().UTC()
	doc.CreatedAt = now
	doc.UpdatedAt = now
	copied := *doc
	s.Documents[doc.ID] = &copied
	return nil
}

func (s *Store) UpdateDocument(ctx context.Context, doc *storage.Document) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Fail != nil {
		return s.Fail
	}
	existing, ok := s.Documents[doc.ID]
	if !ok || existing.TenantID != doc.TenantID {
		return storage.ErrNotFound
	}
	doc.UpdatedAt = time.Now().UTC()
	copied := *doc
	s.Documents[doc.ID] = &copied
	return nil
}

func (s *Store) SetManifestStatus(ctx context.Context, tenantID, documentID, status string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Fail != nil {
		return s.Fail
	}
	doc, ok := s.Documents[documentID]
	if !ok || doc.TenantID != tenantID {
		return storage.ErrNotFound
	}
	doc.ManifestStat = status
	doc.UpdatedAt = time.Now().UTC()
	return nil
}

func (s *Store) ReplaceItems(ctx context.Context, tenantID, documentID string, items []storage.DocumentItem) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Fail != nil {
		return s.Fail
	}
	copied := make([]storage.DocumentItem, len(items))
	copy(copied, items)
	for i := range copied {
		if copied[i].ID == "" {
			copied[i].ID = uuid.New().String()
		}
		copied[i].TenantID = tenantID
		copied[i].DocumentID = documentID
	}
	s.Items[documentID] = copied
	return nil
}

func (s *Store) ReplacePayables(ctx context.Context, tenantID, documentID string, entries []storage.PayableEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Fail != nil {
		return s.Fail
	}
	copied := make([]storage.PayableEntry, len(entries))
	copy(copied, entries)
	for i := range copied {
		if copied[i].ID == "" {
			copied[i].ID = uuid.New().String()
		}
		copied[i].TenantID = tenantID
		copied[i].DocumentID = documentID
	}
	s.Payables[documentID] = copied
	return nil
}

func (s *Store) UpsertEmitter(ctx context.Context, emitter *storage.Emitter) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Fail != nil {
		return "", s.Fail
	}
	key := emitter.TenantID + "/" + emitter.TaxID
	if existing, ok := s.Emitters[key]; ok {
		return existing.ID, nil
	}
	if emitter.ID == "" {
		emitter.ID = uuid.New().String()
	}
	emitter.Active = true
	copied := *emitter
	s.Emitters[key] = &copied
	return emitter.ID, nil
}

func (s *Store) GetSyncState(ctx context.Context, tenantID string) (*storage.SyncState, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.Fail != nil {
		return nil, s.Fail
	}
	state, ok := s.SyncStates[tenantID]
	if !ok {
		return nil, nil
	}
	copied := *state
	return &copied, nil
}

func (s *Store) SaveSyncState(ctx context.Context, state *storage.SyncState) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Fail != nil {
		return s.Fail
	}
	state.UpdatedAt = time.Now().UTC()
	copied := *state
	s.SyncStates[state.TenantID] = &copied
	return nil
}

func (s *Store) AppendSyncLog(ctx context.Context, entry *storage.SyncRunLog) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Fail != nil {
		return s.Fail
	}
	if entry.ID == "" {
		entry.ID = uuid.New().String()
	}
	entry.CreatedAt = time.Now().UTC()
	copied := *entry
	s.SyncLogs = append(s.SyncLogs, &copied)
	return nil
}

func (s *Store) StoreRawDocument(ctx context.Context, tenantID, accessKey string, data []byte) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Fail != nil {
		return "", s.Fail
	}
	path := fmt.Sprintf("%s/%s.xml", tenantID, accessKey)
	copied := make([]byte, len(data))
	copy(copied, data)
	s.Blobs[path] = copied
	return path, nil
}
