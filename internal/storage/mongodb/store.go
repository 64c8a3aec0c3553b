// Package mongodb implements storage interfaces using MongoDB
package mongodb

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/gridfs"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/gabrielcasa-surfclim/sentinel-sefaz-proxy/internal/storage"
)

// Store implements storage.Store using MongoDB
type Store struct {
	client *mongo.Client
	db     *mongo.Database
	gridfs *gridfs.Bucket

	// Collections
	tenants      *mongo.Collection
	certificates *mongo.Collection
	documents    *mongo.Collection
	items        *mongo.Collection
	payables     *mongo.Collection
	emitters     *mongo.Collection
	syncStates   *mongo.Collection
	syncLogs     *mongo.Collection
}

// Config holds MongoDB connection settings
type Config struct {
	URI            string
	Database       string
	GridFSBucket   string
	ChunkSizeBytes int32
}

// NewStore creates a new MongoDB store
func NewStore(ctx context.Context, cfg *Config) (*Store, error) {
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(cfg.URI))
	if err != nil {
		return nil, fmt.Errorf("connecting to MongoDB: %w", err)
	}

	if err := client.Ping(ctx, nil); err != nil {
		return nil, fmt.Errorf("pinging MongoDB: %w", err)
	}

	db := client.Database(cfg.Database)

	bucketName := cfg.GridFSBucket
	if bucketName == "" {
		bucketName = "raw_documents"
	}
	chunkSize := cfg.ChunkSizeBytes
	if chunkSize == 0 {
		chunkSize = 261120 // 255KB
	}
	bucket, err := gridfs.NewBucket(db, options.GridFSBucket().
		SetName(bucketName).
		SetChunkSizeBytes(chunkSize))
	if err != nil {
		return nil, fmt.Errorf("creating GridFS bucket: %w", err)
	}

	s := &Store{
		client:       client,
		db:           db,
		gridfs:       bucket,
		tenants:      db.Collection("tenants"),
		certificates: db.Collection("certificates"),
		documents:    db.Collection("documents"),
		items:        db.Collection("document_items"),
		payables:     db.Collection("payables"),
		emitters:     db.Collection("emitters"),
		syncStates:   db.Collection("sync_states"),
		syncLogs:     db.Collection("sync_logs"),
	}

	if err := s.createIndexes(ctx); err != nil {
		return nil, fmt.Errorf("creating indexes: %w", err)
	}

	return s, nil
}

func (s *Store) createIndexes(ctx context.Context) error {
	// One document per (tenant, access key) backs the idempotence invariant.
	_, err := s.documents.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "tenant_id", Value: 1}, {Key: "access_key", Value: 1}},
			Options: options.Index().SetUnique(true),
		},
		{Keys: bson.D{{Key: "tenant_id", Value: 1}, {Key: "manifest_status", Value: 1}}},
	})
	if err != nil {
		return err
	}

	_, err = s.certificates.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{Keys: bson.D{{Key: "tenant_id", Value: 1}, {Key: "active", Value: 1}, {Key: "created_at", Value: -1}}},
	})
	if err != nil {
		return err
	}

	_, err = s.emitters.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "tenant_id", Value: 1}, {Key: "tax_id", Value: 1}},
			Options: options.Index().SetUnique(true),
		},
	})
	if err != nil {
		return err
	}

	_, err = s.items.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{Keys: bson.D{{Key: "document_id", Value: 1}}},
	})
	if err != nil {
		return err
	}

	_, err = s.payables.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{Keys: bson.D{{Key: "document_id", Value: 1}}},
	})
	return err
}

// Close disconnects from MongoDB
func (s *Store) Close(ctx context.Context) error {
	return s.client.Disconnect(ctx)
}

// Ping checks database connectivity
func (s *Store) Ping(ctx context.Context) error {
	return s.client.Ping(ctx, nil)
}

// TenantStore

func (s *Store) GetTenant(ctx context.Context, id string) (*storage.Tenant, error) {
	var tenant storage.Tenant
	err := s.tenants.FindOne(ctx, bson.M{"_id": id}).Decode(&tenant)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("finding tenant: %w", err)
	}
	return &tenant, nil
}

// CertificateStore

func (s *Store) ActiveCertificate(ctx context.Context, tenantID string, now time.Time) (*storage.Certificate, error) {
	cursor, err := s.certificates.Find(ctx,
		bson.M{"tenant_id": tenantID, "active": true},
		options.Find().SetSort(bson.D{{Key: "created_at", Value: -1}}))
	if err != nil {
		return nil, fmt.Errorf("finding certificates: %w", err)
	}
	defer cursor.Close(ctx)

	var certs []*storage.Certificate
	if err := cursor.All(ctx, &certs); err != nil {
		return nil, fmt.Errorf("decoding certificates: %w", err)
	}

	selected := storage.SelectCertificate(certs, now)
	if selected == nil {
		return nil, storage.ErrNotFound
	}
	return selected, nil
}

// DocumentStore

func (s *Store) DocumentExists(ctx context.Context, tenantID, accessKey string) (bool, error) {
	count, err := s.documents.CountDocuments(ctx,
		bson.M{"tenant_id": tenantID, "access_key": accessKey},
		options.Count().SetLimit(1))
	if err != nil {
		return false, fmt.Errorf("counting documents: %w", err)
	}
	return count > 0, nil
}

func (s *Store) GetDocument(ctx context.Context, tenantID, id string) (*storage.Document, error) {
	return s.findDocument(ctx, bson.M{"_id": id, "tenant_id": tenantID})
}

func (s *Store) GetDocumentByKey(ctx context.Context, tenantID, accessKey string) (*storage.Document, error) {
	return s.findDocument(ctx, bson.M{"tenant_id": tenantID, "access_key": accessKey})
}

func (s *Store) findDocument(ctx context.Context, filter bson.M) (*storage.Document, error) {
	var doc storage.Document
	err := s.documents.FindOne(ctx, filter).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("finding document: %w", err)
	}
	doc.DecodeValues()
	return &doc, nil
}

func (s *Store) InsertDocument(ctx context.Context, doc *storage.Document) error {
	if doc.ID == "" {
		doc.ID = uuid.New().String()
	}
	now := time.Now().UTC()
	doc.CreatedAt = now
	doc.UpdatedAt = now
	doc.EncodeValues()

	if _, err := s.documents.InsertOne(ctx, doc); err != nil {
		return fmt.Errorf("inserting document: %w", err)
	}
	return nil
}

func (s *Store) UpdateDocument(ctx context.Context, doc *storage.Document) error {
	doc.UpdatedAt = time.Now().UTC()
	doc.EncodeValues()

	result, err := s.documents.ReplaceOne(ctx,
		bson.M{"_id": doc.ID, "tenant_id": doc.TenantID}, doc)
	if err != nil {
		return fmt.Errorf("updating document: %w", err)
	}
	if result.MatchedCount == 0 {
		return storage.ErrNotFound
	}
	return nil
}

func (s *Store) SetManifestStatus(ctx context.Context, tenantID, documentID, status string) error {
	result, err := s.documents.UpdateOne(ctx,
		bson.M{"_id": documentID, "tenant_id": tenantID},
		bson.M{"$set": bson.M{"manifest_status": status, "updated_at": time.Now().UTC()}})
	if err != nil {
		return fmt.Errorf("updating manifestation status: %w", err)
	}
	if result.MatchedCount == 0 {
		return storage.ErrNotFound
	}
	return nil
}

func (s *Store) ReplaceItems(ctx context.Context, tenantID, documentID string, items []storage.DocumentItem) error {
	if _, err := s.items.DeleteMany(ctx, bson.M{"tenant_id": tenantID, "document_id": documentID}); err != nil {
		return fmt.Errorf("clearing document items: %w", err)
	}
	if len(items) == 0 {
		return nil
	}

	docs := make([]interface{}, 0, len(items))
	for i := range items {
		if items[i].ID == "" {
			items[i].ID = uuid.New().String()
		}
		items[i].TenantID = tenantID
		items[i].DocumentID = documentID
		items[i].EncodeValues()
		docs = append(docs, items[i])
	}
	if _, err := s.items.InsertMany(ctx, docs); err != nil {
		return fmt.Errorf("inserting document items: %w", err)
	}
	return nil
}

func (s *Store) ReplacePayables(ctx context.Context, tenantID, documentID string, entries []storage.PayableEntry) error {
	if _, err := s.payables.DeleteMany(ctx, bson.M{"tenant_id": tenantID, "document_id": documentID}); err != nil {
		return fmt.Errorf("clearing payables: %w", err)
	}
	if len(entries) == 0 {
		return nil
	}

	docs := make([]interface{}, 0, len(entries))
	for i := range entries {
		if entries[i].ID == "" {
			entries[i].ID = uuid.New().String()
		}
		entries[i].TenantID = tenantID
		entries[i].DocumentID = documentID
		entries[i].EncodeValues()
		docs = append(docs, entries[i])
	}
	if _, err := s.payables.InsertMany(ctx, docs); err != nil {
		return fmt.Errorf("inserting payables: %w", err)
	}
	return nil
}

func (s *Store) UpsertEmitter(ctx context.Context, emitter *storage.Emitter) (string, error) {
	var existing storage.Emitter
	err := s.emitters.FindOne(ctx,
		bson.M{"tenant_id": emitter.TenantID, "tax_id": emitter.TaxID}).Decode(&existing)
	if err == nil {
		return existing.ID, nil
	}
	if !errors.Is(err, mongo.ErrNoDocuments) {
		return "", fmt.Errorf("finding emitter: %w", err)
	}

	if emitter.ID == "" {
		emitter.ID = uuid.New().String()
	}
	emitter.Active = true
	if _, err := s.emitters.InsertOne(ctx, emitter); err != nil {
		return "", fmt.Errorf("inserting emitter: %w", err)
	}
	return emitter.ID, nil
}

// SyncStateStore

func (s *Store) GetSyncState(ctx context.Context, tenantID string) (*storage.SyncState, error) {
	var state storage.SyncState
	err := s.syncStates.FindOne(ctx, bson.M{"_id": tenantID}).Decode(&state)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("finding sync state: %w", err)
	}
	return &state, nil
}

func (s *Store) SaveSyncState(ctx context.Context, state *storage.SyncState) error {
	state.UpdatedAt = time.Now().UTC()
	_, err := s.syncStates.ReplaceOne(ctx,
		bson.M{"_id": state.TenantID}, state,
		options.Replace().SetUpsert(true))
	if err != nil {
		return fmt.Errorf("saving sync state: %w", err)
	}
	return nil
}

// AuditStore

func (s *Store) AppendSyncLog(ctx context.Context, entry *storage.SyncRunLog) error {
	if entry.ID == "" {
		entry.ID = uuid.New().String()
	}
	entry.CreatedAt = time.Now().UTC()
	if _, err := s.syncLogs.InsertOne(ctx, entry); err != nil {
		return fmt.Errorf("appending sync log: %w", err)
	}
	return nil
}

// BlobStore

func (s *Store) StoreRawDocument(ctx context.Context, tenantID, accessKey string, data []byte) (string, error) {
	path := fmt.Sprintf("%s/%s.xml", tenantID, accessKey)

	// Overwrite-if-exists: drop any previous revision of this body first.
	cursor, err := s.gridfs.Find(bson.M{"filename": path})
	if err == nil {
		var files []struct {
			ID interface{} `bson:"_id"`
		}
		if err := cursor.All(ctx, &files); err == nil {
			for _, f := range files {
				_ = s.gridfs.Delete(f.ID)
			}
		}
	}

	uploadStream, err := s.gridfs.OpenUploadStream(path,
		options.GridFSUpload().SetMetadata(bson.M{"tenant_id": tenantID, "access_key": accessKey}))
	if err != nil {
		return "", fmt.Errorf("opening blob stream: %w", err)
	}
	if _, err := uploadStream.Write(data); err != nil {
		uploadStream.Close()
		return "", fmt.Errorf("writing blob: %w", err)
	}
	if err := uploadStream.Close(); err != nil {
		return "", fmt.Errorf("closing blob stream: %w", err)
	}
	return path, nil
}

// GetRawDocument retrieves a stored raw document body.
func (s *Store) GetRawDocument(ctx context.Context, tenantID, accessKey string) ([]byte, error) {
	path := fmt.Sprintf("%s/%s.xml", tenantID, accessKey)

	var buf bytes.Buffer
	if _, err := s.gridfs.DownloadToStreamByName(path, &buf); err != nil {
		if errors.Is(err, gridfs.ErrFileNotFound) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("downloading blob: %w", err)
	}
	return buf.Bytes(), nil
}
