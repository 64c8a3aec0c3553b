package fiscal

import (
	"context"
	"crypto"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"io"
	"log/slog"
	"math/big"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gabrielcasa-surfclim/sentinel-sefaz-proxy/internal/storage"
	"github.com/gabrielcasa-surfclim/sentinel-sefaz-proxy/internal/storage/memory"
	"github.com/gabrielcasa-surfclim/sentinel-sefaz-proxy/pkg/message"
	"github.com/gabrielcasa-surfclim/sentinel-sefaz-proxy/pkg/security"
	"github.com/gabrielcasa-surfclim/sentinel-sefaz-proxy/pkg/sefaz"
)

func testKeyPairPEM(t *testing.T) (certPEM, keyPEM string) {
	t.Helper()

	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)

	template := &x509.Certificate{
		SerialNumber: big.NewInt(1),
		Subject:      pkix.Name{CommonName: "ACME LTDA:12345678000195"},
		NotBefore:    time.Now().Add(-time.Hour),
		NotAfter:     time.Now().Add(24 * time.Hour),
		KeyUsage:     x509.KeyUsageDigitalSignature,
	}
	der, err := x509.CreateCertificate(rand.Reader, template, template, &key.PublicKey, key)
	require.NoError(t, err)

	certPEM = string(pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: der}))
	keyPEM = string(pem.EncodeToMemory(&pem.Block{Type: "RSA PRIVATE KEY", Bytes: x509.MarshalPKCS1PrivateKey(key)}))
	return certPEM, keyPEM
}

func seedSigningTenant(t *testing.T, store *memory.Store) {
	t.Helper()
	seedTenant(store)
	certPEM, keyPEM := testKeyPairPEM(t)
	store.Certificates[testTenantID][0].CertPEM = certPEM
	store.Certificates[testTenantID][0].KeyPEM = keyPEM
}

func newSigningService(t *testing.T, store *memory.Store, client *fakeClient) *Service {
	t.Helper()
	signer, err := security.NewFragmentSigner(crypto.SHA1)
	require.NoError(t, err)
	return NewService(store, client, signer, DefaultSyncOptions(), slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func registeredAck(key string) *message.EventResult {
	return &message.EventResult{
		BatchStatusCode: "128",
		BatchReason:     "Lote de Evento Processado",
		Events: []message.EventAck{{
			StatusCode:   sefaz.StatusEventRegistered,
			Reason:       "Evento registrado e vinculado a NF-e",
			Protocol:     "135260000000001",
			RegisteredAt: "2026-08-30T10:00:00-03:00",
			AccessKey:    key,
		}},
	}
}

func TestManifestRegistersAndUpdatesDocument(t *testing.T) {
	store := memory.NewStore()
	seedSigningTenant(t, store)
	require.NoError(t, store.InsertDocument(context.Background(), &storage.Document{
		TenantID:     testTenantID,
		AccessKey:    testAccessKey,
		Kind:         storage.DocumentKindSummary,
		ManifestStat: storage.ManifestStatusPending,
	}))

	client := &fakeClient{eventResult: registeredAck(testAccessKey)}
	svc := newSigningService(t, store, client)

	result, err := svc.Manifest(context.Background(), &ManifestRequest{
		TenantID:  testTenantID,
		AccessKey: testAccessKey,
		Type:      message.EventAcknowledge,
	})
	require.NoError(t, err)

	assert.Equal(t, "210210", result.EventCode)
	assert.Equal(t, sefaz.StatusEventRegistered, result.StatusCode)
	assert.Equal(t, "135260000000001", result.Protocol)

	// The submitted fragment is signed and names the document.
	require.Len(t, client.submitted, 1)
	submitted := string(client.submitted[0])
	assert.Contains(t, submitted, "ID210210"+testAccessKey+"01")
	assert.Contains(t, submitted, "<SignatureValue>")
	require.NoError(t, security.VerifyFragment(client.submitted[0]))

	doc, err := store.GetDocumentByKey(context.Background(), testTenantID, testAccessKey)
	require.NoError(t, err)
	assert.Equal(t, string(message.EventAcknowledge), doc.ManifestStat)
}

func TestManifestByDocumentID(t *testing.T) {
	store := memory.NewStore()
	seedSigningTenant(t, store)
	doc := &storage.Document{
		ID:           "doc-1",
		TenantID:     testTenantID,
		AccessKey:    testAccessKey,
		Kind:         storage.DocumentKindSummary,
		ManifestStat: storage.ManifestStatusPending,
	}
	require.NoError(t, store.InsertDocument(context.Background(), doc))

	client := &fakeClient{eventResult: registeredAck(testAccessKey)}
	svc := newSigningService(t, store, client)

	result, err := svc.Manifest(context.Background(), &ManifestRequest{
		TenantID:   testTenantID,
		DocumentID: "doc-1",
		Type:       message.EventConfirm,
	})
	require.NoError(t, err)
	assert.Equal(t, testAccessKey, result.AccessKey)
	assert.Equal(t, "210200", result.EventCode)
}

func TestManifestUnknownAccessKeyStillSubmits(t *testing.T) {
	// Manifesting by key does not require the document to be ingested.
	store := memory.NewStore()
	seedSigningTenant(t, store)

	client := &fakeClient{eventResult: registeredAck(testAccessKey)}
	svc := newSigningService(t, store, client)

	result, err := svc.Manifest(context.Background(), &ManifestRequest{
		TenantID:  testTenantID,
		AccessKey: testAccessKey,
		Type:      message.EventAcknowledge,
	})
	require.NoError(t, err)
	assert.Equal(t, sefaz.StatusEventRegistered, result.StatusCode)
}

func TestManifestValidation(t *testing.T) {
	store := memory.NewStore()
	seedSigningTenant(t, store)
	svc := newSigningService(t, store, &fakeClient{})

	for _, tc := range []struct {
		name  string
		req   *ManifestRequest
		field string
	}{
		{
			name:  "unknown kind",
			req:   &ManifestRequest{TenantID: testTenantID, AccessKey: testAccessKey, Type: "shrug"},
			field: "type",
		},
		{
			name: "short justification",
			req: &ManifestRequest{
				TenantID:      testTenantID,
				AccessKey:     testAccessKey,
				Type:          message.EventNotPerformed,
				Justification: "   too short   ",
			},
			field: "justification",
		},
		{
			name:  "malformed access key",
			req:   &ManifestRequest{TenantID: testTenantID, AccessKey: "12345", Type: message.EventAcknowledge},
			field: "accessKey",
		},
		{
			name:  "no target at all",
			req:   &ManifestRequest{TenantID: testTenantID, Type: message.EventAcknowledge},
			field: "accessKey",
		},
	} {
		t.Run(tc.name, func(t *testing.T) {
			_, err := svc.Manifest(context.Background(), tc.req)
			var verr *ValidationError
			require.ErrorAs(t, err, &verr)
			assert.Equal(t, tc.field, verr.Field)
		})
	}
}

func TestManifestNotPerformedCarriesJustification(t *testing.T) {
	store := memory.NewStore()
	seedSigningTenant(t, store)

	client := &fakeClient{eventResult: registeredAck(testAccessKey)}
	svc := newSigningService(t, store, client)

	justification := "goods never arrived at the destination"
	_, err := svc.Manifest(context.Background(), &ManifestRequest{
		TenantID:      testTenantID,
		AccessKey:     testAccessKey,
		Type:          message.EventNotPerformed,
		Justification: "  " + justification + "  ",
	})
	require.NoError(t, err)

	require.Len(t, client.submitted, 1)
	submitted := string(client.submitted[0])
	assert.Contains(t, submitted, "<tpEvento>210240</tpEvento>")
	assert.Contains(t, submitted, "<justificativa>"+justification+"</justificativa>")
}

func TestManifestUnknownDocumentID(t *testing.T) {
	store := memory.NewStore()
	seedSigningTenant(t, store)
	svc := newSigningService(t, store, &fakeClient{})

	_, err := svc.Manifest(context.Background(), &ManifestRequest{
		TenantID:   testTenantID,
		DocumentID: "missing",
		Type:       message.EventAcknowledge,
	})
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestManifestRejections(t *testing.T) {
	for _, tc := range []struct {
		name     string
		code     string
		contains string
	}{
		{"duplicate", sefaz.StatusEventDuplicate, "already registered"},
		{"unknown document", sefaz.StatusDocumentUnknown, "does not recognize"},
		{"rate limited", sefaz.StatusRateLimited, "cooldown"},
		{"other keeps authority reason", "999", "Rejeicao"},
	} {
		t.Run(tc.name, func(t *testing.T) {
			store := memory.NewStore()
			seedSigningTenant(t, store)

			client := &fakeClient{eventResult: &message.EventResult{
				BatchStatusCode: "128",
				Events: []message.EventAck{{
					StatusCode: tc.code,
					Reason:     "Rejeicao: motivo informado pela autoridade",
				}},
			}}
			svc := newSigningService(t, store, client)

			_, err := svc.Manifest(context.Background(), &ManifestRequest{
				TenantID:  testTenantID,
				AccessKey: testAccessKey,
				Type:      message.EventAcknowledge,
			})

			var perr *sefaz.ProtocolError
			require.ErrorAs(t, err, &perr)
			assert.Equal(t, tc.code, perr.Code)
			assert.Contains(t, perr.Reason, tc.contains)
		})
	}
}

func TestManifestBatchLevelFailure(t *testing.T) {
	store := memory.NewStore()
	seedSigningTenant(t, store)

	client := &fakeClient{eventResult: &message.EventResult{
		BatchStatusCode: "225",
		BatchReason:     "Rejeicao: falha no Schema XML do lote",
	}}
	svc := newSigningService(t, store, client)

	_, err := svc.Manifest(context.Background(), &ManifestRequest{
		TenantID:  testTenantID,
		AccessKey: testAccessKey,
		Type:      message.EventAcknowledge,
	})

	var perr *sefaz.ProtocolError
	require.ErrorAs(t, err, &perr)
	assert.Equal(t, "225", perr.Code)
	assert.Contains(t, perr.Reason, "batch rejected")
}

func TestLookupKey(t *testing.T) {
	t.Run("found", func(t *testing.T) {
		store := memory.NewStore()
		seedTenant(store)

		doc := summaryDoc("000000000000009", testAccessKey)
		client := &fakeClient{keyResult: &message.BatchResult{
			StatusCode: sefaz.StatusDocumentsFound,
			Reason:     "Documento localizado",
			Documents:  []message.Document{doc},
		}}
		svc := newTestService(store, client, DefaultSyncOptions())

		result, err := svc.LookupKey(context.Background(), testTenantID, testAccessKey)
		require.NoError(t, err)

		assert.True(t, result.Found)
		assert.Equal(t, "summary", result.Kind)
		assert.Equal(t, "99887766000155", result.EmitterTaxID)
		assert.Equal(t, "150", result.Total)
		assert.Equal(t, "<resNFe/>", result.RawExcerpt)

		// Lookups never ingest.
		assert.Empty(t, store.Documents)
	})

	t.Run("nothing for the key", func(t *testing.T) {
		store := memory.NewStore()
		seedTenant(store)
		client := &fakeClient{keyResult: &message.BatchResult{
			StatusCode: sefaz.StatusNoDocuments,
			Reason:     "Nenhum documento localizado",
		}}
		svc := newTestService(store, client, DefaultSyncOptions())

		result, err := svc.LookupKey(context.Background(), testTenantID, testAccessKey)
		require.NoError(t, err)
		assert.False(t, result.Found)
		assert.Equal(t, sefaz.StatusNoDocuments, result.StatusCode)
	})

	t.Run("excerpt is bounded", func(t *testing.T) {
		store := memory.NewStore()
		seedTenant(store)

		doc := summaryDoc("000000000000009", testAccessKey)
		doc.Raw = []byte("<resNFe>" + strings.Repeat("x", 2*rawExcerptLimit) + "</resNFe>")
		client := &fakeClient{keyResult: &message.BatchResult{
			StatusCode: sefaz.StatusDocumentsFound,
			Documents:  []message.Document{doc},
		}}
		svc := newTestService(store, client, DefaultSyncOptions())

		result, err := svc.LookupKey(context.Background(), testTenantID, testAccessKey)
		require.NoError(t, err)
		assert.Len(t, result.RawExcerpt, rawExcerptLimit)
	})

	t.Run("malformed key", func(t *testing.T) {
		svc := newTestService(memory.NewStore(), &fakeClient{}, DefaultSyncOptions())
		_, err := svc.LookupKey(context.Background(), testTenantID, "nope")
		var verr *ValidationError
		require.ErrorAs(t, err, &verr)
		assert.Equal(t, "accessKey", verr.Field)
	})
}
