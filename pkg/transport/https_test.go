package transport

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"errors"
	"math/big"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testClientCert(t *testing.T) tls.Certificate {
	t.Helper()

	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)

	template := &x509.Certificate{
		SerialNumber: big.NewInt(1),
		Subject:      pkix.Name{CommonName: "transport-test"},
		NotBefore:    time.Now().Add(-time.Hour),
		NotAfter:     time.Now().Add(time.Hour),
		KeyUsage:     x509.KeyUsageDigitalSignature,
		ExtKeyUsage:  []x509.ExtKeyUsage{x509.ExtKeyUsageClientAuth},
	}
	der, err := x509.CreateCertificate(rand.Reader, template, template, &key.PublicKey, key)
	require.NoError(t, err)

	return tls.Certificate{Certificate: [][]byte{der}, PrivateKey: key}
}

func TestPostSendsSOAPHeaders(t *testing.T) {
	var gotContentType, gotAction string
	ts := httptest.NewTLSServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotContentType = r.Header.Get("Content-Type")
		gotAction = r.Header.Get("SOAPAction")
		w.Write([]byte("<Envelope/>"))
	}))
	defer ts.Close()

	pool := x509.NewCertPool()
	pool.AddCert(ts.Certificate())

	client := NewClient(5 * time.Second).WithTLSConfig(&tls.Config{RootCAs: pool})
	resp, err := client.Post(context.Background(), ts.URL, []byte("<body/>"), testClientCert(t), "http://example.org/action")
	require.NoError(t, err)

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, []byte("<Envelope/>"), resp.Body)
	assert.Equal(t, `application/soap+xml; charset=utf-8; action="http://example.org/action"`, gotContentType)
	assert.Equal(t, "http://example.org/action", gotAction)
}

func TestPostWithoutActionOmitsSOAPActionHeader(t *testing.T) {
	var gotContentType string
	var hasAction bool
	ts := httptest.NewTLSServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotContentType = r.Header.Get("Content-Type")
		_, hasAction = r.Header["Soapaction"]
		w.WriteHeader(http.StatusOK)
	}))
	defer ts.Close()

	pool := x509.NewCertPool()
	pool.AddCert(ts.Certificate())

	client := NewClient(5 * time.Second).WithTLSConfig(&tls.Config{RootCAs: pool})
	_, err := client.Post(context.Background(), ts.URL, []byte("<body/>"), testClientCert(t), "")
	require.NoError(t, err)

	assert.Equal(t, "application/soap+xml; charset=utf-8", gotContentType)
	assert.False(t, hasAction)
}

func TestPostTimeout(t *testing.T) {
	ts := httptest.NewTLSServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(2 * time.Second)
	}))
	defer ts.Close()

	pool := x509.NewCertPool()
	pool.AddCert(ts.Certificate())

	client := NewClient(100 * time.Millisecond).WithTLSConfig(&tls.Config{RootCAs: pool})
	_, err := client.Post(context.Background(), ts.URL, []byte("<body/>"), testClientCert(t), "")
	require.Error(t, err)

	var terr *Error
	require.True(t, errors.As(err, &terr))
	assert.True(t, terr.Timeout)
}

func TestPostRejectsUntrustedServer(t *testing.T) {
	ts := httptest.NewTLSServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer ts.Close()

	// No RootCAs configured: the test server's self-signed certificate must
	// fail verification.
	client := NewClient(5 * time.Second)
	_, err := client.Post(context.Background(), ts.URL, []byte("<body/>"), testClientCert(t), "")
	require.Error(t, err)

	var terr *Error
	require.True(t, errors.As(err, &terr))
	assert.False(t, terr.Timeout)
}

func TestPostConnectionRefused(t *testing.T) {
	client := NewClient(time.Second)
	_, err := client.Post(context.Background(), "https://127.0.0.1:1", []byte("<body/>"), testClientCert(t), "")

	var terr *Error
	require.True(t, errors.As(err, &terr))
}
