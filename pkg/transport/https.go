// Package transport implements the mutual-TLS HTTPS transport used for all
// authority web service calls.
//
// Every call carries the tenant's own client certificate, so TLS state is
// built per call and never shared between tenants. Server certificates are
// always verified.
package transport

import (
	"bytes"
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"
)

// DefaultTimeout bounds a single request/response exchange.
const DefaultTimeout = 30 * time.Second

// Recommended TLS 1.2 cipher suites for the authority endpoints
var RecommendedTLS12CipherSuites = []uint16{
	tls.TLS_ECDHE_ECDSA_WITH_AES_256_GCM_SHA384,
	tls.TLS_ECDHE_ECDSA_WITH_AES_128_GCM_SHA256,
	tls.TLS_ECDHE_RSA_WITH_AES_256_GCM_SHA384,
	tls.TLS_ECDHE_RSA_WITH_AES_128_GCM_SHA256,
}

// Error is the transport failure kind. Connection, TLS handshake, read and
// timeout failures all surface as *Error with the underlying cause preserved.
type Error struct {
	// Timeout reports whether the failure was the configured deadline firing.
	Timeout bool
	Err     error
}

func (e *Error) Error() string {
	if e.Timeout {
		return fmt.Sprintf("transport timeout: %v", e.Err)
	}
	return fmt.Sprintf("transport error: %v", e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Response is a completed SOAP exchange.
type Response struct {
	StatusCode int
	Body       []byte
}

// Client sends SOAP requests authenticated with a per-call client certificate.
type Client struct {
	timeout time.Duration

	// tlsConfig overrides the derived TLS configuration; tests use it to
	// trust a local server certificate.
	tlsConfig *tls.Config
}

// NewClient creates a transport client. A zero timeout selects DefaultTimeout.
func NewClient(timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Client{timeout: timeout}
}

// WithTLSConfig sets a base TLS configuration (root CAs, versions). The
// per-call client certificate is always applied on top of it.
func (c *Client) WithTLSConfig(cfg *tls.Config) *Client {
	c.tlsConfig = cfg
	return c
}

// Post sends a SOAP 1.2 body to the endpoint using the supplied client
// certificate for mutual TLS. When action is non-empty it is carried both as
// the content-type action parameter and as a SOAPAction header.
//
// The HTTP client and TLS context are scoped to this call: certificates from
// one tenant are never reused for another.
func (c *Client) Post(ctx context.Context, endpoint string, body []byte, cert tls.Certificate, action string) (*Response, error) {
	tlsConfig := &tls.Config{
		MinVersion:   tls.VersionTLS12,
		CipherSuites: RecommendedTLS12CipherSuites,
	}
	if c.tlsConfig != nil {
		tlsConfig = c.tlsConfig.Clone()
	}
	tlsConfig.Certificates = []tls.Certificate{cert}

	httpClient := &http.Client{
		Transport: &http.Transport{
			TLSClientConfig:   tlsConfig,
			DisableKeepAlives: true,
		},
		Timeout: c.timeout,
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, &Error{Err: fmt.Errorf("failed to create request: %w", err)}
	}

	contentType := "application/soap+xml; charset=utf-8"
	if action != "" {
		contentType = fmt.Sprintf("application/soap+xml; charset=utf-8; action=%q", action)
		req.Header.Set("SOAPAction", action)
	}
	req.Header.Set("Content-Type", contentType)

	resp, err := httpClient.Do(req)
	if err != nil {
		return nil, classify(err)
	}
	defer resp.Body.Close()

	responseBody, err := io.ReadAll(resp.Body)
	if err != nil {
		// Callers never receive partial bodies.
		return nil, classify(err)
	}

	return &Response{StatusCode: resp.StatusCode, Body: responseBody}, nil
}

func classify(err error) *Error {
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return &Error{Timeout: true, Err: err}
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return &Error{Timeout: true, Err: err}
	}
	return &Error{Err: err}
}
