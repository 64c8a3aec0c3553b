package security

import (
	"crypto/rsa"
	"crypto/tls"
	"crypto/x509"
	"encoding/pem"
	"fmt"
)

// CertError reports missing, unparsable or otherwise unusable certificate
// material. It is distinct from SignError so callers can map it to the
// certificate failure kind.
type CertError struct {
	Err error
}

func (e *CertError) Error() string { return fmt.Sprintf("certificate error: %v", e.Err) }
func (e *CertError) Unwrap() error { return e.Err }

// LoadKeyPair parses a PEM certificate and PEM private key into their
// crypto types. The key must be RSA; the authority accepts no other kind.
func LoadKeyPair(certPEM, keyPEM []byte) (*x509.Certificate, *rsa.PrivateKey, error) {
	cert, err := ParseCertificatePEM(certPEM)
	if err != nil {
		return nil, nil, err
	}

	key, err := parsePrivateKeyPEM(keyPEM)
	if err != nil {
		return nil, nil, err
	}

	return cert, key, nil
}

// ParseCertificatePEM parses a single PEM-encoded X.509 certificate.
func ParseCertificatePEM(certPEM []byte) (*x509.Certificate, error) {
	block, _ := pem.Decode(certPEM)
	if block == nil || block.Type != "CERTIFICATE" {
		return nil, &CertError{Err: fmt.Errorf("no CERTIFICATE block in PEM data")}
	}
	cert, err := x509.ParseCertificate(block.Bytes)
	if err != nil {
		return nil, &CertError{Err: fmt.Errorf("parsing certificate: %w", err)}
	}
	return cert, nil
}

func parsePrivateKeyPEM(keyPEM []byte) (*rsa.PrivateKey, error) {
	block, _ := pem.Decode(keyPEM)
	if block == nil {
		return nil, &CertError{Err: fmt.Errorf("no private key block in PEM data")}
	}

	if key, err := x509.ParsePKCS1PrivateKey(block.Bytes); err == nil {
		return key, nil
	}

	parsed, err := x509.ParsePKCS8PrivateKey(block.Bytes)
	if err != nil {
		return nil, &CertError{Err: fmt.Errorf("parsing private key: %w", err)}
	}
	key, ok := parsed.(*rsa.PrivateKey)
	if !ok {
		return nil, &CertError{Err: fmt.Errorf("private key is %T, want RSA", parsed)}
	}
	return key, nil
}

// TLSCertificate builds the tls.Certificate used for mutual-TLS transport
// from the tenant's PEM materials.
func TLSCertificate(certPEM, keyPEM []byte) (tls.Certificate, error) {
	cert, err := tls.X509KeyPair(certPEM, keyPEM)
	if err != nil {
		return tls.Certificate{}, &CertError{Err: fmt.Errorf("building TLS key pair: %w", err)}
	}
	return cert, nil
}
