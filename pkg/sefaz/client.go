package sefaz

import (
	"context"
	"fmt"
	"net/http"

	"github.com/gabrielcasa-surfclim/sentinel-sefaz-proxy/pkg/message"
	"github.com/gabrielcasa-surfclim/sentinel-sefaz-proxy/pkg/security"
	"github.com/gabrielcasa-surfclim/sentinel-sefaz-proxy/pkg/transport"
)

// Credentials are one tenant's PEM materials for a single call. They are
// never cached by the client; every call supplies its own pair.
type Credentials struct {
	CertPEM []byte
	KeyPEM  []byte
}

// Client speaks the authority's two SOAP services for one environment.
// It is safe for concurrent use across tenants: all per-tenant state
// (certificates, cursor) is passed per call.
type Client struct {
	env       Environment
	transport *transport.Client
}

// NewClient creates a protocol client for the given environment.
func NewClient(env Environment, tp *transport.Client) *Client {
	if tp == nil {
		tp = transport.NewClient(0)
	}
	return &Client{env: env, transport: tp}
}

// Environment returns the deployment this client targets.
func (c *Client) Environment() Environment { return c.env }

// QueryByCursor fetches the next distribution batch after lastNSU.
func (c *Client) QueryByCursor(ctx context.Context, creds Credentials, ufCode, cnpj, lastNSU string) (*message.BatchResult, error) {
	body := message.BuildCursorQuery(c.env.TpAmb(), ufCode, cnpj, lastNSU)
	return c.queryDistribution(ctx, creds, body)
}

// QueryByKey fetches a single document by its 44-digit access key.
func (c *Client) QueryByKey(ctx context.Context, creds Credentials, ufCode, cnpj, accessKey string) (*message.BatchResult, error) {
	body := message.BuildKeyQuery(c.env.TpAmb(), ufCode, cnpj, accessKey)
	return c.queryDistribution(ctx, creds, body)
}

func (c *Client) queryDistribution(ctx context.Context, creds Credentials, body []byte) (*message.BatchResult, error) {
	respBody, err := c.post(ctx, creds, c.env.DistributionURL(), body, "")
	if err != nil {
		return nil, err
	}

	result, err := message.ParseDistributionResponse(respBody)
	if err != nil {
		return nil, &ProtocolError{Code: "unparsable", Reason: err.Error()}
	}
	return result, nil
}

// SubmitEvent submits a signed event fragment to the event reception
// service and returns both the batch- and event-level outcome.
func (c *Client) SubmitEvent(ctx context.Context, creds Credentials, signedEvent []byte) (*message.EventResult, error) {
	envelope := message.BuildEventEnvelope(message.WrapEventBatch(signedEvent))

	respBody, err := c.post(ctx, creds, c.env.EventURL(), envelope, SOAPActionEvent)
	if err != nil {
		return nil, err
	}

	result, err := message.ParseEventResponse(respBody)
	if err != nil {
		return nil, &ProtocolError{Code: "unparsable", Reason: err.Error()}
	}
	return result, nil
}

func (c *Client) post(ctx context.Context, creds Credentials, endpoint string, body []byte, action string) ([]byte, error) {
	cert, err := security.TLSCertificate(creds.CertPEM, creds.KeyPEM)
	if err != nil {
		return nil, err
	}

	resp, err := c.transport.Post(ctx, endpoint, body, cert, action)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		return nil, &ProtocolError{
			Code:   fmt.Sprintf("http-%d", resp.StatusCode),
			Reason: fmt.Sprintf("unexpected HTTP status %d", resp.StatusCode),
		}
	}
	return resp.Body, nil
}
