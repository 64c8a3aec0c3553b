/*
Package sefazproxy implements a gateway between tenant back offices and the
Brazilian tax authority's NF-e web services.

# Overview

The gateway speaks the authority's two SOAP 1.2 services over mutual TLS
with per-tenant A1 certificates: the distribution feed (NFeDistribuicaoDFe),
which hands out fiscal documents addressed to a recipient as zlib-compressed
payloads behind an NSU cursor, and the event reception service
(NFeRecepcaoEvento4), which registers recipient manifestation events signed
with enveloped XML digital signatures.

On top of the protocol it keeps a per-tenant document base: documents are
ingested idempotently by access key, full documents are unpacked into item
lines and payable entries, emitters are registered once per tax ID, and the
distribution cursor survives restarts.

# Package Structure

	pkg/message      - SOAP envelope builders, event fragments, response parsing
	pkg/security     - PEM handling and XMLDSig enveloped signatures
	pkg/transport    - Mutual-TLS HTTP client for the SOAP exchanges
	pkg/compression  - zlib/deflate handling for distribution payloads
	pkg/sefaz        - Endpoints, status codes and the protocol client
	internal/storage - Storage interfaces, MongoDB and in-memory backends
	internal/fiscal  - Sync engine, manifestation and lookup orchestration
	internal/config  - YAML configuration with environment expansion
	internal/server  - JSON API surface
	cmd/sefaz-gateway - Server entrypoint

# Quick Start

	store, _ := mongodb.NewStore(ctx, &mongodb.Config{URI: uri, Database: "fiscal"})
	client := sefaz.NewClient(sefaz.EnvProduction, transport.NewClient(60*time.Second))
	signer, _ := security.NewFragmentSigner(crypto.SHA1)

	service := fiscal.NewService(store, client, signer, fiscal.DefaultSyncOptions(), logger)
	report, err := service.Sync(ctx, tenantID)

# References

  - NF-e portal: https://www.nfe.fazenda.gov.br/
  - XML Signature Syntax and Processing: https://www.w3.org/TR/xmldsig-core/
*/
package sefazproxy
