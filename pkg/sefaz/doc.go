// Package sefaz provides the protocol client for the fiscal authority's
// SOAP web services: the document distribution feed and the event reception
// service.
//
// The client composes the message builders, the mutual-TLS transport and the
// response parsers into three operations: query by cursor, query by access
// key, and event submission. Cursor advancement, ingestion and outcome
// mapping live with the callers; the client only speaks the protocol.
package sefaz
