// Package message builds the SOAP request payloads sent to the fiscal
// authority and parses its responses.
//
// Request builders produce deterministic, whitespace-compact XML: the signer
// canonicalizes the exact serialized bytes, so identical inputs must yield
// identical output.
//
// Response parsing walks the XML tree with etree rather than matching tags
// with regular expressions, scoping each field to its parent block. The
// distribution feed nests same-named tags (CNPJ appears under emit, dest and
// transp), so flat extraction bleeds fields across blocks.
package message
