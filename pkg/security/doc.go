// Package security implements the XML digital signature required on
// manifestation events.
//
// The authority mandates a fixed XMLDSig profile: an enveloped signature
// referencing the event element by its Id attribute, canonicalized with
// XML-C14N 1.0 (no comments), digested and signed with RSA using either
// SHA-1 or SHA-256, and carrying the signing certificate inside
// KeyInfo/X509Data. The Signature element is inserted immediately after the
// closing tag of the identified element, inside its parent.
//
// Signing is delegated to the signedxml library; this package builds the
// Signature template with etree and loads the tenant's PEM materials.
package security
