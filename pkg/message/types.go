package message

import "github.com/shopspring/decimal"

// DocumentKind classifies a distribution payload.
type DocumentKind string

const (
	// KindSummary is a document summary (resNFe): access key, emitter and
	// total only, no document number.
	KindSummary DocumentKind = "summary"
	// KindFull is a complete authorized document (procNFe) with emitter
	// block, item lines and installment entries.
	KindFull DocumentKind = "full"
	// KindEventSummary is an event notification (resEvento/procEvento);
	// not a fiscal document, skipped during ingestion.
	KindEventSummary DocumentKind = "event-summary"
	// KindUnknown is a payload whose schema could not be classified.
	KindUnknown DocumentKind = "unknown"
)

// BatchResult is a parsed distribution response.
type BatchResult struct {
	StatusCode string
	Reason     string

	// LastNSU and MaxNSU are the echoed cursor bounds, 15-digit numeric
	// strings, empty when the response omits them.
	LastNSU string
	MaxNSU  string

	Documents []Document

	// Errors records non-fatal per-document failures (decompression,
	// malformed payloads). A failed document never aborts the batch.
	Errors []error
}

// Document is one decompressed distribution payload.
type Document struct {
	NSU    string
	Schema string
	Kind   DocumentKind

	AccessKey    string
	EmitterTaxID string
	EmitterName  string
	IssuedAt     string
	Number       string
	Series       string
	Total        decimal.Decimal

	Items        []Item
	Installments []Installment

	// Raw is the full decompressed XML body.
	Raw []byte
}

// Item is one det item line of a full document.
type Item struct {
	Description string
	NCM         string
	CFOP        string
	Quantity    decimal.Decimal
	UnitValue   decimal.Decimal
	Total       decimal.Decimal
}

// Installment is one cobr/dup duplicate entry of a full document.
type Installment struct {
	Number  string
	DueDate string
	Value   decimal.Decimal
}

// EventResult is a parsed event submission response. Batch- and event-level
// statuses are independent: the batch can be accepted while the event inside
// it is rejected.
type EventResult struct {
	BatchStatusCode string
	BatchReason     string

	Events []EventAck
}

// EventAck is the per-event acknowledgement block.
type EventAck struct {
	StatusCode   string
	Reason       string
	Protocol     string
	RegisteredAt string
	AccessKey    string
}
