package sefaz

// Authority status codes interpreted by this gateway. Batch-level codes come
// back on distribution queries; event-level codes nest inside submission
// responses and are independent of the batch code.
const (
	// StatusDocumentsFound: the batch carries documents.
	StatusDocumentsFound = "138"
	// StatusNoDocuments: nothing pending for this recipient.
	StatusNoDocuments = "137"
	// StatusRateLimited: the authority blocked further queries for abusive
	// consumption; callers should cool down for about an hour.
	StatusRateLimited = "656"

	// StatusEventRegistered: event accepted.
	StatusEventRegistered = "135"
	// StatusEventRegisteredOutOfTerm: event accepted with attached
	// conditions (registered outside the regular window).
	StatusEventRegisteredOutOfTerm = "136"
	// StatusEventDuplicate: a manifestation of this kind was already
	// registered for the document.
	StatusEventDuplicate = "573"
	// StatusDocumentUnknown: the access key is not known to the authority.
	StatusDocumentUnknown = "217"
)

// EventRegistered reports whether an event-level code means success.
func EventRegistered(code string) bool {
	return code == StatusEventRegistered || code == StatusEventRegisteredOutOfTerm
}
