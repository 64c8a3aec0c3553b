package sefaz

import "fmt"

// ProtocolError reports an unrecognized or explicit-failure status from the
// authority, preserving the raw code and reason text.
type ProtocolError struct {
	Code   string
	Reason string
}

func (e *ProtocolError) Error() string {
	return fmt.Sprintf("authority returned status %s: %s", e.Code, e.Reason)
}

// RateLimited reports whether the error is the authority's consumption
// block.
func (e *ProtocolError) RateLimited() bool { return e.Code == StatusRateLimited }
