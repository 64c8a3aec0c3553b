package message

import (
	"fmt"
	"time"
)

// EventType identifies one of the four manifestation kinds.
type EventType string

const (
	EventAcknowledge  EventType = "acknowledge"
	EventConfirm      EventType = "confirm"
	EventUnaware      EventType = "unaware"
	EventNotPerformed EventType = "not-performed"
)

// eventOrgCode is the national virtual authorizer handling manifestation
// events for every state.
const eventOrgCode = "91"

const eventVersion = "1.00"

type eventSpec struct {
	code        string
	description string
}

// Descriptions are the authority's exact registered strings and must not be
// localized.
var eventSpecs = map[EventType]eventSpec{
	EventAcknowledge:  {code: "210210", description: "Ciencia da Operacao"},
	EventConfirm:      {code: "210200", description: "Confirmacao da Operacao"},
	EventUnaware:      {code: "210220", description: "Desconhecimento da Operacao"},
	EventNotPerformed: {code: "210240", description: "Operacao nao Realizada"},
}

// Valid reports whether t is one of the four known manifestation kinds.
func (t EventType) Valid() bool {
	_, ok := eventSpecs[t]
	return ok
}

// Code returns the numeric event code registered with the authority.
func (t EventType) Code() string { return eventSpecs[t].code }

// Description returns the authority's registered event description.
func (t EventType) Description() string { return eventSpecs[t].description }

// Event is a manifestation event to be signed and submitted.
type Event struct {
	Type          EventType
	AccessKey     string
	TaxID         string
	TpAmb         string
	Justification string
	Sequence      int
	When          time.Time
}

// FragmentID returns the deterministic identifier of the event's infEvento
// element: ID + event code + access key + two-digit sequence.
func (e *Event) FragmentID() string {
	return fmt.Sprintf("ID%s%s%02d", e.Type.Code(), e.AccessKey, e.sequence())
}

func (e *Event) sequence() int {
	if e.Sequence <= 0 {
		return 1
	}
	return e.Sequence
}

// eventTimeZone is the authority's fixed local offset, UTC-3 with no
// daylight adjustment.
var eventTimeZone = time.FixedZone("", -3*60*60)

// FormatEventTime renders a timestamp in the authority's local offset.
func FormatEventTime(t time.Time) string {
	return t.In(eventTimeZone).Format("2006-01-02T15:04:05-07:00")
}

// BuildEventFragment renders the unsigned event fragment. Output is compact
// and byte-stable: the signer canonicalizes these exact bytes.
func BuildEventFragment(e *Event) []byte {
	detail := fmt.Sprintf(`<detEvento versao=%q><descEvento>%s</descEvento></detEvento>`,
		eventVersion, e.Type.Description())
	if e.Justification != "" {
		detail = fmt.Sprintf(`<detEvento versao=%q><descEvento>%s</descEvento><justificativa>%s</justificativa></detEvento>`,
			eventVersion, e.Type.Description(), escapeXML(e.Justification))
	}

	return []byte(fmt.Sprintf(
		`<evento xmlns=%q versao=%q>`+
			`<infEvento Id=%q>`+
			`<cOrgao>%s</cOrgao>`+
			`<tpAmb>%s</tpAmb>`+
			`<CNPJ>%s</CNPJ>`+
			`<chNFe>%s</chNFe>`+
			`<dhEvento>%s</dhEvento>`+
			`<tpEvento>%s</tpEvento>`+
			`<nSeqEvento>%d</nSeqEvento>`+
			`<verEvento>%s</verEvento>`+
			`%s`+
			`</infEvento>`+
			`</evento>`,
		PortalNamespace, eventVersion,
		e.FragmentID(),
		eventOrgCode,
		e.TpAmb,
		DigitsOnly(e.TaxID),
		e.AccessKey,
		FormatEventTime(e.When),
		e.Type.Code(),
		e.sequence(),
		eventVersion,
		detail,
	))
}
