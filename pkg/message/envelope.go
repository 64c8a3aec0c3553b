package message

import (
	"fmt"
	"strings"
)

// Protocol namespaces
const (
	PortalNamespace       = "http://www.portalfiscal.inf.br/nfe"
	DistributionNamespace = "http://www.portalfiscal.inf.br/nfe/wsdl/NFeDistribuicaoDFe"
	EventNamespace        = "http://www.portalfiscal.inf.br/nfe/wsdl/NFeRecepcaoEvento4"
)

const soapEnvelopeOpen = `<?xml version="1.0" encoding="utf-8"?>` +
	`<soap12:Envelope xmlns:xsi="http://www.w3.org/2001/XMLSchema-instance" xmlns:xsd="http://www.w3.org/2001/XMLSchema" xmlns:soap12="http://www.w3.org/2003/05/soap-envelope">` +
	`<soap12:Body>`

const soapEnvelopeClose = `</soap12:Body></soap12:Envelope>`

// PadNSU strips non-digits from a cursor value and left-pads it to the
// 15-digit width the authority requires. An empty cursor becomes all zeros.
func PadNSU(nsu string) string {
	var digits strings.Builder
	for _, r := range nsu {
		if r >= '0' && r <= '9' {
			digits.WriteRune(r)
		}
	}
	s := strings.TrimLeft(digits.String(), "0")
	if len(s) >= 15 {
		return s
	}
	return strings.Repeat("0", 15-len(s)) + s
}

// DigitsOnly strips every non-digit rune; tax IDs and access keys arrive
// formatted with punctuation.
func DigitsOnly(s string) string {
	var b strings.Builder
	for _, r := range s {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// BuildCursorQuery renders the distribution query envelope for incremental
// synchronization from the given cursor.
func BuildCursorQuery(tpAmb, ufCode, cnpj, lastNSU string) []byte {
	inner := fmt.Sprintf(`<distNSU><ultNSU>%s</ultNSU></distNSU>`, PadNSU(lastNSU))
	return buildDistributionEnvelope(tpAmb, ufCode, cnpj, inner)
}

// BuildKeyQuery renders the distribution query envelope for a single
// document identified by its 44-digit access key.
func BuildKeyQuery(tpAmb, ufCode, cnpj, accessKey string) []byte {
	inner := fmt.Sprintf(`<consChNFe><chNFe>%s</chNFe></consChNFe>`, DigitsOnly(accessKey))
	return buildDistributionEnvelope(tpAmb, ufCode, cnpj, inner)
}

func buildDistributionEnvelope(tpAmb, ufCode, cnpj, inner string) []byte {
	query := fmt.Sprintf(
		`<distDFeInt xmlns=%q versao="1.01"><tpAmb>%s</tpAmb><cUFAutor>%s</cUFAutor><CNPJ>%s</CNPJ>%s</distDFeInt>`,
		PortalNamespace, tpAmb, ufCode, DigitsOnly(cnpj), inner)

	var b strings.Builder
	b.WriteString(soapEnvelopeOpen)
	b.WriteString(fmt.Sprintf(`<nfeDistDFeInteresse xmlns=%q><nfeDadosMsg>`, DistributionNamespace))
	b.WriteString(query)
	b.WriteString(`</nfeDadosMsg></nfeDistDFeInteresse>`)
	b.WriteString(soapEnvelopeClose)
	return []byte(b.String())
}

// WrapEventBatch wraps a signed event fragment in the single-event batch
// container submitted to the event reception service.
func WrapEventBatch(signedEvent []byte) []byte {
	var b strings.Builder
	b.WriteString(fmt.Sprintf(`<envEvento xmlns=%q versao="1.00"><idLote>1</idLote>`, PortalNamespace))
	b.Write(signedEvent)
	b.WriteString(`</envEvento>`)
	return []byte(b.String())
}

// BuildEventEnvelope wraps an event batch in a SOAP 1.2 envelope. The
// payload element carries the event service namespace directly; the 4.x
// reception service has no operation wrapper element.
func BuildEventEnvelope(batch []byte) []byte {
	var b strings.Builder
	b.WriteString(soapEnvelopeOpen)
	b.WriteString(fmt.Sprintf(`<nfeDadosMsg xmlns=%q>`, EventNamespace))
	b.Write(batch)
	b.WriteString(`</nfeDadosMsg>`)
	b.WriteString(soapEnvelopeClose)
	return []byte(b.String())
}

func escapeXML(s string) string {
	replacer := strings.NewReplacer(
		"&", "&amp;",
		"<", "&lt;",
		">", "&gt;",
		`"`, "&quot;",
		"'", "&apos;",
	)
	return replacer.Replace(s)
}
