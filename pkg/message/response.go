package message

import (
	"fmt"
	"strings"

	"github.com/beevik/etree"
	"github.com/shopspring/decimal"

	"github.com/gabrielcasa-surfclim/sentinel-sefaz-proxy/pkg/compression"
)

// ParseDistributionResponse extracts the batch status, cursor bounds and
// document payloads from a distribution response body. Surrounding SOAP
// envelope noise is tolerated; only the retDistDFeInt element matters.
func ParseDistributionResponse(body []byte) (*BatchResult, error) {
	doc := etree.NewDocument()
	if err := doc.ReadFromBytes(body); err != nil {
		return nil, fmt.Errorf("failed to parse response XML: %w", err)
	}

	ret := findDeep(&doc.Element, "retDistDFeInt")
	if ret == nil {
		return nil, fmt.Errorf("response contains no retDistDFeInt element")
	}

	result := &BatchResult{
		StatusCode: childText(ret, "cStat"),
		Reason:     childText(ret, "xMotivo"),
		LastNSU:    childText(ret, "ultNSU"),
		MaxNSU:     childText(ret, "maxNSU"),
	}

	lote := findChild(ret, "loteDistDFeInt")
	if lote == nil {
		return result, nil
	}

	for _, zip := range childrenNamed(lote, "docZip") {
		nsu := zip.SelectAttrValue("NSU", "")
		schema := zip.SelectAttrValue("schema", "")

		raw, err := compression.InflateBase64(strings.TrimSpace(zip.Text()))
		if err != nil {
			result.Errors = append(result.Errors, fmt.Errorf("document NSU %s (%s): %w", nsu, schema, err))
			continue
		}

		parsed, err := parseDocument(nsu, schema, raw)
		if err != nil {
			result.Errors = append(result.Errors, fmt.Errorf("document NSU %s (%s): %w", nsu, schema, err))
			continue
		}
		result.Documents = append(result.Documents, *parsed)
	}

	return result, nil
}

// ParseEventResponse extracts the batch-level status and every nested
// per-event acknowledgement from an event submission response.
func ParseEventResponse(body []byte) (*EventResult, error) {
	doc := etree.NewDocument()
	if err := doc.ReadFromBytes(body); err != nil {
		return nil, fmt.Errorf("failed to parse response XML: %w", err)
	}

	ret := findDeep(&doc.Element, "retEnvEvento")
	if ret == nil {
		return nil, fmt.Errorf("response contains no retEnvEvento element")
	}

	result := &EventResult{
		BatchStatusCode: childText(ret, "cStat"),
		BatchReason:     childText(ret, "xMotivo"),
	}

	for _, retEvento := range childrenNamed(ret, "retEvento") {
		inf := findChild(retEvento, "infEvento")
		if inf == nil {
			continue
		}
		result.Events = append(result.Events, EventAck{
			StatusCode:   childText(inf, "cStat"),
			Reason:       childText(inf, "xMotivo"),
			Protocol:     childText(inf, "nProt"),
			RegisteredAt: childText(inf, "dhRegEvento"),
			AccessKey:    childText(inf, "chNFe"),
		})
	}

	return result, nil
}

// parseDocument classifies and extracts one decompressed payload.
func parseDocument(nsu, schema string, raw []byte) (*Document, error) {
	doc := etree.NewDocument()
	if err := doc.ReadFromBytes(raw); err != nil {
		return nil, fmt.Errorf("failed to parse document XML: %w", err)
	}
	root := doc.Root()
	if root == nil {
		return nil, fmt.Errorf("document has no root element")
	}

	d := &Document{
		NSU:    nsu,
		Schema: schema,
		Kind:   classify(schema, root.Tag),
		Raw:    raw,
	}

	switch d.Kind {
	case KindSummary:
		extractSummary(root, d)
	case KindFull:
		extractFull(&doc.Element, d)
	}

	return d, nil
}

// classify determines payload kind from the schema attribute, falling back
// to the root element name when the attribute is absent.
func classify(schema, rootTag string) DocumentKind {
	name := schema
	if name == "" {
		name = rootTag
	}
	switch {
	case strings.HasPrefix(name, "resEvento"), strings.HasPrefix(name, "procEvento"):
		return KindEventSummary
	case strings.HasPrefix(name, "resNFe"):
		return KindSummary
	case strings.HasPrefix(name, "procNFe"), strings.HasPrefix(name, "nfeProc"), strings.HasPrefix(name, "NFe"):
		return KindFull
	}
	return KindUnknown
}

// extractSummary reads the resNFe flat summary fields. resNFe has no nested
// blocks, so direct children of the root are authoritative.
func extractSummary(root *etree.Element, d *Document) {
	d.AccessKey = childText(root, "chNFe")
	d.EmitterTaxID = childText(root, "CNPJ")
	if d.EmitterTaxID == "" {
		d.EmitterTaxID = childText(root, "CPF")
	}
	d.EmitterName = childText(root, "xNome")
	d.IssuedAt = childText(root, "dhEmi")
	d.Total = parseDecimal(childText(root, "vNF"))
}

// extractFull reads a procNFe document. Every field is scoped to its block:
// CNPJ appears under emit, dest and transp, so it is only ever read from the
// emit element.
func extractFull(top *etree.Element, d *Document) {
	infNFe := findDeep(top, "infNFe")

	// Access key: authorization protocol first, then the infNFe Id
	// attribute ("NFe" + 44 digits).
	if prot := findDeep(top, "infProt"); prot != nil {
		d.AccessKey = childText(prot, "chNFe")
	}
	if d.AccessKey == "" && infNFe != nil {
		id := infNFe.SelectAttrValue("Id", "")
		if key := DigitsOnly(id); len(key) == 44 {
			d.AccessKey = key
		}
	}

	if infNFe == nil {
		return
	}

	if ide := findChild(infNFe, "ide"); ide != nil {
		d.Number = childText(ide, "nNF")
		d.Series = childText(ide, "serie")
		d.IssuedAt = childText(ide, "dhEmi")
	}

	if emit := findChild(infNFe, "emit"); emit != nil {
		d.EmitterTaxID = childText(emit, "CNPJ")
		if d.EmitterTaxID == "" {
			d.EmitterTaxID = childText(emit, "CPF")
		}
		d.EmitterName = childText(emit, "xNome")
	}

	if total := findChild(infNFe, "total"); total != nil {
		if icms := findChild(total, "ICMSTot"); icms != nil {
			d.Total = parseDecimal(childText(icms, "vNF"))
		}
	}

	for _, det := range childrenNamed(infNFe, "det") {
		prod := findChild(det, "prod")
		if prod == nil {
			continue
		}
		item := Item{
			Description: childText(prod, "xProd"),
			NCM:         childText(prod, "NCM"),
			CFOP:        childText(prod, "CFOP"),
			Quantity:    parseDecimal(childText(prod, "qCom")),
			UnitValue:   parseDecimal(childText(prod, "vUnCom")),
			Total:       parseDecimal(childText(prod, "vProd")),
		}
		if item.Description != "" {
			d.Items = append(d.Items, item)
		}
	}

	if cobr := findChild(infNFe, "cobr"); cobr != nil {
		for _, dup := range childrenNamed(cobr, "dup") {
			d.Installments = append(d.Installments, Installment{
				Number:  childText(dup, "nDup"),
				DueDate: childText(dup, "dVenc"),
				Value:   parseDecimal(childText(dup, "vDup")),
			})
		}
	}
}

// Tree helpers. Responses mix default, prefixed and missing namespaces, so
// all matching is by local name.

func findDeep(e *etree.Element, name string) *etree.Element {
	return e.FindElement(fmt.Sprintf(".//*[local-name()='%s']", name))
}

func findChild(e *etree.Element, name string) *etree.Element {
	return e.FindElement(fmt.Sprintf("./*[local-name()='%s']", name))
}

func childrenNamed(e *etree.Element, name string) []*etree.Element {
	return e.FindElements(fmt.Sprintf("./*[local-name()='%s']", name))
}

func childText(e *etree.Element, name string) string {
	child := findChild(e, name)
	if child == nil {
		return ""
	}
	return strings.TrimSpace(child.Text())
}

func parseDecimal(s string) decimal.Decimal {
	if s == "" {
		return decimal.Zero
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero
	}
	return d
}
