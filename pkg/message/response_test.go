package message

import (
	"fmt"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gabrielcasa-surfclim/sentinel-sefaz-proxy/pkg/compression"
)

func docZip(t *testing.T, nsu, schema, payload string) string {
	t.Helper()
	encoded, err := compression.DeflateBase64([]byte(payload))
	require.NoError(t, err)
	return fmt.Sprintf(`<docZip NSU=%q schema=%q>%s</docZip>`, nsu, schema, encoded)
}

func distributionEnvelope(inner string) []byte {
	return []byte(`<?xml version="1.0" encoding="utf-8"?>` +
		`<soap:Envelope xmlns:soap="http://www.w3.org/2003/05/soap-envelope"><soap:Body>` +
		`<nfeDistDFeInteresseResponse xmlns="http://www.portalfiscal.inf.br/nfe/wsdl/NFeDistribuicaoDFe"><nfeDistDFeInteresseResult>` +
		`<retDistDFeInt xmlns="http://www.portalfiscal.inf.br/nfe" versao="1.01">` + inner + `</retDistDFeInt>` +
		`</nfeDistDFeInteresseResult></nfeDistDFeInteresseResponse>` +
		`</soap:Body></soap:Envelope>`)
}

const summaryPayload = `<resNFe xmlns="http://www.portalfiscal.inf.br/nfe" versao="1.01">` +
	`<chNFe>35200714200166000187550010000000046550000046</chNFe>` +
	`<CNPJ>14200166000187</CNPJ>` +
	`<xNome>ACME INDUSTRIA LTDA</xNome>` +
	`<dhEmi>2026-08-20T09:15:00-03:00</dhEmi>` +
	`<vNF>1530.75</vNF>` +
	`</resNFe>`

const fullPayload = `<nfeProc xmlns="http://www.portalfiscal.inf.br/nfe" versao="4.00">` +
	`<NFe><infNFe Id="NFe35200714200166000187550010000000046550000046" versao="4.00">` +
	`<ide><nNF>4655</nNF><serie>1</serie><dhEmi>2026-08-20T09:15:00-03:00</dhEmi></ide>` +
	`<emit><CNPJ>14200166000187</CNPJ><xNome>ACME INDUSTRIA LTDA</xNome></emit>` +
	`<dest><CNPJ>99888777000166</CNPJ><xNome>DESTINATARIO SA</xNome></dest>` +
	`<det nItem="1"><prod><xProd>PARAFUSO M8</xProd><NCM>73181500</NCM><CFOP>5102</CFOP><qCom>100.0000</qCom><vUnCom>1.5000</vUnCom><vProd>150.00</vProd></prod></det>` +
	`<det nItem="2"><prod><xProd>PORCA M8</xProd><NCM>73181600</NCM><CFOP>5102</CFOP><qCom>100.0000</qCom><vUnCom>0.8000</vUnCom><vProd>80.00</vProd></prod></det>` +
	`<total><ICMSTot><vNF>230.00</vNF></ICMSTot></total>` +
	`<cobr>` +
	`<dup><nDup>001</nDup><dVenc>2026-09-20</dVenc><vDup>100.00</vDup></dup>` +
	`<dup><nDup>002</nDup><dVenc>2026-10-20</dVenc><vDup>80.00</vDup></dup>` +
	`<dup><nDup>003</nDup><dVenc>2026-11-20</dVenc><vDup>50.00</vDup></dup>` +
	`</cobr>` +
	`</infNFe></NFe>` +
	`<protNFe><infProt><chNFe>35200714200166000187550010000000046550000046</chNFe><nProt>135200000000001</nProt></infProt></protNFe>` +
	`</nfeProc>`

func TestParseDistributionResponseStatusAndCursor(t *testing.T) {
	body := distributionEnvelope(`<tpAmb>1</tpAmb><cStat>137</cStat><xMotivo>Nenhum documento localizado</xMotivo><ultNSU>000000000000050</ultNSU><maxNSU>000000000000050</maxNSU>`)

	result, err := ParseDistributionResponse(body)
	require.NoError(t, err)

	assert.Equal(t, "137", result.StatusCode)
	assert.Equal(t, "Nenhum documento localizado", result.Reason)
	assert.Equal(t, "000000000000050", result.LastNSU)
	assert.Equal(t, "000000000000050", result.MaxNSU)
	assert.Empty(t, result.Documents)
}

func TestParseDistributionResponseSummaryDocument(t *testing.T) {
	inner := `<cStat>138</cStat><xMotivo>Documento localizado</xMotivo><ultNSU>000000000000051</ultNSU><maxNSU>000000000000060</maxNSU>` +
		`<loteDistDFeInt>` + docZip(t, "000000000000051", "resNFe_v1.01.xsd", summaryPayload) + `</loteDistDFeInt>`

	result, err := ParseDistributionResponse(distributionEnvelope(inner))
	require.NoError(t, err)
	require.Len(t, result.Documents, 1)

	doc := result.Documents[0]
	assert.Equal(t, KindSummary, doc.Kind)
	assert.Equal(t, "000000000000051", doc.NSU)
	assert.Equal(t, "35200714200166000187550010000000046550000046", doc.AccessKey)
	assert.Equal(t, "14200166000187", doc.EmitterTaxID)
	assert.Equal(t, "ACME INDUSTRIA LTDA", doc.EmitterName)
	assert.Equal(t, "2026-08-20T09:15:00-03:00", doc.IssuedAt)
	assert.True(t, doc.Total.Equal(decimal.RequireFromString("1530.75")))
	assert.Empty(t, doc.Number)
}

func TestParseDistributionResponseFullDocument(t *testing.T) {
	inner := `<cStat>138</cStat><xMotivo>Documento localizado</xMotivo><ultNSU>000000000000052</ultNSU><maxNSU>000000000000060</maxNSU>` +
		`<loteDistDFeInt>` + docZip(t, "000000000000052", "procNFe_v4.00.xsd", fullPayload) + `</loteDistDFeInt>`

	result, err := ParseDistributionResponse(distributionEnvelope(inner))
	require.NoError(t, err)
	require.Len(t, result.Documents, 1)

	doc := result.Documents[0]
	assert.Equal(t, KindFull, doc.Kind)
	assert.Equal(t, "35200714200166000187550010000000046550000046", doc.AccessKey)
	assert.Equal(t, "4655", doc.Number)
	assert.Equal(t, "1", doc.Series)
	assert.True(t, doc.Total.Equal(decimal.RequireFromString("230.00")))

	// emit-scoped extraction: the dest block's CNPJ must not bleed through.
	assert.Equal(t, "14200166000187", doc.EmitterTaxID)
	assert.Equal(t, "ACME INDUSTRIA LTDA", doc.EmitterName)

	require.Len(t, doc.Items, 2)
	assert.Equal(t, "PARAFUSO M8", doc.Items[0].Description)
	assert.Equal(t, "73181500", doc.Items[0].NCM)
	assert.True(t, doc.Items[0].Quantity.Equal(decimal.RequireFromString("100.0000")))

	require.Len(t, doc.Installments, 3)
	assert.Equal(t, "001", doc.Installments[0].Number)
	assert.Equal(t, "2026-09-20", doc.Installments[0].DueDate)
	assert.True(t, doc.Installments[2].Value.Equal(decimal.RequireFromString("50.00")))
}

func TestParseDistributionResponseAccessKeyFromInfNFeID(t *testing.T) {
	payload := `<nfeProc xmlns="http://www.portalfiscal.inf.br/nfe"><NFe><infNFe Id="NFe35200714200166000187550010000000046550000046">` +
		`<emit><CNPJ>14200166000187</CNPJ><xNome>ACME</xNome></emit>` +
		`</infNFe></NFe></nfeProc>`
	inner := `<cStat>138</cStat><ultNSU>1</ultNSU><maxNSU>1</maxNSU>` +
		`<loteDistDFeInt>` + docZip(t, "1", "procNFe_v4.00.xsd", payload) + `</loteDistDFeInt>`

	result, err := ParseDistributionResponse(distributionEnvelope(inner))
	require.NoError(t, err)
	require.Len(t, result.Documents, 1)
	assert.Equal(t, "35200714200166000187550010000000046550000046", result.Documents[0].AccessKey)
}

func TestParseDistributionResponseEventSummarySkipClassification(t *testing.T) {
	payload := `<resEvento xmlns="http://www.portalfiscal.inf.br/nfe"><chNFe>35200714200166000187550010000000046550000046</chNFe><tpEvento>210210</tpEvento></resEvento>`
	inner := `<cStat>138</cStat><ultNSU>2</ultNSU><maxNSU>2</maxNSU>` +
		`<loteDistDFeInt>` + docZip(t, "2", "resEvento_v1.01.xsd", payload) + `</loteDistDFeInt>`

	result, err := ParseDistributionResponse(distributionEnvelope(inner))
	require.NoError(t, err)
	require.Len(t, result.Documents, 1)
	assert.Equal(t, KindEventSummary, result.Documents[0].Kind)
}

func TestParseDistributionResponseClassifiesBySniffingWhenSchemaMissing(t *testing.T) {
	inner := `<cStat>138</cStat><ultNSU>3</ultNSU><maxNSU>3</maxNSU>` +
		`<loteDistDFeInt>` + docZip(t, "3", "", summaryPayload) + `</loteDistDFeInt>`

	result, err := ParseDistributionResponse(distributionEnvelope(inner))
	require.NoError(t, err)
	require.Len(t, result.Documents, 1)
	assert.Equal(t, KindSummary, result.Documents[0].Kind)
}

func TestParseDistributionResponseBadDocumentDoesNotAbortBatch(t *testing.T) {
	inner := `<cStat>138</cStat><ultNSU>5</ultNSU><maxNSU>5</maxNSU>` +
		`<loteDistDFeInt>` +
		`<docZip NSU="4" schema="resNFe_v1.01.xsd">!!!not-base64!!!</docZip>` +
		docZip(t, "5", "resNFe_v1.01.xsd", summaryPayload) +
		`</loteDistDFeInt>`

	result, err := ParseDistributionResponse(distributionEnvelope(inner))
	require.NoError(t, err)

	require.Len(t, result.Documents, 1)
	assert.Equal(t, "5", result.Documents[0].NSU)
	require.Len(t, result.Errors, 1)
	assert.Contains(t, result.Errors[0].Error(), "NSU 4")
}

func TestParseDistributionResponseMissingRetElement(t *testing.T) {
	_, err := ParseDistributionResponse([]byte(`<soap:Envelope xmlns:soap="http://www.w3.org/2003/05/soap-envelope"><soap:Body/></soap:Envelope>`))
	assert.Error(t, err)
}

func TestParseEventResponseBatchAndEventLevels(t *testing.T) {
	body := []byte(`<?xml version="1.0" encoding="utf-8"?>` +
		`<soap:Envelope xmlns:soap="http://www.w3.org/2003/05/soap-envelope"><soap:Body>` +
		`<nfeRecepcaoEventoResult xmlns="http://www.portalfiscal.inf.br/nfe/wsdl/NFeRecepcaoEvento4">` +
		`<retEnvEvento xmlns="http://www.portalfiscal.inf.br/nfe" versao="1.00">` +
		`<idLote>1</idLote><tpAmb>1</tpAmb><cStat>128</cStat><xMotivo>Lote de evento processado</xMotivo>` +
		`<retEvento versao="1.00"><infEvento>` +
		`<tpAmb>1</tpAmb><cStat>573</cStat><xMotivo>Rejeicao: Duplicidade de evento</xMotivo>` +
		`<chNFe>35200714200166000187550010000000046550000046</chNFe>` +
		`<nProt>135200000000099</nProt><dhRegEvento>2026-08-30T10:00:01-03:00</dhRegEvento>` +
		`</infEvento></retEvento>` +
		`</retEnvEvento></nfeRecepcaoEventoResult></soap:Body></soap:Envelope>`)

	result, err := ParseEventResponse(body)
	require.NoError(t, err)

	// Batch accepted, event rejected: both levels reported independently.
	assert.Equal(t, "128", result.BatchStatusCode)
	assert.Equal(t, "Lote de evento processado", result.BatchReason)

	require.Len(t, result.Events, 1)
	ack := result.Events[0]
	assert.Equal(t, "573", ack.StatusCode)
	assert.Equal(t, "Rejeicao: Duplicidade de evento", ack.Reason)
	assert.Equal(t, "135200000000099", ack.Protocol)
	assert.Equal(t, "2026-08-30T10:00:01-03:00", ack.RegisteredAt)
	assert.Equal(t, "35200714200166000187550010000000046550000046", ack.AccessKey)
}

func TestParseEventResponseMissingRetElement(t *testing.T) {
	_, err := ParseEventResponse([]byte(`<Envelope/>`))
	assert.Error(t, err)
}
