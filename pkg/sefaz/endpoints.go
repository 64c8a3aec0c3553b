package sefaz

// Environment selects the authority deployment a call targets.
type Environment string

const (
	EnvProduction Environment = "production"
	EnvStaging    Environment = "staging"
)

// TpAmb returns the environment flag carried in every request body:
// 1=production, 2=staging.
func (e Environment) TpAmb() string {
	if e == EnvStaging {
		return "2"
	}
	return "1"
}

// Valid reports whether e names a known environment. The empty value is
// accepted and treated as production.
func (e Environment) Valid() bool {
	return e == "" || e == EnvProduction || e == EnvStaging
}

// Fixed authority endpoints per environment.
const (
	distributionURLProduction = "https://www1.nfe.fazenda.gov.br/NFeDistribuicaoDFe/NFeDistribuicaoDFe.asmx"
	distributionURLStaging    = "https://hom1.nfe.fazenda.gov.br/NFeDistribuicaoDFe/NFeDistribuicaoDFe.asmx"
	eventURLProduction        = "https://www.nfe.fazenda.gov.br/NFeRecepcaoEvento4/NFeRecepcaoEvento4.asmx"
	eventURLStaging           = "https://homologacao.nfe.fazenda.gov.br/NFeRecepcaoEvento4/NFeRecepcaoEvento4.asmx"
)

// SOAPActionEvent is the action header required by the event reception
// service. Distribution queries carry no action.
const SOAPActionEvent = "http://www.portalfiscal.inf.br/nfe/wsdl/NFeRecepcaoEvento4/nfeRecepcaoEvento"

// DistributionURL returns the distribution feed endpoint for e.
func (e Environment) DistributionURL() string {
	if e == EnvStaging {
		return distributionURLStaging
	}
	return distributionURLProduction
}

// EventURL returns the event reception endpoint for e.
func (e Environment) EventURL() string {
	if e == EnvStaging {
		return eventURLStaging
	}
	return eventURLProduction
}

// ufCodes maps a state abbreviation to its 2-digit authority code.
var ufCodes = map[string]string{
	"AC": "12", "AL": "27", "AP": "16", "AM": "13", "BA": "29", "CE": "23",
	"DF": "53", "ES": "32", "GO": "52", "MA": "21", "MT": "51", "MS": "50",
	"MG": "31", "PA": "15", "PB": "25", "PR": "41", "PE": "26", "PI": "22",
	"RJ": "33", "RN": "24", "RS": "43", "RO": "11", "RR": "14", "SC": "42",
	"SP": "35", "SE": "28", "TO": "17",
}

// UFCode resolves a state abbreviation to its authority code.
func UFCode(uf string) (string, bool) {
	code, ok := ufCodes[uf]
	return code, ok
}
