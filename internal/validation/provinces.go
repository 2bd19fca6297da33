package validation

import (
	"sort"
	"strings"
)

// provinceCodes maps Italian province names to their official two-letter
// codes. Veneto first: it is where the contaminated area lies.
var provinceCodes = map[string]string{
	// Veneto
	"vicenza": "VI",
	"padova":  "PD",
	"venezia": "VE",
	"verona":  "VR",
	"treviso": "TV",
	"rovigo":  "RO",
	"belluno": "BL",

	// Lombardia
	"milano":          "MI",
	"bergamo":         "BG",
	"brescia":         "BS",
	"como":            "CO",
	"cremona":         "CR",
	"lecco":           "LC",
	"lodi":            "LO",
	"mantova":         "MN",
	"pavia":           "PV",
	"sondrio":         "SO",
	"varese":          "VA",
	"monza e brianza": "MB",
	"monza":           "MB",

	// Piemonte
	"torino":      "TO",
	"alessandria": "AL",
	"asti":        "AT",
	"biella":      "BI",
	"cuneo":       "CN",
	"novara":      "NO",
	"verbania":    "VB",
	"vercelli":    "VC",

	// Trentino-Alto Adige
	"trento":  "TN",
	"bolzano": "BZ",

	// Friuli-Venezia Giulia
	"trieste":   "TS",
	"gorizia":   "GO",
	"pordenone": "PN",
	"udine":     "UD",

	// Liguria
	"genova":    "GE",
	"imperia":   "IM",
	"savona":    "SV",
	"la spezia": "SP",
	"spezia":    "SP",

	// Emilia-Romagna
	"bologna":       "BO",
	"ferrara":       "FE",
	"forli":         "FC",
	"forlì":         "FC",
	"forli cesena":  "FC",
	"forlì-cesena":  "FC",
	"modena":        "MO",
	"parma":         "PR",
	"piacenza":      "PC",
	"ravenna":       "RA",
	"reggio emilia": "RE",
	"reggio":        "RE",
	"rimini":        "RN",

	// Toscana
	"firenze":       "FI",
	"arezzo":        "AR",
	"grosseto":      "GR",
	"livorno":       "LI",
	"lucca":         "LU",
	"massa carrara": "MS",
	"massa":         "MS",
	"pisa":          "PI",
	"pistoia":       "PT",
	"prato":         "PO",
	"siena":         "SI",

	// Umbria
	"perugia": "PG",
	"terni":   "TR",

	// Marche
	"ancona":        "AN",
	"ascoli piceno": "AP",
	"ascoli":        "AP",
	"fermo":         "FM",
	"macerata":      "MC",
	"pesaro urbino": "PU",
	"pesaro":        "PU",

	// Lazio
	"roma":      "RM",
	"frosinone": "FR",
	"latina":    "LT",
	"rieti":     "RI",
	"viterbo":   "VT",

	// Abruzzo
	"l'aquila": "AQ",
	"aquila":   "AQ",
	"chieti":   "CH",
	"pescara":  "PE",
	"teramo":   "TE",

	// Molise
	"campobasso": "CB",
	"isernia":    "IS",

	// Campania
	"napoli":    "NA",
	"avellino":  "AV",
	"benevento": "BN",
	"caserta":   "CE",
	"salerno":   "SA",

	// Puglia
	"bari":                  "BA",
	"barletta andria trani": "BT",
	"barletta":              "BT",
	"brindisi":              "BR",
	"foggia":                "FG",
	"lecce":                 "LE",
	"taranto":               "TA",

	// Basilicata
	"potenza": "PZ",
	"matera":  "MT",

	// Calabria
	"catanzaro":       "CZ",
	"cosenza":         "CS",
	"crotone":         "KR",
	"reggio calabria": "RC",
	"vibo valentia":   "VV",
	"vibo":            "VV",

	// Sicilia
	"palermo":       "PA",
	"agrigento":     "AG",
	"caltanissetta": "CL",
	"catania":       "CT",
	"enna":          "EN",
	"messina":       "ME",
	"ragusa":        "RG",
	"siracusa":      "SR",
	"trapani":       "TP",

	// Sardegna
	"cagliari":          "CA",
	"carbonia":          "CI",
	"carbonia iglesias": "CI",
	"nuoro":             "NU",
	"oristano":          "OR",
	"sassari":           "SS",
	"olbia tempio":      "OT",
	"olbia":             "OT",
	"medio campidano":   "VS",
	"ogliastra":         "OG",
	"sud sardegna":      "SU",
}

// provinceNames holds the gazetteer keys in sorted order so that prefix
// matching is deterministic.
var provinceNames []string

var validCodes = map[string]struct{}{}

func init() {
	for name := range provinceCodes {
		provinceNames = append(provinceNames, name)
	}
	sort.Strings(provinceNames)
	for _, code := range []string{
		"AG", "AL", "AN", "AO", "AP", "AQ", "AR", "AT", "AV", "BA", "BG", "BI", "BL", "BN", "BO", "BR", "BS", "BT",
		"BZ", "CA", "CB", "CE", "CH", "CI", "CL", "CN", "CO", "CR", "CS", "CT", "CZ", "EN", "FC", "FE", "FG", "FI",
		"FM", "FR", "GE", "GO", "GR", "IM", "IS", "KR", "LC", "LE", "LI", "LO", "LT", "LU", "MB", "MC", "ME", "MI",
		"MN", "MO", "MS", "MT", "NA", "NO", "NU", "OG", "OR", "OT", "PA", "PC", "PD", "PE", "PG", "PI", "PN", "PO",
		"PR", "PT", "PU", "PV", "PZ", "RA", "RC", "RE", "RG", "RI", "RM", "RN", "RO", "SA", "SI", "SO", "SP", "SR",
		"SS", "SU", "SV", "TA", "TE", "TN", "TO", "TP", "TR", "TS", "TV", "UD", "VA", "VB", "VC", "VE", "VI", "VR",
		"VS", "VT", "VV",
	} {
		validCodes[code] = struct{}{}
	}
}

// MapProvince resolves a province name, partial name, or two-letter code to
// the official code. Resolution order: code, exact name, prefix match.
func MapProvince(input string) (string, bool) {
	normalized := strings.ToLower(strings.TrimSpace(input))
	if normalized == "" {
		return "", false
	}

	if len(normalized) == 2 {
		code := strings.ToUpper(normalized)
		if _, ok := validCodes[code]; ok {
			return code, true
		}
	}

	if code, ok := provinceCodes[normalized]; ok {
		return code, true
	}

	for _, name := range provinceNames {
		if strings.HasPrefix(name, normalized) || strings.HasPrefix(normalized, name) {
			return provinceCodes[name], true
		}
	}
	return "", false
}

// IsValidProvinceCode reports whether the code is an official province code.
func IsValidProvinceCode(code string) bool {
	_, ok := validCodes[strings.ToUpper(code)]
	return ok
}
