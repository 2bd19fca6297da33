package flow

import (
	"math/rand/v2"
	"regexp"
	"strings"

	"github.com/RisarcimentoMiteni/intakebot/internal/models"
)

// Keywords that mark a message as plausibly about the PFAS/Miteni case.
var inContextKeywords = []string{
	"pfas", "pfoa", "pfos", "genx", "c6o4",
	"miteni", "mitsubishi", "icig",
	"trissino", "vicenza", "verona", "padova", "veneto",
	"inquinamento", "contaminazione", "inquinato", "contaminato",
	"acqua", "falda", "acquedotto", "pozzo", "rubinetto",
	"sostanze", "chimiche", "perfluorurati", "perfluoroalchiliche",
	"veleno", "tossico", "cancerogeno",
	"sangue", "analisi", "valori", "biomonitoraggio",
	"zona rossa", "aree contaminate",

	"risarcimento", "indennizzo", "compenso", "rimborso",
	"azione collettiva", "class action", "causa", "processo",
	"avvocato", "legale", "tribunale", "sentenza",
	"danni", "danno", "danneggiato",
	"finanziamento contenzioso", "spv", "litigation",
	"aderire", "aderente", "adesione",
	"documenti", "certificato", "residenza",
	"costi", "spese", "gratuito", "anticipare",
	"tempistiche", "tempo", "anni",

	"salute", "malattia", "malato", "patologia",
	"tumore", "cancro", "tiroide", "colesterolo", "diabete",
	"sintomi", "dottore", "medico", "ospedale", "asl",

	"casa", "abitazione", "immobile", "terreno", "proprietà",
	"residente", "abitare", "abitato", "vissuto",

	"mamme no pfas", "greenpeace", "legambiente",
	"questionario", "domanda", "compilare", "pratica",
	"aiuto", "assistenza", "supporto",

	"famiglia", "figli", "bambini", "parente", "deceduto",
	"preoccupato", "paura", "ansia", "sicuro", "proteggere",
}

// Keywords that mark a message as clearly off-topic.
var offTopicKeywords = []string{
	// food
	"ricetta", "cucinare", "cucina", "mangiare", "cibo",
	"pasta", "pizza", "carbonara", "ingredienti",
	// weather
	"meteo", "pioggia", "sole",
	// sport
	"calcio", "basket", "partita", "gol",
	// unrelated tech
	"computer", "smartphone", "app", "gioco", "videogioco",
	// entertainment
	"film", "serie tv", "musica", "canzone",
	// misc
	"scherzo", "barzelletta", "favola", "storia",
}

var genericQuestionPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)^come si (fa|fanno|prepara|cucina|gioca)`),
	regexp.MustCompile(`(?i)^cosa (è|sono) (il|la|i|le|un|una) [^pfas]`),
	regexp.MustCompile(`(?i)^perché (il|la|i|le) [^pfas]`),
	regexp.MustCompile(`(?i)^quando (è|sono|si) [^pfas]`),
	regexp.MustCompile(`(?i)^dove (è|sono|si trova) [^pfas]`),
}

var philosophicalPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)qual è il senso`),
	regexp.MustCompile(`(?i)perché esist`),
	regexp.MustCompile(`(?i)cosa significa la vita`),
}

// Classify decides whether a user message is plausibly about the
// questionnaire domain. It is pure and total: every string yields exactly
// one result. Ordered rules, first match wins; only high-confidence
// out-of-context verdicts may short-circuit a turn, anything else reaches
// the interpreter with the confidence as a prompt hint.
func Classify(message string) models.GuardrailResult {
	lowered := strings.ToLower(message)

	// Short messages without a question mark are almost always direct
	// questionnaire answers.
	if len([]rune(lowered)) < 20 && !strings.Contains(lowered, "?") {
		return models.GuardrailResult{
			InContext:  true,
			Confidence: models.ConfidenceHigh,
			Reason:     "short answer, likely responding to questionnaire",
		}
	}

	for _, kw := range offTopicKeywords {
		if strings.Contains(lowered, kw) {
			return models.GuardrailResult{
				InContext:  false,
				Confidence: models.ConfidenceHigh,
				Reason:     "contains off-topic keywords",
			}
		}
	}

	for _, kw := range inContextKeywords {
		if strings.Contains(lowered, kw) {
			return models.GuardrailResult{
				InContext:  true,
				Confidence: models.ConfidenceHigh,
				Reason:     "contains PFAS/Miteni context keywords",
			}
		}
	}

	for _, p := range genericQuestionPatterns {
		if p.MatchString(lowered) {
			return models.GuardrailResult{
				InContext:  false,
				Confidence: models.ConfidenceMedium,
				Reason:     "generic question without PFAS/Miteni context",
			}
		}
	}

	for _, p := range philosophicalPatterns {
		if p.MatchString(lowered) {
			return models.GuardrailResult{
				InContext:  false,
				Confidence: models.ConfidenceHigh,
				Reason:     "philosophical/abstract question",
			}
		}
	}

	return models.GuardrailResult{
		InContext:  true,
		Confidence: models.ConfidenceLow,
		Reason:     "unclear, deferring to the model layer",
	}
}

// offTopicResponses are the equivalent refusal templates for clearly
// off-topic messages, chosen uniformly at random.
var offTopicResponses = []string{
	"Mi dispiace, posso aiutarla solo con domande relative all'inquinamento da PFAS e al caso Miteni. Torniamo al questionario?",
	"Capisco, ma sono qui specificamente per assisterla con la pratica PFAS. Continuiamo con le domande del questionario?",
	"Per quella domanda non posso aiutarla, mi occupo esclusivamente del caso PFAS Miteni. Torniamo alla compilazione?",
	"Sono specializzato solo su questioni PFAS e risarcimenti Miteni. Possiamo continuare con il questionario?",
}

// OffTopicResponse picks one of the refusal templates.
func OffTopicResponse() string {
	return offTopicResponses[rand.IntN(len(offTopicResponses))]
}
