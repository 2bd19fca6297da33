package flow

import (
	"fmt"
	"strings"

	"github.com/RisarcimentoMiteni/intakebot/internal/models"
)

// summaryQuestions lists the questionnaire answers in the order they appear
// in the final recap.
var summaryQuestions = []struct {
	Key  models.DataKey
	Text string
}{
	{"R1", "Cosa sa dell'inquinamento da PFAS e dei relativi responsabili?"},
	{"R2", "Da quanto tempo lo sa e da quale fonte l'ha scoperto?"},
	{"R3", "Per cosa usate l'acqua del rubinetto?"},
	{"R4", "Se non la usate più, cosa usate al posto dell'acqua del rubinetto?"},
	{"R5", "Cosa vi ha consigliato il Comune o enti simili? Avete copia degli avvisi?"},
	{"R6", "I PFAS possono causare danni alla salute, lo sapeva?"},
	{"R7", "Avete mai eseguito i controlli per vedere i valori dei PFAS nel sangue?"},
	{"R8", "Quali sono i valori? Ha il referto di queste analisi/visite?"},
	{"R9", "Ha fatto ulteriori visite specifiche legate a questo problema?"},
	{"R10", "Se lei vive nella zona rossa, da quanto tempo ci vive?"},
	{"R11", "La casa è di proprietà o in affitto?"},
	{"R12", "Ha provato a venderla/affittarla da quando ha saputo dell'inquinamento?"},
	{"R13", "Com'è composto il suo nucleo familiare?"},
	{"R14", "Lei o qualcuno della sua famiglia vi siete ammalati negli ultimi anni?"},
	{"R15", "Qualcuno della sua famiglia è venuto a mancare per malattie collegate ai PFAS?"},
	{"R16", "Ha un orto? Se sì, lo usa ancora come prima?"},
	{"R17", "Ha smesso o ridotto certe attività all'aperto per paura dell'inquinamento?"},
}

func answerOr(ctx *models.ConversationContext, key models.DataKey, fallback string) string {
	if v := ctx.Normalized(key); v != "" {
		return v
	}
	return fallback
}

// GenerateSummary synthesizes the full recap of every collected field,
// shown to the participant for the legally binding final confirmation.
func GenerateSummary(ctx *models.ConversationContext) string {
	var b strings.Builder

	b.WriteString("=== DATI ANAGRAFICI ===\n")
	b.WriteString(fmt.Sprintf("Nome: %s\n", answerOr(ctx, models.KeyNome, "N/A")))
	b.WriteString(fmt.Sprintf("Cognome: %s\n", answerOr(ctx, models.KeyCognome, "N/A")))
	b.WriteString(fmt.Sprintf("Email: %s\n", answerOr(ctx, models.KeyEmail, "N/A")))
	b.WriteString(fmt.Sprintf("Telefono: %s\n", answerOr(ctx, models.KeyTelefono, "N/A")))
	b.WriteString(fmt.Sprintf("Sesso: %s\n", answerOr(ctx, models.KeySesso, "N/A")))
	b.WriteString(fmt.Sprintf("Luogo di nascita: %s\n", answerOr(ctx, models.KeyLuogoNascita, "N/A")))
	b.WriteString(fmt.Sprintf("Provincia di nascita: %s\n", answerOr(ctx, models.KeyProvinciaNascita, "N/A")))
	b.WriteString(fmt.Sprintf("Data di nascita: %s\n", answerOr(ctx, models.KeyDataNascita, "N/A")))
	b.WriteString(fmt.Sprintf("Modalità compilazione: %s\n", answerOr(ctx, models.KeyModalita, "N/A")))
	b.WriteString("\n=== QUESTIONARIO PFAS ===\n\n")

	for i, q := range summaryQuestions {
		b.WriteString(fmt.Sprintf("%d. %s\n", i+1, q.Text))
		b.WriteString(fmt.Sprintf("   Risposta: %s\n\n", answerOr(ctx, q.Key, "N/A")))
	}

	b.WriteString("=== FINE RIEPILOGO ===")
	return b.String()
}
