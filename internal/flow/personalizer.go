package flow

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/RisarcimentoMiteni/intakebot/internal/genai"
	"github.com/RisarcimentoMiteni/intakebot/internal/models"
	"github.com/RisarcimentoMiteni/intakebot/internal/resilience"
)

const personalizerSystemPrompt = `Sei un assistente legale empatico.
Devi fare la prossima domanda del questionario legale
in modo comprensibile e personalizzato,
ma SENZA cambiare il senso legale della domanda originale.

Regole:
- Tono caldo, semplice, non robotico.
- Puoi fare riferimento a dettagli che l'utente ha già detto, per dimostrare che ascolti.
- Non promettere risarcimenti garantiti.
- Non fare diagnosi.
- Alla fine DEVE comunque risultare chiaro cosa deve rispondere l'utente.
- Una domanda sola, max 2 frasi brevi.`

// Personalizer rewrites the next canonical question using previously
// collected data, without altering its legal meaning. Strictly best-effort:
// any failure falls back to the canonical text.
type Personalizer struct {
	client  genai.ClientInterface
	breaker *resilience.CircuitBreaker
}

// NewPersonalizer creates a question personalizer.
func NewPersonalizer(client genai.ClientInterface, breaker *resilience.CircuitBreaker) *Personalizer {
	return &Personalizer{client: client, breaker: breaker}
}

// knownBits digests the last non-empty collected fields for the prompt,
// in deterministic key order.
func knownBits(conv *models.ConversationContext, max int) string {
	keys := make([]string, 0, len(conv.Data))
	for k := range conv.Data {
		keys = append(keys, string(k))
	}
	sort.Strings(keys)

	var bits []string
	for _, k := range keys {
		if v := conv.Data[models.DataKey(k)].Normalized; v != "" {
			bits = append(bits, k+": "+v)
		}
	}
	if len(bits) > max {
		bits = bits[len(bits)-max:]
	}
	return strings.Join(bits, " | ")
}

// Personalize rewrites node.Question for this participant. On any model
// failure, or when the rewrite drifts from the original, the canonical
// question is returned verbatim so personalization never blocks progress.
func (p *Personalizer) Personalize(ctx context.Context, conv *models.ConversationContext, node Node) string {
	bits := knownBits(conv, historyWindow)
	if bits == "" {
		bits = "(nessun dato significativo salvato ancora)"
	}
	historyText := formatHistory(conv.RecentHistory(historyWindow))
	if historyText == "" {
		historyText = "(poco contesto finora)"
	}

	userPrompt := fmt.Sprintf(`DATI CHE ABBIAMO RACCOLTO (ultimi punti chiave):
%s

ANDAMENTO DEL DIALOGO FINO AD ORA:
%s

DOMANDA LEGALE UFFICIALE DA PORRE ORA (non alterare il significato, solo riscriverla con tatto umano):
"%s"

Riscrivi questa domanda in modo umano e personale per l'utente.`, bits, historyText, node.Question)

	personalized, err := p.breaker.Execute(func() (string, error) {
		return resilience.Retry(ctx, func() (string, error) {
			return p.client.Complete(ctx, personalizerSystemPrompt, userPrompt)
		}, resilience.RetryOptions{
			MaxRetries: 2,
			BaseDelay:  800 * time.Millisecond,
			OnRetry: func(attempt int, err error) {
				slog.Warn("Personalization retry", "sessionID", conv.SessionID, "attempt", attempt, "error", err)
			},
		})
	})
	if err != nil {
		slog.Error("Personalization failed, using canonical question", "sessionID", conv.SessionID, "error", err)
		return node.Question
	}

	personalized = strings.TrimSpace(personalized)
	if personalized == "" || driftedFromOriginal(personalized, node.Question) {
		slog.Warn("Personalized question drifted from canonical text, discarding", "sessionID", conv.SessionID)
		return node.Question
	}
	return personalized
}

// driftedFromOriginal rejects rewrites that lost the interrogative or whose
// length moved too far from the canonical question to still carry the same
// legal content.
func driftedFromOriginal(rewritten, original string) bool {
	if !strings.Contains(rewritten, "?") && strings.Contains(original, "?") {
		return true
	}
	origLen := len([]rune(original))
	newLen := len([]rune(rewritten))
	return newLen < origLen/3 || newLen > origLen*4
}
