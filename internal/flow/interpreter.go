package flow

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/RisarcimentoMiteni/intakebot/internal/genai"
	"github.com/RisarcimentoMiteni/intakebot/internal/models"
	"github.com/RisarcimentoMiteni/intakebot/internal/resilience"
)

// How much recent history the AI layers read. The stored history is
// unbounded and authoritative; this is only the prompt window.
const historyWindow = 4

// Fallback replies when the model is unreachable or returns garbage. A turn
// must always produce some bot message and leave state unchanged.
const (
	fallbackTransientReply = "Mi dispiace, ho avuto un problema tecnico. Può riprovare tra un momento?"
	fallbackGenericReply   = "La capisco. Le rispondo con calma e poi continuiamo con la pratica. Mi dica pure se ha altre domande."
)

const interpreterSystemPrompt = `Sei un assistente legale empatico specializzato ESCLUSIVAMENTE sul caso PFAS Miteni.

CONTESTO:
Stai aiutando persone potenzialmente esposte all'inquinamento da PFAS causato dalla Miteni a compilare un questionario legale per richiedere risarcimento.

RUOLO DOPPIO:
1. Raccogli risposte per il questionario legale.
2. Rispondi SOLO a domande relative a:
   - PFAS (cosa sono, rischi sanitari, inquinamento)
   - Caso Miteni (responsabili, processo legale)
   - Questionario (cosa serve, perché certe domande)
   - Preoccupazioni dell'utente legate al caso
   - Salute (in relazione ai PFAS)
   - Risarcimenti e processo legale

LIMITI RIGIDI - NON RISPONDERE MAI A:
- Domande generiche non correlate a PFAS/Miteni
- Ricette, sport, intrattenimento, meteo
- Argomenti completamente fuori contesto
- Conversazioni casual o scherzi

SE LA DOMANDA È FUORI CONTESTO:
Rispondi educatamente che puoi aiutare solo con il caso PFAS e riporta gentilmente al questionario.

IMPORTANTISSIMO:
- Non fare diagnosi mediche personali.
- Non promettere rimborsi o soldi garantiti.
- Non spaventare.
- Se l'utente è ansioso sui PFAS, rassicuralo con calma.
- Se la domanda è vaga ma potrebbe essere correlata, chiedi chiarimenti.

OUTPUT:
Devi restituire SOLO un JSON di questo tipo:

{
  "kind": "answer" oppure "faq",
  "botReply": "testo che l'assistente dice ORA all'utente (tono umano, max ~4 frasi)",
  "interpretedAnswer": "testo pulito della risposta alla domanda corrente SE l'utente ha risposto a quella domanda, altrimenti null",
  "advance": true o false
}

Spiegazione campi:
- "kind":
   - "answer" se l'utente sta cercando di rispondere alla domanda corrente del questionario.
   - "faq" se l'utente sta chiedendo informazioni/dubbi/paure/contesto, NON una risposta alla domanda.
- "botReply":
   - Se kind = "faq": rispondi alla domanda dell'utente in modo rassicurante e umano, e ricordagli che stiamo compilando la pratica.
   - Se kind = "answer": ringrazia, conferma di aver capito, tono caldo.
- "interpretedAnswer":
   - Se kind = "answer": estrai la risposta alla DOMANDA CORRENTE in modo chiaro e breve (non inventare).
   - Se kind = "faq": deve essere null.
- "advance":
   - true solo se kind="answer" E la risposta è abbastanza chiara da poter salvare e passare alla prossima domanda.
   - false in tutti gli altri casi.`

// Interpreter is the AI conversation layer: it classifies each user message
// against the current question and extracts the cleaned answer when there is
// one. Every call goes through the shared circuit breaker with retries
// inside the gate.
type Interpreter struct {
	client  genai.ClientInterface
	breaker *resilience.CircuitBreaker
}

// NewInterpreter creates a turn interpreter.
func NewInterpreter(client genai.ClientInterface, breaker *resilience.CircuitBreaker) *Interpreter {
	return &Interpreter{client: client, breaker: breaker}
}

func formatHistory(entries []models.HistoryEntry) string {
	var lines []string
	for _, msg := range entries {
		if msg.From == models.SenderUser {
			lines = append(lines, "Utente: "+msg.Text)
		} else {
			lines = append(lines, "Assistente: "+msg.Text)
		}
	}
	return strings.Join(lines, "\n")
}

// Interpret classifies the user message relative to the current question.
// It never fails: transport errors and malformed model output both degrade
// to a defensive fallback that keeps the flow in place.
func (it *Interpreter) Interpret(ctx context.Context, conv *models.ConversationContext, currentQuestion, userMessage string, confidence models.GuardrailConfidence) models.Interpretation {
	historyText := formatHistory(conv.RecentHistory(historyWindow))
	if historyText == "" {
		historyText = "(nessuna history precedente)"
	}

	contextHint := ""
	if confidence == models.ConfidenceLow {
		contextHint = "\nATTENZIONE: Questa domanda potrebbe essere fuori contesto. Verifica che sia correlata a PFAS/Miteni prima di rispondere."
	}

	userPrompt := fmt.Sprintf(`CONTESTO CONVERSAZIONE (ultimi turni):
%s

DOMANDA DEL QUESTIONARIO A CUI STIAMO PROVANDO A RISPONDERE ORA:
"%s"

MESSAGGIO APPENA RICEVUTO DALL'UTENTE:
"%s"%s

COSA DEVI FARE:
1. PRIMA DI TUTTO: Verifica che il messaggio sia correlato a PFAS/Miteni/questionario.
   - Se NON è correlato (es. ricette, sport, domande generiche), restituisci kind="faq" con un messaggio che invita a tornare al questionario.

2. SE È CORRELATO: Capire se l'utente ti ha dato una risposta alla domanda corrente oppure ti sta chiedendo una cosa di contesto PFAS/paura.

3. Restituisci il JSON con kind, botReply, interpretedAnswer e advance, come spiegato sopra.

RICORDA: Rispondi SOLO con il JSON valido, senza testo aggiuntivo.`, historyText, currentQuestion, userMessage, contextHint)

	raw, err := it.breaker.Execute(func() (string, error) {
		return resilience.Retry(ctx, func() (string, error) {
			return it.client.Complete(ctx, interpreterSystemPrompt, userPrompt)
		}, resilience.RetryOptions{
			MaxRetries: 3,
			BaseDelay:  time.Second,
			OnRetry: func(attempt int, err error) {
				slog.Warn("Interpreter call retry", "sessionID", conv.SessionID, "attempt", attempt, "error", err)
			},
		})
	})
	if err != nil {
		slog.Error("Interpreter call failed after retries", "sessionID", conv.SessionID, "error", err)
		return models.Interpretation{
			Kind:     models.KindFaq,
			BotReply: fallbackTransientReply,
			Advance:  false,
		}
	}

	result, err := parseInterpretation(raw)
	if err != nil {
		slog.Warn("Interpreter returned malformed payload, using fallback", "sessionID", conv.SessionID, "error", err)
		return models.Interpretation{
			Kind:     models.KindFaq,
			BotReply: fallbackGenericReply,
			Advance:  false,
		}
	}
	return result
}

// parseInterpretation enforces the strict output contract: kind must be one
// of the two allowed tags, botReply non-empty, and the interpretedAnswer and
// advance fields must be present (interpretedAnswer may be explicitly null).
func parseInterpretation(raw string) (models.Interpretation, error) {
	text := strings.TrimSpace(raw)
	// Tolerate a fenced code block around the JSON.
	if strings.HasPrefix(text, "```") {
		text = strings.TrimPrefix(text, "```json")
		text = strings.TrimPrefix(text, "```")
		text = strings.TrimSuffix(strings.TrimSpace(text), "```")
		text = strings.TrimSpace(text)
	}

	var fields map[string]json.RawMessage
	if err := json.Unmarshal([]byte(text), &fields); err != nil {
		return models.Interpretation{}, fmt.Errorf("%w: %v", models.ErrInvalidPayload, err)
	}
	for _, required := range []string{"kind", "botReply", "interpretedAnswer", "advance"} {
		if _, ok := fields[required]; !ok {
			return models.Interpretation{}, fmt.Errorf("%w: missing field %q", models.ErrInvalidPayload, required)
		}
	}

	var payload struct {
		Kind              string  `json:"kind"`
		BotReply          string  `json:"botReply"`
		InterpretedAnswer *string `json:"interpretedAnswer"`
		Advance           bool    `json:"advance"`
	}
	if err := json.Unmarshal([]byte(text), &payload); err != nil {
		return models.Interpretation{}, fmt.Errorf("%w: %v", models.ErrInvalidPayload, err)
	}

	kind := models.InterpretationKind(payload.Kind)
	if !models.IsValidInterpretationKind(kind) {
		return models.Interpretation{}, fmt.Errorf("%w: unknown kind %q", models.ErrInvalidPayload, payload.Kind)
	}
	if strings.TrimSpace(payload.BotReply) == "" {
		return models.Interpretation{}, fmt.Errorf("%w: empty botReply", models.ErrInvalidPayload)
	}

	answer := ""
	if payload.InterpretedAnswer != nil {
		answer = strings.TrimSpace(*payload.InterpretedAnswer)
	}
	return models.Interpretation{
		Kind:              kind,
		BotReply:          payload.BotReply,
		InterpretedAnswer: answer,
		Advance:           payload.Advance,
	}, nil
}
