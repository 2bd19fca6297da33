package flow

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/RisarcimentoMiteni/intakebot/internal/models"
	"github.com/RisarcimentoMiteni/intakebot/internal/validation"
)

// Fixed controller replies. The farewell varies by whether the participant
// completed the full questionnaire or opted for a phone callback.
const (
	farewellCompleted = "Grazie per aver completato il questionario. Abbiamo tutte le informazioni necessarie. La ricontatteremo al più presto per i prossimi passi. Buona giornata."
	farewellCallback  = "Perfetto. Abbiamo registrato i suoi dati. La ricontatteremo al più presto al numero che ci ha fornito per completare il questionario insieme. Grazie."

	alreadyCompletedReply = "Vedo che hai già completato il questionario con questa email in precedenza. Se hai bisogno di aggiornare le tue informazioni, contattaci direttamente. Grazie!"
	resumeReply           = "Bentornato/a! Vedo che avevi già iniziato a compilare il questionario. Riprenderemo da dove avevi interrotto."

	technicalProblemReply = "Ci scusiamo, si è verificato un problema tecnico. Può riprovare tra qualche istante?"
)

// SessionStore is the slice of session persistence the controller needs.
type SessionStore interface {
	SaveSession(conv *models.ConversationContext) error
	FindSessionByEmail(email string) (*models.ConversationContext, error)
}

// RecordSyncer mirrors a session into an external record system. Upserts
// are best-effort: the controller fires them in the background and only
// logs failures.
type RecordSyncer interface {
	Upsert(ctx context.Context, conv *models.ConversationContext) error
}

// Controller orchestrates one conversation turn: guardrails, FAQ matching,
// AI interpretation, validation, state transitions and persistence.
type Controller struct {
	store        SessionStore
	interpreter  *Interpreter
	personalizer *Personalizer
	syncer       RecordSyncer
}

// NewController creates a Controller. syncer may be nil when no external
// record sync is configured.
func NewController(store SessionStore, interpreter *Interpreter, personalizer *Personalizer, syncer RecordSyncer) *Controller {
	return &Controller{
		store:        store,
		interpreter:  interpreter,
		personalizer: personalizer,
		syncer:       syncer,
	}
}

// HandleTurn processes a single user message against the session and returns
// the ordered bot messages for this turn. BotMessages always has at least
// one entry; Done is true iff the session is terminal after the turn.
//
// Any panic below this boundary is converted into a generic technical
// problem reply without persisting partial state.
func (c *Controller) HandleTurn(ctx context.Context, conv *models.ConversationContext, userMessage string) (result *models.TurnResult, err error) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("Panic during turn, returning generic reply", "sessionID", conv.SessionID, "panic", fmt.Sprint(r))
			result = &models.TurnResult{
				BotMessages: []string{technicalProblemReply},
				Done:        false,
			}
			err = nil
		}
	}()

	slog.Info("Handling user message", "sessionID", conv.SessionID, "state", conv.CurrentState, "messageLength", len(userMessage))

	if conv.CurrentState == models.StateFine {
		// Past the end: reply with a farewell, never mutate.
		farewell := farewellCallback
		if conv.Normalized("R17") != "" {
			farewell = farewellCompleted
		}
		return &models.TurnResult{BotMessages: []string{farewell}, Done: true}, nil
	}

	currentNode, err := GetNode(conv.CurrentState)
	if err != nil {
		return nil, err
	}

	// FAQ short-circuit: a canned answer exists and the user actually asked.
	if faq, ok := MatchFAQ(userMessage); ok && strings.Contains(userMessage, "?") {
		slog.Info("FAQ match found", "sessionID", conv.SessionID, "faq", faq.Question)
		conv.AppendUser(userMessage)
		conv.AppendBot(faq.Answer)
		if err := c.store.SaveSession(conv); err != nil {
			return nil, err
		}
		return &models.TurnResult{BotMessages: []string{faq.Answer}, Done: false}, nil
	}

	// Guardrail: deflect clearly off-topic messages without a model call.
	contextCheck := Classify(userMessage)
	if !contextCheck.InContext && contextCheck.Confidence == models.ConfidenceHigh {
		slog.Warn("Off-topic question detected", "sessionID", conv.SessionID, "reason", contextCheck.Reason)
		reply := OffTopicResponse()
		conv.AppendUser(userMessage)
		conv.AppendBot(reply)
		if err := c.store.SaveSession(conv); err != nil {
			return nil, err
		}
		return &models.TurnResult{BotMessages: []string{reply}, Done: false}, nil
	}

	interp := c.interpreter.Interpret(ctx, conv, currentNode.Question, userMessage, contextCheck.Confidence)
	slog.Info("Interpretation result", "sessionID", conv.SessionID, "state", conv.CurrentState,
		"kind", interp.Kind, "advance", interp.Advance, "hasInterpretedAnswer", interp.InterpretedAnswer != "")

	// The user turn goes into history now; the bot turn is appended only
	// once the final bubble is known.
	conv.AppendUser(userMessage)

	if interp.Kind == models.KindFaq {
		conv.AppendBot(interp.BotReply)
		if err := c.store.SaveSession(conv); err != nil {
			return nil, err
		}
		return &models.TurnResult{BotMessages: []string{interp.BotReply}, Done: false}, nil
	}

	// kind == "answer": validate and store under the current save key.
	if interp.InterpretedAnswer != "" && currentNode.SaveKey != "" {
		res := validation.ByKey(currentNode.SaveKey, interp.InterpretedAnswer)
		if !res.Valid {
			slog.Warn("Validation failed", "sessionID", conv.SessionID, "state", conv.CurrentState,
				"key", currentNode.SaveKey, "error", res.Error)
			retryMsg := res.Error + "\n\nPer favore, riprova."
			conv.AppendBot(retryMsg)
			if err := c.store.SaveSession(conv); err != nil {
				return nil, err
			}
			return &models.TurnResult{BotMessages: []string{retryMsg}, Done: false}, nil
		}

		normalized := res.Normalized
		if normalized == "" {
			normalized = interp.InterpretedAnswer
		}
		conv.SetAnswer(currentNode.SaveKey, userMessage, normalized)
		slog.Info("Answer saved", "sessionID", conv.SessionID, "key", currentNode.SaveKey)

		// Email is the durable identity key: an existing session for the
		// same email takes over this one.
		if currentNode.SaveKey == models.KeyEmail {
			if turn, handled, err := c.resumeByEmail(ctx, conv, normalized); err != nil {
				return nil, err
			} else if handled {
				return turn, nil
			}
		}

		c.fireSync(conv)
	}

	// Force the advance when the interpreter extracted an answer but forgot
	// to say so; otherwise identical turns loop forever.
	shouldAdvance := interp.Advance || (interp.Kind == models.KindAnswer && interp.InterpretedAnswer != "")
	if !shouldAdvance && interp.Kind == models.KindAnswer {
		slog.Warn("Interpreter returned answer without advance", "sessionID", conv.SessionID, "state", conv.CurrentState)
	}
	if shouldAdvance {
		nextState := currentNode.Next(conv, interp.InterpretedAnswer)
		slog.Info("State advanced", "sessionID", conv.SessionID, "from", conv.CurrentState, "to", nextState)
		conv.CurrentState = nextState
	}

	followupNode, err := GetNode(conv.CurrentState)
	if err != nil {
		return nil, err
	}

	// First entry into the summary state synthesizes the full recap.
	if conv.CurrentState == models.StateRiepilogo && conv.Normalized(models.KeyRiepilogo) == "" {
		slog.Info("Generating questionnaire summary", "sessionID", conv.SessionID)
		summary := GenerateSummary(conv)
		conv.SetAnswer(models.KeyRiepilogo, summary, summary)

		summaryMessage := summary + "\n\n" + followupNode.Question
		conv.AppendBot(summaryMessage)
		if err := c.store.SaveSession(conv); err != nil {
			return nil, err
		}
		c.fireSync(conv)
		return &models.TurnResult{BotMessages: []string{summaryMessage}, Done: false}, nil
	}

	personalized := strings.TrimSpace(c.personalizer.Personalize(ctx, conv, followupNode))

	// A direct interrogative stands alone; otherwise prepend the
	// conversational reply so the turn does not feel abrupt.
	var finalBubble string
	if strings.Contains(personalized, "?") && len(personalized) > 10 {
		finalBubble = personalized
	} else {
		finalBubble = strings.TrimSpace(strings.TrimSpace(interp.BotReply) + "\n\n" + personalized)
	}

	conv.AppendBot(finalBubble)
	if err := c.store.SaveSession(conv); err != nil {
		return nil, err
	}

	done := conv.CurrentState == models.StateFine
	if done {
		c.fireSync(conv)
	}

	slog.Info("Turn completed", "sessionID", conv.SessionID, "state", conv.CurrentState, "done", done)
	return &models.TurnResult{BotMessages: []string{finalBubble}, Done: done}, nil
}

// resumeByEmail implements the session-identity-resume protocol. When the
// freshly validated email maps to a different existing session, that session
// wins: finished sessions end this one too, unfinished ones are adopted
// wholesale and continued. handled is true when the turn was fully answered
// here.
func (c *Controller) resumeByEmail(ctx context.Context, conv *models.ConversationContext, email string) (*models.TurnResult, bool, error) {
	existing, err := c.store.FindSessionByEmail(email)
	if err != nil {
		slog.Error("Email lookup failed, continuing without resume", "sessionID", conv.SessionID, "error", err)
		return nil, false, nil
	}
	if existing == nil || existing.SessionID == conv.SessionID {
		return nil, false, nil
	}

	if existing.CurrentState == models.StateFine {
		slog.Info("Completed session found for email, closing current", "sessionID", conv.SessionID, "existingSessionID", existing.SessionID)
		conv.AppendBot(alreadyCompletedReply)
		conv.CurrentState = models.StateFine
		if err := c.store.SaveSession(conv); err != nil {
			return nil, false, err
		}
		return &models.TurnResult{BotMessages: []string{alreadyCompletedReply}, Done: true}, true, nil
	}

	slog.Info("Incomplete session found for email, resuming", "sessionID", conv.SessionID,
		"existingSessionID", existing.SessionID, "resumeState", existing.CurrentState)

	// Adopt the previous session's progress and keep the older history first.
	conv.Data = make(map[models.DataKey]models.AnswerRecord, len(existing.Data))
	for k, v := range existing.Data {
		conv.Data[k] = v
	}
	conv.CurrentState = existing.CurrentState
	conv.History = append(append([]models.HistoryEntry{}, existing.History...), conv.History...)

	conv.AppendBot(resumeReply)
	if err := c.store.SaveSession(conv); err != nil {
		return nil, false, err
	}

	resumeNode, err := GetNode(conv.CurrentState)
	if err != nil {
		return nil, false, err
	}
	question := c.personalizer.Personalize(ctx, conv, resumeNode)
	conv.AppendBot(question)
	if err := c.store.SaveSession(conv); err != nil {
		return nil, false, err
	}

	return &models.TurnResult{BotMessages: []string{resumeReply, question}, Done: false}, true, nil
}

// fireSync mirrors the session to the external record system without
// blocking the turn. The goroutine works on a snapshot: the turn keeps
// mutating the live context after firing. Failures are logged and never
// surface to the user.
func (c *Controller) fireSync(conv *models.ConversationContext) {
	if c.syncer == nil {
		return
	}
	snapshot := conv.Clone()
	go func() {
		defer func() {
			if r := recover(); r != nil {
				slog.Error("Panic during record sync", "sessionID", snapshot.SessionID, "panic", fmt.Sprint(r))
			}
		}()
		if err := c.syncer.Upsert(context.Background(), snapshot); err != nil {
			slog.Error("Record sync failed", "sessionID", snapshot.SessionID, "error", err)
		}
	}()
}
