package flow

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/RisarcimentoMiteni/intakebot/internal/models"
	"github.com/RisarcimentoMiteni/intakebot/internal/store"
)

// recordingSyncer captures background upserts for assertions.
type recordingSyncer struct {
	ch chan *models.ConversationContext
}

func newRecordingSyncer() *recordingSyncer {
	return &recordingSyncer{ch: make(chan *models.ConversationContext, 8)}
}

func (r *recordingSyncer) Upsert(ctx context.Context, conv *models.ConversationContext) error {
	r.ch <- conv
	return nil
}

func (r *recordingSyncer) await(t *testing.T) *models.ConversationContext {
	t.Helper()
	select {
	case conv := <-r.ch:
		return conv
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for record sync")
		return nil
	}
}

func newTestController(client *scriptedClient, syncer RecordSyncer) (*Controller, *store.InMemoryStore) {
	st := store.NewInMemoryStore()
	breaker := newBreaker()
	interpreter := NewInterpreter(client, breaker)
	personalizer := NewPersonalizer(client, breaker)
	return NewController(st, interpreter, personalizer, syncer), st
}

func TestHandleTurnAdvancesOnValidAnswer(t *testing.T) {
	personalized := "Piacere Mario! Mi può dire anche il suo cognome?"
	client := &scriptedClient{responses: []string{
		interpJSON("answer", "Grazie Mario, piacere di conoscerla.", "mario", true),
		personalized,
	}}
	c, st := newTestController(client, nil)

	conv := models.NewConversationContext("turn-advance")
	result, err := c.HandleTurn(context.Background(), conv, "mi chiamo mario")
	if err != nil {
		t.Fatalf("HandleTurn failed: %v", err)
	}

	if len(result.BotMessages) != 1 || result.BotMessages[0] != personalized {
		t.Errorf("BotMessages = %v, want the personalized question alone", result.BotMessages)
	}
	if result.Done {
		t.Errorf("turn must not be terminal")
	}
	if conv.CurrentState != models.StateCognome {
		t.Errorf("state = %s, want %s", conv.CurrentState, models.StateCognome)
	}
	if got := conv.Normalized(models.KeyNome); got != "Mario" {
		t.Errorf("stored name = %q, want validated %q", got, "Mario")
	}
	if len(conv.History) != 2 {
		t.Errorf("history has %d entries, want user + bot", len(conv.History))
	}
	if client.calls != 2 {
		t.Errorf("model calls = %d, want interpret + personalize", client.calls)
	}

	saved, err := st.GetSession("turn-advance")
	if err != nil || saved == nil {
		t.Fatalf("session was not persisted: %v", err)
	}
	if saved.CurrentState != models.StateCognome {
		t.Errorf("persisted state = %s, want %s", saved.CurrentState, models.StateCognome)
	}
}

func TestHandleTurnFAQShortCircuit(t *testing.T) {
	client := &scriptedClient{}
	c, _ := newTestController(client, nil)

	conv := models.NewConversationContext("turn-faq")
	result, err := c.HandleTurn(context.Background(), conv, "Quanto posso ottenere?")
	if err != nil {
		t.Fatalf("HandleTurn failed: %v", err)
	}

	if client.calls != 0 {
		t.Errorf("FAQ short-circuit must not call the model, got %d calls", client.calls)
	}
	if len(result.BotMessages) != 1 || !strings.Contains(result.BotMessages[0], "30.000 euro") {
		t.Errorf("BotMessages = %v, want the canned compensation answer", result.BotMessages)
	}
	if conv.CurrentState != models.StateNome {
		t.Errorf("FAQ must not advance the flow, state = %s", conv.CurrentState)
	}
	if len(conv.History) != 2 {
		t.Errorf("history has %d entries, want user + bot", len(conv.History))
	}
}

func TestHandleTurnFAQRequiresQuestionMark(t *testing.T) {
	// Keyword match alone is not enough; without "?" the message reaches
	// the interpreter as a regular turn.
	client := &scriptedClient{responses: []string{
		interpJSON("answer", "Va bene.", "vorrei sapere quanto ottengo ma intanto continuiamo", true),
		"Capito. Da quanto tempo lo sa e come l'ha scoperto?",
	}}
	c, _ := newTestController(client, nil)

	conv := models.NewConversationContext("turn-faq-no-qmark")
	conv.CurrentState = models.StateR1
	if _, err := c.HandleTurn(context.Background(), conv, "vorrei capire quanto si ottiene di solito"); err != nil {
		t.Fatalf("HandleTurn failed: %v", err)
	}
	if client.calls == 0 {
		t.Errorf("message without question mark must reach the interpreter")
	}
}

func TestHandleTurnOffTopicDeflection(t *testing.T) {
	client := &scriptedClient{}
	c, _ := newTestController(client, nil)

	conv := models.NewConversationContext("turn-offtopic")
	result, err := c.HandleTurn(context.Background(), conv, "Mi dici la ricetta della carbonara?")
	if err != nil {
		t.Fatalf("HandleTurn failed: %v", err)
	}

	if client.calls != 0 {
		t.Errorf("high-confidence off-topic must not call the model, got %d calls", client.calls)
	}
	found := false
	for _, tmpl := range offTopicResponses {
		if result.BotMessages[0] == tmpl {
			found = true
			break
		}
	}
	if !found {
		t.Errorf("deflection %q is not one of the refusal templates", result.BotMessages[0])
	}
	if conv.CurrentState != models.StateNome {
		t.Errorf("deflection must not advance the flow, state = %s", conv.CurrentState)
	}
}

func TestHandleTurnInterpreterFaqReply(t *testing.T) {
	reply := "I PFAS sono sostanze chimiche molto persistenti. Torniamo al questionario: qual è il suo nome?"
	client := &scriptedClient{responses: []string{interpJSON("faq", reply, "", false)}}
	c, _ := newTestController(client, nil)

	conv := models.NewConversationContext("turn-interp-faq")
	result, err := c.HandleTurn(context.Background(), conv, "Cosa sono i PFAS?")
	if err != nil {
		t.Fatalf("HandleTurn failed: %v", err)
	}

	if len(result.BotMessages) != 1 || result.BotMessages[0] != reply {
		t.Errorf("BotMessages = %v, want the contextual reply", result.BotMessages)
	}
	if conv.CurrentState != models.StateNome {
		t.Errorf("contextual reply must not advance the flow, state = %s", conv.CurrentState)
	}
	if client.calls != 1 {
		t.Errorf("model calls = %d, want interpret only", client.calls)
	}
}

func TestHandleTurnValidationRetry(t *testing.T) {
	client := &scriptedClient{responses: []string{interpJSON("answer", "Capito.", "M", true)}}
	c, _ := newTestController(client, nil)

	conv := models.NewConversationContext("turn-invalid")
	result, err := c.HandleTurn(context.Background(), conv, "M")
	if err != nil {
		t.Fatalf("HandleTurn failed: %v", err)
	}

	if !strings.HasSuffix(result.BotMessages[0], "Per favore, riprova.") {
		t.Errorf("retry message = %q, want the validation error plus retry prompt", result.BotMessages[0])
	}
	if conv.CurrentState != models.StateNome {
		t.Errorf("invalid answer must keep the flow in place, state = %s", conv.CurrentState)
	}
	if _, ok := conv.Answer(models.KeyNome); ok {
		t.Errorf("invalid answer must not be stored")
	}
	if client.calls != 1 {
		t.Errorf("model calls = %d, want interpret only", client.calls)
	}
}

func TestHandleTurnForcedAdvance(t *testing.T) {
	personalized := "Grazie! E il suo cognome qual è?"
	client := &scriptedClient{responses: []string{
		interpJSON("answer", "Grazie.", "Mario", false),
		personalized,
	}}
	c, _ := newTestController(client, nil)

	conv := models.NewConversationContext("turn-forced")
	result, err := c.HandleTurn(context.Background(), conv, "Mario")
	if err != nil {
		t.Fatalf("HandleTurn failed: %v", err)
	}

	if conv.CurrentState != models.StateCognome {
		t.Errorf("extracted answer must force the advance, state = %s", conv.CurrentState)
	}
	if result.BotMessages[0] != personalized {
		t.Errorf("BotMessages = %v", result.BotMessages)
	}
}

func TestHandleTurnNormalizesPhoneAnswer(t *testing.T) {
	personalized := "Perfetto! Preferisce proseguire qui in chat o essere ricontattato al telefono?"
	client := &scriptedClient{responses: []string{
		interpJSON("answer", "Grazie, numero registrato.", "3331234567", true),
		personalized,
	}}
	c, _ := newTestController(client, nil)

	conv := models.NewConversationContext("turn-telefono")
	conv.CurrentState = models.StateTelefono

	result, err := c.HandleTurn(context.Background(), conv, "3331234567")
	if err != nil {
		t.Fatalf("HandleTurn failed: %v", err)
	}

	if conv.CurrentState != models.StateModalita {
		t.Errorf("state = %s, want %s", conv.CurrentState, models.StateModalita)
	}
	rec, ok := conv.Answer(models.KeyTelefono)
	if !ok {
		t.Fatal("phone answer was not stored")
	}
	if rec.Normalized != "+393331234567" {
		t.Errorf("normalized phone = %q, want +393331234567", rec.Normalized)
	}
	if rec.Original != "3331234567" {
		t.Errorf("original phone = %q, want the raw message", rec.Original)
	}
	if result.BotMessages[0] != personalized {
		t.Errorf("BotMessages = %v, want the channel question alone", result.BotMessages)
	}
}

func TestHandleTurnPhoneBranchCompletes(t *testing.T) {
	syncer := newRecordingSyncer()
	client := &scriptedClient{responses: []string{
		interpJSON("answer", "Perfetto, la chiameremo noi.", "telefono", true),
		"ok",
	}}
	c, _ := newTestController(client, syncer)

	conv := models.NewConversationContext("turn-phone")
	conv.CurrentState = models.StateModalita
	conv.SetAnswer(models.KeyNome, "mario", "Mario")
	conv.SetAnswer(models.KeyTelefono, "333 123 4567", "+393331234567")

	result, err := c.HandleTurn(context.Background(), conv, "preferisco essere chiamato")
	if err != nil {
		t.Fatalf("HandleTurn failed: %v", err)
	}

	if !result.Done {
		t.Errorf("phone branch must finish the session")
	}
	if conv.CurrentState != models.StateFine {
		t.Errorf("state = %s, want %s", conv.CurrentState, models.StateFine)
	}
	if conv.Normalized(models.KeyModalita) != "TELEFONO" {
		t.Errorf("stored channel = %q, want TELEFONO", conv.Normalized(models.KeyModalita))
	}
	// The drifted rewrite falls back to the canonical closing text, glued
	// after the conversational reply.
	if !strings.HasPrefix(result.BotMessages[0], "Perfetto, la chiameremo noi.") {
		t.Errorf("final bubble should open with the model reply: %q", result.BotMessages[0])
	}
	if !strings.Contains(result.BotMessages[0], Graph[models.StateFine].Question) {
		t.Errorf("final bubble should contain the canonical closing text: %q", result.BotMessages[0])
	}

	// One sync after the saved answer, one at completion.
	if got := syncer.await(t); got.SessionID != "turn-phone" {
		t.Errorf("synced session %q, want turn-phone", got.SessionID)
	}
	syncer.await(t)
}

func TestHandleTurnSyncWorksOnSnapshot(t *testing.T) {
	syncer := newRecordingSyncer()
	client := &scriptedClient{responses: []string{
		interpJSON("answer", "Grazie Mario.", "mario", true),
		"Piacere Mario! Mi può dire anche il suo cognome?",
	}}
	c, _ := newTestController(client, syncer)

	conv := models.NewConversationContext("turn-sync-snapshot")
	if _, err := c.HandleTurn(context.Background(), conv, "mi chiamo mario"); err != nil {
		t.Fatalf("HandleTurn failed: %v", err)
	}

	got := syncer.await(t)
	if got == conv {
		t.Fatal("syncer received the live session pointer")
	}
	// The sync fires right after the answer is saved: before the bot reply
	// lands in history and before the state advances.
	if got.CurrentState != models.StateNome {
		t.Errorf("synced state = %s, want the pre-advance %s", got.CurrentState, models.StateNome)
	}
	if len(got.History) != 1 {
		t.Errorf("synced history has %d entries, want the user turn only", len(got.History))
	}
	if got.Normalized(models.KeyNome) != "Mario" {
		t.Errorf("synced name = %q, want Mario", got.Normalized(models.KeyNome))
	}

	// Later turn mutations must not reach the synced copy.
	conv.SetAnswer(models.KeyNome, "luigi", "Luigi")
	conv.AppendBot("changed after the turn")
	if got.Normalized(models.KeyNome) != "Mario" || len(got.History) != 1 {
		t.Errorf("turn mutation leaked into the synced copy: %+v", got)
	}
}

func TestHandleTurnSummarySynthesis(t *testing.T) {
	client := &scriptedClient{responses: []string{
		interpJSON("answer", "Grazie, registrato.", "Sì, ho smesso con l'orto", true),
	}}
	c, _ := newTestController(client, nil)

	conv := models.NewConversationContext("turn-summary")
	conv.CurrentState = models.StateR17
	conv.SetAnswer(models.KeyNome, "mario", "Mario")
	conv.SetAnswer(models.KeyEmail, "mario@example.com", "mario@example.com")
	conv.SetAnswer("R1", "so tutto", "So che la Miteni ha inquinato la falda")

	result, err := c.HandleTurn(context.Background(), conv, "ho smesso di coltivare e di stare in giardino")
	if err != nil {
		t.Fatalf("HandleTurn failed: %v", err)
	}

	if conv.CurrentState != models.StateRiepilogo {
		t.Errorf("state = %s, want %s", conv.CurrentState, models.StateRiepilogo)
	}
	msg := result.BotMessages[0]
	if !strings.HasPrefix(msg, "=== DATI ANAGRAFICI ===") {
		t.Errorf("summary bubble should open with the recap, got %q", msg[:40])
	}
	if !strings.Contains(msg, Graph[models.StateRiepilogo].Question) {
		t.Errorf("summary bubble should end with the confirmation request")
	}
	if conv.Normalized(models.KeyRiepilogo) == "" {
		t.Errorf("synthesized recap must be stored")
	}
	if client.calls != 1 {
		t.Errorf("summary synthesis must not call the personalizer, calls = %d", client.calls)
	}
}

func TestHandleTurnTerminalFarewells(t *testing.T) {
	client := &scriptedClient{}
	c, _ := newTestController(client, nil)

	completed := models.NewConversationContext("turn-done-full")
	completed.CurrentState = models.StateFine
	completed.SetAnswer("R17", "no", "No")
	result, err := c.HandleTurn(context.Background(), completed, "ciao?")
	if err != nil {
		t.Fatalf("HandleTurn failed: %v", err)
	}
	if !result.Done || result.BotMessages[0] != farewellCompleted {
		t.Errorf("completed session farewell = %+v", result)
	}

	callback := models.NewConversationContext("turn-done-phone")
	callback.CurrentState = models.StateFine
	result, err = c.HandleTurn(context.Background(), callback, "ci siete?")
	if err != nil {
		t.Fatalf("HandleTurn failed: %v", err)
	}
	if !result.Done || result.BotMessages[0] != farewellCallback {
		t.Errorf("callback session farewell = %+v", result)
	}

	if client.calls != 0 {
		t.Errorf("terminal turns must not call the model, got %d calls", client.calls)
	}
	if len(completed.History) != 0 || len(callback.History) != 0 {
		t.Errorf("terminal turns must not mutate history")
	}
}

func TestHandleTurnResumesExistingSession(t *testing.T) {
	client := &scriptedClient{responses: []string{
		interpJSON("answer", "Grazie.", "Mario.Rossi@Example.com", true),
		"ok",
	}}
	c, st := newTestController(client, nil)

	existing := models.NewConversationContext("old-session")
	existing.CurrentState = models.StateR3
	existing.SetAnswer(models.KeyNome, "mario", "Mario")
	existing.SetAnswer(models.KeyCognome, "rossi", "Rossi")
	existing.SetAnswer(models.KeyEmail, "mario.rossi@example.com", "mario.rossi@example.com")
	existing.AppendUser("mario")
	existing.AppendBot("Perfetto. Il suo cognome?")
	if err := st.SaveSession(existing); err != nil {
		t.Fatalf("seeding existing session failed: %v", err)
	}

	conv := models.NewConversationContext("new-session")
	conv.CurrentState = models.StateEmail
	conv.SetAnswer(models.KeyNome, "mario", "Mario")

	result, err := c.HandleTurn(context.Background(), conv, "Mario.Rossi@Example.com")
	if err != nil {
		t.Fatalf("HandleTurn failed: %v", err)
	}

	if len(result.BotMessages) != 2 {
		t.Fatalf("resume turn must produce two bubbles, got %v", result.BotMessages)
	}
	if result.BotMessages[0] != resumeReply {
		t.Errorf("first bubble = %q, want the resume notice", result.BotMessages[0])
	}
	// Drifted rewrite falls back to the canonical question of the resumed state.
	if result.BotMessages[1] != Graph[models.StateR3].Question {
		t.Errorf("second bubble = %q, want the resumed question", result.BotMessages[1])
	}
	if result.Done {
		t.Errorf("resumed session is not terminal")
	}
	if conv.CurrentState != models.StateR3 {
		t.Errorf("state = %s, want adopted %s", conv.CurrentState, models.StateR3)
	}
	if conv.Normalized(models.KeyCognome) != "Rossi" {
		t.Errorf("adopted data missing, cognome = %q", conv.Normalized(models.KeyCognome))
	}
	if len(conv.History) == 0 || conv.History[0].Text != "mario" {
		t.Errorf("adopted history must come first, got %+v", conv.History)
	}
}

func TestHandleTurnClosesWhenEmailAlreadyCompleted(t *testing.T) {
	client := &scriptedClient{responses: []string{
		interpJSON("answer", "Grazie.", "mario.rossi@example.com", true),
	}}
	c, st := newTestController(client, nil)

	existing := models.NewConversationContext("finished-session")
	existing.CurrentState = models.StateFine
	existing.SetAnswer(models.KeyEmail, "mario.rossi@example.com", "mario.rossi@example.com")
	if err := st.SaveSession(existing); err != nil {
		t.Fatalf("seeding existing session failed: %v", err)
	}

	conv := models.NewConversationContext("duplicate-session")
	conv.CurrentState = models.StateEmail

	result, err := c.HandleTurn(context.Background(), conv, "mario.rossi@example.com")
	if err != nil {
		t.Fatalf("HandleTurn failed: %v", err)
	}

	if !result.Done {
		t.Errorf("duplicate of a completed questionnaire must end the session")
	}
	if result.BotMessages[0] != alreadyCompletedReply {
		t.Errorf("reply = %q, want the already-completed notice", result.BotMessages[0])
	}
	if conv.CurrentState != models.StateFine {
		t.Errorf("state = %s, want %s", conv.CurrentState, models.StateFine)
	}
	if client.calls != 1 {
		t.Errorf("model calls = %d, want interpret only", client.calls)
	}
}

// panicStore blows up on save to exercise the turn panic boundary.
type panicStore struct{}

func (panicStore) SaveSession(*models.ConversationContext) error { panic("disk on fire") }
func (panicStore) FindSessionByEmail(string) (*models.ConversationContext, error) {
	return nil, nil
}

func TestHandleTurnRecoversFromPanic(t *testing.T) {
	client := &scriptedClient{}
	breaker := newBreaker()
	c := NewController(panicStore{}, NewInterpreter(client, breaker), NewPersonalizer(client, breaker), nil)

	conv := models.NewConversationContext("turn-panic")
	result, err := c.HandleTurn(context.Background(), conv, "Quanto posso ottenere?")
	if err != nil {
		t.Fatalf("panic boundary must not surface an error, got %v", err)
	}
	if result.Done || result.BotMessages[0] != technicalProblemReply {
		t.Errorf("result = %+v, want the technical problem reply", result)
	}
}
