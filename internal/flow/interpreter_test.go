package flow

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/RisarcimentoMiteni/intakebot/internal/models"
	"github.com/RisarcimentoMiteni/intakebot/internal/resilience"
)

// scriptedClient returns pre-baked model responses in order. It fails the
// test indirectly when more calls arrive than were scripted.
type scriptedClient struct {
	responses []string
	calls     int
}

func (c *scriptedClient) Complete(ctx context.Context, systemPrompt, userPrompt string) (string, error) {
	i := c.calls
	c.calls++
	if i >= len(c.responses) {
		return "", fmt.Errorf("unscripted model call %d", i+1)
	}
	return c.responses[i], nil
}

// failingClient always returns the same transport error.
type failingClient struct {
	err error
}

func (c *failingClient) Complete(ctx context.Context, systemPrompt, userPrompt string) (string, error) {
	return "", c.err
}

func interpJSON(kind, botReply, interpretedAnswer string, advance bool) string {
	answer := "null"
	if interpretedAnswer != "" {
		answer = fmt.Sprintf("%q", interpretedAnswer)
	}
	return fmt.Sprintf(`{"kind": %q, "botReply": %q, "interpretedAnswer": %s, "advance": %t}`,
		kind, botReply, answer, advance)
}

func newBreaker() *resilience.CircuitBreaker {
	return resilience.NewCircuitBreaker(0, 0)
}

func TestParseInterpretation(t *testing.T) {
	tests := []struct {
		name    string
		raw     string
		want    models.Interpretation
		wantErr bool
	}{
		{
			name: "answer with cleaned value",
			raw:  interpJSON("answer", "Grazie, ho capito.", "Mario", true),
			want: models.Interpretation{
				Kind:              models.KindAnswer,
				BotReply:          "Grazie, ho capito.",
				InterpretedAnswer: "Mario",
				Advance:           true,
			},
		},
		{
			name: "faq with null answer",
			raw:  interpJSON("faq", "I PFAS sono sostanze chimiche persistenti.", "", false),
			want: models.Interpretation{
				Kind:     models.KindFaq,
				BotReply: "I PFAS sono sostanze chimiche persistenti.",
				Advance:  false,
			},
		},
		{
			name: "fenced code block is tolerated",
			raw:  "```json\n" + interpJSON("answer", "Perfetto.", "Rossi", true) + "\n```",
			want: models.Interpretation{
				Kind:              models.KindAnswer,
				BotReply:          "Perfetto.",
				InterpretedAnswer: "Rossi",
				Advance:           true,
			},
		},
		{
			name: "answer value is trimmed",
			raw:  interpJSON("answer", "Bene.", "  Vicenza  ", true),
			want: models.Interpretation{
				Kind:              models.KindAnswer,
				BotReply:          "Bene.",
				InterpretedAnswer: "Vicenza",
				Advance:           true,
			},
		},
		{name: "not json", raw: "certo, ecco la risposta", wantErr: true},
		{name: "missing advance field", raw: `{"kind": "answer", "botReply": "ok", "interpretedAnswer": "x"}`, wantErr: true},
		{name: "missing interpretedAnswer field", raw: `{"kind": "faq", "botReply": "ok", "advance": false}`, wantErr: true},
		{name: "unknown kind", raw: interpJSON("chitchat", "ciao", "", false), wantErr: true},
		{name: "empty botReply", raw: interpJSON("answer", "  ", "Mario", true), wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := parseInterpretation(tt.raw)
			if tt.wantErr {
				if err == nil {
					t.Fatalf("parseInterpretation(%q) succeeded, want error", tt.raw)
				}
				if !errors.Is(err, models.ErrInvalidPayload) {
					t.Errorf("error %v does not wrap ErrInvalidPayload", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("parseInterpretation(%q) failed: %v", tt.raw, err)
			}
			if got != tt.want {
				t.Errorf("parseInterpretation(%q) = %+v, want %+v", tt.raw, got, tt.want)
			}
		})
	}
}

func TestInterpretParsesModelOutput(t *testing.T) {
	client := &scriptedClient{responses: []string{interpJSON("answer", "Grazie Mario!", "Mario", true)}}
	it := NewInterpreter(client, newBreaker())
	conv := models.NewConversationContext("interp-ok")

	got := it.Interpret(context.Background(), conv, "Qual è il suo nome?", "mi chiamo Mario", models.ConfidenceHigh)

	if got.Kind != models.KindAnswer || got.InterpretedAnswer != "Mario" || !got.Advance {
		t.Errorf("Interpret returned %+v", got)
	}
	if client.calls != 1 {
		t.Errorf("expected 1 model call, got %d", client.calls)
	}
}

func TestInterpretMalformedPayloadFallsBack(t *testing.T) {
	client := &scriptedClient{responses: []string{"non sono un JSON"}}
	it := NewInterpreter(client, newBreaker())
	conv := models.NewConversationContext("interp-garbage")

	got := it.Interpret(context.Background(), conv, "Qual è il suo nome?", "Mario", models.ConfidenceHigh)

	if got.Kind != models.KindFaq || got.Advance {
		t.Errorf("malformed payload must degrade to a non-advancing faq reply, got %+v", got)
	}
	if got.BotReply != fallbackGenericReply {
		t.Errorf("BotReply = %q, want generic fallback", got.BotReply)
	}
	// Parse failures are not transport failures and must not trigger retries.
	if client.calls != 1 {
		t.Errorf("expected 1 model call, got %d", client.calls)
	}
}

func TestInterpretTransportErrorFallsBack(t *testing.T) {
	// The cancelled context keeps the retry loop from sleeping.
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	it := NewInterpreter(&failingClient{err: errors.New("connection refused")}, newBreaker())
	conv := models.NewConversationContext("interp-down")

	got := it.Interpret(ctx, conv, "Qual è il suo nome?", "Mario", models.ConfidenceLow)

	if got.Kind != models.KindFaq || got.Advance {
		t.Errorf("transport failure must degrade to a non-advancing faq reply, got %+v", got)
	}
	if got.BotReply != fallbackTransientReply {
		t.Errorf("BotReply = %q, want transient fallback", got.BotReply)
	}
}

func TestFormatHistory(t *testing.T) {
	conv := models.NewConversationContext("history")
	conv.AppendBot("Buongiorno. Qual è il suo nome?")
	conv.AppendUser("Mario")

	got := formatHistory(conv.RecentHistory(historyWindow))
	want := "Assistente: Buongiorno. Qual è il suo nome?\nUtente: Mario"
	if got != want {
		t.Errorf("formatHistory = %q, want %q", got, want)
	}

	if formatHistory(nil) != "" {
		t.Errorf("formatHistory(nil) should be empty")
	}
}

func TestInterpretIncludesLowConfidenceHint(t *testing.T) {
	var capturedPrompt string
	client := &promptCapturingClient{response: interpJSON("answer", "ok grazie", "Mario", true), captured: &capturedPrompt}
	it := NewInterpreter(client, newBreaker())
	conv := models.NewConversationContext("interp-hint")

	it.Interpret(context.Background(), conv, "Qual è il suo nome?", "boh", models.ConfidenceLow)
	if !strings.Contains(capturedPrompt, "ATTENZIONE") {
		t.Errorf("low guardrail confidence must add a caution hint to the prompt")
	}

	it.Interpret(context.Background(), conv, "Qual è il suo nome?", "Mario", models.ConfidenceHigh)
	if strings.Contains(capturedPrompt, "ATTENZIONE") {
		t.Errorf("high guardrail confidence must not add the caution hint")
	}
}

type promptCapturingClient struct {
	response string
	captured *string
}

func (c *promptCapturingClient) Complete(ctx context.Context, systemPrompt, userPrompt string) (string, error) {
	*c.captured = userPrompt
	return c.response, nil
}
