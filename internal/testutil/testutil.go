// Package testutil provides shared helpers for package tests: a scripted
// model client and small HTTP assertion utilities.
package testutil

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
)

// ScriptedAI is a model client returning pre-baked responses in call order.
// Calls beyond the script fail, so tests notice unexpected model traffic.
type ScriptedAI struct {
	Responses []string
	Err       error
	Calls     int
}

// Complete returns the next scripted response, or Err when set.
func (s *ScriptedAI) Complete(ctx context.Context, systemPrompt, userPrompt string) (string, error) {
	i := s.Calls
	s.Calls++
	if s.Err != nil {
		return "", s.Err
	}
	if i >= len(s.Responses) {
		return "", fmt.Errorf("unscripted model call %d", i+1)
	}
	return s.Responses[i], nil
}

// InterpretationJSON builds a model payload in the interpreter's output
// contract. An empty answer becomes an explicit null.
func InterpretationJSON(kind, botReply, interpretedAnswer string, advance bool) string {
	answer := "null"
	if interpretedAnswer != "" {
		answer = fmt.Sprintf("%q", interpretedAnswer)
	}
	return fmt.Sprintf(`{"kind": %q, "botReply": %q, "interpretedAnswer": %s, "advance": %t}`,
		kind, botReply, answer, advance)
}

// NewJSONRequest builds an HTTP request with a JSON-encoded body.
func NewJSONRequest(t *testing.T, method, target string, body interface{}) *http.Request {
	t.Helper()
	if body == nil {
		return httptest.NewRequest(method, target, nil)
	}
	data, err := json.Marshal(body)
	if err != nil {
		t.Fatalf("failed to marshal request body: %v", err)
	}
	req := httptest.NewRequest(method, target, bytes.NewReader(data))
	req.Header.Set("Content-Type", "application/json")
	return req
}

// AssertStatus fails the test when the recorded status differs.
func AssertStatus(t *testing.T, rec *httptest.ResponseRecorder, want int) {
	t.Helper()
	if rec.Code != want {
		t.Fatalf("status = %d, want %d (body %s)", rec.Code, want, rec.Body.String())
	}
}

// DecodeJSON unmarshals the recorded body into v.
func DecodeJSON(t *testing.T, rec *httptest.ResponseRecorder, v interface{}) {
	t.Helper()
	if ct := rec.Header().Get("Content-Type"); ct != "application/json" {
		t.Fatalf("Content-Type = %q, want application/json", ct)
	}
	if err := json.Unmarshal(rec.Body.Bytes(), v); err != nil {
		t.Fatalf("failed to decode response %s: %v", rec.Body.String(), err)
	}
}
