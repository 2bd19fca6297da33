package util

import (
	"strings"
	"testing"
)

func TestGenerateSessionID(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 100; i++ {
		id := GenerateSessionID()
		if !strings.HasPrefix(id, "s_") {
			t.Fatalf("session id %q missing prefix", id)
		}
		hex := strings.TrimPrefix(id, "s_")
		if len(hex) != 32 {
			t.Fatalf("session id %q hex part has length %d, want 32", id, len(hex))
		}
		for _, c := range hex {
			if !strings.ContainsRune("0123456789abcdef", c) {
				t.Fatalf("session id %q contains non-hex character %q", id, c)
			}
		}
		if seen[id] {
			t.Fatalf("duplicate session id %q", id)
		}
		seen[id] = true
	}
}

func TestGenerateRandomHex(t *testing.T) {
	if got := GenerateRandomHex(0); got != "" {
		t.Errorf("GenerateRandomHex(0) = %q, want empty", got)
	}
	if got := GenerateRandomHex(-5); got != "" {
		t.Errorf("GenerateRandomHex(-5) = %q, want empty", got)
	}
	if got := GenerateRandomHex(8); len(got) != 8 {
		t.Errorf("GenerateRandomHex(8) has length %d", len(got))
	}
}

func TestParseBoolEnv(t *testing.T) {
	tests := []struct {
		value        string
		defaultValue bool
		want         bool
	}{
		{"true", false, true},
		{"1", false, true},
		{"YES", false, true},
		{"on", false, true},
		{"false", true, false},
		{"0", true, false},
		{"No", true, false},
		{"off", true, false},
		{" true ", false, true},
		{"maybe", true, true},
		{"maybe", false, false},
	}
	for _, tt := range tests {
		t.Setenv("INTAKEBOT_TEST_BOOL", tt.value)
		if got := ParseBoolEnv("INTAKEBOT_TEST_BOOL", tt.defaultValue); got != tt.want {
			t.Errorf("ParseBoolEnv(%q, %v) = %v, want %v", tt.value, tt.defaultValue, got, tt.want)
		}
	}

	if got := ParseBoolEnv("INTAKEBOT_TEST_BOOL_UNSET", true); !got {
		t.Errorf("unset variable must return the default")
	}
}

func TestParseIntEnv(t *testing.T) {
	t.Setenv("INTAKEBOT_TEST_INT", "42")
	if got := ParseIntEnv("INTAKEBOT_TEST_INT", 7); got != 42 {
		t.Errorf("ParseIntEnv = %d, want 42", got)
	}

	t.Setenv("INTAKEBOT_TEST_INT", " 15 ")
	if got := ParseIntEnv("INTAKEBOT_TEST_INT", 7); got != 15 {
		t.Errorf("ParseIntEnv with whitespace = %d, want 15", got)
	}

	t.Setenv("INTAKEBOT_TEST_INT", "not-a-number")
	if got := ParseIntEnv("INTAKEBOT_TEST_INT", 7); got != 7 {
		t.Errorf("invalid value must return the default, got %d", got)
	}

	if got := ParseIntEnv("INTAKEBOT_TEST_INT_UNSET", 7); got != 7 {
		t.Errorf("unset variable must return the default, got %d", got)
	}
}

func TestEnvOrDefault(t *testing.T) {
	t.Setenv("INTAKEBOT_TEST_STR", "custom")
	if got := EnvOrDefault("INTAKEBOT_TEST_STR", "fallback"); got != "custom" {
		t.Errorf("EnvOrDefault = %q", got)
	}
	if got := EnvOrDefault("INTAKEBOT_TEST_STR_UNSET", "fallback"); got != "fallback" {
		t.Errorf("EnvOrDefault for unset = %q", got)
	}
}
