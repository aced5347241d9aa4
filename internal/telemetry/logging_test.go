package telemetry

import (
	"log/slog"
	"testing"
)

func TestParseLevel(t *testing.T) {
	cases := map[string]slog.Level{
		"debug":   slog.LevelDebug,
		"WARN":    slog.LevelWarn,
		"warning": slog.LevelWarn,
		"error":   slog.LevelError,
		"info":    slog.LevelInfo,
		"":        slog.LevelInfo,
		"bogus":   slog.LevelInfo,
	}
	for in, want := range cases {
		if got := parseLevel(in); got != want {
			t.Errorf("parseLevel(%q) = %v, want %v", in, got, want)
		}
	}
}

func TestShouldRedactKey(t *testing.T) {
	redacted := []string{"access_token", "secret", "Authorization", "x_signature", "password"}
	for _, key := range redacted {
		if !shouldRedactKey(key) {
			t.Errorf("shouldRedactKey(%q) = false, want true", key)
		}
	}
	clear := []string{"action", "self_id", "url", ""}
	for _, key := range clear {
		if shouldRedactKey(key) {
			t.Errorf("shouldRedactKey(%q) = true, want false", key)
		}
	}
}

func TestRedactStringValue(t *testing.T) {
	if v, ok := redactStringValue("Bearer abc123"); !ok || v != "[REDACTED]" {
		t.Fatalf("bearer value not redacted: %q %v", v, ok)
	}
	if v, ok := redactStringValue("/send_private_msg?access_token=abc"); !ok || v != "[REDACTED]" {
		t.Fatalf("query token not redacted: %q %v", v, ok)
	}
	if _, ok := redactStringValue("plain message"); ok {
		t.Fatal("plain value should pass through")
	}
}
