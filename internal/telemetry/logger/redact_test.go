package logger

import (
	"log/slog"
	"testing"
)

func TestRedactSensitive(t *testing.T) {
	tests := []struct {
		name string
		attr slog.Attr
		want string
	}{
		{"jwt value under neutral key", slog.String("value", "eyJhbGciOiJSUzI1NiJ9.payload.sig"), "eyJhbG...sig"},
		{"refresh token prefix", slog.String("x", "AMf-0123456789"), "AMf-012...789"},
		{"short secret", slog.String("x", "AIza12"), "AIza***"},
		{"token key", slog.String("accessToken", "opaque"), redactedValue},
		{"api key", slog.String("api_key", "abc"), redactedValue},
		{"password", slog.String("Password", "hunter2"), redactedValue},
		{"empty token kept", slog.String("refreshToken", ""), ""},
		{"storage key kept", slog.String("storage_key", "authpersist:authUser:k:app"), "authpersist:authUser:k:app"},
		{"auth user kept", slog.String("authUser", "u1"), "u1"},
		{"uid kept", slog.String("uid", "u1"), "u1"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := redactSensitive(tt.attr)
			if got.Value.String() != tt.want {
				t.Errorf("redactSensitive(%s=%s) = %q, want %q", tt.attr.Key, tt.attr.Value, got.Value.String(), tt.want)
			}
		})
	}
}

func TestRedactSensitive_NonString(t *testing.T) {
	a := slog.Int("token_count", 3)
	if got := redactSensitive(a); got.Value.Int64() != 3 {
		t.Errorf("non-string values must pass through, got %v", got.Value)
	}
}

func TestRedactSensitive_Group(t *testing.T) {
	a := slog.Group("user",
		slog.String("uid", "u1"),
		slog.String("refreshToken", "r-123"),
	)
	got := redactSensitive(a).Value.Group()
	if got[0].Value.String() != "u1" {
		t.Errorf("uid = %q", got[0].Value.String())
	}
	if got[1].Value.String() != redactedValue {
		t.Errorf("refreshToken = %q, want redacted", got[1].Value.String())
	}
}

func TestRedactString(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"eyJ0eXAiOiJKV1QifQ", "eyJ0eX...ifQ"},
		{"plain", "plain"},
		{"", ""},
	}
	for _, tt := range tests {
		if got := RedactString(tt.in); got != tt.want {
			t.Errorf("RedactString(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestIsSensitiveKey(t *testing.T) {
	for key, want := range map[string]bool{
		"accessToken":   true,
		"client_secret": true,
		"apiKey":        true,
		"Authorization": true,
		"storage_key":   false,
		"authUser":      false,
		"uid":           false,
	} {
		if got := IsSensitiveKey(key); got != want {
			t.Errorf("IsSensitiveKey(%q) = %v, want %v", key, got, want)
		}
	}
}

func TestIsSensitiveValue(t *testing.T) {
	if !IsSensitiveValue("eyJabc") {
		t.Error("JWT prefix should be sensitive")
	}
	if IsSensitiveValue("u1") {
		t.Error("plain value should not be sensitive")
	}
}

func TestMaskValue(t *testing.T) {
	if got := maskValue("AMf-123", "AMf-"); got != "AMf-***" {
		t.Errorf("maskValue short = %q", got)
	}
	if got := maskValue("AMf-1234567", "AMf-"); got != "AMf-123...567" {
		t.Errorf("maskValue = %q", got)
	}
}
