package logging

import (
	"bytes"
	"strings"
	"testing"
)

func TestJSONLoggerRedactsSecretFields(t *testing.T) {
	var buf bytes.Buffer
	logger := NewJSONLogger(&buf, "info")

	logger.Info().
		Str("access_token", "eyJhbGciOiJub25lIn0.live-token").
		Str("region", "us-east-1").
		Msg("token acquired")

	out := buf.String()
	if strings.Contains(out, "live-token") {
		t.Fatalf("secret value reached log output:\n%s", out)
	}
	if !strings.Contains(out, "[REDACTED:sha256:") {
		t.Errorf("expected redaction marker:\n%s", out)
	}
	if !strings.Contains(out, "us-east-1") {
		t.Errorf("non-secret field lost:\n%s", out)
	}
	if !strings.Contains(out, "token acquired") {
		t.Errorf("message lost:\n%s", out)
	}
}

func TestRedactingWriterLeavesCleanEventsAlone(t *testing.T) {
	var buf bytes.Buffer
	logger := NewJSONLogger(&buf, "info")

	logger.Info().Str("region", "eu-west-1").Msg("settings updated")

	out := buf.String()
	if strings.Contains(out, "REDACTED") {
		t.Errorf("redaction applied to non-secret event:\n%s", out)
	}
	if !strings.Contains(out, "eu-west-1") {
		t.Errorf("field lost:\n%s", out)
	}
}

func TestRedactingWriterPassesUnstructuredOutput(t *testing.T) {
	var buf bytes.Buffer
	rw := NewRedactingWriter(&buf)

	line := []byte("plain text line\n")
	n, err := rw.Write(line)
	if err != nil || n != len(line) {
		t.Fatalf("write: n=%d err=%v", n, err)
	}
	if buf.String() != string(line) {
		t.Errorf("unstructured output altered: %q", buf.String())
	}
}

func TestIsSecretField(t *testing.T) {
	tests := []struct {
		name     string
		field    string
		expected bool
	}{
		{"secret access key", "SecretAccessKey", true},
		{"session token", "SessionToken", true},
		{"sso access token", "access_token", true},
		{"bearer token", "BearerToken", true},
		{"device code", "device_code", true},
		{"client secret", "ClientSecret", true},
		{"passphrase", "vaultPassphrase", true},
		{"access key id", "AccessKeyId", false},
		{"portal url", "portalUrl", false},
		{"region", "region", false},
		{"role arn", "RoleArn", false},
		{"profile id", "profileId", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := IsSecretField(tt.field)
			if got != tt.expected {
				t.Errorf("IsSecretField(%q) = %v, want %v", tt.field, got, tt.expected)
			}
		})
	}
}

func TestRedactValue(t *testing.T) {
	result := RedactValue("wJalrXUtnFEMI/K7MDENG/bPxRfiCYEXAMPLEKEY")
	if !strings.HasPrefix(result, "[REDACTED:sha256:") {
		t.Errorf("expected [REDACTED:sha256:...], got %s", result)
	}
	if !strings.HasSuffix(result, "]") {
		t.Errorf("expected trailing ], got %s", result)
	}

	if result != RedactValue("wJalrXUtnFEMI/K7MDENG/bPxRfiCYEXAMPLEKEY") {
		t.Error("same input should produce same redacted value")
	}
	if result == RedactValue("differentSecret") {
		t.Error("different inputs should produce different redacted values")
	}
}

func TestRedactValueEmpty(t *testing.T) {
	if RedactValue("") != "" {
		t.Error("empty value should stay empty")
	}
}
