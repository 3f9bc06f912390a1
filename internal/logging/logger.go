// Package logging provides structured logging with secret redaction for
// cloudgate. Credential material must never reach log output; fields whose
// names match the deny list are redacted to a hash prefix.
package logging

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// Field names whose values are redacted in all log output.
var secretFieldNames = []string{
	"secretaccesskey",
	"sessiontoken",
	"accesstoken",
	"access_token",
	"bearertoken",
	"bearer_token",
	"refresh_token",
	"refreshtoken",
	"clientsecret",
	"client_secret",
	"devicecode",
	"device_code",
	"password",
	"passphrase",
	"secret",
	"secretkey",
	"secret_key",
	"token",
	"credentials",
	"private_key",
	"privatekey",
	"jwt",
}

// RedactingWriter sits between zerolog and the sink: each event is scanned
// for deny-listed field names and their values are replaced before the line
// is written.
type RedactingWriter struct {
	inner io.Writer
}

// NewRedactingWriter wraps inner with secret-field redaction.
func NewRedactingWriter(inner io.Writer) *RedactingWriter {
	return &RedactingWriter{inner: inner}
}

func (rw *RedactingWriter) Write(p []byte) (int, error) {
	var event map[string]any
	if err := json.Unmarshal(p, &event); err != nil {
		// Not a structured event; nothing to redact by field name.
		return rw.inner.Write(p)
	}

	redacted := false
	for name, value := range event {
		if !IsSecretField(name) {
			continue
		}
		if s, ok := value.(string); ok {
			event[name] = RedactValue(s)
			redacted = true
		}
	}
	if !redacted {
		return rw.inner.Write(p)
	}

	out, err := json.Marshal(event)
	if err != nil {
		return 0, err
	}
	out = append(out, '\n')
	if _, err := rw.inner.Write(out); err != nil {
		return 0, err
	}
	return len(p), nil
}

// NewLogger creates a console logger for interactive CLI use.
func NewLogger(level string, workspaceID string) zerolog.Logger {
	lvl, err := zerolog.ParseLevel(level)
	if err != nil {
		lvl = zerolog.InfoLevel
	}

	writer := zerolog.ConsoleWriter{
		Out:        os.Stderr,
		TimeFormat: time.RFC3339,
	}

	logger := zerolog.New(NewRedactingWriter(writer)).
		Level(lvl).
		With().
		Timestamp().
		Str("component", "cloudgate").
		Logger()

	if workspaceID != "" {
		logger = logger.With().Str("workspace_id", workspaceID).Logger()
	}

	return logger
}

// NewJSONLogger creates a JSON-formatted logger for file output or machine
// consumption.
func NewJSONLogger(w io.Writer, level string) zerolog.Logger {
	lvl, err := zerolog.ParseLevel(level)
	if err != nil {
		lvl = zerolog.InfoLevel
	}

	return zerolog.New(NewRedactingWriter(w)).
		Level(lvl).
		With().
		Timestamp().
		Str("component", "cloudgate").
		Logger()
}

// Nop returns a disabled logger for tests and optional wiring.
func Nop() zerolog.Logger {
	return zerolog.Nop()
}

// IsSecretField checks if a field name is a known secret field that should
// be redacted before logging.
func IsSecretField(fieldName string) bool {
	lower := strings.ToLower(fieldName)
	for _, secret := range secretFieldNames {
		if strings.Contains(lower, secret) {
			return true
		}
	}
	return false
}

// RedactValue replaces a secret value with a safe placeholder containing a
// stable hash prefix, so log lines stay correlatable without exposing the
// secret.
func RedactValue(value string) string {
	if value == "" {
		return ""
	}
	h := sha256.Sum256([]byte(value))
	return "[REDACTED:sha256:" + hex.EncodeToString(h[:])[:8] + "]"
}
