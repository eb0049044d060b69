package logger

import (
	"regexp"
	"strings"
	"sync"

	"go.uber.org/zap/zapcore"
)

// Bot-API URLs embed the credential in the path: .../bot<token>/method.
var botURLPattern = regexp.MustCompile(`bot\d+:[A-Za-z0-9_-]+`)

var (
	secretsMu sync.RWMutex
	secrets   []string
)

// RegisterSecret adds a credential to the redaction set. Every log line
// emitted after registration has the verbatim credential replaced before it
// reaches the sink. Registration is process-wide; transports register their
// bot tokens at construction.
func RegisterSecret(secret string) {
	if secret == "" {
		return
	}
	secretsMu.Lock()
	defer secretsMu.Unlock()
	for _, s := range secrets {
		if s == secret {
			return
		}
	}
	secrets = append(secrets, secret)
}

// ClearSecrets removes all registered secrets (for tests).
func ClearSecrets() {
	secretsMu.Lock()
	defer secretsMu.Unlock()
	secrets = nil
}

// Redact scrubs registered credentials from s. URL-embedded tokens become
// "bot[REDACTED]", bare tokens become "[REDACTED_TOKEN]".
func Redact(s string) string {
	if s == "" {
		return s
	}
	s = botURLPattern.ReplaceAllString(s, "bot[REDACTED]")
	secretsMu.RLock()
	defer secretsMu.RUnlock()
	for _, secret := range secrets {
		s = strings.ReplaceAll(s, secret, "[REDACTED_TOKEN]")
	}
	return s
}

// redactingCore wraps a zapcore.Core and scrubs registered secrets from
// messages and string fields before delegating.
type redactingCore struct {
	zapcore.Core
}

func newRedactingCore(core zapcore.Core) zapcore.Core {
	return &redactingCore{Core: core}
}

func (c *redactingCore) With(fields []zapcore.Field) zapcore.Core {
	return &redactingCore{Core: c.Core.With(redactFields(fields))}
}

func (c *redactingCore) Check(ent zapcore.Entry, ce *zapcore.CheckedEntry) *zapcore.CheckedEntry {
	if c.Enabled(ent.Level) {
		return ce.AddCore(ent, c)
	}
	return ce
}

func (c *redactingCore) Write(ent zapcore.Entry, fields []zapcore.Field) error {
	ent.Message = Redact(ent.Message)
	return c.Core.Write(ent, redactFields(fields))
}

func redactFields(fields []zapcore.Field) []zapcore.Field {
	out := make([]zapcore.Field, len(fields))
	copy(out, fields)
	for i := range out {
		switch out[i].Type {
		case zapcore.StringType:
			out[i].String = Redact(out[i].String)
		case zapcore.ErrorType:
			if err, ok := out[i].Interface.(error); ok && err != nil {
				redacted := Redact(err.Error())
				if redacted != err.Error() {
					out[i] = zapcore.Field{
						Key:    out[i].Key,
						Type:   zapcore.StringType,
						String: redacted,
					}
				}
			}
		}
	}
	return out
}
