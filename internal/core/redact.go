package core

import "strings"

// Redactor strips known secret values out of arbitrary strings before they
// reach a log line or a CoreError surfaced to the CLI. It is populated with
// the plaintext secret values loaded from secrets.yaml so that none of them
// can leak verbatim.
type Redactor struct {
	secrets []string
}

func NewRedactor(secretValues ...string) *Redactor {
	r := &Redactor{}
	for _, s := range secretValues {
		if strings.TrimSpace(s) != "" {
			r.secrets = append(r.secrets, s)
		}
	}
	return r
}

// Redact replaces every occurrence of a known secret value with "***".
func (r *Redactor) Redact(s string) string {
	out := s
	for _, secret := range r.secrets {
		out = strings.ReplaceAll(out, secret, "***")
	}
	return out
}

// RedactError returns a copy of err with every Context value and the
// Message run through Redact.
func (r *Redactor) RedactError(err *Error) *Error {
	if err == nil {
		return nil
	}
	redacted := &Error{
		Kind:    err.Kind,
		Message: r.Redact(err.Message),
	}
	if err.Context != nil {
		redacted.Context = make(map[string]any, len(err.Context))
		for k, v := range err.Context {
			if s, ok := v.(string); ok {
				redacted.Context[k] = r.Redact(s)
			} else {
				redacted.Context[k] = v
			}
		}
	}
	return redacted
}
