package logger

import (
	"io"
	"regexp"
	"strings"
)

// Redactor redacts sensitive information from logs
type Redactor struct {
	patterns []*regexp.Regexp
}

var (
	// Phone numbers and chat ids in recipient/sender fields keep their last
	// four digits.
	phoneFieldPattern = regexp.MustCompile(`"(to|from|phone)":"\+?(\d{2,})(\d{4})(@[a-z.]+)?"`)

	// QR codes are logged as data URLs; the payload is a live pairing code.
	dataURLPattern = regexp.MustCompile(`data:image/[a-z]+;base64,[A-Za-z0-9+/=]+`)
)

// NewRedactor creates a new redactor with default patterns
func NewRedactor() *Redactor {
	return &Redactor{
		patterns: []*regexp.Regexp{
			regexp.MustCompile(`Bearer\s+[a-zA-Z0-9._-]+`),
			regexp.MustCompile(`"?(shared_secret|secret|password|signature)"?\s*[:=]\s*"?[^\s",}]+"?`),
			regexp.MustCompile(`(?i)x-gateway-secret"?\s*[:=]\s*"?[^\s",}]+"?`),
			regexp.MustCompile(`token["\s:=]+[a-zA-Z0-9._-]{20,}`),
		},
	}
}

// AddPattern adds a custom redaction pattern
func (r *Redactor) AddPattern(pattern string) error {
	re, err := regexp.Compile(pattern)
	if err != nil {
		return err
	}
	r.patterns = append(r.patterns, re)
	return nil
}

// Redact redacts sensitive information from a string
func (r *Redactor) Redact(s string) string {
	result := s
	for _, pattern := range r.patterns {
		result = pattern.ReplaceAllString(result, "[REDACTED]")
	}
	result = dataURLPattern.ReplaceAllStringFunc(result, func(m string) string {
		return m[:strings.IndexByte(m, ',')+1] + "[REDACTED]"
	})
	return phoneFieldPattern.ReplaceAllStringFunc(result, maskPhoneField)
}

func maskPhoneField(m string) string {
	parts := phoneFieldPattern.FindStringSubmatch(m)
	return `"` + parts[1] + `":"` + strings.Repeat("*", len(parts[2])) + parts[3] + parts[4] + `"`
}

// Wrap wraps an io.Writer to redact sensitive information
func (r *Redactor) Wrap(w io.Writer) io.Writer {
	return &redactingWriter{
		writer:   w,
		redactor: r,
	}
}

// redactingWriter is an io.Writer that redacts sensitive information
type redactingWriter struct {
	writer   io.Writer
	redactor *Redactor
}

func (w *redactingWriter) Write(p []byte) (int, error) {
	redacted := w.redactor.Redact(string(p))
	if _, err := w.writer.Write([]byte(redacted)); err != nil {
		return 0, err
	}
	return len(p), nil
}
