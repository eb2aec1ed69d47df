package logger

import (
	"io"
	"regexp"
)

const redacted = "[REDACTED]"

// Redactor masks credentials in log output.
type Redactor struct {
	patterns []rule
}

// rule replaces each match of re with repl, which may reference groups.
type rule struct {
	re   *regexp.Regexp
	repl string
}

func mask(pattern string) rule {
	return rule{re: regexp.MustCompile(pattern), repl: redacted}
}

// NewRedactor creates a redactor for provider keys and common secret shapes.
func NewRedactor() *Redactor {
	return &Redactor{
		patterns: []rule{
			// Anthropic keys first so the generic sk- rule does not leave a suffix behind.
			mask(`sk-ant-[a-zA-Z0-9_-]{20,}`),
			mask(`sk-(proj-)?[a-zA-Z0-9_-]{20,}`),
			mask(`AIza[0-9A-Za-z_-]{35}`),
			mask(`Bearer\s+[a-zA-Z0-9._-]+`),
			// Only the value is masked so JSON lines stay decodable by the console writer.
			{re: regexp.MustCompile(`(?i)([A-Z_]*API_KEY["\s:=]+)[^\s",}]+`), repl: "${1}" + redacted},
		},
	}
}

// AddPattern adds a custom redaction pattern.
func (r *Redactor) AddPattern(pattern string) error {
	re, err := regexp.Compile(pattern)
	if err != nil {
		return err
	}
	r.patterns = append(r.patterns, rule{re: re, repl: redacted})
	return nil
}

// Redact masks every match of the configured patterns.
func (r *Redactor) Redact(s string) string {
	for _, p := range r.patterns {
		s = p.re.ReplaceAllString(s, p.repl)
	}
	return s
}

// Wrap returns a writer that redacts before forwarding to w.
func (r *Redactor) Wrap(w io.Writer) io.Writer {
	return &redactingWriter{writer: w, redactor: r}
}

type redactingWriter struct {
	writer   io.Writer
	redactor *Redactor
}

// Write reports len(p) on success so zerolog does not treat a shorter redacted line as a short write.
func (w *redactingWriter) Write(p []byte) (int, error) {
	if _, err := w.writer.Write([]byte(w.redactor.Redact(string(p)))); err != nil {
		return 0, err
	}
	return len(p), nil
}
