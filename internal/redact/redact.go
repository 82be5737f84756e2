package redact

import (
	"strings"

	"github.com/grafana/regexp"

	"liberator/internal/types"
)

const mask = "[REDACTED]"

var secretPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)\b(bearer)\s+[A-Za-z0-9._~+/=-]+`),
	regexp.MustCompile(`(?i)\b(password|passwd|pwd|secret|token|api[_-]?key|access[_-]?key)(\s*[=:]\s*)("[^"]*"|'[^']*'|[^\s&,;]+)`),
	regexp.MustCompile(`(?i)(://[^/\s:@]+:)[^@\s]+(@)`),
	regexp.MustCompile(`\b(?:sk|pk|rk)_(?:live|test)_[A-Za-z0-9]{8,}\b`),
	regexp.MustCompile(`\beyJ[A-Za-z0-9_-]{8,}\.[A-Za-z0-9_-]{8,}\.[A-Za-z0-9_-]{8,}\b`),
	regexp.MustCompile(`\b[A-Za-z0-9_-]{40,}\b`),
}

// Message masks secret-looking substrings in msg, plus every literal value
// in secrets.
func Message(msg string, secrets ...string) string {
	for _, s := range secrets {
		if len(strings.TrimSpace(s)) >= 3 {
			msg = strings.ReplaceAll(msg, s, mask)
		}
	}
	msg = secretPatterns[0].ReplaceAllString(msg, "${1} "+mask)
	msg = secretPatterns[1].ReplaceAllString(msg, "${1}${2}"+mask)
	msg = secretPatterns[2].ReplaceAllString(msg, "${1}"+mask+"${2}")
	for _, re := range secretPatterns[3:] {
		msg = re.ReplaceAllString(msg, mask)
	}
	return msg
}

// Error returns err with its text masked. errors.Is and errors.As still see
// the original chain.
func Error(err error, secrets ...string) error {
	if err == nil {
		return nil
	}
	return &maskedError{msg: Message(err.Error(), secrets...), err: err}
}

type maskedError struct {
	msg string
	err error
}

func (e *maskedError) Error() string { return e.msg }
func (e *maskedError) Unwrap() error { return e.err }

// Summary returns a copy of sum with every outcome detail masked.
func Summary(sum types.TransferSummary, secrets ...string) types.TransferSummary {
	if sum.Outcomes == nil {
		return sum
	}
	sum.Outcomes = append([]types.TransferOutcome(nil), sum.Outcomes...)
	for i := range sum.Outcomes {
		sum.Outcomes[i].ErrorDetail = Message(sum.Outcomes[i].ErrorDetail, secrets...)
	}
	return sum
}
