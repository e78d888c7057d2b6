// Package security masks personal data and credentials before they leave
// the process, in prompts sent to model providers and in logged errors.
package security

import (
	"regexp"
	"strings"

	"loanai/internal/models"
)

// secretPatterns match credentials that may surface in provider errors.
var secretPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)\b(api[_-]?key|secret[_-]?key|access[_-]?token|auth[_-]?token|bearer|password)([=:\s]+)["']?([^\s"',]+)["']?`),
	regexp.MustCompile(`\bsk-[A-Za-z0-9_-]{20,}`), // OpenAI keys
}

// Mask keeps the last visible characters of value and stars the rest.
// Values no longer than visible are fully masked.
func Mask(value string, visible int) string {
	r := []rune(value)
	if len(r) == 0 {
		return ""
	}
	if visible < 0 || len(r) <= visible {
		visible = 0
	}
	return strings.Repeat("*", len(r)-visible) + string(r[len(r)-visible:])
}

// MaskCredential masks a credential, keeping four characters at each end
// of long values.
func MaskCredential(value string) string {
	switch {
	case len(value) == 0:
		return ""
	case len(value) <= 8:
		return strings.Repeat("*", len(value))
	default:
		return value[:4] + strings.Repeat("*", len(value)-8) + value[len(value)-4:]
	}
}

// MaskSecrets replaces credentials found in free text.
func MaskSecrets(text string) string {
	text = secretPatterns[0].ReplaceAllStringFunc(text, func(match string) string {
		m := secretPatterns[0].FindStringSubmatch(match)
		return m[1] + m[2] + MaskCredential(m[3])
	})
	return secretPatterns[1].ReplaceAllStringFunc(text, MaskCredential)
}

// RedactApplication returns a copy of app safe to send to an external model.
// Identifiers keep their last four characters so consistency checks still
// work; the street address and document paths are dropped.
func RedactApplication(app *models.Application) *models.Application {
	if app == nil {
		return nil
	}
	cp := *app
	cp.PersonalInfo.PersonalID = Mask(app.PersonalInfo.PersonalID, 4)
	cp.PersonalInfo.Phone = Mask(app.PersonalInfo.Phone, 4)
	cp.PersonalInfo.Address = ""

	if app.LoanRequest != nil {
		lr := *app.LoanRequest
		cp.LoanRequest = &lr
	}
	if len(app.Documents) > 0 {
		cp.Documents = make([]models.Document, len(app.Documents))
		for i, d := range app.Documents {
			cp.Documents[i] = models.Document{Type: d.Type}
		}
	}
	return &cp
}
