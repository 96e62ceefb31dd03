package logger

import "strings"

// RedactEmail masks an email address for safe logging.
// "ana.lopez@example.com" → "an***@example.com"
// Short local parts (≤2 chars) are fully masked: "al@example.com" → "***@example.com"
func RedactEmail(email string) string {
	at := strings.LastIndex(email, "@")
	if at <= 0 || at == len(email)-1 || strings.Count(email, "@") != 1 {
		return "***@***"
	}
	name, host := email[:at], email[at+1:]
	if len(name) > 2 {
		return name[:2] + "***@" + host
	}
	return "***@" + host
}
