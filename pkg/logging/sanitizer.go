package logging

import "regexp"

// RedactedText is the replacement text for sensitive data.
const RedactedText = "[REDACTED]"

var (
	// Matches Authorization header values: "Token <t>" and "Bearer <t>".
	authHeaderPattern = regexp.MustCompile(`(?i)(token|bearer)\s+[A-Za-z0-9-_.]+`)

	// Matches credentials embedded in URLs (user:pass@host).
	connStringPattern = regexp.MustCompile(`://[^:/\s]+:[^@\s]+@[^/\s]+`)

	// Matches password values in query strings or form bodies.
	passwordPattern = regexp.MustCompile(`(?i)(password|pwd|pass)=[^;&\s]+`)
)

// SanitizeError removes credential material from error messages before they
// are logged. Transport errors can echo the request URL and headers.
func SanitizeError(err error) string {
	if err == nil {
		return ""
	}
	return Sanitize(err.Error())
}

// Sanitize redacts tokens, URL credentials and password parameters in s.
func Sanitize(s string) string {
	out := authHeaderPattern.ReplaceAllString(s, "${1} "+RedactedText)
	out = connStringPattern.ReplaceAllString(out, "://"+RedactedText+"@"+RedactedText)
	out = passwordPattern.ReplaceAllString(out, "${1}="+RedactedText)
	return out
}

// TruncateString truncates a string to maxLen and adds ellipsis if needed.
func TruncateString(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + "..."
}
