package logger

import (
	"log/slog"
	"strings"
)

// SanitizedUsername masks a username for logging (e.g., "a****"). Email-shaped
// usernames keep their TLD (e.g., "u***@*******.com").
func SanitizedUsername(username string) string {
	if username == "" {
		return ""
	}

	local, domain, isEmail := strings.Cut(username, "@")
	local = maskTail(local)
	if !isEmail {
		return local
	}

	domainParts := strings.Split(domain, ".")
	if len(domainParts) > 1 {
		for i := 0; i < len(domainParts)-1; i++ {
			domainParts[i] = strings.Repeat("*", len(domainParts[i]))
		}
		domain = strings.Join(domainParts, ".")
	}

	return local + "@" + domain
}

// maskTail keeps the first rune and masks the rest
func maskTail(s string) string {
	runes := []rune(s)
	if len(runes) <= 1 {
		return s
	}
	return string(runes[0]) + strings.Repeat("*", len(runes)-1)
}

// RedactedAttr returns a redacted slog attribute for sensitive values
// In production, returns "[REDACTED]"; in development, returns the actual value
func RedactedAttr(key, value, env string) slog.Attr {
	if env == "production" {
		return slog.String(key, "[REDACTED]")
	}
	return slog.String(key, value)
}

// SanitizeQueryString checks if query string contains sensitive parameters
// and returns true if the entire query string should be redacted
func SanitizeQueryString(rawQuery string) bool {
	sensitiveParams := []string{"password", "token", "secret", "api_key", "apikey", "auth"}

	query := strings.ToLower(rawQuery)
	for _, param := range sensitiveParams {
		if strings.Contains(query, param) {
			return true
		}
	}
	return false
}
