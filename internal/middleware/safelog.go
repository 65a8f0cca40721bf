package middleware

import "strings"

// Mask оставляет первые 4 символа идентификатора (сессия, user id, push endpoint) для логов.
func Mask(s string) string {
	s = strings.TrimSpace(s)
	if s == "" {
		return "-"
	}
	if len(s) <= 4 {
		return "****"
	}
	return s[:4] + "***"
}
