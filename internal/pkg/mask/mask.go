package mask

import "strings"

// Identifier redacts the middle of a phone number or email for display:
// the first 4 and last 4 characters stay visible, everything between is
// replaced with '*'. "+33612345678" becomes "+336****5678". Identifiers of
// 8 characters or fewer are fully redacted rather than echoed back.
func Identifier(s string) string {
	if len(s) <= 8 {
		return strings.Repeat("*", len(s))
	}
	return s[:4] + strings.Repeat("*", len(s)-8) + s[len(s)-4:]
}
