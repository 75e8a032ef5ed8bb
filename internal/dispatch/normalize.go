package dispatch

import "strings"

// NormalizeFunc rewrites a raw phone number into the form the gateway
// accepts. Injected so the regional default-prefix policy stays a config
// choice instead of a rule baked into the send loop.
type NormalizeFunc func(string) string

// NormalizePhone strips everything except digits and a leading +. A bare
// 10-digit number gets defaultPrefix prepended, which mirrors locally
// registered numbering. Numbers that already carry a + or a full country
// code pass through untouched.
func NormalizePhone(defaultPrefix string) NormalizeFunc {
	return func(raw string) string {
		var b strings.Builder
		plus := strings.HasPrefix(strings.TrimSpace(raw), "+")
		for _, r := range raw {
			if r >= '0' && r <= '9' {
				b.WriteRune(r)
			}
		}
		digits := b.String()

		if plus {
			return "+" + digits
		}
		if len(digits) == 10 && defaultPrefix != "" {
			return defaultPrefix + digits
		}
		return digits
	}
}
