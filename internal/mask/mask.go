// Package mask implements the single recipient-masking rule shared by API
// responses, log lines, and webhook payloads.
package mask

import "strings"

// Recipient masks r according to its channel. EMAIL addresses mask the
// local part as "ab***@domain"; every other channel masks as "abcd***yz"
// (first four, last two), or "***" when r has fewer than six characters.
func Recipient(channel, r string) string {
	if channel == "EMAIL" {
		return maskEmail(r)
	}
	return maskGeneric(r)
}

func maskEmail(r string) string {
	at := strings.IndexByte(r, '@')
	if at < 0 {
		return maskGeneric(r)
	}
	local, domain := r[:at], r[at+1:]
	if len(local) <= 2 {
		return "***@" + domain
	}
	return local[:2] + "***@" + domain
}

func maskGeneric(r string) string {
	if len(r) < 6 {
		return "***"
	}
	return r[:4] + "***" + r[len(r)-2:]
}
