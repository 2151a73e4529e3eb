package textutil

import "strings"

// MaskAccount hides the middle of an account name so renewal summaries
// can be pasted into group chats without leaking full usernames.
func MaskAccount(name string) string {
	if name == "" {
		return ""
	}
	r := []rune(name)
	if len(r) == 1 {
		return string(r[0]) + "***"
	}
	if len(r) == 2 {
		return string(r[0]) + "***" + string(r[1])
	}
	return string(r[0]) + "***" + string(r[len(r)-1])
}

// MaskSecret keeps a few characters on either end of an opaque value
// (cookie, token) for log correlation without exposing the credential.
func MaskSecret(value string, keep int) string {
	if value == "" {
		return "<empty>"
	}
	if len(value) <= keep*2 {
		return strings.Repeat("*", len(value))
	}
	return value[:keep] + "..." + value[len(value)-keep:]
}

// MatchAny reports whether message contains one of the signatures,
// case-insensitively.
func MatchAny(message string, signatures []string) bool {
	message = strings.ToLower(message)
	for _, s := range signatures {
		if s == "" {
			continue
		}
		if strings.Contains(message, strings.ToLower(s)) {
			return true
		}
	}
	return false
}
