package models

import "strings"

// NativeToken is the canonical identifier for the network's native asset.
// It is the only spelling that ever reaches the store; the alternate input
// form "native" is rewritten here.
const NativeToken = "XLM"

// NormalizeToken maps a caller-supplied token identifier to its canonical
// form. Callers may pass "native" or "XLM" for the native asset; issued
// assets use the "CODE:ISSUER" form and pass through unchanged.
func NormalizeToken(token string) string {
	token = strings.TrimSpace(token)
	if token == "native" {
		return NativeToken
	}
	return token
}
