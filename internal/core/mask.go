package core

import "unicode/utf8"

const maskFill = "••••••••"

// MaskSecret renders a secret for display: first and last four characters
// around a fixed fill, or only the fill when the secret is too short to reveal anything.
func MaskSecret(s string) string {
	if utf8.RuneCountInString(s) < 8 {
		return maskFill
	}
	r := []rune(s)
	return string(r[:4]) + maskFill + string(r[len(r)-4:])
}

// MaskKey is the form an api key may take in diagnostics.
func MaskKey(key string) string {
	r := []rune(key)
	if len(r) <= 5 {
		return "..."
	}
	return string(r[:5]) + "..."
}
