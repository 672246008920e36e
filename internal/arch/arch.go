// Package arch normalizes CPU architecture tokens found in artifact URLs.
package arch

import "strings"

// Tag is a normalized CPU architecture label as persisted in the downloads
// table.
type Tag string

const (
	// AMD64 covers x86-64 artifacts and is the default when nothing matches.
	AMD64 Tag = "amd64"
	// ARM64 covers aarch64/arm64 artifacts.
	ARM64 Tag = "arm64"
	// I386 covers 32-bit x86 artifacts.
	I386 Tag = "i386"
)

var (
	armTokens   = []string{"aarch64", "arm64"}
	amd64Tokens = []string{"x86_64", "amd64", "x64"}
	i386Tokens  = []string{"i386", "i686"}
)

// Detect maps a URL or filename to exactly one Tag. ARM tokens outrank
// x86-64 tokens, which outrank 32-bit tokens; with no match the artifact is
// assumed to be amd64, matching how mirrors label their mainline images.
func Detect(url string) Tag {
	lower := strings.ToLower(url)
	for _, tok := range armTokens {
		if strings.Contains(lower, tok) {
			return ARM64
		}
	}
	for _, tok := range amd64Tokens {
		if strings.Contains(lower, tok) {
			return AMD64
		}
	}
	for _, tok := range i386Tokens {
		if strings.Contains(lower, tok) {
			return I386
		}
	}
	return AMD64
}

// Token reports whether s contains any recognized architecture token. The
// heuristic link extractor uses it as a download-intent signal.
func Token(s string) bool {
	lower := strings.ToLower(s)
	for _, group := range [][]string{armTokens, amd64Tokens, i386Tokens} {
		for _, tok := range group {
			if strings.Contains(lower, tok) {
				return true
			}
		}
	}
	return false
}
