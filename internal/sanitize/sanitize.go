// Package sanitize scrubs information-leaking fragments out of user-facing
// messages: absolute filesystem paths and long opaque tokens (API keys,
// bearer tokens) must never surface in errors or logs.
package sanitize

import (
	"path"
	"regexp"
)

var (
	// Absolute paths with at least two segments. Single-segment paths like
	// "/tmp" carry no useful secret and stay readable.
	pathPattern = regexp.MustCompile(`/(?:[\w.+-]+/)+[\w.+-]+`)

	// Long unbroken base64/hex-ish runs are treated as credentials.
	tokenPattern = regexp.MustCompile(`\b[A-Za-z0-9_-]{32,}\b`)
)

// Message redacts absolute paths (keeping only the base name) and long
// opaque tokens from msg.
func Message(msg string) string {
	msg = pathPattern.ReplaceAllStringFunc(msg, func(m string) string {
		return ".../" + path.Base(m)
	})
	return tokenPattern.ReplaceAllString(msg, "[redacted]")
}

// Error redacts err's text; nil-safe.
func Error(err error) string {
	if err == nil {
		return ""
	}
	return Message(err.Error())
}
