package util

import (
	"regexp"
	"strings"
)

var (
	linkPrefix = regexp.MustCompile(`^(?i)(https?://)?(www\.)?(t\.me|telegram\.me)/`)
	numericRef = regexp.MustCompile(`^-?\d+$`)
	usernameRe = regexp.MustCompile(`^[A-Za-z][A-Za-z0-9_]{4,31}$`)
)

// NormalizeRef turns user input into a recipient or channel reference:
// a numeric platform id, or a bare username without '@' or link prefix.
// It returns "" for input that is neither.
func NormalizeRef(raw string) string {
	s := strings.TrimSpace(raw)
	s = linkPrefix.ReplaceAllString(s, "")
	s = strings.TrimPrefix(s, "@")
	s = strings.TrimRight(s, "/")

	if numericRef.MatchString(s) {
		return s
	}
	if usernameRe.MatchString(s) {
		return strings.ToLower(s)
	}
	return ""
}
