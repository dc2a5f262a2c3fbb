package textutil

import (
	"crypto/md5"
	"fmt"
	"regexp"
	"strings"
)

var whitespaceRe = regexp.MustCompile(`\s+`)

// Normalize trims a question text and collapses runs of whitespace and
// line breaks into single spaces. All equality comparisons between
// question texts happen on the normalized form.
func Normalize(text string) string {
	if text == "" {
		return ""
	}
	return strings.TrimSpace(whitespaceRe.ReplaceAllString(text, " "))
}

// Hash returns the canonical content hash of a question text. The input
// is normalized first so that two texts differing only in whitespace
// share a hash.
func Hash(text string) string {
	sum := md5.Sum([]byte(Normalize(text)))
	return fmt.Sprintf("%x", sum)
}
