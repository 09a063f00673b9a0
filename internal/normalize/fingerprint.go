package normalize

import (
	"crypto/sha256"
	"encoding/hex"
	"html"
	"regexp"
	"strings"
	"unicode"
)

var tagPattern = regexp.MustCompile(`(?s)<[^>]*>`)

// Fingerprint is the SHA-256 hex digest over the normalized title, company
// and description. Equal fingerprints mean the same job.
func Fingerprint(title, company, description string) string {
	h := sha256.New()
	h.Write([]byte(foldText(title)))
	h.Write([]byte{0x1f})
	h.Write([]byte(foldText(company)))
	h.Write([]byte{0x1f})
	h.Write([]byte(foldText(PlainText(description))))
	return hex.EncodeToString(h.Sum(nil))
}

// PlainText strips markup and entities and collapses whitespace.
func PlainText(s string) string {
	if strings.ContainsAny(s, "<&") {
		s = tagPattern.ReplaceAllString(s, " ")
		s = html.UnescapeString(s)
	}
	return CollapseSpace(s)
}

// CollapseSpace trims s and reduces every run of whitespace to one space.
func CollapseSpace(s string) string {
	return strings.Join(strings.FieldsFunc(s, unicode.IsSpace), " ")
}

// foldText lowercases and drops punctuation so that cosmetic differences
// between boards ("Sr. Engineer" vs "Sr Engineer") do not split a job.
func foldText(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	space := false
	for _, r := range strings.ToLower(s) {
		switch {
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			if space && b.Len() > 0 {
				b.WriteByte(' ')
			}
			space = false
			b.WriteRune(r)
		default:
			space = true
		}
	}
	return b.String()
}
