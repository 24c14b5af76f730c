// Package text cleans transcripts before they are turned into vocabulary
// entries and label ids.
package text

import (
	"regexp"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
	"golang.org/x/text/unicode/norm"
)

// RemovedPunctuation lists every character stripped by Normalize.
const RemovedPunctuation = `,?.!-;:"`

var punctuation = regexp.MustCompile(`[,?.!\-;:"]`)

// Normalize removes RemovedPunctuation, lowercases the transcript and appends
// a single trailing space (the word delimiter that closes the last word).
func Normalize(s string) string {
	s = norm.NFC.String(s)
	s = punctuation.ReplaceAllString(s, "")
	// cases.Caser is stateful, so one is created per call.
	return cases.Lower(language.Und).String(s) + " "
}

// NormalizeAll normalizes every transcript in place and returns the slice.
func NormalizeAll(ss []string) []string {
	for i, s := range ss {
		ss[i] = Normalize(s)
	}
	return ss
}
