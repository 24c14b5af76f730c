package match

import (
	"slices"
	"strings"

	"github.com/ieee0824/ctc-finetune/text"
)

// DefaultMinScore is the alignment score a match needs to move the position.
const DefaultMinScore = 3

// Script is a normalized read-aloud text split into words. Alignment runs over
// its characters with the word delimiters removed.
type Script struct {
	Words []string
	units []rune
	word  []int
}

// NewScript normalizes lines the way transcripts are normalized for training
// and splits them into words.
func NewScript(lines []string) *Script {
	s := &Script{}
	for _, line := range text.NormalizeAll(slices.Clone(lines)) {
		for _, w := range strings.Fields(line) {
			for _, r := range w {
				s.units = append(s.units, r)
				s.word = append(s.word, len(s.Words))
			}
			s.Words = append(s.Words, w)
		}
	}
	return s
}

// Span is a half-open range of non-space characters of a decoded text.
type Span struct {
	Start, End int
}

// Tracker keeps the reading position within a Script. Match moves a tentative
// position forward; Commit makes it the base for the next Match.
type Tracker struct {
	Script   *Script
	MinScore int

	committed int
	current   int
}

func NewTracker(s *Script) *Tracker {
	return &Tracker{Script: s, MinScore: DefaultMinScore}
}

// Match aligns the non-space characters of decoded against the script after
// the committed position. It reports the matched characters of decoded and
// false when the alignment scores below MinScore. The tentative position never
// moves backwards.
func (t *Tracker) Match(decoded string) (Span, bool) {
	query := units(decoded)
	pairs := Align(query, t.Script.units[t.committed:])
	if len(pairs) == 0 || pairs[len(pairs)-1].Score < t.MinScore {
		return Span{}, false
	}
	span := Span{Start: -1}
	for _, p := range pairs {
		if p.Script != -1 {
			t.current = max(t.current, t.committed+p.Script+1)
		}
		if p.Query != -1 {
			if span.Start == -1 {
				span.Start = p.Query
			}
			span.End = p.Query + 1
		}
	}
	return span, true
}

// Commit fixes the position reached by the last successful Match.
func (t *Tracker) Commit() {
	t.committed = t.current
}

// Position returns the index of the word being read, or len(Words) once the
// whole script has been matched.
func (t *Tracker) Position() int {
	if t.current >= len(t.Script.units) {
		return len(t.Script.Words)
	}
	return t.Script.word[t.current]
}

func units(s string) []rune {
	out := make([]rune, 0, len(s))
	for _, r := range s {
		if r != ' ' {
			out = append(out, r)
		}
	}
	return out
}
