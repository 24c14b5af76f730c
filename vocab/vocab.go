// Package vocab builds and persists the character vocabulary used as CTC
// output alphabet.
package vocab

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sort"
	"unicode/utf8"
)

// Special tokens. UnkToken and PadToken always hold the two highest ids, and
// PadToken doubles as the CTC blank.
const (
	UnkToken      = "[UNK]"
	PadToken      = "[PAD]"
	WordDelimiter = "|"
)

// FileName is the conventional name of a persisted vocabulary.
const FileName = "vocab.json"

// ErrInvalid is returned when a vocabulary breaks the id invariants.
var ErrInvalid = errors.New("vocab: invalid vocabulary")

// Vocabulary maps tokens to contiguous ids starting at 0.
type Vocabulary struct {
	ids    map[string]int
	tokens []string
}

// Build computes the vocabulary of the given cleaned transcripts.
//
// Distinct characters are sorted by code point and numbered from 0. The id of
// the space character is re-keyed under WordDelimiter, then UnkToken and
// PadToken are appended. A literal WordDelimiter in the corpus is ignored.
func Build(transcripts ...[]string) *Vocabulary {
	seen := map[rune]bool{}
	for _, split := range transcripts {
		for _, t := range split {
			for _, r := range t {
				if r == utf8.RuneError || string(r) == WordDelimiter {
					continue
				}
				seen[r] = true
			}
		}
	}
	runes := make([]rune, 0, len(seen))
	for r := range seen {
		runes = append(runes, r)
	}
	sort.Slice(runes, func(i, j int) bool { return runes[i] < runes[j] })

	tokens := make([]string, 0, len(runes)+3)
	hasDelim := false
	for _, r := range runes {
		if r == ' ' {
			tokens = append(tokens, WordDelimiter)
			hasDelim = true
			continue
		}
		tokens = append(tokens, string(r))
	}
	if !hasDelim {
		tokens = append(tokens, WordDelimiter)
	}
	tokens = append(tokens, UnkToken, PadToken)

	v, err := fromTokens(tokens)
	if err != nil {
		// Unreachable: tokens are distinct by construction.
		panic(err)
	}
	return v
}

// New validates ids and wraps them in a Vocabulary.
func New(ids map[string]int) (*Vocabulary, error) {
	tokens := make([]string, len(ids))
	filled := make([]bool, len(ids))
	for tok, id := range ids {
		if id < 0 || id >= len(ids) {
			return nil, fmt.Errorf("%w: id %d of %q out of range [0,%d)", ErrInvalid, id, tok, len(ids))
		}
		if filled[id] {
			return nil, fmt.Errorf("%w: id %d assigned to both %q and %q", ErrInvalid, id, tokens[id], tok)
		}
		tokens[id] = tok
		filled[id] = true
	}
	v, err := fromTokens(tokens)
	if err != nil {
		return nil, err
	}
	if err := v.Validate(); err != nil {
		return nil, err
	}
	return v, nil
}

func fromTokens(tokens []string) (*Vocabulary, error) {
	ids := make(map[string]int, len(tokens))
	for i, t := range tokens {
		if _, dup := ids[t]; dup {
			return nil, fmt.Errorf("%w: duplicate token %q", ErrInvalid, t)
		}
		ids[t] = i
	}
	return &Vocabulary{ids: ids, tokens: tokens}, nil
}

// Validate checks that ids are exactly {0..Len()-1}, that UnkToken and
// PadToken occupy the two highest ids and that WordDelimiter is present.
func (v *Vocabulary) Validate() error {
	n := len(v.tokens)
	if n < 3 {
		return fmt.Errorf("%w: %d tokens", ErrInvalid, n)
	}
	if len(v.ids) != n {
		return fmt.Errorf("%w: %d ids for %d tokens", ErrInvalid, len(v.ids), n)
	}
	for i, t := range v.tokens {
		if v.ids[t] != i {
			return fmt.Errorf("%w: token %q has id %d, want %d", ErrInvalid, t, v.ids[t], i)
		}
	}
	if v.tokens[n-2] != UnkToken || v.tokens[n-1] != PadToken {
		return fmt.Errorf("%w: %s and %s must hold the two highest ids", ErrInvalid, UnkToken, PadToken)
	}
	if _, ok := v.ids[WordDelimiter]; !ok {
		return fmt.Errorf("%w: missing word delimiter %q", ErrInvalid, WordDelimiter)
	}
	if _, ok := v.ids[" "]; ok {
		return fmt.Errorf("%w: space must be replaced by %q", ErrInvalid, WordDelimiter)
	}
	return nil
}

// Len returns the number of tokens.
func (v *Vocabulary) Len() int { return len(v.tokens) }

// ID returns the id of tok.
func (v *Vocabulary) ID(tok string) (int, bool) {
	id, ok := v.ids[tok]
	return id, ok
}

// Token returns the token for id.
func (v *Vocabulary) Token(id int) (string, bool) {
	if id < 0 || id >= len(v.tokens) {
		return "", false
	}
	return v.tokens[id], true
}

// Tokens returns the id-indexed token table.
func (v *Vocabulary) Tokens() []string {
	return append([]string(nil), v.tokens...)
}

// IDs returns a copy of the token to id mapping.
func (v *Vocabulary) IDs() map[string]int {
	m := make(map[string]int, len(v.ids))
	for k, id := range v.ids {
		m[k] = id
	}
	return m
}

func (v *Vocabulary) UnkID() int       { return v.ids[UnkToken] }
func (v *Vocabulary) PadID() int       { return v.ids[PadToken] }
func (v *Vocabulary) DelimiterID() int { return v.ids[WordDelimiter] }

func (v *Vocabulary) MarshalJSON() ([]byte, error) {
	return json.Marshal(v.ids)
}

func (v *Vocabulary) UnmarshalJSON(data []byte) error {
	var ids map[string]int
	if err := json.Unmarshal(data, &ids); err != nil {
		return fmt.Errorf("vocab: decode: %w", err)
	}
	nv, err := New(ids)
	if err != nil {
		return err
	}
	*v = *nv
	return nil
}

// Save writes the vocabulary as a JSON object token -> id.
func (v *Vocabulary) Save(path string) error {
	data, err := json.MarshalIndent(v.ids, "", "  ")
	if err != nil {
		return fmt.Errorf("vocab: encode: %w", err)
	}
	if err := os.WriteFile(path, append(data, '\n'), 0o644); err != nil {
		return fmt.Errorf("vocab: write %s: %w", path, err)
	}
	return nil
}

// Load reads a vocabulary written by Save.
func Load(path string) (*Vocabulary, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("vocab: read %s: %w", path, err)
	}
	v := new(Vocabulary)
	if err := v.UnmarshalJSON(data); err != nil {
		return nil, fmt.Errorf("vocab: load %s: %w", path, err)
	}
	return v, nil
}
