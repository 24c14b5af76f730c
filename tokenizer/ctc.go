// Package tokenizer maps cleaned transcripts to label ids and CTC output ids
// back to text.
package tokenizer

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/ieee0824/ctc-finetune/padding"
	"github.com/ieee0824/ctc-finetune/vocab"
)

// ConfigFileName is written next to vocab.json by SaveConfig.
const ConfigFileName = "tokenizer_config.json"

// CTC is a character tokenizer with a word delimiter. The pad token is also
// the CTC blank.
type CTC struct {
	Vocab         *vocab.Vocabulary
	UnkToken      string
	PadToken      string
	WordDelimiter string
}

// Config is the on-disk form of the tokenizer settings.
type Config struct {
	UnkToken           string `json:"unk_token"`
	PadToken           string `json:"pad_token"`
	WordDelimiterToken string `json:"word_delimiter_token"`
	VocabFile          string `json:"vocab_file"`
}

// New returns a tokenizer over v with the default special tokens.
func New(v *vocab.Vocabulary) *CTC {
	return &CTC{
		Vocab:         v,
		UnkToken:      vocab.UnkToken,
		PadToken:      vocab.PadToken,
		WordDelimiter: vocab.WordDelimiter,
	}
}

func (c *CTC) id(tok string) int {
	if id, ok := c.Vocab.ID(tok); ok {
		return id
	}
	return c.UnkID()
}

func (c *CTC) UnkID() int {
	id, _ := c.Vocab.ID(c.UnkToken)
	return id
}

func (c *CTC) PadID() int {
	id, _ := c.Vocab.ID(c.PadToken)
	return id
}

// Encode converts text to label ids one character at a time. Spaces become
// the word delimiter and characters missing from the vocabulary become the
// unknown token.
func (c *CTC) Encode(text string) []int {
	ids := make([]int, 0, len(text))
	for _, r := range text {
		if r == ' ' {
			ids = append(ids, c.id(c.WordDelimiter))
			continue
		}
		ids = append(ids, c.id(string(r)))
	}
	return ids
}

// Decode converts ids to text. With group set, consecutive repeats are
// collapsed first (CTC decoding). Pad tokens are dropped, the word delimiter
// becomes a space and the result is trimmed.
func (c *CTC) Decode(ids []int, group bool) string {
	pad := c.PadID()
	var sb strings.Builder
	for i, id := range ids {
		if group && i > 0 && ids[i-1] == id {
			continue
		}
		if id == pad {
			continue
		}
		tok, ok := c.Vocab.Token(id)
		if !ok {
			tok = c.UnkToken
		}
		if tok == c.WordDelimiter {
			tok = " "
		}
		sb.WriteString(tok)
	}
	return strings.TrimSpace(sb.String())
}

// BatchDecode decodes every row.
func (c *CTC) BatchDecode(rows [][]int, group bool) []string {
	out := make([]string, len(rows))
	for i, r := range rows {
		out[i] = c.Decode(r, group)
	}
	return out
}

// Pad pads label rows with the pad id.
func (c *CTC) Pad(labels [][]int, opts padding.Options) ([][]int, [][]int, error) {
	out, mask, err := padding.Pad(labels, c.PadID(), opts)
	if err != nil {
		return nil, nil, fmt.Errorf("tokenizer: pad labels: %w", err)
	}
	return out, mask, nil
}

// SaveConfig writes tokenizer_config.json and vocab.json into dir.
func (c *CTC) SaveConfig(dir string) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("tokenizer: %w", err)
	}
	if err := c.Vocab.Save(filepath.Join(dir, vocab.FileName)); err != nil {
		return err
	}
	cfg := Config{
		UnkToken:           c.UnkToken,
		PadToken:           c.PadToken,
		WordDelimiterToken: c.WordDelimiter,
		VocabFile:          vocab.FileName,
	}
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("tokenizer: encode config: %w", err)
	}
	path := filepath.Join(dir, ConfigFileName)
	if err := os.WriteFile(path, append(data, '\n'), 0o644); err != nil {
		return fmt.Errorf("tokenizer: write %s: %w", path, err)
	}
	return nil
}

// Load reads a tokenizer saved with SaveConfig. A directory holding only
// vocab.json yields the default special tokens.
func Load(dir string) (*CTC, error) {
	cfg := Config{
		UnkToken:           vocab.UnkToken,
		PadToken:           vocab.PadToken,
		WordDelimiterToken: vocab.WordDelimiter,
		VocabFile:          vocab.FileName,
	}
	data, err := os.ReadFile(filepath.Join(dir, ConfigFileName))
	switch {
	case err == nil:
		if err := json.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("tokenizer: decode %s: %w", ConfigFileName, err)
		}
	case !os.IsNotExist(err):
		return nil, fmt.Errorf("tokenizer: %w", err)
	}
	v, err := vocab.Load(filepath.Join(dir, cfg.VocabFile))
	if err != nil {
		return nil, err
	}
	for _, tok := range []string{cfg.UnkToken, cfg.PadToken, cfg.WordDelimiterToken} {
		if _, ok := v.ID(tok); !ok {
			return nil, fmt.Errorf("tokenizer: special token %q not in vocabulary", tok)
		}
	}
	return &CTC{
		Vocab:         v,
		UnkToken:      cfg.UnkToken,
		PadToken:      cfg.PadToken,
		WordDelimiter: cfg.WordDelimiterToken,
	}, nil
}
