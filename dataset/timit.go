package dataset

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// LoadTIMIT reads a TIMIT-layout corpus rooted at dir. Each *.TXT transcript
// ("<start> <end> words...") under TRAIN/ and TEST/ is paired with the
// sibling *.WAV file; the leading sample span is dropped.
func LoadTIMIT(dir string) (*Corpus, error) {
	splits, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("timit: %w", err)
	}
	c := &Corpus{}
	for _, e := range splits {
		if !e.IsDir() {
			continue
		}
		var dst *[]Example
		switch strings.ToUpper(e.Name()) {
		case "TRAIN":
			dst = &c.Train
		case "TEST":
			dst = &c.Test
		default:
			continue
		}
		exs, err := loadTIMITSplit(dir, filepath.Join(dir, e.Name()))
		if err != nil {
			return nil, err
		}
		*dst = append(*dst, exs...)
	}
	if len(c.Train) == 0 && len(c.Test) == 0 {
		return nil, fmt.Errorf("timit: no TRAIN or TEST utterances under %s", dir)
	}
	return c, nil
}

func loadTIMITSplit(root, dir string) ([]Example, error) {
	var out []Example
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || !strings.EqualFold(filepath.Ext(path), ".txt") {
			return nil
		}
		text, err := readTIMITTranscript(path)
		if err != nil {
			return err
		}
		wav, err := siblingAudio(path)
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(root, strings.TrimSuffix(path, filepath.Ext(path)))
		if err != nil {
			return err
		}
		out = append(out, Example{ID: filepath.ToSlash(rel), AudioPath: wav, Text: text})
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("timit: %w", err)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func readTIMITTranscript(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	fields := strings.Fields(string(data))
	if len(fields) < 2 {
		return "", fmt.Errorf("%s: malformed transcript", path)
	}
	return strings.Join(fields[2:], " "), nil
}

func siblingAudio(txt string) (string, error) {
	base := strings.TrimSuffix(txt, filepath.Ext(txt))
	for _, ext := range []string{".WAV", ".wav", ".Wav"} {
		p := base + ext
		if _, err := os.Stat(p); err == nil {
			return p, nil
		}
	}
	return "", fmt.Errorf("%s: no matching wav file", txt)
}
