package model

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/unixpickle/serializer"
)

// FileName is the weights file inside a model or checkpoint directory.
const FileName = "model.bin"

// ErrNotFound is returned when a pretrained identifier cannot be resolved.
var ErrNotFound = errors.New("model: pretrained model not found")

// Save writes the model to path.
func (m *Model) Save(path string) error {
	if err := serializer.SaveAny(path, m); err != nil {
		return fmt.Errorf("save model %s: %w", path, err)
	}
	return nil
}

// Load reads a model written by Save.
func Load(path string) (*Model, error) {
	var m *Model
	if err := serializer.LoadAny(path, &m); err != nil {
		return nil, fmt.Errorf("load model %s: %w", path, err)
	}
	return m, nil
}

// Resolve maps an identifier to a weights file. The identifier may be a file,
// a directory holding model.bin, or a name under modelsDir.
func Resolve(identifier, modelsDir string) (string, error) {
	candidates := []string{identifier, filepath.Join(identifier, FileName)}
	if modelsDir != "" {
		candidates = append(candidates, filepath.Join(modelsDir, identifier, FileName))
	}
	for _, c := range candidates {
		if info, err := os.Stat(c); err == nil && !info.IsDir() {
			return c, nil
		}
	}
	return "", fmt.Errorf("%w: %q", ErrNotFound, identifier)
}

// LoadPretrained loads a pretrained model and adapts its head to vocabSize
// outputs. replaced reports whether the head was reinitialized.
func LoadPretrained(identifier, modelsDir string, vocabSize int) (m *Model, replaced bool, err error) {
	path, err := Resolve(identifier, modelsDir)
	if err != nil {
		return nil, false, err
	}
	m, err = Load(path)
	if err != nil {
		return nil, false, err
	}
	if m.Config.VocabSize != vocabSize {
		m.ReplaceHead(vocabSize)
		replaced = true
	}
	return m, replaced, nil
}
