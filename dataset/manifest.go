package dataset

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// LoadManifest reads a TSV manifest of "audio_path<TAB>transcript" lines.
// Relative audio paths are resolved against the manifest's directory. Blank
// lines and lines starting with '#' are skipped.
func LoadManifest(path string) ([]Example, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open manifest: %w", err)
	}
	defer f.Close()

	base := filepath.Dir(path)
	var out []Example
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := strings.TrimRight(scanner.Text(), "\r")
		if strings.TrimSpace(line) == "" || strings.HasPrefix(line, "#") {
			continue
		}
		parts := strings.SplitN(line, "\t", 2)
		if len(parts) != 2 || parts[0] == "" {
			return nil, fmt.Errorf("%s:%d: want audio_path<TAB>transcript", path, lineNo)
		}
		audioPath := parts[0]
		if !filepath.IsAbs(audioPath) {
			audioPath = filepath.Join(base, audioPath)
		}
		out = append(out, Example{
			ID:        strings.TrimSuffix(parts[0], filepath.Ext(parts[0])),
			AudioPath: audioPath,
			Text:      strings.TrimSpace(parts[1]),
		})
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read manifest %s: %w", path, err)
	}
	return out, nil
}

// WriteManifest writes examples in the format LoadManifest reads.
func WriteManifest(path string, examples []Example) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create manifest: %w", err)
	}
	w := bufio.NewWriter(f)
	for _, ex := range examples {
		text := strings.Join(strings.Fields(ex.Text), " ")
		fmt.Fprintf(w, "%s\t%s\n", ex.AudioPath, text)
	}
	if err := w.Flush(); err != nil {
		f.Close()
		return fmt.Errorf("write manifest: %w", err)
	}
	return f.Close()
}
