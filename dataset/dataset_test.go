package dataset

import (
	"context"
	"errors"
	"math"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"

	"github.com/ieee0824/ctc-finetune/audio"
	"github.com/ieee0824/ctc-finetune/processor"
	"github.com/ieee0824/ctc-finetune/text"
	"github.com/ieee0824/ctc-finetune/vocab"
)

func writeWAV(t *testing.T, path string, n, rate int) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatal(err)
	}
	samples := make([]float64, n)
	for i := range samples {
		samples[i] = 0.5 * math.Sin(2*math.Pi*220*float64(i)/float64(rate))
	}
	f, err := os.Create(path)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()
	if err := audio.WriteWAV(f, samples, rate); err != nil {
		t.Fatal(err)
	}
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
}

func buildTIMIT(t *testing.T) string {
	t.Helper()
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "TRAIN/DR1/FCJF0/SA1.TXT"), "0 46797 She had your dark suit in greasy wash water all year.\n")
	writeWAV(t, filepath.Join(root, "TRAIN/DR1/FCJF0/SA1.WAV"), 1600, 16000)
	writeFile(t, filepath.Join(root, "TRAIN/DR1/FCJF0/SA1.PHN"), "0 3050 h#\n")
	writeFile(t, filepath.Join(root, "TRAIN/DR1/FCJF0/SX9.TXT"), "0 100 Don't ask me to carry an oily rag like that.\n")
	writeWAV(t, filepath.Join(root, "TRAIN/DR1/FCJF0/SX9.WAV"), 800, 16000)
	writeFile(t, filepath.Join(root, "test/dr2/mrjo0/si1.txt"), "0 200 Pizzerias are convenient for a quick lunch.\n")
	writeWAV(t, filepath.Join(root, "test/dr2/mrjo0/si1.wav"), 400, 8000)
	return root
}

func TestLoadTIMIT(t *testing.T) {
	root := buildTIMIT(t)
	c, err := LoadTIMIT(root)
	if err != nil {
		t.Fatalf("LoadTIMIT: %v", err)
	}
	if len(c.Train) != 2 || len(c.Test) != 1 {
		t.Fatalf("train=%d test=%d, want 2/1", len(c.Train), len(c.Test))
	}
	if c.Train[0].ID != "TRAIN/DR1/FCJF0/SA1" {
		t.Errorf("ID = %q", c.Train[0].ID)
	}
	if want := "She had your dark suit in greasy wash water all year."; c.Train[0].Text != want {
		t.Errorf("Text = %q, want %q", c.Train[0].Text, want)
	}
	if filepath.Base(c.Test[0].AudioPath) != "si1.wav" {
		t.Errorf("AudioPath = %q", c.Test[0].AudioPath)
	}
}

func TestLoadTIMITMissingWAV(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "TRAIN/DR1/X/SA1.TXT"), "0 1 hi\n")
	if _, err := LoadTIMIT(root); err == nil {
		t.Error("expected error for transcript without audio")
	}
}

func TestLoadTIMITEmpty(t *testing.T) {
	if _, err := LoadTIMIT(t.TempDir()); err == nil {
		t.Error("expected error for empty corpus")
	}
}

func TestManifestRoundTrip(t *testing.T) {
	dir := t.TempDir()
	writeWAV(t, filepath.Join(dir, "wav/a.wav"), 160, 16000)
	path := filepath.Join(dir, "manifest.tsv")
	writeFile(t, path, "# comment\nwav/a.wav\tHello  World\n\n")

	exs, err := LoadManifest(path)
	if err != nil {
		t.Fatalf("LoadManifest: %v", err)
	}
	if len(exs) != 1 {
		t.Fatalf("len = %d, want 1", len(exs))
	}
	if exs[0].AudioPath != filepath.Join(dir, "wav/a.wav") || exs[0].ID != "wav/a" {
		t.Errorf("example = %+v", exs[0])
	}

	out := filepath.Join(dir, "out.tsv")
	if err := WriteManifest(out, exs); err != nil {
		t.Fatalf("WriteManifest: %v", err)
	}
	again, err := LoadManifest(out)
	if err != nil {
		t.Fatalf("LoadManifest: %v", err)
	}
	if again[0].AudioPath != exs[0].AudioPath || again[0].Text != "Hello World" {
		t.Errorf("reloaded = %+v", again[0])
	}
}

func TestLoadManifestMalformed(t *testing.T) {
	path := filepath.Join(t.TempDir(), "m.tsv")
	writeFile(t, path, "no tab here\n")
	if _, err := LoadManifest(path); err == nil {
		t.Error("expected error for line without tab")
	}
}

func TestPreprocess(t *testing.T) {
	c, err := LoadTIMIT(buildTIMIT(t))
	if err != nil {
		t.Fatal(err)
	}
	all := append(append([]Example(nil), c.Train...), c.Test...)
	MapText(all, text.Normalize)
	proc := processor.New(vocab.Build(Texts(all)))

	var done atomic.Int64
	got, err := Preprocess(context.Background(), all, proc, 3, func() { done.Add(1) })
	if err != nil {
		t.Fatalf("Preprocess: %v", err)
	}
	if len(got) != 3 || done.Load() != 3 {
		t.Fatalf("len = %d, progress = %d", len(got), done.Load())
	}
	wantLen := []int{1600, 800, 800} // 8kHz test file is resampled to 16kHz
	for i, p := range got {
		if p.ID != all[i].ID {
			t.Errorf("got[%d].ID = %q, want %q (order)", i, p.ID, all[i].ID)
		}
		if p.InputLength != wantLen[i] || len(p.InputValues) != wantLen[i] {
			t.Errorf("got[%d] length = %d/%d, want %d", i, p.InputLength, len(p.InputValues), wantLen[i])
		}
		if dec := proc.Tokenizer.Decode(p.Labels, false) + " "; dec != all[i].Text {
			t.Errorf("labels decode to %q, want %q", dec, all[i].Text)
		}
	}
}

func TestPreprocessInMemory(t *testing.T) {
	proc := processor.New(vocab.Build([]string{"ab "}))
	exs := []Example{{ID: "x", Text: "ab ", Samples: []float64{0, 1, 0, -1}, SamplingRate: 16000}}
	got, err := Preprocess(context.Background(), exs, proc, 0, nil)
	if err != nil {
		t.Fatalf("Preprocess: %v", err)
	}
	if got[0].InputLength != 4 {
		t.Errorf("InputLength = %d", got[0].InputLength)
	}
}

func TestPreprocessMalformedAudioIsFatal(t *testing.T) {
	dir := t.TempDir()
	bad := filepath.Join(dir, "bad.wav")
	writeFile(t, bad, "RIFFxxxxWAVEjunk")
	proc := processor.New(vocab.Build([]string{"a "}))
	exs := []Example{{ID: "bad", AudioPath: bad, Text: "a "}}
	if _, err := Preprocess(context.Background(), exs, proc, 2, nil); err == nil {
		t.Error("expected error for malformed audio")
	}
}

func TestPreprocessCanceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	proc := processor.New(vocab.Build([]string{"a "}))
	exs := []Example{{ID: "x", Text: "a ", Samples: []float64{1, 2}, SamplingRate: 16000}}
	if _, err := Preprocess(ctx, exs, proc, 1, nil); !errors.Is(err, context.Canceled) {
		t.Errorf("err = %v, want context.Canceled", err)
	}
}

func TestFilterByDuration(t *testing.T) {
	items := []Processed{
		{ID: "short", InputLength: 3 * 16000},
		{ID: "exact", InputLength: 4 * 16000},
		{ID: "long", InputLength: 5 * 16000},
		{ID: "just_under", InputLength: 4*16000 - 1},
	}
	got := FilterByDuration(items, 4.0, 16000)
	if len(got) != 2 || got[0].ID != "short" || got[1].ID != "just_under" {
		t.Errorf("kept %+v", got)
	}
	if len(items) != 4 || items[1].ID != "exact" {
		t.Error("FilterByDuration modified its input")
	}
	if s := TotalSeconds(got, 16000); math.Abs(s-(7-1.0/16000)) > 1e-9 {
		t.Errorf("TotalSeconds = %f", s)
	}
}
