package processor

import (
	"errors"
	"testing"

	"github.com/ieee0824/ctc-finetune/feature"
	"github.com/ieee0824/ctc-finetune/padding"
	"github.com/ieee0824/ctc-finetune/vocab"
)

func TestProcess(t *testing.T) {
	p := New(vocab.Build([]string{"hi there "}))
	inputs, labels, err := p.Process([]float64{0, 0.5, -0.5, 0}, 16000, "hit ")
	if err != nil {
		t.Fatalf("Process: %v", err)
	}
	if len(inputs) != 4 {
		t.Errorf("len(inputs) = %d, want 4", len(inputs))
	}
	if len(labels) != 4 {
		t.Fatalf("len(labels) = %d, want 4", len(labels))
	}
	if got := p.Tokenizer.Decode(labels, false); got != "hit" {
		t.Errorf("decoded labels = %q, want %q", got, "hit")
	}
}

func TestProcessRejectsRate(t *testing.T) {
	p := New(vocab.Build([]string{"a "}))
	if _, _, err := p.Process([]float64{1}, 44100, "a "); !errors.Is(err, feature.ErrSamplingRate) {
		t.Errorf("err = %v, want ErrSamplingRate", err)
	}
}

func TestPadInputsAndLabelsIndependently(t *testing.T) {
	p := New(vocab.Build([]string{"ab "}))
	in, inMask, err := p.PadInputs([][]float32{{1, 2, 3, 4}, {1}}, padding.Options{})
	if err != nil {
		t.Fatalf("PadInputs: %v", err)
	}
	lb, lbMask, err := p.PadLabels([][]int{{0}, {0, 1}}, padding.Options{})
	if err != nil {
		t.Fatalf("PadLabels: %v", err)
	}
	if len(in[0]) != 4 || len(lb[0]) != 2 {
		t.Errorf("widths = %d/%d, want 4/2", len(in[0]), len(lb[0]))
	}
	if inMask[1][1] != 0 || lbMask[0][1] != 0 || lb[0][1] != p.Tokenizer.PadID() {
		t.Errorf("inMask=%v lb=%v lbMask=%v", inMask, lb, lbMask)
	}
}

func TestSaveLoad(t *testing.T) {
	p := New(vocab.Build([]string{"hello "}))
	dir := t.TempDir()
	if err := p.Save(dir); err != nil {
		t.Fatalf("Save: %v", err)
	}
	got, err := Load(dir)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if got.SamplingRate() != 16000 || got.Tokenizer.Vocab.Len() != p.Tokenizer.Vocab.Len() {
		t.Errorf("loaded rate=%d vocab=%d", got.SamplingRate(), got.Tokenizer.Vocab.Len())
	}
}
