package feature

import (
	"errors"
	"math"
	"testing"

	"github.com/ieee0824/ctc-finetune/padding"
)

func TestExtractNormalizes(t *testing.T) {
	e := NewExtractor()
	n := 1600
	samples := make([]float64, n)
	for i := range samples {
		samples[i] = 0.3 + 0.5*math.Sin(2*math.Pi*440*float64(i)/16000)
	}
	out, err := e.Extract(samples, 16000)
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}
	if len(out) != n {
		t.Fatalf("len = %d, want %d", len(out), n)
	}
	var mean, sq float64
	for _, v := range out {
		mean += float64(v)
	}
	mean /= float64(n)
	for _, v := range out {
		d := float64(v) - mean
		sq += d * d
	}
	std := math.Sqrt(sq / float64(n))
	if math.Abs(mean) > 1e-4 {
		t.Errorf("mean = %g, want ~0", mean)
	}
	if math.Abs(std-1) > 1e-3 {
		t.Errorf("std = %g, want ~1", std)
	}
}

func TestExtractConstantSignal(t *testing.T) {
	e := NewExtractor()
	out, err := e.Extract([]float64{0.5, 0.5, 0.5}, 16000)
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}
	for i, v := range out {
		if v != 0 || math.IsNaN(float64(v)) {
			t.Errorf("out[%d] = %g, want 0", i, v)
		}
	}
}

func TestExtractErrors(t *testing.T) {
	e := NewExtractor()
	tests := []struct {
		name    string
		samples []float64
		rate    int
		want    error
	}{
		{"wrong_rate", []float64{1, 2}, 8000, ErrSamplingRate},
		{"empty", nil, 16000, ErrEmpty},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := e.Extract(tt.samples, tt.rate); !errors.Is(err, tt.want) {
				t.Errorf("err = %v, want %v", err, tt.want)
			}
		})
	}
}

func TestExtractWithoutNormalize(t *testing.T) {
	e := NewExtractor()
	e.DoNormalize = false
	out, err := e.Extract([]float64{0.25, -0.5}, 16000)
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}
	if out[0] != 0.25 || out[1] != -0.5 {
		t.Errorf("out = %v", out)
	}
}

func TestExtractorPad(t *testing.T) {
	e := NewExtractor()
	e.PaddingValue = -1
	out, mask, err := e.Pad([][]float32{{1, 2}, {3}}, padding.Options{})
	if err != nil {
		t.Fatalf("Pad: %v", err)
	}
	if out[1][1] != -1 || mask[1][1] != 0 || mask[0][1] != 1 {
		t.Errorf("out=%v mask=%v", out, mask)
	}
}

func TestExtractorSaveLoad(t *testing.T) {
	dir := t.TempDir()
	e := NewExtractor()
	e.ReturnAttentionMask = true
	if err := e.Save(dir); err != nil {
		t.Fatalf("Save: %v", err)
	}
	got, err := LoadExtractor(dir)
	if err != nil {
		t.Fatalf("LoadExtractor: %v", err)
	}
	if *got != *e {
		t.Errorf("loaded %+v, want %+v", *got, *e)
	}
}
