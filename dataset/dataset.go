// Package dataset loads speech corpora and turns them into processed
// training examples.
package dataset

import (
	"fmt"

	"github.com/ieee0824/ctc-finetune/audio"
)

// Example is one utterance. Samples are read lazily from AudioPath when nil.
type Example struct {
	ID           string
	AudioPath    string
	Text         string
	Samples      []float64
	SamplingRate int
}

// Processed is an example after feature extraction and tokenization.
// InputLength counts samples at the extractor's sampling rate.
type Processed struct {
	ID          string
	InputValues []float32
	Labels      []int
	InputLength int
}

// Corpus holds the splits of a dataset.
type Corpus struct {
	Train []Example
	Test  []Example
}

// Texts returns the transcripts of examples.
func Texts(examples []Example) []string {
	out := make([]string, len(examples))
	for i, ex := range examples {
		out[i] = ex.Text
	}
	return out
}

// MapText replaces every transcript with f(text).
func MapText(examples []Example, f func(string) string) {
	for i := range examples {
		examples[i].Text = f(examples[i].Text)
	}
}

// waveform returns the example's samples at rate, decoding and resampling as
// needed.
func (ex *Example) waveform(rate int) ([]float64, error) {
	samples, sr := ex.Samples, ex.SamplingRate
	if samples == nil {
		var h audio.Header
		var err error
		samples, h, err = audio.ReadFile(ex.AudioPath)
		if err != nil {
			return nil, err
		}
		sr = h.SampleRate
	}
	if sr <= 0 {
		return nil, fmt.Errorf("example %s: unknown sampling rate", ex.ID)
	}
	if sr != rate {
		samples = audio.Resample(samples, sr, rate)
	}
	return samples, nil
}
