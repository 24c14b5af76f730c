// Package processor pairs the feature extractor with the CTC tokenizer so
// audio and transcripts are prepared by one object.
package processor

import (
	"fmt"
	"os"

	"github.com/ieee0824/ctc-finetune/feature"
	"github.com/ieee0824/ctc-finetune/padding"
	"github.com/ieee0824/ctc-finetune/tokenizer"
	"github.com/ieee0824/ctc-finetune/vocab"
)

// Processor prepares (audio, transcript) pairs for the model.
type Processor struct {
	Extractor *feature.Extractor
	Tokenizer *tokenizer.CTC
}

// New returns a processor with the default extractor over v.
func New(v *vocab.Vocabulary) *Processor {
	return &Processor{Extractor: feature.NewExtractor(), Tokenizer: tokenizer.New(v)}
}

// SamplingRate is the rate Process expects audio at.
func (p *Processor) SamplingRate() int { return p.Extractor.SamplingRate }

// Process returns the normalized input values of samples and the label ids of
// the cleaned transcript.
func (p *Processor) Process(samples []float64, rate int, transcript string) ([]float32, []int, error) {
	inputs, err := p.Extractor.Extract(samples, rate)
	if err != nil {
		return nil, nil, err
	}
	return inputs, p.Tokenizer.Encode(transcript), nil
}

// PadInputs pads input values with the extractor's padding value.
func (p *Processor) PadInputs(inputs [][]float32, opts padding.Options) ([][]float32, [][]int, error) {
	return p.Extractor.Pad(inputs, opts)
}

// PadLabels pads label ids with the tokenizer's pad id.
func (p *Processor) PadLabels(labels [][]int, opts padding.Options) ([][]int, [][]int, error) {
	return p.Tokenizer.Pad(labels, opts)
}

// Save writes the extractor and tokenizer configuration plus vocab.json into
// dir.
func (p *Processor) Save(dir string) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("processor: %w", err)
	}
	if err := p.Tokenizer.SaveConfig(dir); err != nil {
		return err
	}
	return p.Extractor.Save(dir)
}

// Load reads a processor saved with Save.
func Load(dir string) (*Processor, error) {
	tok, err := tokenizer.Load(dir)
	if err != nil {
		return nil, fmt.Errorf("processor: %w", err)
	}
	ext, err := feature.LoadExtractor(dir)
	if err != nil {
		return nil, fmt.Errorf("processor: %w", err)
	}
	return &Processor{Extractor: ext, Tokenizer: tok}, nil
}
