// Package feature turns waveforms into model inputs: the Extractor
// normalizes and pads raw samples, and the Filterbank computes the log-mel
// frames consumed by the acoustic model.
package feature

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"

	"github.com/ieee0824/ctc-finetune/padding"
)

// ConfigFileName is the file Save writes into a checkpoint directory.
const ConfigFileName = "preprocessor_config.json"

var (
	// ErrSamplingRate is returned when audio arrives at a rate other than the
	// extractor's.
	ErrSamplingRate = errors.New("feature: sampling rate mismatch")
	// ErrEmpty is returned for zero-length audio.
	ErrEmpty = errors.New("feature: empty input")
)

// Extractor converts a waveform into normalized input values.
type Extractor struct {
	FeatureSize         int     `json:"feature_size"`
	SamplingRate        int     `json:"sampling_rate"`
	PaddingValue        float32 `json:"padding_value"`
	DoNormalize         bool    `json:"do_normalize"`
	ReturnAttentionMask bool    `json:"return_attention_mask"`
}

// NewExtractor returns the 16kHz extractor: pad with 0, normalize, no
// attention mask.
func NewExtractor() *Extractor {
	return &Extractor{
		FeatureSize:  1,
		SamplingRate: 16000,
		PaddingValue: 0,
		DoNormalize:  true,
	}
}

// Extract converts samples recorded at rate into input values. With
// DoNormalize the output has zero mean and unit variance.
func (e *Extractor) Extract(samples []float64, rate int) ([]float32, error) {
	if rate != e.SamplingRate {
		return nil, fmt.Errorf("%w: got %dHz, want %dHz", ErrSamplingRate, rate, e.SamplingRate)
	}
	if len(samples) == 0 {
		return nil, ErrEmpty
	}
	out := make([]float32, len(samples))
	if !e.DoNormalize {
		for i, s := range samples {
			out[i] = float32(s)
		}
		return out, nil
	}
	mean, variance := meanVar(samples)
	scale := 1 / math.Sqrt(variance+1e-7)
	for i, s := range samples {
		out[i] = float32((s - mean) * scale)
	}
	return out, nil
}

func meanVar(x []float64) (mean, variance float64) {
	for _, v := range x {
		mean += v
	}
	mean /= float64(len(x))
	for _, v := range x {
		d := v - mean
		variance += d * d
	}
	return mean, variance / float64(len(x))
}

// Pad pads input rows with PaddingValue. The mask holds 1 at real samples.
func (e *Extractor) Pad(inputs [][]float32, opts padding.Options) ([][]float32, [][]int, error) {
	out, mask, err := padding.Pad(inputs, e.PaddingValue, opts)
	if err != nil {
		return nil, nil, fmt.Errorf("feature: pad inputs: %w", err)
	}
	return out, mask, nil
}

// Save writes preprocessor_config.json into dir.
func (e *Extractor) Save(dir string) error {
	data, err := json.MarshalIndent(e, "", "  ")
	if err != nil {
		return fmt.Errorf("feature: encode config: %w", err)
	}
	path := filepath.Join(dir, ConfigFileName)
	if err := os.WriteFile(path, append(data, '\n'), 0o644); err != nil {
		return fmt.Errorf("feature: write %s: %w", path, err)
	}
	return nil
}

// LoadExtractor reads the extractor saved in dir.
func LoadExtractor(dir string) (*Extractor, error) {
	path := filepath.Join(dir, ConfigFileName)
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("feature: read %s: %w", path, err)
	}
	e := NewExtractor()
	if err := json.Unmarshal(data, e); err != nil {
		return nil, fmt.Errorf("feature: decode %s: %w", path, err)
	}
	if e.SamplingRate <= 0 {
		return nil, fmt.Errorf("feature: %s: sampling rate %d must be positive", path, e.SamplingRate)
	}
	return e, nil
}
