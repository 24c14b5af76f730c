package feature

import (
	"fmt"
	"math"

	"github.com/ieee0824/ctc-finetune/internal/blas"
)

// FilterbankConfig holds the parameters of the log-mel frontend.
type FilterbankConfig struct {
	SampleRate   int     `json:"sample_rate" toml:"sample_rate"`
	FrameLenMs   float64 `json:"frame_len_ms" toml:"frame_len_ms"`
	FrameShiftMs float64 `json:"frame_shift_ms" toml:"frame_shift_ms"`
	PreEmphasis  float64 `json:"pre_emphasis" toml:"pre_emphasis"`
	NumMel       int     `json:"num_mel" toml:"num_mel"`
	FFTSize      int     `json:"fft_size" toml:"fft_size"`
	LowFreq      float64 `json:"low_freq" toml:"low_freq"`
	HighFreq     float64 `json:"high_freq" toml:"high_freq"`
	Deltas       bool    `json:"deltas" toml:"deltas"`
	MeanNorm     bool    `json:"mean_norm" toml:"mean_norm"`
}

// DefaultFilterbankConfig returns 40 log-mel bands over 25ms/10ms frames at
// 16kHz with deltas and utterance mean normalization.
func DefaultFilterbankConfig() FilterbankConfig {
	return FilterbankConfig{
		SampleRate:   16000,
		FrameLenMs:   25,
		FrameShiftMs: 10,
		PreEmphasis:  0.97,
		NumMel:       40,
		FFTSize:      512,
		LowFreq:      20,
		HighFreq:     8000,
		Deltas:       true,
		MeanNorm:     true,
	}
}

// Dim returns the per-frame feature dimension.
func (c FilterbankConfig) Dim() int {
	if c.Deltas {
		return 2 * c.NumMel
	}
	return c.NumMel
}

func (c FilterbankConfig) frameLen() int   { return int(c.FrameLenMs * float64(c.SampleRate) / 1000) }
func (c FilterbankConfig) frameShift() int { return int(c.FrameShiftMs * float64(c.SampleRate) / 1000) }

// NumFrames returns how many frames Compute yields for n samples.
func (c FilterbankConfig) NumFrames(n int) int {
	return numFrames(n, c.frameLen(), c.frameShift())
}

// Validate reports configurations Compute cannot run with.
func (c FilterbankConfig) Validate() error {
	switch {
	case c.SampleRate <= 0:
		return fmt.Errorf("feature: sample rate %d must be positive", c.SampleRate)
	case c.frameLen() <= 0 || c.frameShift() <= 0:
		return fmt.Errorf("feature: frame length %.1fms / shift %.1fms too short", c.FrameLenMs, c.FrameShiftMs)
	case c.frameLen() > c.FFTSize:
		return fmt.Errorf("feature: frame of %d samples exceeds fft size %d", c.frameLen(), c.FFTSize)
	case c.NumMel <= 0:
		return fmt.Errorf("feature: num mel %d must be positive", c.NumMel)
	case c.HighFreq <= c.LowFreq || c.HighFreq > float64(c.SampleRate)/2:
		return fmt.Errorf("feature: band %.0f-%.0fHz invalid for %dHz", c.LowFreq, c.HighFreq, c.SampleRate)
	}
	return nil
}

// Filterbank computes log-mel features. It holds no per-call state and is
// safe for concurrent use.
type Filterbank struct {
	cfg    FilterbankConfig
	plan   *fftPlan
	nBins  int
	melW   []float64 // [NumMel][nBins]
	window []float64
}

func NewFilterbank(cfg FilterbankConfig) (*Filterbank, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	plan, err := newFFTPlan(cfg.FFTSize)
	if err != nil {
		return nil, err
	}
	nBins := cfg.FFTSize/2 + 1
	mel := newMelBank(cfg.NumMel, cfg.FFTSize, cfg.SampleRate, cfg.LowFreq, cfg.HighFreq)
	return &Filterbank{
		cfg:    cfg,
		plan:   plan,
		nBins:  nBins,
		melW:   mel.matrix(nBins),
		window: hamming(cfg.frameLen()),
	}, nil
}

func (f *Filterbank) Config() FilterbankConfig { return f.cfg }

// Compute returns a [frames][Dim()] matrix for the given waveform.
func (f *Filterbank) Compute(samples []float32) [][]float64 {
	x := make([]float64, len(samples))
	for i, s := range samples {
		x[i] = float64(s)
	}
	if len(x) > 0 {
		x = preEmphasize(x, f.cfg.PreEmphasis)
	}

	frameLen, shift := f.cfg.frameLen(), f.cfg.frameShift()
	n := numFrames(len(x), frameLen, shift)
	if n == 0 {
		return [][]float64{}
	}
	frame := make([]float64, frameLen)
	re := make([]float64, f.cfg.FFTSize)
	im := make([]float64, f.cfg.FFTSize)
	power := make([]float64, n*f.nBins)
	for i := 0; i < n; i++ {
		frameAt(x, i, shift, frame)
		for j, w := range f.window {
			frame[j] *= w
		}
		f.plan.power(frame, re, im, power[i*f.nBins:(i+1)*f.nBins])
	}

	numMel := f.cfg.NumMel
	energies := make([]float64, n*numMel)
	blas.Dgemm(false, true, n, numMel, f.nBins, 1, power, f.nBins, f.melW, f.nBins, 0, energies, numMel)

	feats := make([][]float64, n)
	for i := range feats {
		row := energies[i*numMel : (i+1)*numMel : (i+1)*numMel]
		for j, e := range row {
			row[j] = math.Log(math.Max(e, 1e-10))
		}
		feats[i] = row
	}
	if f.cfg.MeanNorm {
		subtractMean(feats)
	}
	if f.cfg.Deltas {
		feats = appendDeltas(feats, 2)
	}
	return feats
}
