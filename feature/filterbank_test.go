package feature

import (
	"math"
	"math/cmplx"
	"testing"
)

func sine(n int, freq float64) []float32 {
	out := make([]float32, n)
	for i := range out {
		out[i] = float32(math.Sin(2 * math.Pi * freq * float64(i) / 16000))
	}
	return out
}

// fft runs the radix-2 plan over complex input.
func fft(x []complex128) ([]complex128, error) {
	p, err := newFFTPlan(len(x))
	if err != nil {
		return nil, err
	}
	re, im := make([]float64, len(x)), make([]float64, len(x))
	for i, v := range x {
		re[i], im[i] = real(v), imag(v)
	}
	p.transform(re, im)
	out := make([]complex128, len(x))
	for i := range out {
		out[i] = complex(re[i], im[i])
	}
	return out, nil
}

func TestFFT_Impulse(t *testing.T) {
	x := make([]complex128, 8)
	x[0] = 1
	X, err := fft(x)
	if err != nil {
		t.Fatalf("fft: %v", err)
	}
	for i, v := range X {
		if cmplx.Abs(v-1) > 1e-10 {
			t.Errorf("X[%d] = %v, want 1", i, v)
		}
	}
}

func TestFFT_Cosine(t *testing.T) {
	n := 16
	x := make([]complex128, n)
	for i := range x {
		x[i] = complex(math.Cos(2*math.Pi*3*float64(i)/float64(n)), 0)
	}
	X, err := fft(x)
	if err != nil {
		t.Fatalf("fft: %v", err)
	}
	for i, v := range X {
		want := 0.0
		if i == 3 || i == n-3 {
			want = float64(n) / 2
		}
		if math.Abs(cmplx.Abs(v)-want) > 1e-9 {
			t.Errorf("|X[%d]| = %f, want %f", i, cmplx.Abs(v), want)
		}
	}
}

func TestFFT_NotPowerOfTwo(t *testing.T) {
	if _, err := fft(make([]complex128, 6)); err == nil {
		t.Error("expected error for length 6")
	}
}

func TestPreEmphasize(t *testing.T) {
	out := preEmphasize([]float64{1, 2, 3}, 0.97)
	if out[0] != 1 || math.Abs(out[1]-1.03) > 1e-12 || math.Abs(out[2]-1.06) > 1e-12 {
		t.Errorf("out = %v", out)
	}
}

func TestNumFrames(t *testing.T) {
	tests := []struct {
		n, want int
	}{
		{0, 1},
		{100, 1},
		{400, 1},
		{560, 2},
		{16000, 98},
	}
	cfg := DefaultFilterbankConfig()
	for _, tt := range tests {
		if got := cfg.NumFrames(tt.n); got != tt.want {
			t.Errorf("NumFrames(%d) = %d, want %d", tt.n, got, tt.want)
		}
	}
}

func TestFilterbankCompute(t *testing.T) {
	cfg := DefaultFilterbankConfig()
	fb, err := NewFilterbank(cfg)
	if err != nil {
		t.Fatalf("NewFilterbank: %v", err)
	}
	feats := fb.Compute(sine(16000, 440))
	if len(feats) != cfg.NumFrames(16000) {
		t.Fatalf("frames = %d, want %d", len(feats), cfg.NumFrames(16000))
	}
	if cfg.Dim() != 80 {
		t.Errorf("Dim() = %d, want 80", cfg.Dim())
	}
	for i, f := range feats {
		if len(f) != cfg.Dim() {
			t.Fatalf("len(feats[%d]) = %d, want %d", i, len(f), cfg.Dim())
		}
		for j, v := range f {
			if math.IsNaN(v) || math.IsInf(v, 0) {
				t.Fatalf("feats[%d][%d] = %f", i, j, v)
			}
		}
	}
}

func TestFilterbankShortInput(t *testing.T) {
	fb, err := NewFilterbank(DefaultFilterbankConfig())
	if err != nil {
		t.Fatalf("NewFilterbank: %v", err)
	}
	for _, n := range []int{0, 1, 50} {
		if got := len(fb.Compute(sine(n, 300))); got != 1 {
			t.Errorf("n=%d: frames = %d, want 1", n, got)
		}
	}
}

func TestFilterbankPeakBand(t *testing.T) {
	cfg := DefaultFilterbankConfig()
	cfg.Deltas = false
	cfg.MeanNorm = false
	fb, err := NewFilterbank(cfg)
	if err != nil {
		t.Fatalf("NewFilterbank: %v", err)
	}
	low := fb.Compute(sine(4000, 300))
	high := fb.Compute(sine(4000, 5000))
	argmax := func(v []float64) int {
		best := 0
		for i := range v {
			if v[i] > v[best] {
				best = i
			}
		}
		return best
	}
	if lb, hb := argmax(low[5]), argmax(high[5]); lb >= hb {
		t.Errorf("300Hz peak band %d should be below 5kHz peak band %d", lb, hb)
	}
}

func TestFilterbankConfigValidate(t *testing.T) {
	bad := DefaultFilterbankConfig()
	bad.FFTSize = 256 // 400-sample frame does not fit
	if _, err := NewFilterbank(bad); err == nil {
		t.Error("expected error for frame longer than fft")
	}
	bad = DefaultFilterbankConfig()
	bad.HighFreq = 12000
	if err := bad.Validate(); err == nil {
		t.Error("expected error for band above nyquist")
	}
}

func TestAppendDeltasRamp(t *testing.T) {
	feats := make([][]float64, 10)
	for i := range feats {
		feats[i] = []float64{float64(i)}
	}
	out := appendDeltas(feats, 2)
	for i := 2; i < 8; i++ {
		if math.Abs(out[i][1]-1) > 1e-12 {
			t.Errorf("delta[%d] = %f, want 1", i, out[i][1])
		}
	}
}

func TestSubtractMean(t *testing.T) {
	feats := [][]float64{{1, 10}, {3, 20}}
	subtractMean(feats)
	if feats[0][0] != -1 || feats[1][0] != 1 || feats[0][1] != -5 || feats[1][1] != 5 {
		t.Errorf("feats = %v", feats)
	}
}

func TestMelMatrixMatchesBands(t *testing.T) {
	cfg := DefaultFilterbankConfig()
	nBins := cfg.FFTSize/2 + 1
	bank := newMelBank(cfg.NumMel, cfg.FFTSize, cfg.SampleRate, cfg.LowFreq, cfg.HighFreq)
	w := bank.matrix(nBins)
	if len(w) != cfg.NumMel*nBins {
		t.Fatalf("len = %d, want %d", len(w), cfg.NumMel*nBins)
	}
	for i, b := range bank.bands {
		sum := 0.0
		for _, v := range w[i*nBins : (i+1)*nBins] {
			sum += v
		}
		want := 0.0
		for _, v := range b.weights {
			want += v
		}
		if sum <= 0 || math.Abs(sum-want) > 1e-12 {
			t.Errorf("band %d: row sum %f, want %f", i, sum, want)
		}
	}
}
