package feature

import "math"

// preEmphasize applies y[n] = x[n] - alpha*x[n-1] and returns a new slice.
func preEmphasize(samples []float64, alpha float64) []float64 {
	out := make([]float64, len(samples))
	prev := 0.0
	for i, s := range samples {
		out[i] = s - alpha*prev
		prev = s
	}
	if len(out) > 0 {
		out[0] = samples[0]
	}
	return out
}

// numFrames is the number of frames a signal of n samples yields. Signals
// shorter than one frame are zero-padded to a single frame.
func numFrames(n, frameLen, shift int) int {
	if n <= frameLen {
		return 1
	}
	return 1 + (n-frameLen)/shift
}

// frameAt copies frame i of samples into dst, zero-filling past the end.
func frameAt(samples []float64, i, shift int, dst []float64) {
	start := i * shift
	for j := range dst {
		if k := start + j; k < len(samples) {
			dst[j] = samples[k]
		} else {
			dst[j] = 0
		}
	}
}

func hamming(n int) []float64 {
	w := make([]float64, n)
	if n == 1 {
		w[0] = 1
		return w
	}
	for i := range w {
		w[i] = 0.54 - 0.46*math.Cos(2*math.Pi*float64(i)/float64(n-1))
	}
	return w
}
