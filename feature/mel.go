package feature

import "math"

// melBand is one triangular filter, stored from its first non-zero bin.
type melBand struct {
	start   int
	weights []float64
}

// melBank is a bank of triangular filters equally spaced on the mel scale.
type melBank struct {
	bands []melBand
}

func newMelBank(numBands, fftSize, sampleRate int, lowHz, highHz float64) *melBank {
	nBins := fftSize/2 + 1
	lo, hi := hzToMel(lowHz), hzToMel(highHz)
	edges := make([]int, numBands+2)
	for i := range edges {
		m := lo + float64(i)*(hi-lo)/float64(numBands+1)
		edges[i] = int(math.Floor(melToHz(m) * float64(fftSize+1) / float64(sampleRate)))
	}

	bank := &melBank{bands: make([]melBand, numBands)}
	for b := range bank.bands {
		left, center, right := edges[b], edges[b+1], edges[b+2]
		if right >= nBins {
			right = nBins - 1
		}
		var w []float64
		start := -1
		for j := left; j <= right; j++ {
			var v float64
			switch {
			case j < center && center > left:
				v = float64(j-left) / float64(center-left)
			case j >= center && right > center:
				v = float64(right-j) / float64(right-center)
			}
			if v <= 0 && start < 0 {
				continue
			}
			if start < 0 {
				start = j
			}
			w = append(w, v)
		}
		if start < 0 {
			// Degenerate band at very low resolution: take the center bin.
			start, w = min(center, nBins-1), []float64{1}
		}
		bank.bands[b] = melBand{start: start, weights: w}
	}
	return bank
}

// matrix returns the bank as a dense row-major [bands][nBins] matrix.
func (m *melBank) matrix(nBins int) []float64 {
	w := make([]float64, len(m.bands)*nBins)
	for i, b := range m.bands {
		row := w[i*nBins : (i+1)*nBins]
		for j, v := range b.weights {
			if k := b.start + j; k < nBins {
				row[k] = v
			}
		}
	}
	return w
}

func hzToMel(hz float64) float64 { return 2595 * math.Log10(1+hz/700) }

func melToHz(mel float64) float64 { return 700 * (math.Pow(10, mel/2595) - 1) }
