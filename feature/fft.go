package feature

import (
	"fmt"
	"math"
)

// fftPlan holds the bit-reversal table and per-stage twiddle factors of one
// FFT size. Data is kept as split real and imaginary arrays.
type fftPlan struct {
	n    int
	perm []int
	// twRe[s], twIm[s] hold exp(-2πik/size) for the stage of width
	// size = 2<<s, k < size/2.
	twRe, twIm [][]float64
}

func newFFTPlan(n int) (*fftPlan, error) {
	if n <= 0 || n&(n-1) != 0 {
		return nil, fmt.Errorf("feature: fft size %d is not a power of two", n)
	}
	bits := 0
	for v := n; v > 1; v >>= 1 {
		bits++
	}
	p := &fftPlan{n: n, perm: make([]int, n)}
	for i := range p.perm {
		r := 0
		for b, x := 0, i; b < bits; b, x = b+1, x>>1 {
			r = r<<1 | x&1
		}
		p.perm[i] = r
	}
	for size := 2; size <= n; size <<= 1 {
		half := size / 2
		re, im := make([]float64, half), make([]float64, half)
		for k := 0; k < half; k++ {
			angle := -2 * math.Pi * float64(k) / float64(size)
			re[k], im[k] = math.Cos(angle), math.Sin(angle)
		}
		p.twRe = append(p.twRe, re)
		p.twIm = append(p.twIm, im)
	}
	return p, nil
}

// transform runs an in-place radix-2 Cooley-Tukey FFT on (re, im), both of
// length p.n.
func (p *fftPlan) transform(re, im []float64) {
	for i, j := range p.perm {
		if i < j {
			re[i], re[j] = re[j], re[i]
			im[i], im[j] = im[j], im[i]
		}
	}
	for s, size := 0, 2; size <= p.n; s, size = s+1, size<<1 {
		half := size / 2
		for start := 0; start < p.n; start += size {
			butterflyBlock(
				re[start:start+half], im[start:start+half],
				re[start+half:start+size], im[start+half:start+size],
				p.twRe[s], p.twIm[s],
			)
		}
	}
}

// butterflyBlock combines the halves u and v of one block in place:
//
//	t = tw[k]*v[k]
//	u[k], v[k] = u[k]+t, u[k]-t
func butterflyBlock(uRe, uIm, vRe, vIm, twRe, twIm []float64) {
	for k := range uRe {
		tre := twRe[k]*vRe[k] - twIm[k]*vIm[k]
		tim := twRe[k]*vIm[k] + twIm[k]*vRe[k]
		ur, ui := uRe[k], uIm[k]
		uRe[k], uIm[k] = ur+tre, ui+tim
		vRe[k], vIm[k] = ur-tre, ui-tim
	}
}

// power writes |FFT(frame)|²/n of the zero-padded frame into dst, which must
// hold n/2+1 bins. re and im are scratch space of length n.
func (p *fftPlan) power(frame, re, im, dst []float64) {
	copy(re, frame)
	clear(re[min(len(frame), len(re)):])
	clear(im)
	p.transform(re, im)
	fn := float64(p.n)
	for i := range dst {
		dst[i] = (re[i]*re[i] + im[i]*im[i]) / fn
	}
}
