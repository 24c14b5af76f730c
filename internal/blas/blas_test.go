package blas

import (
	"math"
	"testing"
)

func TestDgemm(t *testing.T) {
	// A is 2x3, B is 3x2 and Bt holds B transposed.
	a := []float64{1, 2, 3, 4, 5, 6}
	b := []float64{7, 8, 9, 10, 11, 12}
	bt := []float64{7, 9, 11, 8, 10, 12}
	at := []float64{1, 4, 2, 5, 3, 6}
	product := []float64{58, 64, 139, 154}

	tests := []struct {
		name           string
		transA, transB bool
		a, b           []float64
		lda, ldb       int
		alpha, beta    float64
		c              []float64
		want           []float64
	}{
		{"plain", false, false, a, b, 3, 2, 1, 0, make([]float64, 4), product},
		{"trans b", false, true, a, bt, 3, 3, 1, 0, make([]float64, 4), product},
		{"trans a", true, false, at, b, 2, 2, 1, 0, make([]float64, 4), product},
		{"beta zero overwrites", false, false, a, b, 3, 2, 1, 0, []float64{9, 9, 9, 9}, product},
		{"alpha beta", false, false, a, b, 3, 2, 2, 3, []float64{1, 1, 1, 1}, []float64{119, 131, 281, 311}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			Dgemm(tt.transA, tt.transB, 2, 2, 3, tt.alpha, tt.a, tt.lda, tt.b, tt.ldb, tt.beta, tt.c, 2)
			for i := range tt.want {
				if math.Abs(tt.c[i]-tt.want[i]) > 1e-10 {
					t.Fatalf("c = %v, want %v", tt.c, tt.want)
				}
			}
		})
	}
}

func TestDgemmEmpty(t *testing.T) {
	Dgemm(false, true, 0, 4, 3, 1, nil, 3, make([]float64, 12), 3, 0, nil, 4)

	c := []float64{2, 4}
	Dgemm(false, false, 1, 2, 0, 1, nil, 0, nil, 2, 0.5, c, 2)
	if c[0] != 1 || c[1] != 2 {
		t.Errorf("k=0 result = %v, want [1 2]", c)
	}
}
