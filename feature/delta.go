package feature

// appendDeltas extends every frame with its first-order regression delta over
// a ±window neighbourhood, clamping at the utterance edges.
func appendDeltas(feats [][]float64, window int) [][]float64 {
	n := len(feats)
	if n == 0 {
		return feats
	}
	dim := len(feats[0])
	denom := 0.0
	for k := 1; k <= window; k++ {
		denom += float64(2 * k * k)
	}
	out := make([][]float64, n)
	for t := range feats {
		row := make([]float64, 2*dim)
		copy(row, feats[t])
		for d := 0; d < dim; d++ {
			num := 0.0
			for k := 1; k <= window; k++ {
				next, prev := min(t+k, n-1), max(t-k, 0)
				num += float64(k) * (feats[next][d] - feats[prev][d])
			}
			row[dim+d] = num / denom
		}
		out[t] = row
	}
	return out
}
