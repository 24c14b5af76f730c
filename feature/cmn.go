package feature

// subtractMean removes the per-dimension utterance mean from feats in place.
func subtractMean(feats [][]float64) {
	if len(feats) == 0 {
		return
	}
	mean := make([]float64, len(feats[0]))
	for _, f := range feats {
		for d, v := range f {
			mean[d] += v
		}
	}
	inv := 1 / float64(len(feats))
	for _, f := range feats {
		for d := range f {
			f[d] -= mean[d] * inv
		}
	}
}
