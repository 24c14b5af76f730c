package audio

// Resample converts samples recorded at from Hz to to Hz by linear
// interpolation. The result has int(len(samples)*to/from) samples.
func Resample(samples []float64, from, to int) []float64 {
	if from == to {
		return append([]float64(nil), samples...)
	}
	if len(samples) == 0 || from <= 0 || to <= 0 {
		return nil
	}
	step := float64(from) / float64(to)
	n := int(float64(len(samples)) * float64(to) / float64(from))
	out := make([]float64, n)
	last := len(samples) - 1
	for i := range out {
		pos := float64(i) * step
		j := int(pos)
		if j >= last {
			out[i] = samples[last]
			continue
		}
		frac := pos - float64(j)
		out[i] = samples[j]*(1-frac) + samples[j+1]*frac
	}
	return out
}
