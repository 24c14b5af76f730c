package trainer

import (
	"errors"
	"fmt"
	"math"

	"github.com/unixpickle/anydiff"
	"github.com/unixpickle/anyvec"
	"github.com/unixpickle/anyvec/anyvecsave"
	"github.com/unixpickle/essentials"
	"github.com/unixpickle/serializer"
)

// Schedule is a linear warmup to Peak followed by linear decay to zero at
// Total steps.
type Schedule struct {
	Peak   float64
	Warmup int
	Total  int
}

// At returns the learning rate after step completed updates.
func (s Schedule) At(step int) float64 {
	if step < s.Warmup {
		return s.Peak * float64(step) / float64(max(1, s.Warmup))
	}
	remaining := float64(s.Total - step)
	if remaining <= 0 {
		return 0
	}
	return s.Peak * remaining / float64(max(1, s.Total-s.Warmup))
}

// stepRater adapts a Schedule to anysgd, which rates by epoch.
type stepRater struct {
	schedule Schedule
	step     *int
}

// Rate is called after the step counter has been advanced for the update in
// progress, so the rate is taken at the number of updates before it.
func (r *stepRater) Rate(float64) float64 {
	return r.schedule.At(*r.step - 1)
}

const (
	adamBeta1   = 0.9
	adamBeta2   = 0.999
	adamEpsilon = 1e-8
	// DefaultMaxGradNorm bounds the global L2 norm of each gradient.
	DefaultMaxGradNorm = 1.0
)

// AdamW is Adam with decoupled weight decay: each update also moves the
// weights by -rate*WeightDecay*w. Variables in NoDecay are not decayed.
// Gradients whose global norm exceeds MaxGradNorm are rescaled first.
type AdamW struct {
	Vars        []*anydiff.Var
	NoDecay     map[*anydiff.Var]bool
	WeightDecay float64
	MaxGradNorm float64

	iteration int
	first     []anyvec.Vector
	second    []anyvec.Vector
}

// NewAdamW creates an optimizer whose state marshals in the order of vars.
func NewAdamW(vars []*anydiff.Var, weightDecay float64, noDecay ...*anydiff.Var) *AdamW {
	a := &AdamW{
		Vars:        vars,
		NoDecay:     map[*anydiff.Var]bool{},
		WeightDecay: weightDecay,
		MaxGradNorm: DefaultMaxGradNorm,
	}
	for _, v := range noDecay {
		a.NoDecay[v] = true
	}
	return a
}

// Transform replaces g with the AdamW update direction. anysgd scales it by
// the negative learning rate.
func (a *AdamW) Transform(g anydiff.Grad) anydiff.Grad {
	if a.first == nil {
		a.first = make([]anyvec.Vector, len(a.Vars))
		a.second = make([]anyvec.Vector, len(a.Vars))
		for i, v := range a.Vars {
			a.first[i] = v.Vector.Creator().MakeVector(v.Vector.Len())
			a.second[i] = v.Vector.Creator().MakeVector(v.Vector.Len())
		}
	}
	clip := clipScale(g, a.MaxGradNorm)

	a.iteration++
	correct1 := 1 - math.Pow(adamBeta1, float64(a.iteration))
	correct2 := 1 - math.Pow(adamBeta2, float64(a.iteration))
	for i, v := range a.Vars {
		vec, ok := g[v]
		if !ok {
			continue
		}
		c := vec.Creator()
		grad := c.Float64Slice(vec.Data())
		m := c.Float64Slice(a.first[i].Data())
		s := c.Float64Slice(a.second[i].Data())
		var w []float64
		decay := a.WeightDecay != 0 && !a.NoDecay[v]
		if decay {
			w = c.Float64Slice(v.Vector.Data())
		}
		for j, gj := range grad {
			gj *= clip
			m[j] = adamBeta1*m[j] + (1-adamBeta1)*gj
			s[j] = adamBeta2*s[j] + (1-adamBeta2)*gj*gj
			grad[j] = (m[j] / correct1) / (math.Sqrt(s[j]/correct2) + adamEpsilon)
			if decay {
				grad[j] += a.WeightDecay * w[j]
			}
		}
		a.first[i].SetData(c.MakeNumericList(m))
		a.second[i].SetData(c.MakeNumericList(s))
		vec.SetData(c.MakeNumericList(grad))
	}
	return g
}

// clipScale returns the factor that brings the global norm of g down to
// maxNorm, or 1 when it is already within bounds or maxNorm is disabled.
func clipScale(g anydiff.Grad, maxNorm float64) float64 {
	if maxNorm <= 0 {
		return 1
	}
	var sq float64
	for _, vec := range g {
		for _, x := range vec.Creator().Float64Slice(vec.Data()) {
			sq += x * x
		}
	}
	norm := math.Sqrt(sq)
	if norm <= maxNorm || norm == 0 {
		return 1
	}
	return maxNorm / norm
}

// MarshalBinary encodes the step count followed by the first and then the
// second moments in Vars order.
func (a *AdamW) MarshalBinary() ([]byte, error) {
	items := []serializer.Serializer{serializer.Int(a.iteration)}
	for _, m := range a.first {
		items = append(items, &anyvecsave.S{Vector: m})
	}
	for _, m := range a.second {
		items = append(items, &anyvecsave.S{Vector: m})
	}
	return serializer.SerializeSlice(items)
}

// UnmarshalBinary restores state written by MarshalBinary for the same Vars.
func (a *AdamW) UnmarshalBinary(data []byte) error {
	items, err := serializer.DeserializeSlice(data)
	if err != nil {
		return essentials.AddCtx("unmarshal optimizer", err)
	}
	if len(items) == 0 {
		return errors.New("unmarshal optimizer: empty state")
	}
	var iteration int
	switch x := items[0].(type) {
	case serializer.Int:
		iteration = int(x)
	case *serializer.Int:
		iteration = int(*x)
	default:
		return fmt.Errorf("unmarshal optimizer: unexpected step count %T", items[0])
	}
	moments := items[1:]
	if len(moments) == 0 {
		a.iteration, a.first, a.second = iteration, nil, nil
		return nil
	}
	n := len(a.Vars)
	if len(moments) != 2*n {
		return fmt.Errorf("unmarshal optimizer: %d moments for %d variables", len(moments), n)
	}
	vecs := make([]anyvec.Vector, len(moments))
	for i, item := range moments {
		saved, ok := item.(*anyvecsave.S)
		if !ok {
			return fmt.Errorf("unmarshal optimizer: unexpected moment %T", item)
		}
		v := a.Vars[i%n].Vector
		if saved.Vector.Len() != v.Len() {
			return fmt.Errorf("unmarshal optimizer: moment %d has %d values, want %d", i, saved.Vector.Len(), v.Len())
		}
		// Decoded vectors may use another precision than the model.
		c := v.Creator()
		vecs[i] = c.MakeVectorData(c.MakeNumericList(saved.Vector.Creator().Float64Slice(saved.Vector.Data())))
	}
	a.iteration, a.first, a.second = iteration, vecs[:n], vecs[n:]
	return nil
}
