package trainer

import (
	"github.com/unixpickle/anydiff"
	"github.com/unixpickle/anydiff/anyseq"
	"github.com/unixpickle/anynet/anyctc"
)

// meanCost divides each utterance's CTC cost by its label length and
// averages the result over the batch.
func meanCost(out anyseq.Seq, labels [][]int) anydiff.Res {
	costs := anyctc.Cost(out, labels)
	c := costs.Output().Creator()
	weights := c.MakeVectorData(c.MakeNumericList(lengthWeights(labels)))
	return anydiff.Sum(anydiff.Mul(costs, anydiff.NewConst(weights)))
}

// lengthWeights returns 1/(len(labels[i])*len(labels)) per row.
func lengthWeights(labels [][]int) []float64 {
	w := make([]float64, len(labels))
	for i, l := range labels {
		w[i] = 1 / (float64(max(1, len(l))) * float64(len(labels)))
	}
	return w
}
