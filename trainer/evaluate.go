package trainer

import (
	"context"
	"errors"
	"fmt"
	"math"

	"github.com/unixpickle/anynet/anyctc"

	"github.com/ieee0824/ctc-finetune/collate"
	"github.com/ieee0824/ctc-finetune/dataset"
	"github.com/ieee0824/ctc-finetune/metric"
	"github.com/ieee0824/ctc-finetune/model"
	"github.com/ieee0824/ctc-finetune/padding"
	"github.com/ieee0824/ctc-finetune/processor"
)

// EvalResult summarizes one pass over an evaluation split.
type EvalResult struct {
	Loss        float64 // mean per-utterance CTC loss divided by label length
	WER         float64
	Samples     int
	Predictions []string
	References  []string
}

// Evaluate runs the model over items in batches of batchSize and scores the
// greedy transcriptions against the labels. MaxLength padding is replaced by
// padding to the longest utterance of each batch.
func Evaluate(ctx context.Context, m *model.Model, proc *processor.Processor, items []dataset.Processed, batchSize int, pad padding.Options) (*EvalResult, error) {
	if len(items) == 0 {
		return nil, errors.New("evaluate: no examples")
	}
	if batchSize <= 0 {
		batchSize = len(items)
	}
	if pad.Strategy == padding.MaxLength {
		// Evaluation splits are not duration filtered, so a fixed width
		// could reject their longer utterances.
		pad = padding.Options{Strategy: padding.Longest}
	}
	res := &EvalResult{}
	var lossSum float64
	var finite int
	for start := 0; start < len(items); start += batchSize {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		b, err := collate.Collate(items[start:min(start+batchSize, len(items))], proc, pad)
		if err != nil {
			return nil, fmt.Errorf("evaluate: %w", err)
		}
		in := ctcBatch(m, b)
		out := m.Apply(in.Inputs)

		costs := anyctc.Cost(out, in.Labels).Output()
		for i, c := range costs.Creator().Float64Slice(costs.Data()) {
			if !math.IsInf(c, 0) && !math.IsNaN(c) {
				lossSum += c / float64(max(1, len(in.Labels[i])))
				finite++
			}
		}

		_, d, err := metric.ComputeWER(metric.Prediction{
			Logits: model.SeqToFloats(out),
			Labels: b.Labels,
		}, proc.Tokenizer)
		if err != nil && !errors.Is(err, metric.ErrEmptyReference) {
			return nil, fmt.Errorf("evaluate: %w", err)
		}
		res.Predictions = append(res.Predictions, d.Predictions...)
		res.References = append(res.References, d.References...)
		res.Samples += b.Len()
	}
	if finite > 0 {
		res.Loss = lossSum / float64(finite)
	}
	wer, err := metric.WER(res.Predictions, res.References)
	if err != nil {
		return nil, fmt.Errorf("evaluate: %w", err)
	}
	res.WER = wer
	return res, nil
}
