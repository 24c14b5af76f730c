package trainer

import (
	"cmp"
	"slices"

	"github.com/unixpickle/anynet/anyctc"
	"github.com/unixpickle/anynet/anysgd"
	"github.com/unixpickle/essentials"

	"github.com/ieee0824/ctc-finetune/collate"
	"github.com/ieee0824/ctc-finetune/dataset"
	"github.com/ieee0824/ctc-finetune/model"
	"github.com/ieee0824/ctc-finetune/padding"
	"github.com/ieee0824/ctc-finetune/processor"
)

// megaBatchFactor is how many batches are sorted together when grouping by
// length.
const megaBatchFactor = 50

// sampleList is the anysgd view of the training split. With megaBatch set,
// every shuffle is followed by a length sort inside each mega-batch so that
// batches hold utterances of similar duration.
type sampleList struct {
	items     []dataset.Processed
	megaBatch int
}

func (s *sampleList) Len() int { return len(s.items) }

func (s *sampleList) Swap(i, j int) { s.items[i], s.items[j] = s.items[j], s.items[i] }

func (s *sampleList) Slice(i, j int) anysgd.SampleList {
	return &sampleList{items: slices.Clone(s.items[i:j])}
}

func (s *sampleList) PostShuffle() {
	if s.megaBatch <= 0 {
		return
	}
	for start := 0; start < len(s.items); start += s.megaBatch {
		chunk := s.items[start:min(start+s.megaBatch, len(s.items))]
		slices.SortStableFunc(chunk, func(a, b dataset.Processed) int {
			return cmp.Compare(b.InputLength, a.InputLength)
		})
	}
}

// fetcher collates a mini-batch and runs the frozen frontend on it. anysgd
// calls it from its prefetch goroutine.
type fetcher struct {
	model *model.Model
	proc  *processor.Processor
	pad   padding.Options
}

func (f *fetcher) Fetch(s anysgd.SampleList) (anysgd.Batch, error) {
	b, err := collate.Collate(s.(*sampleList).items, f.proc, f.pad)
	if err != nil {
		return nil, essentials.AddCtx("fetch batch", err)
	}
	return ctcBatch(f.model, b), nil
}

func ctcBatch(m *model.Model, b *collate.Batch) *anyctc.Batch {
	return &anyctc.Batch{
		Inputs: m.Features(b.InputValues, b.InputLengths()),
		Labels: b.LabelSequences(),
	}
}

// minFrames is the shortest frame sequence CTC can align labels to: one
// frame per label plus a blank between each repeated pair.
func minFrames(labels []int) int {
	n := len(labels)
	for i := 1; i < len(labels); i++ {
		if labels[i] == labels[i-1] {
			n++
		}
	}
	return n
}

// alignable splits items into those whose labels fit in the model's output
// frames and the rest.
func alignable(items []dataset.Processed, cfg model.Config) (keep, dropped []dataset.Processed) {
	for _, it := range items {
		if minFrames(it.Labels) <= cfg.Frontend.NumFrames(it.InputLength) && len(it.Labels) > 0 {
			keep = append(keep, it)
		} else {
			dropped = append(dropped, it)
		}
	}
	return keep, dropped
}
