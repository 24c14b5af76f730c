// Package collate assembles processed examples into padded training batches.
package collate

import (
	"errors"
	"fmt"

	"github.com/ieee0824/ctc-finetune/dataset"
	"github.com/ieee0824/ctc-finetune/padding"
	"github.com/ieee0824/ctc-finetune/processor"
)

// IgnoreIndex marks label positions excluded from the loss. It is negative so
// it never collides with a vocabulary id.
const IgnoreIndex = -100

// ErrRagged is returned when DoNotPad is requested for rows of unequal length.
var ErrRagged = padding.ErrRagged

// ErrEmpty is returned when collating zero examples.
var ErrEmpty = errors.New("collate: empty batch")

// Batch is a rectangular training batch. Labels hold IgnoreIndex at every
// padded position.
type Batch struct {
	IDs           []string
	InputValues   [][]float32
	AttentionMask [][]int
	Labels        [][]int
}

// Len returns the number of rows.
func (b *Batch) Len() int { return len(b.InputValues) }

// InputLengths returns the number of real samples per row.
func (b *Batch) InputLengths() []int {
	return maskLengths(b.AttentionMask)
}

// LabelSequences returns the ragged label sequences with IgnoreIndex removed.
func (b *Batch) LabelSequences() [][]int {
	out := make([][]int, len(b.Labels))
	for i, row := range b.Labels {
		seq := make([]int, 0, len(row))
		for _, id := range row {
			if id != IgnoreIndex {
				seq = append(seq, id)
			}
		}
		out[i] = seq
	}
	return out
}

// Collate pads inputs and labels independently and masks padded label
// positions with IgnoreIndex. It does not modify features.
func Collate(features []dataset.Processed, proc *processor.Processor, opts padding.Options) (*Batch, error) {
	if len(features) == 0 {
		return nil, ErrEmpty
	}
	inputs := make([][]float32, len(features))
	labels := make([][]int, len(features))
	ids := make([]string, len(features))
	for i, f := range features {
		inputs[i] = f.InputValues
		labels[i] = f.Labels
		ids[i] = f.ID
	}

	paddedInputs, inputMask, err := proc.PadInputs(inputs, opts)
	if err != nil {
		return nil, fmt.Errorf("collate: %w", err)
	}
	paddedLabels, labelMask, err := proc.PadLabels(labels, labelOptions(opts))
	if err != nil {
		return nil, fmt.Errorf("collate: %w", err)
	}
	for i, row := range paddedLabels {
		for j := range row {
			if labelMask[i][j] != 1 {
				row[j] = IgnoreIndex
			}
		}
	}
	if len(paddedInputs) != len(paddedLabels) {
		return nil, fmt.Errorf("collate: %d input rows vs %d label rows", len(paddedInputs), len(paddedLabels))
	}
	return &Batch{
		IDs:           ids,
		InputValues:   paddedInputs,
		AttentionMask: inputMask,
		Labels:        paddedLabels,
	}, nil
}

// labelOptions pads labels to their own longest row; a fixed MaxLength
// applies to inputs only.
func labelOptions(opts padding.Options) padding.Options {
	if opts.Strategy == padding.MaxLength {
		return padding.Options{Strategy: padding.Longest}
	}
	return opts
}

// RestorePadding returns a copy of labels with IgnoreIndex replaced by padID,
// the form a tokenizer can decode.
func RestorePadding(labels [][]int, padID int) [][]int {
	out := make([][]int, len(labels))
	for i, row := range labels {
		r := make([]int, len(row))
		for j, id := range row {
			if id == IgnoreIndex {
				id = padID
			}
			r[j] = id
		}
		out[i] = r
	}
	return out
}

func maskLengths(mask [][]int) []int {
	out := make([]int, len(mask))
	for i, row := range mask {
		for _, m := range row {
			out[i] += m
		}
	}
	return out
}
