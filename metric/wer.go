// Package metric scores transcriptions with word error rate.
package metric

import (
	"errors"
	"fmt"
	"strings"

	"github.com/ieee0824/ctc-finetune/collate"
	"github.com/ieee0824/ctc-finetune/tokenizer"
)

var (
	// ErrEmptyReference is returned when the references hold no words.
	ErrEmptyReference = errors.New("metric: empty reference corpus")
	// ErrShape is returned for mismatched or ragged prediction inputs.
	ErrShape = errors.New("metric: shape mismatch")
)

// EditDistance returns the Levenshtein distance between a and b.
func EditDistance[T comparable](a, b []T) int {
	if len(a) == 0 {
		return len(b)
	}
	if len(b) == 0 {
		return len(a)
	}
	prev := make([]int, len(b)+1)
	cur := make([]int, len(b)+1)
	for j := range prev {
		prev[j] = j
	}
	for i := 1; i <= len(a); i++ {
		cur[0] = i
		for j := 1; j <= len(b); j++ {
			sub := prev[j-1]
			if a[i-1] != b[j-1] {
				sub++
			}
			cur[j] = min(prev[j]+1, cur[j-1]+1, sub)
		}
		prev, cur = cur, prev
	}
	return prev[len(b)]
}

// Score holds corpus-level word error counts.
type Score struct {
	Edits          int
	ReferenceWords int
	Sentences      int
}

// WER returns Edits / ReferenceWords.
func (s Score) WER() float64 {
	if s.ReferenceWords == 0 {
		return 0
	}
	return float64(s.Edits) / float64(s.ReferenceWords)
}

// Add accumulates one prediction/reference pair.
func (s *Score) Add(prediction, reference string) {
	ref := strings.Fields(reference)
	s.Edits += EditDistance(strings.Fields(prediction), ref)
	s.ReferenceWords += len(ref)
	s.Sentences++
}

// WER computes corpus word error rate: the summed word edit distance divided
// by the summed reference word count.
func WER(predictions, references []string) (float64, error) {
	s, err := Corpus(predictions, references)
	if err != nil {
		return 0, err
	}
	return s.WER(), nil
}

// Corpus scores aligned prediction/reference lists.
func Corpus(predictions, references []string) (Score, error) {
	var s Score
	if len(predictions) != len(references) {
		return s, fmt.Errorf("%w: %d predictions vs %d references", ErrShape, len(predictions), len(references))
	}
	for i := range predictions {
		s.Add(predictions[i], references[i])
	}
	if s.ReferenceWords == 0 {
		return s, ErrEmptyReference
	}
	return s, nil
}

// Prediction is the model output for a batch of utterances: per-frame scores
// over the vocabulary and the masked label rows.
type Prediction struct {
	Logits [][][]float64 // [batch][frames][vocab]
	Labels [][]int       // IgnoreIndex at padded positions
}

// ArgMax picks the best-scoring id per frame.
func ArgMax(logits [][][]float64) [][]int {
	out := make([][]int, len(logits))
	for i, frames := range logits {
		ids := make([]int, len(frames))
		for t, scores := range frames {
			best := 0
			for k, v := range scores {
				if v > scores[best] {
					best = k
				}
			}
			ids[t] = best
		}
		out[i] = ids
	}
	return out
}

// Decoded holds the texts ComputeWER compared.
type Decoded struct {
	Predictions []string
	References  []string
}

// ComputeWER decodes predictions greedily (grouping repeats) and references
// without grouping, then returns the corpus WER.
func ComputeWER(pred Prediction, tok *tokenizer.CTC) (float64, *Decoded, error) {
	if len(pred.Logits) != len(pred.Labels) {
		return 0, nil, fmt.Errorf("%w: %d logit rows vs %d label rows", ErrShape, len(pred.Logits), len(pred.Labels))
	}
	vocabSize := tok.Vocab.Len()
	for i, frames := range pred.Logits {
		for t, scores := range frames {
			if len(scores) != vocabSize {
				return 0, nil, fmt.Errorf("%w: row %d frame %d has %d scores, want %d", ErrShape, i, t, len(scores), vocabSize)
			}
		}
	}
	d := &Decoded{
		Predictions: tok.BatchDecode(ArgMax(pred.Logits), true),
		References:  tok.BatchDecode(collate.RestorePadding(pred.Labels, tok.PadID()), false),
	}
	wer, err := WER(d.Predictions, d.References)
	if err != nil {
		return 0, d, err
	}
	return wer, d, nil
}
