package dataset

import (
	"context"
	"fmt"
	"sync/atomic"

	"github.com/unixpickle/essentials"

	"github.com/ieee0824/ctc-finetune/processor"
)

// Preprocess decodes, resamples and processes every example on workers
// goroutines, each handling a fixed stride of indices. Results are returned
// in input order. The first error (including ctx cancellation) aborts the
// remaining work. progress, if non-nil, is called once per finished example
// and must be safe for concurrent use.
func Preprocess(ctx context.Context, examples []Example, proc *processor.Processor, workers int, progress func()) ([]Processed, error) {
	if workers <= 0 {
		workers = 1
	}
	rate := proc.SamplingRate()
	out := make([]Processed, len(examples))
	errs := make([]error, len(examples))
	var failed atomic.Bool

	essentials.ConcurrentMap(workers, len(examples), func(i int) {
		if failed.Load() {
			return
		}
		if err := ctx.Err(); err != nil {
			errs[i] = err
			failed.Store(true)
			return
		}
		ex := &examples[i]
		samples, err := ex.waveform(rate)
		if err != nil {
			errs[i] = fmt.Errorf("example %s: %w", ex.ID, err)
			failed.Store(true)
			return
		}
		inputs, labels, err := proc.Process(samples, rate, ex.Text)
		if err != nil {
			errs[i] = fmt.Errorf("example %s: %w", ex.ID, err)
			failed.Store(true)
			return
		}
		out[i] = Processed{ID: ex.ID, InputValues: inputs, Labels: labels, InputLength: len(inputs)}
		if progress != nil {
			progress()
		}
	})

	for _, err := range errs {
		if err != nil {
			return nil, err
		}
	}
	return out, nil
}

// FilterByDuration keeps examples strictly shorter than maxSeconds at the
// given sampling rate.
func FilterByDuration(items []Processed, maxSeconds float64, rate int) []Processed {
	limit := maxSeconds * float64(rate)
	out := items[:0:0]
	for _, it := range items {
		if float64(it.InputLength) < limit {
			out = append(out, it)
		}
	}
	return out
}

// TotalSeconds sums the durations of items at rate.
func TotalSeconds(items []Processed, rate int) float64 {
	n := 0
	for _, it := range items {
		n += it.InputLength
	}
	return float64(n) / float64(rate)
}
