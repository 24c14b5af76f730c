// Package padding turns ragged sequences into rectangular batches.
package padding

import (
	"errors"
	"fmt"
	"strings"
)

// Strategy selects the target width of a padded batch.
type Strategy int

const (
	// Longest pads every row to the longest row of the batch.
	Longest Strategy = iota
	// MaxLength pads every row to a fixed width.
	MaxLength
	// DoNotPad leaves rows untouched; the batch must already be rectangular.
	DoNotPad
)

var (
	// ErrRagged is returned when rows of different length cannot be stacked.
	ErrRagged = errors.New("padding: rows have different lengths")
	// ErrTooLong is returned when a row exceeds the fixed MaxLength width.
	ErrTooLong = errors.New("padding: row longer than max length")
)

func (s Strategy) String() string {
	switch s {
	case Longest:
		return "longest"
	case MaxLength:
		return "max_length"
	case DoNotPad:
		return "do_not_pad"
	}
	return fmt.Sprintf("Strategy(%d)", int(s))
}

// ParseStrategy parses the names produced by String. An empty name means
// Longest.
func ParseStrategy(name string) (Strategy, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", "longest", "true":
		return Longest, nil
	case "max_length":
		return MaxLength, nil
	case "do_not_pad", "false":
		return DoNotPad, nil
	}
	return 0, fmt.Errorf("padding: unknown strategy %q", name)
}

func (s Strategy) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

func (s *Strategy) UnmarshalText(text []byte) error {
	v, err := ParseStrategy(string(text))
	if err != nil {
		return err
	}
	*s = v
	return nil
}

// Options configures Pad.
type Options struct {
	Strategy  Strategy
	MaxLength int // used by MaxLength only
}

// Width returns the width rows are padded to.
func (o Options) Width(lengths []int) (int, error) {
	longest, ragged := 0, false
	for i, n := range lengths {
		if n > longest {
			longest = n
		}
		if i > 0 && n != lengths[0] {
			ragged = true
		}
	}
	switch o.Strategy {
	case Longest:
		return longest, nil
	case MaxLength:
		if o.MaxLength <= 0 {
			return 0, fmt.Errorf("padding: max length %d must be positive", o.MaxLength)
		}
		if longest > o.MaxLength {
			return 0, fmt.Errorf("%w: %d > %d", ErrTooLong, longest, o.MaxLength)
		}
		return o.MaxLength, nil
	case DoNotPad:
		if ragged {
			return 0, ErrRagged
		}
		return longest, nil
	}
	return 0, fmt.Errorf("padding: unknown strategy %v", o.Strategy)
}

// Pad right-pads every row with value and returns the padded rows together
// with an attention mask holding 1 at real positions and 0 at padding.
func Pad[T any](rows [][]T, value T, opts Options) ([][]T, [][]int, error) {
	lengths := make([]int, len(rows))
	for i, r := range rows {
		lengths[i] = len(r)
	}
	width, err := opts.Width(lengths)
	if err != nil {
		return nil, nil, err
	}
	out := make([][]T, len(rows))
	mask := make([][]int, len(rows))
	for i, r := range rows {
		row := make([]T, width)
		m := make([]int, width)
		copy(row, r)
		for j := range row {
			if j < len(r) {
				m[j] = 1
			} else {
				row[j] = value
			}
		}
		out[i] = row
		mask[i] = m
	}
	return out, mask, nil
}
