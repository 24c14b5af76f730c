package padding

import (
	"errors"
	"testing"
)

func TestPadLongest(t *testing.T) {
	rows := [][]int{{1, 2, 3}, {4, 5, 6, 7, 8}}
	out, mask, err := Pad(rows, -1, Options{})
	if err != nil {
		t.Fatalf("Pad: %v", err)
	}
	want := [][]int{{1, 2, 3, -1, -1}, {4, 5, 6, 7, 8}}
	wantMask := [][]int{{1, 1, 1, 0, 0}, {1, 1, 1, 1, 1}}
	for i := range want {
		for j := range want[i] {
			if out[i][j] != want[i][j] {
				t.Errorf("out[%d][%d] = %d, want %d", i, j, out[i][j], want[i][j])
			}
			if mask[i][j] != wantMask[i][j] {
				t.Errorf("mask[%d][%d] = %d, want %d", i, j, mask[i][j], wantMask[i][j])
			}
		}
	}
	// inputs must not be aliased
	out[0][0] = 99
	if rows[0][0] != 1 {
		t.Error("Pad modified its input")
	}
}

func TestPadStrategies(t *testing.T) {
	rows := [][]float32{{1}, {1, 2}}
	tests := []struct {
		name      string
		opts      Options
		wantWidth int
		wantErr   error
	}{
		{"longest", Options{Strategy: Longest}, 2, nil},
		{"max_length", Options{Strategy: MaxLength, MaxLength: 4}, 4, nil},
		{"max_length_too_short", Options{Strategy: MaxLength, MaxLength: 1}, 0, ErrTooLong},
		{"do_not_pad_ragged", Options{Strategy: DoNotPad}, 0, ErrRagged},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out, _, err := Pad(rows, 0, tt.opts)
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("err = %v, want %v", err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("Pad: %v", err)
			}
			for i, r := range out {
				if len(r) != tt.wantWidth {
					t.Errorf("len(out[%d]) = %d, want %d", i, len(r), tt.wantWidth)
				}
			}
		})
	}
}

func TestPadDoNotPadRectangular(t *testing.T) {
	out, mask, err := Pad([][]int{{1, 2}, {3, 4}}, 0, Options{Strategy: DoNotPad})
	if err != nil {
		t.Fatalf("Pad: %v", err)
	}
	if len(out[0]) != 2 || mask[1][1] != 1 {
		t.Errorf("out=%v mask=%v", out, mask)
	}
}

func TestParseStrategy(t *testing.T) {
	for _, s := range []Strategy{Longest, MaxLength, DoNotPad} {
		got, err := ParseStrategy(s.String())
		if err != nil || got != s {
			t.Errorf("ParseStrategy(%q) = %v, %v", s.String(), got, err)
		}
	}
	if _, err := ParseStrategy("sideways"); err == nil {
		t.Error("expected error for unknown strategy")
	}
}

func TestStrategyText(t *testing.T) {
	var s Strategy
	if err := s.UnmarshalText([]byte("max_length")); err != nil || s != MaxLength {
		t.Fatalf("UnmarshalText = %v, %v", s, err)
	}
	b, _ := DoNotPad.MarshalText()
	if string(b) != "do_not_pad" {
		t.Errorf("MarshalText = %q", b)
	}
	if err := s.UnmarshalText([]byte("bogus")); err == nil {
		t.Error("expected error")
	}
}
