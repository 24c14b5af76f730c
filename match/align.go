// Package match follows a read-aloud script through recognised speech. Decoded
// characters are aligned locally (Smith-Waterman) against the part of the
// script that has not been committed yet.
package match

import "slices"

const (
	matchScore    = 1
	mismatchScore = -1
	gapScore      = -1
)

// Pair is one step of an alignment. Query or Script is -1 where that side has
// a gap. Score is the running alignment score at this step.
type Pair struct {
	Query  int
	Script int
	Score  int
}

// Align returns the highest scoring local alignment of query against script,
// ordered from the first aligned step to the last. The last pair carries the
// alignment score. An empty result means nothing scored above zero.
func Align[T comparable](query, script []T) []Pair {
	n, m := len(query), len(script)
	if n == 0 || m == 0 {
		return nil
	}
	stride := m + 1
	score := make([]int, (n+1)*stride)
	// back holds the flat index of the cell each cell was reached from.
	back := make([]int, (n+1)*stride)

	best := 0
	for i := 1; i <= n; i++ {
		for j := 1; j <= m; j++ {
			at := i*stride + j
			s := mismatchScore
			if query[i-1] == script[j-1] {
				s = matchScore
			}
			// Ties prefer the diagonal, then a query step, then a script step.
			v, from := score[at-stride-1]+s, at-stride-1
			if up := score[at-stride] + gapScore; up > v {
				v, from = up, at-stride
			}
			if left := score[at-1] + gapScore; left > v {
				v, from = left, at-1
			}
			if v < 0 {
				v, from = 0, at
			}
			score[at], back[at] = v, from
			if v > score[best] {
				best = at
			}
		}
	}

	var out []Pair
	for cur := best; score[cur] != 0; cur = back[cur] {
		prev := back[cur]
		p := Pair{Query: -1, Script: -1, Score: score[cur]}
		if cur/stride != prev/stride {
			p.Query = cur/stride - 1
		}
		if cur%stride != prev%stride {
			p.Script = cur%stride - 1
		}
		out = append(out, p)
	}
	slices.Reverse(out)
	return out
}
