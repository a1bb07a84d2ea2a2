// Package bucket implements the threshold ladder used to discretize
// segmentation and viewability scores into ad-server friendly buckets.
package bucket

import "sort"

// Thresholds is an ascending list of distinct integer cutoffs in (0, 100].
type Thresholds []int

// Default is the ladder applied when a configuration supplies none.
func Default() Thresholds {
	return Thresholds{50, 60, 70, 80, 90}
}

// Normalize sorts the cutoffs ascending and drops duplicates.
func Normalize(t Thresholds) Thresholds {
	if len(t) == 0 {
		return t
	}
	out := make(Thresholds, len(t))
	copy(out, t)
	sort.Ints(out)
	n := 1
	for i := 1; i < len(out); i++ {
		if out[i] != out[n-1] {
			out[n] = out[i]
			n++
		}
	}
	return out[:n]
}

// Met returns, in order, every cutoff in t less than or equal to score.
// The result is empty, never nil, when score sits below the lowest cutoff;
// an empty bucket list must serialize as [] rather than null.
func Met(t Thresholds, score float64) []int {
	met := make([]int, 0, len(t))
	for _, cut := range t {
		if float64(cut) > score {
			break
		}
		met = append(met, cut)
	}
	return met
}
