package stats

import "sort"

// Rank assigns ranks 1..n to seq in ascending order. Tied values receive the
// mean of the ranks they would otherwise occupy:
//
//	Rank([20, 30, 30, 10]) == [2, 3.5, 3.5, 1]
func Rank(seq []float64) []float64 {
	n := len(seq)
	order := make([]int, n)
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(a, b int) bool {
		return seq[order[a]] < seq[order[b]]
	})

	ranks := make([]float64, n)
	for i := 0; i < n; {
		j := i
		for j < n-1 && seq[order[j]] == seq[order[j+1]] {
			j++
		}
		tied := j - i + 1
		// mean of ranks i+1 .. i+tied
		r := float64(i+1) + float64(tied-1)*0.5
		for k := i; k <= j; k++ {
			ranks[order[k]] = r
		}
		i += tied
	}
	return ranks
}
