package retrieval

// rrfFuse combines ranked id lists from the lexical and dense stages using
// Reciprocal Rank Fusion: score(d) = sum over lists containing d of
// 1/(k+rank). A document present in only one list still gets a score from
// that list alone, per §4.5 scenario 6 (fusion must not zero out a
// lexical-only hit).
func rrfFuse(k float64, lists ...[]int64) map[int64]float64 {
	scores := make(map[int64]float64)
	for _, list := range lists {
		for i, id := range list {
			rank := i + 1
			scores[id] += 1.0 / (k + float64(rank))
		}
	}
	return scores
}

// rankOf returns the 1-based rank of id within list, or 0 if absent.
func rankOf(list []int64, id int64) int {
	for i, v := range list {
		if v == id {
			return i + 1
		}
	}
	return 0
}
