package retrieval

import "strings"

// similarity is a cheap token-overlap proxy (Jaccard over whitespace
// tokens) used for MMR's diversity term. mmrDiversify uses it for every
// pair; embedding cosine similarity is not used here.
func similarity(a, b string) float64 {
	ta := tokenSet(a)
	tb := tokenSet(b)
	if len(ta) == 0 || len(tb) == 0 {
		return 0
	}
	inter, union := 0, len(ta)
	seen := make(map[string]bool, len(ta))
	for t := range ta {
		seen[t] = true
	}
	for t := range tb {
		if seen[t] {
			inter++
		} else {
			union++
		}
	}
	if union == 0 {
		return 0
	}
	return float64(inter) / float64(union)
}

func tokenSet(s string) map[string]bool {
	out := make(map[string]bool)
	for _, f := range strings.Fields(strings.ToLower(s)) {
		out[f] = true
	}
	return out
}

// mmrDiversify greedily selects up to limit results from candidates,
// trading relevance against redundancy: at each step it picks the item
// maximizing λ*relevance - (1-λ)*max_similarity_to_already_selected. A
// per-category cap additionally excludes a candidate once categoryCap
// members of its category have already been chosen, while the selection
// is still filling the top five positions, per §4.5's "category caps apply
// to the top 5". If a top-five position cannot be filled without breaking
// the cap, selection stops and the shorter list is returned.
func mmrDiversify(candidates []Result, limit int, lambda float64, categoryCap int) []Result {
	if limit <= 0 || len(candidates) == 0 {
		return nil
	}
	remaining := make([]Result, len(candidates))
	copy(remaining, candidates)
	selected := make([]Result, 0, limit)
	catCount := make(map[string]int)

	for len(selected) < limit && len(remaining) > 0 {
		bestIdx := -1
		bestScore := -1e18
		for i, cand := range remaining {
			if categoryCap > 0 && len(selected) < 5 && cand.Category != "" && catCount[cand.Category] >= categoryCap {
				continue
			}
			maxSim := 0.0
			for _, sel := range selected {
				if s := similarity(cand.Content, sel.Content); s > maxSim {
					maxSim = s
				}
			}
			mmrScore := lambda*cand.RelevanceScore - (1-lambda)*maxSim
			if mmrScore > bestScore {
				bestScore = mmrScore
				bestIdx = i
			}
		}
		if bestIdx == -1 {
			// every remaining candidate is capped out inside the top five,
			// so no further position can be filled without breaking the cap.
			break
		}
		chosen := remaining[bestIdx]
		selected = append(selected, chosen)
		if chosen.Category != "" {
			catCount[chosen.Category]++
		}
		remaining = append(remaining[:bestIdx], remaining[bestIdx+1:]...)
	}
	return selected
}
