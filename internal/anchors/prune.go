package anchors

import "time"

// Prune deletes invalid, non-pinned anchors older than olderThan (default
// 90 days per §4.6). Valid and drifted anchors are never pruned,
// regardless of age.
func Prune(store *Store, olderThan time.Time) (int, error) {
	candidates, err := store.ListPrunable(olderThan)
	if err != nil {
		return 0, err
	}
	for _, a := range candidates {
		if err := store.Delete(a.ID); err != nil {
			return 0, err
		}
	}
	return len(candidates), nil
}
