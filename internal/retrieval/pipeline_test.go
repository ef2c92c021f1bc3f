package retrieval

import (
	"context"
	"os"
	"testing"

	"github.com/txgraph/internal/embedprovider"
	"github.com/txgraph/internal/feedback"
	"github.com/txgraph/internal/learning"
	"github.com/txgraph/internal/storage"
)

func setupPipeline(t *testing.T) (*Pipeline, *learning.Store, func()) {
	t.Helper()
	f, err := os.CreateTemp("", "retrieval-test-*.db")
	if err != nil {
		t.Fatal(err)
	}
	f.Close()
	db, err := storage.Open(f.Name())
	if err != nil {
		t.Fatal(err)
	}
	cleanup := func() {
		db.Close()
		os.Remove(f.Name())
	}
	ls := learning.NewStore(db)
	fb := feedback.NewTracker(db)
	return NewPipeline(ls, embedprovider.NoopProvider{}, fb), ls, cleanup
}

// TestSearchRanksHigherOutcomeAbove is spec scenario 4: two learnings with
// identical lexical content, one carrying a positive outcome score, must
// rank above its twin.
func TestSearchRanksHigherOutcomeAbove(t *testing.T) {
	pipe, ls, cleanup := setupPipeline(t)
	defer cleanup()

	l1 := &learning.Learning{Content: "use prepared statements"}
	if err := ls.Create(l1); err != nil {
		t.Fatal(err)
	}
	l2 := &learning.Learning{Content: "use prepared statements"}
	if err := ls.Create(l2); err != nil {
		t.Fatal(err)
	}
	outcome := 1.0
	if err := ls.SetOutcomeScore(l2.ID, outcome); err != nil {
		t.Fatal(err)
	}

	results, err := pipe.Search(context.Background(), "prepared statements", DefaultOptions())
	if err != nil {
		t.Fatalf("Search failed: %v", err)
	}
	if len(results) < 2 {
		t.Fatalf("expected both learnings in results, got %d", len(results))
	}

	var relL1, relL2 float64
	found1, found2 := false, false
	for _, r := range results {
		if r.LearningID == l1.ID {
			relL1 = r.RelevanceScore
			found1 = true
		}
		if r.LearningID == l2.ID {
			relL2 = r.RelevanceScore
			found2 = true
		}
	}
	if !found1 || !found2 {
		t.Fatalf("expected to find both learnings, found1=%v found2=%v", found1, found2)
	}
	if relL2 <= relL1 {
		t.Errorf("expected relevance(L2 with outcome=1.0) > relevance(L1): got L1=%v L2=%v", relL1, relL2)
	}
}

// TestRRFFuseGivesEqualScoresForRankOneOnEachSide is spec scenario 6: A at
// lexical rank 1 and B at dense rank 1 both score 1/(k+1); C, absent from
// both lists, scores zero and ranks below both.
func TestRRFFuseGivesEqualScoresForRankOneOnEachSide(t *testing.T) {
	lexical := []int64{1} // A=1 at lexical rank 1; C absent from this list
	dense := []int64{2}   // B=2 at dense rank 1; C absent from this list

	scores := rrfFuse(60, lexical, dense)

	wantTop := 1.0 / 61.0
	if scores[1] != wantTop {
		t.Errorf("expected rrfScore(A) = %v, got %v", wantTop, scores[1])
	}
	if scores[2] != wantTop {
		t.Errorf("expected rrfScore(B) = %v, got %v", wantTop, scores[2])
	}
	if scores[1] != scores[2] {
		t.Errorf("expected rrfScore(A) == rrfScore(B), got %v vs %v", scores[1], scores[2])
	}

	if got := scores[3]; got != 0 {
		t.Errorf("expected rrfScore(C) = 0 for a document in neither list, got %v", got)
	}
	if scores[3] >= scores[1] {
		t.Errorf("expected C's fused score below A/B's, got C=%v A=%v", scores[3], scores[1])
	}
}

func TestRRFFuseZeroForAbsentDocument(t *testing.T) {
	scores := rrfFuse(60, []int64{1}, []int64{2})
	if scores[999] != 0 {
		t.Errorf("expected absent document to score 0, got %v", scores[999])
	}
}

func TestMMRDiversifyRespectsCategoryCap(t *testing.T) {
	candidates := []Result{
		{LearningID: 1, Content: "alpha beta gamma", Category: "gotcha", RelevanceScore: 0.9},
		{LearningID: 2, Content: "delta epsilon zeta", Category: "gotcha", RelevanceScore: 0.8},
		{LearningID: 3, Content: "eta theta iota", Category: "gotcha", RelevanceScore: 0.7},
		{LearningID: 4, Content: "kappa lambda mu", Category: "pattern", RelevanceScore: 0.6},
		{LearningID: 5, Content: "nu xi omicron", Category: "pattern", RelevanceScore: 0.5},
	}

	out := mmrDiversify(candidates, 5, 0.7, 2)
	if len(out) != 4 {
		t.Fatalf("expected 4 results (the third gotcha cannot enter the top 5), got %d", len(out))
	}
	gotchaCount := 0
	for _, r := range out {
		if r.Category == "gotcha" {
			gotchaCount++
		}
	}
	if gotchaCount > 2 {
		t.Errorf("expected at most 2 gotcha-category results in top 5, got %d", gotchaCount)
	}
}

func TestSearchDegradesGracefullyWithNoopEmbedder(t *testing.T) {
	pipe, ls, cleanup := setupPipeline(t)
	defer cleanup()

	l := &learning.Learning{Content: "rate limit with a token bucket"}
	if err := ls.Create(l); err != nil {
		t.Fatal(err)
	}

	results, err := pipe.Search(context.Background(), "token bucket", DefaultOptions())
	if err != nil {
		t.Fatalf("expected no-op embedder to degrade gracefully, got error: %v", err)
	}
	if len(results) != 1 {
		t.Fatalf("expected lexical-only result still returned, got %d", len(results))
	}
}
