package retrieval

import (
	"context"
	"math"
	"sort"
	"time"

	"golang.org/x/exp/maps"

	"github.com/txgraph/internal/embedprovider"
	"github.com/txgraph/internal/feedback"
	"github.com/txgraph/internal/learning"
	"github.com/txgraph/internal/llmtools"
)

// Pipeline runs the seven-step hybrid search described in §4.5: expand the
// query, retrieve lexical and dense candidates in parallel, fuse by RRF,
// assemble the weighted relevance score, optionally rerank, diversify with
// MMR, then filter by minScore and truncate to the caller's limit.
type Pipeline struct {
	learnings *learning.Store
	embedder  embedprovider.Provider
	expander  llmtools.Expander
	reranker  llmtools.Reranker
	feedback  *feedback.Tracker
}

func NewPipeline(learnings *learning.Store, embedder embedprovider.Provider, fb *feedback.Tracker) *Pipeline {
	return &Pipeline{
		learnings: learnings,
		embedder:  embedder,
		expander:  llmtools.NoopExpander{},
		reranker:  llmtools.NoopReranker{},
		feedback:  fb,
	}
}

// WithExpander/WithReranker override the default no-op collaborators.
func (p *Pipeline) WithExpander(e llmtools.Expander) *Pipeline { p.expander = e; return p }
func (p *Pipeline) WithReranker(r llmtools.Reranker) *Pipeline { p.reranker = r; return p }

// Search runs the full pipeline for query and returns up to opts.Limit
// results ordered best-first.
func (p *Pipeline) Search(ctx context.Context, query string, opts Options) ([]Result, error) {
	if opts.Limit <= 0 {
		opts = DefaultOptions()
	}

	queries := []string{query}
	if opts.UseExpansion {
		variants, err := p.expander.Expand(ctx, query, opts.MaxExpansions)
		if err == nil && len(variants) > 0 {
			queries = variants
		}
	}

	// fan-in pool over every query variant: fetch a wide candidate window
	// (3x limit) from each stage so RRF has enough signal to fuse.
	fetchN := opts.Limit * 3
	if fetchN < 30 {
		fetchN = 30
	}

	type denseHits struct {
		order []int64
		byID  map[int64]float64
	}
	denseCh := make(chan denseHits, 1)
	go func() {
		order, byID := p.denseRetrieve(ctx, query, fetchN)
		denseCh <- denseHits{order: order, byID: byID}
	}()

	lexicalByLearning := make(map[int64]float64)
	lexicalOrder := make([]int64, 0, fetchN)
	seenLexical := make(map[int64]bool)
	for _, q := range queries {
		hits, err := p.learnings.SearchBM25(q, fetchN)
		if err != nil {
			return nil, err
		}
		for _, h := range hits {
			if !seenLexical[h.ID] {
				seenLexical[h.ID] = true
				lexicalOrder = append(lexicalOrder, h.ID)
			}
			if h.Score > lexicalByLearning[h.ID] {
				lexicalByLearning[h.ID] = h.Score
			}
		}
	}

	dense := <-denseCh
	denseOrder, denseByLearning := dense.order, dense.byID

	fused := rrfFuse(opts.RRFK, lexicalOrder, denseOrder)

	candidateIDs := maps.Keys(fused)
	sort.Slice(candidateIDs, func(i, j int) bool { return candidateIDs[i] < candidateIDs[j] }) // deterministic iteration order for stable test output

	results := make([]Result, 0, len(candidateIDs))
	now := time.Now().UTC()
	for _, id := range candidateIDs {
		l, err := p.learnings.Get(id)
		if err != nil {
			continue // best-effort: a deleted/racing row just drops out
		}
		r := Result{
			LearningID:  l.ID,
			Content:     l.Content,
			CreatedAt:   l.CreatedAt,
			BM25Score:   lexicalByLearning[id],
			BM25Rank:    rankOf(lexicalOrder, id),
			VectorScore: denseByLearning[id],
			VectorRank:  rankOf(denseOrder, id),
			RRFScore:    fused[id],
		}
		if l.Category != nil {
			r.Category = *l.Category
		}
		ageDays := now.Sub(l.CreatedAt).Hours() / 24
		if ageDays < 0 {
			ageDays = 0
		}
		halfLife := opts.RecencyHalfLife
		if halfLife <= 0 {
			halfLife = 14
		}
		r.RecencyScore = math.Exp(-ageDays / halfLife)
		if l.OutcomeScore != nil {
			r.OutcomeScore = *l.OutcomeScore
		}
		if p.feedback != nil {
			if fs, err := p.feedback.GetFeedbackScore(l.ID); err == nil {
				r.FeedbackScore = fs
			}
		}
		r.RelevanceScore = opts.WeightRRF*r.RRFScore +
			opts.WeightRecency*r.RecencyScore +
			opts.WeightOutcome*r.OutcomeScore +
			opts.WeightFeedback*r.FeedbackScore
		results = append(results, r)
	}

	sort.Slice(results, func(i, j int) bool {
		return results[i].RelevanceScore > results[j].RelevanceScore
	})

	if opts.UseReranker && len(results) > 0 {
		results = p.rerank(ctx, query, results, opts.Limit)
	}

	window := results
	if opts.UseMMR {
		capWindow := opts.Limit * 3
		if capWindow < len(window) {
			window = window[:capWindow]
		}
		window = mmrDiversify(window, opts.Limit, opts.MMRLambda, opts.CategoryCap)
	} else if opts.Limit < len(window) {
		window = window[:opts.Limit]
	}

	final := window[:0:0]
	for _, r := range window {
		if r.RelevanceScore < opts.MinScore {
			continue
		}
		final = append(final, r)
	}
	if len(final) > opts.Limit {
		final = final[:opts.Limit]
	}
	return final, nil
}

// denseRetrieve embeds query and scores it by cosine similarity against
// the stored embeddings of the limit*4 most recently created learnings;
// older learnings are not scored. Degrades to an empty
// result set (not an error) when no embedding provider is configured, per
// §9's "optional collaborators" rule.
func (p *Pipeline) denseRetrieve(ctx context.Context, query string, limit int) ([]int64, map[int64]float64) {
	byLearning := make(map[int64]float64)
	if p.embedder == nil {
		return nil, byLearning
	}
	qvec, err := p.embedder.Embed(ctx, query)
	if err != nil || len(qvec) == 0 {
		return nil, byLearning
	}

	candidates, err := p.learnings.Recent(limit * 4)
	if err != nil {
		return nil, byLearning
	}
	type scored struct {
		id    int64
		score float64
	}
	var scoredList []scored
	for _, c := range candidates {
		if len(c.Embedding) == 0 {
			continue
		}
		s := cosineSimilarity(qvec, c.Embedding)
		scoredList = append(scoredList, scored{id: c.ID, score: s})
	}
	sort.Slice(scoredList, func(i, j int) bool { return scoredList[i].score > scoredList[j].score })
	if len(scoredList) > limit {
		scoredList = scoredList[:limit]
	}
	order := make([]int64, 0, len(scoredList))
	for _, s := range scoredList {
		order = append(order, s.id)
		byLearning[s.id] = s.score
	}
	return order, byLearning
}

func (p *Pipeline) rerank(ctx context.Context, query string, results []Result, limit int) []Result {
	window := limit * 3
	if window > len(results) {
		window = len(results)
	}
	candidates := make([]llmtools.Candidate, window)
	for i := 0; i < window; i++ {
		candidates[i] = llmtools.Candidate{ID: results[i].LearningID, Content: results[i].Content}
	}
	reranked, err := p.reranker.Rerank(ctx, query, candidates, limit)
	if err != nil || len(reranked) == 0 {
		return results
	}
	byID := make(map[int64]Result, len(results))
	for _, r := range results {
		byID[r.LearningID] = r
	}
	out := make([]Result, 0, len(reranked))
	for _, rr := range reranked {
		r, ok := byID[rr.ID]
		if !ok {
			continue
		}
		score := rr.Score
		r.RerankerScore = &score
		out = append(out, r)
	}
	// any result the reranker didn't return stays appended, preserving the
	// pre-rerank order, so the pipeline never silently drops candidates.
	included := make(map[int64]bool, len(out))
	for _, r := range out {
		included[r.LearningID] = true
	}
	for _, r := range results {
		if !included[r.LearningID] {
			out = append(out, r)
		}
	}
	return out
}

func cosineSimilarity(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, magA, magB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		magA += float64(a[i]) * float64(a[i])
		magB += float64(b[i]) * float64(b[i])
	}
	if magA == 0 || magB == 0 {
		return 0
	}
	return dot / (math.Sqrt(magA) * math.Sqrt(magB))
}
