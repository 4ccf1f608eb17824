package store

import (
	"context"
	"sort"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/rcliao/memory-service/internal/logging"
	"github.com/rcliao/memory-service/internal/model"
)

const defaultResults = 5

// Retrieve returns the n memories nearest to query, best first. With tags,
// only memories carrying at least one of them are considered; a tag list
// with no usable entries yields no results.
func (s *SQLiteStore) Retrieve(ctx context.Context, query string, n int, tags []string) ([]model.QueryResult, error) {
	start := time.Now()
	results, err := s.retrieve(ctx, query, n, tags)
	s.observe("retrieve", start, true, err)
	if err != nil {
		return nil, err
	}
	s.recordAccess(ctx, query, results)
	return results, nil
}

func (s *SQLiteStore) retrieve(ctx context.Context, query string, n int, tags []string) ([]model.QueryResult, error) {
	if n <= 0 {
		n = defaultResults
	}
	kq := knnQuery{k: n, limit: clampK(n)}
	if len(tags) > 0 {
		valid := model.NormalizeTags(tags)
		if len(valid) == 0 {
			return []model.QueryResult{}, nil
		}
		// Tag membership is unrelated to distance, so widen the pool first.
		kq.k = MaxKNN
		kq.where, kq.args = tagCondition(valid, MatchAny)
	}

	vec, err := s.queryVector(ctx, query)
	if err != nil {
		return nil, err
	}
	kq.vector = vec
	return s.knn(ctx, s.db, kq)
}

// RetrieveHybrid fuses BM25 keyword and semantic scores as
// keywordWeight*bm25 + semanticWeight*relevance. A hash found by only one
// branch scores 0 on the other. Zero weights use the configured defaults.
func (s *SQLiteStore) RetrieveHybrid(ctx context.Context, query string, n int, keywordWeight, semanticWeight float64) ([]model.QueryResult, error) {
	start := time.Now()
	results, err := s.retrieveHybrid(ctx, query, n, keywordWeight, semanticWeight)
	s.observe("retrieve_hybrid", start, true, err)
	if err != nil {
		return nil, err
	}
	s.recordAccess(ctx, query, results)
	return results, nil
}

func (s *SQLiteStore) retrieveHybrid(ctx context.Context, query string, n int, kw, sw float64) ([]model.QueryResult, error) {
	if n <= 0 {
		n = defaultResults
	}
	if kw == 0 && sw == 0 {
		kw, sw = s.opts.KeywordWeight, s.opts.SemanticWeight
	}

	var (
		semantic []model.QueryResult
		keyword  []keywordHit
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		keyword, err = s.keywordSearch(gctx, query, 2*n)
		return err
	})
	g.Go(func() error {
		var err error
		semantic, err = s.retrieve(gctx, query, 2*n, nil)
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	type fused struct {
		result   model.QueryResult
		keyword  float64
		semantic float64
		loaded   bool
	}
	byHash := map[string]*fused{}
	var order []string
	for _, r := range semantic {
		byHash[r.Memory.ContentHash] = &fused{result: r, semantic: r.RelevanceScore, loaded: true}
		order = append(order, r.Memory.ContentHash)
	}
	var missing []string
	for _, h := range keyword {
		f, ok := byHash[h.hash]
		if !ok {
			f = &fused{}
			byHash[h.hash] = f
			order = append(order, h.hash)
			missing = append(missing, h.hash)
		}
		f.keyword = normalizeBM25(h.rank)
	}

	if len(missing) > 0 {
		found, err := s.memoriesByHash(ctx, missing)
		if err != nil {
			return nil, err
		}
		for _, h := range missing {
			if m, ok := found[h]; ok {
				byHash[h].result = model.QueryResult{Memory: m}
				byHash[h].loaded = true
			}
		}
	}

	results := make([]model.QueryResult, 0, len(order))
	for _, h := range order {
		f := byHash[h]
		if !f.loaded {
			continue
		}
		k, sem := f.keyword, f.semantic
		r := f.result
		r.KeywordScore = &k
		r.SemanticScore = &sem
		r.RelevanceScore = kw*k + sw*sem
		results = append(results, r)
	}
	sort.SliceStable(results, func(i, j int) bool {
		return results[i].RelevanceScore > results[j].RelevanceScore
	})
	if len(results) > n {
		results = results[:n]
	}
	return results, nil
}

// Recall combines semantic search with a created_at range. Without a query
// it returns the range newest first. A failing semantic branch degrades to
// the time-only listing.
func (s *SQLiteStore) Recall(ctx context.Context, query string, n int, r TimeRange) ([]model.QueryResult, error) {
	start := time.Now()
	if n <= 0 {
		n = defaultResults
	}
	where, args := timeCondition(r)

	if query != "" {
		vec, err := s.queryVector(ctx, query)
		if err == nil {
			var results []model.QueryResult
			results, err = s.knn(ctx, s.db, knnQuery{vector: vec, k: MaxKNN, limit: n, where: where, args: args})
			if err == nil {
				s.observe("recall", start, true, nil)
				s.recordAccess(ctx, query, results)
				return results, nil
			}
		}
		logging.Warnf("recall: semantic search failed, falling back to time range: %v", err)
	}

	q := `SELECT ` + memoryColumns + ` FROM memories m WHERE m.deleted_at IS NULL`
	if where != "" {
		q += " AND " + where
	}
	q += ` ORDER BY m.created_at DESC, m.id DESC LIMIT ?`
	memories, err := queryMemories(ctx, s.db, q, append(args, n)...)
	s.observe("recall", start, true, err)
	if err != nil {
		return nil, err
	}
	results := make([]model.QueryResult, len(memories))
	for i, m := range memories {
		results[i] = model.QueryResult{Memory: m, RelevanceScore: 1}
	}
	return results, nil
}

// timeCondition renders an inclusive created_at range on alias m.
func timeCondition(r TimeRange) (string, []any) {
	var (
		where string
		args  []any
	)
	if r.Start != nil {
		where = "m.created_at >= ?"
		args = append(args, model.Unix(*r.Start))
	}
	if r.End != nil {
		if where != "" {
			where += " AND "
		}
		where += "m.created_at <= ?"
		args = append(args, model.Unix(*r.End))
	}
	return where, args
}
