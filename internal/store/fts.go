package store

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"unicode/utf8"

	"github.com/rcliao/memory-service/internal/model"
)

// bm25Scale maps raw FTS5 ranks (more negative is better) onto [0,1] as
// clamp(1 + rank/bm25Scale, 0, 1). It is a tuning constant.
const bm25Scale = 10.0

func normalizeBM25(rank float64) float64 {
	v := 1 + rank/bm25Scale
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

// ftsMeta are FTS5 query-syntax characters stripped from user input.
const ftsMeta = "\"'()*^:{}[]+-~<>=,;\\/"

// trigramMin is the shortest term the trigram tokenizer can match.
const trigramMin = 3

// ftsTerms splits a query into plain terms usable by the trigram index.
func ftsTerms(query string) []string {
	cleaned := strings.Map(func(r rune) rune {
		if strings.ContainsRune(ftsMeta, r) {
			return ' '
		}
		return r
	}, query)

	var terms []string
	seen := map[string]bool{}
	for _, f := range strings.Fields(cleaned) {
		if utf8.RuneCountInString(f) < trigramMin {
			continue
		}
		key := strings.ToLower(f)
		if seen[key] {
			continue
		}
		seen[key] = true
		terms = append(terms, f)
	}
	return terms
}

// sanitizeFTS builds an OR of quoted terms. Quoting makes AND/OR/NOT/NEAR in
// user input literal.
func sanitizeFTS(query string) string {
	terms := ftsTerms(query)
	quoted := make([]string, len(terms))
	for i, t := range terms {
		quoted[i] = `"` + t + `"`
	}
	return strings.Join(quoted, " OR ")
}

// keywordHit is one BM25 match.
type keywordHit struct {
	hash string
	rank float64
}

// keywordSearch returns up to n live matches ordered best first.
func (s *SQLiteStore) keywordSearch(ctx context.Context, query string, n int) ([]keywordHit, error) {
	if n <= 0 {
		return nil, nil
	}
	if !s.ftsAvailable {
		return s.likeSearch(ctx, query, n)
	}
	match := sanitizeFTS(query)
	if match == "" {
		return nil, nil
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT m.content_hash, memory_content_fts.rank
		FROM memory_content_fts
		JOIN memories m ON m.id = memory_content_fts.rowid
		WHERE memory_content_fts MATCH ? AND m.deleted_at IS NULL
		ORDER BY memory_content_fts.rank
		LIMIT ?`, match, n)
	if err != nil {
		return nil, fmt.Errorf("keyword search: %w", err)
	}
	defer rows.Close()

	var hits []keywordHit
	for rows.Next() {
		var h keywordHit
		if err := rows.Scan(&h.hash, &h.rank); err != nil {
			return nil, err
		}
		hits = append(hits, h)
	}
	return hits, rows.Err()
}

// likeSearch is the keyword branch for builds without FTS5. The rank is
// bm25Scale*(fraction-1), so the normalized score equals the fraction of
// query terms found.
func (s *SQLiteStore) likeSearch(ctx context.Context, query string, n int) ([]keywordHit, error) {
	terms := ftsTerms(query)
	if len(terms) == 0 {
		return nil, nil
	}
	conds := make([]string, len(terms))
	args := make([]any, len(terms))
	for i, t := range terms {
		conds[i] = `content LIKE ? ESCAPE '\'`
		args[i] = "%" + escapeLike(t) + "%"
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT content_hash, content FROM memories
		 WHERE deleted_at IS NULL AND (`+strings.Join(conds, " OR ")+`)`, args...)
	if err != nil {
		return nil, fmt.Errorf("keyword search: %w", err)
	}
	defer rows.Close()

	var hits []keywordHit
	for rows.Next() {
		var hash, content string
		if err := rows.Scan(&hash, &content); err != nil {
			return nil, err
		}
		lower := strings.ToLower(content)
		found := 0
		for _, t := range terms {
			if strings.Contains(lower, strings.ToLower(t)) {
				found++
			}
		}
		frac := float64(found) / float64(len(terms))
		hits = append(hits, keywordHit{hash: hash, rank: bm25Scale * (frac - 1)})
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	sort.SliceStable(hits, func(i, j int) bool {
		if hits[i].rank != hits[j].rank {
			return hits[i].rank < hits[j].rank
		}
		return hits[i].hash < hits[j].hash
	})
	if len(hits) > n {
		hits = hits[:n]
	}
	return hits, nil
}

func escapeLike(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return r.Replace(s)
}

// KeywordSearch returns BM25 matches with normalized scores, best first.
func (s *SQLiteStore) KeywordSearch(ctx context.Context, query string, n int) ([]model.QueryResult, error) {
	hits, err := s.keywordSearch(ctx, query, n)
	if err != nil {
		return nil, err
	}
	hashes := make([]string, len(hits))
	for i, h := range hits {
		hashes[i] = h.hash
	}
	byHash, err := s.memoriesByHash(ctx, hashes)
	if err != nil {
		return nil, err
	}

	results := make([]model.QueryResult, 0, len(hits))
	for _, h := range hits {
		m, ok := byHash[h.hash]
		if !ok {
			continue
		}
		score := normalizeBM25(h.rank)
		results = append(results, model.QueryResult{Memory: m, RelevanceScore: score, KeywordScore: &score})
	}
	return results, nil
}
