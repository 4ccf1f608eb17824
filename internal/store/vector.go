package store

import (
	"context"
	"database/sql"
	"fmt"
	"math"
	"strings"

	sqlite_vec "github.com/asg017/sqlite-vec-go-bindings/cgo"

	"github.com/rcliao/memory-service/internal/embedding"
	"github.com/rcliao/memory-service/internal/model"
)

// MaxKNN is the per-query neighbor ceiling of the vec0 engine. Larger
// requests are clamped.
const MaxKNN = 4096

func clampK(n int) int {
	if n < 1 {
		return 1
	}
	if n > MaxKNN {
		return MaxKNN
	}
	return n
}

// relevance maps cosine distance in [0,2] to a score in [0,1].
func relevance(distance float64) float64 {
	return math.Max(0, 1-distance/2)
}

// validateVector rejects empty, mis-sized or non-finite vectors.
func (s *SQLiteStore) validateVector(v embedding.Vector) error {
	if len(v) == 0 {
		return fmt.Errorf("%w: empty embedding", ErrEmbeddingGeneration)
	}
	if len(v) != s.dims {
		return fmt.Errorf("%w: got %d values, index is pinned at %d", ErrDimensionMismatch, len(v), s.dims)
	}
	for i, x := range v {
		if math.IsNaN(float64(x)) || math.IsInf(float64(x), 0) {
			return fmt.Errorf("%w: non-finite value at position %d", ErrEmbeddingGeneration, i)
		}
	}
	return nil
}

// embedTexts encodes a batch in one provider call.
func (s *SQLiteStore) embedTexts(ctx context.Context, texts []string) ([]embedding.Vector, error) {
	vecs, err := s.emb.Encode(ctx, texts)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrEmbeddingGeneration, s.emb.Name(), err)
	}
	if len(vecs) != len(texts) {
		return nil, fmt.Errorf("%w: %s returned %d vectors for %d texts", ErrEmbeddingGeneration, s.emb.Name(), len(vecs), len(texts))
	}
	return vecs, nil
}

// queryVector embeds a query through the query cache.
func (s *SQLiteStore) queryVector(ctx context.Context, query string) ([]byte, error) {
	v, err := s.cache.Encode(ctx, s.emb, query)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrEmbeddingGeneration, err)
	}
	if err := s.validateVector(v); err != nil {
		return nil, err
	}
	return sqlite_vec.SerializeFloat32(v)
}

// putEmbedding writes the vector for a memory row. vec0 has no reliable
// upsert, so any stale row is removed first.
func (s *SQLiteStore) putEmbedding(ctx context.Context, q querier, id int64, v embedding.Vector) error {
	if err := s.validateVector(v); err != nil {
		return err
	}
	blob, err := sqlite_vec.SerializeFloat32(v)
	if err != nil {
		return fmt.Errorf("serialize embedding: %w", err)
	}
	if _, err := q.ExecContext(ctx, `DELETE FROM memory_embeddings WHERE rowid = ?`, id); err != nil {
		return fmt.Errorf("clear embedding: %w", err)
	}
	if _, err := q.ExecContext(ctx, `INSERT INTO memory_embeddings (rowid, content_embedding) VALUES (?, ?)`, id, blob); err != nil {
		return fmt.Errorf("insert embedding: %w", err)
	}
	return nil
}

// knnQuery describes a nearest-neighbor search joined to live memories.
type knnQuery struct {
	vector []byte
	k      int
	limit  int
	// where is an extra condition on the memories alias m.
	where string
	args  []any
}

// knn runs the vec0 MATCH inside a subquery and joins the neighbors to the
// memories table, dropping tombstones at query time.
func (s *SQLiteStore) knn(ctx context.Context, q querier, kq knnQuery) ([]model.QueryResult, error) {
	var b strings.Builder
	b.WriteString(`SELECT ` + memoryColumns + `, knn.distance
		FROM (
			SELECT rowid, distance FROM memory_embeddings
			WHERE content_embedding MATCH ? AND k = ?
		) knn
		JOIN memories m ON m.id = knn.rowid
		WHERE m.deleted_at IS NULL`)
	args := []any{kq.vector, clampK(kq.k)}
	if kq.where != "" {
		b.WriteString(" AND " + kq.where)
		args = append(args, kq.args...)
	}
	b.WriteString(" ORDER BY knn.distance, m.id LIMIT ?")
	args = append(args, kq.limit)

	rows, err := q.QueryContext(ctx, b.String(), args...)
	if err != nil {
		return nil, fmt.Errorf("knn query: %w", err)
	}
	defer rows.Close()

	var results []model.QueryResult
	for rows.Next() {
		var distance float64
		_, m, err := scanMemory(rows, &distance)
		if err != nil {
			return nil, err
		}
		d := distance
		results = append(results, model.QueryResult{
			Memory:         m,
			RelevanceScore: relevance(distance),
			Distance:       &d,
		})
	}
	return results, rows.Err()
}

// nearestRecent finds the closest live memory created after since. It scans
// the window exactly with vec_distance_cosine rather than taking a global
// top-k, so in-window rows are never crowded out by older neighbors.
func (s *SQLiteStore) nearestRecent(ctx context.Context, q querier, v embedding.Vector, since float64) (string, float64, bool, error) {
	blob, err := sqlite_vec.SerializeFloat32(v)
	if err != nil {
		return "", 0, false, fmt.Errorf("serialize embedding: %w", err)
	}
	var (
		hash     string
		distance float64
	)
	err = q.QueryRowContext(ctx,
		`SELECT m.content_hash, vec_distance_cosine(e.content_embedding, ?) AS distance
		 FROM memories m
		 JOIN memory_embeddings e ON e.rowid = m.id
		 WHERE m.deleted_at IS NULL AND m.created_at > ?
		 ORDER BY distance
		 LIMIT 1`, blob, since).Scan(&hash, &distance)
	if err == sql.ErrNoRows {
		return "", 0, false, nil
	}
	if err != nil {
		return "", 0, false, fmt.Errorf("semantic duplicate check: %w", err)
	}
	return hash, distance, true, nil
}
