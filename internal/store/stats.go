package store

import (
	"context"
	"os"
	"time"

	"github.com/rcliao/memory-service/internal/model"
)

// Stats holds database statistics.
type Stats struct {
	Backend            string `json:"backend"`
	DBPath             string `json:"db_path"`
	DBSizeBytes        int64  `json:"db_size_bytes"`
	TotalMemories      int    `json:"total_memories"`
	DeletedMemories    int    `json:"deleted_memories"`
	UniqueTags         int    `json:"unique_tags"`
	MemoriesThisWeek   int    `json:"memories_this_week"`
	Associations       int    `json:"associations"`
	EmbeddingModel     string `json:"embedding_model"`
	EmbeddingDimension int    `json:"embedding_dimension"`
	DistanceMetric     string `json:"distance_metric"`
	FTSEnabled         bool   `json:"fts_enabled"`
}

// GetStats returns database statistics. TotalMemories counts live rows only.
func (s *SQLiteStore) GetStats(ctx context.Context) (*Stats, error) {
	st := &Stats{
		Backend:            string(BackendSQLiteVec),
		DBPath:             s.path,
		EmbeddingModel:     s.emb.Name(),
		EmbeddingDimension: s.dims,
		FTSEnabled:         s.ftsAvailable,
	}

	for _, suffix := range []string{"", "-wal"} {
		if info, err := os.Stat(s.path + suffix); err == nil {
			st.DBSizeBytes += info.Size()
		}
	}

	weekAgo := model.Unix(time.Now().Add(-7 * 24 * time.Hour))
	err := s.db.QueryRowContext(ctx, `
		SELECT
			COALESCE(SUM(CASE WHEN deleted_at IS NULL THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN deleted_at IS NOT NULL THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN deleted_at IS NULL AND created_at >= ? THEN 1 ELSE 0 END), 0)
		FROM memories`, weekAgo).Scan(&st.TotalMemories, &st.DeletedMemories, &st.MemoriesThisWeek)
	if err != nil {
		return nil, err
	}

	tags, err := s.GetAllTagsWithCounts(ctx)
	if err != nil {
		return nil, err
	}
	st.UniqueTags = len(tags)

	if st.Associations, err = s.GetAssociationCount(ctx); err != nil {
		return nil, err
	}

	if v, found, err := getMeta(ctx, s.db, "distance_metric"); err == nil && found {
		st.DistanceMetric = v
	}

	s.metrics.SetLive(st.TotalMemories)
	return st, nil
}
