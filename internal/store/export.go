package store

import (
	"context"

	"github.com/rcliao/memory-service/internal/model"
)

// ExportAll returns all live memories, oldest first.
func (s *SQLiteStore) ExportAll(ctx context.Context) ([]model.Memory, error) {
	return queryMemories(ctx, s.db,
		`SELECT `+memoryColumns+` FROM memories m WHERE m.deleted_at IS NULL ORDER BY m.created_at, m.id`)
}

// Import stores memories from an export in one batch. Timestamps are kept and
// semantic dedup is skipped; exact duplicates are reported per item.
func (s *SQLiteStore) Import(ctx context.Context, memories []model.Memory) ([]Result, error) {
	batch := make([]*model.Memory, len(memories))
	for i := range memories {
		m := memories[i]
		m.DeletedAt = nil
		if m.ContentHash == "" || m.ContentHash != model.ContentHash(m.Content) {
			m.ContentHash = model.ContentHash(m.Content)
		}
		batch[i] = &m
	}
	return s.StoreBatch(ctx, batch, true)
}
