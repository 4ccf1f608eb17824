package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/rcliao/memory-service/internal/logging"
	"github.com/rcliao/memory-service/internal/model"
)

// UpdateMemoryMetadata applies a partial update to the live memory with hash
// without touching its embedding. With preserveTimestamps, only updated_at
// moves (to now). Otherwise the caller may supply created_at and updated_at:
// an omitted created_at keeps its prior value and an omitted updated_at
// moves to now.
func (s *SQLiteStore) UpdateMemoryMetadata(ctx context.Context, hash string, u MetadataUpdate, preserveTimestamps bool) (Result, error) {
	start := time.Now()
	u.ContentHash = hash
	res, err := inTx(ctx, s, "update_memory_metadata", func(tx *sql.Tx) (Result, error) {
		return s.updateItem(ctx, tx, u, preserveTimestamps)
	})
	s.observe("update_memory_metadata", start, res.Success, err)
	return res, err
}

// UpdateMemoriesBatch applies updates in one transaction with a savepoint per
// item. Results align with the input.
func (s *SQLiteStore) UpdateMemoriesBatch(ctx context.Context, updates []MetadataUpdate, preserveTimestamps bool) ([]Result, error) {
	start := time.Now()
	results, err := inTx(ctx, s, "update_memories_batch", func(tx *sql.Tx) ([]Result, error) {
		results := make([]Result, len(updates))
		for i, u := range updates {
			var res Result
			err := withSavepoint(ctx, tx, "update_item", func() error {
				var err error
				res, err = s.updateItem(ctx, tx, u, preserveTimestamps)
				return err
			})
			if err != nil {
				if isLockError(err) {
					return nil, err
				}
				res = fail(u.ContentHash, fmt.Errorf("%w: %v", ErrIntegrity, err), "update rolled back: %v", err)
			}
			results[i] = res
		}
		return results, nil
	})
	s.observe("update_memories_batch", start, err == nil, err)
	return results, err
}

func (s *SQLiteStore) updateItem(ctx context.Context, tx *sql.Tx, u MetadataUpdate, preserveTimestamps bool) (Result, error) {
	if u.ContentHash == "" {
		return fail("", ErrValidation, "content hash is required"), nil
	}
	if !preserveTimestamps {
		if (u.CreatedAt != nil && *u.CreatedAt <= 0) || (u.UpdatedAt != nil && *u.UpdatedAt <= 0) {
			return fail(u.ContentHash, ErrValidation, "timestamps must be positive Unix seconds"), nil
		}
	}

	row := tx.QueryRowContext(ctx,
		`SELECT `+memoryColumns+` FROM memories m WHERE m.content_hash = ? AND m.deleted_at IS NULL`, u.ContentHash)
	id, m, err := scanMemory(row)
	if errors.Is(err, sql.ErrNoRows) {
		return fail(u.ContentHash, ErrNotFound, "no live memory with hash %s", shortHash(u.ContentHash)), nil
	}
	if err != nil {
		return Result{}, err
	}

	if u.Tags != nil {
		m.Tags = model.NormalizeTags(u.Tags)
	}
	if u.MemoryType != nil {
		m.MemoryType = *u.MemoryType
	}
	if len(u.Metadata) > 0 {
		if m.Metadata == nil {
			m.Metadata = map[string]any{}
		}
		for k, v := range u.Metadata {
			m.Metadata[k] = v
		}
	}

	m.UpdatedAt = model.UnixNow()
	if !preserveTimestamps {
		if u.CreatedAt != nil {
			m.CreatedAt = *u.CreatedAt
		}
		if u.UpdatedAt != nil {
			m.UpdatedAt = *u.UpdatedAt
		}
	}

	meta, err := encodeMetadata(m.Metadata)
	if err != nil {
		return fail(u.ContentHash, err, "%v", err), nil
	}
	if _, err := tx.ExecContext(ctx,
		`UPDATE memories SET tags = ?, memory_type = ?, metadata = ?,
		        created_at = ?, created_at_iso = ?, updated_at = ?, updated_at_iso = ?
		 WHERE id = ?`,
		model.JoinTags(m.Tags), nullString(m.MemoryType), meta,
		m.CreatedAt, model.ISO(m.CreatedAt), m.UpdatedAt, model.ISO(m.UpdatedAt), id); err != nil {
		return Result{}, fmt.Errorf("update memory: %w", err)
	}
	return ok(u.ContentHash, "memory updated"), nil
}

const maxRecentQueries = 10

// recordAccess bumps access bookkeeping for every result and persists it.
// Failures are logged; the retrieval itself still succeeds.
func (s *SQLiteStore) recordAccess(ctx context.Context, query string, results []model.QueryResult) {
	if len(results) == 0 {
		return
	}
	now := model.UnixNow()
	updated, err := inTx(ctx, s, "record_access", func(tx *sql.Tx) ([]map[string]any, error) {
		out := make([]map[string]any, len(results))
		for i, r := range results {
			var raw sql.NullString
			err := tx.QueryRowContext(ctx,
				`SELECT metadata FROM memories WHERE content_hash = ? AND deleted_at IS NULL`, r.Memory.ContentHash).Scan(&raw)
			if errors.Is(err, sql.ErrNoRows) {
				continue
			}
			if err != nil {
				return nil, err
			}
			var current map[string]any
			if raw.Valid && raw.String != "" {
				if err := json.Unmarshal([]byte(raw.String), &current); err != nil {
					logging.Warnf("memory %s has unreadable metadata, access not recorded: %v", shortHash(r.Memory.ContentHash), err)
					continue
				}
			}
			meta := touchAccess(current, query, now)
			enc, err := encodeMetadata(meta)
			if err != nil {
				return nil, err
			}
			if _, err := tx.ExecContext(ctx,
				`UPDATE memories SET metadata = ?, updated_at = ?, updated_at_iso = ?
				 WHERE content_hash = ? AND deleted_at IS NULL`,
				enc, now, model.ISO(now), r.Memory.ContentHash); err != nil {
				return nil, err
			}
			out[i] = meta
		}
		return out, nil
	})
	if err != nil {
		logging.Warnf("record access for %d results: %v", len(results), err)
		return
	}
	for i, meta := range updated {
		if meta == nil {
			continue
		}
		results[i].Memory.Metadata = meta
		results[i].Memory.UpdatedAt = now
		results[i].Memory.UpdatedAtISO = model.ISO(now)
	}
}

func touchAccess(meta map[string]any, query string, now float64) map[string]any {
	out := make(map[string]any, len(meta)+3)
	for k, v := range meta {
		out[k] = v
	}
	out["access_count"] = asInt(meta["access_count"]) + 1
	out["last_accessed_at"] = now
	if query != "" {
		var recent []any
		if prior, ok := meta["recent_queries"].([]any); ok {
			recent = append(recent, prior...)
		}
		recent = append(recent, map[string]any{"query": query, "at": now})
		if len(recent) > maxRecentQueries {
			recent = recent[len(recent)-maxRecentQueries:]
		}
		out["recent_queries"] = recent
	}
	return out
}

func asInt(v any) int {
	switch n := v.(type) {
	case float64:
		return int(n)
	case int:
		return n
	case int64:
		return int(n)
	case json.Number:
		i, _ := n.Int64()
		return int(i)
	}
	return 0
}
