package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/rcliao/memory-service/internal/model"
)

// Delete soft-deletes the live memory with hash: its embedding row is removed
// and the memory row becomes a tombstone.
func (s *SQLiteStore) Delete(ctx context.Context, hash string) (Result, error) {
	start := time.Now()
	res, err := inTx(ctx, s, "delete", func(tx *sql.Tx) (Result, error) {
		deleted, err := s.softDelete(ctx, tx, hash, model.UnixNow())
		if err != nil {
			return Result{}, err
		}
		if !deleted {
			return fail(hash, ErrNotFound, "no live memory with hash %s", shortHash(hash)), nil
		}
		return ok(hash, "memory deleted"), nil
	})
	s.observe("delete", start, res.Success, err)
	return res, err
}

// softDelete tombstones every live row with hash and drops their embeddings.
func (s *SQLiteStore) softDelete(ctx context.Context, q querier, hash string, now float64) (bool, error) {
	if _, err := q.ExecContext(ctx,
		`DELETE FROM memory_embeddings WHERE rowid IN (
			SELECT id FROM memories WHERE content_hash = ? AND deleted_at IS NULL)`, hash); err != nil {
		return false, fmt.Errorf("delete embedding: %w", err)
	}
	res, err := q.ExecContext(ctx,
		`UPDATE memories SET deleted_at = ?, updated_at = ?, updated_at_iso = ?
		 WHERE content_hash = ? AND deleted_at IS NULL`, now, now, model.ISO(now), hash)
	if err != nil {
		return false, fmt.Errorf("tombstone memory: %w", err)
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

// IsDeleted reports whether a tombstone exists for hash.
func (s *SQLiteStore) IsDeleted(ctx context.Context, hash string) (bool, error) {
	var one int
	err := s.db.QueryRowContext(ctx,
		`SELECT 1 FROM memories WHERE content_hash = ? AND deleted_at IS NOT NULL LIMIT 1`, hash).Scan(&one)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// PurgeDeleted hard-deletes tombstones at least olderThanDays old.
func (s *SQLiteStore) PurgeDeleted(ctx context.Context, olderThanDays int) (int, error) {
	if olderThanDays < 0 {
		return 0, fmt.Errorf("%w: older_than_days must not be negative", ErrValidation)
	}
	start := time.Now()
	cutoff := model.UnixNow() - float64(olderThanDays)*86400
	n, err := inTx(ctx, s, "purge_deleted", func(tx *sql.Tx) (int, error) {
		res, err := tx.ExecContext(ctx,
			`DELETE FROM memories WHERE deleted_at IS NOT NULL AND deleted_at <= ?`, cutoff)
		if err != nil {
			return 0, fmt.Errorf("purge tombstones: %w", err)
		}
		n, _ := res.RowsAffected()
		return int(n), nil
	})
	s.observe("purge_deleted", start, true, err)
	return n, err
}

// DeleteByTag soft-deletes every live memory carrying tag.
func (s *SQLiteStore) DeleteByTag(ctx context.Context, tag string) (DeleteResult, error) {
	return s.DeleteByTags(ctx, []string{tag})
}

// DeleteByTags soft-deletes every live memory carrying any of tags.
func (s *SQLiteStore) DeleteByTags(ctx context.Context, tags []string) (DeleteResult, error) {
	valid := model.NormalizeTags(tags)
	if len(valid) == 0 {
		return DeleteResult{Message: "no valid tags given", Hashes: []string{}}, nil
	}
	start := time.Now()
	cond, args := tagCondition(valid, MatchAny)
	res, err := inTx(ctx, s, "delete_by_tags", func(tx *sql.Tx) (DeleteResult, error) {
		hashes, err := selectHashes(ctx, tx, `SELECT DISTINCT m.content_hash FROM memories m
			WHERE m.deleted_at IS NULL AND `+cond, args...)
		if err != nil {
			return DeleteResult{}, err
		}
		now := model.UnixNow()
		for _, h := range hashes {
			if _, err := s.softDelete(ctx, tx, h, now); err != nil {
				return DeleteResult{}, err
			}
		}
		return DeleteResult{
			Count:   len(hashes),
			Message: fmt.Sprintf("deleted %d memories tagged %s", len(hashes), strings.Join(valid, ", ")),
			Hashes:  hashes,
		}, nil
	})
	s.observe("delete_by_tags", start, true, err)
	return res, err
}

// DeleteByTimeframe soft-deletes live memories created within [start, end],
// optionally restricted to one tag.
func (s *SQLiteStore) DeleteByTimeframe(ctx context.Context, start, end time.Time, tag string) (DeleteResult, error) {
	if end.Before(start) {
		return DeleteResult{}, fmt.Errorf("%w: end %s is before start %s", ErrValidation, end.Format(time.RFC3339), start.Format(time.RFC3339))
	}
	where := []string{"m.deleted_at IS NULL", "m.created_at >= ?", "m.created_at <= ?"}
	args := []any{model.Unix(start), model.Unix(end)}
	return s.deleteWhere(ctx, "delete_by_timeframe", where, args, tag)
}

// DeleteBeforeDate soft-deletes live memories created at or before before,
// optionally restricted to one tag.
func (s *SQLiteStore) DeleteBeforeDate(ctx context.Context, before time.Time, tag string) (DeleteResult, error) {
	where := []string{"m.deleted_at IS NULL", "m.created_at <= ?"}
	args := []any{model.Unix(before)}
	return s.deleteWhere(ctx, "delete_before_date", where, args, tag)
}

// deleteWhere selects matching hashes first, then routes each through Delete
// so tombstoning stays in one code path.
func (s *SQLiteStore) deleteWhere(ctx context.Context, op string, where []string, args []any, tag string) (DeleteResult, error) {
	if tag = strings.TrimSpace(tag); tag != "" {
		cond, tagArgs := tagCondition([]string{tag}, MatchAny)
		where = append(where, cond)
		args = append(args, tagArgs...)
	}
	hashes, err := selectHashes(ctx, s.db,
		`SELECT DISTINCT m.content_hash FROM memories m WHERE `+strings.Join(where, " AND ")+` ORDER BY m.created_at`, args...)
	if err != nil {
		return DeleteResult{}, fmt.Errorf("%s: %w", op, err)
	}

	deleted := []string{}
	for _, h := range hashes {
		res, err := s.Delete(ctx, h)
		if err != nil {
			return DeleteResult{Count: len(deleted), Hashes: deleted}, err
		}
		if res.Success {
			deleted = append(deleted, h)
		}
	}
	return DeleteResult{
		Count:   len(deleted),
		Message: fmt.Sprintf("deleted %d memories", len(deleted)),
		Hashes:  deleted,
	}, nil
}

// CleanupDuplicates keeps the earliest live row per hash and soft-deletes the
// rest, returning how many were removed.
func (s *SQLiteStore) CleanupDuplicates(ctx context.Context) (int, error) {
	start := time.Now()
	n, err := inTx(ctx, s, "cleanup_duplicates", func(tx *sql.Tx) (int, error) {
		const extras = `SELECT id FROM memories m
			WHERE m.deleted_at IS NULL AND m.id > (
				SELECT MIN(k.id) FROM memories k
				WHERE k.content_hash = m.content_hash AND k.deleted_at IS NULL)`
		if _, err := tx.ExecContext(ctx, `DELETE FROM memory_embeddings WHERE rowid IN (`+extras+`)`); err != nil {
			return 0, fmt.Errorf("delete duplicate embeddings: %w", err)
		}
		now := model.UnixNow()
		res, err := tx.ExecContext(ctx,
			`UPDATE memories SET deleted_at = ?, updated_at = ?, updated_at_iso = ?
			 WHERE id IN (`+extras+`)`, now, now, model.ISO(now))
		if err != nil {
			return 0, fmt.Errorf("tombstone duplicates: %w", err)
		}
		n, _ := res.RowsAffected()
		return int(n), nil
	})
	s.observe("cleanup_duplicates", start, true, err)
	return n, err
}

func selectHashes(ctx context.Context, q querier, query string, args ...any) ([]string, error) {
	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	hashes := []string{}
	for rows.Next() {
		var h string
		if err := rows.Scan(&h); err != nil {
			return nil, err
		}
		hashes = append(hashes, h)
	}
	return hashes, rows.Err()
}
