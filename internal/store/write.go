package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/mattn/go-sqlite3"

	"github.com/rcliao/memory-service/internal/embedding"
	"github.com/rcliao/memory-service/internal/logging"
	"github.com/rcliao/memory-service/internal/model"
)

// prepare validates and normalizes a memory before it is embedded.
func prepare(m *model.Memory) error {
	if m == nil {
		return fmt.Errorf("%w: nil memory", ErrValidation)
	}
	if strings.TrimSpace(m.Content) == "" {
		return fmt.Errorf("%w: content is empty", ErrValidation)
	}
	if m.ContentHash == "" {
		m.ContentHash = model.ContentHash(m.Content)
	}
	m.Tags = model.NormalizeTags(m.Tags)
	return nil
}

// Store writes one memory with its embedding. Duplicates and bad input are
// reported in the Result; lock exhaustion and infrastructure failures are
// returned as errors.
func (s *SQLiteStore) Store(ctx context.Context, m *model.Memory, skipSemanticDedup bool) (Result, error) {
	start := time.Now()
	res, err := s.store(ctx, m, skipSemanticDedup)
	s.observe("store", start, res.Success, err)
	return res, err
}

func (s *SQLiteStore) store(ctx context.Context, m *model.Memory, skipSemanticDedup bool) (Result, error) {
	if err := prepare(m); err != nil {
		return fail("", err, "%v", err), nil
	}

	// Cheap pre-check so exact duplicates never reach the embedding provider.
	live, err := s.liveExists(ctx, s.db, m.ContentHash)
	if err != nil {
		return Result{}, err
	}
	if live {
		return duplicateResult(m.ContentHash), nil
	}

	vecs, err := s.embedTexts(ctx, []string{m.Content})
	if err != nil {
		return fail(m.ContentHash, err, "%v", err), nil
	}
	if err := s.validateVector(vecs[0]); err != nil {
		return fail(m.ContentHash, err, "%v", err), nil
	}

	return inTx(ctx, s, "store", func(tx *sql.Tx) (Result, error) {
		return s.storeItem(ctx, tx, m, vecs[0], skipSemanticDedup)
	})
}

// StoreBatch embeds every memory in one provider call and writes them in one
// transaction with a savepoint per item. Results align with the input.
func (s *SQLiteStore) StoreBatch(ctx context.Context, ms []*model.Memory, skipSemanticDedup bool) ([]Result, error) {
	start := time.Now()
	results, err := s.storeBatch(ctx, ms, skipSemanticDedup)
	s.observe("store_batch", start, err == nil, err)
	return results, err
}

func (s *SQLiteStore) storeBatch(ctx context.Context, ms []*model.Memory, skipSemanticDedup bool) ([]Result, error) {
	pre := make([]Result, len(ms))
	ready := make([]bool, len(ms))
	var (
		texts   []string
		indexes []int
	)
	for i, m := range ms {
		if err := prepare(m); err != nil {
			pre[i] = fail("", err, "%v", err)
			continue
		}
		ready[i] = true
		texts = append(texts, m.Content)
		indexes = append(indexes, i)
	}

	vecs := make([]embedding.Vector, len(ms))
	if len(texts) > 0 {
		encoded, err := s.embedTexts(ctx, texts)
		if err != nil {
			for _, i := range indexes {
				pre[i] = fail(ms[i].ContentHash, err, "%v", err)
			}
			return pre, nil
		}
		for j, i := range indexes {
			vecs[i] = encoded[j]
		}
	}

	return inTx(ctx, s, "store_batch", func(tx *sql.Tx) ([]Result, error) {
		results := make([]Result, len(ms))
		for i, m := range ms {
			if !ready[i] {
				results[i] = pre[i]
				continue
			}
			if err := s.validateVector(vecs[i]); err != nil {
				results[i] = fail(m.ContentHash, err, "%v", err)
				continue
			}
			res, err := s.storeItem(ctx, tx, m, vecs[i], skipSemanticDedup)
			if err != nil {
				return nil, err
			}
			results[i] = res
		}
		return results, nil
	})
}

// storeItem runs the dedup checks and the paired row+embedding insert inside
// one savepoint. Lock errors abort the enclosing transaction so it can be
// retried; other write failures roll back only this item.
func (s *SQLiteStore) storeItem(ctx context.Context, tx *sql.Tx, m *model.Memory, vec embedding.Vector, skipSemanticDedup bool) (Result, error) {
	var res Result
	err := withSavepoint(ctx, tx, "store_item", func() error {
		live, err := s.liveExists(ctx, tx, m.ContentHash)
		if err != nil {
			return err
		}
		if live {
			res = duplicateResult(m.ContentHash)
			return nil
		}

		if !skipSemanticDedup && s.opts.SemanticDedup {
			since := model.UnixNow() - s.opts.DedupWindow.Seconds()
			hash, distance, found, err := s.nearestRecent(ctx, tx, vec, since)
			if err != nil {
				return err
			}
			if similarity := 1 - distance; found && similarity >= s.opts.DedupThreshold {
				res = fail(m.ContentHash, ErrSemanticDuplicate,
					"semantic duplicate of %s (similarity %.3f >= %.2f)", hash, similarity, s.opts.DedupThreshold)
				res.DuplicateOf = hash
				return nil
			}
		}

		id, err := s.insertMemory(ctx, tx, m)
		if err != nil {
			return err
		}
		if err := s.putEmbedding(ctx, tx, id, vec); err != nil {
			return err
		}
		res = ok(m.ContentHash, "memory stored")
		return nil
	})
	if err == nil {
		return res, nil
	}
	if isLockError(err) || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return Result{}, err
	}
	logging.Warnf("store %s rolled back: %v", shortHash(m.ContentHash), err)
	return fail(m.ContentHash, fmt.Errorf("%w: %v", ErrIntegrity, err), "write rolled back: %v", err), nil
}

func duplicateResult(hash string) Result {
	r := fail(hash, ErrDuplicateContent, "exact duplicate: memory %s already exists", shortHash(hash))
	r.DuplicateOf = hash
	return r
}

func (s *SQLiteStore) liveExists(ctx context.Context, q querier, hash string) (bool, error) {
	var one int
	err := q.QueryRowContext(ctx,
		`SELECT 1 FROM memories WHERE content_hash = ? AND deleted_at IS NULL LIMIT 1`, hash).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("check duplicate: %w", err)
	}
	return true, nil
}

// insertMemory inserts the row and fills in its timestamps. A non-zero
// CreatedAt is kept so imports and syncs preserve history.
func (s *SQLiteStore) insertMemory(ctx context.Context, tx *sql.Tx, m *model.Memory) (int64, error) {
	now := model.UnixNow()
	if m.CreatedAt == 0 {
		m.CreatedAt = now
	}
	if m.UpdatedAt == 0 {
		m.UpdatedAt = m.CreatedAt
	}
	m.CreatedAtISO = model.ISO(m.CreatedAt)
	m.UpdatedAtISO = model.ISO(m.UpdatedAt)
	m.DeletedAt = nil

	meta, err := encodeMetadata(m.Metadata)
	if err != nil {
		return 0, err
	}

	insert := func() (sql.Result, error) {
		return tx.ExecContext(ctx,
			`INSERT INTO memories (content_hash, content, tags, memory_type, metadata,
			                       created_at, updated_at, created_at_iso, updated_at_iso)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			m.ContentHash, m.Content, model.JoinTags(m.Tags), nullString(m.MemoryType), meta,
			m.CreatedAt, m.UpdatedAt, m.CreatedAtISO, m.UpdatedAtISO)
	}
	res, err := insert()
	if isUniqueViolation(err) {
		// Schemas with a column-wide UNIQUE on content_hash cannot hold a
		// tombstone next to a live row; the tombstone gives way.
		if _, derr := tx.ExecContext(ctx,
			`DELETE FROM memories WHERE content_hash = ? AND deleted_at IS NOT NULL`, m.ContentHash); derr != nil {
			return 0, fmt.Errorf("clear tombstone: %w", derr)
		}
		res, err = insert()
	}
	if err != nil {
		return 0, fmt.Errorf("insert memory: %w", err)
	}
	return res.LastInsertId()
}

func isUniqueViolation(err error) bool {
	var se sqlite3.Error
	return errors.As(err, &se) && se.ExtendedCode == sqlite3.ErrConstraintUnique
}

func nullString(s string) any {
	if s == "" {
		return nil
	}
	return s
}
