package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/rcliao/memory-service/internal/model"
)

const defaultListLimit = 20

// SearchByTag returns live memories carrying any of tags, newest first.
func (s *SQLiteStore) SearchByTag(ctx context.Context, tags []string) ([]model.Memory, error) {
	return s.SearchByTags(ctx, tags, MatchAny, TimeRange{})
}

// SearchByTags filters live memories by tags combined with match, optionally
// within a created_at range, newest first.
func (s *SQLiteStore) SearchByTags(ctx context.Context, tags []string, match TagMatch, r TimeRange) ([]model.Memory, error) {
	valid := model.NormalizeTags(tags)
	if len(valid) == 0 {
		return []model.Memory{}, nil
	}
	cond, args := tagCondition(valid, match)
	where := []string{"m.deleted_at IS NULL", cond}
	if tc, targs := timeCondition(r); tc != "" {
		where = append(where, tc)
		args = append(args, targs...)
	}
	return queryMemories(ctx, s.db,
		`SELECT `+memoryColumns+` FROM memories m WHERE `+strings.Join(where, " AND ")+
			` ORDER BY m.created_at DESC, m.id DESC`, args...)
}

// SearchByTagChronological pages through live memories carrying any of tags,
// newest first, with LIMIT/OFFSET applied in SQL.
func (s *SQLiteStore) SearchByTagChronological(ctx context.Context, tags []string, limit, offset int) ([]model.Memory, error) {
	valid := model.NormalizeTags(tags)
	if len(valid) == 0 {
		return []model.Memory{}, nil
	}
	if limit <= 0 {
		limit = defaultListLimit
	}
	cond, args := tagCondition(valid, MatchAny)
	return queryMemories(ctx, s.db,
		`SELECT `+memoryColumns+` FROM memories m
		 WHERE m.deleted_at IS NULL AND `+cond+`
		 ORDER BY m.created_at DESC, m.id DESC
		 LIMIT ? OFFSET ?`, append(args, limit, max(offset, 0))...)
}

func listFilter(memoryType string, tags []string) ([]string, []any) {
	where := []string{"m.deleted_at IS NULL"}
	var args []any
	if memoryType != "" {
		where = append(where, "m.memory_type = ?")
		args = append(args, memoryType)
	}
	if valid := model.NormalizeTags(tags); len(valid) > 0 {
		cond, targs := tagCondition(valid, MatchAny)
		where = append(where, cond)
		args = append(args, targs...)
	}
	return where, args
}

// GetAllMemories lists live memories newest first.
func (s *SQLiteStore) GetAllMemories(ctx context.Context, p ListParams) ([]model.Memory, error) {
	limit := p.Limit
	if limit <= 0 {
		limit = defaultListLimit
	}
	where, args := listFilter(p.MemoryType, p.Tags)
	return queryMemories(ctx, s.db,
		`SELECT `+memoryColumns+` FROM memories m WHERE `+strings.Join(where, " AND ")+`
		 ORDER BY m.created_at DESC, m.id DESC
		 LIMIT ? OFFSET ?`, append(args, limit, max(p.Offset, 0))...)
}

// CountAllMemories counts live memories matching the same filters as GetAllMemories.
func (s *SQLiteStore) CountAllMemories(ctx context.Context, memoryType string, tags []string) (int, error) {
	where, args := listFilter(memoryType, tags)
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM memories m WHERE `+strings.Join(where, " AND "), args...).Scan(&n)
	return n, err
}

// GetRecentMemories returns the n newest live memories.
func (s *SQLiteStore) GetRecentMemories(ctx context.Context, n int) ([]model.Memory, error) {
	return s.GetAllMemories(ctx, ListParams{Limit: n})
}

// GetByHash returns the live memory with hash, or ErrNotFound.
func (s *SQLiteStore) GetByHash(ctx context.Context, hash string) (*model.Memory, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+memoryColumns+` FROM memories m WHERE m.content_hash = ? AND m.deleted_at IS NULL`, hash)
	_, m, err := scanMemory(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, shortHash(hash))
	}
	if err != nil {
		return nil, err
	}
	return &m, nil
}

// GetByExactContent returns live memories whose content equals content.
func (s *SQLiteStore) GetByExactContent(ctx context.Context, content string) ([]model.Memory, error) {
	return queryMemories(ctx, s.db,
		`SELECT `+memoryColumns+` FROM memories m WHERE m.content = ? AND m.deleted_at IS NULL
		 ORDER BY m.created_at DESC`, content)
}

// GetAllContentHashes lists distinct hashes of live memories, plus
// tombstones when includeDeleted is set.
func (s *SQLiteStore) GetAllContentHashes(ctx context.Context, includeDeleted bool) ([]string, error) {
	q := `SELECT DISTINCT content_hash FROM memories`
	if !includeDeleted {
		q += ` WHERE deleted_at IS NULL`
	}
	return selectHashes(ctx, s.db, q+` ORDER BY content_hash`)
}

// GetMemoriesByTimeRange returns live memories created within [start, end], newest first.
func (s *SQLiteStore) GetMemoriesByTimeRange(ctx context.Context, start, end time.Time) ([]model.Memory, error) {
	return queryMemories(ctx, s.db,
		`SELECT `+memoryColumns+` FROM memories m
		 WHERE m.deleted_at IS NULL AND m.created_at >= ? AND m.created_at <= ?
		 ORDER BY m.created_at DESC, m.id DESC`, model.Unix(start), model.Unix(end))
}

// GetAllTagsWithCounts counts live memories per tag, most used first.
func (s *SQLiteStore) GetAllTagsWithCounts(ctx context.Context) ([]TagCount, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT tags FROM memories WHERE deleted_at IS NULL AND tags IS NOT NULL AND tags != ''`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	counts := map[string]int{}
	for rows.Next() {
		var tags string
		if err := rows.Scan(&tags); err != nil {
			return nil, err
		}
		for _, t := range model.SplitTags(tags) {
			counts[t]++
		}
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	out := make([]TagCount, 0, len(counts))
	for t, n := range counts {
		out = append(out, TagCount{Tag: t, Count: n})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Count != out[j].Count {
			return out[i].Count > out[j].Count
		}
		return out[i].Tag < out[j].Tag
	})
	return out, nil
}

// maxParams keeps IN lists under SQLite's bound-parameter limit.
const maxParams = 500

// memoriesByHash loads live memories for hashes, keyed by hash.
func (s *SQLiteStore) memoriesByHash(ctx context.Context, hashes []string) (map[string]model.Memory, error) {
	out := make(map[string]model.Memory, len(hashes))
	for start := 0; start < len(hashes); start += maxParams {
		chunk := hashes[start:min(start+maxParams, len(hashes))]
		memories, err := queryMemories(ctx, s.db,
			`SELECT `+memoryColumns+` FROM memories m
			 WHERE m.deleted_at IS NULL AND m.content_hash IN (`+placeholders(len(chunk))+`)`,
			toArgs(chunk)...)
		if err != nil {
			return nil, err
		}
		for _, m := range memories {
			out[m.ContentHash] = m
		}
	}
	return out, nil
}

func placeholders(n int) string {
	if n <= 0 {
		return ""
	}
	return strings.Repeat("?,", n-1) + "?"
}

func toArgs(ss []string) []any {
	args := make([]any, len(ss))
	for i, s := range ss {
		args[i] = s
	}
	return args
}
