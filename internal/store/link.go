package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/rcliao/memory-service/internal/logging"
	"github.com/rcliao/memory-service/internal/model"
)

// MaxSubgraphNodes caps a subgraph so its edge query (two IN lists) stays
// under SQLite's 999 bound-parameter limit.
const MaxSubgraphNodes = 499

func validateHash(name, h string) error {
	if strings.TrimSpace(h) == "" {
		return fmt.Errorf("%w: %s hash is empty", ErrValidation, name)
	}
	if strings.Contains(h, ",") {
		return fmt.Errorf("%w: %s hash %q contains a comma", ErrValidation, name, h)
	}
	return nil
}

// StoreAssociation upserts the edge in both directions.
func (s *SQLiteStore) StoreAssociation(ctx context.Context, a model.Association) error {
	if err := validateHash("source", a.SourceHash); err != nil {
		return err
	}
	if err := validateHash("target", a.TargetHash); err != nil {
		return err
	}
	if a.SourceHash == a.TargetHash {
		return fmt.Errorf("%w: self-loop on %s", ErrValidation, shortHash(a.SourceHash))
	}
	if math.IsNaN(a.Similarity) || a.Similarity < 0 || a.Similarity > 1 {
		return fmt.Errorf("%w: similarity %v outside [0,1]", ErrValidation, a.Similarity)
	}

	types, err := json.Marshal(model.NormalizeConnectionTypes(a.ConnectionTypes))
	if err != nil {
		return err
	}
	var meta any
	if len(a.Metadata) > 0 {
		b, err := json.Marshal(a.Metadata)
		if err != nil {
			return fmt.Errorf("%w: association metadata: %v", ErrValidation, err)
		}
		meta = string(b)
	}
	createdAt := a.CreatedAt
	if createdAt == 0 {
		createdAt = model.UnixNow()
	}

	start := time.Now()
	_, err = inTx(ctx, s, "store_association", func(tx *sql.Tx) (struct{}, error) {
		for _, pair := range [][2]string{{a.SourceHash, a.TargetHash}, {a.TargetHash, a.SourceHash}} {
			if _, err := tx.ExecContext(ctx,
				`INSERT OR REPLACE INTO memory_graph
				 (source_hash, target_hash, similarity, connection_types, metadata, created_at)
				 VALUES (?, ?, ?, ?, ?, ?)`,
				pair[0], pair[1], a.Similarity, string(types), meta, createdAt); err != nil {
				return struct{}{}, fmt.Errorf("store association: %w", err)
			}
		}
		return struct{}{}, nil
	})
	s.observe("store_association", start, true, err)
	return err
}

const associationColumns = `source_hash, target_hash, similarity, connection_types, metadata, created_at`

func scanAssociation(row scanner) (model.Association, error) {
	var (
		a     model.Association
		types string
		meta  sql.NullString
	)
	if err := row.Scan(&a.SourceHash, &a.TargetHash, &a.Similarity, &types, &meta, &a.CreatedAt); err != nil {
		return a, err
	}
	if err := json.Unmarshal([]byte(types), &a.ConnectionTypes); err != nil {
		// Older rows may hold a comma-joined list.
		a.ConnectionTypes = model.NormalizeConnectionTypes(strings.Split(types, ","))
	}
	if meta.Valid && meta.String != "" {
		json.Unmarshal([]byte(meta.String), &a.Metadata)
	}
	return a, nil
}

// GetAssociation returns the edge source->target, or ErrNotFound.
func (s *SQLiteStore) GetAssociation(ctx context.Context, source, target string) (*model.Association, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+associationColumns+` FROM memory_graph WHERE source_hash = ? AND target_hash = ?`, source, target)
	a, err := scanAssociation(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: no association %s -> %s", ErrNotFound, shortHash(source), shortHash(target))
	}
	if err != nil {
		return nil, err
	}
	return &a, nil
}

// DeleteAssociation removes both directions of an edge in one statement.
func (s *SQLiteStore) DeleteAssociation(ctx context.Context, source, target string) (bool, error) {
	n, err := inTx(ctx, s, "delete_association", func(tx *sql.Tx) (int64, error) {
		res, err := tx.ExecContext(ctx,
			`DELETE FROM memory_graph
			 WHERE (source_hash = ? AND target_hash = ?) OR (source_hash = ? AND target_hash = ?)`,
			source, target, target, source)
		if err != nil {
			return 0, err
		}
		return res.RowsAffected()
	})
	return n > 0, err
}

// GetAssociationCount counts logical edges.
func (s *SQLiteStore) GetAssociationCount(ctx context.Context) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM memory_graph`).Scan(&n)
	return n / 2, err
}

// FindConnected walks the graph breadth-first up to maxHops, never
// revisiting a node already on the current path. The origin is excluded.
func (s *SQLiteStore) FindConnected(ctx context.Context, hash string, maxHops int) ([]model.Connection, error) {
	if err := validateHash("start", hash); err != nil {
		return nil, err
	}
	if maxHops < 0 {
		return nil, fmt.Errorf("%w: max_hops must not be negative", ErrValidation)
	}
	rows, err := s.db.QueryContext(ctx, `
		WITH RECURSIVE walk(hash, distance, path) AS (
			SELECT ?, 0, ',' || ? || ','
			UNION ALL
			SELECT g.target_hash, w.distance + 1, w.path || g.target_hash || ','
			FROM walk w
			JOIN memory_graph g ON g.source_hash = w.hash
			WHERE w.distance < ?
			  AND instr(w.path, ',' || g.target_hash || ',') = 0
		)
		SELECT hash, MIN(distance) AS distance
		FROM walk
		WHERE hash != ?
		GROUP BY hash
		ORDER BY distance, hash`, hash, hash, maxHops, hash)
	if err != nil {
		return nil, fmt.Errorf("find connected: %w", err)
	}
	defer rows.Close()

	conns := []model.Connection{}
	for rows.Next() {
		var c model.Connection
		if err := rows.Scan(&c.Hash, &c.Distance); err != nil {
			return nil, err
		}
		conns = append(conns, c)
	}
	return conns, rows.Err()
}

// ShortestPath returns the shortest hop sequence from source to target
// within maxDepth edges, or nil when none exists.
func (s *SQLiteStore) ShortestPath(ctx context.Context, source, target string, maxDepth int) ([]string, error) {
	if err := validateHash("source", source); err != nil {
		return nil, err
	}
	if err := validateHash("target", target); err != nil {
		return nil, err
	}
	if source == target {
		return []string{source}, nil
	}
	if maxDepth < 1 {
		return nil, nil
	}

	var path string
	err := s.db.QueryRowContext(ctx, `
		WITH RECURSIVE walk(hash, depth, path) AS (
			SELECT ?, 0, ',' || ? || ','
			UNION ALL
			SELECT g.target_hash, w.depth + 1, w.path || g.target_hash || ','
			FROM walk w
			JOIN memory_graph g ON g.source_hash = w.hash
			WHERE w.depth < ?
			  AND w.hash != ?
			  AND instr(w.path, ',' || g.target_hash || ',') = 0
		)
		SELECT path FROM walk
		WHERE hash = ?
		ORDER BY depth, path
		LIMIT 1`, source, source, maxDepth, target, target).Scan(&path)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("shortest path: %w", err)
	}
	return strings.Split(strings.Trim(path, ","), ","), nil
}

// GetSubgraph returns the nodes within radius of hash and the logical edges
// among them, one per node pair. Neighborhoods over MaxSubgraphNodes are
// truncated to the closest nodes.
func (s *SQLiteStore) GetSubgraph(ctx context.Context, hash string, radius int) (*model.Subgraph, error) {
	conns, err := s.FindConnected(ctx, hash, radius)
	if err != nil {
		return nil, err
	}
	nodes := make([]string, 0, len(conns)+1)
	nodes = append(nodes, hash)
	for _, c := range conns {
		nodes = append(nodes, c.Hash)
	}

	sg := &model.Subgraph{Center: hash, Edges: []model.Association{}}
	if len(nodes) > MaxSubgraphNodes {
		logging.Warnf("subgraph around %s has %d nodes, truncating to %d", shortHash(hash), len(nodes), MaxSubgraphNodes)
		nodes = nodes[:MaxSubgraphNodes]
		sg.Truncated = true
	}
	sg.Nodes = nodes
	if len(nodes) < 2 {
		return sg, nil
	}

	in := placeholders(len(nodes))
	args := append(toArgs(nodes), toArgs(nodes)...)
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+associationColumns+` FROM memory_graph
		 WHERE source_hash IN (`+in+`) AND target_hash IN (`+in+`)
		 ORDER BY source_hash, target_hash`, args...)
	if err != nil {
		return nil, fmt.Errorf("subgraph edges: %w", err)
	}
	defer rows.Close()

	seen := map[[2]string]bool{}
	for rows.Next() {
		a, err := scanAssociation(rows)
		if err != nil {
			return nil, err
		}
		key := model.CanonicalPair(a.SourceHash, a.TargetHash)
		if seen[key] {
			continue
		}
		seen[key] = true
		a.SourceHash, a.TargetHash = key[0], key[1]
		sg.Edges = append(sg.Edges, a)
	}
	return sg, rows.Err()
}
