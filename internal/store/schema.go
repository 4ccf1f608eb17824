package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/rcliao/memory-service/internal/logging"
)

const baseSchema = `
CREATE TABLE IF NOT EXISTS memories (
	id             INTEGER PRIMARY KEY AUTOINCREMENT,
	content_hash   TEXT NOT NULL,
	content        TEXT NOT NULL,
	tags           TEXT,
	memory_type    TEXT,
	metadata       TEXT,
	created_at     REAL NOT NULL,
	updated_at     REAL NOT NULL,
	created_at_iso TEXT,
	updated_at_iso TEXT,
	deleted_at     REAL DEFAULT NULL
);
CREATE INDEX IF NOT EXISTS idx_memories_content_hash ON memories(content_hash);
CREATE INDEX IF NOT EXISTS idx_memories_created_at ON memories(created_at);
CREATE INDEX IF NOT EXISTS idx_memories_memory_type ON memories(memory_type);

CREATE TABLE IF NOT EXISTS metadata (
	key   TEXT PRIMARY KEY,
	value TEXT NOT NULL
);
`

const graphSchema = `
CREATE TABLE IF NOT EXISTS memory_graph (
	source_hash      TEXT NOT NULL,
	target_hash      TEXT NOT NULL,
	similarity       REAL NOT NULL,
	connection_types TEXT NOT NULL,
	metadata         TEXT,
	created_at       REAL NOT NULL,
	PRIMARY KEY (source_hash, target_hash)
);
CREATE INDEX IF NOT EXISTS idx_graph_source ON memory_graph(source_hash);
CREATE INDEX IF NOT EXISTS idx_graph_target ON memory_graph(target_hash);
`

// One live row per hash. Tombstones may share a hash with a live row.
const liveHashIndex = `CREATE UNIQUE INDEX IF NOT EXISTS idx_memories_live_hash
	ON memories(content_hash) WHERE deleted_at IS NULL`

var ftsSchema = []string{
	`CREATE VIRTUAL TABLE IF NOT EXISTS memory_content_fts USING fts5(
		content,
		content='memories',
		content_rowid='id',
		tokenize='trigram'
	)`,
	`CREATE TRIGGER IF NOT EXISTS memories_fts_ai AFTER INSERT ON memories
		WHEN new.deleted_at IS NULL
	BEGIN
		INSERT INTO memory_content_fts(rowid, content) VALUES (new.id, new.content);
	END`,
	`CREATE TRIGGER IF NOT EXISTS memories_fts_ad AFTER DELETE ON memories
		WHEN old.deleted_at IS NULL
	BEGIN
		INSERT INTO memory_content_fts(memory_content_fts, rowid, content) VALUES ('delete', old.id, old.content);
	END`,
	// Covers content edits, soft-deletes and the rare un-delete.
	`CREATE TRIGGER IF NOT EXISTS memories_fts_au AFTER UPDATE OF content, deleted_at ON memories
	BEGIN
		INSERT INTO memory_content_fts(memory_content_fts, rowid, content)
			SELECT 'delete', old.id, old.content WHERE old.deleted_at IS NULL;
		INSERT INTO memory_content_fts(rowid, content)
			SELECT new.id, new.content WHERE new.deleted_at IS NULL;
	END`,
}

func vectorTableSQL(dims int) string {
	return fmt.Sprintf(`CREATE VIRTUAL TABLE IF NOT EXISTS memory_embeddings USING vec0(
		content_embedding FLOAT[%d] distance_metric=cosine
	)`, dims)
}

func (s *SQLiteStore) migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, baseSchema); err != nil {
		return fmt.Errorf("base schema: %w", err)
	}

	// Databases created before soft-delete existed.
	if err := s.addColumn(ctx, "memories", "deleted_at REAL DEFAULT NULL"); err != nil {
		return err
	}
	if _, err := s.db.ExecContext(ctx, `CREATE INDEX IF NOT EXISTS idx_memories_deleted_at ON memories(deleted_at)`); err != nil {
		return fmt.Errorf("deleted_at index: %w", err)
	}

	if err := s.ensureVectorTable(ctx); err != nil {
		return err
	}
	if err := s.ensureFTS(ctx); err != nil {
		return err
	}
	if err := s.ensureLiveHashIndex(ctx); err != nil {
		return err
	}

	if _, err := s.db.ExecContext(ctx, graphSchema); err != nil {
		return fmt.Errorf("graph schema: %w", err)
	}
	return s.addColumn(ctx, "memory_graph", "metadata TEXT")
}

// addColumn adds a column, treating an existing one as already migrated.
func (s *SQLiteStore) addColumn(ctx context.Context, table, def string) error {
	_, err := s.db.ExecContext(ctx, fmt.Sprintf("ALTER TABLE %s ADD COLUMN %s", table, def))
	if err == nil {
		logging.Infof("migrated %s: added column %s", table, def)
		return nil
	}
	if alreadyApplied(err) {
		logging.Debugf("migration skipped, %s.%s already present", table, strings.Fields(def)[0])
		return nil
	}
	return fmt.Errorf("add column %s.%s: %w", table, def, err)
}

func alreadyApplied(err error) bool {
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "duplicate column") || strings.Contains(msg, "already exists")
}

func getMeta(ctx context.Context, q querier, key string) (string, bool, error) {
	var v string
	err := q.QueryRowContext(ctx, `SELECT value FROM metadata WHERE key = ?`, key).Scan(&v)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return v, true, nil
}

func setMeta(ctx context.Context, q querier, key, value string) error {
	_, err := q.ExecContext(ctx,
		`INSERT INTO metadata (key, value) VALUES (?, ?)
		 ON CONFLICT(key) DO UPDATE SET value = excluded.value`, key, value)
	return err
}

func tableSQL(ctx context.Context, q querier, name string) (string, bool, error) {
	var text sql.NullString
	err := q.QueryRowContext(ctx, `SELECT sql FROM sqlite_master WHERE name = ?`, name).Scan(&text)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return text.String, true, nil
}

var vecDimsPattern = regexp.MustCompile(`(?i)float\s*\[\s*(\d+)\s*\]`)

// pinnedDims extracts the dimension from a vec0 CREATE statement.
func pinnedDims(createSQL string) int {
	m := vecDimsPattern.FindStringSubmatch(createSQL)
	if m == nil {
		return 0
	}
	n, _ := strconv.Atoi(m[1])
	return n
}

// ensureVectorTable creates the vector index, or migrates an index that
// predates the cosine metric by rebuilding it from the live rows.
func (s *SQLiteStore) ensureVectorTable(ctx context.Context) error {
	want := s.emb.Dims()
	createSQL, exists, err := tableSQL(ctx, s.db, "memory_embeddings")
	if err != nil {
		return fmt.Errorf("inspect vector table: %w", err)
	}
	metric, _, err := getMeta(ctx, s.db, "distance_metric")
	if err != nil {
		return fmt.Errorf("read distance metric: %w", err)
	}

	switch {
	case !exists:
		if err := s.recreateVectorTable(ctx, want); err != nil {
			return fmt.Errorf("create vector table: %w", err)
		}
		s.dims = want
		s.reembedLive(ctx)

	case metric != "cosine":
		s.dims = pinnedDims(createSQL)
		logging.Warnf("vector index predates cosine distance, rebuilding it")
		if err := s.recreateVectorTable(ctx, want); err != nil {
			logging.Warnf("distance metric migration failed, keeping the existing index: %v", err)
			break
		}
		s.dims = want
		s.reembedLive(ctx)

	default:
		s.dims = pinnedDims(createSQL)
		if s.dims == 0 {
			return fmt.Errorf("cannot read dimension from vector table definition %q", createSQL)
		}
		if s.dims != want {
			logging.Warnf("vector index is pinned at %d dimensions but %s produces %d; writes will be rejected",
				s.dims, s.emb.Name(), want)
		}
	}
	return nil
}

// recreateVectorTable drops and recreates the vector index with the cosine
// metric and records the fact, retrying on lock contention.
func (s *SQLiteStore) recreateVectorTable(ctx context.Context, dims int) error {
	_, err := inTx(ctx, s, "migrate_vector_table", func(tx *sql.Tx) (struct{}, error) {
		if _, err := tx.ExecContext(ctx, `DROP TABLE IF EXISTS memory_embeddings`); err != nil {
			return struct{}{}, err
		}
		if _, err := tx.ExecContext(ctx, vectorTableSQL(dims)); err != nil {
			return struct{}{}, err
		}
		for k, v := range map[string]string{
			"distance_metric":     "cosine",
			"embedding_dimension": strconv.Itoa(dims),
			"embedding_model":     s.emb.Name(),
		} {
			if err := setMeta(ctx, tx, k, v); err != nil {
				return struct{}{}, err
			}
		}
		return struct{}{}, nil
	})
	return err
}

const reembedBatch = 64

// reembedLive regenerates embeddings for every live memory. Failures are
// logged; the rows stay stored and can be re-indexed on a later open.
func (s *SQLiteStore) reembedLive(ctx context.Context) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, content FROM memories WHERE deleted_at IS NULL ORDER BY id`)
	if err != nil {
		logging.Warnf("re-embed: list memories: %v", err)
		return
	}
	var (
		ids      []int64
		contents []string
	)
	for rows.Next() {
		var id int64
		var content string
		if err := rows.Scan(&id, &content); err != nil {
			rows.Close()
			logging.Warnf("re-embed: scan: %v", err)
			return
		}
		ids = append(ids, id)
		contents = append(contents, content)
	}
	rows.Close()
	if len(ids) == 0 {
		return
	}

	done := 0
	for start := 0; start < len(ids); start += reembedBatch {
		end := min(start+reembedBatch, len(ids))
		vecs, err := s.embedTexts(ctx, contents[start:end])
		if err != nil {
			logging.Warnf("re-embed: %v", err)
			return
		}
		_, err = inTx(ctx, s, "reembed", func(tx *sql.Tx) (struct{}, error) {
			for i, v := range vecs {
				if err := s.putEmbedding(ctx, tx, ids[start+i], v); err != nil {
					return struct{}{}, err
				}
			}
			return struct{}{}, nil
		})
		if err != nil {
			logging.Warnf("re-embed: write batch: %v", err)
			return
		}
		done += len(vecs)
	}
	logging.Infof("re-embedded %d memories into the vector index", done)
}

// ensureFTS creates the keyword index and its triggers, then backfills it
// once if it is empty while live memories exist.
func (s *SQLiteStore) ensureFTS(ctx context.Context) error {
	for _, stmt := range ftsSchema {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			if strings.Contains(err.Error(), "no such module") {
				logging.Warnf("fts5 unavailable (build with -tags sqlite_fts5), keyword search falls back to LIKE: %v", err)
				s.ftsAvailable = false
				return nil
			}
			return fmt.Errorf("fts schema: %w", err)
		}
	}
	s.ftsAvailable = true

	var indexed, live int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM memory_content_fts_docsize`).Scan(&indexed); err != nil {
		return fmt.Errorf("count fts rows: %w", err)
	}
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM memories WHERE deleted_at IS NULL`).Scan(&live); err != nil {
		return fmt.Errorf("count memories: %w", err)
	}
	if indexed > 0 || live == 0 {
		return nil
	}

	res, err := s.db.ExecContext(ctx,
		`INSERT INTO memory_content_fts(rowid, content) SELECT id, content FROM memories WHERE deleted_at IS NULL`)
	if err != nil {
		return fmt.Errorf("backfill fts: %w", err)
	}
	n, _ := res.RowsAffected()
	logging.Infof("backfilled keyword index with %d memories", n)
	return nil
}

// ensureLiveHashIndex enforces one live row per hash. Legacy databases that
// already hold live duplicates are cleaned first.
func (s *SQLiteStore) ensureLiveHashIndex(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, liveHashIndex)
	if err == nil {
		return nil
	}
	if !strings.Contains(err.Error(), "UNIQUE constraint failed") {
		return fmt.Errorf("live hash index: %w", err)
	}
	n, cerr := s.CleanupDuplicates(ctx)
	if cerr != nil {
		return fmt.Errorf("clean duplicates before indexing: %w", cerr)
	}
	logging.Warnf("soft-deleted %d duplicate live rows before indexing content_hash", n)
	if _, err := s.db.ExecContext(ctx, liveHashIndex); err != nil {
		return fmt.Errorf("live hash index: %w", err)
	}
	return nil
}
