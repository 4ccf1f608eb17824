package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"sync"
	"time"

	sqlite_vec "github.com/asg017/sqlite-vec-go-bindings/cgo"
	"github.com/mattn/go-sqlite3"

	"github.com/rcliao/memory-service/internal/embedding"
	"github.com/rcliao/memory-service/internal/logging"
	"github.com/rcliao/memory-service/internal/metrics"
	"github.com/rcliao/memory-service/internal/model"
)

func init() {
	sqlite_vec.Auto()
}

// Options configures a SQLiteStore.
type Options struct {
	Path string
	// Pragmas overrides the per-connection defaults, e.g. "busy_timeout=10000,cache_size=20000".
	Pragmas      string
	MaxOpenConns int

	Embedder   embedding.Embedder
	QueryCache *embedding.QueryCache

	SemanticDedup  bool
	DedupWindow    time.Duration
	DedupThreshold float64

	KeywordWeight  float64
	SemanticWeight float64

	Retry   RetryPolicy
	Metrics *metrics.Metrics
}

func (o *Options) setDefaults() {
	if o.MaxOpenConns <= 0 {
		o.MaxOpenConns = 4
	}
	if o.DedupWindow <= 0 {
		o.DedupWindow = 24 * time.Hour
	}
	if o.DedupThreshold <= 0 {
		o.DedupThreshold = 0.85
	}
	if o.KeywordWeight == 0 && o.SemanticWeight == 0 {
		o.KeywordWeight, o.SemanticWeight = 0.3, 0.7
	}
	if o.Retry.MaxAttempts <= 0 {
		o.Retry = DefaultRetryPolicy()
	}
}

// SQLiteStore implements Store on SQLite with the sqlite-vec vector index
// and an FTS5 keyword index.
type SQLiteStore struct {
	db      *sql.DB
	path    string
	opts    Options
	emb     embedding.Embedder
	cache   *embedding.QueryCache
	metrics *metrics.Metrics

	// dims is the dimension pinned by the vector table.
	dims         int
	ftsAvailable bool
}

var _ Store = (*SQLiteStore)(nil)

// NewSQLiteStore opens or creates the database at opts.Path, applies
// migrations and verifies the vector extension.
func NewSQLiteStore(ctx context.Context, opts Options) (*SQLiteStore, error) {
	opts.setDefaults()
	if opts.Embedder == nil {
		return nil, fmt.Errorf("%w: no embedder configured", ErrEmbeddingUnavailable)
	}
	if opts.Embedder.Dims() <= 0 {
		return nil, fmt.Errorf("%w: %s reports no dimension", ErrEmbeddingUnavailable, opts.Embedder.Name())
	}

	dir := filepath.Dir(opts.Path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create db dir: %w", err)
	}

	pragmas, err := parsePragmas(opts.Pragmas)
	if err != nil {
		return nil, err
	}
	driver, err := driverFor(pragmas)
	if err != nil {
		return nil, err
	}

	db, err := sql.Open(driver, opts.Path+"?_txlock=immediate")
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	db.SetMaxOpenConns(opts.MaxOpenConns)
	db.SetMaxIdleConns(opts.MaxOpenConns)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		if strings.Contains(err.Error(), "CGO_ENABLED=0") {
			return nil, fmt.Errorf("%w: rebuild with CGO_ENABLED=1 and a C toolchain: %v", ErrExtensionUnsupported, err)
		}
		return nil, fmt.Errorf("%w: open %s: %v", ErrStorageUnavailable, opts.Path, err)
	}

	var vecVersion string
	if err := db.QueryRowContext(ctx, `SELECT vec_version()`).Scan(&vecVersion); err != nil {
		db.Close()
		return nil, fmt.Errorf("%w: %v (check that sqlite-vec was linked into this binary)", ErrExtensionLoad, err)
	}

	s := &SQLiteStore{
		db:      db,
		path:    opts.Path,
		opts:    opts,
		emb:     opts.Embedder,
		cache:   opts.QueryCache,
		metrics: opts.Metrics,
	}

	if err := s.migrate(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}

	logging.Debugf("opened %s (sqlite-vec %s, dims %d, fts %t)", opts.Path, vecVersion, s.dims, s.ftsAvailable)
	return s, nil
}

// Close closes the database.
func (s *SQLiteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Path returns the database file path.
func (s *SQLiteStore) Path() string {
	return s.path
}

// Dims returns the pinned embedding dimension.
func (s *SQLiteStore) Dims() int {
	return s.dims
}

var defaultPragmas = map[string]string{
	"busy_timeout": "5000",
	"journal_mode": "WAL",
	"synchronous":  "NORMAL",
	"temp_store":   "MEMORY",
	"cache_size":   "10000",
}

// busy_timeout goes first so the journal_mode switch can wait for a lock.
var pragmaOrder = []string{"busy_timeout", "journal_mode", "synchronous", "temp_store"}

var (
	pragmaKey   = regexp.MustCompile(`^[a-z_]+$`)
	pragmaValue = regexp.MustCompile(`^-?[A-Za-z0-9_]+$`)
)

// parsePragmas overlays a "k=v,k=v" string on the defaults and returns the
// statements in application order.
func parsePragmas(overrides string) ([]string, error) {
	merged := map[string]string{}
	for k, v := range defaultPragmas {
		merged[k] = v
	}
	for _, part := range strings.Split(overrides, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		k, v, found := strings.Cut(part, "=")
		k = strings.ToLower(strings.TrimSpace(k))
		v = strings.TrimSpace(v)
		if !found || !pragmaKey.MatchString(k) || !pragmaValue.MatchString(v) {
			return nil, fmt.Errorf("%w: pragma %q", ErrValidation, part)
		}
		merged[k] = v
	}

	var keys []string
	for _, k := range pragmaOrder {
		if _, ok := merged[k]; ok {
			keys = append(keys, k)
		}
	}
	var rest []string
	for k := range merged {
		if !contains(pragmaOrder, k) {
			rest = append(rest, k)
		}
	}
	sort.Strings(rest)
	keys = append(keys, rest...)

	out := make([]string, 0, len(keys))
	for _, k := range keys {
		out = append(out, fmt.Sprintf("PRAGMA %s = %s", k, merged[k]))
	}
	return out, nil
}

var (
	driversMu sync.Mutex
	drivers   = map[string]string{}
)

// driverFor registers, once per distinct pragma set, a sqlite3 driver whose
// ConnectHook applies the pragmas to every new connection.
func driverFor(pragmas []string) (string, error) {
	key := strings.Join(pragmas, ";")

	driversMu.Lock()
	defer driversMu.Unlock()
	if name, ok := drivers[key]; ok {
		return name, nil
	}
	name := fmt.Sprintf("sqlite3_memory_service_%d", len(drivers))
	stmts := append([]string(nil), pragmas...)
	sql.Register(name, &sqlite3.SQLiteDriver{
		ConnectHook: func(conn *sqlite3.SQLiteConn) error {
			for _, stmt := range stmts {
				if _, err := conn.Exec(stmt, nil); err != nil {
					return fmt.Errorf("%s: %w", stmt, err)
				}
			}
			return nil
		},
	})
	drivers[key] = name
	return name, nil
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

// querier is satisfied by *sql.DB and *sql.Tx.
type querier interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

const memoryColumns = `m.id, m.content_hash, m.content, m.tags, m.memory_type, m.metadata,
	m.created_at, m.updated_at, m.created_at_iso, m.updated_at_iso, m.deleted_at`

type scanner interface {
	Scan(dest ...any) error
}

// scanMemory reads memoryColumns followed by any extra destinations.
func scanMemory(row scanner, extra ...any) (int64, model.Memory, error) {
	var (
		m                      model.Memory
		id                     int64
		tags, memType, meta    sql.NullString
		createdISO, updatedISO sql.NullString
		deletedAt              sql.NullFloat64
	)
	dest := append([]any{
		&id, &m.ContentHash, &m.Content, &tags, &memType, &meta,
		&m.CreatedAt, &m.UpdatedAt, &createdISO, &updatedISO, &deletedAt,
	}, extra...)
	if err := row.Scan(dest...); err != nil {
		return 0, m, err
	}

	m.Tags = model.SplitTags(tags.String)
	m.MemoryType = memType.String
	m.CreatedAtISO = createdISO.String
	m.UpdatedAtISO = updatedISO.String
	if deletedAt.Valid {
		d := deletedAt.Float64
		m.DeletedAt = &d
	}
	if meta.Valid && meta.String != "" {
		if err := json.Unmarshal([]byte(meta.String), &m.Metadata); err != nil {
			logging.Warnf("memory %s has unreadable metadata: %v", shortHash(m.ContentHash), err)
		}
	}
	return id, m, nil
}

func queryMemories(ctx context.Context, q querier, query string, args ...any) ([]model.Memory, error) {
	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var memories []model.Memory
	for rows.Next() {
		_, m, err := scanMemory(rows)
		if err != nil {
			return nil, err
		}
		memories = append(memories, m)
	}
	return memories, rows.Err()
}

func encodeMetadata(meta map[string]any) (string, error) {
	if len(meta) == 0 {
		return "{}", nil
	}
	b, err := json.Marshal(meta)
	if err != nil {
		return "", fmt.Errorf("%w: metadata is not JSON-serializable: %v", ErrValidation, err)
	}
	return string(b), nil
}

func shortHash(h string) string {
	if len(h) > 12 {
		return h[:12]
	}
	return h
}

// observe records an operation outcome derived from its result and error.
func (s *SQLiteStore) observe(op string, start time.Time, success bool, err error) {
	outcome := metrics.OutcomeSuccess
	switch {
	case err != nil:
		outcome = metrics.OutcomeError
	case !success:
		outcome = metrics.OutcomeRejected
	}
	s.metrics.Observe(op, outcome, start)
}
