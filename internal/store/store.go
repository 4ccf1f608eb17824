// Package store provides the memory storage interface and its SQLite-vec
// implementation.
package store

import (
	"context"
	"time"

	"github.com/rcliao/memory-service/internal/model"
)

// TagMatch selects how multiple tags combine in a filter.
type TagMatch int

const (
	// MatchAny returns memories carrying at least one of the tags.
	MatchAny TagMatch = iota
	// MatchAll returns memories carrying every tag.
	MatchAll
)

// ParseTagMatch parses "any"/"or" and "all"/"and".
func ParseTagMatch(s string) (TagMatch, bool) {
	switch s {
	case "", "any", "or", "OR":
		return MatchAny, true
	case "all", "and", "AND":
		return MatchAll, true
	}
	return MatchAny, false
}

// ListParams holds parameters for listing memories.
type ListParams struct {
	Limit      int
	Offset     int
	MemoryType string
	Tags       []string
}

// TimeRange bounds a query by created_at. Nil ends are open. Bounds are inclusive.
type TimeRange struct {
	Start *time.Time
	End   *time.Time
}

// MetadataUpdate is a partial update of a memory's mutable fields.
// Nil fields are left unchanged. Metadata keys are merged into the existing map.
type MetadataUpdate struct {
	ContentHash string
	Tags        []string
	MemoryType  *string
	Metadata    map[string]any
	// CreatedAt and UpdatedAt are only honoured when timestamps are not preserved.
	CreatedAt *float64
	UpdatedAt *float64
}

// DeleteResult reports a bulk soft-delete.
type DeleteResult struct {
	Count   int      `json:"count"`
	Message string   `json:"message"`
	Hashes  []string `json:"deleted_hashes"`
}

// TagCount is one entry of GetAllTagsWithCounts.
type TagCount struct {
	Tag   string `json:"tag"`
	Count int    `json:"count"`
}

// Store defines the memory storage interface shared by every backend.
type Store interface {
	// Writes.
	Store(ctx context.Context, m *model.Memory, skipSemanticDedup bool) (Result, error)
	StoreBatch(ctx context.Context, ms []*model.Memory, skipSemanticDedup bool) ([]Result, error)
	Delete(ctx context.Context, hash string) (Result, error)
	IsDeleted(ctx context.Context, hash string) (bool, error)
	PurgeDeleted(ctx context.Context, olderThanDays int) (int, error)
	DeleteByTag(ctx context.Context, tag string) (DeleteResult, error)
	DeleteByTags(ctx context.Context, tags []string) (DeleteResult, error)
	DeleteByTimeframe(ctx context.Context, start, end time.Time, tag string) (DeleteResult, error)
	DeleteBeforeDate(ctx context.Context, before time.Time, tag string) (DeleteResult, error)
	CleanupDuplicates(ctx context.Context) (int, error)
	UpdateMemoryMetadata(ctx context.Context, hash string, u MetadataUpdate, preserveTimestamps bool) (Result, error)
	UpdateMemoriesBatch(ctx context.Context, updates []MetadataUpdate, preserveTimestamps bool) ([]Result, error)

	// Retrieval.
	Retrieve(ctx context.Context, query string, n int, tags []string) ([]model.QueryResult, error)
	RetrieveHybrid(ctx context.Context, query string, n int, keywordWeight, semanticWeight float64) ([]model.QueryResult, error)
	KeywordSearch(ctx context.Context, query string, n int) ([]model.QueryResult, error)
	Recall(ctx context.Context, query string, n int, r TimeRange) ([]model.QueryResult, error)
	SearchByTag(ctx context.Context, tags []string) ([]model.Memory, error)
	SearchByTags(ctx context.Context, tags []string, match TagMatch, r TimeRange) ([]model.Memory, error)
	SearchByTagChronological(ctx context.Context, tags []string, limit, offset int) ([]model.Memory, error)
	GetAllMemories(ctx context.Context, p ListParams) ([]model.Memory, error)
	CountAllMemories(ctx context.Context, memoryType string, tags []string) (int, error)
	GetRecentMemories(ctx context.Context, n int) ([]model.Memory, error)
	GetByHash(ctx context.Context, hash string) (*model.Memory, error)
	GetByExactContent(ctx context.Context, content string) ([]model.Memory, error)
	GetAllContentHashes(ctx context.Context, includeDeleted bool) ([]string, error)
	GetMemoriesByTimeRange(ctx context.Context, start, end time.Time) ([]model.Memory, error)
	GetAllTagsWithCounts(ctx context.Context) ([]TagCount, error)

	// Association graph.
	StoreAssociation(ctx context.Context, a model.Association) error
	GetAssociation(ctx context.Context, source, target string) (*model.Association, error)
	DeleteAssociation(ctx context.Context, source, target string) (bool, error)
	GetAssociationCount(ctx context.Context) (int, error)
	FindConnected(ctx context.Context, hash string, maxHops int) ([]model.Connection, error)
	ShortestPath(ctx context.Context, source, target string, maxDepth int) ([]string, error)
	GetSubgraph(ctx context.Context, hash string, radius int) (*model.Subgraph, error)

	// Lifecycle and tooling.
	Context(ctx context.Context, p ContextParams) (*ContextResult, error)
	ExportAll(ctx context.Context) ([]model.Memory, error)
	Import(ctx context.Context, memories []model.Memory) ([]Result, error)
	GetStats(ctx context.Context) (*Stats, error)
	Close() error
}
