package store

import (
	"context"
	"math"
	"sort"
	"time"

	"github.com/rcliao/memory-service/internal/model"
)

// ContextParams holds parameters for context assembly.
type ContextParams struct {
	Query string
	Tags  []string
	// Budget is in tokens; one token is roughly four characters.
	Budget int
	// Candidates bounds how many memories are scored.
	Candidates int
}

// ContextMemory is a scored memory for context output.
type ContextMemory struct {
	ContentHash string   `json:"content_hash"`
	MemoryType  string   `json:"memory_type,omitempty"`
	Tags        []string `json:"tags,omitempty"`
	Content     string   `json:"content"`
	Score       float64  `json:"score"`
	Excerpt     bool     `json:"excerpt,omitempty"`
}

// ContextResult is the assembled context response.
type ContextResult struct {
	Budget   int             `json:"budget"`
	Used     int             `json:"used"`
	Memories []ContextMemory `json:"memories"`
}

const (
	defaultContextBudget     = 4000
	defaultContextCandidates = 50
	minExcerptChars          = 100
)

// Context assembles the most useful memories for query into a token budget.
// Candidates come from hybrid retrieval (or recency without a query) and are
// scored on relevance, recency and access frequency, then packed greedily.
func (s *SQLiteStore) Context(ctx context.Context, p ContextParams) (*ContextResult, error) {
	budget := p.Budget
	if budget <= 0 {
		budget = defaultContextBudget
	}
	charBudget := budget * 4
	n := p.Candidates
	if n <= 0 {
		n = defaultContextCandidates
	}

	var candidates []model.QueryResult
	var err error
	switch {
	case p.Query == "" && len(p.Tags) == 0:
		var recent []model.Memory
		recent, err = s.GetRecentMemories(ctx, n)
		for _, m := range recent {
			candidates = append(candidates, model.QueryResult{Memory: m, RelevanceScore: 1})
		}
	case p.Query == "":
		var tagged []model.Memory
		tagged, err = s.SearchByTagChronological(ctx, p.Tags, n, 0)
		for _, m := range tagged {
			candidates = append(candidates, model.QueryResult{Memory: m, RelevanceScore: 1})
		}
	case len(p.Tags) > 0:
		candidates, err = s.Retrieve(ctx, p.Query, n, p.Tags)
	default:
		candidates, err = s.RetrieveHybrid(ctx, p.Query, n, 0, 0)
	}
	if err != nil {
		return nil, err
	}

	result := &ContextResult{Budget: budget, Memories: []ContextMemory{}}
	if len(candidates) == 0 {
		return result, nil
	}

	type scored struct {
		memory model.Memory
		score  float64
	}
	now := time.Now()
	ranked := make([]scored, 0, len(candidates))
	for _, c := range candidates {
		m := c.Memory
		ageDays := now.Sub(m.Created()).Hours() / 24
		recency := math.Exp(-0.1 * math.Max(ageDays, 0))

		accessFreq := 0.0
		if count := asInt(m.Metadata["access_count"]); count > 0 {
			accessFreq = math.Min(1, math.Log(float64(count)+1)/math.Log(100))
		}

		score := c.RelevanceScore*0.6 + recency*0.25 + accessFreq*0.15
		ranked = append(ranked, scored{memory: m, score: score})
	}
	sort.SliceStable(ranked, func(i, j int) bool {
		return ranked[i].score > ranked[j].score
	})

	used := 0
	for _, c := range ranked {
		entry := ContextMemory{
			ContentHash: c.memory.ContentHash,
			MemoryType:  c.memory.MemoryType,
			Tags:        c.memory.Tags,
			Content:     c.memory.Content,
			Score:       math.Round(c.score*100) / 100,
		}
		if used+len(entry.Content) <= charBudget {
			result.Memories = append(result.Memories, entry)
			used += len(entry.Content)
			continue
		}
		if remaining := charBudget - used; remaining >= minExcerptChars {
			entry.Content = truncateRunes(entry.Content, remaining) + "..."
			entry.Excerpt = true
			result.Memories = append(result.Memories, entry)
			used += len(entry.Content)
		}
		break
	}

	result.Used = used / 4
	return result, nil
}

// truncateRunes cuts s to at most n bytes without splitting a rune.
func truncateRunes(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !isRuneStart(s[n]) {
		n--
	}
	return s[:n]
}

func isRuneStart(b byte) bool {
	return b&0xC0 != 0x80
}
