package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rcliao/memory-service/internal/embedding"
	"github.com/rcliao/memory-service/internal/model"
)

func storeAt(t *testing.T, s *SQLiteStore, content string, at time.Time, tags ...string) string {
	t.Helper()
	m := model.New(content, tags, "note", nil)
	m.CreatedAt = model.Unix(at)
	res, err := s.Store(context.Background(), m, true)
	require.NoError(t, err)
	require.True(t, res.Success, res.Message)
	return res.ContentHash
}

func hashesOf(results []model.QueryResult) []string {
	out := make([]string, len(results))
	for i, r := range results {
		out[i] = r.Memory.ContentHash
	}
	return out
}

func memoryHashes(ms []model.Memory) []string {
	out := make([]string, len(ms))
	for i, m := range ms {
		out[i] = m.ContentHash
	}
	return out
}

func TestStoreRetrieveDeleteScenario(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	sky := mustStore(t, s, "The sky is blue")
	roses := mustStore(t, s, "Roses are red")

	results, err := s.Retrieve(ctx, "sky color", 5, nil)
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, sky, results[0].Memory.ContentHash)
	assert.Greater(t, results[0].RelevanceScore, results[1].RelevanceScore)
	for _, r := range results {
		assert.GreaterOrEqual(t, r.RelevanceScore, 0.0)
		assert.LessOrEqual(t, r.RelevanceScore, 1.0)
		require.NotNil(t, r.Distance)
		assert.InDelta(t, 1-*r.Distance/2, r.RelevanceScore, 1e-9)
	}

	_, err = s.Delete(ctx, sky)
	require.NoError(t, err)

	results, err = s.Retrieve(ctx, "sky color", 5, nil)
	require.NoError(t, err)
	assert.Equal(t, []string{roses}, hashesOf(results))
}

func TestRetrieveDefaultsAndClamp(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	for _, c := range []string{"alpha", "bravo", "charlie", "delta", "echo", "foxtrot", "golf"} {
		mustStore(t, s, c)
	}

	results, err := s.Retrieve(ctx, "alpha", 0, nil)
	require.NoError(t, err)
	assert.Len(t, results, defaultResults)

	results, err = s.Retrieve(ctx, "alpha", 100000, nil)
	require.NoError(t, err, "oversized n is clamped, not rejected")
	assert.Len(t, results, 7)
	assert.Equal(t, model.ContentHash("alpha"), results[0].Memory.ContentHash)
}

func TestRetrieveWithTags(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	work := mustStore(t, s, "Quarterly planning meeting agenda", "work")
	mustStore(t, s, "Planning a beach holiday", "personal")

	results, err := s.Retrieve(ctx, "planning", 5, []string{"work"})
	require.NoError(t, err)
	assert.Equal(t, []string{work}, hashesOf(results))

	results, err = s.Retrieve(ctx, "planning", 5, []string{" ", ""})
	require.NoError(t, err)
	assert.Empty(t, results, "a tag list with no usable tags matches nothing")

	results, err = s.Retrieve(ctx, "planning", 5, []string{})
	require.NoError(t, err)
	assert.Len(t, results, 2, "an empty tag list does not filter")
}

func TestRetrieveRecordsAccess(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	h := mustStore(t, s, "Espresso grind setting is twelve")

	before, err := s.GetByHash(ctx, h)
	require.NoError(t, err)

	results, err := s.Retrieve(ctx, "espresso grind", 1, nil)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.EqualValues(t, 1, results[0].Memory.Metadata["access_count"])

	_, err = s.Retrieve(ctx, "coffee", 1, nil)
	require.NoError(t, err)

	after, err := s.GetByHash(ctx, h)
	require.NoError(t, err)
	assert.EqualValues(t, 2, after.Metadata["access_count"])
	assert.Greater(t, after.UpdatedAt, before.UpdatedAt)
	recent, ok := after.Metadata["recent_queries"].([]any)
	require.True(t, ok)
	require.Len(t, recent, 2)
	assert.Equal(t, "coffee", recent[1].(map[string]any)["query"])
}

func TestRecordAccessSkipsUnreadableMetadata(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	h := mustStore(t, s, "Bike lock combination is 2719")
	_, err := s.db.Exec(`UPDATE memories SET metadata = '{broken' WHERE content_hash = ?`, h)
	require.NoError(t, err)

	results, err := s.Retrieve(ctx, "bike lock", 1, nil)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Nil(t, results[0].Memory.Metadata["access_count"])

	var raw string
	require.NoError(t, s.db.QueryRow(`SELECT metadata FROM memories WHERE content_hash = ?`, h).Scan(&raw))
	assert.Equal(t, "{broken", raw, "unreadable metadata is left for inspection")
}

func TestTouchAccessCapsRecentQueries(t *testing.T) {
	var meta map[string]any
	for i := 0; i < maxRecentQueries+5; i++ {
		meta = touchAccess(meta, "q", float64(i))
	}
	assert.Equal(t, maxRecentQueries+5, asInt(meta["access_count"]))
	assert.Len(t, meta["recent_queries"], maxRecentQueries)

	meta = touchAccess(map[string]any{"keep": "me"}, "", 1)
	assert.Equal(t, "me", meta["keep"])
	assert.NotContains(t, meta, "recent_queries")
}

func TestQueryCacheAvoidsReembedding(t *testing.T) {
	ctx := context.Background()
	emb := countingEmbedder()
	cache, err := embedding.NewQueryCache(1 << 20)
	require.NoError(t, err)
	t.Cleanup(cache.Close)
	s := newTestStore(t, func(o *Options) {
		o.Embedder = emb
		o.QueryCache = cache
	})
	mustStore(t, s, "Cached query target")
	emb.calls = 0

	for i := 0; i < 3; i++ {
		_, err := s.Retrieve(ctx, "cached target", 1, nil)
		require.NoError(t, err)
		time.Sleep(10 * time.Millisecond)
	}
	assert.LessOrEqual(t, emb.calls, 2)
}

func TestKeywordSearch(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	k8s := mustStore(t, s, "Kubernetes cluster upgrade notes")
	mustStore(t, s, "Garden tomato harvest schedule")

	hits, err := s.KeywordSearch(ctx, "kubernetes", 5)
	require.NoError(t, err)
	require.Equal(t, []string{k8s}, hashesOf(hits))
	require.NotNil(t, hits[0].KeywordScore)
	assert.Equal(t, hits[0].RelevanceScore, *hits[0].KeywordScore)
	assert.GreaterOrEqual(t, hits[0].RelevanceScore, 0.0)
	assert.LessOrEqual(t, hits[0].RelevanceScore, 1.0)

	for _, q := range []string{`"kube*" OR (NOT`, `cluster:upgrade`, `a b`, `***`, ``} {
		_, err := s.KeywordSearch(ctx, q, 5)
		assert.NoError(t, err, "query %q", q)
	}

	_, err = s.Delete(ctx, k8s)
	require.NoError(t, err)
	hits, err = s.KeywordSearch(ctx, "kubernetes", 5)
	require.NoError(t, err)
	assert.Empty(t, hits, "tombstones never match")
}

func TestSanitizeFTS(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"kubernetes upgrade", `"kubernetes" OR "upgrade"`},
		{`"quoted" (group) col:val`, `"quoted" OR "group" OR "col" OR "val"`},
		{"AND or NOT", `"AND" OR "NOT"`},
		{"go is ok", ""},
		{"Upgrade upgrade", `"Upgrade"`},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, sanitizeFTS(tt.in), tt.in)
	}
}

func TestNormalizeBM25(t *testing.T) {
	assert.Equal(t, 1.0, normalizeBM25(0))
	assert.Equal(t, 1.0, normalizeBM25(3))
	assert.InDelta(t, 0.5, normalizeBM25(-5), 1e-9)
	assert.Equal(t, 0.0, normalizeBM25(-40))
}

func TestRetrieveHybrid(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	k8s := mustStore(t, s, "Kubernetes cluster upgrade notes")
	garden := mustStore(t, s, "Garden tomato harvest schedule")

	results, err := s.RetrieveHybrid(ctx, "kubernetes upgrade", 5, 0.3, 0.7)
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, k8s, results[0].Memory.ContentHash)

	for _, r := range results {
		require.NotNil(t, r.KeywordScore)
		require.NotNil(t, r.SemanticScore)
		assert.InDelta(t, 0.3**r.KeywordScore+0.7**r.SemanticScore, r.RelevanceScore, 1e-9)
		if r.Memory.ContentHash == garden {
			assert.Zero(t, *r.KeywordScore, "no keyword match scores zero on that side")
		}
	}

	results, err = s.RetrieveHybrid(ctx, "kubernetes upgrade", 1, 0, 0)
	require.NoError(t, err)
	require.Len(t, results, 1)
	r := results[0]
	assert.InDelta(t, s.opts.KeywordWeight**r.KeywordScore+s.opts.SemanticWeight**r.SemanticScore, r.RelevanceScore, 1e-9)
}

func TestSearchByTags(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	now := time.Now()

	py := storeAt(t, s, "List comprehension tricks", now.Add(-3*time.Hour), "python", "tips")
	short := storeAt(t, s, "Pyenv install steps", now.Add(-2*time.Hour), "py")
	both := storeAt(t, s, "Type hints with mypy", now.Add(-time.Hour), "python", "typing")

	got, err := s.SearchByTag(ctx, []string{"py"})
	require.NoError(t, err)
	assert.Equal(t, []string{short}, memoryHashes(got), "tag matching is exact")

	got, err = s.SearchByTag(ctx, []string{"Python"})
	require.NoError(t, err)
	assert.Empty(t, got, "tag matching is case sensitive")

	got, err = s.SearchByTags(ctx, []string{"python"}, MatchAny, TimeRange{})
	require.NoError(t, err)
	assert.Equal(t, []string{both, py}, memoryHashes(got), "newest first")

	got, err = s.SearchByTags(ctx, []string{"python", "tips"}, MatchAll, TimeRange{})
	require.NoError(t, err)
	assert.Equal(t, []string{py}, memoryHashes(got))

	got, err = s.SearchByTags(ctx, []string{"tips", "typing"}, MatchAny, TimeRange{})
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{py, both}, memoryHashes(got))

	from := now.Add(-90 * time.Minute)
	got, err = s.SearchByTags(ctx, []string{"python"}, MatchAny, TimeRange{Start: &from})
	require.NoError(t, err)
	assert.Equal(t, []string{both}, memoryHashes(got))

	got, err = s.SearchByTag(ctx, nil)
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestParseTagMatch(t *testing.T) {
	m, ok := ParseTagMatch("")
	assert.True(t, ok)
	assert.Equal(t, MatchAny, m)
	m, ok = ParseTagMatch("all")
	assert.True(t, ok)
	assert.Equal(t, MatchAll, m)
	_, ok = ParseTagMatch("some")
	assert.False(t, ok)
}

func TestSearchByTagChronological(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	now := time.Now()

	var hashes []string
	for i, c := range []string{"first entry", "second entry", "third entry", "fourth entry", "fifth entry"} {
		hashes = append(hashes, storeAt(t, s, c, now.Add(time.Duration(i)*time.Minute), "log"))
	}
	mustStore(t, s, "untagged entry")

	page, err := s.SearchByTagChronological(ctx, []string{"log"}, 2, 0)
	require.NoError(t, err)
	assert.Equal(t, []string{hashes[4], hashes[3]}, memoryHashes(page))

	page, err = s.SearchByTagChronological(ctx, []string{"log"}, 2, 2)
	require.NoError(t, err)
	assert.Equal(t, []string{hashes[2], hashes[1]}, memoryHashes(page))

	page, err = s.SearchByTagChronological(ctx, []string{"log"}, 2, 4)
	require.NoError(t, err)
	assert.Equal(t, []string{hashes[0]}, memoryHashes(page))
}

func TestListAndCount(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	for _, c := range []string{"one apple", "two bananas", "three cherries"} {
		mustStore(t, s, c, "fruit")
	}
	res, err := s.Store(ctx, model.New("Sprint retro action items", []string{"work"}, "task", nil), false)
	require.NoError(t, err)
	require.True(t, res.Success)

	all, err := s.GetAllMemories(ctx, ListParams{})
	require.NoError(t, err)
	assert.Len(t, all, 4)

	page, err := s.GetAllMemories(ctx, ListParams{Limit: 2, Offset: 1})
	require.NoError(t, err)
	assert.Equal(t, memoryHashes(all[1:3]), memoryHashes(page))

	tasks, err := s.GetAllMemories(ctx, ListParams{MemoryType: "task"})
	require.NoError(t, err)
	assert.Equal(t, []string{res.ContentHash}, memoryHashes(tasks))

	n, err := s.CountAllMemories(ctx, "", []string{"fruit"})
	require.NoError(t, err)
	assert.Equal(t, 3, n)
	n, err = s.CountAllMemories(ctx, "note", nil)
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	recent, err := s.GetRecentMemories(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, []string{res.ContentHash}, memoryHashes(recent))
}

func TestRecall(t *testing.T) {
	ctx := context.Background()
	h := embedding.NewHashEmbedder(0)
	emb := &stubEmbedder{dims: h.Dims(), fn: func(text string) (embedding.Vector, error) {
		if text == "explode" {
			return nil, errors.New("provider down")
		}
		return embedding.EncodeOne(ctx, h, text)
	}}
	s := newTestStore(t, func(o *Options) { o.Embedder = emb })
	now := time.Now()

	lastWeek := storeAt(t, s, "Hiking trail near the lake", now.Add(-7*24*time.Hour))
	yesterday := storeAt(t, s, "Lake swimming was cold", now.Add(-24*time.Hour))
	today := storeAt(t, s, "Bought new running shoes", now.Add(-time.Hour))

	from := now.Add(-48 * time.Hour)
	results, err := s.Recall(ctx, "", 10, TimeRange{Start: &from})
	require.NoError(t, err)
	assert.Equal(t, []string{today, yesterday}, hashesOf(results))
	for _, r := range results {
		assert.Equal(t, 1.0, r.RelevanceScore)
	}

	results, err = s.Recall(ctx, "lake", 10, TimeRange{Start: &from})
	require.NoError(t, err)
	require.NotEmpty(t, results)
	assert.Equal(t, yesterday, results[0].Memory.ContentHash)
	assert.NotContains(t, hashesOf(results), lastWeek)

	to := now.Add(-3 * 24 * time.Hour)
	results, err = s.Recall(ctx, "lake", 10, TimeRange{End: &to})
	require.NoError(t, err)
	assert.Equal(t, []string{lastWeek}, hashesOf(results))

	results, err = s.Recall(ctx, "explode", 2, TimeRange{})
	require.NoError(t, err, "a failing semantic branch falls back to the time listing")
	assert.Equal(t, []string{today, yesterday}, hashesOf(results))
}

func TestTagsWithCounts(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	mustStore(t, s, "red apple", "fruit", "red")
	mustStore(t, s, "yellow banana", "fruit")
	gone := mustStore(t, s, "red brick", "red", "building")
	_, err := s.Delete(ctx, gone)
	require.NoError(t, err)

	tags, err := s.GetAllTagsWithCounts(ctx)
	require.NoError(t, err)
	assert.Equal(t, []TagCount{{Tag: "fruit", Count: 2}, {Tag: "red", Count: 1}}, tags)
}

func TestLookups(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	now := time.Now()

	old := storeAt(t, s, "Passport number lives in the safe", now.Add(-72*time.Hour))
	fresh := storeAt(t, s, "Spare key is under the mat", now.Add(-time.Hour))
	gone := mustStore(t, s, "Temporary note")
	_, err := s.Delete(ctx, gone)
	require.NoError(t, err)

	got, err := s.GetByExactContent(ctx, "Spare key is under the mat")
	require.NoError(t, err)
	assert.Equal(t, []string{fresh}, memoryHashes(got))
	got, err = s.GetByExactContent(ctx, "Temporary note")
	require.NoError(t, err)
	assert.Empty(t, got)

	live, err := s.GetAllContentHashes(ctx, false)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{old, fresh}, live)
	withDeleted, err := s.GetAllContentHashes(ctx, true)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{old, fresh, gone}, withDeleted)

	got, err = s.GetMemoriesByTimeRange(ctx, now.Add(-96*time.Hour), now.Add(-48*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, []string{old}, memoryHashes(got))

	_, err = s.GetByHash(ctx, "does-not-exist")
	assert.ErrorIs(t, err, ErrNotFound)
}
