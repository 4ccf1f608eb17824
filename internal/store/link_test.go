package store

import (
	"context"
	"fmt"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rcliao/memory-service/internal/model"
)

func link(t *testing.T, s *SQLiteStore, a, b string, types ...string) {
	t.Helper()
	require.NoError(t, s.StoreAssociation(context.Background(), model.Association{
		SourceHash: a, TargetHash: b, Similarity: 0.5, ConnectionTypes: types,
	}))
}

func TestStoreAssociationIsBidirectional(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	require.NoError(t, s.StoreAssociation(ctx, model.Association{
		SourceHash: "aaa", TargetHash: "bbb", Similarity: 0.8,
		ConnectionTypes: []string{"semantic", "temporal", "semantic"},
		Metadata:        map[string]any{"reason": "same project"},
	}))

	fwd, err := s.GetAssociation(ctx, "aaa", "bbb")
	require.NoError(t, err)
	rev, err := s.GetAssociation(ctx, "bbb", "aaa")
	require.NoError(t, err)
	assert.Equal(t, 0.8, fwd.Similarity)
	assert.Equal(t, []string{"semantic", "temporal"}, fwd.ConnectionTypes)
	assert.Equal(t, fwd.ConnectionTypes, rev.ConnectionTypes)
	assert.Equal(t, "same project", rev.Metadata["reason"])
	assert.Equal(t, fwd.CreatedAt, rev.CreatedAt)

	n, err := s.GetAssociationCount(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n, "both directions count as one logical edge")

	// Upsert replaces both directions.
	require.NoError(t, s.StoreAssociation(ctx, model.Association{SourceHash: "bbb", TargetHash: "aaa", Similarity: 0.2}))
	fwd, err = s.GetAssociation(ctx, "aaa", "bbb")
	require.NoError(t, err)
	assert.Equal(t, 0.2, fwd.Similarity)
	assert.Empty(t, fwd.ConnectionTypes)
	n, err = s.GetAssociationCount(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestStoreAssociationValidation(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	for name, a := range map[string]model.Association{
		"self loop":       {SourceHash: "aaa", TargetHash: "aaa", Similarity: 0.5},
		"empty source":    {SourceHash: "", TargetHash: "bbb", Similarity: 0.5},
		"comma in hash":   {SourceHash: "a,b", TargetHash: "ccc", Similarity: 0.5},
		"similarity high": {SourceHash: "aaa", TargetHash: "bbb", Similarity: 1.5},
		"similarity low":  {SourceHash: "aaa", TargetHash: "bbb", Similarity: -0.1},
		"similarity nan":  {SourceHash: "aaa", TargetHash: "bbb", Similarity: math.NaN()},
	} {
		t.Run(name, func(t *testing.T) {
			assert.ErrorIs(t, s.StoreAssociation(ctx, a), ErrValidation)
		})
	}

	n, err := s.GetAssociationCount(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestDeleteAssociation(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	link(t, s, "aaa", "bbb")

	removed, err := s.DeleteAssociation(ctx, "bbb", "aaa")
	require.NoError(t, err)
	assert.True(t, removed)

	_, err = s.GetAssociation(ctx, "aaa", "bbb")
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = s.GetAssociation(ctx, "bbb", "aaa")
	assert.ErrorIs(t, err, ErrNotFound)

	removed, err = s.DeleteAssociation(ctx, "aaa", "bbb")
	require.NoError(t, err)
	assert.False(t, removed)
}

func TestFindConnected(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	// a - b - c - d, plus a shortcut a - c.
	link(t, s, "a", "b")
	link(t, s, "b", "c")
	link(t, s, "c", "d")
	link(t, s, "a", "c")

	conns, err := s.FindConnected(ctx, "a", 1)
	require.NoError(t, err)
	assert.Equal(t, []model.Connection{{Hash: "b", Distance: 1}, {Hash: "c", Distance: 1}}, conns)

	conns, err = s.FindConnected(ctx, "a", 3)
	require.NoError(t, err)
	assert.Equal(t, []model.Connection{
		{Hash: "b", Distance: 1}, {Hash: "c", Distance: 1}, {Hash: "d", Distance: 2},
	}, conns, "each node appears once at its minimum distance")

	conns, err = s.FindConnected(ctx, "a", 0)
	require.NoError(t, err)
	assert.Empty(t, conns)

	conns, err = s.FindConnected(ctx, "zzz", 3)
	require.NoError(t, err)
	assert.Empty(t, conns)

	_, err = s.FindConnected(ctx, "a", -1)
	assert.ErrorIs(t, err, ErrValidation)
}

func TestFindConnectedTerminatesOnCycles(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	link(t, s, "x", "y")
	link(t, s, "y", "z")
	link(t, s, "z", "x")

	conns, err := s.FindConnected(ctx, "x", 50)
	require.NoError(t, err)
	assert.Equal(t, []model.Connection{{Hash: "y", Distance: 1}, {Hash: "z", Distance: 1}}, conns)
}

func TestFindConnectedPathBoundaries(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	// "12" is a substring of "123"; visiting one must not mark the other.
	link(t, s, "1", "123")
	link(t, s, "123", "12")

	conns, err := s.FindConnected(ctx, "1", 3)
	require.NoError(t, err)
	assert.Equal(t, []model.Connection{{Hash: "123", Distance: 1}, {Hash: "12", Distance: 2}}, conns)
}

func TestShortestPath(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	link(t, s, "A", "B")
	link(t, s, "B", "C")
	link(t, s, "C", "D")

	path, err := s.ShortestPath(ctx, "A", "D", 5)
	require.NoError(t, err)
	assert.Equal(t, []string{"A", "B", "C", "D"}, path)

	path, err = s.ShortestPath(ctx, "D", "A", 3)
	require.NoError(t, err)
	assert.Equal(t, []string{"D", "C", "B", "A"}, path)

	path, err = s.ShortestPath(ctx, "A", "D", 2)
	require.NoError(t, err)
	assert.Nil(t, path)

	path, err = s.ShortestPath(ctx, "A", "A", 5)
	require.NoError(t, err)
	assert.Equal(t, []string{"A"}, path)

	path, err = s.ShortestPath(ctx, "A", "Q", 5)
	require.NoError(t, err)
	assert.Nil(t, path)

	link(t, s, "A", "D")
	path, err = s.ShortestPath(ctx, "A", "D", 5)
	require.NoError(t, err)
	assert.Equal(t, []string{"A", "D"}, path)
}

func TestGetSubgraph(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	link(t, s, "a", "b", "semantic")
	link(t, s, "b", "c")
	link(t, s, "c", "d")

	sg, err := s.GetSubgraph(ctx, "a", 2)
	require.NoError(t, err)
	assert.Equal(t, "a", sg.Center)
	assert.Equal(t, []string{"a", "b", "c"}, sg.Nodes)
	assert.False(t, sg.Truncated)
	require.Len(t, sg.Edges, 2, "one edge per node pair")
	for _, e := range sg.Edges {
		assert.Less(t, e.SourceHash, e.TargetHash)
	}
	assert.Equal(t, "a", sg.Edges[0].SourceHash)
	assert.Equal(t, []string{"semantic"}, sg.Edges[0].ConnectionTypes)

	lonely, err := s.GetSubgraph(ctx, "nobody", 2)
	require.NoError(t, err)
	assert.Equal(t, []string{"nobody"}, lonely.Nodes)
	assert.Empty(t, lonely.Edges)
}

func TestGetSubgraphTruncates(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	for i := 0; i < MaxSubgraphNodes+20; i++ {
		link(t, s, "hub", fmt.Sprintf("leaf-%04d", i))
	}

	sg, err := s.GetSubgraph(ctx, "hub", 1)
	require.NoError(t, err)
	assert.True(t, sg.Truncated)
	assert.Len(t, sg.Nodes, MaxSubgraphNodes)
	assert.Equal(t, "hub", sg.Nodes[0])
	assert.Len(t, sg.Edges, MaxSubgraphNodes-1)
}
