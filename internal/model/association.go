package model

import "sort"

// Association is one logical edge between two memories.
type Association struct {
	SourceHash      string         `json:"source_hash"`
	TargetHash      string         `json:"target_hash"`
	Similarity      float64        `json:"similarity"`
	ConnectionTypes []string       `json:"connection_types"`
	Metadata        map[string]any `json:"metadata,omitempty"`
	CreatedAt       float64        `json:"created_at"`
}

// Connection is a node reached by graph traversal.
type Connection struct {
	Hash     string `json:"hash"`
	Distance int    `json:"distance"`
}

// Subgraph is a node set plus the logical edges among those nodes.
type Subgraph struct {
	Center    string        `json:"center"`
	Nodes     []string      `json:"nodes"`
	Edges     []Association `json:"edges"`
	Truncated bool          `json:"truncated,omitempty"`
}

// NormalizeConnectionTypes sorts and de-duplicates connection types.
func NormalizeConnectionTypes(types []string) []string {
	out := NormalizeTags(types)
	sort.Strings(out)
	if out == nil {
		out = []string{}
	}
	return out
}

// CanonicalPair orders two hashes so both directions of an edge map to one key.
func CanonicalPair(a, b string) [2]string {
	if a > b {
		a, b = b, a
	}
	return [2]string{a, b}
}
