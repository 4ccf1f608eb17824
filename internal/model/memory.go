// Package model defines the core memory data types.
package model

import (
	"crypto/sha256"
	"encoding/hex"
	"math"
	"strings"
	"time"
)

// Memory represents a stored memory entry.
type Memory struct {
	ContentHash  string         `json:"content_hash"`
	Content      string         `json:"content"`
	Tags         []string       `json:"tags,omitempty"`
	MemoryType   string         `json:"memory_type,omitempty"`
	Metadata     map[string]any `json:"metadata,omitempty"`
	CreatedAt    float64        `json:"created_at"`
	UpdatedAt    float64        `json:"updated_at"`
	CreatedAtISO string         `json:"created_at_iso,omitempty"`
	UpdatedAtISO string         `json:"updated_at_iso,omitempty"`
	DeletedAt    *float64       `json:"deleted_at,omitempty"`
}

// QueryResult is a memory paired with its retrieval score.
// KeywordScore and SemanticScore are only set by hybrid retrieval.
type QueryResult struct {
	Memory         Memory   `json:"memory"`
	RelevanceScore float64  `json:"relevance_score"`
	Distance       *float64 `json:"distance,omitempty"`
	KeywordScore   *float64 `json:"keyword_score,omitempty"`
	SemanticScore  *float64 `json:"semantic_score,omitempty"`
}

// New builds a memory with a derived content hash and normalized tags.
// Timestamps are left zero; the store fills them on write.
func New(content string, tags []string, memoryType string, metadata map[string]any) *Memory {
	return &Memory{
		ContentHash: ContentHash(content),
		Content:     content,
		Tags:        NormalizeTags(tags),
		MemoryType:  memoryType,
		Metadata:    metadata,
	}
}

// ContentHash returns the deterministic identifier for a piece of content.
func ContentHash(content string) string {
	sum := sha256.Sum256([]byte(strings.TrimSpace(content)))
	return hex.EncodeToString(sum[:])
}

// NormalizeTags trims tags, splits comma-joined entries, drops empties and
// removes duplicates while keeping first-seen order. Case is preserved.
func NormalizeTags(tags []string) []string {
	var out []string
	seen := map[string]bool{}
	for _, raw := range tags {
		for _, t := range strings.Split(raw, ",") {
			t = strings.TrimSpace(t)
			if t == "" || seen[t] {
				continue
			}
			seen[t] = true
			out = append(out, t)
		}
	}
	return out
}

// JoinTags renders tags in their stored comma-joined form.
func JoinTags(tags []string) string {
	return strings.Join(NormalizeTags(tags), ",")
}

// SplitTags parses the stored comma-joined form.
func SplitTags(s string) []string {
	if s == "" {
		return nil
	}
	return NormalizeTags([]string{s})
}

// HasTag reports whether the memory carries the exact tag.
func (m *Memory) HasTag(tag string) bool {
	for _, t := range m.Tags {
		if t == tag {
			return true
		}
	}
	return false
}

// IsDeleted reports whether the memory is a tombstone.
func (m *Memory) IsDeleted() bool {
	return m.DeletedAt != nil
}

// Created returns created_at as a time.Time.
func (m *Memory) Created() time.Time {
	return FromUnix(m.CreatedAt)
}

// Updated returns updated_at as a time.Time.
func (m *Memory) Updated() time.Time {
	return FromUnix(m.UpdatedAt)
}

// Unix converts t to float Unix seconds.
func Unix(t time.Time) float64 {
	return float64(t.UnixNano()) / 1e9
}

// UnixNow is Unix(time.Now()).
func UnixNow() float64 {
	return Unix(time.Now())
}

// FromUnix converts float Unix seconds to a UTC time.
func FromUnix(ts float64) time.Time {
	sec, frac := math.Modf(ts)
	return time.Unix(int64(sec), int64(frac*1e9)).UTC()
}

// ISO renders float Unix seconds as the ISO-8601 mirror string.
func ISO(ts float64) string {
	return FromUnix(ts).Format(time.RFC3339Nano)
}
