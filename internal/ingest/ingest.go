// Package ingest turns documents into chunked memories.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"unicode/utf8"

	"github.com/oklog/ulid/v2"

	"github.com/rcliao/memory-service/internal/chunker"
	"github.com/rcliao/memory-service/internal/logging"
	"github.com/rcliao/memory-service/internal/model"
	"github.com/rcliao/memory-service/internal/store"
)

// MemoryType is the memory_type given to every ingested chunk.
const MemoryType = "document"

// BatchWriter is the part of the store ingestion needs.
type BatchWriter interface {
	StoreBatch(ctx context.Context, ms []*model.Memory, skipSemanticDedup bool) ([]store.Result, error)
}

// Ingester chunks documents and writes them in one batch.
type Ingester struct {
	w    BatchWriter
	opts chunker.Options
}

// New creates an Ingester. Zero options use chunker defaults.
func New(w BatchWriter, opts chunker.Options) *Ingester {
	return &Ingester{w: w, opts: opts}
}

// Report summarizes one ingested document.
type Report struct {
	DocumentID string         `json:"document_id"`
	Source     string         `json:"source"`
	Chunks     int            `json:"chunks"`
	Stored     int            `json:"stored"`
	Skipped    int            `json:"skipped"`
	Results    []store.Result `json:"results"`
}

// IngestFile reads path and ingests it with source set to its base name.
func (in *Ingester) IngestFile(ctx context.Context, path string, tags []string) (*Report, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	if !utf8.Valid(data) {
		return nil, fmt.Errorf("%w: %s is not valid UTF-8 text", store.ErrValidation, path)
	}
	return in.Ingest(ctx, filepath.Base(path), string(data), tags)
}

// Ingest chunks text and stores every chunk. Chunks of one document may be
// near-duplicates of each other, so semantic dedup is skipped; exact
// duplicates are still reported as skipped.
func (in *Ingester) Ingest(ctx context.Context, source, text string, tags []string) (*Report, error) {
	chunks := chunker.Split(text, in.opts)
	if len(chunks) == 0 {
		return nil, errors.New("document is empty")
	}

	docID := ulid.Make().String()
	chunkTags := model.NormalizeTags(append(append([]string{}, tags...), "source:"+source))

	batch := make([]*model.Memory, len(chunks))
	for i, c := range chunks {
		meta := map[string]any{
			"document_id": docID,
			"source":      source,
			"chunk_index": i,
			"chunk_count": len(chunks),
			"start_line":  c.StartLine,
			"end_line":    c.EndLine,
		}
		if c.Heading != "" {
			meta["heading"] = c.Heading
		}
		batch[i] = model.New(c.Text, chunkTags, MemoryType, meta)
	}

	results, err := in.w.StoreBatch(ctx, batch, true)
	if err != nil {
		return nil, fmt.Errorf("store chunks of %s: %w", source, err)
	}

	r := &Report{DocumentID: docID, Source: source, Chunks: len(chunks), Results: results}
	for _, res := range results {
		if res.Success {
			r.Stored++
		} else {
			r.Skipped++
		}
	}
	logging.Infof("ingested %s as %s: %d chunks, %d stored, %d skipped", source, docID, r.Chunks, r.Stored, r.Skipped)
	return r, nil
}
