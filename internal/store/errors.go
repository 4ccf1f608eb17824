package store

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound means no live memory has the given hash.
	ErrNotFound = errors.New("memory not found")
	// ErrDuplicateContent means a live memory with the same content hash exists.
	ErrDuplicateContent = errors.New("duplicate content")
	// ErrSemanticDuplicate means a recent memory is too similar to the new one.
	ErrSemanticDuplicate = fmt.Errorf("semantic %w", ErrDuplicateContent)
	// ErrEmbeddingGeneration means the provider failed or returned a bad vector.
	ErrEmbeddingGeneration = errors.New("embedding generation failed")
	// ErrDimensionMismatch means a vector does not match the pinned dimension.
	ErrDimensionMismatch = errors.New("embedding dimension mismatch")
	// ErrStorageUnavailable means the store is closed or was never opened.
	ErrStorageUnavailable = errors.New("storage unavailable")
	// ErrTransientLock means lock contention outlasted the retry budget.
	ErrTransientLock = errors.New("database locked")
	// ErrValidation means the caller supplied invalid input.
	ErrValidation = errors.New("invalid input")
	// ErrIntegrity means a paired write failed and was rolled back.
	ErrIntegrity = errors.New("write rolled back")
	// ErrExtensionUnsupported means this binary cannot load SQLite extensions.
	ErrExtensionUnsupported = errors.New("sqlite extension loading unsupported")
	// ErrExtensionLoad means the sqlite-vec extension failed to register.
	ErrExtensionLoad = errors.New("sqlite-vec extension failed to load")
	// ErrEmbeddingUnavailable means no embedding provider could be loaded.
	ErrEmbeddingUnavailable = errors.New("embedding provider unavailable")
	// ErrUnsupportedBackend means the configured backend is not built into this binary.
	ErrUnsupportedBackend = errors.New("unsupported storage backend")
)

// Result reports the outcome of a mutation. Business outcomes such as
// duplicates or missing rows are reported here with a nil Go error.
type Result struct {
	Success     bool   `json:"success"`
	Message     string `json:"message"`
	ContentHash string `json:"content_hash,omitempty"`
	// DuplicateOf names the existing memory a rejected write collided with.
	DuplicateOf string `json:"duplicate_of,omitempty"`
	Reason      error  `json:"-"`
}

func ok(hash, msg string) Result {
	return Result{Success: true, Message: msg, ContentHash: hash}
}

func fail(hash string, reason error, format string, args ...any) Result {
	return Result{Message: fmt.Sprintf(format, args...), ContentHash: hash, Reason: reason}
}
