// Package vectorstore defines the contract the indexing core assumes of its
// vector-store collaborator and provides a Qdrant-backed implementation.
package vectorstore

import (
	"context"

	"github.com/rlefko/codeindex/pkg/model"
)

// Filter narrows Scroll/Count/FindEntitiesForFile queries. All non-empty
// fields are ANDed together. It intentionally stays small: the core only
// ever needs to filter by owning file or to exclude relation chunks when
// collecting the global entity name set.
type Filter struct {
	FilePath         string          // exact match on metadata.file_path, if non-empty
	ExcludeChunkType model.ChunkType // chunk_type to exclude, if non-empty
}

// FileRename is one (old absolute path, new absolute path) pair passed to
// UpdateFilePaths.
type FileRename struct {
	OldAbsPath string
	NewAbsPath string
}

// Store is the contract the indexing core assumes of its vector-store
// collaborator, matching the VectorStoreAdapter operations table: every
// operation is idempotent or safely repeatable except where noted.
type Store interface {
	// CollectionExists reports whether collection has been created.
	CollectionExists(ctx context.Context, collection string) (bool, error)

	// EnsureCollection creates collection with the given vector dimension
	// if it does not already exist. Idempotent.
	EnsureCollection(ctx context.Context, collection string, dim int) error

	// UpsertPoints writes chunks to collection, atomic with respect to this
	// call's own view of the store.
	UpsertPoints(ctx context.Context, collection string, chunks []*model.EntityChunk) error

	// DeletePoints removes points by ID. Unknown IDs are not errors.
	DeletePoints(ctx context.Context, collection string, ids []string) error

	// Scroll returns every point matching filter, handling cursor
	// pagination internally so callers never see a partial result.
	Scroll(ctx context.Context, collection string, filter *Filter, limit int, withVectors bool) ([]*model.EntityChunk, error)

	// Count returns the exact number of points matching filter.
	Count(ctx context.Context, collection string, filter *Filter) (int64, error)

	// CheckContentExists reports whether any point in collection carries
	// the given content_hash payload field.
	CheckContentExists(ctx context.Context, collection, contentHash string) (bool, error)

	// UpdateFilePaths rewrites metadata.file_path for every point whose
	// current file_path matches one of renames' OldAbsPath, to the
	// corresponding NewAbsPath. Returns the count of points updated.
	UpdateFilePaths(ctx context.Context, collection string, renames []FileRename) (int, error)

	// ClearCollection deletes every code-origin point in collection. If
	// preserveManual is true, points matching model.IsManualPayload are
	// left untouched.
	ClearCollection(ctx context.Context, collection string, preserveManual bool) (int, error)

	// FindEntitiesForFile returns every point whose metadata.file_path
	// equals absPath.
	FindEntitiesForFile(ctx context.Context, collection, absPath string) ([]*model.EntityChunk, error)

	// Close releases any held connection resources.
	Close() error
}
