package vectorstore

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rlefko/codeindex/internal/logging"
	"github.com/rlefko/codeindex/pkg/model"
)

func namesSet(names ...string) map[string]struct{} {
	out := make(map[string]struct{}, len(names))
	for _, n := range names {
		out[n] = struct{}{}
	}
	return out
}

func TestResolveModuleNameExactMatch(t *testing.T) {
	assert.True(t, ResolveModuleName("Add", namesSet("Add", "Sub")))
	assert.False(t, ResolveModuleName("Missing", namesSet("Add")))
}

func TestResolveModuleNameRelativeImport(t *testing.T) {
	global := namesSet("/proj/chat/parser.py")
	assert.True(t, ResolveModuleName(".chat.parser", global))
	assert.True(t, ResolveModuleName(".parser", namesSet("/proj/parser.py")))
	assert.False(t, ResolveModuleName(".nonexistent", global))
}

func TestResolveModuleNameAbsoluteDottedPath(t *testing.T) {
	global := namesSet("/proj/claude_indexer/analysis/entities.py")
	assert.True(t, ResolveModuleName("claude_indexer.analysis.entities", global))
	assert.False(t, ResolveModuleName("other.module.thing", global))
}

func TestResolveModuleNameBarePackageName(t *testing.T) {
	assert.True(t, ResolveModuleName("utils", namesSet("/proj/utils/helpers.py")))
	assert.True(t, ResolveModuleName("utils", namesSet("/proj/lib/utils")))
	assert.False(t, ResolveModuleName("utils", namesSet("/proj/other/helpers.py")))
}

func TestFilterOrphanRelationsKeepsValidCallsAndImports(t *testing.T) {
	global := namesSet("Add", "utils")
	relations := []*model.Relation{
		{FromEntity: "Main", ToEntity: "Add", RelationType: model.RelationCalls},
		{FromEntity: "Main", ToEntity: "Unknown", RelationType: model.RelationCalls},
		{FromEntity: "Main", ToEntity: "utils", RelationType: model.RelationImports},
		{FromEntity: "Main", ToEntity: "nonexistent_pkg", RelationType: model.RelationImports},
		{FromEntity: "Main", ToEntity: "Whatever", RelationType: model.RelationContains},
	}

	kept := FilterOrphanRelations(relations, global)
	require.Len(t, kept, 3)
	assert.Equal(t, "Add", kept[0].ToEntity)
	assert.Equal(t, "utils", kept[1].ToEntity)
	assert.Equal(t, model.RelationContains, kept[2].RelationType)
}

type fakeStore struct {
	chunks  []*model.EntityChunk
	deleted []string
}

func (f *fakeStore) CollectionExists(ctx context.Context, collection string) (bool, error) { return true, nil }
func (f *fakeStore) EnsureCollection(ctx context.Context, collection string, dim int) error { return nil }
func (f *fakeStore) UpsertPoints(ctx context.Context, collection string, chunks []*model.EntityChunk) error {
	return nil
}
func (f *fakeStore) DeletePoints(ctx context.Context, collection string, ids []string) error {
	f.deleted = append(f.deleted, ids...)
	return nil
}
func (f *fakeStore) Scroll(ctx context.Context, collection string, filter *Filter, limit int, withVectors bool) ([]*model.EntityChunk, error) {
	if filter != nil && filter.ExcludeChunkType != "" {
		var out []*model.EntityChunk
		for _, c := range f.chunks {
			if c.ChunkType != filter.ExcludeChunkType {
				out = append(out, c)
			}
		}
		return out, nil
	}
	return f.chunks, nil
}
func (f *fakeStore) Count(ctx context.Context, collection string, filter *Filter) (int64, error) {
	return int64(len(f.chunks)), nil
}
func (f *fakeStore) CheckContentExists(ctx context.Context, collection, contentHash string) (bool, error) {
	return false, nil
}
func (f *fakeStore) UpdateFilePaths(ctx context.Context, collection string, renames []FileRename) (int, error) {
	return 0, nil
}
func (f *fakeStore) ClearCollection(ctx context.Context, collection string, preserveManual bool) (int, error) {
	return 0, nil
}
func (f *fakeStore) FindEntitiesForFile(ctx context.Context, collection, absPath string) ([]*model.EntityChunk, error) {
	return nil, nil
}
func (f *fakeStore) Close() error { return nil }

func TestGlobalEntityNamesExcludesRelations(t *testing.T) {
	store := &fakeStore{chunks: []*model.EntityChunk{
		{EntityName: "Add", ChunkType: model.ChunkTypeMetadata},
		{EntityName: "Add->Sub", ChunkType: model.ChunkTypeRelation},
	}}
	names, err := GlobalEntityNames(context.Background(), store, "coll")
	require.NoError(t, err)
	assert.Contains(t, names, "Add")
	assert.NotContains(t, names, "Add->Sub")
}

func TestCleanupOrphanRelationsDeletesUnresolvedEndpoints(t *testing.T) {
	store := &fakeStore{chunks: []*model.EntityChunk{
		{ID: "rel-1", ChunkType: model.ChunkTypeRelation, Metadata: map[string]any{"from_entity": "Add", "to_entity": "Deleted"}},
		{ID: "rel-2", ChunkType: model.ChunkTypeRelation, Metadata: map[string]any{"from_entity": "Add", "to_entity": "Sub"}},
	}}
	global := namesSet("Add", "Sub")

	count, err := CleanupOrphanRelations(context.Background(), store, "coll", global, logging.WithComponent("test"))
	require.NoError(t, err)
	assert.Equal(t, 1, count)
	assert.Equal(t, []string{"rel-1"}, store.deleted)
}
