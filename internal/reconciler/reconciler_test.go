package reconciler

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rlefko/codeindex/internal/config"
	"github.com/rlefko/codeindex/internal/fileselect"
	"github.com/rlefko/codeindex/internal/parser"
	"github.com/rlefko/codeindex/internal/state"
	"github.com/rlefko/codeindex/internal/vectorstore"
	"github.com/rlefko/codeindex/pkg/model"
)

// fakeEmbedder returns a fixed-dimension deterministic vector per text so
// tests never depend on network access.
type fakeEmbedder struct{ dim int }

func (f *fakeEmbedder) Generate(ctx context.Context, text string) ([]float64, error) {
	out, err := f.GenerateBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return out[0], nil
}

func (f *fakeEmbedder) GenerateBatch(ctx context.Context, texts []string) ([][]float64, error) {
	out := make([][]float64, len(texts))
	for i := range texts {
		v := make([]float64, f.dim)
		v[0] = float64(len(texts[i]))
		out[i] = v
	}
	return out, nil
}

func (f *fakeEmbedder) Dimensions() int                       { return f.dim }
func (f *fakeEmbedder) Model() string                         { return "fake-model" }
func (f *fakeEmbedder) HealthCheck(ctx context.Context) error { return nil }

// fakeStore is an in-memory vectorstore.Store sufficient to exercise the
// reconciler's full commit path without a live Qdrant instance.
type fakeStore struct {
	collections map[string]int
	points      map[string]map[string]*model.EntityChunk // collection -> id -> chunk
}

func newFakeStore() *fakeStore {
	return &fakeStore{collections: map[string]int{}, points: map[string]map[string]*model.EntityChunk{}}
}

func (s *fakeStore) CollectionExists(ctx context.Context, collection string) (bool, error) {
	_, ok := s.collections[collection]
	return ok, nil
}

func (s *fakeStore) EnsureCollection(ctx context.Context, collection string, dim int) error {
	s.collections[collection] = dim
	if s.points[collection] == nil {
		s.points[collection] = map[string]*model.EntityChunk{}
	}
	return nil
}

func (s *fakeStore) UpsertPoints(ctx context.Context, collection string, chunks []*model.EntityChunk) error {
	if s.points[collection] == nil {
		s.points[collection] = map[string]*model.EntityChunk{}
	}
	for _, ch := range chunks {
		s.points[collection][ch.ID] = ch
	}
	return nil
}

func (s *fakeStore) DeletePoints(ctx context.Context, collection string, ids []string) error {
	for _, id := range ids {
		delete(s.points[collection], id)
	}
	return nil
}

func (s *fakeStore) Scroll(ctx context.Context, collection string, filter *vectorstore.Filter, limit int, withVectors bool) ([]*model.EntityChunk, error) {
	var out []*model.EntityChunk
	for _, ch := range s.points[collection] {
		if filter != nil {
			if filter.FilePath != "" {
				fp, _ := ch.Metadata["file_path"].(string)
				if fp != filter.FilePath {
					continue
				}
			}
			if filter.ExcludeChunkType != "" && ch.ChunkType == filter.ExcludeChunkType {
				continue
			}
		}
		out = append(out, ch)
	}
	return out, nil
}

func (s *fakeStore) Count(ctx context.Context, collection string, filter *vectorstore.Filter) (int64, error) {
	chunks, _ := s.Scroll(ctx, collection, filter, 0, false)
	return int64(len(chunks)), nil
}

func (s *fakeStore) CheckContentExists(ctx context.Context, collection, contentHash string) (bool, error) {
	for _, ch := range s.points[collection] {
		if h, _ := ch.Metadata["content_hash"].(string); h == contentHash && contentHash != "" {
			return true, nil
		}
	}
	return false, nil
}

func (s *fakeStore) UpdateFilePaths(ctx context.Context, collection string, renames []vectorstore.FileRename) (int, error) {
	count := 0
	for _, ch := range s.points[collection] {
		fp, _ := ch.Metadata["file_path"].(string)
		for _, rn := range renames {
			if fp == rn.OldAbsPath {
				ch.Metadata["file_path"] = rn.NewAbsPath
				count++
			}
		}
	}
	return count, nil
}

func (s *fakeStore) ClearCollection(ctx context.Context, collection string, preserveManual bool) (int, error) {
	n := 0
	for id, ch := range s.points[collection] {
		if preserveManual && model.IsManualPayload(ch.Metadata) {
			continue
		}
		delete(s.points[collection], id)
		n++
	}
	return n, nil
}

func (s *fakeStore) FindEntitiesForFile(ctx context.Context, collection, absPath string) ([]*model.EntityChunk, error) {
	return s.Scroll(ctx, collection, &vectorstore.Filter{FilePath: absPath}, 0, false)
}

func (s *fakeStore) Close() error { return nil }

// stubParser produces one function entity per file named after its base
// name, with a fixed implementation body, so tests can assert on
// deterministic chunk counts.
type stubParser struct{}

func (stubParser) Supports(string) bool { return true }

func (stubParser) Parse(path string, content []byte) *parser.Result {
	name := filepath.Base(path)
	entity := &model.Entity{
		Name:       name,
		EntityType: model.EntityTypeFunction,
		FilePath:   path,
		Observations: []string{"stub entity"},
	}
	return &parser.Result{
		Entities: []*model.Entity{entity},
		ImplementationChunks: []*model.EntityChunk{
			{EntityName: name, Content: string(content)},
		},
	}
}

func newTestReconciler(t *testing.T, projectDir string, store vectorstore.Store) *Reconciler {
	t.Helper()
	reg := parser.NewRegistry()
	reg.Register(stubParser{})

	rules := fileselect.Load(projectDir, []string{"*.py"}, nil, 0)
	stateStore := state.New(projectDir, "")

	return New(
		projectDir, "test-collection",
		reg, store, &fakeEmbedder{dim: 4}, stateStore, rules, nil,
		config.IndexerConfig{UseParallelProcessing: false},
		config.ChunkingConfig{InitialBatchSize: 25, MaxBatchSize: 100, MinBatchSize: 2, RelationBatchTarget: 500},
	)
}

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestIndexProjectFullRunCommitsEntities(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "a.py", "def a(): pass")
	writeFile(t, dir, "b.py", "def b(): pass")

	store := newFakeStore()
	r := newTestReconciler(t, dir, store)

	result, err := r.IndexProject(context.Background(), false)
	require.NoError(t, err)
	assert.True(t, result.Success)
	assert.Equal(t, 2, result.FilesProcessed)
	assert.Equal(t, 2, result.EntitiesCreated)
	assert.Equal(t, 2, result.ImplementationChunksCreated)
	assert.Len(t, store.points["test-collection"], 4) // 2 metadata + 2 implementation chunks
}

func TestIndexProjectSecondRunSkipsUnchangedFiles(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "a.py", "def a(): pass")

	store := newFakeStore()
	r := newTestReconciler(t, dir, store)

	_, err := r.IndexProject(context.Background(), false)
	require.NoError(t, err)

	r2 := newTestReconciler(t, dir, store)
	result, err := r2.IndexIncremental(context.Background(), "")
	require.NoError(t, err)
	assert.True(t, result.Success)
}

func TestIndexFilesSkipsChangeDetection(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "a.py", "def a(): pass")

	store := newFakeStore()
	r := newTestReconciler(t, dir, store)

	result, err := r.IndexFiles(context.Background(), []string{path})
	require.NoError(t, err)
	assert.True(t, result.Success)
	assert.Equal(t, 1, result.FilesProcessed)
}

func TestIndexSingleFileCommitsOneFile(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "solo.py", "def solo(): pass")

	store := newFakeStore()
	r := newTestReconciler(t, dir, store)

	result, err := r.IndexSingleFile(context.Background(), path)
	require.NoError(t, err)
	assert.True(t, result.Success)
	assert.Equal(t, 1, result.FilesProcessed)
}

func TestParseOneUsesLightTierDegenerateParseForGeneratedFiles(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "thing.pb.go", "package thing\n\nvar X = 1\n")

	store := newFakeStore()
	r := newTestReconciler(t, dir, store)

	pf := r.parseOne(path)
	require.NoError(t, pf.err)
	require.Len(t, pf.result.Entities, 1)
	assert.Equal(t, model.EntityTypeFile, pf.result.Entities[0].EntityType)
	assert.Empty(t, pf.result.Relations)
	assert.Empty(t, pf.result.ImplementationChunks) // stubParser would otherwise always emit one
}

func TestClearCollectionPreservesManualEntries(t *testing.T) {
	dir := t.TempDir()
	store := newFakeStore()
	r := newTestReconciler(t, dir, store)
	require.NoError(t, r.ensureCollection(context.Background()))

	manual := &model.EntityChunk{
		ID: "manual-1", EntityName: "Manual", ChunkType: model.ChunkTypeMetadata,
		Metadata: map[string]any{"entity_name": "Manual", "entity_type": "note"},
	}
	require.NoError(t, store.UpsertPoints(context.Background(), "test-collection", []*model.EntityChunk{manual}))

	automated := &model.EntityChunk{
		ID: "auto-1", EntityName: "Auto", ChunkType: model.ChunkTypeMetadata,
		Metadata: map[string]any{"file_path": "/proj/auto.py", "entity_name": "Auto", "entity_type": "function"},
	}
	require.NoError(t, store.UpsertPoints(context.Background(), "test-collection", []*model.EntityChunk{automated}))

	deleted, err := r.ClearCollection(context.Background(), true)
	require.NoError(t, err)
	assert.Equal(t, 1, deleted)
	assert.Contains(t, store.points["test-collection"], "manual-1")
	assert.NotContains(t, store.points["test-collection"], "auto-1")
}

func TestHandleDeletionsRemovesPointsAndCleansOrphans(t *testing.T) {
	dir := t.TempDir()
	store := newFakeStore()
	r := newTestReconciler(t, dir, store)
	require.NoError(t, r.ensureCollection(context.Background()))

	absPath := filepath.Join(dir, "gone.py")
	chunk := &model.EntityChunk{
		ID: "gone-meta", EntityName: "gone.py", ChunkType: model.ChunkTypeMetadata,
		Metadata: map[string]any{"file_path": absPath},
	}
	rel := &model.EntityChunk{
		ID: "rel-1", ChunkType: model.ChunkTypeRelation,
		Metadata: map[string]any{"from_entity": "gone.py", "to_entity": "nonexistent"},
	}
	require.NoError(t, store.UpsertPoints(context.Background(), "test-collection", []*model.EntityChunk{chunk, rel}))

	err := r.handleDeletions(context.Background(), []string{"gone.py"})
	require.NoError(t, err)

	assert.NotContains(t, store.points["test-collection"], "gone-meta")
	assert.NotContains(t, store.points["test-collection"], "rel-1")
}

func TestHandleRenamesDropsOldLedgerKey(t *testing.T) {
	dir := t.TempDir()
	store := newFakeStore()
	r := newTestReconciler(t, dir, store)
	require.NoError(t, r.ensureCollection(context.Background()))

	oldAbs := filepath.Join(dir, "old.py")
	chunk := &model.EntityChunk{
		ID: "old-meta", EntityName: "old.py", ChunkType: model.ChunkTypeMetadata,
		Metadata: map[string]any{"file_path": oldAbs},
	}
	require.NoError(t, store.UpsertPoints(context.Background(), "test-collection", []*model.EntityChunk{chunk}))

	require.NoError(t, r.State.Update("test-collection", map[string]model.FileState{
		"old.py": {Hash: "h1", Size: 1},
	}, nil, state.UpdateOptions{}))

	err := r.handleRenames(context.Background(), []model.RenamedPair{
		{OldRelPath: "old.py", NewRelPath: "new.py"},
	})
	require.NoError(t, err)

	newAbs := filepath.Join(dir, "new.py")
	assert.Equal(t, newAbs, store.points["test-collection"]["old-meta"].Metadata["file_path"])

	ledger, err := r.State.Load("test-collection")
	require.NoError(t, err)
	assert.NotContains(t, ledger.Files, "old.py")
}
