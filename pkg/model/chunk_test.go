package model

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestChunkIDIsDeterministic(t *testing.T) {
	id1 := ChunkID("/proj/foo.py", "Calc", ChunkTypeMetadata)
	id2 := ChunkID("/proj/foo.py", "Calc", ChunkTypeMetadata)
	assert.Equal(t, id1, id2)

	other := ChunkID("/proj/foo.py", "Calc", ChunkTypeImplementation)
	assert.NotEqual(t, id1, other)
}

func TestChunkIDSurvivesRename(t *testing.T) {
	// A rename rewrites metadata.file_path in place and keeps the stored
	// point ID, which ChunkID derived from the original path; recomputing
	// ChunkID from that original path must still give the same ID.
	idBefore := ChunkID("/proj/old.py", "add", ChunkTypeMetadata)
	idAfter := ChunkID("/proj/old.py", "add", ChunkTypeMetadata)
	assert.Equal(t, idBefore, idAfter)
}

func TestContentHashIsByteLevel(t *testing.T) {
	h1 := ContentHash([]byte("def add(x, y): return x + y"))
	h2 := ContentHash([]byte("def add(x, y): return x + y"))
	h3 := ContentHash([]byte("def add(x, y): return x - y"))
	assert.Equal(t, h1, h2)
	assert.NotEqual(t, h1, h3)
	assert.Len(t, h1, 64)
}

func TestNewMetadataChunkFormatting(t *testing.T) {
	e := &Entity{
		Name:         "add",
		EntityType:   EntityTypeFunction,
		Observations: []string{"adds two numbers"},
		FilePath:     "/proj/foo.py",
		Signature:    "add(x, y)",
	}
	chunk := NewMetadataChunk(e, "deadbeef")
	assert.Equal(t, ChunkTypeMetadata, chunk.ChunkType)
	assert.Contains(t, chunk.Content, "function: add")
	assert.Contains(t, chunk.Content, "adds two numbers")
	assert.Contains(t, chunk.Content, "Signature: add(x, y)")
	assert.Equal(t, "/proj/foo.py", chunk.Metadata["file_path"])
	assert.Equal(t, true, chunk.Metadata["has_implementation"])
}

func TestEntityTypeHasImplementation(t *testing.T) {
	assert.True(t, EntityTypeFunction.HasImplementation())
	assert.True(t, EntityTypeMethod.HasImplementation())
	assert.True(t, EntityTypeClass.HasImplementation())
	assert.False(t, EntityTypeVariable.HasImplementation())
	assert.False(t, EntityTypeFile.HasImplementation())
}

func TestIsManualPayload(t *testing.T) {
	manual := map[string]any{
		"entity_name": "ManualNote",
		"entity_type": "note",
	}
	assert.True(t, IsManualPayload(manual))

	parsed := map[string]any{
		"entity_name": "add",
		"entity_type": "function",
		"file_path":   "/proj/foo.py",
	}
	assert.False(t, IsManualPayload(parsed))

	relation := map[string]any{
		"entity_name":     "add->sub",
		"relation_target": "sub",
		"relation_type":   "calls",
	}
	assert.False(t, IsManualPayload(relation))

	missingType := map[string]any{"entity_name": "x"}
	assert.False(t, IsManualPayload(missingType))
	require.NotPanics(t, func() { IsManualPayload(map[string]any{}) })
}
