package vectorstore

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rlefko/codeindex/pkg/model"
)

func TestParseQdrantURL(t *testing.T) {
	host, port, tls, err := parseQdrantURL("http://localhost:6333")
	require.NoError(t, err)
	assert.Equal(t, "localhost", host)
	assert.Equal(t, 6333, port)
	assert.False(t, tls)

	host, port, tls, err = parseQdrantURL("https://xyz.cloud.qdrant.io:6334")
	require.NoError(t, err)
	assert.Equal(t, "xyz.cloud.qdrant.io", host)
	assert.Equal(t, 6334, port)
	assert.True(t, tls)

	host, port, tls, err = parseQdrantURL("https://xyz.cloud.qdrant.io")
	require.NoError(t, err)
	assert.Equal(t, 6334, port)
	assert.True(t, tls)

	_, _, _, err = parseQdrantURL("not a url \x00")
	assert.Error(t, err)
}

func TestChunkToPointAndBackRoundTrips(t *testing.T) {
	chunk := &model.EntityChunk{
		ID:         "abc-123",
		EntityName: "Add",
		EntityType: model.EntityTypeFunction,
		ChunkType:  model.ChunkTypeMetadata,
		Content:    "function: Add | adds two numbers",
		Vector:     []float32{0.1, 0.2, 0.3},
		Metadata: map[string]any{
			"file_path":   "/proj/a.go",
			"content_hash": "deadbeef",
		},
	}

	point := chunkToPoint(chunk)
	assert.Equal(t, "abc-123", point.GetId().GetUuid())
	assert.Equal(t, []float32{0.1, 0.2, 0.3}, point.GetVectors().GetVector().GetData())
	assert.Equal(t, "Add", point.GetPayload()["entity_name"].GetStringValue())
	assert.Equal(t, "/proj/a.go", point.GetPayload()["file_path"].GetStringValue())
}

func TestBuildFilterCombinesConditions(t *testing.T) {
	assert.Nil(t, buildFilter(nil))
	assert.Nil(t, buildFilter(&Filter{}))

	f := buildFilter(&Filter{FilePath: "/proj/a.go", ExcludeChunkType: model.ChunkTypeRelation})
	require.NotNil(t, f)
	assert.Len(t, f.Must, 1)
	assert.Len(t, f.MustNot, 1)
}

func TestAnyToValueRoundTrips(t *testing.T) {
	assert.Equal(t, "hello", valueToAny(anyToValue("hello")))
	assert.Equal(t, true, valueToAny(anyToValue(true)))
	assert.Equal(t, int64(42), valueToAny(anyToValue(42)))
	assert.Equal(t, []any{"a", "b"}, valueToAny(anyToValue([]string{"a", "b"})))
}
