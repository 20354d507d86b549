package parser

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/rlefko/codeindex/pkg/model"
)

type stubParser struct {
	ext    string
	result *Result
}

func (s *stubParser) Supports(path string) bool { return true }
func (s *stubParser) Parse(path string, content []byte) *Result { return s.result }

func TestRegistryFallsBackOnEmptyErrorResult(t *testing.T) {
	reg := NewRegistry()
	reg.Register(&stubParser{result: &Result{Errors: []string{"syntax error at line 4"}}})

	result := reg.Parse("foo.py", []byte("def broken(:\n"))
	assert.NotEmpty(t, result.Entities)
	assert.Contains(t, result.Errors, "syntax error at line 4")
}

func TestRegistryUsesPrimaryParserWhenSuccessful(t *testing.T) {
	reg := NewRegistry()
	reg.Register(&stubParser{result: &Result{
		Entities: []*model.Entity{{Name: "add", EntityType: model.EntityTypeFunction}},
	}})

	result := reg.Parse("foo.py", []byte("def add(x,y): return x+y"))
	assert.Len(t, result.Entities, 1)
	assert.Equal(t, "add", result.Entities[0].Name)
}

func TestClassifyTierFlagsGeneratedFilesLight(t *testing.T) {
	assert.Equal(t, TierLight, ClassifyTier("models.pb.go", 100))
	assert.Equal(t, TierStandard, ClassifyTier("main.go", 100))
	assert.Equal(t, TierLight, ClassifyTier("huge.txt", 600*1024))
}

func TestFallbackParserNeverErrors(t *testing.T) {
	fb := &FallbackParser{}
	result := fb.Parse("weird.xyz", []byte("???"))
	assert.Empty(t, result.Errors)
	assert.Len(t, result.Entities, 1)
	assert.Equal(t, model.EntityTypeFile, result.Entities[0].EntityType)
}

func TestLightTierResultIsDegenerate(t *testing.T) {
	result := LightTierResult("models.pb.go", []byte("package foo\n\nvar X = 1\n"))
	assert.Len(t, result.Entities, 1)
	assert.Equal(t, model.EntityTypeFile, result.Entities[0].EntityType)
	assert.Empty(t, result.Relations)
	assert.Empty(t, result.ImplementationChunks)
}
