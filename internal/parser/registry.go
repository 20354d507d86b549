// Package parser defines the pluggable parser contract the reconciler
// consumes: given a file, produce the entities, relations, and chunks it
// contains. Concrete language parsers are an external collaborator (per the
// indexing core's scope) and are injected by the caller; this package only
// supplies the interface, a tiering categorizer, and a lossy fallback parser
// used when the primary parser reports syntax errors.
package parser

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/rlefko/codeindex/pkg/model"
)

// Tier drives parser selection and extraction depth for one file.
type Tier string

const (
	// TierLight is for generated code, type-stub-only files, and very large
	// text: a degenerate parse yields one file entity with minimal
	// observations, no relations, no implementation chunks.
	TierLight Tier = "light"
	// TierStandard is ordinary source: full entity+relation+implementation
	// extraction.
	TierStandard Tier = "standard"
	// TierDeep is reserved for extended analysis; its extraction semantics
	// match TierStandard for the purposes of this pipeline.
	TierDeep Tier = "deep"
)

var lightSuffixes = []string{
	".min.js", ".min.css", ".generated.go", ".pb.go", "_pb2.py", ".d.ts",
}

// ClassifyTier categorizes path (and its size in bytes) into a processing
// tier.
func ClassifyTier(path string, size int64) Tier {
	base := filepath.Base(path)
	for _, suffix := range lightSuffixes {
		if strings.HasSuffix(base, suffix) {
			return TierLight
		}
	}
	const largeTextThreshold = 512 * 1024
	if size > largeTextThreshold {
		return TierLight
	}
	return TierStandard
}

// Result is what a parser returns for one file.
type Result struct {
	Entities             []*model.Entity
	Relations            []*model.Relation
	MetadataChunks       []*model.EntityChunk
	ImplementationChunks []*model.EntityChunk
	Errors               []string
}

// Empty reports whether the parse extracted no entities and no relations
// (used to decide whether the fallback parser should also be tried).
func (r *Result) Empty() bool {
	return len(r.Entities) == 0 && len(r.Relations) == 0
}

// Parser is the external parser contract: given an absolute file path and
// its raw bytes, produce a Result. There is no exception channel for
// "couldn't parse" — callers inspect Result.Errors.
type Parser interface {
	// Supports reports whether this parser handles path (typically by
	// extension).
	Supports(path string) bool
	// Parse extracts entities/relations/chunks from content.
	Parse(path string, content []byte) *Result
}

// Registry dispatches to the first registered Parser that supports a given
// path, falling back to FallbackParser when nothing matches or the matched
// parser's result is empty due to syntax errors.
type Registry struct {
	parsers  []Parser
	fallback Parser
}

// NewRegistry creates an empty registry using FallbackParser as the last
// resort.
func NewRegistry() *Registry {
	return &Registry{fallback: &FallbackParser{}}
}

// Register adds p to the dispatch chain; earlier registrations take
// precedence.
func (reg *Registry) Register(p Parser) {
	reg.parsers = append(reg.parsers, p)
}

// Parse dispatches path+content to the first supporting parser. If that
// parser reports errors and produced nothing usable, the fallback parser is
// invoked to recover whatever symbols it can before the file is ultimately
// recorded as failed by the caller.
func (reg *Registry) Parse(path string, content []byte) *Result {
	for _, p := range reg.parsers {
		if !p.Supports(path) {
			continue
		}
		result := p.Parse(path, content)
		if len(result.Errors) > 0 && result.Empty() {
			fb := reg.fallback.Parse(path, content)
			fb.Errors = append(result.Errors, fb.Errors...)
			return fb
		}
		return result
	}
	return reg.fallback.Parse(path, content)
}

// FallbackParser extracts a single file-level entity with line-count and
// byte-size observations when no registered parser claims a file, or when
// the primary parser fails outright. It never itself reports an error: a
// degenerate result is always "successful" from the pipeline's perspective.
type FallbackParser struct{}

func (f *FallbackParser) Supports(string) bool { return true }

func (f *FallbackParser) Parse(path string, content []byte) *Result {
	return degenerateResult(path, content, "fallback parse: primary parser unavailable or failed")
}

// LightTierResult produces the same one-entity, no-relation,
// no-implementation-chunk shape as FallbackParser, for files ClassifyTier
// has already decided aren't worth a full parse (generated code,
// type-stub-only files, oversized text).
func LightTierResult(path string, content []byte) *Result {
	return degenerateResult(path, content, "light-tier file: skipped full parse")
}

func degenerateResult(path string, content []byte, observation string) *Result {
	lines := strings.Count(string(content), "\n") + 1
	entity := &model.Entity{
		Name:         filepath.Base(path),
		EntityType:   model.EntityTypeFile,
		FilePath:     path,
		Observations: []string{observation},
		Metadata: map[string]any{
			"line_count": lines,
			"byte_size":  len(content),
		},
	}
	return &Result{Entities: []*model.Entity{entity}}
}

// ReadFile is a small helper shared by callers that need file bytes plus
// stat info together (content hash input and tiering both need it).
func ReadFile(path string) ([]byte, os.FileInfo, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, nil, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, nil, err
	}
	return data, info, nil
}
