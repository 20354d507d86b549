// Package model provides the core data structures shared across the indexing
// pipeline: entities and relations discovered in source files, the chunks
// derived from them, and the bookkeeping types used by the state store and
// reconciler.
package model

import "fmt"

// EntityType classifies what an Entity represents.
type EntityType string

const (
	EntityTypeFile          EntityType = "file"
	EntityTypeClass         EntityType = "class"
	EntityTypeFunction      EntityType = "function"
	EntityTypeMethod        EntityType = "method"
	EntityTypeVariable      EntityType = "variable"
	EntityTypeDocumentation EntityType = "documentation"
	EntityTypeTextChunk     EntityType = "text_chunk"
	EntityTypeGeneric       EntityType = "generic"
)

// Valid reports whether et is one of the recognized entity types.
func (et EntityType) Valid() bool {
	switch et {
	case EntityTypeFile, EntityTypeClass, EntityTypeFunction, EntityTypeMethod,
		EntityTypeVariable, EntityTypeDocumentation, EntityTypeTextChunk, EntityTypeGeneric:
		return true
	}
	return false
}

// HasImplementation reports whether entities of this type may own an
// implementation chunk. Fixed to {function, method, class} per the
// indexing contract; parsers emitting implementation bodies for other
// types have those chunks dropped by the chunk coordinator.
func (et EntityType) HasImplementation() bool {
	switch et {
	case EntityTypeFunction, EntityTypeMethod, EntityTypeClass:
		return true
	}
	return false
}

// Entity is a named, addressable unit discovered in a file by a parser.
type Entity struct {
	Name             string         `json:"name"`
	EntityType       EntityType     `json:"entity_type"`
	Observations     []string       `json:"observations"`
	FilePath         string         `json:"file_path,omitempty"` // absolute path; empty for manual entries
	LineNumber       int            `json:"line_number,omitempty"`
	EndLineNumber    int            `json:"end_line_number,omitempty"`
	Signature        string         `json:"signature,omitempty"`
	Docstring        string         `json:"docstring,omitempty"`
	ComplexityScore  float64        `json:"complexity_score,omitempty"`
	Metadata         map[string]any `json:"metadata,omitempty"`
	ImplementationID string         `json:"-"` // set when an implementation chunk is emitted alongside
}

// Validate checks required fields.
func (e *Entity) Validate() error {
	if e.Name == "" {
		return fmt.Errorf("entity: name is required")
	}
	if !e.EntityType.Valid() {
		return fmt.Errorf("entity %q: invalid entity_type %q", e.Name, e.EntityType)
	}
	return nil
}

// IsManual reports whether this entity was inserted out-of-band rather than
// produced by a parse of FilePath.
func (e *Entity) IsManual() bool {
	return e.FilePath == ""
}

// RelationType classifies the kind of edge a Relation represents.
type RelationType string

const (
	RelationCalls      RelationType = "calls"
	RelationImports    RelationType = "imports"
	RelationContains   RelationType = "contains"
	RelationInherits   RelationType = "inherits"
	RelationReferences RelationType = "references"
)

// Relation is a directed, typed edge between two entities, identified by
// name or module reference rather than by object identity.
type Relation struct {
	FromEntity   string         `json:"from_entity"`
	ToEntity     string         `json:"to_entity"`
	RelationType RelationType   `json:"relation_type"`
	Context      string         `json:"context,omitempty"`
	Confidence   float64        `json:"confidence,omitempty"`
	Metadata     map[string]any `json:"metadata,omitempty"`
	FilePath     string         `json:"file_path,omitempty"`
}

// Validate checks required fields.
func (r *Relation) Validate() error {
	if r.FromEntity == "" || r.ToEntity == "" {
		return fmt.Errorf("relation: from_entity and to_entity are required")
	}
	if r.Confidence < 0 || r.Confidence > 1 {
		return fmt.Errorf("relation %s->%s: confidence %f out of [0,1]", r.FromEntity, r.ToEntity, r.Confidence)
	}
	return nil
}
