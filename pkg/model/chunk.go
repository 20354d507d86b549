package model

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"

	"github.com/google/uuid"
)

// ChunkType distinguishes the facet of an entity a stored point represents.
type ChunkType string

const (
	ChunkTypeMetadata       ChunkType = "metadata"
	ChunkTypeImplementation ChunkType = "implementation"
	ChunkTypeRelation       ChunkType = "relation"
)

// chunkIDNamespace is a fixed namespace used to derive deterministic
// UUIDv5 point IDs. Using a fixed namespace (rather than random IDs) is
// what lets a rename rewrite metadata.file_path in place while leaving
// chunk IDs, and therefore embeddings, untouched.
var chunkIDNamespace = uuid.MustParse("6f6d9a4e-9b0d-4f54-9f41-9c2f9c8b8b10")

// ChunkID derives the stable point ID for a (filePath, entityName, chunkType)
// triple. Two calls with the same inputs always produce the same ID.
func ChunkID(filePath, entityName string, chunkType ChunkType) string {
	key := filePath + "::" + entityName + "::" + string(chunkType)
	return uuid.NewSHA1(chunkIDNamespace, []byte(key)).String()
}

// EntityChunk is a persisted vector-store point: text that was embedded
// plus the payload metadata needed to filter, dedup, and clean it up.
type EntityChunk struct {
	ID         string         `json:"id"`
	EntityName string         `json:"entity_name"`
	EntityType EntityType     `json:"entity_type,omitempty"`
	ChunkType  ChunkType      `json:"chunk_type"`
	Content    string         `json:"content"`
	Vector     []float32      `json:"-"`
	Metadata   map[string]any `json:"metadata"`
}

// ContentHash computes the SHA-256 hash (lowercase hex) of file bytes. This
// must always be computed from the raw file bytes, never from entity
// metadata serialization: hashing metadata would make the hash churn on
// trivial changes (e.g. a shifted line number) and defeat the dedup path.
func ContentHash(fileBytes []byte) string {
	sum := sha256.Sum256(fileBytes)
	return hex.EncodeToString(sum[:])
}

// NewMetadataChunk builds the metadata chunk for an entity. Text formatting
// follows the deterministic scheme: "<type>: <name> | <observations> [|
// Description: <docstring>] [| Signature: <signature>]".
func NewMetadataChunk(e *Entity, contentHash string) *EntityChunk {
	text := fmt.Sprintf("%s: %s", e.EntityType, e.Name)
	if len(e.Observations) > 0 {
		joined := ""
		for i, o := range e.Observations {
			if i > 0 {
				joined += "; "
			}
			joined += o
		}
		text += " | " + joined
	}
	if e.Docstring != "" {
		text += " | Description: " + e.Docstring
	}
	if e.Signature != "" {
		text += " | Signature: " + e.Signature
	}

	meta := map[string]any{
		"file_path":          e.FilePath,
		"entity_type":        string(e.EntityType),
		"has_implementation": e.EntityType.HasImplementation(),
	}
	if contentHash != "" {
		meta["content_hash"] = contentHash
	}
	for k, v := range e.Metadata {
		if _, exists := meta[k]; !exists {
			meta[k] = v
		}
	}

	return &EntityChunk{
		ID:         ChunkID(e.FilePath, e.Name, ChunkTypeMetadata),
		EntityName: e.Name,
		EntityType: e.EntityType,
		ChunkType:  ChunkTypeMetadata,
		Content:    text,
		Metadata:   meta,
	}
}

// NewImplementationChunk builds the implementation chunk for an entity whose
// type is eligible (function, method, class). Callers must check
// EntityType.HasImplementation() before calling this.
func NewImplementationChunk(e *Entity, body, contentHash string) *EntityChunk {
	meta := map[string]any{
		"file_path":   e.FilePath,
		"entity_type": string(e.EntityType),
	}
	if contentHash != "" {
		meta["content_hash"] = contentHash
	}
	return &EntityChunk{
		ID:         ChunkID(e.FilePath, e.Name, ChunkTypeImplementation),
		EntityName: e.Name,
		EntityType: e.EntityType,
		ChunkType:  ChunkTypeImplementation,
		Content:    body,
		Metadata:   meta,
	}
}

// NewRelationChunk builds the relation chunk for r, owned by the file at
// filePath. Text formatting: "Relation: <from> <type> <to> [| Context: <c>]".
func NewRelationChunk(r *Relation, filePath string) *EntityChunk {
	text := fmt.Sprintf("Relation: %s %s %s", r.FromEntity, r.RelationType, r.ToEntity)
	if r.Context != "" {
		text += " | Context: " + r.Context
	}
	entityName := r.FromEntity + "->" + r.ToEntity
	meta := map[string]any{
		"file_path":       filePath,
		"from_entity":     r.FromEntity,
		"to_entity":       r.ToEntity,
		"relation_type":   string(r.RelationType),
		"relation_target": r.ToEntity,
	}
	for k, v := range r.Metadata {
		if _, exists := meta[k]; !exists {
			meta[k] = v
		}
	}
	return &EntityChunk{
		ID:         ChunkID(filePath, entityName, ChunkTypeRelation),
		EntityName: entityName,
		ChunkType:  ChunkTypeRelation,
		Content:    text,
		Metadata:   meta,
	}
}

// IsManualPayload reports whether a raw point payload matches the manual-entry
// predicate: no file_path, none of the automation-only fields, has
// entity_name+entity_type, and is not a relation (relations carry
// relation_target/relation_type instead of a bare entity_type).
func IsManualPayload(payload map[string]any) bool {
	if fp, ok := payload["file_path"]; ok && fp != "" {
		return false
	}
	automationOnly := []string{
		"line_number", "ast_data", "signature", "docstring", "full_name",
		"ast_type", "start_line", "end_line", "source_hash", "parsed_at",
		"file_hash", "parser_version", "indexed_at",
	}
	for _, k := range automationOnly {
		if v, ok := payload[k]; ok && v != nil && v != "" {
			return false
		}
	}
	if _, isRelation := payload["relation_target"]; isRelation {
		return false
	}
	if _, isRelation := payload["relation_type"]; isRelation {
		return false
	}
	name, hasName := payload["entity_name"]
	etype, hasType := payload["entity_type"]
	if !hasName || !hasType || name == "" || etype == "" {
		return false
	}
	return true
}
