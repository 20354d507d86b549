package vectorstore

import (
	"context"
	"strings"

	"github.com/rlefko/codeindex/internal/logging"
	"github.com/rlefko/codeindex/pkg/model"
)

// ResolveModuleName reports whether moduleName resolves to some entity in
// global, following the same rules for every relation-target shape a parser
// can produce:
//   - exact name match,
//   - a relative import (".foo.bar") matches any entity path ending in
//     "/foo/bar.py" or "/foo.bar.py" (either path separator), or any ".py"
//     entity path that contains "foo.bar",
//   - an absolute dotted path ("a.b.c") matches any entity path containing
//     every dotted segment and ending in ".py" for the last segment, and
//   - a bare package-level name matches any entity path containing "/name/"
//     or ending in "/name".
func ResolveModuleName(moduleName string, global map[string]struct{}) bool {
	if _, ok := global[moduleName]; ok {
		return true
	}

	if strings.HasPrefix(moduleName, ".") {
		clean := strings.TrimLeft(moduleName, ".")
		for entityName := range global {
			if strings.HasSuffix(entityName, "/"+clean+".py") || strings.HasSuffix(entityName, "\\"+clean+".py") {
				return true
			}
			if strings.Contains(clean, ".") {
				pathVersion := strings.ReplaceAll(clean, ".", "/")
				if strings.HasSuffix(entityName, "/"+pathVersion+".py") || strings.HasSuffix(entityName, "\\"+pathVersion+".py") {
					return true
				}
			}
			if strings.Contains(entityName, clean) && strings.HasSuffix(entityName, ".py") {
				return true
			}
		}
		return false
	}

	if strings.Contains(moduleName, ".") {
		parts := strings.Split(moduleName, ".")
		lastPart := parts[len(parts)-1]
		for entityName := range global {
			if !strings.HasSuffix(entityName, ".py") || !strings.Contains(entityName, lastPart) {
				continue
			}
			allPresent := true
			for _, part := range parts {
				if !strings.Contains(entityName, part) {
					allPresent = false
					break
				}
			}
			if allPresent {
				return true
			}
		}
		return false
	}

	for entityName := range global {
		if strings.Contains(entityName, "/"+moduleName+"/") || strings.HasSuffix(entityName, "/"+moduleName) {
			return true
		}
	}
	return false
}

// FilterOrphanRelations applies the pre-storage in-memory filter: calls
// relations are kept only if their target is a known entity, imports
// relations go through ResolveModuleName, and every other relation type
// passes through unchanged. Run before embedding to avoid paying for
// vectors that would be discarded anyway.
func FilterOrphanRelations(relations []*model.Relation, global map[string]struct{}) []*model.Relation {
	kept := make([]*model.Relation, 0, len(relations))
	for _, r := range relations {
		switch r.RelationType {
		case model.RelationCalls:
			if _, ok := global[r.ToEntity]; ok {
				kept = append(kept, r)
			}
		case model.RelationImports:
			if ResolveModuleName(r.ToEntity, global) {
				kept = append(kept, r)
			}
		default:
			kept = append(kept, r)
		}
	}
	return kept
}

// CleanupOrphanRelations runs the post-storage pass: scroll every relation
// chunk in collection and delete those whose from_entity or to_entity no
// longer resolves against global (the same ResolveModuleName rules apply to
// both endpoints here, since a deleted entity orphans relations in either
// direction). Intended to run after a batch of entity deletions.
func CleanupOrphanRelations(ctx context.Context, store Store, collection string, global map[string]struct{}, logger logging.Logger) (int, error) {
	relations, err := store.Scroll(ctx, collection, &Filter{}, 0, false)
	if err != nil {
		return 0, err
	}

	var orphanIDs []string
	for _, ch := range relations {
		if ch.ChunkType != model.ChunkTypeRelation {
			continue
		}
		from, _ := ch.Metadata["from_entity"].(string)
		to, _ := ch.Metadata["to_entity"].(string)
		if !ResolveModuleName(from, global) || !ResolveModuleName(to, global) {
			orphanIDs = append(orphanIDs, ch.ID)
		}
	}
	if len(orphanIDs) == 0 {
		return 0, nil
	}
	if err := store.DeletePoints(ctx, collection, orphanIDs); err != nil {
		return 0, err
	}
	if logger != nil {
		logger.Info("cleaned up orphan relations", "collection", collection, "count", len(orphanIDs))
	}
	return len(orphanIDs), nil
}

// GlobalEntityNames scrolls collection excluding relation chunks and
// returns the set of entity_name values present, for use as the
// global_entity_set input to FilterOrphanRelations/CleanupOrphanRelations.
func GlobalEntityNames(ctx context.Context, store Store, collection string) (map[string]struct{}, error) {
	chunks, err := store.Scroll(ctx, collection, &Filter{ExcludeChunkType: model.ChunkTypeRelation}, 0, false)
	if err != nil {
		return nil, err
	}
	names := make(map[string]struct{}, len(chunks))
	for _, ch := range chunks {
		if ch.EntityName != "" {
			names[ch.EntityName] = struct{}{}
		}
	}
	return names, nil
}
