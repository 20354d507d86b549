// Package chunking turns parsed entities and relations into embedding-ready
// text, batches those texts into the embedder, and implements the
// content-hash dedup path that makes unchanged re-runs near-free.
package chunking

import (
	"context"
	"fmt"

	"github.com/rlefko/codeindex/internal/config"
	"github.com/rlefko/codeindex/internal/embeddings"
	"github.com/rlefko/codeindex/internal/logging"
	"github.com/rlefko/codeindex/pkg/model"
)

// ContentChecker is the subset of the vector store contract the coordinator
// needs to decide whether a file's entities can be skipped entirely.
type ContentChecker interface {
	CheckContentExists(ctx context.Context, collection, contentHash string) (bool, error)
}

// FileBatch groups everything extracted from one file that the coordinator
// needs to produce chunks for it. ImplementationBodies holds the raw code
// body for every entity in Entities whose EntityType.HasImplementation() is
// true; entities without an eligible type are simply absent from the map.
type FileBatch struct {
	FilePath             string
	ContentHash          string
	Entities             []*model.Entity
	ImplementationBodies map[string]string
	Relations            []*model.Relation
}

// Result summarizes one Coordinate call for inclusion in a PipelineResult.
type Result struct {
	Chunks []*model.EntityChunk

	EntitiesEmbedded  int
	EntitiesSkipped   int
	RelationsEmbedded int

	EmbeddingRequests int
	EmbeddingsReused  int
}

// cacheStater is implemented by embedder backends that expose hit-rate
// stats (currently the OpenAI provider). Used only to report
// embeddings_reused; its absence degrades gracefully to a zero count.
type cacheStater interface {
	CacheStats() (size int, hits, misses int64, hitRate float64)
}

// Coordinator assembles chunks, deduplicates against prior content hashes,
// and batches text into the embedder.
type Coordinator struct {
	embedder embeddings.Service
	cfg      config.ChunkingConfig
	logger   logging.Logger
}

// NewCoordinator builds a Coordinator bound to a specific embedder and
// batch-sizing configuration.
func NewCoordinator(embedder embeddings.Service, cfg config.ChunkingConfig, logger logging.Logger) *Coordinator {
	if cfg.RelationBatchTarget <= 0 {
		cfg.RelationBatchTarget = 500
	}
	if cfg.MaxBatchSize <= 0 {
		cfg.MaxBatchSize = 100
	}
	return &Coordinator{embedder: embedder, cfg: cfg, logger: logger}
}

// entityKey is the (file_path, entity_name) key used both for the changed
// set in GitMetaContext and for correlating an Entity back to its batch.
func entityKey(filePath, name string) string {
	if filePath == "" {
		return name
	}
	return filePath + "::" + name
}

// BuildGitMetaContext decides, per file, whether its content hash already
// exists in the store. A file whose hash exists is fully unchanged (the
// hash is computed from raw file bytes, so any entity or relation
// modification already changed it) and every one of its entities is
// recorded as an unchanged skip rather than a changed entity. priorGlobal
// is the set of entity names already known to the store (from a prior
// scroll); it is unioned with every batch's own entity names so that a
// file's first-ever relations are never filtered as orphans against a
// global set that does not yet include it.
func (c *Coordinator) BuildGitMetaContext(ctx context.Context, collection string, checker ContentChecker, batches []FileBatch, priorGlobal map[string]struct{}) (*model.GitMetaContext, error) {
	meta := &model.GitMetaContext{
		ChangedEntityIDs:  make(map[string]struct{}),
		GlobalEntityNames: make(map[string]struct{}),
	}
	for name := range priorGlobal {
		meta.GlobalEntityNames[name] = struct{}{}
	}

	totalEntities := 0
	for _, batch := range batches {
		totalEntities += len(batch.Entities)
		for _, e := range batch.Entities {
			meta.GlobalEntityNames[e.Name] = struct{}{}
		}

		unchanged := false
		if checker != nil && batch.ContentHash != "" {
			exists, err := checker.CheckContentExists(ctx, collection, batch.ContentHash)
			if err != nil {
				c.logger.Debug("chunking: content check failed, treating as changed", "file", batch.FilePath, "error", err)
			} else {
				unchanged = exists
			}
		}

		if unchanged {
			meta.UnchangedSkipCount += len(batch.Entities)
			continue
		}
		for _, e := range batch.Entities {
			meta.ChangedEntityIDs[entityKey(batch.FilePath, e.Name)] = struct{}{}
		}
	}

	meta.ShouldProcess = totalEntities == 0 || meta.UnchangedSkipCount < totalEntities
	return meta, nil
}

// Coordinate turns every changed entity/relation across batches into
// EntityChunks with vectors populated, skipping anything GitMetaContext
// marked as an unchanged entity. Metadata, implementation, and relation
// chunks are embedded in separate logical batches sized per cfg, with
// relations targeting the larger RelationBatchTarget since they are
// typically the largest homogeneous group.
func (c *Coordinator) Coordinate(ctx context.Context, batches []FileBatch, gitMeta *model.GitMetaContext) (*Result, error) {
	result := &Result{}

	var metadataChunks, implChunks, relationChunks []*model.EntityChunk

	for _, batch := range batches {
		for _, e := range batch.Entities {
			if gitMeta != nil {
				if _, changed := gitMeta.ChangedEntityIDs[entityKey(batch.FilePath, e.Name)]; !changed {
					result.EntitiesSkipped++
					continue
				}
			}
			metadataChunks = append(metadataChunks, model.NewMetadataChunk(e, batch.ContentHash))
			if e.EntityType.HasImplementation() {
				if body, ok := batch.ImplementationBodies[e.Name]; ok && body != "" {
					implChunks = append(implChunks, model.NewImplementationChunk(e, body, batch.ContentHash))
				}
			} else if _, ok := batch.ImplementationBodies[e.Name]; ok {
				c.logger.Debug("chunking: dropping implementation chunk for ineligible entity type", "entity", e.Name, "entity_type", e.EntityType)
			}
			result.EntitiesEmbedded++
		}

		for _, r := range batch.Relations {
			if gitMeta != nil {
				if _, changed := gitMeta.ChangedEntityIDs[entityKey(batch.FilePath, r.FromEntity)]; !changed {
					if _, changedTo := gitMeta.ChangedEntityIDs[entityKey(batch.FilePath, r.ToEntity)]; !changedTo {
						continue
					}
				}
			}
			relationChunks = append(relationChunks, model.NewRelationChunk(r, batch.FilePath))
			result.RelationsEmbedded++
		}
	}

	metaBatchSize := c.cfg.MaxBatchSize
	if err := c.embedGroup(ctx, metadataChunks, metaBatchSize, result); err != nil {
		return nil, fmt.Errorf("chunking: embedding metadata chunks: %w", err)
	}
	if err := c.embedGroup(ctx, implChunks, metaBatchSize, result); err != nil {
		return nil, fmt.Errorf("chunking: embedding implementation chunks: %w", err)
	}
	if err := c.embedGroup(ctx, relationChunks, c.cfg.RelationBatchTarget, result); err != nil {
		return nil, fmt.Errorf("chunking: embedding relation chunks: %w", err)
	}

	result.Chunks = append(result.Chunks, metadataChunks...)
	result.Chunks = append(result.Chunks, implChunks...)
	result.Chunks = append(result.Chunks, relationChunks...)
	return result, nil
}

// embedGroup calls the embedder in batches of at most batchSize, writing
// each returned vector back onto its chunk and accumulating request/reuse
// counters onto result.
func (c *Coordinator) embedGroup(ctx context.Context, chunks []*model.EntityChunk, batchSize int, result *Result) error {
	if len(chunks) == 0 {
		return nil
	}
	if batchSize <= 0 {
		batchSize = len(chunks)
	}

	for start := 0; start < len(chunks); start += batchSize {
		end := start + batchSize
		if end > len(chunks) {
			end = len(chunks)
		}
		slice := chunks[start:end]

		texts := make([]string, len(slice))
		for i, ch := range slice {
			texts[i] = ch.Content
		}

		hitsBefore := c.cacheHits()
		vectors, err := c.embedder.GenerateBatch(ctx, texts)
		if err != nil {
			return err
		}
		if len(vectors) != len(slice) {
			return fmt.Errorf("chunking: embedder returned %d vectors for %d texts", len(vectors), len(slice))
		}
		result.EmbeddingRequests++
		result.EmbeddingsReused += c.cacheHits() - hitsBefore

		for i, ch := range slice {
			ch.Vector = toFloat32(vectors[i])
		}
	}
	return nil
}

func (c *Coordinator) cacheHits() int64 {
	if cs, ok := c.embedder.(cacheStater); ok {
		_, hits, _, _ := cs.CacheStats()
		return hits
	}
	return 0
}

func toFloat32(v []float64) []float32 {
	out := make([]float32, len(v))
	for i, x := range v {
		out[i] = float32(x)
	}
	return out
}
