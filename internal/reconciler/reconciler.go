// Package reconciler implements the core orchestrator that drives one
// indexing pipeline run: enumerate or diff files, parse them, coordinate
// chunking/embedding, commit to the vector store, and persist the ledger.
// It is the single consumer that wires parser, chunking, and vectorstore
// together; nothing else in the module calls the parser directly.
package reconciler

import (
	"context"
	"fmt"
	"io/fs"
	"path/filepath"
	"runtime"
	"runtime/debug"
	"sync"
	"time"

	"github.com/rlefko/codeindex/internal/apperrors"
	"github.com/rlefko/codeindex/internal/change"
	"github.com/rlefko/codeindex/internal/chunking"
	"github.com/rlefko/codeindex/internal/config"
	"github.com/rlefko/codeindex/internal/embeddings"
	"github.com/rlefko/codeindex/internal/fileselect"
	"github.com/rlefko/codeindex/internal/logging"
	"github.com/rlefko/codeindex/internal/parser"
	"github.com/rlefko/codeindex/internal/signature"
	"github.com/rlefko/codeindex/internal/state"
	"github.com/rlefko/codeindex/internal/vectorstore"
	"github.com/rlefko/codeindex/pkg/model"
)

// Reconciler drives pipeline runs for one project directory. It is not
// re-entrant per collection: concurrent invocations against the same
// collection are the caller's responsibility to serialize.
type Reconciler struct {
	ProjectDir string
	Collection string

	Parser    *parser.Registry
	Store     vectorstore.Store
	Embedder  embeddings.Service
	State     *state.Store
	Rules     *fileselect.Rules
	Signature *signature.Table // optional; nil disables signature writes

	IndexerCfg  config.IndexerConfig
	ChunkingCfg config.ChunkingConfig

	logger logging.Logger

	detector *change.Detector
	coord    *chunking.Coordinator
}

// New builds a Reconciler. embedder and store must be non-nil; signatureTable
// may be nil to disable the side table entirely.
func New(
	projectDir, collection string,
	reg *parser.Registry,
	store vectorstore.Store,
	embedder embeddings.Service,
	stateStore *state.Store,
	rules *fileselect.Rules,
	sigTable *signature.Table,
	indexerCfg config.IndexerConfig,
	chunkingCfg config.ChunkingConfig,
) *Reconciler {
	return &Reconciler{
		ProjectDir:  projectDir,
		Collection:  collection,
		Parser:      reg,
		Store:       store,
		Embedder:    embedder,
		State:       stateStore,
		Rules:       rules,
		Signature:   sigTable,
		IndexerCfg:  indexerCfg,
		ChunkingCfg: chunkingCfg,
		logger:      logging.WithComponent("reconciler").WithFields(map[string]interface{}{"collection": collection}),
		detector:    change.New(projectDir, rules),
		coord:       chunking.NewCoordinator(embedder, chunkingCfg, logging.WithComponent("chunking")),
	}
}

// parsedFile is what one worker produces for one absolute path.
type parsedFile struct {
	path    string
	rel     string
	content []byte
	info    model.FileState
	result  *parser.Result
	err     error
}

// IndexProject decides full vs. incremental mode by whether the collection's
// ledger already has entries, then drives the corresponding path.
func (r *Reconciler) IndexProject(ctx context.Context, includeTests bool) (*model.PipelineResult, error) {
	ledger, err := r.State.Load(r.Collection)
	if err != nil {
		return nil, err
	}
	if len(ledger.Files) == 0 {
		return r.indexFull(ctx, includeTests)
	}
	return r.IndexIncremental(ctx, "")
}

// indexFull enumerates every selectable file under ProjectDir and indexes
// all of them, bypassing change detection entirely.
func (r *Reconciler) indexFull(ctx context.Context, includeTests bool) (*model.PipelineResult, error) {
	start := time.Now()
	result := &model.PipelineResult{Operation: model.OperationFull}

	paths, err := r.enumerateFiles(includeTests)
	if err != nil {
		return nil, err
	}
	return r.runBatches(ctx, paths, result, start)
}

// IndexFiles indexes a caller-supplied set of absolute paths in one pipeline
// run, skipping change detection: the caller (typically the watcher) already
// knows exactly which files changed.
func (r *Reconciler) IndexFiles(ctx context.Context, paths []string) (*model.PipelineResult, error) {
	start := time.Now()
	result := &model.PipelineResult{Operation: model.OperationBatchFiles}
	return r.runBatches(ctx, paths, result, start)
}

// IndexSingleFile parses path, computes its GitMetaContext alone, and
// returns success with zero work if every entity is unchanged. Otherwise it
// commits and ledger-updates just that file.
func (r *Reconciler) IndexSingleFile(ctx context.Context, path string) (*model.PipelineResult, error) {
	start := time.Now()
	result := &model.PipelineResult{Operation: model.OperationSingleFile}
	res, err := r.runBatches(ctx, []string{path}, result, start)
	return res, err
}

// IndexIncremental runs ChangeDetector (git if available and sinceCommit is
// given, else content-hash against the ledger) and processes renames,
// deletions, and adds/modifies in that order before updating the commit
// marker.
func (r *Reconciler) IndexIncremental(ctx context.Context, sinceCommit string) (*model.PipelineResult, error) {
	start := time.Now()
	result := &model.PipelineResult{Operation: model.OperationIncremental}

	ledger, err := r.State.Load(r.Collection)
	if err != nil {
		return nil, err
	}
	if sinceCommit == "" {
		sinceCommit = ledger.LastCommit
	}

	cs, err := r.detector.DetectChanges(sinceCommit, ledger.Files)
	if err != nil {
		return nil, fmt.Errorf("reconciler: detect changes: %w", err)
	}

	if len(cs.RenamedFiles) > 0 {
		if err := r.handleRenames(ctx, cs.RenamedFiles); err != nil {
			result.AddWarning(fmt.Sprintf("rename handling: %v", err))
		}
	}
	if len(cs.DeletedFiles) > 0 {
		if err := r.handleDeletions(ctx, cs.DeletedFiles); err != nil {
			result.AddWarning(fmt.Sprintf("deletion handling: %v", err))
		}
		if err := r.State.Update(r.Collection, nil, cs.DeletedFiles, state.UpdateOptions{}); err != nil {
			result.AddWarning(fmt.Sprintf("ledger deletion update: %v", err))
		}
	}

	toIndex := cs.FilesToIndex()
	if len(toIndex) > 0 {
		result, err = r.runBatches(ctx, toIndex, result, start)
		if err != nil {
			return nil, err
		}
	} else {
		result.Success = true
		result.ProcessingTime = time.Since(start).Seconds()
	}

	if cs.IsGitRepo && cs.BaseCommit != "" {
		if err := r.State.SetLastIndexedCommit(r.Collection, cs.BaseCommit); err != nil {
			result.AddWarning(fmt.Sprintf("commit marker update: %v", err))
		}
	}
	return result, nil
}

// handleRenames rewrites metadata.file_path in place for every rename pair,
// preserving point IDs and embeddings, then drops the old relative paths
// from the ledger (the re-index of FilesToIndex adds the new path back via
// preCaptured, so the old key would otherwise linger in the ledger forever
// with no matching store chunk, violating ledger ⊆ store).
func (r *Reconciler) handleRenames(ctx context.Context, renames []model.RenamedPair) error {
	frs := make([]vectorstore.FileRename, 0, len(renames))
	oldRel := make([]string, 0, len(renames))
	for _, rn := range renames {
		frs = append(frs, vectorstore.FileRename{
			OldAbsPath: filepath.Join(r.ProjectDir, filepath.FromSlash(rn.OldRelPath)),
			NewAbsPath: filepath.Join(r.ProjectDir, filepath.FromSlash(rn.NewRelPath)),
		})
		oldRel = append(oldRel, rn.OldRelPath)
	}
	updated, err := r.Store.UpdateFilePaths(ctx, r.Collection, frs)
	if err != nil {
		return err
	}
	r.logger.Info("renamed file paths in store", "pairs", len(renames), "points_updated", updated)

	if err := r.State.Update(r.Collection, nil, oldRel, state.UpdateOptions{}); err != nil {
		return fmt.Errorf("drop renamed-from ledger keys: %w", err)
	}
	return nil
}

// handleDeletions resolves each deleted relative path to absolute, deletes
// every point whose file_path matches it, then triggers orphan-relation
// cleanup once all deletions are done.
func (r *Reconciler) handleDeletions(ctx context.Context, deletedRel []string) error {
	var allErrs []string
	for _, rel := range deletedRel {
		abs := filepath.Join(r.ProjectDir, filepath.FromSlash(rel))
		chunks, err := r.Store.FindEntitiesForFile(ctx, r.Collection, abs)
		if err != nil {
			allErrs = append(allErrs, err.Error())
			continue
		}
		if r.Signature != nil {
			if err := r.Signature.DeleteForFile(abs); err != nil {
				r.logger.Warn("failed to clear signature rows for deleted file", "path", abs, "error", err.Error())
			}
		}
		if len(chunks) == 0 {
			continue
		}
		ids := make([]string, len(chunks))
		for i, ch := range chunks {
			ids[i] = ch.ID
		}
		if err := r.Store.DeletePoints(ctx, r.Collection, ids); err != nil {
			allErrs = append(allErrs, err.Error())
		}
	}

	global, err := vectorstore.GlobalEntityNames(ctx, r.Store, r.Collection)
	if err == nil {
		if _, cerr := vectorstore.CleanupOrphanRelations(ctx, r.Store, r.Collection, global, r.logger); cerr != nil {
			allErrs = append(allErrs, cerr.Error())
		}
	}

	if len(allErrs) > 0 {
		return fmt.Errorf("reconciler: deletion errors: %v", allErrs)
	}
	return nil
}

// DeleteFiles removes every indexed point belonging to the given absolute
// paths and runs orphan-relation cleanup afterward. Used by the watcher for
// paths it has confirmed, after a second-chance recheck, are real deletions
// rather than atomic-save races.
func (r *Reconciler) DeleteFiles(ctx context.Context, absPaths []string) error {
	rel := make([]string, 0, len(absPaths))
	for _, abs := range absPaths {
		r2, err := filepath.Rel(r.ProjectDir, abs)
		if err != nil {
			r2 = abs
		}
		rel = append(rel, filepath.ToSlash(r2))
	}
	return r.handleDeletions(ctx, rel)
}

// ClearCollection deletes every code-origin point in the collection
// (preserving manual entries iff preserveManual) and resets the ledger.
func (r *Reconciler) ClearCollection(ctx context.Context, preserveManual bool) (int, error) {
	count, err := r.Store.ClearCollection(ctx, r.Collection, preserveManual)
	if err != nil {
		return 0, err
	}
	if err := r.State.Update(r.Collection, nil, nil, state.UpdateOptions{FullRebuild: true}); err != nil {
		r.logger.Warn("failed to reset ledger after clear", "error", err.Error())
	}
	return count, nil
}

// enumerateFiles walks ProjectDir applying Rules, returning every selectable
// absolute path. includeTests is not read here: which files are selected,
// test files included, depends on Rules alone.
func (r *Reconciler) enumerateFiles(includeTests bool) ([]string, error) {
	var paths []string
	err := filepath.Walk(r.ProjectDir, func(path string, info fs.FileInfo, err error) error {
		if err != nil {
			return nil // unreadable entries are skipped, not fatal
		}
		if info.IsDir() {
			return nil
		}
		rel, relErr := filepath.Rel(r.ProjectDir, path)
		if relErr != nil {
			return nil
		}
		rel = filepath.ToSlash(rel)
		if r.Rules != nil && !r.Rules.Allowed(rel, info.Size()) {
			return nil
		}
		paths = append(paths, path)
		return nil
	})
	return paths, err
}

// runBatches is the shared main loop for indexFull/IndexFiles/IndexSingleFile:
// adaptive batch sizing, parallel parsing, pre-storage orphan filter,
// GitMetaContext-driven dedup, commit, ledger persistence, and
// post-storage orphan cleanup.
func (r *Reconciler) runBatches(ctx context.Context, paths []string, result *model.PipelineResult, start time.Time) (*model.PipelineResult, error) {
	if len(paths) == 0 {
		result.Success = true
		result.ProcessingTime = time.Since(start).Seconds()
		return result, nil
	}

	if err := r.ensureCollection(ctx); err != nil {
		result.AddError(err.Error())
		result.ProcessingTime = time.Since(start).Seconds()
		return result, nil
	}

	size := initialBatchSize(r.ChunkingCfg)
	floor := r.ChunkingCfg.MinBatchSize
	if floor <= 0 {
		floor = 2
	}
	ceiling := r.ChunkingCfg.MaxBatchSize
	if ceiling <= 0 {
		ceiling = 100
	}

	priorGlobal, _ := vectorstore.GlobalEntityNames(ctx, r.Store, r.Collection)

	successiveSuccess := 0
	var allBatches []chunking.FileBatch
	preCaptured := make(map[string]model.FileState)

	for i := 0; i < len(paths); i += size {
		end := i + size
		if end > len(paths) {
			end = len(paths)
		}
		batchPaths := paths[i:end]

		parsed := r.parseBatch(ctx, batchPaths)
		batchOK := true
		for _, pf := range parsed {
			if pf.err != nil {
				result.FilesFailed++
				result.FailedFiles = append(result.FailedFiles, pf.path)
				result.AddError(fmt.Sprintf("%s: %v", pf.path, pf.err))
				batchOK = false
				continue
			}
			fb := chunking.FileBatch{
				FilePath:             pf.path,
				ContentHash:          pf.info.Hash,
				Entities:             pf.result.Entities,
				ImplementationBodies: implementationBodies(pf.result),
				Relations:            pf.result.Relations,
			}
			allBatches = append(allBatches, fb)
			preCaptured[pf.rel] = pf.info
			result.FilesProcessed++
			result.ProcessedFiles = append(result.ProcessedFiles, pf.path)
		}

		if batchOK {
			successiveSuccess++
			if successiveSuccess >= 2 && size < ceiling {
				size *= 2
				if size > ceiling {
					size = ceiling
				}
				successiveSuccess = 0
			}
		} else {
			successiveSuccess = 0
		}

		if memoryHighWaterMark(r.IndexerCfg.MemorySoftCapMB) {
			if size > floor {
				size = size / 2
				if size < floor {
					size = floor
				}
			}
			debug.FreeOSMemory()
		}
	}

	// pre-storage orphan filter: global_entity_set is the scrolled set plus
	// every entity discovered in this run's batches.
	localGlobal := make(map[string]struct{}, len(priorGlobal))
	for k := range priorGlobal {
		localGlobal[k] = struct{}{}
	}
	for _, fb := range allBatches {
		for _, e := range fb.Entities {
			localGlobal[e.Name] = struct{}{}
		}
	}
	for i := range allBatches {
		allBatches[i].Relations = vectorstore.FilterOrphanRelations(allBatches[i].Relations, localGlobal)
	}

	gitMeta, err := r.coord.BuildGitMetaContext(ctx, r.Collection, r.Store, allBatches, priorGlobal)
	if err != nil {
		result.AddError(fmt.Sprintf("git meta context: %v", err))
		result.ProcessingTime = time.Since(start).Seconds()
		return result, nil
	}
	coordResult, err := r.coord.Coordinate(ctx, allBatches, gitMeta)
	if err != nil {
		// Embedding failures are fatal for the batch per the error-handling
		// policy table: the ledger is left untouched so the next run
		// re-detects these files as changed.
		result.AddError(apperrors.New(apperrors.CodeEmbedding, r.Collection, "coordinate batches", err).Error())
		result.ProcessingTime = time.Since(start).Seconds()
		return result, nil
	}

	if len(coordResult.Chunks) > 0 {
		if err := r.Store.UpsertPoints(ctx, r.Collection, coordResult.Chunks); err != nil {
			// Store failures are fatal for the batch: the ledger is not
			// updated, so the next run re-detects the same files as changed.
			result.AddError(apperrors.New(apperrors.CodeStoreUpsert, r.Collection, "upsert points", err).Error())
			result.ProcessingTime = time.Since(start).Seconds()
			return result, nil
		}
	}

	if err := r.State.Update(r.Collection, preCaptured, nil, state.UpdateOptions{}); err != nil {
		result.AddWarning(fmt.Sprintf("ledger update: %v", err))
	}

	r.writeSignatures(coordResult.Chunks, result)

	finalGlobal := make(map[string]struct{}, len(localGlobal))
	for k := range localGlobal {
		finalGlobal[k] = struct{}{}
	}
	if n, err := vectorstore.CleanupOrphanRelations(ctx, r.Store, r.Collection, finalGlobal, r.logger); err != nil {
		result.AddWarning(fmt.Sprintf("orphan cleanup: %v", err))
	} else if n > 0 {
		r.logger.Info("cleaned up orphan relations", "count", n)
	}

	result.EntitiesCreated = coordResult.EntitiesEmbedded
	result.RelationsCreated = coordResult.RelationsEmbedded
	result.ImplementationChunksCreated = countImplementationChunks(coordResult.Chunks)
	result.EmbeddingRequests = coordResult.EmbeddingRequests
	result.EmbeddingsReused = coordResult.EmbeddingsReused
	result.Success = true
	result.ProcessingTime = time.Since(start).Seconds()

	stats := model.Statistics{
		FilesProcessed:              result.FilesProcessed,
		TotalTracked:                len(preCaptured),
		EntitiesCreated:             result.EntitiesCreated,
		RelationsCreated:            result.RelationsCreated,
		ImplementationChunksCreated: result.ImplementationChunksCreated,
		ProcessingTime:              result.ProcessingTime,
		Timestamp:                   float64(time.Now().Unix()),
	}
	if err := r.State.SaveStatistics(r.Collection, stats); err != nil {
		result.AddWarning(fmt.Sprintf("statistics save: %v", err))
	}

	return result, nil
}

// parseBatch runs the parser over batchPaths, using a worker pool when
// UseParallelProcessing is set and the batch is large enough to be worth
// the dispatch overhead.
func (r *Reconciler) parseBatch(ctx context.Context, batchPaths []string) []parsedFile {
	const parallelThreshold = 100
	if !r.IndexerCfg.UseParallelProcessing || len(batchPaths) < parallelThreshold {
		out := make([]parsedFile, len(batchPaths))
		for i, p := range batchPaths {
			out[i] = r.parseOne(p)
		}
		return out
	}

	workers := r.IndexerCfg.MaxParallelWorkers
	if workers <= 0 {
		workers = runtime.NumCPU() - 1
		if workers > 16 {
			workers = 16
		}
		if workers < 1 {
			workers = 1
		}
	}

	jobs := make(chan int, len(batchPaths))
	out := make([]parsedFile, len(batchPaths))
	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for idx := range jobs {
				out[idx] = r.parseOne(batchPaths[idx])
			}
		}()
	}
	for i := range batchPaths {
		jobs <- i
	}
	close(jobs)
	wg.Wait()
	return out
}

// parseOne reads, hashes, and parses a single file. A parser-level failure
// is not itself a pipeline failure here: the registry already falls back
// internally (see parser.Registry.Parse), so pf.err is only set for
// unreadable files.
func (r *Reconciler) parseOne(path string) parsedFile {
	content, info, err := parser.ReadFile(path)
	if err != nil {
		return parsedFile{path: path, err: apperrors.New(apperrors.CodeFileRead, path, "read file", err)}
	}
	rel, relErr := filepath.Rel(r.ProjectDir, path)
	if relErr != nil {
		rel = path
	}
	rel = filepath.ToSlash(rel)

	hash := model.ContentHash(content)
	var result *parser.Result
	if parser.ClassifyTier(path, info.Size()) == parser.TierLight {
		result = parser.LightTierResult(path, content)
	} else {
		result = r.Parser.Parse(path, content)
	}

	return parsedFile{
		path:    path,
		rel:     rel,
		content: content,
		info:    model.FileState{Hash: hash, Size: info.Size(), Mtime: float64(info.ModTime().UnixNano()) / 1e9},
		result:  result,
	}
}

// ensureCollection creates the collection if it doesn't exist yet, using
// the embedder's dimension. If the embedder can't report one yet the
// collection is left uncreated — the first upsert will implicitly
// establish it through the store's own lazy-create path where supported.
func (r *Reconciler) ensureCollection(ctx context.Context) error {
	exists, err := r.Store.CollectionExists(ctx, r.Collection)
	if err != nil {
		return apperrors.New(apperrors.CodeStoreUnavailable, r.Collection, "check collection existence", err)
	}
	if exists {
		return nil
	}
	dim := r.Embedder.Dimensions()
	if dim <= 0 {
		return nil
	}
	if err := r.Store.EnsureCollection(ctx, r.Collection, dim); err != nil {
		return apperrors.New(apperrors.CodeStoreUnavailable, r.Collection, "ensure collection", err)
	}
	return nil
}

// writeSignatures is best-effort: a failure here is recorded as a pipeline
// warning, never a pipeline error, per the signature side table's contract.
func (r *Reconciler) writeSignatures(chunks []*model.EntityChunk, result *model.PipelineResult) {
	if r.Signature == nil {
		return
	}
	for _, ch := range chunks {
		if ch.ChunkType != model.ChunkTypeMetadata {
			continue
		}
		filePath, _ := ch.Metadata["file_path"].(string)
		contentHash, _ := ch.Metadata["content_hash"].(string)
		if contentHash == "" {
			continue
		}
		if err := r.Signature.Upsert(contentHash, ch.EntityName, string(ch.EntityType), filePath); err != nil {
			result.AddWarning(fmt.Sprintf("signature write failed for %s: %v", ch.EntityName, err))
		}
	}
}

func initialBatchSize(cfg config.ChunkingConfig) int {
	if cfg.InitialBatchSize > 0 {
		return cfg.InitialBatchSize
	}
	return 25
}

func implementationBodies(res *parser.Result) map[string]string {
	bodies := make(map[string]string, len(res.ImplementationChunks))
	for _, ch := range res.ImplementationChunks {
		bodies[ch.EntityName] = ch.Content
	}
	return bodies
}

func countImplementationChunks(chunks []*model.EntityChunk) int {
	n := 0
	for _, ch := range chunks {
		if ch.ChunkType == model.ChunkTypeImplementation {
			n++
		}
	}
	return n
}

// memoryHighWaterMark reports whether the process's heap is at or above
// capMB; 0 disables the check entirely.
func memoryHighWaterMark(capMB int) bool {
	if capMB <= 0 {
		return false
	}
	var m runtime.MemStats
	runtime.ReadMemStats(&m)
	return m.HeapAlloc/(1024*1024) >= uint64(capMB)
}
