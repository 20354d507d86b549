package model

import "fmt"

// FileState is the StateStore ledger entry for a single relative path.
type FileState struct {
	Hash  string  `json:"hash"`
	Size  int64   `json:"size"`
	Mtime float64 `json:"mtime"` // POSIX seconds, float-valued
}

// Statistics is persisted under the reserved "_statistics" ledger key after
// each successful pipeline run.
type Statistics struct {
	FilesProcessed               int     `json:"files_processed"`
	TotalTracked                 int     `json:"total_tracked"`
	EntitiesCreated               int     `json:"entities_created"`
	RelationsCreated              int     `json:"relations_created"`
	ImplementationChunksCreated   int     `json:"implementation_chunks_created"`
	ProcessingTime                float64 `json:"processing_time"`
	Timestamp                     float64 `json:"timestamp"`
}

// ChangeSet is the output of the ChangeDetector: the set of paths requiring
// attention this run, plus git provenance if available.
type ChangeSet struct {
	AddedFiles    []string      // absolute paths
	ModifiedFiles []string      // absolute paths
	DeletedFiles  []string      // relative paths, previously present in ledger
	RenamedFiles  []RenamedPair // old/new relative paths
	BaseCommit    string        // empty if unknown
	IsGitRepo     bool
}

// RenamedPair is one (old_rel, new_rel) rename detected by the git strategy.
type RenamedPair struct {
	OldRelPath string
	NewRelPath string
}

// HasChanges reports whether any files require processing.
func (cs *ChangeSet) HasChanges() bool {
	return len(cs.AddedFiles) > 0 || len(cs.ModifiedFiles) > 0 ||
		len(cs.DeletedFiles) > 0 || len(cs.RenamedFiles) > 0
}

// TotalFiles returns the count of distinct files touched by the change set.
func (cs *ChangeSet) TotalFiles() int {
	return len(cs.AddedFiles) + len(cs.ModifiedFiles) + len(cs.DeletedFiles) + len(cs.RenamedFiles)
}

// FilesToIndex returns the union of added and modified absolute paths.
func (cs *ChangeSet) FilesToIndex() []string {
	out := make([]string, 0, len(cs.AddedFiles)+len(cs.ModifiedFiles))
	out = append(out, cs.AddedFiles...)
	out = append(out, cs.ModifiedFiles...)
	return out
}

// Summary produces a short human-readable description of the change set.
func (cs *ChangeSet) Summary() string {
	return fmt.Sprintf("added=%d modified=%d deleted=%d renamed=%d",
		len(cs.AddedFiles), len(cs.ModifiedFiles), len(cs.DeletedFiles), len(cs.RenamedFiles))
}

// GitMetaContext is computed per-batch by the reconciler: which entities
// actually need (re-)embedding, how many were skipped via the content-hash
// dedup path, and a cached snapshot of global entity names used to filter
// orphan relations inline during this run.
type GitMetaContext struct {
	ChangedEntityIDs    map[string]struct{}
	UnchangedSkipCount  int
	ShouldProcess       bool
	GlobalEntityNames   map[string]struct{}
}

// PipelineOperation names the kind of run that produced a PipelineResult.
type PipelineOperation string

const (
	OperationFull       PipelineOperation = "full"
	OperationIncremental PipelineOperation = "incremental"
	OperationSingleFile  PipelineOperation = "single_file"
	OperationBatchFiles  PipelineOperation = "batch_files"
)

// PipelineResult is returned to callers of every top-level reconciler entry
// point.
type PipelineResult struct {
	Success    bool              `json:"success"`
	Operation  PipelineOperation `json:"operation"`

	FilesProcessed int `json:"files_processed"`
	FilesFailed    int `json:"files_failed"`

	EntitiesCreated             int `json:"entities_created"`
	RelationsCreated            int `json:"relations_created"`
	ImplementationChunksCreated int `json:"implementation_chunks_created"`

	ProcessingTime float64 `json:"processing_time"`

	TotalTokens         int     `json:"total_tokens"`
	TotalCostEstimate   float64 `json:"total_cost_estimate"`
	EmbeddingRequests   int     `json:"embedding_requests"`
	EmbeddingsReused    int     `json:"embeddings_reused"`

	ProcessedFiles []string `json:"processed_files"`
	FailedFiles    []string `json:"failed_files"`

	Errors   []string `json:"errors"`
	Warnings []string `json:"warnings"`
}

// AddError appends a message to Errors.
func (r *PipelineResult) AddError(msg string) { r.Errors = append(r.Errors, msg) }

// AddWarning appends a message to Warnings.
func (r *PipelineResult) AddWarning(msg string) { r.Warnings = append(r.Warnings, msg) }
