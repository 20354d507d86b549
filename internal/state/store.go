// Package state implements the durable per-collection ledger mapping
// relative file path to FileState, plus the reserved bookkeeping keys. It is
// the only component that writes the ledger's JSON file, and it does so
// atomically.
package state

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	natomic "github.com/natefinch/atomic"

	"github.com/rlefko/codeindex/internal/logging"
	"github.com/rlefko/codeindex/pkg/model"
)

const (
	stateDirName      = ".claude-indexer"
	keyStatistics     = "_statistics"
	keyLastCommit     = "_last_indexed_commit"
	keyLastIndexedAt  = "_last_indexed_time"
)

func isReservedKey(key string) bool {
	return len(key) > 0 && key[0] == '_'
}

// Ledger is the in-memory form of a collection's state file: file entries
// plus the reserved metadata keys, kept separate so callers never mistake
// one for the other.
type Ledger struct {
	Files      map[string]model.FileState
	Statistics *model.Statistics
	LastCommit string
	LastIndexedAt float64
}

// NewLedger returns an empty ledger.
func NewLedger() *Ledger {
	return &Ledger{Files: make(map[string]model.FileState)}
}

// Store is the StateStore: a durable, atomic, per-collection JSON ledger.
type Store struct {
	// ProjectDir is the project root; the ledger lives under
	// ProjectDir/.claude-indexer/<collection>.json unless StateDir overrides it.
	ProjectDir string
	// StateDir overrides the default state directory location if non-empty.
	StateDir string

	mu     sync.Mutex
	logger logging.Logger
}

// New creates a Store rooted at projectDir. If stateDir is non-empty it
// overrides the default project-local ".claude-indexer" location.
func New(projectDir, stateDir string) *Store {
	return &Store{
		ProjectDir: projectDir,
		StateDir:   stateDir,
		logger:     logging.WithComponent("state"),
	}
}

func (s *Store) dir() string {
	if s.StateDir != "" {
		return s.StateDir
	}
	return filepath.Join(s.ProjectDir, stateDirName)
}

func (s *Store) path(collection string) string {
	return filepath.Join(s.dir(), collection+".json")
}

// legacyGlobalPath returns the pre-project-local location this module
// migrates away from on first load: ~/.claude-indexer/state/<hash>/<collection>.json,
// keyed by a stable hash of the project directory so unrelated projects
// never collide.
func (s *Store) legacyGlobalPath(collection string) (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256([]byte(filepath.Clean(s.ProjectDir)))
	projHash := hex.EncodeToString(sum[:])[:16]
	return filepath.Join(home, ".claude-indexer", "state", projHash, collection+".json"), nil
}

// Load reads the ledger for collection. A missing file yields an empty
// ledger; a corrupted file yields an empty ledger plus a warning log
// (never an error) per the ledger-corruption policy.
func (s *Store) Load(collection string) (*Ledger, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	target := s.path(collection)
	if _, err := os.Stat(target); os.IsNotExist(err) {
		if _, merr := s.migrateLegacy(collection, target); merr != nil {
			return NewLedger(), nil
		}
	}
	return s.loadLocked(collection)
}

// migrateLegacy moves a legacy global-home ledger into the project-local
// location the first time it is found (copy, then remove the original),
// without merging.
func (s *Store) migrateLegacy(collection, target string) (bool, error) {
	legacy, err := s.legacyGlobalPath(collection)
	if err != nil {
		return false, err
	}
	raw, err := os.ReadFile(legacy)
	if err != nil {
		return false, err
	}
	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return false, err
	}
	if err := natomic.WriteFile(target, bytesReader(raw)); err != nil {
		return false, err
	}
	if err := os.Remove(legacy); err != nil {
		s.logger.Warn("migrated legacy ledger but could not remove the original", "from", legacy, "error", err.Error())
	}
	s.logger.Info("migrated legacy global ledger to project-local location", "collection", collection, "from", legacy, "to", target)
	return true, nil
}

// Save writes the ledger atomically: a sibling temp file is written and
// renamed over the target, so at no observable moment does the ledger file
// exist in a partially-written state.
func (s *Store) Save(collection string, ledger *Ledger) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.saveLocked(collection, ledger)
}

func (s *Store) saveLocked(collection string, ledger *Ledger) error {
	flat := make(map[string]interface{}, len(ledger.Files)+3)
	for path, fs := range ledger.Files {
		flat[path] = fs
	}
	if ledger.Statistics != nil {
		flat[keyStatistics] = ledger.Statistics
	}
	if ledger.LastCommit != "" {
		flat[keyLastCommit] = ledger.LastCommit
	}
	if ledger.LastIndexedAt != 0 {
		flat[keyLastIndexedAt] = ledger.LastIndexedAt
	}

	data, err := json.MarshalIndent(flat, "", "  ")
	if err != nil {
		return fmt.Errorf("state: marshal ledger: %w", err)
	}

	target := s.path(collection)
	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return fmt.Errorf("state: mkdir %s: %w", filepath.Dir(target), err)
	}
	if err := natomic.WriteFile(target, bytesReader(data)); err != nil {
		return fmt.Errorf("state: atomic write %s: %w", target, err)
	}
	return nil
}

// UpdateOptions controls how Update merges new state into the ledger.
type UpdateOptions struct {
	FullRebuild bool // replace the entire file map instead of merging
}

// Update merges newFiles into the ledger (or replaces it wholesale when
// FullRebuild is set), unconditionally removing deletedFiles, then
// persists the result atomically. newFiles and deletedFiles use relative
// paths, matching the ledger's own keys.
func (s *Store) Update(collection string, newFiles map[string]model.FileState, deletedFiles []string, opts UpdateOptions) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	ledger, err := s.loadLocked(collection)
	if err != nil {
		return err
	}

	if opts.FullRebuild {
		ledger.Files = make(map[string]model.FileState, len(newFiles))
	}
	for path, fs := range newFiles {
		ledger.Files[path] = fs
	}
	for _, path := range deletedFiles {
		delete(ledger.Files, path)
	}

	return s.saveLocked(collection, ledger)
}

// SetLastIndexedCommit records the commit SHA the ledger was last
// reconciled against, along with the wall-clock time of that run.
func (s *Store) SetLastIndexedCommit(collection, sha string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	ledger, err := s.loadLocked(collection)
	if err != nil {
		return err
	}
	ledger.LastCommit = sha
	ledger.LastIndexedAt = float64(time.Now().Unix())
	return s.saveLocked(collection, ledger)
}

// SaveStatistics persists run statistics into the ledger's reserved
// "_statistics" key.
func (s *Store) SaveStatistics(collection string, stats model.Statistics) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	ledger, err := s.loadLocked(collection)
	if err != nil {
		return err
	}
	ledger.Statistics = &stats
	return s.saveLocked(collection, ledger)
}

func (s *Store) loadLocked(collection string) (*Ledger, error) {
	// Reimplements the body of Load without re-acquiring the mutex, used by
	// callers that already hold it.
	target := s.path(collection)
	raw, err := os.ReadFile(target)
	if err != nil {
		if os.IsNotExist(err) {
			return NewLedger(), nil
		}
		return nil, fmt.Errorf("state: read %s: %w", target, err)
	}
	var flat map[string]json.RawMessage
	if err := json.Unmarshal(raw, &flat); err != nil {
		s.logger.Warn("corrupted ledger JSON, treating as empty", "collection", collection, "path", target, "error", err.Error())
		return NewLedger(), nil
	}
	ledger := NewLedger()
	for key, value := range flat {
		switch key {
		case keyStatistics:
			var stats model.Statistics
			if err := json.Unmarshal(value, &stats); err == nil {
				ledger.Statistics = &stats
			}
		case keyLastCommit:
			_ = json.Unmarshal(value, &ledger.LastCommit)
		case keyLastIndexedAt:
			_ = json.Unmarshal(value, &ledger.LastIndexedAt)
		default:
			if isReservedKey(key) {
				continue
			}
			var fs model.FileState
			if err := json.Unmarshal(value, &fs); err == nil {
				ledger.Files[key] = fs
			}
		}
	}
	return ledger, nil
}

func bytesReader(b []byte) *bytes.Reader { return bytes.NewReader(b) }
