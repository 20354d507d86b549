// Package watcher implements the debounced filesystem watcher that keeps a
// collection's index in step with a live working tree: it subscribes to
// recursive fs events, coalesces bursts of activity per path, and drives
// the reconciler's no-change-detection entry points once a path has
// settled.
package watcher

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/rlefko/codeindex/internal/config"
	"github.com/rlefko/codeindex/internal/fileselect"
	"github.com/rlefko/codeindex/internal/logging"
	"github.com/rlefko/codeindex/pkg/model"
)

// fastExcludeDirs are rejected before any glob matching runs at all — the
// watcher's own bookkeeping directory would otherwise re-trigger itself.
var fastExcludeDirs = []string{".claude-indexer/", ".claude/", ".git/"}

// isFastExcluded rejects the watcher's own bookkeeping directories before
// any glob matching runs, mirroring the handler's cheap substring check
// that short-circuits before the more expensive include/exclude pass.
func isFastExcluded(rel string) bool {
	for _, excl := range fastExcludeDirs {
		if strings.HasPrefix(rel+"/", excl) || strings.Contains("/"+rel+"/", "/"+excl) {
			return true
		}
	}
	return false
}

// Indexer is the subset of *reconciler.Reconciler the watcher drives for
// surviving files. skip_change_detection is implicit: the watcher already
// knows these paths changed, so there is no reason to pay for git-diff or
// content-hash comparisons again.
type Indexer interface {
	IndexFiles(ctx context.Context, paths []string) (*model.PipelineResult, error)
}

// Deleter is the subset of *reconciler.Reconciler the watcher drives for
// paths confirmed, after a second-chance recheck, to be real deletions.
type Deleter interface {
	DeleteFiles(ctx context.Context, absPaths []string) error
}

// Watcher watches one project directory and keeps Indexer/Deleter in sync
// with it until Run's context is cancelled or Stop is called.
type Watcher struct {
	projectDir string
	rules      *fileselect.Rules
	indexer    Indexer
	deleter    Deleter
	delay      time.Duration
	trimAfter  time.Duration
	logger     logging.Logger

	coalescer *coalescer

	stopOnce sync.Once
	stopCh   chan struct{}
	wg       sync.WaitGroup
}

// New builds a Watcher for projectDir. rules is the same selection policy
// the bulk indexer uses, so a file the indexer would never index doesn't
// get a watch event either.
func New(projectDir string, rules *fileselect.Rules, indexer Indexer, deleter Deleter, cfg config.WatcherConfig) *Watcher {
	delay := time.Duration(cfg.DebounceSeconds * float64(time.Second))
	if delay <= 0 {
		delay = 2 * time.Second
	}
	trimAfter := time.Duration(cfg.TrimAfterSeconds * float64(time.Second))
	if trimAfter <= 0 {
		trimAfter = 5 * time.Minute
	}
	return &Watcher{
		projectDir: projectDir,
		rules:      rules,
		indexer:    indexer,
		deleter:    deleter,
		delay:      delay,
		trimAfter:  trimAfter,
		logger:     logging.WithComponent("watcher"),
		coalescer:  newCoalescer(delay),
		stopCh:     make(chan struct{}),
	}
}

// Run subscribes to the project tree and processes events until ctx is
// cancelled or Stop is called. It blocks; call it from a dedicated
// goroutine. On exit it flushes any still-pending path through one final
// batch so a shutdown never silently drops a debounced change.
func (w *Watcher) Run(ctx context.Context) error {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("watcher: create fsnotify watcher: %w", err)
	}
	defer fsw.Close()

	if err := w.addRecursive(fsw, w.projectDir); err != nil {
		return fmt.Errorf("watcher: subscribe %s: %w", w.projectDir, err)
	}

	ticker := time.NewTicker(w.delay)
	defer ticker.Stop()
	trimTicker := time.NewTicker(time.Minute)
	defer trimTicker.Stop()

	w.logger.Info("watcher started", "project_dir", w.projectDir, "debounce", w.delay.String())

	for {
		select {
		case <-ctx.Done():
			w.flushAll(context.Background())
			w.wg.Wait()
			return ctx.Err()
		case <-w.stopCh:
			w.flushAll(context.Background())
			w.wg.Wait()
			return nil
		case ev, ok := <-fsw.Events:
			if !ok {
				return nil
			}
			w.handleEvent(fsw, ev)
		case err, ok := <-fsw.Errors:
			if !ok {
				return nil
			}
			w.logger.Warn("fsnotify error", "error", err.Error())
		case now := <-ticker.C:
			w.processReady(ctx, now)
		case now := <-trimTicker.C:
			w.coalescer.trim(w.trimAfter, now)
		}
	}
}

// Stop requests a cooperative shutdown; Run returns once the final flush
// and any in-flight second-chance goroutines have completed.
func (w *Watcher) Stop() {
	w.stopOnce.Do(func() { close(w.stopCh) })
}

func (w *Watcher) handleEvent(fsw *fsnotify.Watcher, ev fsnotify.Event) {
	rel, err := filepath.Rel(w.projectDir, ev.Name)
	if err != nil {
		rel = ev.Name
	}
	rel = filepath.ToSlash(rel)

	if isFastExcluded(rel) {
		return
	}

	if ev.Op == fsnotify.Chmod {
		return
	}

	info, statErr := os.Stat(ev.Name)
	isDir := statErr == nil && info.IsDir()

	if ev.Op&fsnotify.Create != 0 && isDir {
		if w.rules.AllowedDir(rel) {
			if err := w.addRecursive(fsw, ev.Name); err != nil {
				w.logger.Warn("failed to watch new directory", "path", ev.Name, "error", err.Error())
			}
		}
		return
	}
	if isDir {
		return
	}

	var size int64
	if statErr == nil {
		size = info.Size()
	}
	if statErr == nil && !w.rules.Allowed(rel, size) {
		return
	}
	// A deleted file can't be stat'd, so Allowed's size/include checks are
	// skipped for it; processReady's second-chance recheck is what
	// ultimately decides whether it was real.

	w.coalescer.add(ev.Name)
}

// processReady drains every path that has been stable for the debounce
// window and dispatches it: files that still exist go straight to the
// indexer; files that appear gone get a second-chance recheck one more
// debounce interval later, so an atomic save (unlink+rename) is never
// mistaken for a deletion.
func (w *Watcher) processReady(ctx context.Context, now time.Time) {
	ready := w.coalescer.ready(now)
	if len(ready) == 0 {
		return
	}
	w.dispatch(ctx, ready, false)
}

func (w *Watcher) flushAll(ctx context.Context) {
	remaining := w.coalescer.drain()
	if len(remaining) == 0 {
		return
	}
	w.dispatch(ctx, remaining, true)
}

// dispatch splits paths into files that still exist and files that appear
// deleted. Existing files are indexed immediately. Missing files get a
// second-chance recheck after one more debounce interval unless immediate
// is set (shutdown flush, where there is no further interval to wait for).
func (w *Watcher) dispatch(ctx context.Context, paths []string, immediate bool) {
	var existing, missing []string
	for _, p := range paths {
		if _, err := os.Stat(p); err == nil {
			existing = append(existing, p)
		} else {
			missing = append(missing, p)
		}
	}

	if len(existing) > 0 {
		w.runIndex(ctx, existing)
	}

	if len(missing) == 0 {
		return
	}
	if immediate {
		w.runDelete(ctx, missing)
		return
	}

	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		select {
		case <-time.After(w.delay):
		case <-ctx.Done():
		}

		var reappeared, confirmedDeleted []string
		for _, p := range missing {
			if _, err := os.Stat(p); err == nil {
				reappeared = append(reappeared, p)
			} else {
				confirmedDeleted = append(confirmedDeleted, p)
			}
		}
		if len(reappeared) > 0 {
			w.runIndex(context.Background(), reappeared)
		}
		if len(confirmedDeleted) > 0 {
			w.runDelete(context.Background(), confirmedDeleted)
		}
	}()
}

func (w *Watcher) runIndex(ctx context.Context, paths []string) {
	result, err := w.indexer.IndexFiles(ctx, paths)
	if err != nil {
		w.logger.Warn("watcher batch index failed", "files", len(paths), "error", err.Error())
		return
	}
	if !result.Success {
		w.logger.Warn("watcher batch index reported failure", "files", len(paths), "errors", result.Errors)
		return
	}
	w.logger.Info("watcher indexed batch", "files", result.FilesProcessed, "entities", result.EntitiesCreated)
}

func (w *Watcher) runDelete(ctx context.Context, paths []string) {
	if err := w.deleter.DeleteFiles(ctx, paths); err != nil {
		w.logger.Warn("watcher batch delete failed", "files", len(paths), "error", err.Error())
		return
	}
	w.logger.Info("watcher removed deleted files", "files", len(paths))
}

// addRecursive subscribes root and every allowed descendant directory to
// fsw, skipping whole subtrees the selection rules exclude.
func (w *Watcher) addRecursive(fsw *fsnotify.Watcher, root string) error {
	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if !d.IsDir() {
			return nil
		}
		rel, relErr := filepath.Rel(w.projectDir, path)
		if relErr != nil {
			rel = path
		}
		if rel != "." && !w.rules.AllowedDir(filepath.ToSlash(rel)) {
			return filepath.SkipDir
		}
		return fsw.Add(path)
	})
}
