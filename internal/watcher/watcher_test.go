package watcher

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rlefko/codeindex/internal/config"
	"github.com/rlefko/codeindex/internal/fileselect"
	"github.com/rlefko/codeindex/pkg/model"
)

type recordingIndexer struct {
	mu    sync.Mutex
	calls [][]string
}

func (r *recordingIndexer) IndexFiles(ctx context.Context, paths []string) (*model.PipelineResult, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := append([]string(nil), paths...)
	r.calls = append(r.calls, cp)
	return &model.PipelineResult{Success: true, FilesProcessed: len(paths)}, nil
}

func (r *recordingIndexer) snapshot() [][]string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([][]string(nil), r.calls...)
}

type recordingDeleter struct {
	mu    sync.Mutex
	calls [][]string
}

func (d *recordingDeleter) DeleteFiles(ctx context.Context, paths []string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	cp := append([]string(nil), paths...)
	d.calls = append(d.calls, cp)
	return nil
}

func (d *recordingDeleter) snapshot() [][]string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([][]string(nil), d.calls...)
}

func newTestWatcher(dir string, indexer Indexer, deleter Deleter, delay time.Duration) *Watcher {
	rules := fileselect.Load(dir, []string{"*.py"}, nil, 0)
	return New(dir, rules, indexer, deleter, config.WatcherConfig{
		DebounceSeconds:  delay.Seconds(),
		TrimAfterSeconds: 300,
	})
}

func TestCoalescerReadyOnlyReturnsStableEntries(t *testing.T) {
	c := newCoalescer(50 * time.Millisecond)
	c.add("/a")
	now := time.Now()
	assert.Empty(t, c.ready(now))
	assert.ElementsMatch(t, []string{"/a"}, c.ready(now.Add(100*time.Millisecond)))
}

func TestCoalescerDrainReturnsEverythingImmediately(t *testing.T) {
	c := newCoalescer(time.Hour)
	c.add("/a")
	c.add("/b")
	assert.ElementsMatch(t, []string{"/a", "/b"}, c.drain())
	assert.Empty(t, c.drain())
}

func TestCoalescerTrimDropsStaleUnrefreshedEntries(t *testing.T) {
	c := newCoalescer(time.Hour)
	c.mu.Lock()
	c.pending["/stale"] = time.Now().Add(-10 * time.Minute)
	c.mu.Unlock()
	c.add("/fresh")

	c.trim(5*time.Minute, time.Now())

	c.mu.Lock()
	_, staleStillThere := c.pending["/stale"]
	_, freshStillThere := c.pending["/fresh"]
	c.mu.Unlock()
	assert.False(t, staleStillThere)
	assert.True(t, freshStillThere)
}

func TestWatcherProcessReadyIndexesExistingFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "a.py")
	require.NoError(t, os.WriteFile(path, []byte("def a(): pass"), 0o644))

	indexer := &recordingIndexer{}
	deleter := &recordingDeleter{}
	w := newTestWatcher(dir, indexer, deleter, 20*time.Millisecond)

	w.coalescer.add(path)
	w.processReady(context.Background(), time.Now().Add(time.Hour))

	calls := indexer.snapshot()
	require.Len(t, calls, 1)
	assert.Equal(t, []string{path}, calls[0])
	assert.Empty(t, deleter.snapshot())
}

func TestWatcherDispatchSecondChanceConfirmsRealDeletion(t *testing.T) {
	dir := t.TempDir()
	missingPath := filepath.Join(dir, "gone.py")

	indexer := &recordingIndexer{}
	deleter := &recordingDeleter{}
	w := newTestWatcher(dir, indexer, deleter, 10*time.Millisecond)

	w.dispatch(context.Background(), []string{missingPath}, false)
	w.wg.Wait()

	calls := deleter.snapshot()
	require.Len(t, calls, 1)
	assert.Equal(t, []string{missingPath}, calls[0])
	assert.Empty(t, indexer.snapshot())
}

func TestWatcherDispatchSecondChanceTreatsReappearedFileAsModification(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "atomic.py")

	indexer := &recordingIndexer{}
	deleter := &recordingDeleter{}
	w := newTestWatcher(dir, indexer, deleter, 30*time.Millisecond)

	go func() {
		time.Sleep(5 * time.Millisecond)
		_ = os.WriteFile(path, []byte("def atomic(): pass"), 0o644)
	}()

	w.dispatch(context.Background(), []string{path}, false)
	w.wg.Wait()

	assert.Empty(t, deleter.snapshot())
	calls := indexer.snapshot()
	require.Len(t, calls, 1)
	assert.Equal(t, []string{path}, calls[0])
}

func TestWatcherFlushAllDrainsPendingWithoutSecondChance(t *testing.T) {
	dir := t.TempDir()
	missingPath := filepath.Join(dir, "gone.py")

	indexer := &recordingIndexer{}
	deleter := &recordingDeleter{}
	w := newTestWatcher(dir, indexer, deleter, time.Hour)

	w.coalescer.add(missingPath)
	w.flushAll(context.Background())

	assert.Empty(t, indexer.snapshot())
	calls := deleter.snapshot()
	require.Len(t, calls, 1)
	assert.Equal(t, []string{missingPath}, calls[0])
}

func TestIsFastExcludedRejectsBookkeepingPaths(t *testing.T) {
	assert.True(t, isFastExcluded(".claude-indexer/ledger.json"))
	assert.True(t, isFastExcluded(".git/HEAD"))
	assert.True(t, isFastExcluded("nested/.claude/state.json"))
	assert.False(t, isFastExcluded("src/main.py"))
}
