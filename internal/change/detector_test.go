package change

import (
	"os"
	"os/exec"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rlefko/codeindex/internal/fileselect"
	"github.com/rlefko/codeindex/pkg/model"
)

func runGit(t *testing.T, dir string, args ...string) {
	t.Helper()
	cmd := exec.Command("git", args...)
	cmd.Dir = dir
	out, err := cmd.CombinedOutput()
	require.NoError(t, err, "git %v: %s", args, out)
}

func TestDetectViaHashFindsAddedFiles(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "foo.py"), []byte("def add(x,y): return x+y"), 0o644))

	rules := fileselect.Load(dir, []string{"*.py"}, nil, 0)
	d := New(dir, rules)

	cs, err := d.detectViaHash(map[string]model.FileState{})
	require.NoError(t, err)
	assert.Len(t, cs.AddedFiles, 1)
	assert.Empty(t, cs.ModifiedFiles)
}

func TestDetectViaHashIsEmptyWhenUnchanged(t *testing.T) {
	// Round-trip law L1: detect_via_hash(current, previous=currentState()) has no changes.
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "foo.py"), []byte("x = 1"), 0o644))

	rules := fileselect.Load(dir, []string{"*.py"}, nil, 0)
	d := New(dir, rules)

	first, err := d.detectViaHash(map[string]model.FileState{})
	require.NoError(t, err)
	require.Len(t, first.AddedFiles, 1)

	fs, err := FileStateOf(first.AddedFiles[0])
	require.NoError(t, err)

	previous := map[string]model.FileState{"foo.py": fs}
	second, err := d.detectViaHash(previous)
	require.NoError(t, err)
	assert.False(t, second.HasChanges())
}

func TestDetectViaHashFindsDeletions(t *testing.T) {
	dir := t.TempDir()
	rules := fileselect.Load(dir, []string{"*.py"}, nil, 0)
	d := New(dir, rules)

	previous := map[string]model.FileState{"gone.py": {Hash: "abc"}}
	cs, err := d.detectViaHash(previous)
	require.NoError(t, err)
	assert.Equal(t, []string{"gone.py"}, cs.DeletedFiles)
}

func TestParseNameStatusHandlesRenames(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "renamed_bar.py"), []byte("def main(): pass"), 0o644))

	d := New(dir, nil)
	cs := d.parseNameStatus("R95\tbar.py\trenamed_bar.py\n")
	require.Len(t, cs.RenamedFiles, 1)
	assert.Equal(t, "bar.py", cs.RenamedFiles[0].OldRelPath)
	assert.Equal(t, "renamed_bar.py", cs.RenamedFiles[0].NewRelPath)
	assert.Len(t, cs.ModifiedFiles, 1) // renames are also re-scheduled for re-index
}

func TestParseNameStatusDropsNonExistentAdds(t *testing.T) {
	dir := t.TempDir()
	d := New(dir, nil)
	cs := d.parseNameStatus("A\tnever_materialized.py\n")
	assert.Empty(t, cs.AddedFiles)
}

func TestGetStagedFilesReflectsIndexContents(t *testing.T) {
	if _, err := exec.LookPath("git"); err != nil {
		t.Skip("git not available")
	}
	dir := t.TempDir()
	runGit(t, dir, "init")
	runGit(t, dir, "config", "user.email", "test@example.com")
	runGit(t, dir, "config", "user.name", "test")

	committed := filepath.Join(dir, "committed.py")
	require.NoError(t, os.WriteFile(committed, []byte("x = 1\n"), 0o644))
	runGit(t, dir, "add", "committed.py")
	runGit(t, dir, "commit", "-m", "initial")

	staged := filepath.Join(dir, "staged.py")
	require.NoError(t, os.WriteFile(staged, []byte("y = 2\n"), 0o644))
	runGit(t, dir, "add", "staged.py")

	unstaged := filepath.Join(dir, "unstaged.py")
	require.NoError(t, os.WriteFile(unstaged, []byte("z = 3\n"), 0o644))

	d := New(dir, nil)
	cs, err := d.GetStagedFiles()
	require.NoError(t, err)
	assert.True(t, cs.IsGitRepo)
	assert.Equal(t, []string{staged}, cs.AddedFiles)
}
