// Package change implements the ChangeDetector: git-aware change detection
// with a content-hash fallback, producing a model.ChangeSet for the
// reconciler to act on.
package change

import (
	"bufio"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/go-git/go-git/v5"

	"github.com/rlefko/codeindex/internal/fileselect"
	"github.com/rlefko/codeindex/internal/logging"
	"github.com/rlefko/codeindex/pkg/model"
)

// Detector detects file changes for one project, preferring git when the
// project root is a git repository and falling back to full-tree hashing
// otherwise.
//
// The git strategy shells out to the `git` binary (os/exec) to reproduce
// `git diff --name-status -M` exactly, including its similarity-scored
// rename/copy detection; go-git/go-git/v5 is used only for repository
// presence and HEAD-commit resolution, where its typed API is a better fit
// than parsing `git rev-parse` output.
type Detector struct {
	ProjectDir string
	Rules      *fileselect.Rules

	isGitRepo  bool
	gitChecked bool
	logger     logging.Logger
}

// New creates a Detector rooted at projectDir, selecting files per rules.
func New(projectDir string, rules *fileselect.Rules) *Detector {
	return &Detector{ProjectDir: projectDir, Rules: rules, logger: logging.WithComponent("change")}
}

// IsGitRepo reports (and caches) whether ProjectDir is inside a git
// worktree, per a single go-git PlainOpen call.
func (d *Detector) IsGitRepo() bool {
	if d.gitChecked {
		return d.isGitRepo
	}
	d.gitChecked = true
	_, err := git.PlainOpenWithOptions(d.ProjectDir, &git.PlainOpenOptions{DetectDotGit: true})
	d.isGitRepo = err == nil
	return d.isGitRepo
}

// HeadCommit returns the current HEAD commit SHA, or "" if unavailable.
func (d *Detector) HeadCommit() string {
	repo, err := git.PlainOpenWithOptions(d.ProjectDir, &git.PlainOpenOptions{DetectDotGit: true})
	if err != nil {
		return ""
	}
	head, err := repo.Head()
	if err != nil {
		return ""
	}
	return head.Hash().String()
}

// DetectChanges produces a ChangeSet for everything that differs from
// sinceCommit..HEAD (git strategy) or from previousState (hash strategy).
// previousState is only consulted by the hash strategy.
func (d *Detector) DetectChanges(sinceCommit string, previousState map[string]model.FileState) (*model.ChangeSet, error) {
	if d.IsGitRepo() && sinceCommit != "" {
		cs, err := d.detectViaGit(sinceCommit)
		if err == nil {
			return cs, nil
		}
		d.logger.Warn("git diff strategy failed, falling back to hash strategy", "error", err.Error())
	}
	return d.detectViaHash(previousState)
}

// GetStagedFiles parses `git diff --cached --name-status -M` for staged
// changes, independent of the commit-range based DetectChanges path.
func (d *Detector) GetStagedFiles() (*model.ChangeSet, error) {
	out, err := d.runGitDiff("diff", "--cached", "--name-status", "-M")
	if err != nil {
		return nil, err
	}
	cs := d.parseNameStatus(out)
	cs.IsGitRepo = d.IsGitRepo()
	return cs, nil
}

func (d *Detector) detectViaGit(sinceCommit string) (*model.ChangeSet, error) {
	out, err := d.runGitDiff("diff", "--name-status", "-M", sinceCommit+"..HEAD")
	if err != nil {
		return nil, err
	}
	cs := d.parseNameStatus(out)
	cs.IsGitRepo = true
	cs.BaseCommit = d.HeadCommit()
	return cs, nil
}

func (d *Detector) runGitDiff(args ...string) (string, error) {
	cmd := exec.Command("git", args...)
	cmd.Dir = d.ProjectDir
	out, err := cmd.Output()
	if err != nil {
		return "", fmt.Errorf("change: git %s: %w", strings.Join(args, " "), err)
	}
	return string(out), nil
}

// parseNameStatus interprets `git diff --name-status -M` output:
// A -> added, M -> modified, D -> deleted, R<sim> -> rename (old\tnew, also
// re-scheduled for re-index), C<sim> -> treated as add. Non-existent
// add/modify targets are silently dropped (e.g. a since-removed untracked
// file).
func (d *Detector) parseNameStatus(output string) *model.ChangeSet {
	cs := &model.ChangeSet{}
	scanner := bufio.NewScanner(strings.NewReader(output))
	for scanner.Scan() {
		line := strings.TrimRight(scanner.Text(), "\n")
		if line == "" {
			continue
		}
		fields := strings.Split(line, "\t")
		if len(fields) < 2 {
			continue
		}
		status := fields[0]

		switch {
		case status == "A":
			d.addIfExists(cs, fields[1], false)
		case status == "M":
			d.addIfExists(cs, fields[1], false)
		case status == "D":
			cs.DeletedFiles = append(cs.DeletedFiles, filepath.ToSlash(fields[1]))
		case strings.HasPrefix(status, "R"):
			if len(fields) < 3 {
				continue
			}
			oldRel, newRel := filepath.ToSlash(fields[1]), filepath.ToSlash(fields[2])
			cs.RenamedFiles = append(cs.RenamedFiles, model.RenamedPair{OldRelPath: oldRel, NewRelPath: newRel})
			d.addIfExists(cs, fields[2], true) // also schedule for re-parse: content may have changed
		case strings.HasPrefix(status, "C"):
			if len(fields) < 3 {
				d.addIfExists(cs, fields[1], false)
				continue
			}
			d.addIfExists(cs, fields[2], false) // copy treated as add
		}
	}
	return cs
}

func (d *Detector) addIfExists(cs *model.ChangeSet, relPath string, asModified bool) {
	abs := filepath.Join(d.ProjectDir, filepath.FromSlash(relPath))
	if _, err := os.Stat(abs); err != nil {
		return // silently dropped: intermediate untracked deletion
	}
	if asModified {
		cs.ModifiedFiles = append(cs.ModifiedFiles, abs)
	} else {
		cs.AddedFiles = append(cs.AddedFiles, abs)
	}
}

// detectViaHash enumerates the workspace honoring fileselect.Rules, hashes
// each candidate file, and diffs against previousState (keyed by relative
// path). Files present in previousState but no longer on disk are deletions;
// files on disk with a changed or absent hash entry are added/modified.
func (d *Detector) detectViaHash(previousState map[string]model.FileState) (*model.ChangeSet, error) {
	cs := &model.ChangeSet{IsGitRepo: d.IsGitRepo()}
	seen := make(map[string]struct{}, len(previousState))

	err := filepath.Walk(d.ProjectDir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return nil // unreadable entries are skipped, not fatal
		}
		if info.IsDir() {
			return nil
		}
		rel, relErr := filepath.Rel(d.ProjectDir, path)
		if relErr != nil {
			return nil
		}
		rel = filepath.ToSlash(rel)
		if d.Rules != nil && !d.Rules.Allowed(rel, info.Size()) {
			return nil
		}

		hash, hashErr := hashFile(path)
		if hashErr != nil {
			return nil // unreadable file: treated as a read error upstream, not here
		}
		seen[rel] = struct{}{}

		prior, existed := previousState[rel]
		if !existed {
			cs.AddedFiles = append(cs.AddedFiles, path)
		} else if prior.Hash != hash {
			cs.ModifiedFiles = append(cs.ModifiedFiles, path)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("change: walk %s: %w", d.ProjectDir, err)
	}

	for rel := range previousState {
		if _, stillPresent := seen[rel]; !stillPresent {
			cs.DeletedFiles = append(cs.DeletedFiles, rel)
		}
	}
	return cs, nil
}

func hashFile(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// FileStateOf computes the current FileState for an absolute path by
// stat-ing and re-reading it from disk. Neither the reconciler's
// pre-captured snapshot (builds FileState inline from content already in
// memory) nor detectViaHash's walk (already has os.FileInfo from Walk)
// needs a second read, so this is a standalone convenience for callers that
// only have a path.
func FileStateOf(path string) (model.FileState, error) {
	info, err := os.Stat(path)
	if err != nil {
		return model.FileState{}, err
	}
	hash, err := hashFile(path)
	if err != nil {
		return model.FileState{}, err
	}
	return model.FileState{
		Hash:  hash,
		Size:  info.Size(),
		Mtime: float64(info.ModTime().UnixNano()) / 1e9,
	}, nil
}

