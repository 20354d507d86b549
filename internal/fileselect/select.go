// Package fileselect implements the include/exclude file-selection rules
// shared by the bulk indexer and the watcher: a hierarchical ignore set
// merged with explicit glob configuration, plus the file-size cap.
//
// No example in the retrieval pack imports a gitignore/glob-matching
// library, so this package is built directly on path/filepath and strings
// rather than wiring in an unused dependency.
package fileselect

import (
	"bufio"
	"os"
	"path/filepath"
	"strings"
)

// defaultIgnorePatterns mirrors the noise directories every strategy skips
// unconditionally, regardless of configuration.
var defaultIgnorePatterns = []string{
	".git/", ".venv/", "venv/", "node_modules/", "__pycache__/",
	".mypy_cache/", "qdrant_storage/", "backups/", "*.egg-info",
	".claude-indexer/", ".claude/",
}

// Rules holds the merged include/exclude configuration for one project.
type Rules struct {
	Include     []string
	Exclude     []string
	MaxFileSize int64 // bytes; default 1 MiB
}

const defaultMaxFileSize = 1024 * 1024

// Load builds Rules for projectDir: built-in defaults, then
// projectDir/.claudeignore, then ~/.claude-indexer/.claudeignore, then the
// explicit glob patterns supplied by configuration (configInclude/configExclude).
func Load(projectDir string, configInclude, configExclude []string, maxFileSize int64) *Rules {
	r := &Rules{MaxFileSize: maxFileSize}
	if r.MaxFileSize <= 0 {
		r.MaxFileSize = defaultMaxFileSize
	}
	r.Exclude = append(r.Exclude, defaultIgnorePatterns...)
	r.Exclude = append(r.Exclude, readIgnoreFile(filepath.Join(projectDir, ".claudeignore"))...)
	if home, err := os.UserHomeDir(); err == nil {
		r.Exclude = append(r.Exclude, readIgnoreFile(filepath.Join(home, ".claude-indexer", ".claudeignore"))...)
	}
	r.Exclude = append(r.Exclude, configExclude...)

	if len(configInclude) > 0 {
		r.Include = append(r.Include, configInclude...)
	} else {
		r.Include = []string{"*"}
	}
	return r
}

func readIgnoreFile(path string) []string {
	f, err := os.Open(path)
	if err != nil {
		return nil
	}
	defer f.Close()

	var patterns []string
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		patterns = append(patterns, line)
	}
	return patterns
}

// Allowed reports whether relPath (slash-separated, relative to the
// project root) passes the selection rules: it must match at least one
// include pattern and no exclude pattern.
func (r *Rules) Allowed(relPath string, size int64) bool {
	if size > r.MaxFileSize {
		return false
	}
	relPath = filepath.ToSlash(relPath)

	for _, pattern := range r.Exclude {
		if matchPattern(pattern, relPath) {
			return false
		}
	}
	for _, pattern := range r.Include {
		if matchPattern(pattern, relPath) {
			return true
		}
	}
	return false
}

// AllowedDir reports whether the directory at relPath should be descended
// into at all. Unlike Allowed, it never consults Include (a directory can
// hold allowed files even if its own name wouldn't match an include glob)
// and ignores MaxFileSize. Used by the watcher to decide whether a newly
// created directory needs a recursive fsnotify subscription.
func (r *Rules) AllowedDir(relPath string) bool {
	relPath = filepath.ToSlash(relPath)
	for _, pattern := range r.Exclude {
		if matchPattern(pattern, relPath) || matchPattern(pattern, relPath+"/") {
			return false
		}
	}
	return true
}

// matchPattern reports whether relPath matches pattern. Directory patterns
// (ending in "/") match any path beginning with, or containing, that
// directory component. Other patterns are matched as glob against either
// the full relative path or the base name, and as a plain substring for
// bare directory-style names without glob metacharacters.
func matchPattern(pattern, relPath string) bool {
	if strings.HasSuffix(pattern, "/") {
		dir := strings.TrimSuffix(pattern, "/")
		return strings.HasPrefix(relPath, dir+"/") || strings.Contains(relPath, "/"+dir+"/")
	}

	if ok, err := filepath.Match(pattern, relPath); err == nil && ok {
		return true
	}
	if ok, err := filepath.Match(pattern, filepath.Base(relPath)); err == nil && ok {
		return true
	}
	if !strings.ContainsAny(pattern, "*?[") {
		return strings.Contains(relPath, pattern)
	}
	return false
}
