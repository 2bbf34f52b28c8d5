// Package scan resolves tracked patterns against the live filesystem and
// digests file content for indexing and deduplication.
package scan

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"sort"
	"strings"
	"sync"

	"github.com/bmatcuk/doublestar/v4"
	"golang.org/x/sync/errgroup"

	"dotkeep/internal/keep"
)

// Scanner is the real-filesystem implementation of keep.Scanner.
type Scanner struct {
	workers int
	logger  keep.Logger
}

// New creates a Scanner with the given worker-pool size for concurrent
// hashing. workers <= 0 means one worker per CPU.
func New(workers int, logger keep.Logger) *Scanner {
	if workers <= 0 {
		workers = runtime.NumCPU()
	}
	return &Scanner{workers: workers, logger: logger}
}

// ExpandTilde expands a leading ~/ to the user's home directory.
func ExpandTilde(path string) string {
	if path == "~" || strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return path
		}
		if path == "~" {
			return home
		}
		return filepath.Join(home, path[2:])
	}
	return path
}

// Match reports whether path matches a tracked pattern, with ~ expansion.
func (s *Scanner) Match(pattern string, path string) bool {
	expanded := ExpandTilde(pattern)
	ok, err := doublestar.Match(expanded, path)
	if err != nil {
		// Invalid pattern: fall back to exact comparison.
		return expanded == path
	}
	return ok
}

// isExcluded reports whether a path matches any exclude pattern.
func isExcluded(path string, excludes []string) bool {
	for _, pattern := range excludes {
		if ok, err := doublestar.Match(ExpandTilde(pattern), path); err == nil && ok {
			return true
		}
	}
	return false
}

// hasMeta reports whether a pattern contains glob metacharacters.
func hasMeta(pattern string) bool {
	return strings.ContainsAny(pattern, "*?[{")
}

// Expand resolves the tracked patterns to the sorted, de-duplicated list of
// matching regular files. Directories are only expanded when the pattern
// requests it (a bare directory path yields a warning suggesting the /**
// form, matching how patterns are documented). Symlinks are resolved to
// their targets; exclude patterns are applied last.
func (s *Scanner) Expand(patterns []keep.Pattern, excludes []string) ([]string, []string, error) {
	seen := make(map[string]bool)
	var files, warnings []string

	add := func(path string) {
		resolved, err := filepath.EvalSymlinks(path)
		if err != nil {
			resolved = path
		}
		if isExcluded(resolved, excludes) || seen[resolved] {
			return
		}
		seen[resolved] = true
		files = append(files, resolved)
	}

	for _, p := range patterns {
		pattern := ExpandTilde(p.Glob)

		if !hasMeta(pattern) {
			info, err := os.Stat(pattern)
			switch {
			case err != nil:
				warnings = append(warnings, fmt.Sprintf("pattern %q: file not found", p.Glob))
			case info.IsDir():
				warnings = append(warnings, fmt.Sprintf("pattern %q is a directory; use %q to track its contents", p.Glob, p.Glob+"/**"))
			default:
				add(pattern)
			}
			continue
		}

		matches, err := doublestar.FilepathGlob(pattern)
		if err != nil {
			warnings = append(warnings, fmt.Sprintf("pattern %q: %v", p.Glob, err))
			continue
		}
		found := 0
		for _, m := range matches {
			info, err := os.Stat(m)
			if err != nil || !info.Mode().IsRegular() {
				continue
			}
			add(m)
			found++
		}
		if found == 0 {
			warnings = append(warnings, fmt.Sprintf("pattern %q matched no files", p.Glob))
		}
	}

	sort.Strings(files)
	return files, warnings, nil
}

// HashFile computes the hex-encoded SHA-256 digest of a file's content with
// a streaming read. The digest is the deduplication key, so collision
// resistance matters, not just integrity.
func (s *Scanner) HashFile(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("opening %s: %w", path, err)
	}
	defer f.Close()

	h := sha256.New()
	buf := make([]byte, 64*1024)
	if _, err := io.CopyBuffer(h, f, buf); err != nil {
		return "", fmt.Errorf("reading %s: %w", path, err)
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// ScanFile stats and digests one file. Mode is left unset; the service
// resolves it from the matching pattern.
func (s *Scanner) ScanFile(path string) (*keep.FileEntry, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("stat %s: %w", path, err)
	}
	hash, err := s.HashFile(path)
	if err != nil {
		return nil, err
	}
	return &keep.FileEntry{
		Path:       path,
		Hash:       hash,
		Size:       info.Size(),
		ModifiedAt: info.ModTime().Unix(),
	}, nil
}

// ScanAll digests the given files on a bounded worker pool. Per-file
// failures are collected; a single unreadable file never aborts the scan
// over the rest. Results come back sorted by path.
func (s *Scanner) ScanAll(paths []string) ([]*keep.FileEntry, []*keep.ScanError) {
	var (
		mu       sync.Mutex
		entries  []*keep.FileEntry
		scanErrs []*keep.ScanError
	)

	g := new(errgroup.Group)
	g.SetLimit(s.workers)

	for _, path := range paths {
		path := path
		g.Go(func() error {
			entry, err := s.ScanFile(path)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				scanErrs = append(scanErrs, &keep.ScanError{Path: path, Err: err})
				return nil
			}
			entries = append(entries, entry)
			return nil
		})
	}
	g.Wait()

	sort.Slice(entries, func(i, j int) bool { return entries[i].Path < entries[j].Path })
	sort.Slice(scanErrs, func(i, j int) bool { return scanErrs[i].Path < scanErrs[j].Path })
	return entries, scanErrs
}

// Stat returns size and mtime for a path; exists is false with a nil error
// when the path is absent.
func (s *Scanner) Stat(path string) (int64, int64, bool, error) {
	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, 0, false, nil
		}
		return 0, 0, false, fmt.Errorf("stat %s: %w", path, err)
	}
	return info.Size(), info.ModTime().Unix(), true, nil
}
