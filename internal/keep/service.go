package keep

import (
	"fmt"
	"os"
	"sort"
)

// Options carries the resolved configuration a Service operates under.
// The caller (not this package) owns loading and validating it.
type Options struct {
	// Patterns are the tracked patterns in configuration order. When a file
	// matches several, the last match's mode override wins.
	Patterns []Pattern

	// Excludes are glob patterns dropped from every expansion.
	Excludes []string

	// DefaultMode applies to entries whose pattern carries no override.
	DefaultMode BackupMode

	// SafetyRoot is the directory safety-backup directories are created
	// under (normally the user's home directory).
	SafetyRoot string
}

// Service coordinates the index, storage engine, scanner and versioning
// collaborator to perform the high-level operations the CLI exposes. Every
// dependency is injected; the service holds no process-wide state, so tests
// can run many services against independent temporary roots.
type Service struct {
	index     IndexStore
	storage   Storage
	scanner   Scanner
	versioner Versioner
	logger    Logger
	clock     Clock
	idgen     IDGenerator
	opts      Options
}

// NewService creates a Service with the provided dependencies.
func NewService(index IndexStore, storage Storage, scanner Scanner, versioner Versioner, logger Logger, clock Clock, idgen IDGenerator, opts Options) *Service {
	if versioner == nil {
		versioner = NopVersioner{}
	}
	return &Service{
		index:     index,
		storage:   storage,
		scanner:   scanner,
		versioner: versioner,
		logger:    logger,
		clock:     clock,
		idgen:     idgen,
		opts:      opts,
	}
}

// modeFor resolves the effective backup mode for a file. Patterns are
// checked in reverse order so later overrides win, falling back to the
// global default.
func (s *Service) modeFor(path string) BackupMode {
	for i := len(s.opts.Patterns) - 1; i >= 0; i-- {
		p := s.opts.Patterns[i]
		if s.scanner.Match(p.Glob, path) {
			if p.Mode != "" {
				return p.Mode
			}
			return s.opts.DefaultMode
		}
	}
	return s.opts.DefaultMode
}

// ScanResult summarizes one scan: which paths were new, updated or unchanged
// relative to the previous index, per-file errors, pattern warnings, and
// orphaned index entries that no longer match any tracked pattern.
type ScanResult struct {
	New       []string
	Updated   []string
	Unchanged []string
	Errors    []*ScanError
	Warnings  []string
	Orphans   []string
}

// Total returns the number of files successfully scanned.
func (r *ScanResult) Total() int {
	return len(r.New) + len(r.Updated) + len(r.Unchanged)
}

// Scan walks the tracked patterns, digests every matching file, classifies
// each against the previous index by hash, merges the results into the index
// and persists it atomically. Orphans are only reported; removal is a
// separate, caller-confirmed step (RemoveOrphans).
func (s *Service) Scan() (*ScanResult, error) {
	ix, err := s.index.Load()
	if err != nil {
		return nil, err
	}

	files, warnings, err := s.scanner.Expand(s.opts.Patterns, s.opts.Excludes)
	if err != nil {
		return nil, fmt.Errorf("expanding patterns: %w", err)
	}

	result := &ScanResult{Warnings: warnings}
	entries, scanErrs := s.scanner.ScanAll(files)
	result.Errors = scanErrs

	// Index mutation happens only after all per-file results are collected.
	for _, e := range entries {
		e.Mode = s.modeFor(e.Path)
		old, known := ix.Get(e.Path)
		switch {
		case !known:
			result.New = append(result.New, e.Path)
		case old.Hash != e.Hash:
			result.Updated = append(result.Updated, e.Path)
		default:
			result.Unchanged = append(result.Unchanged, e.Path)
		}
		ix.Put(e)
	}

	matched := make(map[string]bool, len(files))
	for _, f := range files {
		matched[f] = true
	}
	for _, p := range ix.Paths() {
		if !matched[p] {
			result.Orphans = append(result.Orphans, p)
		}
	}

	ix.ScannedAt = s.clock.Now().Unix()
	if err := s.index.Persist(ix); err != nil {
		return nil, fmt.Errorf("persisting index: %w", err)
	}

	s.logger.Info("scan complete",
		"total", result.Total(), "new", len(result.New),
		"updated", len(result.Updated), "errors", len(result.Errors))
	return result, nil
}

// RemoveOrphans deletes the given index entries and persists the index.
// Storage objects are never touched: another tracked file may reference the
// same content.
func (s *Service) RemoveOrphans(paths []string) (int, error) {
	ix, err := s.index.Load()
	if err != nil {
		return 0, err
	}
	removed := 0
	for _, p := range paths {
		if ix.Remove(p) {
			removed++
		}
	}
	if removed > 0 {
		if err := s.index.Persist(ix); err != nil {
			return 0, fmt.Errorf("persisting index: %w", err)
		}
	}
	s.logger.Info("orphans removed", "count", removed)
	return removed, nil
}

// BackupResult summarizes one backup invocation across both backends.
type BackupResult struct {
	BackedUp     int // new or changed files written (or deduplicated) incrementally
	Deduplicated int // of BackedUp, how many needed no physical write
	Unchanged    int
	Archived     int
	Snapshot     *SnapshotInfo // nil when no archive partition
	Errors       []*ScanError
	Warnings     []string
	CommitID     string
}

// Backup scans all applicable files, partitions them by effective mode, runs
// the incremental backend over one partition and the archive backend over
// the other, persists the updated index, and hands the changed-path manifest
// to the versioning collaborator.
func (s *Service) Backup(message string) (*BackupResult, error) {
	ix, err := s.index.Load()
	if err != nil {
		return nil, err
	}

	files, warnings, err := s.scanner.Expand(s.opts.Patterns, s.opts.Excludes)
	if err != nil {
		return nil, fmt.Errorf("expanding patterns: %w", err)
	}

	result := &BackupResult{Warnings: warnings}
	var incremental, archive []string
	for _, f := range files {
		if s.modeFor(f) == ModeArchive {
			archive = append(archive, f)
		} else {
			incremental = append(incremental, f)
		}
	}

	var changed []string

	for _, path := range incremental {
		entry, err := s.scanner.ScanFile(path)
		if err != nil {
			result.Errors = append(result.Errors, &ScanError{Path: path, Err: err})
			continue
		}
		entry.Mode = ModeIncremental

		existed := s.storage.Exists(entry.Locator())
		if !existed {
			data, err := os.ReadFile(path)
			if err != nil {
				result.Errors = append(result.Errors, &ScanError{Path: path, Err: err})
				continue
			}
			// The digest is recomputed from the bytes inside Put; a stale
			// index entry is never trusted as a proxy for stored content.
			if _, err := s.storage.Put(data); err != nil {
				result.Errors = append(result.Errors, &ScanError{Path: path, Err: err})
				continue
			}
		}

		old, known := ix.Get(path)
		if !known || old.Hash != entry.Hash {
			result.BackedUp++
			if existed {
				result.Deduplicated++
			}
			changed = append(changed, path)
		} else {
			result.Unchanged++
		}
		ix.Put(entry)
	}

	if len(archive) > 0 {
		entries, scanErrs := s.scanner.ScanAll(archive)
		result.Errors = append(result.Errors, scanErrs...)

		paths := make([]string, 0, len(entries))
		for _, e := range entries {
			paths = append(paths, e.Path)
		}
		if len(paths) > 0 {
			info, bundleErrs, err := s.storage.Snapshot(paths)
			if err != nil {
				return nil, fmt.Errorf("creating archive snapshot: %w", err)
			}
			result.Errors = append(result.Errors, bundleErrs...)
			result.Snapshot = info
			result.Archived = info.Files

			failed := make(map[string]bool, len(bundleErrs))
			for _, be := range bundleErrs {
				failed[be.Path] = true
			}
			for _, e := range entries {
				if failed[e.Path] {
					continue
				}
				e.Mode = ModeArchive
				if old, known := ix.Get(e.Path); !known || old.Hash != e.Hash {
					changed = append(changed, e.Path)
				}
				ix.Put(e)
			}
		}
	}

	ix.ScannedAt = s.clock.Now().Unix()
	if err := s.index.Persist(ix); err != nil {
		return nil, fmt.Errorf("persisting index: %w", err)
	}

	sort.Strings(changed)
	if message == "" {
		message = fmt.Sprintf("Backup: %d files (%d new/changed, %d unchanged)",
			result.BackedUp+result.Unchanged+result.Archived, result.BackedUp+result.Archived, result.Unchanged)
	}
	id, err := s.versioner.Commit(changed, message)
	if err != nil {
		// The backup itself succeeded; a versioning failure is reported, not fatal.
		s.logger.Warn("version control commit failed", "error", err)
	}
	result.CommitID = id

	s.logger.Info("backup complete",
		"backed_up", result.BackedUp, "deduplicated", result.Deduplicated,
		"unchanged", result.Unchanged, "archived", result.Archived,
		"errors", len(result.Errors))
	return result, nil
}

// Status compares the index against the live filesystem at the tracked
// paths. Quick mode trusts size+mtime instead of re-hashing.
func (s *Service) Status(opts CompareOptions) ([]*ComparisonResult, []*ScanError, error) {
	ix, err := s.index.Load()
	if err != nil {
		return nil, nil, err
	}
	files, _, err := s.scanner.Expand(s.opts.Patterns, s.opts.Excludes)
	if err != nil {
		return nil, nil, fmt.Errorf("expanding patterns: %w", err)
	}
	results, scanErrs := s.Compare(ix, files, opts)
	return results, scanErrs, nil
}

// History returns the versioning collaborator's record of past backups,
// newest first.
func (s *Service) History(limit int) ([]HistoryEntry, error) {
	return s.versioner.History(limit)
}

// Retrieve reads stored content by locator.
func (s *Service) Retrieve(loc Locator) ([]byte, error) {
	return s.storage.Retrieve(loc)
}
