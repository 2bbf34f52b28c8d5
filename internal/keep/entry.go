package keep

import (
	"fmt"
	"sort"
)

// BackupMode selects which storage backend a tracked file is persisted with.
type BackupMode string

const (
	// ModeIncremental stores files in content-addressed storage, deduplicated by digest.
	ModeIncremental BackupMode = "incremental"
	// ModeArchive stores files inside timestamped compressed snapshot bundles.
	ModeArchive BackupMode = "archive"
)

// ParseBackupMode validates a mode string from configuration.
func ParseBackupMode(s string) (BackupMode, error) {
	switch BackupMode(s) {
	case ModeIncremental, ModeArchive:
		return BackupMode(s), nil
	}
	return "", fmt.Errorf("unknown backup mode %q (want %q or %q)", s, ModeIncremental, ModeArchive)
}

// Pattern is a tracked glob-capable path expression, optionally carrying a
// backup-mode override. An empty Mode means the global default applies.
type Pattern struct {
	Glob string
	Mode BackupMode
}

// FileEntry is the indexed state of one tracked filesystem object.
// Hash, Size and ModifiedAt are a point-in-time snapshot from the last scan;
// staleness is expected and is what the comparison engine detects.
type FileEntry struct {
	Path       string     `json:"path"`
	Hash       string     `json:"hash"`
	Size       int64      `json:"size"`
	ModifiedAt int64      `json:"modified_at"`
	Mode       BackupMode `json:"mode"`
}

// Locator returns the storage reference for this entry's content.
// Incremental entries are addressed by digest; archive entries by the
// bundle they were captured in plus their original path within it.
func (e *FileEntry) Locator() Locator {
	if e.Mode == ModeArchive {
		return Locator{Mode: ModeArchive, Snapshot: SnapshotLatest, Path: e.Path}
	}
	return Locator{Mode: ModeIncremental, Digest: e.Hash}
}

// IndexFormatVersion is the persisted index format this build reads and writes.
const IndexFormatVersion = 1

// Index is the persistent mapping from canonical path to last-known FileEntry.
// Exactly one index exists per storage root; a command loads it once, mutates
// it in memory, and persists it atomically.
type Index struct {
	FormatVersion int                   `json:"format_version"`
	ScannedAt     int64                 `json:"scanned_at,omitempty"`
	Files         map[string]*FileEntry `json:"files"`
}

// NewIndex returns an empty index at the current format version.
func NewIndex() *Index {
	return &Index{
		FormatVersion: IndexFormatVersion,
		Files:         make(map[string]*FileEntry),
	}
}

// Put merges an entry into the index, overwriting any stale entry for the path.
func (ix *Index) Put(e *FileEntry) {
	ix.Files[e.Path] = e
}

// Get returns the entry for a canonical path, if present.
func (ix *Index) Get(path string) (*FileEntry, bool) {
	e, ok := ix.Files[path]
	return e, ok
}

// Remove deletes the entry for a path. It never touches storage objects:
// deduplication means another tracked file may reference the same content.
func (ix *Index) Remove(path string) bool {
	if _, ok := ix.Files[path]; !ok {
		return false
	}
	delete(ix.Files, path)
	return true
}

// Len returns the number of tracked entries.
func (ix *Index) Len() int { return len(ix.Files) }

// Paths returns all tracked paths in sorted order.
func (ix *Index) Paths() []string {
	paths := make([]string, 0, len(ix.Files))
	for p := range ix.Files {
		paths = append(paths, p)
	}
	sort.Strings(paths)
	return paths
}
