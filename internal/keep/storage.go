package keep

import (
	"errors"
	"time"
)

// SnapshotLatest is the alias that always resolves to the most recent
// archive bundle.
const SnapshotLatest = "latest"

// Locator is a backend-specific reference to stored bytes. Mode selects the
// backend; the remaining fields are interpreted by it.
type Locator struct {
	Mode BackupMode

	// Digest is the content hash, for incremental locators.
	Digest string

	// Snapshot names an archive bundle (SnapshotLatest or a bundle ID) and
	// Path the original tracked path within it, for archive locators.
	Snapshot string
	Path     string
}

// SnapshotInfo describes one finished archive bundle.
type SnapshotInfo struct {
	ID    string
	Size  int64
	Files int
}

// Storage persists and retrieves tracked file content across the two
// backends. Implementations must be safe for concurrent use: writes for
// distinct digests are independent, and concurrent writes of the same digest
// must resolve to exactly one physical write.
type Storage interface {
	// Put stores content in the incremental (content-addressed) backend and
	// returns its digest. The digest is recomputed from the bytes, never
	// taken from an index entry. Storing identical content twice is a no-op
	// after the first write.
	Put(data []byte) (digest string, err error)

	// Snapshot gathers the given files into one compressed archive bundle in
	// a single pass and points the latest alias at it. Unreadable files are
	// reported per file and skipped; the bundle either fully exists or does
	// not exist.
	Snapshot(paths []string) (*SnapshotInfo, []*ScanError, error)

	// SnapshotAt returns the ID of the newest bundle created at or before t,
	// for restoring archive entries from a historical manifest.
	SnapshotAt(t time.Time) (string, error)

	// Retrieve returns the bytes a locator refers to, or an error wrapping
	// ErrObjectMissing if no backing object exists.
	Retrieve(loc Locator) ([]byte, error)

	// Exists reports whether a locator has a backing object.
	Exists(loc Locator) bool
}

// IndexStore loads and persists the index for one storage root.
type IndexStore interface {
	// Load reads the persisted index, or returns an empty index on first
	// run. A file that cannot be parsed or fails structural validation
	// yields an error wrapping ErrIndexCorrupt; a corrupt index is never
	// partially trusted.
	Load() (*Index, error)

	// Persist writes the index through a temporary file in the same
	// directory followed by an atomic rename, so a crash mid-write leaves
	// the prior version intact.
	Persist(ix *Index) error
}

// HistoryEntry is one recorded backup in the versioning collaborator.
type HistoryEntry struct {
	ID      string
	Time    time.Time
	Message string
}

// Versioner is the external version-control collaborator. It receives a
// manifest of changed paths and a message after a successful backup, and can
// later produce the index manifest recorded at a historical identifier.
type Versioner interface {
	// EnsureRepo initializes the underlying repository if needed.
	EnsureRepo() error

	// Commit records the current state of the storage root. It returns the
	// new identifier, or "" when there was nothing to record.
	Commit(changed []string, message string) (string, error)

	// History returns recorded backups, newest first.
	History(limit int) ([]HistoryEntry, error)

	// ShowIndex returns the raw index manifest as of the given identifier.
	ShowIndex(id string) ([]byte, error)
}

// NopVersioner disables version control. All operations succeed and record
// nothing; History is always empty.
type NopVersioner struct{}

func (NopVersioner) EnsureRepo() error                        { return nil }
func (NopVersioner) Commit([]string, string) (string, error)  { return "", nil }
func (NopVersioner) History(int) ([]HistoryEntry, error)      { return nil, nil }
func (NopVersioner) ShowIndex(string) ([]byte, error) {
	return nil, errors.New("version control is disabled")
}
