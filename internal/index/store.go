// Package index persists the file index as index.json in the data root.
package index

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"dotkeep/internal/keep"
)

// Store reads and writes one index file.
type Store struct {
	path string
}

// NewStore creates a Store for the given index.json path.
func NewStore(path string) *Store {
	return &Store{path: path}
}

// Path returns the index file location.
func (s *Store) Path() string { return s.path }

// Load reads the persisted index. A missing file yields an empty index
// (first run). An unparseable file, an unknown format version, or a payload
// that fails structural validation yields keep.ErrIndexCorrupt: a corrupt
// index is never partially trusted.
func (s *Store) Load() (*keep.Index, error) {
	raw, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return keep.NewIndex(), nil
		}
		return nil, fmt.Errorf("reading index: %w", err)
	}

	var ix keep.Index
	if err := json.Unmarshal(raw, &ix); err != nil {
		return nil, fmt.Errorf("%w: %v", keep.ErrIndexCorrupt, err)
	}
	if err := validate(&ix); err != nil {
		return nil, fmt.Errorf("%w: %v", keep.ErrIndexCorrupt, err)
	}
	if ix.Files == nil {
		ix.Files = make(map[string]*keep.FileEntry)
	}
	return &ix, nil
}

// validate checks the structural invariants of a decoded index.
func validate(ix *keep.Index) error {
	if ix.FormatVersion != keep.IndexFormatVersion {
		return fmt.Errorf("unsupported format version %d", ix.FormatVersion)
	}
	for path, e := range ix.Files {
		if e == nil {
			return fmt.Errorf("entry %q is null", path)
		}
		if e.Path != path {
			return fmt.Errorf("entry key %q does not match path %q", path, e.Path)
		}
		if e.Hash == "" {
			return fmt.Errorf("entry %q has no content hash", path)
		}
	}
	return nil
}

// Persist writes the index through a temporary file in the same directory
// followed by an atomic rename. A crash mid-write leaves the prior index
// intact: the rename is the commit point.
func (s *Store) Persist(ix *keep.Index) error {
	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("creating index directory: %w", err)
	}

	raw, err := json.MarshalIndent(ix, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding index: %w", err)
	}

	tmp, err := os.CreateTemp(dir, "index-*.json.tmp")
	if err != nil {
		return fmt.Errorf("creating temp index: %w", err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(raw); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("writing temp index: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("syncing temp index: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("closing temp index: %w", err)
	}
	if err := os.Rename(tmpName, s.path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("replacing index: %w", err)
	}
	return nil
}
