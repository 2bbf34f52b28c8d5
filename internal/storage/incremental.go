// Package storage implements the two snapshot backends: content-addressed
// incremental storage and timestamped compressed archive bundles.
package storage

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"

	"golang.org/x/sync/singleflight"

	"dotkeep/internal/keep"
)

// Incremental is the content-addressed, deduplicating backend. Objects live
// under a two-level sharded layout: <root>/<first-2-hex>/<full-hash>.
// Objects are immutable and never garbage-collected; an orphaned object can
// be reclaimed manually out of band.
type Incremental struct {
	root  string
	group singleflight.Group
}

// NewIncremental creates the backend rooted at dir, creating it if needed.
func NewIncremental(dir string) (*Incremental, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("creating storage root: %w", err)
	}
	return &Incremental{root: dir}, nil
}

// Digest returns the hex-encoded SHA-256 of data.
func Digest(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// ObjectPath returns the sharded physical location for a digest.
func (s *Incremental) ObjectPath(digest string) string {
	return filepath.Join(s.root, digest[:2], digest)
}

// Put stores content and returns its digest. The digest is computed from
// the bytes themselves. Writing identical content twice is a no-op after
// the first write; concurrent writers of the same digest collapse to one
// physical write.
func (s *Incremental) Put(data []byte) (string, error) {
	digest := Digest(data)

	_, err, _ := s.group.Do(digest, func() (any, error) {
		path := s.ObjectPath(digest)
		if _, err := os.Stat(path); err == nil {
			return nil, nil // deduplicated
		}
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("creating shard directory: %w", err)
		}

		// Write-then-rename: a partial write can never leave an object that
		// hash-matches and is silently trusted later.
		tmp, err := os.CreateTemp(filepath.Dir(path), "object-*.tmp")
		if err != nil {
			return nil, fmt.Errorf("creating temp object: %w", err)
		}
		tmpName := tmp.Name()
		if _, err := tmp.Write(data); err != nil {
			tmp.Close()
			os.Remove(tmpName)
			return nil, fmt.Errorf("writing object: %w", err)
		}
		if err := tmp.Close(); err != nil {
			os.Remove(tmpName)
			return nil, fmt.Errorf("closing object: %w", err)
		}
		if err := os.Rename(tmpName, path); err != nil {
			os.Remove(tmpName)
			return nil, fmt.Errorf("committing object: %w", err)
		}
		return nil, nil
	})
	if err != nil {
		return "", err
	}
	return digest, nil
}

// Get returns the bytes stored under a digest.
func (s *Incremental) Get(digest string) ([]byte, error) {
	data, err := os.ReadFile(s.ObjectPath(digest))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", keep.ErrObjectMissing, digest)
		}
		return nil, fmt.Errorf("reading object %s: %w", digest, err)
	}
	return data, nil
}

// Exists reports whether an object is stored under the digest.
func (s *Incremental) Exists(digest string) bool {
	if len(digest) < 2 {
		return false
	}
	_, err := os.Stat(s.ObjectPath(digest))
	return err == nil
}
