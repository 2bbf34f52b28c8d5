package storage

import (
	"fmt"
	"path/filepath"
	"time"

	"dotkeep/internal/keep"
)

// Engine combines both backends behind keep.Storage, dispatching on the
// locator's mode.
type Engine struct {
	objects  *Incremental
	archives *Archive
}

var _ keep.Storage = (*Engine)(nil)

// NewEngine creates the engine under dataDir, laying out the storage/ and
// archives/ subdirectories.
func NewEngine(dataDir string, clock keep.Clock) (*Engine, error) {
	objects, err := NewIncremental(filepath.Join(dataDir, "storage"))
	if err != nil {
		return nil, err
	}
	archives, err := NewArchive(filepath.Join(dataDir, "archives"), clock)
	if err != nil {
		return nil, err
	}
	return &Engine{objects: objects, archives: archives}, nil
}

func (e *Engine) Put(data []byte) (string, error) {
	return e.objects.Put(data)
}

func (e *Engine) Snapshot(paths []string) (*keep.SnapshotInfo, []*keep.ScanError, error) {
	return e.archives.Create(paths)
}

func (e *Engine) SnapshotAt(t time.Time) (string, error) {
	return e.archives.SnapshotAt(t)
}

func (e *Engine) Retrieve(loc keep.Locator) ([]byte, error) {
	switch loc.Mode {
	case keep.ModeIncremental:
		return e.objects.Get(loc.Digest)
	case keep.ModeArchive:
		return e.archives.Extract(loc.Snapshot, loc.Path)
	}
	return nil, fmt.Errorf("unknown storage mode %q", loc.Mode)
}

func (e *Engine) Exists(loc keep.Locator) bool {
	switch loc.Mode {
	case keep.ModeIncremental:
		return e.objects.Exists(loc.Digest)
	case keep.ModeArchive:
		return e.archives.Contains(loc.Snapshot, loc.Path)
	}
	return false
}
