package keep

import (
	"errors"
	"runtime"
	"sort"
	"sync"

	"golang.org/x/sync/errgroup"
)

// ChangeState classifies one path when comparing backup state to the live
// filesystem. The four states partition the union of both sides: every path
// receives exactly one.
type ChangeState string

const (
	StateNew       ChangeState = "new"       // exists now, absent from backup
	StateChanged   ChangeState = "changed"   // digests differ (or size/mtime in quick mode)
	StateDeleted   ChangeState = "deleted"   // in backup, absent now
	StateUnchanged ChangeState = "unchanged"
)

// CompareOptions tunes the comparison engine.
type CompareOptions struct {
	// Quick trusts (size, mtime) equality as a proxy for content equality,
	// skipping the digest. This is a deliberate precision/speed trade-off: a
	// file rewritten with identical size and a forced-back mtime is
	// misreported as unchanged.
	Quick bool
}

// ComparisonResult is the per-path outcome of comparing backup state against
// the live filesystem. Both sides' size and mtime are carried for display
// and for the newer/older determination.
type ComparisonResult struct {
	Path string // tracked path on the backup side
	Dest string // live-side path compared against (differs from Path under remapping)

	State ChangeState

	BackupHash  string
	BackupSize  int64
	BackupMtime int64

	LiveExists bool
	LiveSize   int64
	LiveMtime  int64

	// LiveNewer reports whether the live file's mtime is strictly newer than
	// the backup's, to support the "backup is older than current" warning.
	LiveNewer bool
}

// CompareEntry compares one backup entry to the live file at dest.
// A missing live file is StateDeleted; callers restoring it treat that as
// create-on-restore.
func (s *Service) CompareEntry(e *FileEntry, dest string, opts CompareOptions) (*ComparisonResult, error) {
	res := &ComparisonResult{
		Path:        e.Path,
		Dest:        dest,
		BackupHash:  e.Hash,
		BackupSize:  e.Size,
		BackupMtime: e.ModifiedAt,
	}

	size, mtime, exists, err := s.scanner.Stat(dest)
	if err != nil {
		return nil, err
	}
	if !exists {
		res.State = StateDeleted
		return res, nil
	}

	res.LiveExists = true
	res.LiveSize = size
	res.LiveMtime = mtime
	res.LiveNewer = mtime > e.ModifiedAt

	if opts.Quick {
		if size == e.Size && mtime == e.ModifiedAt {
			res.State = StateUnchanged
		} else {
			res.State = StateChanged
		}
		return res, nil
	}

	hash, err := s.scanner.HashFile(dest)
	if err != nil {
		// Unreadable counts as changed; the caller sees the error too.
		res.State = StateChanged
		return res, &ScanError{Path: dest, Err: err}
	}
	if hash == e.Hash {
		res.State = StateUnchanged
	} else {
		res.State = StateChanged
	}
	return res, nil
}

// Compare classifies every path in the union of the index and the live file
// set. Index entries not in the live set are StateDeleted; live files absent
// from the index are StateNew. Hashing across independent files runs on a
// bounded worker pool; per-file read failures are collected, never fatal.
func (s *Service) Compare(ix *Index, livePaths []string, opts CompareOptions) ([]*ComparisonResult, []*ScanError) {
	liveSet := make(map[string]bool, len(livePaths))
	for _, p := range livePaths {
		liveSet[p] = true
	}

	var (
		mu       sync.Mutex
		results  []*ComparisonResult
		scanErrs []*ScanError
	)

	g := new(errgroup.Group)
	g.SetLimit(runtime.NumCPU())

	for _, p := range livePaths {
		p := p
		g.Go(func() error {
			entry, tracked := ix.Get(p)
			var res *ComparisonResult
			if !tracked {
				size, mtime, exists, err := s.scanner.Stat(p)
				res = &ComparisonResult{Path: p, Dest: p, State: StateNew}
				if err == nil && exists {
					res.LiveExists = true
					res.LiveSize = size
					res.LiveMtime = mtime
				}
			} else {
				var err error
				res, err = s.CompareEntry(entry, p, opts)
				if err != nil {
					var se *ScanError
					if errors.As(err, &se) {
						mu.Lock()
						scanErrs = append(scanErrs, se)
						mu.Unlock()
					} else {
						mu.Lock()
						scanErrs = append(scanErrs, &ScanError{Path: p, Err: err})
						mu.Unlock()
						return nil
					}
				}
			}
			mu.Lock()
			results = append(results, res)
			mu.Unlock()
			return nil
		})
	}
	g.Wait()

	// Backup side only: index entries that no longer match any live path.
	for _, p := range ix.Paths() {
		if liveSet[p] {
			continue
		}
		entry, _ := ix.Get(p)
		results = append(results, &ComparisonResult{
			Path:        p,
			Dest:        p,
			State:       StateDeleted,
			BackupHash:  entry.Hash,
			BackupSize:  entry.Size,
			BackupMtime: entry.ModifiedAt,
		})
	}

	sort.Slice(results, func(i, j int) bool { return results[i].Path < results[j].Path })
	return results, scanErrs
}
