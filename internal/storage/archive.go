package storage

import (
	"archive/tar"
	"compress/gzip"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"dotkeep/internal/keep"
)

const (
	archivePrefix = "backup-"
	archiveSuffix = ".tar.gz"
	latestName    = "latest" + archiveSuffix
)

// Archive is the bundle backend: each snapshot is one tar.gz named
// backup-<timestamp>.tar.gz, with latest.tar.gz aliasing the newest.
// Entry names inside a bundle are the absolute file path with the
// leading separator trimmed.
type Archive struct {
	root  string
	clock keep.Clock
}

// NewArchive creates the backend rooted at dir, creating it if needed.
func NewArchive(dir string, clock keep.Clock) (*Archive, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("creating archive root: %w", err)
	}
	return &Archive{root: dir, clock: clock}, nil
}

func entryName(path string) string {
	return strings.TrimPrefix(path, string(filepath.Separator))
}

// Create bundles the given files into a new timestamped snapshot. Files
// that cannot be read are skipped and reported as warnings; the bundle is
// still produced with the rest. The archive is assembled under a temp name
// and renamed into place so a crash never leaves a half-written snapshot
// that looks valid.
func (a *Archive) Create(paths []string) (*keep.SnapshotInfo, []*keep.ScanError, error) {
	id := archivePrefix + a.clock.Now().Format(keep.StampFormat) + archiveSuffix
	final := filepath.Join(a.root, id)

	tmp, err := os.CreateTemp(a.root, "archive-*.tmp")
	if err != nil {
		return nil, nil, fmt.Errorf("creating temp archive: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	gz := gzip.NewWriter(tmp)
	tw := tar.NewWriter(gz)

	var skipped []*keep.ScanError
	files := 0
	for _, path := range paths {
		if err := a.append(tw, path); err != nil {
			skipped = append(skipped, &keep.ScanError{Path: path, Err: err})
			continue
		}
		files++
	}

	if err := tw.Close(); err != nil {
		tmp.Close()
		return nil, skipped, fmt.Errorf("finalizing archive: %w", err)
	}
	if err := gz.Close(); err != nil {
		tmp.Close()
		return nil, skipped, fmt.Errorf("compressing archive: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return nil, skipped, fmt.Errorf("closing archive: %w", err)
	}
	if err := os.Rename(tmpName, final); err != nil {
		return nil, skipped, fmt.Errorf("committing archive: %w", err)
	}

	if err := a.relink(id); err != nil {
		return nil, skipped, err
	}

	info, err := os.Stat(final)
	if err != nil {
		return nil, skipped, fmt.Errorf("reading archive size: %w", err)
	}
	return &keep.SnapshotInfo{ID: id, Size: info.Size(), Files: files}, skipped, nil
}

func (a *Archive) append(tw *tar.Writer, path string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return err
	}
	hdr, err := tar.FileInfoHeader(info, "")
	if err != nil {
		return err
	}
	hdr.Name = entryName(path)
	if err := tw.WriteHeader(hdr); err != nil {
		return err
	}
	_, err = io.Copy(tw, f)
	return err
}

// relink repoints latest.tar.gz at the newest snapshot.
func (a *Archive) relink(id string) error {
	alias := filepath.Join(a.root, latestName)
	os.Remove(alias)
	if err := os.Symlink(id, alias); err != nil {
		return fmt.Errorf("updating latest alias: %w", err)
	}
	return nil
}

// Extract returns the bytes of one file from a snapshot. The snapshot may
// be keep.SnapshotLatest to read from the newest bundle.
func (a *Archive) Extract(snapshot, path string) ([]byte, error) {
	name := snapshot
	if name == keep.SnapshotLatest {
		name = latestName
	}
	f, err := os.Open(filepath.Join(a.root, name))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: snapshot %s", keep.ErrObjectMissing, snapshot)
		}
		return nil, fmt.Errorf("opening snapshot %s: %w", snapshot, err)
	}
	defer f.Close()

	gz, err := gzip.NewReader(f)
	if err != nil {
		return nil, fmt.Errorf("decompressing snapshot %s: %w", snapshot, err)
	}
	defer gz.Close()

	want := entryName(path)
	tr := tar.NewReader(gz)
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("reading snapshot %s: %w", snapshot, err)
		}
		if hdr.Name != want {
			continue
		}
		data, err := io.ReadAll(tr)
		if err != nil {
			return nil, fmt.Errorf("extracting %s from %s: %w", path, snapshot, err)
		}
		return data, nil
	}
	return nil, fmt.Errorf("%w: %s in snapshot %s", keep.ErrObjectMissing, path, snapshot)
}

// Contains reports whether a snapshot holds an entry for path.
func (a *Archive) Contains(snapshot, path string) bool {
	_, err := a.Extract(snapshot, path)
	return err == nil
}

// Snapshots lists snapshot file names, oldest first. The latest alias is
// not included.
func (a *Archive) Snapshots() ([]string, error) {
	entries, err := os.ReadDir(a.root)
	if err != nil {
		return nil, fmt.Errorf("listing archives: %w", err)
	}
	var ids []string
	for _, e := range entries {
		name := e.Name()
		if strings.HasPrefix(name, archivePrefix) && strings.HasSuffix(name, archiveSuffix) {
			ids = append(ids, name)
		}
	}
	sort.Strings(ids)
	return ids, nil
}

// SnapshotAt returns the newest snapshot taken at or before t. The stamp
// embedded in the file name is authoritative, not filesystem mtime, so
// copied or restored archive directories still resolve correctly.
func (a *Archive) SnapshotAt(t time.Time) (string, error) {
	ids, err := a.Snapshots()
	if err != nil {
		return "", err
	}
	best := ""
	for _, id := range ids {
		stamp := strings.TrimSuffix(strings.TrimPrefix(id, archivePrefix), archiveSuffix)
		taken, err := time.ParseInLocation(keep.StampFormat, stamp, t.Location())
		if err != nil {
			continue
		}
		if !taken.After(t) {
			best = id
		}
	}
	if best == "" {
		return "", fmt.Errorf("%w: no snapshot at or before %s", keep.ErrObjectMissing, t.Format(time.RFC3339))
	}
	return best, nil
}
