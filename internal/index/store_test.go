package index

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"dotkeep/internal/keep"
)

func testEntry(path string) *keep.FileEntry {
	return &keep.FileEntry{
		Path:       path,
		Hash:       strings.Repeat("ab", 32),
		Size:       42,
		ModifiedAt: 1700000000,
		Mode:       keep.ModeIncremental,
	}
}

func TestStore_LoadPersist(t *testing.T) {
	t.Run("missing file loads as an empty index", func(t *testing.T) {
		s := NewStore(filepath.Join(t.TempDir(), "index.json"))
		ix, err := s.Load()
		if err != nil {
			t.Fatalf("Load() error = %v", err)
		}
		if ix.Len() != 0 {
			t.Errorf("Len() = %d, want 0", ix.Len())
		}
		if ix.FormatVersion != keep.IndexFormatVersion {
			t.Errorf("FormatVersion = %d, want %d", ix.FormatVersion, keep.IndexFormatVersion)
		}
	})

	t.Run("round trips entries", func(t *testing.T) {
		s := NewStore(filepath.Join(t.TempDir(), "index.json"))
		ix := keep.NewIndex()
		ix.Put(testEntry("/home/u/.bashrc"))
		ix.Put(testEntry("/home/u/.vimrc"))
		ix.ScannedAt = 1700000123

		if err := s.Persist(ix); err != nil {
			t.Fatalf("Persist() error = %v", err)
		}
		loaded, err := s.Load()
		if err != nil {
			t.Fatalf("Load() error = %v", err)
		}
		if loaded.Len() != 2 {
			t.Fatalf("Len() = %d, want 2", loaded.Len())
		}
		if loaded.ScannedAt != 1700000123 {
			t.Errorf("ScannedAt = %d", loaded.ScannedAt)
		}
		entry, ok := loaded.Get("/home/u/.bashrc")
		if !ok {
			t.Fatal("entry missing after round trip")
		}
		if entry.Hash != strings.Repeat("ab", 32) || entry.Mode != keep.ModeIncremental {
			t.Errorf("entry = %+v", entry)
		}
	})

	t.Run("creates parent directories", func(t *testing.T) {
		s := NewStore(filepath.Join(t.TempDir(), "deep", "nested", "index.json"))
		if err := s.Persist(keep.NewIndex()); err != nil {
			t.Fatalf("Persist() error = %v", err)
		}
	})

	t.Run("interrupted write leaves the prior index intact", func(t *testing.T) {
		dir := t.TempDir()
		s := NewStore(filepath.Join(dir, "index.json"))
		ix := keep.NewIndex()
		ix.Put(testEntry("/home/u/.bashrc"))
		if err := s.Persist(ix); err != nil {
			t.Fatalf("Persist() error = %v", err)
		}

		// A crash between temp-write and rename leaves a half-written temp
		// file behind; the committed index must not be affected by it.
		stray := filepath.Join(dir, "index-crash42.json.tmp")
		if err := os.WriteFile(stray, []byte(`{"format_version": 1, "files"`), 0o644); err != nil {
			t.Fatalf("WriteFile() error = %v", err)
		}

		loaded, err := s.Load()
		if err != nil {
			t.Fatalf("Load() error = %v", err)
		}
		if loaded.Len() != 1 {
			t.Fatalf("Len() = %d, want 1", loaded.Len())
		}
		if _, ok := loaded.Get("/home/u/.bashrc"); !ok {
			t.Error("entry lost after simulated interruption")
		}
	})

	t.Run("leaves no temp files behind", func(t *testing.T) {
		dir := t.TempDir()
		s := NewStore(filepath.Join(dir, "index.json"))
		if err := s.Persist(keep.NewIndex()); err != nil {
			t.Fatalf("Persist() error = %v", err)
		}
		entries, err := os.ReadDir(dir)
		if err != nil {
			t.Fatalf("ReadDir() error = %v", err)
		}
		for _, e := range entries {
			if e.Name() != "index.json" {
				t.Errorf("unexpected file: %s", e.Name())
			}
		}
	})
}

func TestStore_LoadCorrupt(t *testing.T) {
	write := func(t *testing.T, content string) *Store {
		t.Helper()
		path := filepath.Join(t.TempDir(), "index.json")
		if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
			t.Fatalf("WriteFile() error = %v", err)
		}
		return NewStore(path)
	}

	t.Run("malformed JSON", func(t *testing.T) {
		s := write(t, "{broken")
		if _, err := s.Load(); !errors.Is(err, keep.ErrIndexCorrupt) {
			t.Errorf("error = %v, want ErrIndexCorrupt", err)
		}
	})

	t.Run("unknown format version", func(t *testing.T) {
		s := write(t, `{"format_version": 99, "files": {}}`)
		if _, err := s.Load(); !errors.Is(err, keep.ErrIndexCorrupt) {
			t.Errorf("error = %v, want ErrIndexCorrupt", err)
		}
	})

	t.Run("entry key disagrees with entry path", func(t *testing.T) {
		s := write(t, `{"format_version": 1, "files": {"/a": {"path": "/b", "hash": "ff", "size": 1, "modified_at": 1, "mode": "incremental"}}}`)
		if _, err := s.Load(); !errors.Is(err, keep.ErrIndexCorrupt) {
			t.Errorf("error = %v, want ErrIndexCorrupt", err)
		}
	})

	t.Run("entry without a hash", func(t *testing.T) {
		s := write(t, `{"format_version": 1, "files": {"/a": {"path": "/a", "hash": "", "size": 1, "modified_at": 1, "mode": "incremental"}}}`)
		if _, err := s.Load(); !errors.Is(err, keep.ErrIndexCorrupt) {
			t.Errorf("error = %v, want ErrIndexCorrupt", err)
		}
	})
}
