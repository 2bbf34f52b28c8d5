package storage

import (
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"dotkeep/internal/keep"
)

func TestIncremental_Put(t *testing.T) {
	t.Run("stores under the sharded layout", func(t *testing.T) {
		dir := t.TempDir()
		s, err := NewIncremental(dir)
		if err != nil {
			t.Fatalf("NewIncremental() error = %v", err)
		}

		digest, err := s.Put([]byte("hello"))
		if err != nil {
			t.Fatalf("Put() error = %v", err)
		}
		if len(digest) != 64 {
			t.Fatalf("digest %q is not 64 hex chars", digest)
		}

		want := filepath.Join(dir, digest[:2], digest)
		if _, err := os.Stat(want); err != nil {
			t.Errorf("object not at %s: %v", want, err)
		}
	})

	t.Run("identical content is a single physical object", func(t *testing.T) {
		dir := t.TempDir()
		s, _ := NewIncremental(dir)

		d1, err := s.Put([]byte("same bytes"))
		if err != nil {
			t.Fatalf("Put() error = %v", err)
		}
		d2, err := s.Put([]byte("same bytes"))
		if err != nil {
			t.Fatalf("Put() error = %v", err)
		}
		if d1 != d2 {
			t.Fatalf("digests differ: %s vs %s", d1, d2)
		}

		shard, err := os.ReadDir(filepath.Join(dir, d1[:2]))
		if err != nil {
			t.Fatalf("ReadDir() error = %v", err)
		}
		if len(shard) != 1 {
			t.Errorf("shard has %d objects, want 1", len(shard))
		}
	})

	t.Run("concurrent writers of the same content", func(t *testing.T) {
		s, _ := NewIncremental(t.TempDir())
		data := []byte("raced content")

		var wg sync.WaitGroup
		digests := make([]string, 8)
		errs := make([]error, 8)
		for i := range digests {
			i := i
			wg.Add(1)
			go func() {
				defer wg.Done()
				digests[i], errs[i] = s.Put(data)
			}()
		}
		wg.Wait()

		for i := range digests {
			if errs[i] != nil {
				t.Fatalf("Put() error = %v", errs[i])
			}
			if digests[i] != digests[0] {
				t.Fatalf("digest mismatch: %s vs %s", digests[i], digests[0])
			}
		}

		got, err := s.Get(digests[0])
		if err != nil {
			t.Fatalf("Get() error = %v", err)
		}
		if string(got) != string(data) {
			t.Errorf("content = %q", got)
		}
	})

	t.Run("leaves no temp files behind", func(t *testing.T) {
		dir := t.TempDir()
		s, _ := NewIncremental(dir)
		digest, err := s.Put([]byte("tidy"))
		if err != nil {
			t.Fatalf("Put() error = %v", err)
		}
		entries, err := os.ReadDir(filepath.Join(dir, digest[:2]))
		if err != nil {
			t.Fatalf("ReadDir() error = %v", err)
		}
		if len(entries) != 1 || entries[0].Name() != digest {
			t.Errorf("shard contents = %v", entries)
		}
	})
}

func TestIncremental_Get(t *testing.T) {
	t.Run("round trips content", func(t *testing.T) {
		s, _ := NewIncremental(t.TempDir())
		digest, err := s.Put([]byte("payload"))
		if err != nil {
			t.Fatalf("Put() error = %v", err)
		}
		got, err := s.Get(digest)
		if err != nil {
			t.Fatalf("Get() error = %v", err)
		}
		if string(got) != "payload" {
			t.Errorf("Get() = %q", got)
		}
		if !s.Exists(digest) {
			t.Error("Exists() = false after Put")
		}
	})

	t.Run("missing object", func(t *testing.T) {
		s, _ := NewIncremental(t.TempDir())
		missing := Digest([]byte("never stored"))
		if _, err := s.Get(missing); !errors.Is(err, keep.ErrObjectMissing) {
			t.Errorf("error = %v, want ErrObjectMissing", err)
		}
		if s.Exists(missing) {
			t.Error("Exists() = true for a missing object")
		}
	})
}
