package keep

// Scanner resolves tracked patterns against the live filesystem and digests
// file content. It abstracts filesystem access so the core stays testable
// against arbitrary temporary roots.
type Scanner interface {
	// Expand resolves glob-capable patterns to the sorted, de-duplicated
	// list of matching regular files, with exclude patterns applied and
	// symlinks resolved. Patterns that match nothing produce warnings, not
	// errors: one bad pattern never aborts a scan over the good ones.
	Expand(patterns []Pattern, excludes []string) (files []string, warnings []string, err error)

	// Match reports whether a single path matches a tracked pattern.
	Match(pattern string, path string) bool

	// ScanFile stats and digests one file into a FileEntry (Mode unset).
	ScanFile(path string) (*FileEntry, error)

	// ScanAll digests files concurrently with a bounded worker pool.
	// Per-file failures are collected, never fatal. Results are sorted by
	// path.
	ScanAll(paths []string) ([]*FileEntry, []*ScanError)

	// HashFile computes the content digest of one file with a streaming read.
	HashFile(path string) (string, error)

	// Stat returns size and modification time for a path. exists is false
	// (with a nil error) when the path is absent.
	Stat(path string) (size int64, mtime int64, exists bool, err error)
}
