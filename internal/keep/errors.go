package keep

import (
	"errors"
	"fmt"
)

// Structural failures abort the whole command.
var (
	// ErrIndexCorrupt marks an unreadable or structurally invalid persisted
	// index. The command fails; the user recovers by re-initializing.
	ErrIndexCorrupt = errors.New("index file is corrupt")

	// ErrObjectMissing marks a locator with no backing object in storage.
	ErrObjectMissing = errors.New("object not found in storage")

	// ErrSafetyBackup marks a failed pre-restore safety backup. The restore
	// must abort before any destination file is touched.
	ErrSafetyBackup = errors.New("safety backup failed")
)

// ScanError records a per-file failure during scan or backup. These are
// collected and reported in the end-of-operation summary; they never abort
// the batch.
type ScanError struct {
	Path string
	Err  error
}

func (e *ScanError) Error() string {
	return fmt.Sprintf("%s: %v", e.Path, e.Err)
}

func (e *ScanError) Unwrap() error { return e.Err }

// ActionError records a per-action failure during restore apply, with an
// optional remediation hint for the final report.
type ActionError struct {
	Path string // original tracked path
	Dest string // destination that failed
	Err  error
	Hint string
}

func (e *ActionError) Error() string {
	return fmt.Sprintf("%s: %v", e.Dest, e.Err)
}

func (e *ActionError) Unwrap() error { return e.Err }
