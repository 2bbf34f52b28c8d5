package keep

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"
)

// PlanState tracks a restore plan through its lifecycle. Aborted is
// reachable from any state before Applied; DryRunCompleted never passes
// through SafetyBackedUp or Applied.
type PlanState string

const (
	PlanPlanned         PlanState = "planned"
	PlanCompared        PlanState = "compared"
	PlanSafetyBackedUp  PlanState = "safety-backed-up"
	PlanApplied         PlanState = "applied"
	PlanAborted         PlanState = "aborted"
	PlanDryRunCompleted PlanState = "dry-run-completed"
)

// RemapRule is a prefix substitution applied to restore destination paths.
// Within an ordered rule list the first matching prefix wins; unmatched
// paths pass through unchanged.
type RemapRule struct {
	From string
	To   string
}

// ParseRemapRule parses the "/old/path=/new/path" flag syntax.
func ParseRemapRule(s string) (RemapRule, error) {
	from, to, ok := strings.Cut(s, "=")
	if !ok || from == "" || to == "" {
		return RemapRule{}, fmt.Errorf("invalid remap %q: want /old/path=/new/path", s)
	}
	return RemapRule{From: from, To: to}, nil
}

// RemapPath applies the ordered remap rules and then the extract-to reroot.
// Extraction rewrites every destination under extractTo, preserving the
// original structure with the leading separator stripped.
func RemapPath(path string, rules []RemapRule, extractTo string) string {
	out := path
	for _, r := range rules {
		if strings.HasPrefix(out, r.From) {
			out = r.To + out[len(r.From):]
			break
		}
	}
	if extractTo != "" {
		out = filepath.Join(extractTo, strings.TrimPrefix(out, string(filepath.Separator)))
	}
	return out
}

// RestoreAction binds one backup entry to its destination: a source locator,
// the original tracked path, the remapped destination, and the comparison
// that justified including it.
type RestoreAction struct {
	Source Locator
	Path   string
	Dest   string
	Result *ComparisonResult
}

// RestorePlan is the ordered, reviewable unit a restore executes. It is
// built once per invocation and never mutated after the safety backup
// begins: remapping and selection are finalized before any destructive step.
type RestorePlan struct {
	ID      string
	State   PlanState
	Actions []RestoreAction

	// Skipped lists requested selectors with no matching backup entry; each
	// is a warning, never an abort.
	Skipped []string

	// NewerCount is how many destinations are currently newer than their
	// backup, for the pre-confirmation warning.
	NewerCount int

	// Snapshot is the archive bundle ID the plan's archive-mode actions
	// read from.
	Snapshot string
}

// MarkDryRun finishes the plan without any destructive step.
func (p *RestorePlan) MarkDryRun() { p.State = PlanDryRunCompleted }

// Abort marks the plan as abandoned. It is a no-op once applied.
func (p *RestorePlan) Abort() {
	if p.State != PlanApplied {
		p.State = PlanAborted
	}
}

// RestoreOptions selects what a restore covers and where it writes.
type RestoreOptions struct {
	// Commit restores from the index manifest recorded at this historical
	// identifier instead of the live index.
	Commit string

	// Only limits the plan to entries whose path contains one of these
	// substrings. Selectors that match nothing are reported as skipped.
	Only []string

	// Remap is the ordered prefix-substitution list.
	Remap []RemapRule

	// ExtractTo reroots every destination under a directory, bypassing
	// in-place permission concerns entirely.
	ExtractTo string
}

// RestoreReport is the outcome of applying a plan. Successes and failures
// are listed separately; no skipped file is ever silent.
type RestoreReport struct {
	PlanID      string
	SafetyDir   string // empty when no destination existed to preserve
	Restored    []string
	Failed      []*ActionError
	NothingToDo bool
}

// PlanRestore resolves the backup set, scope and remapping, compares every
// in-scope entry against its remapped destination, and produces the plan.
// The comparison is always computed, even for a dry run. Entries whose
// destination already matches the backup are excluded.
func (s *Service) PlanRestore(opts RestoreOptions) (*RestorePlan, error) {
	ix, err := s.resolveBackupSet(opts.Commit)
	if err != nil {
		return nil, err
	}

	plan := &RestorePlan{
		ID:       s.idgen.New(),
		State:    PlanPlanned,
		Snapshot: SnapshotLatest,
	}

	entries := make([]*FileEntry, 0, ix.Len())
	if len(opts.Only) > 0 {
		matchedSel := make(map[string]bool, len(opts.Only))
		for _, p := range ix.Paths() {
			e, _ := ix.Get(p)
			for _, sel := range opts.Only {
				if strings.Contains(p, sel) {
					entries = append(entries, e)
					matchedSel[sel] = true
					break
				}
			}
		}
		for _, sel := range opts.Only {
			if !matchedSel[sel] {
				plan.Skipped = append(plan.Skipped, sel)
			}
		}
	} else {
		for _, p := range ix.Paths() {
			e, _ := ix.Get(p)
			entries = append(entries, e)
		}
	}

	// Archive-mode entries from a historical manifest must read from the
	// newest bundle that existed when the manifest was recorded. Restoring
	// them from any other bundle would quietly deliver the wrong generation,
	// so an unresolvable snapshot fails the whole plan.
	if opts.Commit != "" && hasArchiveEntries(entries) {
		when, err := s.commitTime(opts.Commit)
		if err != nil {
			return nil, fmt.Errorf("resolving archive snapshot for %s: %w", opts.Commit, err)
		}
		id, err := s.storage.SnapshotAt(when)
		if err != nil {
			return nil, fmt.Errorf("resolving archive snapshot for %s: %w", opts.Commit, err)
		}
		plan.Snapshot = id
	}

	for _, e := range entries {
		dest := RemapPath(e.Path, opts.Remap, opts.ExtractTo)
		res, err := s.CompareEntry(e, dest, CompareOptions{})
		if err != nil {
			var se *ScanError
			if !errors.As(err, &se) {
				return nil, fmt.Errorf("comparing %s: %w", dest, err)
			}
			// Unreadable destination: still restorable, counts as changed.
		}
		if res.State == StateUnchanged {
			continue
		}
		if res.LiveNewer {
			plan.NewerCount++
		}
		src := e.Locator()
		src.Snapshot = snapshotFor(src, plan.Snapshot)
		plan.Actions = append(plan.Actions, RestoreAction{
			Source: src,
			Path:   e.Path,
			Dest:   dest,
			Result: res,
		})
	}

	sort.Slice(plan.Actions, func(i, j int) bool { return plan.Actions[i].Path < plan.Actions[j].Path })
	plan.State = PlanCompared
	s.logger.Debug("restore planned", "plan", plan.ID, "actions", len(plan.Actions), "skipped", len(plan.Skipped))
	return plan, nil
}

func hasArchiveEntries(entries []*FileEntry) bool {
	for _, e := range entries {
		if e.Mode == ModeArchive {
			return true
		}
	}
	return false
}

func snapshotFor(loc Locator, snapshot string) string {
	if loc.Mode != ModeArchive {
		return ""
	}
	return snapshot
}

// resolveBackupSet returns the live index, or the manifest recorded at a
// historical identifier when one is given.
func (s *Service) resolveBackupSet(commit string) (*Index, error) {
	if commit == "" {
		return s.index.Load()
	}
	raw, err := s.versioner.ShowIndex(commit)
	if err != nil {
		return nil, fmt.Errorf("reading manifest at %s: %w", commit, err)
	}
	var ix Index
	if err := json.Unmarshal(raw, &ix); err != nil {
		return nil, fmt.Errorf("parsing manifest at %s: %w", commit, ErrIndexCorrupt)
	}
	if ix.Files == nil {
		ix.Files = make(map[string]*FileEntry)
	}
	return &ix, nil
}

// commitTime looks up when a historical identifier was recorded.
func (s *Service) commitTime(commit string) (time.Time, error) {
	history, err := s.versioner.History(0)
	if err != nil {
		return time.Time{}, err
	}
	for _, h := range history {
		if strings.HasPrefix(h.ID, commit) {
			return h.Time, nil
		}
	}
	return time.Time{}, fmt.Errorf("identifier %s not found in history", commit)
}

// ApplyRestore executes a compared plan: safety backup first, then the
// writes. The safety backup must fully succeed before the first destination
// is overwritten; a failure there aborts the whole restore with every
// destination untouched. Per-action write failures afterwards are collected
// and reported, they never abort the remaining actions.
func (s *Service) ApplyRestore(plan *RestorePlan) (*RestoreReport, error) {
	report := &RestoreReport{PlanID: plan.ID}

	if plan.State != PlanCompared {
		return nil, fmt.Errorf("plan is %s, want %s", plan.State, PlanCompared)
	}
	if len(plan.Actions) == 0 {
		// No destructive step is pending, so no safety backup is created.
		plan.State = PlanApplied
		report.NothingToDo = true
		return report, nil
	}

	safetyDir, err := s.safetyBackup(plan)
	if err != nil {
		plan.Abort()
		return nil, fmt.Errorf("%w: %v", ErrSafetyBackup, err)
	}
	report.SafetyDir = safetyDir
	plan.State = PlanSafetyBackedUp

	for _, action := range plan.Actions {
		data, err := s.storage.Retrieve(action.Source)
		if err != nil {
			report.Failed = append(report.Failed, &ActionError{
				Path: action.Path,
				Dest: action.Dest,
				Err:  err,
			})
			continue
		}
		// The manifest digest is the contract: bytes from a wrong or
		// corrupted bundle must never reach the destination.
		if action.Result != nil && action.Result.BackupHash != "" {
			sum := sha256.Sum256(data)
			if got := hex.EncodeToString(sum[:]); got != action.Result.BackupHash {
				report.Failed = append(report.Failed, &ActionError{
					Path: action.Path,
					Dest: action.Dest,
					Err:  fmt.Errorf("stored content digest %.12s does not match manifest digest %.12s", got, action.Result.BackupHash),
				})
				continue
			}
		}
		if err := os.MkdirAll(filepath.Dir(action.Dest), 0o755); err != nil {
			report.Failed = append(report.Failed, s.writeFailure(action, err))
			continue
		}
		if err := os.WriteFile(action.Dest, data, 0o644); err != nil {
			report.Failed = append(report.Failed, s.writeFailure(action, err))
			continue
		}
		report.Restored = append(report.Restored, action.Dest)
	}

	plan.State = PlanApplied
	s.logger.Info("restore applied",
		"plan", plan.ID, "restored", len(report.Restored),
		"failed", len(report.Failed), "safety_dir", safetyDir)
	return report, nil
}

// writeFailure wraps a destination write error, attaching the extraction
// hint for permission problems.
func (s *Service) writeFailure(action RestoreAction, err error) *ActionError {
	ae := &ActionError{Path: action.Path, Dest: action.Dest, Err: err}
	if errors.Is(err, os.ErrPermission) {
		ae.Hint = "destination not writable; use --extract-to to restore into a directory you own"
	}
	return ae
}

// safetyBackup copies every destination that exists and is about to be
// replaced into a freshly timestamped directory. All copies must succeed,
// or the caller aborts before any destructive write. Returns "" when no
// destination existed.
func (s *Service) safetyBackup(plan *RestorePlan) (string, error) {
	var existing []RestoreAction
	for _, a := range plan.Actions {
		if a.Result != nil && a.Result.LiveExists {
			existing = append(existing, a)
		}
	}
	if len(existing) == 0 {
		return "", nil
	}

	stamp := s.clock.Now().Format(StampFormat)
	dir := filepath.Join(s.opts.SafetyRoot, ".dotkeep-restore-"+stamp)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return "", fmt.Errorf("creating safety directory: %w", err)
	}

	for _, a := range existing {
		rel := strings.TrimPrefix(a.Dest, string(filepath.Separator))
		dst := filepath.Join(dir, rel)
		if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
			return "", fmt.Errorf("preserving %s: %w", a.Dest, err)
		}
		data, err := os.ReadFile(a.Dest)
		if err != nil {
			return "", fmt.Errorf("preserving %s: %w", a.Dest, err)
		}
		if err := os.WriteFile(dst, data, 0o600); err != nil {
			return "", fmt.Errorf("preserving %s: %w", a.Dest, err)
		}
	}

	s.logger.Info("safety backup created", "dir", dir, "files", len(existing))
	return dir, nil
}
