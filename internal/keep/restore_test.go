package keep_test

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"dotkeep/internal/keep"
)

func TestParseRemapRule(t *testing.T) {
	t.Run("parses from=to", func(t *testing.T) {
		rule, err := keep.ParseRemapRule("/home/alice=/home/bob")
		if err != nil {
			t.Fatalf("ParseRemapRule() error = %v", err)
		}
		if rule.From != "/home/alice" || rule.To != "/home/bob" {
			t.Errorf("rule = %+v", rule)
		}
	})

	t.Run("rejects malformed input", func(t *testing.T) {
		for _, s := range []string{"/home/alice", "=/home/bob", "/home/alice=", ""} {
			if _, err := keep.ParseRemapRule(s); err == nil {
				t.Errorf("ParseRemapRule(%q) accepted, want error", s)
			}
		}
	})
}

func TestRemapPath(t *testing.T) {
	rules := []keep.RemapRule{
		{From: "/home/alice/.config", To: "/home/bob/.cfg"},
		{From: "/home/alice", To: "/home/bob"},
	}

	tests := []struct {
		name      string
		path      string
		rules     []keep.RemapRule
		extractTo string
		want      string
	}{
		{"no rules passes through", "/etc/hosts", nil, "", "/etc/hosts"},
		{"first matching prefix wins", "/home/alice/.config/app.toml", rules, "", "/home/bob/.cfg/app.toml"},
		{"later rule applies when earlier misses", "/home/alice/.bashrc", rules, "", "/home/bob/.bashrc"},
		{"unmatched path is unchanged", "/etc/hosts", rules, "", "/etc/hosts"},
		{"extract-to reroots preserving structure", "/home/alice/.bashrc", nil, "/tmp/out", "/tmp/out/home/alice/.bashrc"},
		{"remap then extract-to compose", "/home/alice/.bashrc", rules, "/tmp/out", "/tmp/out/home/bob/.bashrc"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := keep.RemapPath(tt.path, tt.rules, tt.extractTo); got != tt.want {
				t.Errorf("RemapPath(%q) = %q, want %q", tt.path, got, tt.want)
			}
		})
	}
}

func TestService_PlanRestore(t *testing.T) {
	t.Run("plans only files that differ", func(t *testing.T) {
		f := newFixture(t)
		same := f.file(t, "same.conf", "stable\n")
		edited := f.file(t, "edited.conf", "v1\n")
		svc := f.service(t, literal(same, edited))

		if _, err := svc.Backup(""); err != nil {
			t.Fatalf("Backup() error = %v", err)
		}
		f.file(t, "edited.conf", "v2\n")

		plan, err := svc.PlanRestore(keep.RestoreOptions{})
		if err != nil {
			t.Fatalf("PlanRestore() error = %v", err)
		}
		if plan.State != keep.PlanCompared {
			t.Errorf("State = %s, want %s", plan.State, keep.PlanCompared)
		}
		if len(plan.Actions) != 1 || plan.Actions[0].Path != edited {
			t.Fatalf("Actions = %+v, want one for %s", plan.Actions, edited)
		}
	})

	t.Run("selection without a match is skipped with a warning", func(t *testing.T) {
		f := newFixture(t)
		a := f.file(t, "a.conf", "x\n")
		svc := f.service(t, literal(a))
		if _, err := svc.Backup(""); err != nil {
			t.Fatalf("Backup() error = %v", err)
		}
		f.file(t, "a.conf", "y\n")

		plan, err := svc.PlanRestore(keep.RestoreOptions{Only: []string{"a.conf", "nomatch"}})
		if err != nil {
			t.Fatalf("PlanRestore() error = %v", err)
		}
		if len(plan.Actions) != 1 {
			t.Errorf("Actions = %d, want 1", len(plan.Actions))
		}
		if len(plan.Skipped) != 1 || plan.Skipped[0] != "nomatch" {
			t.Errorf("Skipped = %v, want [nomatch]", plan.Skipped)
		}
	})

	t.Run("counts live files newer than the backup", func(t *testing.T) {
		f := newFixture(t)
		a := f.file(t, "a.conf", "old\n")
		svc := f.service(t, literal(a))
		if _, err := svc.Backup(""); err != nil {
			t.Fatalf("Backup() error = %v", err)
		}

		f.file(t, "a.conf", "newer on disk\n")
		ix, _ := f.store.Load()
		entry, _ := ix.Get(a)
		later := time.Unix(entry.ModifiedAt, 0).Add(time.Hour)
		if err := os.Chtimes(a, later, later); err != nil {
			t.Fatalf("Chtimes() error = %v", err)
		}

		plan, err := svc.PlanRestore(keep.RestoreOptions{})
		if err != nil {
			t.Fatalf("PlanRestore() error = %v", err)
		}
		if plan.NewerCount != 1 {
			t.Errorf("NewerCount = %d, want 1", plan.NewerCount)
		}
	})

	t.Run("extract-to reroutes every destination", func(t *testing.T) {
		f := newFixture(t)
		a := f.file(t, "a.conf", "v1\n")
		svc := f.service(t, literal(a))
		if _, err := svc.Backup(""); err != nil {
			t.Fatalf("Backup() error = %v", err)
		}

		out := t.TempDir()
		plan, err := svc.PlanRestore(keep.RestoreOptions{ExtractTo: out})
		if err != nil {
			t.Fatalf("PlanRestore() error = %v", err)
		}
		// The extract destination does not exist yet, so every entry differs.
		if len(plan.Actions) != 1 {
			t.Fatalf("Actions = %d, want 1", len(plan.Actions))
		}
		dest := plan.Actions[0].Dest
		if !strings.HasPrefix(dest, out) {
			t.Errorf("Dest = %s, want under %s", dest, out)
		}
		if plan.Actions[0].Path != a {
			t.Errorf("Path = %s, want %s", plan.Actions[0].Path, a)
		}
	})

	t.Run("historical manifest drives the backup set", func(t *testing.T) {
		f := newFixture(t)
		a := f.file(t, "a.conf", "generation 1\n")
		svc := f.service(t, literal(a))

		first, err := svc.Backup("")
		if err != nil {
			t.Fatalf("Backup() error = %v", err)
		}
		raw, err := os.ReadFile(filepath.Join(f.dataDir, "index.json"))
		if err != nil {
			t.Fatalf("ReadFile() error = %v", err)
		}
		f.versioner.Manifests[first.CommitID] = raw

		f.file(t, "a.conf", "generation 2\n")
		if _, err := svc.Backup(""); err != nil {
			t.Fatalf("Backup() error = %v", err)
		}

		plan, err := svc.PlanRestore(keep.RestoreOptions{Commit: first.CommitID})
		if err != nil {
			t.Fatalf("PlanRestore() error = %v", err)
		}
		if len(plan.Actions) != 1 {
			t.Fatalf("Actions = %d, want 1", len(plan.Actions))
		}

		report, err := svc.ApplyRestore(plan)
		if err != nil {
			t.Fatalf("ApplyRestore() error = %v", err)
		}
		if len(report.Restored) != 1 {
			t.Fatalf("Restored = %v", report.Restored)
		}
		got, _ := os.ReadFile(a)
		if string(got) != "generation 1\n" {
			t.Errorf("restored content = %q, want generation 1", got)
		}
	})

	t.Run("historical archive restore reads the matching bundle", func(t *testing.T) {
		f := newFixture(t)
		a := f.file(t, "notes.conf", "generation 1\n")
		svc := f.service(t, []keep.Pattern{{Glob: a, Mode: keep.ModeArchive}})

		firstStamp := f.clock.Now()
		first, err := svc.Backup("")
		if err != nil {
			t.Fatalf("Backup() error = %v", err)
		}
		raw, err := os.ReadFile(filepath.Join(f.dataDir, "index.json"))
		if err != nil {
			t.Fatalf("ReadFile() error = %v", err)
		}
		f.versioner.Manifests[first.CommitID] = raw

		f.clock.Advance(24 * time.Hour)
		f.file(t, "notes.conf", "generation 2\n")
		if _, err := svc.Backup(""); err != nil {
			t.Fatalf("Backup() error = %v", err)
		}

		plan, err := svc.PlanRestore(keep.RestoreOptions{Commit: first.CommitID})
		if err != nil {
			t.Fatalf("PlanRestore() error = %v", err)
		}
		wantBundle := "backup-" + firstStamp.Format(keep.StampFormat) + ".tar.gz"
		if plan.Snapshot != wantBundle {
			t.Fatalf("Snapshot = %s, want %s", plan.Snapshot, wantBundle)
		}

		report, err := svc.ApplyRestore(plan)
		if err != nil {
			t.Fatalf("ApplyRestore() error = %v", err)
		}
		if len(report.Failed) != 0 {
			t.Fatalf("Failed = %v", report.Failed)
		}
		got, _ := os.ReadFile(a)
		if string(got) != "generation 1\n" {
			t.Errorf("restored content = %q, want the manifest's generation", got)
		}
	})

	t.Run("archive restore from an unresolvable identifier fails the plan", func(t *testing.T) {
		f := newFixture(t)
		a := f.file(t, "notes.conf", "generation 1\n")
		svc := f.service(t, []keep.Pattern{{Glob: a, Mode: keep.ModeArchive}})

		if _, err := svc.Backup(""); err != nil {
			t.Fatalf("Backup() error = %v", err)
		}
		raw, err := os.ReadFile(filepath.Join(f.dataDir, "index.json"))
		if err != nil {
			t.Fatalf("ReadFile() error = %v", err)
		}
		// The manifest exists but its identifier never made it into history,
		// so the bundle that matches it cannot be determined.
		f.versioner.Manifests["deadbeef"] = raw

		f.clock.Advance(24 * time.Hour)
		f.file(t, "notes.conf", "generation 2\n")
		if _, err := svc.Backup(""); err != nil {
			t.Fatalf("Backup() error = %v", err)
		}

		_, err = svc.PlanRestore(keep.RestoreOptions{Commit: "deadbeef"})
		if err == nil {
			t.Fatal("PlanRestore() succeeded, want an error instead of restoring from the wrong bundle")
		}
		if !strings.Contains(err.Error(), "deadbeef") {
			t.Errorf("error = %v, want the identifier named", err)
		}

		got, _ := os.ReadFile(a)
		if string(got) != "generation 2\n" {
			t.Errorf("live file modified by a failed plan: %q", got)
		}
	})

	t.Run("corrupt historical manifest is rejected", func(t *testing.T) {
		f := newFixture(t)
		a := f.file(t, "a.conf", "x\n")
		svc := f.service(t, literal(a))
		result, err := svc.Backup("")
		if err != nil {
			t.Fatalf("Backup() error = %v", err)
		}
		f.versioner.Manifests[result.CommitID] = []byte("{not json")

		_, err = svc.PlanRestore(keep.RestoreOptions{Commit: result.CommitID})
		if !errors.Is(err, keep.ErrIndexCorrupt) {
			t.Errorf("error = %v, want ErrIndexCorrupt", err)
		}
	})
}

func TestService_ApplyRestore(t *testing.T) {
	t.Run("preserves current versions before overwriting", func(t *testing.T) {
		f := newFixture(t)
		a := f.file(t, "a.conf", "backed up\n")
		svc := f.service(t, literal(a))
		if _, err := svc.Backup(""); err != nil {
			t.Fatalf("Backup() error = %v", err)
		}
		f.file(t, "a.conf", "live edit\n")

		plan, err := svc.PlanRestore(keep.RestoreOptions{})
		if err != nil {
			t.Fatalf("PlanRestore() error = %v", err)
		}
		report, err := svc.ApplyRestore(plan)
		if err != nil {
			t.Fatalf("ApplyRestore() error = %v", err)
		}
		if plan.State != keep.PlanApplied {
			t.Errorf("State = %s, want %s", plan.State, keep.PlanApplied)
		}

		got, _ := os.ReadFile(a)
		if string(got) != "backed up\n" {
			t.Errorf("restored content = %q", got)
		}

		if report.SafetyDir == "" {
			t.Fatal("SafetyDir empty, want a populated safety backup")
		}
		saved := filepath.Join(report.SafetyDir, strings.TrimPrefix(a, string(filepath.Separator)))
		data, err := os.ReadFile(saved)
		if err != nil {
			t.Fatalf("safety copy missing: %v", err)
		}
		if string(data) != "live edit\n" {
			t.Errorf("safety copy = %q, want the pre-restore content", data)
		}
	})

	t.Run("recreates deleted files without a safety backup", func(t *testing.T) {
		f := newFixture(t)
		a := f.file(t, "a.conf", "content\n")
		svc := f.service(t, literal(a))
		if _, err := svc.Backup(""); err != nil {
			t.Fatalf("Backup() error = %v", err)
		}
		if err := os.Remove(a); err != nil {
			t.Fatalf("Remove() error = %v", err)
		}

		plan, err := svc.PlanRestore(keep.RestoreOptions{})
		if err != nil {
			t.Fatalf("PlanRestore() error = %v", err)
		}
		report, err := svc.ApplyRestore(plan)
		if err != nil {
			t.Fatalf("ApplyRestore() error = %v", err)
		}
		if report.SafetyDir != "" {
			t.Errorf("SafetyDir = %s, want empty when nothing existed", report.SafetyDir)
		}
		got, _ := os.ReadFile(a)
		if string(got) != "content\n" {
			t.Errorf("restored content = %q", got)
		}
	})

	t.Run("aborts everything when the safety backup fails", func(t *testing.T) {
		f := newFixture(t)
		a := f.file(t, "a.conf", "backed up\n")
		svc := f.service(t, literal(a))
		if _, err := svc.Backup(""); err != nil {
			t.Fatalf("Backup() error = %v", err)
		}
		f.file(t, "a.conf", "must survive\n")

		// A regular file where the safety directory must go makes MkdirAll fail.
		blocker := filepath.Join(f.home, ".dotkeep-restore-"+f.clock.Now().Format(keep.StampFormat))
		if err := os.WriteFile(blocker, []byte("in the way"), 0o644); err != nil {
			t.Fatalf("WriteFile() error = %v", err)
		}

		plan, err := svc.PlanRestore(keep.RestoreOptions{})
		if err != nil {
			t.Fatalf("PlanRestore() error = %v", err)
		}
		_, err = svc.ApplyRestore(plan)
		if !errors.Is(err, keep.ErrSafetyBackup) {
			t.Fatalf("error = %v, want ErrSafetyBackup", err)
		}
		if plan.State != keep.PlanAborted {
			t.Errorf("State = %s, want %s", plan.State, keep.PlanAborted)
		}

		got, _ := os.ReadFile(a)
		if string(got) != "must survive\n" {
			t.Errorf("destination touched despite abort: %q", got)
		}
	})

	t.Run("content failing manifest verification is never written", func(t *testing.T) {
		f := newFixture(t)
		a := f.file(t, "a.conf", "trusted bytes\n")
		svc := f.service(t, literal(a))
		if _, err := svc.Backup(""); err != nil {
			t.Fatalf("Backup() error = %v", err)
		}

		ix, _ := f.store.Load()
		entry, _ := ix.Get(a)
		object := filepath.Join(f.dataDir, "storage", entry.Hash[:2], entry.Hash)
		if err := os.WriteFile(object, []byte("tampered bytes"), 0o644); err != nil {
			t.Fatalf("WriteFile() error = %v", err)
		}
		if err := os.Remove(a); err != nil {
			t.Fatalf("Remove() error = %v", err)
		}

		plan, err := svc.PlanRestore(keep.RestoreOptions{})
		if err != nil {
			t.Fatalf("PlanRestore() error = %v", err)
		}
		report, err := svc.ApplyRestore(plan)
		if err != nil {
			t.Fatalf("ApplyRestore() error = %v", err)
		}
		if len(report.Failed) != 1 {
			t.Fatalf("Failed = %v, want one digest mismatch", report.Failed)
		}
		if !strings.Contains(report.Failed[0].Error(), "digest") {
			t.Errorf("failure = %v, want a digest mismatch", report.Failed[0])
		}
		if len(report.Restored) != 0 {
			t.Errorf("Restored = %v, want none", report.Restored)
		}
		if _, err := os.Stat(a); !os.IsNotExist(err) {
			t.Error("tampered content was written to the destination")
		}
	})

	t.Run("empty plan applies as nothing to do", func(t *testing.T) {
		f := newFixture(t)
		a := f.file(t, "a.conf", "x\n")
		svc := f.service(t, literal(a))
		if _, err := svc.Backup(""); err != nil {
			t.Fatalf("Backup() error = %v", err)
		}

		plan, err := svc.PlanRestore(keep.RestoreOptions{})
		if err != nil {
			t.Fatalf("PlanRestore() error = %v", err)
		}
		if len(plan.Actions) != 0 {
			t.Fatalf("Actions = %d, want 0", len(plan.Actions))
		}
		report, err := svc.ApplyRestore(plan)
		if err != nil {
			t.Fatalf("ApplyRestore() error = %v", err)
		}
		if !report.NothingToDo {
			t.Error("NothingToDo = false, want true")
		}
		if report.SafetyDir != "" {
			t.Errorf("SafetyDir = %s, want empty", report.SafetyDir)
		}
	})

	t.Run("rejects a plan that was not compared", func(t *testing.T) {
		f := newFixture(t)
		svc := f.service(t, nil)

		plan := &keep.RestorePlan{ID: "p", State: keep.PlanAborted}
		if _, err := svc.ApplyRestore(plan); err == nil {
			t.Fatal("ApplyRestore() accepted an aborted plan")
		}
	})

	t.Run("dry run leaves the filesystem untouched", func(t *testing.T) {
		f := newFixture(t)
		a := f.file(t, "a.conf", "v1\n")
		svc := f.service(t, literal(a))
		if _, err := svc.Backup(""); err != nil {
			t.Fatalf("Backup() error = %v", err)
		}
		f.file(t, "a.conf", "v2\n")

		plan, err := svc.PlanRestore(keep.RestoreOptions{})
		if err != nil {
			t.Fatalf("PlanRestore() error = %v", err)
		}
		plan.MarkDryRun()
		if plan.State != keep.PlanDryRunCompleted {
			t.Errorf("State = %s, want %s", plan.State, keep.PlanDryRunCompleted)
		}

		got, _ := os.ReadFile(a)
		if string(got) != "v2\n" {
			t.Errorf("file modified by dry run: %q", got)
		}
		entries, err := os.ReadDir(f.home)
		if err != nil {
			t.Fatalf("ReadDir() error = %v", err)
		}
		for _, e := range entries {
			if strings.HasPrefix(e.Name(), ".dotkeep-restore-") {
				t.Errorf("safety directory created by dry run: %s", e.Name())
			}
		}
	})
}
