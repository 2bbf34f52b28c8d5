package main

import (
	"bufio"
	"fmt"
	"os"
	"strings"

	"dotkeep/internal/app"
	"dotkeep/internal/keep"

	"github.com/pmezard/go-difflib/difflib"
	"github.com/spf13/cobra"
	"golang.org/x/term"
)

var restoreCmd = &cobra.Command{
	Use:   "restore",
	Short: "Restore files from the last or a historical backup",
	RunE: func(cmd *cobra.Command, args []string) error {
		commit, _ := cmd.Flags().GetString("commit")
		dryRun, _ := cmd.Flags().GetBool("dry-run")
		yes, _ := cmd.Flags().GetBool("yes")
		showDiff, _ := cmd.Flags().GetBool("diff")
		only, _ := cmd.Flags().GetStringArray("file")
		extractTo, _ := cmd.Flags().GetString("extract-to")
		remapFlags, _ := cmd.Flags().GetStringArray("remap")

		var rules []keep.RemapRule
		for _, s := range remapFlags {
			rule, err := keep.ParseRemapRule(s)
			if err != nil {
				return err
			}
			rules = append(rules, rule)
		}

		a, err := newApp()
		if err != nil {
			return err
		}
		defer a.Close()

		opts := keep.RestoreOptions{
			Commit:    commit,
			Only:      only,
			Remap:     rules,
			ExtractTo: extractTo,
		}

		plan, err := a.PlanRestore(opts)
		if err != nil {
			return err
		}

		for _, sel := range plan.Skipped {
			fmt.Fprintf(os.Stderr, "Warning: no indexed file matches %q\n", sel)
		}

		if len(plan.Actions) == 0 {
			fmt.Println("Nothing to restore, everything matches the backup.")
			return nil
		}

		printPlan(plan)

		if dryRun {
			plan.MarkDryRun()
			fmt.Printf("\nDry run: %d file(s) would be restored. No changes made.\n", len(plan.Actions))
			return nil
		}

		if !yes {
			switch promptRestore(a, plan, showDiff) {
			case answerNo:
				plan.Abort()
				fmt.Println("Restore aborted.")
				return nil
			case answerYes:
			}
		}

		report, err := a.ApplyRestore(plan)
		if err != nil {
			return err
		}

		if report.SafetyDir != "" {
			fmt.Printf("Current versions saved to %s\n", displayPath(report.SafetyDir))
		}
		for _, f := range report.Failed {
			fmt.Fprintf(os.Stderr, "Error: %s\n", f)
		}
		fmt.Printf("Restored %d file(s)", len(report.Restored))
		if len(report.Failed) > 0 {
			fmt.Printf(", %d failed", len(report.Failed))
		}
		fmt.Println(".")
		if len(report.Failed) > 0 {
			return fmt.Errorf("%d file(s) could not be restored", len(report.Failed))
		}
		return nil
	},
}

// printPlan lists every pending action with the backup and live versions
// side by side.
func printPlan(plan *keep.RestorePlan) {
	fmt.Printf("Restore plan (%d file(s)):\n", len(plan.Actions))
	for _, action := range plan.Actions {
		r := action.Result
		marker := ""
		if r.LiveNewer {
			marker = "  [NEWER]"
		}
		fmt.Printf("\n  %s%s\n", displayPath(action.Dest), marker)
		if action.Dest != action.Path {
			fmt.Printf("    From:    %s\n", displayPath(action.Path))
		}
		fmt.Printf("    Backup:  %s, %s\n", formatSize(r.BackupSize), formatTime(r.BackupMtime))
		if r.LiveExists {
			fmt.Printf("    Current: %s, %s\n", formatSize(r.LiveSize), formatTime(r.LiveMtime))
		} else {
			fmt.Printf("    Current: (missing)\n")
		}
	}
	if plan.NewerCount > 0 {
		fmt.Printf("\n%d file(s) on disk are newer than the backup.\n", plan.NewerCount)
	}
}

type answer int

const (
	answerNo answer = iota
	answerYes
)

// promptRestore asks for confirmation. Answering d shows diffs for the
// planned files and asks again.
func promptRestore(a *app.App, plan *keep.RestorePlan, diffFirst bool) answer {
	if !term.IsTerminal(int(os.Stdin.Fd())) {
		fmt.Fprintln(os.Stderr, "Refusing to restore without confirmation on a non-terminal; use --yes or --dry-run.")
		return answerNo
	}

	if diffFirst {
		printDiffs(a, plan)
	}

	reader := bufio.NewReader(os.Stdin)
	for {
		fmt.Printf("\nRestore these files? [y/N/d=diff] ")
		line, err := reader.ReadString('\n')
		if err != nil {
			return answerNo
		}
		switch strings.ToLower(strings.TrimSpace(line)) {
		case "y", "yes":
			return answerYes
		case "d", "diff":
			printDiffs(a, plan)
		default:
			return answerNo
		}
	}
}

// printDiffs shows a unified diff from the live file to the backup
// content for each planned action.
func printDiffs(a *app.App, plan *keep.RestorePlan) {
	for _, action := range plan.Actions {
		backup, err := a.Retrieve(action.Source)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Warning: cannot read backup of %s: %v\n", displayPath(action.Path), err)
			continue
		}
		live, err := os.ReadFile(action.Dest)
		if err != nil {
			live = nil
		}
		text, err := difflib.GetUnifiedDiffString(difflib.UnifiedDiff{
			A:        difflib.SplitLines(string(live)),
			B:        difflib.SplitLines(string(backup)),
			FromFile: displayPath(action.Dest) + " (current)",
			ToFile:   displayPath(action.Path) + " (backup)",
			Context:  3,
		})
		if err != nil {
			fmt.Fprintf(os.Stderr, "Warning: diff failed for %s: %v\n", displayPath(action.Dest), err)
			continue
		}
		if text == "" {
			continue
		}
		fmt.Print(text)
	}
}

func init() {
	restoreCmd.Flags().String("commit", "", "Restore from a historical backup identifier (see history)")
	restoreCmd.Flags().Bool("dry-run", false, "Show the plan without writing anything")
	restoreCmd.Flags().BoolP("yes", "y", false, "Skip the confirmation prompt")
	restoreCmd.Flags().Bool("diff", false, "Show diffs before the confirmation prompt")
	restoreCmd.Flags().StringArray("file", nil, "Restore only files whose path contains this substring (repeatable)")
	restoreCmd.Flags().String("extract-to", "", "Write files under this directory instead of their original locations")
	restoreCmd.Flags().StringArray("remap", nil, "Rewrite a destination prefix, as FROM=TO (repeatable)")
}
