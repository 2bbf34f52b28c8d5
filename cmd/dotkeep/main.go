package main

import (
	"bufio"
	"fmt"
	"os"
	"strings"

	"dotkeep/internal/app"
	"dotkeep/internal/keep"

	"github.com/spf13/cobra"
)

var verbosity int

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

// newApp wires the application from config. The caller must defer Close.
func newApp() (*app.App, error) {
	return app.New(verbosity)
}

var rootCmd = &cobra.Command{
	Use:           "dotkeep",
	Short:         "Backup and restore configuration files",
	SilenceUsage:  true,
	SilenceErrors: true,
}

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Initialize config and data directory",
	RunE: func(cmd *cobra.Command, args []string) error {
		noGit, _ := cmd.Flags().GetBool("no-git")

		result, err := app.InitWorkspace(!noGit)
		if err != nil {
			return err
		}

		fmt.Printf("Configuration initialized at %s\n", result.ConfigPath)
		fmt.Printf("Data directory: %s\n", result.DataDir)
		if result.GitEnabled {
			if result.GitIdentity {
				fmt.Println("Git versioning: enabled")
			} else {
				fmt.Println("Git versioning: enabled (git not found, history disabled)")
			}
		} else {
			fmt.Println("Git versioning: disabled")
		}
		return nil
	},
}

var addCmd = &cobra.Command{
	Use:   "add PATTERN...",
	Short: "Track file patterns",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		mode, _ := cmd.Flags().GetString("mode")

		if len(args) > 10 {
			fmt.Fprintf(os.Stderr, "Warning: %d patterns given; did you mean to quote a glob?\n", len(args))
		}

		a, err := newApp()
		if err != nil {
			return err
		}
		defer a.Close()

		for _, pattern := range args {
			added, err := a.Track(pattern, mode)
			if err != nil {
				return err
			}
			if added {
				fmt.Printf("Tracking: %s\n", pattern)
			} else {
				fmt.Printf("Already tracked: %s\n", pattern)
			}
		}
		return nil
	},
}

var removeCmd = &cobra.Command{
	Use:   "remove PATTERN...",
	Short: "Stop tracking file patterns",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp()
		if err != nil {
			return err
		}
		defer a.Close()

		for _, pattern := range args {
			removed, err := a.Untrack(pattern)
			if err != nil {
				return err
			}
			if removed {
				fmt.Printf("No longer tracking: %s\n", pattern)
			} else {
				fmt.Printf("Not tracked: %s\n", pattern)
			}
		}
		return nil
	},
}

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "Show tracked patterns",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp()
		if err != nil {
			return err
		}
		defer a.Close()

		cfg := a.Config()
		if len(cfg.Tracked) == 0 {
			fmt.Println("No patterns tracked.")
			return nil
		}

		fmt.Printf("Tracked patterns (default mode: %s):\n", cfg.DefaultMode())
		for _, t := range cfg.Tracked {
			if t.Mode != "" {
				fmt.Printf("  %s  [%s]\n", t.Pattern, t.Mode)
			} else {
				fmt.Printf("  %s\n", t.Pattern)
			}
		}
		if len(cfg.Exclude) > 0 {
			fmt.Println("Excluded:")
			for _, e := range cfg.Exclude {
				fmt.Printf("  %s\n", e)
			}
		}
		return nil
	},
}

var scanCmd = &cobra.Command{
	Use:   "scan",
	Short: "Refresh the file index from tracked patterns",
	RunE: func(cmd *cobra.Command, args []string) error {
		yes, _ := cmd.Flags().GetBool("yes")

		a, err := newApp()
		if err != nil {
			return err
		}
		defer a.Close()

		result, err := a.Scan()
		if err != nil {
			return err
		}

		for _, w := range result.Warnings {
			fmt.Fprintf(os.Stderr, "Warning: %s\n", w)
		}
		for _, e := range result.Errors {
			fmt.Fprintf(os.Stderr, "Error: %s\n", e)
		}

		fmt.Printf("Indexed %d file(s): %d new, %d updated, %d unchanged\n",
			result.Total(), len(result.New), len(result.Updated), len(result.Unchanged))

		if len(result.Orphans) > 0 {
			fmt.Printf("\n%d indexed file(s) no longer match any pattern:\n", len(result.Orphans))
			for _, p := range result.Orphans {
				fmt.Printf("  %s\n", displayPath(p))
			}
			if yes || confirm("Remove them from the index?") {
				n, err := a.RemoveOrphans(result.Orphans)
				if err != nil {
					return err
				}
				fmt.Printf("Removed %d entr%s.\n", n, plural(n, "y", "ies"))
			}
		}
		return nil
	},
}

var backupCmd = &cobra.Command{
	Use:   "backup",
	Short: "Back up changed files",
	RunE: func(cmd *cobra.Command, args []string) error {
		message, _ := cmd.Flags().GetString("message")

		a, err := newApp()
		if err != nil {
			return err
		}
		defer a.Close()

		result, err := a.Backup(message)
		if err != nil {
			return err
		}

		for _, w := range result.Warnings {
			fmt.Fprintf(os.Stderr, "Warning: %s\n", w)
		}
		for _, e := range result.Errors {
			fmt.Fprintf(os.Stderr, "Error: %s\n", e)
		}

		fmt.Printf("Backed up %d file(s) (%d deduplicated), %d unchanged\n",
			result.BackedUp, result.Deduplicated, result.Unchanged)
		if result.Snapshot != nil {
			fmt.Printf("Archived %d file(s) to %s (%s)\n",
				result.Archived, result.Snapshot.ID, formatSize(result.Snapshot.Size))
		}
		if result.CommitID != "" {
			fmt.Printf("Committed as %s\n", shortID(result.CommitID))
		}
		return nil
	},
}

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "View backup history",
	RunE: func(cmd *cobra.Command, args []string) error {
		limit, _ := cmd.Flags().GetInt("limit")

		a, err := newApp()
		if err != nil {
			return err
		}
		defer a.Close()

		entries, err := a.History(limit)
		if err != nil {
			return err
		}

		if len(entries) == 0 {
			fmt.Println("No backups recorded.")
			return nil
		}

		for _, e := range entries {
			fmt.Printf("%s  %s  %s\n",
				shortID(e.ID),
				e.Time.Format("2006-01-02 15:04:05"),
				e.Message,
			)
		}
		return nil
	},
}

// confirm prompts on stdin for a y/N answer.
func confirm(prompt string) bool {
	fmt.Printf("%s [y/N] ", prompt)
	reader := bufio.NewReader(os.Stdin)
	line, err := reader.ReadString('\n')
	if err != nil {
		return false
	}
	answer := strings.ToLower(strings.TrimSpace(line))
	return answer == "y" || answer == "yes"
}

func plural(n int, one, many string) string {
	if n == 1 {
		return one
	}
	return many
}

func shortID(id string) string {
	if len(id) > 12 {
		return id[:12]
	}
	return id
}

func init() {
	rootCmd.PersistentFlags().CountVarP(&verbosity, "verbose", "v", "Increase log verbosity (-v, -vv)")

	initCmd.Flags().Bool("no-git", false, "Disable git versioning of the data directory")
	addCmd.Flags().String("mode", "", fmt.Sprintf("Backup mode override (%s or %s)", keep.ModeIncremental, keep.ModeArchive))
	scanCmd.Flags().BoolP("yes", "y", false, "Answer yes to prompts")
	backupCmd.Flags().StringP("message", "m", "", "Commit message for this backup")
	historyCmd.Flags().IntP("limit", "n", 20, "Maximum number of backups to show")

	rootCmd.AddCommand(initCmd)
	rootCmd.AddCommand(addCmd)
	rootCmd.AddCommand(removeCmd)
	rootCmd.AddCommand(listCmd)
	rootCmd.AddCommand(scanCmd)
	rootCmd.AddCommand(backupCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(historyCmd)
	rootCmd.AddCommand(restoreCmd)
}
