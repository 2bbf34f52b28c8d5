package main

import (
	"encoding/json"
	"fmt"
	"os"

	"dotkeep/internal/keep"

	"github.com/spf13/cobra"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Compare the index against the filesystem",
	RunE: func(cmd *cobra.Command, args []string) error {
		all, _ := cmd.Flags().GetBool("all")
		quick, _ := cmd.Flags().GetBool("quick")
		asJSON, _ := cmd.Flags().GetBool("json")

		a, err := newApp()
		if err != nil {
			return err
		}
		defer a.Close()

		results, scanErrs, err := a.Status(keep.CompareOptions{Quick: quick})
		if err != nil {
			return err
		}

		for _, e := range scanErrs {
			fmt.Fprintf(os.Stderr, "Warning: %s\n", e)
		}

		if asJSON {
			return printStatusJSON(results)
		}

		changed := 0
		for _, r := range results {
			if r.State == keep.StateUnchanged {
				if all {
					fmt.Printf("  unchanged  %s\n", displayPath(r.Path))
				}
				continue
			}
			changed++
			detail := ""
			if r.State == keep.StateChanged && r.BackupSize != r.LiveSize {
				detail = fmt.Sprintf("  (%s -> %s)", formatSize(r.BackupSize), formatSize(r.LiveSize))
			}
			if r.LiveNewer {
				detail += "  [NEWER]"
			}
			fmt.Printf("  %-9s  %s%s\n", r.State, displayPath(r.Path), detail)
		}

		if changed == 0 {
			fmt.Println("Everything up to date.")
		} else {
			fmt.Printf("%d file(s) differ from the last backup.\n", changed)
		}
		return nil
	},
}

// statusRecord is the stable JSON shape for scripting.
type statusRecord struct {
	Path       string `json:"path"`
	State      string `json:"state"`
	LiveExists bool   `json:"live_exists"`
	LiveNewer  bool   `json:"live_newer,omitempty"`
	BackupSize int64  `json:"backup_size,omitempty"`
	LiveSize   int64  `json:"live_size,omitempty"`
}

func printStatusJSON(results []*keep.ComparisonResult) error {
	records := make([]statusRecord, 0, len(results))
	for _, r := range results {
		records = append(records, statusRecord{
			Path:       r.Path,
			State:      string(r.State),
			LiveExists: r.LiveExists,
			LiveNewer:  r.LiveNewer,
			BackupSize: r.BackupSize,
			LiveSize:   r.LiveSize,
		})
	}
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(records)
}

func init() {
	statusCmd.Flags().BoolP("all", "a", false, "Show unchanged files too")
	statusCmd.Flags().BoolP("quick", "q", false, "Compare by size and mtime instead of content hash")
	statusCmd.Flags().Bool("json", false, "Emit machine-readable JSON")
}
