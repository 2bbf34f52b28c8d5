package main

import (
	"fmt"
	"os"
	"strings"
	"time"
)

// formatSize renders a byte count in a human unit.
func formatSize(n int64) string {
	const unit = 1024
	if n < unit {
		return fmt.Sprintf("%d B", n)
	}
	div, exp := int64(unit), 0
	for v := n / unit; v >= unit; v /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %ciB", float64(n)/float64(div), "KMGT"[exp])
}

// formatTime renders a unix timestamp in local time.
func formatTime(epoch int64) string {
	if epoch == 0 {
		return "unknown"
	}
	return time.Unix(epoch, 0).Format("2006-01-02 15:04:05")
}

// displayPath shortens a path under the home directory to the ~ form.
func displayPath(path string) string {
	home, err := os.UserHomeDir()
	if err != nil || home == "" {
		return path
	}
	if path == home {
		return "~"
	}
	if strings.HasPrefix(path, home+string(os.PathSeparator)) {
		return "~" + path[len(home):]
	}
	return path
}
