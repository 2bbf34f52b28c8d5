// Package gitvc drives an external git binary to version the data
// directory. Git is deliberately invoked as a subprocess rather than
// embedded: the repository stays a plain git repo the user can inspect,
// log, and recover from with their own tooling.
package gitvc

import (
	"bytes"
	"fmt"
	"os/exec"
	"strconv"
	"strings"
	"time"

	"dotkeep/internal/keep"
)

// Git versions the contents of dir.
type Git struct {
	dir    string
	logger keep.Logger
}

var _ keep.Versioner = (*Git)(nil)

func New(dir string, logger keep.Logger) *Git {
	return &Git{dir: dir, logger: logger}
}

func (g *Git) run(args ...string) (string, error) {
	cmd := exec.Command("git", args...)
	cmd.Dir = g.dir
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		msg := strings.TrimSpace(stderr.String())
		if msg == "" {
			msg = strings.TrimSpace(stdout.String())
		}
		return "", fmt.Errorf("git %s: %s: %w", args[0], msg, err)
	}
	return strings.TrimSpace(stdout.String()), nil
}

// Available reports whether a git binary is on PATH.
func Available() bool {
	_, err := exec.LookPath("git")
	return err == nil
}

// EnsureRepo initializes a repository in the data directory if one does
// not already exist.
func (g *Git) EnsureRepo() error {
	if _, err := g.run("rev-parse", "--git-dir"); err == nil {
		return nil
	}
	if _, err := g.run("init"); err != nil {
		return fmt.Errorf("initializing repository: %w", err)
	}
	g.logger.Info("initialized git repository", "dir", g.dir)
	return nil
}

// HasIdentity reports whether git has a usable committer identity, either
// repo-local or global.
func (g *Git) HasIdentity() bool {
	name, _ := g.run("config", "user.name")
	email, _ := g.run("config", "user.email")
	return name != "" && email != ""
}

// SetIdentity records a repo-local committer identity.
func (g *Git) SetIdentity(name, email string) error {
	if _, err := g.run("config", "user.name", name); err != nil {
		return err
	}
	if _, err := g.run("config", "user.email", email); err != nil {
		return err
	}
	return nil
}

// Commit stages everything and commits with the given message. When the
// working tree is clean this is not an error: the commit ID comes back
// empty and the caller carries on.
func (g *Git) Commit(changed []string, message string) (string, error) {
	if _, err := g.run("add", "-A"); err != nil {
		return "", fmt.Errorf("staging changes: %w", err)
	}
	out, err := g.run("commit", "-m", message)
	if err != nil {
		if strings.Contains(err.Error(), "nothing to commit") ||
			strings.Contains(out, "nothing to commit") {
			g.logger.Debug("working tree clean, no commit created")
			return "", nil
		}
		return "", fmt.Errorf("committing: %w", err)
	}
	id, err := g.run("rev-parse", "HEAD")
	if err != nil {
		return "", fmt.Errorf("resolving commit: %w", err)
	}
	g.logger.Debug("created commit", "id", id, "files", len(changed))
	return id, nil
}

// History returns commits, newest first. limit <= 0 means all.
func (g *Git) History(limit int) ([]keep.HistoryEntry, error) {
	args := []string{"log", "--format=%H%x09%ct%x09%s"}
	if limit > 0 {
		args = append(args, "-n", strconv.Itoa(limit))
	}
	out, err := g.run(args...)
	if err != nil {
		// A fresh repository has no commits yet.
		if strings.Contains(err.Error(), "does not have any commits") {
			return nil, nil
		}
		return nil, fmt.Errorf("reading history: %w", err)
	}
	return parseLog(out)
}

// parseLog decodes `git log --format=%H%x09%ct%x09%s` output.
func parseLog(out string) ([]keep.HistoryEntry, error) {
	var entries []keep.HistoryEntry
	for _, line := range strings.Split(out, "\n") {
		if line == "" {
			continue
		}
		id, rest, ok := strings.Cut(line, "\t")
		if !ok {
			return nil, fmt.Errorf("malformed log line: %q", line)
		}
		stamp, subject, _ := strings.Cut(rest, "\t")
		epoch, err := strconv.ParseInt(stamp, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("malformed commit time in %q: %w", line, err)
		}
		entries = append(entries, keep.HistoryEntry{
			ID:      id,
			Time:    time.Unix(epoch, 0),
			Message: subject,
		})
	}
	return entries, nil
}

// ShowIndex returns the index file as recorded at a commit.
func (g *Git) ShowIndex(id string) ([]byte, error) {
	out, err := g.run("show", id+":index.json")
	if err != nil {
		return nil, fmt.Errorf("reading index at %s: %w", id, err)
	}
	return []byte(out), nil
}
