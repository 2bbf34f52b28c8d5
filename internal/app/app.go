// Package app is the wiring layer between the CLI and the service. It
// resolves paths, loads config, constructs all dependencies, and exposes
// the high-level operations the commands call.
package app

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"dotkeep/internal/config"
	"dotkeep/internal/gitvc"
	"dotkeep/internal/index"
	"dotkeep/internal/keep"
	"dotkeep/internal/scan"
	"dotkeep/internal/storage"
)

// App is the application layer. It constructs all dependencies from
// config and owns the log file lifecycle; the caller must call Close
// when done.
type App struct {
	cfg        *config.Config
	configPath string
	dataDir    string
	service    *keep.Service
	logger     keep.Logger
	logFile    *os.File
}

// New creates a fully wired App. The config file must already exist;
// use InitWorkspace for first-time setup.
func New(verbosity int) (*App, error) {
	defaults := GetDefaults()

	cfg, err := config.ReadFromFile(defaults.ConfigPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("no config found at %s, run 'dotkeep init' first", defaults.ConfigPath)
		}
		return nil, err
	}

	dataDir := ResolveDataDir(cfg.DataDir)

	zl, logFile, err := newLogger(defaults.LogPath, verbosity)
	if err != nil {
		return nil, fmt.Errorf("creating logger: %w", err)
	}
	logger := &zerologAdapter{l: zl}

	clock := keep.RealClock{}

	engine, err := storage.NewEngine(dataDir, clock)
	if err != nil {
		if logFile != nil {
			logFile.Close()
		}
		return nil, fmt.Errorf("opening storage: %w", err)
	}

	var versioner keep.Versioner
	if cfg.GitEnabled {
		if !gitvc.Available() {
			logger.Warn("git not found on PATH, version history is disabled")
		} else {
			git := gitvc.New(dataDir, logger)
			if err := git.EnsureRepo(); err != nil {
				if logFile != nil {
					logFile.Close()
				}
				return nil, err
			}
			versioner = git
		}
	}

	home, err := os.UserHomeDir()
	if err != nil {
		if logFile != nil {
			logFile.Close()
		}
		return nil, fmt.Errorf("cannot determine home directory: %w", err)
	}

	svc := keep.NewService(
		index.NewStore(filepath.Join(dataDir, "index.json")),
		engine,
		scan.New(0, logger),
		versioner,
		logger,
		clock,
		keep.UUIDGenerator{},
		keep.Options{
			Patterns:    cfg.Patterns(),
			Excludes:    cfg.Exclude,
			DefaultMode: cfg.DefaultMode(),
			SafetyRoot:  home,
		},
	)

	return &App{
		cfg:        cfg,
		configPath: defaults.ConfigPath,
		dataDir:    dataDir,
		service:    svc,
		logger:     logger,
		logFile:    logFile,
	}, nil
}

// Close releases the log file.
func (a *App) Close() error {
	if a.logFile != nil {
		return a.logFile.Close()
	}
	return nil
}

// DataDir returns the resolved data directory.
func (a *App) DataDir() string { return a.dataDir }

// ConfigPath returns the config file location in use.
func (a *App) ConfigPath() string { return a.configPath }

// Config returns the loaded configuration.
func (a *App) Config() *config.Config { return a.cfg }

// InitResult reports what first-time setup created.
type InitResult struct {
	ConfigPath  string
	DataDir     string
	GitEnabled  bool
	GitIdentity bool
}

// InitWorkspace performs first-time setup: writes the default config,
// creates the data directory with an empty index and the storage layout,
// and initializes the git repository when enabled and available.
func InitWorkspace(gitEnabled bool) (*InitResult, error) {
	defaults := GetDefaults()

	cfg := config.NewConfig()
	cfg.GitEnabled = gitEnabled
	if err := config.Init(defaults.ConfigPath, cfg); err != nil {
		return nil, err
	}

	dataDir := defaults.DataDir
	clock := keep.RealClock{}
	if _, err := storage.NewEngine(dataDir, clock); err != nil {
		return nil, fmt.Errorf("creating data directory: %w", err)
	}

	store := index.NewStore(filepath.Join(dataDir, "index.json"))
	if err := store.Persist(keep.NewIndex()); err != nil {
		return nil, fmt.Errorf("writing empty index: %w", err)
	}

	result := &InitResult{
		ConfigPath: defaults.ConfigPath,
		DataDir:    dataDir,
		GitEnabled: gitEnabled,
	}

	if gitEnabled && gitvc.Available() {
		git := gitvc.New(dataDir, keep.NewNopLogger())
		if err := git.EnsureRepo(); err != nil {
			return nil, err
		}
		if !git.HasIdentity() {
			if err := git.SetIdentity("dotkeep", "dotkeep@localhost"); err != nil {
				return nil, fmt.Errorf("setting git identity: %w", err)
			}
		}
		result.GitIdentity = true
		if _, err := git.Commit(nil, "Initialize dotkeep"); err != nil {
			return nil, fmt.Errorf("initial commit: %w", err)
		}
	}

	return result, nil
}

// Track adds a pattern to the tracked list and persists the config.
// Reports whether the pattern was newly added.
func (a *App) Track(pattern, mode string) (bool, error) {
	if mode != "" {
		if _, err := keep.ParseBackupMode(mode); err != nil {
			return false, err
		}
	}
	if !a.cfg.Track(pattern, mode) {
		return false, nil
	}
	if err := config.WriteToFile(a.configPath, a.cfg); err != nil {
		return false, err
	}
	return true, nil
}

// Untrack removes a pattern from the tracked list and persists the
// config. Reports whether the pattern was present.
func (a *App) Untrack(pattern string) (bool, error) {
	if !a.cfg.Untrack(pattern) {
		return false, nil
	}
	if err := config.WriteToFile(a.configPath, a.cfg); err != nil {
		return false, err
	}
	return true, nil
}

// Scan refreshes the index from the tracked patterns.
func (a *App) Scan() (*keep.ScanResult, error) { return a.service.Scan() }

// RemoveOrphans drops the given index entries.
func (a *App) RemoveOrphans(paths []string) (int, error) { return a.service.RemoveOrphans(paths) }

// Backup scans and stores changed file content.
func (a *App) Backup(message string) (*keep.BackupResult, error) { return a.service.Backup(message) }

// Status compares the index against the live filesystem.
func (a *App) Status(opts keep.CompareOptions) ([]*keep.ComparisonResult, []*keep.ScanError, error) {
	return a.service.Status(opts)
}

// History returns recorded backup commits, newest first.
func (a *App) History(limit int) ([]keep.HistoryEntry, error) { return a.service.History(limit) }

// PlanRestore builds a restore plan without touching the filesystem.
func (a *App) PlanRestore(opts keep.RestoreOptions) (*keep.RestorePlan, error) {
	return a.service.PlanRestore(opts)
}

// ApplyRestore executes a compared plan.
func (a *App) ApplyRestore(plan *keep.RestorePlan) (*keep.RestoreReport, error) {
	return a.service.ApplyRestore(plan)
}

// Retrieve reads stored content for a single index entry, for diffing.
func (a *App) Retrieve(loc keep.Locator) ([]byte, error) {
	return a.service.Retrieve(loc)
}
