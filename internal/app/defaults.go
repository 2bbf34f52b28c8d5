package app

import (
	"os"
	"path/filepath"

	"github.com/adrg/xdg"
)

// Defaults holds resolved application paths.
type Defaults struct {
	ConfigPath string
	DataDir    string
	LogPath    string
}

// GetDefaults returns application default paths, checking environment
// variables first.
// Environment variables:
//   - DOTKEEP_CONFIG_PATH: config file location (default: $XDG_CONFIG_HOME/dotkeep/config.toml)
//   - DOTKEEP_HOME: data directory (default: $XDG_DATA_HOME/dotkeep)
func GetDefaults() Defaults {
	return Defaults{
		ConfigPath: configPath(),
		DataDir:    dataDir(),
		LogPath:    filepath.Join(xdg.StateHome, "dotkeep", "dotkeep.log"),
	}
}

func configPath() string {
	if path := os.Getenv("DOTKEEP_CONFIG_PATH"); path != "" {
		return path
	}
	return filepath.Join(xdg.ConfigHome, "dotkeep", "config.toml")
}

func dataDir() string {
	if path := os.Getenv("DOTKEEP_HOME"); path != "" {
		return path
	}
	return filepath.Join(xdg.DataHome, "dotkeep")
}

// ResolveDataDir picks the data directory: the explicit config value wins
// over environment and XDG defaults.
func ResolveDataDir(configured string) string {
	if configured != "" {
		return expandHome(configured)
	}
	return dataDir()
}

func expandHome(path string) string {
	if path == "~" || len(path) > 1 && path[:2] == "~/" {
		home, err := os.UserHomeDir()
		if err != nil {
			return path
		}
		return filepath.Join(home, path[1:])
	}
	return path
}
