package app

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestNew_MissingConfig(t *testing.T) {
	t.Run("missing config suggests init", func(t *testing.T) {
		t.Setenv("DOTKEEP_CONFIG_PATH", filepath.Join(t.TempDir(), "config.toml"))

		_, err := New(0)
		if err == nil {
			t.Fatal("New() error = nil, want missing-config error")
		}
		if !strings.Contains(err.Error(), "dotkeep init") {
			t.Errorf("New() error = %v, want hint to run 'dotkeep init'", err)
		}
	})

	t.Run("unreadable config is not mistaken for missing", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "config.toml")
		if err := os.WriteFile(path, []byte("data_dir = [broken"), 0o644); err != nil {
			t.Fatalf("WriteFile() error = %v", err)
		}
		t.Setenv("DOTKEEP_CONFIG_PATH", path)

		_, err := New(0)
		if err == nil {
			t.Fatal("New() error = nil, want parse error")
		}
		if strings.Contains(err.Error(), "dotkeep init") {
			t.Errorf("New() error = %v, parse failure must not suggest init", err)
		}
	})
}
