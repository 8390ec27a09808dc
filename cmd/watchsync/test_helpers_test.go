package main

import (
	"bytes"
	"path/filepath"
	"strings"
	"testing"

	"github.com/njoerd114/watchsync/internal/config"
)

const testTokenSecret = "cli-test-secret-0123456789"

// writeTestConfig writes a local-only config into a fresh temp dir and
// points HOME there so nothing touches the real user directories.
func writeTestConfig(t *testing.T, mutate func(*config.Config)) string {
	t.Helper()
	base := t.TempDir()
	t.Setenv("HOME", base)

	cfg := &config.Config{
		Local: config.LocalConfig{Path: filepath.Join(base, "data", "local.db")},
	}
	if mutate != nil {
		mutate(cfg)
	}
	path := filepath.Join(base, "config.yaml")
	if err := cfg.Write(path); err != nil {
		t.Fatalf("writing test config: %v", err)
	}
	return path
}

func runCLI(t *testing.T, configPath, stdin string, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCommand()
	var stdout, stderr bytes.Buffer
	cmd.SetOut(&stdout)
	cmd.SetErr(&stderr)
	cmd.SetIn(strings.NewReader(stdin))
	cmd.SetArgs(append([]string{"--config", configPath}, args...))
	err := cmd.Execute()
	return stdout.String(), err
}

func mustRunCLI(t *testing.T, configPath string, args ...string) string {
	t.Helper()
	out, err := runCLI(t, configPath, "", args...)
	if err != nil {
		t.Fatalf("watchsync %s: %v", strings.Join(args, " "), err)
	}
	return out
}

func requireContains(t *testing.T, output, substr string) {
	t.Helper()
	if !strings.Contains(output, substr) {
		t.Fatalf("expected %q to contain %q", output, substr)
	}
}
