package main

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestBootstrapRequiresDSN(t *testing.T) {
	path := writeConfig(t, "log:\n  level: debug\n")
	_, _, err := bootstrap(path)
	if err == nil || !strings.Contains(err.Error(), "database.dsn") {
		t.Fatalf("bootstrap() error = %v, want dsn error", err)
	}
}

func TestBootstrapExpandsEnv(t *testing.T) {
	t.Setenv("EXDASH_TEST_DSN", "postgres://localhost/exdash?sslmode=disable")
	path := writeConfig(t, "database:\n  dsn: ${EXDASH_TEST_DSN}\n")
	cfg, _, err := bootstrap(path)
	if err != nil {
		t.Fatalf("bootstrap() error = %v", err)
	}
	if cfg.Database.DSN != "postgres://localhost/exdash?sslmode=disable" {
		t.Fatalf("dsn = %q", cfg.Database.DSN)
	}
}

func TestRootHasSubcommands(t *testing.T) {
	root := newRootCmd()
	for _, name := range []string{"serve", "migrate"} {
		cmd, _, err := root.Find([]string{name})
		if err != nil || cmd.Name() != name {
			t.Fatalf("Find(%q) = %v, %v", name, cmd, err)
		}
	}
}
