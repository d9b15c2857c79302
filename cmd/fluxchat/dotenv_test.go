// ABOUTME: Tests for the .env file loader.
// ABOUTME: Verifies parsing, quote stripping, and that existing env vars win.
package main

import (
	"os"
	"path/filepath"
	"testing"
)

func writeDotEnv(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), ".env")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoadDotEnv(t *testing.T) {
	t.Setenv("DOTENV_TEST_PLAIN", "")
	os.Unsetenv("DOTENV_TEST_PLAIN")
	t.Setenv("DOTENV_TEST_QUOTED", "")
	os.Unsetenv("DOTENV_TEST_QUOTED")
	t.Setenv("DOTENV_TEST_SINGLE", "")
	os.Unsetenv("DOTENV_TEST_SINGLE")

	path := writeDotEnv(t, `# comment line
DOTENV_TEST_PLAIN=hello

DOTENV_TEST_QUOTED="quoted value"
DOTENV_TEST_SINGLE='single'
not a pair
=nokey
`)
	loadDotEnv(path)

	if got := os.Getenv("DOTENV_TEST_PLAIN"); got != "hello" {
		t.Errorf("plain = %q", got)
	}
	if got := os.Getenv("DOTENV_TEST_QUOTED"); got != "quoted value" {
		t.Errorf("quoted = %q", got)
	}
	if got := os.Getenv("DOTENV_TEST_SINGLE"); got != "single" {
		t.Errorf("single = %q", got)
	}
}

func TestLoadDotEnvDoesNotOverride(t *testing.T) {
	t.Setenv("DOTENV_TEST_EXISTING", "from-env")

	path := writeDotEnv(t, "DOTENV_TEST_EXISTING=from-file\n")
	loadDotEnv(path)

	if got := os.Getenv("DOTENV_TEST_EXISTING"); got != "from-env" {
		t.Errorf("existing env var overridden: %q", got)
	}
}

func TestLoadDotEnvMissingFile(t *testing.T) {
	// Must be a silent no-op.
	loadDotEnv(filepath.Join(t.TempDir(), "absent.env"))
}
