package gatehouse

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func noEnv(string) (string, bool) { return "", false }

func run(t *testing.T, lookup EnvLookup, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	err := Run(context.Background(), args, lookup, &out, &bytes.Buffer{})
	return out.String(), err
}

func tempDBPath(t *testing.T) string {
	t.Helper()
	return filepath.Join(t.TempDir(), "gatehouse.db")
}

func TestRunRequiresCommand(t *testing.T) {
	if _, err := run(t, noEnv); err == nil {
		t.Fatal("expected error for missing command")
	}
	if _, err := run(t, noEnv, "bogus"); err == nil {
		t.Fatal("expected error for unknown command")
	}
}

func TestInitCreatesDatabaseAndPrintsKey(t *testing.T) {
	dbPath := tempDBPath(t)
	out, err := run(t, noEnv, "init", "-db", dbPath)
	if err != nil {
		t.Fatalf("init: %v", err)
	}
	if _, err := os.Stat(dbPath); err != nil {
		t.Fatalf("database not created: %v", err)
	}
	if !strings.Contains(out, "GATEHOUSE_APP_KEY=") {
		t.Fatalf("expected generated app key in output, got %q", out)
	}
}

func TestInitSkipsKeyWhenConfigured(t *testing.T) {
	lookup := func(key string) (string, bool) {
		if key == "GATEHOUSE_APP_KEY" {
			return "configured", true
		}
		return "", false
	}
	out, err := run(t, lookup, "init", "-db", tempDBPath(t))
	if err != nil {
		t.Fatalf("init: %v", err)
	}
	if strings.Contains(out, "GATEHOUSE_APP_KEY=") {
		t.Fatalf("expected no app key in output, got %q", out)
	}
}

func TestKeyEmitsEnvLine(t *testing.T) {
	out, err := run(t, noEnv, "key")
	if err != nil {
		t.Fatalf("key: %v", err)
	}
	if !strings.HasPrefix(out, "GATEHOUSE_APP_KEY=") {
		t.Fatalf("expected env-file form, got %q", out)
	}
	value := strings.TrimSpace(strings.TrimPrefix(out, "GATEHOUSE_APP_KEY="))
	if len(value) != 64 {
		t.Fatalf("expected 64 hex characters, got %d", len(value))
	}
}

func TestUserAddValidatesInput(t *testing.T) {
	if _, err := run(t, noEnv, "user", "add", "-db", tempDBPath(t), "-email", "not-an-email", "-password", "pw"); err == nil {
		t.Fatal("expected error for malformed email")
	}
	if _, err := run(t, noEnv, "user", "add", "-db", tempDBPath(t), "-email", "a@example.com"); err == nil {
		t.Fatal("expected error for missing password")
	}
}

func TestUserAddAndTokenLifecycle(t *testing.T) {
	dbPath := tempDBPath(t)

	out, err := run(t, noEnv, "user", "add", "-db", dbPath, "-email", "Admin@Example.com", "-password", "secret")
	if err != nil {
		t.Fatalf("user add: %v", err)
	}
	if !strings.Contains(out, "admin@example.com") {
		t.Fatalf("expected normalized email in output, got %q", out)
	}

	out, err = run(t, noEnv, "token", "issue", "-db", dbPath, "-email", "admin@example.com", "-name", "ci")
	if err != nil {
		t.Fatalf("token issue: %v", err)
	}
	plaintext := strings.Fields(out)[0]
	if !strings.HasPrefix(plaintext, "gh_") {
		t.Fatalf("expected gh_ token, got %q", plaintext)
	}

	out, err = run(t, noEnv, "token", "list", "-db", dbPath, "-email", "admin@example.com")
	if err != nil {
		t.Fatalf("token list: %v", err)
	}
	if !strings.Contains(out, "ci") {
		t.Fatalf("expected token name in listing, got %q", out)
	}

	if _, err := run(t, noEnv, "token", "revoke", "-db", dbPath, "-email", "admin@example.com", "-token", plaintext); err != nil {
		t.Fatalf("token revoke: %v", err)
	}
	out, err = run(t, noEnv, "token", "list", "-db", dbPath, "-email", "admin@example.com")
	if err != nil {
		t.Fatalf("token list: %v", err)
	}
	if !strings.Contains(out, "no active tokens") {
		t.Fatalf("expected empty listing after revoke, got %q", out)
	}
}

func TestTokenRevokeAll(t *testing.T) {
	dbPath := tempDBPath(t)
	if _, err := run(t, noEnv, "user", "add", "-db", dbPath, "-email", "a@example.com", "-password", "secret"); err != nil {
		t.Fatalf("user add: %v", err)
	}
	for range 3 {
		if _, err := run(t, noEnv, "token", "issue", "-db", dbPath, "-email", "a@example.com"); err != nil {
			t.Fatalf("token issue: %v", err)
		}
	}
	if _, err := run(t, noEnv, "token", "revoke", "-db", dbPath, "-email", "a@example.com", "-all"); err != nil {
		t.Fatalf("token revoke -all: %v", err)
	}
	out, err := run(t, noEnv, "token", "list", "-db", dbPath, "-email", "a@example.com")
	if err != nil {
		t.Fatalf("token list: %v", err)
	}
	if !strings.Contains(out, "no active tokens") {
		t.Fatalf("expected empty listing, got %q", out)
	}
}

func TestTokenCommandsRequireKnownUser(t *testing.T) {
	dbPath := tempDBPath(t)
	if _, err := run(t, noEnv, "init", "-db", dbPath); err != nil {
		t.Fatalf("init: %v", err)
	}
	if _, err := run(t, noEnv, "token", "issue", "-db", dbPath, "-email", "ghost@example.com"); err == nil {
		t.Fatal("expected error for unknown user")
	}
	if _, err := run(t, noEnv, "token", "revoke", "-db", dbPath, "-email", "ghost@example.com"); err == nil {
		t.Fatal("expected error when neither -token nor -all is set")
	}
}
