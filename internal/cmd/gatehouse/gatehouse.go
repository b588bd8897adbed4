// Package gatehouse implements the gatehouse command line tool: database
// bootstrap, key generation, user and token administration, and the
// reference server.
package gatehouse

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/louisbranch/gatehouse/serializer/sqlite"
)

// EnvLookup returns the value for a key when present.
type EnvLookup func(string) (string, bool)

const defaultDBPath = "gatehouse.db"

const usage = `Usage: gatehouse <command> [flags]

Commands:
  init    create the database and apply migrations
  key     generate a GATEHOUSE_APP_KEY
  user    manage users (user add)
  token   manage personal access tokens (token issue|list|revoke)
  serve   run the reference server
`

// Run executes the subcommand named by the first argument.
func Run(ctx context.Context, args []string, lookup EnvLookup, out io.Writer, errOut io.Writer) error {
	if out == nil {
		out = io.Discard
	}
	if errOut == nil {
		errOut = io.Discard
	}
	if len(args) == 0 {
		fmt.Fprint(errOut, usage)
		return errors.New("a command is required")
	}

	switch args[0] {
	case "init":
		return runInit(ctx, args[1:], lookup, out)
	case "key":
		return runKey(args[1:], out)
	case "user":
		return runUser(ctx, args[1:], lookup, out, errOut)
	case "token":
		return runToken(ctx, args[1:], lookup, out, errOut)
	case "serve":
		return runServe(ctx, out)
	default:
		fmt.Fprint(errOut, usage)
		return fmt.Errorf("unknown command %q", args[0])
	}
}

// dbPathFlag registers the shared -db flag, defaulting to GATEHOUSE_DB.
func dbPathFlag(fs *flag.FlagSet, lookup EnvLookup) *string {
	return fs.String("db", envOrDefault(lookup, "GATEHOUSE_DB", defaultDBPath), "path to the SQLite database")
}

func openStore(path string) (*sqlite.Store, error) {
	if dir := filepath.Dir(path); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create data directory: %w", err)
		}
	}
	store, err := sqlite.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}
	return store, nil
}

func envOrDefault(lookup EnvLookup, key string, fallback string) string {
	if lookup == nil {
		return fallback
	}
	value, ok := lookup(key)
	if ok {
		trimmed := strings.TrimSpace(value)
		if trimmed != "" {
			return trimmed
		}
	}
	return fallback
}

func newAppKey() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generate random bytes: %w", err)
	}
	return hex.EncodeToString(buf), nil
}
