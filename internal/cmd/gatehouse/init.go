package gatehouse

import (
	"context"
	"flag"
	"fmt"
	"io"
)

// runInit creates the database file, applies migrations, and prints a
// generated app key when GATEHOUSE_APP_KEY is not already set.
func runInit(ctx context.Context, args []string, lookup EnvLookup, out io.Writer) error {
	fs := flag.NewFlagSet("gatehouse init", flag.ContinueOnError)
	dbPath := dbPathFlag(fs, lookup)
	if err := fs.Parse(args); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	store, err := openStore(*dbPath)
	if err != nil {
		return err
	}
	if err := store.Close(); err != nil {
		return fmt.Errorf("close store: %w", err)
	}
	fmt.Fprintf(out, "database ready: %s\n", *dbPath)

	if _, ok := lookupEnv(lookup, "GATEHOUSE_APP_KEY"); !ok {
		key, err := newAppKey()
		if err != nil {
			return err
		}
		fmt.Fprintf(out, "GATEHOUSE_APP_KEY=%s\n", key)
	}
	return nil
}

func lookupEnv(lookup EnvLookup, key string) (string, bool) {
	if lookup == nil {
		return "", false
	}
	return lookup(key)
}
