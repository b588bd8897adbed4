package gatehouse

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"time"

	"github.com/louisbranch/gatehouse/scheme"
	"github.com/louisbranch/gatehouse/scheme/token"
	"github.com/louisbranch/gatehouse/serializer"
	"github.com/louisbranch/gatehouse/serializer/sqlite"
	"github.com/louisbranch/gatehouse/user"
)

func runToken(ctx context.Context, args []string, lookup EnvLookup, out io.Writer, errOut io.Writer) error {
	if len(args) == 0 {
		fmt.Fprintln(errOut, "Usage: gatehouse token issue|list|revoke -email <email> [flags]")
		return errors.New("a token subcommand is required")
	}
	switch args[0] {
	case "issue":
		return runTokenIssue(ctx, args[1:], lookup, out)
	case "list":
		return runTokenList(ctx, args[1:], lookup, out)
	case "revoke":
		return runTokenRevoke(ctx, args[1:], lookup, out)
	default:
		return fmt.Errorf("unknown token subcommand %q", args[0])
	}
}

func runTokenIssue(ctx context.Context, args []string, lookup EnvLookup, out io.Writer) error {
	fs := flag.NewFlagSet("gatehouse token issue", flag.ContinueOnError)
	dbPath := dbPathFlag(fs, lookup)
	email := fs.String("email", "", "owner email (required)")
	name := fs.String("name", "", "optional token label")
	ttl := fs.Duration("ttl", 0, "optional lifetime (default: no expiry)")
	if err := fs.Parse(args); err != nil {
		return err
	}

	store, owner, err := resolveOwner(ctx, *dbPath, *email)
	if err != nil {
		return err
	}
	defer store.Close()

	tokens, err := token.New(store)
	if err != nil {
		return err
	}
	var opts []scheme.Option
	if *name != "" {
		opts = append(opts, scheme.WithName(*name))
	}
	if *ttl > 0 {
		opts = append(opts, scheme.WithTTL(*ttl))
	}
	pair, err := tokens.Generate(ctx, owner, opts...)
	if err != nil {
		return err
	}

	fmt.Fprintf(out, "%s\n", pair.Token)
	fmt.Fprintln(out, "store this token now; it is not shown again")
	return nil
}

func runTokenList(ctx context.Context, args []string, lookup EnvLookup, out io.Writer) error {
	fs := flag.NewFlagSet("gatehouse token list", flag.ContinueOnError)
	dbPath := dbPathFlag(fs, lookup)
	email := fs.String("email", "", "owner email (required)")
	if err := fs.Parse(args); err != nil {
		return err
	}

	store, owner, err := resolveOwner(ctx, *dbPath, *email)
	if err != nil {
		return err
	}
	defer store.Close()

	tokens, err := token.New(store)
	if err != nil {
		return err
	}
	records, err := tokens.ListTokens(ctx, owner)
	if err != nil {
		return err
	}
	if len(records) == 0 {
		fmt.Fprintln(out, "no active tokens")
		return nil
	}
	for _, record := range records {
		fmt.Fprintf(out, "%s\t%s\tcreated %s\texpires %s\n",
			record.Hash, displayName(record), record.CreatedAt.Format(time.RFC3339), displayExpiry(record))
	}
	return nil
}

func runTokenRevoke(ctx context.Context, args []string, lookup EnvLookup, out io.Writer) error {
	fs := flag.NewFlagSet("gatehouse token revoke", flag.ContinueOnError)
	dbPath := dbPathFlag(fs, lookup)
	email := fs.String("email", "", "owner email (required)")
	value := fs.String("token", "", "token plaintext or hash to revoke")
	all := fs.Bool("all", false, "revoke every token for the user")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if !*all && *value == "" {
		return errors.New("either -token or -all is required")
	}

	store, owner, err := resolveOwner(ctx, *dbPath, *email)
	if err != nil {
		return err
	}
	defer store.Close()

	tokens, err := token.New(store)
	if err != nil {
		return err
	}
	if *all {
		if err := tokens.RevokeTokens(ctx, owner, nil, true); err != nil {
			return err
		}
		fmt.Fprintf(out, "revoked all tokens for %s\n", owner.Email)
		return nil
	}
	if err := tokens.RevokeTokens(ctx, owner, []string{*value}, false); err != nil {
		return err
	}
	fmt.Fprintln(out, "token revoked")
	return nil
}

func resolveOwner(ctx context.Context, dbPath string, email string) (*sqlite.Store, user.User, error) {
	if email == "" {
		return nil, user.User{}, errors.New("-email is required")
	}
	store, err := openStore(dbPath)
	if err != nil {
		return nil, user.User{}, err
	}
	owner, err := store.FindByUID(ctx, email)
	if err != nil {
		_ = store.Close()
		if errors.Is(err, serializer.ErrNotFound) {
			return nil, user.User{}, fmt.Errorf("no user with email %s", email)
		}
		return nil, user.User{}, fmt.Errorf("find user: %w", err)
	}
	return store, owner, nil
}

func displayName(t serializer.Token) string {
	if t.Name == "" {
		return "(unnamed)"
	}
	return t.Name
}

func displayExpiry(t serializer.Token) string {
	if t.ExpiresAt.IsZero() {
		return "never"
	}
	return t.ExpiresAt.Format(time.RFC3339)
}
