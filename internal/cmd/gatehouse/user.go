package gatehouse

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"

	"github.com/louisbranch/gatehouse/user"
)

func runUser(ctx context.Context, args []string, lookup EnvLookup, out io.Writer, errOut io.Writer) error {
	if len(args) == 0 {
		fmt.Fprintln(errOut, "Usage: gatehouse user add -email <email> -password <password> [-username <name>] [-locale <tag>]")
		return errors.New("a user subcommand is required")
	}
	switch args[0] {
	case "add":
		return runUserAdd(ctx, args[1:], lookup, out)
	default:
		return fmt.Errorf("unknown user subcommand %q", args[0])
	}
}

func runUserAdd(ctx context.Context, args []string, lookup EnvLookup, out io.Writer) error {
	fs := flag.NewFlagSet("gatehouse user add", flag.ContinueOnError)
	dbPath := dbPathFlag(fs, lookup)
	email := fs.String("email", "", "email address (required)")
	password := fs.String("password", "", "password (required)")
	username := fs.String("username", "", "optional username")
	locale := fs.String("locale", "", "optional locale tag")
	if err := fs.Parse(args); err != nil {
		return err
	}

	created, err := user.CreateUser(user.CreateUserInput{
		Email:    *email,
		Username: *username,
		Password: *password,
		Locale:   *locale,
	}, nil, nil)
	if err != nil {
		return err
	}

	store, err := openStore(*dbPath)
	if err != nil {
		return err
	}
	defer store.Close()

	if err := store.PutUser(ctx, created); err != nil {
		return fmt.Errorf("save user: %w", err)
	}
	fmt.Fprintf(out, "user created: %s (%s)\n", created.Email, created.ID)
	return nil
}
