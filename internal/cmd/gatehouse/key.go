package gatehouse

import (
	"flag"
	"fmt"
	"io"
)

// runKey emits a fresh app key in env-file form so it can be appended to
// the deployment environment directly.
func runKey(args []string, out io.Writer) error {
	fs := flag.NewFlagSet("gatehouse key", flag.ContinueOnError)
	if err := fs.Parse(args); err != nil {
		return err
	}
	key, err := newAppKey()
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(out, "GATEHOUSE_APP_KEY=%s\n", key)
	return err
}
