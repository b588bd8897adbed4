package gatehouse

import (
	"context"
	"io"
	"log"

	"github.com/louisbranch/gatehouse/internal/devserver"
	"github.com/louisbranch/gatehouse/internal/platform/otel"
)

// runServe runs the reference server until the context ends.
func runServe(ctx context.Context, out io.Writer) error {
	shutdown, err := otel.Setup(ctx, "gatehouse")
	if err != nil {
		return err
	}
	defer func() {
		if err := shutdown(context.Background()); err != nil {
			log.Printf("shutdown otel: %v", err)
		}
	}()

	config := devserver.LoadConfigFromEnv()
	server, err := devserver.NewServer(config)
	if err != nil {
		return err
	}
	defer server.Close()

	server.StartCleanup(ctx, config.CleanupInterval)
	return server.ListenAndServe(ctx)
}
