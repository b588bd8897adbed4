// Package main provides the gatehouse command line tool.
package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	gatehousecmd "github.com/louisbranch/gatehouse/internal/cmd/gatehouse"
	"github.com/louisbranch/gatehouse/internal/platform/config"
)

func main() {
	log.SetPrefix("[GATEHOUSE] ")
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	err := gatehousecmd.Run(ctx, os.Args[1:], func(key string) (string, bool) {
		value, ok := os.LookupEnv(key)
		return value, ok
	}, os.Stdout, os.Stderr)
	if err != nil {
		config.Exitf("Error: %v", err)
	}
}
