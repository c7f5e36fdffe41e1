package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"liyu1981.xyz/monitoring-mirror-service/pkg/cli"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	opts := &cli.RootOptions{}
	err := cli.NewRootCommand(opts).ExecuteContext(ctx)
	if opts.App != nil {
		_ = opts.App.Close()
	}
	if err != nil {
		os.Exit(1)
	}
}
