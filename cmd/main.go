package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"kilometers.ai/pluginhost/internal/interfaces/cli"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	code := cli.Execute(ctx, os.Args[1:])
	cancel()
	os.Exit(code)
}
