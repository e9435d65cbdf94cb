// smartcapture - live document and photo capture with auto-crop
//
// Usage:
//
//	smartcapture run --camera 0
//	smartcapture rectify scan.jpg
//	smartcapture watch ~/Scans --backlog
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/teslashibe/go-smartcapture/internal/cli"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := cli.NewRootCmd().ExecuteContext(ctx); err != nil {
		stop()
		os.Exit(1)
	}
}
