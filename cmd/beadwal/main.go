// Command beadwal records beads state transitions in a write-ahead log and
// replays them after a crash.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/roach88/beadwal/internal/cli"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	code := cli.Main(ctx)
	stop()
	os.Exit(code)
}
