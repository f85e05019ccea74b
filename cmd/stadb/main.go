// Command stadb manages the database of a SensorThings store: it creates
// the tables of the data model, explains the SQL of a query and follows the
// change messages published on the bus.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/syssam/sensorthings/cmd/stadb/internal/cli"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := cli.NewRootCommand().ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "stadb:", err)
		stop()
		os.Exit(1)
	}
}
