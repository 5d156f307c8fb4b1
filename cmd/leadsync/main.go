// Command leadsync runs the CRM bridge: the webhook and OAuth HTTP surface,
// the periodic reconciliation sweep and schema migrations.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCommand().ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "leadsync:", err)
		os.Exit(1)
	}
}
