package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/dgellow/orgctl/internal/cmd"
	"github.com/dgellow/orgctl/internal/tui"
)

var BuildVersion = "dev"

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	err := cmd.Execute(ctx, cmd.Options{
		Version:     BuildVersion,
		Interactive: tui.ShouldPrompt(),
	})
	if err == nil {
		return
	}
	if errors.Is(ctx.Err(), context.Canceled) {
		fmt.Fprintln(os.Stderr, "\nOperation cancelled")
		os.Exit(130)
	}
	fmt.Fprintln(os.Stderr, tui.Error("Error: %v", err))
	os.Exit(1)
}
