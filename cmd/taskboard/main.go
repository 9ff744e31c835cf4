// Package main is the entry point of the taskboard bot.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"taskboard/cmd/taskboard/commands"
)

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	cli := commands.New()
	cli.SetArgs(args)
	if err := cli.Execute(ctx); err != nil {
		_, _ = os.Stderr.WriteString("Error: " + err.Error() + "\n")
		return 1
	}
	return 0
}
