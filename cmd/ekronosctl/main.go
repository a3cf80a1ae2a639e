package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		color.New(color.FgRed).Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

// globalOptions 在所有子命令间共享。
type globalOptions struct {
	server string
	json   bool
}

func newRootCmd() *cobra.Command {
	opts := &globalOptions{}
	root := &cobra.Command{
		Use:   "ekronosctl",
		Short: "Command line client for the Ekronos agent backend",
		Long: `ekronosctl drives a running ekronosd instance over HTTP.

It can run the agent orchestration synchronously, stream progress events,
register liquidity for a deployed token and manage asynchronous tasks.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	defaultServer := os.Getenv("EKRONOS_SERVER")
	if defaultServer == "" {
		defaultServer = "http://localhost:8000"
	}
	root.PersistentFlags().StringVar(&opts.server, "server", defaultServer, "backend base URL (env EKRONOS_SERVER)")
	root.PersistentFlags().BoolVar(&opts.json, "json", false, "print raw JSON responses")

	root.AddCommand(
		newRunCmd(opts),
		newStreamCmd(opts),
		newLiquidityCmd(opts),
		newTaskCmd(opts),
		newHealthCmd(opts),
	)
	return root
}
