package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/specsync/specsync/internal/ui"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Watch registered projects and sync continuously",
	Long: `Run the watcher daemon. Every registered project's spec root is
watched for changes; edits are debounced and synced into the store until
the process receives SIGINT or SIGTERM.

A project whose watch handle cannot be repaired is reported as degraded
but stays registered; its specs go stale until the next manual sync.`,
	Run: func(cmd *cobra.Command, args []string) {
		svc, err := openService()
		if err != nil {
			fatal(err)
		}
		defer svc.Close()

		fmt.Print(ui.RenderProjects(svc.Projects()))
		fmt.Fprintln(os.Stderr, "specsync serving; Ctrl-C to stop")

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()
		<-ctx.Done()

		fmt.Fprintln(os.Stderr, "shutting down")
	},
}
