package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/specsync/specsync/internal/ui"
)

var syncCmd = &cobra.Command{
	Use:   "sync <spec-id>",
	Short: "Sync one spec into the store now",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		svc, err := openService()
		if err != nil {
			fatal(err)
		}
		defer svc.Close()

		res, err := svc.TriggerSync(context.Background(), args[0])
		if err != nil {
			fatal(err)
		}
		fmt.Println(ui.RenderSyncResult(res))
	},
}
