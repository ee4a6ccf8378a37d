package main

import (
	"context"
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/specsync/specsync/internal/ui"
)

var toggleCmd = &cobra.Command{
	Use:   "toggle <spec-id> <tag-id> <condition-index>",
	Short: "Flip a completion condition in the spec source",
	Long: `Flip the checked state of one completion condition. This rewrites
the checkbox in tasks.md (atomically) and then syncs, so the store always
matches what a fresh parse of the file would produce. Condition indexes
are zero-based in document order.`,
	Args: cobra.ExactArgs(3),
	Run: func(cmd *cobra.Command, args []string) {
		index, err := strconv.Atoi(args[2])
		if err != nil {
			fatal(fmt.Errorf("condition index %q is not a number", args[2]))
		}

		svc, err := openService()
		if err != nil {
			fatal(err)
		}
		defer svc.Close()

		res, err := svc.ToggleCondition(context.Background(), args[0], args[1], index)
		if err != nil {
			fatal(err)
		}
		fmt.Println(ui.RenderSyncResult(res))

		if g, _, err := svc.GetGraph(args[0]); err == nil && g.Valid() {
			fmt.Printf("%s is now %d%% complete\n", g.SpecID(), g.CompletionPercent())
		}
	},
}
