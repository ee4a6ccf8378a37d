package main

import (
	"fmt"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/specsync/specsync/internal/specdoc"
	"github.com/specsync/specsync/internal/ui"
)

var statusCmd = &cobra.Command{
	Use:   "status [spec-id]",
	Short: "Show a spec's task graph, or all graphs when no id is given",
	Long: `Parse the current on-disk state and print each graph: completion
percent, items in dependency order, and any validation errors. The store
is not consulted; status reflects the files as they are right now.`,
	Args: cobra.MaximumNArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		svc, err := openService()
		if err != nil {
			fatal(err)
		}
		defer svc.Close()

		specIDs := args
		if len(specIDs) == 0 {
			for _, p := range svc.Projects() {
				dirs, err := specdoc.ListSpecDirs(p.SpecRoot)
				if err != nil {
					fatal(err)
				}
				for _, dir := range dirs {
					specIDs = append(specIDs, filepath.Base(dir))
				}
			}
			if len(specIDs) == 0 {
				fmt.Println("no specs found")
				return
			}
		}

		for _, specID := range specIDs {
			g, warnings, err := svc.GetGraph(specID)
			if err != nil {
				fatal(err)
			}
			fmt.Print(ui.RenderWarnings(warnings))
			fmt.Print(ui.RenderGraph(g))
		}
	},
}
