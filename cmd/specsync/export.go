package main

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
)

var exportOut string

var exportCmd = &cobra.Command{
	Use:   "export",
	Short: "Write all task records as JSONL",
	Run: func(cmd *cobra.Command, args []string) {
		svc, err := openService()
		if err != nil {
			fatal(err)
		}
		defer svc.Close()

		var w io.Writer = os.Stdout
		if exportOut != "" {
			f, err := os.Create(exportOut)
			if err != nil {
				fatal(err)
			}
			defer f.Close()
			w = f
		}

		n, err := svc.Export(context.Background(), w)
		if err != nil {
			fatal(err)
		}
		if exportOut != "" {
			fmt.Fprintf(os.Stderr, "exported %d records to %s\n", n, exportOut)
		}
	},
}

func init() {
	exportCmd.Flags().StringVar(&exportOut, "out", "", "Output file (default: stdout)")
}
