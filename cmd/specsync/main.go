// Command specsync keeps SPEC documents and the task store in lockstep.
//
// A SPEC is a directory of markdown sub-documents (task chain, acceptance
// criteria, requirements) under a project's spec root. specsync parses
// them into task graphs, validates the dependency structure, and mirrors
// each graph into a SQLite task store, either continuously (serve) or on
// demand (sync).
package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/specsync/specsync/internal/config"
	"github.com/specsync/specsync/internal/service"
	"github.com/specsync/specsync/internal/store"
)

var (
	cfgFile     string
	dbPath      string
	logFile     string
	projectDirs []string

	cfg *config.Config
)

var rootCmd = &cobra.Command{
	Use:   "specsync",
	Short: "Sync SPEC documents into a task store",
	Long: `specsync watches project spec directories and mirrors their task
chains into a SQLite task store.

Each spec is a directory named SPEC-<DOMAIN>-<NUM> containing tasks.md,
acceptance.md and requirements.md. Task status is derived from the
completion-condition checkboxes in tasks.md; the store is a projection
and never the source of truth.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		cfg, err = config.Load(cfgFile)
		if err != nil {
			return err
		}
		// Flags win over file and environment.
		if dbPath != "" {
			cfg.DBPath = dbPath
		}
		if logFile != "" {
			cfg.LogFile = logFile
		}
		return nil
	},
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "Config file (default: ./specsync.yaml)")
	rootCmd.PersistentFlags().StringVar(&dbPath, "db", "", "SQLite database path (default: .specsync/specsync.db)")
	rootCmd.PersistentFlags().StringVar(&logFile, "log-file", "", "Write logs to this rotating file instead of stderr")
	rootCmd.PersistentFlags().StringSliceVar(&projectDirs, "project", []string{"."}, "Project root to register (repeatable)")

	rootCmd.AddCommand(serveCmd, syncCmd, statusCmd, toggleCmd, exportCmd, initCmd)
}

// openService opens the store and registers the --project roots.
func openService() (*service.Service, error) {
	if dir := filepath.Dir(cfg.DBPath); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("create database directory: %w", err)
		}
	}
	st, err := store.Open(cfg.DBPath)
	if err != nil {
		return nil, err
	}

	svc := service.New(cfg, st)
	for _, dir := range projectDirs {
		if err := svc.RegisterProject(dir); err != nil {
			_ = svc.Close()
			return nil, err
		}
	}
	return svc, nil
}

func fatal(err error) {
	fmt.Fprintf(os.Stderr, "Error: %v\n", err)
	os.Exit(1)
}
