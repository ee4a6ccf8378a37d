package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/charmbracelet/huh"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/specsync/specsync/internal/config"
)

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Interactively scaffold specsync for a project",
	Long: `Create specsync.yaml, the project manifest and the spec directory
in the current working directory, prompting for the few choices that
matter. Existing files are left alone.`,
	Run: func(cmd *cobra.Command, args []string) {
		cwd, err := os.Getwd()
		if err != nil {
			fatal(err)
		}

		var (
			name     = filepath.Base(cwd)
			specDir  = "specs"
			database = ".specsync/specsync.db"
			sample   = true
		)

		form := huh.NewForm(
			huh.NewGroup(
				huh.NewInput().
					Title("Project name").
					Description("Display name used in status output").
					Value(&name).
					Validate(func(s string) error {
						if strings.TrimSpace(s) == "" {
							return fmt.Errorf("name is required")
						}
						return nil
					}),

				huh.NewInput().
					Title("Spec directory").
					Description("Directory under the project root holding SPEC-* directories").
					Value(&specDir).
					Validate(func(s string) error {
						if s == "" || strings.Contains(s, "..") || filepath.IsAbs(s) {
							return fmt.Errorf("must be a relative path inside the project")
						}
						return nil
					}),

				huh.NewInput().
					Title("Database path").
					Description("SQLite file the task records sync into").
					Value(&database),

				huh.NewConfirm().
					Title("Create a sample spec?").
					Value(&sample),
			),
		)
		if err := form.Run(); err != nil {
			fatal(err)
		}

		if err := scaffold(cwd, name, specDir, database, sample); err != nil {
			fatal(err)
		}
		fmt.Printf("Initialized %s; run 'specsync serve' to start watching\n", name)
	},
}

// scaffold writes the config, manifest and spec directory. Files that
// already exist are skipped so init is safe to re-run.
func scaffold(root, name, specDir, database string, sample bool) error {
	cfgPath := filepath.Join(root, "specsync.yaml")
	if _, err := os.Stat(cfgPath); os.IsNotExist(err) {
		data, err := yaml.Marshal(map[string]string{
			"db_path":  database,
			"spec_dir": specDir,
		})
		if err != nil {
			return err
		}
		if err := os.WriteFile(cfgPath, data, 0644); err != nil {
			return err
		}
	}

	manifestPath := filepath.Join(root, config.ManifestFileName)
	if _, err := os.Stat(manifestPath); os.IsNotExist(err) {
		manifest := fmt.Sprintf("name = %q\nspec_dir = %q\n", name, specDir)
		if err := os.WriteFile(manifestPath, []byte(manifest), 0644); err != nil {
			return err
		}
	}

	if err := os.MkdirAll(filepath.Join(root, specDir), 0755); err != nil {
		return err
	}

	if sample {
		dir := filepath.Join(root, specDir, "SPEC-SAMPLE-001")
		if _, err := os.Stat(dir); err == nil {
			return nil
		}
		if err := os.MkdirAll(dir, 0755); err != nil {
			return err
		}
		tasks := `---
title: Sample spec
---

## TAG-001: Describe the work
Scope: documentation
Purpose: Show the task-chain format.
Completion Conditions:
- [ ] replace this spec with a real one

## TAG-002: Wire it up
Dependencies: TAG-001
Completion Conditions:
- [ ] run specsync serve
`
		return os.WriteFile(filepath.Join(dir, "tasks.md"), []byte(tasks), 0644)
	}
	return nil
}
