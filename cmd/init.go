package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/kamusis/posematch/internal/config"
)

var initCmd = &cobra.Command{
	Use:   "init [corpus-dir]",
	Short: "Create ~/.posematch with a default config",
	Long: `Initialize ~/.posematch/: write posematch.yaml (unless it exists), a .env
override template, and the corpus and data directories.

An optional argument sets corpus_dir in a newly written config.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runInit,
}

var flagInitStore string

func init() {
	initCmd.Flags().StringVar(&flagInitStore, "store", config.StoreFiles, "Snapshot store for a new config: files or sqlite")
	rootCmd.AddCommand(initCmd)
}

func runInit(_ *cobra.Command, args []string) error {
	// ── 1. Resolve ~/.posematch directory ─────────────────────────────────────
	appDir, err := config.AppDir()
	if err != nil {
		return err
	}
	cfgPath, err := config.ConfigPath()
	if err != nil {
		return err
	}
	if err := os.MkdirAll(appDir, 0o755); err != nil {
		return fmt.Errorf("cannot create %s: %w", appDir, err)
	}
	printOK("", fmt.Sprintf("App directory ready: %s", appDir))

	// ── 2. Write posematch.yaml if missing ────────────────────────────────────
	if _, err := os.Stat(cfgPath); os.IsNotExist(err) {
		cfg, err := config.DefaultConfig()
		if err != nil {
			return err
		}
		cfg.Store = flagInitStore
		if len(args) == 1 {
			if cfg.CorpusDir, err = config.ExpandPath(args[0]); err != nil {
				return err
			}
		}
		if err := cfg.Validate(); err != nil {
			return err
		}
		if err := config.Save(cfg); err != nil {
			return err
		}
		printOK("", fmt.Sprintf("Config written: %s", cfgPath))
	} else {
		printSkip("", fmt.Sprintf("Config already exists: %s", cfgPath))
	}

	if err := config.EnsureDotEnvTemplate(); err != nil {
		return err
	}

	// ── 3. Create corpus and data dirs ────────────────────────────────────────
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	for _, dir := range []string{cfg.CorpusDir, cfg.DataDir} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("cannot create %s: %w", dir, err)
		}
	}
	printOK("", fmt.Sprintf("Corpus directory: %s", cfg.CorpusDir))
	printOK("", fmt.Sprintf("Data directory:   %s", cfg.DataDir))

	fmt.Println()
	printInfo("", "Add <name>.json descriptors with matching <name>"+cfg.ImageExt+" images, then run 'posematch index'.")
	return nil
}
