package main

import (
	"fmt"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/TheMichaelB/wikisync/internal/client"
	"github.com/TheMichaelB/wikisync/internal/config"
)

var initCmd = &cobra.Command{
	Use:   "init <url>",
	Short: "Start tracking a wiki in the current directory",
	Long: `Init creates an empty manifest for the BookStack instance at url. The
directory it is created in becomes the wiki root; run 'wikisync sync'
afterwards to download every page.`,
	Example: `  wikisync init https://wiki.example.com
  wikisync init https://wiki.example.com --write-config`,
	Args: cobra.ExactArgs(1),
	RunE: runInit,
}

var initWriteConfig bool

func init() {
	rootCmd.AddCommand(initCmd)

	initCmd.Flags().BoolVar(&initWriteConfig, "write-config", false,
		"Also write wikisync.yaml with the default settings")
}

func runInit(cmd *cobra.Command, args []string) error {
	path, err := client.Init(cfg, startDir, args[0], logger)
	if err != nil {
		return err
	}

	var configPath string
	if initWriteConfig {
		configPath = filepath.Join(startDir, "wikisync.yaml")
		if err := config.SaveExample(configPath); err != nil {
			return fmt.Errorf("write config: %w", err)
		}
	}

	if jsonOutput {
		printJSON(map[string]interface{}{
			"success":  true,
			"manifest": path,
			"config":   configPath,
		})
		return nil
	}

	printSuccess("Created %s", path)
	if configPath != "" {
		printInfo("Wrote %s", configPath)
	}
	if cfg.Auth.Require() != nil {
		fmt.Println("Next: run 'wikisync login' to store an API token, then 'wikisync sync'.")
	} else {
		fmt.Println("Next: run 'wikisync sync'.")
	}
	return nil
}
