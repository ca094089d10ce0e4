package main

import (
	"fmt"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/TheMichaelB/wikisync/internal/client"
	"github.com/TheMichaelB/wikisync/internal/manifest"
)

var manifestCmd = &cobra.Command{
	Use:   "manifest",
	Short: "Inspect and convert the sync manifest",
}

var manifestConvertCmd = &cobra.Command{
	Use:   "convert <dest>",
	Short: "Copy the manifest to another file or backend",
	Long: `Convert copies the manifest into dest. Files ending in .db, .sqlite or
.sqlite3 are written as SQLite databases, anything else as JSON. Point
manifest.filename at the new file to start using it.`,
	Example: `  wikisync manifest convert .bookstack.db`,
	Args:    cobra.ExactArgs(1),
	RunE:    runManifestConvert,
}

var manifestShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the tracked pages",
	Args:  cobra.NoArgs,
	RunE:  runManifestShow,
}

func init() {
	rootCmd.AddCommand(manifestCmd)
	manifestCmd.AddCommand(manifestConvertCmd)
	manifestCmd.AddCommand(manifestShowCmd)
}

func runManifestConvert(cmd *cobra.Command, args []string) error {
	c, err := openClient(false)
	if err != nil {
		return err
	}
	defer c.Close()

	dest := args[0]
	if !filepath.IsAbs(dest) {
		dest = filepath.Join(startDir, dest)
	}

	m, err := client.Convert(c.Manifest, dest, logger)
	if err != nil {
		return err
	}

	if jsonOutput {
		printJSON(map[string]interface{}{
			"success": true,
			"dest":    dest,
			"sqlite":  manifest.IsSQLite(dest),
			"pages":   m.Len(),
		})
		return nil
	}

	printSuccess("Copied %d pages to %s", m.Len(), dest)
	return nil
}

func runManifestShow(cmd *cobra.Command, args []string) error {
	c, err := openClient(false)
	if err != nil {
		return err
	}
	defer c.Close()

	m, err := c.Manifest.Load()
	if err != nil {
		return err
	}

	if jsonOutput {
		printJSON(m)
		return nil
	}

	printInfo("%s (%d pages)", m.URL, m.Len())
	for _, key := range m.Keys() {
		entry := m.Get(key)
		fmt.Printf("  %-40s %-40s %s\n", key, entry.Path, entry.Page.UpdatedAt)
	}
	return nil
}
