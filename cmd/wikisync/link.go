package main

import (
	"fmt"
	"path/filepath"

	"github.com/spf13/cobra"
)

var linkCmd = &cobra.Command{
	Use:   "link <book/page.md[:line]>",
	Short: "Print the wiki URL of a local page",
	Long: `Link prints the browser URL of a tracked page. The path is relative to
the working directory; a trailing :<line> as printed by editors and
compilers is accepted.`,
	Example: `  wikisync link guides/intro.md
  wikisync link guides/intro.md:42`,
	Args: cobra.ExactArgs(1),
	RunE: runLink,
}

func init() {
	rootCmd.AddCommand(linkCmd)
}

func runLink(cmd *cobra.Command, args []string) error {
	c, err := openClient(false)
	if err != nil {
		return err
	}
	defer c.Close()

	target := args[0]
	if !filepath.IsAbs(target) {
		target = filepath.Join(startDir, target)
	}

	url, err := c.Link(target)
	if err != nil {
		return err
	}

	if jsonOutput {
		printJSON(map[string]interface{}{
			"success": true,
			"path":    args[0],
			"url":     url,
		})
		return nil
	}

	fmt.Println(url)
	return nil
}
