package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show what the next sync would do",
	Long: `Status lists every page the next sync would touch and why, without
changing the wiki, the local files or the manifest.`,
	Args: cobra.NoArgs,
	RunE: runStatus,
}

func init() {
	rootCmd.AddCommand(statusCmd)
}

func runStatus(cmd *cobra.Command, args []string) error {
	c, err := openClient(true)
	if err != nil {
		return err
	}
	defer c.Close()

	result, err := c.Sync.Status(cmd.Context())
	if err != nil {
		return err
	}

	if jsonOutput {
		printJSON(map[string]interface{}{
			"success": true,
			"root":    c.Root(),
			"summary": summaryJSON(result.Summary),
			"plan":    planJSON(result.Plan),
		})
		return nil
	}

	printInfo("Wiki root: %s", c.Root())
	if result.Summary.Changes()+result.Summary.Conflicts+result.Summary.Kept == 0 {
		printSuccess("Everything is in sync (%d pages)", result.Summary.Unchanged)
		return nil
	}

	printPlan(result.Plan)
	fmt.Println()
	printSummary(result.Summary)
	return nil
}
