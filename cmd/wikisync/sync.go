package main

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/TheMichaelB/wikisync/internal/events"
	"github.com/TheMichaelB/wikisync/internal/services/sync"
)

var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Synchronize the wiki with the local markdown tree",
	Long: `Sync downloads pages changed on the wiki, pushes pages edited locally,
creates wiki pages for new files in existing books and propagates deletions
in both directions.

Pages changed on both sides since the last sync are left alone and reported
as conflicts. Use --force to push the local copy of such pages.`,
	Example: `  wikisync sync
  wikisync sync --dry-run
  wikisync sync --force -d ~/wiki`,
	Args: cobra.NoArgs,
	RunE: runSync,
}

var (
	syncForce  bool
	syncDryRun bool
)

func init() {
	rootCmd.AddCommand(syncCmd)

	syncCmd.Flags().BoolVarP(&syncForce, "force", "f", false,
		"Push local copies of pages changed on both sides")
	syncCmd.Flags().BoolVar(&syncDryRun, "dry-run", false,
		"Show what would change without touching either side")
}

func runSync(cmd *cobra.Command, args []string) error {
	c, err := openClient(true)
	if err != nil {
		return err
	}
	defer c.Close()

	ctx := events.WithRunID(cmd.Context(), strconv.FormatInt(time.Now().UnixNano(), 36))
	opts := sync.Options{Force: syncForce, DryRun: syncDryRun}

	if jsonOutput {
		return runSyncJSON(ctx, c.Sync, opts)
	}
	return runSyncInteractive(ctx, c.Sync, opts)
}

func runSyncInteractive(ctx context.Context, svc *sync.Service, opts sync.Options) error {
	stop := watchEvents(svc.Events(), printEvent)
	result, err := svc.Sync(ctx, opts)
	stop()

	if err != nil {
		if ctx.Err() != nil {
			printWarning("Sync interrupted, manifest left unchanged")
		}
		return err
	}

	if opts.DryRun {
		printPlan(result.Plan)
		fmt.Println("\nDry run, nothing was changed. Would have:")
	} else {
		fmt.Println("\nSync summary:")
	}
	printSummary(result.Summary)

	if result.Summary.Failed > 0 {
		printWarning("%d page(s) failed and will be retried on the next sync", result.Summary.Failed)
		return nil
	}
	if !opts.DryRun {
		printSuccess("Sync completed")
	}
	return nil
}

func runSyncJSON(ctx context.Context, svc *sync.Service, opts sync.Options) error {
	var collected []map[string]interface{}
	stop := watchEvents(svc.Events(), func(e sync.Event) {
		collected = append(collected, eventJSON(e))
	})
	result, err := svc.Sync(ctx, opts)
	stop()

	if err != nil {
		return err
	}

	out := map[string]interface{}{
		"success": true,
		"dry_run": opts.DryRun,
		"summary": summaryJSON(result.Summary),
		"events":  collected,
	}
	if opts.DryRun {
		out["plan"] = planJSON(result.Plan)
	}
	if len(result.Errors) > 0 {
		errs := make([]string, len(result.Errors))
		for i, e := range result.Errors {
			errs[i] = e.Error()
		}
		out["errors"] = errs
	}

	printJSON(out)
	return nil
}

// watchEvents feeds events to fn until the channel closes or the returned
// stop function is called. stop drains what is buffered and waits for fn to
// return.
func watchEvents(ch <-chan sync.Event, fn func(sync.Event)) (stop func()) {
	quit := make(chan struct{})
	done := make(chan struct{})

	go func() {
		defer close(done)
		for {
			select {
			case e, ok := <-ch:
				if !ok {
					return
				}
				fn(e)
			case <-quit:
				for {
					select {
					case e, ok := <-ch:
						if !ok {
							return
						}
						fn(e)
					default:
						return
					}
				}
			}
		}
	}()

	return func() {
		close(quit)
		<-done
	}
}

func printEvent(e sync.Event) {
	switch e.Type {
	case sync.EventDownloaded:
		fmt.Printf("  %s %s\n", green("synced "), e.Key)
	case sync.EventUpdated:
		fmt.Printf("  %s %s\n", cyan("updated"), e.Path)
	case sync.EventCreated:
		fmt.Printf("  %s %s -> %s\n", cyan("created"), e.Path, e.URL)
	case sync.EventDeletedLocal:
		fmt.Printf("  %s %s\n", yellow("removed"), e.Path)
	case sync.EventDeletedRemote:
		fmt.Printf("  %s %s\n", yellow("deleted"), e.Key)
	case sync.EventKept:
		printWarning("  kept    %s", e.Path)
	case sync.EventConflict:
		printWarning("  conflict %s (%s)", e.Path, e.URL)
	case sync.EventPageError:
		printError("  failed  %v", e.Error)
	}
}

func printPlan(plan *sync.Plan) {
	if plan == nil {
		return
	}
	for _, a := range plan.Actions {
		if a.Kind == sync.Unchanged {
			continue
		}
		fmt.Printf("  %-14s %s\n", a.Kind, a.Path)
	}
	for _, dup := range plan.Duplicates {
		printWarning("  duplicate      %s (page %d ignored)", dup.Key(), dup.ID)
	}
}

func printSummary(s sync.Summary) {
	fmt.Printf("   Downloaded:     %d\n", s.Downloaded)
	fmt.Printf("   Updated:        %d\n", s.Updated)
	fmt.Printf("   Created:        %d\n", s.Created)
	fmt.Printf("   Deleted local:  %d\n", s.DeletedLocal)
	fmt.Printf("   Deleted remote: %d\n", s.DeletedRemote)
	fmt.Printf("   Unchanged:      %d\n", s.Unchanged)
	if s.Conflicts > 0 {
		fmt.Printf("   Conflicts:      %s\n", yellow("%d", s.Conflicts))
	}
	if s.Kept > 0 {
		fmt.Printf("   Kept:           %d\n", s.Kept)
	}
	if s.Failed > 0 {
		fmt.Printf("   Failed:         %s\n", red("%d", s.Failed))
	}
	if s.Bytes > 0 {
		fmt.Printf("   Transferred:    %s\n", humanize.Bytes(uint64(s.Bytes)))
	}
	if s.Duration > 0 {
		fmt.Printf("   Duration:       %s\n", s.Duration.Round(time.Millisecond))
	}
}

func summaryJSON(s sync.Summary) map[string]interface{} {
	return map[string]interface{}{
		"downloaded":     s.Downloaded,
		"updated":        s.Updated,
		"created":        s.Created,
		"deleted_local":  s.DeletedLocal,
		"deleted_remote": s.DeletedRemote,
		"unchanged":      s.Unchanged,
		"conflicts":      s.Conflicts,
		"kept":           s.Kept,
		"failed":         s.Failed,
		"bytes":          s.Bytes,
		"duration_ms":    s.Duration.Milliseconds(),
	}
}

func eventJSON(e sync.Event) map[string]interface{} {
	data := map[string]interface{}{
		"type":      e.Type,
		"timestamp": e.Timestamp,
	}
	if e.Key != "" {
		data["key"] = e.Key
	}
	if e.Path != "" {
		data["path"] = e.Path
	}
	if e.URL != "" {
		data["url"] = e.URL
	}
	if e.Error != nil {
		data["error"] = e.Error.Error()
	}
	return data
}

func planJSON(plan *sync.Plan) []map[string]interface{} {
	if plan == nil {
		return nil
	}
	out := make([]map[string]interface{}, 0, len(plan.Actions))
	for _, a := range plan.Actions {
		out = append(out, map[string]interface{}{
			"kind": a.Kind.String(),
			"key":  a.Key,
			"path": a.Path,
		})
	}
	return out
}
