package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/fatih/color"
	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"

	"github.com/TheMichaelB/wikisync/internal/client"
	"github.com/TheMichaelB/wikisync/internal/config"
	"github.com/TheMichaelB/wikisync/internal/events"
	"github.com/TheMichaelB/wikisync/internal/manifest"
	"github.com/TheMichaelB/wikisync/internal/models"
)

var (
	cfg    *config.Config
	logger *events.Logger

	// startDir is the absolute directory commands run from.
	startDir string
	// manifestPath is the discovered manifest, empty when none was found.
	manifestPath string
)

var (
	configFile string
	workDir    string
	jsonOutput bool
	verbose    bool
)

var (
	red    = color.New(color.FgHiRed, color.Bold).SprintfFunc()
	green  = color.New(color.FgHiGreen).SprintfFunc()
	yellow = color.New(color.FgHiYellow).SprintfFunc()
	cyan   = color.New(color.FgHiCyan).SprintfFunc()
)

var rootCmd = &cobra.Command{
	Use:   "wikisync",
	Short: "Two-way sync between a BookStack wiki and local markdown files",
	Long: `wikisync mirrors the pages of a BookStack wiki as <book>/<page>.md files
and pushes local edits back. The wiki root is the directory holding the
manifest (.bookstack.json), found by walking up from the working directory.`,
	SilenceUsage:      true,
	SilenceErrors:     true,
	PersistentPreRunE: setup,
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if logger != nil {
			_ = logger.Close()
		}
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configFile, "config", "",
		"Config file (default: wikisync.yaml in the wiki root or ~/.config/wikisync)")
	rootCmd.PersistentFlags().StringVarP(&workDir, "dir", "d", "",
		"Run as if started in this directory")
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false,
		"Print results as JSON")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false,
		"Enable debug logging")

	if !isatty.IsTerminal(os.Stdout.Fd()) && !isatty.IsCygwinTerminal(os.Stdout.Fd()) {
		color.NoColor = true
	}
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)

	err := rootCmd.ExecuteContext(ctx)
	stop()

	if err != nil {
		if jsonOutput {
			printJSON(map[string]interface{}{
				"success": false,
				"error":   err.Error(),
			})
		} else {
			printError("Error: %v", err)
			if hint := errorHint(err); hint != "" {
				fmt.Fprintln(os.Stderr, hint)
			}
		}
		os.Exit(1)
	}
}

// setup resolves the working directory, finds the manifest and loads the
// configuration of the wiki root.
func setup(cmd *cobra.Command, args []string) error {
	dir := workDir
	if dir == "" {
		dir = "."
	}
	abs, err := filepath.Abs(dir)
	if err != nil {
		return fmt.Errorf("resolve directory: %w", err)
	}
	startDir = abs

	// The manifest name may itself come from config, so look for the
	// default name first and again once config is loaded.
	root := startDir
	if found, err := manifest.Discover(startDir, config.DefaultManifestName); err == nil {
		root = filepath.Dir(found)
	}

	cfg, err = config.NewLoader(configFile).WithRoot(root).Load()
	if err != nil {
		return err
	}
	if verbose {
		cfg.Log.Level = "debug"
	}
	if err := cfg.EnsureDirectories(); err != nil {
		return err
	}

	logger, err = events.NewLogger(&cfg.Log)
	if err != nil {
		return fmt.Errorf("create logger: %w", err)
	}
	events.SetDefault(logger)

	manifestPath = ""
	if found, err := manifest.Discover(startDir, cfg.Manifest.Filename); err == nil {
		manifestPath = found
	}

	logger.WithFields(map[string]interface{}{
		"dir":      startDir,
		"manifest": manifestPath,
		"config":   config.NewLoader(configFile).WithRoot(root).ConfigFileUsed(),
	}).Debug("Resolved wiki root")

	return nil
}

// openClient opens the wiki found by setup.
func openClient(requireAuth bool) (*client.Client, error) {
	if manifestPath == "" {
		return nil, fmt.Errorf("%w: no %s in %s or any parent directory",
			models.ErrManifestNotFound, cfg.Manifest.Filename, startDir)
	}
	return client.Open(cfg, manifestPath, requireAuth, logger)
}

// wikiRoot returns the directory holding the manifest, or the start
// directory when there is none yet.
func wikiRoot() string {
	if manifestPath != "" {
		return filepath.Dir(manifestPath)
	}
	return startDir
}

func errorHint(err error) string {
	switch {
	case errors.Is(err, models.ErrManifestNotFound):
		return "Run 'wikisync init <url>' in the directory that should hold the wiki."
	case errors.Is(err, models.ErrMissingCredentials):
		return "Run 'wikisync login' or set BOOKSTACK_TOKEN_ID and BOOKSTACK_TOKEN_SECRET."
	case errors.Is(err, manifest.ErrLocked):
		return "Another sync of this wiki is running."
	case errors.Is(err, manifest.ErrCorrupt):
		return "The manifest could not be read; restore it from its .backup copy."
	}
	return ""
}

func printSuccess(format string, args ...interface{}) {
	fmt.Println(green(format, args...))
}

func printInfo(format string, args ...interface{}) {
	fmt.Println(cyan(format, args...))
}

func printWarning(format string, args ...interface{}) {
	fmt.Fprintln(os.Stderr, yellow(format, args...))
}

func printError(format string, args ...interface{}) {
	fmt.Fprintln(os.Stderr, red(format, args...))
}

func printJSON(v interface{}) {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		fmt.Fprintf(os.Stderr, "encode output: %v\n", err)
	}
}
