package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"

	"github.com/jward/cppmodel"
)

var flagNoProgress bool

var indexCmd = &cobra.Command{
	Use:   "index [path]",
	Short: "Parse every C/C++ file under a directory",
	Long: `Discovers C/C++ sources (git ls-files, or a directory walk outside git),
filtered by the configured include and exclude globs, and parses them into a
Snapshot. Reports the number of files and diagnostics.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runIndex,
}

func init() {
	indexCmd.Flags().BoolVar(&flagNoProgress, "no-progress", false, "do not draw a progress bar on stderr")
}

func runIndex(cmd *cobra.Command, args []string) error {
	start := time.Now()
	targetDir := repoRoot
	if len(args) > 0 {
		dir, err := resolveTargetDir(args)
		if err != nil {
			return outputError("index", err)
		}
		targetDir = dir
	}

	var bar *progressbar.ProgressBar
	e := newEngine(cppmodel.WithProgress(func(string) {
		if bar != nil {
			_ = bar.Add(1)
		}
	}))
	defer e.Close()

	paths, err := e.Discover(targetDir)
	if err != nil {
		return outputError("index", err)
	}
	if !flagNoProgress && len(paths) > 0 {
		bar = progressbar.NewOptions(len(paths),
			progressbar.OptionSetWriter(os.Stderr),
			progressbar.OptionSetWidth(40),
			progressbar.OptionShowCount(),
			progressbar.OptionSetDescription("parsing"),
			progressbar.OptionOnCompletion(func() { fmt.Fprintln(os.Stderr) }),
		)
	}

	summary := CLIIndexSummary{Root: targetDir}
	if err := e.IndexFiles(cmd.Context(), paths); err != nil {
		summary.Warning = err.Error()
	}
	if bar != nil {
		_ = bar.Finish()
	}

	snap := e.Snapshot()
	summary.Files = snap.Len()
	summary.Generation = snap.Generation()
	snap.Each(func(doc *cppmodel.Document) {
		summary.Diagnostics += len(doc.Diagnostics)
	})
	summary.DurationMS = time.Since(start).Milliseconds()

	return outputResult(CLIResult{Command: "index", Results: summary})
}

var flagExportDB string

var exportCmd = &cobra.Command{
	Use:   "export",
	Short: "Index the project and write the model to SQLite",
	Long: `Indexes the project root and writes files, scopes, symbols, includes and the
dependents closure to a SQLite database (default: the configured database,
.cppmodel/model.db). An earlier export at the same path is replaced.`,
	Args: cobra.NoArgs,
	RunE: runExport,
}

func init() {
	exportCmd.Flags().StringVar(&flagExportDB, "db", "", "database path (default from config)")
}

func runExport(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	e := indexedEngine(ctx)
	defer e.Close()

	dbPath := resolveDBPath(flagExportDB)
	stats, err := e.Export(ctx, dbPath)
	if err != nil {
		return outputError("export", err)
	}
	return outputResult(CLIResult{
		Command: "export",
		Results: CLIExportStats{
			Database:   dbPath,
			Files:      stats.Files,
			Scopes:     stats.Scopes,
			Symbols:    stats.Symbols,
			Dependents: stats.Dependents,
		},
	})
}

var flagWatchExport bool

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Keep the model current while files change",
	Long: `Indexes the project root, then reparses files as they are written, created or
removed until interrupted. With --export the database is rewritten after
every batch of changes.`,
	Args: cobra.NoArgs,
	RunE: runWatch,
}

func init() {
	watchCmd.Flags().BoolVar(&flagWatchExport, "export", false, "rewrite the database after each batch")
	watchCmd.Flags().StringVar(&flagExportDB, "db", "", "database path for --export (default from config)")
}

func runWatch(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	e := indexedEngine(ctx)
	defer e.Close()
	logger.Info("cli.watch", "root", repoRoot, "files", e.Snapshot().Len())

	if flagWatchExport {
		go exportOnChange(ctx, e, resolveDBPath(flagExportDB))
	}
	if err := e.Watch(ctx, repoRoot); err != nil && ctx.Err() == nil {
		return outputError("watch", err)
	}
	return nil
}

// exportOnChange polls the Snapshot generation and exports whenever it
// moves.
func exportOnChange(ctx context.Context, e *cppmodel.Engine, dbPath string) {
	ticker := time.NewTicker(cfg.Debounce + 100*time.Millisecond)
	defer ticker.Stop()

	var last uint64
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		gen := e.Snapshot().Generation()
		if gen == last {
			continue
		}
		last = gen
		if _, err := e.Export(ctx, dbPath); err != nil {
			logger.Error("cli.watch.export", "db", dbPath, "error", err)
		}
	}
}
