package main

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/spf13/cobra"

	"github.com/jward/cppmodel/internal/runtime"
	"github.com/jward/cppmodel/internal/store"
	"github.com/jward/cppmodel/scripts"
)

var (
	flagScriptDB   string
	flagScriptList bool
)

var scriptCmd = &cobra.Command{
	Use:   "script <name|path>",
	Short: "Run a Risor script against the indexed project",
	Long: `Indexes the project and evaluates a Risor script over the Snapshot. <name> is
one of the built-in scripts (see --list), with or without the .risor suffix;
anything else is read from disk, and its imports resolve next to it. The value
of the script's last expression is printed. With --db the exported database
is also available to db_query, the db_files_* include-graph queries and the
symbols_* functions.`,
	Args: func(cmd *cobra.Command, args []string) error {
		if flagScriptList {
			return cobra.NoArgs(cmd, args)
		}
		return cobra.ExactArgs(1)(cmd, args)
	},
	RunE: runScript,
}

func init() {
	scriptCmd.Flags().StringVar(&flagScriptDB, "db", "", "exported database to expose to the script")
	scriptCmd.Flags().BoolVar(&flagScriptList, "list", false, "list the built-in scripts")
}

// builtinScripts returns the embedded script names, sorted.
func builtinScripts() ([]string, error) {
	entries, err := fs.ReadDir(scripts.FS, ".")
	if err != nil {
		return nil, err
	}
	var names []string
	for _, e := range entries {
		if !e.IsDir() && strings.HasSuffix(e.Name(), ".risor") {
			names = append(names, strings.TrimSuffix(e.Name(), ".risor"))
		}
	}
	sort.Strings(names)
	return names, nil
}

// scriptSource picks the embedded script called name, or the file at name.
func scriptSource(name string) (string, []runtime.RuntimeOption, error) {
	embedded := strings.TrimSuffix(name, ".risor") + ".risor"
	if _, err := fs.Stat(scripts.FS, embedded); err == nil {
		return embedded, []runtime.RuntimeOption{runtime.WithRuntimeFS(scripts.FS)}, nil
	}
	path, err := resolveFilePath(name)
	if err != nil {
		return "", nil, fmt.Errorf("unknown script %q: not built in and %w", name, err)
	}
	return path, []runtime.RuntimeOption{runtime.WithScriptsDir(filepath.Dir(path))}, nil
}

func runScript(cmd *cobra.Command, args []string) error {
	if flagScriptList {
		names, err := builtinScripts()
		if err != nil {
			return outputError("script", err)
		}
		total := len(names)
		return outputResult(CLIResult{Command: "script", Results: names, TotalCount: &total})
	}

	path, opts, err := scriptSource(args[0])
	if err != nil {
		return outputError("script", err)
	}
	if flagScriptDB != "" {
		dbPath := resolveDBPath(flagScriptDB)
		if _, err := os.Stat(dbPath); err != nil {
			return outputError("script", fmt.Errorf("database not found: %s", dbPath))
		}
		s, err := store.NewStore(dbPath)
		if err != nil {
			return outputError("script", err)
		}
		defer s.Close()
		opts = append(opts, runtime.WithStore(s))
	}

	ctx := cmd.Context()
	e := indexedEngine(ctx)
	defer e.Close()

	rt := e.Runtime(opts...)
	src, err := rt.LoadScript(path)
	if err != nil {
		return outputError("script", err)
	}
	value, err := rt.Eval(ctx, src)
	if err != nil {
		return outputError("script", fmt.Errorf("running %s: %w", args[0], err))
	}
	return outputResult(CLIResult{Command: "script", Results: value})
}
