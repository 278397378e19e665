package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/jward/cppmodel"
	"github.com/jward/cppmodel/internal/config"
)

var (
	flagRoot         string
	flagConfig       string
	flagFormat       string
	flagLogLevel     string
	flagIncludePaths []string
	flagDefines      []string
	flagWorkers      int
)

// errorHandled is set by outputError so main() doesn't double-print.
var errorHandled bool

// Resolved by the root command's PersistentPreRunE.
var (
	repoRoot string
	cfg      *config.Config
	logger   *slog.Logger
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		if !errorHandled {
			fmt.Fprintf(os.Stderr, "Error: %s\n", err)
		}
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "cppmodel",
	Short: "Incremental semantic model of C++ sources",
	Long: `cppmodel parses C/C++ sources with tree-sitter, builds scopes, symbols and the
include dependency table, and answers lookup and navigation queries.

All line and column numbers are 0-based.`,
	SilenceErrors:     true,
	SilenceUsage:      true,
	PersistentPreRunE: setup,
}

func init() {
	pf := rootCmd.PersistentFlags()
	pf.StringVar(&flagRoot, "root", "", "project root (default: enclosing git repository or the working directory)")
	pf.StringVar(&flagConfig, "config", "", "config file (default: <root>/"+config.FileName+")")
	pf.StringVar(&flagFormat, "format", "json", "output format: json|text")
	pf.StringVar(&flagLogLevel, "log-level", "", "log level: debug|info|warn|error (default from config)")
	pf.StringSliceVarP(&flagIncludePaths, "include-path", "I", nil, "additional include search path (repeatable)")
	pf.StringSliceVarP(&flagDefines, "define", "D", nil, "predefine a macro as NAME or NAME=VALUE (repeatable)")
	pf.IntVar(&flagWorkers, "workers", 0, "parse workers (default from config, then GOMAXPROCS)")

	rootCmd.AddCommand(indexCmd, exportCmd, watchCmd)
	rootCmd.AddCommand(depsCmd, staleCmd, lookupCmd, canonicalCmd, astCmd)
	rootCmd.AddCommand(scriptCmd)
}

// setup validates the output format, then resolves the project root, its
// configuration and the logger shared by every subcommand.
func setup(cmd *cobra.Command, args []string) error {
	v := viper.New()
	v.SetEnvPrefix("CPPMODEL")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()
	for _, name := range []string{"root", "config", "format", "log-level", "include-path", "define", "workers"} {
		if err := v.BindPFlag(name, cmd.Root().PersistentFlags().Lookup(name)); err != nil {
			return fmt.Errorf("binding flag %s: %w", name, err)
		}
	}

	flagFormat = v.GetString("format")
	if err := validateFormat(flagFormat); err != nil {
		return err
	}

	root, err := resolveRoot(v.GetString("root"))
	if err != nil {
		return err
	}
	repoRoot = root

	c, err := loadConfig(root, v.GetString("config"))
	if err != nil {
		return err
	}
	if err := overlay(c, v); err != nil {
		return err
	}
	cfg = c

	lvl, err := cfg.LogLevel()
	if err != nil {
		return err
	}
	logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl}))
	return nil
}

func resolveRoot(root string) (string, error) {
	if root != "" {
		return resolveTargetDir([]string{root})
	}
	cwd, err := os.Getwd()
	if err != nil {
		return "", fmt.Errorf("getting working directory: %w", err)
	}
	return findRepoRoot(cwd), nil
}

func loadConfig(root, path string) (*config.Config, error) {
	if path == "" {
		return config.LoadFromDir(root)
	}
	if !filepath.IsAbs(path) {
		abs, err := filepath.Abs(path)
		if err != nil {
			return nil, fmt.Errorf("resolving config path %q: %w", path, err)
		}
		path = abs
	}
	if _, err := os.Stat(path); err != nil {
		return nil, fmt.Errorf("config file not found: %s", path)
	}
	return config.Load(path)
}

// overlay applies flag and CPPMODEL_* environment settings on top of the
// file configuration.
func overlay(c *config.Config, v *viper.Viper) error {
	if v.IsSet("log-level") {
		c.Logging.Level = v.GetString("log-level")
	}
	if v.IsSet("workers") {
		c.Workers = v.GetInt("workers")
	}
	for _, p := range v.GetStringSlice("include-path") {
		abs, err := filepath.Abs(p)
		if err != nil {
			return fmt.Errorf("resolving include path %q: %w", p, err)
		}
		c.IncludePaths = append(c.IncludePaths, abs)
	}
	for _, d := range v.GetStringSlice("define") {
		name, value, err := parseDefine(d)
		if err != nil {
			return err
		}
		if c.Macros == nil {
			c.Macros = map[string]string{}
		}
		c.Macros[name] = value
	}
	return c.Validate()
}

// parseDefine splits a -D argument into macro name and value.
func parseDefine(s string) (string, string, error) {
	name, value, _ := strings.Cut(s, "=")
	name = strings.TrimSpace(name)
	if name == "" {
		return "", "", fmt.Errorf("invalid define %q: missing macro name", s)
	}
	for i, r := range name {
		if r == '_' || (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (i > 0 && r >= '0' && r <= '9') {
			continue
		}
		return "", "", fmt.Errorf("invalid define %q: %q is not an identifier", s, name)
	}
	return name, value, nil
}

func validateFormat(format string) error {
	switch format {
	case "json", "text":
		return nil
	default:
		return fmt.Errorf("invalid format %q: must be json or text", format)
	}
}

// newEngine builds an Engine from the resolved configuration.
func newEngine(opts ...cppmodel.Option) *cppmodel.Engine {
	opts = append([]cppmodel.Option{
		cppmodel.WithConfig(repoRoot, cfg),
		cppmodel.WithLogger(logger),
	}, opts...)
	return cppmodel.New(opts...)
}

// indexedEngine builds an Engine and indexes the project root. Each
// invocation starts from source; nothing is persisted between runs.
func indexedEngine(ctx context.Context) *cppmodel.Engine {
	e := newEngine()
	if err := e.IndexDirectory(ctx, repoRoot); err != nil {
		// Per-file failures still leave a usable Snapshot.
		logger.Warn("cli.index", "root", repoRoot, "error", err)
	}
	return e
}

// resolveTargetDir returns the absolute path of the directory to index.
func resolveTargetDir(args []string) (string, error) {
	dir := "."
	if len(args) > 0 {
		dir = args[0]
	}
	abs, err := filepath.Abs(dir)
	if err != nil {
		return "", fmt.Errorf("resolving path %q: %w", dir, err)
	}
	info, err := os.Stat(abs)
	if err != nil {
		return "", fmt.Errorf("directory not found: %s", abs)
	}
	if !info.IsDir() {
		return "", fmt.Errorf("not a directory: %s", abs)
	}
	return abs, nil
}

// resolveFilePath makes a file argument absolute and checks it exists.
func resolveFilePath(path string) (string, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return "", fmt.Errorf("resolving path %q: %w", path, err)
	}
	if _, err := os.Stat(abs); err != nil {
		return "", fmt.Errorf("file not found: %s", abs)
	}
	return abs, nil
}

// findRepoRoot walks up from startDir looking for a .git directory.
// Returns the directory containing .git, or startDir if not found.
func findRepoRoot(startDir string) string {
	dir := startDir
	for {
		if info, err := os.Stat(filepath.Join(dir, ".git")); err == nil && info.IsDir() {
			return dir
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return startDir
		}
		dir = parent
	}
}

// resolveDBPath returns dbFlag or the configured database, relative to the
// project root.
func resolveDBPath(dbFlag string) string {
	path := dbFlag
	if path == "" {
		path = cfg.Database
	}
	if filepath.IsAbs(path) {
		return path
	}
	return filepath.Join(repoRoot, path)
}
