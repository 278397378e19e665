package main

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/jward/cppmodel"
)

// parseIntArg parses a non-negative integer argument.
func parseIntArg(value, name string) (int, error) {
	n, err := strconv.Atoi(value)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: must be a non-negative integer", name, value)
	}
	if n < 0 {
		return 0, fmt.Errorf("invalid %s %q: must be non-negative", name, value)
	}
	return n, nil
}

// position parses the <file> <line> <col> prefix of args.
func position(args []string) (string, int, int, error) {
	file, err := resolveFilePath(args[0])
	if err != nil {
		return "", 0, 0, err
	}
	line, err := parseIntArg(args[1], "line")
	if err != nil {
		return "", 0, 0, err
	}
	col, err := parseIntArg(args[2], "col")
	if err != nil {
		return "", 0, 0, err
	}
	return file, line, col, nil
}

// query indexes the project and returns a QueryBuilder over the result.
func query(cmd *cobra.Command) (*cppmodel.QueryBuilder, func()) {
	e := indexedEngine(cmd.Context())
	return e.Query(), func() { e.Close() }
}

// -----------------------------------------------------------------------------
// deps
// -----------------------------------------------------------------------------

var depsCmd = &cobra.Command{
	Use:   "deps <file>",
	Short: "Show the includes and dependents of a file",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		file, err := resolveFilePath(args[0])
		if err != nil {
			return outputError("deps", err)
		}
		q, done := query(cmd)
		defer done()

		return outputResult(CLIResult{
			Command: "deps",
			Results: CLIDeps{
				File:           file,
				DirectIncludes: nonNil(q.DirectIncludes(file)),
				Includes:       nonNil(q.Includes(file)),
				Dependents:     nonNil(q.FilesDependingOn(file)),
			},
		})
	},
}

// -----------------------------------------------------------------------------
// stale
// -----------------------------------------------------------------------------

var flagSince string

var staleCmd = &cobra.Command{
	Use:   "stale <file>",
	Short: "Report whether a file or anything it includes changed since a time",
	Long: `Reports whether <file> or any file it transitively includes was modified after
--since. --since is an RFC 3339 timestamp or the path of a build output whose
modification time is used, for example an object file.`,
	Args: cobra.ExactArgs(1),
	RunE: runStale,
}

func init() {
	staleCmd.Flags().StringVar(&flagSince, "since", "", "RFC 3339 time or reference file (required)")
	_ = staleCmd.MarkFlagRequired("since")
}

// parseSince accepts an RFC 3339 time or the path of a reference file.
func parseSince(s string) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t, nil
	}
	info, err := os.Stat(s)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid --since %q: not an RFC 3339 time or an existing file", s)
	}
	return info.ModTime(), nil
}

func runStale(cmd *cobra.Command, args []string) error {
	file, err := resolveFilePath(args[0])
	if err != nil {
		return outputError("stale", err)
	}
	since, err := parseSince(flagSince)
	if err != nil {
		return outputError("stale", err)
	}
	q, done := query(cmd)
	defer done()

	stale, reason := q.AnyNewerDeps(file, since)
	return outputResult(CLIResult{
		Command: "stale",
		Results: CLIStale{
			File:   file,
			Since:  since.Format(time.RFC3339),
			Stale:  stale,
			Reason: reason,
		},
	})
}

// -----------------------------------------------------------------------------
// lookup
// -----------------------------------------------------------------------------

var lookupCmd = &cobra.Command{
	Use:   "lookup <file> <line> <col> <expr>",
	Short: "List the candidate bindings of an expression at a position",
	Long: `Evaluates <expr> in the scope enclosing the position and lists every candidate
binding, innermost first. Member access (. and ->), qualified names (::),
calls and subscripts are followed through declared types.`,
	Args: cobra.ExactArgs(4),
	RunE: func(cmd *cobra.Command, args []string) error {
		file, line, col, err := position(args)
		if err != nil {
			return outputError("lookup", err)
		}
		q, done := query(cmd)
		defer done()

		matches := toCLIMatches(q.MatchesFor(file, line, col, args[3]))
		total := len(matches)
		return outputResult(CLIResult{Command: "lookup", Results: matches, TotalCount: &total})
	},
}

// -----------------------------------------------------------------------------
// canonical
// -----------------------------------------------------------------------------

var flagLSP bool

var canonicalCmd = &cobra.Command{
	Use:   "canonical <file> <line> <col> [expr]",
	Short: "Resolve an expression to the declaration it navigates to",
	Long: `Resolves [expr], or the expression under the cursor when omitted, to its
canonical declaration. Virtual functions resolve to the base declaration.
With --lsp the location is also reported as an LSP Location.`,
	Args: cobra.RangeArgs(3, 4),
	RunE: runCanonical,
}

func init() {
	canonicalCmd.Flags().BoolVar(&flagLSP, "lsp", false, "include an LSP Location with a file:// URI")
}

func runCanonical(cmd *cobra.Command, args []string) error {
	file, line, col, err := position(args)
	if err != nil {
		return outputError("canonical", err)
	}
	q, done := query(cmd)
	defer done()

	var decl *cppmodel.Declaration
	var expr string
	if len(args) == 4 {
		expr = args[3]
		decl = q.CanonicalSymbol(file, line, col, expr)
	} else {
		decl, expr = q.CanonicalSymbolAt(file, line, col)
	}

	result := CLICanonical{Expression: expr, Declaration: toCLIDeclaration(decl)}
	if flagLSP && decl != nil {
		result.LSP = decl.Location.LSP()
	}
	return outputResult(CLIResult{Command: "canonical", Results: result})
}

// -----------------------------------------------------------------------------
// ast
// -----------------------------------------------------------------------------

var astCmd = &cobra.Command{
	Use:   "ast <file> <line> <col>",
	Short: "Show the AST path from the translation unit to a position",
	Args:  cobra.ExactArgs(3),
	RunE: func(cmd *cobra.Command, args []string) error {
		file, line, col, err := position(args)
		if err != nil {
			return outputError("ast", err)
		}
		q, done := query(cmd)
		defer done()

		nodes, err := q.ASTPath(file, line, col)
		if err != nil {
			return outputError("ast", err)
		}
		path := toCLIASTPath(nodes)
		total := len(path)
		return outputResult(CLIResult{Command: "ast", Results: path, TotalCount: &total})
	},
}
