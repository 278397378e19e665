package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"text/tabwriter"
)

// outputResult writes result in the selected format.
func outputResult(result CLIResult) error {
	if flagFormat == "text" {
		return outputResultText(os.Stdout, result)
	}
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(result)
}

// outputError writes an error in the selected format and returns it so RunE
// can propagate it to Cobra. In JSON mode the error is written to stdout as a
// CLIResult envelope. In text mode it goes to stderr.
func outputError(command string, err error) error {
	errorHandled = true
	if flagFormat == "text" {
		fmt.Fprintf(os.Stderr, "Error: %s\n", err)
		return err
	}
	result := CLIResult{
		Command: command,
		Error:   err.Error(),
	}
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	_ = enc.Encode(result)
	return err
}

func outputResultText(w io.Writer, result CLIResult) error {
	switch r := result.Results.(type) {
	case CLIIndexSummary:
		fmt.Fprintf(w, "Indexed %d files under %s in %dms (generation %d, %d diagnostics)\n",
			r.Files, r.Root, r.DurationMS, r.Generation, r.Diagnostics)
		if r.Warning != "" {
			fmt.Fprintf(w, "Warning: %s\n", r.Warning)
		}
	case CLIExportStats:
		fmt.Fprintf(w, "Exported %d files, %d scopes, %d symbols, %d dependency rows to %s\n",
			r.Files, r.Scopes, r.Symbols, r.Dependents, r.Database)
	case CLIDeps:
		formatDepsText(w, r)
	case CLIStale:
		formatStaleText(w, r)
	case []CLIMatch:
		formatMatchesText(w, r)
	case CLICanonical:
		formatCanonicalText(w, r)
	case []CLIASTNode:
		formatASTPathText(w, r)
	case []string:
		for _, item := range r {
			fmt.Fprintln(w, item)
		}
	case []any:
		for _, item := range r {
			fmt.Fprintln(w, formatValue(item))
		}
	default:
		fmt.Fprintln(w, formatValue(r))
	}
	return nil
}

func formatDepsText(w io.Writer, d CLIDeps) {
	fmt.Fprintf(w, "File: %s\n", d.File)
	section := func(title string, paths []string) {
		fmt.Fprintf(w, "\n%s (%d):\n", title, len(paths))
		for _, p := range paths {
			fmt.Fprintf(w, "  %s\n", p)
		}
	}
	section("Direct includes", d.DirectIncludes)
	section("Transitive includes", d.Includes)
	section("Dependents", d.Dependents)
}

func formatStaleText(w io.Writer, s CLIStale) {
	if !s.Stale {
		fmt.Fprintf(w, "%s: up to date since %s\n", s.File, s.Since)
		return
	}
	fmt.Fprintf(w, "%s: stale (%s)\n", s.File, s.Reason)
}

// formatMatchesText formats lookup candidates as aligned columns.
func formatMatchesText(w io.Writer, ms []CLIMatch) {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "NAME\tKIND\tTYPE\tSCOPE\tLOCATION")
	for _, m := range ms {
		name, kind, loc := "-", "-", "-"
		if d := m.Declaration; d != nil {
			name, kind = d.QualifiedName, d.Kind
			loc = formatLocation(d.Location)
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n", name, kind, m.Type, m.Scope, loc)
	}
	tw.Flush()
}

func formatCanonicalText(w io.Writer, c CLICanonical) {
	if c.Declaration == nil {
		fmt.Fprintf(w, "%s: no declaration\n", c.Expression)
		return
	}
	d := c.Declaration
	fmt.Fprintf(w, "%s\n", formatLocation(d.Location))
	fmt.Fprintf(w, "  %s %s", d.Kind, d.QualifiedName)
	if d.Type != "" {
		fmt.Fprintf(w, " : %s", d.Type)
	}
	if d.Virtual {
		fmt.Fprint(w, " (virtual)")
	}
	fmt.Fprintln(w)
}

// formatASTPathText prints the path indented by depth.
func formatASTPathText(w io.Writer, nodes []CLIASTNode) {
	for depth, n := range nodes {
		fmt.Fprintf(w, "%*s%s", depth*2, "", n.Kind)
		if n.Name != "" {
			fmt.Fprintf(w, " %s", n.Name)
		}
		fmt.Fprintf(w, " [%d:%d-%d:%d]\n", n.Span.StartLine, n.Span.StartCol, n.Span.EndLine, n.Span.EndCol)
	}
}

// formatLocation formats a location as "file:line:col".
func formatLocation(l CLILocation) string {
	return fmt.Sprintf("%s:%d:%d", l.File, l.StartLine, l.StartCol)
}

// formatValue renders a script value. Maps print as sorted key=value pairs.
func formatValue(v any) string {
	m, ok := v.(map[string]any)
	if !ok {
		return fmt.Sprint(v)
	}
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s=%v", k, m[k]))
	}
	return strings.Join(parts, " ")
}
