// Package scripts embeds the Risor report scripts shipped with the CLI.
package scripts

import "embed"

// FS holds every .risor file of this directory.
//
//go:embed *.risor
var FS embed.FS
