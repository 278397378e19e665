package parser

import (
	"path/filepath"
	"strings"
	"sync"

	sitter "github.com/smacker/go-tree-sitter"
	"github.com/smacker/go-tree-sitter/cpp"
)

// FileKind distinguishes translation-unit sources from headers.
type FileKind uint8

const (
	FileUnknown FileKind = iota
	FileSource
	FileHeader
)

// extToKind maps file extensions to the kind of C/C++ file they hold.
// C files go through the C++ grammar as well; it accepts the C subset
// headers are written in.
var extToKind = map[string]FileKind{
	".c":   FileSource,
	".cc":  FileSource,
	".cpp": FileSource,
	".cxx": FileSource,
	".c++": FileSource,
	".m":   FileSource,
	".mm":  FileSource,
	".h":   FileHeader,
	".hh":  FileHeader,
	".hpp": FileHeader,
	".hxx": FileHeader,
	".h++": FileHeader,
	".inl": FileHeader,
	".ipp": FileHeader,
	".tpp": FileHeader,
}

// The grammar is initialized lazily on first use.
var (
	grammar     *sitter.Language
	grammarOnce sync.Once
)

// Grammar returns the tree-sitter C++ language.
func Grammar() *sitter.Language {
	grammarOnce.Do(func() {
		grammar = cpp.GetLanguage()
	})
	return grammar
}

// KindForFile returns the kind of file path names based on its extension.
// Returns (FileUnknown, false) if the extension is not recognized.
func KindForFile(path string) (FileKind, bool) {
	k, ok := extToKind[strings.ToLower(filepath.Ext(path))]
	return k, ok
}

// IsCppFile reports whether path has a C or C++ extension.
func IsCppFile(path string) bool {
	_, ok := KindForFile(path)
	return ok
}

// IsHeader reports whether path has a header extension.
func IsHeader(path string) bool {
	k, _ := KindForFile(path)
	return k == FileHeader
}
