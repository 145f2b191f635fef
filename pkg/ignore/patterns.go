// Package ignore merges built-in excludes, a codebase's own .gitignore, and
// caller-supplied custom patterns into a single gitignore-semantics matcher.
package ignore

import (
	"os"
	"path/filepath"
	"strings"

	gitignore "github.com/sabhiram/go-gitignore"
)

// defaultPatterns are denied unless a later, more specific pattern negates
// them. They cover build output, dependency trees, and VCS/IDE metadata.
var defaultPatterns = []string{
	"target/",
	"build/",
	"dist/",
	"out/",
	"node_modules/",
	".pnp/",
	"*.min.js",
	"*.bundle.js",
	".git/",
	".idea/",
	".vscode/",
	"*.iml",
	"*.pyc",
	"__pycache__/",
	"*.class",
	"*.o",
	"*.so",
	"*.dylib",
	"*.dll",
	"*.exe",
}

// Matcher decides whether a codebase-relative path should be skipped during
// indexing. Patterns are evaluated with standard gitignore precedence: later
// lines (including negations with a leading `!`) override earlier ones.
type Matcher struct {
	ignore *gitignore.GitIgnore
}

// New builds a Matcher from the built-in excludes plus customPatterns (e.g.
// CUSTOM_IGNORE_PATTERNS), with no repository .gitignore consulted.
func New(customPatterns []string) *Matcher {
	return compile(nil, customPatterns)
}

// NewForCodebase additionally folds in the .gitignore found at root, if any.
func NewForCodebase(root string, customPatterns []string) *Matcher {
	var repoLines []string
	if data, err := os.ReadFile(filepath.Join(root, ".gitignore")); err == nil {
		repoLines = strings.Split(string(data), "\n")
	}
	return compile(repoLines, customPatterns)
}

func compile(repoLines, customPatterns []string) *Matcher {
	lines := make([]string, 0, len(defaultPatterns)+len(repoLines)+len(customPatterns))
	lines = append(lines, defaultPatterns...)
	lines = append(lines, repoLines...)
	lines = append(lines, customPatterns...)
	return &Matcher{ignore: gitignore.CompileIgnoreLines(lines...)}
}

// ShouldIgnore reports whether relPath (codebase-relative, slash or native
// separators) is excluded.
func (m *Matcher) ShouldIgnore(relPath string) bool {
	return m.ignore.MatchesPath(filepath.ToSlash(relPath))
}
