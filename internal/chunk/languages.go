package chunk

import (
	"path/filepath"
	"strings"
)

type languageInfo struct {
	name       string
	extensions []string
}

var supportedLanguages = []languageInfo{
	{name: "go", extensions: []string{".go"}},
	{name: "python", extensions: []string{".py"}},
	{name: "java", extensions: []string{".java"}},
	{name: "typescript", extensions: []string{".ts", ".tsx"}},
	{name: "javascript", extensions: []string{".js", ".jsx", ".mjs", ".cjs"}},
}

var extToLanguage map[string]string

func init() {
	extToLanguage = make(map[string]string)
	for _, lang := range supportedLanguages {
		for _, ext := range lang.extensions {
			extToLanguage[ext] = lang.name
		}
	}
}

// DetectLanguage returns the language tag for filePath's extension, or ""
// if the extension is not one the splitters recognize.
func DetectLanguage(filePath string) string {
	ext := strings.ToLower(filepath.Ext(filePath))
	return extToLanguage[ext]
}

// HasASTSupport reports whether the AST splitter carries a grammar for language.
func HasASTSupport(language string) bool {
	_, ok := nodeKindByLanguage[language]
	return ok
}

// SupportedLanguages returns the language tags the AST splitter carries a
// grammar for, in table order. Callers that need a human-readable banner
// (startup logs, status output) should build it from this rather than
// hardcoding a language list that drifts as grammars are added.
func SupportedLanguages() []string {
	names := make([]string, len(supportedLanguages))
	for i, lang := range supportedLanguages {
		names[i] = lang.name
	}
	return names
}
