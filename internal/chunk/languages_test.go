package chunk

import "testing"

func TestDetectLanguageByExtension(t *testing.T) {
	cases := map[string]string{
		"main.go":        "go",
		"app.py":         "python",
		"Main.java":      "java",
		"index.ts":       "typescript",
		"component.tsx":  "typescript",
		"script.js":      "javascript",
		"module.mjs":     "javascript",
		"README.md":      "",
		"Makefile":       "",
	}
	for path, want := range cases {
		if got := DetectLanguage(path); got != want {
			t.Errorf("DetectLanguage(%q) = %q, want %q", path, got, want)
		}
	}
}

func TestDetectLanguageIsCaseInsensitive(t *testing.T) {
	if got := DetectLanguage("Main.GO"); got != "go" {
		t.Errorf("expected case-insensitive extension match, got %q", got)
	}
}

func TestHasASTSupportMatchesRegisteredGrammars(t *testing.T) {
	for _, lang := range []string{"go", "python", "java", "typescript", "javascript"} {
		if !HasASTSupport(lang) {
			t.Errorf("expected AST support for %q", lang)
		}
	}
	if HasASTSupport("cobol") {
		t.Error("expected no AST support for an unregistered language")
	}
}
