package chunk

import (
	"context"
	"strings"
	"testing"
)

func TestRecursiveSplitSmallFileIsOneChunk(t *testing.T) {
	r := NewRecursiveSplitter()
	source := "package main\n\nfunc main() {}\n"

	chunks, err := r.Split(context.Background(), source, "go", "main.go", Options{ChunkSize: 200, ChunkOverlap: 20})
	if err != nil {
		t.Fatalf("Split: %v", err)
	}
	if len(chunks) != 1 {
		t.Fatalf("expected 1 chunk for a small file, got %d", len(chunks))
	}
	if chunks[0].StartLine != 1 {
		t.Errorf("expected StartLine=1, got %d", chunks[0].StartLine)
	}
}

func TestRecursiveSplitBreaksOversizedFile(t *testing.T) {
	r := NewRecursiveSplitter()

	var b strings.Builder
	for i := 0; i < 50; i++ {
		b.WriteString("func handlerNumber" + strings.Repeat("x", i%5) + "() {\n\tdoSomething()\n}\n\n")
	}

	chunks, err := r.Split(context.Background(), b.String(), "go", "handlers.go", Options{ChunkSize: 40, ChunkOverlap: 5})
	if err != nil {
		t.Fatalf("Split: %v", err)
	}
	if len(chunks) < 2 {
		t.Fatalf("expected an oversized file to be split into multiple chunks, got %d", len(chunks))
	}
	for _, c := range chunks {
		if strings.TrimSpace(c.Content) == "" {
			t.Error("found an empty chunk")
		}
	}
}

func TestRecursiveSplitPrefersLanguageBoundary(t *testing.T) {
	r := NewRecursiveSplitter()
	source := strings.Repeat("x = 1\n", 30) + "func boundary() {\n\treturn\n}\n" + strings.Repeat("y = 2\n", 30)

	chunks, err := r.Split(context.Background(), source, "go", "x.go", Options{ChunkSize: 30, ChunkOverlap: 0})
	if err != nil {
		t.Fatalf("Split: %v", err)
	}
	if len(chunks) < 2 {
		t.Fatalf("expected multiple chunks, got %d", len(chunks))
	}
	// At least one chunk boundary should land exactly on the func line rather
	// than mid-statement, proving the boundary lookahead fired.
	foundBoundaryAligned := false
	for _, c := range chunks {
		if strings.HasPrefix(strings.TrimSpace(c.Content), "func boundary") {
			foundBoundaryAligned = true
		}
	}
	if !foundBoundaryAligned {
		t.Error("expected a chunk to start exactly at the recognized function boundary")
	}
}

func TestRecursiveSplitBreaksOversizedSingleLine(t *testing.T) {
	r := NewRecursiveSplitter()
	// One enormous line with word boundaries, the minified-JS shape.
	source := strings.TrimSpace(strings.Repeat("callSomeHandlerFunction(argumentValue); ", 200))

	chunks, err := r.Split(context.Background(), source, "javascript", "app.min.js", Options{ChunkSize: 30, ChunkOverlap: 0})
	if err != nil {
		t.Fatalf("Split: %v", err)
	}
	if len(chunks) < 2 {
		t.Fatalf("expected an oversized single line to be split into multiple chunks, got %d", len(chunks))
	}
	for _, c := range chunks {
		if got := tokenLen(c.Content); got > 30 {
			t.Errorf("chunk exceeds the size budget: %d tokens", got)
		}
		if c.StartLine != 1 || c.EndLine != 1 {
			t.Errorf("expected every piece of a one-line file to report line 1, got %d-%d", c.StartLine, c.EndLine)
		}
	}
}

func TestRecursiveSplitBreaksOversizedLineWithoutSeparators(t *testing.T) {
	r := NewRecursiveSplitter()
	// No sentence or word boundaries at all: character-level fallback.
	source := strings.Repeat("x", 4000)

	chunks, err := r.Split(context.Background(), source, "", "blob.txt", Options{ChunkSize: 25, ChunkOverlap: 0})
	if err != nil {
		t.Fatalf("Split: %v", err)
	}
	if len(chunks) < 2 {
		t.Fatalf("expected a separator-free line to still be split, got %d chunks", len(chunks))
	}
	var total int
	for _, c := range chunks {
		if got := tokenLen(c.Content); got > 25 {
			t.Errorf("chunk exceeds the size budget: %d tokens", got)
		}
		total += len(c.Content)
	}
	if total != len(source) {
		t.Errorf("expected the pieces to cover the whole line, got %d of %d chars", total, len(source))
	}
}

func TestRecursiveSplitEmptySourceYieldsNoChunks(t *testing.T) {
	r := NewRecursiveSplitter()
	chunks, err := r.Split(context.Background(), "", "go", "empty.go", Options{})
	if err != nil {
		t.Fatalf("Split: %v", err)
	}
	if len(chunks) != 0 {
		t.Errorf("expected no chunks for empty content, got %d", len(chunks))
	}
}

func TestRecursiveSplitRespectsCancelledContext(t *testing.T) {
	r := NewRecursiveSplitter()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := r.Split(ctx, "package main\n", "go", "main.go", Options{})
	if err == nil {
		t.Error("expected Split to report a cancelled context")
	}
}
