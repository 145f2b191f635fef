package snapshot

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/jamaly87/codebase-context-engine/internal/models"
)

func TestLoadMissingFileStartsEmpty(t *testing.T) {
	path := filepath.Join(t.TempDir(), "snapshot.json")
	m, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(m.ListIndexed()) != 0 || len(m.ListIndexing()) != 0 {
		t.Error("expected an empty snapshot for a missing file")
	}
}

func TestIndexingLifecycle(t *testing.T) {
	path := filepath.Join(t.TempDir(), "snapshot.json")
	m, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	repo := "/repos/widget"
	if err := m.SetIndexing(repo, 42); err != nil {
		t.Fatalf("SetIndexing: %v", err)
	}
	if got := m.GetStatus(repo); got != models.StatusIndexing {
		t.Errorf("expected indexing status, got %q", got)
	}

	if err := m.SetIndexed(repo, IndexedStats{IndexedFiles: 10, TotalChunks: 50, Outcome: models.IndexOutcomeCompleted}); err != nil {
		t.Fatalf("SetIndexed: %v", err)
	}
	info, ok := m.GetInfo(repo)
	if !ok {
		t.Fatal("expected info to exist after SetIndexed")
	}
	if info.Status != models.StatusIndexed || info.IndexedFiles != 10 || info.TotalChunks != 50 {
		t.Errorf("unexpected info after SetIndexed: %+v", info)
	}

	indexed := m.ListIndexed()
	if len(indexed) != 1 || indexed[0] != repo {
		t.Errorf("expected ListIndexed=[%s], got %v", repo, indexed)
	}

	if err := m.Remove(repo); err != nil {
		t.Fatalf("Remove: %v", err)
	}
	if _, ok := m.GetInfo(repo); ok {
		t.Error("expected info to be gone after Remove")
	}
}

func TestSetFailedPreservesLastPercentage(t *testing.T) {
	path := filepath.Join(t.TempDir(), "snapshot.json")
	m, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	repo := "/repos/widget"
	if err := m.SetFailed(repo, "embedding provider unreachable", 63.5); err != nil {
		t.Fatalf("SetFailed: %v", err)
	}
	info, ok := m.GetInfo(repo)
	if !ok {
		t.Fatal("expected info after SetFailed")
	}
	if info.Status != models.StatusIndexFailed || info.LastAttemptedPercentage != 63.5 {
		t.Errorf("unexpected info after SetFailed: %+v", info)
	}
}

func TestSaveIsAtomicAndReloadable(t *testing.T) {
	path := filepath.Join(t.TempDir(), "snapshot.json")
	m, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if err := m.SetIndexed("/repos/a", IndexedStats{IndexedFiles: 3, TotalChunks: 9, Outcome: models.IndexOutcomeCompleted}); err != nil {
		t.Fatalf("SetIndexed: %v", err)
	}

	entries, err := os.ReadDir(filepath.Dir(path))
	if err != nil {
		t.Fatalf("ReadDir: %v", err)
	}
	for _, e := range entries {
		if filepath.Ext(e.Name()) == ".tmp" {
			t.Errorf("leftover temp file after save: %s", e.Name())
		}
	}

	reloaded, err := Load(path)
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	if len(reloaded.ListIndexed()) != 1 {
		t.Errorf("expected 1 indexed codebase after reload, got %d", len(reloaded.ListIndexed()))
	}
}

func TestCorruptFileStartsEmptyInsteadOfErroring(t *testing.T) {
	path := filepath.Join(t.TempDir(), "snapshot.json")
	if err := os.WriteFile(path, []byte("{not valid json"), 0644); err != nil {
		t.Fatalf("write corrupt file: %v", err)
	}
	m, err := Load(path)
	if err != nil {
		t.Fatalf("Load should tolerate a corrupt file, got err: %v", err)
	}
	if len(m.ListIndexed()) != 0 {
		t.Error("expected an empty snapshot recovered from a corrupt file")
	}
}

func TestMigratesV1ArrayForm(t *testing.T) {
	dir := t.TempDir()
	repoDir := filepath.Join(dir, "repo")
	if err := os.MkdirAll(repoDir, 0755); err != nil {
		t.Fatalf("mkdir repo: %v", err)
	}

	legacy := map[string]interface{}{
		"formatVersion":     "v1",
		"indexedCodebases":  []string{repoDir},
		"indexingCodebases": []string{},
	}
	raw, err := json.Marshal(legacy)
	if err != nil {
		t.Fatalf("marshal legacy: %v", err)
	}
	path := filepath.Join(dir, "snapshot.json")
	if err := os.WriteFile(path, raw, 0644); err != nil {
		t.Fatalf("write legacy snapshot: %v", err)
	}

	m, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	info, ok := m.GetInfo(repoDir)
	if !ok {
		t.Fatal("expected migrated v1 entry to survive as indexed")
	}
	if info.Status != models.StatusIndexed {
		t.Errorf("expected migrated entry to be indexed, got %q", info.Status)
	}
}

func TestMigrationDropsNonExistentDirectories(t *testing.T) {
	dir := t.TempDir()
	legacy := map[string]interface{}{
		"formatVersion":    "v1",
		"indexedCodebases": []string{filepath.Join(dir, "ghost-repo")},
	}
	raw, _ := json.Marshal(legacy)
	path := filepath.Join(dir, "snapshot.json")
	if err := os.WriteFile(path, raw, 0644); err != nil {
		t.Fatalf("write: %v", err)
	}

	m, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(m.ListIndexed()) != 0 {
		t.Errorf("expected a codebase whose directory no longer exists to be dropped on migration, got %v", m.ListIndexed())
	}
}
