// Package snapshot persists per-codebase indexing state to a single
// well-known file, migrating the legacy V1 shape forward on load. It is the
// one piece of truly global mutable state in the engine: every mutation goes
// through Manager's mutex and its save is atomic (temp file + rename).
package snapshot

import (
	"encoding/json"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/jamaly87/codebase-context-engine/internal/models"
)

const currentFormatVersion = "v2"

// DefaultPath is the well-known per-host snapshot location.
func DefaultPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".", ".context", "mcp-codebase-snapshot.json")
	}
	return filepath.Join(home, ".context", "mcp-codebase-snapshot.json")
}

// Manager owns the in-memory snapshot and its on-disk persistence. All
// reads and writes go through its mutex; Save is atomic.
type Manager struct {
	mu   sync.Mutex
	path string
	data models.Snapshot
}

// Load reads path, migrating a legacy V1 document if found, or starts from
// an empty V2 snapshot if the file is missing or unreadable. A corrupt file
// is treated as an empty snapshot (SnapshotCorrupt is internal, never
// surfaced) and overwritten on the next Save.
func Load(path string) (*Manager, error) {
	m := &Manager{
		path: path,
		data: models.Snapshot{FormatVersion: currentFormatVersion, Codebases: make(map[string]models.CodebaseInfo)},
	}

	raw, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return m, nil
	}
	if err != nil {
		log.Printf("snapshot: reading %s failed, starting empty: %v", path, err)
		return m, nil
	}

	var probe struct {
		FormatVersion string `json:"formatVersion"`
	}
	if err := json.Unmarshal(raw, &probe); err != nil {
		log.Printf("snapshot: %s is corrupt, starting empty: %v", path, err)
		return m, nil
	}

	if probe.FormatVersion == "" || probe.FormatVersion == "v1" {
		var legacy models.LegacySnapshotV1
		if err := json.Unmarshal(raw, &legacy); err != nil {
			log.Printf("snapshot: %s v1 body is corrupt, starting empty: %v", path, err)
			return m, nil
		}
		m.data = migrateV1(legacy)
		if err := m.saveLocked(); err != nil {
			log.Printf("snapshot: failed to persist migrated v2 snapshot: %v", err)
		}
		return m, nil
	}

	var v2 models.Snapshot
	if err := json.Unmarshal(raw, &v2); err != nil {
		log.Printf("snapshot: %s is corrupt, starting empty: %v", path, err)
		return m, nil
	}
	if v2.Codebases == nil {
		v2.Codebases = make(map[string]models.CodebaseInfo)
	}
	m.data = v2
	return m, nil
}

// migrateV1 converts the legacy shape to V2: indexedCodebases become
// Indexed entries with zeroed stats, indexingCodebases become Indexing
// entries with a percentage (0 for the array form). Codebases whose
// directory no longer exists on disk are dropped.
func migrateV1(legacy models.LegacySnapshotV1) models.Snapshot {
	now := time.Now()
	out := models.Snapshot{FormatVersion: currentFormatVersion, Codebases: make(map[string]models.CodebaseInfo), LastUpdated: now}

	for _, path := range legacy.IndexedCodebases {
		if !dirExists(path) {
			continue
		}
		out.Codebases[path] = models.CodebaseInfo{
			Status:       models.StatusIndexed,
			IndexOutcome: models.IndexOutcomeCompleted,
			LastUpdated:  now,
		}
	}

	switch v := legacy.IndexingCodebases.(type) {
	case []interface{}:
		for _, raw := range v {
			path, ok := raw.(string)
			if !ok || !dirExists(path) {
				continue
			}
			out.Codebases[path] = models.CodebaseInfo{Status: models.StatusIndexing, LastUpdated: now}
		}
	case map[string]interface{}:
		for path, raw := range v {
			if !dirExists(path) {
				continue
			}
			pct, _ := raw.(float64)
			out.Codebases[path] = models.CodebaseInfo{Status: models.StatusIndexing, IndexingPercentage: pct, LastUpdated: now}
		}
	}

	return out
}

func dirExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.IsDir()
}

// SetIndexing transitions path into the Indexing state, bumping its
// progress percentage.
func (m *Manager) SetIndexing(path string, percentage float64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data.Codebases[path] = models.CodebaseInfo{
		Status:             models.StatusIndexing,
		IndexingPercentage: percentage,
		LastUpdated:        time.Now(),
	}
	return m.saveLocked()
}

// IndexedStats is the terminal stat set recorded on a successful index.
type IndexedStats struct {
	IndexedFiles int
	TotalChunks  int
	Outcome      models.IndexOutcome
}

// SetIndexed transitions path into the Indexed state. Idempotent: calling
// it again simply overwrites the stats.
func (m *Manager) SetIndexed(path string, stats IndexedStats) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data.Codebases[path] = models.CodebaseInfo{
		Status:       models.StatusIndexed,
		IndexedFiles: stats.IndexedFiles,
		TotalChunks:  stats.TotalChunks,
		IndexOutcome: stats.Outcome,
		LastUpdated:  time.Now(),
	}
	return m.saveLocked()
}

// SetFailed transitions path into the IndexFailed state, preserving the
// last reported percentage for diagnostics.
func (m *Manager) SetFailed(path string, errMsg string, lastPercentage float64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data.Codebases[path] = models.CodebaseInfo{
		Status:                  models.StatusIndexFailed,
		ErrorMessage:            errMsg,
		LastAttemptedPercentage: lastPercentage,
		LastUpdated:             time.Now(),
	}
	return m.saveLocked()
}

// Remove deletes path's entry entirely, used by clear_index.
func (m *Manager) Remove(path string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.data.Codebases, path)
	return m.saveLocked()
}

// GetInfo is a pure read of path's current CodebaseInfo.
func (m *Manager) GetInfo(path string) (models.CodebaseInfo, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	info, ok := m.data.Codebases[path]
	return info, ok
}

// GetStatus is a pure read of path's status tag, "" if absent.
func (m *Manager) GetStatus(path string) models.CodebaseStatus {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.data.Codebases[path].Status
}

// ListIndexed returns every codebase currently in the Indexed state.
func (m *Manager) ListIndexed() []string {
	return m.listByStatus(models.StatusIndexed)
}

// ListIndexing returns every codebase currently in the Indexing state.
func (m *Manager) ListIndexing() []string {
	return m.listByStatus(models.StatusIndexing)
}

func (m *Manager) listByStatus(status models.CodebaseStatus) []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []string
	for path, info := range m.data.Codebases {
		if info.Status == status {
			out = append(out, path)
		}
	}
	return out
}

// Save persists the current in-memory snapshot atomically.
func (m *Manager) Save() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.saveLocked()
}

func (m *Manager) saveLocked() error {
	m.data.LastUpdated = time.Now()
	m.data.FormatVersion = currentFormatVersion

	if err := os.MkdirAll(filepath.Dir(m.path), 0755); err != nil {
		return fmt.Errorf("creating snapshot directory: %w", err)
	}
	out, err := json.MarshalIndent(m.data, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling snapshot: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(m.path), ".snapshot-*.tmp")
	if err != nil {
		return fmt.Errorf("creating temp snapshot file: %w", err)
	}
	tmpPath := tmp.Name()
	if _, err := tmp.Write(out); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("writing temp snapshot: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("closing temp snapshot: %w", err)
	}
	if err := os.Rename(tmpPath, m.path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("renaming temp snapshot into place: %w", err)
	}
	return nil
}
