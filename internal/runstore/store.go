// Package runstore persists runs on disk. Each run owns a directory
// under the store root:
//
//	<root>/<run-id>/
//	    spec.json             immutable run spec
//	    meta.json             mutable run summary
//	    events.jsonl          append-only event log
//	    <flow-key>/
//	        llm/<step>-<agent>-<engine>.jsonl
//	        receipts/<step>-<agent>.json
//	        handoff/<step>.draft.json
//
// Summary updates are read-modify-write under a per-run lock so the
// API layer's polling and the background executor never lose updates.
// A run directory is written only by its own run task; the store does
// not lock the filesystem across processes.
package runstore

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/haasonsaas/flowline/pkg/models"
)

// ErrRunNotFound means no run directory exists for the id.
var ErrRunNotFound = errors.New("run not found")

// SDLCLegacy marks listed runs whose summary is missing or malformed.
const SDLCLegacy = "legacy"

// Store is a file-backed run store.
type Store struct {
	root   string
	logger *slog.Logger

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// NewStore creates a store rooted at the given directory, creating it
// if needed.
func NewStore(root string, logger *slog.Logger) (*Store, error) {
	if root == "" {
		return nil, errors.New("run store root is required")
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("creating run store root: %w", err)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{root: root, logger: logger, locks: make(map[string]*sync.Mutex)}, nil
}

// Root returns the store's root directory.
func (s *Store) Root() string { return s.root }

// runLock returns the per-run mutex, creating it on first use.
func (s *Store) runLock(runID string) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	lock, ok := s.locks[runID]
	if !ok {
		lock = &sync.Mutex{}
		s.locks[runID] = lock
	}
	return lock
}

func (s *Store) runDir(runID string) string {
	return filepath.Join(s.root, runID)
}

// writeJSON writes v atomically: temp file in the target directory,
// then rename.
func writeJSON(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), ".tmp-*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return err
	}
	return os.Rename(tmpName, path)
}

func readJSON(path string, v any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	return json.Unmarshal(data, v)
}

// CreateRun allocates a run id, creates the run directory, and writes
// the immutable spec and the initial summary.
func (s *Store) CreateRun(spec models.RunSpec) (*models.RunSummary, error) {
	id := uuid.NewString()
	dir := s.runDir(id)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("creating run dir: %w", err)
	}

	now := time.Now().UTC()
	summary := &models.RunSummary{
		ID:        id,
		Spec:      spec,
		Status:    models.RunStatusPending,
		CreatedAt: now,
		UpdatedAt: now,
		Path:      dir,
	}

	if err := writeJSON(filepath.Join(dir, "spec.json"), spec); err != nil {
		return nil, fmt.Errorf("writing spec: %w", err)
	}
	if err := writeJSON(filepath.Join(dir, "meta.json"), summary); err != nil {
		return nil, fmt.Errorf("writing summary: %w", err)
	}
	return summary, nil
}

// ReadSpec returns the run's immutable spec.
func (s *Store) ReadSpec(runID string) (*models.RunSpec, error) {
	var spec models.RunSpec
	if err := readJSON(filepath.Join(s.runDir(runID), "spec.json"), &spec); err != nil {
		if os.IsNotExist(err) {
			return nil, ErrRunNotFound
		}
		return nil, err
	}
	return &spec, nil
}

// GetSummary returns the run's current summary.
func (s *Store) GetSummary(runID string) (*models.RunSummary, error) {
	lock := s.runLock(runID)
	lock.Lock()
	defer lock.Unlock()

	var summary models.RunSummary
	if err := readJSON(filepath.Join(s.runDir(runID), "meta.json"), &summary); err != nil {
		if os.IsNotExist(err) {
			return nil, ErrRunNotFound
		}
		return nil, err
	}
	return &summary, nil
}

// UpdateSummary applies mutate under the run's lock: read, modify,
// write. UpdatedAt is bumped automatically.
func (s *Store) UpdateSummary(runID string, mutate func(*models.RunSummary)) (*models.RunSummary, error) {
	lock := s.runLock(runID)
	lock.Lock()
	defer lock.Unlock()

	path := filepath.Join(s.runDir(runID), "meta.json")
	var summary models.RunSummary
	if err := readJSON(path, &summary); err != nil {
		if os.IsNotExist(err) {
			return nil, ErrRunNotFound
		}
		return nil, err
	}
	mutate(&summary)
	summary.UpdatedAt = time.Now().UTC()
	if err := writeJSON(path, &summary); err != nil {
		return nil, fmt.Errorf("writing summary: %w", err)
	}
	return &summary, nil
}

// ListRuns returns summaries for every run directory, newest first.
// A directory with a missing or malformed summary is classified as
// legacy rather than failing the listing.
func (s *Store) ListRuns() ([]*models.RunSummary, error) {
	entries, err := os.ReadDir(s.root)
	if err != nil {
		return nil, err
	}
	var out []*models.RunSummary
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		var summary models.RunSummary
		if err := readJSON(filepath.Join(s.root, entry.Name(), "meta.json"), &summary); err != nil {
			s.logger.Warn("run has no readable summary, listing as legacy",
				"run_id", entry.Name(), "error", err)
			out = append(out, &models.RunSummary{
				ID:         entry.Name(),
				SDLCStatus: SDLCLegacy,
				Path:       filepath.Join(s.root, entry.Name()),
			})
			continue
		}
		out = append(out, &summary)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out, nil
}
