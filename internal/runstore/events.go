package runstore

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/haasonsaas/flowline/pkg/models"
)

// AppendEvent appends one event to the run's events.jsonl. Events for
// a single run are committed strictly in call order; the per-run lock
// serializes concurrent appenders and the file is opened append-only
// so prior entries are never reordered.
func (s *Store) AppendEvent(ev models.RunEvent) error {
	if ev.RunID == "" {
		return fmt.Errorf("event missing run_id")
	}
	if ev.TS.IsZero() {
		ev.TS = time.Now().UTC()
	}
	ev.TS = ev.TS.UTC()

	lock := s.runLock(ev.RunID)
	lock.Lock()
	defer lock.Unlock()

	line, err := json.Marshal(ev)
	if err != nil {
		return err
	}

	path := filepath.Join(s.runDir(ev.RunID), "events.jsonl")
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("opening event log: %w", err)
	}
	defer f.Close()
	if _, err := f.Write(append(line, '\n')); err != nil {
		return fmt.Errorf("appending event: %w", err)
	}
	return nil
}

// ReadEvents returns the run's events in write order. Malformed lines
// are skipped with a warning; the log itself is never rewritten.
func (s *Store) ReadEvents(runID string) ([]models.RunEvent, error) {
	path := filepath.Join(s.runDir(runID), "events.jsonl")
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	defer f.Close()

	var out []models.RunEvent
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var ev models.RunEvent
		if err := json.Unmarshal(line, &ev); err != nil {
			s.logger.Warn("skipping malformed event line", "run_id", runID, "error", err)
			continue
		}
		out = append(out, ev)
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return out, nil
}
