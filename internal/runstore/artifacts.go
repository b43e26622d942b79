package runstore

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/haasonsaas/flowline/pkg/models"
)

// The store implements the engine layer's ArtifactSink: transcripts,
// receipts, and handoff drafts land under the run's per-flow
// directory.

func (s *Store) flowDir(runID, flowKey string) (string, error) {
	dir := filepath.Join(s.runDir(runID), flowKey)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", err
	}
	return dir, nil
}

// WriteTranscript writes llm/<step>-<agent>-<engine>.jsonl, one JSON
// object per line.
func (s *Store) WriteTranscript(runID, flowKey, stepID, agentKey, engine string, entries []models.TranscriptEntry) error {
	dir, err := s.flowDir(runID, flowKey)
	if err != nil {
		return err
	}
	llmDir := filepath.Join(dir, "llm")
	if err := os.MkdirAll(llmDir, 0o755); err != nil {
		return err
	}

	path := filepath.Join(llmDir, fmt.Sprintf("%s-%s-%s.jsonl", stepID, agentKey, engine))
	tmp, err := os.CreateTemp(llmDir, ".tmp-*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	for _, entry := range entries {
		line, err := json.Marshal(entry)
		if err != nil {
			tmp.Close()
			os.Remove(tmpName)
			return err
		}
		if _, err := tmp.Write(append(line, '\n')); err != nil {
			tmp.Close()
			os.Remove(tmpName)
			return err
		}
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return err
	}
	return os.Rename(tmpName, path)
}

// WriteReceipt writes receipts/<step>-<agent>.json.
func (s *Store) WriteReceipt(runID, flowKey string, receipt *models.Receipt) error {
	dir, err := s.flowDir(runID, flowKey)
	if err != nil {
		return err
	}
	receiptsDir := filepath.Join(dir, "receipts")
	if err := os.MkdirAll(receiptsDir, 0o755); err != nil {
		return err
	}
	name := fmt.Sprintf("%s-%s.json", receipt.StepID, receipt.AgentKey)
	return writeJSON(filepath.Join(receiptsDir, name), receipt)
}

// ReadReceipt reads receipts/<step>-<agent>.json.
func (s *Store) ReadReceipt(runID, flowKey, stepID, agentKey string) (*models.Receipt, error) {
	path := filepath.Join(s.runDir(runID), flowKey, "receipts", fmt.Sprintf("%s-%s.json", stepID, agentKey))
	var receipt models.Receipt
	if err := readJSON(path, &receipt); err != nil {
		return nil, err
	}
	return &receipt, nil
}

// WriteHandoffDraft writes handoff/<step>.draft.json.
func (s *Store) WriteHandoffDraft(runID, flowKey, stepID string, env *models.HandoffEnvelope) error {
	dir, err := s.flowDir(runID, flowKey)
	if err != nil {
		return err
	}
	handoffDir := filepath.Join(dir, "handoff")
	if err := os.MkdirAll(handoffDir, 0o755); err != nil {
		return err
	}
	return writeJSON(filepath.Join(handoffDir, stepID+".draft.json"), env)
}

// ReadHandoffDraft reads handoff/<step>.draft.json, returning nil when
// no draft exists.
func (s *Store) ReadHandoffDraft(runID, flowKey, stepID string) (*models.HandoffEnvelope, error) {
	path := filepath.Join(s.runDir(runID), flowKey, "handoff", stepID+".draft.json")
	var env models.HandoffEnvelope
	if err := readJSON(path, &env); err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	return &env, nil
}
