package pipeline

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"
)

// RunRecord is the persisted summary of a finished run.
type RunRecord struct {
	RunID     string         `json:"run_id"`
	Topic     string         `json:"topic"`
	Author    string         `json:"author,omitempty"`
	Keywords  []string       `json:"keywords,omitempty"`
	Outcome   *Outcome       `json:"outcome"`
	CreatedAt string         `json:"created_at"`
	Stages    []StageSummary `json:"stages,omitempty"`
}

// StageSummary is the persisted form of one recorded stage result.
type StageSummary struct {
	Slot       string `json:"slot"`
	Stage      string `json:"stage"`
	Success    bool   `json:"success"`
	Skipped    bool   `json:"skipped,omitempty"`
	DurationMs int64  `json:"duration_ms"`
	Error      string `json:"error,omitempty"`
}

// Summarize converts recorded entries into their persisted form.
func Summarize(entries []Entry) []StageSummary {
	out := make([]StageSummary, 0, len(entries))
	for _, e := range entries {
		out = append(out, StageSummary{
			Slot:       e.Slot,
			Stage:      e.Result.Metadata.Stage,
			Success:    e.Result.Success,
			Skipped:    e.Result.Metadata.Skipped,
			DurationMs: e.Result.Metadata.DurationMs,
			Error:      e.Result.Error,
		})
	}
	return out
}

// Store keeps artifacts of finished runs on disk. It is an audit trail only;
// runs are never resumed from it.
type Store struct {
	baseDir string // defaults to ~/.factory/runs
}

// NewStore creates a Store rooted at baseDir.
func NewStore(baseDir string) *Store {
	return &Store{baseDir: baseDir}
}

// DefaultStore returns a Store at ~/.factory/runs, creating the directory if needed.
func DefaultStore() (*Store, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return nil, fmt.Errorf("get home dir: %w", err)
	}
	return OpenStore(filepath.Join(home, ".factory", "runs"))
}

// OpenStore returns a Store at dir, creating the directory if needed.
func OpenStore(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, dirPerm); err != nil {
		return nil, fmt.Errorf("mkdir %s: %w", dir, err)
	}
	return &Store{baseDir: dir}, nil
}

// BaseDir returns the store's root directory.
func (s *Store) BaseDir() string {
	return s.baseDir
}

// runDir returns the directory path for a given run.
func (s *Store) runDir(runID string) string {
	return filepath.Join(s.baseDir, runID)
}

// outcomePath returns the path to the run.json file for a run.
func (s *Store) outcomePath(runID string) string {
	return filepath.Join(s.runDir(runID), "run.json")
}

// SaveRun writes the run record. Saving the same run twice overwrites it.
func (s *Store) SaveRun(rec *RunRecord) error {
	if rec == nil || rec.RunID == "" {
		return fmt.Errorf("run record requires a run id")
	}
	if strings.ContainsAny(rec.RunID, `/\`) || rec.RunID == "." || rec.RunID == ".." {
		return fmt.Errorf("invalid run id %q", rec.RunID)
	}
	if rec.CreatedAt == "" {
		rec.CreatedAt = time.Now().UTC().Format(time.RFC3339)
	}
	if err := writeRecord(s.outcomePath(rec.RunID), rec); err != nil {
		return fmt.Errorf("write run.json: %w", err)
	}
	return nil
}

// Get reads the run record for a run.
func (s *Store) Get(runID string) (*RunRecord, error) {
	rec, err := readRecord(s.outcomePath(runID))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("run %s not found", runID)
		}
		return nil, err
	}
	return rec, nil
}

// List returns all stored runs, newest first. Pass limit <= 0 for all.
func (s *Store) List(limit int) ([]RunRecord, error) {
	entries, err := os.ReadDir(s.baseDir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read dir %s: %w", s.baseDir, err)
	}

	var runs []RunRecord
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		rec, err := s.Get(entry.Name())
		if err != nil {
			continue // skip broken entries
		}
		runs = append(runs, *rec)
	}

	sort.Slice(runs, func(i, j int) bool {
		if runs[i].CreatedAt != runs[j].CreatedAt {
			return runs[i].CreatedAt > runs[j].CreatedAt
		}
		return runs[i].RunID < runs[j].RunID
	})
	if limit > 0 && len(runs) > limit {
		runs = runs[:limit]
	}
	return runs, nil
}

// Delete removes all data for a run.
func (s *Store) Delete(runID string) error {
	dir := s.runDir(runID)
	if _, err := os.Stat(dir); os.IsNotExist(err) {
		return fmt.Errorf("run %s not found", runID)
	}
	return os.RemoveAll(dir)
}

// SavePrompt writes the rendered prompt sent by a stage.
func (s *Store) SavePrompt(runID string, stage string, attempt int, prompt string) error {
	path := filepath.Join(s.runDir(runID), "prompts", fmt.Sprintf("%s-%d.md", stage, attempt))
	return writeFileAtomic(path, []byte(prompt))
}

// GetPrompt reads a saved prompt.
func (s *Store) GetPrompt(runID string, stage string, attempt int) (string, error) {
	path := filepath.Join(s.runDir(runID), "prompts", fmt.Sprintf("%s-%d.md", stage, attempt))
	data, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	return string(data), nil
}
