package pipeline

import (
	"os"
	"path/filepath"
	"testing"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	return NewStore(t.TempDir())
}

func TestSaveAndGetRun(t *testing.T) {
	s := newTestStore(t)

	rec := &RunRecord{
		RunID:    "run-1",
		Topic:    "동구 체육관 건립",
		Author:   "홍길동",
		Keywords: []string{"동구 체육관", "생활체육"},
		Outcome: &Outcome{
			RunID:   "run-1",
			Success: true,
			Title:   "동구 체육관 건립으로 여는 생활체육 시대",
			Content: "본문",
			Metadata: OutcomeMetadata{
				Pipeline:            "default",
				QualityThresholdMet: true,
				RefinementAttempts:  1,
			},
		},
	}
	if err := s.SaveRun(rec); err != nil {
		t.Fatalf("SaveRun: %v", err)
	}
	if rec.CreatedAt == "" {
		t.Error("CreatedAt should be set on save")
	}

	got, err := s.Get("run-1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.Topic != rec.Topic {
		t.Errorf("Topic = %q, want %q", got.Topic, rec.Topic)
	}
	if got.Outcome == nil || !got.Outcome.Metadata.QualityThresholdMet {
		t.Errorf("Outcome not round-tripped: %+v", got.Outcome)
	}
	if got.Outcome.Metadata.RefinementAttempts != 1 {
		t.Errorf("RefinementAttempts = %d, want 1", got.Outcome.Metadata.RefinementAttempts)
	}
	if len(got.Keywords) != 2 {
		t.Errorf("Keywords = %v, want 2 entries", got.Keywords)
	}
}

func TestSaveRun_RejectsBadIDs(t *testing.T) {
	s := newTestStore(t)
	for _, id := range []string{"", "..", "a/b", `a\b`} {
		if err := s.SaveRun(&RunRecord{RunID: id}); err == nil {
			t.Errorf("SaveRun(%q) should fail", id)
		}
	}
	if err := s.SaveRun(nil); err == nil {
		t.Error("SaveRun(nil) should fail")
	}
}

func TestGetRun_NotFound(t *testing.T) {
	s := newTestStore(t)
	if _, err := s.Get("missing"); err == nil {
		t.Fatal("expected error for missing run")
	}
}

func TestListRuns_NewestFirst(t *testing.T) {
	s := newTestStore(t)
	for _, r := range []RunRecord{
		{RunID: "a", CreatedAt: "2026-01-01T00:00:00Z"},
		{RunID: "b", CreatedAt: "2026-03-01T00:00:00Z"},
		{RunID: "c", CreatedAt: "2026-02-01T00:00:00Z"},
	} {
		r := r
		if err := s.SaveRun(&r); err != nil {
			t.Fatalf("SaveRun(%s): %v", r.RunID, err)
		}
	}
	// A stray file and a broken directory are skipped.
	if err := os.WriteFile(filepath.Join(s.BaseDir(), "stray.txt"), []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.MkdirAll(filepath.Join(s.BaseDir(), "broken"), 0o755); err != nil {
		t.Fatal(err)
	}

	runs, err := s.List(0)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(runs) != 3 {
		t.Fatalf("List returned %d runs, want 3", len(runs))
	}
	want := []string{"b", "c", "a"}
	for i, id := range want {
		if runs[i].RunID != id {
			t.Errorf("runs[%d] = %s, want %s", i, runs[i].RunID, id)
		}
	}

	limited, err := s.List(2)
	if err != nil {
		t.Fatalf("List(2): %v", err)
	}
	if len(limited) != 2 {
		t.Errorf("List(2) returned %d runs", len(limited))
	}
}

func TestListRuns_MissingDir(t *testing.T) {
	s := NewStore(filepath.Join(t.TempDir(), "nope"))
	runs, err := s.List(0)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(runs) != 0 {
		t.Errorf("expected no runs, got %d", len(runs))
	}
}

func TestDeleteRun(t *testing.T) {
	s := newTestStore(t)
	if err := s.SaveRun(&RunRecord{RunID: "gone"}); err != nil {
		t.Fatal(err)
	}
	if err := s.Delete("gone"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, err := s.Get("gone"); err == nil {
		t.Error("run should be gone")
	}
	if err := s.Delete("gone"); err == nil {
		t.Error("second Delete should fail")
	}
}

func TestPromptRoundTrip(t *testing.T) {
	s := newTestStore(t)
	if err := s.SavePrompt("run-1", "writer", 1, "# prompt"); err != nil {
		t.Fatalf("SavePrompt: %v", err)
	}
	got, err := s.GetPrompt("run-1", "writer", 1)
	if err != nil {
		t.Fatalf("GetPrompt: %v", err)
	}
	if got != "# prompt" {
		t.Errorf("prompt = %q", got)
	}
	if _, err := s.GetPrompt("run-1", "writer", 2); err == nil {
		t.Error("expected error for missing prompt")
	}
}

func TestSummarize(t *testing.T) {
	entries := []Entry{
		{Slot: SlotKeywords, Result: AgentResult{Success: true, Metadata: ResultMetadata{Stage: "keyword_extractor", Skipped: true}}},
		{Slot: SlotWriter, Result: AgentResult{Success: false, Error: "boom", Metadata: ResultMetadata{Stage: "writer", DurationMs: 12}}},
	}
	got := Summarize(entries)
	if len(got) != 2 {
		t.Fatalf("got %d summaries", len(got))
	}
	if !got[0].Skipped || got[0].Stage != "keyword_extractor" {
		t.Errorf("first summary = %+v", got[0])
	}
	if got[1].Error != "boom" || got[1].DurationMs != 12 || got[1].Success {
		t.Errorf("second summary = %+v", got[1])
	}
}

func TestSaveRun_LeavesNoPartialFiles(t *testing.T) {
	s := newTestStore(t)
	for i := 0; i < 3; i++ {
		if err := s.SaveRun(&RunRecord{RunID: "run-atomic", Topic: "t", Outcome: &Outcome{RunID: "run-atomic"}}); err != nil {
			t.Fatalf("SaveRun: %v", err)
		}
	}

	entries, err := os.ReadDir(filepath.Join(s.BaseDir(), "run-atomic"))
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 1 || entries[0].Name() != "run.json" {
		var names []string
		for _, e := range entries {
			names = append(names, e.Name())
		}
		t.Errorf("run dir = %v, want only run.json", names)
	}
	info, err := os.Stat(filepath.Join(s.BaseDir(), "run-atomic", "run.json"))
	if err != nil {
		t.Fatal(err)
	}
	if perm := info.Mode().Perm(); perm&0o007 != 0 {
		t.Errorf("run.json perm = %v, want no world access", perm)
	}
}

func TestGetRun_RejectsUnknownFields(t *testing.T) {
	s := newTestStore(t)
	dir := filepath.Join(s.BaseDir(), "run-foreign")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatal(err)
	}
	body := `{"run_id":"run-foreign","topic":"t","outcome":null,"created_at":"","branch":"main"}`
	if err := os.WriteFile(filepath.Join(dir, "run.json"), []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}

	if _, err := s.Get("run-foreign"); err == nil {
		t.Fatal("expected decode error for unknown field")
	}
}
