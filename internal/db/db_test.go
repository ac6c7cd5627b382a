package db

import (
	"path/filepath"
	"testing"
)

func testDB(t *testing.T) *DB {
	t.Helper()
	d, err := Open(":memory:")
	if err != nil {
		t.Fatalf("open test db: %v", err)
	}
	if err := d.Migrate(); err != nil {
		t.Fatalf("migrate test db: %v", err)
	}
	t.Cleanup(func() { d.Close() })
	return d
}

func TestMigrate(t *testing.T) {
	d, err := Open(":memory:")
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer d.Close()

	if err := d.Migrate(); err != nil {
		t.Fatalf("migrate: %v", err)
	}

	for _, table := range []string{"schema_version", "runs", "stage_runs", "gate_runs"} {
		var name string
		err := d.conn.QueryRow("SELECT name FROM sqlite_master WHERE type='table' AND name=?", table).Scan(&name)
		if err != nil {
			t.Errorf("table %s not found: %v", table, err)
		}
	}

	var version int
	if err := d.conn.QueryRow("SELECT version FROM schema_version").Scan(&version); err != nil {
		t.Fatalf("query schema_version: %v", err)
	}
	if version != 1 {
		t.Errorf("expected schema version 1, got %d", version)
	}

	if err := d.Migrate(); err != nil {
		t.Fatalf("second migrate: %v", err)
	}
}

func TestOpen_File(t *testing.T) {
	path := filepath.Join(t.TempDir(), "factory.db")
	d, err := Open(path)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer d.Close()
	if d.Path() != path {
		t.Errorf("Path() = %q, want %q", d.Path(), path)
	}
	if err := d.Migrate(); err != nil {
		t.Fatalf("migrate: %v", err)
	}
}

func TestReset(t *testing.T) {
	d := testDB(t)

	if err := d.StartRun(Run{ID: "r1", Pipeline: "default", Topic: "체육관"}); err != nil {
		t.Fatalf("start run: %v", err)
	}
	if err := d.Reset(); err != nil {
		t.Fatalf("reset: %v", err)
	}

	runs, err := d.RecentRuns(0)
	if err != nil {
		t.Fatalf("recent runs: %v", err)
	}
	if len(runs) != 0 {
		t.Errorf("expected no runs after reset, got %d", len(runs))
	}
}

func TestRunLifecycle(t *testing.T) {
	d := testDB(t)

	if err := d.StartRun(Run{ID: "r1", Pipeline: "default", Topic: "체육관 건립", Region: "동구", CampaignStage: "pre_registration"}); err != nil {
		t.Fatalf("start run: %v", err)
	}

	r, err := d.GetRun("r1")
	if err != nil {
		t.Fatalf("get run: %v", err)
	}
	if r == nil {
		t.Fatal("run not found")
	}
	if r.Status != RunRunning {
		t.Errorf("status = %q, want running", r.Status)
	}
	if r.FinishedAt != "" {
		t.Errorf("finished_at = %q, want empty", r.FinishedAt)
	}

	err = d.FinishRun(Run{ID: "r1", Status: RunSucceeded, QualityMet: true, RefinementAttempts: 2, ComplianceRisk: "LOW", WordCount: 1812, DurationMs: 4200, Keywords: []string{"동구 체육관", "생활체육"}})
	if err != nil {
		t.Fatalf("finish run: %v", err)
	}

	r, err = d.GetRun("r1")
	if err != nil {
		t.Fatalf("get run: %v", err)
	}
	if r.Status != RunSucceeded || !r.QualityMet || r.RefinementAttempts != 2 {
		t.Errorf("unexpected run after finish: %+v", r)
	}
	if r.ComplianceRisk != "LOW" || r.WordCount != 1812 || r.DurationMs != 4200 {
		t.Errorf("unexpected run after finish: %+v", r)
	}
	if r.Region != "동구" {
		t.Errorf("region = %q", r.Region)
	}
	if len(r.Keywords) != 2 || r.Keywords[1] != "생활체육" {
		t.Errorf("keywords = %q", r.Keywords)
	}
	if r.FinishedAt == "" {
		t.Error("finished_at not set")
	}
}

func TestFinishRun_Unknown(t *testing.T) {
	d := testDB(t)
	if err := d.FinishRun(Run{ID: "missing"}); err == nil {
		t.Fatal("expected error for unknown run")
	}
}

func TestGetRun_NotFound(t *testing.T) {
	d := testDB(t)
	r, err := d.GetRun("nope")
	if err != nil {
		t.Fatalf("get run: %v", err)
	}
	if r != nil {
		t.Errorf("expected nil, got %+v", r)
	}
}

func TestRecentRuns_Limit(t *testing.T) {
	d := testDB(t)
	for _, id := range []string{"a", "b", "c"} {
		if err := d.StartRun(Run{ID: id, Pipeline: "default", Topic: "t"}); err != nil {
			t.Fatalf("start run: %v", err)
		}
	}

	runs, err := d.RecentRuns(2)
	if err != nil {
		t.Fatalf("recent runs: %v", err)
	}
	if len(runs) != 2 {
		t.Fatalf("expected 2 runs, got %d", len(runs))
	}
	// same started_at second; rowid breaks the tie
	if runs[0].ID != "c" || runs[1].ID != "b" {
		t.Errorf("order = %s,%s; want c,b", runs[0].ID, runs[1].ID)
	}
}

func TestStageRuns(t *testing.T) {
	d := testDB(t)
	if err := d.StartRun(Run{ID: "r1", Pipeline: "default", Topic: "t"}); err != nil {
		t.Fatalf("start run: %v", err)
	}
	rows := []StageRun{
		{RunID: "r1", Slot: "keywords", Stage: "keyword_extractor", Success: true, Skipped: true},
		{RunID: "r1", Slot: "writer", Stage: "writer", Success: true, DurationMs: 3100},
		{RunID: "r1", Slot: "title", Stage: "title_writer", Success: false, Error: "model returned no candidates"},
	}
	for _, s := range rows {
		if err := d.LogStage(s); err != nil {
			t.Fatalf("log stage: %v", err)
		}
	}

	got, err := d.StageRuns("r1")
	if err != nil {
		t.Fatalf("stage runs: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("expected 3 stage runs, got %d", len(got))
	}
	if got[0].Slot != "keywords" || !got[0].Skipped {
		t.Errorf("first row = %+v", got[0])
	}
	if got[1].DurationMs != 3100 {
		t.Errorf("writer duration = %d", got[1].DurationMs)
	}
	if got[2].Success || got[2].Error == "" {
		t.Errorf("title row = %+v", got[2])
	}
}

func TestLogStage_UnknownRun(t *testing.T) {
	d := testDB(t)
	err := d.LogStage(StageRun{RunID: "ghost", Slot: "writer", Stage: "writer", Success: true})
	if err == nil {
		t.Fatal("expected foreign key violation")
	}
}

func TestGateRuns(t *testing.T) {
	d := testDB(t)
	if err := d.StartRun(Run{ID: "r1", Pipeline: "default", Topic: "t"}); err != nil {
		t.Fatalf("start run: %v", err)
	}
	if err := d.LogGate(GateRun{RunID: "r1", Gate: "compliance", Phase: PhaseStage, Passed: false, Risk: "HIGH", IssueIDs: []string{"bribery", "cliche_1"}}); err != nil {
		t.Fatalf("log gate: %v", err)
	}
	if err := d.LogGate(GateRun{RunID: "r1", Gate: "compliance", Phase: PhaseRefine, FixRound: 1, Passed: true, Risk: "LOW"}); err != nil {
		t.Fatalf("log gate: %v", err)
	}

	got, err := d.GateRuns("r1")
	if err != nil {
		t.Fatalf("gate runs: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 gate runs, got %d", len(got))
	}
	if got[0].IssueCount != 2 || len(got[0].IssueIDs) != 2 || got[0].IssueIDs[0] != "bribery" {
		t.Errorf("first gate run = %+v", got[0])
	}
	if got[1].FixRound != 1 || !got[1].Passed || got[1].IssueIDs != nil {
		t.Errorf("second gate run = %+v", got[1])
	}
}

func TestLogGate_RejectsUnknownGate(t *testing.T) {
	d := testDB(t)
	if err := d.StartRun(Run{ID: "r1", Pipeline: "default", Topic: "t"}); err != nil {
		t.Fatalf("start run: %v", err)
	}
	if err := d.LogGate(GateRun{RunID: "r1", Gate: "lint", Phase: PhaseStage}); err == nil {
		t.Fatal("expected check constraint error")
	}
}
