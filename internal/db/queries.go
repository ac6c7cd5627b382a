package db

import (
	"database/sql"
	"fmt"
	"strings"
)

// Run statuses.
const (
	RunRunning   = "running"
	RunSucceeded = "succeeded"
	RunFailed    = "failed"
)

// Gate run phases: the first validation of a stage, a refinement
// re-validation, or the post-pipeline reconciliation pass.
const (
	PhaseStage     = "stage"
	PhaseRefine    = "refine"
	PhaseReconcile = "reconcile"
)

// Run represents a row in the runs table.
type Run struct {
	ID                 string
	Pipeline           string
	Topic              string
	Region             string
	CampaignStage      string
	Status             string
	QualityMet         bool
	RefinementAttempts int
	ComplianceRisk     string
	WordCount          int
	DurationMs         int64
	Error              string
	Keywords           []string
	StartedAt          string
	FinishedAt         string
}

// StageRun represents a row in the stage_runs table.
type StageRun struct {
	ID         int
	RunID      string
	Slot       string
	Stage      string
	Success    bool
	Skipped    bool
	DurationMs int64
	Error      string
	Timestamp  string
}

// GateRun represents a row in the gate_runs table.
type GateRun struct {
	ID         int
	RunID      string
	Gate       string
	Phase      string
	FixRound   int
	Passed     bool
	Risk       string
	IssueCount int
	IssueIDs   []string
	Timestamp  string
}

// StartRun inserts a run in the running state.
func (d *DB) StartRun(r Run) error {
	_, err := d.conn.Exec(
		`INSERT INTO runs (id, pipeline, topic, region, campaign_stage, status) VALUES (?, ?, ?, ?, ?, ?)`,
		r.ID, r.Pipeline, r.Topic, r.Region, r.CampaignStage, RunRunning,
	)
	if err != nil {
		return fmt.Errorf("start run: %w", err)
	}
	return nil
}

// FinishRun records the terminal state of a run, including the keywords it
// ended up using.
func (d *DB) FinishRun(r Run) error {
	status := r.Status
	if status == "" {
		status = RunSucceeded
	}
	res, err := d.conn.Exec(
		`UPDATE runs SET status = ?, quality_met = ?, refinement_attempts = ?, compliance_risk = ?,
		 word_count = ?, duration_ms = ?, error = ?, keywords = ?, finished_at = datetime('now')
		 WHERE id = ?`,
		status, r.QualityMet, r.RefinementAttempts, r.ComplianceRisk, r.WordCount, r.DurationMs, r.Error,
		strings.Join(r.Keywords, ","), r.ID,
	)
	if err != nil {
		return fmt.Errorf("finish run: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("finish run: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("finish run: run %q not found", r.ID)
	}
	return nil
}

// LogStage inserts a stage result.
func (d *DB) LogStage(s StageRun) error {
	_, err := d.conn.Exec(
		`INSERT INTO stage_runs (run_id, slot, stage, success, skipped, duration_ms, error) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		s.RunID, s.Slot, s.Stage, s.Success, s.Skipped, s.DurationMs, s.Error,
	)
	if err != nil {
		return fmt.Errorf("log stage: %w", err)
	}
	return nil
}

// LogGate inserts one validator verdict.
func (d *DB) LogGate(g GateRun) error {
	count := g.IssueCount
	if count == 0 {
		count = len(g.IssueIDs)
	}
	_, err := d.conn.Exec(
		`INSERT INTO gate_runs (run_id, gate, phase, fix_round, passed, risk, issue_count, issue_ids) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		g.RunID, g.Gate, g.Phase, g.FixRound, g.Passed, g.Risk, count, strings.Join(g.IssueIDs, ","),
	)
	if err != nil {
		return fmt.Errorf("log gate: %w", err)
	}
	return nil
}

const runColumns = `id, pipeline, topic, region, campaign_stage, status, quality_met, refinement_attempts,
	compliance_risk, word_count, duration_ms, error, keywords, started_at, finished_at`

func scanRun(row interface{ Scan(...any) error }) (Run, error) {
	var r Run
	var region, campaignStage, risk, errMsg, keywords, finished sql.NullString
	err := row.Scan(&r.ID, &r.Pipeline, &r.Topic, &region, &campaignStage, &r.Status, &r.QualityMet,
		&r.RefinementAttempts, &risk, &r.WordCount, &r.DurationMs, &errMsg, &keywords, &r.StartedAt, &finished)
	if err != nil {
		return Run{}, err
	}
	r.Region = region.String
	r.CampaignStage = campaignStage.String
	r.ComplianceRisk = risk.String
	r.Error = errMsg.String
	r.Keywords = splitList(keywords.String)
	r.FinishedAt = finished.String
	return r, nil
}

// GetRun returns a run by ID, or nil if it does not exist.
func (d *DB) GetRun(id string) (*Run, error) {
	r, err := scanRun(d.conn.QueryRow(`SELECT `+runColumns+` FROM runs WHERE id = ?`, id))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get run: %w", err)
	}
	return &r, nil
}

// RecentRuns returns up to limit runs, newest first. A non-positive limit
// returns all runs.
func (d *DB) RecentRuns(limit int) ([]Run, error) {
	query := `SELECT ` + runColumns + ` FROM runs ORDER BY started_at DESC, rowid DESC`
	args := []interface{}{}
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}
	rows, err := d.conn.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("recent runs: %w", err)
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		runs = append(runs, r)
	}
	return runs, rows.Err()
}

// StageRuns returns the stage rows of a run in execution order.
func (d *DB) StageRuns(runID string) ([]StageRun, error) {
	rows, err := d.conn.Query(
		`SELECT id, run_id, slot, stage, success, skipped, duration_ms, error, timestamp
		 FROM stage_runs WHERE run_id = ? ORDER BY id ASC`,
		runID,
	)
	if err != nil {
		return nil, fmt.Errorf("stage runs: %w", err)
	}
	defer rows.Close()

	var out []StageRun
	for rows.Next() {
		var s StageRun
		var errMsg sql.NullString
		if err := rows.Scan(&s.ID, &s.RunID, &s.Slot, &s.Stage, &s.Success, &s.Skipped, &s.DurationMs, &errMsg, &s.Timestamp); err != nil {
			return nil, fmt.Errorf("scan stage run: %w", err)
		}
		s.Error = errMsg.String
		out = append(out, s)
	}
	return out, rows.Err()
}

// GateRuns returns the gate rows of a run in execution order.
func (d *DB) GateRuns(runID string) ([]GateRun, error) {
	rows, err := d.conn.Query(
		`SELECT id, run_id, gate, phase, fix_round, passed, risk, issue_count, issue_ids, timestamp
		 FROM gate_runs WHERE run_id = ? ORDER BY id ASC`,
		runID,
	)
	if err != nil {
		return nil, fmt.Errorf("gate runs: %w", err)
	}
	defer rows.Close()

	var out []GateRun
	for rows.Next() {
		var g GateRun
		var risk, ids sql.NullString
		if err := rows.Scan(&g.ID, &g.RunID, &g.Gate, &g.Phase, &g.FixRound, &g.Passed, &risk, &g.IssueCount, &ids, &g.Timestamp); err != nil {
			return nil, fmt.Errorf("scan gate run: %w", err)
		}
		g.Risk = risk.String
		g.IssueIDs = SplitIssueIDs(ids.String)
		out = append(out, g)
	}
	return out, rows.Err()
}

// SplitIssueIDs parses the comma-joined issue_ids column.
func SplitIssueIDs(s string) []string {
	return splitList(s)
}

func splitList(s string) []string {
	if s == "" {
		return nil
	}
	return strings.Split(s, ",")
}
