package analytics

import (
	"database/sql"
	"fmt"
	"math"
	"sort"

	"github.com/lucasnoah/postfactory/internal/db"
)

// DB is the interface for database queries used by analytics.
type DB interface {
	Conn() *sql.DB
}

// StageDuration holds duration stats for a stage implementation.
type StageDuration struct {
	Stage string  `json:"stage"`
	Count int     `json:"count"`
	Avg   float64 `json:"avg_ms"`
	P50   float64 `json:"p50_ms"`
	P95   float64 `json:"p95_ms"`
}

// QueryStageDurations returns average and percentile durations per stage.
// Skipped stages are excluded; failed ones count because they still spent
// the time.
func QueryStageDurations(database DB, since string) ([]StageDuration, error) {
	query := `SELECT stage, duration_ms FROM stage_runs WHERE skipped = 0`
	args := []interface{}{}
	if since != "" {
		query += ` AND timestamp >= ?`
		args = append(args, since)
	}

	rows, err := database.Conn().Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("query stage durations: %w", err)
	}
	defer rows.Close()

	stageDurations := make(map[string][]float64)
	for rows.Next() {
		var stage string
		var ms int64
		if err := rows.Scan(&stage, &ms); err != nil {
			return nil, fmt.Errorf("scan stage duration: %w", err)
		}
		stageDurations[stage] = append(stageDurations[stage], float64(ms))
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	var results []StageDuration
	for stage, durations := range stageDurations {
		sort.Float64s(durations)
		results = append(results, StageDuration{
			Stage: stage,
			Count: len(durations),
			Avg:   avg(durations),
			P50:   percentile(durations, 50),
			P95:   percentile(durations, 95),
		})
	}

	sort.Slice(results, func(i, j int) bool {
		return results[i].Stage < results[j].Stage
	})
	return results, nil
}

// GateStats holds pass rates for one validator across runs.
type GateStats struct {
	Gate      string  `json:"gate"`
	Runs      int     `json:"runs"`
	FirstPass float64 `json:"first_pass_pct"`
	AfterFix  float64 `json:"after_fix_pct"`
	Failed    float64 `json:"failed_pct"`
	AvgRounds float64 `json:"avg_fix_rounds"`
}

// QueryGateStats returns per-gate pass rates. A run counts as a first pass
// when its fix_round 0 verdict passed, as after-fix when its last verdict
// passed after at least one rewrite, and as failed otherwise.
func QueryGateStats(database DB, since string) ([]GateStats, error) {
	query := `SELECT run_id, gate, fix_round, passed FROM gate_runs`
	args := []interface{}{}
	if since != "" {
		query += ` WHERE timestamp >= ?`
		args = append(args, since)
	}
	query += ` ORDER BY id ASC`

	rows, err := database.Conn().Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("query gate stats: %w", err)
	}
	defer rows.Close()

	type verdicts struct {
		first, last bool
		seenFirst   bool
		maxRound    int
	}
	// gate -> run -> verdicts
	byGate := make(map[string]map[string]*verdicts)
	for rows.Next() {
		var runID, gate string
		var round int
		var passed bool
		if err := rows.Scan(&runID, &gate, &round, &passed); err != nil {
			return nil, fmt.Errorf("scan gate run: %w", err)
		}
		runs, ok := byGate[gate]
		if !ok {
			runs = make(map[string]*verdicts)
			byGate[gate] = runs
		}
		v, ok := runs[runID]
		if !ok {
			v = &verdicts{}
			runs[runID] = v
		}
		if round == 0 && !v.seenFirst {
			v.first = passed
			v.seenFirst = true
		}
		v.last = passed
		if round > v.maxRound {
			v.maxRound = round
		}
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	var results []GateStats
	for gate, runs := range byGate {
		var first, afterFix, failed, rounds int
		for _, v := range runs {
			rounds += v.maxRound
			switch {
			case v.seenFirst && v.first:
				first++
			case v.last:
				afterFix++
			default:
				failed++
			}
		}
		total := len(runs)
		results = append(results, GateStats{
			Gate:      gate,
			Runs:      total,
			FirstPass: pct(first, total),
			AfterFix:  pct(afterFix, total),
			Failed:    pct(failed, total),
			AvgRounds: math.Round(float64(rounds)/float64(total)*10) / 10,
		})
	}
	sort.Slice(results, func(i, j int) bool {
		return results[i].Gate < results[j].Gate
	})
	return results, nil
}

// IssueCount is how often one issue ID was reported.
type IssueCount struct {
	Gate  string `json:"gate"`
	Issue string `json:"issue"`
	Count int    `json:"count"`
	Runs  int    `json:"runs"`
}

// QueryTopIssues returns the most frequently reported issue IDs, most
// frequent first. A non-positive limit returns all of them.
func QueryTopIssues(database DB, since string, limit int) ([]IssueCount, error) {
	query := `SELECT run_id, gate, issue_ids FROM gate_runs WHERE issue_ids IS NOT NULL AND issue_ids != ''`
	args := []interface{}{}
	if since != "" {
		query += ` AND timestamp >= ?`
		args = append(args, since)
	}

	rows, err := database.Conn().Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("query top issues: %w", err)
	}
	defer rows.Close()

	type key struct{ gate, issue string }
	counts := make(map[key]int)
	runs := make(map[key]map[string]bool)
	for rows.Next() {
		var runID, gate, ids string
		if err := rows.Scan(&runID, &gate, &ids); err != nil {
			return nil, fmt.Errorf("scan issue ids: %w", err)
		}
		for _, id := range db.SplitIssueIDs(ids) {
			k := key{gate, id}
			counts[k]++
			if runs[k] == nil {
				runs[k] = make(map[string]bool)
			}
			runs[k][runID] = true
		}
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	results := make([]IssueCount, 0, len(counts))
	for k, n := range counts {
		results = append(results, IssueCount{Gate: k.gate, Issue: k.issue, Count: n, Runs: len(runs[k])})
	}
	sort.Slice(results, func(i, j int) bool {
		if results[i].Count != results[j].Count {
			return results[i].Count > results[j].Count
		}
		if results[i].Gate != results[j].Gate {
			return results[i].Gate < results[j].Gate
		}
		return results[i].Issue < results[j].Issue
	})
	if limit > 0 && len(results) > limit {
		results = results[:limit]
	}
	return results, nil
}

// RunThroughput holds run outcomes for one day.
type RunThroughput struct {
	Period        string  `json:"period"`
	Runs          int     `json:"runs"`
	Succeeded     int     `json:"succeeded"`
	Failed        int     `json:"failed"`
	QualityMet    int     `json:"quality_met"`
	AvgDurationMs float64 `json:"avg_duration_ms"`
	AvgAttempts   float64 `json:"avg_refinement_attempts"`
}

// QueryRunThroughput returns finished-run metrics grouped by day, newest
// first, for the last ten days with activity.
func QueryRunThroughput(database DB, since string) ([]RunThroughput, error) {
	query := `
		SELECT
			strftime('%Y-%m-%d', started_at) as period,
			COUNT(*) as runs,
			SUM(CASE WHEN status = 'succeeded' THEN 1 ELSE 0 END) as succeeded,
			SUM(CASE WHEN status = 'failed' THEN 1 ELSE 0 END) as failed,
			SUM(CASE WHEN quality_met THEN 1 ELSE 0 END) as quality_met,
			AVG(duration_ms) as avg_ms,
			AVG(refinement_attempts) as avg_attempts
		FROM runs
		WHERE status != 'running'`

	args := []interface{}{}
	if since != "" {
		query += ` AND started_at >= ?`
		args = append(args, since)
	}
	query += ` GROUP BY period ORDER BY period DESC LIMIT 10`

	rows, err := database.Conn().Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("query run throughput: %w", err)
	}
	defer rows.Close()

	var results []RunThroughput
	for rows.Next() {
		var rt RunThroughput
		var avgMs, avgAttempts sql.NullFloat64
		if err := rows.Scan(&rt.Period, &rt.Runs, &rt.Succeeded, &rt.Failed, &rt.QualityMet, &avgMs, &avgAttempts); err != nil {
			return nil, fmt.Errorf("scan throughput: %w", err)
		}
		rt.AvgDurationMs = math.Round(avgMs.Float64*10) / 10
		rt.AvgAttempts = math.Round(avgAttempts.Float64*10) / 10
		results = append(results, rt)
	}
	return results, rows.Err()
}

// --- helpers ---

func avg(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	sum := 0.0
	for _, v := range values {
		sum += v
	}
	return math.Round(sum/float64(len(values))*10) / 10
}

func percentile(sorted []float64, p int) float64 {
	if len(sorted) == 0 {
		return 0
	}
	rank := float64(p) / 100.0 * float64(len(sorted)-1)
	lower := int(math.Floor(rank))
	upper := int(math.Ceil(rank))
	if lower == upper || upper >= len(sorted) {
		return math.Round(sorted[lower]*10) / 10
	}
	weight := rank - float64(lower)
	return math.Round((sorted[lower]*(1-weight)+sorted[upper]*weight)*10) / 10
}

func pct(n, total int) float64 {
	if total == 0 {
		return 0
	}
	return math.Round(float64(n)/float64(total)*1000) / 10
}
