package db

import (
	"context"
	"fmt"
	"sort"
)

// Recall limits.
const (
	recallRuns     = 20
	recallKeywords = 5
)

// Recall returns keywords used by recent runs in region that met the quality
// threshold, most frequent first. It backs the keyword extractor's memory
// signal; topic is unused because region alone already narrows the pool.
func (d *DB) Recall(ctx context.Context, region, topic string) ([]string, error) {
	if region == "" {
		return nil, nil
	}
	rows, err := d.conn.QueryContext(ctx,
		`SELECT keywords FROM runs
		 WHERE region = ? AND quality_met = 1 AND status = ? AND keywords IS NOT NULL AND keywords != ''
		 ORDER BY started_at DESC, rowid DESC LIMIT ?`,
		region, RunSucceeded, recallRuns,
	)
	if err != nil {
		return nil, fmt.Errorf("recall keywords: %w", err)
	}
	defer rows.Close()

	counts := make(map[string]int)
	var order []string
	for rows.Next() {
		var joined string
		if err := rows.Scan(&joined); err != nil {
			return nil, fmt.Errorf("scan keywords: %w", err)
		}
		for _, kw := range splitList(joined) {
			if counts[kw] == 0 {
				order = append(order, kw)
			}
			counts[kw]++
		}
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	// stable: ties keep recency order
	sort.SliceStable(order, func(i, j int) bool { return counts[order[i]] > counts[order[j]] })
	if len(order) > recallKeywords {
		order = order[:recallKeywords]
	}
	return order, nil
}
