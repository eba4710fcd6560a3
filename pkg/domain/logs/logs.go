// Package logs reads log records of runs, stored out of the database.
package logs

import (
	"context"

	"github.com/opst/xtstore/pkg/domain"
)

// LogStore is where log records of runs are.
type LogStore interface {
	// LogRecordsForRuns returns log records of runs.
	//
	// Args
	//
	// - context.Context
	//
	// - string: workspace
	//
	// - []string: `_id` of runs
	//
	// Returns
	//
	// - []domain.Document: log records. Each record has "key", the `_id` of its run.
	// Runs without log records have no records.
	//
	// - error
	LogRecordsForRuns(ctx context.Context, workspace string, ids []string) ([]domain.Document, error)
}

// Join puts log records into run documents as "log_records".
//
// "key" and "_id" of records are dropped. Runs without records get an empty list.
func Join(runs []domain.Document, records []domain.Document) {
	byRun := map[string][]domain.Document{}
	for _, r := range records {
		key, _ := r["key"].(string)
		byRun[key] = append(byRun[key], r.Without("key", "_id"))
	}
	for _, run := range runs {
		recs := byRun[run.ID()]
		if recs == nil {
			recs = []domain.Document{}
		}
		run["log_records"] = recs
	}
}
