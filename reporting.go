package main

import "context"

// ReportSummarizer condenses raw report rows into a short narrative for the
// chat. The built-in renderer formats rows verbatim; an implementation backed
// by an external service can be attached without touching the handlers.
type ReportSummarizer interface {
	Summarize(ctx context.Context, settings ReportSettings, rows []map[string]interface{}) (string, error)
}

// MetricsSource exposes aggregate order counters for future reporting
// commands. The vault's audit trail is the canonical backing store.
type MetricsSource interface {
	OrderCounts(ctx context.Context, status string) (int64, error)
}

// RecordBatchPlanner turns free text into a preview of records to create,
// for a future bulk-intake command. Implementations must not write anything;
// the preview is confirmed separately.
type RecordBatchPlanner interface {
	PlanBatch(ctx context.Context, text string) ([]map[string]interface{}, error)
}
