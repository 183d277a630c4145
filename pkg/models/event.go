package models

import "time"

// CronEvent is one execution record read from the cron ladder log.
// Timestamp, ExitCode and Message together form the dedup key.
type CronEvent struct {
	Timestamp  time.Time `json:"timestamp"`
	ExitCode   int       `json:"exit_code"`
	Message    string    `json:"message"`
	IngestedAt time.Time `json:"ingested_at"`
}

// Failed reports whether the run exited with a non-zero code.
func (e CronEvent) Failed() bool {
	return e.ExitCode != 0
}

// InsertResult is the outcome of storing a CronEvent.
type InsertResult string

const (
	Inserted  InsertResult = "inserted"
	Duplicate InsertResult = "duplicate"
)

// IngestionReport summarises one pass of the ingestion pipeline.
type IngestionReport struct {
	Lines      int `json:"lines"`
	Inserted   int `json:"inserted"`
	Duplicates int `json:"duplicates"`
	Malformed  int `json:"malformed"`
	Notified   int `json:"notified"`
}

// Add accumulates another report into r.
func (r *IngestionReport) Add(other IngestionReport) {
	r.Lines += other.Lines
	r.Inserted += other.Inserted
	r.Duplicates += other.Duplicates
	r.Malformed += other.Malformed
	r.Notified += other.Notified
}
