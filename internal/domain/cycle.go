package domain

import "time"

// SourceStatus summarizes how a source fared in one cycle.
type SourceStatus string

const (
	StatusOK          SourceStatus = "ok"
	StatusFailed      SourceStatus = "failed"
	StatusCircuitOpen SourceStatus = "circuit_open"
)

// SourceReport holds per-source counters for one cycle.
type SourceReport struct {
	SourceID   string
	Status     SourceStatus
	Attempts   int
	Fetched    int
	Invalid    int
	Duplicates int
	Emitted    int
	Dropped    int
	Error      string
	Duration   time.Duration
}

// Retried reports whether the source needed more than one attempt.
func (r SourceReport) Retried() bool {
	return r.Attempts > 1
}

// CycleReport is the result of one fetch cycle across all enabled sources.
type CycleReport struct {
	CycleID    string
	StartedAt  time.Time
	FinishedAt time.Time
	Sources    []SourceReport
}

// Source returns the report for id, if present.
func (r *CycleReport) Source(id string) (SourceReport, bool) {
	for _, s := range r.Sources {
		if s.SourceID == id {
			return s, true
		}
	}
	return SourceReport{}, false
}

// Totals sums counters across sources.
func (r *CycleReport) Totals() (fetched, duplicates, emitted int) {
	for _, s := range r.Sources {
		fetched += s.Fetched
		duplicates += s.Duplicates
		emitted += s.Emitted
	}
	return fetched, duplicates, emitted
}

// SourceState is the persisted running summary for a source.
type SourceState struct {
	ID              int64     `db:"id"`
	SourceID        string    `db:"source_id"`
	LastRunAt       time.Time `db:"last_run_at"`
	LastStatus      string    `db:"last_status"`
	LastError       string    `db:"last_error"`
	TotalFetched    int64     `db:"total_fetched"`
	TotalDuplicates int64     `db:"total_duplicates"`
	TotalEmitted    int64     `db:"total_emitted"`
	Runs            int64     `db:"runs"`
}
