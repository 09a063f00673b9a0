package domain

import "time"

// RawPosting is what an adapter returns before normalization.
type RawPosting struct {
	SourceID     string
	ExternalID   string // optional, as assigned by the source
	Title        string
	Company      string
	Location     string
	Description  string
	Compensation string // free-form, optional
	URL          string
	PostedAt     *time.Time
}

// NormalizedJob is the canonical record emitted on the output stream.
type NormalizedJob struct {
	Title        string     `json:"title"`
	Company      string     `json:"company"`
	Location     string     `json:"location"`
	Description  string     `json:"description"`
	Compensation string     `json:"compensation,omitempty"`
	URL          string     `json:"url"`
	Source       string     `json:"source"`
	ExternalID   string     `json:"external_id,omitempty"` // "<source>:<id>"
	Fingerprint  string     `json:"content_fingerprint"`
	Tags         []string   `json:"tags,omitempty"`
	PostedAt     *time.Time `json:"posted_at,omitempty"`
	FetchedAt    time.Time  `json:"fetched_at"`
}

// Query parameterizes a single fetch against a source.
type Query struct {
	Keywords []string
	Location string
	MaxPages int
	PageSize int
}

// FetchTask is one unit of scheduled work in a cycle.
type FetchTask struct {
	SourceID string
	Query    Query
	Attempts int
}
