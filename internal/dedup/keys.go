// Package dedup decides whether a normalized job has been seen before.
//
// A job is identified by up to three keys: its namespaced external id, its
// canonical URL and its content fingerprint. A job is a duplicate when ANY of
// its keys is already known; on first sight all of its keys are recorded
// together in one atomic step, and withdrawn together by Forget.
package dedup

import (
	"context"

	"job_harvester/internal/domain"
)

const (
	prefixExternalID  = "ext:"
	prefixURL         = "url:"
	prefixFingerprint = "fp:"
)

// Checker is the atomic check-and-insert contract shared by every backend.
// Forget undoes a first sight recorded by IsDuplicate for a job that was
// never delivered.
type Checker interface {
	IsDuplicate(ctx context.Context, job *domain.NormalizedJob) (bool, error)
	Forget(ctx context.Context, job *domain.NormalizedJob) error
}

// Keys derives the dedup keys for job. Absent identifiers yield no key, and a
// job without a description yields no fingerprint key.
func Keys(job *domain.NormalizedJob) []string {
	keys := make([]string, 0, 3)
	if job.ExternalID != "" {
		keys = append(keys, prefixExternalID+job.ExternalID)
	}
	if job.URL != "" {
		keys = append(keys, prefixURL+job.URL)
	}
	if job.Fingerprint != "" && job.Description != "" {
		keys = append(keys, prefixFingerprint+job.Fingerprint)
	}
	return keys
}
