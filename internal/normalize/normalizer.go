package normalize

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"job_harvester/internal/domain"
)

var ErrInvalidPosting = errors.New("invalid posting")

// Normalizer converts raw postings into NormalizedJob records. It holds no
// mutable state and is safe for concurrent use.
type Normalizer struct {
	classifier Classifier
	now        func() time.Time
}

// New returns a Normalizer. classifier may be nil.
func New(classifier Classifier) *Normalizer {
	return NewWithClock(classifier, time.Now)
}

// NewWithClock returns a Normalizer stamping FetchedAt from now.
func NewWithClock(classifier Classifier, now func() time.Time) *Normalizer {
	return &Normalizer{classifier: classifier, now: now}
}

// Normalize builds the canonical record for raw. A posting without a title
// or source is rejected with ErrInvalidPosting. An unparseable URL leaves the
// job without a URL key rather than rejecting it.
func (n *Normalizer) Normalize(raw domain.RawPosting) (domain.NormalizedJob, error) {
	title := CollapseSpace(raw.Title)
	source := strings.TrimSpace(raw.SourceID)
	if title == "" {
		return domain.NormalizedJob{}, fmt.Errorf("%w: empty title", ErrInvalidPosting)
	}
	if source == "" {
		return domain.NormalizedJob{}, fmt.Errorf("%w: empty source", ErrInvalidPosting)
	}

	company := CollapseSpace(raw.Company)
	description := PlainText(raw.Description)

	job := domain.NormalizedJob{
		Title:        title,
		Company:      company,
		Location:     CollapseSpace(raw.Location),
		Description:  description,
		Compensation: CollapseSpace(raw.Compensation),
		Source:       source,
		Fingerprint:  Fingerprint(title, company, description),
		PostedAt:     raw.PostedAt,
		FetchedAt:    n.now().UTC(),
	}

	if canonical, err := CanonicalURL(raw.URL); err == nil {
		job.URL = canonical
	}
	if id := strings.TrimSpace(raw.ExternalID); id != "" {
		job.ExternalID = source + ":" + id
	}
	if n.classifier != nil {
		job.Tags = n.classifier.Classify(title, description)
	}

	return job, nil
}
