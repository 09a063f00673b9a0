package service

//go:generate mockgen -source=interfaces.go -destination=mocks/mocks.go -package=mocks

import (
	"context"

	"job_harvester/internal/domain"
	"job_harvester/internal/source"
)

type SourceLister interface {
	ListEnabled() []source.Source
}

type Normalizer interface {
	Normalize(raw domain.RawPosting) (domain.NormalizedJob, error)
}

type DuplicateChecker interface {
	IsDuplicate(ctx context.Context, job *domain.NormalizedJob) (bool, error)
	Forget(ctx context.Context, job *domain.NormalizedJob) error
}

type Sink interface {
	Emit(ctx context.Context, job domain.NormalizedJob) error
}

type RunRecorder interface {
	Record(ctx context.Context, report *domain.CycleReport) error
}
